package model

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/agentflow/agentflow-go/workflow"
)

// MockChatClient is a scripted ChatClient for tests: it replays queued
// responses in order, or computes them with a reply function. It records
// every request for assertion.
//
// MockChatClient is safe for concurrent use.
type MockChatClient struct {
	mu        sync.Mutex
	responses []*ChatResponse
	replyFn   func(messages []workflow.ChatMessage) string
	requests  [][]workflow.ChatMessage
	err       error
}

// NewMockChatClient creates an empty mock. Without queued responses or a
// reply function it echoes a canned acknowledgment.
func NewMockChatClient() *MockChatClient {
	return &MockChatClient{}
}

// QueueText queues a single-assistant-message response.
func (m *MockChatClient) QueueText(text string) *MockChatClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, &ChatResponse{
		Messages:   []workflow.ChatMessage{workflow.NewChatMessage(workflow.RoleAssistant, text)},
		ResponseID: uuid.NewString(),
		ModelID:    "mock",
	})
	return m
}

// QueueResponse queues a full response.
func (m *MockChatClient) QueueResponse(resp *ChatResponse) *MockChatClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, resp)
	return m
}

// WithReplyFunc computes the reply text from the request when the queue is
// empty.
func (m *MockChatClient) WithReplyFunc(fn func(messages []workflow.ChatMessage) string) *MockChatClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replyFn = fn
	return m
}

// FailWith makes every call return err.
func (m *MockChatClient) FailWith(err error) *MockChatClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	return m
}

// Requests returns the recorded request conversations.
func (m *MockChatClient) Requests() [][]workflow.ChatMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]workflow.ChatMessage(nil), m.requests...)
}

// GetResponse implements ChatClient.
func (m *MockChatClient) GetResponse(_ context.Context, messages []workflow.ChatMessage, _ *ChatOptions) (*ChatResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.requests = append(m.requests, append([]workflow.ChatMessage(nil), messages...))
	if m.err != nil {
		return nil, m.err
	}
	if len(m.responses) > 0 {
		resp := m.responses[0]
		m.responses = m.responses[1:]
		return resp, nil
	}

	text := "ok"
	if m.replyFn != nil {
		text = m.replyFn(messages)
	} else if len(messages) > 0 {
		text = fmt.Sprintf("ack: %s", messages[len(messages)-1].Text())
	}
	return &ChatResponse{
		Messages:   []workflow.ChatMessage{workflow.NewChatMessage(workflow.RoleAssistant, text)},
		ResponseID: uuid.NewString(),
		ModelID:    "mock",
	}, nil
}

// GetStreamingResponse implements ChatClient by delivering one update per
// response message, then an update carrying only the finish reason.
func (m *MockChatClient) GetStreamingResponse(ctx context.Context, messages []workflow.ChatMessage, opts *ChatOptions, onUpdate func(*ChatResponseUpdate) error) (*ChatResponse, error) {
	resp, err := m.GetResponse(ctx, messages, opts)
	if err != nil {
		return nil, err
	}
	if onUpdate != nil {
		for _, msg := range resp.Messages {
			if err := onUpdate(&ChatResponseUpdate{
				Contents:   msg.Contents,
				ResponseID: resp.ResponseID,
				AuthorName: msg.AuthorName,
			}); err != nil {
				return nil, err
			}
		}
		if err := onUpdate(&ChatResponseUpdate{ResponseID: resp.ResponseID, FinishReason: "stop"}); err != nil {
			return nil, err
		}
	}
	return resp, nil
}
