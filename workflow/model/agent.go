package model

import (
	"context"

	"github.com/google/uuid"

	"github.com/agentflow/agentflow-go/workflow"
)

// ChatAgent is a workflow.Agent backed by a ChatClient: instructions become
// the system prompt, sessions carry conversation history, and streaming
// passes through to the client.
type ChatAgent struct {
	name         string
	instructions string
	client       ChatClient
	options      *ChatOptions
}

// ChatAgentOption configures a ChatAgent.
type ChatAgentOption func(*ChatAgent)

// WithInstructions sets the system prompt prepended to every run.
func WithInstructions(instructions string) ChatAgentOption {
	return func(a *ChatAgent) { a.instructions = instructions }
}

// WithChatOptions sets the default request options for every run.
func WithChatOptions(opts *ChatOptions) ChatAgentOption {
	return func(a *ChatAgent) { a.options = opts }
}

// NewChatAgent creates an agent over client.
func NewChatAgent(name string, client ChatClient, opts ...ChatAgentOption) *ChatAgent {
	a := &ChatAgent{name: name, client: client}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Name implements workflow.Agent.
func (a *ChatAgent) Name() string { return a.name }

// NewSession implements workflow.Agent.
func (a *ChatAgent) NewSession() *workflow.AgentSession {
	return workflow.NewAgentSession()
}

// Run implements workflow.Agent.
func (a *ChatAgent) Run(ctx context.Context, messages []workflow.ChatMessage, session *workflow.AgentSession) (*workflow.AgentRunResponse, error) {
	conversation := a.prepare(messages, session)
	resp, err := a.client.GetResponse(ctx, conversation, a.options)
	if err != nil {
		return nil, err
	}
	out := a.toAgentResponse(resp)
	a.record(session, messages, out)
	return out, nil
}

// RunStream implements workflow.Agent.
func (a *ChatAgent) RunStream(ctx context.Context, messages []workflow.ChatMessage, session *workflow.AgentSession, onUpdate func(*workflow.AgentRunUpdate) error) (*workflow.AgentRunResponse, error) {
	conversation := a.prepare(messages, session)
	resp, err := a.client.GetStreamingResponse(ctx, conversation, a.options, func(update *ChatResponseUpdate) error {
		if onUpdate == nil {
			return nil
		}
		return onUpdate(&workflow.AgentRunUpdate{
			Contents:     update.Contents,
			ResponseID:   update.ResponseID,
			AuthorName:   a.name,
			Role:         workflow.RoleAssistant,
			FinishReason: update.FinishReason,
		})
	})
	if err != nil {
		return nil, err
	}
	out := a.toAgentResponse(resp)
	a.record(session, messages, out)
	return out, nil
}

func (a *ChatAgent) prepare(messages []workflow.ChatMessage, session *workflow.AgentSession) []workflow.ChatMessage {
	var conversation []workflow.ChatMessage
	if a.instructions != "" {
		conversation = append(conversation, workflow.NewChatMessage(workflow.RoleSystem, a.instructions))
	}
	if session != nil {
		conversation = append(conversation, session.Messages...)
	}
	return append(conversation, messages...)
}

func (a *ChatAgent) toAgentResponse(resp *ChatResponse) *workflow.AgentRunResponse {
	responseID := resp.ResponseID
	if responseID == "" {
		responseID = uuid.NewString()
	}
	messages := make([]workflow.ChatMessage, 0, len(resp.Messages))
	for _, m := range resp.Messages {
		if m.AuthorName == "" {
			m.AuthorName = a.name
		}
		messages = append(messages, m)
	}
	return &workflow.AgentRunResponse{Messages: messages, ResponseID: responseID}
}

func (a *ChatAgent) record(session *workflow.AgentSession, inbound []workflow.ChatMessage, out *workflow.AgentRunResponse) {
	if session == nil {
		return
	}
	session.Append(inbound...)
	session.Append(out.Messages...)
}
