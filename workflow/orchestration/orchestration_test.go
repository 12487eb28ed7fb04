package orchestration

import (
	"context"
	"sync"

	"github.com/agentflow/agentflow-go/workflow"
)

// stubAgent replays scripted replies in order, repeating the last one when
// the script runs out. Replies may be plain text or full messages.
type stubAgent struct {
	name    string
	replies []workflow.ChatMessage

	mu    sync.Mutex
	calls int
}

func newStubAgent(name string, texts ...string) *stubAgent {
	a := &stubAgent{name: name}
	for _, text := range texts {
		a.replies = append(a.replies, workflow.ChatMessage{
			Role:       workflow.RoleAssistant,
			Contents:   []workflow.Content{workflow.TextContent{Text: text}},
			AuthorName: name,
		})
	}
	return a
}

func (a *stubAgent) withReply(msg workflow.ChatMessage) *stubAgent {
	msg.AuthorName = a.name
	a.replies = append(a.replies, msg)
	return a
}

func (a *stubAgent) Name() string { return a.name }

func (a *stubAgent) NewSession() *workflow.AgentSession { return workflow.NewAgentSession() }

func (a *stubAgent) Run(ctx context.Context, messages []workflow.ChatMessage, session *workflow.AgentSession) (*workflow.AgentRunResponse, error) {
	return a.RunStream(ctx, messages, session, nil)
}

func (a *stubAgent) RunStream(_ context.Context, _ []workflow.ChatMessage, _ *workflow.AgentSession, onUpdate func(*workflow.AgentRunUpdate) error) (*workflow.AgentRunResponse, error) {
	a.mu.Lock()
	idx := a.calls
	if idx >= len(a.replies) {
		idx = len(a.replies) - 1
	}
	a.calls++
	reply := a.replies[idx]
	a.mu.Unlock()

	if onUpdate != nil {
		if err := onUpdate(&workflow.AgentRunUpdate{Contents: reply.Contents, AuthorName: a.name}); err != nil {
			return nil, err
		}
	}
	return &workflow.AgentRunResponse{Messages: []workflow.ChatMessage{reply}}, nil
}

func (a *stubAgent) callCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}
