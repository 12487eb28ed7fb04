package workflow

import (
	"context"
	"strings"

	"github.com/google/uuid"
)

// Agent is the external-collaborator contract agent-backed executors call
// through: given a conversation, produce a response, optionally streaming
// incremental updates.
type Agent interface {
	// Name returns the agent's display name.
	Name() string

	// Run produces a response for the conversation. A nil session makes the
	// call stateless.
	Run(ctx context.Context, messages []ChatMessage, session *AgentSession) (*AgentRunResponse, error)

	// RunStream produces a response while delivering incremental updates to
	// onUpdate. The final response aggregates all updates. Implementations
	// without native streaming may deliver a single update.
	RunStream(ctx context.Context, messages []ChatMessage, session *AgentSession, onUpdate func(*AgentRunUpdate) error) (*AgentRunResponse, error)

	// NewSession creates an empty conversation session for this agent.
	NewSession() *AgentSession
}

// AgentRunResponse is the complete outcome of one agent invocation.
type AgentRunResponse struct {
	// Messages are the agent's reply messages, usually one assistant turn.
	Messages []ChatMessage `json:"messages"`

	// ResponseID identifies this invocation; streaming updates carry the
	// same id.
	ResponseID string `json:"response_id,omitempty"`
}

// Text concatenates the text of the response messages.
func (r *AgentRunResponse) Text() string {
	var b strings.Builder
	for _, m := range r.Messages {
		b.WriteString(m.Text())
	}
	return b.String()
}

// AgentRunUpdate is one streaming chunk of an agent invocation.
type AgentRunUpdate struct {
	// Contents is the incremental content of this chunk.
	Contents []Content `json:"contents"`

	// ResponseID groups updates belonging to one invocation.
	ResponseID string `json:"response_id,omitempty"`

	// AuthorName optionally names the producing agent.
	AuthorName string `json:"author_name,omitempty"`

	// Role defaults to assistant when empty.
	Role Role `json:"role,omitempty"`

	// FinishReason is non-empty on the final update of an invocation.
	FinishReason string `json:"finish_reason,omitempty"`
}

// Text concatenates the text contents of the update.
func (u *AgentRunUpdate) Text() string {
	var b strings.Builder
	for _, c := range u.Contents {
		if tc, ok := c.(TextContent); ok {
			b.WriteString(tc.Text)
		}
	}
	return b.String()
}

// ResponseFromUpdates folds streamed updates into a final response: text
// contents concatenate into one assistant message, other contents append in
// order.
func ResponseFromUpdates(updates []*AgentRunUpdate) *AgentRunResponse {
	var text strings.Builder
	var contents []Content
	var responseID, author string
	for _, u := range updates {
		if responseID == "" {
			responseID = u.ResponseID
		}
		if author == "" {
			author = u.AuthorName
		}
		for _, c := range u.Contents {
			if tc, ok := c.(TextContent); ok {
				text.WriteString(tc.Text)
				continue
			}
			contents = append(contents, c)
		}
	}
	if text.Len() > 0 {
		contents = append([]Content{TextContent{Text: text.String()}}, contents...)
	}
	if responseID == "" {
		responseID = uuid.NewString()
	}
	return &AgentRunResponse{
		ResponseID: responseID,
		Messages: []ChatMessage{{
			Role:       RoleAssistant,
			Contents:   contents,
			AuthorName: author,
		}},
	}
}

// AgentSession holds the conversation history an agent carries across
// invocations.
type AgentSession struct {
	// ID identifies the session.
	ID string

	// Messages is the accumulated conversation.
	Messages []ChatMessage
}

// NewAgentSession creates an empty session with a fresh id.
func NewAgentSession() *AgentSession {
	return &AgentSession{ID: uuid.NewString()}
}

// Append adds messages to the session history.
func (s *AgentSession) Append(messages ...ChatMessage) {
	s.Messages = append(s.Messages, messages...)
}

// ContextProvider hooks into agent invocations: BeforeRun may inject extra
// context messages, AfterRun may persist a digest of the exchange. Both are
// optional integration points for memory and policy systems.
type ContextProvider interface {
	// BeforeRun runs before the agent is invoked and returns extra messages
	// to prepend to the conversation, or nil.
	BeforeRun(ctx context.Context, agent Agent, session *AgentSession, messages []ChatMessage) ([]ChatMessage, error)

	// AfterRun runs after the agent responded.
	AfterRun(ctx context.Context, agent Agent, session *AgentSession, messages []ChatMessage, response *AgentRunResponse) error
}
