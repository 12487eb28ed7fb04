package workflow

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// AgentExecutorRequest asks an agent-backed executor to (optionally) respond
// to a conversation.
type AgentExecutorRequest struct {
	// Messages is the conversation to respond to.
	Messages []ChatMessage `json:"messages"`

	// ShouldRespond controls whether the agent is invoked. When false the
	// executor forwards the conversation unchanged, which lets builders
	// thread context through participants that stay silent this round.
	ShouldRespond bool `json:"should_respond"`
}

// AgentExecutorResponse is the outbound message of an agent-backed executor.
type AgentExecutorResponse struct {
	// ExecutorID identifies the producing executor.
	ExecutorID string `json:"executor_id"`

	// AgentResponse is the agent's reply, nil when ShouldRespond was false.
	AgentResponse *AgentRunResponse `json:"agent_response,omitempty"`

	// FullConversation is the inbound conversation plus the agent's reply,
	// with replays deduplicated.
	FullConversation []ChatMessage `json:"full_conversation"`
}

// AgentExecutor wraps an Agent as a workflow executor. It accepts a free-form
// string (wrapped as a user message), a message list, an explicit
// AgentExecutorRequest, or an upstream executor's AgentExecutorResponse
// (chained as a new request over its full conversation). While the agent
// streams, the executor emits AgentRunUpdateEvents grouped by response id;
// on completion it sends an AgentExecutorResponse.
type AgentExecutor struct {
	*BaseExecutor
	agent     Agent
	providers []ContextProvider
}

// AgentExecutorOption configures an AgentExecutor.
type AgentExecutorOption func(*AgentExecutor)

// WithContextProviders attaches BeforeRun/AfterRun hooks to every agent
// invocation.
func WithContextProviders(providers ...ContextProvider) AgentExecutorOption {
	return func(e *AgentExecutor) { e.providers = append(e.providers, providers...) }
}

// NewAgentExecutor wraps agent as an executor with the given id. An empty id
// defaults to the agent's name.
func NewAgentExecutor(agent Agent, id string, opts ...AgentExecutorOption) *AgentExecutor {
	if id == "" {
		id = agent.Name()
	}
	e := &AgentExecutor{
		BaseExecutor: NewBaseExecutor(id, WithOutputTypes(TypeOf[*AgentExecutorResponse]())),
		agent:        agent,
	}
	for _, opt := range opts {
		opt(e)
	}
	RegisterHandler(e.BaseExecutor, e.handleRequest)
	RegisterHandler(e.BaseExecutor, e.handleString)
	RegisterHandler(e.BaseExecutor, e.handleMessages)
	RegisterHandler(e.BaseExecutor, e.handleChainedResponse)
	return e
}

// Agent returns the wrapped agent.
func (e *AgentExecutor) Agent() Agent { return e.agent }

func (e *AgentExecutor) handleString(ctx context.Context, text string, wc *WorkflowContext) error {
	return e.respond(ctx, &AgentExecutorRequest{
		Messages:      []ChatMessage{NewChatMessage(RoleUser, text)},
		ShouldRespond: true,
	}, wc)
}

func (e *AgentExecutor) handleMessages(ctx context.Context, messages []ChatMessage, wc *WorkflowContext) error {
	return e.respond(ctx, &AgentExecutorRequest{Messages: messages, ShouldRespond: true}, wc)
}

func (e *AgentExecutor) handleChainedResponse(ctx context.Context, resp *AgentExecutorResponse, wc *WorkflowContext) error {
	return e.respond(ctx, &AgentExecutorRequest{
		Messages:      resp.FullConversation,
		ShouldRespond: true,
	}, wc)
}

func (e *AgentExecutor) handleRequest(ctx context.Context, req *AgentExecutorRequest, wc *WorkflowContext) error {
	return e.respond(ctx, req, wc)
}

func (e *AgentExecutor) respond(ctx context.Context, req *AgentExecutorRequest, wc *WorkflowContext) error {
	if !req.ShouldRespond {
		return wc.SendMessage(&AgentExecutorResponse{
			ExecutorID:       e.ID(),
			FullConversation: append([]ChatMessage(nil), req.Messages...),
		})
	}

	messages := append([]ChatMessage(nil), req.Messages...)
	for _, p := range e.providers {
		extra, err := p.BeforeRun(ctx, e.agent, nil, messages)
		if err != nil {
			return fmt.Errorf("context provider before run: %w", err)
		}
		messages = append(extra, messages...)
	}

	responseID := uuid.NewString()
	resp, err := e.agent.RunStream(ctx, messages, nil, func(update *AgentRunUpdate) error {
		if update.ResponseID == "" {
			update.ResponseID = responseID
		}
		wc.AddEvent(AgentRunUpdateEvent{
			ExecutorID: e.ID(),
			ResponseID: update.ResponseID,
			Update:     update,
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("agent %s: %w", e.agent.Name(), err)
	}
	if resp.ResponseID == "" {
		resp.ResponseID = responseID
	}

	for _, p := range e.providers {
		if err := p.AfterRun(ctx, e.agent, nil, messages, resp); err != nil {
			return fmt.Errorf("context provider after run: %w", err)
		}
	}

	return wc.SendMessage(&AgentExecutorResponse{
		ExecutorID:       e.ID(),
		AgentResponse:    resp,
		FullConversation: mergeConversation(req.Messages, resp.Messages, e.ID()),
	})
}

// mergeConversation concatenates the inbound conversation with the agent's
// reply, skipping reply messages the conversation already ends with. The
// skip makes replays idempotent: feeding a previous round's
// full_conversation back through the same executor never duplicates turns.
func mergeConversation(inbound, reply []ChatMessage, executorID string) []ChatMessage {
	full := append([]ChatMessage(nil), inbound...)
	for _, msg := range reply {
		if msg.AuthorName == "" {
			msg.AuthorName = executorID
		}
		if n := len(full); n > 0 && sameMessage(full[n-1], msg) {
			continue
		}
		full = append(full, msg)
	}
	return full
}

func sameMessage(a, b ChatMessage) bool {
	return a.Role == b.Role && a.AuthorName == b.AuthorName && a.Text() == b.Text()
}
