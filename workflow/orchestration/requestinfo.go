// Package orchestration provides higher-order multi-agent patterns built on
// the workflow runtime: sequential chains, concurrent fan-out/fan-in,
// group chat, handoff routing, and Magentic manager-driven loops.
package orchestration

import (
	"context"
	"fmt"
	"sync"

	"github.com/agentflow/agentflow-go/workflow"
)

// ResolveRequestInfoFilter normalizes mixed participant references into the
// set of executor ids whose outputs pause for review. Accepted reference
// forms: a string name, a workflow.Executor (by id), or a workflow.Agent (by
// name). A nil or empty input means no filtering (everything pauses).
func ResolveRequestInfoFilter(refs []any) map[string]bool {
	if len(refs) == 0 {
		return nil
	}
	filter := make(map[string]bool)
	for _, ref := range refs {
		switch v := ref.(type) {
		case string:
			filter[v] = true
		case workflow.Executor:
			filter[v.ID()] = true
		case workflow.Agent:
			if v.Name() != "" {
				filter[v.Name()] = true
			}
		}
	}
	if len(filter) == 0 {
		return nil
	}
	return filter
}

// requestInfoInterceptor pauses selected participants' responses for human
// review before they continue downstream. For a filtered participant it
// issues an AgentInputRequest and holds the response; the human either
// approves as-is or injects replacement messages, and the (possibly
// rewritten) response then flows on.
type requestInfoInterceptor struct {
	*workflow.BaseExecutor
	filter map[string]bool

	mu   sync.Mutex
	held map[string]*workflow.AgentExecutorResponse
}

func newRequestInfoInterceptor(id string, filter map[string]bool) *requestInfoInterceptor {
	e := &requestInfoInterceptor{
		BaseExecutor: workflow.NewBaseExecutor(id,
			workflow.WithOutputTypes(workflow.TypeOf[*workflow.AgentExecutorResponse]())),
		filter: filter,
		held:   make(map[string]*workflow.AgentExecutorResponse),
	}
	workflow.RegisterHandler(e.BaseExecutor, e.handleResponse)
	workflow.RegisterHandler(e.BaseExecutor, e.handleReview)
	return e
}

func (e *requestInfoInterceptor) handleResponse(ctx context.Context, resp *workflow.AgentExecutorResponse, wc *workflow.WorkflowContext) error {
	if e.filter != nil && !e.filter[resp.ExecutorID] {
		return wc.SendMessage(resp)
	}

	requestID, err := wc.RequestInfo(&workflow.AgentInputRequest{
		AgentName:    resp.ExecutorID,
		Conversation: resp.FullConversation,
		Prompt:       fmt.Sprintf("review the response from %s before it is aggregated", resp.ExecutorID),
	}, workflow.TypeOf[*workflow.AgentInputResponse]())
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.held[requestID] = resp
	e.mu.Unlock()
	return nil
}

func (e *requestInfoInterceptor) handleReview(ctx context.Context, review *workflow.RequestResponse, wc *workflow.WorkflowContext) error {
	e.mu.Lock()
	held, ok := e.held[review.RequestID]
	delete(e.held, review.RequestID)
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("no held response for request %s", review.RequestID)
	}

	answer, ok := review.Data.(*workflow.AgentInputResponse)
	if !ok {
		return fmt.Errorf("expected *AgentInputResponse, got %T", review.Data)
	}
	if !answer.Approve && len(answer.Messages) > 0 {
		held = &workflow.AgentExecutorResponse{
			ExecutorID:       held.ExecutorID,
			AgentResponse:    held.AgentResponse,
			FullConversation: append(conversationWithoutReply(held), answer.Messages...),
		}
	}
	return wc.SendMessage(held)
}

// conversationWithoutReply strips the participant's own trailing reply so
// injected messages replace it rather than follow it.
func conversationWithoutReply(resp *workflow.AgentExecutorResponse) []workflow.ChatMessage {
	conv := resp.FullConversation
	if resp.AgentResponse == nil {
		return append([]workflow.ChatMessage(nil), conv...)
	}
	n := len(conv) - len(resp.AgentResponse.Messages)
	if n < 0 {
		n = 0
	}
	return append([]workflow.ChatMessage(nil), conv[:n]...)
}
