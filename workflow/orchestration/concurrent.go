package orchestration

import (
	"context"
	"fmt"

	"github.com/agentflow/agentflow-go/workflow"
)

// ConcurrentReducer folds the participants' responses into the workflow
// output. It may call out to external services (e.g. a chat client that
// summarizes the responses).
type ConcurrentReducer func(ctx context.Context, responses []*workflow.AgentExecutorResponse) (any, error)

// ConcurrentBuilder fans one input out to every participant and fans their
// responses back in. The default output is the collected response list; a
// reducer replaces it with its own value. The run terminates once all
// participants are idle.
//
//	wf, err := orchestration.NewConcurrentBuilder().
//	    Participants(researcher, marketer, legal).
//	    Build()
type ConcurrentBuilder struct {
	name         string
	participants []workflow.Agent
	reducer      ConcurrentReducer
	reviewRefs   []any
	withReview   bool
}

// NewConcurrentBuilder creates an empty builder.
func NewConcurrentBuilder() *ConcurrentBuilder {
	return &ConcurrentBuilder{name: "concurrent"}
}

// WithName sets the workflow name.
func (b *ConcurrentBuilder) WithName(name string) *ConcurrentBuilder {
	b.name = name
	return b
}

// Participants adds the fan-out targets.
func (b *ConcurrentBuilder) Participants(agents ...workflow.Agent) *ConcurrentBuilder {
	b.participants = append(b.participants, agents...)
	return b
}

// WithReducer replaces the default list output with the reducer's value.
func (b *ConcurrentBuilder) WithReducer(reducer ConcurrentReducer) *ConcurrentBuilder {
	b.reducer = reducer
	return b
}

// WithRequestInfo routes the named participants' responses through a human
// pause point before aggregation. No arguments pauses every participant.
func (b *ConcurrentBuilder) WithRequestInfo(refs ...any) *ConcurrentBuilder {
	b.withReview = true
	b.reviewRefs = append(b.reviewRefs, refs...)
	return b
}

// Build assembles the workflow.
func (b *ConcurrentBuilder) Build() (*workflow.Workflow, error) {
	if len(b.participants) == 0 {
		return nil, fmt.Errorf("concurrent orchestration requires at least one participant")
	}

	wb := workflow.NewBuilder().WithName(b.name)

	dispatcher := workflow.NewFuncExecutor("dispatcher",
		func(_ context.Context, input any, wc *workflow.WorkflowContext) error {
			req, err := toAgentRequest(input)
			if err != nil {
				return err
			}
			return wc.SendMessage(req)
		},
		workflow.WithOutputTypes(workflow.TypeOf[*workflow.AgentExecutorRequest]()))
	wb.SetStartExecutor(dispatcher)

	filter := ResolveRequestInfoFilter(b.reviewRefs)
	targets := make([]workflow.Executor, 0, len(b.participants))
	tails := make([]workflow.Executor, 0, len(b.participants))
	for _, agent := range b.participants {
		exec := workflow.NewAgentExecutor(agent, "")
		targets = append(targets, exec)

		tail := workflow.Executor(exec)
		if b.withReview && (filter == nil || filter[exec.ID()]) {
			interceptor := newRequestInfoInterceptor(fmt.Sprintf("review-%s", exec.ID()), filter)
			wb.AddEdge(exec, interceptor)
			tail = interceptor
		}
		tails = append(tails, tail)
	}
	wb.AddFanOutEdges(dispatcher, targets)

	reducer := b.reducer
	aggregator := workflow.NewFuncExecutor("aggregator",
		func(ctx context.Context, collected []*workflow.AgentExecutorResponse, wc *workflow.WorkflowContext) error {
			if reducer == nil {
				wc.YieldOutput(collected)
				return nil
			}
			out, err := reducer(ctx, collected)
			if err != nil {
				return err
			}
			wc.YieldOutput(out)
			return nil
		})
	wb.AddFanInEdges(tails, aggregator)
	return wb.Build()
}

// toAgentRequest normalizes supported workflow inputs into an agent request.
func toAgentRequest(input any) (*workflow.AgentExecutorRequest, error) {
	switch v := input.(type) {
	case *workflow.AgentExecutorRequest:
		return v, nil
	case string:
		return &workflow.AgentExecutorRequest{
			Messages:      []workflow.ChatMessage{workflow.NewChatMessage(workflow.RoleUser, v)},
			ShouldRespond: true,
		}, nil
	case workflow.ChatMessage:
		return &workflow.AgentExecutorRequest{Messages: []workflow.ChatMessage{v}, ShouldRespond: true}, nil
	case []workflow.ChatMessage:
		return &workflow.AgentExecutorRequest{Messages: v, ShouldRespond: true}, nil
	default:
		return nil, fmt.Errorf("unsupported input type %T", input)
	}
}
