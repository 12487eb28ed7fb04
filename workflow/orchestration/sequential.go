package orchestration

import (
	"context"
	"fmt"

	"github.com/agentflow/agentflow-go/workflow"
)

// SequentialBuilder chains participants in order: each participant's full
// conversation feeds the next, and the final output is the accumulated
// conversation.
//
//	wf, err := orchestration.NewSequentialBuilder().
//	    Participants(writer, reviewer).
//	    Build()
//	result, err := wf.Run(ctx, "hello world")
type SequentialBuilder struct {
	name         string
	participants []workflow.Agent
	reviewRefs   []any
	withReview   bool
}

// NewSequentialBuilder creates an empty builder.
func NewSequentialBuilder() *SequentialBuilder {
	return &SequentialBuilder{name: "sequential"}
}

// WithName sets the workflow name.
func (b *SequentialBuilder) WithName(name string) *SequentialBuilder {
	b.name = name
	return b
}

// Participants appends agents to the chain, in invocation order.
func (b *SequentialBuilder) Participants(agents ...workflow.Agent) *SequentialBuilder {
	b.participants = append(b.participants, agents...)
	return b
}

// WithRequestInfo routes the named participants' outputs through a human
// pause point before the next participant sees them. No arguments pauses
// every participant.
func (b *SequentialBuilder) WithRequestInfo(refs ...any) *SequentialBuilder {
	b.withReview = true
	b.reviewRefs = append(b.reviewRefs, refs...)
	return b
}

// Build assembles the workflow.
func (b *SequentialBuilder) Build() (*workflow.Workflow, error) {
	if len(b.participants) == 0 {
		return nil, fmt.Errorf("sequential orchestration requires at least one participant")
	}

	wb := workflow.NewBuilder().WithName(b.name)
	filter := ResolveRequestInfoFilter(b.reviewRefs)

	var prev workflow.Executor
	for i, agent := range b.participants {
		exec := workflow.NewAgentExecutor(agent, "")
		if i == 0 {
			wb.SetStartExecutor(exec)
		} else {
			wb.AddEdge(prev, exec)
		}
		prev = exec

		if b.withReview && (filter == nil || filter[exec.ID()]) {
			interceptor := newRequestInfoInterceptor(fmt.Sprintf("review-%s", exec.ID()), filter)
			wb.AddEdge(prev, interceptor)
			prev = interceptor
		}
	}

	collector := workflow.NewFuncExecutor("conversation-collector",
		func(_ context.Context, resp *workflow.AgentExecutorResponse, wc *workflow.WorkflowContext) error {
			wc.YieldOutput(resp.FullConversation)
			return nil
		})
	wb.AddEdge(prev, collector)
	return wb.Build()
}
