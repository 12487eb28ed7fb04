package orchestration

import (
	"context"
	"fmt"
	"strings"

	"github.com/agentflow/agentflow-go/workflow"
)

// DefaultHandoffTurnCap bounds how many consecutive turns a participant may
// take in autonomous mode; at the cap the conversation so far is yielded as
// the output.
const DefaultHandoffTurnCap = 50

// HandoffPrefix is the function-call name prefix a participant uses to pass
// control: calling "handoff_to_billing" hands the conversation to the
// participant named "billing".
const HandoffPrefix = "handoff_to_"

// HandoffBuilder wires a coordinator and specialists: each participant
// exposes handoff actions to the others and passes the conversation by
// invoking one. In autonomous mode a specialist keeps iterating (up to the
// turn cap) until it hands off or stops calling tools. The final output is
// the full conversation.
//
//	wf, err := orchestration.NewHandoffBuilder().
//	    Coordinator(triage).
//	    Specialists(billing, support).
//	    Build()
type HandoffBuilder struct {
	name        string
	coordinator workflow.Agent
	specialists []workflow.Agent
	autonomous  bool
	turnCap     int
}

// NewHandoffBuilder creates an empty builder.
func NewHandoffBuilder() *HandoffBuilder {
	return &HandoffBuilder{name: "handoff", turnCap: DefaultHandoffTurnCap}
}

// WithName sets the workflow name.
func (b *HandoffBuilder) WithName(name string) *HandoffBuilder {
	b.name = name
	return b
}

// Coordinator sets the entry-point participant.
func (b *HandoffBuilder) Coordinator(agent workflow.Agent) *HandoffBuilder {
	b.coordinator = agent
	return b
}

// Specialists adds participants the coordinator can hand off to.
func (b *HandoffBuilder) Specialists(agents ...workflow.Agent) *HandoffBuilder {
	b.specialists = append(b.specialists, agents...)
	return b
}

// WithAutonomousMode lets specialists iterate multiple turns until they hand
// off, bounded by the per-agent turn cap.
func (b *HandoffBuilder) WithAutonomousMode(enabled bool) *HandoffBuilder {
	b.autonomous = enabled
	return b
}

// WithTurnCap overrides DefaultHandoffTurnCap for autonomous mode.
func (b *HandoffBuilder) WithTurnCap(n int) *HandoffBuilder {
	b.turnCap = n
	return b
}

// Build assembles the workflow: every participant can reach every other, and
// a conversation ends when a participant finishes without handing off.
func (b *HandoffBuilder) Build() (*workflow.Workflow, error) {
	if b.coordinator == nil {
		return nil, fmt.Errorf("handoff orchestration requires a coordinator")
	}

	all := append([]workflow.Agent{b.coordinator}, b.specialists...)
	names := make([]string, 0, len(all))
	for _, a := range all {
		names = append(names, a.Name())
	}

	execs := make([]*handoffExecutor, 0, len(all))
	for _, agent := range all {
		peers := make([]string, 0, len(names)-1)
		for _, n := range names {
			if n != agent.Name() {
				peers = append(peers, n)
			}
		}
		execs = append(execs, newHandoffExecutor(agent, peers, b.autonomous, b.turnCap))
	}

	wb := workflow.NewBuilder().WithName(b.name).
		WithMaxIterations(workflow.DefaultMaxIterations * max(1, len(all)))
	wb.SetStartExecutor(execs[0])
	for _, src := range execs {
		for _, dst := range execs {
			if src != dst {
				wb.AddEdge(src, dst)
			}
		}
	}
	return wb.Build()
}

// handoffExecutor runs one participant, routing handoff invocations to peers
// and yielding the conversation when the participant finishes without
// handing off.
type handoffExecutor struct {
	*workflow.BaseExecutor
	agent      workflow.Agent
	peers      []string
	autonomous bool
	turnCap    int
}

func newHandoffExecutor(agent workflow.Agent, peers []string, autonomous bool, turnCap int) *handoffExecutor {
	e := &handoffExecutor{
		BaseExecutor: workflow.NewBaseExecutor(agent.Name(),
			workflow.WithOutputTypes(workflow.TypeOf[*workflow.AgentExecutorRequest]())),
		agent:      agent,
		peers:      peers,
		autonomous: autonomous,
		turnCap:    turnCap,
	}
	workflow.RegisterHandler(e.BaseExecutor, e.handleTask)
	workflow.RegisterHandler(e.BaseExecutor, e.handleRequest)
	return e
}

func (e *handoffExecutor) handleTask(ctx context.Context, task string, wc *workflow.WorkflowContext) error {
	return e.converse(ctx, []workflow.ChatMessage{workflow.NewChatMessage(workflow.RoleUser, task)}, wc)
}

func (e *handoffExecutor) handleRequest(ctx context.Context, req *workflow.AgentExecutorRequest, wc *workflow.WorkflowContext) error {
	return e.converse(ctx, req.Messages, wc)
}

func (e *handoffExecutor) converse(ctx context.Context, conversation []workflow.ChatMessage, wc *workflow.WorkflowContext) error {
	turns := 1
	if e.autonomous {
		turns = e.turnCap
	}

	for turn := 0; turn < turns; turn++ {
		resp, err := e.agent.Run(ctx, conversation, nil)
		if err != nil {
			return fmt.Errorf("handoff participant %s: %w", e.ID(), err)
		}
		conversation = append(conversation, resp.Messages...)

		if target := e.handoffTarget(resp); target != "" {
			return wc.SendMessage(&workflow.AgentExecutorRequest{
				Messages:      conversation,
				ShouldRespond: true,
			}, workflow.WithTarget(target))
		}
		if !e.keepsIterating(resp) {
			break
		}
	}

	wc.YieldOutput(conversation)
	return nil
}

// handoffTarget extracts the peer named by a handoff function call, if any.
func (e *handoffExecutor) handoffTarget(resp *workflow.AgentRunResponse) string {
	for _, msg := range resp.Messages {
		for _, call := range msg.FunctionCalls() {
			name, ok := strings.CutPrefix(call.Name, HandoffPrefix)
			if !ok {
				continue
			}
			for _, peer := range e.peers {
				if peer == name {
					return peer
				}
			}
		}
	}
	return ""
}

// keepsIterating reports whether an autonomous participant should take
// another turn: it called a non-handoff tool and has work in flight.
func (e *handoffExecutor) keepsIterating(resp *workflow.AgentRunResponse) bool {
	if !e.autonomous {
		return false
	}
	for _, msg := range resp.Messages {
		if len(msg.FunctionCalls()) > 0 {
			return true
		}
	}
	return false
}
