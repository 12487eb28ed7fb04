package orchestration

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/agentflow/agentflow-go/workflow"
)

// DefaultGroupChatRounds bounds a group chat when no explicit limit is
// configured; it applies alongside any termination condition.
const DefaultGroupChatRounds = 10

// SpeakerSelector picks the next participant for a round. The default is
// round-robin over the declared order.
type SpeakerSelector func(round int, participants []string, conversation []workflow.ChatMessage) string

// TerminationCondition ends the chat when it returns true for the
// conversation so far.
type TerminationCondition func(round int, conversation []workflow.ChatMessage) bool

// GroupChatBuilder orchestrates a multi-agent conversation: each round a
// selected speaker appends to the shared transcript until a termination
// condition fires or the round cap is reached. The final output is the full
// transcript.
//
//	wf, err := orchestration.NewGroupChatBuilder().
//	    Participants(optimist, skeptic).
//	    WithMaxRounds(4).
//	    Build()
type GroupChatBuilder struct {
	name         string
	participants []workflow.Agent
	selector     SpeakerSelector
	termination  TerminationCondition
	manager      workflow.Agent
	maxRounds    int
	reviewRefs   []any
	withReview   bool
}

// NewGroupChatBuilder creates an empty builder.
func NewGroupChatBuilder() *GroupChatBuilder {
	return &GroupChatBuilder{name: "group-chat", maxRounds: DefaultGroupChatRounds}
}

// WithName sets the workflow name.
func (b *GroupChatBuilder) WithName(name string) *GroupChatBuilder {
	b.name = name
	return b
}

// Participants adds the chat members, in round-robin order.
func (b *GroupChatBuilder) Participants(agents ...workflow.Agent) *GroupChatBuilder {
	b.participants = append(b.participants, agents...)
	return b
}

// WithSpeakerSelector replaces round-robin speaker selection.
func (b *GroupChatBuilder) WithSpeakerSelector(selector SpeakerSelector) *GroupChatBuilder {
	b.selector = selector
	return b
}

// WithTermination ends the chat when the condition fires; the round cap
// still applies.
func (b *GroupChatBuilder) WithTermination(cond TerminationCondition) *GroupChatBuilder {
	b.termination = cond
	return b
}

// WithManager lets a manager agent pick the next speaker (its reply is
// matched against participant names) and end the chat by answering with
// "terminate".
func (b *GroupChatBuilder) WithManager(manager workflow.Agent) *GroupChatBuilder {
	b.manager = manager
	return b
}

// WithMaxRounds caps the number of speaking turns.
func (b *GroupChatBuilder) WithMaxRounds(n int) *GroupChatBuilder {
	b.maxRounds = n
	return b
}

// WithRequestInfo routes the named participants' turns through a human
// pause point before they are appended to the transcript. No arguments
// pauses every participant.
func (b *GroupChatBuilder) WithRequestInfo(refs ...any) *GroupChatBuilder {
	b.withReview = true
	b.reviewRefs = append(b.reviewRefs, refs...)
	return b
}

// Build assembles the workflow: a moderator executor in a cycle with every
// participant.
func (b *GroupChatBuilder) Build() (*workflow.Workflow, error) {
	if len(b.participants) == 0 {
		return nil, fmt.Errorf("group chat requires at least one participant")
	}

	names := make([]string, 0, len(b.participants))
	for _, p := range b.participants {
		names = append(names, p.Name())
	}

	moderator := newGroupChatModerator(groupChatConfig{
		participants: names,
		selector:     b.selector,
		termination:  b.termination,
		manager:      b.manager,
		maxRounds:    b.maxRounds,
	})

	wb := workflow.NewBuilder().WithName(b.name).
		// Cyclic by design; the workflow-level iteration cap backstops the
		// round cap.
		WithMaxIterations(4 * (b.maxRounds + 2) * max(1, len(b.participants)))
	wb.SetStartExecutor(moderator)

	filter := ResolveRequestInfoFilter(b.reviewRefs)
	targets := make([]workflow.Executor, 0, len(b.participants))
	for _, agent := range b.participants {
		exec := workflow.NewAgentExecutor(agent, "")
		targets = append(targets, exec)

		if b.withReview && (filter == nil || filter[exec.ID()]) {
			interceptor := newRequestInfoInterceptor(fmt.Sprintf("review-%s", exec.ID()), filter)
			wb.AddEdge(exec, interceptor)
			wb.AddEdge(interceptor, moderator)
		} else {
			wb.AddEdge(exec, moderator)
		}
	}
	wb.AddFanOutEdges(moderator, targets)
	return wb.Build()
}

type groupChatConfig struct {
	participants []string
	selector     SpeakerSelector
	termination  TerminationCondition
	manager      workflow.Agent
	maxRounds    int
}

// groupChatModerator drives the rounds: it keeps the transcript, selects the
// next speaker, and yields the transcript when the chat ends.
type groupChatModerator struct {
	*workflow.BaseExecutor
	cfg groupChatConfig

	mu         sync.Mutex
	transcript []workflow.ChatMessage
	round      int
}

func newGroupChatModerator(cfg groupChatConfig) *groupChatModerator {
	m := &groupChatModerator{
		BaseExecutor: workflow.NewBaseExecutor("group-chat-moderator",
			workflow.WithOutputTypes(workflow.TypeOf[*workflow.AgentExecutorRequest]())),
		cfg: cfg,
	}
	workflow.RegisterHandler(m.BaseExecutor, m.handleTask)
	workflow.RegisterHandler(m.BaseExecutor, m.handleTurn)
	return m
}

func (m *groupChatModerator) handleTask(ctx context.Context, task string, wc *workflow.WorkflowContext) error {
	m.mu.Lock()
	m.transcript = []workflow.ChatMessage{workflow.NewChatMessage(workflow.RoleUser, task)}
	m.round = 0
	m.mu.Unlock()
	return m.nextRound(ctx, wc)
}

func (m *groupChatModerator) handleTurn(ctx context.Context, resp *workflow.AgentExecutorResponse, wc *workflow.WorkflowContext) error {
	m.mu.Lock()
	if resp.AgentResponse != nil {
		m.transcript = append(m.transcript, resp.AgentResponse.Messages...)
	}
	m.round++
	m.mu.Unlock()
	return m.nextRound(ctx, wc)
}

func (m *groupChatModerator) nextRound(ctx context.Context, wc *workflow.WorkflowContext) error {
	m.mu.Lock()
	round := m.round
	transcript := append([]workflow.ChatMessage(nil), m.transcript...)
	m.mu.Unlock()

	if round >= m.cfg.maxRounds {
		wc.YieldOutput(transcript)
		return nil
	}
	if m.cfg.termination != nil && m.cfg.termination(round, transcript) {
		wc.YieldOutput(transcript)
		return nil
	}

	speaker, terminate, err := m.selectSpeaker(ctx, round, transcript)
	if err != nil {
		return err
	}
	if terminate {
		wc.YieldOutput(transcript)
		return nil
	}

	return wc.SendMessage(&workflow.AgentExecutorRequest{
		Messages:      transcript,
		ShouldRespond: true,
	}, workflow.WithTarget(speaker))
}

func (m *groupChatModerator) selectSpeaker(ctx context.Context, round int, transcript []workflow.ChatMessage) (string, bool, error) {
	if m.cfg.manager != nil {
		return m.askManager(ctx, transcript)
	}
	if m.cfg.selector != nil {
		speaker := m.cfg.selector(round, m.cfg.participants, transcript)
		if speaker == "" {
			return "", true, nil
		}
		return speaker, false, nil
	}
	return m.cfg.participants[round%len(m.cfg.participants)], false, nil
}

// askManager lets the manager agent pick the next speaker. The reply is
// matched against participant names; a reply containing "terminate" ends the
// chat.
func (m *groupChatModerator) askManager(ctx context.Context, transcript []workflow.ChatMessage) (string, bool, error) {
	prompt := fmt.Sprintf(
		"You moderate a group chat between: %s.\nGiven the conversation, reply with exactly one participant name to speak next, or \"terminate\" when the conversation is complete.",
		strings.Join(m.cfg.participants, ", "))
	messages := append([]workflow.ChatMessage{workflow.NewChatMessage(workflow.RoleSystem, prompt)}, transcript...)

	resp, err := m.cfg.manager.Run(ctx, messages, nil)
	if err != nil {
		return "", false, fmt.Errorf("group chat manager: %w", err)
	}
	reply := strings.ToLower(resp.Text())
	if strings.Contains(reply, "terminate") {
		return "", true, nil
	}
	for _, name := range m.cfg.participants {
		if strings.Contains(reply, strings.ToLower(name)) {
			return name, false, nil
		}
	}
	// Unrecognized selection falls back to round-robin.
	return m.cfg.participants[m.round%len(m.cfg.participants)], false, nil
}
