package orchestration

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/agentflow/agentflow-go/workflow"
)

// Magentic loop defaults.
const (
	DefaultMagenticMaxRounds = 20
	DefaultMagenticMaxStalls = 3
	DefaultMagenticMaxResets = 2
)

// MagenticFinalMarker is the token the manager uses to signal completion;
// everything after it on the same reply is the final answer.
const MagenticFinalMarker = "FINAL ANSWER:"

// PlanReviewRequest asks a human to review the manager's plan before
// execution begins. Respond with an approval, or inject messages to replace
// the plan text.
type PlanReviewRequest struct {
	workflow.RequestInfoMessage

	// Task is the original task.
	Task string `json:"task"`

	// Plan is the manager's proposed plan.
	Plan string `json:"plan"`
}

// MagenticBuilder orchestrates a manager-driven loop: the manager plans,
// selects a participant per round, tracks progress in a ledger, and
// terminates with a final answer. Stalled progress triggers a replan; round,
// stall, and reset caps bound the loop.
//
//	wf, err := orchestration.NewMagenticBuilder().
//	    Manager(manager).
//	    Participants(researcher, coder).
//	    Build()
type MagenticBuilder struct {
	name         string
	manager      workflow.Agent
	participants []workflow.Agent
	maxRounds    int
	maxStalls    int
	maxResets    int
	planReview   bool
}

// NewMagenticBuilder creates a builder with the default caps.
func NewMagenticBuilder() *MagenticBuilder {
	return &MagenticBuilder{
		name:      "magentic",
		maxRounds: DefaultMagenticMaxRounds,
		maxStalls: DefaultMagenticMaxStalls,
		maxResets: DefaultMagenticMaxResets,
	}
}

// WithName sets the workflow name.
func (b *MagenticBuilder) WithName(name string) *MagenticBuilder {
	b.name = name
	return b
}

// Manager sets the planning agent.
func (b *MagenticBuilder) Manager(agent workflow.Agent) *MagenticBuilder {
	b.manager = agent
	return b
}

// Participants adds the worker agents the manager can select.
func (b *MagenticBuilder) Participants(agents ...workflow.Agent) *MagenticBuilder {
	b.participants = append(b.participants, agents...)
	return b
}

// WithMaxRounds caps participant selections.
func (b *MagenticBuilder) WithMaxRounds(n int) *MagenticBuilder {
	b.maxRounds = n
	return b
}

// WithMaxStalls caps consecutive no-progress rounds before a replan.
func (b *MagenticBuilder) WithMaxStalls(n int) *MagenticBuilder {
	b.maxStalls = n
	return b
}

// WithMaxResets caps replans before the loop gives up with the best effort
// so far.
func (b *MagenticBuilder) WithMaxResets(n int) *MagenticBuilder {
	b.maxResets = n
	return b
}

// WithPlanReview pauses for a human review of the plan before the first
// round executes.
func (b *MagenticBuilder) WithPlanReview(enabled bool) *MagenticBuilder {
	b.planReview = enabled
	return b
}

// Build assembles the workflow: the manager executor in a cycle with every
// participant.
func (b *MagenticBuilder) Build() (*workflow.Workflow, error) {
	if b.manager == nil {
		return nil, fmt.Errorf("magentic orchestration requires a manager")
	}
	if len(b.participants) == 0 {
		return nil, fmt.Errorf("magentic orchestration requires at least one participant")
	}

	names := make([]string, 0, len(b.participants))
	for _, p := range b.participants {
		names = append(names, p.Name())
	}
	mgr := newMagenticManager(magenticConfig{
		manager:      b.manager,
		participants: names,
		maxRounds:    b.maxRounds,
		maxStalls:    b.maxStalls,
		maxResets:    b.maxResets,
		planReview:   b.planReview,
	})

	wb := workflow.NewBuilder().WithName(b.name).
		WithMaxIterations(4 * (b.maxRounds + b.maxResets + 2))
	wb.SetStartExecutor(mgr)

	targets := make([]workflow.Executor, 0, len(b.participants))
	for _, agent := range b.participants {
		exec := workflow.NewAgentExecutor(agent, "")
		targets = append(targets, exec)
		wb.AddEdge(exec, mgr)
	}
	wb.AddFanOutEdges(mgr, targets)
	return wb.Build()
}

type magenticConfig struct {
	manager      workflow.Agent
	participants []string
	maxRounds    int
	maxStalls    int
	maxResets    int
	planReview   bool
}

// magenticManager is the loop driver: plan, select, evaluate, replan.
type magenticManager struct {
	*workflow.BaseExecutor
	cfg magenticConfig

	mu         sync.Mutex
	task       string
	plan       string
	ledger     []string
	transcript []workflow.ChatMessage
	round      int
	stalls     int
	resets     int
	lastDigest string
}

func newMagenticManager(cfg magenticConfig) *magenticManager {
	workflow.RegisterType[PlanReviewRequest]()
	m := &magenticManager{
		BaseExecutor: workflow.NewBaseExecutor("magentic-manager",
			workflow.WithOutputTypes(workflow.TypeOf[*workflow.AgentExecutorRequest]())),
		cfg: cfg,
	}
	workflow.RegisterHandler(m.BaseExecutor, m.handleTask)
	workflow.RegisterHandler(m.BaseExecutor, m.handleTurn)
	workflow.RegisterHandler(m.BaseExecutor, m.handlePlanReview)
	return m
}

func (m *magenticManager) handleTask(ctx context.Context, task string, wc *workflow.WorkflowContext) error {
	plan, err := m.createPlan(ctx, task)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.task = task
	m.plan = plan
	m.ledger = nil
	m.transcript = []workflow.ChatMessage{workflow.NewChatMessage(workflow.RoleUser, task)}
	m.round, m.stalls, m.resets = 0, 0, 0
	m.lastDigest = ""
	m.mu.Unlock()

	if m.cfg.planReview {
		_, err := wc.RequestInfo(&PlanReviewRequest{Task: task, Plan: plan},
			workflow.TypeOf[*workflow.AgentInputResponse]())
		return err
	}
	return m.nextRound(ctx, wc)
}

func (m *magenticManager) handlePlanReview(ctx context.Context, resp *workflow.RequestResponse, wc *workflow.WorkflowContext) error {
	answer, ok := resp.Data.(*workflow.AgentInputResponse)
	if !ok {
		return fmt.Errorf("expected *AgentInputResponse, got %T", resp.Data)
	}
	if !answer.Approve && len(answer.Messages) > 0 {
		var revised strings.Builder
		for _, msg := range answer.Messages {
			revised.WriteString(msg.Text())
		}
		m.mu.Lock()
		m.plan = revised.String()
		m.mu.Unlock()
	}
	return m.nextRound(ctx, wc)
}

func (m *magenticManager) handleTurn(ctx context.Context, resp *workflow.AgentExecutorResponse, wc *workflow.WorkflowContext) error {
	m.mu.Lock()
	digest := ""
	if resp.AgentResponse != nil {
		m.transcript = append(m.transcript, resp.AgentResponse.Messages...)
		digest = resp.AgentResponse.Text()
	}
	m.ledger = append(m.ledger, fmt.Sprintf("round %d: %s contributed", m.round, resp.ExecutorID))
	m.round++
	if digest == "" || digest == m.lastDigest {
		m.stalls++
	} else {
		m.stalls = 0
	}
	m.lastDigest = digest
	stalled := m.stalls >= m.cfg.maxStalls
	canReset := m.resets < m.cfg.maxResets
	m.mu.Unlock()

	if stalled {
		if !canReset {
			return m.finish(ctx, wc)
		}
		if err := m.replan(ctx); err != nil {
			return err
		}
	}
	return m.nextRound(ctx, wc)
}

func (m *magenticManager) nextRound(ctx context.Context, wc *workflow.WorkflowContext) error {
	m.mu.Lock()
	round := m.round
	transcript := append([]workflow.ChatMessage(nil), m.transcript...)
	plan := m.plan
	m.mu.Unlock()

	if round >= m.cfg.maxRounds {
		return m.finish(ctx, wc)
	}

	prompt := fmt.Sprintf(
		"You manage participants: %s.\nPlan:\n%s\nGiven the conversation, either reply with exactly one participant name to act next, or reply with %q followed by the final answer when the task is complete.",
		strings.Join(m.cfg.participants, ", "), plan, MagenticFinalMarker)
	messages := append([]workflow.ChatMessage{workflow.NewChatMessage(workflow.RoleSystem, prompt)}, transcript...)

	resp, err := m.cfg.manager.Run(ctx, messages, nil)
	if err != nil {
		return fmt.Errorf("magentic manager: %w", err)
	}
	reply := resp.Text()

	if idx := strings.Index(reply, MagenticFinalMarker); idx >= 0 {
		wc.YieldOutput(strings.TrimSpace(reply[idx+len(MagenticFinalMarker):]))
		return nil
	}

	speaker := m.matchParticipant(reply)
	return wc.SendMessage(&workflow.AgentExecutorRequest{
		Messages:      transcript,
		ShouldRespond: true,
	}, workflow.WithTarget(speaker))
}

// replan asks the manager for a fresh plan using the progress ledger, and
// counts a reset.
func (m *magenticManager) replan(ctx context.Context) error {
	m.mu.Lock()
	task := m.task
	ledger := strings.Join(m.ledger, "\n")
	m.mu.Unlock()

	plan, err := m.createPlan(ctx, fmt.Sprintf("%s\n\nPrevious attempt stalled. Progress so far:\n%s", task, ledger))
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.plan = plan
	m.stalls = 0
	m.resets++
	m.mu.Unlock()
	return nil
}

func (m *magenticManager) createPlan(ctx context.Context, task string) (string, error) {
	prompt := fmt.Sprintf(
		"You coordinate participants: %s.\nProduce a short step-by-step plan for the task.",
		strings.Join(m.cfg.participants, ", "))
	resp, err := m.cfg.manager.Run(ctx, []workflow.ChatMessage{
		workflow.NewChatMessage(workflow.RoleSystem, prompt),
		workflow.NewChatMessage(workflow.RoleUser, task),
	}, nil)
	if err != nil {
		return "", fmt.Errorf("magentic planning: %w", err)
	}
	return resp.Text(), nil
}

// finish asks the manager for a closing summary of the transcript and yields
// it.
func (m *magenticManager) finish(ctx context.Context, wc *workflow.WorkflowContext) error {
	m.mu.Lock()
	transcript := append([]workflow.ChatMessage(nil), m.transcript...)
	m.mu.Unlock()

	messages := append([]workflow.ChatMessage{
		workflow.NewChatMessage(workflow.RoleSystem, "Summarize the outcome of the conversation as a final answer."),
	}, transcript...)
	resp, err := m.cfg.manager.Run(ctx, messages, nil)
	if err != nil {
		return fmt.Errorf("magentic summary: %w", err)
	}
	wc.YieldOutput(resp.Text())
	return nil
}

func (m *magenticManager) matchParticipant(reply string) string {
	lower := strings.ToLower(reply)
	for _, name := range m.cfg.participants {
		if strings.Contains(lower, strings.ToLower(name)) {
			return name
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg.participants[m.round%len(m.cfg.participants)]
}
