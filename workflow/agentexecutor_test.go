package workflow

import (
	"context"
	"testing"
)

// scriptedAgent returns a fixed reply and records the conversations it was
// given.
type scriptedAgent struct {
	name     string
	reply    string
	received [][]ChatMessage
}

func (a *scriptedAgent) Name() string { return a.name }

func (a *scriptedAgent) NewSession() *AgentSession { return NewAgentSession() }

func (a *scriptedAgent) Run(ctx context.Context, messages []ChatMessage, session *AgentSession) (*AgentRunResponse, error) {
	return a.RunStream(ctx, messages, session, nil)
}

func (a *scriptedAgent) RunStream(_ context.Context, messages []ChatMessage, _ *AgentSession, onUpdate func(*AgentRunUpdate) error) (*AgentRunResponse, error) {
	a.received = append(a.received, append([]ChatMessage(nil), messages...))
	if onUpdate != nil {
		if err := onUpdate(&AgentRunUpdate{
			Contents:   []Content{TextContent{Text: a.reply}},
			AuthorName: a.name,
		}); err != nil {
			return nil, err
		}
	}
	return &AgentRunResponse{
		Messages: []ChatMessage{{
			Role:       RoleAssistant,
			Contents:   []Content{TextContent{Text: a.reply}},
			AuthorName: a.name,
		}},
	}, nil
}

func TestAgentExecutor_PopulatesFullConversation(t *testing.T) {
	agent := &scriptedAgent{name: "A", reply: "agent-reply"}
	agentExec := NewAgentExecutor(agent, "agent1-exec")

	capture := NewFuncExecutor("capture", func(_ context.Context, resp *AgentExecutorResponse, wc *WorkflowContext) error {
		wc.YieldOutput(resp.FullConversation)
		return nil
	})

	wf, err := NewBuilder().SetStartExecutor(agentExec).AddEdge(agentExec, capture).Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	result, err := wf.Run(context.Background(), "hello world")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	outputs := result.Outputs()
	if len(outputs) != 1 {
		t.Fatalf("outputs = %v, want one", outputs)
	}

	full := outputs[0].([]ChatMessage)
	if len(full) != 2 {
		t.Fatalf("full conversation length = %d, want 2", len(full))
	}
	if full[0].Role != RoleUser || full[0].Text() != "hello world" {
		t.Errorf("first message = %v %q, want user hello world", full[0].Role, full[0].Text())
	}
	if full[1].Role != RoleAssistant || full[1].Text() != "agent-reply" {
		t.Errorf("second message = %v %q, want assistant agent-reply", full[1].Role, full[1].Text())
	}
}

func TestAgentExecutor_EmitsStreamingUpdates(t *testing.T) {
	agent := &scriptedAgent{name: "A", reply: "chunk"}
	agentExec := NewAgentExecutor(agent, "a-exec")
	wf, err := NewBuilder().SetStartExecutor(agentExec).Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	result, err := wf.Run(context.Background(), "hi")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	var updates []AgentRunUpdateEvent
	for _, ev := range result.Events {
		if ue, ok := ev.(AgentRunUpdateEvent); ok {
			updates = append(updates, ue)
		}
	}
	if len(updates) == 0 {
		t.Fatal("expected AgentRunUpdateEvents during streaming")
	}
	responseID := updates[0].ResponseID
	if responseID == "" {
		t.Error("updates must carry a stable response id")
	}
	for _, u := range updates {
		if u.ResponseID != responseID {
			t.Errorf("update response id = %q, want %q", u.ResponseID, responseID)
		}
		if u.ExecutorID != "a-exec" {
			t.Errorf("update executor id = %q, want a-exec", u.ExecutorID)
		}
	}
}

func TestAgentExecutor_ReplayIdempotence(t *testing.T) {
	agent := &scriptedAgent{name: "A", reply: "stable-reply"}
	exec := NewAgentExecutor(agent, "replayer")

	run := func(input any) *AgentExecutorResponse {
		t.Helper()
		rc := NewInProcRunnerContext(nil)
		wc := newWorkflowContext("replayer", "wf", nil, rc, NewSharedState())
		if err := exec.Execute(context.Background(), input, wc); err != nil {
			t.Fatalf("Execute: %v", err)
		}
		msgs := rc.DrainMessages()
		if len(msgs) != 1 {
			t.Fatalf("sent messages = %d, want 1", len(msgs))
		}
		return msgs[0].Data.(*AgentExecutorResponse)
	}

	// Round 1: user message in, reply appended.
	first := run(&AgentExecutorRequest{
		Messages:      []ChatMessage{NewChatMessage(RoleUser, "question")},
		ShouldRespond: true,
	})
	if len(first.FullConversation) != 2 {
		t.Fatalf("round 1 conversation length = %d, want 2", len(first.FullConversation))
	}

	// Round 2: the previous full conversation replayed through the same
	// executor. The identical trailing reply must not duplicate.
	second := run(&AgentExecutorRequest{
		Messages:      first.FullConversation,
		ShouldRespond: true,
	})
	if len(second.FullConversation) != 2 {
		t.Errorf("round 2 conversation length = %d, want 2 (no duplication)", len(second.FullConversation))
	}

	var userCount int
	for _, msg := range second.FullConversation {
		if msg.Role == RoleUser {
			userCount++
		}
	}
	if userCount != 1 {
		t.Errorf("user messages = %d, want 1", userCount)
	}
}

func TestAgentExecutor_ShouldRespondFalseForwardsConversation(t *testing.T) {
	agent := &scriptedAgent{name: "A", reply: "never"}
	exec := NewAgentExecutor(agent, "silent")

	rc := NewInProcRunnerContext(nil)
	wc := newWorkflowContext("silent", "wf", nil, rc, NewSharedState())
	conversation := []ChatMessage{NewChatMessage(RoleUser, "context only")}
	err := exec.Execute(context.Background(), &AgentExecutorRequest{Messages: conversation}, wc)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if len(agent.received) != 0 {
		t.Error("agent must not be invoked when ShouldRespond is false")
	}
	msgs := rc.DrainMessages()
	if len(msgs) != 1 {
		t.Fatalf("sent messages = %d, want 1", len(msgs))
	}
	resp := msgs[0].Data.(*AgentExecutorResponse)
	if resp.AgentResponse != nil {
		t.Error("AgentResponse must be nil when the agent stayed silent")
	}
	if len(resp.FullConversation) != 1 || resp.FullConversation[0].Text() != "context only" {
		t.Errorf("conversation = %v, want the inbound message unchanged", resp.FullConversation)
	}
}

// recordingProvider injects a context message before every run and records
// the responses it saw afterwards.
type recordingProvider struct {
	injected  string
	afterRuns int
}

func (p *recordingProvider) BeforeRun(_ context.Context, _ Agent, _ *AgentSession, _ []ChatMessage) ([]ChatMessage, error) {
	return []ChatMessage{NewChatMessage(RoleSystem, p.injected)}, nil
}

func (p *recordingProvider) AfterRun(_ context.Context, _ Agent, _ *AgentSession, _ []ChatMessage, _ *AgentRunResponse) error {
	p.afterRuns++
	return nil
}

func TestAgentExecutor_ContextProviderHooks(t *testing.T) {
	agent := &scriptedAgent{name: "A", reply: "ok"}
	provider := &recordingProvider{injected: "remember the style guide"}
	exec := NewAgentExecutor(agent, "a-exec", WithContextProviders(provider))

	rc := NewInProcRunnerContext(nil)
	wc := newWorkflowContext("a-exec", "wf", nil, rc, NewSharedState())
	if err := exec.Execute(context.Background(), "hello", wc); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if len(agent.received) != 1 {
		t.Fatalf("agent invocations = %d, want 1", len(agent.received))
	}
	seen := agent.received[0]
	if len(seen) != 2 || seen[0].Role != RoleSystem || seen[0].Text() != "remember the style guide" {
		t.Errorf("conversation = %v, want injected system message first", seen)
	}
	if provider.afterRuns != 1 {
		t.Errorf("after-run hooks = %d, want 1", provider.afterRuns)
	}
}

func TestAgentExecutor_ChainsAcrossSequentialAgents(t *testing.T) {
	writer := NewAgentExecutor(&scriptedAgent{name: "writer", reply: "draft reply"}, "")
	reviewer := NewAgentExecutor(&scriptedAgent{name: "reviewer", reply: "approved"}, "")
	capture := NewFuncExecutor("capture", func(_ context.Context, resp *AgentExecutorResponse, wc *WorkflowContext) error {
		wc.YieldOutput(resp.FullConversation)
		return nil
	})

	wf, err := NewBuilder().
		SetStartExecutor(writer).
		AddEdge(writer, reviewer).
		AddEdge(reviewer, capture).
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	result, err := wf.Run(context.Background(), "hello world")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	full := result.Outputs()[0].([]ChatMessage)
	if len(full) != 3 {
		t.Fatalf("conversation length = %d, want 3 (user, writer, reviewer)", len(full))
	}
	if full[1].Text() != "draft reply" || full[2].Text() != "approved" {
		t.Errorf("conversation texts = [%q %q %q]", full[0].Text(), full[1].Text(), full[2].Text())
	}
}
