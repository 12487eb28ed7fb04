package orchestration

import (
	"context"
	"testing"

	"github.com/agentflow/agentflow-go/workflow"
)

func TestSequential_ConversationAccumulates(t *testing.T) {
	writer := newStubAgent("writer", "draft reply")
	reviewer := newStubAgent("reviewer", "looks good")

	wf, err := NewSequentialBuilder().Participants(writer, reviewer).Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	result, err := wf.Run(context.Background(), "hello world")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	outputs := result.Outputs()
	if len(outputs) != 1 {
		t.Fatalf("outputs = %v, want one conversation", outputs)
	}

	conversation := outputs[0].([]workflow.ChatMessage)
	if len(conversation) != 3 {
		t.Fatalf("conversation length = %d, want 3", len(conversation))
	}
	wantRoles := []workflow.Role{workflow.RoleUser, workflow.RoleAssistant, workflow.RoleAssistant}
	for i, role := range wantRoles {
		if conversation[i].Role != role {
			t.Errorf("message %d role = %v, want %v", i, conversation[i].Role, role)
		}
	}
	if conversation[1].Text() != "draft reply" {
		t.Errorf("writer turn = %q, want draft reply", conversation[1].Text())
	}
	if conversation[2].Text() != "looks good" {
		t.Errorf("reviewer turn = %q, want looks good", conversation[2].Text())
	}
	if result.FinalState != workflow.RunStateIdle {
		t.Errorf("final state = %v, want IDLE", result.FinalState)
	}
}

func TestSequential_SingleParticipant(t *testing.T) {
	solo := newStubAgent("solo", "done")
	wf, err := NewSequentialBuilder().Participants(solo).Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	result, err := wf.Run(context.Background(), "task")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	conversation := result.Outputs()[0].([]workflow.ChatMessage)
	if len(conversation) != 2 {
		t.Errorf("conversation length = %d, want 2", len(conversation))
	}
}

func TestSequential_RequiresParticipants(t *testing.T) {
	if _, err := NewSequentialBuilder().Build(); err == nil {
		t.Error("expected build error with no participants")
	}
}

func TestSequential_WithRequestInfoPausesSelectedParticipant(t *testing.T) {
	writer := newStubAgent("writer", "draft reply")
	reviewer := newStubAgent("reviewer", "polished")

	wf, err := NewSequentialBuilder().
		Participants(writer, reviewer).
		WithRequestInfo("writer").
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	result, err := wf.Run(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.FinalState != workflow.RunStateIdleWithPendingRequests {
		t.Fatalf("final state = %v, want IDLE_WITH_PENDING_REQUESTS", result.FinalState)
	}
	if reviewer.callCount() != 0 {
		t.Error("reviewer must not run before the writer's output is approved")
	}

	req := result.PendingRequests[0]
	input, ok := req.Data.(*workflow.AgentInputRequest)
	if !ok {
		t.Fatalf("request payload type = %T, want *AgentInputRequest", req.Data)
	}
	if input.AgentName != "writer" {
		t.Errorf("agent under review = %q, want writer", input.AgentName)
	}

	final, err := wf.SendResponses(context.Background(), map[string]any{req.RequestID: workflow.ApproveAsIs()})
	if err != nil {
		t.Fatalf("SendResponses: %v", err)
	}
	if final.FinalState != workflow.RunStateIdle {
		t.Errorf("final state = %v, want IDLE", final.FinalState)
	}
	conversation := final.Outputs()[0].([]workflow.ChatMessage)
	if len(conversation) != 3 {
		t.Errorf("conversation length = %d, want 3", len(conversation))
	}
	if reviewer.callCount() != 1 {
		t.Errorf("reviewer calls = %d, want 1 after approval", reviewer.callCount())
	}
}
