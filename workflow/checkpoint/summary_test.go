package checkpoint

import "testing"

func TestSummarize(t *testing.T) {
	t.Run("awaiting responses", func(t *testing.T) {
		summary := Summarize(testCheckpoint("wf-1"))
		if summary.Status != "awaiting_responses" {
			t.Errorf("status = %q, want awaiting_responses", summary.Status)
		}
		if summary.QueuedMessages != 1 {
			t.Errorf("queued = %d, want 1", summary.QueuedMessages)
		}
		if len(summary.PendingRequestIDs) != 1 || summary.PendingRequestIDs[0] != "req-1" {
			t.Errorf("pending ids = %v, want [req-1]", summary.PendingRequestIDs)
		}
	})

	t.Run("runnable", func(t *testing.T) {
		cp := testCheckpoint("wf-2")
		cp.PendingRequests = map[string]PendingRequest{}
		if got := Summarize(cp).Status; got != "runnable" {
			t.Errorf("status = %q, want runnable", got)
		}
	})

	t.Run("idle", func(t *testing.T) {
		cp := New("wf-3")
		if got := Summarize(cp).Status; got != "idle" {
			t.Errorf("status = %q, want idle", got)
		}
	})
}
