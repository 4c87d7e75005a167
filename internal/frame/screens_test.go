package frame

import (
	"testing"
	"time"

	"github.com/hexlume/castquest/internal/domain"
)

func TestRenderJobPendingRearms(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	screen := RenderJob(
		domain.JobState{Kind: domain.StatePending},
		"/v1/quests/abc123?since=1740830000",
		"/v1/quests/abc123/mint",
		now.Add(-time.Minute),
		now,
		10*time.Minute,
	)
	if screen.State != StatePending {
		t.Fatalf("expected pending, got %s", screen.State)
	}
	if len(screen.Buttons) != 1 || screen.Buttons[0].Action != ActionPoll {
		t.Fatalf("expected a single poll button, got %+v", screen.Buttons)
	}
	if screen.Buttons[0].Target != "/v1/quests/abc123?since=1740830000" {
		t.Fatalf("expected the same poll URL, got %q", screen.Buttons[0].Target)
	}
}

func TestRenderJobPendingExpiresAfterTTL(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	screen := RenderJob(
		domain.JobState{Kind: domain.StatePending},
		"/v1/quests/abc123",
		"/v1/quests/abc123/mint",
		now.Add(-11*time.Minute),
		now,
		10*time.Minute,
	)
	if screen.State != StateExpired {
		t.Fatalf("expected expired, got %s", screen.State)
	}
	for _, b := range screen.Buttons {
		if b.Action == ActionPoll {
			t.Fatal("expired screen must not re-arm polling")
		}
	}
}

func TestRenderJobTerminalStates(t *testing.T) {
	now := time.Now().UTC()

	success := RenderJob(domain.JobState{Kind: domain.StateSucceeded, Outcome: "0xdead"}, "", "", now, now, 0)
	if success.State != StateSuccess || success.Outcome != "0xdead" {
		t.Fatalf("expected success with outcome, got %+v", success)
	}

	failed := RenderJob(domain.JobState{Kind: domain.StateFailed, Reason: "no brand found"}, "", "", now, now, 0)
	if failed.State != StateFailed || failed.Text != "no brand found" {
		t.Fatalf("expected failed with exact reason, got %+v", failed)
	}
}

func TestRenderJobValidationVerdicts(t *testing.T) {
	now := time.Now().UTC()

	validated := RenderJob(domain.JobState{Kind: domain.StateValidated}, "", "/v1/quests/abc123/mint", now, now, 0)
	if validated.State != StateValidated {
		t.Fatalf("expected validated, got %s", validated.State)
	}
	foundMint := false
	for _, b := range validated.Buttons {
		if b.Action == ActionMint && b.Target == "/v1/quests/abc123/mint" {
			foundMint = true
		}
	}
	if !foundMint {
		t.Fatalf("expected a mint button targeting the mint URL, got %+v", validated.Buttons)
	}

	rejected := RenderJob(domain.JobState{Kind: domain.StateRejected}, "", "", now, now, 0)
	if rejected.State != StateRejected {
		t.Fatalf("expected rejected, got %s", rejected.State)
	}
}

func TestErrorScreenDefaultText(t *testing.T) {
	screen := ErrorScreen("")
	if screen.Text != "Something went wrong" {
		t.Fatalf("expected generic error text, got %q", screen.Text)
	}
}
