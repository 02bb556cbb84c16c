package mio

import (
	"testing"
	"time"
)

func TestKarmaCheckDecrementsOnExceed(t *testing.T) {
	t.Parallel()
	k := DefaultKarma()
	paused := k.Check(KarmaReadMax+1, KarmaReadMax)
	if k.Val >= DefaultKarma().Val {
		t.Errorf("karma should have decremented, got %d", k.Val)
	}
	_ = paused
}

func TestKarmaCheckPausesAtZero(t *testing.T) {
	t.Parallel()
	k := Karma{Val: 1, Dec: 1, Penalty: -6, Max: 20}
	paused := k.Check(KarmaReadMax+1, KarmaReadMax)
	if !paused {
		t.Fatalf("expected karma to pause reads once Val hits zero")
	}
	if k.Val != -6 {
		t.Errorf("Val after penalty = %d, want -6", k.Val)
	}
}

func TestKarmaHeartbeatResumes(t *testing.T) {
	t.Parallel()
	// Val must climb strictly above Restore (0): -2 -> -1 -> 0 -> 1.
	k := Karma{Val: -2, Inc: 1, Max: 20, Restore: 0}
	now := time.Now()
	for i := 0; i < 2; i++ {
		if k.Heartbeat(now) {
			t.Fatalf("should not resume before crossing Restore, Val=%d", k.Val)
		}
	}
	if !k.Heartbeat(now) {
		t.Fatalf("expected resume once Val crosses above Restore, Val=%d", k.Val)
	}
}

func TestReadBudgetCappedAtBufSize(t *testing.T) {
	t.Parallel()
	k := Karma{Val: 100}
	if got := k.ReadBudget(8192); got != 8192 {
		t.Errorf("ReadBudget = %d, want capped at 8192", got)
	}
}

func TestRateLimitRejectsOverBudget(t *testing.T) {
	t.Parallel()
	rl := NewRateLimit(time.Minute, 2)
	now := time.Now()
	if !rl.Check("1.2.3.4", now) {
		t.Fatal("first connection should be allowed")
	}
	if !rl.Check("1.2.3.4", now) {
		t.Fatal("second connection should be allowed")
	}
	if rl.Check("1.2.3.4", now) {
		t.Fatal("third connection within window should be rejected")
	}
	if !rl.Check("5.6.7.8", now) {
		t.Fatal("a different key should have its own budget")
	}
}
