package core

import (
	"context"
	"testing"
	"time"
)

func TestMemoryReplayLedger_RejectsReplayWithinTTL(t *testing.T) {
	ledger := NewMemoryReplayLedger(time.Minute)
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	ledger.Now = func() time.Time { return now }

	if accepted, err := ledger.Claim(context.Background(), "req-1", 0); err != nil || !accepted {
		t.Fatalf("expected first claim accepted, got %v %v", accepted, err)
	}
	if accepted, err := ledger.Claim(context.Background(), "req-1", 0); err != nil || accepted {
		t.Fatalf("expected replay rejected, got %v %v", accepted, err)
	}

	now = now.Add(2 * time.Minute)
	if accepted, err := ledger.Claim(context.Background(), "req-1", 0); err != nil || !accepted {
		t.Fatalf("expected claim after expiry accepted, got %v %v", accepted, err)
	}
}

func TestMemoryReplayLedger_ReleaseAllowsRetry(t *testing.T) {
	ledger := NewMemoryReplayLedger(time.Minute)
	if _, err := ledger.Claim(context.Background(), "req-2", 0); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := ledger.Release(context.Background(), "req-2"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if accepted, _ := ledger.Claim(context.Background(), "req-2", 0); !accepted {
		t.Fatalf("expected released key to be claimable")
	}
}

func TestMemoryReplayLedger_BoundedEntries(t *testing.T) {
	ledger := NewMemoryReplayLedgerWithLimits(time.Minute, 2)
	for _, key := range []string{"a", "b", "c"} {
		if _, err := ledger.Claim(context.Background(), key, 0); err != nil {
			t.Fatalf("claim %s: %v", key, err)
		}
	}
	if got := ledger.Len(); got != 2 {
		t.Fatalf("expected 2 entries, got %d", got)
	}
}

func TestMemoryReplayLedger_RequiresKey(t *testing.T) {
	ledger := NewMemoryReplayLedger(time.Minute)
	if _, err := ledger.Claim(context.Background(), "  ", 0); err == nil {
		t.Fatalf("expected blank key error")
	}
}
