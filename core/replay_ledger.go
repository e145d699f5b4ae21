package core

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

const (
	DefaultReplayTTL        = 10 * time.Minute
	DefaultReplayMaxEntries = 8192
)

// MemoryReplayLedger remembers request ids for a bounded window. A claimed id
// is rejected until it expires or is released.
type MemoryReplayLedger struct {
	mu         sync.Mutex
	defaultTTL time.Duration
	maxEntries int
	entries    map[string]time.Time
	Now        func() time.Time
}

func NewMemoryReplayLedger(defaultTTL time.Duration) *MemoryReplayLedger {
	return NewMemoryReplayLedgerWithLimits(defaultTTL, DefaultReplayMaxEntries)
}

func NewMemoryReplayLedgerWithLimits(defaultTTL time.Duration, maxEntries int) *MemoryReplayLedger {
	if defaultTTL <= 0 {
		defaultTTL = DefaultReplayTTL
	}
	if maxEntries <= 0 {
		maxEntries = DefaultReplayMaxEntries
	}
	return &MemoryReplayLedger{
		defaultTTL: defaultTTL,
		maxEntries: maxEntries,
		entries:    map[string]time.Time{},
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

func (l *MemoryReplayLedger) Claim(_ context.Context, key string, ttl time.Duration) (bool, error) {
	if l == nil {
		return false, fmt.Errorf("core: replay ledger is not configured")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return false, fmt.Errorf("core: replay key is required")
	}
	if ttl <= 0 {
		ttl = l.defaultTTL
	}
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if expiresAt, ok := l.entries[key]; ok && now.Before(expiresAt) {
		return false, nil
	}
	l.pruneLocked(now)
	for len(l.entries) >= l.maxEntries {
		l.evictSoonestLocked()
	}
	l.entries[key] = now.Add(ttl)
	return true, nil
}

// Release forgets a claimed key so the same request id can be retried.
func (l *MemoryReplayLedger) Release(_ context.Context, key string) error {
	if l == nil {
		return fmt.Errorf("core: replay ledger is not configured")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, strings.TrimSpace(key))
	return nil
}

func (l *MemoryReplayLedger) Len() int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

func (l *MemoryReplayLedger) now() time.Time {
	if l != nil && l.Now != nil {
		return l.Now().UTC()
	}
	return time.Now().UTC()
}

func (l *MemoryReplayLedger) pruneLocked(now time.Time) {
	for key, expiresAt := range l.entries {
		if !now.Before(expiresAt) {
			delete(l.entries, key)
		}
	}
}

func (l *MemoryReplayLedger) evictSoonestLocked() {
	var soonestKey string
	var soonest time.Time
	for key, expiresAt := range l.entries {
		if soonestKey == "" || expiresAt.Before(soonest) {
			soonestKey = key
			soonest = expiresAt
		}
	}
	delete(l.entries, soonestKey)
}

var _ ReplayLedger = (*MemoryReplayLedger)(nil)
