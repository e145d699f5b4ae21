package core

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// MemoryVaultStore keeps vault records in process memory.
type MemoryVaultStore struct {
	mu      sync.RWMutex
	records map[Address]VaultRecord
}

func NewMemoryVaultStore() *MemoryVaultStore {
	return &MemoryVaultStore{records: make(map[Address]VaultRecord)}
}

func (s *MemoryVaultStore) Create(_ context.Context, record VaultRecord) (VaultRecord, error) {
	if s == nil {
		return VaultRecord{}, fmt.Errorf("core: vault store is not configured")
	}
	if record.Address.IsZero() {
		return VaultRecord{}, fmt.Errorf("core: vault address is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[record.Address]; ok {
		return VaultRecord{}, fmt.Errorf("%w: %s", ErrAlreadyExists, record.Address)
	}
	s.records[record.Address] = record
	return record, nil
}

func (s *MemoryVaultStore) Load(_ context.Context, address Address) (VaultRecord, error) {
	if s == nil {
		return VaultRecord{}, fmt.Errorf("core: vault store is not configured")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.records[address]
	if !ok {
		return VaultRecord{}, fmt.Errorf("%w: %s", ErrNotFound, address)
	}
	return record, nil
}

func (s *MemoryVaultStore) Save(_ context.Context, record VaultRecord) error {
	if s == nil {
		return fmt.Errorf("core: vault store is not configured")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[record.Address]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, record.Address)
	}
	s.records[record.Address] = record
	return nil
}

// MemoryEventLog is an append-only in-memory EventLog.
type MemoryEventLog struct {
	mu        sync.RWMutex
	records   []EventRecord
	sequences map[Address]uint64
}

func NewMemoryEventLog() *MemoryEventLog {
	return &MemoryEventLog{sequences: make(map[Address]uint64)}
}

func (l *MemoryEventLog) Append(_ context.Context, record EventRecord) (EventRecord, error) {
	if l == nil {
		return EventRecord{}, fmt.Errorf("core: event log is not configured")
	}
	if record.Vault.IsZero() {
		return EventRecord{}, fmt.Errorf("core: event vault is required")
	}
	if record.Payload == nil {
		return EventRecord{}, fmt.Errorf("core: event payload is required")
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	l.sequences[record.Vault]++
	record.Sequence = l.sequences[record.Vault]
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.Name == "" {
		record.Name = record.Payload.EventName()
	}
	if record.OccurredAt.IsZero() {
		record.OccurredAt = record.Payload.OccurredAt()
	}
	l.records = append(l.records, record)
	return record, nil
}

func (l *MemoryEventLog) List(_ context.Context, filter EventFilter) ([]EventRecord, error) {
	if l == nil {
		return nil, fmt.Errorf("core: event log is not configured")
	}
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]EventRecord, 0)
	for _, record := range l.records {
		if filter.Matches(record) {
			out = append(out, record)
		}
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

var (
	_ VaultStore = (*MemoryVaultStore)(nil)
	_ EventLog   = (*MemoryEventLog)(nil)
)
