package sqlstore

import (
	"context"
	"fmt"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/goliatone/go-treasury/core"
	"github.com/uptrace/bun"
)

// appendAttempts bounds retries when a concurrent writer claims the same
// sequence number first.
const appendAttempts = 3

type EventStore struct {
	db   *bun.DB
	repo repository.Repository[*vaultEventRecord]
}

func NewEventStore(db *bun.DB) (*EventStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*vaultEventRecord](db, vaultEventHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid vault event repository wiring: %w", err)
		}
	}
	return &EventStore{db: db, repo: repo}, nil
}

func (s *EventStore) Append(ctx context.Context, in core.EventRecord) (core.EventRecord, error) {
	if s == nil || s.repo == nil || s.db == nil {
		return core.EventRecord{}, fmt.Errorf("sqlstore: event store is not configured")
	}
	if in.Vault.IsZero() {
		return core.EventRecord{}, fmt.Errorf("sqlstore: event vault is required")
	}
	if in.Payload == nil {
		return core.EventRecord{}, fmt.Errorf("sqlstore: event payload is required")
	}

	var lastErr error
	for attempt := 0; attempt < appendAttempts; attempt++ {
		appended, err := s.appendOnce(ctx, in)
		if err == nil {
			return appended, nil
		}
		if !isUniqueViolation(err) {
			return core.EventRecord{}, err
		}
		lastErr = err
	}
	return core.EventRecord{}, fmt.Errorf("sqlstore: append event for %s: %w", in.Vault, lastErr)
}

func (s *EventStore) appendOnce(ctx context.Context, in core.EventRecord) (core.EventRecord, error) {
	var appended core.EventRecord
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		sequence, err := s.nextSequence(ctx, tx, in.Vault)
		if err != nil {
			return err
		}
		record, err := newVaultEventRecord(in, sequence, time.Now().UTC())
		if err != nil {
			return err
		}
		inserted, err := s.repo.CreateTx(ctx, tx, record)
		if err != nil {
			return err
		}
		appended, err = inserted.toDomain()
		return err
	})
	if err != nil {
		return core.EventRecord{}, err
	}
	return appended, nil
}

func (s *EventStore) nextSequence(ctx context.Context, tx bun.Tx, vault core.Address) (int64, error) {
	var maxSequence int64
	if err := tx.NewSelect().
		Model((*vaultEventRecord)(nil)).
		ColumnExpr("COALESCE(MAX(sequence), 0)").
		Where("?TableAlias.vault_address = ?", vault.String()).
		Scan(ctx, &maxSequence); err != nil {
		return 0, err
	}
	return maxSequence + 1, nil
}

// List returns matching events in append order: by sequence within a vault,
// by occurrence across vaults.
func (s *EventStore) List(ctx context.Context, filter core.EventFilter) ([]core.EventRecord, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: event store is not configured")
	}
	var records []*vaultEventRecord
	query := s.db.NewSelect().Model(&records)
	if !filter.Vault.IsZero() {
		query = query.Where("?TableAlias.vault_address = ?", filter.Vault.String())
	}
	if filter.AfterSequence > 0 {
		query = query.Where("?TableAlias.sequence > ?", int64(filter.AfterSequence))
	}
	if len(filter.Names) > 0 {
		query = query.Where("?TableAlias.event_name IN (?)", bun.In(filter.Names))
	}
	if filter.Vault.IsZero() {
		query = query.Order("occurred_at ASC", "created_at ASC", "vault_address ASC")
	}
	query = query.Order("sequence ASC")
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	if err := query.Scan(ctx); err != nil {
		return nil, err
	}

	out := make([]core.EventRecord, 0, len(records))
	for _, record := range records {
		event, err := record.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, event)
	}
	return out, nil
}
