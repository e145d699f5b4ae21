package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/goliatone/go-treasury/core"
	"github.com/uptrace/bun"
)

type VaultStore struct {
	db   *bun.DB
	repo repository.Repository[*vaultRecord]
}

func NewVaultStore(db *bun.DB) (*VaultStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*vaultRecord](db, vaultHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid vault repository wiring: %w", err)
		}
	}
	return &VaultStore{db: db, repo: repo}, nil
}

func (s *VaultStore) Create(ctx context.Context, in core.VaultRecord) (core.VaultRecord, error) {
	if s == nil || s.repo == nil {
		return core.VaultRecord{}, fmt.Errorf("sqlstore: vault store is not configured")
	}
	if in.Address.IsZero() {
		return core.VaultRecord{}, fmt.Errorf("sqlstore: vault address is required")
	}
	record, err := newVaultRecord(in, time.Now().UTC())
	if err != nil {
		return core.VaultRecord{}, err
	}
	created, err := s.repo.Create(ctx, record)
	if err != nil {
		if isUniqueViolation(err) {
			return core.VaultRecord{}, fmt.Errorf("%w: %s", core.ErrAlreadyExists, in.Address)
		}
		return core.VaultRecord{}, err
	}
	return created.toDomain()
}

func (s *VaultStore) Load(ctx context.Context, address core.Address) (core.VaultRecord, error) {
	record, err := s.find(ctx, address)
	if err != nil {
		return core.VaultRecord{}, err
	}
	return record.toDomain()
}

func (s *VaultStore) Save(ctx context.Context, in core.VaultRecord) error {
	current, err := s.find(ctx, in.Address)
	if err != nil {
		return err
	}
	if err := current.apply(in); err != nil {
		return err
	}
	current.UpdatedAt = in.UpdatedAt.UTC()
	if current.UpdatedAt.IsZero() {
		current.UpdatedAt = time.Now().UTC()
	}
	_, err = s.repo.Update(ctx, current, repository.UpdateByID(current.ID))
	return err
}

// ListByAuthority returns the vaults an authority controls, oldest first.
func (s *VaultStore) ListByAuthority(ctx context.Context, authority core.Address) ([]core.VaultRecord, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: vault store is not configured")
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("authority", "=", authority.String()),
		repository.OrderBy("created_at ASC"),
	)
	if err != nil {
		return nil, err
	}
	out := make([]core.VaultRecord, 0, len(records))
	for _, record := range records {
		vault, err := record.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, vault)
	}
	return out, nil
}

func (s *VaultStore) find(ctx context.Context, address core.Address) (*vaultRecord, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: vault store is not configured")
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("address", "=", address.String()),
		repository.SelectPaginate(1, 0),
	)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: %s", core.ErrNotFound, address)
	}
	return records[0], nil
}

func isUniqueViolation(err error) bool {
	message := strings.ToLower(strings.TrimSpace(err.Error()))
	return strings.Contains(message, "unique constraint failed") ||
		strings.Contains(message, "duplicate key value violates unique constraint")
}
