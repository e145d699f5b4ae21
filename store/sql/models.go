package sqlstore

import (
	"fmt"
	"time"

	"github.com/goliatone/go-treasury/core"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type vaultRecord struct {
	bun.BaseModel `bun:"table:treasury_vaults,alias:tv"`

	ID                  string    `bun:"id,pk"`
	Address             string    `bun:"address,notnull"`
	Program             string    `bun:"program,notnull"`
	Namespace           string    `bun:"namespace,notnull"`
	Authority           string    `bun:"authority,notnull"`
	AssetID             string    `bun:"asset_id,notnull"`
	CustodyAccount      string    `bun:"custody_account,notnull"`
	TargetAllocationBps int       `bun:"target_allocation_bps,notnull"`
	Bump                int       `bun:"bump,notnull"`
	CustodyBump         int       `bun:"custody_bump,notnull"`
	AccountData         []byte    `bun:"account_data,notnull"`
	CreatedAt           time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt           time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type vaultEventRecord struct {
	bun.BaseModel `bun:"table:treasury_vault_events,alias:tve"`

	ID           string         `bun:"id,pk"`
	VaultAddress string         `bun:"vault_address,notnull"`
	Sequence     int64          `bun:"sequence,notnull"`
	EventName    string         `bun:"event_name,notnull"`
	Payload      map[string]any `bun:"payload,type:jsonb,notnull"`
	Encoded      []byte         `bun:"encoded,notnull"`
	OccurredAt   time.Time      `bun:"occurred_at,notnull"`
	CreatedAt    time.Time      `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

func newVaultRecord(in core.VaultRecord, now time.Time) (*vaultRecord, error) {
	record := &vaultRecord{
		ID:        uuid.NewString(),
		CreatedAt: in.CreatedAt.UTC(),
		UpdatedAt: in.UpdatedAt.UTC(),
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	if record.UpdatedAt.IsZero() {
		record.UpdatedAt = record.CreatedAt
	}
	if err := record.apply(in); err != nil {
		return nil, err
	}
	return record, nil
}

// apply copies the mutable vault fields and refreshes the encoded account
// image so account_data always mirrors the columns.
func (r *vaultRecord) apply(in core.VaultRecord) error {
	data, err := in.MarshalBinary()
	if err != nil {
		return fmt.Errorf("sqlstore: encode vault %s: %w", in.Address, err)
	}
	r.Address = in.Address.String()
	r.Program = in.Program.String()
	r.Namespace = in.Namespace
	r.Authority = in.Authority.String()
	r.AssetID = in.AssetID.String()
	r.CustodyAccount = in.CustodyAccount.String()
	r.TargetAllocationBps = int(in.TargetAllocationBps)
	r.Bump = int(in.Bump)
	r.CustodyBump = int(in.CustodyBump)
	r.AccountData = data
	return nil
}

func (r *vaultRecord) toDomain() (core.VaultRecord, error) {
	if r == nil {
		return core.VaultRecord{}, fmt.Errorf("sqlstore: vault record is nil")
	}
	var out core.VaultRecord
	if err := out.UnmarshalBinary(r.AccountData); err != nil {
		return core.VaultRecord{}, fmt.Errorf("sqlstore: decode vault %s: %w", r.Address, err)
	}
	address, err := core.ParseAddress(r.Address)
	if err != nil {
		return core.VaultRecord{}, fmt.Errorf("sqlstore: vault address: %w", err)
	}
	program, err := core.ParseAddress(r.Program)
	if err != nil {
		return core.VaultRecord{}, fmt.Errorf("sqlstore: vault program: %w", err)
	}
	out.Address = address
	out.Program = program
	out.Namespace = r.Namespace
	out.CreatedAt = r.CreatedAt.UTC()
	out.UpdatedAt = r.UpdatedAt.UTC()
	return out, nil
}

func newVaultEventRecord(in core.EventRecord, sequence int64, now time.Time) (*vaultEventRecord, error) {
	encoded, err := in.Payload.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("sqlstore: encode %s event: %w", in.Payload.EventName(), err)
	}
	occurredAt := in.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = in.Payload.OccurredAt()
	}
	if occurredAt.IsZero() {
		occurredAt = now
	}
	id := in.ID
	if id == "" {
		id = uuid.NewString()
	}
	return &vaultEventRecord{
		ID:           id,
		VaultAddress: in.Vault.String(),
		Sequence:     sequence,
		EventName:    in.Payload.EventName(),
		Payload:      core.EventPayloadFields(in.Payload),
		Encoded:      encoded,
		OccurredAt:   occurredAt.UTC(),
		CreatedAt:    now,
	}, nil
}

func (r *vaultEventRecord) toDomain() (core.EventRecord, error) {
	if r == nil {
		return core.EventRecord{}, fmt.Errorf("sqlstore: event record is nil")
	}
	vault, err := core.ParseAddress(r.VaultAddress)
	if err != nil {
		return core.EventRecord{}, fmt.Errorf("sqlstore: event vault address: %w", err)
	}
	payload, err := decodeEventPayload(r)
	if err != nil {
		return core.EventRecord{}, err
	}
	return core.EventRecord{
		ID:         r.ID,
		Vault:      vault,
		Sequence:   uint64(r.Sequence),
		Name:       r.EventName,
		Payload:    payload,
		OccurredAt: r.OccurredAt.UTC(),
	}, nil
}

// decodeEventPayload prefers the exact binary image; the JSON payload only
// loses precision for amounts above 2^53.
func decodeEventPayload(r *vaultEventRecord) (core.VaultEvent, error) {
	if len(r.Encoded) > 0 {
		return core.DecodeEvent(r.EventName, r.Encoded)
	}
	return core.EventFromFields(r.EventName, r.Payload)
}
