package core

import (
	"encoding/binary"
	"fmt"
	"time"
)

const (
	EventDeposit              = "DepositEvent"
	EventWithdraw             = "WithdrawEvent"
	EventAllocationUpdated    = "AllocationUpdatedEvent"
	EventAuthorityTransferred = "AuthorityTransferredEvent"
)

// VaultEvent is a typed audit payload emitted by a successful mutation.
type VaultEvent interface {
	EventName() string
	OccurredAt() time.Time
	MarshalBinary() ([]byte, error)
}

type DepositEvent struct {
	Depositor Address
	Amount    uint64
	Timestamp time.Time
}

func (DepositEvent) EventName() string       { return EventDeposit }
func (e DepositEvent) OccurredAt() time.Time { return e.Timestamp }

func (e DepositEvent) MarshalBinary() ([]byte, error) {
	return newEventEncoder(EventDeposit).
		address(e.Depositor).
		u64(e.Amount).
		timestamp(e.Timestamp).
		bytes(), nil
}

type WithdrawEvent struct {
	Recipient Address
	Amount    uint64
	Timestamp time.Time
}

func (WithdrawEvent) EventName() string       { return EventWithdraw }
func (e WithdrawEvent) OccurredAt() time.Time { return e.Timestamp }

func (e WithdrawEvent) MarshalBinary() ([]byte, error) {
	return newEventEncoder(EventWithdraw).
		address(e.Recipient).
		u64(e.Amount).
		timestamp(e.Timestamp).
		bytes(), nil
}

type AllocationUpdatedEvent struct {
	OldBps    uint16
	NewBps    uint16
	Timestamp time.Time
}

func (AllocationUpdatedEvent) EventName() string       { return EventAllocationUpdated }
func (e AllocationUpdatedEvent) OccurredAt() time.Time { return e.Timestamp }

func (e AllocationUpdatedEvent) MarshalBinary() ([]byte, error) {
	return newEventEncoder(EventAllocationUpdated).
		u16(e.OldBps).
		u16(e.NewBps).
		timestamp(e.Timestamp).
		bytes(), nil
}

type AuthorityTransferredEvent struct {
	OldAuthority Address
	NewAuthority Address
	Timestamp    time.Time
}

func (AuthorityTransferredEvent) EventName() string       { return EventAuthorityTransferred }
func (e AuthorityTransferredEvent) OccurredAt() time.Time { return e.Timestamp }

func (e AuthorityTransferredEvent) MarshalBinary() ([]byte, error) {
	return newEventEncoder(EventAuthorityTransferred).
		address(e.OldAuthority).
		address(e.NewAuthority).
		timestamp(e.Timestamp).
		bytes(), nil
}

// EventRecord is one entry of the append-only event log.
type EventRecord struct {
	ID         string
	Vault      Address
	Sequence   uint64
	Name       string
	Payload    VaultEvent
	OccurredAt time.Time
}

type EventFilter struct {
	Vault         Address
	Names         []string
	AfterSequence uint64
	Limit         int
}

func (f EventFilter) Matches(record EventRecord) bool {
	if !f.Vault.IsZero() && record.Vault != f.Vault {
		return false
	}
	if record.Sequence <= f.AfterSequence {
		return false
	}
	if len(f.Names) == 0 {
		return true
	}
	for _, name := range f.Names {
		if name == record.Name {
			return true
		}
	}
	return false
}

// EventPayloadFields flattens a payload into a string-keyed map suitable for
// JSON columns and log fields.
func EventPayloadFields(event VaultEvent) map[string]any {
	switch typed := event.(type) {
	case DepositEvent:
		return map[string]any{
			"depositor": typed.Depositor.String(),
			"amount":    typed.Amount,
			"timestamp": typed.Timestamp.Unix(),
		}
	case WithdrawEvent:
		return map[string]any{
			"recipient": typed.Recipient.String(),
			"amount":    typed.Amount,
			"timestamp": typed.Timestamp.Unix(),
		}
	case AllocationUpdatedEvent:
		return map[string]any{
			"old_allocation_bps": typed.OldBps,
			"new_allocation_bps": typed.NewBps,
			"timestamp":          typed.Timestamp.Unix(),
		}
	case AuthorityTransferredEvent:
		return map[string]any{
			"old_authority": typed.OldAuthority.String(),
			"new_authority": typed.NewAuthority.String(),
			"timestamp":     typed.Timestamp.Unix(),
		}
	default:
		return map[string]any{}
	}
}

// EventFromFields rebuilds a typed payload from EventPayloadFields output.
// Numeric values may arrive as float64 after a JSON round trip.
func EventFromFields(name string, fields map[string]any) (VaultEvent, error) {
	ts := time.Unix(fieldInt64(fields["timestamp"]), 0).UTC()
	switch name {
	case EventDeposit:
		depositor, err := fieldAddress(fields, "depositor")
		if err != nil {
			return nil, err
		}
		return DepositEvent{Depositor: depositor, Amount: uint64(fieldInt64(fields["amount"])), Timestamp: ts}, nil
	case EventWithdraw:
		recipient, err := fieldAddress(fields, "recipient")
		if err != nil {
			return nil, err
		}
		return WithdrawEvent{Recipient: recipient, Amount: uint64(fieldInt64(fields["amount"])), Timestamp: ts}, nil
	case EventAllocationUpdated:
		return AllocationUpdatedEvent{
			OldBps:    uint16(fieldInt64(fields["old_allocation_bps"])),
			NewBps:    uint16(fieldInt64(fields["new_allocation_bps"])),
			Timestamp: ts,
		}, nil
	case EventAuthorityTransferred:
		oldAuthority, err := fieldAddress(fields, "old_authority")
		if err != nil {
			return nil, err
		}
		newAuthority, err := fieldAddress(fields, "new_authority")
		if err != nil {
			return nil, err
		}
		return AuthorityTransferredEvent{OldAuthority: oldAuthority, NewAuthority: newAuthority, Timestamp: ts}, nil
	default:
		return nil, fmt.Errorf("core: unknown event %q", name)
	}
}

func fieldAddress(fields map[string]any, key string) (Address, error) {
	raw, _ := fields[key].(string)
	addr, err := ParseAddress(raw)
	if err != nil {
		return Address{}, fmt.Errorf("core: event field %s: %w", key, err)
	}
	return addr, nil
}

func fieldInt64(value any) int64 {
	switch typed := value.(type) {
	case int:
		return int64(typed)
	case int64:
		return typed
	case uint16:
		return int64(typed)
	case uint64:
		return int64(typed)
	case float64:
		return int64(typed)
	default:
		return 0
	}
}

type eventEncoder struct {
	buf []byte
}

func newEventEncoder(name string) *eventEncoder {
	disc := discriminator("event:" + name)
	return &eventEncoder{buf: append(make([]byte, 0, 96), disc[:]...)}
}

func (e *eventEncoder) address(addr Address) *eventEncoder {
	e.buf = append(e.buf, addr[:]...)
	return e
}

func (e *eventEncoder) u16(v uint16) *eventEncoder {
	e.buf = binary.LittleEndian.AppendUint16(e.buf, v)
	return e
}

func (e *eventEncoder) u64(v uint64) *eventEncoder {
	e.buf = binary.LittleEndian.AppendUint64(e.buf, v)
	return e
}

func (e *eventEncoder) timestamp(ts time.Time) *eventEncoder {
	e.buf = binary.LittleEndian.AppendUint64(e.buf, uint64(ts.Unix()))
	return e
}

func (e *eventEncoder) bytes() []byte {
	return e.buf
}

// DecodeEvent parses the binary form produced by MarshalBinary.
func DecodeEvent(name string, data []byte) (VaultEvent, error) {
	d, err := newEventDecoder(name, data)
	if err != nil {
		return nil, err
	}
	var event VaultEvent
	switch name {
	case EventDeposit:
		event = DepositEvent{Depositor: d.address(), Amount: d.u64(), Timestamp: d.timestamp()}
	case EventWithdraw:
		event = WithdrawEvent{Recipient: d.address(), Amount: d.u64(), Timestamp: d.timestamp()}
	case EventAllocationUpdated:
		event = AllocationUpdatedEvent{OldBps: d.u16(), NewBps: d.u16(), Timestamp: d.timestamp()}
	case EventAuthorityTransferred:
		event = AuthorityTransferredEvent{OldAuthority: d.address(), NewAuthority: d.address(), Timestamp: d.timestamp()}
	default:
		return nil, fmt.Errorf("core: unknown event %q", name)
	}
	if d.err != nil {
		return nil, fmt.Errorf("core: decode %s: %w", name, d.err)
	}
	if len(d.buf) != 0 {
		return nil, fmt.Errorf("core: decode %s: %d trailing bytes", name, len(d.buf))
	}
	return event, nil
}

type eventDecoder struct {
	buf []byte
	err error
}

func newEventDecoder(name string, data []byte) (*eventDecoder, error) {
	disc := discriminator("event:" + name)
	if len(data) < len(disc) || [8]byte(data[:8]) != disc {
		return nil, fmt.Errorf("core: event %s discriminator mismatch", name)
	}
	return &eventDecoder{buf: data[8:]}, nil
}

func (d *eventDecoder) take(n int) []byte {
	if d.err != nil {
		return make([]byte, n)
	}
	if len(d.buf) < n {
		d.err = fmt.Errorf("short buffer: need %d bytes, have %d", n, len(d.buf))
		return make([]byte, n)
	}
	out := d.buf[:n]
	d.buf = d.buf[n:]
	return out
}

func (d *eventDecoder) address() Address {
	var out Address
	copy(out[:], d.take(AddressLength))
	return out
}

func (d *eventDecoder) u16() uint16 {
	return binary.LittleEndian.Uint16(d.take(2))
}

func (d *eventDecoder) u64() uint64 {
	return binary.LittleEndian.Uint64(d.take(8))
}

func (d *eventDecoder) timestamp() time.Time {
	return time.Unix(int64(d.u64()), 0).UTC()
}
