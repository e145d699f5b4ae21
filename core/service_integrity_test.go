package core

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
)

func TestService_RejectedRecordChangesLeaveVaultByteIdentical(t *testing.T) {
	f := newVaultFixture(t)
	ctx := context.Background()
	before := encodedVault(t, f)
	intruder := testIdentity("intruder")

	rejected := []struct {
		name string
		run  func() error
		want error
	}{
		{
			name: "allocation from non-authority",
			run: func() error {
				return f.svc.SetTargetAllocation(ctx, SetAllocationRequest{Vault: f.vault.Address, Authority: intruder, Bps: 100})
			},
			want: ErrUnauthorized,
		},
		{
			name: "allocation above maximum",
			run: func() error {
				return f.svc.SetTargetAllocation(ctx, SetAllocationRequest{Vault: f.vault.Address, Authority: f.authority, Bps: MaxAllocationBps + 1})
			},
			want: ErrInvalidAllocation,
		},
		{
			name: "authority transfer from non-authority",
			run: func() error {
				return f.svc.TransferAuthority(ctx, TransferAuthorityRequest{Vault: f.vault.Address, Authority: intruder, NewAuthority: intruder})
			},
			want: ErrUnauthorized,
		},
		{
			name: "authority transfer to zero address",
			run: func() error {
				return f.svc.TransferAuthority(ctx, TransferAuthorityRequest{Vault: f.vault.Address, Authority: f.authority})
			},
			want: ErrInvalidAuthority,
		},
	}
	for _, tc := range rejected {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.run(); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			if after := encodedVault(t, f); !bytes.Equal(before, after) {
				t.Fatalf("vault account data changed after rejection")
			}
		})
	}
	events, _ := f.svc.ListEvents(ctx, EventFilter{Vault: f.vault.Address})
	if len(events) != 0 {
		t.Fatalf("expected no events after rejections, got %d", len(events))
	}
}

func TestService_SetTargetAllocationStoresRequestedBps(t *testing.T) {
	f := newVaultFixture(t)
	ctx := context.Background()
	for _, bps := range []uint16{0, 1, 2500, 9999, MaxAllocationBps} {
		if err := f.svc.SetTargetAllocation(ctx, SetAllocationRequest{
			Vault: f.vault.Address, Authority: f.authority, Bps: bps,
		}); err != nil {
			t.Fatalf("set allocation %d: %v", bps, err)
		}
		record, err := f.svc.GetVault(ctx, f.vault.Address)
		if err != nil {
			t.Fatalf("get vault: %v", err)
		}
		if record.TargetAllocationBps != bps {
			t.Fatalf("expected stored allocation %d, got %d", bps, record.TargetAllocationBps)
		}
		var decoded VaultRecord
		if err := decoded.UnmarshalBinary(encodedVault(t, f)); err != nil {
			t.Fatalf("decode vault: %v", err)
		}
		if decoded.TargetAllocationBps != bps {
			t.Fatalf("expected encoded allocation %d, got %d", bps, decoded.TargetAllocationBps)
		}
	}
}

func TestService_OldAuthorityCannotWithdrawAfterTransfer(t *testing.T) {
	f := newVaultFixture(t)
	ctx := context.Background()
	f.deposit(t, testIdentity("depositor"), 1000)
	successor := testIdentity("successor")
	if err := f.svc.TransferAuthority(ctx, TransferAuthorityRequest{
		Vault: f.vault.Address, Authority: f.authority, NewAuthority: successor,
	}); err != nil {
		t.Fatalf("transfer authority: %v", err)
	}

	recipient := testIdentity("recipient")
	withdraw := WithdrawRequest{
		Vault:            f.vault.Address,
		Authority:        f.authority,
		Recipient:        recipient,
		RecipientAccount: f.custody.fund(recipient, f.asset, 0),
		CustodyAccount:   f.vault.CustodyAccount,
		Amount:           100,
	}
	if err := f.svc.Withdraw(ctx, withdraw); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected old authority withdraw to be unauthorized, got %v", err)
	}
	assertBalance(t, f, 1000)

	withdraw.Authority = successor
	if err := f.svc.Withdraw(ctx, withdraw); err != nil {
		t.Fatalf("successor withdraw: %v", err)
	}
	assertBalance(t, f, 900)
}

func TestService_MutationsValidateAgainstFreshRecord(t *testing.T) {
	store := &staleReadStore{MemoryVaultStore: NewMemoryVaultStore()}
	f := newVaultFixture(t, WithVaultStore(store))
	ctx := context.Background()
	f.deposit(t, testIdentity("depositor"), 1000)

	// Reads keep returning the record as it was before the transfer.
	store.pin(t, f.vault.Address)
	successor := testIdentity("successor")
	if err := f.svc.TransferAuthority(ctx, TransferAuthorityRequest{
		Vault: f.vault.Address, Authority: f.authority, NewAuthority: successor,
	}); err != nil {
		t.Fatalf("transfer authority: %v", err)
	}

	recipient := testIdentity("recipient")
	withdraw := WithdrawRequest{
		Vault:            f.vault.Address,
		Authority:        f.authority,
		Recipient:        recipient,
		RecipientAccount: f.custody.fund(recipient, f.asset, 0),
		CustodyAccount:   f.vault.CustodyAccount,
		Amount:           250,
	}
	if err := f.svc.Withdraw(ctx, withdraw); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected stale authority to be rejected, got %v", err)
	}
	if err := f.svc.SetTargetAllocation(ctx, SetAllocationRequest{
		Vault: f.vault.Address, Authority: f.authority, Bps: 1,
	}); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected stale authority allocation to be rejected, got %v", err)
	}
	if f.custody.balance(f.vault.CustodyAccount) != 1000 {
		t.Fatalf("expected custody balance untouched")
	}

	withdraw.Authority = successor
	if err := f.svc.Withdraw(ctx, withdraw); err != nil {
		t.Fatalf("successor withdraw: %v", err)
	}
	if got := f.custody.balance(f.vault.CustodyAccount); got != 750 {
		t.Fatalf("expected custody balance 750, got %d", got)
	}
}

func TestService_InitializeRecoversFromFailedCreate(t *testing.T) {
	custody := newFakeCustody()
	storeErr := errors.New("sqlstore: connection reset")
	store := &failingCreateStore{MemoryVaultStore: NewMemoryVaultStore(), failures: 1, err: storeErr}
	svc, err := NewService(Config{ProgramID: testProgram.String()},
		WithTokenCustody(custody),
		WithVaultStore(store),
	)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	req := InitializeRequest{Namespace: "ops", Authority: testIdentity("authority"), AssetID: testIdentity("usdc")}

	if _, err := svc.Initialize(context.Background(), req); !errors.Is(err, storeErr) {
		t.Fatalf("expected store failure, got %v", err)
	}
	if len(custody.accounts) != 1 {
		t.Fatalf("expected custody account from the failed attempt, got %d accounts", len(custody.accounts))
	}

	vault, err := svc.Initialize(context.Background(), req)
	if err != nil {
		t.Fatalf("retry initialize: %v", err)
	}
	if len(custody.accounts) != 1 {
		t.Fatalf("expected retry to reuse the custody account, got %d accounts", len(custody.accounts))
	}
	account, err := custody.Account(context.Background(), vault.CustodyAccount)
	if err != nil {
		t.Fatalf("custody account: %v", err)
	}
	if account.Owner != vault.Address || account.AssetID != req.AssetID {
		t.Fatalf("unexpected custody account %#v", account)
	}
}

func TestService_InitializeRejectsForeignCustodyAccount(t *testing.T) {
	custody := newFakeCustody()
	svc, err := NewService(Config{ProgramID: testProgram.String()}, WithTokenCustody(custody))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	vaultAddr, _, err := DeriveVaultAddress(testProgram, "ops")
	if err != nil {
		t.Fatalf("derive vault: %v", err)
	}
	custodyAddr, _, err := DeriveCustodyAddress(testProgram, vaultAddr)
	if err != nil {
		t.Fatalf("derive custody: %v", err)
	}
	if _, err := custody.OpenAccount(context.Background(), OpenAccountRequest{
		Address: custodyAddr, Owner: vaultAddr, AssetID: testIdentity("eurc"),
	}); err != nil {
		t.Fatalf("open account: %v", err)
	}

	_, err = svc.Initialize(context.Background(), InitializeRequest{
		Namespace: "ops", Authority: testIdentity("authority"), AssetID: testIdentity("usdc"),
	})
	if err == nil {
		t.Fatalf("expected custody account with another asset to be rejected")
	}
	if _, err := svc.GetVault(context.Background(), vaultAddr); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected no vault record, got %v", err)
	}
}

func TestService_RecordChangesRollBackWhenAppendFails(t *testing.T) {
	events := &failingEventLog{MemoryEventLog: NewMemoryEventLog()}
	f := newVaultFixture(t, WithEventLog(events))
	ctx := context.Background()
	before := encodedVault(t, f)
	appendErr := errors.New("event log offline")

	events.failNext(EventAllocationUpdated, appendErr)
	err := f.svc.SetTargetAllocation(ctx, SetAllocationRequest{Vault: f.vault.Address, Authority: f.authority, Bps: 9000})
	assertRolledBack(t, err, appendErr)
	if after := encodedVault(t, f); !bytes.Equal(before, after) {
		t.Fatalf("allocation change was not rolled back")
	}

	successor := testIdentity("successor")
	events.failNext(EventAuthorityTransferred, appendErr)
	err = f.svc.TransferAuthority(ctx, TransferAuthorityRequest{Vault: f.vault.Address, Authority: f.authority, NewAuthority: successor})
	assertRolledBack(t, err, appendErr)
	if after := encodedVault(t, f); !bytes.Equal(before, after) {
		t.Fatalf("authority change was not rolled back")
	}

	// The original authority still governs the vault.
	if err := f.svc.SetTargetAllocation(ctx, SetAllocationRequest{Vault: f.vault.Address, Authority: f.authority, Bps: 100}); err != nil {
		t.Fatalf("original authority after rollback: %v", err)
	}
	list, _ := f.svc.ListEvents(ctx, EventFilter{Vault: f.vault.Address})
	if len(list) != 1 || list[0].Name != EventAllocationUpdated {
		t.Fatalf("expected only the successful allocation event, got %#v", list)
	}
}

func TestService_TransferAppendFailureIsReportedAsApplied(t *testing.T) {
	events := &failingEventLog{MemoryEventLog: NewMemoryEventLog()}
	f := newVaultFixture(t, WithEventLog(events))
	depositor := testIdentity("depositor")
	source := f.custody.fund(depositor, f.asset, 60)
	appendErr := errors.New("event log offline")

	events.failNext(EventDeposit, appendErr)
	err := f.svc.Deposit(context.Background(), DepositRequest{
		Vault:          f.vault.Address,
		Depositor:      depositor,
		SourceAccount:  source,
		CustodyAccount: f.vault.CustodyAccount,
		Amount:         60,
	})
	var applied *AppendError
	if !errors.As(err, &applied) || applied.RolledBack {
		t.Fatalf("expected applied append error, got %v", err)
	}
	if !errors.Is(err, appendErr) {
		t.Fatalf("expected append cause to be matchable, got %v", err)
	}
	if Unapplied(err) {
		t.Fatalf("a completed transfer must not be reported as unapplied")
	}
	assertBalance(t, f, 60)
}

func TestService_RefusedTransferIsTyped(t *testing.T) {
	f := newVaultFixture(t)
	depositor := testIdentity("depositor")
	source := f.custody.fund(depositor, f.asset, 10)
	adapterErr := errors.New("fake custody: ledger offline")
	f.custody.failNext = adapterErr

	err := f.svc.Deposit(context.Background(), DepositRequest{
		Vault:          f.vault.Address,
		Depositor:      depositor,
		SourceAccount:  source,
		CustodyAccount: f.vault.CustodyAccount,
		Amount:         10,
	})
	var transferErr *TransferError
	if !errors.As(err, &transferErr) {
		t.Fatalf("expected transfer error, got %T", err)
	}
	if transferErr.Amount != 10 || transferErr.Source != source || transferErr.Destination != f.vault.CustodyAccount {
		t.Fatalf("unexpected transfer error fields %#v", transferErr)
	}
	if !errors.Is(err, adapterErr) || err.Error() != adapterErr.Error() {
		t.Fatalf("expected adapter error to pass through, got %v", err)
	}
	if !Unapplied(err) {
		t.Fatalf("expected refused transfer to be unapplied")
	}
	if mapped := MapError(err); mapped.TextCode != VaultErrorTransferFailed {
		t.Fatalf("expected transfer failed text code, got %q", mapped.TextCode)
	}
}

func assertRolledBack(t *testing.T, err error, cause error) {
	t.Helper()
	var appendErr *AppendError
	if !errors.As(err, &appendErr) || !appendErr.RolledBack {
		t.Fatalf("expected rolled back append error, got %v", err)
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected append cause to be matchable, got %v", err)
	}
	if !Unapplied(err) {
		t.Fatalf("expected rolled back change to be unapplied")
	}
}

func encodedVault(t *testing.T, f vaultFixture) []byte {
	t.Helper()
	record, err := f.svc.GetVault(context.Background(), f.vault.Address)
	if err != nil {
		t.Fatalf("get vault: %v", err)
	}
	data, err := record.MarshalBinary()
	if err != nil {
		t.Fatalf("marshal vault: %v", err)
	}
	return data
}

// staleReadStore answers Load from pinned snapshots, like a read cache that
// missed an invalidation. LoadFresh always reads the backing store.
type staleReadStore struct {
	*MemoryVaultStore
	mu     sync.Mutex
	pinned map[Address]VaultRecord
}

func (s *staleReadStore) pin(t *testing.T, address Address) {
	t.Helper()
	record, err := s.MemoryVaultStore.Load(context.Background(), address)
	if err != nil {
		t.Fatalf("pin vault: %v", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pinned == nil {
		s.pinned = map[Address]VaultRecord{}
	}
	s.pinned[address] = record
}

func (s *staleReadStore) Load(ctx context.Context, address Address) (VaultRecord, error) {
	s.mu.Lock()
	record, ok := s.pinned[address]
	s.mu.Unlock()
	if ok {
		return record, nil
	}
	return s.MemoryVaultStore.Load(ctx, address)
}

func (s *staleReadStore) LoadFresh(ctx context.Context, address Address) (VaultRecord, error) {
	return s.MemoryVaultStore.Load(ctx, address)
}

type failingCreateStore struct {
	*MemoryVaultStore
	mu       sync.Mutex
	failures int
	err      error
}

func (s *failingCreateStore) Create(ctx context.Context, record VaultRecord) (VaultRecord, error) {
	s.mu.Lock()
	if s.failures > 0 {
		s.failures--
		s.mu.Unlock()
		return VaultRecord{}, s.err
	}
	s.mu.Unlock()
	return s.MemoryVaultStore.Create(ctx, record)
}

type failingEventLog struct {
	*MemoryEventLog
	mu    sync.Mutex
	fails map[string]error
}

func (l *failingEventLog) failNext(name string, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fails == nil {
		l.fails = map[string]error{}
	}
	l.fails[name] = err
}

func (l *failingEventLog) Append(ctx context.Context, record EventRecord) (EventRecord, error) {
	l.mu.Lock()
	err, ok := l.fails[record.Name]
	if ok {
		delete(l.fails, record.Name)
	}
	l.mu.Unlock()
	if ok {
		return EventRecord{}, err
	}
	return l.MemoryEventLog.Append(ctx, record)
}
