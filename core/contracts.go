package core

import (
	"context"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

// VaultStore persists vault records. Create must fail with ErrAlreadyExists
// when a record exists at the address; Load must fail with ErrNotFound.
type VaultStore interface {
	Create(ctx context.Context, record VaultRecord) (VaultRecord, error)
	Load(ctx context.Context, address Address) (VaultRecord, error)
	Save(ctx context.Context, record VaultRecord) error
}

// FreshVaultLoader is implemented by stores that cache reads. LoadFresh
// always reads the backing store; handlers call it while holding the vault
// lock.
type FreshVaultLoader interface {
	LoadFresh(ctx context.Context, address Address) (VaultRecord, error)
}

// EventLog is append-only. Append assigns ID and the next per-vault sequence.
type EventLog interface {
	Append(ctx context.Context, record EventRecord) (EventRecord, error)
	List(ctx context.Context, filter EventFilter) ([]EventRecord, error)
}

type TransferRequest struct {
	Source      Address
	Destination Address
	Authorizer  Authorizer
	Amount      uint64
}

// CustodyAdapter moves the held asset. Implementations must be atomic: the
// full amount moves or nothing does.
type CustodyAdapter interface {
	Transfer(ctx context.Context, req TransferRequest) error
}

type AccountReader interface {
	Account(ctx context.Context, address Address) (TokenAccount, error)
}

type OpenAccountRequest struct {
	Address Address
	Owner   Address
	AssetID Address
}

type AccountProvisioner interface {
	OpenAccount(ctx context.Context, req OpenAccountRequest) (TokenAccount, error)
}

// TokenCustody bundles the custody capabilities the service consumes.
type TokenCustody interface {
	CustodyAdapter
	AccountReader
	AccountProvisioner
}

type LockHandle interface {
	Unlock(ctx context.Context) error
}

// VaultLocker scopes validate-then-mutate to a single writer per vault.
type VaultLocker interface {
	Acquire(ctx context.Context, vault Address) (LockHandle, error)
}

type ReplayLedger interface {
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

type MetricsRecorder interface {
	IncCounter(ctx context.Context, name string, value int64, tags map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string)
}

type Clock func() time.Time

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger

// VaultService is the handler surface consumed by command and query layers.
type VaultService interface {
	Initialize(ctx context.Context, req InitializeRequest) (VaultRecord, error)
	Deposit(ctx context.Context, req DepositRequest) error
	Withdraw(ctx context.Context, req WithdrawRequest) error
	SetTargetAllocation(ctx context.Context, req SetAllocationRequest) error
	TransferAuthority(ctx context.Context, req TransferAuthorityRequest) error
	GetBalance(ctx context.Context, req GetBalanceRequest) (Balance, error)
	GetVault(ctx context.Context, address Address) (VaultRecord, error)
	ListEvents(ctx context.Context, filter EventFilter) ([]EventRecord, error)
}
