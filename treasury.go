package treasury

import "github.com/goliatone/go-treasury/core"

type Config = core.Config

type Option = core.Option

type Service = core.Service

type ServiceDependencies = core.ServiceDependencies

type Address = core.Address

type VaultRecord = core.VaultRecord
type Balance = core.Balance
type EventRecord = core.EventRecord
type EventFilter = core.EventFilter

type VaultStore = core.VaultStore
type EventLog = core.EventLog
type TokenCustody = core.TokenCustody
type VaultLocker = core.VaultLocker
type ReplayLedger = core.ReplayLedger

type InitializeRequest = core.InitializeRequest
type DepositRequest = core.DepositRequest
type WithdrawRequest = core.WithdrawRequest
type SetAllocationRequest = core.SetAllocationRequest
type TransferAuthorityRequest = core.TransferAuthorityRequest
type GetBalanceRequest = core.GetBalanceRequest

var (
	WithLogger          = core.WithLogger
	WithLoggerProvider  = core.WithLoggerProvider
	WithMetricsRecorder = core.WithMetricsRecorder
	WithErrorFactory    = core.WithErrorFactory
	WithErrorMapper     = core.WithErrorMapper
	WithConfigProvider  = core.WithConfigProvider
	WithOptionsResolver = core.WithOptionsResolver
	WithStoreProvider   = core.WithStoreProvider
	WithVaultStore      = core.WithVaultStore
	WithEventLog        = core.WithEventLog
	WithTokenCustody    = core.WithTokenCustody
	WithVaultLocker     = core.WithVaultLocker
	WithClock           = core.WithClock
)

func ParseAddress(value string) (Address, error) {
	return core.ParseAddress(value)
}

func DefaultConfig() Config {
	return core.DefaultConfig()
}

func NewService(cfg Config, opts ...Option) (*Service, error) {
	return core.NewService(cfg, opts...)
}

func Setup(cfg Config, opts ...Option) (*Service, error) {
	return core.Setup(cfg, opts...)
}
