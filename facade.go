package treasury

import (
	"fmt"
	"time"

	treasurycommand "github.com/goliatone/go-treasury/command"
	"github.com/goliatone/go-treasury/core"
	treasuryquery "github.com/goliatone/go-treasury/query"
)

type CommandQueryService interface {
	treasurycommand.MutatingService
	treasuryquery.VaultReader
}

type Commands struct {
	Initialize        *treasurycommand.InitializeVaultCommand
	Deposit           *treasurycommand.DepositCommand
	Withdraw          *treasurycommand.WithdrawCommand
	SetAllocation     *treasurycommand.SetAllocationCommand
	TransferAuthority *treasurycommand.TransferAuthorityCommand
}

type Queries struct {
	GetBalance *treasuryquery.GetBalanceQuery
	GetVault   *treasuryquery.GetVaultQuery
	ListEvents *treasuryquery.ListEventsQuery
}

type Facade struct {
	service  CommandQueryService
	commands Commands
	queries  Queries
	replay   core.ReplayLedger
}

type FacadeOption func(*facadeOptions)

type facadeOptions struct {
	replayLedger   core.ReplayLedger
	replayTTL      time.Duration
	replayDisabled bool
}

// configuredService exposes the resolved service configuration.
type configuredService interface {
	Config() core.Config
}

// WithReplayLedger makes every command honor message RequestIDs.
func WithReplayLedger(ledger core.ReplayLedger, ttl time.Duration) FacadeOption {
	return func(options *facadeOptions) {
		options.replayLedger = ledger
		options.replayTTL = ttl
		options.replayDisabled = false
	}
}

// WithoutReplayGuard runs commands without RequestID deduplication.
func WithoutReplayGuard() FacadeOption {
	return func(options *facadeOptions) {
		options.replayLedger = nil
		options.replayDisabled = true
	}
}

func NewFacade(service CommandQueryService, opts ...FacadeOption) (*Facade, error) {
	if service == nil {
		return nil, fmt.Errorf("treasury: command/query service is required")
	}
	cfg := facadeOptions{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&cfg)
	}

	// Services that carry a Config get an in-memory ledger bounded by its
	// replay limits unless the caller supplied or disabled one.
	if cfg.replayLedger == nil && !cfg.replayDisabled {
		if configured, ok := service.(configuredService); ok {
			replay := configured.Config().Replay
			cfg.replayLedger = core.NewMemoryReplayLedgerWithLimits(replay.TTL(), replay.MaxEntries)
			cfg.replayTTL = replay.TTL()
		}
	}

	var commandOpts []treasurycommand.Option
	if cfg.replayLedger != nil {
		guard := treasurycommand.NewReplayGuard(cfg.replayLedger, cfg.replayTTL)
		commandOpts = append(commandOpts, treasurycommand.WithReplayGuard(guard))
	}

	facade := &Facade{service: service, replay: cfg.replayLedger}
	facade.commands = Commands{
		Initialize:        treasurycommand.NewInitializeVaultCommand(service, commandOpts...),
		Deposit:           treasurycommand.NewDepositCommand(service, commandOpts...),
		Withdraw:          treasurycommand.NewWithdrawCommand(service, commandOpts...),
		SetAllocation:     treasurycommand.NewSetAllocationCommand(service, commandOpts...),
		TransferAuthority: treasurycommand.NewTransferAuthorityCommand(service, commandOpts...),
	}
	facade.queries = Queries{
		GetBalance: treasuryquery.NewGetBalanceQuery(service),
		GetVault:   treasuryquery.NewGetVaultQuery(service),
		ListEvents: treasuryquery.NewListEventsQuery(service),
	}

	return facade, nil
}

func (f *Facade) Commands() Commands {
	if f == nil {
		return Commands{}
	}
	return f.commands
}

func (f *Facade) Queries() Queries {
	if f == nil {
		return Queries{}
	}
	return f.queries
}

// ReplayLedger returns the ledger commands claim RequestIDs in, or nil when
// replay protection is off.
func (f *Facade) ReplayLedger() core.ReplayLedger {
	if f == nil {
		return nil
	}
	return f.replay
}

func (f *Facade) Service() CommandQueryService {
	if f == nil {
		return nil
	}
	return f.service
}
