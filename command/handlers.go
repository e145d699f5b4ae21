package command

import (
	"context"
	"strings"
	"time"

	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-treasury/core"
)

type MutatingService interface {
	Initialize(ctx context.Context, req core.InitializeRequest) (core.VaultRecord, error)
	Deposit(ctx context.Context, req core.DepositRequest) error
	Withdraw(ctx context.Context, req core.WithdrawRequest) error
	SetTargetAllocation(ctx context.Context, req core.SetAllocationRequest) error
	TransferAuthority(ctx context.Context, req core.TransferAuthorityRequest) error
}

// ReplayGuard claims RequestIDs in a replay ledger before a command runs.
// Claims are released when core.Unapplied reports that the failed command
// left no effect.
type ReplayGuard struct {
	ledger core.ReplayLedger
	ttl    time.Duration
}

func NewReplayGuard(ledger core.ReplayLedger, ttl time.Duration) *ReplayGuard {
	if ttl <= 0 {
		ttl = core.DefaultReplayTTL
	}
	return &ReplayGuard{ledger: ledger, ttl: ttl}
}

type replayReleaser interface {
	Release(ctx context.Context, key string) error
}

func ReplayKey(messageType string, requestID string) string {
	return messageType + "::" + strings.TrimSpace(requestID)
}

func (g *ReplayGuard) run(ctx context.Context, messageType string, requestID string, fn func() error) error {
	if g == nil || g.ledger == nil || strings.TrimSpace(requestID) == "" {
		return fn()
	}
	key := ReplayKey(messageType, requestID)
	claimed, err := g.ledger.Claim(ctx, key, g.ttl)
	if err != nil {
		return commandReplayError(err)
	}
	if !claimed {
		return commandDuplicateRequestError(messageType, strings.TrimSpace(requestID))
	}
	runErr := fn()
	if core.Unapplied(runErr) {
		if releaser, ok := g.ledger.(replayReleaser); ok {
			_ = releaser.Release(context.WithoutCancel(ctx), key)
		}
	}
	return runErr
}

type Option func(*commandConfig)

type commandConfig struct {
	replay *ReplayGuard
}

func WithReplayGuard(guard *ReplayGuard) Option {
	return func(c *commandConfig) {
		c.replay = guard
	}
}

func buildConfig(opts []Option) commandConfig {
	cfg := commandConfig{}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return cfg
}

type InitializeVaultCommand struct {
	service MutatingService
	replay  *ReplayGuard
}

func NewInitializeVaultCommand(service MutatingService, opts ...Option) *InitializeVaultCommand {
	cfg := buildConfig(opts)
	return &InitializeVaultCommand{service: service, replay: cfg.replay}
}

func (c *InitializeVaultCommand) Execute(ctx context.Context, msg InitializeVaultMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: initialize service is required")
	}
	return c.replay.run(ctx, msg.Type(), msg.RequestID, func() error {
		out, err := c.service.Initialize(ctx, msg.Request)
		if err != nil {
			return err
		}
		storeResult(ctx, out)
		return nil
	})
}

type DepositCommand struct {
	service MutatingService
	replay  *ReplayGuard
}

func NewDepositCommand(service MutatingService, opts ...Option) *DepositCommand {
	cfg := buildConfig(opts)
	return &DepositCommand{service: service, replay: cfg.replay}
}

func (c *DepositCommand) Execute(ctx context.Context, msg DepositMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: deposit service is required")
	}
	return c.replay.run(ctx, msg.Type(), msg.RequestID, func() error {
		return c.service.Deposit(ctx, msg.Request)
	})
}

type WithdrawCommand struct {
	service MutatingService
	replay  *ReplayGuard
}

func NewWithdrawCommand(service MutatingService, opts ...Option) *WithdrawCommand {
	cfg := buildConfig(opts)
	return &WithdrawCommand{service: service, replay: cfg.replay}
}

func (c *WithdrawCommand) Execute(ctx context.Context, msg WithdrawMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: withdraw service is required")
	}
	return c.replay.run(ctx, msg.Type(), msg.RequestID, func() error {
		return c.service.Withdraw(ctx, msg.Request)
	})
}

type SetAllocationCommand struct {
	service MutatingService
	replay  *ReplayGuard
}

func NewSetAllocationCommand(service MutatingService, opts ...Option) *SetAllocationCommand {
	cfg := buildConfig(opts)
	return &SetAllocationCommand{service: service, replay: cfg.replay}
}

func (c *SetAllocationCommand) Execute(ctx context.Context, msg SetAllocationMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: allocation service is required")
	}
	return c.replay.run(ctx, msg.Type(), msg.RequestID, func() error {
		return c.service.SetTargetAllocation(ctx, msg.Request)
	})
}

type TransferAuthorityCommand struct {
	service MutatingService
	replay  *ReplayGuard
}

func NewTransferAuthorityCommand(service MutatingService, opts ...Option) *TransferAuthorityCommand {
	cfg := buildConfig(opts)
	return &TransferAuthorityCommand{service: service, replay: cfg.replay}
}

func (c *TransferAuthorityCommand) Execute(ctx context.Context, msg TransferAuthorityMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: authority service is required")
	}
	return c.replay.run(ctx, msg.Type(), msg.RequestID, func() error {
		return c.service.TransferAuthority(ctx, msg.Request)
	})
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}
