package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
)

var ErrCustodyNotConfigured = errors.New("core: token custody is not configured")

type Service struct {
	config          Config
	program         Address
	logger          Logger
	loggerProvider  LoggerProvider
	metricsRecorder MetricsRecorder
	errorFactory    ErrorFactory
	errorMapper     ErrorMapper
	configProvider  ConfigProvider
	optionsResolver OptionsResolver
	vaults          VaultStore
	events          EventLog
	custody         TokenCustody
	locker          VaultLocker
	now             Clock
}

type ServiceDependencies struct {
	Logger          Logger
	LoggerProvider  LoggerProvider
	MetricsRecorder MetricsRecorder
	ErrorFactory    ErrorFactory
	ErrorMapper     ErrorMapper
	ConfigProvider  ConfigProvider
	OptionsResolver OptionsResolver
	VaultStore      VaultStore
	EventLog        EventLog
	TokenCustody    TokenCustody
	VaultLocker     VaultLocker
}

func NewService(cfg Config, opts ...Option) (*Service, error) {
	builder := defaultServiceBuilder(cfg)
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&builder)
	}

	if builder.errorFactory == nil {
		builder.errorFactory = goerrors.New
	}
	if builder.metricsRecorder == nil {
		builder.metricsRecorder = NopMetricsRecorder{}
	}
	if builder.errorMapper == nil {
		builder.errorMapper = defaultErrorMapper
	}
	if builder.configProvider == nil {
		builder.configProvider = NewCfgxConfigProvider(nil)
	}
	if builder.optionsResolver == nil {
		builder.optionsResolver = GoOptionsResolver{}
	}
	if builder.clock == nil {
		builder.clock = func() time.Time { return time.Now().UTC() }
	}

	defaults := DefaultConfig()
	loaded, err := builder.configProvider.Load(context.Background(), defaults)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}
	finalConfig, err := builder.optionsResolver.Resolve(defaults, loaded, builder.runtimeConfig)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}

	loggerName := strings.TrimSpace(finalConfig.ServiceName)
	if loggerName == "" {
		loggerName = DefaultServiceName
	}
	provider, logger := glog.Resolve(loggerName, builder.loggerProvider, builder.logger)
	logger = glog.Ensure(logger)

	if builder.storeProvider != nil {
		if builder.vaultStore == nil {
			builder.vaultStore = builder.storeProvider.VaultStore()
		}
		if builder.eventLog == nil {
			builder.eventLog = builder.storeProvider.EventLog()
		}
	}
	if builder.vaultStore == nil {
		builder.vaultStore = NewMemoryVaultStore()
	}
	if builder.eventLog == nil {
		builder.eventLog = NewMemoryEventLog()
	}
	if builder.locker == nil {
		builder.locker = NewMemoryVaultLocker()
	}

	return &Service{
		config:          finalConfig,
		program:         finalConfig.Program(),
		logger:          logger,
		loggerProvider:  provider,
		metricsRecorder: builder.metricsRecorder,
		errorFactory:    builder.errorFactory,
		errorMapper:     builder.errorMapper,
		configProvider:  builder.configProvider,
		optionsResolver: builder.optionsResolver,
		vaults:          builder.vaultStore,
		events:          builder.eventLog,
		custody:         builder.custody,
		locker:          builder.locker,
		now:             builder.clock,
	}, nil
}

func Setup(cfg Config, opts ...Option) (*Service, error) {
	return NewService(cfg, opts...)
}

func mapBuildError(mapper ErrorMapper, err error) error {
	if err == nil {
		return nil
	}
	if mapper == nil {
		return err
	}
	mapped := mapper(err)
	if mapped == nil {
		return err
	}
	return mapped
}

func (s *Service) Config() Config {
	if s == nil {
		return Config{}
	}
	return s.config
}

func (s *Service) Dependencies() ServiceDependencies {
	if s == nil {
		return ServiceDependencies{}
	}
	return ServiceDependencies{
		Logger:          s.logger,
		LoggerProvider:  s.loggerProvider,
		MetricsRecorder: s.metricsRecorder,
		ErrorFactory:    s.errorFactory,
		ErrorMapper:     s.errorMapper,
		ConfigProvider:  s.configProvider,
		OptionsResolver: s.optionsResolver,
		VaultStore:      s.vaults,
		EventLog:        s.events,
		TokenCustody:    s.custody,
		VaultLocker:     s.locker,
	}
}

// MapError converts a handler error into the go-errors envelope using the
// configured mapper.
func (s *Service) MapError(err error) error {
	if err == nil {
		return nil
	}
	if s == nil || s.errorMapper == nil {
		return err
	}
	mapped := s.errorMapper(err)
	if mapped == nil {
		return err
	}
	return mapped
}

// Initialize creates the vault at its derived address, opens its custody
// account and records the caller as authority. Existing vaults are never
// overwritten.
func (s *Service) Initialize(ctx context.Context, req InitializeRequest) (record VaultRecord, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{
		"authority": req.Authority.String(),
		"asset_id":  req.AssetID.String(),
	}
	defer func() {
		if !record.Address.IsZero() {
			fields["vault"] = record.Address.String()
		}
		s.observeOperation(ctx, startedAt, "initialize", err, fields)
	}()

	if err = s.requireCustody(); err != nil {
		return VaultRecord{}, err
	}
	program := req.Program
	if program.IsZero() {
		program = s.program
	}
	if program.IsZero() {
		return VaultRecord{}, fmt.Errorf("core: program id is required")
	}
	if req.Authority.IsZero() {
		return VaultRecord{}, newVaultError(KindInvalidAuthority, nil)
	}
	if req.AssetID.IsZero() {
		return VaultRecord{}, fmt.Errorf("core: asset id is required")
	}
	namespace := req.Namespace
	if namespace == "" {
		namespace = s.config.DefaultNamespace
	}

	vaultAddr, bump, err := DeriveVaultAddress(program, namespace)
	if err != nil {
		return VaultRecord{}, err
	}
	fields["vault"] = vaultAddr.String()

	unlock, err := s.lockVault(ctx, vaultAddr)
	if err != nil {
		return VaultRecord{}, err
	}
	defer unlock()

	if _, loadErr := s.loadFresh(ctx, vaultAddr); loadErr == nil {
		return VaultRecord{}, newVaultError(KindAlreadyExists, map[string]any{"vault": vaultAddr.String()})
	} else if !errors.Is(loadErr, ErrNotFound) {
		return VaultRecord{}, loadErr
	}

	custodyAddr, custodyBump, err := DeriveCustodyAddress(program, vaultAddr)
	if err != nil {
		return VaultRecord{}, err
	}
	if err = s.openCustodyAccount(ctx, OpenAccountRequest{
		Address: custodyAddr,
		Owner:   vaultAddr,
		AssetID: req.AssetID,
	}); err != nil {
		return VaultRecord{}, err
	}

	now := s.now()
	created, err := s.vaults.Create(ctx, VaultRecord{
		Address:             vaultAddr,
		Program:             program,
		Namespace:           namespace,
		Authority:           req.Authority,
		AssetID:             req.AssetID,
		CustodyAccount:      custodyAddr,
		TargetAllocationBps: DefaultTargetAllocationBps,
		Bump:                bump,
		CustodyBump:         custodyBump,
		CreatedAt:           now,
		UpdatedAt:           now,
	})
	if err != nil {
		if errors.Is(err, ErrAlreadyExists) {
			return VaultRecord{}, newVaultError(KindAlreadyExists, map[string]any{"vault": vaultAddr.String()})
		}
		return VaultRecord{}, err
	}
	return created, nil
}

// Deposit moves amount from the depositor's account into the vault's custody
// account.
func (s *Service) Deposit(ctx context.Context, req DepositRequest) (err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{
		"vault":     req.Vault.String(),
		"depositor": req.Depositor.String(),
		"amount":    req.Amount,
	}
	defer func() {
		s.observeOperation(ctx, startedAt, "deposit", err, fields)
	}()

	if err = s.requireCustody(); err != nil {
		return err
	}
	unlock, err := s.lockVault(ctx, req.Vault)
	if err != nil {
		return err
	}
	defer unlock()

	record, err := s.loadVaultForUpdate(ctx, req.Vault)
	if err != nil {
		return err
	}

	if req.CustodyAccount != record.CustodyAccount {
		return newVaultError(KindInvalidVaultTokenAccount, map[string]any{"custody_account": req.CustodyAccount.String()})
	}
	source, err := s.custody.Account(ctx, req.SourceAccount)
	if err != nil {
		return err
	}
	if source.Owner != req.Depositor {
		return newVaultError(KindInvalidTokenAccount, map[string]any{"account": req.SourceAccount.String()})
	}
	if source.AssetID != record.AssetID {
		return newVaultError(KindInvalidMint, map[string]any{"account": req.SourceAccount.String()})
	}
	if req.Amount == 0 {
		return newVaultError(KindZeroAmount, nil)
	}

	if err = s.transfer(ctx, TransferRequest{
		Source:      req.SourceAccount,
		Destination: record.CustodyAccount,
		Authorizer:  CallerAuthorizer{Address: req.Depositor},
		Amount:      req.Amount,
	}); err != nil {
		return err
	}

	return s.appendEvent(ctx, record.Address, DepositEvent{
		Depositor: req.Depositor,
		Amount:    req.Amount,
		Timestamp: s.now(),
	})
}

// Withdraw lets the authority move amount out of custody to a recipient
// account. The vault signs for its own custody account.
func (s *Service) Withdraw(ctx context.Context, req WithdrawRequest) (err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{
		"vault":     req.Vault.String(),
		"recipient": req.Recipient.String(),
		"amount":    req.Amount,
	}
	defer func() {
		s.observeOperation(ctx, startedAt, "withdraw", err, fields)
	}()

	if err = s.requireCustody(); err != nil {
		return err
	}
	unlock, err := s.lockVault(ctx, req.Vault)
	if err != nil {
		return err
	}
	defer unlock()

	record, err := s.loadVaultForUpdate(ctx, req.Vault)
	if err != nil {
		return err
	}

	if req.CustodyAccount != record.CustodyAccount {
		return newVaultError(KindInvalidVaultTokenAccount, map[string]any{"custody_account": req.CustodyAccount.String()})
	}
	recipient, err := s.custody.Account(ctx, req.RecipientAccount)
	if err != nil {
		return err
	}
	if recipient.Owner != req.Recipient {
		return newVaultError(KindInvalidTokenAccount, map[string]any{"account": req.RecipientAccount.String()})
	}
	if recipient.AssetID != record.AssetID {
		return newVaultError(KindInvalidMint, map[string]any{"account": req.RecipientAccount.String()})
	}
	if req.Authority != record.Authority {
		return newVaultError(KindUnauthorized, map[string]any{"caller": req.Authority.String()})
	}
	if req.Amount == 0 {
		return newVaultError(KindZeroAmount, nil)
	}
	custodyAccount, err := s.custody.Account(ctx, record.CustodyAccount)
	if err != nil {
		return err
	}
	if custodyAccount.Amount < req.Amount {
		return newVaultError(KindInsufficientBalance, map[string]any{
			"balance": custodyAccount.Amount,
			"amount":  req.Amount,
		})
	}

	if err = s.transfer(ctx, TransferRequest{
		Source:      record.CustodyAccount,
		Destination: req.RecipientAccount,
		Authorizer:  newVaultSigner(record),
		Amount:      req.Amount,
	}); err != nil {
		return err
	}

	return s.appendEvent(ctx, record.Address, WithdrawEvent{
		Recipient: req.Recipient,
		Amount:    req.Amount,
		Timestamp: s.now(),
	})
}

// SetTargetAllocation records the advisory target share in basis points.
func (s *Service) SetTargetAllocation(ctx context.Context, req SetAllocationRequest) (err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{
		"vault": req.Vault.String(),
		"bps":   req.Bps,
	}
	defer func() {
		s.observeOperation(ctx, startedAt, "set_target_allocation", err, fields)
	}()

	unlock, err := s.lockVault(ctx, req.Vault)
	if err != nil {
		return err
	}
	defer unlock()

	record, err := s.loadVaultForUpdate(ctx, req.Vault)
	if err != nil {
		return err
	}
	if req.Authority != record.Authority {
		return newVaultError(KindUnauthorized, map[string]any{"caller": req.Authority.String()})
	}
	if req.Bps > MaxAllocationBps {
		return newVaultError(KindInvalidAllocation, map[string]any{"bps": req.Bps})
	}

	previous := record
	record.TargetAllocationBps = req.Bps
	record.UpdatedAt = s.now()
	if err = s.vaults.Save(ctx, record); err != nil {
		return err
	}

	return s.appendOrRestore(ctx, previous, AllocationUpdatedEvent{
		OldBps:    previous.TargetAllocationBps,
		NewBps:    req.Bps,
		Timestamp: record.UpdatedAt,
	})
}

// TransferAuthority hands control of the vault to a new identity. The old
// authority loses every privileged operation once this returns.
func (s *Service) TransferAuthority(ctx context.Context, req TransferAuthorityRequest) (err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{
		"vault":         req.Vault.String(),
		"new_authority": req.NewAuthority.String(),
	}
	defer func() {
		s.observeOperation(ctx, startedAt, "transfer_authority", err, fields)
	}()

	unlock, err := s.lockVault(ctx, req.Vault)
	if err != nil {
		return err
	}
	defer unlock()

	record, err := s.loadVaultForUpdate(ctx, req.Vault)
	if err != nil {
		return err
	}
	if req.Authority != record.Authority {
		return newVaultError(KindUnauthorized, map[string]any{"caller": req.Authority.String()})
	}
	if req.NewAuthority.IsZero() {
		return newVaultError(KindInvalidAuthority, nil)
	}

	previous := record
	record.Authority = req.NewAuthority
	record.UpdatedAt = s.now()
	if err = s.vaults.Save(ctx, record); err != nil {
		return err
	}

	return s.appendOrRestore(ctx, previous, AuthorityTransferredEvent{
		OldAuthority: previous.Authority,
		NewAuthority: req.NewAuthority,
		Timestamp:    record.UpdatedAt,
	})
}

// GetBalance reads the custody account amount. A zero CustodyAccount means
// the vault's recorded account.
func (s *Service) GetBalance(ctx context.Context, req GetBalanceRequest) (balance Balance, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{"vault": req.Vault.String()}
	defer func() {
		s.observeOperation(ctx, startedAt, "get_balance", err, fields)
	}()

	if err = s.requireCustody(); err != nil {
		return Balance{}, err
	}
	record, err := s.loadVault(ctx, req.Vault)
	if err != nil {
		return Balance{}, err
	}
	if !req.CustodyAccount.IsZero() && req.CustodyAccount != record.CustodyAccount {
		return Balance{}, newVaultError(KindInvalidVaultTokenAccount, map[string]any{"custody_account": req.CustodyAccount.String()})
	}
	account, err := s.custody.Account(ctx, record.CustodyAccount)
	if err != nil {
		return Balance{}, err
	}
	return Balance{
		Vault:          record.Address,
		CustodyAccount: record.CustodyAccount,
		AssetID:        record.AssetID,
		Amount:         account.Amount,
	}, nil
}

func (s *Service) GetVault(ctx context.Context, address Address) (VaultRecord, error) {
	return s.loadVault(ctx, address)
}

func (s *Service) ListEvents(ctx context.Context, filter EventFilter) ([]EventRecord, error) {
	if s == nil || s.events == nil {
		return nil, fmt.Errorf("core: event log is not configured")
	}
	return s.events.List(ctx, filter)
}

// DeriveVaultAddress resolves the vault address for a namespace under the
// configured program.
func (s *Service) DeriveVaultAddress(namespace string) (Address, error) {
	if s == nil || s.program.IsZero() {
		return Address{}, fmt.Errorf("core: program id is required")
	}
	if namespace == "" {
		namespace = s.config.DefaultNamespace
	}
	addr, _, err := DeriveVaultAddress(s.program, namespace)
	return addr, err
}

func (s *Service) requireCustody() error {
	if s == nil || s.custody == nil {
		return ErrCustodyNotConfigured
	}
	return nil
}

func (s *Service) loadVault(ctx context.Context, address Address) (VaultRecord, error) {
	if s == nil || s.vaults == nil {
		return VaultRecord{}, fmt.Errorf("core: vault store is not configured")
	}
	record, err := s.vaults.Load(ctx, address)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return VaultRecord{}, newVaultError(KindNotFound, map[string]any{"vault": address.String()})
		}
		return VaultRecord{}, err
	}
	return record, nil
}

// loadVaultForUpdate reads the record a mutation validates against. Stores
// that cache reads are bypassed.
func (s *Service) loadVaultForUpdate(ctx context.Context, address Address) (VaultRecord, error) {
	if s == nil || s.vaults == nil {
		return VaultRecord{}, fmt.Errorf("core: vault store is not configured")
	}
	record, err := s.loadFresh(ctx, address)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return VaultRecord{}, newVaultError(KindNotFound, map[string]any{"vault": address.String()})
		}
		return VaultRecord{}, err
	}
	return record, nil
}

func (s *Service) loadFresh(ctx context.Context, address Address) (VaultRecord, error) {
	if fresh, ok := s.vaults.(FreshVaultLoader); ok {
		return fresh.LoadFresh(ctx, address)
	}
	return s.vaults.Load(ctx, address)
}

// openCustodyAccount provisions the vault's custody account. An account left
// by an earlier attempt whose vault record was never stored is reused when it
// already has the expected owner and asset.
func (s *Service) openCustodyAccount(ctx context.Context, req OpenAccountRequest) error {
	_, openErr := s.custody.OpenAccount(ctx, req)
	if openErr == nil {
		return nil
	}
	existing, err := s.custody.Account(ctx, req.Address)
	if err != nil {
		return openErr
	}
	if existing.Owner != req.Owner || existing.AssetID != req.AssetID {
		return fmt.Errorf("core: custody account %s is already provisioned for another vault: %w", req.Address, openErr)
	}
	s.logInfo(ctx, "reusing provisioned custody account", map[string]any{
		"vault":           req.Owner.String(),
		"custody_account": req.Address.String(),
	})
	return nil
}

func (s *Service) transfer(ctx context.Context, req TransferRequest) error {
	if err := s.custody.Transfer(ctx, req); err != nil {
		return &TransferError{
			Source:      req.Source,
			Destination: req.Destination,
			Amount:      req.Amount,
			Err:         err,
		}
	}
	return nil
}

func (s *Service) lockVault(ctx context.Context, vault Address) (func(), error) {
	acquireCtx := ctx
	if timeout := s.config.Lock.Timeout(); timeout > 0 {
		var cancel context.CancelFunc
		acquireCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	handle, err := s.locker.Acquire(acquireCtx, vault)
	if err != nil {
		return nil, &LockError{Vault: vault, Err: err}
	}
	return func() {
		if unlockErr := handle.Unlock(context.WithoutCancel(ctx)); unlockErr != nil {
			s.logError(ctx, "vault unlock failed", map[string]any{
				"vault": vault.String(),
				"error": unlockErr.Error(),
			})
		}
	}, nil
}

// appendEvent records the audit entry for a mutation that already applied.
// Custody transfers cannot be undone here, so a failure is only reported.
func (s *Service) appendEvent(ctx context.Context, vault Address, event VaultEvent) error {
	if _, err := s.events.Append(ctx, EventRecord{
		Vault:      vault,
		Name:       event.EventName(),
		Payload:    event,
		OccurredAt: event.OccurredAt(),
	}); err != nil {
		return &AppendError{Event: event.EventName(), Err: err}
	}
	return nil
}

// appendOrRestore appends the audit entry for a record change and saves
// previous back when the append fails.
func (s *Service) appendOrRestore(ctx context.Context, previous VaultRecord, event VaultEvent) error {
	err := s.appendEvent(ctx, previous.Address, event)
	if err == nil {
		return nil
	}
	appendErr := err.(*AppendError)
	if restoreErr := s.vaults.Save(context.WithoutCancel(ctx), previous); restoreErr != nil {
		s.logError(ctx, "vault restore failed", map[string]any{
			"vault": previous.Address.String(),
			"event": event.EventName(),
			"error": restoreErr.Error(),
		})
		return errors.Join(appendErr, fmt.Errorf("core: restore vault %s: %w", previous.Address, restoreErr))
	}
	appendErr.RolledBack = true
	return appendErr
}
