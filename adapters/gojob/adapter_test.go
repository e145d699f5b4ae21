package gojob

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
	"github.com/goliatone/go-job/queue/worker"
	treasury "github.com/goliatone/go-treasury"
	"github.com/goliatone/go-treasury/core"
	"github.com/goliatone/go-treasury/custody"
)

func jobIdentity(label string) core.Address {
	seed := sha256.Sum256([]byte("gojob:" + label))
	pub := ed25519.NewKeyFromSeed(seed[:]).Public().(ed25519.PublicKey)
	var out core.Address
	copy(out[:], pub)
	return out
}

func TestNackRetryPolicyBoundaries(t *testing.T) {
	policy := RetryPolicy{
		MaxAttempts:     3,
		MaxDelay:        10 * time.Second,
		DeadLetterOnMax: true,
	}

	first := policy.NormalizeAttempt(queue.NackOptions{
		Delay:   30 * time.Second,
		Requeue: true,
		Reason:  " transient ",
	}, 1)
	if first.Delay != 10*time.Second {
		t.Fatalf("expected delay to be bounded, got %s", first.Delay)
	}
	if !first.Requeue {
		t.Fatalf("expected message to be requeued before max attempts")
	}
	if first.Reason != "transient" {
		t.Fatalf("expected trimmed reason, got %q", first.Reason)
	}

	last := policy.NormalizeAttempt(queue.NackOptions{Delay: time.Second, Requeue: true}, 3)
	if last.Requeue {
		t.Fatalf("expected no requeue once max attempts is reached")
	}
	if !last.DeadLetter {
		t.Fatalf("expected dead letter on max attempts")
	}

	deadLetter := policy.NormalizeAttempt(queue.NackOptions{Requeue: true, DeadLetter: true}, 1)
	if deadLetter.Requeue || !deadLetter.DeadLetter {
		t.Fatalf("expected explicit dead letter to win, got %#v", deadLetter)
	}
}

func TestRetryPolicyBackoff(t *testing.T) {
	policy := RetryPolicy{BaseDelay: time.Second, MaxDelay: 5 * time.Second}
	cases := map[int]time.Duration{1: time.Second, 2: 2 * time.Second, 3: 4 * time.Second, 4: 5 * time.Second, 9: 5 * time.Second}
	for attempt, want := range cases {
		if got := policy.delayFor(attempt); got != want {
			t.Fatalf("attempt %d: expected %s, got %s", attempt, want, got)
		}
	}
	if got := (RetryPolicy{}).delayFor(3); got != 0 {
		t.Fatalf("expected zero delay without a base, got %s", got)
	}
}

func TestJobBuildersCarryExactAmounts(t *testing.T) {
	req := core.DepositRequest{
		Vault:          jobIdentity("vault"),
		Depositor:      jobIdentity("depositor"),
		SourceAccount:  jobIdentity("source"),
		CustodyAccount: jobIdentity("custody"),
		Amount:         1<<60 + 1,
	}
	msg := DepositJob(" dep-1 ", req)
	if msg.JobID != JobIDDeposit || msg.ScriptPath != JobIDDeposit {
		t.Fatalf("expected deposit job id, got %q/%q", msg.JobID, msg.ScriptPath)
	}
	if msg.IdempotencyKey != "dep-1" {
		t.Fatalf("expected trimmed idempotency key, got %q", msg.IdempotencyKey)
	}

	service := &stubService{}
	runner := newStubRunner(t, service)
	if err := runner.Execute(context.Background(), msg); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if service.deposit != req {
		t.Fatalf("expected decoded request %#v, got %#v", req, service.deposit)
	}
}

func TestRunnerExecute_RejectsMalformedJobs(t *testing.T) {
	runner := newStubRunner(t, &stubService{})
	valid := jobIdentity("vault").String()

	cases := []struct {
		name string
		msg  *job.ExecutionMessage
	}{
		{name: "nil", msg: nil},
		{name: "unknown job", msg: &job.ExecutionMessage{JobID: "treasury.vault.unknown"}},
		{name: "missing vault", msg: &job.ExecutionMessage{JobID: JobIDTransferAuthority, Parameters: map[string]any{}}},
		{name: "bad address", msg: &job.ExecutionMessage{JobID: JobIDSetAllocation, Parameters: map[string]any{
			paramVault: "0OIl", paramAuthority: valid, paramBps: "10",
		}}},
		{name: "bps overflow", msg: &job.ExecutionMessage{JobID: JobIDSetAllocation, Parameters: map[string]any{
			paramVault: valid, paramAuthority: valid, paramBps: "70000",
		}}},
		{name: "lossy float amount", msg: &job.ExecutionMessage{JobID: JobIDDeposit, Parameters: map[string]any{
			paramVault: valid, paramDepositor: valid, paramSourceAccount: valid, paramCustodyAccount: valid,
			paramAmount: float64(1 << 60),
		}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := runner.Execute(context.Background(), tc.msg)
			if !errors.Is(err, ErrMalformedJob) {
				t.Fatalf("expected malformed job error, got %v", err)
			}
		})
	}
}

func TestRunnerProcess_AcksSuccessfulDeposit(t *testing.T) {
	ctx := context.Background()
	ledger := custody.NewMemoryLedger()
	svc, err := treasury.NewService(
		treasury.Config{ProgramID: jobIdentity("program").String()},
		treasury.WithTokenCustody(ledger),
	)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	facade, err := treasury.NewFacade(svc, treasury.WithReplayLedger(core.NewMemoryReplayLedger(time.Minute), time.Minute))
	if err != nil {
		t.Fatalf("new facade: %v", err)
	}
	runner, err := NewRunner(facade)
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}

	asset := jobIdentity("usdc")
	vault, err := svc.Initialize(ctx, core.InitializeRequest{Authority: jobIdentity("authority"), AssetID: asset})
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	depositor := jobIdentity("depositor")
	source := jobIdentity("depositor-account")
	if _, err := ledger.OpenAccount(ctx, core.OpenAccountRequest{Address: source, Owner: depositor, AssetID: asset}); err != nil {
		t.Fatalf("open source: %v", err)
	}
	if err := ledger.Mint(ctx, source, 500); err != nil {
		t.Fatalf("mint: %v", err)
	}

	msg := DepositJob("dep-1", core.DepositRequest{
		Vault:          vault.Address,
		Depositor:      depositor,
		SourceAccount:  source,
		CustodyAccount: vault.CustodyAccount,
		Amount:         200,
	})
	enqueuer := &stubQueueEnqueuer{}
	if err := NewEnqueuerAdapter(enqueuer).Enqueue(ctx, msg); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	delivery := &stubQueueDelivery{msg: enqueuer.last}
	if err := runner.ProcessNext(ctx, &stubQueueDequeuer{delivery: delivery}); err != nil {
		t.Fatalf("process: %v", err)
	}
	if !delivery.acked {
		t.Fatalf("expected delivery to be acked")
	}
	balance, err := svc.GetBalance(ctx, core.GetBalanceRequest{Vault: vault.Address})
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.Amount != 200 {
		t.Fatalf("expected balance 200, got %d", balance.Amount)
	}

	redelivered := &stubQueueDelivery{msg: enqueuer.last}
	if err := runner.Process(ctx, redelivered); err == nil {
		t.Fatalf("expected redelivered job to be rejected as duplicate")
	}
	if !redelivered.nackOpts.DeadLetter {
		t.Fatalf("expected duplicate delivery to be dead lettered")
	}
	balance, _ = svc.GetBalance(ctx, core.GetBalanceRequest{Vault: vault.Address})
	if balance.Amount != 200 {
		t.Fatalf("expected duplicate delivery to leave balance at 200, got %d", balance.Amount)
	}
}

func TestRunnerProcess_DeadLettersVaultRejections(t *testing.T) {
	service := &stubService{err: &core.VaultError{Kind: core.KindUnauthorized}}
	runner := newStubRunner(t, service)

	delivery := &stubQueueDelivery{msg: SetAllocationJob("alloc-1", core.SetAllocationRequest{
		Vault: jobIdentity("vault"), Authority: jobIdentity("intruder"), Bps: 100,
	})}
	err := runner.Process(context.Background(), delivery)
	if !errors.Is(err, core.ErrUnauthorized) {
		t.Fatalf("expected unauthorized error, got %v", err)
	}
	if delivery.acked {
		t.Fatalf("expected rejected job not to be acked")
	}
	if delivery.nackOpts.Requeue || !delivery.nackOpts.DeadLetter {
		t.Fatalf("expected dead letter without requeue, got %#v", delivery.nackOpts)
	}
}

func TestRunnerProcess_RetriesTransientFailuresUntilMax(t *testing.T) {
	service := &stubService{err: errors.New("custody: ledger unavailable")}
	runner := newStubRunner(t, service, WithRetryPolicy(RetryPolicy{
		MaxAttempts:     2,
		BaseDelay:       time.Second,
		MaxDelay:        time.Minute,
		DeadLetterOnMax: true,
	}))
	msg := TransferAuthorityJob("transfer-1", core.TransferAuthorityRequest{
		Vault: jobIdentity("vault"), Authority: jobIdentity("authority"), NewAuthority: jobIdentity("successor"),
	})

	first := &stubQueueDelivery{msg: msg}
	if err := runner.Process(context.Background(), first); err == nil {
		t.Fatalf("expected transient failure")
	}
	if !first.nackOpts.Requeue || first.nackOpts.DeadLetter {
		t.Fatalf("expected first failure to requeue, got %#v", first.nackOpts)
	}
	if first.nackOpts.Delay != time.Second {
		t.Fatalf("expected first retry delay 1s, got %s", first.nackOpts.Delay)
	}
	if !strings.Contains(first.nackOpts.Reason, "ledger unavailable") {
		t.Fatalf("expected failure reason, got %q", first.nackOpts.Reason)
	}

	second := &stubQueueDelivery{msg: msg}
	_ = runner.Process(context.Background(), second)
	if second.nackOpts.Requeue || !second.nackOpts.DeadLetter {
		t.Fatalf("expected dead letter once attempts are exhausted, got %#v", second.nackOpts)
	}
	if service.transfers != 2 {
		t.Fatalf("expected two transfer attempts, got %d", service.transfers)
	}
}

func TestRunnerProcess_RetriesRefusedTransferWithReplayLedger(t *testing.T) {
	ctx := context.Background()
	ledger := &flakyCustody{MemoryLedger: custody.NewMemoryLedger()}
	svc, err := treasury.NewService(
		treasury.Config{ProgramID: jobIdentity("program").String()},
		treasury.WithTokenCustody(ledger),
	)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	replay := core.NewMemoryReplayLedger(time.Minute)
	facade, err := treasury.NewFacade(svc, treasury.WithReplayLedger(replay, time.Minute))
	if err != nil {
		t.Fatalf("new facade: %v", err)
	}
	runner, err := NewRunner(facade, WithRetryPolicy(RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxDelay:    time.Minute,
	}))
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}

	authority := jobIdentity("authority")
	asset := jobIdentity("usdc")
	vault, err := svc.Initialize(ctx, core.InitializeRequest{Authority: authority, AssetID: asset})
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if err := ledger.Mint(ctx, vault.CustodyAccount, 900); err != nil {
		t.Fatalf("mint custody: %v", err)
	}
	recipient := jobIdentity("recipient")
	recipientAccount := jobIdentity("recipient-account")
	if _, err := ledger.OpenAccount(ctx, core.OpenAccountRequest{Address: recipientAccount, Owner: recipient, AssetID: asset}); err != nil {
		t.Fatalf("open recipient: %v", err)
	}

	ledger.failTransfers(1, errors.New("custody: ledger unavailable"))
	msg := WithdrawJob("wd-1", core.WithdrawRequest{
		Vault:            vault.Address,
		Authority:        authority,
		Recipient:        recipient,
		RecipientAccount: recipientAccount,
		CustodyAccount:   vault.CustodyAccount,
		Amount:           400,
	})

	first := &stubQueueDelivery{msg: msg}
	err = runner.Process(ctx, first)
	var transferErr *core.TransferError
	if !errors.As(err, &transferErr) {
		t.Fatalf("expected refused transfer on first attempt, got %v", err)
	}
	if !first.nackOpts.Requeue || first.nackOpts.DeadLetter {
		t.Fatalf("expected refused transfer to requeue, got %#v", first.nackOpts)
	}
	if replay.Len() != 0 {
		t.Fatalf("expected refused transfer to release its replay claim")
	}

	second := &stubQueueDelivery{msg: msg}
	if err := runner.Process(ctx, second); err != nil {
		t.Fatalf("expected redelivery to succeed, got %v", err)
	}
	if !second.acked {
		t.Fatalf("expected redelivery to be acked")
	}
	balance, err := svc.GetBalance(ctx, core.GetBalanceRequest{Vault: vault.Address})
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.Amount != 500 {
		t.Fatalf("expected a single withdrawal to leave 500, got %d", balance.Amount)
	}

	third := &stubQueueDelivery{msg: msg}
	if err := runner.Process(ctx, third); err == nil {
		t.Fatalf("expected delivery after success to be a duplicate")
	}
	if !third.nackOpts.DeadLetter {
		t.Fatalf("expected duplicate after success to be dead lettered")
	}
	if recipientBalance, _ := ledger.Account(ctx, recipientAccount); recipientBalance.Amount != 400 {
		t.Fatalf("expected recipient to receive 400 once, got %d", recipientBalance.Amount)
	}
}

func TestIsPermanent(t *testing.T) {
	if IsPermanent(nil) {
		t.Fatalf("nil is not a failure")
	}
	if !IsPermanent(&core.VaultError{Kind: core.KindZeroAmount}) {
		t.Fatalf("vault rejections are permanent")
	}
	if IsPermanent(errors.New("connection reset")) {
		t.Fatalf("plain errors are retried")
	}
	if IsPermanent(&core.TransferError{Err: errors.New("custody: ledger unavailable")}) {
		t.Fatalf("refused transfers are retried")
	}
	if IsPermanent(&core.LockError{Err: context.DeadlineExceeded}) {
		t.Fatalf("lock timeouts are retried")
	}
}

func TestMetricsHookRecordsWorkerEvents(t *testing.T) {
	recorder := &capturingRecorder{}
	hook := NewMetricsHook(recorder)

	event := worker.Event{
		Message:  &job.ExecutionMessage{JobID: JobIDWithdraw},
		Attempt:  2,
		Err:      &core.VaultError{Kind: core.KindInsufficientBalance},
		Duration: 250 * time.Millisecond,
	}
	hook.OnStart(context.Background(), event)
	hook.OnFailure(context.Background(), event)

	if got := recorder.counters["treasury.job.failed"]; got != 1 {
		t.Fatalf("expected one failure count, got %d", got)
	}
	if got := recorder.counters["treasury.job.started"]; got != 1 {
		t.Fatalf("expected one start count, got %d", got)
	}
	if recorder.lastTags["job_id"] != JobIDWithdraw || recorder.lastTags["attempt"] != "2" {
		t.Fatalf("unexpected tags %#v", recorder.lastTags)
	}
	if recorder.lastTags["permanent"] != "true" {
		t.Fatalf("expected permanent tag, got %#v", recorder.lastTags)
	}
	if recorder.histograms["treasury.job.duration_ms"] != 250 {
		t.Fatalf("expected duration 250ms, got %v", recorder.histograms["treasury.job.duration_ms"])
	}
}

func newStubRunner(t *testing.T, service *stubService, opts ...RunnerOption) *Runner {
	t.Helper()
	facade, err := treasury.NewFacade(service)
	if err != nil {
		t.Fatalf("new facade: %v", err)
	}
	runner, err := NewRunner(facade, opts...)
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}
	return runner
}

type stubService struct {
	err       error
	deposit   core.DepositRequest
	transfers int
}

func (s *stubService) Initialize(context.Context, core.InitializeRequest) (core.VaultRecord, error) {
	return core.VaultRecord{}, s.err
}

func (s *stubService) Deposit(_ context.Context, req core.DepositRequest) error {
	s.deposit = req
	return s.err
}

func (s *stubService) Withdraw(context.Context, core.WithdrawRequest) error { return s.err }

func (s *stubService) SetTargetAllocation(context.Context, core.SetAllocationRequest) error {
	return s.err
}

func (s *stubService) TransferAuthority(context.Context, core.TransferAuthorityRequest) error {
	s.transfers++
	return s.err
}

func (s *stubService) GetBalance(context.Context, core.GetBalanceRequest) (core.Balance, error) {
	return core.Balance{}, s.err
}

func (s *stubService) GetVault(context.Context, core.Address) (core.VaultRecord, error) {
	return core.VaultRecord{}, s.err
}

func (s *stubService) ListEvents(context.Context, core.EventFilter) ([]core.EventRecord, error) {
	return nil, s.err
}

// flakyCustody refuses the next n transfers before delegating to the ledger.
type flakyCustody struct {
	*custody.MemoryLedger
	mu      sync.Mutex
	pending int
	err     error
}

func (c *flakyCustody) failTransfers(n int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = n
	c.err = err
}

func (c *flakyCustody) Transfer(ctx context.Context, req core.TransferRequest) error {
	c.mu.Lock()
	if c.pending > 0 {
		c.pending--
		err := c.err
		c.mu.Unlock()
		return err
	}
	c.mu.Unlock()
	return c.MemoryLedger.Transfer(ctx, req)
}

type stubQueueEnqueuer struct {
	last *job.ExecutionMessage
}

func (s *stubQueueEnqueuer) Enqueue(_ context.Context, msg *job.ExecutionMessage) error {
	s.last = msg
	return nil
}

type stubQueueDequeuer struct {
	delivery queue.Delivery
}

func (s *stubQueueDequeuer) Dequeue(context.Context) (queue.Delivery, error) {
	return s.delivery, nil
}

type stubQueueDelivery struct {
	msg      *job.ExecutionMessage
	acked    bool
	nackOpts queue.NackOptions
}

func (s *stubQueueDelivery) Message() *job.ExecutionMessage {
	return s.msg
}

func (s *stubQueueDelivery) Ack(context.Context) error {
	s.acked = true
	return nil
}

func (s *stubQueueDelivery) Nack(_ context.Context, opts queue.NackOptions) error {
	s.nackOpts = opts
	return nil
}

type capturingRecorder struct {
	mu         sync.Mutex
	counters   map[string]int64
	histograms map[string]float64
	lastTags   map[string]string
}

func (r *capturingRecorder) IncCounter(_ context.Context, name string, value int64, tags map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.counters == nil {
		r.counters = map[string]int64{}
	}
	r.counters[name] += value
	r.lastTags = tags
}

func (r *capturingRecorder) ObserveHistogram(_ context.Context, name string, value float64, tags map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.histograms == nil {
		r.histograms = map[string]float64{}
	}
	r.histograms[name] = value
	r.lastTags = tags
}
