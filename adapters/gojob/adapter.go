package gojob

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
	"github.com/goliatone/go-job/queue/worker"
	glog "github.com/goliatone/go-logger/glog"
	treasury "github.com/goliatone/go-treasury"
	"github.com/goliatone/go-treasury/adapters/gologger"
	treasurycommand "github.com/goliatone/go-treasury/command"
	"github.com/goliatone/go-treasury/core"
)

const (
	JobIDDeposit           = "treasury.vault.deposit"
	JobIDWithdraw          = "treasury.vault.withdraw"
	JobIDSetAllocation     = "treasury.vault.allocation.set"
	JobIDTransferAuthority = "treasury.vault.authority.transfer"
)

const (
	paramVault            = "vault"
	paramDepositor        = "depositor"
	paramSourceAccount    = "source_account"
	paramCustodyAccount   = "custody_account"
	paramAuthority        = "authority"
	paramRecipient        = "recipient"
	paramRecipientAccount = "recipient_account"
	paramNewAuthority     = "new_authority"
	paramAmount           = "amount"
	paramBps              = "bps"
)

const LoggerName = "treasury.jobs"

// ErrMalformedJob marks messages that can never succeed on retry.
var ErrMalformedJob = errors.New("gojob: malformed vault job")

// RetryPolicy defines queue retry bounds to avoid unbounded retry loops.
type RetryPolicy struct {
	MaxAttempts     int
	BaseDelay       time.Duration
	MaxDelay        time.Duration
	DeadLetterOnMax bool
}

// NormalizeAttempt enforces bounded retry behavior for a nack operation.
func (p RetryPolicy) NormalizeAttempt(opts queue.NackOptions, attempt int) queue.NackOptions {
	out := opts
	out.Reason = strings.TrimSpace(out.Reason)
	if out.Delay < 0 {
		out.Delay = 0
	}
	if p.MaxDelay > 0 && out.Delay > p.MaxDelay {
		out.Delay = p.MaxDelay
	}
	if out.DeadLetter {
		out.Requeue = false
	}
	if p.MaxAttempts > 0 && attempt >= p.MaxAttempts {
		out.Requeue = false
		if p.DeadLetterOnMax || out.DeadLetter {
			out.DeadLetter = true
		}
	}
	if !out.Requeue && !out.DeadLetter {
		out.Requeue = true
	}
	return out
}

func (p RetryPolicy) delayFor(attempt int) time.Duration {
	if p.BaseDelay <= 0 {
		return 0
	}
	delay := p.BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if p.MaxDelay > 0 && delay >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	return delay
}

func DepositJob(requestID string, req core.DepositRequest) *job.ExecutionMessage {
	return newExecutionMessage(JobIDDeposit, requestID, map[string]any{
		paramVault:          req.Vault.String(),
		paramDepositor:      req.Depositor.String(),
		paramSourceAccount:  req.SourceAccount.String(),
		paramCustodyAccount: req.CustodyAccount.String(),
		paramAmount:         strconv.FormatUint(req.Amount, 10),
	})
}

func WithdrawJob(requestID string, req core.WithdrawRequest) *job.ExecutionMessage {
	return newExecutionMessage(JobIDWithdraw, requestID, map[string]any{
		paramVault:            req.Vault.String(),
		paramAuthority:        req.Authority.String(),
		paramRecipient:        req.Recipient.String(),
		paramRecipientAccount: req.RecipientAccount.String(),
		paramCustodyAccount:   req.CustodyAccount.String(),
		paramAmount:           strconv.FormatUint(req.Amount, 10),
	})
}

func SetAllocationJob(requestID string, req core.SetAllocationRequest) *job.ExecutionMessage {
	return newExecutionMessage(JobIDSetAllocation, requestID, map[string]any{
		paramVault:     req.Vault.String(),
		paramAuthority: req.Authority.String(),
		paramBps:       strconv.FormatUint(uint64(req.Bps), 10),
	})
}

func TransferAuthorityJob(requestID string, req core.TransferAuthorityRequest) *job.ExecutionMessage {
	return newExecutionMessage(JobIDTransferAuthority, requestID, map[string]any{
		paramVault:        req.Vault.String(),
		paramAuthority:    req.Authority.String(),
		paramNewAuthority: req.NewAuthority.String(),
	})
}

func newExecutionMessage(jobID string, requestID string, params map[string]any) *job.ExecutionMessage {
	return &job.ExecutionMessage{
		JobID:          jobID,
		ScriptPath:     jobID,
		Parameters:     params,
		IdempotencyKey: strings.TrimSpace(requestID),
	}
}

// EnqueuerAdapter submits vault jobs to a go-job queue.
type EnqueuerAdapter struct {
	enqueuer queue.Enqueuer
}

func NewEnqueuerAdapter(enqueuer queue.Enqueuer) *EnqueuerAdapter {
	return &EnqueuerAdapter{enqueuer: enqueuer}
}

func (a *EnqueuerAdapter) Enqueue(ctx context.Context, msg *job.ExecutionMessage) error {
	if a == nil || a.enqueuer == nil {
		return fmt.Errorf("gojob: enqueuer is not configured")
	}
	if msg == nil {
		return fmt.Errorf("gojob: execution message is required")
	}
	if !knownJob(msg.JobID) {
		return fmt.Errorf("%w: unknown job id %q", ErrMalformedJob, msg.JobID)
	}
	return a.enqueuer.Enqueue(ctx, msg)
}

type RunnerOption func(*Runner)

func WithRetryPolicy(policy RetryPolicy) RunnerOption {
	return func(r *Runner) {
		r.policy = policy
	}
}

func WithLogger(logger glog.Logger) RunnerOption {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithLoggerProvider resolves the runner logger by name from a provider.
func WithLoggerProvider(provider glog.LoggerProvider) RunnerOption {
	return func(r *Runner) {
		_, r.logger = gologger.Resolve(LoggerName, provider, r.logger)
	}
}

// Runner executes queued vault jobs through the facade commands, so job
// idempotency keys flow into the command replay guard.
type Runner struct {
	commands treasury.Commands
	policy   RetryPolicy
	logger   glog.Logger

	mu       sync.Mutex
	attempts map[string]int
}

func NewRunner(facade *treasury.Facade, opts ...RunnerOption) (*Runner, error) {
	if facade == nil {
		return nil, fmt.Errorf("gojob: treasury facade is required")
	}
	runner := &Runner{
		commands: facade.Commands(),
		logger:   glog.Nop(),
		attempts: map[string]int{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(runner)
		}
	}
	return runner, nil
}

// Execute decodes and runs a single vault job.
func (r *Runner) Execute(ctx context.Context, msg *job.ExecutionMessage) error {
	if msg == nil {
		return fmt.Errorf("%w: execution message is required", ErrMalformedJob)
	}
	params := jobParams(msg.Parameters)
	requestID := strings.TrimSpace(msg.IdempotencyKey)

	switch strings.TrimSpace(msg.JobID) {
	case JobIDDeposit:
		req := core.DepositRequest{
			Vault:          params.address(paramVault),
			Depositor:      params.address(paramDepositor),
			SourceAccount:  params.address(paramSourceAccount),
			CustodyAccount: params.address(paramCustodyAccount),
			Amount:         params.unsigned(paramAmount, math.MaxUint64),
		}
		if params.err != nil {
			return params.err
		}
		return r.commands.Deposit.Execute(ctx, treasurycommand.DepositMessage{RequestID: requestID, Request: req})
	case JobIDWithdraw:
		req := core.WithdrawRequest{
			Vault:            params.address(paramVault),
			Authority:        params.address(paramAuthority),
			Recipient:        params.address(paramRecipient),
			RecipientAccount: params.address(paramRecipientAccount),
			CustodyAccount:   params.address(paramCustodyAccount),
			Amount:           params.unsigned(paramAmount, math.MaxUint64),
		}
		if params.err != nil {
			return params.err
		}
		return r.commands.Withdraw.Execute(ctx, treasurycommand.WithdrawMessage{RequestID: requestID, Request: req})
	case JobIDSetAllocation:
		req := core.SetAllocationRequest{
			Vault:     params.address(paramVault),
			Authority: params.address(paramAuthority),
			Bps:       uint16(params.unsigned(paramBps, math.MaxUint16)),
		}
		if params.err != nil {
			return params.err
		}
		return r.commands.SetAllocation.Execute(ctx, treasurycommand.SetAllocationMessage{RequestID: requestID, Request: req})
	case JobIDTransferAuthority:
		req := core.TransferAuthorityRequest{
			Vault:        params.address(paramVault),
			Authority:    params.address(paramAuthority),
			NewAuthority: params.address(paramNewAuthority),
		}
		if params.err != nil {
			return params.err
		}
		return r.commands.TransferAuthority.Execute(ctx, treasurycommand.TransferAuthorityMessage{RequestID: requestID, Request: req})
	default:
		return fmt.Errorf("%w: unknown job id %q", ErrMalformedJob, msg.JobID)
	}
}

// Process runs a delivery and settles it. Rejected or malformed jobs go to
// the dead letter queue; anything else is retried under the policy.
func (r *Runner) Process(ctx context.Context, delivery queue.Delivery) error {
	if r == nil {
		return fmt.Errorf("gojob: runner is not configured")
	}
	if delivery == nil {
		return fmt.Errorf("gojob: delivery is required")
	}
	msg := delivery.Message()
	key := attemptKey(msg)

	err := r.Execute(ctx, msg)
	if err == nil {
		r.forget(key)
		return delivery.Ack(ctx)
	}

	attempt := r.recordAttempt(key)
	opts := queue.NackOptions{
		Requeue: true,
		Delay:   r.policy.delayFor(attempt),
		Reason:  err.Error(),
	}
	if IsPermanent(err) {
		opts.Requeue = false
		opts.DeadLetter = true
	}
	opts = r.policy.NormalizeAttempt(opts, attempt)
	if !opts.Requeue {
		r.forget(key)
	}

	r.logger.Warn("vault job failed",
		"job_id", jobID(msg),
		"attempt", attempt,
		"requeue", opts.Requeue,
		"dead_letter", opts.DeadLetter,
		"error", err,
	)
	if nackErr := delivery.Nack(ctx, opts); nackErr != nil {
		return errors.Join(err, nackErr)
	}
	return err
}

// ProcessNext dequeues and processes one delivery.
func (r *Runner) ProcessNext(ctx context.Context, dequeuer queue.Dequeuer) error {
	if dequeuer == nil {
		return fmt.Errorf("gojob: dequeuer is not configured")
	}
	delivery, err := dequeuer.Dequeue(ctx)
	if err != nil {
		return err
	}
	return r.Process(ctx, delivery)
}

func (r *Runner) recordAttempt(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts[key]++
	return r.attempts[key]
}

func (r *Runner) forget(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.attempts, key)
}

// IsPermanent reports errors a retry cannot fix: vault rejections,
// malformed payloads, validation failures and duplicate requests.
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrMalformedJob) {
		return true
	}
	var vaultErr *core.VaultError
	if errors.As(err, &vaultErr) {
		return true
	}
	var rich *goerrors.Error
	if goerrors.As(err, &rich) {
		return rich.Category == goerrors.CategoryValidation || rich.Category == goerrors.CategoryConflict
	}
	return false
}

// MetricsHook reports worker lifecycle events as vault job metrics.
type MetricsHook struct {
	recorder core.MetricsRecorder
}

func NewMetricsHook(recorder core.MetricsRecorder) *MetricsHook {
	if recorder == nil {
		recorder = core.NopMetricsRecorder{}
	}
	return &MetricsHook{recorder: recorder}
}

func (h *MetricsHook) OnStart(ctx context.Context, event worker.Event) {
	h.count(ctx, "treasury.job.started", event)
}

func (h *MetricsHook) OnSuccess(ctx context.Context, event worker.Event) {
	h.count(ctx, "treasury.job.succeeded", event)
	h.observe(ctx, event)
}

func (h *MetricsHook) OnFailure(ctx context.Context, event worker.Event) {
	h.count(ctx, "treasury.job.failed", event)
	h.observe(ctx, event)
}

func (h *MetricsHook) OnRetry(ctx context.Context, event worker.Event) {
	h.count(ctx, "treasury.job.retried", event)
}

func (h *MetricsHook) count(ctx context.Context, name string, event worker.Event) {
	if h == nil || h.recorder == nil {
		return
	}
	h.recorder.IncCounter(ctx, name, 1, eventTags(event))
}

func (h *MetricsHook) observe(ctx context.Context, event worker.Event) {
	if h == nil || h.recorder == nil || event.Duration <= 0 {
		return
	}
	h.recorder.ObserveHistogram(ctx, "treasury.job.duration_ms", float64(event.Duration)/float64(time.Millisecond), eventTags(event))
}

func eventTags(event worker.Event) map[string]string {
	message := event.Message
	if message == nil && event.Delivery != nil {
		message = event.Delivery.Message()
	}
	tags := map[string]string{
		"job_id":  jobID(message),
		"attempt": strconv.Itoa(event.Attempt),
	}
	if event.Err != nil {
		tags["permanent"] = strconv.FormatBool(IsPermanent(event.Err))
	}
	return tags
}

type paramReader struct {
	values map[string]any
	err    error
}

func jobParams(values map[string]any) *paramReader {
	return &paramReader{values: values}
}

func (p *paramReader) address(key string) core.Address {
	if p.err != nil {
		return core.Address{}
	}
	raw, ok := p.values[key].(string)
	if !ok || strings.TrimSpace(raw) == "" {
		p.err = fmt.Errorf("%w: %s is required", ErrMalformedJob, key)
		return core.Address{}
	}
	addr, err := core.ParseAddress(strings.TrimSpace(raw))
	if err != nil {
		p.err = fmt.Errorf("%w: %s: %v", ErrMalformedJob, key, err)
		return core.Address{}
	}
	return addr
}

// unsigned accepts decimal strings and integral numbers. Float payloads above
// 2^53 are refused since they may have lost precision in transit.
func (p *paramReader) unsigned(key string, max uint64) uint64 {
	if p.err != nil {
		return 0
	}
	var (
		value uint64
		err   error
	)
	switch raw := p.values[key].(type) {
	case string:
		value, err = strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
	case uint64:
		value = raw
	case uint16:
		value = uint64(raw)
	case int:
		if raw < 0 {
			err = fmt.Errorf("negative value")
		}
		value = uint64(raw)
	case int64:
		if raw < 0 {
			err = fmt.Errorf("negative value")
		}
		value = uint64(raw)
	case float64:
		if raw < 0 || raw != math.Trunc(raw) || raw > 1<<53 {
			err = fmt.Errorf("not an exact integer")
		}
		value = uint64(raw)
	case nil:
		err = fmt.Errorf("is required")
	default:
		err = fmt.Errorf("unsupported type %T", raw)
	}
	if err == nil && value > max {
		err = fmt.Errorf("exceeds %d", max)
	}
	if err != nil {
		p.err = fmt.Errorf("%w: %s: %v", ErrMalformedJob, key, err)
		return 0
	}
	return value
}

func knownJob(id string) bool {
	switch strings.TrimSpace(id) {
	case JobIDDeposit, JobIDWithdraw, JobIDSetAllocation, JobIDTransferAuthority:
		return true
	default:
		return false
	}
}

func jobID(msg *job.ExecutionMessage) string {
	if msg == nil {
		return ""
	}
	return strings.TrimSpace(msg.JobID)
}

func attemptKey(msg *job.ExecutionMessage) string {
	if msg == nil {
		return ""
	}
	if key := strings.TrimSpace(msg.IdempotencyKey); key != "" {
		return msg.JobID + "::" + key
	}
	return fmt.Sprintf("%s::%p", msg.JobID, msg)
}

var (
	_ worker.Hook = (*MetricsHook)(nil)
)
