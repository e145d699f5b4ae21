package core

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	VaultErrorZeroAmount               = "VAULT_ZERO_AMOUNT"
	VaultErrorInsufficientBalance      = "VAULT_INSUFFICIENT_BALANCE"
	VaultErrorInvalidAllocation        = "VAULT_INVALID_ALLOCATION"
	VaultErrorUnauthorized             = "VAULT_UNAUTHORIZED"
	VaultErrorInvalidTokenAccount      = "VAULT_INVALID_TOKEN_ACCOUNT"
	VaultErrorInvalidMint              = "VAULT_INVALID_MINT"
	VaultErrorInvalidVaultTokenAccount = "VAULT_INVALID_VAULT_TOKEN_ACCOUNT"
	VaultErrorInvalidAuthority         = "VAULT_INVALID_AUTHORITY"
	VaultErrorAlreadyExists            = "VAULT_ALREADY_EXISTS"
	VaultErrorNotFound                 = "VAULT_NOT_FOUND"
	VaultErrorTransferFailed           = "VAULT_TRANSFER_FAILED"
	VaultErrorBadInput                 = "VAULT_BAD_INPUT"
	VaultErrorLockUnavailable          = "VAULT_LOCK_UNAVAILABLE"
	VaultErrorInternal                 = "VAULT_INTERNAL_ERROR"
)

var (
	ErrZeroAmount               = errors.New("core: amount must be greater than zero")
	ErrInsufficientBalance      = errors.New("core: insufficient balance in vault")
	ErrInvalidAllocation        = errors.New("core: invalid allocation: must be between 0 and 10000 basis points")
	ErrUnauthorized             = errors.New("core: unauthorized: only the authority can perform this action")
	ErrInvalidTokenAccount      = errors.New("core: invalid token account owner")
	ErrInvalidMint              = errors.New("core: invalid mint: asset does not match vault")
	ErrInvalidVaultTokenAccount = errors.New("core: invalid vault token account")
	ErrInvalidAuthority         = errors.New("core: new authority is required")
	ErrAlreadyExists            = errors.New("core: vault already exists")
	ErrNotFound                 = errors.New("core: vault not found")
)

// VaultErrorKind identifies one entry of the rejection taxonomy.
type VaultErrorKind struct {
	sentinel error
	textCode string
	category goerrors.Category
	status   int
	number   int
}

var (
	KindZeroAmount               = VaultErrorKind{ErrZeroAmount, VaultErrorZeroAmount, goerrors.CategoryBadInput, http.StatusBadRequest, 6000}
	KindInsufficientBalance      = VaultErrorKind{ErrInsufficientBalance, VaultErrorInsufficientBalance, goerrors.CategoryOperation, http.StatusUnprocessableEntity, 6001}
	KindInvalidAllocation        = VaultErrorKind{ErrInvalidAllocation, VaultErrorInvalidAllocation, goerrors.CategoryValidation, http.StatusBadRequest, 6002}
	KindUnauthorized             = VaultErrorKind{ErrUnauthorized, VaultErrorUnauthorized, goerrors.CategoryAuthz, http.StatusForbidden, 6003}
	KindInvalidTokenAccount      = VaultErrorKind{ErrInvalidTokenAccount, VaultErrorInvalidTokenAccount, goerrors.CategoryBadInput, http.StatusBadRequest, 6004}
	KindInvalidMint              = VaultErrorKind{ErrInvalidMint, VaultErrorInvalidMint, goerrors.CategoryBadInput, http.StatusBadRequest, 6005}
	KindInvalidVaultTokenAccount = VaultErrorKind{ErrInvalidVaultTokenAccount, VaultErrorInvalidVaultTokenAccount, goerrors.CategoryBadInput, http.StatusBadRequest, 6006}
	KindInvalidAuthority         = VaultErrorKind{ErrInvalidAuthority, VaultErrorInvalidAuthority, goerrors.CategoryBadInput, http.StatusBadRequest, 0}
	KindAlreadyExists            = VaultErrorKind{ErrAlreadyExists, VaultErrorAlreadyExists, goerrors.CategoryConflict, http.StatusConflict, 0}
	KindNotFound                 = VaultErrorKind{ErrNotFound, VaultErrorNotFound, goerrors.CategoryNotFound, http.StatusNotFound, 0}
)

func (k VaultErrorKind) Sentinel() error  { return k.sentinel }
func (k VaultErrorKind) TextCode() string { return k.textCode }

// Number returns the program error code (6000+) or 0 for kinds that only
// exist at the service boundary.
func (k VaultErrorKind) Number() int { return k.number }

// VaultError is a typed rejection. errors.Is matches its kind's sentinel and
// the optional cause.
type VaultError struct {
	Kind     VaultErrorKind
	Message  string
	Metadata map[string]any
	Cause    error
}

func newVaultError(kind VaultErrorKind, metadata map[string]any) *VaultError {
	return &VaultError{Kind: kind, Metadata: metadata}
}

func (e *VaultError) Error() string {
	if e == nil {
		return ""
	}
	message := e.Message
	if strings.TrimSpace(message) == "" && e.Kind.sentinel != nil {
		message = e.Kind.sentinel.Error()
	}
	if e.Cause != nil {
		return message + ": " + e.Cause.Error()
	}
	return message
}

func (e *VaultError) Unwrap() error {
	if e == nil {
		return nil
	}
	if e.Cause == nil {
		return e.Kind.sentinel
	}
	return errors.Join(e.Kind.sentinel, e.Cause)
}

func (e *VaultError) ToServiceError() *goerrors.Error {
	if e == nil {
		return nil
	}
	out := goerrors.New(e.Error(), e.Kind.category).
		WithCode(e.Kind.status).
		WithTextCode(e.Kind.textCode)
	metadata := copyAnyMap(e.Metadata)
	if e.Kind.number > 0 {
		metadata["program_error"] = e.Kind.number
	}
	if len(metadata) > 0 {
		out.WithMetadata(metadata)
	}
	return out
}

// TransferError wraps a custody transfer the adapter refused. Adapters move
// nothing when Transfer fails, so errors.Is still matches the adapter error
// and the request can be retried.
type TransferError struct {
	Source      Address
	Destination Address
	Amount      uint64
	Err         error
}

func (e *TransferError) Error() string {
	if e == nil || e.Err == nil {
		return "core: custody transfer failed"
	}
	return e.Err.Error()
}

func (e *TransferError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func (e *TransferError) ToServiceError() *goerrors.Error {
	if e == nil {
		return nil
	}
	return newServiceError(e.Error(), goerrors.CategoryExternal, VaultErrorTransferFailed).
		WithMetadata(map[string]any{
			"source":      e.Source.String(),
			"destination": e.Destination.String(),
			"amount":      e.Amount,
		})
}

// LockError reports a vault lock that was never acquired.
type LockError struct {
	Vault Address
	Err   error
}

func (e *LockError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("core: vault %s lock unavailable: %v", e.Vault, e.Err)
}

func (e *LockError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// AppendError reports an audit entry that could not be written after the
// mutation was stored. RolledBack is set when the vault record was restored.
type AppendError struct {
	Event      string
	RolledBack bool
	Err        error
}

func (e *AppendError) Error() string {
	if e == nil {
		return ""
	}
	if e.RolledBack {
		return fmt.Sprintf("core: %s event append failed, change rolled back: %v", e.Event, e.Err)
	}
	return fmt.Sprintf("core: %s applied but event append failed: %v", e.Event, e.Err)
}

func (e *AppendError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Unapplied reports whether err is known to have left the vault record and
// its custody balance untouched. Replay guards release their claim for these.
func Unapplied(err error) bool {
	if err == nil {
		return false
	}
	var vaultErr *VaultError
	if errors.As(err, &vaultErr) {
		return true
	}
	var transferErr *TransferError
	if errors.As(err, &transferErr) {
		return true
	}
	var lockErr *LockError
	if errors.As(err, &lockErr) {
		return true
	}
	var appendErr *AppendError
	if errors.As(err, &appendErr) {
		return appendErr.RolledBack
	}
	return false
}

// MapError converts any error returned by the service into the go-errors
// envelope used by transports.
func MapError(err error) *goerrors.Error {
	if err == nil {
		return nil
	}
	var vaultErr *VaultError
	if errors.As(err, &vaultErr) {
		return vaultErr.ToServiceError()
	}
	var transferErr *TransferError
	if errors.As(err, &transferErr) {
		return transferErr.ToServiceError()
	}
	var lockErr *LockError
	if errors.As(err, &lockErr) {
		return newServiceError(lockErr.Error(), goerrors.CategoryConflict, VaultErrorLockUnavailable)
	}
	return serviceErrorMapper(err)
}

func serviceErrorMapper(err error) *goerrors.Error {
	if err == nil {
		return nil
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return ensureServiceErrorEnvelope(richErr)
	}

	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	switch {
	case strings.Contains(msg, "custody:"):
		return newServiceError(err.Error(), goerrors.CategoryExternal, VaultErrorTransferFailed)
	case strings.Contains(msg, "lock"):
		return newServiceError(err.Error(), goerrors.CategoryConflict, VaultErrorLockUnavailable)
	case strings.Contains(msg, "required"), strings.Contains(msg, "invalid"):
		return newServiceError(err.Error(), goerrors.CategoryBadInput, VaultErrorBadInput)
	}

	mapped := goerrors.MapToError(err, goerrors.DefaultErrorMappers())
	return ensureServiceErrorEnvelope(mapped)
}

func newServiceError(message string, category goerrors.Category, textCode string) *goerrors.Error {
	return ensureServiceErrorEnvelope(
		goerrors.New(message, category).
			WithTextCode(textCode),
	)
}

func ensureServiceErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = serviceHTTPStatus(err.Category)
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = defaultServiceTextCode(err.Category)
	}
	if err.Category == goerrors.CategoryInternal && strings.TrimSpace(err.Message) == "" {
		err.Message = "An unexpected error occurred"
	}
	return err
}

func defaultServiceTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return VaultErrorBadInput
	case goerrors.CategoryNotFound:
		return VaultErrorNotFound
	case goerrors.CategoryAuth, goerrors.CategoryAuthz:
		return VaultErrorUnauthorized
	case goerrors.CategoryConflict:
		return VaultErrorAlreadyExists
	case goerrors.CategoryExternal:
		return VaultErrorTransferFailed
	default:
		return VaultErrorInternal
	}
}

func serviceHTTPStatus(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryConflict:
		return http.StatusConflict
	case goerrors.CategoryExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func copyAnyMap(in map[string]any) map[string]any {
	if len(in) == 0 {
		return map[string]any{}
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}
