package command

import (
	"net/http"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-treasury/core"
)

const ErrorDuplicateRequest = "VAULT_DUPLICATE_REQUEST"

func commandDependencyError(message string) error {
	return goerrors.New(message, goerrors.CategoryInternal).
		WithCode(http.StatusInternalServerError).
		WithTextCode(core.VaultErrorInternal)
}

func commandValidationError(field string, message string) error {
	return goerrors.NewValidation("command: validation failed", goerrors.FieldError{
		Field:   field,
		Message: message,
	}).
		WithCode(http.StatusBadRequest).
		WithTextCode(core.VaultErrorBadInput).
		WithSeverity(goerrors.SeverityError)
}

func commandDuplicateRequestError(messageType string, requestID string) error {
	return goerrors.New("command: request already processed", goerrors.CategoryConflict).
		WithCode(http.StatusConflict).
		WithTextCode(ErrorDuplicateRequest).
		WithMetadata(map[string]any{
			"message_type": messageType,
			"request_id":   requestID,
		})
}

func commandReplayError(err error) error {
	return goerrors.Wrap(err, goerrors.CategoryInternal, "command: replay ledger unavailable").
		WithCode(http.StatusInternalServerError).
		WithTextCode(core.VaultErrorInternal)
}
