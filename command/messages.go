package command

import (
	"strings"

	"github.com/goliatone/go-treasury/core"
)

const (
	TypeInitializeVault   = "treasury.command.vault.initialize"
	TypeDeposit           = "treasury.command.vault.deposit"
	TypeWithdraw          = "treasury.command.vault.withdraw"
	TypeSetAllocation     = "treasury.command.vault.allocation.set"
	TypeTransferAuthority = "treasury.command.vault.authority.transfer"

	maxRequestIDLength = 128
)

// Messages carry an optional RequestID. When a replay ledger is configured a
// RequestID is accepted once per TTL window.

type InitializeVaultMessage struct {
	RequestID string
	Request   core.InitializeRequest
}

func (InitializeVaultMessage) Type() string { return TypeInitializeVault }

func (m InitializeVaultMessage) Validate() error {
	return validateRequestID(m.RequestID)
}

type DepositMessage struct {
	RequestID string
	Request   core.DepositRequest
}

func (DepositMessage) Type() string { return TypeDeposit }

func (m DepositMessage) Validate() error {
	if err := validateRequestID(m.RequestID); err != nil {
		return err
	}
	return validateVault(m.Request.Vault)
}

type WithdrawMessage struct {
	RequestID string
	Request   core.WithdrawRequest
}

func (WithdrawMessage) Type() string { return TypeWithdraw }

func (m WithdrawMessage) Validate() error {
	if err := validateRequestID(m.RequestID); err != nil {
		return err
	}
	return validateVault(m.Request.Vault)
}

type SetAllocationMessage struct {
	RequestID string
	Request   core.SetAllocationRequest
}

func (SetAllocationMessage) Type() string { return TypeSetAllocation }

func (m SetAllocationMessage) Validate() error {
	if err := validateRequestID(m.RequestID); err != nil {
		return err
	}
	return validateVault(m.Request.Vault)
}

type TransferAuthorityMessage struct {
	RequestID string
	Request   core.TransferAuthorityRequest
}

func (TransferAuthorityMessage) Type() string { return TypeTransferAuthority }

func (m TransferAuthorityMessage) Validate() error {
	if err := validateRequestID(m.RequestID); err != nil {
		return err
	}
	return validateVault(m.Request.Vault)
}

func validateVault(vault core.Address) error {
	if vault.IsZero() {
		return commandValidationError("vault", "vault address is required")
	}
	return nil
}

func validateRequestID(id string) error {
	if len(strings.TrimSpace(id)) > maxRequestIDLength {
		return commandValidationError("request_id", "request id must be at most 128 characters")
	}
	return nil
}
