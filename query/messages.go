package query

import (
	"github.com/goliatone/go-treasury/core"
)

const (
	TypeGetBalance = "treasury.query.vault.balance"
	TypeGetVault   = "treasury.query.vault.get"
	TypeListEvents = "treasury.query.vault.events"

	maxEventPageSize = 500
)

type GetBalanceMessage struct {
	Request core.GetBalanceRequest
}

func (GetBalanceMessage) Type() string { return TypeGetBalance }

func (m GetBalanceMessage) Validate() error {
	if m.Request.Vault.IsZero() {
		return queryValidationError("vault", "vault address is required")
	}
	return nil
}

type GetVaultMessage struct {
	Vault core.Address
}

func (GetVaultMessage) Type() string { return TypeGetVault }

func (m GetVaultMessage) Validate() error {
	if m.Vault.IsZero() {
		return queryValidationError("vault", "vault address is required")
	}
	return nil
}

type ListEventsMessage struct {
	Filter core.EventFilter
}

func (ListEventsMessage) Type() string { return TypeListEvents }

func (m ListEventsMessage) Validate() error {
	if m.Filter.Limit < 0 {
		return queryValidationError("limit", "limit must be >= 0")
	}
	if m.Filter.Limit > maxEventPageSize {
		return queryValidationError("limit", "limit must be <= 500")
	}
	for _, name := range m.Filter.Names {
		if !knownEvent(name) {
			return queryValidationError("names", "unknown event name "+name)
		}
	}
	return nil
}

func knownEvent(name string) bool {
	switch name {
	case core.EventDeposit, core.EventWithdraw, core.EventAllocationUpdated, core.EventAuthorityTransferred:
		return true
	default:
		return false
	}
}
