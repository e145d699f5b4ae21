package query

import (
	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-treasury/core"
)

var (
	_ gocmd.Querier[GetBalanceMessage, core.Balance]       = (*GetBalanceQuery)(nil)
	_ gocmd.Querier[GetVaultMessage, core.VaultRecord]     = (*GetVaultQuery)(nil)
	_ gocmd.Querier[ListEventsMessage, []core.EventRecord] = (*ListEventsQuery)(nil)

	_ VaultReader = core.VaultService(nil)
)
