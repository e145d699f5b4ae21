package command

import (
	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-treasury/core"
)

var (
	_ gocmd.Commander[InitializeVaultMessage]   = (*InitializeVaultCommand)(nil)
	_ gocmd.Commander[DepositMessage]           = (*DepositCommand)(nil)
	_ gocmd.Commander[WithdrawMessage]          = (*WithdrawCommand)(nil)
	_ gocmd.Commander[SetAllocationMessage]     = (*SetAllocationCommand)(nil)
	_ gocmd.Commander[TransferAuthorityMessage] = (*TransferAuthorityCommand)(nil)

	_ MutatingService = core.VaultService(nil)
)
