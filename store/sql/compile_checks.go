package sqlstore

import "github.com/goliatone/go-treasury/core"

var (
	_ core.VaultStore       = (*VaultStore)(nil)
	_ core.VaultStore       = (*CachedVaultStore)(nil)
	_ core.FreshVaultLoader = (*CachedVaultStore)(nil)
	_ core.EventLog         = (*EventStore)(nil)
	_ core.StoreProvider    = (*RepositoryFactory)(nil)
)
