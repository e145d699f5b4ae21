package sqlstore

import (
	"fmt"

	persistence "github.com/goliatone/go-persistence-bun"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
	"github.com/goliatone/go-treasury/core"
	"github.com/uptrace/bun"
)

type RepositoryFactory struct {
	db    *bun.DB
	cache repositorycache.CacheService

	vaultStore  *VaultStore
	cachedVault *CachedVaultStore
	eventStore  *EventStore
}

type FactoryOption func(*RepositoryFactory)

// WithVaultCache fronts vault reads with a read-through cache.
func WithVaultCache(cacheService repositorycache.CacheService) FactoryOption {
	return func(f *RepositoryFactory) {
		f.cache = cacheService
	}
}

func NewRepositoryFactory(opts ...FactoryOption) *RepositoryFactory {
	factory := &RepositoryFactory{}
	for _, opt := range opts {
		if opt != nil {
			opt(factory)
		}
	}
	return factory
}

func NewRepositoryFactoryFromPersistence(client *persistence.Client, opts ...FactoryOption) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory(opts...)
	if _, err := factory.BuildStores(client); err != nil {
		return nil, err
	}
	return factory, nil
}

func NewRepositoryFactoryFromDB(db *bun.DB, opts ...FactoryOption) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory(opts...)
	if _, err := factory.BuildStores(db); err != nil {
		return nil, err
	}
	return factory, nil
}

func (f *RepositoryFactory) BuildStores(persistenceClient any) (core.StoreProvider, error) {
	if f == nil {
		return nil, fmt.Errorf("sqlstore: repository factory is nil")
	}
	if f.db == nil {
		db, err := resolveBunDB(persistenceClient)
		if err != nil {
			return nil, err
		}
		f.db = db
	}
	if f.vaultStore != nil && f.eventStore != nil {
		return f, nil
	}
	if err := f.initStores(); err != nil {
		return nil, err
	}
	return f, nil
}

// VaultStore returns the cached store when a cache is configured.
func (f *RepositoryFactory) VaultStore() core.VaultStore {
	if f == nil {
		return nil
	}
	if f.cachedVault != nil {
		return f.cachedVault
	}
	if f.vaultStore == nil {
		return nil
	}
	return f.vaultStore
}

func (f *RepositoryFactory) EventLog() core.EventLog {
	if f == nil || f.eventStore == nil {
		return nil
	}
	return f.eventStore
}

// Vaults exposes the uncached SQL store for authority listings.
func (f *RepositoryFactory) Vaults() *VaultStore {
	if f == nil {
		return nil
	}
	return f.vaultStore
}

func (f *RepositoryFactory) DB() *bun.DB {
	if f == nil {
		return nil
	}
	return f.db
}

func (f *RepositoryFactory) initStores() error {
	vaultStore, err := NewVaultStore(f.db)
	if err != nil {
		return err
	}
	f.vaultStore = vaultStore
	if f.cache != nil {
		cached, err := NewCachedVaultStore(vaultStore, f.cache)
		if err != nil {
			return err
		}
		f.cachedVault = cached
	}
	eventStore, err := NewEventStore(f.db)
	if err != nil {
		return err
	}
	f.eventStore = eventStore
	return nil
}

func resolveBunDB(candidate any) (*bun.DB, error) {
	switch typed := candidate.(type) {
	case nil:
		return nil, fmt.Errorf("sqlstore: persistence client is required")
	case *bun.DB:
		return typed, nil
	case interface{ DB() *bun.DB }:
		db := typed.DB()
		if db == nil {
			return nil, fmt.Errorf("sqlstore: persistence client returned nil bun db")
		}
		return db, nil
	default:
		return nil, fmt.Errorf("sqlstore: unsupported persistence client type %T", candidate)
	}
}
