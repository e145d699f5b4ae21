package sqlstore

import (
	"context"
	"fmt"
	"sync"

	repositorycache "github.com/goliatone/go-repository-cache/cache"
	"github.com/goliatone/go-treasury/core"
)

const vaultCacheKeyPrefix = "go-treasury::vault::v2"

// CachedVaultStore is a read-through cache over a VaultStore. Writes go to
// the base store first, bump the address generation and then evict the
// cached entry. Cached entries carry the generation observed before their
// base read, so a fill that raced a write is discarded on the next lookup.
type CachedVaultStore struct {
	base  core.VaultStore
	cache repositorycache.CacheService

	mu          sync.Mutex
	generations map[core.Address]uint64
}

// CachedVault is the cache entry for one vault record.
type CachedVault struct {
	Record     core.VaultRecord
	Generation uint64
}

func NewCachedVaultStore(base core.VaultStore, cacheService repositorycache.CacheService) (*CachedVaultStore, error) {
	if base == nil {
		return nil, fmt.Errorf("sqlstore: base vault store is required")
	}
	if cacheService == nil {
		return nil, fmt.Errorf("sqlstore: vault cache service is required")
	}
	return &CachedVaultStore{
		base:        base,
		cache:       cacheService,
		generations: map[core.Address]uint64{},
	}, nil
}

// VaultCacheKey returns go-treasury::vault::v2::<address>.
func VaultCacheKey(address core.Address) (string, error) {
	if address.IsZero() {
		return "", fmt.Errorf("sqlstore: vault address is required for cache key")
	}
	return vaultCacheKeyPrefix + "::" + address.String(), nil
}

func (s *CachedVaultStore) Create(ctx context.Context, record core.VaultRecord) (core.VaultRecord, error) {
	if err := s.ready(); err != nil {
		return core.VaultRecord{}, err
	}
	created, err := s.base.Create(ctx, record)
	if err != nil {
		return core.VaultRecord{}, err
	}
	if err := s.invalidate(ctx, created.Address); err != nil {
		return core.VaultRecord{}, err
	}
	return created, nil
}

// Load serves reads from the cache. A hit whose generation is behind the
// latest write is evicted and answered from the base store.
func (s *CachedVaultStore) Load(ctx context.Context, address core.Address) (core.VaultRecord, error) {
	if err := s.ready(); err != nil {
		return core.VaultRecord{}, err
	}
	cacheKey, err := VaultCacheKey(address)
	if err != nil {
		return core.VaultRecord{}, err
	}
	entry, err := repositorycache.GetOrFetch(ctx, s.cache, cacheKey, func(ctx context.Context) (CachedVault, error) {
		generation := s.generation(address)
		record, loadErr := s.base.Load(ctx, address)
		if loadErr != nil {
			return CachedVault{}, loadErr
		}
		return CachedVault{Record: record, Generation: generation}, nil
	})
	if err != nil {
		return core.VaultRecord{}, err
	}
	if entry.Generation == s.generation(address) {
		return entry.Record, nil
	}
	if err := s.cache.Delete(ctx, cacheKey); err != nil {
		return core.VaultRecord{}, err
	}
	return s.base.Load(ctx, address)
}

// LoadFresh bypasses the cache. The vault service uses it under the vault
// lock before validating a mutation.
func (s *CachedVaultStore) LoadFresh(ctx context.Context, address core.Address) (core.VaultRecord, error) {
	if err := s.ready(); err != nil {
		return core.VaultRecord{}, err
	}
	return s.base.Load(ctx, address)
}

func (s *CachedVaultStore) Save(ctx context.Context, record core.VaultRecord) error {
	if err := s.ready(); err != nil {
		return err
	}
	if err := s.base.Save(ctx, record); err != nil {
		return err
	}
	return s.invalidate(ctx, record.Address)
}

func (s *CachedVaultStore) ready() error {
	if s == nil || s.base == nil || s.cache == nil {
		return fmt.Errorf("sqlstore: cached vault store is not configured")
	}
	return nil
}

func (s *CachedVaultStore) generation(address core.Address) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generations[address]
}

func (s *CachedVaultStore) invalidate(ctx context.Context, address core.Address) error {
	cacheKey, err := VaultCacheKey(address)
	if err != nil {
		return err
	}
	s.mu.Lock()
	if s.generations == nil {
		s.generations = map[core.Address]uint64{}
	}
	s.generations[address]++
	s.mu.Unlock()
	return s.cache.Delete(ctx, cacheKey)
}
