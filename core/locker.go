package core

import (
	"context"
	"fmt"
	"sync"
)

// MemoryVaultLocker hands out one blocking mutex per vault address. Waiters
// give up when their context is done.
type MemoryVaultLocker struct {
	mu    sync.Mutex
	slots map[Address]*vaultLockSlot
}

type vaultLockSlot struct {
	sem     chan struct{}
	waiters int
}

func NewMemoryVaultLocker() *MemoryVaultLocker {
	return &MemoryVaultLocker{
		slots: make(map[Address]*vaultLockSlot),
	}
}

func (l *MemoryVaultLocker) Acquire(ctx context.Context, vault Address) (LockHandle, error) {
	if l == nil {
		return nil, fmt.Errorf("core: vault locker is not configured")
	}
	if vault.IsZero() {
		return nil, fmt.Errorf("core: vault address is required for lock acquisition")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	l.mu.Lock()
	slot, ok := l.slots[vault]
	if !ok {
		slot = &vaultLockSlot{sem: make(chan struct{}, 1)}
		l.slots[vault] = slot
	}
	slot.waiters++
	l.mu.Unlock()

	select {
	case slot.sem <- struct{}{}:
		return &memoryVaultLockHandle{locker: l, vault: vault, slot: slot}, nil
	case <-ctx.Done():
		l.release(vault, slot, false)
		return nil, fmt.Errorf("core: vault lock for %s not acquired: %w", vault, ctx.Err())
	}
}

func (l *MemoryVaultLocker) release(vault Address, slot *vaultLockSlot, held bool) {
	if held {
		<-slot.sem
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	slot.waiters--
	if slot.waiters == 0 && l.slots[vault] == slot {
		delete(l.slots, vault)
	}
}

type memoryVaultLockHandle struct {
	locker *MemoryVaultLocker
	vault  Address
	slot   *vaultLockSlot
	once   sync.Once
}

func (h *memoryVaultLockHandle) Unlock(_ context.Context) error {
	if h == nil || h.locker == nil {
		return nil
	}
	h.once.Do(func() {
		h.locker.release(h.vault, h.slot, true)
	})
	return nil
}

var _ VaultLocker = (*MemoryVaultLocker)(nil)
