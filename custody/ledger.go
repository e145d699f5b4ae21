package custody

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/goliatone/go-treasury/core"
)

var (
	ErrAccountNotFound   = errors.New("custody: account not found")
	ErrAccountExists     = errors.New("custody: account already exists")
	ErrInsufficientFunds = errors.New("custody: insufficient funds")
	ErrOwnerMismatch     = errors.New("custody: authorizer does not own source account")
	ErrAssetMismatch     = errors.New("custody: accounts hold different assets")
)

// MemoryLedger is a process-local token ledger. It backs tests and local
// development; it is not an asset ledger.
type MemoryLedger struct {
	mu       sync.Mutex
	accounts map[core.Address]core.TokenAccount
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{accounts: make(map[core.Address]core.TokenAccount)}
}

func (l *MemoryLedger) OpenAccount(_ context.Context, req core.OpenAccountRequest) (core.TokenAccount, error) {
	if req.Address.IsZero() || req.Owner.IsZero() || req.AssetID.IsZero() {
		return core.TokenAccount{}, fmt.Errorf("custody: address, owner and asset are required")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.accounts[req.Address]; ok {
		return core.TokenAccount{}, fmt.Errorf("%w: %s", ErrAccountExists, req.Address)
	}
	account := core.TokenAccount{
		Address: req.Address,
		Owner:   req.Owner,
		AssetID: req.AssetID,
	}
	l.accounts[req.Address] = account
	return account, nil
}

func (l *MemoryLedger) Account(_ context.Context, address core.Address) (core.TokenAccount, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	account, ok := l.accounts[address]
	if !ok {
		return core.TokenAccount{}, fmt.Errorf("%w: %s", ErrAccountNotFound, address)
	}
	return account, nil
}

// Mint credits an existing account out of thin air.
func (l *MemoryLedger) Mint(_ context.Context, address core.Address, amount uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	account, ok := l.accounts[address]
	if !ok {
		return fmt.Errorf("%w: %s", ErrAccountNotFound, address)
	}
	if account.Amount+amount < account.Amount {
		return fmt.Errorf("custody: mint overflows account %s", address)
	}
	account.Amount += amount
	l.accounts[address] = account
	return nil
}

// Transfer moves the whole amount or nothing.
func (l *MemoryLedger) Transfer(_ context.Context, req core.TransferRequest) error {
	if req.Authorizer == nil {
		return fmt.Errorf("custody: authorizer is required")
	}
	if req.Amount == 0 {
		return fmt.Errorf("custody: transfer amount must be positive")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	source, ok := l.accounts[req.Source]
	if !ok {
		return fmt.Errorf("%w: %s", ErrAccountNotFound, req.Source)
	}
	destination, ok := l.accounts[req.Destination]
	if !ok {
		return fmt.Errorf("%w: %s", ErrAccountNotFound, req.Destination)
	}
	if source.AssetID != destination.AssetID {
		return ErrAssetMismatch
	}
	if err := authorize(source, req.Authorizer); err != nil {
		return err
	}
	if source.Amount < req.Amount {
		return fmt.Errorf("%w: have %d, need %d", ErrInsufficientFunds, source.Amount, req.Amount)
	}
	if req.Source == req.Destination {
		return nil
	}
	if destination.Amount+req.Amount < destination.Amount {
		return fmt.Errorf("custody: transfer overflows account %s", req.Destination)
	}

	source.Amount -= req.Amount
	destination.Amount += req.Amount
	l.accounts[req.Source] = source
	l.accounts[req.Destination] = destination
	return nil
}

// authorize checks the presented identity owns the source. Derived owners
// have no private key, so they must present a verifiable vault signer.
func authorize(source core.TokenAccount, authorizer core.Authorizer) error {
	if authorizer.Identity() != source.Owner {
		return fmt.Errorf("%w: %s", ErrOwnerMismatch, source.Address)
	}
	if core.IsOnCurve(source.Owner) {
		return nil
	}
	signer, ok := authorizer.(core.VaultSigner)
	if !ok {
		return fmt.Errorf("%w: derived owner %s requires a vault signer", ErrOwnerMismatch, source.Owner)
	}
	if err := signer.Verify(); err != nil {
		return fmt.Errorf("%w: %v", ErrOwnerMismatch, err)
	}
	return nil
}

var _ core.TokenCustody = (*MemoryLedger)(nil)
