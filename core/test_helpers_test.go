package core

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"fmt"
	"sync"
	"testing"
	"time"
)

var testProgram = testIdentity("program")

// testIdentity returns a deterministic on-curve address, like a wallet key.
func testIdentity(label string) Address {
	seed := sha256.Sum256([]byte("identity:" + label))
	pub := ed25519.NewKeyFromSeed(seed[:]).Public().(ed25519.PublicKey)
	var out Address
	copy(out[:], pub)
	return out
}

type fakeCustody struct {
	mu        sync.Mutex
	accounts  map[Address]TokenAccount
	transfers []TransferRequest
	failNext  error
}

func newFakeCustody() *fakeCustody {
	return &fakeCustody{accounts: map[Address]TokenAccount{}}
}

func (c *fakeCustody) OpenAccount(_ context.Context, req OpenAccountRequest) (TokenAccount, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.accounts[req.Address]; ok {
		return TokenAccount{}, fmt.Errorf("fake custody: account %s exists", req.Address)
	}
	account := TokenAccount{Address: req.Address, Owner: req.Owner, AssetID: req.AssetID}
	c.accounts[req.Address] = account
	return account, nil
}

func (c *fakeCustody) Account(_ context.Context, address Address) (TokenAccount, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	account, ok := c.accounts[address]
	if !ok {
		return TokenAccount{}, fmt.Errorf("fake custody: account %s not found", address)
	}
	return account, nil
}

func (c *fakeCustody) Transfer(_ context.Context, req TransferRequest) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failNext != nil {
		err := c.failNext
		c.failNext = nil
		return err
	}
	source, ok := c.accounts[req.Source]
	if !ok {
		return fmt.Errorf("fake custody: source %s not found", req.Source)
	}
	destination, ok := c.accounts[req.Destination]
	if !ok {
		return fmt.Errorf("fake custody: destination %s not found", req.Destination)
	}
	if req.Authorizer.Identity() != source.Owner {
		return fmt.Errorf("fake custody: authorizer does not own source")
	}
	if signer, ok := req.Authorizer.(VaultSigner); ok {
		if err := signer.Verify(); err != nil {
			return err
		}
	}
	if source.Amount < req.Amount {
		return fmt.Errorf("fake custody: insufficient funds")
	}
	source.Amount -= req.Amount
	destination.Amount += req.Amount
	c.accounts[req.Source] = source
	c.accounts[req.Destination] = destination
	c.transfers = append(c.transfers, req)
	return nil
}

func (c *fakeCustody) fund(owner Address, asset Address, amount uint64) Address {
	c.mu.Lock()
	defer c.mu.Unlock()
	address := testIdentity(fmt.Sprintf("account:%s:%s:%d", owner, asset, len(c.accounts)))
	c.accounts[address] = TokenAccount{Address: address, Owner: owner, AssetID: asset, Amount: amount}
	return address
}

func (c *fakeCustody) balance(address Address) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.accounts[address].Amount
}

func (c *fakeCustody) transferCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.transfers)
}

type vaultFixture struct {
	svc       *Service
	custody   *fakeCustody
	events    *MemoryEventLog
	vault     VaultRecord
	authority Address
	asset     Address
}

func newVaultFixture(t *testing.T, opts ...Option) vaultFixture {
	t.Helper()
	custody := newFakeCustody()
	events := NewMemoryEventLog()
	fixed := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	base := []Option{
		WithTokenCustody(custody),
		WithEventLog(events),
		WithClock(func() time.Time { return fixed }),
	}
	svc, err := NewService(Config{ProgramID: testProgram.String()}, append(base, opts...)...)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	authority := testIdentity("authority")
	asset := testIdentity("usdc")
	vault, err := svc.Initialize(context.Background(), InitializeRequest{
		Authority: authority,
		AssetID:   asset,
	})
	if err != nil {
		t.Fatalf("initialize vault: %v", err)
	}
	return vaultFixture{
		svc:       svc,
		custody:   custody,
		events:    events,
		vault:     vault,
		authority: authority,
		asset:     asset,
	}
}

func (f vaultFixture) deposit(t *testing.T, depositor Address, amount uint64) {
	t.Helper()
	source := f.custody.fund(depositor, f.asset, amount)
	if err := f.svc.Deposit(context.Background(), DepositRequest{
		Vault:          f.vault.Address,
		Depositor:      depositor,
		SourceAccount:  source,
		CustodyAccount: f.vault.CustodyAccount,
		Amount:         amount,
	}); err != nil {
		t.Fatalf("deposit %d: %v", amount, err)
	}
}

type stubLogger struct{}

func (stubLogger) Trace(string, ...any) {}
func (stubLogger) Debug(string, ...any) {}
func (stubLogger) Info(string, ...any)  {}
func (stubLogger) Warn(string, ...any)  {}
func (stubLogger) Error(string, ...any) {}
func (stubLogger) Fatal(string, ...any) {}
func (s stubLogger) WithContext(context.Context) Logger {
	return s
}

type stubLoggerProvider struct {
	logger Logger
}

func (s stubLoggerProvider) GetLogger(string) Logger {
	return s.logger
}

type mapRawLoader struct {
	values map[string]any
}

func (l mapRawLoader) LoadRaw(context.Context) (map[string]any, error) {
	return copyAnyMap(l.values), nil
}
