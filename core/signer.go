package core

import (
	"fmt"
)

// Authorizer is the identity presented to the custody adapter for a transfer.
type Authorizer interface {
	Identity() Address
}

// CallerAuthorizer wraps an identity the host has already authenticated.
type CallerAuthorizer struct {
	Address Address
}

func (a CallerAuthorizer) Identity() Address {
	return a.Address
}

// VaultSigner lets a vault authorize transfers out of its own custody
// account without a private key. It carries the derivation proof so the
// adapter can recompute the address.
type VaultSigner struct {
	address Address
	program Address
	seeds   [][]byte
	bump    uint8
}

func newVaultSigner(record VaultRecord) VaultSigner {
	return VaultSigner{
		address: record.Address,
		program: record.Program,
		seeds:   VaultSeeds(record.Namespace),
		bump:    record.Bump,
	}
}

func (s VaultSigner) Identity() Address {
	return s.address
}

func (s VaultSigner) Program() Address {
	return s.program
}

// Verify re-derives the vault address from the carried seeds and bump.
func (s VaultSigner) Verify() error {
	if s.address.IsZero() {
		return fmt.Errorf("core: vault signer has no identity")
	}
	seeds := make([][]byte, 0, len(s.seeds)+1)
	seeds = append(seeds, s.seeds...)
	seeds = append(seeds, []byte{s.bump})
	derived, err := CreateDerivedAddress(seeds, s.program)
	if err != nil {
		return fmt.Errorf("core: vault signer derivation failed: %w", err)
	}
	if derived != s.address {
		return fmt.Errorf("core: vault signer derivation mismatch for %s", s.address)
	}
	return nil
}
