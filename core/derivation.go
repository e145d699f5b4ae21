package core

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"filippo.io/edwards25519"
)

// Seeds are public, stable constants: anyone holding a program address can
// recompute a vault's canonical identity and its custody account.
const (
	VaultSeed   = "treasury_vault"
	CustodySeed = "vault_token"
)

const (
	MaxDerivationSeeds      = 16
	MaxDerivationSeedLength = 32

	derivedAddressMarker = "ProgramDerivedAddress"
)

var (
	ErrInvalidSeeds        = errors.New("core: invalid derivation seeds")
	ErrAddressOnCurve      = errors.New("core: derived address lies on the ed25519 curve")
	ErrDerivationExhausted = errors.New("core: unable to find a viable derivation bump")
)

// CreateDerivedAddress hashes the seeds with the program address and rejects
// digests that decode to a valid ed25519 point, since those could be
// controlled by a private key.
func CreateDerivedAddress(seeds [][]byte, program Address) (Address, error) {
	if len(seeds) > MaxDerivationSeeds {
		return Address{}, fmt.Errorf("%w: %d seeds exceeds max %d", ErrInvalidSeeds, len(seeds), MaxDerivationSeeds)
	}
	h := sha256.New()
	for i, seed := range seeds {
		if len(seed) > MaxDerivationSeedLength {
			return Address{}, fmt.Errorf("%w: seed %d is %d bytes", ErrInvalidSeeds, i, len(seed))
		}
		_, _ = h.Write(seed)
	}
	_, _ = h.Write(program[:])
	_, _ = h.Write([]byte(derivedAddressMarker))

	var out Address
	copy(out[:], h.Sum(nil))
	if IsOnCurve(out) {
		return Address{}, ErrAddressOnCurve
	}
	return out, nil
}

// FindDerivedAddress searches bumps from 255 down and returns the first
// off-curve address together with the bump that produced it.
func FindDerivedAddress(seeds [][]byte, program Address) (Address, uint8, error) {
	if len(seeds) >= MaxDerivationSeeds {
		return Address{}, 0, fmt.Errorf("%w: no room for bump seed", ErrInvalidSeeds)
	}
	withBump := make([][]byte, len(seeds)+1)
	copy(withBump, seeds)
	for bump := 255; bump >= 0; bump-- {
		withBump[len(seeds)] = []byte{byte(bump)}
		addr, err := CreateDerivedAddress(withBump, program)
		if err == nil {
			return addr, uint8(bump), nil
		}
		if !errors.Is(err, ErrAddressOnCurve) {
			return Address{}, 0, err
		}
	}
	return Address{}, 0, ErrDerivationExhausted
}

func IsOnCurve(addr Address) bool {
	_, err := new(edwards25519.Point).SetBytes(addr[:])
	return err == nil
}

func VaultSeeds(namespace string) [][]byte {
	seeds := [][]byte{[]byte(VaultSeed)}
	if namespace != "" {
		seeds = append(seeds, []byte(namespace))
	}
	return seeds
}

func CustodySeeds(vault Address) [][]byte {
	return [][]byte{[]byte(CustodySeed), vault.Bytes()}
}

func DeriveVaultAddress(program Address, namespace string) (Address, uint8, error) {
	if len(namespace) > MaxDerivationSeedLength {
		return Address{}, 0, fmt.Errorf("%w: namespace exceeds %d bytes", ErrInvalidSeeds, MaxDerivationSeedLength)
	}
	return FindDerivedAddress(VaultSeeds(namespace), program)
}

func DeriveCustodyAddress(program Address, vault Address) (Address, uint8, error) {
	return FindDerivedAddress(CustodySeeds(vault), program)
}
