package core

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"time"
)

const (
	// DefaultTargetAllocationBps is the even split of a two-vault scheme.
	DefaultTargetAllocationBps uint16 = 5000
	MaxAllocationBps           uint16 = 10000
)

// VaultRecord is the persisted state of one vault. Balances never live here;
// they belong to the custody account.
type VaultRecord struct {
	Address             Address
	Program             Address
	Namespace           string
	Authority           Address
	AssetID             Address
	CustodyAccount      Address
	TargetAllocationBps uint16
	Bump                uint8
	CustodyBump         uint8
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// TokenAccount is an external asset-holding account as seen by the host.
type TokenAccount struct {
	Address Address
	Owner   Address
	AssetID Address
	Amount  uint64
}

type InitializeRequest struct {
	// Program overrides Config.ProgramID when non-zero.
	Program   Address
	Namespace string
	Authority Address
	AssetID   Address
}

type DepositRequest struct {
	Vault          Address
	Depositor      Address
	SourceAccount  Address
	CustodyAccount Address
	Amount         uint64
}

type WithdrawRequest struct {
	Vault            Address
	Authority        Address
	Recipient        Address
	RecipientAccount Address
	CustodyAccount   Address
	Amount           uint64
}

type SetAllocationRequest struct {
	Vault     Address
	Authority Address
	Bps       uint16
}

type TransferAuthorityRequest struct {
	Vault        Address
	Authority    Address
	NewAuthority Address
}

type GetBalanceRequest struct {
	Vault Address
	// CustodyAccount defaults to the vault's recorded custody account.
	CustodyAccount Address
}

type Balance struct {
	Vault          Address
	CustodyAccount Address
	AssetID        Address
	Amount         uint64
}

// VaultRecordSize is the fixed on-ledger size including the discriminator.
const VaultRecordSize = 8 + AddressLength*3 + 2 + 1 + 1

var vaultDiscriminator = accountDiscriminator("Vault")

// MarshalBinary encodes the record in the deployed account layout:
// discriminator, authority, asset, custody account, allocation (u16 LE),
// bump, custody bump.
func (r VaultRecord) MarshalBinary() ([]byte, error) {
	out := make([]byte, VaultRecordSize)
	copy(out[0:8], vaultDiscriminator[:])
	offset := 8
	offset += copy(out[offset:], r.Authority[:])
	offset += copy(out[offset:], r.AssetID[:])
	offset += copy(out[offset:], r.CustodyAccount[:])
	binary.LittleEndian.PutUint16(out[offset:], r.TargetAllocationBps)
	offset += 2
	out[offset] = r.Bump
	out[offset+1] = r.CustodyBump
	return out, nil
}

// UnmarshalBinary decodes only the on-ledger fields; Address, Program,
// Namespace and timestamps are left untouched.
func (r *VaultRecord) UnmarshalBinary(data []byte) error {
	if r == nil {
		return fmt.Errorf("core: nil vault record receiver")
	}
	if len(data) != VaultRecordSize {
		return fmt.Errorf("core: vault record must be %d bytes, got %d", VaultRecordSize, len(data))
	}
	if [8]byte(data[0:8]) != vaultDiscriminator {
		return fmt.Errorf("core: vault record discriminator mismatch")
	}
	offset := 8
	copy(r.Authority[:], data[offset:offset+AddressLength])
	offset += AddressLength
	copy(r.AssetID[:], data[offset:offset+AddressLength])
	offset += AddressLength
	copy(r.CustodyAccount[:], data[offset:offset+AddressLength])
	offset += AddressLength
	r.TargetAllocationBps = binary.LittleEndian.Uint16(data[offset:])
	offset += 2
	r.Bump = data[offset]
	r.CustodyBump = data[offset+1]
	return nil
}

func accountDiscriminator(name string) [8]byte {
	return discriminator("account:" + name)
}

func discriminator(preimage string) [8]byte {
	sum := sha256.Sum256([]byte(preimage))
	var out [8]byte
	copy(out[:], sum[:8])
	return out
}
