package core

import (
	"fmt"
	"strings"

	"github.com/mr-tron/base58"
)

const AddressLength = 32

// Address is a 32-byte identity: a caller, an asset, a token account or a
// derived vault identity. It renders as base58.
type Address [AddressLength]byte

var ZeroAddress Address

func ParseAddress(value string) (Address, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return Address{}, fmt.Errorf("core: address is required")
	}
	decoded, err := base58.Decode(value)
	if err != nil {
		return Address{}, fmt.Errorf("core: invalid address %q: %w", value, err)
	}
	if len(decoded) != AddressLength {
		return Address{}, fmt.Errorf("core: invalid address %q: expected %d bytes, got %d", value, AddressLength, len(decoded))
	}
	var out Address
	copy(out[:], decoded)
	return out, nil
}

func MustParseAddress(value string) Address {
	addr, err := ParseAddress(value)
	if err != nil {
		panic(err)
	}
	return addr
}

func AddressFromBytes(raw []byte) (Address, error) {
	if len(raw) != AddressLength {
		return Address{}, fmt.Errorf("core: expected %d address bytes, got %d", AddressLength, len(raw))
	}
	var out Address
	copy(out[:], raw)
	return out, nil
}

func (a Address) String() string {
	return base58.Encode(a[:])
}

func (a Address) Bytes() []byte {
	out := make([]byte, AddressLength)
	copy(out, a[:])
	return out
}

func (a Address) IsZero() bool {
	return a == ZeroAddress
}

func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

func (a *Address) UnmarshalText(text []byte) error {
	if a == nil {
		return fmt.Errorf("core: nil address receiver")
	}
	parsed, err := ParseAddress(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
