package crypto

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/btcsuite/btcutil/bech32"
	"github.com/ethereum/go-ethereum/crypto"
)

// AddressHRP is the human-readable part used when rendering addresses.
const AddressHRP = "pool"

// AddressLength is the size of an account identifier in bytes.
const AddressLength = 20

// Address is a 20-byte account identifier. Accounts, pools and strategy
// adapters share the same address space. The zero value is the null account.
type Address [AddressLength]byte

// ZeroAddress is the null account.
var ZeroAddress Address

// BytesToAddress copies the trailing 20 bytes of b into an Address,
// left-padding shorter inputs with zeros.
func BytesToAddress(b []byte) Address {
	var a Address
	if len(b) > AddressLength {
		b = b[len(b)-AddressLength:]
	}
	copy(a[AddressLength-len(b):], b)
	return a
}

// DeriveAddress hashes the supplied parts with keccak256 and keeps the last 20
// bytes, mirroring how contract-style identifiers are derived.
func DeriveAddress(parts ...[]byte) Address {
	return BytesToAddress(crypto.Keccak256(parts...))
}

// IsZero reports whether the address is the null account.
func (a Address) IsZero() bool { return a == ZeroAddress }

// Bytes returns a copy of the raw address bytes.
func (a Address) Bytes() []byte {
	out := make([]byte, AddressLength)
	copy(out, a[:])
	return out
}

// Hex renders the address as 0x-prefixed lowercase hex.
func (a Address) Hex() string { return "0x" + hex.EncodeToString(a[:]) }

func (a Address) String() string {
	conv, err := bech32.ConvertBits(a[:], 8, 5, true)
	if err != nil {
		return a.Hex()
	}
	encoded, err := bech32.Encode(AddressHRP, conv)
	if err != nil {
		return a.Hex()
	}
	return encoded
}

// DecodeAddress parses either the bech32 or the 0x-hex form.
func DecodeAddress(addrStr string) (Address, error) {
	trimmed := strings.TrimSpace(addrStr)
	if strings.HasPrefix(trimmed, "0x") || strings.HasPrefix(trimmed, "0X") {
		raw := trimmed[2:]
		if len(raw) != AddressLength*2 {
			return Address{}, fmt.Errorf("invalid hex address length: %d", len(raw))
		}
		decoded, err := hex.DecodeString(raw)
		if err != nil {
			return Address{}, fmt.Errorf("invalid hex address: %w", err)
		}
		return BytesToAddress(decoded), nil
	}
	prefix, decoded, err := bech32.Decode(trimmed)
	if err != nil {
		return Address{}, fmt.Errorf("invalid bech32 string: %w", err)
	}
	if prefix != AddressHRP {
		return Address{}, fmt.Errorf("unexpected address prefix %q", prefix)
	}
	conv, err := bech32.ConvertBits(decoded, 5, 8, false)
	if err != nil {
		return Address{}, fmt.Errorf("error converting bits: %w", err)
	}
	if len(conv) != AddressLength {
		return Address{}, fmt.Errorf("address must be %d bytes long", AddressLength)
	}
	return BytesToAddress(conv), nil
}
