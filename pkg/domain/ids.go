// Package domain defines the identity primitives shared by every settlement
// service. Identities and asset IDs are 32-byte values rendered as base58,
// parsed and validated once at trust boundaries so services never handle raw
// strings.
package domain

import (
	"bytes"
	"crypto/rand"

	"github.com/mr-tron/base58"

	dErrors "custodia/pkg/domain-errors"
)

// Identity is the address of a party on the external ledger: an end user, an
// admin, a fee recipient, or a derived custody address. Distinct from AssetID
// at the type level so the two cannot be swapped in a leg.
type Identity [32]byte

// AssetID identifies a mint on the external ledger: a unique item being
// escrowed, the credit mint, or a payment currency mint.
type AssetID [32]byte

var zero32 [32]byte

// ParseIdentity validates and decodes a base58-rendered identity.
func ParseIdentity(s string) (Identity, error) {
	raw, err := parse32(s)
	if err != nil {
		return Identity{}, err
	}
	return Identity(raw), nil
}

// ParseAssetID validates and decodes a base58-rendered asset ID.
func ParseAssetID(s string) (AssetID, error) {
	raw, err := parse32(s)
	if err != nil {
		return AssetID{}, err
	}
	return AssetID(raw), nil
}

func parse32(s string) ([32]byte, error) {
	var out [32]byte
	if s == "" {
		return out, dErrors.New(dErrors.CodeInvalidInput, "identity cannot be empty")
	}
	raw, err := base58.Decode(s)
	if err != nil {
		return out, dErrors.New(dErrors.CodeInvalidInput, "identity is not valid base58")
	}
	if len(raw) != 32 {
		return out, dErrors.New(dErrors.CodeInvalidInput, "identity must decode to 32 bytes")
	}
	copy(out[:], raw)
	if out == zero32 {
		return out, dErrors.New(dErrors.CodeInvalidInput, "identity cannot be the zero address")
	}
	return out, nil
}

func (i Identity) String() string { return base58.Encode(i[:]) }
func (i Identity) IsZero() bool   { return i == Identity(zero32) }
func (i Identity) Bytes() []byte  { return bytes.Clone(i[:]) }

// MarshalText renders the identity as base58 for JSON and logging.
func (i Identity) MarshalText() ([]byte, error) { return []byte(i.String()), nil }

func (i *Identity) UnmarshalText(text []byte) error {
	parsed, err := ParseIdentity(string(text))
	if err != nil {
		return err
	}
	*i = parsed
	return nil
}

func (a AssetID) String() string { return base58.Encode(a[:]) }
func (a AssetID) IsZero() bool   { return a == AssetID(zero32) }
func (a AssetID) Bytes() []byte  { return bytes.Clone(a[:]) }

// MarshalText renders the asset ID as base58 for JSON and logging.
func (a AssetID) MarshalText() ([]byte, error) { return []byte(a.String()), nil }

func (a *AssetID) UnmarshalText(text []byte) error {
	parsed, err := ParseAssetID(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// NewIdentity generates a random identity. Test and bootstrap helper; real
// identities arrive from callers already minted by the external ledger.
func NewIdentity() Identity {
	var i Identity
	if _, err := rand.Read(i[:]); err != nil {
		panic(err)
	}
	return i
}

// NewAssetID generates a random asset ID. Test and bootstrap helper.
func NewAssetID() AssetID {
	var a AssetID
	if _, err := rand.Read(a[:]); err != nil {
		panic(err)
	}
	return a
}
