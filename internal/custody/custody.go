// Package custody implements the derived custody identity: a deterministic,
// key-less address that only the deriving service can authorize transfers
// for. On the original host this is a hash-to-address derivation with a bump
// search; here it is a capability object — a Handle is only ever minted by a
// Deriver, which is constructed once per service at bootstrap, so no external
// caller can fabricate the authorization for a custody account.
package custody

import (
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/hkdf"

	id "custodia/pkg/domain"
)

const derivationInfo = "custodia/custody/v1"

// Deriver derives custody handles for one service. The seed is the service's
// derivation salt; identical seeds and discriminants always yield identical
// addresses, and no signing key corresponds to any derived address.
type Deriver struct {
	seed      []byte
	namespace string
}

// NewDeriver constructs a Deriver for the given service namespace
// (e.g. "marketplace", "credits"). The seed must be stable across restarts:
// escrow released tomorrow must resolve to the address funded today.
func NewDeriver(namespace string, seed []byte) *Deriver {
	s := make([]byte, len(seed))
	copy(s, seed)
	return &Deriver{seed: s, namespace: namespace}
}

// Derive computes the custody handle for a discriminant, such as an escrowed
// asset's ID or the service's fixed treasury tag. Deterministic: the same
// namespace and discriminant always produce the same address.
func (d *Deriver) Derive(discriminant []byte) Handle {
	info := make([]byte, 0, len(derivationInfo)+1+len(d.namespace)+1+len(discriminant))
	info = append(info, derivationInfo...)
	info = append(info, 0x1f)
	info = append(info, d.namespace...)
	info = append(info, 0x1f)
	info = append(info, discriminant...)

	reader := hkdf.New(sha256.New, d.seed, nil, info)
	var addr id.Identity
	if _, err := io.ReadFull(reader, addr[:]); err != nil {
		// hkdf only errors when asked for more than 255 blocks.
		panic(err)
	}
	return Handle{addr: addr}
}

// Treasury derives the service's fixed treasury handle, used for currency
// custody rather than per-asset escrow.
func (d *Deriver) Treasury() Handle {
	return d.Derive([]byte("treasury"))
}

// Handle is the authorization capability for one custody address. Its fields
// are unexported: the only way to obtain a Handle for an address is to hold
// the Deriver that minted it, which the settlement services never leak.
type Handle struct {
	addr id.Identity
}

// Address returns the ledger address the handle controls.
func (h Handle) Address() id.Identity { return h.addr }

// Custodial marks the handle as a derived, key-less authority. The ledger
// releases custody funds only to authorities carrying this marker, so a
// plain signer claiming a custody address is rejected.
func (Handle) Custodial() {}
