// Package ledger specifies the external asset ledger at its interface: the
// collaborator that actually holds native balances and token accounts and
// performs leg transfers, minting, and burning when instructed. The
// settlement services own no balances themselves — every invariant about who
// may move value is enforced here against an Authority.
package ledger

import (
	"context"
	"errors"

	id "custodia/pkg/domain"
)

// Ledger-level facts, wrapped into domain errors by services.
var (
	ErrBadAuthority = errors.New("authority does not control the source account")
)

// Authority authorizes a leg out of an account. Two kinds exist: a Signer,
// representing an end user authenticated by the transport, and a custody
// Handle, minted only by a service's Deriver. Handles are unforgeable by
// external callers because nothing outside the process can supply an
// Authority value at all; inside the process, services never leak their
// Deriver.
type Authority interface {
	Address() id.Identity
}

type signer struct{ identity id.Identity }

func (s signer) Address() id.Identity { return s.identity }

// Signer returns the authority representing an end user's own signature.
func Signer(identity id.Identity) Authority { return signer{identity: identity} }

// Capability is an Authority minted by a service's custody Deriver rather
// than backed by a signing key. Accounts created through
// CreateCustodyAccount release funds only to a Capability: a Signer
// claiming the custody address is rejected, so the derived identity is the
// sole way to move custody funds rather than an address that happens to
// match.
type Capability interface {
	Authority
	// Custodial marks the authority as derived. No signing key exists for
	// a Capability's address.
	Custodial()
}

// TokenAccount is a ledger account holding units of one asset. Transfers out
// require the Owner's authority; custodial accounts require the owning
// Capability.
type TokenAccount struct {
	Address   id.Identity
	Asset     id.AssetID
	Owner     id.Identity
	Balance   uint64
	Custodial bool
}

// Tx is the leg-execution surface inside one atomic operation. Every method
// fails the whole operation on insufficient balance or authority mismatch;
// no leg's effect is observable unless the enclosing InTx commits.
type Tx interface {
	// Transfer moves native currency between identities.
	Transfer(from, to id.Identity, auth Authority, amount uint64) error
	// TokenTransfer moves asset units between token accounts.
	TokenTransfer(from, to id.Identity, auth Authority, amount uint64) error
	// MintTo creates amount new units of asset in the target account.
	// Requires the asset's mint authority.
	MintTo(asset id.AssetID, to id.Identity, auth Authority, amount uint64) error
	// Burn destroys amount units held by the source account. Requires the
	// account owner's authority.
	Burn(asset id.AssetID, from id.Identity, auth Authority, amount uint64) error
	// CreateAccount initializes an empty token account.
	CreateAccount(addr id.Identity, asset id.AssetID, owner id.Identity) error
	// CreateCustodyAccount initializes an empty token account owned by a
	// derived identity. Transfers and burns out of it require the owning
	// Capability, never a Signer.
	CreateCustodyAccount(addr id.Identity, asset id.AssetID, owner Capability) error

	Balance(holder id.Identity) (uint64, error)
	Account(addr id.Identity) (TokenAccount, error)
	Supply(asset id.AssetID) (uint64, error)
}

// Ledger is the external asset ledger. InTx provides whole-operation
// atomicity: either every leg commits or none does, and no concurrent
// operation observes a partial application.
type Ledger interface {
	InTx(ctx context.Context, fn func(Tx) error) error

	// MinimumBalance is the floor a custody record must retain to stay
	// resident in the host's persistent store. A hard constraint of the
	// host, not a policy choice; recompute at every withdrawal.
	MinimumBalance(dataLen int) uint64
}

// ItemMetadata is the descriptive record attached to a newly issued unique
// item by the external metadata service.
type ItemMetadata struct {
	Name   string
	Symbol string
	URI    string
}

// Issuer is the external metadata/issuance service consumed when a unique
// item is created.
type Issuer interface {
	CreateUniqueItem(ctx context.Context, asset id.AssetID, meta ItemMetadata, auth Authority, royaltyBasisPoints uint16) error
}
