package ledger

import (
	"context"
	"fmt"
	"sync"

	id "custodia/pkg/domain"
	"custodia/pkg/platform/sentinel"
)

// Rent parameters of the host store: a record must keep
// (storage overhead + its data length) * perByteYear * exemptionYears
// on balance to avoid eviction.
const (
	storageOverhead = 128
	perByteYear     = 3480
	exemptionYears  = 2
)

// Memory is an in-memory ledger. It favors clarity over performance: a tx
// stages a full copy of the books and commits under one lock, which gives
// the whole-operation atomicity the settlement core assumes of its host.
type Memory struct {
	mu         sync.Mutex
	native     map[id.Identity]uint64
	accounts   map[id.Identity]TokenAccount
	mints      map[id.AssetID]mintInfo
	custodians map[id.Identity]struct{}
}

type mintInfo struct {
	authority id.Identity
	supply    uint64
}

func NewMemory() *Memory {
	return &Memory{
		native:     make(map[id.Identity]uint64),
		accounts:   make(map[id.Identity]TokenAccount),
		mints:      make(map[id.AssetID]mintInfo),
		custodians: make(map[id.Identity]struct{}),
	}
}

func (m *Memory) MinimumBalance(dataLen int) uint64 {
	return uint64(storageOverhead+dataLen) * perByteYear * exemptionYears
}

func (m *Memory) InTx(ctx context.Context, fn func(Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &memTx{
		native:     cloneMap(m.native),
		accounts:   cloneMap(m.accounts),
		mints:      cloneMap(m.mints),
		custodians: m.custodians,
	}
	if err := fn(tx); err != nil {
		return err
	}
	m.native = tx.native
	m.accounts = tx.accounts
	m.mints = tx.mints
	return nil
}

// --- bootstrap helpers, outside the Tx surface ---

// CreateMint registers an asset and its mint authority.
func (m *Memory) CreateMint(asset id.AssetID, authority id.Identity) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mints[asset] = mintInfo{authority: authority}
}

// Deposit credits native currency to an identity.
func (m *Memory) Deposit(holder id.Identity, amount uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.native[holder] += amount
}

// RegisterCustodian marks an identity as key-less. Native funds held by a
// registered custodian move only under a Capability authority.
func (m *Memory) RegisterCustodian(addr id.Identity) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.custodians[addr] = struct{}{}
}

type memTx struct {
	native     map[id.Identity]uint64
	accounts   map[id.Identity]TokenAccount
	mints      map[id.AssetID]mintInfo
	custodians map[id.Identity]struct{}
}

func (t *memTx) Transfer(from, to id.Identity, auth Authority, amount uint64) error {
	if auth.Address() != from {
		return fmt.Errorf("native transfer: %w", ErrBadAuthority)
	}
	if _, ok := t.custodians[from]; ok {
		if _, capable := auth.(Capability); !capable {
			return fmt.Errorf("native transfer from custodian: %w", ErrBadAuthority)
		}
	}
	if t.native[from] < amount {
		return fmt.Errorf("native transfer: %w", sentinel.ErrInsufficient)
	}
	t.native[from] -= amount
	t.native[to] += amount
	return nil
}

func (t *memTx) TokenTransfer(from, to id.Identity, auth Authority, amount uint64) error {
	src, ok := t.accounts[from]
	if !ok {
		return fmt.Errorf("token transfer source: %w", sentinel.ErrNotFound)
	}
	dst, ok := t.accounts[to]
	if !ok {
		return fmt.Errorf("token transfer destination: %w", sentinel.ErrNotFound)
	}
	if src.Asset != dst.Asset {
		return fmt.Errorf("token transfer across assets: %w", sentinel.ErrInvalidState)
	}
	if err := ownerAuthority(src, auth); err != nil {
		return fmt.Errorf("token transfer: %w", err)
	}
	if src.Balance < amount {
		return fmt.Errorf("token transfer: %w", sentinel.ErrInsufficient)
	}
	src.Balance -= amount
	dst.Balance += amount
	t.accounts[from] = src
	t.accounts[to] = dst
	return nil
}

func (t *memTx) MintTo(asset id.AssetID, to id.Identity, auth Authority, amount uint64) error {
	mint, ok := t.mints[asset]
	if !ok {
		return fmt.Errorf("mint: %w", sentinel.ErrNotFound)
	}
	if auth.Address() != mint.authority {
		return fmt.Errorf("mint: %w", ErrBadAuthority)
	}
	if _, ok := t.custodians[mint.authority]; ok {
		if _, capable := auth.(Capability); !capable {
			return fmt.Errorf("mint under custodian authority: %w", ErrBadAuthority)
		}
	}
	acct, ok := t.accounts[to]
	if !ok {
		return fmt.Errorf("mint destination: %w", sentinel.ErrNotFound)
	}
	if acct.Asset != asset {
		return fmt.Errorf("mint destination asset: %w", sentinel.ErrInvalidState)
	}
	mint.supply += amount
	acct.Balance += amount
	t.mints[asset] = mint
	t.accounts[to] = acct
	return nil
}

func (t *memTx) Burn(asset id.AssetID, from id.Identity, auth Authority, amount uint64) error {
	mint, ok := t.mints[asset]
	if !ok {
		return fmt.Errorf("burn: %w", sentinel.ErrNotFound)
	}
	acct, ok := t.accounts[from]
	if !ok {
		return fmt.Errorf("burn source: %w", sentinel.ErrNotFound)
	}
	if acct.Asset != asset {
		return fmt.Errorf("burn source asset: %w", sentinel.ErrInvalidState)
	}
	if err := ownerAuthority(acct, auth); err != nil {
		return fmt.Errorf("burn: %w", err)
	}
	if acct.Balance < amount {
		return fmt.Errorf("burn: %w", sentinel.ErrInsufficient)
	}
	mint.supply -= amount
	acct.Balance -= amount
	t.mints[asset] = mint
	t.accounts[from] = acct
	return nil
}

func (t *memTx) CreateAccount(addr id.Identity, asset id.AssetID, owner id.Identity) error {
	return t.create(addr, asset, owner, false)
}

func (t *memTx) CreateCustodyAccount(addr id.Identity, asset id.AssetID, owner Capability) error {
	return t.create(addr, asset, owner.Address(), true)
}

func (t *memTx) create(addr id.Identity, asset id.AssetID, owner id.Identity, custodial bool) error {
	if _, ok := t.accounts[addr]; ok {
		return fmt.Errorf("create account: %w", sentinel.ErrAlreadyExists)
	}
	if _, ok := t.mints[asset]; !ok {
		return fmt.Errorf("create account mint: %w", sentinel.ErrNotFound)
	}
	t.accounts[addr] = TokenAccount{Address: addr, Asset: asset, Owner: owner, Custodial: custodial}
	return nil
}

// ownerAuthority checks that auth controls the account: the owner's own
// signature for user accounts, the owning Capability for custody accounts.
func ownerAuthority(acct TokenAccount, auth Authority) error {
	if auth.Address() != acct.Owner {
		return ErrBadAuthority
	}
	if acct.Custodial {
		if _, capable := auth.(Capability); !capable {
			return ErrBadAuthority
		}
	}
	return nil
}

func (t *memTx) Balance(holder id.Identity) (uint64, error) {
	return t.native[holder], nil
}

func (t *memTx) Account(addr id.Identity) (TokenAccount, error) {
	acct, ok := t.accounts[addr]
	if !ok {
		return TokenAccount{}, fmt.Errorf("account: %w", sentinel.ErrNotFound)
	}
	return acct, nil
}

func (t *memTx) Supply(asset id.AssetID) (uint64, error) {
	mint, ok := t.mints[asset]
	if !ok {
		return 0, fmt.Errorf("supply: %w", sentinel.ErrNotFound)
	}
	return mint.supply, nil
}

func cloneMap[K comparable, V any](src map[K]V) map[K]V {
	dst := make(map[K]V, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
