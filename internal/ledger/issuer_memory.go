package ledger

import (
	"context"
	"fmt"
	"sync"

	id "custodia/pkg/domain"
	"custodia/pkg/platform/sentinel"
)

// MemoryIssuer records issued unique items in memory. It stands in for the
// external metadata service in wiring and tests.
type MemoryIssuer struct {
	mu    sync.Mutex
	items map[id.AssetID]IssuedItem
}

type IssuedItem struct {
	Asset              id.AssetID
	Metadata           ItemMetadata
	UpdateAuthority    id.Identity
	RoyaltyBasisPoints uint16
}

func NewMemoryIssuer() *MemoryIssuer {
	return &MemoryIssuer{items: make(map[id.AssetID]IssuedItem)}
}

func (i *MemoryIssuer) CreateUniqueItem(_ context.Context, asset id.AssetID, meta ItemMetadata, auth Authority, royaltyBasisPoints uint16) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if _, ok := i.items[asset]; ok {
		return fmt.Errorf("unique item: %w", sentinel.ErrAlreadyExists)
	}
	i.items[asset] = IssuedItem{
		Asset:              asset,
		Metadata:           meta,
		UpdateAuthority:    auth.Address(),
		RoyaltyBasisPoints: royaltyBasisPoints,
	}
	return nil
}

// Item returns the issued record for an asset. Test helper.
func (i *MemoryIssuer) Item(asset id.AssetID) (IssuedItem, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	item, ok := i.items[asset]
	return item, ok
}
