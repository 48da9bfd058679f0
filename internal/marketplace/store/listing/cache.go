package listing

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"custodia/internal/marketplace/models"
	id "custodia/pkg/domain"
)

const (
	// Redis key prefix for cached listings
	listingKeyPrefix = "mkt:listing:"

	listingTTL = 30 * time.Second
)

// backing is the subset of the listing store the cache decorates.
type backing interface {
	Create(ctx context.Context, l *models.Listing) error
	FindByAsset(ctx context.Context, asset id.AssetID) (*models.Listing, error)
	Update(ctx context.Context, l *models.Listing) error
	ListActive(ctx context.Context) ([]models.Listing, error)
}

// Cached is a read-through Redis cache in front of another listing store.
// Cache failures degrade to the backing store; a stale or missing entry is
// never an error. Writes invalidate before hitting the backing store so a
// concurrent reader repopulates from fresh data.
type Cached struct {
	client *redis.Client
	next   backing
}

func NewCached(client *redis.Client, next backing) *Cached {
	return &Cached{client: client, next: next}
}

func (c *Cached) Create(ctx context.Context, l *models.Listing) error {
	c.invalidate(ctx, l.Asset)
	return c.next.Create(ctx, l)
}

func (c *Cached) FindByAsset(ctx context.Context, asset id.AssetID) (*models.Listing, error) {
	key := listingKeyPrefix + asset.String()

	raw, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		var l models.Listing
		if json.Unmarshal(raw, &l) == nil {
			return &l, nil
		}
	} else if !errors.Is(err, redis.Nil) && ctx.Err() != nil {
		return nil, ctx.Err()
	}

	l, err := c.next.FindByAsset(ctx, asset)
	if err != nil {
		return nil, err
	}
	if raw, err := json.Marshal(l); err == nil {
		c.client.Set(ctx, key, raw, listingTTL)
	}
	return l, nil
}

func (c *Cached) Update(ctx context.Context, l *models.Listing) error {
	c.invalidate(ctx, l.Asset)
	return c.next.Update(ctx, l)
}

// ListActive always reads through; the scan is admin-facing and rare.
func (c *Cached) ListActive(ctx context.Context) ([]models.Listing, error) {
	return c.next.ListActive(ctx)
}

func (c *Cached) invalidate(ctx context.Context, asset id.AssetID) {
	c.client.Del(ctx, listingKeyPrefix+asset.String())
}
