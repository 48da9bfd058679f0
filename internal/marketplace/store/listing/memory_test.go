package listing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"custodia/internal/marketplace/models"
	id "custodia/pkg/domain"
	"custodia/pkg/platform/sentinel"
)

type ListingStoreSuite struct {
	suite.Suite
	store *InMemory
	ctx   context.Context
}

func (s *ListingStoreSuite) SetupTest() {
	s.store = NewInMemory()
	s.ctx = context.Background()
}

func TestListingStoreSuite(t *testing.T) {
	suite.Run(t, new(ListingStoreSuite))
}

func (s *ListingStoreSuite) newListing(listingID uint64) *models.Listing {
	return &models.Listing{
		ListingID:     listingID,
		Asset:         id.NewAssetID(),
		Seller:        id.NewIdentity(),
		Price:         1_000,
		Active:        true,
		EscrowAccount: id.NewIdentity(),
		CreatedAt:     time.Now(),
	}
}

// TestCreationAndLookups verifies the store correctly creates and retrieves listings.
func (s *ListingStoreSuite) TestCreationAndLookups() {
	s.Run("creates and finds listing by asset", func() {
		l := s.newListing(1)
		s.Require().NoError(s.store.Create(s.ctx, l))

		found, err := s.store.FindByAsset(s.ctx, l.Asset)
		s.Require().NoError(err)
		s.Equal(l.Seller, found.Seller)
		s.Equal(l.Price, found.Price)
	})

	s.Run("returns ErrNotFound for unknown asset", func() {
		_, err := s.store.FindByAsset(s.ctx, id.NewAssetID())
		s.Require().ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("returned listing is a copy", func() {
		l := s.newListing(2)
		s.Require().NoError(s.store.Create(s.ctx, l))

		found, err := s.store.FindByAsset(s.ctx, l.Asset)
		s.Require().NoError(err)
		found.Price = 9_999

		again, err := s.store.FindByAsset(s.ctx, l.Asset)
		s.Require().NoError(err)
		s.Equal(uint64(1_000), again.Price)
	})
}

// TestAssetUniqueness verifies the create-once slot per asset.
func (s *ListingStoreSuite) TestAssetUniqueness() {
	s.Run("rejects second listing for the same asset", func() {
		l1 := s.newListing(1)
		l2 := s.newListing(2)
		l2.Asset = l1.Asset

		s.Require().NoError(s.store.Create(s.ctx, l1))

		err := s.store.Create(s.ctx, l2)
		s.Require().Error(err)
		s.ErrorIs(err, sentinel.ErrAlreadyExists)
	})

	s.Run("slot stays occupied after retirement", func() {
		l := s.newListing(3)
		s.Require().NoError(s.store.Create(s.ctx, l))

		l.Active = false
		s.Require().NoError(s.store.Update(s.ctx, l))

		fresh := s.newListing(4)
		fresh.Asset = l.Asset
		err := s.store.Create(s.ctx, fresh)
		s.Require().ErrorIs(err, sentinel.ErrAlreadyExists)
	})
}

// TestUpdates verifies the store persists state transitions.
func (s *ListingStoreSuite) TestUpdates() {
	s.Run("persists deactivation and price changes", func() {
		l := s.newListing(1)
		s.Require().NoError(s.store.Create(s.ctx, l))

		l.Price = 2_500
		l.Active = false
		s.Require().NoError(s.store.Update(s.ctx, l))

		found, err := s.store.FindByAsset(s.ctx, l.Asset)
		s.Require().NoError(err)
		s.Equal(uint64(2_500), found.Price)
		s.False(found.Active)
	})

	s.Run("returns ErrNotFound for non-existent listing", func() {
		err := s.store.Update(s.ctx, s.newListing(99))
		s.Require().ErrorIs(err, sentinel.ErrNotFound)
	})
}

// TestListActive verifies only live entries are returned.
func (s *ListingStoreSuite) TestListActive() {
	live := s.newListing(1)
	retired := s.newListing(2)
	retired.Active = false

	s.Require().NoError(s.store.Create(s.ctx, live))
	s.Require().NoError(s.store.Create(s.ctx, retired))

	active, err := s.store.ListActive(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(active, 1)
	s.Equal(live.Asset, active[0].Asset)
}
