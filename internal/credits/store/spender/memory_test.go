package spender

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"custodia/internal/credits/models"
	id "custodia/pkg/domain"
	"custodia/pkg/platform/sentinel"
)

type SpenderStoreSuite struct {
	suite.Suite
	store *InMemory
	ctx   context.Context
}

func TestSpenderStoreSuite(t *testing.T) {
	suite.Run(t, new(SpenderStoreSuite))
}

func (s *SpenderStoreSuite) SetupTest() {
	s.store = NewInMemory()
	s.ctx = context.Background()
}

func (s *SpenderStoreSuite) record(authorized bool) *models.Spender {
	return &models.Spender{
		Spender:    id.NewIdentity(),
		Authorized: authorized,
		UpdatedAt:  time.Now().UTC(),
	}
}

func (s *SpenderStoreSuite) TestUpsertAndFind() {
	sp := s.record(true)
	s.Require().NoError(s.store.Upsert(s.ctx, sp))

	got, err := s.store.Find(s.ctx, sp.Spender)
	s.Require().NoError(err)
	s.True(got.Authorized)
	s.Equal(uint64(0), got.TotalSpent)
}

func (s *SpenderStoreSuite) TestFindUnknown() {
	_, err := s.store.Find(s.ctx, id.NewIdentity())
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *SpenderStoreSuite) TestUpsertPreservesTotalSpent() {
	sp := s.record(true)
	s.Require().NoError(s.store.Upsert(s.ctx, sp))

	got, err := s.store.Find(s.ctx, sp.Spender)
	s.Require().NoError(err)
	got.TotalSpent = 700
	s.Require().NoError(s.store.Update(s.ctx, got))

	revoked := &models.Spender{Spender: sp.Spender, Authorized: false, UpdatedAt: time.Now().UTC()}
	s.Require().NoError(s.store.Upsert(s.ctx, revoked))

	got, err = s.store.Find(s.ctx, sp.Spender)
	s.Require().NoError(err)
	s.False(got.Authorized)
	s.Equal(uint64(700), got.TotalSpent)
}

func (s *SpenderStoreSuite) TestUpdateUnknown() {
	err := s.store.Update(s.ctx, s.record(true))
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *SpenderStoreSuite) TestCopySemantics() {
	sp := s.record(true)
	s.Require().NoError(s.store.Upsert(s.ctx, sp))

	got, err := s.store.Find(s.ctx, sp.Spender)
	s.Require().NoError(err)
	got.TotalSpent = 1

	again, err := s.store.Find(s.ctx, sp.Spender)
	s.Require().NoError(err)
	s.Equal(uint64(0), again.TotalSpent)
}
