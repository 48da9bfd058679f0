//go:build integration

package spender_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"custodia/internal/credits/models"
	"custodia/internal/credits/store/spender"
	id "custodia/pkg/domain"
	"custodia/pkg/platform/sentinel"
	"custodia/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *spender.PostgresStore
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.postgres = mgr.GetPostgres(s.T())
	s.store = spender.NewPostgres(s.postgres.DB)
}

func (s *PostgresStoreSuite) SetupTest() {
	err := s.postgres.TruncateTables(context.Background(), "credit_spenders")
	s.Require().NoError(err)
}

func (s *PostgresStoreSuite) TestRoundTrip() {
	ctx := context.Background()
	sp := &models.Spender{
		Spender:    id.NewIdentity(),
		Authorized: true,
		UpdatedAt:  time.Now().UTC().Truncate(time.Microsecond),
	}
	s.Require().NoError(s.store.Upsert(ctx, sp))

	got, err := s.store.Find(ctx, sp.Spender)
	s.Require().NoError(err)
	s.True(got.Authorized)
	s.Equal(uint64(0), got.TotalSpent)
	s.WithinDuration(sp.UpdatedAt, got.UpdatedAt, time.Millisecond)
}

// TestUpsertPreservesTotalSpent verifies re-authorization never resets the
// accrued spend total.
func (s *PostgresStoreSuite) TestUpsertPreservesTotalSpent() {
	ctx := context.Background()
	sp := &models.Spender{Spender: id.NewIdentity(), Authorized: true, UpdatedAt: time.Now().UTC()}
	s.Require().NoError(s.store.Upsert(ctx, sp))

	got, err := s.store.Find(ctx, sp.Spender)
	s.Require().NoError(err)
	got.TotalSpent = 1_234
	s.Require().NoError(s.store.Update(ctx, got))

	revoked := &models.Spender{Spender: sp.Spender, Authorized: false, UpdatedAt: time.Now().UTC()}
	s.Require().NoError(s.store.Upsert(ctx, revoked))

	got, err = s.store.Find(ctx, sp.Spender)
	s.Require().NoError(err)
	s.False(got.Authorized)
	s.Equal(uint64(1_234), got.TotalSpent)
}

func (s *PostgresStoreSuite) TestFindUnknown() {
	_, err := s.store.Find(context.Background(), id.NewIdentity())
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *PostgresStoreSuite) TestUpdateUnknown() {
	err := s.store.Update(context.Background(), &models.Spender{Spender: id.NewIdentity(), UpdatedAt: time.Now().UTC()})
	s.ErrorIs(err, sentinel.ErrNotFound)
}
