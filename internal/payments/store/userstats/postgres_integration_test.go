//go:build integration

package userstats_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"custodia/internal/payments/store/userstats"
	id "custodia/pkg/domain"
	"custodia/pkg/platform/sentinel"
	"custodia/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *userstats.PostgresStore
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
	s.store = userstats.NewPostgres(s.postgres.DB)
}

func (s *PostgresStoreSuite) SetupTest() {
	err := s.postgres.TruncateTables(context.Background(), "payment_user_stats")
	s.Require().NoError(err)
}

func (s *PostgresStoreSuite) TestCreateOrGetRoundTrip() {
	ctx := context.Background()
	user := id.NewIdentity()

	st, err := s.store.CreateOrGet(ctx, user)
	s.Require().NoError(err)
	s.Equal(uint64(0), st.PaymentCount)
	s.True(st.LastPaidAt.IsZero())

	st.TotalNativePaid = 300
	st.PaymentCount = 3
	st.CreditsPurchased = 3
	st.LastPaidAt = time.Now().UTC().Truncate(time.Microsecond)
	s.Require().NoError(s.store.Update(ctx, st))

	got, err := s.store.Find(ctx, user)
	s.Require().NoError(err)
	s.Equal(uint64(300), got.TotalNativePaid)
	s.Equal(uint64(3), got.PaymentCount)
	s.Equal(uint64(3), got.CreditsPurchased)
	s.WithinDuration(st.LastPaidAt, got.LastPaidAt, time.Millisecond)
}

// TestConcurrentCreateOrGet races first-payment record creation; accrued
// totals must never be reset by a late INSERT.
func (s *PostgresStoreSuite) TestConcurrentCreateOrGet() {
	ctx := context.Background()
	user := id.NewIdentity()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.store.CreateOrGet(ctx, user)
			s.NoError(err)
		}()
	}
	wg.Wait()

	st, err := s.store.CreateOrGet(ctx, user)
	s.Require().NoError(err)
	st.PaymentCount = 7
	s.Require().NoError(s.store.Update(ctx, st))

	again, err := s.store.CreateOrGet(ctx, user)
	s.Require().NoError(err)
	s.Equal(uint64(7), again.PaymentCount)
}

func (s *PostgresStoreSuite) TestFindUnknown() {
	_, err := s.store.Find(context.Background(), id.NewIdentity())
	s.ErrorIs(err, sentinel.ErrNotFound)
}
