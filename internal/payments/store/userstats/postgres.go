package userstats

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"custodia/internal/payments/models"
	id "custodia/pkg/domain"
	"custodia/pkg/platform/sentinel"
)

// PostgresStore persists per-user payment accruals in PostgreSQL.
//
// Schema:
//
//	CREATE TABLE payment_user_stats (
//	    user_identity     TEXT PRIMARY KEY,
//	    total_native      BIGINT NOT NULL,
//	    total_stable      BIGINT NOT NULL,
//	    total_credit      BIGINT NOT NULL,
//	    payment_count     BIGINT NOT NULL,
//	    credits_purchased BIGINT NOT NULL,
//	    last_paid_at      TIMESTAMPTZ
//	);
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// CreateOrGet installs a zeroed record for a first-time payer, or returns the
// existing one untouched.
func (s *PostgresStore) CreateOrGet(ctx context.Context, user id.Identity) (*models.UserStats, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO payment_user_stats (user_identity, total_native, total_stable, total_credit, payment_count, credits_purchased)
		 VALUES ($1, 0, 0, 0, 0, 0)
		 ON CONFLICT (user_identity) DO NOTHING`,
		user.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("create user stats: %w", err)
	}
	return s.Find(ctx, user)
}

func (s *PostgresStore) Find(ctx context.Context, user id.Identity) (*models.UserStats, error) {
	var (
		st                             models.UserStats
		raw                            string
		native, stable, credit         int64
		paymentCount, creditsPurchased int64
		lastPaidAt                     sql.NullTime
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT user_identity, total_native, total_stable, total_credit, payment_count, credits_purchased, last_paid_at
		 FROM payment_user_stats WHERE user_identity = $1`,
		user.String(),
	).Scan(&raw, &native, &stable, &credit, &paymentCount, &creditsPurchased, &lastPaidAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find user stats: %w", err)
	}
	if st.User, err = id.ParseIdentity(raw); err != nil {
		return nil, fmt.Errorf("scan user stats: %w", err)
	}
	st.TotalNativePaid = uint64(native)
	st.TotalStablePaid = uint64(stable)
	st.TotalCreditPaid = uint64(credit)
	st.PaymentCount = uint64(paymentCount)
	st.CreditsPurchased = uint64(creditsPurchased)
	if lastPaidAt.Valid {
		st.LastPaidAt = lastPaidAt.Time
	}
	return &st, nil
}

func (s *PostgresStore) Update(ctx context.Context, st *models.UserStats) error {
	var lastPaidAt any
	if !st.LastPaidAt.IsZero() {
		lastPaidAt = st.LastPaidAt.UTC().Truncate(time.Microsecond)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE payment_user_stats
		 SET total_native = $2, total_stable = $3, total_credit = $4,
		     payment_count = $5, credits_purchased = $6, last_paid_at = $7
		 WHERE user_identity = $1`,
		st.User.String(),
		int64(st.TotalNativePaid), int64(st.TotalStablePaid), int64(st.TotalCreditPaid),
		int64(st.PaymentCount), int64(st.CreditsPurchased), lastPaidAt,
	)
	if err != nil {
		return fmt.Errorf("update user stats: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update user stats: %w", err)
	}
	if rows == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}
