package spender

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"custodia/internal/credits/models"
	id "custodia/pkg/domain"
	"custodia/pkg/platform/sentinel"
)

// PostgresStore persists spender authorizations in PostgreSQL.
//
// Schema:
//
//	CREATE TABLE credit_spenders (
//	    spender     TEXT PRIMARY KEY,
//	    authorized  BOOLEAN NOT NULL,
//	    total_spent BIGINT NOT NULL,
//	    updated_at  TIMESTAMPTZ NOT NULL
//	);
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Upsert(ctx context.Context, sp *models.Spender) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO credit_spenders (spender, authorized, total_spent, updated_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (spender) DO UPDATE
		 SET authorized = EXCLUDED.authorized, updated_at = EXCLUDED.updated_at`,
		sp.Spender.String(), sp.Authorized, int64(sp.TotalSpent), sp.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert spender: %w", err)
	}
	return nil
}

func (s *PostgresStore) Find(ctx context.Context, spender id.Identity) (*models.Spender, error) {
	var (
		sp         models.Spender
		raw        string
		totalSpent int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT spender, authorized, total_spent, updated_at
		 FROM credit_spenders WHERE spender = $1`,
		spender.String(),
	).Scan(&raw, &sp.Authorized, &totalSpent, &sp.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find spender: %w", err)
	}
	if sp.Spender, err = id.ParseIdentity(raw); err != nil {
		return nil, fmt.Errorf("scan spender: %w", err)
	}
	sp.TotalSpent = uint64(totalSpent)
	return &sp, nil
}

func (s *PostgresStore) Update(ctx context.Context, sp *models.Spender) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE credit_spenders
		 SET authorized = $2, total_spent = $3, updated_at = $4
		 WHERE spender = $1`,
		sp.Spender.String(), sp.Authorized, int64(sp.TotalSpent), sp.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update spender: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update spender: %w", err)
	}
	if rows == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}
