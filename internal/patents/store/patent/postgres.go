package patent

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"custodia/internal/patents/models"
	id "custodia/pkg/domain"
	"custodia/pkg/platform/sentinel"
)

// PostgresStore persists the patent registry in PostgreSQL. The discriminant
// is stored hex-encoded as the primary key.
//
// Schema:
//
//	CREATE TABLE patent_registry (
//	    discriminant  TEXT PRIMARY KEY,
//	    asset         TEXT NOT NULL,
//	    token_id      BIGINT NOT NULL,
//	    patent_number TEXT NOT NULL,
//	    owner         TEXT NOT NULL,
//	    issued_at     TIMESTAMPTZ NOT NULL
//	);
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Create(ctx context.Context, p *models.Patent) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO patent_registry (discriminant, asset, token_id, patent_number, owner, issued_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		hex.EncodeToString(p.Discriminant[:]), p.Asset.String(), int64(p.TokenID),
		p.PatentNumber, p.Owner.String(), p.IssuedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return sentinel.ErrAlreadyExists
		}
		return fmt.Errorf("create patent: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByDiscriminant(ctx context.Context, discriminant [32]byte) (*models.Patent, error) {
	var (
		p            models.Patent
		asset, owner string
		tokenID      int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT asset, token_id, patent_number, owner, issued_at
		 FROM patent_registry WHERE discriminant = $1`,
		hex.EncodeToString(discriminant[:]),
	).Scan(&asset, &tokenID, &p.PatentNumber, &owner, &p.IssuedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find patent: %w", err)
	}
	if p.Asset, err = id.ParseAssetID(asset); err != nil {
		return nil, fmt.Errorf("scan patent asset: %w", err)
	}
	if p.Owner, err = id.ParseIdentity(owner); err != nil {
		return nil, fmt.Errorf("scan patent owner: %w", err)
	}
	p.Discriminant = discriminant
	p.TokenID = uint64(tokenID)
	return &p, nil
}
