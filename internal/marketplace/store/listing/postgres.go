package listing

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"custodia/internal/marketplace/models"
	id "custodia/pkg/domain"
	"custodia/pkg/platform/sentinel"
)

// PostgresStore persists listings in PostgreSQL.
//
// Schema:
//
//	CREATE TABLE marketplace_listings (
//	    asset          TEXT PRIMARY KEY,
//	    listing_id     BIGINT NOT NULL,
//	    seller         TEXT NOT NULL,
//	    price          BIGINT NOT NULL,
//	    active         BOOLEAN NOT NULL,
//	    escrow_account TEXT NOT NULL,
//	    created_at     TIMESTAMPTZ NOT NULL
//	);
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Create(ctx context.Context, l *models.Listing) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO marketplace_listings (asset, listing_id, seller, price, active, escrow_account, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		l.Asset.String(), int64(l.ListingID), l.Seller.String(), int64(l.Price),
		l.Active, l.EscrowAccount.String(), l.CreatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return sentinel.ErrAlreadyExists
		}
		return fmt.Errorf("create listing: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByAsset(ctx context.Context, asset id.AssetID) (*models.Listing, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT asset, listing_id, seller, price, active, escrow_account, created_at
		 FROM marketplace_listings WHERE asset = $1`,
		asset.String(),
	)
	return scanListing(row)
}

func (s *PostgresStore) Update(ctx context.Context, l *models.Listing) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE marketplace_listings
		 SET price = $2, active = $3
		 WHERE asset = $1`,
		l.Asset.String(), int64(l.Price), l.Active,
	)
	if err != nil {
		return fmt.Errorf("update listing: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update listing: %w", err)
	}
	if rows == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListActive(ctx context.Context) ([]models.Listing, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT asset, listing_id, seller, price, active, escrow_account, created_at
		 FROM marketplace_listings WHERE active ORDER BY listing_id`,
	)
	if err != nil {
		return nil, fmt.Errorf("list active listings: %w", err)
	}
	defer rows.Close()

	var out []models.Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *l)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanListing(row scanner) (*models.Listing, error) {
	var (
		l                     models.Listing
		asset, seller, escrow string
		listingID, price      int64
	)
	err := row.Scan(&asset, &listingID, &seller, &price, &l.Active, &escrow, &l.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("scan listing: %w", err)
	}
	if l.Asset, err = id.ParseAssetID(asset); err != nil {
		return nil, fmt.Errorf("scan listing asset: %w", err)
	}
	if l.Seller, err = id.ParseIdentity(seller); err != nil {
		return nil, fmt.Errorf("scan listing seller: %w", err)
	}
	if l.EscrowAccount, err = id.ParseIdentity(escrow); err != nil {
		return nil, fmt.Errorf("scan listing escrow: %w", err)
	}
	l.ListingID = uint64(listingID)
	l.Price = uint64(price)
	return &l, nil
}
