package configstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"custodia/pkg/platform/sentinel"
)

// Postgres persists a service's config record as a JSON document keyed by
// service name.
//
// Schema:
//
//	CREATE TABLE service_config (
//	    service TEXT PRIMARY KEY,
//	    record  JSONB NOT NULL,
//	    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
//	);
type Postgres[T any] struct {
	db      *sql.DB
	service string
}

func NewPostgres[T any](db *sql.DB, service string) *Postgres[T] {
	return &Postgres[T]{db: db, service: service}
}

func (p *Postgres[T]) Create(ctx context.Context, record *T) error {
	doc, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode config record: %w", err)
	}
	_, err = p.db.ExecContext(ctx,
		`INSERT INTO service_config (service, record) VALUES ($1, $2)`,
		p.service, doc,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return sentinel.ErrAlreadyExists
		}
		return fmt.Errorf("create config record: %w", err)
	}
	return nil
}

func (p *Postgres[T]) Get(ctx context.Context) (*T, error) {
	var doc []byte
	err := p.db.QueryRowContext(ctx,
		`SELECT record FROM service_config WHERE service = $1`,
		p.service,
	).Scan(&doc)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("get config record: %w", err)
	}
	record := new(T)
	if err := json.Unmarshal(doc, record); err != nil {
		return nil, fmt.Errorf("decode config record: %w", err)
	}
	return record, nil
}

func (p *Postgres[T]) Update(ctx context.Context, record *T) error {
	doc, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode config record: %w", err)
	}
	res, err := p.db.ExecContext(ctx,
		`UPDATE service_config SET record = $2, updated_at = now() WHERE service = $1`,
		p.service, doc,
	)
	if err != nil {
		return fmt.Errorf("update config record: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update config record: %w", err)
	}
	if rows == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}
