// Package models defines the convertible-credit records.
package models

import (
	"time"

	id "custodia/pkg/domain"
	dErrors "custodia/pkg/domain-errors"
)

// UnitsPerCredit is the base-unit scale of the credit asset (9 decimals).
const UnitsPerCredit = 1_000_000_000

// MaxSupply caps issuance at 10 million whole credits.
const MaxSupply = 10_000_000 * UnitsPerCredit

// Config is the credit service's singleton authority record. PricePerCredit
// is the native units charged (or paid out) per whole credit.
type Config struct {
	Admin          id.Identity `json:"admin"`
	Mint           id.AssetID  `json:"mint"`
	PricePerCredit uint64      `json:"price_per_credit"`
	Paused         bool        `json:"paused"`
}

func NewConfig(admin id.Identity, mint id.AssetID, pricePerCredit uint64) (*Config, error) {
	if admin.IsZero() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "admin identity is required")
	}
	if mint.IsZero() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "credit mint is required")
	}
	if pricePerCredit == 0 {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "price must be positive")
	}
	return &Config{
		Admin:          admin,
		Mint:           mint,
		PricePerCredit: pricePerCredit,
	}, nil
}

// RequireAdmin gates admin-only operations.
func (c *Config) RequireAdmin(caller id.Identity) error {
	if caller != c.Admin {
		return dErrors.New(dErrors.CodeUnauthorized, "caller is not the credit admin")
	}
	return nil
}

// RequireRunning gates value-moving operations on the pause flag.
func (c *Config) RequireRunning() error {
	if c.Paused {
		return dErrors.New(dErrors.CodeServicePaused, "credit service is paused")
	}
	return nil
}

// Spender is a delegated-spend authorization keyed by the spender's own
// identity, created or updated by the admin and consulted on every
// delegated spend. TotalSpent accrues the burnt units for audit.
type Spender struct {
	Spender    id.Identity `json:"spender"`
	Authorized bool        `json:"authorized"`
	TotalSpent uint64      `json:"total_spent"`
	UpdatedAt  time.Time   `json:"updated_at"`
}

// RequireAuthorized fails delegated spends for revoked or never-authorized
// spenders.
func (s *Spender) RequireAuthorized() error {
	if !s.Authorized {
		return dErrors.New(dErrors.CodeUnauthorized, "spender is not authorized")
	}
	return nil
}
