// Package models defines the marketplace's persistent records.
package models

import (
	"time"

	id "custodia/pkg/domain"
	dErrors "custodia/pkg/domain-errors"
)

// MaxFeeBasisPoints caps the platform fee at 10%. Enforced when the fee is
// set, not when it is charged, so a charge can trust the stored value.
const MaxFeeBasisPoints = 1000

// Config is the marketplace's singleton authority record.
//
// Invariants:
//   - FeeBasisPoints <= MaxFeeBasisPoints
//   - ListingCount only grows, with checked arithmetic
//   - Admin is immutable after bootstrap
type Config struct {
	Admin          id.Identity `json:"admin"`
	FeeRecipient   id.Identity `json:"fee_recipient"`
	FeeBasisPoints uint64      `json:"fee_basis_points"`
	ListingCount   uint64      `json:"listing_count"`
	Paused         bool        `json:"paused"`
}

func NewConfig(admin, feeRecipient id.Identity, feeBasisPoints uint64) (*Config, error) {
	if admin.IsZero() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "admin identity is required")
	}
	if feeRecipient.IsZero() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "fee recipient is required")
	}
	if feeBasisPoints > MaxFeeBasisPoints {
		return nil, dErrors.New(dErrors.CodeFeeTooHigh, "fee cannot exceed 10%")
	}
	return &Config{
		Admin:          admin,
		FeeRecipient:   feeRecipient,
		FeeBasisPoints: feeBasisPoints,
	}, nil
}

// RequireAdmin gates admin-only operations.
func (c *Config) RequireAdmin(caller id.Identity) error {
	if caller != c.Admin {
		return dErrors.New(dErrors.CodeUnauthorized, "caller is not the marketplace admin")
	}
	return nil
}

// RequireRunning gates value-moving operations on the pause flag.
func (c *Config) RequireRunning() error {
	if c.Paused {
		return dErrors.New(dErrors.CodeServicePaused, "marketplace is paused")
	}
	return nil
}

// Listing is a registry entry keyed by the escrowed asset. One-shot state
// machine: active until sold or cancelled, never reactivated, never deleted.
type Listing struct {
	ListingID     uint64      `json:"listing_id"`
	Asset         id.AssetID  `json:"asset"`
	Seller        id.Identity `json:"seller"`
	Price         uint64      `json:"price"`
	Active        bool        `json:"active"`
	EscrowAccount id.Identity `json:"escrow_account"`
	CreatedAt     time.Time   `json:"created_at"`
}

// RequireActive fails settlement on retired entries.
func (l *Listing) RequireActive() error {
	if !l.Active {
		return dErrors.New(dErrors.CodeNotActive, "listing is not active")
	}
	return nil
}

// RequireSeller gates owner-only mutations.
func (l *Listing) RequireSeller(caller id.Identity) error {
	if caller != l.Seller {
		return dErrors.New(dErrors.CodeUnauthorized, "caller is not the seller")
	}
	return nil
}
