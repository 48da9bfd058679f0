// Package models defines the metered-access payment records.
package models

import (
	"time"

	id "custodia/pkg/domain"
	dErrors "custodia/pkg/domain-errors"
)

// Currency selects which slot a payment settles in.
type Currency string

const (
	CurrencyNative Currency = "native"
	CurrencyStable Currency = "stable"
	CurrencyCredit Currency = "credit"
)

// Valid reports whether the currency names a known slot.
func (c Currency) Valid() bool {
	switch c {
	case CurrencyNative, CurrencyStable, CurrencyCredit:
		return true
	}
	return false
}

// IsToken reports whether payments in this currency settle through a token
// account rather than native balances.
func (c Currency) IsToken() bool {
	return c == CurrencyStable || c == CurrencyCredit
}

// TokenSlot configures one token-denominated payment currency. The native
// slot carries a bare price and no mint, so retargeting it is impossible by
// construction.
type TokenSlot struct {
	Mint  id.AssetID `json:"mint"`
	Price uint64     `json:"price"`
}

// Config is the payment service's singleton authority record. Prices are in
// the base units of each currency; CreditsPerPayment is the metered-access
// grant per completed payment, fixed at bootstrap.
type Config struct {
	Admin             id.Identity `json:"admin"`
	NativePrice       uint64      `json:"native_price"`
	Stable            TokenSlot   `json:"stable"`
	Credit            TokenSlot   `json:"credit"`
	CreditsPerPayment uint64      `json:"credits_per_payment"`
	Paused            bool        `json:"paused"`
}

func NewConfig(admin id.Identity, nativePrice uint64, stable, credit TokenSlot, creditsPerPayment uint64) (*Config, error) {
	if admin.IsZero() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "admin identity is required")
	}
	if stable.Mint.IsZero() || credit.Mint.IsZero() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "token currency mints are required")
	}
	if stable.Mint == credit.Mint {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "token currency mints must differ")
	}
	if creditsPerPayment == 0 {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "credits per payment must be positive")
	}
	return &Config{
		Admin:             admin,
		NativePrice:       nativePrice,
		Stable:            stable,
		Credit:            credit,
		CreditsPerPayment: creditsPerPayment,
	}, nil
}

// RequireAdmin gates admin-only operations.
func (c *Config) RequireAdmin(caller id.Identity) error {
	if caller != c.Admin {
		return dErrors.New(dErrors.CodeUnauthorized, "caller is not the payments admin")
	}
	return nil
}

// RequireRunning gates payments on the pause flag.
func (c *Config) RequireRunning() error {
	if c.Paused {
		return dErrors.New(dErrors.CodeServicePaused, "payment service is paused")
	}
	return nil
}

// Price returns the configured price for a currency.
func (c *Config) Price(cur Currency) (uint64, error) {
	switch cur {
	case CurrencyNative:
		return c.NativePrice, nil
	case CurrencyStable:
		return c.Stable.Price, nil
	case CurrencyCredit:
		return c.Credit.Price, nil
	}
	return 0, dErrors.New(dErrors.CodeInvalidInput, "unknown currency")
}

// TokenSlot returns the slot for a token currency. Native has no slot.
func (c *Config) TokenSlot(cur Currency) (*TokenSlot, error) {
	switch cur {
	case CurrencyStable:
		return &c.Stable, nil
	case CurrencyCredit:
		return &c.Credit, nil
	}
	return nil, dErrors.New(dErrors.CodeInvalidInput, "currency has no token slot")
}

// UserStats is the per-user accrual record, created on first payment and
// updated on every one after.
type UserStats struct {
	User             id.Identity `json:"user"`
	TotalNativePaid  uint64      `json:"total_native_paid"`
	TotalStablePaid  uint64      `json:"total_stable_paid"`
	TotalCreditPaid  uint64      `json:"total_credit_paid"`
	PaymentCount     uint64      `json:"payment_count"`
	CreditsPurchased uint64      `json:"credits_purchased"`
	LastPaidAt       time.Time   `json:"last_paid_at"`
}
