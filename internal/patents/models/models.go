// Package models defines the patent issuance records.
package models

import (
	"crypto/sha256"
	"strings"
	"time"
	"unicode"

	id "custodia/pkg/domain"
	dErrors "custodia/pkg/domain-errors"
)

// Metadata length caps, enforced before any value moves.
const (
	MaxPatentNumberLen = 50
	MaxNameLen         = 32
	MaxSymbolLen       = 10
	MaxURILen          = 200
)

// Config is the patent service's singleton authority record. NextTokenID
// starts at 1 and only grows.
type Config struct {
	Admin              id.Identity `json:"admin"`
	MintingPrice       uint64      `json:"minting_price"`
	RoyaltyBasisPoints uint16      `json:"royalty_basis_points"`
	NextTokenID        uint64      `json:"next_token_id"`
}

func NewConfig(admin id.Identity, mintingPrice uint64, royaltyBasisPoints uint16) (*Config, error) {
	if admin.IsZero() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "admin identity is required")
	}
	return &Config{
		Admin:              admin,
		MintingPrice:       mintingPrice,
		RoyaltyBasisPoints: royaltyBasisPoints,
		NextTokenID:        1,
	}, nil
}

// RequireAdmin gates admin-only operations.
func (c *Config) RequireAdmin(caller id.Identity) error {
	if caller != c.Admin {
		return dErrors.New(dErrors.CodeUnauthorized, "caller is not the patent admin")
	}
	return nil
}

// Patent is a registry entry keyed by the normalized patent number's digest.
// Entries are never deleted: a patent number is claimable exactly once.
type Patent struct {
	Discriminant [32]byte    `json:"-"`
	Asset        id.AssetID  `json:"asset"`
	TokenID      uint64      `json:"token_id"`
	PatentNumber string      `json:"patent_number"`
	Owner        id.Identity `json:"owner"`
	IssuedAt     time.Time   `json:"issued_at"`
}

// NormalizePatentNumber strips whitespace and hyphens and uppercases ASCII
// letters, so "US-1,234" and "us 1,234" claim the same registry slot.
func NormalizePatentNumber(number string) string {
	var b strings.Builder
	b.Grow(len(number))
	for _, r := range number {
		if unicode.IsSpace(r) || r == '-' {
			continue
		}
		if r >= 'a' && r <= 'z' {
			r -= 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Discriminant computes the registry key for a patent number.
func Discriminant(number string) [32]byte {
	return sha256.Sum256([]byte(NormalizePatentNumber(number)))
}

// ValidateMetadata enforces the length caps before any leg executes.
func ValidateMetadata(patentNumber, name, symbol, uri string) error {
	if patentNumber == "" || len(patentNumber) > MaxPatentNumberLen {
		return dErrors.New(dErrors.CodeInvalidInput, "patent number must be 1-50 characters")
	}
	if NormalizePatentNumber(patentNumber) == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "patent number must contain identifying characters")
	}
	if name == "" || len(name) > MaxNameLen {
		return dErrors.New(dErrors.CodeInvalidInput, "name must be 1-32 characters")
	}
	if symbol == "" || len(symbol) > MaxSymbolLen {
		return dErrors.New(dErrors.CodeInvalidInput, "symbol must be 1-10 characters")
	}
	if uri == "" || len(uri) > MaxURILen {
		return dErrors.New(dErrors.CodeInvalidInput, "uri must be 1-200 characters")
	}
	return nil
}
