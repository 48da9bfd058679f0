// Package events defines the append-only settlement event stream. Every
// completed state transition emits exactly one event, consumed by external
// indexers. Events are transport-agnostic so stores and sinks can fan out.
package events

import (
	"time"

	id "custodia/pkg/domain"
)

// Kind names a completed state transition.
type Kind string

const (
	KindListed           Kind = "listed"
	KindSold             Kind = "sold"
	KindCancelled        Kind = "cancelled"
	KindItemIssued       Kind = "item_issued"
	KindCreditsPurchased Kind = "credits_purchased"
	KindCreditsRedeemed  Kind = "credits_redeemed"
	KindPriceChanged     Kind = "price_changed"
	KindFundsWithdrawn   Kind = "funds_withdrawn"
	KindPaused           Kind = "paused"
	KindUnpaused         Kind = "unpaused"
)

// Event describes one completed operation. The payload carries the
// operation-specific fields; keys are stable strings because external
// indexers consume them verbatim.
type Event struct {
	ID        string         `json:"id"`
	Kind      Kind           `json:"kind"`
	Service   string         `json:"service"`
	Timestamp time.Time      `json:"timestamp"`
	Subject   id.Identity    `json:"subject"`
	Payload   map[string]any `json:"payload"`
}

// Builders for the event payloads each service emits. Keeping the field
// names here, next to the Kind constants, makes the wire contract reviewable
// in one place.

func Listed(listingID uint64, asset id.AssetID, seller id.Identity, price uint64) (Kind, map[string]any) {
	return KindListed, map[string]any{
		"listing_id": listingID,
		"asset":      asset.String(),
		"seller":     seller.String(),
		"price":      price,
	}
}

func Sold(listingID uint64, asset id.AssetID, seller, buyer id.Identity, price uint64) (Kind, map[string]any) {
	return KindSold, map[string]any{
		"listing_id": listingID,
		"asset":      asset.String(),
		"seller":     seller.String(),
		"buyer":      buyer.String(),
		"price":      price,
	}
}

func Cancelled(listingID uint64) (Kind, map[string]any) {
	return KindCancelled, map[string]any{"listing_id": listingID}
}

func ItemIssued(owner id.Identity, tokenID uint64, externalIdentifier string, asset id.AssetID) (Kind, map[string]any) {
	return KindItemIssued, map[string]any{
		"owner":               owner.String(),
		"token_id":            tokenID,
		"external_identifier": externalIdentifier,
		"asset":               asset.String(),
	}
}

func CreditsPurchased(buyer id.Identity, amount, paidAmount uint64) (Kind, map[string]any) {
	return KindCreditsPurchased, map[string]any{
		"buyer":       buyer.String(),
		"amount":      amount,
		"paid_amount": paidAmount,
	}
}

func CreditsRedeemed(user id.Identity, amount, receivedAmount uint64) (Kind, map[string]any) {
	return KindCreditsRedeemed, map[string]any{
		"user":            user.String(),
		"amount":          amount,
		"received_amount": receivedAmount,
	}
}

func PriceChanged(currency string, oldPrice, newPrice uint64) (Kind, map[string]any) {
	payload := map[string]any{
		"old": oldPrice,
		"new": newPrice,
	}
	if currency != "" {
		payload["currency"] = currency
	}
	return KindPriceChanged, payload
}

func FundsWithdrawn(recipient id.Identity, amount uint64) (Kind, map[string]any) {
	return KindFundsWithdrawn, map[string]any{
		"recipient": recipient.String(),
		"amount":    amount,
	}
}
