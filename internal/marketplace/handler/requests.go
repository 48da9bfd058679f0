package handler

import (
	"custodia/internal/marketplace/models"
	id "custodia/pkg/domain"
)

// InitializeRequest bootstraps the marketplace config.
type InitializeRequest struct {
	Admin          id.Identity `json:"admin"`
	FeeRecipient   id.Identity `json:"fee_recipient"`
	FeeBasisPoints uint64      `json:"fee_basis_points"`
}

// ListRequest creates a listing for the caller's asset.
type ListRequest struct {
	Asset         id.AssetID  `json:"asset"`
	SellerAccount id.Identity `json:"seller_account"`
	Price         uint64      `json:"price"`
}

// BuyRequest settles a listing into the caller's token account.
type BuyRequest struct {
	BuyerAccount id.Identity `json:"buyer_account"`
}

// CancelRequest returns the escrowed unit to the caller's token account.
type CancelRequest struct {
	SellerAccount id.Identity `json:"seller_account"`
}

// UpdatePriceRequest changes the asking price of the caller's listing.
type UpdatePriceRequest struct {
	Price uint64 `json:"price"`
}

// SetFeeRequest changes the platform fee.
type SetFeeRequest struct {
	FeeBasisPoints uint64 `json:"fee_basis_points"`
}

// SetFeeRecipientRequest redirects future platform fees.
type SetFeeRecipientRequest struct {
	FeeRecipient id.Identity `json:"fee_recipient"`
}

// ListingResponse is the wire form of a listing.
type ListingResponse struct {
	ListingID     uint64      `json:"listing_id"`
	Asset         id.AssetID  `json:"asset"`
	Seller        id.Identity `json:"seller"`
	Price         uint64      `json:"price"`
	Active        bool        `json:"active"`
	EscrowAccount id.Identity `json:"escrow_account"`
	CreatedAt     string      `json:"created_at"`
}

func fromListing(l *models.Listing) ListingResponse {
	return ListingResponse{
		ListingID:     l.ListingID,
		Asset:         l.Asset,
		Seller:        l.Seller,
		Price:         l.Price,
		Active:        l.Active,
		EscrowAccount: l.EscrowAccount,
		CreatedAt:     l.CreatedAt.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
	}
}
