// Package handler wires marketplace endpoints to the marketplace service.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"custodia/internal/marketplace/models"
	id "custodia/pkg/domain"
	dErrors "custodia/pkg/domain-errors"
	"custodia/pkg/platform/httputil"
	"custodia/pkg/requestcontext"
)

// Service defines the marketplace operations the handler exposes.
type Service interface {
	Initialize(ctx context.Context, admin, feeRecipient id.Identity, feeBasisPoints uint64) (*models.Config, error)
	List(ctx context.Context, asset id.AssetID, sellerAccount id.Identity, price uint64) (*models.Listing, error)
	Buy(ctx context.Context, asset id.AssetID, buyerAccount id.Identity) (*models.Listing, error)
	Cancel(ctx context.Context, asset id.AssetID, sellerAccount id.Identity) error
	UpdatePrice(ctx context.Context, asset id.AssetID, newPrice uint64) error
	SetFee(ctx context.Context, feeBasisPoints uint64) error
	SetFeeRecipient(ctx context.Context, recipient id.Identity) error
	Pause(ctx context.Context) error
	Unpause(ctx context.Context) error
	Config(ctx context.Context) (*models.Config, error)
	ActiveListings(ctx context.Context) ([]models.Listing, error)
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

// New constructs a marketplace handler.
func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts marketplace endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Route("/marketplace", func(r chi.Router) {
		r.Post("/initialize", h.HandleInitialize)
		r.Get("/config", h.HandleConfig)
		r.Post("/fee", h.HandleSetFee)
		r.Post("/fee-recipient", h.HandleSetFeeRecipient)
		r.Post("/pause", h.HandlePause)
		r.Post("/unpause", h.HandleUnpause)

		r.Get("/listings", h.HandleListings)
		r.Post("/listings", h.HandleList)
		r.Post("/listings/{asset}/buy", h.HandleBuy)
		r.Post("/listings/{asset}/cancel", h.HandleCancel)
		r.Post("/listings/{asset}/price", h.HandleUpdatePrice)
	})
}

func (h *Handler) HandleInitialize(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.Decode[InitializeRequest](w, r, h.logger)
	if !ok {
		return
	}

	cfg, err := h.service.Initialize(ctx, req.Admin, req.FeeRecipient, req.FeeBasisPoints)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, cfg)
}

func (h *Handler) HandleConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.service.Config(r.Context())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, cfg)
}

func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()
	req, ok := httputil.Decode[ListRequest](w, r, h.logger)
	if !ok {
		return
	}

	listing, err := h.service.List(ctx, req.Asset, req.SellerAccount, req.Price)
	if err != nil {
		h.logger.ErrorContext(ctx, "list failed",
			"request_id", requestcontext.RequestID(ctx),
			"asset", req.Asset,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "asset listed",
		"request_id", requestcontext.RequestID(ctx),
		"listing_id", listing.ListingID,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	httputil.WriteJSON(w, http.StatusCreated, fromListing(listing))
}

func (h *Handler) HandleBuy(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	asset, ok := h.assetParam(w, r)
	if !ok {
		return
	}
	req, ok := httputil.Decode[BuyRequest](w, r, h.logger)
	if !ok {
		return
	}

	listing, err := h.service.Buy(ctx, asset, req.BuyerAccount)
	if err != nil {
		h.logger.ErrorContext(ctx, "buy failed",
			"request_id", requestcontext.RequestID(ctx),
			"asset", asset,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, fromListing(listing))
}

func (h *Handler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	asset, ok := h.assetParam(w, r)
	if !ok {
		return
	}
	req, ok := httputil.Decode[CancelRequest](w, r, h.logger)
	if !ok {
		return
	}

	if err := h.service.Cancel(ctx, asset, req.SellerAccount); err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) HandleUpdatePrice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	asset, ok := h.assetParam(w, r)
	if !ok {
		return
	}
	req, ok := httputil.Decode[UpdatePriceRequest](w, r, h.logger)
	if !ok {
		return
	}

	if err := h.service.UpdatePrice(ctx, asset, req.Price); err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) HandleListings(w http.ResponseWriter, r *http.Request) {
	listings, err := h.service.ActiveListings(r.Context())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	out := make([]ListingResponse, 0, len(listings))
	for i := range listings {
		out = append(out, fromListing(&listings[i]))
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

func (h *Handler) HandleSetFee(w http.ResponseWriter, r *http.Request) {
	req, ok := httputil.Decode[SetFeeRequest](w, r, h.logger)
	if !ok {
		return
	}
	if err := h.service.SetFee(r.Context(), req.FeeBasisPoints); err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) HandleSetFeeRecipient(w http.ResponseWriter, r *http.Request) {
	req, ok := httputil.Decode[SetFeeRecipientRequest](w, r, h.logger)
	if !ok {
		return
	}
	if err := h.service.SetFeeRecipient(r.Context(), req.FeeRecipient); err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) HandlePause(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Pause(r.Context()); err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) HandleUnpause(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Unpause(r.Context()); err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) assetParam(w http.ResponseWriter, r *http.Request) (id.AssetID, bool) {
	asset, err := id.ParseAssetID(chi.URLParam(r, "asset"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid asset identifier"))
		return id.AssetID{}, false
	}
	return asset, true
}
