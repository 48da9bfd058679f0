// Package handler wires patent issuance endpoints to the patent service.
package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"custodia/internal/patents/models"
	"custodia/internal/patents/service"
	id "custodia/pkg/domain"
	"custodia/pkg/platform/httputil"
	"custodia/pkg/requestcontext"
)

// Service defines the patent operations the handler exposes.
type Service interface {
	Initialize(ctx context.Context, admin id.Identity, mintingPrice uint64, royaltyBasisPoints uint16) (*models.Config, error)
	Mint(ctx context.Context, req service.MintRequest) (*models.Patent, error)
	MintAdmin(ctx context.Context, req service.MintRequest, recipient id.Identity) (*models.Patent, error)
	UpdateMintingPrice(ctx context.Context, newPrice uint64) error
	Withdraw(ctx context.Context, amount uint64) error
	Lookup(ctx context.Context, patentNumber string) (*models.Patent, error)
	Config(ctx context.Context) (*models.Config, error)
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

// New constructs a patent handler.
func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts patent endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Route("/patents", func(r chi.Router) {
		r.Post("/initialize", h.HandleInitialize)
		r.Get("/config", h.HandleConfig)
		r.Post("/mint", h.HandleMint)
		r.Post("/mint-admin", h.HandleMintAdmin)
		r.Post("/price", h.HandleUpdatePrice)
		r.Post("/withdraw", h.HandleWithdraw)
		r.Get("/lookup", h.HandleLookup)
	})
}

// InitializeRequest bootstraps the patent service config.
type InitializeRequest struct {
	Admin              id.Identity `json:"admin"`
	MintingPrice       uint64      `json:"minting_price"`
	RoyaltyBasisPoints uint16      `json:"royalty_basis_points"`
}

// MintRequest claims a patent number and issues the unique item.
type MintRequest struct {
	Asset        id.AssetID `json:"asset"`
	PatentNumber string     `json:"patent_number"`
	Name         string     `json:"name"`
	Symbol       string     `json:"symbol"`
	URI          string     `json:"uri"`
}

// MintAdminRequest issues without payment to a recipient.
type MintAdminRequest struct {
	MintRequest
	Recipient id.Identity `json:"recipient"`
}

// UpdatePriceRequest changes the minting price.
type UpdatePriceRequest struct {
	Price uint64 `json:"price"`
}

// WithdrawRequest pays out treasury excess to the admin.
type WithdrawRequest struct {
	Amount uint64 `json:"amount"`
}

func (r MintRequest) toDomain() service.MintRequest {
	return service.MintRequest{
		Asset:        r.Asset,
		PatentNumber: r.PatentNumber,
		Name:         r.Name,
		Symbol:       r.Symbol,
		URI:          r.URI,
	}
}

func (h *Handler) HandleInitialize(w http.ResponseWriter, r *http.Request) {
	req, ok := httputil.Decode[InitializeRequest](w, r, h.logger)
	if !ok {
		return
	}
	cfg, err := h.service.Initialize(r.Context(), req.Admin, req.MintingPrice, req.RoyaltyBasisPoints)
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

func (h *Handler) HandleMint(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.Decode[MintRequest](w, r, h.logger)
	if !ok {
		return
	}

	p, err := h.service.Mint(ctx, req.toDomain())
	if err != nil {
		h.logger.ErrorContext(ctx, "mint failed",
			"request_id", requestcontext.RequestID(ctx),
			"patent_number", req.PatentNumber,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, p)
}

func (h *Handler) HandleMintAdmin(w http.ResponseWriter, r *http.Request) {
	req, ok := httputil.Decode[MintAdminRequest](w, r, h.logger)
	if !ok {
		return
	}
	p, err := h.service.MintAdmin(r.Context(), req.toDomain(), req.Recipient)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, p)
}

func (h *Handler) HandleUpdatePrice(w http.ResponseWriter, r *http.Request) {
	req, ok := httputil.Decode[UpdatePriceRequest](w, r, h.logger)
	if !ok {
		return
	}
	if err := h.service.UpdateMintingPrice(r.Context(), req.Price); err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) HandleWithdraw(w http.ResponseWriter, r *http.Request) {
	req, ok := httputil.Decode[WithdrawRequest](w, r, h.logger)
	if !ok {
		return
	}
	if err := h.service.Withdraw(r.Context(), req.Amount); err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleLookup resolves ?number= to the registry entry.
func (h *Handler) HandleLookup(w http.ResponseWriter, r *http.Request) {
	number := r.URL.Query().Get("number")
	p, err := h.service.Lookup(r.Context(), number)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, p)
}
