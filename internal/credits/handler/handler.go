// Package handler wires credit endpoints to the credit service.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"custodia/internal/credits/models"
	id "custodia/pkg/domain"
	dErrors "custodia/pkg/domain-errors"
	"custodia/pkg/platform/httputil"
	"custodia/pkg/requestcontext"
)

// Service defines the credit operations the handler exposes.
type Service interface {
	Initialize(ctx context.Context, admin id.Identity, mint id.AssetID, pricePerCredit uint64) (*models.Config, error)
	Purchase(ctx context.Context, payAmount uint64, buyerAccount id.Identity) (uint64, error)
	Redeem(ctx context.Context, creditAmount uint64, userAccount id.Identity) (uint64, error)
	SpendFor(ctx context.Context, user, userAccount id.Identity, amount uint64) error
	SetAuthorizedSpender(ctx context.Context, spender id.Identity, authorized bool) error
	AdminMint(ctx context.Context, toAccount id.Identity, amount uint64) error
	UpdatePrice(ctx context.Context, newPrice uint64) error
	Withdraw(ctx context.Context, amount uint64) error
	Pause(ctx context.Context) error
	Unpause(ctx context.Context) error
	Config(ctx context.Context) (*models.Config, error)
	Spender(ctx context.Context, spender id.Identity) (*models.Spender, error)
}

type InitializeRequest struct {
	Admin          id.Identity `json:"admin"`
	Mint           id.AssetID  `json:"mint"`
	PricePerCredit uint64      `json:"price_per_credit"`
}

type PurchaseRequest struct {
	PayAmount    uint64      `json:"pay_amount"`
	BuyerAccount id.Identity `json:"buyer_account"`
}

type PurchaseResponse struct {
	Units uint64 `json:"units"`
}

type RedeemRequest struct {
	Amount      uint64      `json:"amount"`
	UserAccount id.Identity `json:"user_account"`
}

type RedeemResponse struct {
	PaidOut uint64 `json:"paid_out"`
}

type SpendRequest struct {
	User        id.Identity `json:"user"`
	UserAccount id.Identity `json:"user_account"`
	Amount      uint64      `json:"amount"`
}

type SetSpenderRequest struct {
	Spender    id.Identity `json:"spender"`
	Authorized bool        `json:"authorized"`
}

type AdminMintRequest struct {
	ToAccount id.Identity `json:"to_account"`
	Amount    uint64      `json:"amount"`
}

type UpdatePriceRequest struct {
	PricePerCredit uint64 `json:"price_per_credit"`
}

type WithdrawRequest struct {
	Amount uint64 `json:"amount"`
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

// New constructs a credits handler.
func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts credit endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Route("/credits", func(r chi.Router) {
		r.Post("/initialize", h.HandleInitialize)
		r.Get("/config", h.HandleConfig)
		r.Post("/price", h.HandleUpdatePrice)
		r.Post("/withdraw", h.HandleWithdraw)
		r.Post("/pause", h.HandlePause)
		r.Post("/unpause", h.HandleUnpause)

		r.Post("/purchase", h.HandlePurchase)
		r.Post("/redeem", h.HandleRedeem)
		r.Post("/spend", h.HandleSpend)
		r.Post("/mint", h.HandleAdminMint)
		r.Post("/spenders", h.HandleSetSpender)
		r.Get("/spenders/{spender}", h.HandleSpender)
	})
}

func (h *Handler) HandleInitialize(w http.ResponseWriter, r *http.Request) {
	req, ok := httputil.Decode[InitializeRequest](w, r, h.logger)
	if !ok {
		return
	}

	cfg, err := h.service.Initialize(r.Context(), req.Admin, req.Mint, req.PricePerCredit)
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

func (h *Handler) HandlePurchase(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()
	req, ok := httputil.Decode[PurchaseRequest](w, r, h.logger)
	if !ok {
		return
	}

	units, err := h.service.Purchase(ctx, req.PayAmount, req.BuyerAccount)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "credits purchased",
		"request_id", requestcontext.RequestID(ctx),
		"units", units,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	httputil.WriteJSON(w, http.StatusOK, PurchaseResponse{Units: units})
}

func (h *Handler) HandleRedeem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.Decode[RedeemRequest](w, r, h.logger)
	if !ok {
		return
	}

	paidOut, err := h.service.Redeem(ctx, req.Amount, req.UserAccount)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, RedeemResponse{PaidOut: paidOut})
}

func (h *Handler) HandleSpend(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.Decode[SpendRequest](w, r, h.logger)
	if !ok {
		return
	}

	if err := h.service.SpendFor(ctx, req.User, req.UserAccount, req.Amount); err != nil {
		h.logger.ErrorContext(ctx, "delegated spend failed",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) HandleSetSpender(w http.ResponseWriter, r *http.Request) {
	req, ok := httputil.Decode[SetSpenderRequest](w, r, h.logger)
	if !ok {
		return
	}

	if err := h.service.SetAuthorizedSpender(r.Context(), req.Spender, req.Authorized); err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) HandleSpender(w http.ResponseWriter, r *http.Request) {
	spenderID, err := id.ParseIdentity(chi.URLParam(r, "spender"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid spender identity"))
		return
	}

	sp, err := h.service.Spender(r.Context(), spenderID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, sp)
}

func (h *Handler) HandleAdminMint(w http.ResponseWriter, r *http.Request) {
	req, ok := httputil.Decode[AdminMintRequest](w, r, h.logger)
	if !ok {
		return
	}

	if err := h.service.AdminMint(r.Context(), req.ToAccount, req.Amount); err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) HandleUpdatePrice(w http.ResponseWriter, r *http.Request) {
	req, ok := httputil.Decode[UpdatePriceRequest](w, r, h.logger)
	if !ok {
		return
	}

	if err := h.service.UpdatePrice(r.Context(), req.PricePerCredit); err != nil {
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
