// Package handler wires payment endpoints to the payments service.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"custodia/internal/payments/models"
	id "custodia/pkg/domain"
	dErrors "custodia/pkg/domain-errors"
	"custodia/pkg/platform/httputil"
	"custodia/pkg/requestcontext"
)

// Service defines the payment operations the handler exposes.
type Service interface {
	Initialize(ctx context.Context, admin id.Identity, nativePrice uint64, stable, credit models.TokenSlot, creditsPerPayment uint64) (*models.Config, error)
	Pay(ctx context.Context, currency models.Currency, payerAccount id.Identity) (*models.UserStats, error)
	UpdatePrice(ctx context.Context, currency models.Currency, newPrice uint64) error
	UpdateCurrencyMint(ctx context.Context, currency models.Currency, mint id.AssetID) error
	WithdrawNative(ctx context.Context, amount uint64) error
	WithdrawToken(ctx context.Context, currency models.Currency, toAccount id.Identity) (uint64, error)
	Pause(ctx context.Context) error
	Unpause(ctx context.Context) error
	Config(ctx context.Context) (*models.Config, error)
	Stats(ctx context.Context, user id.Identity) (*models.UserStats, error)
}

type InitializeRequest struct {
	Admin             id.Identity      `json:"admin"`
	NativePrice       uint64           `json:"native_price"`
	Stable            models.TokenSlot `json:"stable"`
	Credit            models.TokenSlot `json:"credit"`
	CreditsPerPayment uint64           `json:"credits_per_payment"`
}

type PayRequest struct {
	Currency     models.Currency `json:"currency"`
	PayerAccount id.Identity     `json:"payer_account"`
}

type UpdatePriceRequest struct {
	Currency models.Currency `json:"currency"`
	Price    uint64          `json:"price"`
}

type UpdateMintRequest struct {
	Currency models.Currency `json:"currency"`
	Mint     id.AssetID      `json:"mint"`
}

type WithdrawNativeRequest struct {
	Amount uint64 `json:"amount"`
}

type WithdrawTokenRequest struct {
	Currency  models.Currency `json:"currency"`
	ToAccount id.Identity     `json:"to_account"`
}

type WithdrawTokenResponse struct {
	Swept uint64 `json:"swept"`
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

// New constructs a payments handler.
func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts payment endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Route("/payments", func(r chi.Router) {
		r.Post("/initialize", h.HandleInitialize)
		r.Get("/config", h.HandleConfig)
		r.Post("/price", h.HandleUpdatePrice)
		r.Post("/mint", h.HandleUpdateMint)
		r.Post("/withdraw", h.HandleWithdrawNative)
		r.Post("/withdraw-token", h.HandleWithdrawToken)
		r.Post("/pause", h.HandlePause)
		r.Post("/unpause", h.HandleUnpause)

		r.Post("/pay", h.HandlePay)
		r.Get("/stats/{user}", h.HandleStats)
	})
}

func (h *Handler) HandleInitialize(w http.ResponseWriter, r *http.Request) {
	req, ok := httputil.Decode[InitializeRequest](w, r, h.logger)
	if !ok {
		return
	}

	cfg, err := h.service.Initialize(r.Context(), req.Admin, req.NativePrice, req.Stable, req.Credit, req.CreditsPerPayment)
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

func (h *Handler) HandlePay(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()
	req, ok := httputil.Decode[PayRequest](w, r, h.logger)
	if !ok {
		return
	}

	st, err := h.service.Pay(ctx, req.Currency, req.PayerAccount)
	if err != nil {
		h.logger.ErrorContext(ctx, "payment failed",
			"request_id", requestcontext.RequestID(ctx),
			"currency", req.Currency,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "payment received",
		"request_id", requestcontext.RequestID(ctx),
		"currency", req.Currency,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	httputil.WriteJSON(w, http.StatusOK, st)
}

func (h *Handler) HandleStats(w http.ResponseWriter, r *http.Request) {
	user, err := id.ParseIdentity(chi.URLParam(r, "user"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid user identity"))
		return
	}

	st, err := h.service.Stats(r.Context(), user)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, st)
}

func (h *Handler) HandleUpdatePrice(w http.ResponseWriter, r *http.Request) {
	req, ok := httputil.Decode[UpdatePriceRequest](w, r, h.logger)
	if !ok {
		return
	}

	if err := h.service.UpdatePrice(r.Context(), req.Currency, req.Price); err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) HandleUpdateMint(w http.ResponseWriter, r *http.Request) {
	req, ok := httputil.Decode[UpdateMintRequest](w, r, h.logger)
	if !ok {
		return
	}

	if err := h.service.UpdateCurrencyMint(r.Context(), req.Currency, req.Mint); err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) HandleWithdrawNative(w http.ResponseWriter, r *http.Request) {
	req, ok := httputil.Decode[WithdrawNativeRequest](w, r, h.logger)
	if !ok {
		return
	}

	if err := h.service.WithdrawNative(r.Context(), req.Amount); err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) HandleWithdrawToken(w http.ResponseWriter, r *http.Request) {
	req, ok := httputil.Decode[WithdrawTokenRequest](w, r, h.logger)
	if !ok {
		return
	}

	swept, err := h.service.WithdrawToken(r.Context(), req.Currency, req.ToAccount)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, WithdrawTokenResponse{Swept: swept})
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
