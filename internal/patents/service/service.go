// Package service implements registry-gated unique-item issuance: each
// external patent number is claimable exactly once, paid for at the
// configured minting price.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"custodia/internal/configstore"
	"custodia/internal/custody"
	"custodia/internal/ledger"
	"custodia/internal/oplock"
	"custodia/internal/patents/metrics"
	"custodia/internal/patents/models"
	"custodia/internal/safemath"
	id "custodia/pkg/domain"
	dErrors "custodia/pkg/domain-errors"
	"custodia/pkg/platform/events"
	"custodia/pkg/platform/sentinel"
	"custodia/pkg/requestcontext"
)

// configRecordLen is the fixed on-ledger size of the config record, used to
// compute the treasury's reserved minimum at withdrawal time.
const configRecordLen = 59

// configLockKey serializes every operation that advances the token counter
// or mutates config.
var configLockKey = []byte("patents/config")

type PatentStore interface {
	Create(ctx context.Context, p *models.Patent) error
	FindByDiscriminant(ctx context.Context, discriminant [32]byte) (*models.Patent, error)
}

// MintRequest carries the caller-supplied issuance inputs.
type MintRequest struct {
	Asset        id.AssetID
	PatentNumber string
	Name         string
	Symbol       string
	URI          string
}

// Service orchestrates issuance, price administration, and treasury
// withdrawals.
type Service struct {
	config  configstore.Store[models.Config]
	patents PatentStore
	ledger  ledger.Ledger
	issuer  ledger.Issuer
	deriver *custody.Deriver
	lock    *oplock.Keyed
	logger  *slog.Logger
	events  *events.Emitter
	metrics *metrics.Metrics
	tracer  trace.Tracer
}

type Option func(s *Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithEmitter(emitter *events.Emitter) Option {
	return func(s *Service) {
		s.events = emitter
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// New constructs a Service.
func New(config configstore.Store[models.Config], patents PatentStore, ldg ledger.Ledger, issuer ledger.Issuer, deriver *custody.Deriver, opts ...Option) *Service {
	s := &Service{
		config:  config,
		patents: patents,
		ledger:  ldg,
		issuer:  issuer,
		deriver: deriver,
		lock:    oplock.New(),
		logger:  slog.Default(),
		tracer:  otel.Tracer("custodia/patents"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Initialize installs the patent service config with the token counter at 1.
func (s *Service) Initialize(ctx context.Context, admin id.Identity, mintingPrice uint64, royaltyBasisPoints uint16) (*models.Config, error) {
	cfg, err := models.NewConfig(admin, mintingPrice, royaltyBasisPoints)
	if err != nil {
		return nil, err
	}
	err = s.lock.Run(ctx, configLockKey, func(ctx context.Context) error {
		if err := s.config.Create(ctx, cfg); err != nil {
			if errors.Is(err, sentinel.ErrAlreadyExists) {
				return dErrors.New(dErrors.CodeAlreadyExists, "patent service already initialized")
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to store config")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "patent service initialized",
		"admin", admin, "minting_price", mintingPrice)
	return cfg, nil
}

// Mint claims a patent number for the caller. The payment leg and the
// issuance commit as one atomic step: a rejected issuance discards the
// staged payment, and a failed payment never issues.
func (s *Service) Mint(ctx context.Context, req MintRequest) (*models.Patent, error) {
	payer := requestcontext.Caller(ctx)
	if payer.IsZero() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "caller identity required")
	}
	return s.mint(ctx, req, payer, payer, true)
}

// MintAdmin issues an item to a recipient without payment. Admin only.
func (s *Service) MintAdmin(ctx context.Context, req MintRequest, recipient id.Identity) (*models.Patent, error) {
	caller := requestcontext.Caller(ctx)
	if caller.IsZero() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "caller identity required")
	}
	if recipient.IsZero() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "recipient identity is required")
	}
	return s.mint(ctx, req, caller, recipient, false)
}

func (s *Service) mint(ctx context.Context, req MintRequest, caller, owner id.Identity, paid bool) (*models.Patent, error) {
	ctx, span := s.tracer.Start(ctx, "patents.Mint")
	defer span.End()
	start := time.Now()
	defer s.metrics.ObserveMint(start)

	if err := models.ValidateMetadata(req.PatentNumber, req.Name, req.Symbol, req.URI); err != nil {
		return nil, err
	}
	discriminant := models.Discriminant(req.PatentNumber)

	var patent *models.Patent
	err := s.lock.Run(ctx, configLockKey, func(ctx context.Context) error {
		cfg, err := s.getConfig(ctx)
		if err != nil {
			return err
		}
		if !paid {
			if err := cfg.RequireAdmin(caller); err != nil {
				return err
			}
		}

		if _, err := s.patents.FindByDiscriminant(ctx, discriminant); err == nil {
			s.metrics.IncrementDuplicateReject()
			return dErrors.New(dErrors.CodeAlreadyExists, "patent number already claimed")
		} else if !errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to check registry")
		}

		tokenID := cfg.NextTokenID
		next, err := safemath.Add(tokenID, 1)
		if err != nil {
			return err
		}

		meta := ledger.ItemMetadata{Name: req.Name, Symbol: req.Symbol, URI: req.URI}
		handle := s.deriver.Derive(discriminant[:])
		err = s.ledger.InTx(ctx, func(tx ledger.Tx) error {
			if paid && cfg.MintingPrice > 0 {
				if err := wrapLedgerErr(tx.Transfer(caller, cfg.Admin, ledger.Signer(caller), cfg.MintingPrice)); err != nil {
					return err
				}
			}
			// Issuance runs last inside the transaction: a rejected
			// asset discards the staged payment leg with it.
			if err := s.issuer.CreateUniqueItem(ctx, req.Asset, meta, handle, cfg.RoyaltyBasisPoints); err != nil {
				if errors.Is(err, sentinel.ErrAlreadyExists) {
					return dErrors.New(dErrors.CodeAlreadyExists, "asset already issued")
				}
				return dErrors.Wrap(err, dErrors.CodeInternal, "issuance failed")
			}
			return nil
		})
		if err != nil {
			return err
		}

		patent = &models.Patent{
			Discriminant: discriminant,
			Asset:        req.Asset,
			TokenID:      tokenID,
			PatentNumber: req.PatentNumber,
			Owner:        owner,
			IssuedAt:     requestcontext.Now(ctx),
		}
		if err := s.patents.Create(ctx, patent); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to store patent")
		}

		cfg.NextTokenID = next
		if err := s.config.Update(ctx, cfg); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to update config")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	kind, payload := events.ItemIssued(owner, patent.TokenID, patent.PatentNumber, patent.Asset)
	s.emit(ctx, owner, kind, payload)
	s.metrics.IncrementIssued()
	s.logger.InfoContext(ctx, "unique item issued",
		"token_id", patent.TokenID, "asset", patent.Asset, "owner", owner)
	return patent, nil
}

// UpdateMintingPrice changes the price of future mints.
func (s *Service) UpdateMintingPrice(ctx context.Context, newPrice uint64) error {
	caller := requestcontext.Caller(ctx)
	if caller.IsZero() {
		return dErrors.New(dErrors.CodeUnauthorized, "caller identity required")
	}

	var oldPrice uint64
	err := s.lock.Run(ctx, configLockKey, func(ctx context.Context) error {
		cfg, err := s.getConfig(ctx)
		if err != nil {
			return err
		}
		if err := cfg.RequireAdmin(caller); err != nil {
			return err
		}
		oldPrice = cfg.MintingPrice
		cfg.MintingPrice = newPrice
		if err := s.config.Update(ctx, cfg); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to update config")
		}
		return nil
	})
	if err != nil {
		return err
	}

	kind, payload := events.PriceChanged("", oldPrice, newPrice)
	s.emit(ctx, caller, kind, payload)
	return nil
}

// Withdraw pays out from the service treasury to the admin. The treasury
// must retain its reserved minimum after the payout.
func (s *Service) Withdraw(ctx context.Context, amount uint64) error {
	caller := requestcontext.Caller(ctx)
	if caller.IsZero() {
		return dErrors.New(dErrors.CodeUnauthorized, "caller identity required")
	}
	if amount == 0 {
		return dErrors.New(dErrors.CodeInvalidInput, "amount must be positive")
	}

	err := s.lock.Run(ctx, configLockKey, func(ctx context.Context) error {
		cfg, err := s.getConfig(ctx)
		if err != nil {
			return err
		}
		if err := cfg.RequireAdmin(caller); err != nil {
			return err
		}

		treasury := s.deriver.Treasury()
		return s.ledger.InTx(ctx, func(tx ledger.Tx) error {
			balance, err := tx.Balance(treasury.Address())
			if err != nil {
				return dErrors.Wrap(err, dErrors.CodeInternal, "failed to read treasury balance")
			}
			floor := s.ledger.MinimumBalance(configRecordLen)
			required, err := safemath.Add(amount, floor)
			if err != nil {
				return err
			}
			if balance < required {
				return dErrors.New(dErrors.CodeInsufficientBalance, "withdrawal would breach the reserved minimum")
			}
			return wrapLedgerErr(tx.Transfer(treasury.Address(), cfg.Admin, treasury, amount))
		})
	})
	if err != nil {
		return err
	}

	kind, payload := events.FundsWithdrawn(caller, amount)
	s.emit(ctx, caller, kind, payload)
	s.metrics.AddWithdrawn(amount)
	s.logger.InfoContext(ctx, "treasury withdrawal", "amount", amount)
	return nil
}

// Lookup returns the registry entry for a patent number, if claimed.
func (s *Service) Lookup(ctx context.Context, patentNumber string) (*models.Patent, error) {
	p, err := s.patents.FindByDiscriminant(ctx, models.Discriminant(patentNumber))
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "patent not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load patent")
	}
	return p, nil
}

// Config returns the current patent service configuration.
func (s *Service) Config(ctx context.Context) (*models.Config, error) {
	return s.getConfig(ctx)
}

// Treasury returns the service's treasury address, for funding and
// observability.
func (s *Service) Treasury() id.Identity {
	return s.deriver.Treasury().Address()
}

func (s *Service) getConfig(ctx context.Context) (*models.Config, error) {
	cfg, err := s.config.Get(ctx)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "patent service not initialized")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load config")
	}
	return cfg, nil
}

func (s *Service) emit(ctx context.Context, subject id.Identity, kind events.Kind, payload map[string]any) {
	if s.events == nil {
		return
	}
	if err := s.events.Emit(ctx, subject, kind, payload); err != nil {
		s.logger.ErrorContext(ctx, "failed to emit event", "kind", kind, "error", err)
	}
}

func wrapLedgerErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ledger.ErrBadAuthority):
		return dErrors.Wrap(err, dErrors.CodeUnauthorized, "authority rejected by ledger")
	case errors.Is(err, sentinel.ErrInsufficient):
		return dErrors.Wrap(err, dErrors.CodeInsufficientBalance, "insufficient balance")
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, "ledger leg failed")
	}
}
