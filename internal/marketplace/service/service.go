// Package service implements the escrow marketplace: list an asset for
// sale, settle a purchase with a platform fee, or cancel and reclaim it.
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
	"custodia/internal/marketplace/metrics"
	"custodia/internal/marketplace/models"
	"custodia/internal/oplock"
	"custodia/internal/safemath"
	id "custodia/pkg/domain"
	dErrors "custodia/pkg/domain-errors"
	"custodia/pkg/platform/events"
	"custodia/pkg/platform/sentinel"
	"custodia/pkg/requestcontext"
)

// configLockKey serializes every operation that writes the config record,
// including List, which advances the listing counter.
var configLockKey = []byte("marketplace/config")

type ListingStore interface {
	Create(ctx context.Context, l *models.Listing) error
	FindByAsset(ctx context.Context, asset id.AssetID) (*models.Listing, error)
	Update(ctx context.Context, l *models.Listing) error
	ListActive(ctx context.Context) ([]models.Listing, error)
}

// Service orchestrates listing lifecycle and settlement.
type Service struct {
	config   configstore.Store[models.Config]
	listings ListingStore
	ledger   ledger.Ledger
	deriver  *custody.Deriver
	lock     *oplock.Keyed
	logger   *slog.Logger
	events   *events.Emitter
	metrics  *metrics.Metrics
	tracer   trace.Tracer
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
func New(config configstore.Store[models.Config], listings ListingStore, ldg ledger.Ledger, deriver *custody.Deriver, opts ...Option) *Service {
	s := &Service{
		config:   config,
		listings: listings,
		ledger:   ldg,
		deriver:  deriver,
		lock:     oplock.New(),
		logger:   slog.Default(),
		tracer:   otel.Tracer("custodia/marketplace"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Initialize installs the marketplace config. Create-once: a second call
// fails regardless of caller.
func (s *Service) Initialize(ctx context.Context, admin, feeRecipient id.Identity, feeBasisPoints uint64) (*models.Config, error) {
	cfg, err := models.NewConfig(admin, feeRecipient, feeBasisPoints)
	if err != nil {
		return nil, err
	}
	err = s.lock.Run(ctx, configLockKey, func(ctx context.Context) error {
		if err := s.config.Create(ctx, cfg); err != nil {
			if errors.Is(err, sentinel.ErrAlreadyExists) {
				return dErrors.New(dErrors.CodeAlreadyExists, "marketplace already initialized")
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to store config")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "marketplace initialized",
		"admin", admin, "fee_basis_points", feeBasisPoints)
	return cfg, nil
}

// List escrows one unit of the asset from the caller's token account and
// records an active listing at the asking price.
func (s *Service) List(ctx context.Context, asset id.AssetID, sellerAccount id.Identity, price uint64) (*models.Listing, error) {
	ctx, span := s.tracer.Start(ctx, "marketplace.List")
	defer span.End()
	start := time.Now()
	defer s.metrics.ObserveList(start)

	seller := requestcontext.Caller(ctx)
	if seller.IsZero() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "caller identity required")
	}
	if price == 0 {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "price must be positive")
	}

	var listing *models.Listing
	err := s.lock.Run(ctx, configLockKey, func(ctx context.Context) error {
		cfg, err := s.getConfig(ctx)
		if err != nil {
			return err
		}
		if err := cfg.RequireRunning(); err != nil {
			return err
		}

		if _, err := s.listings.FindByAsset(ctx, asset); err == nil {
			return dErrors.New(dErrors.CodeAlreadyExists, "asset already has a listing")
		} else if !errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to check listing")
		}

		count, err := safemath.Add(cfg.ListingCount, 1)
		if err != nil {
			return err
		}

		escrow := s.deriver.Derive(asset.Bytes())
		err = s.ledger.InTx(ctx, func(tx ledger.Tx) error {
			acct, err := tx.Account(sellerAccount)
			if err != nil {
				return dErrors.Wrap(err, dErrors.CodeNotFound, "seller token account not found")
			}
			if acct.Asset != asset {
				return dErrors.New(dErrors.CodeInvalidInput, "token account does not hold the listed asset")
			}
			if acct.Owner != seller {
				return dErrors.New(dErrors.CodeUnauthorized, "token account is not owned by the caller")
			}
			if err := tx.CreateCustodyAccount(escrow.Address(), asset, escrow); err != nil {
				return dErrors.Wrap(err, dErrors.CodeInternal, "failed to create escrow account")
			}
			return wrapLedgerErr(tx.TokenTransfer(sellerAccount, escrow.Address(), ledger.Signer(seller), 1))
		})
		if err != nil {
			return err
		}

		listing = &models.Listing{
			ListingID:     count,
			Asset:         asset,
			Seller:        seller,
			Price:         price,
			Active:        true,
			EscrowAccount: escrow.Address(),
			CreatedAt:     requestcontext.Now(ctx),
		}
		if err := s.listings.Create(ctx, listing); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to store listing")
		}

		cfg.ListingCount = count
		if err := s.config.Update(ctx, cfg); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to update config")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	kind, payload := events.Listed(listing.ListingID, asset, seller, price)
	s.emit(ctx, seller, kind, payload)
	s.metrics.IncrementListed()
	s.logger.InfoContext(ctx, "asset listed",
		"listing_id", listing.ListingID, "asset", asset, "price", price)
	return listing, nil
}

// Buy settles an active listing: the buyer pays the seller the price minus
// the platform fee, pays the fee to the fee recipient, and receives the
// escrowed unit into their token account.
func (s *Service) Buy(ctx context.Context, asset id.AssetID, buyerAccount id.Identity) (*models.Listing, error) {
	ctx, span := s.tracer.Start(ctx, "marketplace.Buy")
	defer span.End()
	start := time.Now()
	defer s.metrics.ObserveSettle(start)

	buyer := requestcontext.Caller(ctx)
	if buyer.IsZero() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "caller identity required")
	}

	var (
		listing *models.Listing
		fee     uint64
	)
	err := s.lock.Run(ctx, asset.Bytes(), func(ctx context.Context) error {
		cfg, err := s.getConfig(ctx)
		if err != nil {
			return err
		}
		if err := cfg.RequireRunning(); err != nil {
			return err
		}

		l, err := s.findListing(ctx, asset)
		if err != nil {
			return err
		}
		if err := l.RequireActive(); err != nil {
			return err
		}
		if buyer == l.Seller {
			return dErrors.New(dErrors.CodeInvalidInput, "seller cannot buy their own listing")
		}

		fee, err = safemath.MulDiv(l.Price, cfg.FeeBasisPoints, 10_000)
		if err != nil {
			return err
		}
		sellerAmount, err := safemath.Sub(l.Price, fee)
		if err != nil {
			return err
		}

		handle := s.deriver.Derive(asset.Bytes())
		err = s.ledger.InTx(ctx, func(tx ledger.Tx) error {
			acct, err := tx.Account(buyerAccount)
			if err != nil {
				return dErrors.Wrap(err, dErrors.CodeNotFound, "buyer token account not found")
			}
			if acct.Asset != asset {
				return dErrors.New(dErrors.CodeInvalidInput, "token account does not hold the listed asset")
			}
			if acct.Owner != buyer {
				return dErrors.New(dErrors.CodeUnauthorized, "token account is not owned by the caller")
			}
			if err := wrapLedgerErr(tx.Transfer(buyer, l.Seller, ledger.Signer(buyer), sellerAmount)); err != nil {
				return err
			}
			if fee > 0 {
				if err := wrapLedgerErr(tx.Transfer(buyer, cfg.FeeRecipient, ledger.Signer(buyer), fee)); err != nil {
					return err
				}
			}
			return wrapLedgerErr(tx.TokenTransfer(l.EscrowAccount, buyerAccount, handle, 1))
		})
		if err != nil {
			return err
		}

		l.Active = false
		if err := s.listings.Update(ctx, l); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to retire listing")
		}
		listing = l
		return nil
	})
	if err != nil {
		return nil, err
	}

	kind, payload := events.Sold(listing.ListingID, asset, listing.Seller, buyer, listing.Price)
	s.emit(ctx, buyer, kind, payload)
	s.metrics.IncrementSold()
	s.metrics.AddFees(fee)
	s.logger.InfoContext(ctx, "listing sold",
		"listing_id", listing.ListingID, "asset", asset, "buyer", buyer, "fee", fee)
	return listing, nil
}

// Cancel retires a listing and returns the escrowed unit to the seller's
// token account. Allowed while paused so sellers can always exit.
func (s *Service) Cancel(ctx context.Context, asset id.AssetID, sellerAccount id.Identity) error {
	ctx, span := s.tracer.Start(ctx, "marketplace.Cancel")
	defer span.End()

	caller := requestcontext.Caller(ctx)
	if caller.IsZero() {
		return dErrors.New(dErrors.CodeUnauthorized, "caller identity required")
	}

	var listingID uint64
	err := s.lock.Run(ctx, asset.Bytes(), func(ctx context.Context) error {
		l, err := s.findListing(ctx, asset)
		if err != nil {
			return err
		}
		if err := l.RequireSeller(caller); err != nil {
			return err
		}
		if err := l.RequireActive(); err != nil {
			return err
		}

		handle := s.deriver.Derive(asset.Bytes())
		err = s.ledger.InTx(ctx, func(tx ledger.Tx) error {
			acct, err := tx.Account(sellerAccount)
			if err != nil {
				return dErrors.Wrap(err, dErrors.CodeNotFound, "seller token account not found")
			}
			if acct.Asset != asset {
				return dErrors.New(dErrors.CodeInvalidInput, "token account does not hold the listed asset")
			}
			if acct.Owner != caller {
				return dErrors.New(dErrors.CodeUnauthorized, "token account is not owned by the caller")
			}
			return wrapLedgerErr(tx.TokenTransfer(l.EscrowAccount, sellerAccount, handle, 1))
		})
		if err != nil {
			return err
		}

		l.Active = false
		if err := s.listings.Update(ctx, l); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to retire listing")
		}
		listingID = l.ListingID
		return nil
	})
	if err != nil {
		return err
	}

	kind, payload := events.Cancelled(listingID)
	s.emit(ctx, caller, kind, payload)
	s.metrics.IncrementRemoved()
	s.logger.InfoContext(ctx, "listing cancelled", "listing_id", listingID, "asset", asset)
	return nil
}

// UpdatePrice changes the asking price of an active listing. Metadata only:
// no value moves.
func (s *Service) UpdatePrice(ctx context.Context, asset id.AssetID, newPrice uint64) error {
	caller := requestcontext.Caller(ctx)
	if caller.IsZero() {
		return dErrors.New(dErrors.CodeUnauthorized, "caller identity required")
	}
	if newPrice == 0 {
		return dErrors.New(dErrors.CodeInvalidInput, "price must be positive")
	}

	var oldPrice uint64
	err := s.lock.Run(ctx, asset.Bytes(), func(ctx context.Context) error {
		l, err := s.findListing(ctx, asset)
		if err != nil {
			return err
		}
		if err := l.RequireSeller(caller); err != nil {
			return err
		}
		if err := l.RequireActive(); err != nil {
			return err
		}

		oldPrice = l.Price
		l.Price = newPrice
		if err := s.listings.Update(ctx, l); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to update listing")
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

// SetFee changes the platform fee, capped at 10%.
func (s *Service) SetFee(ctx context.Context, feeBasisPoints uint64) error {
	if feeBasisPoints > models.MaxFeeBasisPoints {
		return dErrors.New(dErrors.CodeFeeTooHigh, "fee cannot exceed 10%")
	}
	return s.updateConfig(ctx, func(cfg *models.Config) error {
		cfg.FeeBasisPoints = feeBasisPoints
		return nil
	})
}

// SetFeeRecipient redirects future platform fees.
func (s *Service) SetFeeRecipient(ctx context.Context, recipient id.Identity) error {
	if recipient.IsZero() {
		return dErrors.New(dErrors.CodeInvalidInput, "fee recipient is required")
	}
	return s.updateConfig(ctx, func(cfg *models.Config) error {
		cfg.FeeRecipient = recipient
		return nil
	})
}

// Pause stops listing and settlement. Cancel stays available.
func (s *Service) Pause(ctx context.Context) error {
	err := s.updateConfig(ctx, func(cfg *models.Config) error {
		cfg.Paused = true
		return nil
	})
	if err != nil {
		return err
	}
	s.emit(ctx, requestcontext.Caller(ctx), events.KindPaused, nil)
	return nil
}

// Unpause resumes listing and settlement.
func (s *Service) Unpause(ctx context.Context) error {
	err := s.updateConfig(ctx, func(cfg *models.Config) error {
		cfg.Paused = false
		return nil
	})
	if err != nil {
		return err
	}
	s.emit(ctx, requestcontext.Caller(ctx), events.KindUnpaused, nil)
	return nil
}

// Config returns the current marketplace configuration.
func (s *Service) Config(ctx context.Context) (*models.Config, error) {
	return s.getConfig(ctx)
}

// ActiveListings returns every live listing.
func (s *Service) ActiveListings(ctx context.Context) ([]models.Listing, error) {
	out, err := s.listings.ListActive(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list listings")
	}
	return out, nil
}

// updateConfig applies an admin-gated mutation to the config record under
// the config lock.
func (s *Service) updateConfig(ctx context.Context, mutate func(cfg *models.Config) error) error {
	caller := requestcontext.Caller(ctx)
	if caller.IsZero() {
		return dErrors.New(dErrors.CodeUnauthorized, "caller identity required")
	}
	return s.lock.Run(ctx, configLockKey, func(ctx context.Context) error {
		cfg, err := s.getConfig(ctx)
		if err != nil {
			return err
		}
		if err := cfg.RequireAdmin(caller); err != nil {
			return err
		}
		if err := mutate(cfg); err != nil {
			return err
		}
		if err := s.config.Update(ctx, cfg); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to update config")
		}
		return nil
	})
}

func (s *Service) getConfig(ctx context.Context) (*models.Config, error) {
	cfg, err := s.config.Get(ctx)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "marketplace not initialized")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load config")
	}
	return cfg, nil
}

func (s *Service) findListing(ctx context.Context, asset id.AssetID) (*models.Listing, error) {
	l, err := s.listings.FindByAsset(ctx, asset)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "listing not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load listing")
	}
	return l, nil
}

func (s *Service) emit(ctx context.Context, subject id.Identity, kind events.Kind, payload map[string]any) {
	if s.events == nil {
		return
	}
	if err := s.events.Emit(ctx, subject, kind, payload); err != nil {
		s.logger.ErrorContext(ctx, "failed to emit event", "kind", kind, "error", err)
	}
}

// wrapLedgerErr maps ledger facts onto domain codes.
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
