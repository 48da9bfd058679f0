// Package service implements the convertible credit: purchase against
// native currency at a configured rate, redeem back, and delegated spends
// that move and destroy value in one atomic step.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"custodia/internal/configstore"
	"custodia/internal/credits/metrics"
	"custodia/internal/credits/models"
	"custodia/internal/custody"
	"custodia/internal/ledger"
	"custodia/internal/oplock"
	"custodia/internal/safemath"
	id "custodia/pkg/domain"
	dErrors "custodia/pkg/domain-errors"
	"custodia/pkg/platform/events"
	"custodia/pkg/platform/sentinel"
	"custodia/pkg/requestcontext"
)

// configRecordLen is the fixed on-ledger size of the config record, used to
// compute the treasury's reserved minimum.
const configRecordLen = 50

// holdingTag derives the account where delegated spends park units for the
// burn leg.
var holdingTag = []byte("holding")

var configLockKey = []byte("credits/config")

type SpenderStore interface {
	Upsert(ctx context.Context, sp *models.Spender) error
	Find(ctx context.Context, spender id.Identity) (*models.Spender, error)
	Update(ctx context.Context, sp *models.Spender) error
}

// Service orchestrates credit purchase, redemption, and delegated spends.
type Service struct {
	config   configstore.Store[models.Config]
	spenders SpenderStore
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
func New(config configstore.Store[models.Config], spenders SpenderStore, ldg ledger.Ledger, deriver *custody.Deriver, opts ...Option) *Service {
	s := &Service{
		config:   config,
		spenders: spenders,
		ledger:   ldg,
		deriver:  deriver,
		lock:     oplock.New(),
		logger:   slog.Default(),
		tracer:   otel.Tracer("custodia/credits"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Initialize installs the credit config and creates the holding account used
// by delegated spends. The credit mint must already exist on the ledger with
// the service treasury as its mint authority.
func (s *Service) Initialize(ctx context.Context, admin id.Identity, mint id.AssetID, pricePerCredit uint64) (*models.Config, error) {
	cfg, err := models.NewConfig(admin, mint, pricePerCredit)
	if err != nil {
		return nil, err
	}
	err = s.lock.Run(ctx, configLockKey, func(ctx context.Context) error {
		if err := s.config.Create(ctx, cfg); err != nil {
			if errors.Is(err, sentinel.ErrAlreadyExists) {
				return dErrors.New(dErrors.CodeAlreadyExists, "credit service already initialized")
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to store config")
		}
		holding := s.deriver.Derive(holdingTag)
		return s.ledger.InTx(ctx, func(tx ledger.Tx) error {
			if err := tx.CreateCustodyAccount(holding.Address(), mint, s.deriver.Treasury()); err != nil {
				return dErrors.Wrap(err, dErrors.CodeInternal, "failed to create holding account")
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "credit service initialized",
		"admin", admin, "mint", mint, "price_per_credit", pricePerCredit)
	return cfg, nil
}

// Purchase converts native currency into freshly minted credits at the
// configured rate. A payment too small to buy a single base unit fails.
func (s *Service) Purchase(ctx context.Context, payAmount uint64, buyerAccount id.Identity) (uint64, error) {
	ctx, span := s.tracer.Start(ctx, "credits.Purchase")
	defer span.End()
	start := time.Now()
	defer s.metrics.ObservePurchase(start)

	buyer := requestcontext.Caller(ctx)
	if buyer.IsZero() {
		return 0, dErrors.New(dErrors.CodeUnauthorized, "caller identity required")
	}
	if payAmount == 0 {
		return 0, dErrors.New(dErrors.CodeInvalidInput, "amount must be positive")
	}

	var creditAmount uint64
	err := s.lock.Run(ctx, configLockKey, func(ctx context.Context) error {
		cfg, err := s.getConfig(ctx)
		if err != nil {
			return err
		}
		if err := cfg.RequireRunning(); err != nil {
			return err
		}

		scaled, err := safemath.Mul(payAmount, models.UnitsPerCredit)
		if err != nil {
			return err
		}
		creditAmount = scaled / cfg.PricePerCredit
		if creditAmount == 0 {
			return dErrors.New(dErrors.CodeInsufficientPayment, "payment buys no credit units")
		}

		treasury := s.deriver.Treasury()
		return s.ledger.InTx(ctx, func(tx ledger.Tx) error {
			supply, err := tx.Supply(cfg.Mint)
			if err != nil {
				return dErrors.Wrap(err, dErrors.CodeInternal, "failed to read supply")
			}
			newSupply, err := safemath.Add(supply, creditAmount)
			if err != nil {
				return err
			}
			if newSupply > models.MaxSupply {
				return dErrors.New(dErrors.CodeConflict, "purchase would exceed the maximum supply")
			}

			if err := s.requireOwnedAccount(tx, buyerAccount, cfg.Mint, buyer); err != nil {
				return err
			}
			if err := wrapLedgerErr(tx.Transfer(buyer, treasury.Address(), ledger.Signer(buyer), payAmount)); err != nil {
				return err
			}
			return wrapLedgerErr(tx.MintTo(cfg.Mint, buyerAccount, treasury, creditAmount))
		})
	})
	if err != nil {
		return 0, err
	}

	kind, payload := events.CreditsPurchased(buyer, creditAmount, payAmount)
	s.emit(ctx, buyer, kind, payload)
	s.metrics.AddPurchased(creditAmount)
	s.logger.InfoContext(ctx, "credits purchased",
		"buyer", buyer, "units", creditAmount, "paid", payAmount)
	return creditAmount, nil
}

// Redeem burns the caller's credits and pays out the native equivalent. The
// burn runs first so a payout failure never leaves destroyed value unpaid,
// and the treasury must retain its reserved minimum after the payout.
func (s *Service) Redeem(ctx context.Context, creditAmount uint64, userAccount id.Identity) (uint64, error) {
	ctx, span := s.tracer.Start(ctx, "credits.Redeem")
	defer span.End()

	user := requestcontext.Caller(ctx)
	if user.IsZero() {
		return 0, dErrors.New(dErrors.CodeUnauthorized, "caller identity required")
	}
	if creditAmount == 0 {
		return 0, dErrors.New(dErrors.CodeInvalidInput, "amount must be positive")
	}

	var payout uint64
	err := s.lock.Run(ctx, configLockKey, func(ctx context.Context) error {
		cfg, err := s.getConfig(ctx)
		if err != nil {
			return err
		}
		if err := cfg.RequireRunning(); err != nil {
			return err
		}

		scaled, err := safemath.Mul(creditAmount, cfg.PricePerCredit)
		if err != nil {
			return err
		}
		payout = scaled / models.UnitsPerCredit

		treasury := s.deriver.Treasury()
		return s.ledger.InTx(ctx, func(tx ledger.Tx) error {
			if err := s.requireOwnedAccount(tx, userAccount, cfg.Mint, user); err != nil {
				return err
			}

			balance, err := tx.Balance(treasury.Address())
			if err != nil {
				return dErrors.Wrap(err, dErrors.CodeInternal, "failed to read treasury balance")
			}
			required, err := safemath.Add(payout, s.ledger.MinimumBalance(configRecordLen))
			if err != nil {
				return err
			}
			if balance < required {
				return dErrors.New(dErrors.CodeInsufficientBalance, "treasury cannot cover the payout")
			}

			if err := wrapLedgerErr(tx.Burn(cfg.Mint, userAccount, ledger.Signer(user), creditAmount)); err != nil {
				return err
			}
			if payout == 0 {
				return nil
			}
			return wrapLedgerErr(tx.Transfer(treasury.Address(), user, treasury, payout))
		})
	})
	if err != nil {
		return 0, err
	}

	kind, payload := events.CreditsRedeemed(user, creditAmount, payout)
	s.emit(ctx, user, kind, payload)
	s.metrics.AddRedeemed(creditAmount)
	s.logger.InfoContext(ctx, "credits redeemed",
		"user", user, "units", creditAmount, "paid_out", payout)
	return payout, nil
}

// SpendFor destroys credits from a user's account on behalf of an authorized
// spender: the units move to the service holding account and burn there
// under the service's own authority, in one atomic step.
func (s *Service) SpendFor(ctx context.Context, user, userAccount id.Identity, amount uint64) error {
	ctx, span := s.tracer.Start(ctx, "credits.SpendFor")
	defer span.End()

	spenderID := requestcontext.Caller(ctx)
	if spenderID.IsZero() {
		return dErrors.New(dErrors.CodeUnauthorized, "caller identity required")
	}
	if amount == 0 {
		return dErrors.New(dErrors.CodeInvalidInput, "amount must be positive")
	}

	return s.lock.Run(ctx, configLockKey, func(ctx context.Context) error {
		cfg, err := s.getConfig(ctx)
		if err != nil {
			return err
		}
		if err := cfg.RequireRunning(); err != nil {
			return err
		}

		sp, err := s.spenders.Find(ctx, spenderID)
		if err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return dErrors.New(dErrors.CodeUnauthorized, "spender is not authorized")
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load spender")
		}
		if err := sp.RequireAuthorized(); err != nil {
			return err
		}

		treasury := s.deriver.Treasury()
		holding := s.deriver.Derive(holdingTag)
		err = s.ledger.InTx(ctx, func(tx ledger.Tx) error {
			if err := s.requireOwnedAccount(tx, userAccount, cfg.Mint, user); err != nil {
				return err
			}
			if err := wrapLedgerErr(tx.TokenTransfer(userAccount, holding.Address(), ledger.Signer(user), amount)); err != nil {
				return err
			}
			return wrapLedgerErr(tx.Burn(cfg.Mint, holding.Address(), treasury, amount))
		})
		if err != nil {
			return err
		}

		total, err := safemath.Add(sp.TotalSpent, amount)
		if err != nil {
			return err
		}
		sp.TotalSpent = total
		sp.UpdatedAt = requestcontext.Now(ctx)
		if err := s.spenders.Update(ctx, sp); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to record spend")
		}

		s.metrics.AddSpent(amount)
		s.logger.InfoContext(ctx, "delegated spend",
			"spender", spenderID, "user", user, "units", amount)
		return nil
	})
}

// SetAuthorizedSpender grants or revokes a delegated-spend authorization.
func (s *Service) SetAuthorizedSpender(ctx context.Context, spenderID id.Identity, authorized bool) error {
	caller := requestcontext.Caller(ctx)
	if caller.IsZero() {
		return dErrors.New(dErrors.CodeUnauthorized, "caller identity required")
	}
	if spenderID.IsZero() {
		return dErrors.New(dErrors.CodeInvalidInput, "spender identity is required")
	}

	return s.lock.Run(ctx, configLockKey, func(ctx context.Context) error {
		cfg, err := s.getConfig(ctx)
		if err != nil {
			return err
		}
		if err := cfg.RequireAdmin(caller); err != nil {
			return err
		}
		sp := &models.Spender{
			Spender:    spenderID,
			Authorized: authorized,
			UpdatedAt:  requestcontext.Now(ctx),
		}
		if err := s.spenders.Upsert(ctx, sp); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to store spender")
		}
		return nil
	})
}

// AdminMint issues credits without payment, still capped by max supply.
func (s *Service) AdminMint(ctx context.Context, toAccount id.Identity, amount uint64) error {
	caller := requestcontext.Caller(ctx)
	if caller.IsZero() {
		return dErrors.New(dErrors.CodeUnauthorized, "caller identity required")
	}
	if amount == 0 {
		return dErrors.New(dErrors.CodeInvalidInput, "amount must be positive")
	}

	return s.lock.Run(ctx, configLockKey, func(ctx context.Context) error {
		cfg, err := s.getConfig(ctx)
		if err != nil {
			return err
		}
		if err := cfg.RequireAdmin(caller); err != nil {
			return err
		}

		treasury := s.deriver.Treasury()
		return s.ledger.InTx(ctx, func(tx ledger.Tx) error {
			supply, err := tx.Supply(cfg.Mint)
			if err != nil {
				return dErrors.Wrap(err, dErrors.CodeInternal, "failed to read supply")
			}
			newSupply, err := safemath.Add(supply, amount)
			if err != nil {
				return err
			}
			if newSupply > models.MaxSupply {
				return dErrors.New(dErrors.CodeConflict, "mint would exceed the maximum supply")
			}
			return wrapLedgerErr(tx.MintTo(cfg.Mint, toAccount, treasury, amount))
		})
	})
}

// UpdatePrice changes the conversion rate for future purchases and
// redemptions.
func (s *Service) UpdatePrice(ctx context.Context, newPrice uint64) error {
	caller := requestcontext.Caller(ctx)
	if caller.IsZero() {
		return dErrors.New(dErrors.CodeUnauthorized, "caller identity required")
	}
	if newPrice == 0 {
		return dErrors.New(dErrors.CodeInvalidInput, "price must be positive")
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
		oldPrice = cfg.PricePerCredit
		cfg.PricePerCredit = newPrice
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

// Withdraw pays out treasury excess to the admin, leaving the reserved
// minimum in place.
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
			required, err := safemath.Add(amount, s.ledger.MinimumBalance(configRecordLen))
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
	s.logger.InfoContext(ctx, "treasury withdrawal", "amount", amount)
	return nil
}

// Pause stops purchase, redemption, and delegated spends.
func (s *Service) Pause(ctx context.Context) error {
	err := s.setPaused(ctx, true)
	if err != nil {
		return err
	}
	s.emit(ctx, requestcontext.Caller(ctx), events.KindPaused, nil)
	return nil
}

// Unpause resumes value-moving operations.
func (s *Service) Unpause(ctx context.Context) error {
	err := s.setPaused(ctx, false)
	if err != nil {
		return err
	}
	s.emit(ctx, requestcontext.Caller(ctx), events.KindUnpaused, nil)
	return nil
}

func (s *Service) setPaused(ctx context.Context, paused bool) error {
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
		cfg.Paused = paused
		if err := s.config.Update(ctx, cfg); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to update config")
		}
		return nil
	})
}

// Spender returns the authorization record for a spender identity.
func (s *Service) Spender(ctx context.Context, spenderID id.Identity) (*models.Spender, error) {
	sp, err := s.spenders.Find(ctx, spenderID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "spender not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load spender")
	}
	return sp, nil
}

// Config returns the current credit service configuration.
func (s *Service) Config(ctx context.Context) (*models.Config, error) {
	return s.getConfig(ctx)
}

// Treasury returns the service's treasury address.
func (s *Service) Treasury() id.Identity {
	return s.deriver.Treasury().Address()
}

func (s *Service) requireOwnedAccount(tx ledger.Tx, account id.Identity, mint id.AssetID, owner id.Identity) error {
	acct, err := tx.Account(account)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeNotFound, "token account not found")
	}
	if acct.Asset != mint {
		return dErrors.New(dErrors.CodeInvalidInput, "token account does not hold the credit asset")
	}
	if acct.Owner != owner {
		return dErrors.New(dErrors.CodeUnauthorized, "token account owner mismatch")
	}
	return nil
}

func (s *Service) getConfig(ctx context.Context) (*models.Config, error) {
	cfg, err := s.config.Get(ctx)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "credit service not initialized")
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
