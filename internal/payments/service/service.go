// Package service implements metered-access payments: a user pays a fixed
// price in one of three currencies and is granted access credits, with
// per-user accrual records for audit.
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
	"custodia/internal/payments/metrics"
	"custodia/internal/payments/models"
	"custodia/internal/safemath"
	id "custodia/pkg/domain"
	dErrors "custodia/pkg/domain-errors"
	"custodia/pkg/platform/events"
	"custodia/pkg/platform/sentinel"
	"custodia/pkg/requestcontext"
)

// configRecordLen is the fixed on-ledger size of the config record, used to
// compute the treasury's reserved minimum.
const configRecordLen = 138

var configLockKey = []byte("payments/config")

type StatsStore interface {
	CreateOrGet(ctx context.Context, user id.Identity) (*models.UserStats, error)
	Find(ctx context.Context, user id.Identity) (*models.UserStats, error)
	Update(ctx context.Context, st *models.UserStats) error
}

// Service orchestrates metered-access payments across the three currency
// slots.
type Service struct {
	config  configstore.Store[models.Config]
	stats   StatsStore
	ledger  ledger.Ledger
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
func New(config configstore.Store[models.Config], stats StatsStore, ldg ledger.Ledger, deriver *custody.Deriver, opts ...Option) *Service {
	s := &Service{
		config:  config,
		stats:   stats,
		ledger:  ldg,
		deriver: deriver,
		lock:    oplock.New(),
		logger:  slog.Default(),
		tracer:  otel.Tracer("custodia/payments"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Initialize installs the payment config and creates the program token
// accounts that receive stable and credit payments.
func (s *Service) Initialize(ctx context.Context, admin id.Identity, nativePrice uint64, stable, credit models.TokenSlot, creditsPerPayment uint64) (*models.Config, error) {
	cfg, err := models.NewConfig(admin, nativePrice, stable, credit, creditsPerPayment)
	if err != nil {
		return nil, err
	}
	err = s.lock.Run(ctx, configLockKey, func(ctx context.Context) error {
		if err := s.config.Create(ctx, cfg); err != nil {
			if errors.Is(err, sentinel.ErrAlreadyExists) {
				return dErrors.New(dErrors.CodeAlreadyExists, "payment service already initialized")
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to store config")
		}
		return s.ledger.InTx(ctx, func(tx ledger.Tx) error {
			if err := s.createHolding(tx, stable.Mint); err != nil {
				return err
			}
			return s.createHolding(tx, credit.Mint)
		})
	})
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "payment service initialized",
		"admin", admin, "credits_per_payment", creditsPerPayment)
	return cfg, nil
}

// Pay settles one metered-access payment in the chosen currency and grants
// the configured credits. The payer account is consulted only for token
// currencies.
func (s *Service) Pay(ctx context.Context, currency models.Currency, payerAccount id.Identity) (*models.UserStats, error) {
	ctx, span := s.tracer.Start(ctx, "payments.Pay")
	defer span.End()
	start := time.Now()
	defer s.metrics.ObservePay(start)

	user := requestcontext.Caller(ctx)
	if user.IsZero() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "caller identity required")
	}
	if !currency.Valid() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "unknown currency")
	}

	var (
		out   *models.UserStats
		price uint64
		grant uint64
	)
	err := s.lock.Run(ctx, user.Bytes(), func(ctx context.Context) error {
		cfg, err := s.getConfig(ctx)
		if err != nil {
			return err
		}
		if err := cfg.RequireRunning(); err != nil {
			return err
		}

		price, _ = cfg.Price(currency)
		if price == 0 {
			return dErrors.New(dErrors.CodeInvalidInput, "price not set for currency")
		}
		grant = cfg.CreditsPerPayment

		treasury := s.deriver.Treasury()
		err = s.ledger.InTx(ctx, func(tx ledger.Tx) error {
			if currency == models.CurrencyNative {
				return wrapLedgerErr(tx.Transfer(user, treasury.Address(), ledger.Signer(user), price))
			}
			slot, err := cfg.TokenSlot(currency)
			if err != nil {
				return err
			}
			acct, err := tx.Account(payerAccount)
			if err != nil {
				return dErrors.Wrap(err, dErrors.CodeNotFound, "paying account not found")
			}
			if acct.Asset != slot.Mint {
				return dErrors.New(dErrors.CodeInvalidInput, "paying account does not hold the configured currency")
			}
			if acct.Owner != user {
				return dErrors.New(dErrors.CodeUnauthorized, "paying account owner mismatch")
			}
			holding := s.deriver.Derive(slot.Mint.Bytes())
			return wrapLedgerErr(tx.TokenTransfer(payerAccount, holding.Address(), ledger.Signer(user), price))
		})
		if err != nil {
			return err
		}

		st, err := s.stats.CreateOrGet(ctx, user)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load user stats")
		}
		if err := accrue(st, currency, price); err != nil {
			return err
		}
		count, err := safemath.Add(st.PaymentCount, 1)
		if err != nil {
			return err
		}
		credits, err := safemath.Add(st.CreditsPurchased, grant)
		if err != nil {
			return err
		}
		st.PaymentCount = count
		st.CreditsPurchased = credits
		st.LastPaidAt = requestcontext.Now(ctx)
		if err := s.stats.Update(ctx, st); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to record payment")
		}
		out = st
		return nil
	})
	if err != nil {
		return nil, err
	}

	kind, payload := events.CreditsPurchased(user, grant, price)
	s.emit(ctx, user, kind, payload)
	s.metrics.AddPayment(string(currency))
	s.metrics.AddCreditsGranted(grant)
	s.logger.InfoContext(ctx, "payment received",
		"user", user, "currency", currency, "price", price, "credits", grant)
	return out, nil
}

// UpdatePrice changes the price of one currency slot.
func (s *Service) UpdatePrice(ctx context.Context, currency models.Currency, newPrice uint64) error {
	caller := requestcontext.Caller(ctx)
	if caller.IsZero() {
		return dErrors.New(dErrors.CodeUnauthorized, "caller identity required")
	}
	if !currency.Valid() {
		return dErrors.New(dErrors.CodeInvalidInput, "unknown currency")
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
		switch currency {
		case models.CurrencyNative:
			oldPrice, cfg.NativePrice = cfg.NativePrice, newPrice
		case models.CurrencyStable:
			oldPrice, cfg.Stable.Price = cfg.Stable.Price, newPrice
		case models.CurrencyCredit:
			oldPrice, cfg.Credit.Price = cfg.Credit.Price, newPrice
		}
		if err := s.config.Update(ctx, cfg); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to update config")
		}
		return nil
	})
	if err != nil {
		return err
	}

	kind, payload := events.PriceChanged(string(currency), oldPrice, newPrice)
	s.emit(ctx, caller, kind, payload)
	return nil
}

// UpdateCurrencyMint retargets a token currency slot to a new mint. The
// native slot has no mint and cannot be retargeted.
func (s *Service) UpdateCurrencyMint(ctx context.Context, currency models.Currency, mint id.AssetID) error {
	caller := requestcontext.Caller(ctx)
	if caller.IsZero() {
		return dErrors.New(dErrors.CodeUnauthorized, "caller identity required")
	}
	if !currency.IsToken() {
		return dErrors.New(dErrors.CodeInvalidInput, "currency has no mint to retarget")
	}
	if mint.IsZero() {
		return dErrors.New(dErrors.CodeInvalidInput, "mint is required")
	}

	return s.lock.Run(ctx, configLockKey, func(ctx context.Context) error {
		cfg, err := s.getConfig(ctx)
		if err != nil {
			return err
		}
		if err := cfg.RequireAdmin(caller); err != nil {
			return err
		}
		slot, err := cfg.TokenSlot(currency)
		if err != nil {
			return err
		}
		slot.Mint = mint
		err = s.ledger.InTx(ctx, func(tx ledger.Tx) error {
			return s.createHolding(tx, mint)
		})
		if err != nil {
			return err
		}
		if err := s.config.Update(ctx, cfg); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to update config")
		}
		s.logger.InfoContext(ctx, "currency mint retargeted", "currency", currency, "mint", mint)
		return nil
	})
}

// WithdrawNative pays out treasury excess to the admin, leaving the reserved
// minimum in place.
func (s *Service) WithdrawNative(ctx context.Context, amount uint64) error {
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
	return nil
}

// WithdrawToken sweeps the full program balance of a token currency into the
// given destination account.
func (s *Service) WithdrawToken(ctx context.Context, currency models.Currency, toAccount id.Identity) (uint64, error) {
	caller := requestcontext.Caller(ctx)
	if caller.IsZero() {
		return 0, dErrors.New(dErrors.CodeUnauthorized, "caller identity required")
	}
	if !currency.IsToken() {
		return 0, dErrors.New(dErrors.CodeInvalidInput, "currency has no token balance")
	}

	var swept uint64
	err := s.lock.Run(ctx, configLockKey, func(ctx context.Context) error {
		cfg, err := s.getConfig(ctx)
		if err != nil {
			return err
		}
		if err := cfg.RequireAdmin(caller); err != nil {
			return err
		}
		slot, err := cfg.TokenSlot(currency)
		if err != nil {
			return err
		}

		treasury := s.deriver.Treasury()
		holding := s.deriver.Derive(slot.Mint.Bytes())
		return s.ledger.InTx(ctx, func(tx ledger.Tx) error {
			src, err := tx.Account(holding.Address())
			if err != nil {
				return dErrors.Wrap(err, dErrors.CodeInternal, "failed to read program account")
			}
			dst, err := tx.Account(toAccount)
			if err != nil {
				return dErrors.Wrap(err, dErrors.CodeNotFound, "destination account not found")
			}
			if dst.Asset != slot.Mint {
				return dErrors.New(dErrors.CodeInvalidInput, "destination account does not hold the currency")
			}
			swept = src.Balance
			if swept == 0 {
				return dErrors.New(dErrors.CodeInsufficientBalance, "nothing to sweep")
			}
			return wrapLedgerErr(tx.TokenTransfer(holding.Address(), toAccount, treasury, swept))
		})
	})
	if err != nil {
		return 0, err
	}

	kind, payload := events.FundsWithdrawn(caller, swept)
	s.emit(ctx, caller, kind, payload)
	s.logger.InfoContext(ctx, "token sweep", "currency", currency, "amount", swept)
	return swept, nil
}

// Pause stops payments.
func (s *Service) Pause(ctx context.Context) error {
	err := s.setPaused(ctx, true)
	if err != nil {
		return err
	}
	s.emit(ctx, requestcontext.Caller(ctx), events.KindPaused, nil)
	return nil
}

// Unpause resumes payments.
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

// Stats returns the accrual record for a user.
func (s *Service) Stats(ctx context.Context, user id.Identity) (*models.UserStats, error) {
	st, err := s.stats.Find(ctx, user)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "no payments recorded for user")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load user stats")
	}
	return st, nil
}

// Config returns the current payment configuration.
func (s *Service) Config(ctx context.Context) (*models.Config, error) {
	return s.getConfig(ctx)
}

// Treasury returns the service's treasury address.
func (s *Service) Treasury() id.Identity {
	return s.deriver.Treasury().Address()
}

func (s *Service) createHolding(tx ledger.Tx, mint id.AssetID) error {
	holding := s.deriver.Derive(mint.Bytes())
	err := tx.CreateCustodyAccount(holding.Address(), mint, s.deriver.Treasury())
	if err != nil && !errors.Is(err, sentinel.ErrAlreadyExists) {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to create program account")
	}
	return nil
}

func accrue(st *models.UserStats, currency models.Currency, price uint64) error {
	var total *uint64
	switch currency {
	case models.CurrencyNative:
		total = &st.TotalNativePaid
	case models.CurrencyStable:
		total = &st.TotalStablePaid
	case models.CurrencyCredit:
		total = &st.TotalCreditPaid
	default:
		return dErrors.New(dErrors.CodeInvalidInput, "unknown currency")
	}
	sum, err := safemath.Add(*total, price)
	if err != nil {
		return err
	}
	*total = sum
	return nil
}

func (s *Service) getConfig(ctx context.Context) (*models.Config, error) {
	cfg, err := s.config.Get(ctx)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "payment service not initialized")
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
