// Command server runs the custodia settlement API: marketplace escrow,
// unique-item issuance, convertible credits, and metered-access payments
// behind one authenticated HTTP surface.
package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"custodia/internal/configstore"
	creditshandler "custodia/internal/credits/handler"
	creditsmetrics "custodia/internal/credits/metrics"
	creditsmodels "custodia/internal/credits/models"
	creditsservice "custodia/internal/credits/service"
	"custodia/internal/credits/store/spender"
	"custodia/internal/custody"
	"custodia/internal/ledger"
	markethandler "custodia/internal/marketplace/handler"
	marketmetrics "custodia/internal/marketplace/metrics"
	marketmodels "custodia/internal/marketplace/models"
	marketservice "custodia/internal/marketplace/service"
	"custodia/internal/marketplace/store/listing"
	patenthandler "custodia/internal/patents/handler"
	patentmetrics "custodia/internal/patents/metrics"
	patentmodels "custodia/internal/patents/models"
	patentservice "custodia/internal/patents/service"
	"custodia/internal/patents/store/patent"
	payhandler "custodia/internal/payments/handler"
	paymetrics "custodia/internal/payments/metrics"
	paymodels "custodia/internal/payments/models"
	payservice "custodia/internal/payments/service"
	"custodia/internal/payments/store/userstats"
	"custodia/internal/platform/config"
	"custodia/internal/platform/httpserver"
	"custodia/internal/platform/logger"
	"custodia/internal/platform/middleware"
	platformredis "custodia/internal/platform/redis"
	id "custodia/pkg/domain"
	dErrors "custodia/pkg/domain-errors"
	"custodia/pkg/platform/events"
	"custodia/pkg/platform/events/publishers/kafka"
	"custodia/pkg/platform/httputil"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := config.FromEnv()
	log := logger.New()
	slog.SetDefault(log)

	// The external asset ledger. The in-process implementation backs
	// single-node deployments; balances do not survive restarts.
	ldg := ledger.NewMemory()
	issuer := ledger.NewMemoryIssuer()

	seed := []byte(cfg.DerivationSeed)
	marketDeriver := custody.NewDeriver("marketplace", seed)
	patentDeriver := custody.NewDeriver("patents", seed)
	creditDeriver := custody.NewDeriver("credits", seed)
	payDeriver := custody.NewDeriver("payments", seed)

	// Treasuries are key-less: native funds they hold move only under the
	// owning service's custody handle.
	for _, treasury := range []id.Identity{
		patentDeriver.Treasury().Address(),
		creditDeriver.Treasury().Address(),
		payDeriver.Treasury().Address(),
	} {
		ldg.RegisterCustodian(treasury)
	}

	creditMint := id.NewAssetID()
	ldg.CreateMint(creditMint, creditDeriver.Treasury().Address())
	log.Info("credit mint provisioned", "mint", creditMint)

	stores, err := buildStores(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer stores.close()

	eventStore, closeEvents, err := buildEventStore(cfg, log)
	if err != nil {
		return err
	}
	defer closeEvents()
	publisher := events.NewPublisher(eventStore)

	marketSvc := marketservice.New(stores.marketConfig, stores.listings, ldg, marketDeriver,
		marketservice.WithLogger(log),
		marketservice.WithEmitter(publisher.Emitter("marketplace")),
		marketservice.WithMetrics(marketmetrics.New()),
	)
	patentSvc := patentservice.New(stores.patentConfig, stores.patents, ldg, issuer, patentDeriver,
		patentservice.WithLogger(log),
		patentservice.WithEmitter(publisher.Emitter("patents")),
		patentservice.WithMetrics(patentmetrics.New()),
	)
	creditSvc := creditsservice.New(stores.creditConfig, stores.spenders, ldg, creditDeriver,
		creditsservice.WithLogger(log),
		creditsservice.WithEmitter(publisher.Emitter("credits")),
		creditsservice.WithMetrics(creditsmetrics.New()),
	)
	paySvc := payservice.New(stores.payConfig, stores.stats, ldg, payDeriver,
		payservice.WithLogger(log),
		payservice.WithEmitter(publisher.Emitter("payments")),
		payservice.WithMetrics(paymetrics.New()),
	)

	router := chi.NewRouter()
	router.Use(middleware.RequestID, middleware.RequestTime)
	router.Use(middleware.Recovery(log), middleware.Logger(log))
	router.Handle("/metrics", promhttp.Handler())
	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	router.Group(func(r chi.Router) {
		r.Use(middleware.RequireCaller([]byte(cfg.JWTSigningKey), log))
		markethandler.New(marketSvc, log).Register(r)
		patenthandler.New(patentSvc, log).Register(r)
		creditshandler.New(creditSvc, log).Register(r)
		payhandler.New(paySvc, log).Register(r)
		r.Get("/events/recent", recentEventsHandler(eventStore))
	})

	server := httpserver.New(cfg.Addr, router)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("listening", "addr", cfg.Addr)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		log.Info("shutting down")
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// recentEventsHandler serves the in-memory audit tail for operators.
func recentEventsHandler(store events.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 100
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 1 || n > 1000 {
				httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "limit must be 1-1000"))
				return
			}
			limit = n
		}
		evts, err := store.ListRecent(r.Context(), limit)
		if err != nil {
			httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list events"))
			return
		}
		httputil.WriteJSON(w, http.StatusOK, evts)
	}
}

// storeSet bundles every persistence dependency so run can build them in one
// place, postgres-backed or in-memory.
type storeSet struct {
	marketConfig configstore.Store[marketmodels.Config]
	patentConfig configstore.Store[patentmodels.Config]
	creditConfig configstore.Store[creditsmodels.Config]
	payConfig    configstore.Store[paymodels.Config]

	listings marketservice.ListingStore
	patents  patentservice.PatentStore
	spenders creditsservice.SpenderStore
	stats    payservice.StatsStore

	db *sql.DB
}

func (s *storeSet) close() {
	if s.db != nil {
		_ = s.db.Close()
	}
}

func buildStores(ctx context.Context, cfg config.Server, log *slog.Logger) (*storeSet, error) {
	if cfg.PostgresDSN == "" {
		log.Info("using in-memory stores")
		return &storeSet{
			marketConfig: configstore.NewMemory[marketmodels.Config](),
			patentConfig: configstore.NewMemory[patentmodels.Config](),
			creditConfig: configstore.NewMemory[creditsmodels.Config](),
			payConfig:    configstore.NewMemory[paymodels.Config](),
			listings:     listing.NewInMemory(),
			patents:      patent.NewInMemory(),
			spenders:     spender.NewInMemory(),
			stats:        userstats.NewInMemory(),
		}, nil
	}

	db, err := sql.Open("postgres", cfg.PostgresDSN)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	log.Info("using postgres stores")

	var listings marketservice.ListingStore = listing.NewPostgres(db)
	if cfg.RedisAddr != "" {
		client, err := platformredis.New(ctx, cfg.RedisAddr)
		if err != nil {
			return nil, err
		}
		listings = listing.NewCached(client, listing.NewPostgres(db))
		log.Info("listing cache enabled", "addr", cfg.RedisAddr)
	}

	return &storeSet{
		marketConfig: configstore.NewPostgres[marketmodels.Config](db, "marketplace"),
		patentConfig: configstore.NewPostgres[patentmodels.Config](db, "patents"),
		creditConfig: configstore.NewPostgres[creditsmodels.Config](db, "credits"),
		payConfig:    configstore.NewPostgres[paymodels.Config](db, "payments"),
		listings:     listings,
		patents:      patent.NewPostgres(db),
		spenders:     spender.NewPostgres(db),
		stats:        userstats.NewPostgres(db),
		db:           db,
	}, nil
}

func buildEventStore(cfg config.Server, log *slog.Logger) (events.Store, func(), error) {
	memory := events.NewMemoryStore()
	if len(cfg.KafkaBrokers) == 0 {
		return memory, func() {}, nil
	}

	producer, err := kafka.New(cfg.KafkaBrokers, cfg.KafkaTopic)
	if err != nil {
		return nil, nil, err
	}
	log.Info("event stream enabled", "topic", cfg.KafkaTopic)
	return events.NewFanoutStore(memory, producer), producer.Close, nil
}
