package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/boddenberg/credits-report-go/internal/config"
	"github.com/boddenberg/credits-report-go/internal/domain"
	"github.com/boddenberg/credits-report-go/internal/handler"
	"github.com/boddenberg/credits-report-go/internal/infra/cache"
	"github.com/boddenberg/credits-report-go/internal/infra/events"
	"github.com/boddenberg/credits-report-go/internal/infra/observability"
	"github.com/boddenberg/credits-report-go/internal/infra/postgres"
	"github.com/boddenberg/credits-report-go/internal/port"
	"github.com/boddenberg/credits-report-go/internal/service"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

const serviceName = "credits-report"

const usage = `usage: credits [serve|migrate]

  serve    run the HTTP API (default)
  migrate  create the schema, seed the dictionary and exit`

func main() {
	// --- Load .env file (for local development) ---
	_ = config.LoadDotEnv(".env")

	// --- JSON ---
	// Money is rendered as JSON numbers, not strings.
	decimal.MarshalJSONWithoutQuotes = true

	// --- Config ---
	cfg := config.Load()

	// --- Logger ---
	logger := observability.NewLogger(cfg.LogLevel, serviceName)
	defer logger.Sync()

	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	cmd := "serve"
	if len(os.Args) > 1 {
		cmd = os.Args[1]
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var err error
	switch cmd {
	case "serve":
		err = serve(ctx, cfg, logger)
	case "migrate":
		err = migrate(ctx, cfg, logger)
	default:
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		logger.Fatal("command failed", zap.String("command", cmd), zap.Error(err))
	}
}

func openDatabase(cfg *config.Config, logger *zap.Logger) (*gorm.DB, error) {
	return postgres.Open(postgres.Options{
		DSN:             cfg.DatabaseDSN,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		Debug:           cfg.LogLevel == "debug",
	}, logger)
}

func prepareSchema(ctx context.Context, db *gorm.DB, categories domain.Categories, logger *zap.Logger) error {
	if err := postgres.Migrate(ctx, db); err != nil {
		return err
	}
	if err := postgres.SeedDictionary(ctx, db, categories, logger); err != nil {
		return err
	}
	logger.Info("schema ready")
	return nil
}

func migrate(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	db, err := openDatabase(cfg, logger)
	if err != nil {
		return err
	}
	store := postgres.NewStore(db)
	defer store.Close()

	return prepareSchema(ctx, db, cfg.Categories(), logger)
}

func serve(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	logger.Info("configuration loaded",
		zap.Int("port", cfg.Port),
		zap.String("log_level", cfg.LogLevel),
		zap.Bool("auto_migrate", cfg.AutoMigrate),
		zap.Int("max_open_conns", cfg.MaxOpenConns),
		zap.String("issuance_category", cfg.IssuanceCategory),
		zap.String("collection_category", cfg.CollectionCategory),
		zap.Duration("dictionary_cache_ttl", cfg.DictionaryCacheTTL),
		zap.Bool("plans_jwt", cfg.PlansJWTSecret != ""),
		zap.Bool("amqp", cfg.AMQPURL != ""),
	)

	// --- Tracing ---
	shutdownTracer, err := observability.InitTracer(cfg.OTLPEndpoint, serviceName)
	if err != nil {
		return fmt.Errorf("init tracer: %w", err)
	}
	defer shutdownTracer(context.Background())

	// --- Metrics ---
	metrics := observability.NewMetrics()

	// --- Database ---
	db, err := openDatabase(cfg, logger)
	if err != nil {
		return err
	}
	store := postgres.NewStore(db)
	defer store.Close()

	if cfg.AutoMigrate {
		if err := prepareSchema(ctx, db, cfg.Categories(), logger); err != nil {
			return err
		}
	}

	// --- Cache ---
	dictionaryCache := cache.New[[]domain.DictionaryEntry](cfg.DictionaryCacheTTL)
	defer dictionaryCache.Close()

	// --- Messaging ---
	var publisher port.PlanEventPublisher = events.Noop{}
	if cfg.AMQPURL != "" {
		p, err := events.Dial(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPRoutingKey, logger)
		if err != nil {
			return err
		}
		defer p.Close()
		publisher = p
	} else {
		logger.Info("AMQP_URL not set, plan events are not published")
	}

	// --- Services ---
	reportSvc := service.NewReportService(store, cfg.Categories(), metrics, logger)
	planSvc := service.NewPlanService(store, dictionaryCache, publisher, cfg.Categories(), metrics, logger)

	// --- Router ---
	router := handler.NewRouter(reportSvc, planSvc, store, metrics, logger, handler.Options{
		PlansJWTSecret: cfg.PlansJWTSecret,
		UploadMaxBytes: cfg.UploadMaxBytes,
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// --- Graceful shutdown ---
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("server starting", zap.Int("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		logger.Info("server shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("server stopped")
	return nil
}
