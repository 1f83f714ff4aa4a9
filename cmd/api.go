package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"example.com/rtpalette/services/palette/config"
	"example.com/rtpalette/services/palette/internal/api"
	"example.com/rtpalette/services/palette/internal/cache"
	"example.com/rtpalette/services/palette/internal/matching"
	"example.com/rtpalette/services/palette/internal/messaging"
	"example.com/rtpalette/services/palette/internal/metrics"
	"example.com/rtpalette/services/palette/internal/models"
	"example.com/rtpalette/services/palette/internal/repositories"
	"example.com/rtpalette/services/palette/internal/search"
	"example.com/rtpalette/services/palette/internal/services"
	"example.com/rtpalette/services/palette/internal/tracing"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "Start the API server",
	Long:  `Start the HTTP API server handling cheque, matching, ledger and dispute requests`,
	RunE:  runAPI,
}

func init() {
	rootCmd.AddCommand(apiCmd)
}

func runAPI(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := config.LoadConfig(".")
	if err != nil {
		return err
	}

	// Configure logging
	if cfg.Environment == "development" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	// Set up signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	// Initialize database connection
	db, err := initDatabase(cfg)
	if err != nil {
		return err
	}

	// Initialize cache
	redisCache, err := cache.NewRedisCache(cfg.Redis)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize Redis cache, continuing without caching")
	}

	// Initialize tracer
	tracer, err := tracing.NewTracer(cfg.Tracing)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize tracer, continuing without tracing")
		tracer = &tracing.NewRelicTracer{}
	}

	// Initialize Elasticsearch client
	elasticClient, err := search.NewElasticClient(cfg.Elastic)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize Elasticsearch client, continuing without search functionality")
	}

	// Initialize Service Bus publisher; the API keeps serving without it
	var publisher services.EventPublisher
	if sb, err := messaging.NewServiceBusClient(cfg.Azure, "palette-api"); err != nil {
		log.Warn().Err(err).Msg("Failed to initialize Service Bus publisher, continuing without event publication")
	} else {
		publisher = sb
		defer sb.Close()
	}

	// Initialize metrics
	metricsCollector := metrics.NewMetrics()

	// Probe dependencies on an interval; /health reads the results
	monitor := metrics.NewHealthMonitor(metricsCollector)
	if sqlDB, err := db.DB(); err == nil {
		monitor.Register("database", sqlDB.PingContext)
	}
	if redisCache.Enabled() {
		monitor.Register("redis", redisCache.Ping)
	}
	if elasticClient != nil {
		monitor.Register("elasticsearch", elasticClient.Ping)
	}
	go monitor.Run(ctx, 30*time.Second)

	// Initialize matching engine
	var scorer matching.SiteScorer
	if cfg.Matching.AffretIAURL != "" {
		scorer = matching.NewAffretIAScorer(cfg.Matching.AffretIAURL, cfg.Matching.AffretIATimeout)
	}
	engine := matching.NewEngine(
		repositories.NewSiteRepository(db),
		repositories.NewQuotaRepository(db),
		scorer,
		cfg.Matching.RadiusKm,
		cfg.Matching.MaxAlternatives,
	)

	// Initialize services
	signer := services.NewSigner(cfg.Signing.Secret)
	var indexer services.ChequeIndexer
	if elasticClient != nil {
		indexer = elasticClient
	}
	svcs := api.Services{
		Cheques:  services.NewChequeService(db, engine, signer, redisCache, publisher, indexer, metricsCollector, cfg.Matching.TruckCapacity),
		Ledger:   services.NewLedgerService(db, redisCache),
		Sites:    services.NewSiteService(db, redisCache),
		Disputes: services.NewDisputeService(db, redisCache, publisher, metricsCollector),
		Matcher:  engine,
	}

	// Initialize and start the server
	server := api.NewServer(cfg, svcs, metricsCollector, tracer)

	// Start the server in a goroutine
	go func() {
		if err := server.Start(); err != nil {
			log.Error().Err(err).Msg("Server error")
		}
	}()

	// Wait for termination signal
	<-ctx.Done()

	// Shutdown the server
	if err := server.Shutdown(context.Background()); err != nil {
		log.Error().Err(err).Msg("Server shutdown error")
	}

	log.Info().Msg("Shutting down API server")
	return nil
}

func initDatabase(cfg config.Config) (*gorm.DB, error) {
	// TranslateError surfaces unique violations as gorm.ErrDuplicatedKey,
	// which the cheque idempotency race relies on.
	db, err := gorm.Open(postgres.Open(cfg.DB.DSN), &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to database")
	}

	if err := models.SetupModels(db); err != nil {
		return nil, errors.Wrap(err, "failed to run migrations")
	}

	// Configure the connection pool
	sqlDB, err := db.DB()
	if err != nil {
		return nil, errors.Wrap(err, "failed to get underlying DB connection")
	}
	sqlDB.SetMaxIdleConns(cfg.DB.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.DB.MaxOpenConns)
	if cfg.DB.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.DB.ConnMaxLifetime)
	} else {
		sqlDB.SetConnMaxLifetime(time.Hour)
	}

	return db, nil
}
