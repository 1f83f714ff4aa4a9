package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"example.com/rtpalette/services/palette/config"
	"example.com/rtpalette/services/palette/internal/cache"
	"example.com/rtpalette/services/palette/internal/services"

	"github.com/go-co-op/gocron/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start the background worker",
	Long:  `Start the background worker running the daily quota reset and the abandoned reservation sweep`,
	RunE:  runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, args []string) error {
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

	// Create an error group to manage goroutines
	g, ctx := errgroup.WithContext(ctx)

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

	// Initialize services
	siteService := services.NewSiteService(db, redisCache)

	// Start the scheduled jobs
	g.Go(func() error {
		scheduler, err := gocron.NewScheduler()
		if err != nil {
			return err
		}

		// Daily quota reset at midnight UTC. The reset itself is
		// idempotent, so a missed or doubled run is harmless.
		_, err = scheduler.NewJob(
			gocron.CronJob("0 0 * * *", false),
			gocron.NewTask(func() {
				if _, err := siteService.ResetDailyQuotas(ctx); err != nil {
					log.Error().Err(err).Msg("Failed to reset daily quotas")
				}
			}),
		)
		if err != nil {
			return err
		}

		// Hourly sweep returning quota slots held by cheques abandoned in
		// EMIS past the reservation TTL.
		_, err = scheduler.NewJob(
			gocron.CronJob("0 * * * *", false),
			gocron.NewTask(func() {
				released, err := siteService.ReleaseAbandonedReservations(ctx, cfg.Matching.ReservationTTL)
				if err != nil {
					log.Error().Err(err).Msg("Failed to sweep abandoned reservations")
					return
				}
				if released > 0 {
					log.Info().Int("released", released).Msg("Abandoned reservations swept")
				}
			}),
		)
		if err != nil {
			return err
		}

		scheduler.Start()
		log.Info().Msg("Worker scheduler started")

		// Wait for context cancellation
		<-ctx.Done()

		// Shutdown the scheduler
		return scheduler.Shutdown()
	})

	// Wait for any goroutine to exit
	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Worker error")
		return err
	}

	log.Info().Msg("Worker shutting down gracefully")
	return nil
}
