package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rackwatch/rackwatch/internal/alerts"
	"github.com/rackwatch/rackwatch/internal/api"
	"github.com/rackwatch/rackwatch/internal/config"
	"github.com/rackwatch/rackwatch/internal/logging"
	"github.com/rackwatch/rackwatch/internal/maintenance"
	"github.com/rackwatch/rackwatch/internal/monitoring"
	"github.com/rackwatch/rackwatch/internal/neng"
	"github.com/rackwatch/rackwatch/internal/telemetry"
	"github.com/rackwatch/rackwatch/internal/thresholds"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// Version information (set at build time with -ldflags)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

var rootCmd = &cobra.Command{
	Use:     "rackwatch",
	Short:   "rackwatch - data-center power and environmental monitoring",
	Long:    `rackwatch polls PDU inventory and readings from NENG, classifies every PDU against configured thresholds, and maintains the active critical alert table.`,
	Version: Version,
	Run: func(cmd *cobra.Command, args []string) {
		runServer(false)
	},
}

var onceCmd = &cobra.Command{
	Use:   "once",
	Short: "Run a single evaluation cycle and exit",
	Run: func(cmd *cobra.Command, args []string) {
		runServer(true)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("rackwatch %s\n", Version)
		if BuildTime != "unknown" {
			fmt.Printf("Built: %s\n", BuildTime)
		}
		if GitCommit != "unknown" {
			fmt.Printf("Commit: %s\n", GitCommit)
		}
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(onceCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServer(once bool) {
	// Baseline logger for early startup messages, re-initialized once the
	// configuration is loaded.
	logging.Init(logging.Config{
		Format:    "auto",
		Level:     "info",
		Component: "rackwatch",
	})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Format:    cfg.LogFormat,
		Level:     cfg.LogLevel,
		Component: "rackwatch",
	})

	log.Info().
		Str("version", Version).
		Str("nengUrl", cfg.NENGURL).
		Dur("pollInterval", cfg.PollInterval).
		Msg("Starting rackwatch")

	thresholdStore, err := thresholds.NewStore(cfg.DataDir)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open threshold store")
	}
	defer thresholdStore.Close()

	registry, err := maintenance.NewRegistry(cfg.DataDir)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open maintenance registry")
	}
	defer registry.Close()

	alertStore, err := alerts.NewStore(cfg.DataDir)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open alert store")
	}
	defer alertStore.Close()

	fetcher := neng.NewClient(neng.Config{
		BaseURL: cfg.NENGURL,
		Token:   cfg.NENGToken,
		Timeout: cfg.NENGTimeout,
		Retries: cfg.UpstreamRetries,
	})

	metrics := telemetry.New()
	monitor := monitoring.New(monitoring.Config{
		Interval:          cfg.PollInterval,
		HousekeepingEvery: 10 * cfg.PollInterval,
	}, fetcher, thresholdStore, registry, alertStore, metrics)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if once {
		monitor.RunOnce(ctx)
		return
	}

	router := api.NewRouter(monitor, metrics, cfg.APITokens)
	server := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      router.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go monitor.Start(ctx)

	go func() {
		log.Info().Str("addr", cfg.ListenAddr).Msg("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}
	log.Info().Msg("Shutdown complete")
}
