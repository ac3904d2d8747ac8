// Package cli wires the indexer's commands.
package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"

	"github.com/openfloor/indexer/internal/core/config"
)

var (
	cfgPath string
	isDebug bool
)

var rootCmd = &cobra.Command{
	Use:   "indexer",
	Short: "NFT marketplace event indexer",
	Long:  `Indexer syncs marketplace events from an EVM chain and reconciles order, token and balance state.`,
	Run:   runIndexer,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "config.yaml", "config file")
	rootCmd.PersistentFlags().BoolVar(&isDebug, "debug", false, "enable debug logging")
}

// loadConfig reads .env, the YAML config and builds the logger.
func loadConfig() (*config.AppConfig, *slog.Logger, error) {
	_ = godotenv.Load()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, nil, err
	}

	level := slog.LevelInfo
	if isDebug || cfg.Logging.Level == "debug" {
		level = slog.LevelDebug
	}

	var handler slog.Handler
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	} else {
		handler = tint.NewHandler(os.Stderr, &tint.Options{
			Level:      level,
			TimeFormat: time.RFC3339,
		})
	}
	log := slog.New(handler)
	slog.SetDefault(log)
	return cfg, log, nil
}

func runIndexer(cmd *cobra.Command, args []string) {
	cfg, log, err := loadConfig()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := NewApp(ctx, cfg, log)
	if err != nil {
		log.Error("failed to initialize indexer", "error", err)
		os.Exit(1)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	if err := app.Start(ctx); err != nil {
		log.Error("failed to start indexer", "error", err)
		os.Exit(1)
	}
	log.Info("indexer started", "chain", cfg.Chain.ID, "config", cfgPath)

	sig := <-sigChan
	log.Info("received signal, shutting down", "signal", sig)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := app.Stop(shutdownCtx); err != nil {
		log.Error("error during shutdown", "error", err)
		os.Exit(1)
	}
}
