// Command auctionhouse is the backend entry point for the auction house. It
// loads configuration, validates it, wires dependencies, sets up signal
// handling, and starts the application in the configured mode.
//
// Usage:
//
//	auctionhouse [-config path]                 run the service
//	auctionhouse encrypt-key -out key.json      encrypt the operator key
//	auctionhouse sign -method POST -path /api/auctions -body '{...}'
//	                                             print signed request headers
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alanyoungcy/auctionhouse/internal/app"
	"github.com/alanyoungcy/auctionhouse/internal/config"
)

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "encrypt-key":
			exitOn(encryptKeyCmd(os.Args[2:]))
			return
		case "sign":
			exitOn(signCmd(os.Args[2:]))
			return
		}
	}
	run(os.Args[1:])
}

func run(args []string) {
	fs := newFlagSet("auctionhouse")
	configPath := fs.String("config", "", "path to configuration file (defaults and AUCTIONHOUSE_* env vars apply without one)")
	_ = fs.Parse(args)

	// Setup structured JSON logger.
	logger := newLogger("info")
	slog.SetDefault(logger)

	// Load configuration.
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config",
			slog.String("path", *configPath),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	logger = newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	// Validate configuration.
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("auction house starting",
		slog.String("mode", cfg.Mode),
		slog.String("config", *configPath),
	)
	logger.Debug("active configuration", slog.Any("config", config.RedactedConfig(cfg)))

	application := app.New(cfg, logger)
	defer application.Close()

	// Setup signal handling for graceful shutdown.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx); err != nil {
		// context.Canceled is expected on clean shutdown.
		if errors.Is(err, context.Canceled) {
			logger.Info("application shut down gracefully")
		} else {
			logger.Error("application exited with error",
				slog.String("error", err.Error()),
			)
			fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
			application.Close()
			os.Exit(1)
		}
	}

	logger.Info("auction house stopped")
}

// newLogger returns a JSON logger at the given level name.
func newLogger(levelName string) *slog.Logger {
	var level slog.Level
	switch levelName {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
}

func exitOn(err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
