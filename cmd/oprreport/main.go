package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/pflag"

	"github.com/oprreport/internal/app"
	"github.com/oprreport/internal/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:])
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string) int {
	runID := uuid.NewString()

	cfg, err := config.Load(args, os.LookupEnv, time.Now)
	if errors.Is(err, pflag.ErrHelp) {
		return 0
	}
	if err != nil {
		logger := app.NewLogger(os.Stderr, 0).With("run_id", runID)
		if err := app.ReportConfigFailure(ctx, err, args, os.LookupEnv, runID, logger); err != nil {
			return 1
		}
		return 0
	}

	logger := app.NewLogger(os.Stderr, cfg.Verbosity).With("run_id", runID)
	slog.SetDefault(logger)

	a, err := app.New(cfg, logger, runID, os.Stdout)
	if err != nil {
		if err := app.ReportFailure(ctx, err, cfg.Mail, cfg.DumpToConsole, runID, logger); err != nil {
			return 1
		}
		return 0
	}

	if err := a.Run(ctx); err != nil {
		logger.Error("run ended with an unreported error", "err", err)
		return 1
	}
	return 0
}
