package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/orderdeck/orderdeck/cmd/orderdeck/internal/config"
	odlog "github.com/orderdeck/orderdeck/log"
)

func fatal(msg string, err error) {
	slog.Error(msg, slog.String("error", err.Error()))
	os.Exit(1)
}

func main() {
	cfg := config.DefaultConfig()
	fs := config.NewConfigFlagSet(&cfg)

	if err := fs.Parse(os.Args[1:]); err != nil {
		fatal("parsing flags failed", err)
	}
	if err := config.ApplyEnvDefaults(fs, &cfg); err != nil {
		fatal("invalid parameters", err)
	}
	if err := config.ValidateConfig(cfg); err != nil {
		fatal("invalid configuration", err)
	}

	handler, err := config.GetLogHandler(cfg)
	if err != nil {
		fatal("log setup failed", err)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	log.SetOutput(slog.NewLogLogger(logger.Handler(), slog.LevelDebug).Writer())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = odlog.ContextWithLogger(ctx, logger)

	app, err := NewApp(cfg, logger)
	if err != nil {
		fatal("startup failed", err)
	}

	if err := app.Run(ctx); err != nil {
		fatal("daemon exited", err)
	}
}
