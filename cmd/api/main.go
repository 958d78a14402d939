package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/markdave123-py/diagnovet/internal/app"
	"github.com/markdave123-py/diagnovet/internal/config"
	"github.com/markdave123-py/diagnovet/pkg/logger"
)

const shutdownGrace = 30 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "diagnovet: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	log, err := logger.New(cfg.Log, cfg.Env)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	application, err := app.NewApp(ctx, cfg, log)
	if err != nil {
		log.Error("startup.failed", zap.Error(err))
		return err
	}
	if err := application.Start(ctx); err != nil {
		application.Close()
		return err
	}

	serverErr := make(chan error, 1)
	go func() { serverErr <- application.Server.Start() }()
	log.Info("diagnovet.running", zap.String("port", cfg.Port), zap.String("env", cfg.Env))

	select {
	case <-ctx.Done():
		log.Info("diagnovet.shutting_down")
	case err := <-serverErr:
		if err != nil {
			log.Error("server.failed", zap.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := application.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
		log.Warn("shutdown.incomplete", zap.Error(err))
		return err
	}
	log.Info("diagnovet.stopped")
	return nil
}
