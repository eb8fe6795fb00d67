package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/Jazzman94/agentai/internal/gateway"
)

const gatewayStopTimeout = 10 * time.Second

// runGateway serves gw until SIGINT/SIGTERM or until gw exits on its own,
// running audit retention alongside it.
func runGateway(sc *SharedComponents, name string, gw gateway.Gateway) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return serveUntilDone(ctx, sc, name, gw)
}

func serveUntilDone(ctx context.Context, sc *SharedComponents, name string, gw gateway.Gateway) error {
	stopRetention, err := startRetention(ctx, sc)
	if err != nil {
		return err
	}
	defer stopRetention()

	errs := make(chan error, 1)
	go func() { errs <- gw.Start(ctx) }()

	select {
	case <-ctx.Done():
		sc.Logger.Info("shutdown signal received", slog.String("gateway", name))
	case err := <-errs:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("%s gateway: %w", name, err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), gatewayStopTimeout)
	defer cancel()
	if err := gw.Stop(shutdownCtx); err != nil {
		sc.Logger.Error("stopping gateway", slog.String("gateway", name), slog.String("error", err.Error()))
	}
	select {
	case <-errs:
	case <-shutdownCtx.Done():
	}
	return nil
}
