package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/cassiomorais/deploytrack/internal/bootstrap"
	"github.com/cassiomorais/deploytrack/internal/controller"
	"github.com/cassiomorais/deploytrack/internal/gateway"
	"github.com/cassiomorais/deploytrack/internal/manager"
	"github.com/cassiomorais/deploytrack/internal/processor"
	"golang.org/x/sync/errgroup"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, "deploytrack-server", "deploytrack")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bootstrap: %v\n", err)
		os.Exit(1)
	}
	defer app.Close()

	// --- Processors ---
	registry := processor.NewRegistry(
		processor.NewMockProcessor("contract_deploy"),
		processor.NewMockProcessor("token_transfer"),
	)

	// --- Lifecycle manager ---
	mgr := manager.New(app.Store, app.Queue, registry, app.Config.Transaction, app.Logger, app.Metrics)
	if err := mgr.Recover(ctx); err != nil {
		app.Logger.Fatal().Err(err).Msg("Failed to recover persisted transactions")
	}

	// --- Build router ---
	gw := gateway.New(mgr, app.Config.Streaming, app.Logger, app.Metrics)
	router := controller.NewRouter(controller.RouterDeps{
		Manager:    mgr,
		Gateway:    gw,
		Store:      app.Store,
		Metrics:    app.Metrics,
		CORSConfig: app.Config.Server.CORS,
		Server:     app.Config.Server,
	})

	// --- HTTP server ---
	addr := fmt.Sprintf(":%d", app.Config.Server.Port)
	srv := &http.Server{
		Addr:        addr,
		Handler:     router,
		ReadTimeout: app.Config.Server.ReadTimeout,
		IdleTimeout: app.Config.Server.IdleTimeout,
		// No WriteTimeout: the event stream endpoint holds connections open.
		// Request timeouts are enforced per-route in the router.
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return mgr.Run(gCtx)
	})

	g.Go(func() error {
		app.Logger.Info().Str("addr", addr).Msg("Starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		app.Logger.Info().Msg("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), app.Config.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		app.Logger.Error().Err(err).Msg("Server exited with error")
		os.Exit(1)
	}
	app.Logger.Info().Msg("Server exited")
}
