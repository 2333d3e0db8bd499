package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vango-go/vai-voice/pkg/gateway/config"
)

// gateway is the slice of the HTTP server the serve loop drives.
type gateway interface {
	Handler() http.Handler
	SetDraining(draining bool)
	DrainSessions(ctx context.Context) error
	ClosePeers() int
}

// app is a fully wired process. close releases what build acquired.
type app struct {
	gateway gateway
	close   func() error
}

type serveDeps struct {
	loadConfig   func() (config.Config, error)
	build        func(ctx context.Context, cfg config.Config, logger *slog.Logger) (*app, error)
	signalNotify func(chan<- os.Signal, ...os.Signal)
	signalStop   func(chan<- os.Signal)
}

func defaultServeDeps() serveDeps {
	return serveDeps{
		loadConfig: config.LoadFromEnv,
		build:      buildApp,
		signalNotify: func(c chan<- os.Signal, sig ...os.Signal) {
			signal.Notify(c, sig...)
		},
		signalStop: signal.Stop,
	}
}

func newServeCmd(deps serveDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the session server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), nil))
			return runServe(cmd.Context(), logger, deps)
		},
	}
}

func buildHTTPServer(cfg config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       cfg.ReadTimeout,
	}
}

func runServe(ctx context.Context, logger *slog.Logger, deps serveDeps) error {
	if deps.loadConfig == nil {
		return errors.New("missing loadConfig dependency")
	}
	if deps.build == nil {
		return errors.New("missing build dependency")
	}
	if deps.signalNotify == nil || deps.signalStop == nil {
		return errors.New("missing signal dependency")
	}
	if logger == nil {
		logger = slog.Default()
	}

	cfg, err := deps.loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	a, err := deps.build(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("build: %w", err)
	}
	defer func() {
		if a.close == nil {
			return
		}
		if err := a.close(); err != nil {
			logger.Warn("close", "error", err)
		}
	}()

	gw := a.gateway
	httpSrv := buildHTTPServer(cfg, gw.Handler())

	logger.Info("starting voice server", "addr", cfg.Addr, "transport", string(cfg.Transport))

	listenErrCh := make(chan error, 1)
	go func() {
		err := httpSrv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErrCh <- err
			return
		}
		listenErrCh <- nil
	}()

	sigCh := make(chan os.Signal, 1)
	deps.signalNotify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer deps.signalStop(sigCh)

	select {
	case err := <-listenErrCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
		logger.Info("context done, shutting down")
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	}

	// New sessions are refused from here on; live ones keep running until
	// the HTTP server has stopped accepting requests.
	gw.SetDraining(true)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown incomplete", "error", err)
	}

	if err := gw.DrainSessions(shutdownCtx); err != nil {
		logger.Warn("sessions did not drain before the grace period", "error", err)
	}
	if n := gw.ClosePeers(); n > 0 {
		logger.Info("closed remaining peer connections", "count", n)
	}

	if err := <-listenErrCh; err != nil {
		return fmt.Errorf("serve: %w", err)
	}

	logger.Info("voice server stopped")
	return nil
}
