package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/auslex/auslex/internal/api"
	"github.com/auslex/auslex/internal/observability"
)

// Server timeouts. The write timeout must outlast the request timeout or
// SSE streams are cut off mid-answer.
const (
	readHeaderTimeout = 10 * time.Second
	readTimeout       = 30 * time.Second
	writeTimeout      = 2 * time.Minute
	idleTimeout       = 2 * time.Minute
)

var serveTrustProxy bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP answer service",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().BoolVar(&serveTrustProxy, "trust-proxy", false,
		"trust X-Forwarded-For and X-Real-IP for client identification")
	rootCmd.AddCommand(serveCmd)
}

func runServe(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := newLogger()
	logger.Info("starting answer service", "version", version)

	a, err := setup(ctx, logger)
	if err != nil {
		return err
	}
	defer a.close()

	tracing, err := observability.InitTracing(ctx, observability.TracingConfig{
		ServiceName:    a.cfg.ServiceName,
		ServiceVersion: version,
		Environment:    a.cfg.Environment,
		OTLPEndpoint:   a.cfg.OTLPEndpoint,
	})
	if err != nil {
		return fmt.Errorf("initializing tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracing.Shutdown(shutdownCtx); err != nil {
			logger.Warn("tracing shutdown", "error", err)
		}
	}()

	handler := api.NewServer(api.Config{
		Pipeline:       a.orchestrator,
		Pinger:         a.store,
		Logger:         logger,
		RequestTimeout: a.cfg.RequestTimeout,
		RateLimitRPS:   a.cfg.RateLimitRPS,
		RateLimitBurst: a.cfg.RateLimitBurst,
		TrustProxy:     serveTrustProxy,
	})

	srv := &http.Server{
		Addr:              a.cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
	}

	logger.Info("listening", "addr", a.cfg.ListenAddr)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutting down server: %w", err)
		}
		<-errCh
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	}
}
