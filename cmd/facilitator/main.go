// Command facilitator runs the x402 settlement facilitator over HTTP.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	x402 "github.com/openfacilitator/openfacilitator/go"
	x402http "github.com/openfacilitator/openfacilitator/go/http"
	"github.com/openfacilitator/openfacilitator/go/mechanisms/evm"
	evmfacilitator "github.com/openfacilitator/openfacilitator/go/mechanisms/evm/exact/facilitator"
	"github.com/openfacilitator/openfacilitator/go/pkg/config"
	"github.com/openfacilitator/openfacilitator/go/pkg/logger"
	"github.com/openfacilitator/openfacilitator/go/pkg/metrics"
	evmsigners "github.com/openfacilitator/openfacilitator/go/signers/evm"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "facilitator: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	// Credentials and RPC clients are released only after every in-flight
	// settlement has drained.
	drained := true
	defer func() {
		if drained {
			cfg.Key.Close()
		}
	}()

	zl, err := logger.NewZapLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer func() { _ = zl.Sync() }()
	log := logger.With(zl, map[string]any{"service": "facilitator"})

	var (
		recorder metrics.Recorder = metrics.NoopRecorder{}
		gatherer prometheus.Gatherer
	)
	if cfg.MetricsEnabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		prom, err := metrics.NewPrometheusRecorder(reg)
		if err != nil {
			return fmt.Errorf("failed to register metrics: %w", err)
		}
		recorder, gatherer = prom, reg
	}

	signer, err := evmsigners.NewFacilitatorSigner(cfg.Key, evmsigners.WithLogger(log))
	if err != nil {
		return err
	}
	defer func() {
		if drained {
			signer.Close()
		}
	}()

	scheme := evmfacilitator.NewExactEvmScheme(signer, cfg.Registry,
		evmfacilitator.WithConfirmationTimeout(cfg.ConfirmationTimeout),
		evmfacilitator.WithObservability(log, recorder),
	)

	facilitator := x402.NewX402Facilitator()
	if cfg.SettlementCacheTTL > 0 {
		facilitator.WithSettlementCache(x402.NewSettlementCache(cfg.SettlementCacheTTL))
	}
	if err := evm.RegisterFacilitator(facilitator, scheme, cfg.Registry); err != nil {
		return err
	}
	registerHooks(facilitator, log)

	gin.SetMode(gin.ReleaseMode)
	opts := []x402http.ServerOption{
		x402http.WithServerLogger(log),
		x402http.WithSettleTimeout(cfg.SettleTimeout()),
	}
	if gatherer != nil {
		opts = append(opts, x402http.WithMetrics(gatherer))
	}
	server := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           x402http.NewServer(facilitator, opts...).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Info("facilitator listening", map[string]any{
			"addr":     server.Addr,
			"address":  signer.Address(),
			"networks": len(cfg.Registry.Networks()),
			"metrics":  cfg.MetricsEnabled,
		})
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down, draining in-flight settlements", map[string]any{
		"timeout": cfg.ShutdownTimeout().String(),
	})
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		drained = false
		log.Error("settlements still in flight at shutdown", map[string]any{"error": err.Error()})
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func registerHooks(facilitator *x402.X402Facilitator, log logger.Logger) {
	facilitator.OnBeforeSettle(func(ctx x402.FacilitatorSettleContext) (*x402.FacilitatorBeforeHookResult, error) {
		log.Debug("settle requested", map[string]any{
			"settlementId": ctx.SettlementID,
			"version":      ctx.Payment.X402Version,
			"network":      string(ctx.Payment.Network),
			"strategy":     string(ctx.Payment.Authorization.Strategy),
		})
		return nil, nil
	})

	facilitator.OnAfterSettle(func(ctx x402.FacilitatorSettleResultContext) error {
		log.Info("payment settled", map[string]any{
			"settlementId": ctx.SettlementID,
			"network":      string(ctx.Result.Network),
			"transaction":  ctx.Result.Transaction,
			"payer":        ctx.Result.Payer,
			"durationMs":   ctx.Duration.Milliseconds(),
		})
		return nil
	})

	facilitator.OnSettleFailure(func(ctx x402.FacilitatorSettleFailureContext) (*x402.FacilitatorSettleFailureHookResult, error) {
		log.Warn("payment not settled", map[string]any{
			"settlementId": ctx.SettlementID,
			"network":      string(ctx.Result.Network),
			"reason":       ctx.Result.ErrorReason,
			"phase":        ctx.Result.Phase,
			"durationMs":   ctx.Duration.Milliseconds(),
		})
		return nil, nil
	})
}
