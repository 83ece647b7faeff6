// Package http exposes a facilitator over HTTP and provides a client for
// remote facilitators.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	x402 "github.com/openfacilitator/openfacilitator/go"
	"github.com/openfacilitator/openfacilitator/go/pkg/logger"
	"github.com/openfacilitator/openfacilitator/go/types"
)

// DefaultSettleTimeout bounds one settle request, covering the confirmation
// waits of both phases of a permit settlement.
const DefaultSettleTimeout = 5 * time.Minute

// Server serves the facilitator endpoints:
//
//	GET  /health     liveness
//	GET  /supported  supported payment kinds
//	POST /settle     settle a v1 or v2 payment
//	GET  /metrics    Prometheus metrics, when a gatherer is configured
type Server struct {
	facilitator   *x402.X402Facilitator
	logger        logger.Logger
	gatherer      prometheus.Gatherer
	settleTimeout time.Duration
	engine        *gin.Engine
}

type ServerOption func(*Server)

func WithServerLogger(l logger.Logger) ServerOption {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics exposes the gatherer on /metrics.
func WithMetrics(g prometheus.Gatherer) ServerOption {
	return func(s *Server) {
		s.gatherer = g
	}
}

func WithSettleTimeout(d time.Duration) ServerOption {
	return func(s *Server) {
		if d > 0 {
			s.settleTimeout = d
		}
	}
}

// NewServer builds the gin engine for a facilitator.
func NewServer(facilitator *x402.X402Facilitator, opts ...ServerOption) *Server {
	s := &Server{
		facilitator:   facilitator,
		logger:        logger.NoopLogger{},
		settleTimeout: DefaultSettleTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}

	r := gin.New()
	r.Use(Recovery(s.logger), RequestLogger(s.logger))

	r.GET("/health", s.handleHealth)
	r.GET("/supported", s.handleSupported)
	r.POST("/settle", s.handleSettle)
	if s.gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}

	s.engine = r
	return s
}

// Handler returns the HTTP handler of the server.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleSupported(c *gin.Context) {
	c.JSON(http.StatusOK, s.facilitator.GetSupported())
}

// handleSettle answers 200 with the settlement result whether or not the
// settlement succeeded. Bodies that cannot be normalized or routed are
// answered with 400 and a failed result.
func (s *Server) handleSettle(c *gin.Context) {
	var req x402.SettleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	// An envelope version, when given, must agree with the payload's.
	if req.X402Version != 0 {
		detected, err := types.DetectVersion(req.PaymentPayload, req.PaymentRequirements)
		if err == nil && detected != req.X402Version {
			c.JSON(http.StatusBadRequest, x402.FailedResult(x402.NewValidationError("x402Version",
				fmt.Sprintf("envelope declares version %d but the payment is version %d", req.X402Version, detected)), ""))
			return
		}
	}

	// A settlement that has broadcast a transaction runs to completion
	// even if the caller goes away.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.Request.Context()), s.settleTimeout)
	defer cancel()

	result, err := s.facilitator.Settle(ctx, req.PaymentPayload, req.PaymentRequirements)
	if err != nil {
		var paymentErr *x402.PaymentError
		if !errors.As(err, &paymentErr) {
			c.JSON(http.StatusInternalServerError, result)
			return
		}
		c.JSON(http.StatusBadRequest, result)
		return
	}

	c.JSON(http.StatusOK, result)
}
