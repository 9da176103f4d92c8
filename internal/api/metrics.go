package api

import (
	"errors"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jmerrifield20/MultiSigWallet/internal/wallet"
)

var (
	msigRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "msig_requests_total",
		Help: "Total HTTP requests by method, path, and response status.",
	}, []string{"method", "path", "status"})

	msigRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "msig_request_duration_seconds",
		Help:    "Request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	msigOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "msig_operations_total",
		Help: "Wallet operations by name and outcome.",
	}, []string{"op", "result"})

	msigCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "msig_external_calls_total",
		Help: "External calls made on execution, by success status.",
	}, []string{"status"})

	msigRouteProbesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "msig_route_probes_total",
		Help: "Health probes of external call routes, by success status.",
	}, []string{"status"})
)

// PrometheusMiddleware returns a Gin middleware that records per-request metrics.
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())
		method := c.Request.Method
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}

		msigRequestsTotal.WithLabelValues(method, path, status).Inc()
		msigRequestDuration.WithLabelValues(method, path).Observe(duration)
	}
}

// MetricsHandler returns a Gin handler that serves Prometheus metrics.
func MetricsHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// RecordOperation is a wallet.Observer that counts operation outcomes.
func RecordOperation(op string, err error) {
	msigOperationsTotal.WithLabelValues(op, operationResult(err)).Inc()
}

func operationResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, wallet.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, wallet.ErrNotFound):
		return "not_found"
	case errors.Is(err, wallet.ErrExecutionFailed):
		return "execution_failed"
	case errors.Is(err, wallet.ErrAlreadyExecuted),
		errors.Is(err, wallet.ErrAlreadyConfirmed),
		errors.Is(err, wallet.ErrNotConfirmed),
		errors.Is(err, wallet.ErrInsufficientConfirmations):
		return "conflict"
	case errors.Is(err, wallet.ErrInvalidValue):
		return "invalid"
	default:
		return "error"
	}
}

// RecordCall records an external call attempt.
func RecordCall(success bool) {
	if success {
		msigCallsTotal.WithLabelValues("success").Inc()
	} else {
		msigCallsTotal.WithLabelValues("failure").Inc()
	}
}

// RecordProbe records a call route health probe.
func RecordProbe(success bool) {
	if success {
		msigRouteProbesTotal.WithLabelValues("success").Inc()
	} else {
		msigRouteProbesTotal.WithLabelValues("failure").Inc()
	}
}
