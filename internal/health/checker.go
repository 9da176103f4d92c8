// Package health probes the endpoints the wallet calls out to during
// execution and tracks which of them are degraded.
package health

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// Config holds health check configuration.
type Config struct {
	CheckInterval time.Duration
	ProbeTimeout  time.Duration
	FailThreshold int
}

// StatusFunc is called when a route becomes degraded or recovers.
type StatusFunc func(to common.Address, healthy bool)

// MetricsRecordFunc is an optional callback for recording probe results.
type MetricsRecordFunc func(success bool)

// Checker runs periodic probes against the configured call routes.
type Checker struct {
	routes     map[common.Address]string
	httpClient *http.Client
	failCounts map[common.Address]int
	mu         sync.Mutex
	cfg        Config
	onStatus   StatusFunc
	onMetrics  MetricsRecordFunc
	logger     *zap.Logger
}

// New creates a Checker for routes (destination address → endpoint URL).
func New(routes map[common.Address]string, cfg Config, logger *zap.Logger) *Checker {
	if cfg.CheckInterval == 0 {
		cfg.CheckInterval = 5 * time.Minute
	}
	if cfg.ProbeTimeout == 0 {
		cfg.ProbeTimeout = 10 * time.Second
	}
	if cfg.FailThreshold == 0 {
		cfg.FailThreshold = 3
	}

	return &Checker{
		routes:     routes,
		httpClient: &http.Client{Timeout: cfg.ProbeTimeout},
		failCounts: make(map[common.Address]int),
		cfg:        cfg,
		logger:     logger,
	}
}

// SetStatusHook configures the degraded/recovered callback.
func (h *Checker) SetStatusHook(fn StatusFunc) {
	h.onStatus = fn
}

// SetMetricsRecord configures the metrics recording callback.
func (h *Checker) SetMetricsRecord(fn MetricsRecordFunc) {
	h.onMetrics = fn
}

// Healthy reports whether the route for to is below the failure threshold.
// Unknown destinations are reported healthy.
func (h *Checker) Healthy(to common.Address) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.failCounts[to] < h.cfg.FailThreshold
}

// Start runs the probe loop until ctx is cancelled.
func (h *Checker) Start(ctx context.Context) {
	if len(h.routes) == 0 {
		return
	}
	ticker := time.NewTicker(h.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			probeCtx, cancel := context.WithTimeout(ctx, h.roundTimeout())
			h.CheckAll(probeCtx)
			cancel()
		case <-ctx.Done():
			return
		}
	}
}

// roundTimeout bounds one CheckAll round: a second short of the interval,
// but never below ProbeTimeout.
func (h *Checker) roundTimeout() time.Duration {
	return max(h.cfg.CheckInterval-time.Second, h.cfg.ProbeTimeout)
}

// CheckAll probes every route with bounded concurrency.
func (h *Checker) CheckAll(ctx context.Context) {
	sem := make(chan struct{}, 10)
	var wg sync.WaitGroup

	for to, endpoint := range h.routes {
		wg.Add(1)
		go func(to common.Address, endpoint string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			success := h.probeEndpoint(ctx, endpoint)

			if h.onMetrics != nil {
				h.onMetrics(success)
			}

			h.mu.Lock()
			prevCount := h.failCounts[to]
			if success {
				h.failCounts[to] = 0
			} else {
				h.failCounts[to]++
			}
			count := h.failCounts[to]
			h.mu.Unlock()

			switch {
			case success && prevCount >= h.cfg.FailThreshold:
				h.logger.Info("health: route recovered", zap.String("to", to.Hex()))
				if h.onStatus != nil {
					h.onStatus(to, true)
				}
			case !success && count == h.cfg.FailThreshold:
				// Transition: healthy → degraded (exactly at threshold)
				h.logger.Warn("health: route degraded",
					zap.String("to", to.Hex()),
					zap.String("endpoint", endpoint),
					zap.Int("fail_count", count),
				)
				if h.onStatus != nil {
					h.onStatus(to, false)
				}
			}
		}(to, endpoint)
	}

	wg.Wait()
}

// probeEndpoint attempts HEAD then GET, returning true if any 2xx response.
func (h *Checker) probeEndpoint(ctx context.Context, endpoint string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, endpoint, nil)
	if err != nil {
		return false
	}
	resp, err := h.httpClient.Do(req)
	if err == nil {
		resp.Body.Close()
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return true
		}
	}

	req, err = http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return false
	}
	resp, err = h.httpClient.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}
