// Package caller delivers executed wallet transactions to HTTP endpoints.
//
// Each destination address is routed to a URL. The call body is JSON signed
// with HMAC-SHA256 in the X-Wallet-Signature header. The request also
// carries an X-Wallet-Call header naming the in-flight call; an endpoint
// that calls back into the wallet API with that header joins the running
// execution instead of waiting for it.
package caller

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// SignatureHeader carries the HMAC of the request body.
	SignatureHeader = "X-Wallet-Signature"
	// CallHeader carries the in-flight call identifier.
	CallHeader = "X-Wallet-Call"
)

// ErrNoRoute is returned for a call with a payload to an address that has
// no configured endpoint.
var ErrNoRoute = errors.New("no endpoint configured for destination")

// Request is the JSON body posted to an endpoint.
type Request struct {
	Wallet string         `json:"wallet"`
	CallID string         `json:"call_id"`
	To     common.Address `json:"to"`
	Value  *hexutil.Big   `json:"value"`
	Data   hexutil.Bytes  `json:"data"`
}

// MetricsRecorder is an optional callback for recording call outcomes.
type MetricsRecorder func(success bool)

// HTTPCaller implements wallet.Caller over HTTP.
type HTTPCaller struct {
	wallet     string
	routes     map[common.Address]string
	secret     string
	httpClient *http.Client
	onMetrics  MetricsRecorder
	logger     *zap.Logger

	mu       sync.RWMutex
	inflight map[string]context.Context
}

// New creates an HTTPCaller. routes maps destination addresses to endpoint
// URLs; a zero timeout defaults to ten seconds.
func New(walletName string, routes map[common.Address]string, secret string, timeout time.Duration, logger *zap.Logger) *HTTPCaller {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	rs := make(map[common.Address]string, len(routes))
	for k, v := range routes {
		rs[k] = v
	}
	return &HTTPCaller{
		wallet:     walletName,
		routes:     rs,
		secret:     secret,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
		inflight:   make(map[string]context.Context),
	}
}

// SetMetricsRecorder configures the metrics callback.
func (c *HTTPCaller) SetMetricsRecorder(fn MetricsRecorder) {
	c.onMetrics = fn
}

// ParseRoutes turns "0xaddr" → URL pairs from configuration into a route
// table.
func ParseRoutes(raw map[string]string) (map[common.Address]string, error) {
	out := make(map[common.Address]string, len(raw))
	for k, v := range raw {
		if !common.IsHexAddress(k) {
			return nil, fmt.Errorf("invalid route address %q", k)
		}
		out[common.HexToAddress(k)] = v
	}
	return out, nil
}

// Call implements wallet.Caller. An unrouted destination with an empty
// payload is a plain value transfer and succeeds without a request.
func (c *HTTPCaller) Call(ctx context.Context, to common.Address, value *big.Int, data []byte) error {
	url, ok := c.routes[to]
	if !ok {
		if len(data) == 0 {
			return nil
		}
		return fmt.Errorf("%w: %s", ErrNoRoute, to.Hex())
	}

	id := uuid.NewString()
	c.mu.Lock()
	c.inflight[id] = ctx
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.inflight, id)
		c.mu.Unlock()
	}()

	body, err := json.Marshal(Request{
		Wallet: c.wallet,
		CallID: id,
		To:     to,
		Value:  (*hexutil.Big)(value),
		Data:   data,
	})
	if err != nil {
		return fmt.Errorf("marshal call: %w", err)
	}

	err = c.post(ctx, url, id, body)
	if c.onMetrics != nil {
		c.onMetrics(err == nil)
	}
	if err != nil {
		c.logger.Warn("external call failed",
			zap.String("to", to.Hex()),
			zap.String("url", url),
			zap.Error(err),
		)
		return err
	}
	return nil
}

// Lookup returns the context of the in-flight call with the given id.
func (c *HTTPCaller) Lookup(id string) (context.Context, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ctx, ok := c.inflight[id]
	return ctx, ok
}

func (c *HTTPCaller) post(ctx context.Context, url, id string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, Sign(body, c.secret))
	req.Header.Set(CallHeader, id)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}
	return nil
}

// Sign computes the HMAC-SHA256 signature of body.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether signature is the valid signature of body.
func Verify(body []byte, secret, signature string) bool {
	return hmac.Equal([]byte(Sign(body, secret)), []byte(signature))
}
