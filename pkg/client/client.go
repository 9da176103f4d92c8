package client

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

// CallHeader carries the id of the in-flight wallet call a request joins.
const CallHeader = "X-Wallet-Call"

// Error codes returned by the daemon.
const (
	CodeUnauthorized              = "unauthorized"
	CodeNotFound                  = "not_found"
	CodeAlreadyExecuted           = "already_executed"
	CodeAlreadyConfirmed          = "already_confirmed"
	CodeNotConfirmed              = "not_confirmed"
	CodeInsufficientConfirmations = "insufficient_confirmations"
	CodeExecutionFailed           = "execution_failed"
	CodeInvalidValue              = "invalid_value"
	CodeBadRequest                = "bad_request"
	CodeBusy                      = "busy"
)

// APIError is a non-2xx response from the daemon.
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"error"`
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("wallet API %d (%s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("wallet API %d: %s", e.Status, e.Message)
}

// IsCode reports whether err is an *APIError with the given code.
func IsCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

// Client talks to one wallet daemon.
type Client struct {
	baseURL    string
	httpClient *http.Client
	key        *ecdsa.PrivateKey

	// token state, guarded by mu
	mu          sync.Mutex
	bearerToken string
	tokenExpiry time.Time // zero = token was set manually (no auto-refresh)
}

// Option is a functional option for configuring a Client.
type Option func(*Client) error

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) error {
		c.httpClient = hc
		return nil
	}
}

// WithBearerToken attaches a pre-obtained owner token to every request.
// The token is treated as long-lived and will not be auto-refreshed.
func WithBearerToken(token string) Option {
	return func(c *Client) error {
		c.bearerToken = token
		c.tokenExpiry = time.Time{}
		return nil
	}
}

// WithOwnerKey lets the client log in as the owner holding key.
func WithOwnerKey(key *ecdsa.PrivateKey) Option {
	return func(c *Client) error {
		if key == nil {
			return errors.New("owner key is nil")
		}
		c.key = key
		return nil
	}
}

// WithKeyFile is the file form of WithOwnerKey.
func WithKeyFile(path string) Option {
	return func(c *Client) error {
		key, err := LoadKey(path)
		if err != nil {
			return err
		}
		c.key = key
		return nil
	}
}

// New creates a Client for the daemon at baseURL.
//
//	c, err := client.New("http://localhost:8080",
//	    client.WithKeyFile(os.ExpandEnv("$HOME/.msig/owner.key")),
//	)
func New(baseURL string, opts ...Option) (*Client, error) {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		if err := o(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// MustNew is like New but panics on error. Useful in tests and program init.
func MustNew(baseURL string, opts ...Option) *Client {
	c, err := New(baseURL, opts...)
	if err != nil {
		panic(err)
	}
	return c
}

type callKey struct{}

// JoinCall returns a context whose requests join the in-flight wallet call
// with the given id. An empty id returns ctx unchanged.
func JoinCall(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, callKey{}, id)
}

// doJSON sends reqBody as JSON and decodes the response into respBody.
// Either may be nil.
func (c *Client) doJSON(ctx context.Context, method, path string, auth bool, reqBody, respBody any) error {
	var body io.Reader
	if reqBody != nil {
		b, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if id, ok := ctx.Value(callKey{}).(string); ok {
		req.Header.Set(CallHeader, id)
	}
	if auth {
		token, err := c.ensureToken(ctx)
		if err != nil {
			return fmt.Errorf("obtain owner token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	raw, err := c.do(req)
	if err != nil {
		return err
	}
	if respBody == nil {
		return nil
	}
	if err := json.Unmarshal(raw, respBody); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// do executes an HTTP request and turns non-2xx responses into *APIError.
func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		if json.Unmarshal(body, apiErr) != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(body))
		}
		return nil, apiErr
	}
	return body, nil
}
