package client

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/jmerrifield20/MultiSigWallet/internal/identity"
)

// ErrNoCredentials is returned by mutating calls on a client that has
// neither an owner key nor a bearer token.
var ErrNoCredentials = errors.New("client has no owner key or token")

// Login exchanges a signed challenge for an owner token and caches it.
func (c *Client) Login(ctx context.Context) (string, error) {
	token, expiry, err := c.fetchTokenRaw(ctx)
	if err != nil {
		return "", err
	}
	c.mu.Lock()
	c.bearerToken = token
	c.tokenExpiry = expiry
	c.mu.Unlock()
	return token, nil
}

// fetchTokenRaw runs the challenge/response login without touching cached
// state.
func (c *Client) fetchTokenRaw(ctx context.Context) (token string, expiry time.Time, err error) {
	if c.key == nil {
		return "", time.Time{}, ErrNoCredentials
	}
	owner := crypto.PubkeyToAddress(c.key.PublicKey)

	var challenge identity.Challenge
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/auth/challenge", false,
		map[string]string{"owner": owner.Hex()}, &challenge); err != nil {
		return "", time.Time{}, err
	}

	sig, err := identity.SignMessage(challenge.Message, c.key)
	if err != nil {
		return "", time.Time{}, err
	}

	var payload struct {
		Token     string `json:"token"`
		ExpiresIn int    `json:"expires_in"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/auth/token", false,
		map[string]string{"owner": owner.Hex(), "signature": sig}, &payload); err != nil {
		return "", time.Time{}, err
	}

	// Refresh 60 s before actual expiry to avoid clock-skew failures.
	const refreshBuffer = 60 * time.Second
	exp := time.Now().Add(time.Duration(payload.ExpiresIn)*time.Second - refreshBuffer)
	return payload.Token, exp, nil
}

// ensureToken returns a valid bearer token, logging in again if the cached
// token is absent or approaching expiry.
func (c *Client) ensureToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.bearerToken != "" && (c.tokenExpiry.IsZero() || time.Now().Before(c.tokenExpiry)) {
		return c.bearerToken, nil
	}
	if c.key == nil {
		return "", ErrNoCredentials
	}

	token, expiry, err := c.fetchTokenRaw(ctx)
	if err != nil {
		return "", err
	}
	c.bearerToken = token
	c.tokenExpiry = expiry
	return token, nil
}
