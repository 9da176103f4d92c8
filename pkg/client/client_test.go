package client_test

import (
	"context"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/jmerrifield20/MultiSigWallet/internal/api"
	"github.com/jmerrifield20/MultiSigWallet/internal/eventlog"
	"github.com/jmerrifield20/MultiSigWallet/internal/identity"
	"github.com/jmerrifield20/MultiSigWallet/internal/wallet"
	"github.com/jmerrifield20/MultiSigWallet/pkg/client"
)

var ctx = context.Background()

// ── Test daemon ─────────────────────────────────────────────────────────

type daemon struct {
	srv    *httptest.Server
	tokens *identity.TokenIssuer
	keyDir string
	keys   []string
	owners []common.Address
}

func startDaemon(t *testing.T, threshold int) *daemon {
	t.Helper()
	gin.SetMode(gin.TestMode)

	d := &daemon{keyDir: t.TempDir()}
	for i := 0; i < 3; i++ {
		path := filepath.Join(d.keyDir, "owner"+string(rune('a'+i))+".key")
		addr, err := client.GenerateKey(path)
		if err != nil {
			t.Fatal(err)
		}
		d.keys = append(d.keys, path)
		d.owners = append(d.owners, addr)
	}

	log := eventlog.NewMemoryLog()
	w, err := wallet.New(d.owners, threshold, wallet.WithSink(eventlog.Recorder(log)))
	if err != nil {
		t.Fatal(err)
	}
	signing, err := identity.LoadOrCreateKey(filepath.Join(d.keyDir, "signing.pem"))
	if err != nil {
		t.Fatal(err)
	}
	d.tokens = identity.NewTokenIssuer(signing, "msig-test", time.Hour)

	rctx, cancel := context.WithCancel(ctx)
	t.Cleanup(cancel)
	d.srv = httptest.NewServer(api.NewRouter(rctx, api.Config{
		Wallet:     w,
		Tokens:     d.tokens,
		Challenges: identity.NewChallengeStore(time.Minute),
		Events:     log,
		Logger:     zap.NewNop(),
	}))
	t.Cleanup(d.srv.Close)
	return d
}

func (d *daemon) owner(t *testing.T, i int) *client.Client {
	t.Helper()
	c, err := client.New(d.srv.URL, client.WithKeyFile(d.keys[i]))
	if err != nil {
		t.Fatal(err)
	}
	return c
}

// ── Tests ───────────────────────────────────────────────────────────────

func TestClient_fullFlow(t *testing.T) {
	d := startDaemon(t, 2)
	alice, bob := d.owner(t, 0), d.owner(t, 1)
	to := common.HexToAddress("0x00000000000000000000000000000000000000f0")

	balance, err := alice.Deposit(ctx, big.NewInt(1000))
	if err != nil {
		t.Fatalf("Deposit: %v", err)
	}
	if balance.Cmp(big.NewInt(1000)) != 0 {
		t.Errorf("balance = %s, want 1000", balance)
	}

	idx, err := alice.Submit(ctx, to, big.NewInt(250), []byte{0xca, 0xfe})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if idx != 0 {
		t.Errorf("index = %d, want 0", idx)
	}

	if _, err := alice.Confirm(ctx, idx); err != nil {
		t.Fatalf("alice Confirm: %v", err)
	}
	tx, err := bob.Confirm(ctx, idx)
	if err != nil {
		t.Fatalf("bob Confirm: %v", err)
	}
	if tx.State != "ready" || tx.NumConfirmations != 2 {
		t.Errorf("after confirms: state=%s confirmations=%d", tx.State, tx.NumConfirmations)
	}

	confirmed, err := bob.IsConfirmed(ctx, idx, d.owners[1])
	if err != nil || !confirmed {
		t.Errorf("IsConfirmed = %v, %v", confirmed, err)
	}
	owners, err := bob.Confirmations(ctx, idx)
	if err != nil || len(owners) != 2 || owners[0] != d.owners[0] {
		t.Errorf("Confirmations = %v, %v", owners, err)
	}

	tx, err = bob.Execute(ctx, idx)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !tx.Executed || tx.Value.Cmp(big.NewInt(250)) != 0 || string(tx.Data) != "\xca\xfe" {
		t.Errorf("executed tx = %+v", tx)
	}

	info, err := client.MustNew(d.srv.URL).Wallet(ctx)
	if err != nil {
		t.Fatalf("Wallet: %v", err)
	}
	if info.Balance.Cmp(big.NewInt(750)) != 0 || info.TransactionCount != 1 || info.Threshold != 2 {
		t.Errorf("wallet info = %+v", info)
	}

	txs, total, err := alice.Transactions(ctx, 0, 10)
	if err != nil || total != 1 || len(txs) != 1 {
		t.Errorf("Transactions = %v, %d, %v", txs, total, err)
	}

	entries, n, root, err := alice.Events(ctx, 0, 100)
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	if n != len(entries) || root != entries[len(entries)-1].Hash {
		t.Errorf("events: total=%d entries=%d root=%s", n, len(entries), root)
	}
	if err := alice.VerifyEvents(ctx); err != nil {
		t.Errorf("VerifyEvents: %v", err)
	}
}

func TestClient_errorCodes(t *testing.T) {
	d := startDaemon(t, 2)
	alice := d.owner(t, 0)

	idx, err := alice.Submit(ctx, d.owners[2], nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := alice.Confirm(ctx, idx); err != nil {
		t.Fatal(err)
	}

	_, err = alice.Confirm(ctx, idx)
	if !client.IsCode(err, client.CodeAlreadyConfirmed) {
		t.Errorf("second confirm: %v", err)
	}
	_, err = alice.Execute(ctx, idx)
	if !client.IsCode(err, client.CodeInsufficientConfirmations) {
		t.Errorf("early execute: %v", err)
	}
	_, err = alice.Transaction(ctx, 42)
	if !client.IsCode(err, client.CodeNotFound) {
		t.Errorf("missing tx: %v", err)
	}

	var apiErr *client.APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusNotFound {
		t.Errorf("expected *APIError with 404, got %v", err)
	}
}

func TestClient_nonOwnerCannotLogin(t *testing.T) {
	d := startDaemon(t, 1)
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	c := client.MustNew(d.srv.URL, client.WithOwnerKey(key))

	_, err = c.Login(ctx)
	if !client.IsCode(err, client.CodeUnauthorized) {
		t.Errorf("Login as non-owner: %v", err)
	}
}

func TestClient_noCredentials(t *testing.T) {
	d := startDaemon(t, 1)
	_, err := client.MustNew(d.srv.URL).Submit(ctx, d.owners[0], nil, nil)
	if !errors.Is(err, client.ErrNoCredentials) {
		t.Errorf("expected ErrNoCredentials, got %v", err)
	}
}

func TestClient_bearerToken(t *testing.T) {
	d := startDaemon(t, 1)
	token, err := d.tokens.Issue(d.owners[1])
	if err != nil {
		t.Fatal(err)
	}
	c := client.MustNew(d.srv.URL, client.WithBearerToken(token))
	if _, err := c.Submit(ctx, d.owners[0], big.NewInt(0), nil); err != nil {
		t.Errorf("Submit with bearer token: %v", err)
	}
}

func TestClient_tokenIsReused(t *testing.T) {
	d := startDaemon(t, 1)
	var logins atomic.Int32
	proxy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v1/auth/token" {
			logins.Add(1)
		}
		d.srv.Config.Handler.ServeHTTP(w, r)
	}))
	defer proxy.Close()

	c := client.MustNew(proxy.URL, client.WithKeyFile(d.keys[0]))
	for i := 0; i < 3; i++ {
		if _, err := c.Submit(ctx, d.owners[1], nil, nil); err != nil {
			t.Fatal(err)
		}
	}
	if got := logins.Load(); got != 1 {
		t.Errorf("logins = %d, want 1", got)
	}
}

func TestJoinCall_setsHeader(t *testing.T) {
	var got atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.Store(r.Header.Get(client.CallHeader))
		w.Write([]byte(`{"index":0,"to":"0x0000000000000000000000000000000000000001","value":"0","data":"0x"}`))
	}))
	defer srv.Close()

	c := client.MustNew(srv.URL)
	if _, err := c.Transaction(client.JoinCall(ctx, "call-123"), 0); err != nil {
		t.Fatal(err)
	}
	if got.Load() != "call-123" {
		t.Errorf("%s = %v, want call-123", client.CallHeader, got.Load())
	}
	if _, err := c.Transaction(client.JoinCall(ctx, ""), 0); err != nil {
		t.Fatal(err)
	}
	if got.Load() != "" {
		t.Errorf("empty call id still sent header %v", got.Load())
	}
}

func TestGenerateKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys", "owner.key")
	addr, err := client.GenerateKey(path)
	if err != nil {
		t.Fatal(err)
	}
	key, err := client.LoadKey(path)
	if err != nil {
		t.Fatal(err)
	}
	if crypto.PubkeyToAddress(key.PublicKey) != addr {
		t.Error("loaded key does not match generated address")
	}
	if _, err := client.GenerateKey(path); err == nil {
		t.Error("expected error when key file exists")
	}
}
