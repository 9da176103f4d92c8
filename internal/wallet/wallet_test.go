package wallet_test

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jmerrifield20/MultiSigWallet/internal/wallet"
	"go.uber.org/zap/zaptest"
)

var ctx = context.Background()

var (
	target   = common.HexToAddress("0x00000000000000000000000000000000000000f0")
	stranger = common.HexToAddress("0x00000000000000000000000000000000000000ee")
	payload  = []byte("abcd")
)

// ── Helpers ──────────────────────────────────────────────────────────────

type eventRecorder struct {
	mu     sync.Mutex
	events []wallet.Event
}

func (r *eventRecorder) HandleEvents(_ context.Context, events []wallet.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, events...)
	return nil
}

func (r *eventRecorder) kinds() []wallet.EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]wallet.EventKind, len(r.events))
	for i, e := range r.events {
		out[i] = e.Kind
	}
	return out
}

func (r *eventRecorder) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func newTestWallet(t *testing.T, threshold int, opts ...wallet.Option) (*wallet.Wallet, []common.Address) {
	t.Helper()
	owners := addrs(6)
	opts = append([]wallet.Option{wallet.WithLogger(zaptest.NewLogger(t))}, opts...)
	w, err := wallet.New(owners, threshold, opts...)
	if err != nil {
		t.Fatalf("new wallet: %v", err)
	}
	return w, owners
}

func mustSubmit(t *testing.T, w *wallet.Wallet, caller common.Address) int {
	t.Helper()
	idx, err := w.Submit(ctx, caller, target, big.NewInt(1), payload)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	return idx
}

func mustConfirm(t *testing.T, w *wallet.Wallet, idx int, owners ...common.Address) {
	t.Helper()
	for _, o := range owners {
		if err := w.Confirm(ctx, o, idx); err != nil {
			t.Fatalf("confirm %d by %s: %v", idx, o.Hex(), err)
		}
	}
}

func mustDeposit(t *testing.T, w *wallet.Wallet, amount int64) {
	t.Helper()
	if err := w.Deposit(ctx, stranger, big.NewInt(amount)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
}

func getTx(t *testing.T, w *wallet.Wallet, idx int) wallet.Transaction {
	t.Helper()
	tx, err := w.Transaction(ctx, idx)
	if err != nil {
		t.Fatalf("transaction %d: %v", idx, err)
	}
	return tx
}

// ── Tests ────────────────────────────────────────────────────────────────

func TestSubmit_indicesAreSequential(t *testing.T) {
	w, owners := newTestWallet(t, 2)

	for want := 0; want < 5; want++ {
		idx := mustSubmit(t, w, owners[want%len(owners)])
		if idx != want {
			t.Fatalf("submit #%d returned index %d", want, idx)
		}
		n, err := w.TransactionCount(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if n != want+1 {
			t.Fatalf("TransactionCount() = %d, want %d", n, want+1)
		}
	}
}

func TestSubmit_recordsTransaction(t *testing.T) {
	rec := &eventRecorder{}
	w, owners := newTestWallet(t, 2, wallet.WithSink(rec))

	idx := mustSubmit(t, w, owners[0])
	tx := getTx(t, w, idx)

	if tx.To != target || tx.Value.Int64() != 1 || string(tx.Data) != "abcd" {
		t.Errorf("unexpected transaction: %+v", tx)
	}
	if tx.NumConfirmations != 0 || tx.Executed {
		t.Errorf("new transaction should be unconfirmed and pending: %+v", tx)
	}
	if tx.SubmittedBy != owners[0] {
		t.Errorf("SubmittedBy = %s, want %s", tx.SubmittedBy.Hex(), owners[0].Hex())
	}
	if tx.State(w.Threshold()) != wallet.StatePending {
		t.Errorf("State() = %s, want pending", tx.State(w.Threshold()))
	}

	if rec.len() != 1 {
		t.Fatalf("expected 1 event, got %d", rec.len())
	}
	ev := rec.events[0]
	if ev.Kind != wallet.EventSubmitted || ev.Caller != owners[0] || ev.Index != 0 ||
		*ev.To != target || ev.Value.Int64() != 1 || string(ev.Data) != "abcd" {
		t.Errorf("unexpected submit event: %+v", ev)
	}
}

func TestSubmit_copiesInputs(t *testing.T) {
	w, owners := newTestWallet(t, 2)
	value := big.NewInt(7)
	data := []byte{1, 2, 3}

	idx, err := w.Submit(ctx, owners[0], target, value, data)
	if err != nil {
		t.Fatal(err)
	}
	value.SetInt64(99)
	data[0] = 9

	tx := getTx(t, w, idx)
	if tx.Value.Int64() != 7 || tx.Data[0] != 1 {
		t.Errorf("ledger aliases caller memory: %+v", tx)
	}

	tx.Data[1] = 42
	if getTx(t, w, idx).Data[1] != 2 {
		t.Error("Transaction() returned ledger memory")
	}
}

func TestSubmit_nonOwner(t *testing.T) {
	rec := &eventRecorder{}
	w, _ := newTestWallet(t, 2, wallet.WithSink(rec))

	_, err := w.Submit(ctx, stranger, target, big.NewInt(1), nil)
	if !errors.Is(err, wallet.ErrUnauthorized) {
		t.Fatalf("got %v, want ErrUnauthorized", err)
	}
	if n, _ := w.TransactionCount(ctx); n != 0 {
		t.Errorf("TransactionCount() = %d after rejected submit", n)
	}
	if rec.len() != 0 {
		t.Errorf("rejected submit emitted %d events", rec.len())
	}
}

func TestSubmit_valueValidation(t *testing.T) {
	w, owners := newTestWallet(t, 2)

	if _, err := w.Submit(ctx, owners[0], target, big.NewInt(-1), nil); !errors.Is(err, wallet.ErrInvalidValue) {
		t.Errorf("negative value: got %v, want ErrInvalidValue", err)
	}
	idx, err := w.Submit(ctx, owners[0], target, nil, nil)
	if err != nil {
		t.Fatalf("nil value should mean zero: %v", err)
	}
	if getTx(t, w, idx).Value.Sign() != 0 {
		t.Error("nil value not stored as zero")
	}
}

func TestConfirm_countsDistinctOwners(t *testing.T) {
	w, owners := newTestWallet(t, 4)
	idx := mustSubmit(t, w, owners[0])

	mustConfirm(t, w, idx, owners[1], owners[2])
	if got := getTx(t, w, idx).NumConfirmations; got != 2 {
		t.Fatalf("NumConfirmations = %d, want 2", got)
	}

	err := w.Confirm(ctx, owners[1], idx)
	if !errors.Is(err, wallet.ErrAlreadyConfirmed) {
		t.Fatalf("second confirm: got %v, want ErrAlreadyConfirmed", err)
	}
	if got := getTx(t, w, idx).NumConfirmations; got != 2 {
		t.Errorf("NumConfirmations = %d after rejected confirm", got)
	}

	for _, o := range owners {
		_ = w.Confirm(ctx, o, idx)
		_ = w.Confirm(ctx, o, idx)
	}
	if got := getTx(t, w, idx).NumConfirmations; got != len(owners) {
		t.Errorf("NumConfirmations = %d, want %d", got, len(owners))
	}
}

func TestConfirm_errors(t *testing.T) {
	w, owners := newTestWallet(t, 1)
	idx := mustSubmit(t, w, owners[0])

	if err := w.Confirm(ctx, stranger, idx); !errors.Is(err, wallet.ErrUnauthorized) {
		t.Errorf("stranger: got %v, want ErrUnauthorized", err)
	}
	if err := w.Confirm(ctx, owners[0], 5); !errors.Is(err, wallet.ErrNotFound) {
		t.Errorf("missing index: got %v, want ErrNotFound", err)
	}
	if err := w.Confirm(ctx, owners[0], -1); !errors.Is(err, wallet.ErrNotFound) {
		t.Errorf("negative index: got %v, want ErrNotFound", err)
	}
	// Unauthorized wins over NotFound.
	if err := w.Confirm(ctx, stranger, 5); !errors.Is(err, wallet.ErrUnauthorized) {
		t.Errorf("stranger on missing index: got %v, want ErrUnauthorized", err)
	}
}

func TestConfirm_transitionsToReady(t *testing.T) {
	w, owners := newTestWallet(t, 2)
	idx := mustSubmit(t, w, owners[0])

	mustConfirm(t, w, idx, owners[0])
	if s := getTx(t, w, idx).State(2); s != wallet.StatePending {
		t.Fatalf("State() = %s, want pending", s)
	}
	mustConfirm(t, w, idx, owners[1])
	if s := getTx(t, w, idx).State(2); s != wallet.StateReady {
		t.Fatalf("State() = %s, want ready", s)
	}
	mustConfirm(t, w, idx, owners[2])
	if s := getTx(t, w, idx).State(2); s != wallet.StateReady {
		t.Fatalf("over-confirmed State() = %s, want ready", s)
	}
}

func TestRevoke_restoresCount(t *testing.T) {
	rec := &eventRecorder{}
	w, owners := newTestWallet(t, 2, wallet.WithSink(rec))
	idx := mustSubmit(t, w, owners[0])
	mustConfirm(t, w, idx, owners[0])

	before := getTx(t, w, idx).NumConfirmations
	mustConfirm(t, w, idx, owners[1])
	if s := getTx(t, w, idx).State(2); s != wallet.StateReady {
		t.Fatalf("State() = %s, want ready", s)
	}

	if err := w.Revoke(ctx, owners[1], idx); err != nil {
		t.Fatal(err)
	}
	tx := getTx(t, w, idx)
	if tx.NumConfirmations != before {
		t.Errorf("NumConfirmations = %d, want %d", tx.NumConfirmations, before)
	}
	if tx.State(2) != wallet.StatePending {
		t.Errorf("State() = %s, want pending after revoke", tx.State(2))
	}
	ok, err := w.IsConfirmed(ctx, idx, owners[1])
	if err != nil || ok {
		t.Errorf("IsConfirmed after revoke = %v, %v", ok, err)
	}

	want := []wallet.EventKind{wallet.EventSubmitted, wallet.EventConfirmed, wallet.EventConfirmed, wallet.EventRevoked}
	got := rec.kinds()
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestRevoke_notConfirmed(t *testing.T) {
	w, owners := newTestWallet(t, 2)
	idx := mustSubmit(t, w, owners[0])

	if err := w.Revoke(ctx, owners[0], idx); !errors.Is(err, wallet.ErrNotConfirmed) {
		t.Errorf("got %v, want ErrNotConfirmed", err)
	}
	if err := w.Revoke(ctx, stranger, idx); !errors.Is(err, wallet.ErrUnauthorized) {
		t.Errorf("got %v, want ErrUnauthorized", err)
	}
	if err := w.Revoke(ctx, owners[0], 3); !errors.Is(err, wallet.ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}

func TestExecute_gating(t *testing.T) {
	var calls int
	caller := wallet.CallerFunc(func(_ context.Context, to common.Address, value *big.Int, data []byte) error {
		calls++
		if to != target || value.Int64() != 1 || string(data) != "abcd" {
			t.Errorf("unexpected call: to=%s value=%s data=%q", to.Hex(), value, data)
		}
		return nil
	})
	w, owners := newTestWallet(t, 2, wallet.WithCaller(caller))
	mustDeposit(t, w, 10)
	idx := mustSubmit(t, w, owners[0])

	mustConfirm(t, w, idx, owners[0])
	if err := w.Execute(ctx, owners[0], idx); !errors.Is(err, wallet.ErrInsufficientConfirmations) {
		t.Fatalf("got %v, want ErrInsufficientConfirmations", err)
	}
	if calls != 0 {
		t.Fatal("call performed below threshold")
	}

	mustConfirm(t, w, idx, owners[1])
	if err := w.Execute(ctx, stranger, idx); !errors.Is(err, wallet.ErrUnauthorized) {
		t.Fatalf("got %v, want ErrUnauthorized", err)
	}
	if err := w.Execute(ctx, owners[5], idx); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}

	tx := getTx(t, w, idx)
	if !tx.Executed || tx.ExecutedAt == nil || tx.State(2) != wallet.StateExecuted {
		t.Errorf("transaction not terminal: %+v", tx)
	}

	for name, op := range map[string]func() error{
		"execute": func() error { return w.Execute(ctx, owners[0], idx) },
		"confirm": func() error { return w.Confirm(ctx, owners[2], idx) },
		"revoke":  func() error { return w.Revoke(ctx, owners[0], idx) },
	} {
		if err := op(); !errors.Is(err, wallet.ErrAlreadyExecuted) {
			t.Errorf("%s after execution: got %v, want ErrAlreadyExecuted", name, err)
		}
	}
	if calls != 1 {
		t.Errorf("calls = %d, want exactly 1", calls)
	}
	if got := getTx(t, w, idx).NumConfirmations; got != 2 {
		t.Errorf("NumConfirmations changed after execution: %d", got)
	}
}

func TestExecute_failedCallRollsBack(t *testing.T) {
	fail := true
	caller := wallet.CallerFunc(func(context.Context, common.Address, *big.Int, []byte) error {
		if fail {
			return errors.New("target reverted")
		}
		return nil
	})
	rec := &eventRecorder{}
	w, owners := newTestWallet(t, 2, wallet.WithCaller(caller), wallet.WithSink(rec))
	mustDeposit(t, w, 5)
	idx := mustSubmit(t, w, owners[0])
	mustConfirm(t, w, idx, owners[0], owners[1])
	eventsBefore := rec.len()

	err := w.Execute(ctx, owners[0], idx)
	if !errors.Is(err, wallet.ErrExecutionFailed) {
		t.Fatalf("got %v, want ErrExecutionFailed", err)
	}
	tx := getTx(t, w, idx)
	if tx.Executed || tx.ExecutedAt != nil {
		t.Fatal("executed flag not rolled back")
	}
	if tx.State(2) != wallet.StateReady {
		t.Errorf("State() = %s, want ready", tx.State(2))
	}
	if bal, _ := w.Balance(ctx); bal.Int64() != 5 {
		t.Errorf("balance = %s, want 5", bal)
	}
	if rec.len() != eventsBefore {
		t.Errorf("failed execute emitted %d events", rec.len()-eventsBefore)
	}

	fail = false
	if err := w.Execute(ctx, owners[1], idx); err != nil {
		t.Fatalf("retry without re-confirmation: %v", err)
	}
	if !getTx(t, w, idx).Executed {
		t.Error("retry did not execute")
	}
	if bal, _ := w.Balance(ctx); bal.Int64() != 4 {
		t.Errorf("balance = %s, want 4", bal)
	}
}

func TestExecute_insufficientBalance(t *testing.T) {
	var calls int
	caller := wallet.CallerFunc(func(context.Context, common.Address, *big.Int, []byte) error {
		calls++
		return nil
	})
	w, owners := newTestWallet(t, 1, wallet.WithCaller(caller))
	idx := mustSubmit(t, w, owners[0])
	mustConfirm(t, w, idx, owners[0])

	if err := w.Execute(ctx, owners[0], idx); !errors.Is(err, wallet.ErrExecutionFailed) {
		t.Fatalf("got %v, want ErrExecutionFailed", err)
	}
	if calls != 0 {
		t.Error("call performed without funds")
	}
	if getTx(t, w, idx).Executed {
		t.Error("executed flag not rolled back")
	}

	mustDeposit(t, w, 1)
	if err := w.Execute(ctx, owners[0], idx); err != nil {
		t.Fatalf("execute after deposit: %v", err)
	}
}

func TestExecute_zeroValueNeedsNoBalance(t *testing.T) {
	w, owners := newTestWallet(t, 1)
	idx, err := w.Submit(ctx, owners[0], target, big.NewInt(0), payload)
	if err != nil {
		t.Fatal(err)
	}
	mustConfirm(t, w, idx, owners[0])
	if err := w.Execute(ctx, owners[0], idx); err != nil {
		t.Fatalf("execute: %v", err)
	}
}

func TestDeposit(t *testing.T) {
	rec := &eventRecorder{}
	w, _ := newTestWallet(t, 1, wallet.WithSink(rec))

	mustDeposit(t, w, 3)
	mustDeposit(t, w, 4)
	if bal, _ := w.Balance(ctx); bal.Int64() != 7 {
		t.Errorf("balance = %s, want 7", bal)
	}
	if err := w.Deposit(ctx, stranger, big.NewInt(-1)); !errors.Is(err, wallet.ErrInvalidValue) {
		t.Errorf("negative deposit: got %v", err)
	}
	if err := w.Deposit(ctx, stranger, nil); !errors.Is(err, wallet.ErrInvalidValue) {
		t.Errorf("nil deposit: got %v", err)
	}

	last := rec.events[len(rec.events)-1]
	if last.Kind != wallet.EventDeposited || last.Index != -1 || last.Value.Int64() != 4 || last.Balance.Int64() != 7 {
		t.Errorf("unexpected deposit event: %+v", last)
	}
}

func TestQueries(t *testing.T) {
	w, owners := newTestWallet(t, 3)
	for i := 0; i < 4; i++ {
		mustSubmit(t, w, owners[0])
	}
	mustConfirm(t, w, 1, owners[4], owners[2])

	page, err := w.Transactions(ctx, 1, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 2 || page[0].Index != 1 || page[1].Index != 2 {
		t.Errorf("Transactions(1, 2) = %+v", page)
	}
	if rest, _ := w.Transactions(ctx, 10, 5); len(rest) != 0 {
		t.Errorf("Transactions past the end returned %d", len(rest))
	}

	confs, err := w.Confirmations(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(confs) != 2 || confs[0] != owners[2] || confs[1] != owners[4] {
		t.Errorf("Confirmations(1) = %v, want registry order", confs)
	}

	if _, err := w.Transaction(ctx, 4); !errors.Is(err, wallet.ErrNotFound) {
		t.Errorf("Transaction(4): got %v, want ErrNotFound", err)
	}
	if _, err := w.IsConfirmed(ctx, 9, owners[0]); !errors.Is(err, wallet.ErrNotFound) {
		t.Errorf("IsConfirmed(9): got %v, want ErrNotFound", err)
	}
	if _, err := w.Confirmations(ctx, 9); !errors.Is(err, wallet.ErrNotFound) {
		t.Errorf("Confirmations(9): got %v, want ErrNotFound", err)
	}
}

// Six owners, threshold four: three confirmations are not enough, the
// fourth unlocks execution, and a second execution is rejected.
func TestScenario_fourOfSix(t *testing.T) {
	w, o := newTestWallet(t, 4)
	a, b, c, d, e := o[0], o[1], o[2], o[3], o[4]
	mustDeposit(t, w, 1)

	idx, err := w.Submit(ctx, a, target, big.NewInt(1), payload)
	if err != nil || idx != 0 {
		t.Fatalf("submit = %d, %v", idx, err)
	}
	mustConfirm(t, w, 0, b, c, d)
	if n := getTx(t, w, 0).NumConfirmations; n != 3 {
		t.Fatalf("NumConfirmations = %d, want 3", n)
	}
	if err := w.Execute(ctx, a, 0); !errors.Is(err, wallet.ErrInsufficientConfirmations) {
		t.Fatalf("got %v, want ErrInsufficientConfirmations", err)
	}
	mustConfirm(t, w, 0, e)
	if n := getTx(t, w, 0).NumConfirmations; n != 4 {
		t.Fatalf("NumConfirmations = %d, want 4", n)
	}
	if err := w.Execute(ctx, a, 0); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !getTx(t, w, 0).Executed {
		t.Fatal("not executed")
	}
	if err := w.Execute(ctx, b, 0); !errors.Is(err, wallet.ErrAlreadyExecuted) {
		t.Fatalf("got %v, want ErrAlreadyExecuted", err)
	}
}

func TestObserver(t *testing.T) {
	var mu sync.Mutex
	seen := map[string][]error{}
	obs := func(op string, err error) {
		mu.Lock()
		defer mu.Unlock()
		seen[op] = append(seen[op], err)
	}
	w, owners := newTestWallet(t, 1, wallet.WithObserver(obs))
	idx := mustSubmit(t, w, owners[0])
	_ = w.Execute(ctx, owners[0], idx)

	if len(seen["submit"]) != 1 || seen["submit"][0] != nil {
		t.Errorf("submit observations = %v", seen["submit"])
	}
	if len(seen["execute"]) != 1 || !errors.Is(seen["execute"][0], wallet.ErrInsufficientConfirmations) {
		t.Errorf("execute observations = %v", seen["execute"])
	}
}
