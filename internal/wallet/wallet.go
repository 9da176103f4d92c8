// Package wallet implements a fixed-membership multi-signature authorization
// engine. A fixed set of owners submit outgoing calls, confirm or revoke them,
// and execute a call once enough distinct owners have confirmed it.
//
// Every operation is a single unit of work behind one gate: it is either fully
// applied (state persisted, events delivered) or has no effect at all. Execute
// marks the transaction executed before handing control to the untrusted
// Caller, so reentrant calls observe the terminal state, and it unwinds every
// effect of the call, including reentrant ones, when the call fails.
package wallet

import (
	"context"
	"fmt"
	"math/big"
	"slices"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// Observer is notified after every operation with its name and outcome.
// Operation names are submit, confirm, revoke, execute, deposit, sink and
// persist; persist reports saves that failed after the operation settled.
type Observer func(op string, err error)

// Option configures a Wallet.
type Option func(*Wallet)

// WithCaller sets the external call executor. The default accepts every call.
func WithCaller(c Caller) Option {
	return func(w *Wallet) { w.caller = c }
}

// WithSink adds an event sink. Sinks are invoked in registration order.
func WithSink(s EventSink) Option {
	return func(w *Wallet) { w.sinks = append(w.sinks, s) }
}

// WithLogger sets the logger. The default is a no-op logger.
func WithLogger(l *zap.Logger) Option {
	return func(w *Wallet) { w.logger = l }
}

// WithObserver sets the operation observer, typically a metrics recorder.
func WithObserver(fn Observer) Option {
	return func(w *Wallet) { w.observer = fn }
}

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(w *Wallet) { w.now = now }
}

// Wallet is the authorization engine: owner registry, transaction ledger and
// confirmation tracker behind a single mutation gate.
type Wallet struct {
	registry *OwnerRegistry
	gate     chan struct{}

	// Everything below is guarded by gate.
	txs       []*Transaction
	confirmed map[int]map[common.Address]struct{}
	balance   *big.Int

	journal      []func()
	pending      []Event
	dirtyTx      map[int]struct{}
	dirtyConf    map[confKey]struct{}
	dirtyBalance bool
	// unsaved is set while settled effects are waiting for a successful
	// save; their dirty marks are kept until then.
	unsaved bool

	// dispatchMu orders event delivery, which runs after the gate is
	// released.
	dispatchMu sync.Mutex

	caller   Caller
	store    Store
	sinks    []EventSink
	observer Observer
	now      func() time.Time
	logger   *zap.Logger
}

// New creates an in-memory wallet. It fails with ErrInvalidOwnerSet or
// ErrInvalidThreshold when the registry is not valid.
func New(owners []common.Address, threshold int, opts ...Option) (*Wallet, error) {
	registry, err := NewOwnerRegistry(owners, threshold)
	if err != nil {
		return nil, err
	}
	return newWallet(registry, opts), nil
}

func newWallet(registry *OwnerRegistry, opts []Option) *Wallet {
	w := &Wallet{
		registry:  registry,
		gate:      make(chan struct{}, 1),
		confirmed: make(map[int]map[common.Address]struct{}),
		balance:   new(big.Int),
		dirtyTx:   make(map[int]struct{}),
		dirtyConf: make(map[confKey]struct{}),
		caller:    acceptAll,
		now:       time.Now,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func (w *Wallet) observe(op string, err error) {
	if w.observer != nil {
		w.observer(op, err)
	}
}

// Owners returns the owner list in registration order.
func (w *Wallet) Owners() []common.Address { return w.registry.Owners() }

// Threshold returns the number of confirmations needed to execute.
func (w *Wallet) Threshold() int { return w.registry.Threshold() }

// IsOwner reports whether addr is an owner.
func (w *Wallet) IsOwner(addr common.Address) bool { return w.registry.IsOwner(addr) }

// Submit appends a new transaction proposed by caller and returns its index.
// Targets and payloads are not inspected; only who may act is authorized.
func (w *Wallet) Submit(ctx context.Context, caller, to common.Address, value *big.Int, data []byte) (index int, err error) {
	defer func() { w.observe("submit", err) }()

	u, err := w.begin(ctx)
	if err != nil {
		return -1, err
	}
	defer u.abort()

	if !w.registry.IsOwner(caller) {
		return -1, fmt.Errorf("submit transaction: %w", ErrUnauthorized)
	}
	if value == nil {
		value = new(big.Int)
	}
	if value.Sign() < 0 {
		return -1, fmt.Errorf("submit transaction: %w: negative value %s", ErrInvalidValue, value)
	}

	tx := &Transaction{
		Index:       len(w.txs),
		To:          to,
		Value:       new(big.Int).Set(value),
		Data:        common.CopyBytes(data),
		SubmittedBy: caller,
		SubmittedAt: w.now().UTC(),
	}
	u.appendTx(tx)

	dest := to
	u.emit(Event{
		Kind:   EventSubmitted,
		Caller: caller,
		Index:  tx.Index,
		To:     &dest,
		Value:  new(big.Int).Set(tx.Value),
		Data:   common.CopyBytes(tx.Data),
	})

	if err := u.commit(ctx); err != nil {
		return -1, err
	}

	w.logger.Info("transaction submitted",
		zap.Int("index", tx.Index),
		zap.String("owner", caller.Hex()),
		zap.String("to", to.Hex()),
		zap.String("value", tx.Value.String()),
	)
	return tx.Index, nil
}

// Confirm records caller's approval of the transaction at index.
func (w *Wallet) Confirm(ctx context.Context, caller common.Address, index int) (err error) {
	defer func() { w.observe("confirm", err) }()

	u, err := w.begin(ctx)
	if err != nil {
		return err
	}
	defer u.abort()

	tx, err := w.openTx(caller, index)
	if err != nil {
		return fmt.Errorf("confirm transaction %d: %w", index, err)
	}
	if w.isConfirmed(index, caller) {
		return fmt.Errorf("confirm transaction %d: %w", index, ErrAlreadyConfirmed)
	}

	u.setConfirmed(tx, caller, true)
	u.emit(Event{Kind: EventConfirmed, Caller: caller, Index: index})

	if err := u.commit(ctx); err != nil {
		return err
	}

	w.logger.Debug("transaction confirmed",
		zap.Int("index", index),
		zap.String("owner", caller.Hex()),
		zap.Int("confirmations", tx.NumConfirmations),
	)
	return nil
}

// Revoke withdraws caller's earlier confirmation of the transaction at index.
func (w *Wallet) Revoke(ctx context.Context, caller common.Address, index int) (err error) {
	defer func() { w.observe("revoke", err) }()

	u, err := w.begin(ctx)
	if err != nil {
		return err
	}
	defer u.abort()

	tx, err := w.openTx(caller, index)
	if err != nil {
		return fmt.Errorf("revoke confirmation %d: %w", index, err)
	}
	if !w.isConfirmed(index, caller) {
		return fmt.Errorf("revoke confirmation %d: %w", index, ErrNotConfirmed)
	}

	u.setConfirmed(tx, caller, false)
	u.emit(Event{Kind: EventRevoked, Caller: caller, Index: index})

	if err := u.commit(ctx); err != nil {
		return err
	}

	w.logger.Debug("confirmation revoked",
		zap.Int("index", index),
		zap.String("owner", caller.Hex()),
		zap.Int("confirmations", tx.NumConfirmations),
	)
	return nil
}

// Execute performs the external call of a transaction that has reached the
// threshold. The transaction is marked executed and the value debited, and
// both are persisted, before the Caller runs. If the call fails, or the
// balance cannot cover the value, the operation fails with
// ErrExecutionFailed and the transaction is left ready to be executed
// again. Once the call has succeeded the transaction stays executed.
func (w *Wallet) Execute(ctx context.Context, caller common.Address, index int) (err error) {
	defer func() { w.observe("execute", err) }()

	u, err := w.begin(ctx)
	if err != nil {
		return err
	}
	defer u.abort()

	tx, err := w.openTx(caller, index)
	if err != nil {
		return fmt.Errorf("execute transaction %d: %w", index, err)
	}
	if tx.NumConfirmations < w.registry.Threshold() {
		return fmt.Errorf("execute transaction %d: %w: have %d, need %d",
			index, ErrInsufficientConfirmations, tx.NumConfirmations, w.registry.Threshold())
	}

	u.markExecuted(tx, w.now().UTC())
	if tx.Value.Sign() > 0 {
		if w.balance.Cmp(tx.Value) < 0 {
			return fmt.Errorf("execute transaction %d: %w: balance %s below value %s",
				index, ErrExecutionFailed, w.balance, tx.Value)
		}
		u.addBalance(new(big.Int).Neg(tx.Value))
	}
	if err := u.checkpoint(); err != nil {
		return fmt.Errorf("execute transaction %d: %w", index, err)
	}

	callCtx, f := enterFrame(ctx, w)
	callErr := w.caller.Call(callCtx, tx.To, new(big.Int).Set(tx.Value), common.CopyBytes(tx.Data))
	f.close()
	if callErr != nil {
		w.logger.Warn("transaction call failed",
			zap.Int("index", index),
			zap.String("to", tx.To.Hex()),
			zap.Error(callErr),
		)
		return fmt.Errorf("execute transaction %d: %w: %w", index, ErrExecutionFailed, callErr)
	}

	u.settle()
	u.emit(Event{Kind: EventExecuted, Caller: caller, Index: index})

	if err := u.commit(ctx); err != nil {
		return err
	}

	w.logger.Info("transaction executed",
		zap.Int("index", index),
		zap.String("owner", caller.Hex()),
		zap.String("to", tx.To.Hex()),
	)
	return nil
}

// Deposit credits amount to the wallet balance. Anyone may deposit.
func (w *Wallet) Deposit(ctx context.Context, from common.Address, amount *big.Int) (err error) {
	defer func() { w.observe("deposit", err) }()

	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("deposit: %w: amount must be a non-negative integer", ErrInvalidValue)
	}

	u, err := w.begin(ctx)
	if err != nil {
		return err
	}
	defer u.abort()

	u.addBalance(amount)
	u.emit(Event{
		Kind:    EventDeposited,
		Caller:  from,
		Index:   -1,
		Value:   new(big.Int).Set(amount),
		Balance: new(big.Int).Set(w.balance),
	})
	return u.commit(ctx)
}

// openTx checks that caller is an owner and that index names a transaction
// that has not been executed yet.
func (w *Wallet) openTx(caller common.Address, index int) (*Transaction, error) {
	if !w.registry.IsOwner(caller) {
		return nil, ErrUnauthorized
	}
	tx, err := w.tx(index)
	if err != nil {
		return nil, err
	}
	if tx.Executed {
		return nil, ErrAlreadyExecuted
	}
	return tx, nil
}

func (w *Wallet) tx(index int) (*Transaction, error) {
	if index < 0 || index >= len(w.txs) {
		return nil, fmt.Errorf("%w: index %d", ErrNotFound, index)
	}
	return w.txs[index], nil
}

func (w *Wallet) isConfirmed(index int, owner common.Address) bool {
	_, ok := w.confirmed[index][owner]
	return ok
}

// TransactionCount returns the number of submitted transactions.
func (w *Wallet) TransactionCount(ctx context.Context) (int, error) {
	u, err := w.begin(ctx)
	if err != nil {
		return 0, err
	}
	defer u.release()
	return len(w.txs), nil
}

// Transaction returns a copy of the transaction at index.
func (w *Wallet) Transaction(ctx context.Context, index int) (Transaction, error) {
	u, err := w.begin(ctx)
	if err != nil {
		return Transaction{}, err
	}
	defer u.release()

	tx, err := w.tx(index)
	if err != nil {
		return Transaction{}, err
	}
	return tx.Clone(), nil
}

// Transactions returns up to limit transactions starting at offset, in index
// order. A non-positive limit defaults to 50.
func (w *Wallet) Transactions(ctx context.Context, offset, limit int) ([]Transaction, error) {
	u, err := w.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer u.release()

	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	if offset >= len(w.txs) {
		return []Transaction{}, nil
	}
	end := min(offset+limit, len(w.txs))
	out := make([]Transaction, 0, end-offset)
	for _, tx := range w.txs[offset:end] {
		out = append(out, tx.Clone())
	}
	return out, nil
}

// IsConfirmed reports whether owner has confirmed the transaction at index.
func (w *Wallet) IsConfirmed(ctx context.Context, index int, owner common.Address) (bool, error) {
	u, err := w.begin(ctx)
	if err != nil {
		return false, err
	}
	defer u.release()

	if _, err := w.tx(index); err != nil {
		return false, err
	}
	return w.isConfirmed(index, owner), nil
}

// Confirmations lists the owners that currently confirm the transaction at
// index, in registration order.
func (w *Wallet) Confirmations(ctx context.Context, index int) ([]common.Address, error) {
	u, err := w.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer u.release()

	if _, err := w.tx(index); err != nil {
		return nil, err
	}
	out := make([]common.Address, 0, len(w.confirmed[index]))
	for owner := range w.confirmed[index] {
		out = append(out, owner)
	}
	slices.SortFunc(out, func(a, b common.Address) int {
		return w.registry.position(a) - w.registry.position(b)
	})
	return out, nil
}

// Balance returns the amount currently held by the wallet.
func (w *Wallet) Balance(ctx context.Context) (*big.Int, error) {
	u, err := w.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer u.release()
	return new(big.Int).Set(w.balance), nil
}
