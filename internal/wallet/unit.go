package wallet

import (
	"context"
	"fmt"
	"maps"
	"math/big"
	"slices"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// frameKey is the context key under which Execute records that the gate is
// held on behalf of the call chain it hands to the Caller.
type frameKey struct{}

// frame marks an in-flight external call. Operations invoked with a context
// carrying an active frame for their wallet join the running unit of work
// instead of waiting for the gate. Joiners hold sem for their whole unit, so
// they run one at a time.
type frame struct {
	wallet *Wallet
	parent *frame
	active atomic.Bool
	sem    chan struct{}
}

func enterFrame(ctx context.Context, w *Wallet) (context.Context, *frame) {
	parent, _ := ctx.Value(frameKey{}).(*frame)
	f := &frame{wallet: w, parent: parent, sem: make(chan struct{}, 1)}
	f.active.Store(true)
	return context.WithValue(ctx, frameKey{}, f), f
}

// close waits for joiners still inside a unit, then ends the frame.
func (f *frame) close() {
	f.sem <- struct{}{}
	f.active.Store(false)
	<-f.sem
}

// activeFrame returns the innermost active frame ctx carries for w.
func activeFrame(ctx context.Context, w *Wallet) *frame {
	f, _ := ctx.Value(frameKey{}).(*frame)
	for ; f != nil; f = f.parent {
		if f.wallet == w && f.active.Load() {
			return f
		}
	}
	return nil
}

type confKey struct {
	index int
	owner common.Address
}

const (
	saveAttempts = 3
	saveBackoff  = 50 * time.Millisecond
)

// unit is one operation's view of the wallet. The outermost unit owns the
// gate; nested units (reentrant calls from inside an external call) hold
// their frame's semaphore and can only unwind to their own savepoint.
type unit struct {
	w           *Wallet
	ctx         context.Context
	frame       *frame
	journalMark int
	eventMark   int

	// checkpointed is set once the outermost unit has persisted part of
	// its effects; unwinding it must persist the restored records too.
	checkpointed bool
	// final is set once the effects can no longer be unwound.
	final bool
	done  bool
}

// begin acquires the gate, or joins the running unit when ctx carries an
// active frame for this wallet.
func (w *Wallet) begin(ctx context.Context) (*unit, error) {
	for f := activeFrame(ctx, w); f != nil; f = activeFrame(ctx, w) {
		select {
		case f.sem <- struct{}{}:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		if f.active.Load() {
			return &unit{
				w:           w,
				ctx:         ctx,
				frame:       f,
				journalMark: len(w.journal),
				eventMark:   len(w.pending),
			}, nil
		}
		<-f.sem
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	select {
	case w.gate <- struct{}{}:
		return &unit{w: w, ctx: ctx}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (u *unit) nested() bool { return u.frame != nil }

func (u *unit) onUndo(fn func()) {
	u.w.journal = append(u.w.journal, fn)
}

func (u *unit) emit(ev Event) {
	ev.Timestamp = u.w.now().UTC()
	u.w.pending = append(u.w.pending, ev)
}

// abort unwinds everything done since the unit began. It is a no-op once
// the unit has committed, so it is safe to defer.
func (u *unit) abort() {
	if u.done {
		return
	}
	u.done = true
	w := u.w
	for i := len(w.journal) - 1; i >= u.journalMark; i-- {
		w.journal[i]()
	}
	w.journal = w.journal[:u.journalMark]
	w.pending = w.pending[:u.eventMark]
	if u.nested() {
		<-u.frame.sem
		return
	}
	switch {
	case u.checkpointed:
		if err := w.persist(u.ctx); err != nil {
			w.unsaved = true
			w.logger.Error("persist rolled back wallet state", zap.Error(err))
			w.observe("persist", err)
		}
	case !w.unsaved:
		w.resetDirty()
	}
	<-w.gate
}

// release ends a read-only unit.
func (u *unit) release() { u.abort() }

// checkpoint persists the outermost unit's effects so far without ending
// it. Nested units have nothing to checkpoint; their effects are persisted
// with the enclosing unit.
func (u *unit) checkpoint() error {
	if u.nested() {
		return nil
	}
	if err := u.w.persist(u.ctx); err != nil {
		return fmt.Errorf("persist wallet state: %w", err)
	}
	u.checkpointed = true
	return nil
}

// settle marks the unit's effects as final. commit then keeps them in
// memory even when persisting fails, and retries the save.
func (u *unit) settle() { u.final = true }

// commit makes the unit's effects final. A nested unit hands its effects to
// the enclosing one. The outermost unit persists the change set, releases
// the gate and then delivers pending events in commit order. If persisting
// fails everything is unwound, unless the unit has settled.
func (u *unit) commit(ctx context.Context) error {
	if u.nested() {
		u.done = true
		<-u.frame.sem
		return nil
	}
	w := u.w
	attempts := 1
	if u.final {
		attempts = saveAttempts
	}
	var err error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			time.Sleep(time.Duration(i) * saveBackoff)
		}
		if err = w.persist(ctx); err == nil {
			break
		}
	}
	if err != nil {
		if !u.final {
			u.abort()
			return fmt.Errorf("persist wallet state: %w", err)
		}
		w.unsaved = true
		w.logger.Error("persist settled wallet state, will retry on next save",
			zap.Int("attempts", attempts),
			zap.Error(err),
		)
		w.observe("persist", err)
	}
	events := w.pending
	w.journal = nil
	w.pending = nil
	u.done = true

	w.dispatchMu.Lock()
	defer w.dispatchMu.Unlock()
	<-w.gate
	w.dispatch(ctx, events)
	return nil
}

// persist saves everything dirty. The save is not tied to the caller's
// cancellation.
func (w *Wallet) persist(ctx context.Context) error {
	if w.store == nil {
		w.resetDirty()
		return nil
	}
	cs := w.changeSet()
	if cs.Empty() {
		w.unsaved = false
		return nil
	}
	if err := w.store.Save(context.WithoutCancel(ctx), cs); err != nil {
		return err
	}
	w.resetDirty()
	w.unsaved = false
	return nil
}

func (u *unit) appendTx(tx *Transaction) {
	w := u.w
	w.txs = append(w.txs, tx)
	w.dirtyTx[tx.Index] = struct{}{}
	u.onUndo(func() {
		w.txs = w.txs[:len(w.txs)-1]
		delete(w.confirmed, tx.Index)
	})
}

func (u *unit) setConfirmed(tx *Transaction, owner common.Address, on bool) {
	w := u.w
	set := w.confirmed[tx.Index]
	if set == nil {
		set = make(map[common.Address]struct{})
		w.confirmed[tx.Index] = set
	}
	apply := func(on bool) {
		if on {
			set[owner] = struct{}{}
			tx.NumConfirmations++
		} else {
			delete(set, owner)
			tx.NumConfirmations--
		}
	}
	mark := func() {
		w.dirtyTx[tx.Index] = struct{}{}
		w.dirtyConf[confKey{tx.Index, owner}] = struct{}{}
	}
	apply(on)
	mark()
	u.onUndo(func() {
		apply(!on)
		mark()
	})
}

func (u *unit) markExecuted(tx *Transaction, at time.Time) {
	tx.Executed = true
	tx.ExecutedAt = &at
	w := u.w
	w.dirtyTx[tx.Index] = struct{}{}
	u.onUndo(func() {
		tx.Executed = false
		tx.ExecutedAt = nil
		w.dirtyTx[tx.Index] = struct{}{}
	})
}

func (u *unit) addBalance(delta *big.Int) {
	w := u.w
	prev := w.balance
	w.balance = new(big.Int).Add(prev, delta)
	w.dirtyBalance = true
	u.onUndo(func() {
		w.balance = prev
		w.dirtyBalance = true
	})
}

func (w *Wallet) resetDirty() {
	clear(w.dirtyTx)
	clear(w.dirtyConf)
	w.dirtyBalance = false
}

// changeSet collects the current value of everything the running unit
// touched. Records that a rolled-back nested unit appended are skipped.
func (w *Wallet) changeSet() *ChangeSet {
	cs := &ChangeSet{}
	if w.dirtyBalance {
		cs.Balance = new(big.Int).Set(w.balance)
	}
	for _, idx := range slices.Sorted(maps.Keys(w.dirtyTx)) {
		if idx < len(w.txs) {
			cs.Transactions = append(cs.Transactions, w.txs[idx].Clone())
		}
	}
	keys := slices.Collect(maps.Keys(w.dirtyConf))
	slices.SortFunc(keys, func(a, b confKey) int {
		if a.index != b.index {
			return a.index - b.index
		}
		return w.registry.position(a.owner) - w.registry.position(b.owner)
	})
	for _, k := range keys {
		if k.index >= len(w.txs) {
			continue
		}
		_, on := w.confirmed[k.index][k.owner]
		cs.Confirmations = append(cs.Confirmations, Confirmation{Index: k.index, Owner: k.owner, Confirmed: on})
	}
	return cs
}

func (w *Wallet) dispatch(ctx context.Context, events []Event) {
	if len(events) == 0 {
		return
	}
	for _, sink := range w.sinks {
		err := sink.HandleEvents(ctx, events)
		if err != nil {
			w.logger.Error("event sink failed",
				zap.Int("events", len(events)),
				zap.Error(err),
			)
		}
		w.observe("sink", err)
	}
}
