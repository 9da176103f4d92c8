package wallet

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// Open returns a wallet backed by store. An empty store is initialised with
// the given registry; otherwise the stored registry must match owners and
// threshold exactly and the stored state is restored.
func Open(ctx context.Context, store Store, owners []common.Address, threshold int, opts ...Option) (*Wallet, error) {
	registry, err := NewOwnerRegistry(owners, threshold)
	if err != nil {
		return nil, err
	}

	snap, err := store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load wallet state: %w", err)
	}

	if snap == nil {
		w := newWallet(registry, opts)
		w.store = store
		cs := &ChangeSet{
			Registry: &Snapshot{Owners: registry.Owners(), Threshold: registry.Threshold()},
			Balance:  new(big.Int),
		}
		if err := store.Save(ctx, cs); err != nil {
			return nil, fmt.Errorf("initialise wallet state: %w", err)
		}
		w.logger.Info("wallet initialised",
			zap.Int("owners", len(owners)),
			zap.Int("threshold", threshold),
		)
		return w, nil
	}

	if !registry.equal(snap.Owners, snap.Threshold) {
		return nil, fmt.Errorf("%w: stored %d-of-%d, configured %d-of-%d",
			ErrRegistryMismatch, snap.Threshold, len(snap.Owners), threshold, len(owners))
	}

	w, err := Restore(snap, opts...)
	if err != nil {
		return nil, err
	}
	w.store = store
	w.logger.Info("wallet restored",
		zap.Int("transactions", len(w.txs)),
		zap.String("balance", w.balance.String()),
	)
	return w, nil
}

// Restore rebuilds a wallet from a snapshot. Indices must be contiguous from
// zero and every cached confirmation count must match the confirmation
// records; otherwise ErrCorruptState is returned.
func Restore(snap *Snapshot, opts ...Option) (*Wallet, error) {
	registry, err := NewOwnerRegistry(snap.Owners, snap.Threshold)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorruptState, err)
	}
	w := newWallet(registry, opts)

	if snap.Balance != nil {
		if snap.Balance.Sign() < 0 {
			return nil, fmt.Errorf("%w: negative balance", ErrCorruptState)
		}
		w.balance = new(big.Int).Set(snap.Balance)
	}

	for i := range snap.Transactions {
		tx := snap.Transactions[i].Clone()
		if tx.Index != i {
			return nil, fmt.Errorf("%w: transaction at position %d has index %d", ErrCorruptState, i, tx.Index)
		}
		if tx.Value == nil {
			tx.Value = new(big.Int)
		}
		if tx.Value.Sign() < 0 {
			return nil, fmt.Errorf("%w: transaction %d has negative value", ErrCorruptState, i)
		}
		w.txs = append(w.txs, &tx)
	}

	counts := make(map[int]int)
	for _, c := range snap.Confirmations {
		if !c.Confirmed {
			continue
		}
		if c.Index < 0 || c.Index >= len(w.txs) {
			return nil, fmt.Errorf("%w: confirmation for unknown transaction %d", ErrCorruptState, c.Index)
		}
		if !registry.IsOwner(c.Owner) {
			return nil, fmt.Errorf("%w: confirmation by non-owner %s", ErrCorruptState, c.Owner.Hex())
		}
		set := w.confirmed[c.Index]
		if set == nil {
			set = make(map[common.Address]struct{})
			w.confirmed[c.Index] = set
		}
		if _, dup := set[c.Owner]; dup {
			continue
		}
		set[c.Owner] = struct{}{}
		counts[c.Index]++
	}

	for _, tx := range w.txs {
		if tx.NumConfirmations != counts[tx.Index] {
			return nil, fmt.Errorf("%w: transaction %d caches %d confirmations, records hold %d",
				ErrCorruptState, tx.Index, tx.NumConfirmations, counts[tx.Index])
		}
	}
	return w, nil
}

// Snapshot returns the complete current state.
func (w *Wallet) Snapshot(ctx context.Context) (*Snapshot, error) {
	u, err := w.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer u.release()

	snap := &Snapshot{
		Owners:    w.registry.Owners(),
		Threshold: w.registry.Threshold(),
		Balance:   new(big.Int).Set(w.balance),
	}
	for _, tx := range w.txs {
		snap.Transactions = append(snap.Transactions, tx.Clone())
		for _, owner := range w.registry.owners {
			if w.isConfirmed(tx.Index, owner) {
				snap.Confirmations = append(snap.Confirmations, Confirmation{Index: tx.Index, Owner: owner, Confirmed: true})
			}
		}
	}
	return snap, nil
}
