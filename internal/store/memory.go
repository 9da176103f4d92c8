package store

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/jmerrifield20/MultiSigWallet/internal/wallet"
)

// MemoryStore is an in-memory, thread-safe wallet.Store. Everything it
// hands out or takes in is deep-copied.
type MemoryStore struct {
	mu       sync.Mutex
	snap     *wallet.Snapshot
	confs    map[int]map[common.Address]struct{}
	saves    int
	failErr  error
	failLeft int
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{confs: make(map[int]map[common.Address]struct{})}
}

// FailNextSave makes the next Save return err without applying anything.
func (s *MemoryStore) FailNextSave(err error) { s.FailSaves(err, 1) }

// FailSaves makes the next n Save calls return err without applying
// anything.
func (s *MemoryStore) FailSaves(err error, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		n = 0
	}
	s.failErr, s.failLeft = err, n
}

// Saves returns the number of successful Save calls.
func (s *MemoryStore) Saves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

// Load implements wallet.Store.
func (s *MemoryStore) Load(_ context.Context) (*wallet.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snap == nil {
		return nil, nil
	}

	out := &wallet.Snapshot{
		Owners:    append([]common.Address(nil), s.snap.Owners...),
		Threshold: s.snap.Threshold,
		Balance:   new(big.Int).Set(s.snap.Balance),
	}
	for i := range s.snap.Transactions {
		out.Transactions = append(out.Transactions, s.snap.Transactions[i].Clone())
		for _, owner := range s.snap.Owners {
			if _, ok := s.confs[i][owner]; ok {
				out.Confirmations = append(out.Confirmations, wallet.Confirmation{Index: i, Owner: owner, Confirmed: true})
			}
		}
	}
	return out, nil
}

// Save implements wallet.Store. A change set that cannot be applied leaves
// the stored state untouched.
func (s *MemoryStore) Save(_ context.Context, cs *wallet.ChangeSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failLeft > 0 {
		s.failLeft--
		return s.failErr
	}

	snap := s.snap
	if cs.Registry != nil {
		snap = &wallet.Snapshot{
			Owners:    append([]common.Address(nil), cs.Registry.Owners...),
			Threshold: cs.Registry.Threshold,
			Balance:   new(big.Int),
		}
		clear(s.confs)
	}
	if snap == nil {
		return errNotInitialised
	}

	next := len(snap.Transactions)
	for _, tx := range cs.Transactions {
		if tx.Index > next {
			return errIndexGap(tx.Index, next)
		}
		if tx.Index == next {
			next++
		}
	}

	if cs.Balance != nil {
		snap.Balance = new(big.Int).Set(cs.Balance)
	}
	for i := range cs.Transactions {
		tx := cs.Transactions[i].Clone()
		if tx.Index < len(snap.Transactions) {
			snap.Transactions[tx.Index] = tx
		} else {
			snap.Transactions = append(snap.Transactions, tx)
		}
	}
	for _, c := range cs.Confirmations {
		set := s.confs[c.Index]
		if set == nil {
			set = make(map[common.Address]struct{})
			s.confs[c.Index] = set
		}
		if c.Confirmed {
			set[c.Owner] = struct{}{}
		} else {
			delete(set, c.Owner)
		}
	}
	s.snap = snap
	s.saves++
	return nil
}
