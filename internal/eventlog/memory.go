package eventlog

import (
	"context"
	"fmt"
	"sync"

	"github.com/jmerrifield20/MultiSigWallet/internal/wallet"
)

// MemoryLog is an in-memory, thread-safe Log.
type MemoryLog struct {
	mu      sync.RWMutex
	entries []*Entry
}

// NewMemoryLog creates a MemoryLog holding only the genesis entry.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{entries: []*Entry{genesisEntry()}}
}

// Append implements Log.
func (l *MemoryLog) Append(_ context.Context, ev wallet.Event) (*Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, err := newEntry(l.entries[len(l.entries)-1], ev)
	if err != nil {
		return nil, err
	}
	l.entries = append(l.entries, entry)
	cp := *entry
	return &cp, nil
}

// Get implements Log.
func (l *MemoryLog) Get(_ context.Context, index int) (*Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if index < 0 || index >= len(l.entries) {
		return nil, fmt.Errorf("%w: index %d", ErrEntryNotFound, index)
	}
	cp := *l.entries[index]
	return &cp, nil
}

// Len implements Log.
func (l *MemoryLog) Len(_ context.Context) (int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries), nil
}

// List implements Log.
func (l *MemoryLog) List(_ context.Context, offset, limit int) ([]*Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if offset < 0 {
		offset = 0
	}
	if offset >= len(l.entries) || limit <= 0 {
		return []*Entry{}, nil
	}
	end := min(offset+limit, len(l.entries))
	out := make([]*Entry, 0, end-offset)
	for _, e := range l.entries[offset:end] {
		cp := *e
		out = append(out, &cp)
	}
	return out, nil
}

// Verify implements Log.
func (l *MemoryLog) Verify(_ context.Context) error {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var prev *Entry
	for _, curr := range l.entries {
		if err := verifyLink(prev, curr); err != nil {
			return err
		}
		prev = curr
	}
	return nil
}

// Root implements Log.
func (l *MemoryLog) Root(_ context.Context) (string, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.entries[len(l.entries)-1].Hash, nil
}
