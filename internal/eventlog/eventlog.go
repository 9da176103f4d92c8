// Package eventlog keeps a tamper-evident, hash-chained record of committed
// wallet events.
//
// The chain begins with a well-known genesis entry whose Hash equals
// GenesisHash (64 hex zeros). Every subsequent entry records the hash of its
// predecessor and the SHA-256 of the event it describes, so any rewrite of
// history is detected by Verify.
package eventlog

import (
	"context"

	"github.com/jmerrifield20/MultiSigWallet/internal/wallet"
)

// Log is the append-only event chain. MemoryLog and PostgresLog implement it.
type Log interface {
	// Append chains a committed wallet event onto the log.
	Append(ctx context.Context, ev wallet.Event) (*Entry, error)

	// Get returns the entry at the given zero-based index.
	Get(ctx context.Context, index int) (*Entry, error)

	// Len returns the number of entries, genesis included.
	Len(ctx context.Context) (int, error)

	// List returns up to limit entries starting at offset.
	List(ctx context.Context, offset, limit int) ([]*Entry, error)

	// Verify walks the chain and returns nil if every link is intact.
	Verify(ctx context.Context) error

	// Root returns the hash of the most recent entry.
	Root(ctx context.Context) (string, error)
}

// Recorder returns an event sink that appends every delivered event to l.
func Recorder(l Log) wallet.EventSink {
	return wallet.EventSinkFunc(func(ctx context.Context, events []wallet.Event) error {
		for _, ev := range events {
			if _, err := l.Append(ctx, ev); err != nil {
				return err
			}
		}
		return nil
	})
}
