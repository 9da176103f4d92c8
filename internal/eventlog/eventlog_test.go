package eventlog_test

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/jmerrifield20/MultiSigWallet/internal/eventlog"
	"github.com/jmerrifield20/MultiSigWallet/internal/wallet"
)

var ctx = context.Background()

var owner = common.HexToAddress("0x00000000000000000000000000000000000000a1")

func submitted(idx int) wallet.Event {
	to := common.HexToAddress("0x00000000000000000000000000000000000000f0")
	return wallet.Event{
		Kind:      wallet.EventSubmitted,
		Caller:    owner,
		Index:     idx,
		To:        &to,
		Value:     big.NewInt(1),
		Timestamp: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func TestNewMemoryLog_genesisEntry(t *testing.T) {
	l := eventlog.NewMemoryLog()

	n, err := l.Len(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("expected 1 genesis entry, got %d", n)
	}

	entry, err := l.Get(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if entry.Kind != "genesis" || entry.TxIndex != -1 {
		t.Errorf("unexpected genesis entry: %+v", entry)
	}
	if entry.Hash != eventlog.GenesisHash {
		t.Errorf("genesis hash: got %q, want GenesisHash", entry.Hash)
	}
}

func TestAppend_chainsCorrectly(t *testing.T) {
	l := eventlog.NewMemoryLog()

	e1, err := l.Append(ctx, submitted(0))
	if err != nil {
		t.Fatal(err)
	}
	e2, err := l.Append(ctx, wallet.Event{Kind: wallet.EventConfirmed, Caller: owner, Index: 0})
	if err != nil {
		t.Fatal(err)
	}

	if e1.PrevHash != eventlog.GenesisHash {
		t.Errorf("first entry should chain from genesis, got %q", e1.PrevHash)
	}
	if e2.PrevHash != e1.Hash {
		t.Errorf("chain broken: e2.PrevHash=%q, want e1.Hash=%q", e2.PrevHash, e1.Hash)
	}
	if e1.Kind != "submitted" || e1.Actor != owner.Hex() || e1.TxIndex != 0 {
		t.Errorf("unexpected entry fields: %+v", e1)
	}
	if !e1.Timestamp.Equal(submitted(0).Timestamp) {
		t.Errorf("entry timestamp %s should come from the event", e1.Timestamp)
	}
	if n, _ := l.Len(ctx); n != 3 {
		t.Errorf("expected 3 entries, got %d", n)
	}
}

func TestAppend_dataHashCoversPayload(t *testing.T) {
	a, b := eventlog.NewMemoryLog(), eventlog.NewMemoryLog()
	ev := submitted(0)
	ea, _ := a.Append(ctx, ev)
	ev.Value = big.NewInt(2)
	eb, _ := b.Append(ctx, ev)
	if ea.DataHash == eb.DataHash {
		t.Error("different event values produced the same data hash")
	}
}

func TestVerify_valid(t *testing.T) {
	l := eventlog.NewMemoryLog()
	_, _ = l.Append(ctx, submitted(0))
	_, _ = l.Append(ctx, submitted(1))

	if err := l.Verify(ctx); err != nil {
		t.Errorf("Verify() failed on valid chain: %v", err)
	}
}

func TestVerify_genesisOnlyChain(t *testing.T) {
	if err := eventlog.NewMemoryLog().Verify(ctx); err != nil {
		t.Errorf("Verify() on genesis-only chain should pass: %v", err)
	}
}

func TestRoot_returnsLastHash(t *testing.T) {
	l := eventlog.NewMemoryLog()
	root, _ := l.Root(ctx)
	if root != eventlog.GenesisHash {
		t.Errorf("Root() on genesis-only: got %q, want GenesisHash", root)
	}

	e, _ := l.Append(ctx, submitted(0))
	root, err := l.Root(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if root != e.Hash {
		t.Errorf("Root(): got %q, want %q", root, e.Hash)
	}
}

func TestGet_outOfRange(t *testing.T) {
	l := eventlog.NewMemoryLog()
	if _, err := l.Get(ctx, 1); !errors.Is(err, eventlog.ErrEntryNotFound) {
		t.Errorf("got %v, want ErrEntryNotFound", err)
	}
}

func TestList_pages(t *testing.T) {
	l := eventlog.NewMemoryLog()
	for i := 0; i < 4; i++ {
		_, _ = l.Append(ctx, submitted(i))
	}

	page, err := l.List(ctx, 1, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 2 || page[0].Index != 1 || page[1].Index != 2 {
		t.Errorf("List(1, 2) = %+v", page)
	}
	if tail, _ := l.List(ctx, 4, 10); len(tail) != 1 || tail[0].Index != 4 {
		t.Errorf("List(4, 10) = %+v", tail)
	}
	if none, _ := l.List(ctx, 9, 10); len(none) != 0 {
		t.Errorf("List past the end returned %d entries", len(none))
	}
}

func TestRecorder_appendsCommittedEvents(t *testing.T) {
	l := eventlog.NewMemoryLog()
	owners := []common.Address{owner, common.HexToAddress("0x00000000000000000000000000000000000000a2")}
	w, err := wallet.New(owners, 1, wallet.WithSink(eventlog.Recorder(l)))
	if err != nil {
		t.Fatal(err)
	}

	idx, err := w.Submit(ctx, owner, owners[1], nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Confirm(ctx, owners[1], idx); err != nil {
		t.Fatal(err)
	}
	_ = w.Confirm(ctx, owners[1], idx) // rejected, not recorded
	if err := w.Execute(ctx, owner, idx); err != nil {
		t.Fatal(err)
	}

	entries, _ := l.List(ctx, 1, 10)
	want := []string{"submitted", "confirmed", "executed"}
	if len(entries) != len(want) {
		t.Fatalf("recorded %d entries, want %d", len(entries), len(want))
	}
	for i, k := range want {
		if entries[i].Kind != k {
			t.Errorf("entry %d kind = %q, want %q", i+1, entries[i].Kind, k)
		}
	}
	if entries[1].Actor != owners[1].Hex() {
		t.Errorf("confirm actor = %s", entries[1].Actor)
	}
	if err := l.Verify(ctx); err != nil {
		t.Errorf("Verify(): %v", err)
	}
}
