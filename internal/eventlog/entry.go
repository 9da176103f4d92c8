package eventlog

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmerrifield20/MultiSigWallet/internal/wallet"
)

// GenesisHash is the hash of the genesis entry and the anchor of the chain.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// genesisKind and systemActor label the genesis entry.
const (
	genesisKind = "genesis"
	systemActor = "wallet-system"
)

// ErrEntryNotFound is returned by Get for an index outside the chain.
var ErrEntryNotFound = errors.New("event log entry not found")

// Entry is a single record in the event log.
type Entry struct {
	Index     int       `json:"index"`
	Timestamp time.Time `json:"timestamp"`
	Kind      string    `json:"kind"`     // submitted, confirmed, revoked, executed, deposited, genesis
	Actor     string    `json:"actor"`    // hex address of the acting account
	TxIndex   int       `json:"tx_index"` // -1 when not tied to a transaction
	DataHash  string    `json:"data_hash"`
	PrevHash  string    `json:"prev_hash"`
	Hash      string    `json:"hash"`
}

func genesisEntry() *Entry {
	return &Entry{
		Index:     0,
		Timestamp: time.Now().UTC(),
		Kind:      genesisKind,
		Actor:     systemActor,
		TxIndex:   -1,
		DataHash:  GenesisHash,
		PrevHash:  GenesisHash,
		Hash:      GenesisHash,
	}
}

// newEntry builds the entry that follows prev for ev.
func newEntry(prev *Entry, ev wallet.Event) (*Entry, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}
	ts := ev.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	e := &Entry{
		Index:     prev.Index + 1,
		Timestamp: ts.UTC(),
		Kind:      string(ev.Kind),
		Actor:     ev.Caller.Hex(),
		TxIndex:   ev.Index,
		DataHash:  sha256Sum(payload),
		PrevHash:  prev.Hash,
	}
	e.Hash = hashEntry(e)
	return e, nil
}

// hashEntry computes the SHA-256 over an entry's fields. It is never applied
// to the genesis entry.
func hashEntry(e *Entry) string {
	h := sha256.New()
	fmt.Fprintf(h, "%d|%s|%s|%s|%d|%s|%s",
		e.Index, e.Timestamp.Format(time.RFC3339Nano),
		e.Kind, e.Actor, e.TxIndex, e.DataHash, e.PrevHash,
	)
	return hex.EncodeToString(h.Sum(nil))
}

func sha256Sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// verifyLink checks curr against its predecessor. prev is nil for genesis.
func verifyLink(prev, curr *Entry) error {
	if prev == nil {
		if curr.Hash != GenesisHash {
			return fmt.Errorf("genesis entry has wrong hash: got %q", curr.Hash)
		}
		return nil
	}
	if curr.PrevHash != prev.Hash {
		return fmt.Errorf("hash chain broken at index %d", curr.Index)
	}
	if curr.Hash != hashEntry(curr) {
		return fmt.Errorf("entry %d has invalid hash", curr.Index)
	}
	return nil
}
