package wallet

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Store persists wallet state. Save is called once per committed operation
// and must apply the whole change set atomically.
type Store interface {
	// Load returns the persisted state, or nil when the store is empty.
	Load(ctx context.Context) (*Snapshot, error)
	// Save applies a change set produced by one operation.
	Save(ctx context.Context, cs *ChangeSet) error
}

// Confirmation is one row of the confirmation relation.
type Confirmation struct {
	Index     int
	Owner     common.Address
	Confirmed bool
}

// Snapshot is the complete persisted state of a wallet.
type Snapshot struct {
	Owners        []common.Address
	Threshold     int
	Balance       *big.Int
	Transactions  []Transaction
	Confirmations []Confirmation // only confirmed records
}

// ChangeSet describes what one operation changed. Registry is set only for
// the very first save of a new wallet. Transactions holds the full current
// record of every inserted or updated transaction; Confirmations holds the
// current value of every touched record, where Confirmed=false means the
// row must be removed.
type ChangeSet struct {
	Registry      *Snapshot
	Balance       *big.Int
	Transactions  []Transaction
	Confirmations []Confirmation
}

// Empty reports whether the change set carries nothing to persist.
func (cs *ChangeSet) Empty() bool {
	return cs.Registry == nil && cs.Balance == nil &&
		len(cs.Transactions) == 0 && len(cs.Confirmations) == 0
}
