package wallet

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// State is the lifecycle position of a transaction. It is derived from the
// confirmation count and the executed flag and never stored.
type State string

const (
	StatePending  State = "pending"
	StateReady    State = "ready"
	StateExecuted State = "executed"
)

// Transaction is a proposed outgoing call tracked by a stable index.
type Transaction struct {
	Index            int
	To               common.Address
	Value            *big.Int
	Data             []byte
	NumConfirmations int
	Executed         bool
	SubmittedBy      common.Address
	SubmittedAt      time.Time
	ExecutedAt       *time.Time
}

// State reports the lifecycle state for the given confirmation threshold.
func (t Transaction) State(threshold int) State {
	switch {
	case t.Executed:
		return StateExecuted
	case t.NumConfirmations >= threshold:
		return StateReady
	default:
		return StatePending
	}
}

// Clone returns a deep copy so callers can never alias ledger memory.
func (t *Transaction) Clone() Transaction {
	cp := *t
	if t.Value != nil {
		cp.Value = new(big.Int).Set(t.Value)
	}
	if t.Data != nil {
		cp.Data = common.CopyBytes(t.Data)
	}
	if t.ExecutedAt != nil {
		at := *t.ExecutedAt
		cp.ExecutedAt = &at
	}
	return cp
}
