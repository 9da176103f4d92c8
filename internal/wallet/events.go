package wallet

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// EventKind names a wallet event.
type EventKind string

const (
	EventSubmitted EventKind = "submitted"
	EventConfirmed EventKind = "confirmed"
	EventRevoked   EventKind = "revoked"
	EventExecuted  EventKind = "executed"
	EventDeposited EventKind = "deposited"
)

// Event is emitted for every successful state change, in operation order.
// Index is -1 for events that are not tied to a transaction (deposits).
// To, Value and Data are set on submissions; Value and Balance on deposits.
type Event struct {
	Kind      EventKind       `json:"kind"`
	Caller    common.Address  `json:"caller"`
	Index     int             `json:"index"`
	To        *common.Address `json:"to,omitempty"`
	Value     *big.Int        `json:"value,omitempty"`
	Data      []byte          `json:"data,omitempty"`
	Balance   *big.Int        `json:"balance,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// EventSink receives committed events. Events arrive in the order the
// operations were applied, and only after they are durable.
type EventSink interface {
	HandleEvents(ctx context.Context, events []Event) error
}

// EventSinkFunc adapts a function to EventSink.
type EventSinkFunc func(ctx context.Context, events []Event) error

// HandleEvents implements EventSink.
func (f EventSinkFunc) HandleEvents(ctx context.Context, events []Event) error {
	return f(ctx, events)
}
