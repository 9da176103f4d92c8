package wallet

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Caller performs the external call of an executed transaction. It is
// untrusted: it may fail, and it may call back into the wallet using the
// context it was given.
type Caller interface {
	Call(ctx context.Context, to common.Address, value *big.Int, data []byte) error
}

// CallerFunc adapts a function to Caller.
type CallerFunc func(ctx context.Context, to common.Address, value *big.Int, data []byte) error

// Call implements Caller.
func (f CallerFunc) Call(ctx context.Context, to common.Address, value *big.Int, data []byte) error {
	return f(ctx, to, value, data)
}

// acceptAll is the default caller: every call is a successful plain transfer.
var acceptAll = CallerFunc(func(context.Context, common.Address, *big.Int, []byte) error {
	return nil
})
