package wallet

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// OwnerRegistry is the immutable set of principals allowed to act on the
// wallet, together with the number of confirmations a transaction needs.
type OwnerRegistry struct {
	owners    []common.Address
	index     map[common.Address]int
	threshold int
}

// NewOwnerRegistry validates owners and threshold and returns the registry.
// Owner order is preserved for enumeration.
func NewOwnerRegistry(owners []common.Address, threshold int) (*OwnerRegistry, error) {
	if len(owners) == 0 {
		return nil, fmt.Errorf("%w: owners required", ErrInvalidOwnerSet)
	}

	index := make(map[common.Address]int, len(owners))
	for i, o := range owners {
		if o == (common.Address{}) {
			return nil, fmt.Errorf("%w: owner %d is the zero address", ErrInvalidOwnerSet, i)
		}
		if _, dup := index[o]; dup {
			return nil, fmt.Errorf("%w: owner %s listed twice", ErrInvalidOwnerSet, o.Hex())
		}
		index[o] = i
	}

	if threshold <= 0 || threshold > len(owners) {
		return nil, fmt.Errorf("%w: %d of %d owners", ErrInvalidThreshold, threshold, len(owners))
	}

	cp := make([]common.Address, len(owners))
	copy(cp, owners)
	return &OwnerRegistry{owners: cp, index: index, threshold: threshold}, nil
}

// IsOwner reports whether addr is a registered owner.
func (r *OwnerRegistry) IsOwner(addr common.Address) bool {
	_, ok := r.index[addr]
	return ok
}

// Owners returns a copy of the owner list in registration order.
func (r *OwnerRegistry) Owners() []common.Address {
	cp := make([]common.Address, len(r.owners))
	copy(cp, r.owners)
	return cp
}

// Threshold returns the number of confirmations required to execute.
func (r *OwnerRegistry) Threshold() int { return r.threshold }

// position returns the registration order of an owner, used to list
// confirmations deterministically.
func (r *OwnerRegistry) position(addr common.Address) int {
	if i, ok := r.index[addr]; ok {
		return i
	}
	return -1
}

// equal reports whether both registries hold the same owners in the same
// order with the same threshold.
func (r *OwnerRegistry) equal(owners []common.Address, threshold int) bool {
	if r.threshold != threshold || len(r.owners) != len(owners) {
		return false
	}
	for i := range owners {
		if r.owners[i] != owners[i] {
			return false
		}
	}
	return true
}
