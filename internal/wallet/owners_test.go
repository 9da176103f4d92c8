package wallet_test

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jmerrifield20/MultiSigWallet/internal/wallet"
)

func addrs(n int) []common.Address {
	out := make([]common.Address, n)
	for i := range out {
		out[i] = common.BigToAddress(big.NewInt(int64(0xa0 + i)))
	}
	return out
}

func TestNewOwnerRegistry_valid(t *testing.T) {
	owners := addrs(6)
	r, err := wallet.NewOwnerRegistry(owners, 4)
	if err != nil {
		t.Fatal(err)
	}
	if r.Threshold() != 4 {
		t.Errorf("Threshold() = %d, want 4", r.Threshold())
	}
	got := r.Owners()
	if len(got) != len(owners) {
		t.Fatalf("Owners() returned %d owners, want %d", len(got), len(owners))
	}
	for i := range owners {
		if got[i] != owners[i] {
			t.Errorf("Owners()[%d] = %s, want %s", i, got[i].Hex(), owners[i].Hex())
		}
		if !r.IsOwner(owners[i]) {
			t.Errorf("IsOwner(%s) = false", owners[i].Hex())
		}
	}
	if r.IsOwner(common.HexToAddress("0xdead")) {
		t.Error("IsOwner reported a stranger as owner")
	}

	// The registry must not alias the caller's slice.
	owners[0] = common.HexToAddress("0xdead")
	if r.Owners()[0] == owners[0] {
		t.Error("registry aliases the input slice")
	}
}

func TestNewOwnerRegistry_invalid(t *testing.T) {
	six := addrs(6)
	tests := []struct {
		name      string
		owners    []common.Address
		threshold int
		want      error
	}{
		{"empty", nil, 1, wallet.ErrInvalidOwnerSet},
		{"zero address", []common.Address{six[0], {}}, 1, wallet.ErrInvalidOwnerSet},
		{"duplicate", []common.Address{six[0], six[1], six[2], six[2]}, 2, wallet.ErrInvalidOwnerSet},
		{"zero threshold", six, 0, wallet.ErrInvalidThreshold},
		{"negative threshold", six, -1, wallet.ErrInvalidThreshold},
		{"threshold above owners", six, 8, wallet.ErrInvalidThreshold},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := wallet.NewOwnerRegistry(tt.owners, tt.threshold)
			if !errors.Is(err, tt.want) {
				t.Errorf("got %v, want %v", err, tt.want)
			}
			if _, err := wallet.New(tt.owners, tt.threshold); !errors.Is(err, tt.want) {
				t.Errorf("New: got %v, want %v", err, tt.want)
			}
		})
	}
}

func TestNewOwnerRegistry_thresholdEqualsOwners(t *testing.T) {
	if _, err := wallet.NewOwnerRegistry(addrs(3), 3); err != nil {
		t.Errorf("3-of-3 should be valid: %v", err)
	}
}
