package client

import (
	"crypto/ecdsa"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// LoadKey reads a hex-encoded secp256k1 owner key from path.
func LoadKey(path string) (*ecdsa.PrivateKey, error) {
	key, err := crypto.LoadECDSA(path)
	if err != nil {
		return nil, fmt.Errorf("load owner key %q: %w", path, err)
	}
	return key, nil
}

// GenerateKey creates a new owner key, writes it to path with mode 0600 and
// returns its address. An existing file is never overwritten.
func GenerateKey(path string) (common.Address, error) {
	if _, err := os.Stat(path); err == nil {
		return common.Address{}, fmt.Errorf("key file %q already exists", path)
	}
	key, err := crypto.GenerateKey()
	if err != nil {
		return common.Address{}, fmt.Errorf("generate key: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return common.Address{}, fmt.Errorf("create key dir: %w", err)
	}
	if err := crypto.SaveECDSA(path, key); err != nil {
		return common.Address{}, fmt.Errorf("save key: %w", err)
	}
	return crypto.PubkeyToAddress(key.PublicKey), nil
}
