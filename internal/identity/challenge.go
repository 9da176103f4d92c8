package identity

import (
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	// ErrNoChallenge is returned when the owner has no live challenge.
	ErrNoChallenge = errors.New("no pending challenge")
	// ErrBadSignature is returned when a signature does not recover to the
	// challenged owner.
	ErrBadSignature = errors.New("signature does not match owner")
)

// Challenge is a one-time message an owner signs to obtain a token.
type Challenge struct {
	Owner     common.Address `json:"owner"`
	Message   string         `json:"message"`
	ExpiresAt time.Time      `json:"expires_at"`
}

func (c *Challenge) expired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}

// ChallengeStore keeps at most one live challenge per owner. Challenges
// expire after the configured TTL and are consumed by a successful Redeem.
type ChallengeStore struct {
	mu      sync.Mutex
	entries map[common.Address]*Challenge
	ttl     time.Duration
	now     func() time.Time
}

// NewChallengeStore creates a ChallengeStore. ttl defaults to five minutes.
func NewChallengeStore(ttl time.Duration) *ChallengeStore {
	if ttl == 0 {
		ttl = 5 * time.Minute
	}
	return &ChallengeStore{
		entries: make(map[common.Address]*Challenge),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Issue creates a fresh challenge for owner, replacing any earlier one.
func (s *ChallengeStore) Issue(owner common.Address) (Challenge, error) {
	nonce := make([]byte, 16)
	if _, err := rand.Read(nonce); err != nil {
		return Challenge{}, fmt.Errorf("generate nonce: %w", err)
	}
	now := s.now().UTC()
	c := &Challenge{
		Owner:     owner,
		Message:   fmt.Sprintf("msig login %s nonce %s", owner.Hex(), hex.EncodeToString(nonce)),
		ExpiresAt: now.Add(s.ttl),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[owner] = c
	return *c, nil
}

// Redeem verifies sig as owner's personal-sign signature over the pending
// challenge and consumes the challenge.
func (s *ChallengeStore) Redeem(owner common.Address, sig string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.entries[owner]
	if !ok || c.expired(s.now()) {
		delete(s.entries, owner)
		return ErrNoChallenge
	}

	signer, err := RecoverSigner(c.Message, sig)
	if err != nil {
		return err
	}
	if signer != owner {
		return ErrBadSignature
	}
	delete(s.entries, owner)
	return nil
}

// Evict removes all expired challenges and returns how many were removed.
func (s *ChallengeStore) Evict() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	n := 0
	for k, c := range s.entries {
		if c.expired(now) {
			delete(s.entries, k)
			n++
		}
	}
	return n
}

// Len returns the number of stored challenges, expired ones included.
func (s *ChallengeStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// SignMessage produces a 65-byte personal-sign signature over message, with
// V in {27, 28}.
func SignMessage(message string, key *ecdsa.PrivateKey) (string, error) {
	sig, err := crypto.Sign(accounts.TextHash([]byte(message)), key)
	if err != nil {
		return "", fmt.Errorf("sign message: %w", err)
	}
	sig[crypto.RecoveryIDOffset] += 27
	return hexutil.Encode(sig), nil
}

// RecoverSigner returns the address whose key produced the personal-sign
// signature sig over message. V may be either 0/1 or 27/28.
func RecoverSigner(message, sig string) (common.Address, error) {
	raw, err := hexutil.Decode(sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	if len(raw) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("%w: signature must be %d bytes", ErrBadSignature, crypto.SignatureLength)
	}
	if raw[crypto.RecoveryIDOffset] >= 27 {
		raw[crypto.RecoveryIDOffset] -= 27
	}
	pub, err := crypto.SigToPub(accounts.TextHash([]byte(message)), raw)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}
