package cryptutil

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"sync/atomic"
)

// NonceGenerator produces 12-byte AES-GCM nonces as a 64-bit
// monotonically increasing counter (wrapping on overflow) concatenated
// with 4 random bytes (spec.md §4.5). Wrap-around is permitted by
// design: uniqueness within a key's lifetime comes from the random
// suffix, not from the counter never repeating.
//
// Safe for concurrent use.
type NonceGenerator struct {
	counter atomic.Uint64
}

// NewNonceGenerator returns a generator whose counter starts at 0.
func NewNonceGenerator() *NonceGenerator {
	return &NonceGenerator{}
}

// Next returns the next nonce in the sequence.
func (g *NonceGenerator) Next() ([NonceSize]byte, error) {
	var nonce [NonceSize]byte
	counter := g.counter.Add(1) - 1
	binary.BigEndian.PutUint64(nonce[:8], counter)
	if _, err := rand.Read(nonce[8:]); err != nil {
		return nonce, fmt.Errorf("cryptutil: read random nonce suffix: %w", err)
	}
	return nonce, nil
}
