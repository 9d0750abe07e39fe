// Package cryptutil wraps AES-256-GCM chunk encryption and the nonce and
// key material that travel with it through the header chain (spec.md
// §3, §4.5).
package cryptutil

import (
	"crypto/aes"
	"crypto/cipher"
	"errors"
	"fmt"
)

const (
	KeySize   = 32
	NonceSize = 12
	TagSize   = 16
)

var (
	// ErrInvalidKeySize is returned when a key is not KeySize bytes.
	ErrInvalidKeySize = errors.New("cryptutil: key must be exactly 32 bytes for AES-256")

	// ErrInvalidNonceSize reports a nonce that is not NonceSize bytes.
	// Nonces in this package are fixed-size arrays, so no function here
	// returns it.
	ErrInvalidNonceSize = errors.New("cryptutil: nonce must be exactly 12 bytes for GCM")

	// ErrInvalidTagSize is returned when a detached tag is not TagSize
	// bytes.
	ErrInvalidTagSize = errors.New("cryptutil: tag must be exactly 16 bytes for GCM")

	// ErrAuthenticationFailed is returned by Open when the GCM tag fails
	// to verify; no plaintext is returned in this case.
	ErrAuthenticationFailed = errors.New("cryptutil: authentication failed, ciphertext may have been tampered with")
)

// Seal encrypts and authenticates plaintext with AES-256-GCM. The chunk
// format uses empty associated data (spec.md §3: "not
// associated-data-protected").
func Seal(key [KeySize]byte, nonce [NonceSize]byte, plaintext []byte) ([]byte, error) {
	gcm, err := newGCM(key[:])
	if err != nil {
		return nil, err
	}
	return gcm.Seal(nil, nonce[:], plaintext, nil), nil
}

// Open decrypts and verifies ciphertext produced by Seal with the same
// key and nonce. It never returns partial plaintext on authentication
// failure.
func Open(key [KeySize]byte, nonce [NonceSize]byte, ciphertext []byte) ([]byte, error) {
	gcm, err := newGCM(key[:])
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < TagSize {
		return nil, fmt.Errorf("cryptutil: ciphertext too short: %d bytes", len(ciphertext))
	}
	plaintext, err := gcm.Open(nil, nonce[:], ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuthenticationFailed, err)
	}
	return plaintext, nil
}

// SealDetached encrypts plaintext with AES-256-GCM and returns the
// ciphertext and authentication tag as separate slices, each fixed-size
// (len(ciphertext) == len(plaintext), len(tag) == TagSize). The chunk
// format stores the two separately — the ciphertext as the uploaded
// blob, the tag inside the header chain (spec.md §3: "EncryptedChunkBlob
// ... same length" as header‖payload) — so this splits what GCM.Seal
// normally returns concatenated.
func SealDetached(key [KeySize]byte, nonce [NonceSize]byte, plaintext []byte) (ciphertext, tag []byte, err error) {
	gcm, err := newGCM(key[:])
	if err != nil {
		return nil, nil, err
	}
	sealed := gcm.Seal(nil, nonce[:], plaintext, nil)
	split := len(sealed) - TagSize
	return sealed[:split], sealed[split:], nil
}

// OpenDetached reverses SealDetached, reassembling ciphertext and tag
// before verifying and decrypting.
func OpenDetached(key [KeySize]byte, nonce [NonceSize]byte, ciphertext, tag []byte) ([]byte, error) {
	if len(tag) != TagSize {
		return nil, fmt.Errorf("%w: got %d bytes", ErrInvalidTagSize, len(tag))
	}
	gcm, err := newGCM(key[:])
	if err != nil {
		return nil, err
	}
	sealed := make([]byte, 0, len(ciphertext)+len(tag))
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)
	plaintext, err := gcm.Open(nil, nonce[:], sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuthenticationFailed, err)
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: got %d bytes", ErrInvalidKeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("cryptutil: new AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("cryptutil: new GCM: %w", err)
	}
	return gcm, nil
}
