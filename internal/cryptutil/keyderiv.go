package cryptutil

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// keyDerivationInfo is the HKDF domain-separation string for deriving a
// file's AEAD key from a caller-supplied passphrase-derived secret.
// This is outside the coder's required key path (every header carries
// the key for the next chunk); it exists for callers that want a single
// root secret to supply the file's key instead of generating one at
// random.
const keyDerivationInfo = "vaultmesh-v1-chunk-key"

// DeriveRootKey expands a root secret (e.g. the output of a passphrase
// KDF run by the caller) into the 32-byte AES-256 key used to seal every
// chunk of a file. salt should be unique per file — the full file
// digest is a convenient choice once it is known.
func DeriveRootKey(secret, salt []byte) ([KeySize]byte, error) {
	var key [KeySize]byte
	r := hkdf.New(sha256.New, secret, salt, []byte(keyDerivationInfo))
	if _, err := io.ReadFull(r, key[:]); err != nil {
		return key, fmt.Errorf("cryptutil: derive root key: %w", err)
	}
	return key, nil
}
