// Package chunkformat defines the fixed-size chunk header and the
// reverse-linked chain it forms across a file's chunks (spec.md §4.3).
package chunkformat

import (
	"errors"
	"fmt"
)

const (
	digestSize = 32
	tagSize    = 16
	nonceSize  = 12
	keySize    = 32

	// HeaderSize is the on-wire size of a Header: current_chunk_digest
	// (32) + full_file_digest (32) + next.chunk_blob_digest (32) +
	// next.encryption{tag(16), nonce(12), key(32)}.
	HeaderSize = digestSize + digestSize + digestSize + tagSize + nonceSize + keySize
)

// ErrShortHeader is returned by FromBytes when the input is smaller than
// HeaderSize.
var ErrShortHeader = errors.New("chunkformat: buffer shorter than header size")

// Encryption carries the AEAD material needed to open the next chunk's
// encrypted blob: its authentication tag, nonce, and key.
type Encryption struct {
	Tag   [tagSize]byte
	Nonce [nonceSize]byte
	Key   [keySize]byte
}

// NextChunk names the next chunk in the chain and the material needed to
// decrypt it. All-zero for the terminal chunk.
type NextChunk struct {
	ChunkBlobDigest [digestSize]byte
	Encryption      Encryption
}

// Header is placed in front of each chunk's plaintext payload before
// AEAD encryption. Field order matches spec.md §3 with no padding.
type Header struct {
	CurrentChunkDigest [digestSize]byte
	FullFileDigest     [digestSize]byte // nonzero only in chunk 0
	Next               NextChunk        // zero for the terminal chunk
}

// ToBytes serializes the header into its fixed HeaderSize encoding.
func (h *Header) ToBytes() []byte {
	buf := make([]byte, HeaderSize)
	off := 0
	off += copy(buf[off:], h.CurrentChunkDigest[:])
	off += copy(buf[off:], h.FullFileDigest[:])
	off += copy(buf[off:], h.Next.ChunkBlobDigest[:])
	off += copy(buf[off:], h.Next.Encryption.Tag[:])
	off += copy(buf[off:], h.Next.Encryption.Nonce[:])
	off += copy(buf[off:], h.Next.Encryption.Key[:])
	return buf
}

// FromBytes parses a Header from its fixed-size wire encoding.
func FromBytes(buf []byte) (*Header, error) {
	if len(buf) < HeaderSize {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", ErrShortHeader, len(buf), HeaderSize)
	}
	h := &Header{}
	off := 0
	off += copy(h.CurrentChunkDigest[:], buf[off:off+digestSize])
	off += copy(h.FullFileDigest[:], buf[off:off+digestSize])
	off += copy(h.Next.ChunkBlobDigest[:], buf[off:off+digestSize])
	off += copy(h.Next.Encryption.Tag[:], buf[off:off+tagSize])
	off += copy(h.Next.Encryption.Nonce[:], buf[off:off+nonceSize])
	off += copy(h.Next.Encryption.Key[:], buf[off:off+keySize])
	return h, nil
}

// IsTerminal reports whether this header's Next.ChunkBlobDigest is all
// zero, the sentinel written for the last chunk in a file. The
// Next.Encryption fields are not examined.
func (h *Header) IsTerminal() bool {
	return h.Next.ChunkBlobDigest == [digestSize]byte{}
}

// CountForSize returns ceil(size/chunkSize), with a floor of 1 (spec.md
// §3: "at least 1").
func CountForSize(size int64, chunkSize int64) int64 {
	if chunkSize <= 0 {
		panic("chunkformat: chunkSize must be positive")
	}
	count := size / chunkSize
	if size%chunkSize != 0 {
		count++
	}
	if count < 1 {
		count = 1
	}
	return count
}

// StartOffset returns the byte offset of chunk i within the source file.
func StartOffset(i int64, chunkSize int64) int64 { return i * chunkSize }
