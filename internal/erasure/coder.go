// Package erasure implements the streaming (N,K) erasure coder over
// GF(2^m): a Cauchy generator projected to binary, driving encode/decode
// as XOR-sums of word-sized lanes. The code is not systematic: every
// shard is a coded combination of the data words, none carries them
// verbatim.
//
// The coder never holds a whole chunk in memory at once; it streams
// fixed-size "data blocks" from a reader to N writers (encode) or from K
// surviving-shard readers to one writer (decode). The final block of a
// stream is shorter than the others; its true length is recorded in a
// reserved trailer word so the decoder can trim the padding back off
// (see Encode's doc comment for the exact on-wire convention).
package erasure

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/quantarax/vaultmesh/internal/gf"
)

var (
	// ErrShardCount is returned when the number of readers/writers
	// passed to Encode/Decode doesn't match the coder's configuration.
	ErrShardCount = errors.New("erasure: wrong number of shard streams")

	// ErrExcludedCount is returned when the excluded-shard set passed to
	// Decode does not have exactly N-K members.
	ErrExcludedCount = errors.New("erasure: excluded set must have exactly N-K members")

	// ErrBlockTooLarge is returned at construction time when the
	// reserved trailer word (w bytes) cannot represent the per-block
	// payload capacity.
	ErrBlockTooLarge = errors.New("erasure: word width too narrow to hold this block's length trailer")
)

// WordWidth is the byte width of one coding "word" (a lane's unit of
// transfer). The spec allows 1, 4, or 8 byte words.
type WordWidth int

const (
	Word1 WordWidth = 1
	Word4 WordWidth = 4
	Word8 WordWidth = 8
)

func (w WordWidth) valid() bool { return w == Word1 || w == Word4 || w == Word8 }

// Coder holds the parameters and precomputed generator shared by Encode
// and Decode.
type Coder struct {
	N, K      int
	W         WordWidth
	field     *gf.Field
	generator *gf.Matrix

	lanesPerShard int // m
	dataBlockSize int // w*m*k, full block incl. trailer word
	codeBlockSize int // w*m*n
	payloadCap    int // (m*k - 1) * w, usable real bytes per block
}

// NewCoder constructs a Coder for the given shard counts and word width.
// N is the total shard count, K is the number required to recover a
// chunk (K <= N). m = ceil_log2(N+K) per spec.md §4.2.
func NewCoder(n, k int, w WordWidth) (*Coder, error) {
	if n < 1 || k < 1 || k > n {
		return nil, fmt.Errorf("erasure: invalid shard counts n=%d k=%d", n, k)
	}
	if !w.valid() {
		return nil, fmt.Errorf("erasure: invalid word width %d", w)
	}

	m := gf.CeilLog2Field(n + k)
	field, err := gf.NewField(m)
	if err != nil {
		return nil, fmt.Errorf("erasure: %w", err)
	}
	generator, err := gf.Cauchy(field, n, k)
	if err != nil {
		return nil, fmt.Errorf("erasure: %w", err)
	}

	lanesPerShard := m
	wordsPerBlock := m * k
	dataBlockSize := int(w) * wordsPerBlock
	codeBlockSize := int(w) * m * n
	payloadCap := (wordsPerBlock - 1) * int(w)
	if payloadCap <= 0 {
		return nil, fmt.Errorf("%w: n=%d k=%d w=%d yields no payload capacity", ErrBlockTooLarge, n, k, w)
	}
	maxTrailerValue := uint64(1)<<(8*uint(w)) - 1
	if uint64(payloadCap) > maxTrailerValue {
		return nil, fmt.Errorf("%w: payload capacity %d exceeds %d-byte trailer range", ErrBlockTooLarge, payloadCap, w)
	}

	return &Coder{
		N: n, K: k, W: w,
		field:         field,
		generator:     generator,
		lanesPerShard: lanesPerShard,
		dataBlockSize: dataBlockSize,
		codeBlockSize: codeBlockSize,
		payloadCap:    payloadCap,
	}, nil
}

// TotalEncodedSize returns the total bytes written across all N shard
// writers for a plaintext input of the given length — used as a progress
// denominator by the upload pipeline.
func (c *Coder) TotalEncodedSize(plainBytes int64) int64 {
	// Encode keeps reading until a block comes back short, so an input
	// that fills its last block exactly is followed by one more block
	// carrying a zero trailer.
	blocks := plainBytes/int64(c.payloadCap) + 1
	return blocks * int64(c.codeBlockSize)
}

// PerShardSize returns the number of bytes a single shard writer
// receives for a plaintext input of the given length.
func (c *Coder) PerShardSize(plainBytes int64) int64 {
	return c.TotalEncodedSize(plainBytes) / int64(c.N)
}

func encodeWordBE(w WordWidth, v uint64) []byte {
	buf := make([]byte, w)
	switch w {
	case Word1:
		buf[0] = byte(v)
	case Word4:
		binary.BigEndian.PutUint32(buf, uint32(v))
	case Word8:
		binary.BigEndian.PutUint64(buf, v)
	}
	return buf
}

func decodeWordBE(w WordWidth, buf []byte) uint64 {
	switch w {
	case Word1:
		return uint64(buf[0])
	case Word4:
		return uint64(binary.BigEndian.Uint32(buf))
	case Word8:
		return binary.BigEndian.Uint64(buf)
	}
	return 0
}

// Encode streams plaintext from src through the Cauchy code,
// writing one shard per element of dst (len(dst) must equal N). It
// returns the number of plaintext bytes consumed.
//
// Each data block holds (m*K - 1) words of real payload; the final word
// of every block is a trailer recording how many real payload bytes
// that block carried, so Decode can recognize and trim the terminal
// (possibly short, possibly empty) block without look-ahead. At least
// one block is always written, even for a zero-length input.
func (c *Coder) Encode(dst []io.Writer, src io.Reader) (int64, error) {
	if len(dst) != c.N {
		return 0, fmt.Errorf("%w: want %d writers, got %d", ErrShardCount, c.N, len(dst))
	}

	binGen := c.generator.ToBinary()
	wordsPerBlock := c.lanesPerShard * c.K
	inWords := make([]uint64, wordsPerBlock)

	var totalConsumed int64
	buf := make([]byte, c.payloadCap)

	for {
		n, readErr := io.ReadFull(src, buf)
		if readErr != nil && readErr != io.ErrUnexpectedEOF && readErr != io.EOF {
			return totalConsumed, fmt.Errorf("erasure: read source: %w", readErr)
		}
		totalConsumed += int64(n)

		// Decode the payload bytes into words, zero-padding the rest.
		padded := make([]byte, c.payloadCap)
		copy(padded, buf[:n])
		for i := 0; i < wordsPerBlock-1; i++ {
			start := i * int(c.W)
			inWords[i] = decodeWordBE(c.W, padded[start:start+int(c.W)])
		}
		inWords[wordsPerBlock-1] = uint64(n) // trailer word

		for lane := 0; lane < c.lanesPerShard*c.N; lane++ {
			var acc uint64
			for _, in := range binGen.Lanes(lane) {
				acc ^= inWords[in]
			}
			wordBytes := encodeWordBE(c.W, acc)
			shardIdx := lane / c.lanesPerShard
			if _, err := dst[shardIdx].Write(wordBytes); err != nil {
				return totalConsumed, fmt.Errorf("erasure: write shard %d: %w", shardIdx, err)
			}
		}

		if n < c.payloadCap {
			return totalConsumed, nil
		}
	}
}

// Decode streams the code block words from exactly K surviving shard
// readers back into dst, given the full set of excluded shard indices
// (which must have exactly N-K members). src must be ordered by shard
// index ascending over the *surviving* shards, i.e. src[i] corresponds
// to the i-th index not present in excluded.
func (c *Coder) Decode(dst io.Writer, src []io.Reader, excluded map[int]bool) (int64, error) {
	if len(src) != c.K {
		return 0, fmt.Errorf("%w: want %d readers, got %d", ErrShardCount, c.K, len(src))
	}
	if len(excluded) != c.N-c.K {
		return 0, fmt.Errorf("%w: want %d, got %d", ErrExcludedCount, c.N-c.K, len(excluded))
	}

	survivors := make([]int, 0, c.K)
	for i := 0; i < c.N; i++ {
		if !excluded[i] {
			survivors = append(survivors, i)
		}
	}
	if len(survivors) != c.K {
		return 0, fmt.Errorf("erasure: excluded set leaves %d survivors, want %d", len(survivors), c.K)
	}

	allCols := make([]int, c.K)
	for i := range allCols {
		allCols[i] = i
	}
	sub := c.generator.Submatrix(survivors, allCols)
	inv, err := sub.Invert()
	if err != nil {
		return 0, fmt.Errorf("erasure: decode matrix: %w", err)
	}
	decGen := inv.ToBinary()

	wordsPerBlock := c.lanesPerShard * c.K
	inWords := make([]uint64, wordsPerBlock)
	wordBuf := make([]byte, c.W)

	var totalWritten int64
	for {
		eof := false
		for readerIdx, r := range src {
			for lane := 0; lane < c.lanesPerShard; lane++ {
				_, err := io.ReadFull(r, wordBuf)
				if err != nil {
					if err == io.EOF && readerIdx == 0 && lane == 0 {
						eof = true
						break
					}
					return totalWritten, fmt.Errorf("erasure: read shard %d: %w", readerIdx, err)
				}
				globalLane := readerIdx*c.lanesPerShard + lane
				inWords[globalLane] = decodeWordBE(c.W, wordBuf)
			}
			if eof {
				break
			}
		}
		if eof {
			return totalWritten, nil
		}

		outWords := make([]uint64, wordsPerBlock)
		for row := 0; row < wordsPerBlock; row++ {
			var acc uint64
			for _, in := range decGen.Lanes(row) {
				acc ^= inWords[in]
			}
			outWords[row] = acc
		}

		trailer := outWords[wordsPerBlock-1]
		payload := make([]byte, (wordsPerBlock-1)*int(c.W))
		for i := 0; i < wordsPerBlock-1; i++ {
			copy(payload[i*int(c.W):(i+1)*int(c.W)], encodeWordBE(c.W, outWords[i]))
		}

		if int(trailer) > c.payloadCap {
			return totalWritten, fmt.Errorf("erasure: corrupt trailer %d exceeds payload capacity %d", trailer, c.payloadCap)
		}

		if int(trailer) < c.payloadCap {
			if _, err := dst.Write(payload[:trailer]); err != nil {
				return totalWritten, fmt.Errorf("erasure: write output: %w", err)
			}
			totalWritten += int64(trailer)
			return totalWritten, nil
		}

		if _, err := dst.Write(payload); err != nil {
			return totalWritten, fmt.Errorf("erasure: write output: %w", err)
		}
		totalWritten += int64(len(payload))
	}
}
