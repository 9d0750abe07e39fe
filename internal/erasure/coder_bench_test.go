package erasure

import (
	"bytes"
	"crypto/rand"
	"io"
	"testing"
)

func BenchmarkEncode1MiB(b *testing.B) {
	c, err := NewCoder(5, 3, Word8)
	if err != nil {
		b.Fatalf("NewCoder: %v", err)
	}
	data := make([]byte, 1<<20)
	if _, err := rand.Read(data); err != nil {
		b.Fatalf("rand.Read: %v", err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		writers := make([]io.Writer, c.N)
		for j := range writers {
			writers[j] = io.Discard
		}
		if _, err := c.Encode(writers, bytes.NewReader(data)); err != nil {
			b.Fatalf("Encode: %v", err)
		}
	}
}

func BenchmarkDecode1MiB(b *testing.B) {
	c, err := NewCoder(5, 3, Word8)
	if err != nil {
		b.Fatalf("NewCoder: %v", err)
	}
	data := make([]byte, 1<<20)
	if _, err := rand.Read(data); err != nil {
		b.Fatalf("rand.Read: %v", err)
	}
	writers := make([]io.Writer, c.N)
	buffers := make([]*bytes.Buffer, c.N)
	for j := range writers {
		buffers[j] = &bytes.Buffer{}
		writers[j] = buffers[j]
	}
	if _, err := c.Encode(writers, bytes.NewReader(data)); err != nil {
		b.Fatalf("Encode: %v", err)
	}
	excluded := map[int]bool{0: true, 3: true}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		readers := make([]io.Reader, 0, c.K)
		for j, buf := range buffers {
			if !excluded[j] {
				readers = append(readers, bytes.NewReader(buf.Bytes()))
			}
		}
		if _, err := c.Decode(io.Discard, readers, excluded); err != nil {
			b.Fatalf("Decode: %v", err)
		}
	}
}
