// Package bucket defines the bucket-set abstraction the pipelines
// consume: given a chunk name, produce one URI per configured bucket
// (spec.md §6, "Bucket set (consumed)").
package bucket

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
)

// ErrBucketCount reports a Set whose configured bucket count doesn't
// match what a caller expects. No function in this package returns it.
var ErrBucketCount = errors.New("bucket: configured bucket count mismatch")

// Set maps a chunk name to N URIs, one per bucket, and knows how many
// shards are required to reconstruct a chunk (K).
type Set interface {
	// N is the total number of buckets (shards per chunk).
	N() int
	// K is the number of shards required to recover a chunk.
	K() int
	// URIs returns one URI per bucket for the given chunk name, ordered
	// by bucket index.
	URIs(chunkName [32]byte) []string
}

// ChunkKey renders a chunk name as the lowercase hex object key used
// under every bucket (spec.md §6: "object key is hex(chunk_name)").
func ChunkKey(chunkName [32]byte) string {
	return hex.EncodeToString(chunkName[:])
}

// Transport is the HTTP-shaped client the pipelines use to move shard
// bytes to and from bucket URIs. Streaming in both directions: Put reads
// the shard from body until EOF, Get returns a stream the caller must
// close.
type Transport interface {
	Put(ctx context.Context, uri string, body io.Reader) error
	Get(ctx context.Context, uri string) (io.ReadCloser, error)
}

// staticSet is a Set backed by a fixed URI template per bucket index.
type staticSet struct {
	n, k      int
	templates []string // one per bucket, "%s" substituted with the hex chunk key
}

// NewStaticSet builds a Set from N URI templates (one per bucket), each
// containing a single "%s" verb for the hex-encoded chunk key.
func NewStaticSet(k int, templates []string) (Set, error) {
	if len(templates) == 0 {
		return nil, fmt.Errorf("bucket: need at least one bucket template")
	}
	if k < 1 || k > len(templates) {
		return nil, fmt.Errorf("bucket: k=%d invalid for n=%d buckets", k, len(templates))
	}
	cp := make([]string, len(templates))
	copy(cp, templates)
	return &staticSet{n: len(templates), k: k, templates: cp}, nil
}

func (s *staticSet) N() int { return s.n }
func (s *staticSet) K() int { return s.k }

func (s *staticSet) URIs(chunkName [32]byte) []string {
	key := ChunkKey(chunkName)
	out := make([]string, len(s.templates))
	for i, tmpl := range s.templates {
		out[i] = fmt.Sprintf(tmpl, key)
	}
	return out
}
