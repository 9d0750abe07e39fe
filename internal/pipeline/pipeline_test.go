package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/quantarax/vaultmesh/internal/bucket"
	"github.com/quantarax/vaultmesh/internal/config"
)

// memoryTransport is an in-memory bucket.Transport for tests: Put stores
// the full body under its URI, Get replays it back. A bucket index can
// be marked failing, in which case every GET whose URI was produced by
// bucketPrefix(i) errors out, simulating an unreachable bucket.
type memoryTransport struct {
	mu         sync.Mutex
	objects    map[string][]byte
	failingIdx map[int]bool
}

func newMemoryTransport() *memoryTransport {
	return &memoryTransport{objects: make(map[string][]byte)}
}

// bucketPrefix is the URI prefix produced by testBucketSet for bucket i.
func bucketPrefix(i int) string { return fmt.Sprintf("bucket%d/", i) }

func (t *memoryTransport) Put(_ context.Context, uri string, body io.Reader) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.objects[uri] = data
	return nil
}

func (t *memoryTransport) Get(_ context.Context, uri string) (io.ReadCloser, error) {
	t.mu.Lock()
	data, ok := t.objects[uri]
	failing := false
	for idx, f := range t.failingIdx {
		if f && strings.HasPrefix(uri, bucketPrefix(idx)) {
			failing = true
			break
		}
	}
	t.mu.Unlock()
	if failing {
		return nil, fmt.Errorf("memoryTransport: simulated failure for %s", uri)
	}
	if !ok {
		return nil, fmt.Errorf("memoryTransport: no object at %s", uri)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (t *memoryTransport) setFailingIndex(idx int, failing bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.failingIdx == nil {
		t.failingIdx = make(map[int]bool)
	}
	t.failingIdx[idx] = failing
}

// corruptBucket flips a byte in every stored object under bucket idx.
func (t *memoryTransport) corruptBucket(idx int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	prefix := bucketPrefix(idx)
	for uri, data := range t.objects {
		if strings.HasPrefix(uri, prefix) && len(data) > 0 {
			data[0] ^= 0xFF
		}
	}
}

// testBucketSet returns an (n,k) Set whose bucket i stores objects under
// URIs shaped "bucket<i>/<hex chunk key>".
func testBucketSet(n, k int) bucket.Set {
	templates := make([]string, n)
	for i := range templates {
		templates[i] = fmt.Sprintf("bucket%d/%%s", i)
	}
	set, err := bucket.NewStaticSet(k, templates)
	if err != nil {
		panic(err)
	}
	return set
}

// testConfig returns a small, fast (n,k) configuration suitable for
// exercising the pipelines without large allocations.
func testConfig(n, k int, chunkSize int64) *config.Config {
	cfg := config.DefaultConfig()
	cfg.N = n
	cfg.K = k
	cfg.WordWidth = 1
	cfg.ChunkSize = chunkSize
	cfg.BucketTemplates = nil
	return cfg
}
