package pipeline

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"testing"

	"github.com/quantarax/vaultmesh/internal/cryptutil"
	"github.com/quantarax/vaultmesh/internal/manifeststore"
	"github.com/quantarax/vaultmesh/internal/observability"
)

func newTestManifestStore(t *testing.T) *manifeststore.Store {
	t.Helper()
	s, err := manifeststore.Open(filepath.Join(t.TempDir(), "manifests.db"))
	if err != nil {
		t.Fatalf("manifeststore.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestLogger() *observability.Logger {
	return observability.NewLogger("vaultmesh-test", "test", io.Discard)
}

func TestUploadFileProducesStoredFileAndPersistsManifest(t *testing.T) {
	cfg := testConfig(4, 2, 16)
	buckets := testBucketSet(4, 2)
	transport := newMemoryTransport()
	manifests := newTestManifestStore(t)

	up, err := NewUploadPipeline(cfg, buckets, transport, manifests, newTestLogger(), nil)
	if err != nil {
		t.Fatalf("NewUploadPipeline: %v", err)
	}
	up.Start()

	content := bytes.Repeat([]byte("vaultmesh-chunk-content-"), 10) // > one chunk
	source := bytes.NewReader(content)

	var mu sync.Mutex
	var percents []int
	var closedManifest *manifeststore.StoredFile
	var closedSource any
	done := make(chan struct{})

	up.UploadFile("file-1", source, int64(len(content)), UploadCallbackFuncs{
		OnUpdate: func(p int) {
			mu.Lock()
			percents = append(percents, p)
			mu.Unlock()
		},
		OnClose: func(src any, manifest *manifeststore.StoredFile) {
			closedSource = src
			closedManifest = manifest
			close(done)
		},
	})

	up.Stop(false)
	<-done

	if closedManifest == nil {
		t.Fatal("Close got nil manifest, want a StoredFile")
	}
	if closedSource != source {
		t.Fatal("Close got a different source than was submitted")
	}
	expectedChunks := (int64(len(content)) + cfg.ChunkSize - 1) / cfg.ChunkSize
	if closedManifest.ChunkCount != expectedChunks {
		t.Fatalf("ChunkCount = %d, want %d", closedManifest.ChunkCount, expectedChunks)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(percents) == 0 {
		t.Fatal("expected at least one Update call")
	}
	if percents[len(percents)-1] != 100 {
		t.Fatalf("final Update = %d, want 100", percents[len(percents)-1])
	}
	for i := 1; i < len(percents); i++ {
		if percents[i] < percents[i-1] {
			t.Fatalf("percentage decreased: %v", percents)
		}
	}

	got, err := manifests.Get("file-1")
	if err != nil {
		t.Fatalf("manifests.Get: %v", err)
	}
	if got != *closedManifest {
		t.Fatalf("persisted manifest %+v != callback manifest %+v", got, *closedManifest)
	}
}

func TestUploadFileHandlesEmptyFile(t *testing.T) {
	cfg := testConfig(4, 2, 16)
	buckets := testBucketSet(4, 2)
	transport := newMemoryTransport()

	up, err := NewUploadPipeline(cfg, buckets, transport, nil, newTestLogger(), nil)
	if err != nil {
		t.Fatalf("NewUploadPipeline: %v", err)
	}
	up.Start()

	source := bytes.NewReader(nil)
	done := make(chan *manifeststore.StoredFile, 1)
	up.UploadFile("empty", source, 0, UploadCallbackFuncs{
		OnClose: func(_ any, manifest *manifeststore.StoredFile) { done <- manifest },
	})
	up.Stop(false)

	manifest := <-done
	if manifest == nil {
		t.Fatal("expected a manifest for an empty file")
	}
	if manifest.ChunkCount != 1 {
		t.Fatalf("ChunkCount = %d, want 1 (floor of 1 chunk)", manifest.ChunkCount)
	}
}

func TestUploadFileReportsFailureWhenBucketUnreachable(t *testing.T) {
	cfg := testConfig(4, 2, 16)
	buckets := testBucketSet(4, 2)
	transport := &failingPutTransport{memoryTransport: newMemoryTransport()}

	up, err := NewUploadPipeline(cfg, buckets, transport, nil, newTestLogger(), nil)
	if err != nil {
		t.Fatalf("NewUploadPipeline: %v", err)
	}
	up.Start()

	content := []byte("short file")
	done := make(chan *manifeststore.StoredFile, 1)
	up.UploadFile("file-2", bytes.NewReader(content), int64(len(content)), UploadCallbackFuncs{
		OnClose: func(_ any, manifest *manifeststore.StoredFile) { done <- manifest },
	})
	up.Stop(false)

	manifest := <-done
	if manifest != nil {
		t.Fatalf("expected nil manifest on upload failure, got %+v", manifest)
	}
}

func TestUploadFileWithKeyUsesSuppliedKeyAndDecrypts(t *testing.T) {
	cfg := testConfig(4, 2, 32)
	buckets := testBucketSet(4, 2)
	transport := newMemoryTransport()

	up, err := NewUploadPipeline(cfg, buckets, transport, nil, newTestLogger(), nil)
	if err != nil {
		t.Fatalf("NewUploadPipeline: %v", err)
	}
	up.Start()

	salt := sha256.Sum256([]byte("passphrase-file"))
	key, err := cryptutil.DeriveRootKey([]byte("correct horse battery staple"), salt[:])
	if err != nil {
		t.Fatalf("DeriveRootKey: %v", err)
	}

	content := []byte("a file protected by a passphrase-derived key instead of a random one")
	done := make(chan *manifeststore.StoredFile, 1)
	up.UploadFileWithKey("passphrase-file", bytes.NewReader(content), int64(len(content)), key, UploadCallbackFuncs{
		OnClose: func(_ any, manifest *manifeststore.StoredFile) { done <- manifest },
	})
	up.Stop(false)

	manifest := <-done
	if manifest == nil {
		t.Fatal("expected a manifest, upload failed")
	}
	if manifest.Encryption.Key != key {
		t.Fatalf("StoredFile.Encryption.Key = %x, want the supplied passphrase-derived key %x", manifest.Encryption.Key, key)
	}

	down, err := NewDownloadPipeline(cfg, buckets, transport, nil, newTestLogger(), nil)
	if err != nil {
		t.Fatalf("NewDownloadPipeline: %v", err)
	}
	down.Start()
	var out bytes.Buffer
	downloadSync(down, "passphrase-file", *manifest, &out)
	down.Stop(false)

	if !bytes.Equal(out.Bytes(), content) {
		t.Fatalf("downloaded content mismatch: got %q, want %q", out.Bytes(), content)
	}
}

// failingPutTransport always fails Put, to exercise the upload
// pipeline's per-file error path (spec.md §7: Io.Output is fatal for
// the current file, callback.Close fires with a nil manifest).
type failingPutTransport struct {
	*memoryTransport
}

func (f *failingPutTransport) Put(ctx context.Context, uri string, body io.Reader) error {
	_, _ = io.Copy(io.Discard, body)
	return fmt.Errorf("failingPutTransport: simulated PUT failure for %s", uri)
}

// panickingPutTransport panics on its first PUT, then behaves normally,
// to exercise uploadChunk's per-shard recover() (a panic in the PUT
// goroutine turns into a shard error, not a crash) and confirm the
// resulting file-level error still reaches Close with a nil manifest,
// without taking the worker goroutine down with it (spec.md §4.7).
type panickingPutTransport struct {
	*memoryTransport
	mu       sync.Mutex
	panicked bool
}

func (f *panickingPutTransport) Put(ctx context.Context, uri string, body io.Reader) error {
	f.mu.Lock()
	if !f.panicked {
		f.panicked = true
		f.mu.Unlock()
		panic("panickingPutTransport: simulated panic during PUT")
	}
	f.mu.Unlock()
	return f.memoryTransport.Put(ctx, uri, body)
}

func TestUploadFileRecoversFromPanicAndKeepsWorkerAlive(t *testing.T) {
	cfg := testConfig(4, 2, 16)
	buckets := testBucketSet(4, 2)
	transport := &panickingPutTransport{memoryTransport: newMemoryTransport()}

	up, err := NewUploadPipeline(cfg, buckets, transport, nil, newTestLogger(), nil)
	if err != nil {
		t.Fatalf("NewUploadPipeline: %v", err)
	}
	up.Start()

	firstDone := make(chan *manifeststore.StoredFile, 1)
	up.UploadFile("panicking-file", bytes.NewReader([]byte("triggers a panic on its first shard PUT")), 39, UploadCallbackFuncs{
		OnClose: func(_ any, manifest *manifeststore.StoredFile) { firstDone <- manifest },
	})
	firstManifest := <-firstDone
	if firstManifest != nil {
		t.Fatalf("expected nil manifest for the file that panicked, got %+v", firstManifest)
	}

	// The worker goroutine must still be alive to process this second
	// file; if the panic had escaped run(), this would hang forever.
	secondContent := []byte("a second, unrelated file after the panic")
	secondDone := make(chan *manifeststore.StoredFile, 1)
	up.UploadFile("after-panic", bytes.NewReader(secondContent), int64(len(secondContent)), UploadCallbackFuncs{
		OnClose: func(_ any, manifest *manifeststore.StoredFile) { secondDone <- manifest },
	})
	up.Stop(false)

	secondManifest := <-secondDone
	if secondManifest == nil {
		t.Fatal("expected the worker to still process files queued after a recovered panic")
	}
}

// panickingReadSeeker panics on every Read, to force a panic synchronously
// on the worker goroutine itself (inside uploadFile's hash pass), rather
// than in a spawned shard goroutine, exercising processFileRecovered's
// own recover() directly.
type panickingReadSeeker struct{}

func (panickingReadSeeker) Read(_ []byte) (int, error) {
	panic("panickingReadSeeker: simulated read panic")
}

func (panickingReadSeeker) Seek(_ int64, _ int) (int64, error) {
	return 0, nil
}

func TestUploadPipelineRecoversFromSynchronousWorkerPanic(t *testing.T) {
	cfg := testConfig(4, 2, 16)
	buckets := testBucketSet(4, 2)
	transport := newMemoryTransport()

	up, err := NewUploadPipeline(cfg, buckets, transport, nil, newTestLogger(), nil)
	if err != nil {
		t.Fatalf("NewUploadPipeline: %v", err)
	}

	done := make(chan *manifeststore.StoredFile, 1)
	req := &uploadRequest{
		fileID: "sync-panic",
		source: panickingReadSeeker{},
		size:   32,
		callback: UploadCallbackFuncs{
			OnClose: func(_ any, manifest *manifeststore.StoredFile) { done <- manifest },
		},
	}

	up.processFileRecovered(req)

	select {
	case manifest := <-done:
		if manifest != nil {
			t.Fatalf("expected nil manifest after a recovered panic, got %+v", manifest)
		}
	default:
		t.Fatal("expected Close to fire synchronously even though processFile panicked")
	}
}
