package pipeline

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/quantarax/vaultmesh/internal/bucket"
	"github.com/quantarax/vaultmesh/internal/chunkformat"
	"github.com/quantarax/vaultmesh/internal/config"
	"github.com/quantarax/vaultmesh/internal/cryptutil"
	"github.com/quantarax/vaultmesh/internal/erasure"
	"github.com/quantarax/vaultmesh/internal/manifeststore"
	"github.com/quantarax/vaultmesh/internal/observability"
	"github.com/quantarax/vaultmesh/internal/queue"
)

// uploadRequest is one item pushed onto the pipeline's queue by
// UploadFile: the file's source, size, caller-chosen ID, and callback.
// requestID correlates this run's log lines the way the teacher tags a
// QUIC session with a uuid.UUID (daemon/transport/chunk_sender.go).
type uploadRequest struct {
	fileID    string
	requestID uuid.UUID
	source    io.ReadSeeker
	size      int64
	callback  UploadCallback
	// rootKey, if non-nil, is used as the file's AEAD key instead of a
	// freshly-generated random one (e.g. derived from a caller passphrase
	// via cryptutil.DeriveRootKey).
	rootKey *[cryptutil.KeySize]byte
}

// UploadPipeline is C5: a single worker goroutine draining a bounded
// queue of submitted files, hashing, header-chaining, AEAD-encrypting,
// and erasure-coding each one across N bucket PUTs (spec.md §4.5).
type UploadPipeline struct {
	cfg       *config.Config
	buckets   bucket.Set
	transport bucket.Transport
	coder     *erasure.Coder
	manifests *manifeststore.Store
	logger    *observability.Logger
	metrics   *observability.Metrics

	q        *queue.Queue
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewUploadPipeline builds an upload pipeline from cfg's erasure
// parameters. manifests, logger and metrics may each be nil.
func NewUploadPipeline(cfg *config.Config, buckets bucket.Set, transport bucket.Transport, manifests *manifeststore.Store, logger *observability.Logger, metrics *observability.Metrics) (*UploadPipeline, error) {
	coder, err := erasure.NewCoder(cfg.N, cfg.K, erasure.WordWidth(cfg.WordWidth))
	if err != nil {
		return nil, fmt.Errorf("pipeline: build upload coder: %w", err)
	}
	return &UploadPipeline{
		cfg:       cfg,
		buckets:   buckets,
		transport: transport,
		coder:     coder,
		manifests: manifests,
		logger:    logger,
		metrics:   metrics,
		q:         queue.New(cfg.QueueDepth),
	}, nil
}

// Start spawns the pipeline's worker goroutine. Calling Start more than
// once spawns additional workers draining the same queue.
func (p *UploadPipeline) Start() {
	p.wg.Add(1)
	go p.run()
}

// UploadFile enqueues a file for upload. source must support Seek:
// the worker reads it twice, once forward for hashing and once in
// reverse-chunk order for encryption.
func (p *UploadPipeline) UploadFile(fileID string, source io.ReadSeeker, size int64, callback UploadCallback) {
	p.q.Push(&uploadRequest{fileID: fileID, requestID: uuid.New(), source: source, size: size, callback: callback})
}

// UploadFileWithKey behaves like UploadFile but seals every chunk of
// this file with rootKey instead of a freshly-generated random key, for
// callers deriving a key from a passphrase via cryptutil.DeriveRootKey.
func (p *UploadPipeline) UploadFileWithKey(fileID string, source io.ReadSeeker, size int64, rootKey [cryptutil.KeySize]byte, callback UploadCallback) {
	p.q.Push(&uploadRequest{fileID: fileID, requestID: uuid.New(), source: source, size: size, callback: callback, rootKey: &rootKey})
}

// Stop drains the worker(s) and returns once they exit. When cancel is
// true, queued-but-not-yet-started files are dropped instead of
// processed.
func (p *UploadPipeline) Stop(cancel bool) {
	p.stopOnce.Do(func() {
		if cancel {
			p.q.Clear()
		}
		p.q.Close()
	})
	p.wg.Wait()
}

func (p *UploadPipeline) run() {
	defer p.wg.Done()
	for {
		item, ok := p.q.Pop()
		if !ok {
			return
		}
		p.processFileRecovered(item.(*uploadRequest))
	}
}

// processFileRecovered runs processFile behind a recover(), so a panic
// partway through one file (spec.md §4.7: "Close must fire even when the
// file processing panics recoverably") still fires that file's Close
// with a nil manifest instead of taking the worker goroutine down with
// it and silently abandoning every file still queued behind it.
func (p *UploadPipeline) processFileRecovered(req *uploadRequest) {
	defer func() {
		if r := recover(); r != nil {
			if p.logger != nil {
				p.logger.UploadFailed(req.fileID, fmt.Errorf("request %s: recovered panic: %v", req.requestID, r))
			}
			if p.metrics != nil {
				p.metrics.RecordUploadComplete(false, 0)
			}
			req.callback.Close(req.source, nil)
		}
	}()
	p.processFile(req)
}

func (p *UploadPipeline) processFile(req *uploadRequest) {
	start := time.Now()
	if p.metrics != nil {
		p.metrics.RecordUploadStart()
	}

	manifest, err := p.uploadFile(req)
	if err != nil {
		if p.logger != nil {
			p.logger.UploadFailed(req.fileID, fmt.Errorf("request %s: %w", req.requestID, err))
		}
		if p.metrics != nil {
			p.metrics.RecordUploadComplete(false, time.Since(start).Seconds())
		}
		req.callback.Close(req.source, nil)
		return
	}

	if p.manifests != nil {
		putErr := p.manifests.Put(req.fileID, *manifest)
		if putErr != nil && p.logger != nil {
			p.logger.Error(putErr, "persist manifest")
		}
		if p.metrics != nil {
			p.metrics.RecordManifestStoreOperation("put", putErr == nil)
		}
	}

	if p.logger != nil {
		p.logger.UploadCompleted(req.fileID, manifest.ChunkCount, time.Since(start))
	}
	if p.metrics != nil {
		p.metrics.RecordUploadComplete(true, time.Since(start).Seconds())
	}

	req.callback.Update(100)
	req.callback.Close(req.source, manifest)
}

// uploadFile implements the two-pass worker loop of spec.md §4.5: pass
// one hashes the file and populates each header's current_chunk_digest
// and chunk 0's full_file_digest; pass two walks chunks in reverse,
// encrypting and erasure-coding each one so the previous header can
// reference the already-computed next chunk name and AEAD material.
func (p *UploadPipeline) uploadFile(req *uploadRequest) (*manifeststore.StoredFile, error) {
	chunkCount := chunkformat.CountForSize(req.size, p.cfg.ChunkSize)
	headers := make([]chunkformat.Header, chunkCount)

	if p.logger != nil {
		p.logger.UploadStarted(req.fileID, req.size, chunkCount)
	}

	if err := p.hashPass(req, headers, chunkCount); err != nil {
		return nil, err
	}

	// One AEAD key is configured for the whole file (spec.md §4.5 step
	// 1.c: "with the configured key"); it is carried redundantly in
	// every header's next.encryption field and in the StoredFile so a
	// downloader never needs it from anywhere but the chain itself. A
	// caller-supplied root key (e.g. passphrase-derived) takes priority
	// over generating a fresh random one.
	var key [cryptutil.KeySize]byte
	if req.rootKey != nil {
		key = *req.rootKey
	} else if _, err := rand.Read(key[:]); err != nil {
		return nil, fmt.Errorf("pipeline: generate file key: %w", err)
	}
	nonces := cryptutil.NewNonceGenerator()

	var totalEncoded int64
	for i := int64(0); i < chunkCount; i++ {
		totalEncoded += p.coder.TotalEncodedSize(int64(chunkformat.HeaderSize) + p.chunkPayloadLen(req.size, i))
	}

	var manifest manifeststore.StoredFile
	manifest.ChunkCount = chunkCount

	var bytesUploaded int64
	progress := &monotonicProgress{}
	ctx := context.Background()

	for i := chunkCount - 1; i >= 0; i-- {
		payload, err := p.readChunkPayload(req.source, i)
		if err != nil {
			return nil, fmt.Errorf("pipeline: read chunk %d: %w", i, err)
		}

		blob := append(headers[i].ToBytes(), payload...)

		nonce, err := nonces.Next()
		if err != nil {
			return nil, fmt.Errorf("pipeline: generate nonce for chunk %d: %w", i, err)
		}

		ciphertext, tag, err := cryptutil.SealDetached(key, nonce, blob)
		if err != nil {
			return nil, fmt.Errorf("pipeline: encrypt chunk %d: %w", i, err)
		}

		chunkName := sha256.Sum256(ciphertext)
		enc := chunkformat.Encryption{Nonce: nonce, Key: key}
		copy(enc.Tag[:], tag)

		if i > 0 {
			headers[i-1].Next = chunkformat.NextChunk{ChunkBlobDigest: chunkName, Encryption: enc}
		} else {
			manifest.FirstName = chunkName
			manifest.Encryption = enc
		}

		if err := p.uploadChunk(ctx, chunkName, ciphertext, &bytesUploaded, totalEncoded, progress, req.callback); err != nil {
			return nil, fmt.Errorf("pipeline: upload chunk %d: %w", i, err)
		}

		if p.logger != nil {
			p.logger.ChunkUploaded(i, len(ciphertext), p.buckets.N())
		}
		if p.metrics != nil {
			p.metrics.RecordChunkUploaded(int(p.coder.TotalEncodedSize(int64(len(ciphertext)))))
		}
	}

	return &manifest, nil
}

// hashPass reads req.source once forward, computing each chunk's
// plaintext digest and the whole file's digest.
func (p *UploadPipeline) hashPass(req *uploadRequest, headers []chunkformat.Header, chunkCount int64) error {
	if _, err := req.source.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("pipeline: seek to start: %w", err)
	}

	full := sha256.New()
	buf := make([]byte, p.cfg.ChunkSize)
	var read int64

	for i := int64(0); i < chunkCount; i++ {
		n, err := io.ReadFull(req.source, buf)
		if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
			return fmt.Errorf("pipeline: hash chunk %d: %w", i, err)
		}
		block := buf[:n]
		full.Write(block)
		headers[i].CurrentChunkDigest = sha256.Sum256(block)
		read += int64(n)
		if n == 0 {
			break
		}
	}
	if read != req.size {
		return fmt.Errorf("pipeline: size mismatch: read %d bytes, source reported %d", read, req.size)
	}
	headers[0].FullFileDigest = [32]byte(full.Sum(nil))
	return nil
}

// chunkPayloadLen returns the plaintext length of chunk i: ChunkSize for
// every chunk but the last, which may be shorter.
func (p *UploadPipeline) chunkPayloadLen(size int64, i int64) int64 {
	start := i * p.cfg.ChunkSize
	remaining := size - start
	if remaining > p.cfg.ChunkSize {
		return p.cfg.ChunkSize
	}
	if remaining < 0 {
		return 0
	}
	return remaining
}

func (p *UploadPipeline) readChunkPayload(source io.ReadSeeker, i int64) ([]byte, error) {
	if _, err := source.Seek(i*p.cfg.ChunkSize, io.SeekStart); err != nil {
		return nil, err
	}
	buf := make([]byte, p.cfg.ChunkSize)
	n, err := io.ReadFull(source, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return nil, err
	}
	return buf[:n], nil
}

// uploadChunk erasure-encodes the encrypted blob across N streaming PUT
// requests, reporting byte-level progress as writes land.
func (p *UploadPipeline) uploadChunk(ctx context.Context, chunkName [32]byte, ciphertext []byte, bytesUploaded *int64, totalEncoded int64, progress *monotonicProgress, callback UploadCallback) error {
	uris := p.buckets.URIs(chunkName)
	writers := make([]io.Writer, len(uris))
	pipeWriters := make([]*io.PipeWriter, len(uris))

	var wg sync.WaitGroup
	putErrs := make([]error, len(uris))

	for j, uri := range uris {
		pr, pw := io.Pipe()
		pipeWriters[j] = pw
		writers[j] = &progressWriter{
			dst:      pw,
			uploaded: bytesUploaded,
			total:    totalEncoded,
			callback: callback,
			progress: progress,
		}

		wg.Add(1)
		go func(j int, uri string, pr *io.PipeReader) {
			defer wg.Done()
			// A panic here runs on this goroutine's own stack: recover()
			// in the worker's run() loop cannot catch it, so it is
			// recovered locally and turned into an ordinary shard error
			// instead of crashing the process (spec.md §4.7).
			defer func() {
				if r := recover(); r != nil {
					err := fmt.Errorf("transport panic: %v", r)
					pr.CloseWithError(err)
					putErrs[j] = err
					if p.metrics != nil {
						p.metrics.RecordShardPut(false)
					}
				}
			}()
			err := p.transport.Put(ctx, uri, pr)
			pr.CloseWithError(err)
			putErrs[j] = err
			if p.metrics != nil {
				p.metrics.RecordShardPut(err == nil)
			}
		}(j, uri, pr)
	}

	_, encErr := p.coder.Encode(writers, bytes.NewReader(ciphertext))
	for _, pw := range pipeWriters {
		pw.CloseWithError(encErr)
	}
	wg.Wait()

	if encErr != nil {
		return encErr
	}
	for j, err := range putErrs {
		if err != nil {
			return fmt.Errorf("put to bucket %d (%s): %w", j, uris[j], err)
		}
	}
	return nil
}

// progressWriter wraps one shard's pipe writer, updating the shared
// byte counter and firing the callback's Update as bytes land.
type progressWriter struct {
	dst      io.Writer
	uploaded *int64
	total    int64
	callback UploadCallback
	progress *monotonicProgress
	mu       sync.Mutex
}

func (w *progressWriter) Write(p []byte) (int, error) {
	n, err := w.dst.Write(p)
	if n > 0 {
		w.mu.Lock()
		*w.uploaded += int64(n)
		percent := 0
		if w.total > 0 {
			percent = int(*w.uploaded * 100 / w.total)
		}
		w.callback.Update(w.progress.next(percent))
		w.mu.Unlock()
	}
	return n, err
}
