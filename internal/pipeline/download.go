package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math/rand"
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

// downloadRequest is one item pushed onto the pipeline's queue by
// DownloadFile: the manifest naming the head chunk, the destination
// writer, and the callback. requestID correlates this run's log lines.
type downloadRequest struct {
	fileID    string
	requestID uuid.UUID
	manifest  manifeststore.StoredFile
	output    io.Writer
	callback  DownloadCallback
}

// DownloadPipeline is C6: a single worker goroutine draining a bounded
// queue of requested files, fetching K of the N shards per chunk,
// decoding them, decrypting, and following the reverse-linked chain forward
// (spec.md §4.6).
type DownloadPipeline struct {
	cfg       *config.Config
	buckets   bucket.Set
	transport bucket.Transport
	coder     *erasure.Coder
	health    *bucket.Health
	logger    *observability.Logger
	metrics   *observability.Metrics

	q        *queue.Queue
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewDownloadPipeline builds a download pipeline from cfg's erasure
// parameters. health tracks bucket failure streaks for excluded-set
// sampling; if nil, a fresh all-healthy tracker is created.
func NewDownloadPipeline(cfg *config.Config, buckets bucket.Set, transport bucket.Transport, health *bucket.Health, logger *observability.Logger, metrics *observability.Metrics) (*DownloadPipeline, error) {
	coder, err := erasure.NewCoder(cfg.N, cfg.K, erasure.WordWidth(cfg.WordWidth))
	if err != nil {
		return nil, fmt.Errorf("pipeline: build download coder: %w", err)
	}
	if health == nil {
		health = bucket.NewHealth(buckets.N())
	}
	return &DownloadPipeline{
		cfg:       cfg,
		buckets:   buckets,
		transport: transport,
		coder:     coder,
		health:    health,
		logger:    logger,
		metrics:   metrics,
		q:         queue.New(cfg.QueueDepth),
	}, nil
}

// Start spawns the pipeline's worker goroutine.
func (p *DownloadPipeline) Start() {
	p.wg.Add(1)
	go p.run()
}

// DownloadFile enqueues a file for download, starting from its
// manifest's head chunk, writing reconstructed plaintext to output in
// order.
func (p *DownloadPipeline) DownloadFile(fileID string, manifest manifeststore.StoredFile, output io.Writer, callback DownloadCallback) {
	p.q.Push(&downloadRequest{fileID: fileID, requestID: uuid.New(), manifest: manifest, output: output, callback: callback})
}

// Stop drains the worker(s) and returns once they exit.
func (p *DownloadPipeline) Stop(cancel bool) {
	p.stopOnce.Do(func() {
		if cancel {
			p.q.Clear()
		}
		p.q.Close()
	})
	p.wg.Wait()
}

func (p *DownloadPipeline) run() {
	defer p.wg.Done()
	for {
		item, ok := p.q.Pop()
		if !ok {
			return
		}
		p.processFileRecovered(item.(*downloadRequest))
	}
}

// processFileRecovered runs processFile behind a recover(), so a panic
// partway through one file (spec.md §4.7: "Close must fire even when the
// file processing panics recoverably") still fires that file's Close
// instead of taking the worker goroutine down with it and silently
// abandoning every file still queued behind it.
func (p *DownloadPipeline) processFileRecovered(req *downloadRequest) {
	defer func() {
		if r := recover(); r != nil {
			if p.logger != nil {
				p.logger.Error(fmt.Errorf("request %s: recovered panic: %v", req.requestID, r), "download failed")
			}
			if p.metrics != nil {
				p.metrics.RecordDownloadComplete(false, 0)
			}
			req.callback.Close()
		}
	}()
	p.processFile(req)
}

func (p *DownloadPipeline) processFile(req *downloadRequest) {
	start := time.Now()

	err := p.downloadFile(req)
	if err != nil {
		if p.logger != nil {
			p.logger.Error(fmt.Errorf("request %s: %w", req.requestID, err), "download failed")
		}
		if p.metrics != nil {
			p.metrics.RecordDownloadComplete(false, time.Since(start).Seconds())
		}
		req.callback.Close()
		return
	}

	if p.metrics != nil {
		p.metrics.RecordDownloadComplete(true, time.Since(start).Seconds())
	}
	req.callback.Update(100)
	req.callback.Close()
}

// downloadFile implements the worker loop of spec.md §4.6: each chunk in
// the chain is fetched against a freshly-sampled excluded shard set,
// decoded, decrypted, and its payload emitted before following the
// header's next pointer.
func (p *DownloadPipeline) downloadFile(req *downloadRequest) error {
	n, k := p.buckets.N(), p.buckets.K()
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	if p.logger != nil {
		p.logger.DownloadStarted(int(req.manifest.ChunkCount), nil)
	}

	ctx := context.Background()
	chunkName := req.manifest.FirstName
	enc := req.manifest.Encryption
	progress := &monotonicProgress{}

	for i := int64(0); i < req.manifest.ChunkCount; i++ {
		// Resampled per chunk rather than once per file, so a bucket
		// that drops out mid-download doesn't take every remaining
		// chunk down with it (DESIGN.md's resolution of spec.md §9's
		// excluded-set open question).
		excluded, err := p.health.ExcludedSet(n-k, rng)
		if err != nil {
			return fmt.Errorf("pipeline: sample excluded set for chunk %d: %w", i, err)
		}

		ciphertext, err := p.fetchAndDecode(ctx, chunkName, excluded)
		if err != nil {
			return fmt.Errorf("pipeline: fetch chunk %d: %w", i, err)
		}
		if p.metrics != nil {
			p.metrics.RecordErasureReconstruction(true)
		}

		plaintext, err := cryptutil.OpenDetached(enc.Key, enc.Nonce, ciphertext, enc.Tag[:])
		if err != nil {
			if p.logger != nil {
				p.logger.ChunkAuthFailed(int(i), err)
			}
			if p.metrics != nil {
				p.metrics.RecordChunkAuthFailure()
			}
			return fmt.Errorf("pipeline: decrypt chunk %d: %w", i, err)
		}

		if len(plaintext) < chunkformat.HeaderSize {
			return fmt.Errorf("pipeline: chunk %d shorter than header size", i)
		}
		header, err := chunkformat.FromBytes(plaintext)
		if err != nil {
			return fmt.Errorf("pipeline: parse header for chunk %d: %w", i, err)
		}
		payload := plaintext[chunkformat.HeaderSize:]
		if _, err := req.output.Write(payload); err != nil {
			return fmt.Errorf("pipeline: write chunk %d payload: %w", i, err)
		}

		if p.logger != nil {
			p.logger.ChunkDownloaded(int(i))
		}
		if p.metrics != nil {
			p.metrics.RecordChunkDownloaded(int(p.coder.PerShardSize(int64(len(ciphertext))) * int64(k)))
		}

		percent := int((i + 1) * 100 / req.manifest.ChunkCount)
		req.callback.Update(progress.next(percent))

		chunkName = header.Next.ChunkBlobDigest
		enc = header.Next.Encryption
	}

	return nil
}

// fetchAndDecode issues K GETs, one per bucket not in the excluded set,
// reconstructs the chunk's ciphertext via erasure decode, and returns it.
func (p *DownloadPipeline) fetchAndDecode(ctx context.Context, chunkName [32]byte, excluded map[int]bool) ([]byte, error) {
	uris := p.buckets.URIs(chunkName)
	survivors := make([]int, 0, p.buckets.K())
	for idx := range uris {
		if !excluded[idx] {
			survivors = append(survivors, idx)
		}
	}

	bodies := make([]io.ReadCloser, len(survivors))
	getErrs := make([]error, len(survivors))
	var wg sync.WaitGroup
	for pos, idx := range survivors {
		wg.Add(1)
		go func(pos, idx int) {
			defer wg.Done()
			// A panic here runs on this goroutine's own stack: recover()
			// in the worker's run() loop cannot catch it, so it is
			// recovered locally and turned into an ordinary shard error
			// instead of crashing the process (spec.md §4.7).
			defer func() {
				if r := recover(); r != nil {
					getErrs[pos] = fmt.Errorf("transport panic: %v", r)
					p.health.RecordFailure(idx)
					if p.metrics != nil {
						p.metrics.RecordShardGet(false)
					}
				}
			}()
			body, err := p.transport.Get(ctx, uris[idx])
			if err != nil {
				getErrs[pos] = err
				if p.logger != nil {
					p.logger.ShardFetchFailed(idx, uris[idx], err)
				}
				p.health.RecordFailure(idx)
				if p.metrics != nil {
					p.metrics.RecordShardGet(false)
				}
				return
			}
			bodies[pos] = body
			p.health.RecordSuccess(idx)
			if p.metrics != nil {
				p.metrics.RecordShardGet(true)
			}
		}(pos, idx)
	}
	wg.Wait()

	defer func() {
		for _, b := range bodies {
			if b != nil {
				b.Close()
			}
		}
	}()

	for _, err := range getErrs {
		if err != nil {
			return nil, err
		}
	}

	readers := make([]io.Reader, len(bodies))
	for i, b := range bodies {
		readers[i] = b
	}

	var buf bytes.Buffer
	if _, err := p.coder.Decode(&buf, readers, excluded); err != nil {
		return nil, fmt.Errorf("erasure decode: %w", err)
	}
	return buf.Bytes(), nil
}

