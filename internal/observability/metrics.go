package observability

import (
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics exported by the upload/download
// pipelines and their supporting packages.
type Metrics struct {
	// Pipeline metrics
	UploadsTotal          *prometheus.CounterVec
	UploadsActive         prometheus.Gauge
	UploadDuration        prometheus.Histogram
	DownloadsTotal        *prometheus.CounterVec
	DownloadDuration      prometheus.Histogram
	BytesTransferredTotal *prometheus.CounterVec
	ChunksUploadedTotal   prometheus.Counter
	ChunksDownloadedTotal prometheus.Counter

	// Bucket / shard transport metrics
	ShardPutsTotal          *prometheus.CounterVec
	ShardGetsTotal          *prometheus.CounterVec
	ShardFetchFailuresTotal *prometheus.CounterVec
	ErasureReconstructions  *prometheus.CounterVec

	// Crypto metrics
	CryptoOperationsTotal   *prometheus.CounterVec
	CryptoOperationDuration prometheus.Histogram
	ChunkAuthFailuresTotal  prometheus.Counter

	// Manifest store metrics
	ManifestStoreOperationsTotal *prometheus.CounterVec

	activeUploads   int64
	activeDownloads int64
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	m := &Metrics{
		UploadsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vaultmesh_uploads_total",
				Help: "Total file uploads initiated",
			},
			[]string{"status"},
		),

		UploadsActive: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "vaultmesh_uploads_active",
				Help: "Currently active file uploads",
			},
		),

		UploadDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "vaultmesh_upload_duration_seconds",
				Help:    "Upload completion time distribution",
				Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1200, 1800},
			},
		),

		DownloadsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vaultmesh_downloads_total",
				Help: "Total file downloads initiated",
			},
			[]string{"status"},
		),

		DownloadDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "vaultmesh_download_duration_seconds",
				Help:    "Download completion time distribution",
				Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1200, 1800},
			},
		),

		BytesTransferredTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vaultmesh_bytes_transferred_total",
				Help: "Total encoded bytes transferred to or from buckets",
			},
			[]string{"direction"},
		),

		ChunksUploadedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "vaultmesh_chunks_uploaded_total",
				Help: "Total chunks encrypted, erasure-coded, and stored",
			},
		),

		ChunksDownloadedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "vaultmesh_chunks_downloaded_total",
				Help: "Total chunks fetched, decoded, and verified",
			},
		),

		ShardPutsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vaultmesh_shard_puts_total",
				Help: "Shard PUT requests to bucket URIs",
			},
			[]string{"result"},
		),

		ShardGetsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vaultmesh_shard_gets_total",
				Help: "Shard GET requests from bucket URIs",
			},
			[]string{"result"},
		),

		ShardFetchFailuresTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vaultmesh_shard_fetch_failures_total",
				Help: "Shard fetch failures by bucket index",
			},
			[]string{"bucket_index"},
		),

		ErasureReconstructions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vaultmesh_erasure_reconstructions_total",
				Help: "Chunk reconstructions via erasure decode, by result",
			},
			[]string{"result"},
		),

		CryptoOperationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vaultmesh_crypto_operations_total",
				Help: "AEAD seal/open operations performed",
			},
			[]string{"operation"},
		),

		CryptoOperationDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "vaultmesh_crypto_operation_duration_seconds",
				Help:    "AEAD seal/open latency",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
			},
		),

		ChunkAuthFailuresTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "vaultmesh_chunk_auth_failures_total",
				Help: "AEAD authentication failures during download",
			},
		),

		ManifestStoreOperationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vaultmesh_manifest_store_operations_total",
				Help: "Manifest store operation count",
			},
			[]string{"operation", "result"},
		),
	}

	return m
}

// RecordUploadStart increments active-upload counters.
func (m *Metrics) RecordUploadStart() {
	atomic.AddInt64(&m.activeUploads, 1)
	m.UploadsActive.Set(float64(atomic.LoadInt64(&m.activeUploads)))
}

// RecordUploadComplete records upload completion metrics.
func (m *Metrics) RecordUploadComplete(success bool, durationSeconds float64) {
	atomic.AddInt64(&m.activeUploads, -1)
	m.UploadsActive.Set(float64(atomic.LoadInt64(&m.activeUploads)))

	status := "success"
	if !success {
		status = "failure"
	}
	m.UploadsTotal.WithLabelValues(status).Inc()
	m.UploadDuration.Observe(durationSeconds)
}

// RecordDownloadComplete records download completion metrics.
func (m *Metrics) RecordDownloadComplete(success bool, durationSeconds float64) {
	status := "success"
	if !success {
		status = "failure"
	}
	m.DownloadsTotal.WithLabelValues(status).Inc()
	m.DownloadDuration.Observe(durationSeconds)
}

// RecordChunkUploaded updates metrics for an uploaded chunk.
func (m *Metrics) RecordChunkUploaded(encodedBytes int) {
	m.ChunksUploadedTotal.Inc()
	m.BytesTransferredTotal.WithLabelValues("upload").Add(float64(encodedBytes))
}

// RecordChunkDownloaded updates metrics for a downloaded chunk.
func (m *Metrics) RecordChunkDownloaded(encodedBytes int) {
	m.ChunksDownloadedTotal.Inc()
	m.BytesTransferredTotal.WithLabelValues("download").Add(float64(encodedBytes))
}

// RecordShardPut records the outcome of one shard PUT.
func (m *Metrics) RecordShardPut(success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	m.ShardPutsTotal.WithLabelValues(result).Inc()
}

// RecordShardGet records the outcome of one shard GET.
func (m *Metrics) RecordShardGet(success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	m.ShardGetsTotal.WithLabelValues(result).Inc()
}

// RecordShardFetchFailure increments the per-bucket failure counter.
func (m *Metrics) RecordShardFetchFailure(bucketIndex string) {
	m.ShardFetchFailuresTotal.WithLabelValues(bucketIndex).Inc()
}

// RecordErasureReconstruction records a chunk decode outcome.
func (m *Metrics) RecordErasureReconstruction(success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	m.ErasureReconstructions.WithLabelValues(result).Inc()
}

// RecordCryptoOperation records AEAD operation duration.
func (m *Metrics) RecordCryptoOperation(operation string, durationSeconds float64) {
	m.CryptoOperationsTotal.WithLabelValues(operation).Inc()
	m.CryptoOperationDuration.Observe(durationSeconds)
}

// RecordChunkAuthFailure increments the chunk auth failure counter.
func (m *Metrics) RecordChunkAuthFailure() {
	m.ChunkAuthFailuresTotal.Inc()
}

// RecordManifestStoreOperation records a manifest store operation outcome.
func (m *Metrics) RecordManifestStoreOperation(operation string, success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	m.ManifestStoreOperationsTotal.WithLabelValues(operation, result).Inc()
}

// Handler exposes the Prometheus metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.Handler()
}
