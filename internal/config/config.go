// Package config holds the compile-time-constant-turned-runtime
// parameters of the erasure-coded storage engine: chunk size, erasure
// shard counts, word width, worker/queue sizing, and bucket endpoints
// (spec.md §3: "Header size, chunk size, and AEAD parameters are
// compile-time constants").
package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// Config holds the parameters shared by the upload and download
// pipelines.
type Config struct {
	// ChunkSize is the number of plaintext bytes per chunk, except
	// possibly the file's last chunk.
	ChunkSize int64 `json:"chunk_size"`

	// N is the total number of erasure-coded shards per chunk.
	N int `json:"shard_count"`
	// K is the number of shards required to reconstruct a chunk.
	K int `json:"shards_required"`
	// WordWidth is the erasure coder's word width in bytes: 1, 4, or 8.
	WordWidth int `json:"word_width"`

	// BucketTemplates holds one URI template per bucket (len == N),
	// each containing a single "%s" verb for the hex chunk key.
	BucketTemplates []string `json:"bucket_templates"`

	// WorkerCount is checked by Validate (at least 1) but read by no
	// other component: each pipeline runs one worker goroutine per call
	// to its Start method.
	WorkerCount int `json:"worker_count"`
	// QueueDepth is the bounded queue's initial capacity hint.
	QueueDepth int `json:"queue_depth"`

	// ManifestStorePath is the boltdb file backing the manifest store.
	ManifestStorePath string `json:"manifest_store_path"`

	// MetricsAddress, if non-empty, is the listen address for the
	// Prometheus /metrics and /healthz endpoints.
	MetricsAddress string `json:"metrics_address"`
}

// DefaultConfig returns the engine's default configuration: 1 MiB
// chunks, a (5,3) erasure code with 8-byte words, a worker_count of 4,
// and a 32-item queue depth hint.
func DefaultConfig() *Config {
	return &Config{
		ChunkSize:         1 << 20,
		N:                 5,
		K:                 3,
		WordWidth:         8,
		BucketTemplates:   nil,
		WorkerCount:       4,
		QueueDepth:        32,
		ManifestStorePath: "vaultmesh-manifests.db",
		MetricsAddress:    "127.0.0.1:9090",
	}
}

// LoadConfig reads a JSON configuration file at configPath, applying its
// fields on top of DefaultConfig(). An empty configPath returns the
// default configuration unchanged.
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()
	if configPath == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", configPath, err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", configPath, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", configPath, err)
	}
	return cfg, nil
}

// Validate checks that the configuration describes a usable pipeline.
func (c *Config) Validate() error {
	if c.ChunkSize <= 0 {
		return fmt.Errorf("chunk_size must be positive, got %d", c.ChunkSize)
	}
	if c.N < 1 || c.K < 1 || c.K > c.N {
		return fmt.Errorf("invalid shard counts n=%d k=%d", c.N, c.K)
	}
	if c.WordWidth != 1 && c.WordWidth != 4 && c.WordWidth != 8 {
		return fmt.Errorf("word_width must be 1, 4, or 8, got %d", c.WordWidth)
	}
	if len(c.BucketTemplates) != 0 && len(c.BucketTemplates) != c.N {
		return fmt.Errorf("bucket_templates has %d entries, want %d (shard_count)", len(c.BucketTemplates), c.N)
	}
	if c.WorkerCount < 1 {
		return fmt.Errorf("worker_count must be at least 1, got %d", c.WorkerCount)
	}
	return nil
}
