package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestDefaultConfigValidates(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("DefaultConfig().Validate() = %v, want nil", err)
	}
}

func TestLoadConfigEmptyPathReturnsDefault(t *testing.T) {
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig(\"\"): %v", err)
	}
	if !reflect.DeepEqual(cfg, DefaultConfig()) {
		t.Fatalf("LoadConfig(\"\") = %+v, want default", cfg)
	}
}

func TestLoadConfigOverridesFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	overrides := map[string]any{
		"chunk_size":       4096,
		"shard_count":      7,
		"shards_required":  4,
		"bucket_templates": []string{"a/%s", "b/%s", "c/%s", "d/%s", "e/%s", "f/%s", "g/%s"},
	}
	data, err := json.Marshal(overrides)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.ChunkSize != 4096 || cfg.N != 7 || cfg.K != 4 {
		t.Fatalf("cfg = %+v, want chunk_size=4096 n=7 k=4", cfg)
	}
	if cfg.WordWidth != DefaultConfig().WordWidth {
		t.Fatalf("WordWidth should fall back to default, got %d", cfg.WordWidth)
	}
}

func TestValidateRejectsBadShardCounts(t *testing.T) {
	cfg := DefaultConfig()
	cfg.K = cfg.N + 1
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for k > n")
	}
}

func TestValidateRejectsBadWordWidth(t *testing.T) {
	cfg := DefaultConfig()
	cfg.WordWidth = 3
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for invalid word width")
	}
}

func TestValidateRejectsMismatchedBucketTemplateCount(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BucketTemplates = []string{"only-one/%s"}
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for bucket template count mismatch")
	}
}
