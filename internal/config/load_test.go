package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("MG_CONFIG_PATH", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTP.Addr != ":8080" {
		t.Fatalf("addr=%q, want :8080", cfg.HTTP.Addr)
	}
	if cfg.Subgraphs.Fetcher != "http" {
		t.Fatalf("fetcher=%q, want http", cfg.Subgraphs.Fetcher)
	}
	if cfg.Subgraphs.MaxCacheMB != 200 {
		t.Fatalf("max_cache_mb=%d, want 200", cfg.Subgraphs.MaxCacheMB)
	}
	if cfg.Subgraphs.DownloadConcurrency != 2 {
		t.Fatalf("download_concurrency=%d, want 2", cfg.Subgraphs.DownloadConcurrency)
	}
	if cfg.Pipeline.Threshold != 0.7 {
		t.Fatalf("threshold=%v, want 0.7", cfg.Pipeline.Threshold)
	}
	if cfg.Pipeline.HistoryLimit != 32 || cfg.Pipeline.DownloadBudget != 12 {
		t.Fatalf("pipeline limits=%d/%d, want 32/12",
			cfg.Pipeline.HistoryLimit, cfg.Pipeline.DownloadBudget)
	}
	if cfg.Scorer.Type != "mock" {
		t.Fatalf("scorer=%q, want mock", cfg.Scorer.Type)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("MG_CONFIG_PATH", "")
	t.Setenv("MG_HTTP_ADDR", ":9999")
	t.Setenv("MG_SUBGRAPH_MAX_CACHE_MB", "50")
	t.Setenv("MG_READINESS_THRESHOLD", "0.55")
	t.Setenv("MG_SCORER_TYPE", "ginlstm")
	t.Setenv("MG_CHECKPOINT_PATH", "/models/ckpt.json")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTP.Addr != ":9999" {
		t.Fatalf("addr=%q, want :9999", cfg.HTTP.Addr)
	}
	if cfg.Subgraphs.MaxCacheMB != 50 {
		t.Fatalf("max_cache_mb=%d, want 50", cfg.Subgraphs.MaxCacheMB)
	}
	if cfg.Pipeline.Threshold != 0.55 {
		t.Fatalf("threshold=%v, want 0.55", cfg.Pipeline.Threshold)
	}
	if cfg.Scorer.Type != "ginlstm" || cfg.Scorer.CheckpointPath != "/models/ckpt.json" {
		t.Fatalf("scorer=%q/%q", cfg.Scorer.Type, cfg.Scorer.CheckpointPath)
	}
}

func TestLoadJSONFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	raw := `{
		"env": "production",
		"http": {"addr": ":7070", "read_header_timeout": "10s"},
		"subgraphs": {"fetcher": "http", "base_url": "https://store.example", "cache_dir": "/tmp/sg"},
		"sequences": {"source": "json", "path": "/data/seq.json"},
		"pipeline": {"threshold": 0.6}
	}`
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("MG_CONFIG_PATH", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Env != "production" {
		t.Fatalf("env=%q, want production", cfg.Env)
	}
	if cfg.HTTP.Addr != ":7070" {
		t.Fatalf("addr=%q, want :7070", cfg.HTTP.Addr)
	}
	if cfg.HTTP.ReadHeaderTimeout.Duration != 10*time.Second {
		t.Fatalf("read_header_timeout=%v, want 10s", cfg.HTTP.ReadHeaderTimeout.Duration)
	}
	// Timeouts the file omits must come back as defaults, not zeroes.
	if cfg.HTTP.IdleTimeout.Duration != 2*time.Minute {
		t.Fatalf("idle_timeout=%v, want 2m", cfg.HTTP.IdleTimeout.Duration)
	}
	if cfg.HTTP.ShutdownTimeout.Duration != 15*time.Second {
		t.Fatalf("shutdown_timeout=%v, want 15s", cfg.HTTP.ShutdownTimeout.Duration)
	}
	if cfg.Pipeline.Threshold != 0.6 {
		t.Fatalf("threshold=%v, want 0.6", cfg.Pipeline.Threshold)
	}
	// Omitted sections fall back to hard defaults during validation.
	if cfg.Subgraphs.MaxCacheMB != 200 || cfg.Subgraphs.DownloadConcurrency != 2 {
		t.Fatalf("subgraph defaults lost: %d/%d",
			cfg.Subgraphs.MaxCacheMB, cfg.Subgraphs.DownloadConcurrency)
	}
}

func TestLoadYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	raw := `
env: staging
http:
  addr: ":6060"
  idle_timeout: 90s
subgraphs:
  fetcher: gcs
  gcs_bucket: subgraph-artifacts
  cache_dir: /tmp/sg
sequences:
  source: postgres
  dsn: postgres://localhost/mathgraph
`
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("MG_CONFIG_PATH", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Env != "staging" || cfg.HTTP.Addr != ":6060" {
		t.Fatalf("env=%q addr=%q", cfg.Env, cfg.HTTP.Addr)
	}
	if cfg.HTTP.IdleTimeout.Duration != 90*time.Second {
		t.Fatalf("idle_timeout=%v, want 90s", cfg.HTTP.IdleTimeout.Duration)
	}
	if cfg.Subgraphs.Fetcher != "gcs" || cfg.Subgraphs.GCSBucket != "subgraph-artifacts" {
		t.Fatalf("fetcher=%q bucket=%q", cfg.Subgraphs.Fetcher, cfg.Subgraphs.GCSBucket)
	}
	if cfg.Sequences.Source != "postgres" {
		t.Fatalf("source=%q, want postgres", cfg.Sequences.Source)
	}
}

func TestLoadValidationErrors(t *testing.T) {
	cases := []struct {
		name string
		doc  map[string]any
	}{
		{"gcs without bucket", map[string]any{
			"subgraphs": map[string]any{"fetcher": "gcs", "cache_dir": "/tmp/sg"},
			"sequences": map[string]any{"source": "json", "path": "/data/seq.json"},
		}},
		{"unknown fetcher", map[string]any{
			"subgraphs": map[string]any{"fetcher": "ftp", "cache_dir": "/tmp/sg"},
			"sequences": map[string]any{"source": "json", "path": "/data/seq.json"},
		}},
		{"postgres without dsn", map[string]any{
			"subgraphs": map[string]any{"base_url": "https://store.example", "cache_dir": "/tmp/sg"},
			"sequences": map[string]any{"source": "postgres"},
		}},
		{"ginlstm without checkpoint", map[string]any{
			"subgraphs": map[string]any{"base_url": "https://store.example", "cache_dir": "/tmp/sg"},
			"sequences": map[string]any{"source": "json", "path": "/data/seq.json"},
			"scorer":    map[string]any{"type": "ginlstm"},
		}},
		{"threshold above one", map[string]any{
			"subgraphs": map[string]any{"base_url": "https://store.example", "cache_dir": "/tmp/sg"},
			"sequences": map[string]any{"source": "json", "path": "/data/seq.json"},
			"pipeline":  map[string]any{"threshold": 1.5},
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b, err := json.Marshal(tc.doc)
			if err != nil {
				t.Fatalf("marshal: %v", err)
			}
			path := filepath.Join(t.TempDir(), "config.json")
			if err := os.WriteFile(path, b, 0o644); err != nil {
				t.Fatalf("write: %v", err)
			}
			t.Setenv("MG_CONFIG_PATH", path)
			if _, err := Load(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestDurationUnmarshal(t *testing.T) {
	var d Duration
	if err := json.Unmarshal([]byte(`"1m30s"`), &d); err != nil {
		t.Fatalf("string form: %v", err)
	}
	if d.Duration != 90*time.Second {
		t.Fatalf("duration=%v, want 90s", d.Duration)
	}

	if err := json.Unmarshal([]byte(`5000000000`), &d); err != nil {
		t.Fatalf("integer form: %v", err)
	}
	if d.Duration != 5*time.Second {
		t.Fatalf("duration=%v, want 5s", d.Duration)
	}

	if err := json.Unmarshal([]byte(`"soon"`), &d); err == nil {
		t.Fatal("expected error for unparseable duration")
	}

	if err := yaml.Unmarshal([]byte(`45s`), &d); err != nil {
		t.Fatalf("yaml string form: %v", err)
	}
	if d.Duration != 45*time.Second {
		t.Fatalf("duration=%v, want 45s", d.Duration)
	}
}
