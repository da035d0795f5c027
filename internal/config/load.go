package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mrkhmath/mathgraph-backend/internal/platform/envutil"
)

func (d *Duration) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "" || s == "null" {
		d.Duration = 0
		return nil
	}
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		u, err := strconv.Unquote(s)
		if err != nil {
			return err
		}
		return d.parse(u)
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("duration must be a string like \"5s\" or int nanoseconds: %w", err)
	}
	d.Duration = time.Duration(n)
	return nil
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		return d.parse(s)
	}
	var n int64
	if err := value.Decode(&n); err != nil {
		return fmt.Errorf("duration must be a string like \"5s\" or int nanoseconds")
	}
	d.Duration = time.Duration(n)
	return nil
}

func (d *Duration) parse(s string) error {
	if strings.TrimSpace(s) == "" {
		d.Duration = 0
		return nil
	}
	dd, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil {
		return err
	}
	d.Duration = dd
	return nil
}

func defaultConfig() *Config {
	return &Config{
		Env: "development",
		HTTP: HTTPConfig{
			Addr:              ":8080",
			ReadHeaderTimeout: Duration{Duration: 5 * time.Second},
			IdleTimeout:       Duration{Duration: 2 * time.Minute},
			ShutdownTimeout:   Duration{Duration: 15 * time.Second},
			MaxRequestBytes:   1 << 20,
			CORSOrigins: []string{
				"http://localhost:3000",
				"https://mathgraphexplorer.netlify.app",
			},
		},
		Subgraphs: SubgraphConfig{
			Fetcher:             "http",
			BaseURL:             "https://huggingface.co/datasets/mrkhmath/ccss-enriched-subgraphs/resolve/main/subgraphs",
			Ext:                 ".json",
			CacheDir:            "/tmp/subgraphs",
			MaxCacheMB:          200,
			DownloadConcurrency: 2,
			AttemptTimeout:      Duration{Duration: 45 * time.Second},
		},
		Sequences: SequenceConfig{
			Source: "json",
			Path:   "data/student_sequences.json",
		},
		Scorer: ScorerConfig{
			Type: "mock",
		},
		Pipeline: PipelineConfig{
			HistoryLimit:   32,
			DownloadBudget: 12,
			Threshold:      0.7,
		},
		Projection: ProjectionConfig{
			RedisTTL: Duration{Duration: 5 * time.Minute},
		},
	}
}

func Load() (*Config, error) {
	cfg := defaultConfig()

	cfgPath := strings.TrimSpace(os.Getenv("MG_CONFIG_PATH"))
	if cfgPath == "" {
		if wd, err := os.Getwd(); err == nil {
			for _, name := range []string{"config.json", "config.yaml", "config.yml"} {
				p := filepath.Join(wd, "config", name)
				if _, err := os.Stat(p); err == nil {
					cfgPath = p
					break
				}
			}
		}
	}

	if cfgPath != "" {
		b, err := os.ReadFile(cfgPath)
		if err != nil {
			return nil, err
		}
		var loaded Config
		switch strings.ToLower(filepath.Ext(cfgPath)) {
		case ".yaml", ".yml":
			if err := yaml.Unmarshal(b, &loaded); err != nil {
				return nil, fmt.Errorf("parse %s: %w", cfgPath, err)
			}
		default:
			if err := json.Unmarshal(b, &loaded); err != nil {
				return nil, fmt.Errorf("parse %s: %w", cfgPath, err)
			}
		}
		*cfg = loaded
	}

	applyEnv(cfg)

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("LOG_MODE")); v != "" {
		cfg.Env = v
	}
	cfg.HTTP.Addr = envutil.Str("MG_HTTP_ADDR", cfg.HTTP.Addr)
	cfg.Subgraphs.Fetcher = envutil.Str("MG_SUBGRAPH_FETCHER", cfg.Subgraphs.Fetcher)
	cfg.Subgraphs.BaseURL = envutil.Str("MG_SUBGRAPH_BASE_URL", cfg.Subgraphs.BaseURL)
	cfg.Subgraphs.CacheDir = envutil.Str("MG_SUBGRAPH_CACHE", cfg.Subgraphs.CacheDir)
	cfg.Subgraphs.MaxCacheMB = envutil.Int("MG_SUBGRAPH_MAX_CACHE_MB", cfg.Subgraphs.MaxCacheMB)
	cfg.Subgraphs.GCSBucket = envutil.Str("MG_SUBGRAPH_GCS_BUCKET", cfg.Subgraphs.GCSBucket)
	cfg.Sequences.Source = envutil.Str("MG_SEQUENCE_SOURCE", cfg.Sequences.Source)
	cfg.Sequences.Path = envutil.Str("MG_SEQUENCE_PATH", cfg.Sequences.Path)
	cfg.Sequences.DSN = envutil.Str("MG_SEQUENCE_DSN", cfg.Sequences.DSN)
	cfg.Scorer.Type = envutil.Str("MG_SCORER_TYPE", cfg.Scorer.Type)
	cfg.Scorer.CheckpointPath = envutil.Str("MG_CHECKPOINT_PATH", cfg.Scorer.CheckpointPath)
	cfg.Pipeline.HistoryLimit = envutil.Int("MG_HISTORY_LIMIT", cfg.Pipeline.HistoryLimit)
	cfg.Pipeline.DownloadBudget = envutil.Int("MG_DOWNLOAD_BUDGET", cfg.Pipeline.DownloadBudget)
	cfg.Pipeline.Threshold = envutil.Float("MG_READINESS_THRESHOLD", cfg.Pipeline.Threshold)
	cfg.Projection.RedisAddr = envutil.Str("MG_REDIS_ADDR", cfg.Projection.RedisAddr)
}

func validate(cfg *Config) error {
	if cfg.Env == "" {
		cfg.Env = "development"
	}
	if strings.TrimSpace(cfg.HTTP.Addr) == "" {
		cfg.HTTP.Addr = ":8080"
	}
	if cfg.HTTP.MaxRequestBytes <= 0 {
		cfg.HTTP.MaxRequestBytes = 1 << 20
	}
	if cfg.HTTP.ReadHeaderTimeout.Duration <= 0 {
		cfg.HTTP.ReadHeaderTimeout = Duration{Duration: 5 * time.Second}
	}
	if cfg.HTTP.IdleTimeout.Duration <= 0 {
		cfg.HTTP.IdleTimeout = Duration{Duration: 2 * time.Minute}
	}
	if cfg.HTTP.ShutdownTimeout.Duration <= 0 {
		cfg.HTTP.ShutdownTimeout = Duration{Duration: 15 * time.Second}
	}

	cfg.Subgraphs.Fetcher = strings.ToLower(strings.TrimSpace(cfg.Subgraphs.Fetcher))
	switch cfg.Subgraphs.Fetcher {
	case "", "http":
		cfg.Subgraphs.Fetcher = "http"
		if strings.TrimSpace(cfg.Subgraphs.BaseURL) == "" {
			return fmt.Errorf("subgraphs.base_url required for http fetcher")
		}
	case "gcs":
		if strings.TrimSpace(cfg.Subgraphs.GCSBucket) == "" {
			return fmt.Errorf("subgraphs.gcs_bucket required for gcs fetcher")
		}
	default:
		return fmt.Errorf("unsupported subgraphs.fetcher %q", cfg.Subgraphs.Fetcher)
	}
	if strings.TrimSpace(cfg.Subgraphs.CacheDir) == "" {
		return fmt.Errorf("subgraphs.cache_dir required")
	}
	if cfg.Subgraphs.Ext == "" {
		cfg.Subgraphs.Ext = ".json"
	}
	if !strings.HasPrefix(cfg.Subgraphs.Ext, ".") {
		cfg.Subgraphs.Ext = "." + cfg.Subgraphs.Ext
	}
	if cfg.Subgraphs.MaxCacheMB <= 0 {
		cfg.Subgraphs.MaxCacheMB = 200
	}
	if cfg.Subgraphs.DownloadConcurrency <= 0 {
		cfg.Subgraphs.DownloadConcurrency = 2
	}
	if cfg.Subgraphs.AttemptTimeout.Duration <= 0 {
		cfg.Subgraphs.AttemptTimeout = Duration{Duration: 45 * time.Second}
	}

	cfg.Sequences.Source = strings.ToLower(strings.TrimSpace(cfg.Sequences.Source))
	switch cfg.Sequences.Source {
	case "", "json":
		cfg.Sequences.Source = "json"
		if strings.TrimSpace(cfg.Sequences.Path) == "" {
			return fmt.Errorf("sequences.path required for json source")
		}
	case "sqlite":
		if strings.TrimSpace(cfg.Sequences.Path) == "" {
			return fmt.Errorf("sequences.path required for sqlite source")
		}
	case "postgres":
		if strings.TrimSpace(cfg.Sequences.DSN) == "" {
			return fmt.Errorf("sequences.dsn required for postgres source")
		}
	default:
		return fmt.Errorf("unsupported sequences.source %q", cfg.Sequences.Source)
	}

	cfg.Scorer.Type = strings.ToLower(strings.TrimSpace(cfg.Scorer.Type))
	switch cfg.Scorer.Type {
	case "", "mock":
		cfg.Scorer.Type = "mock"
	case "ginlstm":
		if strings.TrimSpace(cfg.Scorer.CheckpointPath) == "" {
			return fmt.Errorf("scorer.checkpoint_path required for ginlstm scorer")
		}
	default:
		return fmt.Errorf("unsupported scorer.type %q", cfg.Scorer.Type)
	}

	if cfg.Pipeline.HistoryLimit <= 0 {
		cfg.Pipeline.HistoryLimit = 32
	}
	if cfg.Pipeline.DownloadBudget <= 0 {
		cfg.Pipeline.DownloadBudget = 12
	}
	if cfg.Pipeline.Threshold <= 0 {
		cfg.Pipeline.Threshold = 0.7
	}
	if cfg.Pipeline.Threshold >= 1 {
		return fmt.Errorf("pipeline.threshold must be below 1, got %v", cfg.Pipeline.Threshold)
	}
	if cfg.Projection.RedisTTL.Duration <= 0 {
		cfg.Projection.RedisTTL = Duration{Duration: 5 * time.Minute}
	}
	return nil
}
