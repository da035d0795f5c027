package config

import "time"

type Duration struct {
	Duration time.Duration
}

type HTTPConfig struct {
	Addr              string   `json:"addr" yaml:"addr"`
	ReadHeaderTimeout Duration `json:"read_header_timeout" yaml:"read_header_timeout"`
	IdleTimeout       Duration `json:"idle_timeout" yaml:"idle_timeout"`
	ShutdownTimeout   Duration `json:"shutdown_timeout" yaml:"shutdown_timeout"`
	MaxRequestBytes   int64    `json:"max_request_bytes" yaml:"max_request_bytes"`

	// CORSOrigins is the browser origin allow-list for the explorer UI.
	CORSOrigins []string `json:"cors_origins" yaml:"cors_origins"`
}

type SubgraphConfig struct {
	// Fetcher selects the remote artifact store: "http" or "gcs".
	Fetcher string `json:"fetcher" yaml:"fetcher"`

	// BaseURL is the HTTP store root; artifacts live at {base}/{code}{ext}.
	BaseURL string `json:"base_url" yaml:"base_url"`
	Ext     string `json:"ext" yaml:"ext"`

	CacheDir            string   `json:"cache_dir" yaml:"cache_dir"`
	MaxCacheMB          int      `json:"max_cache_mb" yaml:"max_cache_mb"`
	DownloadConcurrency int      `json:"download_concurrency" yaml:"download_concurrency"`
	AttemptTimeout      Duration `json:"attempt_timeout" yaml:"attempt_timeout"`

	GCSBucket          string `json:"gcs_bucket,omitempty" yaml:"gcs_bucket"`
	GCSPrefix          string `json:"gcs_prefix,omitempty" yaml:"gcs_prefix"`
	GCSCredentialsFile string `json:"gcs_credentials_file,omitempty" yaml:"gcs_credentials_file"`

	// WarmCodes are prefetched at startup so first requests stay on the fast
	// path.
	WarmCodes []string `json:"warm_codes,omitempty" yaml:"warm_codes"`
}

type SequenceConfig struct {
	// Source selects the static history source: "json", "sqlite" or
	// "postgres".
	Source string `json:"source" yaml:"source"`
	Path   string `json:"path,omitempty" yaml:"path"`
	DSN    string `json:"dsn,omitempty" yaml:"dsn"`
}

type ScorerConfig struct {
	// Type selects the scoring model: "ginlstm" or "mock".
	Type           string `json:"type" yaml:"type"`
	CheckpointPath string `json:"checkpoint_path,omitempty" yaml:"checkpoint_path"`
}

type PipelineConfig struct {
	HistoryLimit   int     `json:"history_limit" yaml:"history_limit"`
	DownloadBudget int     `json:"download_budget" yaml:"download_budget"`
	Threshold      float64 `json:"threshold" yaml:"threshold"`
}

type ProjectionConfig struct {
	// RedisAddr enables the projection response cache when set.
	RedisAddr string   `json:"redis_addr,omitempty" yaml:"redis_addr"`
	RedisTTL  Duration `json:"redis_ttl,omitempty" yaml:"redis_ttl"`
}

type Config struct {
	Env        string           `json:"env" yaml:"env"`
	HTTP       HTTPConfig       `json:"http" yaml:"http"`
	Subgraphs  SubgraphConfig   `json:"subgraphs" yaml:"subgraphs"`
	Sequences  SequenceConfig   `json:"sequences" yaml:"sequences"`
	Scorer     ScorerConfig     `json:"scorer" yaml:"scorer"`
	Pipeline   PipelineConfig   `json:"pipeline" yaml:"pipeline"`
	Projection ProjectionConfig `json:"projection" yaml:"projection"`
}
