// Package config holds the dfserve server configuration.
//
// Values are resolved in order default → file → env → flags; each layer only
// overrides what it sets. The file is YAML, so JSON configs load unchanged.
package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the resolved server configuration.
type Config struct {
	Addr       string        `yaml:"addr"`
	ContentDir string        `yaml:"content_dir"`
	Storage    StorageConfig `yaml:"storage"`
	Upload     UploadConfig  `yaml:"upload"`
	LLM        LLMConfig     `yaml:"llm"`
	Metrics    MetricsConfig `yaml:"metrics"`
	Verbose    bool          `yaml:"verbose"`
}

// StorageConfig selects a storage backend registered with internal/storage.
type StorageConfig struct {
	Kind string `yaml:"kind"`
	DSN  string `yaml:"dsn"`
}

// UploadConfig bounds uploads and paging.
type UploadConfig struct {
	MaxBytes        int64 `yaml:"max_bytes"`
	DefaultPageSize int   `yaml:"default_page_size"`
	MaxPageSize     int   `yaml:"max_page_size"`
	SampleRows      int   `yaml:"sample_rows"`
}

// LLMConfig configures the find-and-replace generator. An empty APIKey
// disables find-and-replace.
type LLMConfig struct {
	BaseURL string        `yaml:"base_url"`
	APIKey  string        `yaml:"api_key"`
	Model   string        `yaml:"model"`
	Timeout time.Duration `yaml:"timeout"`
}

// MetricsConfig selects the metrics backend ("none" or "datadog").
type MetricsConfig struct {
	Backend string   `yaml:"backend"`
	Tags    []string `yaml:"tags"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Addr:       ":8000",
		ContentDir: "content",
		Storage: StorageConfig{
			Kind: "sqlite",
			DSN:  "file:dfapi.db?_pragma=foreign_keys(1)",
		},
		Upload: UploadConfig{
			MaxBytes:        3 << 20,
			DefaultPageSize: 10,
			MaxPageSize:     1000,
			SampleRows:      10,
		},
		LLM:     LLMConfig{Timeout: 30 * time.Second},
		Metrics: MetricsConfig{Backend: "none"},
	}
}

// LoadFile overlays the YAML (or JSON) file at path onto cfg.
func LoadFile(cfg *Config, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return fmt.Errorf("config: decode %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overlays environment variables onto cfg. getenv is os.Getenv in
// production.
func ApplyEnv(cfg *Config, getenv func(string) string) error {
	set := func(dst *string, key string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	set(&cfg.Addr, "DFAPI_ADDR")
	set(&cfg.ContentDir, "DFAPI_CONTENT_DIR")
	set(&cfg.Storage.Kind, "DFAPI_STORAGE_KIND")
	set(&cfg.Storage.DSN, "DSN")
	set(&cfg.Metrics.Backend, "METRICS_BACKEND")
	set(&cfg.LLM.APIKey, "LLM_API_KEY")
	set(&cfg.LLM.BaseURL, "LLM_BASE_URL")
	set(&cfg.LLM.Model, "LLM_MODEL")

	if v := strings.TrimSpace(getenv("METRICS_TAGS")); v != "" {
		cfg.Metrics.Tags = splitCSV(v)
	}
	if v := strings.TrimSpace(getenv("DFAPI_MAX_UPLOAD_BYTES")); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("config: DFAPI_MAX_UPLOAD_BYTES=%q: %w", v, err)
		}
		cfg.Upload.MaxBytes = n
	}
	if v := strings.TrimSpace(getenv("LLM_TIMEOUT")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("config: LLM_TIMEOUT=%q: %w", v, err)
		}
		cfg.LLM.Timeout = d
	}
	return nil
}

// BindFlags registers flags on fs that write into cfg when set. Call it after
// the file and env layers so flag values win.
func BindFlags(fs *flag.FlagSet, cfg *Config) {
	fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "listen address")
	fs.StringVar(&cfg.ContentDir, "content-dir", cfg.ContentDir, "directory for uploaded files")
	fs.StringVar(&cfg.Storage.Kind, "storage", cfg.Storage.Kind, "storage backend (sqlite, postgres, mssql)")
	fs.StringVar(&cfg.Storage.DSN, "dsn", cfg.Storage.DSN, "storage DSN (overrides env DSN)")
	fs.StringVar(&cfg.Metrics.Backend, "metrics-backend", cfg.Metrics.Backend, "metrics backend (none, datadog)")
	fs.Int64Var(&cfg.Upload.MaxBytes, "max-upload", cfg.Upload.MaxBytes, "maximum upload size in bytes")
	fs.BoolVar(&cfg.Verbose, "v", cfg.Verbose, "enable debug logs")
}

func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
