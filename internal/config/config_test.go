package config

import (
	"flag"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestDefaultIsValid(t *testing.T) {
	t.Parallel()

	issues := Validate(Default(), []string{"mssql", "postgres", "sqlite"})
	if HasErrors(issues) {
		t.Fatalf("default config has errors: %v", issues)
	}
	// Only the missing LLM key is reported.
	if len(issues) != 1 || issues[0].Path != "llm.api_key" || issues[0].Severity != SeverityWarning {
		t.Fatalf("issues=%v, want one llm.api_key warning", issues)
	}
}

func TestLayers_FileEnvFlags(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "dfapi.yaml")
	yml := `
addr: ":9000"
storage:
  kind: postgres
  dsn: postgres://file
upload:
  max_bytes: 1024
llm:
  model: file-model
  timeout: 5s
metrics:
  tags: [service:dfapi]
`
	if err := os.WriteFile(path, []byte(yml), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := Default()
	if err := LoadFile(&cfg, path); err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Addr != ":9000" || cfg.Storage.Kind != "postgres" || cfg.Upload.MaxBytes != 1024 || cfg.LLM.Timeout != 5*time.Second {
		t.Fatalf("after file: %+v", cfg)
	}
	if cfg.Upload.DefaultPageSize != 10 || cfg.ContentDir != "content" {
		t.Fatalf("file layer dropped defaults: %+v", cfg)
	}

	err := ApplyEnv(&cfg, envMap(map[string]string{
		"DSN":          "postgres://env",
		"LLM_API_KEY":  "secret",
		"METRICS_TAGS": " team:data, ,env:ci ",
		"LLM_TIMEOUT":  "2s",
	}))
	if err != nil {
		t.Fatalf("ApplyEnv: %v", err)
	}
	if cfg.Storage.DSN != "postgres://env" || cfg.LLM.APIKey != "secret" || cfg.LLM.Model != "file-model" || cfg.LLM.Timeout != 2*time.Second {
		t.Fatalf("after env: %+v", cfg)
	}
	if want := []string{"team:data", "env:ci"}; !reflect.DeepEqual(cfg.Metrics.Tags, want) {
		t.Fatalf("tags=%v, want %v", cfg.Metrics.Tags, want)
	}

	fs := flag.NewFlagSet("dfserve", flag.ContinueOnError)
	BindFlags(fs, &cfg)
	if err := fs.Parse([]string{"-dsn", "postgres://flag", "-v"}); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Storage.DSN != "postgres://flag" || !cfg.Verbose || cfg.Addr != ":9000" {
		t.Fatalf("after flags: %+v", cfg)
	}
}

func TestLoadFile_JSON(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "dfapi.json")
	if err := os.WriteFile(path, []byte(`{"content_dir": "/srv/blobs", "storage": {"kind": "mssql"}}`), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := Default()
	if err := LoadFile(&cfg, path); err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.ContentDir != "/srv/blobs" || cfg.Storage.Kind != "mssql" {
		t.Fatalf("cfg=%+v", cfg)
	}
}

func TestLoadFile_Errors(t *testing.T) {
	t.Parallel()

	cfg := Default()
	if err := LoadFile(&cfg, filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("missing file: err=nil")
	}
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("addr: [unclosed"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := LoadFile(&cfg, path); err == nil || !strings.Contains(err.Error(), "config: decode") {
		t.Fatalf("bad yaml: err=%v", err)
	}
}

func TestApplyEnv_BadNumbers(t *testing.T) {
	t.Parallel()

	for _, env := range []map[string]string{
		{"DFAPI_MAX_UPLOAD_BYTES": "3MB"},
		{"LLM_TIMEOUT": "soon"},
	} {
		cfg := Default()
		if err := ApplyEnv(&cfg, envMap(env)); err == nil {
			t.Fatalf("ApplyEnv(%v): err=nil", env)
		}
	}
}

func TestValidate_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*Config)
		path   string
	}{
		{"bad addr", func(c *Config) { c.Addr = "8000" }, "addr"},
		{"empty content dir", func(c *Config) { c.ContentDir = " " }, "content_dir"},
		{"unknown storage", func(c *Config) { c.Storage.Kind = "mongo" }, "storage.kind"},
		{"empty dsn", func(c *Config) { c.Storage.DSN = "" }, "storage.dsn"},
		{"zero upload", func(c *Config) { c.Upload.MaxBytes = 0 }, "upload.max_bytes"},
		{"page bounds", func(c *Config) { c.Upload.MaxPageSize = 5 }, "upload.max_page_size"},
		{"sample rows", func(c *Config) { c.Upload.SampleRows = 0 }, "upload.sample_rows"},
		{"llm timeout", func(c *Config) { c.LLM.Timeout = 0 }, "llm.timeout"},
		{"metrics backend", func(c *Config) { c.Metrics.Backend = "prometheus" }, "metrics.backend"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := Default()
			cfg.LLM.APIKey = "k"
			tt.mutate(&cfg)
			issues := Validate(cfg, []string{"sqlite"})
			if !HasErrors(issues) {
				t.Fatalf("issues=%v, want an error", issues)
			}
			if issues[0].Path != tt.path {
				t.Fatalf("path=%q, want %q (issues=%v)", issues[0].Path, tt.path, issues)
			}
		})
	}
}
