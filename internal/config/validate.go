package config

import (
	"fmt"
	"net"
	"slices"
	"strings"
)

// Severity classifies a validation Issue.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Issue is one validation finding at a dotted config path.
type Issue struct {
	Severity Severity
	Path     string
	Message  string
}

func (i Issue) String() string {
	return fmt.Sprintf("%s: %s: %s", i.Severity, i.Path, i.Message)
}

// HasErrors reports whether any issue is an error.
func HasErrors(issues []Issue) bool {
	return slices.ContainsFunc(issues, func(i Issue) bool { return i.Severity == SeverityError })
}

// Validate checks cfg. storageKinds lists the registered storage backends;
// a nil slice skips that check.
func Validate(cfg Config, storageKinds []string) []Issue {
	var issues []Issue
	errf := func(path, format string, a ...any) {
		issues = append(issues, Issue{SeverityError, path, fmt.Sprintf(format, a...)})
	}
	warnf := func(path, format string, a ...any) {
		issues = append(issues, Issue{SeverityWarning, path, fmt.Sprintf(format, a...)})
	}

	if _, _, err := net.SplitHostPort(cfg.Addr); err != nil {
		errf("addr", "invalid listen address %q: %v", cfg.Addr, err)
	}
	if strings.TrimSpace(cfg.ContentDir) == "" {
		errf("content_dir", "must not be empty")
	}

	switch {
	case cfg.Storage.Kind == "":
		errf("storage.kind", "must not be empty")
	case storageKinds != nil && !slices.Contains(storageKinds, cfg.Storage.Kind):
		errf("storage.kind", "unsupported kind %q (have %s)", cfg.Storage.Kind, strings.Join(storageKinds, ", "))
	}
	if strings.TrimSpace(cfg.Storage.DSN) == "" {
		errf("storage.dsn", "must not be empty")
	}

	if cfg.Upload.MaxBytes <= 0 {
		errf("upload.max_bytes", "must be positive, got %d", cfg.Upload.MaxBytes)
	}
	if cfg.Upload.DefaultPageSize <= 0 {
		errf("upload.default_page_size", "must be positive, got %d", cfg.Upload.DefaultPageSize)
	}
	if cfg.Upload.MaxPageSize < cfg.Upload.DefaultPageSize {
		errf("upload.max_page_size", "must be >= default_page_size (%d), got %d", cfg.Upload.DefaultPageSize, cfg.Upload.MaxPageSize)
	}
	if cfg.Upload.SampleRows <= 0 {
		errf("upload.sample_rows", "must be positive, got %d", cfg.Upload.SampleRows)
	}

	if cfg.LLM.APIKey == "" {
		warnf("llm.api_key", "not set; find-and-replace is disabled")
	}
	if cfg.LLM.Timeout <= 0 {
		errf("llm.timeout", "must be positive, got %s", cfg.LLM.Timeout)
	}

	switch cfg.Metrics.Backend {
	case "", "none", "datadog":
	default:
		errf("metrics.backend", "unknown backend %q (none|datadog)", cfg.Metrics.Backend)
	}
	return issues
}
