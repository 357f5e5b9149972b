package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"dfapi/internal/metrics/datadog"
	"dfapi/internal/storage"
)

// fakeMetricsBackend is a deterministic metrics backend used by initMetrics tests.
type fakeMetricsBackend struct {
	closeErr error
	closed   atomic.Int64
}

func (b *fakeMetricsBackend) Close() error {
	b.closed.Add(1)
	return b.closeErr
}

func mustNotRun(t *testing.T) appDeps {
	return appDeps{
		getenv: func(string) string { return "" },
		initMetrics: func(context.Context, string, string, []string) (func(), error) {
			t.Fatalf("initMetrics must not be called")
			return func() {}, nil
		},
		openStore: func(context.Context, storage.Config) (storage.Repository, error) {
			t.Fatalf("openStore must not be called")
			return nil, nil
		},
		serve: func(context.Context, string, http.Handler, *slog.Logger) error {
			t.Fatalf("serve must not be called")
			return nil
		},
	}
}

func TestRunMain_UsageErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		args          []string
		wantStderrSub string
	}{
		{"unknown_flag", []string{"-nope"}, "flag provided but not defined"},
		{"positional_arg", []string{"serve"}, "unexpected argument"},
		{"bad_flag_value", []string{"-max-upload", "lots"}, "invalid value"},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			var stdout, stderr bytes.Buffer
			code := runMain(context.Background(), tc.args, &stdout, &stderr, mustNotRun(t))
			if code != 2 {
				t.Fatalf("exit code=%d, want 2; stderr=%q", code, stderr.String())
			}
			if !strings.Contains(stderr.String(), tc.wantStderrSub) {
				t.Fatalf("stderr=%q, want contains %q", stderr.String(), tc.wantStderrSub)
			}
			if stdout.Len() != 0 {
				t.Fatalf("stdout=%q, want empty", stdout.String())
			}
		})
	}
}

func TestRunMain_ConfigErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		args          []string
		env           map[string]string
		wantStderrSub []string
	}{
		{
			name:          "missing_config_file",
			args:          []string{"-config", filepath.Join(t.TempDir(), "nope.yaml")},
			wantStderrSub: []string{"read config:"},
		},
		{
			name:          "bad_env_number",
			env:           map[string]string{"DFAPI_MAX_UPLOAD_BYTES": "many"},
			wantStderrSub: []string{"read env:", "DFAPI_MAX_UPLOAD_BYTES"},
		},
		{
			name:          "unknown_storage_kind",
			args:          []string{"-storage", "mongo"},
			wantStderrSub: []string{"error: storage.kind", "configuration is invalid"},
		},
		{
			name:          "flag_beats_env",
			args:          []string{"-metrics-backend", "statsd"},
			env:           map[string]string{"METRICS_BACKEND": "none"},
			wantStderrSub: []string{"metrics.backend", "statsd"},
		},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			deps := mustNotRun(t)
			deps.getenv = func(k string) string { return tc.env[k] }

			var stdout, stderr bytes.Buffer
			code := runMain(context.Background(), tc.args, &stdout, &stderr, deps)
			if code != 1 {
				t.Fatalf("exit code=%d, want 1; stderr=%q", code, stderr.String())
			}
			for _, sub := range tc.wantStderrSub {
				if !strings.Contains(stderr.String(), sub) {
					t.Fatalf("stderr=%q, want contains %q", stderr.String(), sub)
				}
			}
		})
	}
}

func TestRunMain_ValidateOnly(t *testing.T) {
	t.Parallel()

	var stdout, stderr bytes.Buffer
	code := runMain(context.Background(), []string{"-validate"}, &stdout, &stderr, mustNotRun(t))
	if code != 0 {
		t.Fatalf("exit code=%d, want 0; stderr=%q", code, stderr.String())
	}
	if got := stdout.String(); got != "configuration is valid\n" {
		t.Fatalf("stdout=%q", got)
	}
	if !strings.Contains(stderr.String(), "warning: llm.api_key") {
		t.Fatalf("stderr=%q, want the api key warning", stderr.String())
	}
}

func TestRunMain_ServeFlow(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name             string
		initMetricsErr   error
		serveErr         error
		wantCode         int
		wantStderrSub    string
		wantServeCalls   int64
		wantCleanupCalls int64
	}{
		{
			name:           "init_metrics_error",
			initMetricsErr: errors.New("metrics unavailable"),
			wantCode:       1,
			wantStderrSub:  "init metrics:",
		},
		{
			name:             "serve_error_runs_cleanup",
			serveErr:         errors.New("address in use"),
			wantCode:         1,
			wantStderrSub:    "serve: address in use",
			wantServeCalls:   1,
			wantCleanupCalls: 1,
		},
		{
			name:             "success",
			wantCode:         0,
			wantStderrSub:    "dfserve starting",
			wantServeCalls:   1,
			wantCleanupCalls: 1,
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			dir := t.TempDir()

			var cleanupCalls, serveCalls atomic.Int64
			var gotTags []string
			deps := appDeps{
				getenv: func(k string) string {
					if k == "METRICS_TAGS" {
						return "env:test, team:data"
					}
					return ""
				},
				initMetrics: func(_ context.Context, jobName, _ string, tags []string) (func(), error) {
					if jobName != "dfapi" {
						t.Fatalf("jobName=%q, want dfapi", jobName)
					}
					gotTags = tags
					if tc.initMetricsErr != nil {
						return func() {}, tc.initMetricsErr
					}
					return func() { cleanupCalls.Add(1) }, nil
				},
				openStore: storage.New,
				serve: func(_ context.Context, addr string, h http.Handler, _ *slog.Logger) error {
					serveCalls.Add(1)
					if addr != "127.0.0.1:0" {
						t.Fatalf("addr=%q", addr)
					}
					rec := httptest.NewRecorder()
					h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
					if rec.Code != http.StatusOK {
						t.Fatalf("healthz status=%d", rec.Code)
					}
					return tc.serveErr
				},
			}

			args := []string{
				"-addr", "127.0.0.1:0",
				"-content-dir", filepath.Join(dir, "content"),
				"-dsn", "file:" + filepath.Join(dir, "t.db") + "?_pragma=foreign_keys(1)",
			}
			var stdout, stderr bytes.Buffer
			code := runMain(context.Background(), args, &stdout, &stderr, deps)

			if code != tc.wantCode {
				t.Fatalf("exit code=%d, want %d; stderr=%q", code, tc.wantCode, stderr.String())
			}
			if !strings.Contains(stderr.String(), tc.wantStderrSub) {
				t.Fatalf("stderr=%q, want contains %q", stderr.String(), tc.wantStderrSub)
			}
			if len(gotTags) != 2 || gotTags[1] != "team:data" {
				t.Fatalf("metrics tags=%q", gotTags)
			}
			if got := serveCalls.Load(); got != tc.wantServeCalls {
				t.Fatalf("serve calls=%d, want %d", got, tc.wantServeCalls)
			}
			if got := cleanupCalls.Load(); got != tc.wantCleanupCalls {
				t.Fatalf("cleanup calls=%d, want %d", got, tc.wantCleanupCalls)
			}
		})
	}
}

func TestServe_StopsOnCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	h := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {})
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	if err := serve(ctx, "127.0.0.1:0", h, logger); err != nil {
		t.Fatalf("serve err=%v, want nil", err)
	}
}

// The initMetrics tests swap package-level seams, so they do not run in parallel.

func TestInitMetrics_None_DoesNotMutateGlobalState(t *testing.T) {
	oldSet := setMetricsBackend
	defer func() { setMetricsBackend = oldSet }()

	setMetricsBackend = func(any) {
		t.Fatalf("setMetricsBackend must not be called for none/noop")
	}

	for _, name := range []string{"", "none", "noop"} {
		cleanup, err := initMetrics(context.Background(), "job", name, nil)
		if err != nil {
			t.Fatalf("initMetrics(%q) err=%v, want nil", name, err)
		}
		if cleanup == nil {
			t.Fatalf("cleanup=nil, want non-nil")
		}
		cleanup()
	}
}

func TestInitMetrics_Datadog_WiresBackendAndCloses(t *testing.T) {
	b := &fakeMetricsBackend{}

	var (
		newCalls atomic.Int64
		setCalls atomic.Int64
		gotOpts  datadog.Options
	)

	oldNew, oldSet, oldLog := newDatadogBackend, setMetricsBackend, logPrintf
	defer func() {
		newDatadogBackend, setMetricsBackend, logPrintf = oldNew, oldSet, oldLog
	}()

	newDatadogBackend = func(_ context.Context, opts datadog.Options) (metricsBackend, error) {
		newCalls.Add(1)
		gotOpts = opts
		return b, nil
	}
	// Wiring then unwiring: one call with the backend, one with nil.
	setMetricsBackend = func(any) { setCalls.Add(1) }

	var logged bytes.Buffer
	logPrintf = func(format string, v ...any) { fmt.Fprintf(&logged, format, v...) }

	cleanup, err := initMetrics(context.Background(), "jobA", "datadog", []string{"env:ci"})
	if err != nil {
		t.Fatalf("initMetrics err=%v, want nil", err)
	}
	if gotOpts.JobName != "jobA" || len(gotOpts.Tags) != 1 || gotOpts.Tags[0] != "env:ci" {
		t.Fatalf("datadog options=%+v", gotOpts)
	}
	if newCalls.Load() != 1 || setCalls.Load() != 1 {
		t.Fatalf("new=%d set=%d, want 1 and 1", newCalls.Load(), setCalls.Load())
	}

	cleanup()
	if b.closed.Load() != 1 {
		t.Fatalf("backend closed=%d, want 1", b.closed.Load())
	}
	if setCalls.Load() != 2 {
		t.Fatalf("set calls after cleanup=%d, want 2", setCalls.Load())
	}
	if logged.Len() != 0 {
		t.Fatalf("unexpected log output: %q", logged.String())
	}
}

func TestInitMetrics_Datadog_CloseErrorIsLogged(t *testing.T) {
	b := &fakeMetricsBackend{closeErr: errors.New("flush failed")}

	oldNew, oldSet, oldLog := newDatadogBackend, setMetricsBackend, logPrintf
	defer func() {
		newDatadogBackend, setMetricsBackend, logPrintf = oldNew, oldSet, oldLog
	}()

	newDatadogBackend = func(context.Context, datadog.Options) (metricsBackend, error) { return b, nil }
	setMetricsBackend = func(any) {}

	var logged bytes.Buffer
	logPrintf = func(format string, v ...any) { fmt.Fprintf(&logged, format, v...) }

	cleanup, err := initMetrics(context.Background(), "job", "dd", nil)
	if err != nil {
		t.Fatalf("initMetrics err=%v, want nil", err)
	}
	cleanup()

	if b.closed.Load() != 1 {
		t.Fatalf("backend closed=%d, want 1", b.closed.Load())
	}
	if !strings.Contains(logged.String(), "metrics: datadog close error") || !strings.Contains(logged.String(), "flush failed") {
		t.Fatalf("log=%q, want close error with cause", logged.String())
	}
}

func TestInitMetrics_Datadog_ConstructorError(t *testing.T) {
	oldNew, oldSet := newDatadogBackend, setMetricsBackend
	defer func() { newDatadogBackend, setMetricsBackend = oldNew, oldSet }()

	newDatadogBackend = func(context.Context, datadog.Options) (metricsBackend, error) {
		return nil, errors.New("no api key")
	}
	setMetricsBackend = func(any) { t.Fatalf("setMetricsBackend must not be called on constructor error") }

	cleanup, err := initMetrics(context.Background(), "job", "datadog", nil)
	if err == nil || !strings.Contains(err.Error(), "no api key") {
		t.Fatalf("err=%v, want constructor error", err)
	}
	cleanup()
}

func TestInitMetrics_UnknownBackendErrors(t *testing.T) {
	cleanup, err := initMetrics(context.Background(), "job", "nope", nil)
	if err == nil {
		t.Fatalf("initMetrics err=nil, want error")
	}
	if cleanup == nil {
		t.Fatalf("cleanup=nil, want non-nil")
	}
	cleanup()

	if !strings.Contains(err.Error(), "unknown metrics backend") || !strings.Contains(err.Error(), "none|datadog") {
		t.Fatalf("err=%q, want unknown backend message", err.Error())
	}
}
