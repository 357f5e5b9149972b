// Command dfserve runs the dataframe HTTP API.
//
// Configuration is layered default → -config file → environment → flags (see
// internal/config). Start-up validates the result, prints every issue to
// stderr and refuses to start on errors; -validate stops after validation.
//
// Metrics go to the backend named by -metrics-backend / METRICS_BACKEND
// ("none" or "datadog"). The Datadog backend flushes periodically and once
// more on shutdown.
//
// SIGINT/SIGTERM trigger a graceful shutdown.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dfapi/internal/api"
	"dfapi/internal/config"
	"dfapi/internal/dataframe"
	"dfapi/internal/filestore"
	"dfapi/internal/findreplace"
	"dfapi/internal/metrics"
	"dfapi/internal/metrics/datadog"
	"dfapi/internal/storage"

	// register all backends with the storage factory.
	_ "dfapi/internal/storage/all"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := runMain(ctx, os.Args[1:], os.Stdout, os.Stderr, defaultDeps())
	stop()
	os.Exit(code)
}

// appDeps are the side-effecting steps of runMain, replaceable in tests.
type appDeps struct {
	getenv      func(string) string
	initMetrics func(ctx context.Context, jobName, backendName string, tags []string) (func(), error)
	openStore   func(ctx context.Context, cfg storage.Config) (storage.Repository, error)
	serve       func(ctx context.Context, addr string, h http.Handler, logger *slog.Logger) error
}

func defaultDeps() appDeps {
	return appDeps{
		getenv:      os.Getenv,
		initMetrics: initMetrics,
		openStore:   storage.New,
		serve:       serve,
	}
}

// runMain returns the process exit code: 2 for usage errors, 1 for
// configuration and runtime failures, 0 otherwise.
func runMain(ctx context.Context, args []string, stdout, stderr io.Writer, deps appDeps) int {
	// First pass only finds -config; flags are re-applied after file and env.
	scratch := config.Default()
	fs, cfgPath, _ := newFlagSet(&scratch, stderr)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() > 0 {
		fmt.Fprintf(stderr, "usage: dfserve [-config path] [flags]; unexpected argument %q\n", fs.Arg(0))
		return 2
	}

	cfg := config.Default()
	if *cfgPath != "" {
		if err := config.LoadFile(&cfg, *cfgPath); err != nil {
			fmt.Fprintf(stderr, "read config: %v\n", err)
			return 1
		}
	}
	if err := config.ApplyEnv(&cfg, deps.getenv); err != nil {
		fmt.Fprintf(stderr, "read env: %v\n", err)
		return 1
	}
	fs, _, validateOnly := newFlagSet(&cfg, stderr)
	if err := fs.Parse(args); err != nil {
		return 2
	}

	issues := config.Validate(cfg, storage.Kinds())
	for _, iss := range issues {
		fmt.Fprintln(stderr, iss)
	}
	if config.HasErrors(issues) {
		fmt.Fprintln(stderr, "configuration is invalid")
		return 1
	}
	if *validateOnly {
		fmt.Fprintln(stdout, "configuration is valid")
		return 0
	}

	level := slog.LevelInfo
	if cfg.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	cleanup, err := deps.initMetrics(ctx, "dfapi", cfg.Metrics.Backend, cfg.Metrics.Tags)
	if err != nil {
		fmt.Fprintf(stderr, "init metrics: %v\n", err)
		return 1
	}
	defer cleanup()

	repo, err := deps.openStore(ctx, storage.Config{Kind: cfg.Storage.Kind, DSN: cfg.Storage.DSN})
	if err != nil {
		fmt.Fprintf(stderr, "open storage: %v\n", err)
		return 1
	}
	defer repo.Close()
	if err := repo.EnsureSchema(ctx); err != nil {
		fmt.Fprintf(stderr, "open storage: %v\n", err)
		return 1
	}

	files, err := filestore.New(cfg.ContentDir)
	if err != nil {
		fmt.Fprintf(stderr, "content dir: %v\n", err)
		return 1
	}

	var gen findreplace.Generator
	if cfg.LLM.APIKey != "" {
		client, err := findreplace.NewClient(findreplace.ClientConfig{
			BaseURL: cfg.LLM.BaseURL,
			APIKey:  cfg.LLM.APIKey,
			Model:   cfg.LLM.Model,
			Timeout: cfg.LLM.Timeout,
		})
		if err != nil {
			fmt.Fprintf(stderr, "llm client: %v\n", err)
			return 1
		}
		gen = client
	}

	svc := dataframe.New(repo, files, gen, dataframe.Options{
		MaxUploadBytes:  cfg.Upload.MaxBytes,
		DefaultPageSize: cfg.Upload.DefaultPageSize,
		MaxPageSize:     cfg.Upload.MaxPageSize,
		SampleRows:      cfg.Upload.SampleRows,
		Logger:          logger,
	})
	handler := api.New(svc, api.Options{MaxUploadBytes: cfg.Upload.MaxBytes, Logger: logger})

	logger.Info("dfserve starting",
		"addr", cfg.Addr,
		"storage", cfg.Storage.Kind,
		"content_dir", files.Dir(),
		"find_replace", gen != nil,
		"metrics", cfg.Metrics.Backend,
	)
	if err := deps.serve(ctx, cfg.Addr, handler, logger); err != nil {
		fmt.Fprintf(stderr, "serve: %v\n", err)
		return 1
	}
	return 0
}

func newFlagSet(cfg *config.Config, stderr io.Writer) (*flag.FlagSet, *string, *bool) {
	fs := flag.NewFlagSet("dfserve", flag.ContinueOnError)
	fs.SetOutput(stderr)
	path := fs.String("config", "", "YAML or JSON config file")
	validate := fs.Bool("validate", false, "validate the configuration and exit")
	config.BindFlags(fs, cfg)
	return fs, path, validate
}

// shutdownTimeout bounds in-flight requests after a stop signal.
const shutdownTimeout = 10 * time.Second

func serve(ctx context.Context, addr string, h http.Handler, logger *slog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("dfserve shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// metricsBackend is what initMetrics needs from a constructed backend.
type metricsBackend interface {
	Close() error
}

// Seams for initMetrics tests.
var (
	newDatadogBackend = func(ctx context.Context, opts datadog.Options) (metricsBackend, error) {
		b, err := datadog.NewBackend(ctx, opts)
		if err != nil {
			return nil, err
		}
		return b, nil
	}
	setMetricsBackend = func(b any) {
		if mb, ok := b.(metrics.Backend); ok {
			metrics.SetBackend(mb)
		}
	}
	logPrintf = log.Printf
)

// initMetrics installs the named metrics backend. The returned cleanup is
// never nil and must be called once; for Datadog it stops the flush loop and
// submits what is still buffered.
func initMetrics(ctx context.Context, jobName, backendName string, tags []string) (func(), error) {
	switch backendName {
	case "", "none", "noop":
		return func() {}, nil

	case "datadog", "dd":
		b, err := newDatadogBackend(ctx, datadog.Options{
			JobName:    jobName,
			Tags:       tags,
			FlushEvery: 60 * time.Second,
		})
		if err != nil {
			return func() {}, fmt.Errorf("datadog: %w", err)
		}
		setMetricsBackend(b)
		return func() {
			setMetricsBackend(nil)
			if err := b.Close(); err != nil {
				logPrintf("metrics: datadog close error: %v", err)
			}
		}, nil
	}
	return func() {}, fmt.Errorf("unknown metrics backend %q (none|datadog)", backendName)
}
