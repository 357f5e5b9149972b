// Package dataframe is the schema lifecycle of uploaded tables.
//
// A record stores the current file and the schema inferred for it. The raw
// file is never rewritten; reads re-apply the stored schema to it, edits
// replace it with a new file and keep the previous one for Undo.
package dataframe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"dfapi/internal/dtype"
	"dfapi/internal/filestore"
	"dfapi/internal/findreplace"
	"dfapi/internal/frame"
	"dfapi/internal/metrics"
	"dfapi/internal/storage"
	"dfapi/internal/tablefile"
	"dfapi/internal/typing"
)

var (
	// ErrInvalid marks requests rejected before any work is done.
	ErrInvalid = errors.New("dataframe: invalid request")

	// ErrTooLarge is returned for uploads above the configured limit.
	ErrTooLarge = errors.New("dataframe: upload too large")

	// ErrSchemaValidation is returned by Patch when the proposed schema does
	// not apply to the current data. It wraps the *typing.CoercionError.
	ErrSchemaValidation = errors.New("dataframe: schema does not apply to data")

	// ErrNoGenerator is returned by FindReplace when no generator is
	// configured.
	ErrNoGenerator = fmt.Errorf("%w: no generator configured", findreplace.ErrUpstream)
)

// Options tunes a Service. Zero fields take the defaults noted.
type Options struct {
	MaxUploadBytes  int64 // 3 MiB
	DefaultPageSize int   // 10
	MaxPageSize     int   // 1000
	SampleRows      int   // 10
	Logger          *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.MaxUploadBytes <= 0 {
		o.MaxUploadBytes = 3 << 20
	}
	if o.DefaultPageSize <= 0 {
		o.DefaultPageSize = 10
	}
	if o.MaxPageSize < o.DefaultPageSize {
		o.MaxPageSize = max(1000, o.DefaultPageSize)
	}
	if o.SampleRows <= 0 {
		o.SampleRows = 10
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Service runs dataframe operations against a repository and a blob store.
type Service struct {
	repo  storage.Repository
	files *filestore.Store
	gen   findreplace.Generator
	opts  Options
	log   *slog.Logger
}

// New returns a Service. gen may be nil, which disables FindReplace.
func New(repo storage.Repository, files *filestore.Store, gen findreplace.Generator, opts Options) *Service {
	opts = opts.withDefaults()
	return &Service{repo: repo, files: files, gen: gen, opts: opts, log: opts.Logger}
}

// View is one page of a typed read.
type View struct {
	storage.Dataframe
	frame.PageInfo

	Data []frame.Record

	// MemoryBefore and MemoryAfter are the in-memory sizes of the whole
	// table before and after typing.
	MemoryBefore int64
	MemoryAfter  int64

	// Message is the typing error when the stored schema no longer applies;
	// Data is then untyped.
	Message string
}

// List returns every record.
func (s *Service) List(ctx context.Context) ([]storage.Dataframe, error) {
	return s.repo.List(ctx)
}

// Get returns one record.
func (s *Service) Get(ctx context.Context, id int64) (storage.Dataframe, error) {
	return s.repo.Get(ctx, id)
}

// Create stores an upload, infers its schema and persists the record.
func (s *Service) Create(ctx context.Context, title, filename string, r io.Reader) (storage.Dataframe, error) {
	title = strings.TrimSpace(title)
	if err := validTitle(title); err != nil {
		return storage.Dataframe{}, err
	}
	format, err := tablefile.FormatOf(filename)
	if err != nil {
		return storage.Dataframe{}, err
	}

	raw, err := io.ReadAll(io.LimitReader(r, s.opts.MaxUploadBytes+1))
	if err != nil {
		return storage.Dataframe{}, fmt.Errorf("dataframe: read upload: %w", err)
	}
	if int64(len(raw)) > s.opts.MaxUploadBytes {
		return storage.Dataframe{}, fmt.Errorf("%w: limit is %d bytes", ErrTooLarge, s.opts.MaxUploadBytes)
	}

	start := time.Now()
	t, err := tablefile.Read(bytes.NewReader(raw), format)
	metrics.ObserveStep("read", start, err)
	if err != nil {
		return storage.Dataframe{}, fmt.Errorf("%w: %s: %w", ErrInvalid, filename, err)
	}

	start = time.Now()
	_, schema := typing.Infer(t)
	metrics.ObserveStep("infer", start, nil)
	countColumns(schema)

	name, err := s.files.Save(bytes.NewReader(raw), filename)
	if err != nil {
		return storage.Dataframe{}, err
	}
	d := storage.Dataframe{Title: title, File: name, Schema: schema}
	if err := s.repo.Create(ctx, &d); err != nil {
		s.removeBlobs(name)
		return storage.Dataframe{}, err
	}
	s.log.Info("dataframe created", "id", d.ID, "file", name, "rows", t.NumRows(), "columns", len(t.Columns))
	return d, nil
}

// Retrieve returns page of record id with the stored schema applied. When
// the schema no longer applies the page is served untyped with Message set.
func (s *Service) Retrieve(ctx context.Context, id int64, page, pageSize int) (View, error) {
	d, err := s.repo.Get(ctx, id)
	if err != nil {
		return View{}, err
	}
	raw, err := s.load(d.File)
	if err != nil {
		return View{}, err
	}
	if pageSize <= 0 {
		pageSize = s.opts.DefaultPageSize
	}
	pageSize = min(pageSize, s.opts.MaxPageSize)

	v := View{Dataframe: d, MemoryBefore: raw.MemoryUsage()}

	typed := raw.Clone()
	start := time.Now()
	_, err = typing.Apply(typed, d.Schema)
	metrics.ObserveStep("apply", start, err)
	if err != nil {
		countCoerceFailure(err)
		v.Message = err.Error()
		typed = raw
	}
	v.MemoryAfter = typed.MemoryUsage()

	p, info := typed.Page(page, pageSize)
	v.PageInfo = info
	v.Data = p.Records()
	return v, nil
}

// Patch updates the title and/or the schema of record id. A nil title or
// schema leaves that field alone. A new schema must apply to the current
// data, otherwise ErrSchemaValidation is returned and nothing changes.
func (s *Service) Patch(ctx context.Context, id int64, title *string, schema dtype.Schema) (storage.Dataframe, error) {
	if title == nil && schema == nil {
		return storage.Dataframe{}, fmt.Errorf("%w: nothing to update", ErrInvalid)
	}
	d, err := s.repo.Get(ctx, id)
	if err != nil {
		return storage.Dataframe{}, err
	}

	if title != nil {
		t := strings.TrimSpace(*title)
		if err := validTitle(t); err != nil {
			return storage.Dataframe{}, err
		}
		d.Title = t
	}
	if schema != nil {
		if err := schema.Validate(); err != nil {
			return storage.Dataframe{}, fmt.Errorf("%w: %w", ErrInvalid, err)
		}
		raw, err := s.load(d.File)
		if err != nil {
			return storage.Dataframe{}, err
		}
		start := time.Now()
		_, err = typing.Apply(raw, schema)
		metrics.ObserveStep("apply", start, err)
		if err != nil {
			countCoerceFailure(err)
			return storage.Dataframe{}, fmt.Errorf("%w: %w", ErrSchemaValidation, err)
		}
		d.Schema = schema.Clone()
	}

	if err := s.repo.Update(ctx, id, d.Title, d.Schema); err != nil {
		return storage.Dataframe{}, err
	}
	return d, nil
}

// FindReplaceResult reports a find-and-replace edit.
type FindReplaceResult struct {
	storage.Dataframe
	Replacements []findreplace.Replacement
	Changed      int
	Reinferred   bool
}

// FindReplace asks the generator for replacements matching instruction,
// applies them to the raw table and stores the result as a new version in
// the original file format. The schema is kept when it still applies and
// re-inferred otherwise. Any generator or validation failure leaves the
// record untouched.
func (s *Service) FindReplace(ctx context.Context, id int64, instruction string) (FindReplaceResult, error) {
	instruction = strings.TrimSpace(instruction)
	if instruction == "" {
		return FindReplaceResult{}, fmt.Errorf("%w: empty instruction", ErrInvalid)
	}
	if s.gen == nil {
		return FindReplaceResult{}, ErrNoGenerator
	}
	d, err := s.repo.Get(ctx, id)
	if err != nil {
		return FindReplaceResult{}, err
	}
	raw, err := s.load(d.File)
	if err != nil {
		return FindReplaceResult{}, err
	}
	format, err := tablefile.FormatOf(d.File)
	if err != nil {
		return FindReplaceResult{}, err
	}

	start := time.Now()
	reps, err := s.gen.GenerateReplacements(ctx, raw.Head(s.opts.SampleRows).Records(), raw.Names(), instruction)
	metrics.ObserveStep("generate", start, err)
	if err != nil {
		if !errors.Is(err, findreplace.ErrUpstream) {
			err = fmt.Errorf("%w: %w", findreplace.ErrUpstream, err)
		}
		return FindReplaceResult{}, err
	}
	changed, err := findreplace.Apply(raw, reps)
	if err != nil {
		return FindReplaceResult{}, err
	}

	var buf bytes.Buffer
	start = time.Now()
	err = tablefile.Write(&buf, raw, format)
	metrics.ObserveStep("write", start, err)
	if err != nil {
		return FindReplaceResult{}, fmt.Errorf("dataframe: write %s: %w", format, err)
	}

	schema, reinferred := d.Schema, false
	if _, err := typing.Apply(raw.Clone(), d.Schema); err != nil {
		_, schema = typing.Infer(raw.Clone())
		reinferred = true
		countColumns(schema)
	}

	name, err := s.files.Save(&buf, d.File)
	if err != nil {
		return FindReplaceResult{}, err
	}
	updated, err := s.repo.ReplaceFile(ctx, id, name, schema)
	if err != nil {
		s.removeBlobs(name)
		return FindReplaceResult{}, err
	}
	s.log.Info("dataframe replaced", "id", id, "version", updated.CurrentVersion, "changed", changed, "reinferred", reinferred)
	return FindReplaceResult{Dataframe: updated, Replacements: reps, Changed: changed, Reinferred: reinferred}, nil
}

// Undo restores the previous file and schema of record id and deletes the
// file it replaces. With no history it returns storage.ErrNoHistory.
func (s *Service) Undo(ctx context.Context, id int64) (storage.Dataframe, error) {
	d, discarded, err := s.repo.Undo(ctx, id)
	if err != nil {
		return storage.Dataframe{}, err
	}
	s.removeBlobs(discarded)
	s.log.Info("dataframe undone", "id", id, "version", d.CurrentVersion)
	return d, nil
}

// Delete removes record id together with every file it ever referenced.
func (s *Service) Delete(ctx context.Context, id int64) error {
	d, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	history, err := s.repo.History(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	names := []string{d.File}
	for _, v := range history {
		names = append(names, v.File)
	}
	s.removeBlobs(names...)
	return nil
}

func (s *Service) load(name string) (*frame.Table, error) {
	path, err := s.files.Path(name)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	t, err := tablefile.ReadFile(path)
	metrics.ObserveStep("read", start, err)
	if err != nil {
		return nil, fmt.Errorf("dataframe: load %s: %w", name, err)
	}
	return t, nil
}

// removeBlobs logs failures; callers have already committed the record.
func (s *Service) removeBlobs(names ...string) {
	if err := s.files.Remove(names...); err != nil {
		s.log.Warn("dataframe: remove blobs", "files", names, "err", err)
	}
}

func validTitle(title string) error {
	if utf8.RuneCountInString(title) < 2 {
		return fmt.Errorf("%w: title must be at least 2 characters", ErrInvalid)
	}
	return nil
}

func countColumns(s dtype.Schema) {
	for _, tag := range s {
		metrics.IncCounter(metrics.ColumnsTotal, 1, metrics.Labels{"tag": tag.String()})
	}
}

func countCoerceFailure(err error) {
	var ce *typing.CoercionError
	if errors.As(err, &ce) {
		metrics.IncCounter(metrics.CoerceFailuresTotal, 1, metrics.Labels{"tag": ce.Tag.String()})
	}
}
