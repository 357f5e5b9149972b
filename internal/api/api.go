// Package api is the HTTP surface of the dataframe service.
//
// Routes:
//
//	GET    /api/dataframe/                 list records
//	POST   /api/dataframe/                 multipart upload (title, file)
//	GET    /api/dataframe/{pk}/            typed page (?page=&page_size=)
//	PATCH  /api/dataframe/{pk}/            {"title"?, "dtypes"?}
//	DELETE /api/dataframe/{pk}/            delete record and files
//	POST   /api/dataframe/{pk}/find/       {"instruction": "..."}
//	POST   /api/dataframe/{pk}/undo/       restore the previous version
//	GET    /healthz                        liveness
//
// Errors are JSON objects {"detail": "..."}; see writeError for the status
// mapping.
package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	json "github.com/goccy/go-json"

	"dfapi/internal/dataframe"
	"dfapi/internal/dtype"
	"dfapi/internal/findreplace"
	"dfapi/internal/frame"
	"dfapi/internal/storage"
)

// Service is the dataframe behavior the handlers need.
type Service interface {
	List(ctx context.Context) ([]storage.Dataframe, error)
	Create(ctx context.Context, title, filename string, r io.Reader) (storage.Dataframe, error)
	Retrieve(ctx context.Context, id int64, page, pageSize int) (dataframe.View, error)
	Patch(ctx context.Context, id int64, title *string, schema dtype.Schema) (storage.Dataframe, error)
	FindReplace(ctx context.Context, id int64, instruction string) (dataframe.FindReplaceResult, error)
	Undo(ctx context.Context, id int64) (storage.Dataframe, error)
	Delete(ctx context.Context, id int64) error
}

var _ Service = (*dataframe.Service)(nil)

// Options configures a Server.
type Options struct {
	// MaxUploadBytes bounds the file part of an upload. The request body
	// may exceed it by a fixed multipart allowance.
	MaxUploadBytes int64
	Logger         *slog.Logger
}

// multipartOverhead is the body allowance on top of MaxUploadBytes for
// multipart framing and the title field.
const multipartOverhead = 64 << 10

// Server routes HTTP requests to a Service.
type Server struct {
	svc  Service
	mux  *http.ServeMux
	log  *slog.Logger
	opts Options
}

// New builds a Server with every route registered.
func New(svc Service, opts Options) *Server {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 3 << 20
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	s := &Server{svc: svc, mux: http.NewServeMux(), log: opts.Logger, opts: opts}

	s.handle("GET /api/dataframe/{$}", "list", s.list)
	s.handle("POST /api/dataframe/{$}", "create", s.create)
	s.handle("GET /api/dataframe/{pk}/{$}", "retrieve", s.retrieve)
	s.handle("PATCH /api/dataframe/{pk}/{$}", "patch", s.patch)
	s.handle("DELETE /api/dataframe/{pk}/{$}", "delete", s.delete)
	s.handle("POST /api/dataframe/{pk}/find/{$}", "find", s.findReplace)
	s.handle("POST /api/dataframe/{pk}/undo/{$}", "undo", s.undo)
	s.handle("GET /healthz", "healthz", func(w http.ResponseWriter, _ *http.Request) error {
		return writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// dataframeJSON is the wire form of a record.
type dataframeJSON struct {
	ID             int64        `json:"id"`
	Title          string       `json:"title"`
	File           string       `json:"file"`
	Dtypes         dtype.Schema `json:"dtypes"`
	CurrentVersion int          `json:"current_version"`
	CreatedAt      time.Time    `json:"created_at"`
}

func toJSON(d storage.Dataframe) dataframeJSON {
	schema := d.Schema
	if schema == nil {
		schema = dtype.Schema{}
	}
	return dataframeJSON{
		ID:             d.ID,
		Title:          d.Title,
		File:           d.File,
		Dtypes:         schema,
		CurrentVersion: d.CurrentVersion,
		CreatedAt:      d.CreatedAt,
	}
}

type retrieveJSON struct {
	dataframeJSON
	frame.PageInfo
	Data              []frame.Record `json:"data"`
	MemoryUsageBefore int64          `json:"memory_usage_before"`
	MemoryUsageAfter  int64          `json:"memory_usage_after"`
	Message           string         `json:"message"`
}

type findReplaceJSON struct {
	dataframeJSON
	Replacements []findreplace.Replacement `json:"replacements"`
	Changed      int                       `json:"changed"`
	Reinferred   bool                      `json:"reinferred"`
}

func (s *Server) list(w http.ResponseWriter, r *http.Request) error {
	ds, err := s.svc.List(r.Context())
	if err != nil {
		return err
	}
	out := make([]dataframeJSON, len(ds))
	for i, d := range ds {
		out[i] = toJSON(d)
	}
	return writeJSON(w, http.StatusOK, out)
}

func (s *Server) create(w http.ResponseWriter, r *http.Request) error {
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes+multipartOverhead)
	if err := r.ParseMultipartForm(1 << 20); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			return fmt.Errorf("%w: limit is %d bytes", dataframe.ErrTooLarge, s.opts.MaxUploadBytes)
		}
		return fmt.Errorf("%w: multipart form: %v", dataframe.ErrInvalid, err)
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		return fmt.Errorf("%w: file: %v", dataframe.ErrInvalid, err)
	}
	defer file.Close()

	d, err := s.svc.Create(r.Context(), r.FormValue("title"), header.Filename, file)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusCreated, toJSON(d))
}

func (s *Server) retrieve(w http.ResponseWriter, r *http.Request) error {
	id, err := pathID(r)
	if err != nil {
		return err
	}
	page, err := queryInt(r, "page", 1)
	if err != nil {
		return err
	}
	pageSize, err := queryInt(r, "page_size", 0)
	if err != nil {
		return err
	}

	v, err := s.svc.Retrieve(r.Context(), id, page, pageSize)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, retrieveJSON{
		dataframeJSON:     toJSON(v.Dataframe),
		PageInfo:          v.PageInfo,
		Data:              v.Data,
		MemoryUsageBefore: v.MemoryBefore,
		MemoryUsageAfter:  v.MemoryAfter,
		Message:           v.Message,
	})
}

type patchRequest struct {
	Title  *string           `json:"title"`
	Dtypes map[string]string `json:"dtypes"`
}

func (s *Server) patch(w http.ResponseWriter, r *http.Request) error {
	id, err := pathID(r)
	if err != nil {
		return err
	}
	var req patchRequest
	if err := decodeBody(r, &req); err != nil {
		return err
	}
	var schema dtype.Schema
	if req.Dtypes != nil {
		if schema, err = dtype.ParseSchema(req.Dtypes); err != nil {
			return fmt.Errorf("%w: dtypes: %w", dataframe.ErrInvalid, err)
		}
	}

	d, err := s.svc.Patch(r.Context(), id, req.Title, schema)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, toJSON(d))
}

func (s *Server) delete(w http.ResponseWriter, r *http.Request) error {
	id, err := pathID(r)
	if err != nil {
		return err
	}
	if err := s.svc.Delete(r.Context(), id); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

type findRequest struct {
	Instruction string `json:"instruction"`
}

func (s *Server) findReplace(w http.ResponseWriter, r *http.Request) error {
	id, err := pathID(r)
	if err != nil {
		return err
	}
	var req findRequest
	if err := decodeBody(r, &req); err != nil {
		return err
	}

	res, err := s.svc.FindReplace(r.Context(), id, req.Instruction)
	if err != nil {
		return err
	}
	reps := res.Replacements
	if reps == nil {
		reps = []findreplace.Replacement{}
	}
	return writeJSON(w, http.StatusOK, findReplaceJSON{
		dataframeJSON: toJSON(res.Dataframe),
		Replacements:  reps,
		Changed:       res.Changed,
		Reinferred:    res.Reinferred,
	})
}

func (s *Server) undo(w http.ResponseWriter, r *http.Request) error {
	id, err := pathID(r)
	if err != nil {
		return err
	}
	d, err := s.svc.Undo(r.Context(), id)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, toJSON(d))
}

// pathID parses {pk}. Anything but a positive integer is not found.
func pathID(r *http.Request) (int64, error) {
	raw := r.PathValue("pk")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: id %q", storage.ErrNotFound, raw)
	}
	return id, nil
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("%w: %s must be a positive integer, got %q", dataframe.ErrInvalid, name, raw)
	}
	return n, nil
}

func decodeBody(r *http.Request, dst any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: read body: %v", dataframe.ErrInvalid, err)
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return fmt.Errorf("%w: JSON body: %v", dataframe.ErrInvalid, err)
	}
	return nil
}
