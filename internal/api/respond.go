package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	json "github.com/goccy/go-json"

	"dfapi/internal/dataframe"
	"dfapi/internal/findreplace"
	"dfapi/internal/metrics"
	"dfapi/internal/storage"
	"dfapi/internal/tablefile"
)

type handlerFunc func(w http.ResponseWriter, r *http.Request) error

// handle registers fn under pattern with logging, metrics and error
// rendering. route names the endpoint in logs and metrics.
func (s *Server) handle(pattern, route string, fn handlerFunc) {
	s.mux.Handle(pattern, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		if err := fn(rec, r); err != nil {
			s.writeError(rec, r, err)
		}

		elapsed := time.Since(start)
		labels := metrics.Labels{"route": route, "status": strconv.Itoa(rec.status)}
		metrics.IncCounter(metrics.RequestsTotal, 1, labels)
		metrics.ObserveHistogram(metrics.RequestDurationSeconds, elapsed.Seconds(), labels)
		s.log.Debug("http request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("route", route),
			slog.Int("status", rec.status),
			slog.Duration("elapsed", elapsed),
		)
	}))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// statusOf maps service errors to HTTP status codes.
func statusOf(err error) int {
	var tooBig *http.MaxBytesError
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, dataframe.ErrTooLarge), errors.As(err, &tooBig):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, tablefile.ErrUnsupportedFormat):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, findreplace.ErrUpstream):
		return http.StatusBadGateway
	case errors.Is(err, dataframe.ErrInvalid),
		errors.Is(err, dataframe.ErrSchemaValidation),
		errors.Is(err, storage.ErrNoHistory):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	detail := err.Error()
	if status == http.StatusInternalServerError {
		s.log.Error("http handler failed", slog.String("path", r.URL.Path), slog.Any("err", err))
		detail = http.StatusText(status)
	} else {
		s.log.Info("http request rejected", slog.String("path", r.URL.Path), slog.Int("status", status), slog.Any("err", err))
	}
	_ = writeJSON(w, status, map[string]string{"detail": detail})
}

func writeJSON(w http.ResponseWriter, status int, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return err
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(append(body, '\n'))
	return nil
}
