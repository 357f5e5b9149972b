package metrics

import (
	"errors"
	"sync"
	"testing"
	"time"
)

type recorder struct {
	mu       sync.Mutex
	counters map[string]float64
	samples  map[string][]Labels
	flushes  int
}

func (r *recorder) IncCounter(name string, delta float64, labels Labels) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counters[name+"/"+labels["route"]+labels["tag"]] += delta
}

func (r *recorder) ObserveHistogram(name string, _ float64, labels Labels) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.samples[name] = append(r.samples[name], labels)
}

func (r *recorder) Flush() error { r.flushes++; return nil }

// Not parallel: tests swap the process-wide backend.
func TestFacadeDelegatesToBackend(t *testing.T) {
	rec := &recorder{counters: map[string]float64{}, samples: map[string][]Labels{}}
	SetBackend(rec)
	t.Cleanup(func() { SetBackend(nil) })

	IncCounter(RequestsTotal, 1, Labels{"route": "list"})
	IncCounter(RequestsTotal, 2, Labels{"route": "list"})
	ObserveStep("infer", time.Now(), nil)
	ObserveStep("apply", time.Now(), errors.New("boom"))
	if err := Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	if got := rec.counters[RequestsTotal+"/list"]; got != 3 {
		t.Fatalf("requests counter=%v, want 3", got)
	}
	steps := rec.samples[StepDurationSeconds]
	if len(steps) != 2 || steps[0]["status"] != "ok" || steps[1]["status"] != "error" || steps[1]["step"] != "apply" {
		t.Fatalf("step samples=%v", steps)
	}
	if rec.flushes != 1 {
		t.Fatalf("flushes=%d, want 1", rec.flushes)
	}
}

func TestNilBackendIsNop(t *testing.T) {
	SetBackend(nil)
	IncCounter(ColumnsTotal, 1, Labels{"tag": "int8"})
	if err := Flush(); err != nil {
		t.Fatalf("nop Flush: %v", err)
	}
}
