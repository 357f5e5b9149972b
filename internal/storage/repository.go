// Package storage persists dataframe records and their version history.
//
// A record points at the current file blob and the schema inferred or edited
// for it. Replacing the file pushes the previous (file, schema) pair onto the
// record's history and bumps CurrentVersion; Undo pops it back.
//
// Backends live in sub-packages and register themselves from init():
//
//	import _ "dfapi/internal/storage/sqlite"
//
//	repo, err := storage.New(ctx, storage.Config{Kind: "sqlite", DSN: "file:dfapi.db"})
package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	json "github.com/goccy/go-json"

	"dfapi/internal/dtype"
)

var (
	// ErrNotFound is returned when no record has the requested id.
	ErrNotFound = errors.New("storage: dataframe not found")

	// ErrNoHistory is returned by Undo when the record has no prior version.
	ErrNoHistory = errors.New("storage: nothing to undo")
)

// Config selects and configures a backend.
//
// Kind must match a registered backend ("sqlite", "postgres", "mssql").
// DSN is passed through to the backend unchanged.
type Config struct {
	Kind string
	DSN  string
}

// Dataframe is one uploaded table.
type Dataframe struct {
	ID             int64
	Title          string
	File           string
	Schema         dtype.Schema
	CurrentVersion int
	CreatedAt      time.Time
}

// Version is a prior (file, schema) pair kept for undo. Version holds the
// record's CurrentVersion at the time the pair was replaced.
type Version struct {
	DataframeID int64
	Version     int
	File        string
	Schema      dtype.Schema
	ChangedAt   time.Time
}

// Repository is the backend-agnostic persistence contract.
//
// Every mutating method is atomic: on error the record and its history are
// unchanged.
type Repository interface {
	// Close releases backend resources. Call once.
	Close()

	// EnsureSchema creates the backing tables if they do not exist.
	EnsureSchema(ctx context.Context) error

	// Create inserts d and fills in ID and CreatedAt. CurrentVersion starts
	// at whatever d carries (normally 0).
	Create(ctx context.Context, d *Dataframe) error

	// Get loads one record.
	Get(ctx context.Context, id int64) (Dataframe, error)

	// List returns all records ordered by id.
	List(ctx context.Context) ([]Dataframe, error)

	// Update overwrites title and schema in place. It does not touch the
	// file, the version counter or the history.
	Update(ctx context.Context, id int64, title string, schema dtype.Schema) error

	// ReplaceFile makes file/schema current, pushes the previous pair onto
	// the history and increments CurrentVersion.
	ReplaceFile(ctx context.Context, id int64, file string, schema dtype.Schema) (Dataframe, error)

	// Undo restores the most recent history entry, removes it from the
	// history and decrements CurrentVersion. It returns the restored record
	// and the file that was current before the call. An empty history
	// yields ErrNoHistory and leaves the record unchanged.
	Undo(ctx context.Context, id int64) (Dataframe, string, error)

	// History lists prior versions, newest first.
	History(ctx context.Context, id int64) ([]Version, error)

	// Delete removes the record and its history.
	Delete(ctx context.Context, id int64) error
}

// Factory opens a backend.
type Factory func(ctx context.Context, cfg Config) (Repository, error)

var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
)

// Register makes a backend available to New under kind.
//
// Call it from an init() in the backend package. Registering an empty kind,
// a nil factory, or the same kind twice panics.
func Register(kind string, f Factory) {
	mu.Lock()
	defer mu.Unlock()

	if kind == "" {
		panic("storage: Register called with empty kind")
	}
	if f == nil {
		panic("storage: Register called with nil factory")
	}
	if _, exists := factories[kind]; exists {
		panic(fmt.Sprintf("storage: factory already registered for kind=%q", kind))
	}
	factories[kind] = f
}

// Kinds lists registered backend kinds in sorted order.
func Kinds() []string {
	mu.RLock()
	defer mu.RUnlock()

	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// New opens the backend registered for cfg.Kind.
func New(ctx context.Context, cfg Config) (Repository, error) {
	if cfg.Kind == "" {
		return nil, fmt.Errorf("storage: missing kind")
	}

	mu.RLock()
	f := factories[cfg.Kind]
	mu.RUnlock()

	if f == nil {
		return nil, fmt.Errorf("storage: unsupported kind=%s (registered: %v)", cfg.Kind, Kinds())
	}
	return f(ctx, cfg)
}

// EncodeSchema renders a schema for a text/JSON column.
func EncodeSchema(s dtype.Schema) (string, error) {
	if s == nil {
		s = dtype.Schema{}
	}
	b, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("storage: encode schema: %w", err)
	}
	return string(b), nil
}

// DecodeSchema parses a stored schema. Empty input is an empty schema.
func DecodeSchema(raw []byte) (dtype.Schema, error) {
	s := dtype.Schema{}
	if len(raw) == 0 {
		return s, nil
	}
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("storage: decode schema: %w", err)
	}
	return s, nil
}
