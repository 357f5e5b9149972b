package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"dfapi/internal/dtype"
	"dfapi/internal/storage"
)

// Repo implements storage.Repository for SQLite.
//
// SQLite has no timestamp type, so created_at and changed_at are stored as
// RFC3339Nano text. Schemas are stored as JSON text.
type Repo struct {
	db  *sql.DB
	now func() time.Time
}

func init() {
	storage.Register("sqlite", New)
}

// New opens the database named by cfg.DSN and checks it is reachable.
func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, err
	}
	// One writer at a time; a shared connection also keeps :memory: databases alive.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Repo{db: db, now: time.Now}, nil
}

func (r *Repo) Close() { _ = r.db.Close() }

var ddl = []string{
	`CREATE TABLE IF NOT EXISTS "dataframes" (
  "id" INTEGER PRIMARY KEY AUTOINCREMENT,
  "title" TEXT NOT NULL,
  "file" TEXT NOT NULL,
  "dtypes" TEXT NOT NULL DEFAULT '{}',
  "current_version" INTEGER NOT NULL DEFAULT 0,
  "created_at" TEXT NOT NULL
);`,
	`CREATE TABLE IF NOT EXISTS "dataframe_versions" (
  "id" INTEGER PRIMARY KEY AUTOINCREMENT,
  "dataframe_id" INTEGER NOT NULL REFERENCES "dataframes" ("id") ON DELETE CASCADE,
  "version" INTEGER NOT NULL,
  "file" TEXT NOT NULL,
  "dtypes" TEXT NOT NULL DEFAULT '{}',
  "changed_at" TEXT NOT NULL
);`,
	`CREATE INDEX IF NOT EXISTS "dataframe_versions_dataframe_id" ON "dataframe_versions" ("dataframe_id", "version");`,
}

// EnsureSchema creates the record and history tables.
func (r *Repo) EnsureSchema(ctx context.Context) error {
	for _, q := range ddl {
		if _, err := r.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("sqlite: ensure schema: %w", err)
		}
	}
	return nil
}

func (r *Repo) Create(ctx context.Context, d *storage.Dataframe) error {
	dtypes, err := storage.EncodeSchema(d.Schema)
	if err != nil {
		return err
	}
	created := r.now().UTC()
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO "dataframes" ("title", "file", "dtypes", "current_version", "created_at") VALUES (?, ?, ?, ?, ?)`,
		d.Title, d.File, dtypes, d.CurrentVersion, formatSQLiteTime(created),
	)
	if err != nil {
		return fmt.Errorf("sqlite: insert dataframe: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("sqlite: insert dataframe: %w", err)
	}
	d.ID = id
	d.CreatedAt = created
	return nil
}

const selectDataframe = `SELECT "id", "title", "file", "dtypes", "current_version", "created_at" FROM "dataframes"`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDataframe(s rowScanner) (storage.Dataframe, error) {
	var (
		d       storage.Dataframe
		dtypes  string
		created string
	)
	if err := s.Scan(&d.ID, &d.Title, &d.File, &dtypes, &d.CurrentVersion, &created); err != nil {
		return storage.Dataframe{}, err
	}
	schema, err := storage.DecodeSchema([]byte(dtypes))
	if err != nil {
		return storage.Dataframe{}, err
	}
	d.Schema = schema
	if d.CreatedAt, err = parseSQLiteTime(created); err != nil {
		return storage.Dataframe{}, fmt.Errorf("sqlite: parse created_at=%q: %w", created, err)
	}
	return d, nil
}

func (r *Repo) Get(ctx context.Context, id int64) (storage.Dataframe, error) {
	return getDataframe(ctx, r.db, id)
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getDataframe(ctx context.Context, q querier, id int64) (storage.Dataframe, error) {
	d, err := scanDataframe(q.QueryRowContext(ctx, selectDataframe+` WHERE "id" = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return storage.Dataframe{}, fmt.Errorf("%w: id=%d", storage.ErrNotFound, id)
	}
	return d, err
}

func (r *Repo) List(ctx context.Context) ([]storage.Dataframe, error) {
	rows, err := r.db.QueryContext(ctx, selectDataframe+` ORDER BY "id"`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []storage.Dataframe
	for rows.Next() {
		d, err := scanDataframe(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (r *Repo) Update(ctx context.Context, id int64, title string, schema dtype.Schema) error {
	dtypes, err := storage.EncodeSchema(schema)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE "dataframes" SET "title" = ?, "dtypes" = ? WHERE "id" = ?`,
		title, dtypes, id,
	)
	if err != nil {
		return fmt.Errorf("sqlite: update dataframe %d: %w", id, err)
	}
	return expectOne(res, id)
}

// ReplaceFile moves the current pair to history and installs the new one in
// one transaction.
func (r *Repo) ReplaceFile(ctx context.Context, id int64, file string, schema dtype.Schema) (storage.Dataframe, error) {
	dtypes, err := storage.EncodeSchema(schema)
	if err != nil {
		return storage.Dataframe{}, err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return storage.Dataframe{}, err
	}
	defer func() { _ = tx.Rollback() }()

	cur, err := getDataframe(ctx, tx, id)
	if err != nil {
		return storage.Dataframe{}, err
	}
	curTypes, err := storage.EncodeSchema(cur.Schema)
	if err != nil {
		return storage.Dataframe{}, err
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO "dataframe_versions" ("dataframe_id", "version", "file", "dtypes", "changed_at") VALUES (?, ?, ?, ?, ?)`,
		id, cur.CurrentVersion, cur.File, curTypes, formatSQLiteTime(r.now()),
	); err != nil {
		return storage.Dataframe{}, fmt.Errorf("sqlite: push version: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE "dataframes" SET "file" = ?, "dtypes" = ?, "current_version" = "current_version" + 1 WHERE "id" = ?`,
		file, dtypes, id,
	); err != nil {
		return storage.Dataframe{}, fmt.Errorf("sqlite: replace file: %w", err)
	}

	out, err := getDataframe(ctx, tx, id)
	if err != nil {
		return storage.Dataframe{}, err
	}
	return out, tx.Commit()
}

func (r *Repo) Undo(ctx context.Context, id int64) (storage.Dataframe, string, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return storage.Dataframe{}, "", err
	}
	defer func() { _ = tx.Rollback() }()

	cur, err := getDataframe(ctx, tx, id)
	if err != nil {
		return storage.Dataframe{}, "", err
	}

	var (
		versionID int64
		prev      storage.Version
		dtypes    string
	)
	err = tx.QueryRowContext(ctx,
		`SELECT "id", "version", "file", "dtypes" FROM "dataframe_versions" WHERE "dataframe_id" = ? ORDER BY "version" DESC, "id" DESC LIMIT 1`,
		id,
	).Scan(&versionID, &prev.Version, &prev.File, &dtypes)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.Dataframe{}, "", fmt.Errorf("%w: id=%d", storage.ErrNoHistory, id)
	}
	if err != nil {
		return storage.Dataframe{}, "", err
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE "dataframes" SET "file" = ?, "dtypes" = ?, "current_version" = ? WHERE "id" = ?`,
		prev.File, dtypes, prev.Version, id,
	); err != nil {
		return storage.Dataframe{}, "", fmt.Errorf("sqlite: restore version: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM "dataframe_versions" WHERE "id" = ?`, versionID); err != nil {
		return storage.Dataframe{}, "", fmt.Errorf("sqlite: pop version: %w", err)
	}

	out, err := getDataframe(ctx, tx, id)
	if err != nil {
		return storage.Dataframe{}, "", err
	}
	return out, cur.File, tx.Commit()
}

func (r *Repo) History(ctx context.Context, id int64) ([]storage.Version, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT "version", "file", "dtypes", "changed_at" FROM "dataframe_versions" WHERE "dataframe_id" = ? ORDER BY "version" DESC, "id" DESC`,
		id,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []storage.Version
	for rows.Next() {
		v := storage.Version{DataframeID: id}
		var dtypes, changed string
		if err := rows.Scan(&v.Version, &v.File, &dtypes, &changed); err != nil {
			return nil, err
		}
		if v.Schema, err = storage.DecodeSchema([]byte(dtypes)); err != nil {
			return nil, err
		}
		if v.ChangedAt, err = parseSQLiteTime(changed); err != nil {
			return nil, fmt.Errorf("sqlite: parse changed_at=%q: %w", changed, err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// Delete removes history rows explicitly so it works without
// PRAGMA foreign_keys=ON.
func (r *Repo) Delete(ctx context.Context, id int64) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM "dataframe_versions" WHERE "dataframe_id" = ?`, id); err != nil {
		return fmt.Errorf("sqlite: delete history %d: %w", id, err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM "dataframes" WHERE "id" = ?`, id)
	if err != nil {
		return fmt.Errorf("sqlite: delete dataframe %d: %w", id, err)
	}
	if err := expectOne(res, id); err != nil {
		return err
	}
	return tx.Commit()
}

func expectOne(res sql.Result, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: id=%d", storage.ErrNotFound, id)
	}
	return nil
}

// formatSQLiteTime formats a time as RFC3339Nano in UTC.
func formatSQLiteTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// parseSQLiteTime accepts what formatSQLiteTime writes plus the formats
// SQLite's own datetime functions and other tools produce. Zone-less values
// are UTC.
func parseSQLiteTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty time string")
	}

	layouts := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02 15:04:05Z07:00",
		"2006-01-02 15:04:05.999999999Z07:00",
	}
	for _, layout := range layouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), nil
		}
	}
	if ts, err := time.ParseInLocation("2006-01-02 15:04:05", s, time.UTC); err == nil {
		return ts, nil
	}
	return time.Time{}, fmt.Errorf("unsupported time format: %q", s)
}
