package mssql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"dfapi/internal/dtype"
	"dfapi/internal/storage"
)

// Repo implements storage.Repository for Microsoft SQL Server.
//
// Schemas are stored as NVARCHAR(MAX) JSON and timestamps as
// DATETIMEOFFSET. ReplaceFile and Undo read the record WITH (UPDLOCK, ROWLOCK)
// so concurrent edits of one record serialize without table locks.
//
// This package does not import a driver. The binary must register one under
// the name "sqlserver" (dfapi/internal/storage/all does).
type Repo struct {
	db  dbConn
	now func() time.Time
}

func init() {
	storage.Register("mssql", New)
}

// New opens cfg.DSN with the "sqlserver" driver and checks connectivity.
func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	raw, err := sql.Open("sqlserver", cfg.DSN)
	if err != nil {
		return nil, err
	}
	raw.SetMaxOpenConns(16)
	raw.SetMaxIdleConns(16)

	if err := raw.PingContext(ctx); err != nil {
		_ = raw.Close()
		return nil, err
	}
	return &Repo{db: &sqlDB{db: raw}, now: time.Now}, nil
}

// Close releases database resources held by this repository.
func (r *Repo) Close() {
	if r == nil || r.db == nil {
		return
	}
	_ = r.db.Close()
}

// buildDDL returns the idempotent statements EnsureSchema runs, in order.
func buildDDL() []string {
	return []string{
		wrapCreateIfMissing("dbo.dataframes", strings.Join([]string{
			"[id] BIGINT IDENTITY(1,1) PRIMARY KEY",
			"[title] NVARCHAR(255) NOT NULL",
			"[file] NVARCHAR(400) NOT NULL",
			"[dtypes] NVARCHAR(MAX) NOT NULL DEFAULT N'{}'",
			"[current_version] INT NOT NULL DEFAULT 0",
			"[created_at] DATETIMEOFFSET NOT NULL",
		}, ", ")),
		wrapCreateIfMissing("dbo.dataframe_versions", strings.Join([]string{
			"[id] BIGINT IDENTITY(1,1) PRIMARY KEY",
			"[dataframe_id] BIGINT NOT NULL REFERENCES [dbo].[dataframes] ([id]) ON DELETE CASCADE",
			"[version] INT NOT NULL",
			"[file] NVARCHAR(400) NOT NULL",
			"[dtypes] NVARCHAR(MAX) NOT NULL DEFAULT N'{}'",
			"[changed_at] DATETIMEOFFSET NOT NULL",
		}, ", ")),
	}
}

// wrapCreateIfMissing wraps a CREATE TABLE statement in an OBJECT_ID guard.
func wrapCreateIfMissing(tableName string, innerDefs string) string {
	return fmt.Sprintf(
		"IF OBJECT_ID(N'%s', N'U') IS NULL BEGIN CREATE TABLE %s (%s); END;",
		tableName,
		mssqlTableIdent(tableName),
		innerDefs,
	)
}

func (r *Repo) EnsureSchema(ctx context.Context) error {
	for _, q := range buildDDL() {
		if _, err := r.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("mssql: ensure schema: %w", err)
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
	err = r.db.QueryRowContext(ctx,
		`INSERT INTO [dbo].[dataframes] ([title], [file], [dtypes], [current_version], [created_at]) OUTPUT INSERTED.[id] VALUES (@p1, @p2, @p3, @p4, @p5)`,
		d.Title, d.File, dtypes, d.CurrentVersion, created,
	).Scan(&d.ID)
	if err != nil {
		return fmt.Errorf("mssql: insert dataframe: %w", err)
	}
	d.CreatedAt = created
	return nil
}

// buildSelectDataframe returns the single-record query. With lock set the
// row is held with UPDLOCK until the transaction ends.
func buildSelectDataframe(lock bool) string {
	hint := ""
	if lock {
		hint = " WITH (UPDLOCK, ROWLOCK)"
	}
	return `SELECT [id], [title], [file], [dtypes], [current_version], [created_at] FROM [dbo].[dataframes]` + hint + ` WHERE [id] = @p1`
}

func scanDataframe(s rowScanner) (storage.Dataframe, error) {
	var (
		d      storage.Dataframe
		dtypes string
	)
	if err := s.Scan(&d.ID, &d.Title, &d.File, &dtypes, &d.CurrentVersion, &d.CreatedAt); err != nil {
		return storage.Dataframe{}, err
	}
	schema, err := storage.DecodeSchema([]byte(dtypes))
	if err != nil {
		return storage.Dataframe{}, err
	}
	d.Schema = schema
	d.CreatedAt = d.CreatedAt.UTC()
	return d, nil
}

type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) rowScanner
}

func getDataframe(ctx context.Context, q rowQuerier, id int64, lock bool) (storage.Dataframe, error) {
	d, err := scanDataframe(q.QueryRowContext(ctx, buildSelectDataframe(lock), id))
	if errors.Is(err, sql.ErrNoRows) {
		return storage.Dataframe{}, fmt.Errorf("%w: id=%d", storage.ErrNotFound, id)
	}
	return d, err
}

func (r *Repo) Get(ctx context.Context, id int64) (storage.Dataframe, error) {
	return getDataframe(ctx, r.db, id, false)
}

func (r *Repo) List(ctx context.Context) ([]storage.Dataframe, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT [id], [title], [file], [dtypes], [current_version], [created_at] FROM [dbo].[dataframes] ORDER BY [id]`)
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
		`UPDATE [dbo].[dataframes] SET [title] = @p1, [dtypes] = @p2 WHERE [id] = @p3`,
		title, dtypes, id,
	)
	if err != nil {
		return fmt.Errorf("mssql: update dataframe %d: %w", id, err)
	}
	return expectOne(res, id)
}

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

	cur, err := getDataframe(ctx, tx, id, true)
	if err != nil {
		return storage.Dataframe{}, err
	}
	curTypes, err := storage.EncodeSchema(cur.Schema)
	if err != nil {
		return storage.Dataframe{}, err
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO [dbo].[dataframe_versions] ([dataframe_id], [version], [file], [dtypes], [changed_at]) VALUES (@p1, @p2, @p3, @p4, @p5)`,
		id, cur.CurrentVersion, cur.File, curTypes, r.now().UTC(),
	); err != nil {
		return storage.Dataframe{}, fmt.Errorf("mssql: push version: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE [dbo].[dataframes] SET [file] = @p1, [dtypes] = @p2, [current_version] = [current_version] + 1 WHERE [id] = @p3`,
		file, dtypes, id,
	); err != nil {
		return storage.Dataframe{}, fmt.Errorf("mssql: replace file: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return storage.Dataframe{}, err
	}

	cur.File = file
	cur.Schema = schema.Clone()
	if cur.Schema == nil {
		cur.Schema = dtype.Schema{}
	}
	cur.CurrentVersion++
	return cur, nil
}

func (r *Repo) Undo(ctx context.Context, id int64) (storage.Dataframe, string, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return storage.Dataframe{}, "", err
	}
	defer func() { _ = tx.Rollback() }()

	cur, err := getDataframe(ctx, tx, id, true)
	if err != nil {
		return storage.Dataframe{}, "", err
	}

	var (
		versionID int64
		version   int
		file      string
		dtypes    string
	)
	err = tx.QueryRowContext(ctx,
		`SELECT TOP (1) [id], [version], [file], [dtypes] FROM [dbo].[dataframe_versions] WITH (UPDLOCK, ROWLOCK) WHERE [dataframe_id] = @p1 ORDER BY [version] DESC, [id] DESC`,
		id,
	).Scan(&versionID, &version, &file, &dtypes)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.Dataframe{}, "", fmt.Errorf("%w: id=%d", storage.ErrNoHistory, id)
	}
	if err != nil {
		return storage.Dataframe{}, "", err
	}
	schema, err := storage.DecodeSchema([]byte(dtypes))
	if err != nil {
		return storage.Dataframe{}, "", err
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE [dbo].[dataframes] SET [file] = @p1, [dtypes] = @p2, [current_version] = @p3 WHERE [id] = @p4`,
		file, dtypes, version, id,
	); err != nil {
		return storage.Dataframe{}, "", fmt.Errorf("mssql: restore version: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM [dbo].[dataframe_versions] WHERE [id] = @p1`, versionID); err != nil {
		return storage.Dataframe{}, "", fmt.Errorf("mssql: pop version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return storage.Dataframe{}, "", err
	}

	discarded := cur.File
	cur.File = file
	cur.Schema = schema
	cur.CurrentVersion = version
	return cur, discarded, nil
}

func (r *Repo) History(ctx context.Context, id int64) ([]storage.Version, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT [version], [file], [dtypes], [changed_at] FROM [dbo].[dataframe_versions] WHERE [dataframe_id] = @p1 ORDER BY [version] DESC, [id] DESC`,
		id,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []storage.Version
	for rows.Next() {
		v := storage.Version{DataframeID: id}
		var dtypes string
		if err := rows.Scan(&v.Version, &v.File, &dtypes, &v.ChangedAt); err != nil {
			return nil, err
		}
		if v.Schema, err = storage.DecodeSchema([]byte(dtypes)); err != nil {
			return nil, err
		}
		v.ChangedAt = v.ChangedAt.UTC()
		out = append(out, v)
	}
	return out, rows.Err()
}

// Delete relies on ON DELETE CASCADE for the history rows.
func (r *Repo) Delete(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM [dbo].[dataframes] WHERE [id] = @p1`, id)
	if err != nil {
		return fmt.Errorf("mssql: delete dataframe %d: %w", id, err)
	}
	return expectOne(res, id)
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

// mssqlIdent returns a bracket-quoted identifier, escaping ']' as ']]'.
func mssqlIdent(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

// mssqlTableIdent returns a bracket-quoted identifier for schema-qualified names.
//
// Example:
//
//	"dbo.dataframes" -> [dbo].[dataframes]
func mssqlTableIdent(name string) string {
	parts := strings.Split(name, ".")
	for i := range parts {
		parts[i] = mssqlIdent(strings.TrimSpace(parts[i]))
	}
	return strings.Join(parts, ".")
}

// ---- database/sql seam types ----

// dbConn is the subset of *sql.DB this package uses; tests swap in fakes.
type dbConn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) rowScanner
	BeginTx(ctx context.Context, opts *sql.TxOptions) (txConn, error)
	Close() error
}

// txConn is the subset of *sql.Tx used by ReplaceFile and Undo.
type txConn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) rowScanner
	Commit() error
	Rollback() error
}

// rowScanner is a narrow adapter over *sql.Row.Scan.
type rowScanner interface {
	Scan(dest ...any) error
}

type sqlDB struct {
	db *sql.DB
}

func (s *sqlDB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, query, args...)
}

func (s *sqlDB) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, query, args...)
}

func (s *sqlDB) QueryRowContext(ctx context.Context, query string, args ...any) rowScanner {
	return s.db.QueryRowContext(ctx, query, args...)
}

func (s *sqlDB) BeginTx(ctx context.Context, opts *sql.TxOptions) (txConn, error) {
	tx, err := s.db.BeginTx(ctx, opts)
	if err != nil {
		return nil, err
	}
	return &sqlTx{tx: tx}, nil
}

func (s *sqlDB) Close() error { return s.db.Close() }

type sqlTx struct {
	tx *sql.Tx
}

func (s *sqlTx) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.tx.ExecContext(ctx, query, args...)
}

func (s *sqlTx) QueryRowContext(ctx context.Context, query string, args ...any) rowScanner {
	return s.tx.QueryRowContext(ctx, query, args...)
}

func (s *sqlTx) Commit() error { return s.tx.Commit() }

func (s *sqlTx) Rollback() error { return s.tx.Rollback() }

var (
	_ dbConn = (*sqlDB)(nil)
	_ txConn = (*sqlTx)(nil)
)
