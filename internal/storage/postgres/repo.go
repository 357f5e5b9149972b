package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"dfapi/internal/dtype"
	"dfapi/internal/storage"
)

/*
Repo implements storage.Repository for Postgres.

Schemas are stored as jsonb and timestamps as timestamptz. ReplaceFile and
Undo lock the record with SELECT ... FOR UPDATE so concurrent edits of the
same record serialize.
*/
type Repo struct {
	pool *pgxpool.Pool
}

func init() {
	storage.Register("postgres", New)
}

// New creates a pool for cfg.DSN and checks the server is reachable.
func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &Repo{pool: pool}, nil
}

// Close closes the connection pool.
func (r *Repo) Close() {
	r.pool.Close()
}

const (
	dataframesTable = "dataframes"
	versionsTable   = "dataframe_versions"
)

// buildDDL returns the statements EnsureSchema runs, in order.
func buildDDL() []string {
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
  "id" bigserial PRIMARY KEY,
  "title" text NOT NULL,
  "file" text NOT NULL,
  "dtypes" jsonb NOT NULL DEFAULT '{}'::jsonb,
  "current_version" integer NOT NULL DEFAULT 0,
  "created_at" timestamptz NOT NULL DEFAULT now()
);`, pgIdent(dataframesTable)),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
  "id" bigserial PRIMARY KEY,
  "dataframe_id" bigint NOT NULL REFERENCES %s ("id") ON DELETE CASCADE,
  "version" integer NOT NULL,
  "file" text NOT NULL,
  "dtypes" jsonb NOT NULL DEFAULT '{}'::jsonb,
  "changed_at" timestamptz NOT NULL DEFAULT now()
);`, pgIdent(versionsTable), pgIdent(dataframesTable)),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s ("dataframe_id", "version" DESC);`,
			pgIdent(versionsTable+"_dataframe_id"), pgIdent(versionsTable)),
	}
}

// EnsureSchema creates the record and history tables.
func (r *Repo) EnsureSchema(ctx context.Context) error {
	for _, q := range buildDDL() {
		if _, err := r.pool.Exec(ctx, q); err != nil {
			return fmt.Errorf("postgres: ensure schema: %w", err)
		}
	}
	return nil
}

func (r *Repo) Create(ctx context.Context, d *storage.Dataframe) error {
	dtypes, err := storage.EncodeSchema(d.Schema)
	if err != nil {
		return err
	}
	err = r.pool.QueryRow(ctx,
		`INSERT INTO "dataframes" ("title", "file", "dtypes", "current_version") VALUES ($1, $2, $3::jsonb, $4) RETURNING "id", "created_at"`,
		d.Title, d.File, dtypes, d.CurrentVersion,
	).Scan(&d.ID, &d.CreatedAt)
	if err != nil {
		return fmt.Errorf("postgres: insert dataframe: %w", err)
	}
	return nil
}

// pgQuerier is satisfied by both *pgxpool.Pool and pgx.Tx.
type pgQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// buildSelectDataframe returns the single-record query, optionally locking
// the row for the surrounding transaction.
func buildSelectDataframe(forUpdate bool) string {
	q := `SELECT "id", "title", "file", "dtypes"::text, "current_version", "created_at" FROM "dataframes" WHERE "id" = $1`
	if forUpdate {
		q += " FOR UPDATE"
	}
	return q
}

func scanDataframe(row pgx.Row) (storage.Dataframe, error) {
	var (
		d      storage.Dataframe
		dtypes string
	)
	if err := row.Scan(&d.ID, &d.Title, &d.File, &dtypes, &d.CurrentVersion, &d.CreatedAt); err != nil {
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

func getDataframe(ctx context.Context, q pgQuerier, id int64, forUpdate bool) (storage.Dataframe, error) {
	d, err := scanDataframe(q.QueryRow(ctx, buildSelectDataframe(forUpdate), id))
	if errors.Is(err, pgx.ErrNoRows) {
		return storage.Dataframe{}, fmt.Errorf("%w: id=%d", storage.ErrNotFound, id)
	}
	return d, err
}

func (r *Repo) Get(ctx context.Context, id int64) (storage.Dataframe, error) {
	return getDataframe(ctx, r.pool, id, false)
}

func (r *Repo) List(ctx context.Context) ([]storage.Dataframe, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT "id", "title", "file", "dtypes"::text, "current_version", "created_at" FROM "dataframes" ORDER BY "id"`)
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
	tag, err := r.pool.Exec(ctx,
		`UPDATE "dataframes" SET "title" = $1, "dtypes" = $2::jsonb WHERE "id" = $3`,
		title, dtypes, id,
	)
	if err != nil {
		return fmt.Errorf("postgres: update dataframe %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: id=%d", storage.ErrNotFound, id)
	}
	return nil
}

func (r *Repo) ReplaceFile(ctx context.Context, id int64, file string, schema dtype.Schema) (storage.Dataframe, error) {
	dtypes, err := storage.EncodeSchema(schema)
	if err != nil {
		return storage.Dataframe{}, err
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return storage.Dataframe{}, err
	}
	defer tx.Rollback(ctx)

	cur, err := getDataframe(ctx, tx, id, true)
	if err != nil {
		return storage.Dataframe{}, err
	}
	curTypes, err := storage.EncodeSchema(cur.Schema)
	if err != nil {
		return storage.Dataframe{}, err
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO "dataframe_versions" ("dataframe_id", "version", "file", "dtypes") VALUES ($1, $2, $3, $4::jsonb)`,
		id, cur.CurrentVersion, cur.File, curTypes,
	); err != nil {
		return storage.Dataframe{}, fmt.Errorf("postgres: push version: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`UPDATE "dataframes" SET "file" = $1, "dtypes" = $2::jsonb, "current_version" = "current_version" + 1 WHERE "id" = $3`,
		file, dtypes, id,
	); err != nil {
		return storage.Dataframe{}, fmt.Errorf("postgres: replace file: %w", err)
	}

	out, err := getDataframe(ctx, tx, id, false)
	if err != nil {
		return storage.Dataframe{}, err
	}
	return out, tx.Commit(ctx)
}

func (r *Repo) Undo(ctx context.Context, id int64) (storage.Dataframe, string, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return storage.Dataframe{}, "", err
	}
	defer tx.Rollback(ctx)

	cur, err := getDataframe(ctx, tx, id, true)
	if err != nil {
		return storage.Dataframe{}, "", err
	}

	// DELETE ... RETURNING pops the newest entry in one round trip.
	var (
		version int
		file    string
		dtypes  string
	)
	err = tx.QueryRow(ctx, `DELETE FROM "dataframe_versions" WHERE "id" = (
  SELECT "id" FROM "dataframe_versions" WHERE "dataframe_id" = $1 ORDER BY "version" DESC, "id" DESC LIMIT 1
) RETURNING "version", "file", "dtypes"::text`, id).Scan(&version, &file, &dtypes)
	if errors.Is(err, pgx.ErrNoRows) {
		return storage.Dataframe{}, "", fmt.Errorf("%w: id=%d", storage.ErrNoHistory, id)
	}
	if err != nil {
		return storage.Dataframe{}, "", err
	}

	if _, err := tx.Exec(ctx,
		`UPDATE "dataframes" SET "file" = $1, "dtypes" = $2::jsonb, "current_version" = $3 WHERE "id" = $4`,
		file, dtypes, version, id,
	); err != nil {
		return storage.Dataframe{}, "", fmt.Errorf("postgres: restore version: %w", err)
	}

	out, err := getDataframe(ctx, tx, id, false)
	if err != nil {
		return storage.Dataframe{}, "", err
	}
	return out, cur.File, tx.Commit(ctx)
}

func (r *Repo) History(ctx context.Context, id int64) ([]storage.Version, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT "version", "file", "dtypes"::text, "changed_at" FROM "dataframe_versions" WHERE "dataframe_id" = $1 ORDER BY "version" DESC, "id" DESC`,
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
	tag, err := r.pool.Exec(ctx, `DELETE FROM "dataframes" WHERE "id" = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: delete dataframe %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: id=%d", storage.ErrNotFound, id)
	}
	return nil
}

// pgIdent quotes an identifier, splitting schema-qualified names.
func pgIdent(id string) string {
	parts := strings.Split(id, ".")
	for i, p := range parts {
		parts[i] = `"` + strings.ReplaceAll(p, `"`, `""`) + `"`
	}
	return strings.Join(parts, ".")
}
