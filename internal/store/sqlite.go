package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/profile-collector/internal/model"
	"github.com/sells-group/profile-collector/internal/resilience"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	source      TEXT NOT NULL,
	state       TEXT NOT NULL DEFAULT 'idle',
	stats       TEXT,
	output_path TEXT NOT NULL DEFAULT '',
	created_at  DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at  DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS run_records (
	run_id   TEXT NOT NULL REFERENCES runs(id),
	source   TEXT NOT NULL,
	key      TEXT NOT NULL,
	position INTEGER NOT NULL,
	data     TEXT NOT NULL,
	PRIMARY KEY (run_id, key)
);

CREATE TABLE IF NOT EXISTS run_failures (
	run_id      TEXT NOT NULL REFERENCES runs(id),
	source      TEXT NOT NULL,
	identifier  TEXT NOT NULL,
	phase       TEXT NOT NULL,
	error       TEXT NOT NULL,
	error_type  TEXT NOT NULL,
	status_code INTEGER NOT NULL DEFAULT 0,
	failed_at   DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS profiles (
	source     TEXT NOT NULL,
	key        TEXT NOT NULL,
	data       TEXT NOT NULL,
	run_id     TEXT NOT NULL,
	updated_at DATETIME NOT NULL,
	PRIMARY KEY (source, key)
);

CREATE INDEX IF NOT EXISTS idx_runs_source ON runs(source);
CREATE INDEX IF NOT EXISTS idx_runs_state ON runs(state);
CREATE INDEX IF NOT EXISTS idx_run_failures_run_id ON run_failures(run_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateRun(ctx context.Context, source string) (*model.Run, error) {
	run := newRun(uuid.New().String(), source, time.Now().UTC())

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, source, state, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		run.ID, run.Source, string(run.State), run.CreatedAt, run.UpdatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}
	return run, nil
}

func (s *SQLiteStore) UpdateRunState(ctx context.Context, runID string, state model.RunState) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET state = ?, updated_at = ? WHERE id = ?`,
		string(state), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update run state %s", runID)
	}
	return checkRowsAffected(res, runID)
}

func (s *SQLiteStore) CompleteRun(ctx context.Context, runID string, stats model.RunStats, outputPath string) error {
	statsJSON, err := json.Marshal(stats)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal stats")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET stats = ?, output_path = ?, state = ?, updated_at = ? WHERE id = ?`,
		string(statsJSON), outputPath, string(model.RunStateDone), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete run %s", runID)
	}
	return checkRowsAffected(res, runID)
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, source, state, stats, output_path, created_at, updated_at FROM runs WHERE id = ?`,
		runID,
	)
	return scanRun(row)
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, source, state, stats, output_path, created_at, updated_at FROM runs WHERE 1=1`
	var args []any

	if filter.Source != "" {
		query += ` AND source = ?`
		args = append(args, filter.Source)
	}
	if filter.State != "" {
		query += ` AND state = ?`
		args = append(args, string(filter.State))
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, listLimit(filter.Limit))

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close() //nolint:errcheck

	var runs []model.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

func (s *SQLiteStore) SaveRecords(ctx context.Context, runID, source string, records []model.Record) (int64, error) {
	rows, err := encodeRecords(records)
	if err != nil || len(rows) == 0 {
		return 0, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	now := time.Now().UTC()
	for _, r := range rows {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO run_records (run_id, source, key, position, data) VALUES (?, ?, ?, ?, ?)`,
			runID, source, r.key, r.position, string(r.data),
		); err != nil {
			return 0, eris.Wrapf(err, "sqlite: insert record %s", r.key)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO profiles (source, key, data, run_id, updated_at) VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT (source, key) DO UPDATE SET data = excluded.data, run_id = excluded.run_id, updated_at = excluded.updated_at`,
			source, r.key, string(r.data), runID, now,
		); err != nil {
			return 0, eris.Wrapf(err, "sqlite: upsert profile %s", r.key)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit records")
	}
	return int64(len(rows)), nil
}

func (s *SQLiteStore) ListRecords(ctx context.Context, runID string, limit int) ([]StoredRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, source, key, position, data FROM run_records WHERE run_id = ? ORDER BY position LIMIT ?`,
		runID, listLimit(limit),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list records")
	}
	defer rows.Close() //nolint:errcheck

	var out []StoredRecord
	for rows.Next() {
		var r StoredRecord
		var data string
		if err := rows.Scan(&r.RunID, &r.Source, &r.Key, &r.Position, &data); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan record")
		}
		r.Data = json.RawMessage(data)
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list records iterate")
}

func (s *SQLiteStore) SaveFailures(ctx context.Context, runID string, failures []resilience.Failure) error {
	if len(failures) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	for _, f := range failures {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO run_failures (run_id, source, identifier, phase, error, error_type, status_code, failed_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			runID, f.Source, f.Identifier, f.Phase, f.Error, f.ErrorType, f.StatusCode, f.FailedAt,
		); err != nil {
			return eris.Wrapf(err, "sqlite: insert failure %s", f.Identifier)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit failures")
}

func (s *SQLiteStore) ListFailures(ctx context.Context, runID string) ([]resilience.Failure, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT source, identifier, phase, error, error_type, status_code, failed_at
		 FROM run_failures WHERE run_id = ? ORDER BY failed_at`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list failures")
	}
	defer rows.Close() //nolint:errcheck

	var out []resilience.Failure
	for rows.Next() {
		var f resilience.Failure
		if err := rows.Scan(&f.Source, &f.Identifier, &f.Phase, &f.Error, &f.ErrorType, &f.StatusCode, &f.FailedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan failure")
		}
		out = append(out, f)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list failures iterate")
}

// helpers

func checkRowsAffected(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "run %s", id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRun(row scannable) (*model.Run, error) {
	var r model.Run
	var statsJSON sql.NullString

	err := row.Scan(&r.ID, &r.Source, &r.State, &statsJSON, &r.OutputPath, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrap(ErrNotFound, "run")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan run")
	}
	if statsJSON.Valid {
		if err := json.Unmarshal([]byte(statsJSON.String), &r.Stats); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal stats")
		}
	}
	return &r, nil
}
