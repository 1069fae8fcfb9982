package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/profile-collector/internal/db"
	"github.com/sells-group/profile-collector/internal/model"
	"github.com/sells-group/profile-collector/internal/resilience"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `mapstructure:"max_conns"`
	MinConns int32 `mapstructure:"min_conns"`
}

var (
	recordColumns  = []string{"run_id", "source", "key", "position", "data"}
	profileColumns = []string{"source", "key", "data", "run_id", "updated_at"}
	failureColumns = []string{"run_id", "source", "identifier", "phase", "error", "error_type", "status_code", "failed_at"}
)

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(4)
	minConns := int32(1)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	source      TEXT NOT NULL,
	state       TEXT NOT NULL DEFAULT 'idle',
	stats       JSONB,
	output_path TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS run_records (
	run_id   TEXT NOT NULL REFERENCES runs(id),
	source   TEXT NOT NULL,
	key      TEXT NOT NULL,
	position INTEGER NOT NULL,
	data     JSONB NOT NULL,
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
	failed_at   TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS profiles (
	source     TEXT NOT NULL,
	key        TEXT NOT NULL,
	data       JSONB NOT NULL,
	run_id     TEXT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (source, key)
);

CREATE INDEX IF NOT EXISTS idx_runs_source ON runs(source);
CREATE INDEX IF NOT EXISTS idx_runs_state ON runs(state);
CREATE INDEX IF NOT EXISTS idx_run_failures_run_id ON run_failures(run_id);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateRun(ctx context.Context, source string) (*model.Run, error) {
	run := newRun(uuid.New().String(), source, time.Now().UTC())

	_, err := s.pool.Exec(ctx,
		`INSERT INTO runs (id, source, state, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)`,
		run.ID, run.Source, string(run.State), run.CreatedAt, run.UpdatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
	}
	return run, nil
}

func (s *PostgresStore) UpdateRunState(ctx context.Context, runID string, state model.RunState) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET state = $1, updated_at = $2 WHERE id = $3`,
		string(state), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update run state %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "run %s", runID)
	}
	return nil
}

func (s *PostgresStore) CompleteRun(ctx context.Context, runID string, stats model.RunStats, outputPath string) error {
	statsJSON, err := json.Marshal(stats)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal stats")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET stats = $1, output_path = $2, state = $3, updated_at = $4 WHERE id = $5`,
		statsJSON, outputPath, string(model.RunStateDone), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "run %s", runID)
	}
	return nil
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, source, state, stats, output_path, created_at, updated_at FROM runs WHERE id = $1`,
		runID,
	)
	r, err := scanPgRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: get run %s", runID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}
	return r, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, source, state, stats, output_path, created_at, updated_at FROM runs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Source != "" {
		query += fmt.Sprintf(` AND source = $%d`, argIdx)
		args = append(args, filter.Source)
		argIdx++
	}
	if filter.State != "" {
		query += fmt.Sprintf(` AND state = $%d`, argIdx)
		args = append(args, string(filter.State))
		argIdx++
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d`, argIdx)
	args = append(args, listLimit(filter.Limit))
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanPgRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

// SaveRecords copies the run's records and merges them into profiles.
func (s *PostgresStore) SaveRecords(ctx context.Context, runID, source string, records []model.Record) (int64, error) {
	encoded, err := encodeRecords(records)
	if err != nil || len(encoded) == 0 {
		return 0, err
	}

	now := time.Now().UTC()
	recRows := make([][]any, len(encoded))
	profRows := make([][]any, len(encoded))
	for i, r := range encoded {
		recRows[i] = []any{runID, source, r.key, r.position, string(r.data)}
		profRows[i] = []any{source, r.key, string(r.data), runID, now}
	}

	n, err := db.CopyFrom(ctx, s.pool, "run_records", recordColumns, recRows)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: save records")
	}
	if _, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "profiles",
		Columns:      profileColumns,
		ConflictKeys: []string{"source", "key"},
		Newer:        "updated_at",
	}, profRows); err != nil {
		return n, eris.Wrap(err, "postgres: upsert profiles")
	}
	return n, nil
}

func (s *PostgresStore) ListRecords(ctx context.Context, runID string, limit int) ([]StoredRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT run_id, source, key, position, data FROM run_records WHERE run_id = $1 ORDER BY position LIMIT $2`,
		runID, listLimit(limit),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list records")
	}
	defer rows.Close()

	var out []StoredRecord
	for rows.Next() {
		var r StoredRecord
		var data []byte
		if err := rows.Scan(&r.RunID, &r.Source, &r.Key, &r.Position, &data); err != nil {
			return nil, eris.Wrap(err, "postgres: scan record")
		}
		r.Data = json.RawMessage(data)
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list records iterate")
}

func (s *PostgresStore) SaveFailures(ctx context.Context, runID string, failures []resilience.Failure) error {
	rows := make([][]any, len(failures))
	for i, f := range failures {
		rows[i] = []any{runID, f.Source, f.Identifier, f.Phase, f.Error, f.ErrorType, f.StatusCode, f.FailedAt}
	}
	_, err := db.CopyFrom(ctx, s.pool, "run_failures", failureColumns, rows)
	return eris.Wrap(err, "postgres: save failures")
}

func (s *PostgresStore) ListFailures(ctx context.Context, runID string) ([]resilience.Failure, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT source, identifier, phase, error, error_type, status_code, failed_at
		 FROM run_failures WHERE run_id = $1 ORDER BY failed_at`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list failures")
	}
	defer rows.Close()

	var out []resilience.Failure
	for rows.Next() {
		var f resilience.Failure
		if err := rows.Scan(&f.Source, &f.Identifier, &f.Phase, &f.Error, &f.ErrorType, &f.StatusCode, &f.FailedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan failure")
		}
		out = append(out, f)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list failures iterate")
}

func scanPgRun(row pgx.Row) (*model.Run, error) {
	var r model.Run
	var state string
	var statsJSON []byte

	if err := row.Scan(&r.ID, &r.Source, &state, &statsJSON, &r.OutputPath, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	r.State = model.RunState(state)
	if len(statsJSON) > 0 {
		if err := json.Unmarshal(statsJSON, &r.Stats); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal stats")
		}
	}
	return &r, nil
}
