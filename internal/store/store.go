// Package store persists collector runs, their accepted records and their
// failure logs in SQLite or Postgres.
package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/profile-collector/internal/model"
	"github.com/sells-group/profile-collector/internal/resilience"
)

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = eris.New("store: not found")

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Source string         `json:"source,omitempty"`
	State  model.RunState `json:"state,omitempty"`
	Limit  int            `json:"limit,omitempty"`
	Offset int            `json:"offset,omitempty"`
}

// StoredRecord is one accepted record as persisted for a run.
type StoredRecord struct {
	RunID    string          `json:"run_id"`
	Source   string          `json:"source"`
	Key      string          `json:"key"`
	Position int             `json:"position"`
	Data     json.RawMessage `json:"data"`
}

// Store defines the persistence interface for collector runs.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, source string) (*model.Run, error)
	UpdateRunState(ctx context.Context, runID string, state model.RunState) error
	CompleteRun(ctx context.Context, runID string, stats model.RunStats, outputPath string) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)

	// Records are stored per run and upserted into the latest-profile
	// table keyed by (source, key).
	SaveRecords(ctx context.Context, runID, source string, records []model.Record) (int64, error)
	ListRecords(ctx context.Context, runID string, limit int) ([]StoredRecord, error)

	SaveFailures(ctx context.Context, runID string, failures []resilience.Failure) error
	ListFailures(ctx context.Context, runID string) ([]resilience.Failure, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// Open returns the store for driver ("sqlite" or "postgres") and migrates
// its schema.
func Open(ctx context.Context, driver, databaseURL, sqlitePath string) (Store, error) {
	var (
		st  Store
		err error
	)
	switch driver {
	case "postgres":
		st, err = NewPostgres(ctx, databaseURL, nil)
	case "sqlite":
		st, err = NewSQLite(sqlitePath)
	default:
		return nil, eris.Errorf("store: unknown driver %q", driver)
	}
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close() //nolint:errcheck
		return nil, err
	}
	return st, nil
}

func newRun(id, source string, now time.Time) *model.Run {
	return &model.Run{
		ID:        id,
		Source:    source,
		State:     model.RunStateIdle,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// recordRow is the flattened form shared by both backends.
type recordRow struct {
	key      string
	position int
	data     []byte
}

func encodeRecords(records []model.Record) ([]recordRow, error) {
	rows := make([]recordRow, 0, len(records))
	for i, r := range records {
		data, err := json.Marshal(r)
		if err != nil {
			return nil, eris.Wrapf(err, "store: marshal record %s", r.Key())
		}
		rows = append(rows, recordRow{key: r.Key(), position: i, data: data})
	}
	return rows, nil
}

func listLimit(n int) int {
	if n <= 0 {
		return 100
	}
	return n
}
