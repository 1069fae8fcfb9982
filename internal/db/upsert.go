package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// UpsertConfig describes a merge of copied rows into a keyed table.
type UpsertConfig struct {
	Table        string   // target table, optionally schema-qualified
	Columns      []string // column order of each row
	ConflictKeys []string // unique key of the target
	UpdateCols   []string // overwritten on conflict; nil means every non-key column

	// Newer names a column that orders versions of the same key. When set,
	// an existing row is only replaced by one whose value is not older.
	Newer string
}

func (c UpsertConfig) validate() error {
	if c.Table == "" {
		return eris.New("db: upsert: no table specified")
	}
	if len(c.Columns) == 0 {
		return eris.New("db: upsert: no columns specified")
	}
	if len(c.ConflictKeys) == 0 {
		return eris.New("db: upsert: no conflict keys specified")
	}
	return nil
}

func (c UpsertConfig) updateCols() []string {
	if c.UpdateCols != nil {
		return c.UpdateCols
	}
	keys := make(map[string]struct{}, len(c.ConflictKeys))
	for _, k := range c.ConflictKeys {
		keys[k] = struct{}{}
	}
	var cols []string
	for _, col := range c.Columns {
		if _, ok := keys[col]; !ok {
			cols = append(cols, col)
		}
	}
	return cols
}

// stageTable is the session-local table rows are copied into first.
func stageTable(table string) string {
	return "_stage_" + strings.ReplaceAll(table, ".", "_")
}

// mergeSQL builds the statement that moves staged rows into the target.
func mergeSQL(c UpsertConfig) string {
	target := sanitizeTable(c.Table)
	cols := quoteAndJoin(c.Columns)

	var set []string
	for _, col := range c.updateCols() {
		id := pgx.Identifier{col}.Sanitize()
		set = append(set, id+" = EXCLUDED."+id)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (%s) SELECT %s FROM %s ON CONFLICT (%s) ",
		target, cols, cols, pgx.Identifier{stageTable(c.Table)}.Sanitize(), quoteAndJoin(c.ConflictKeys))
	if len(set) == 0 {
		b.WriteString("DO NOTHING")
		return b.String()
	}
	b.WriteString("DO UPDATE SET " + strings.Join(set, ", "))
	if c.Newer != "" {
		id := pgx.Identifier{c.Newer}.Sanitize()
		fmt.Fprintf(&b, " WHERE %s.%s <= EXCLUDED.%s", target, id, id)
	}
	return b.String()
}

// BulkUpsert COPYs rows into a staging table shaped like the target and
// merges them in a single INSERT ... ON CONFLICT. The staging table is
// dropped when the transaction commits.
func BulkUpsert(ctx context.Context, pool Pool, cfg UpsertConfig, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if err := cfg.validate(); err != nil {
		return 0, err
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "db: upsert: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	stage := pgx.Identifier{stageTable(cfg.Table)}
	create := fmt.Sprintf("CREATE TEMP TABLE %s (LIKE %s INCLUDING DEFAULTS) ON COMMIT DROP",
		stage.Sanitize(), sanitizeTable(cfg.Table))
	if _, err := tx.Exec(ctx, create); err != nil {
		return 0, eris.Wrapf(err, "db: upsert: stage %s", cfg.Table)
	}
	if _, err := tx.CopyFrom(ctx, stage, cfg.Columns, pgx.CopyFromRows(rows)); err != nil {
		return 0, eris.Wrapf(err, "db: upsert: copy into stage for %s", cfg.Table)
	}

	tag, err := tx.Exec(ctx, mergeSQL(cfg))
	if err != nil {
		return 0, eris.Wrapf(err, "db: upsert: merge into %s", cfg.Table)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "db: upsert: commit tx")
	}
	return tag.RowsAffected(), nil
}

// sanitizeTable quotes a table name, keeping an optional schema prefix.
func sanitizeTable(table string) string {
	return pgx.Identifier(strings.SplitN(table, ".", 2)).Sanitize()
}

func quoteAndJoin(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = pgx.Identifier{c}.Sanitize()
	}
	return strings.Join(quoted, ", ")
}
