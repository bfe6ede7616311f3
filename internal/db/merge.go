package db

import (
	"context"
	"slices"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// Merge describes a COPY-staged insert that folds rows into Table on Key.
// On conflict, Replace columns take the incoming value, Frozen columns keep
// the stored one, and every other column is only filled where it is NULL.
type Merge struct {
	Table   string
	Key     string
	Columns []string
	Replace []string
	Frozen  []string
	// Touch names a timestamp column set to now() on conflict.
	Touch string
}

func (m Merge) stageTable() string {
	return "_stage_" + m.Table
}

func (m Merge) validate() error {
	switch {
	case m.Table == "":
		return eris.New("db: merge: no table")
	case len(m.Columns) == 0:
		return eris.Errorf("db: merge %s: no columns", m.Table)
	case !slices.Contains(m.Columns, m.Key):
		return eris.Errorf("db: merge %s: key %q is not a copied column", m.Table, m.Key)
	}
	return nil
}

// assignments renders the DO UPDATE SET list in column order.
func (m Merge) assignments() []string {
	var out []string
	for _, c := range m.Columns {
		if c == m.Key || slices.Contains(m.Frozen, c) {
			continue
		}
		q := pgx.Identifier{c}.Sanitize()
		if slices.Contains(m.Replace, c) {
			out = append(out, q+" = EXCLUDED."+q)
		} else {
			out = append(out, q+" = COALESCE(t."+q+", EXCLUDED."+q+")")
		}
	}
	if m.Touch != "" {
		out = append(out, pgx.Identifier{m.Touch}.Sanitize()+" = now()")
	}
	return out
}

func (m Merge) insertSQL() string {
	cols := make([]string, len(m.Columns))
	for i, c := range m.Columns {
		cols[i] = pgx.Identifier{c}.Sanitize()
	}
	list := strings.Join(cols, ", ")

	var b strings.Builder
	b.WriteString("INSERT INTO " + pgx.Identifier{m.Table}.Sanitize() + " AS t (" + list + ")")
	b.WriteString(" SELECT " + list + " FROM " + pgx.Identifier{m.stageTable()}.Sanitize())
	b.WriteString(" ON CONFLICT (" + pgx.Identifier{m.Key}.Sanitize() + ")")
	if set := m.assignments(); len(set) > 0 {
		b.WriteString(" DO UPDATE SET " + strings.Join(set, ", "))
	} else {
		b.WriteString(" DO NOTHING")
	}
	return b.String()
}

// CopyMerge copies rows into a transaction-scoped staging table and merges
// them into the target in one statement, so concurrent writers of the same
// key update instead of colliding. It returns the rows inserted or updated.
func CopyMerge(ctx context.Context, pool Pool, m Merge, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if err := m.validate(); err != nil {
		return 0, err
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrapf(err, "db: merge %s: begin", m.Table)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	stage := pgx.Identifier{m.stageTable()}
	if _, err := tx.Exec(ctx, "CREATE TEMP TABLE "+stage.Sanitize()+
		" (LIKE "+pgx.Identifier{m.Table}.Sanitize()+" INCLUDING DEFAULTS) ON COMMIT DROP"); err != nil {
		return 0, eris.Wrapf(err, "db: merge %s: create stage", m.Table)
	}
	if _, err := tx.CopyFrom(ctx, stage, m.Columns, pgx.CopyFromRows(rows)); err != nil {
		return 0, eris.Wrapf(err, "db: merge %s: copy", m.Table)
	}

	tag, err := tx.Exec(ctx, m.insertSQL())
	if err != nil {
		return 0, eris.Wrapf(err, "db: merge %s: insert", m.Table)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrapf(err, "db: merge %s: commit", m.Table)
	}
	return tag.RowsAffected(), nil
}
