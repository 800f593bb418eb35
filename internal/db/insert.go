package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// InsertIgnore performs a multi-row INSERT ... ON CONFLICT DO NOTHING and
// returns how many rows were actually inserted. Conflicting rows (executor
// re-deliveries, concurrent ingests) are counted by the caller as
// duplicates via the difference from len(rows).
func InsertIgnore(ctx context.Context, q Execer, table string, columns []string, conflictKeys []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if len(columns) == 0 {
		return 0, eris.New("db: insert: no columns specified")
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "INSERT INTO %s (%s) VALUES ", sanitizeTable(table), quoteAndJoin(columns))

	args := make([]any, 0, len(rows)*len(columns))
	for i, row := range rows {
		if len(row) != len(columns) {
			return 0, eris.Errorf("db: insert: row %d has %d values, want %d", i, len(row), len(columns))
		}
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteByte('(')
		for j := range row {
			if j > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "$%d", i*len(columns)+j+1)
		}
		sb.WriteByte(')')
		args = append(args, row...)
	}

	if len(conflictKeys) > 0 {
		fmt.Fprintf(&sb, " ON CONFLICT (%s) DO NOTHING", quoteAndJoin(conflictKeys))
	}

	tag, err := q.Exec(ctx, sb.String(), args...)
	if err != nil {
		return 0, eris.Wrapf(err, "db: insert into %s", table)
	}
	return tag.RowsAffected(), nil
}

// CopyRows bulk-inserts rows using the PostgreSQL COPY protocol. Use for
// conflict-free inserts such as job site snapshots.
func CopyRows(ctx context.Context, c Copier, table string, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	n, err := c.CopyFrom(ctx, pgx.Identifier{table}, columns, pgx.CopyFromRows(rows))
	if err != nil {
		return 0, eris.Wrapf(err, "db: COPY INTO %s", table)
	}
	return n, nil
}

// sanitizeTable handles schema-qualified table names.
func sanitizeTable(table string) string {
	parts := strings.SplitN(table, ".", 2)
	if len(parts) == 2 {
		return pgx.Identifier{parts[0], parts[1]}.Sanitize()
	}
	return pgx.Identifier{table}.Sanitize()
}

// quoteAndJoin quotes each column name and joins with commas.
func quoteAndJoin(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = pgx.Identifier{c}.Sanitize()
	}
	return strings.Join(quoted, ", ")
}
