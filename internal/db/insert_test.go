package db

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInsertIgnore_BuildsMultiRowInsert(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec(`INSERT INTO "site_candidates" \("run_id", "domain"\) VALUES \(\$1, \$2\), \(\$3, \$4\) ON CONFLICT \("run_id", "domain"\) DO NOTHING`).
		WithArgs("run-1", "a.com", "run-1", "b.com").
		WillReturnResult(pgxmock.NewResult("INSERT", 2))

	n, err := InsertIgnore(context.Background(), mock, "site_candidates",
		[]string{"run_id", "domain"}, []string{"run_id", "domain"},
		[][]any{{"run-1", "a.com"}, {"run-1", "b.com"}})

	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertIgnore_EmptyRows(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	n, err := InsertIgnore(context.Background(), mock, "t", []string{"a"}, nil, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestInsertIgnore_ColumnMismatch(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = InsertIgnore(context.Background(), mock, "t", []string{"a", "b"}, nil, [][]any{{1}})
	assert.Error(t, err)
}

func TestCopyRows(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectCopyFrom(pgx.Identifier{"scrape_job_sites"}, []string{"job_id", "domain"}).WillReturnResult(2)

	n, err := CopyRows(context.Background(), mock, "scrape_job_sites",
		[]string{"job_id", "domain"}, [][]any{{"j1", "a.com"}, {"j1", "b.com"}})

	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}
