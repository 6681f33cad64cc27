package db

import (
	"context"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCopyFrom_EmptyRows(t *testing.T) {
	n, err := CopyFrom(context.TODO(), nil, "run_coefficients", []string{"run_id", "name"}, nil)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestCopyFrom_Success(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	cols := []string{"run_id", "position", "name", "estimate"}
	mock.ExpectCopyFrom(pgx.Identifier{"run_coefficients"}, cols).WillReturnResult(3)

	rows := [][]any{
		{"run-1", 0, "(Intercept)", 5.77},
		{"run-1", 1, ".Dtreat:g::2004:t::2004", -0.02},
		{"run-1", 2, ".Dtreat:g::2004:t::2005", -0.07},
	}
	n, err := CopyFrom(context.Background(), mock, "run_coefficients", cols, rows)
	assert.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCopyFrom_Error(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectCopyFrom(pgx.Identifier{"effects"}, []string{"run_id", "kind"}).
		WillReturnError(fmt.Errorf("copy failed"))

	rows := [][]any{{"run-1", "event"}}
	_, err = CopyFrom(context.Background(), mock, "effects", []string{"run_id", "kind"}, rows)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "COPY INTO effects")
	assert.NoError(t, mock.ExpectationsWereMet())
}
