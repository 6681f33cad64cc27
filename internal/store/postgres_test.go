package store

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gradient-research/etwfe/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

var runColumns = []string{
	"id", "created_at", "dataset", "outcome", "group_var", "time_var",
	"group_ref", "time_ref", "policy", "mode", "family", "vcov", "formula", "n_obs",
}

func TestPostgresStore_GetRun_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT id, created_at, .* FROM runs WHERE id = \$1`).
		WithArgs("nonexistent-run").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetRun(context.Background(), "nonexistent-run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "get run")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetRun_Success(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT id, created_at, .* FROM runs WHERE id = \$1`).
		WithArgs("run-1").
		WillReturnRows(pgxmock.NewRows(runColumns).AddRow(
			"run-1", created, "mpdta.csv", "lemp", "first.treat", "year",
			"0", "2003", "not_yet_treated", "interacted", "gaussian", "hc1",
			"lemp ~ .Dtreat:i(first.treat, ref = 0):i(year, ref = 2003)", 2500,
		))
	mock.ExpectQuery(`SELECT name, estimate, std_err, reported FROM run_coefficients WHERE run_id = \$1`).
		WithArgs("run-1").
		WillReturnRows(pgxmock.NewRows([]string{"name", "estimate", "std_err", "reported"}).
			AddRow("(Intercept)", 5.77, 0.25, false).
			AddRow(".Dtreat:first.treat::2004:year::2004", -0.021, 0.022, true))

	got, err := s.GetRun(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, "run-1", got.ID)
	assert.Equal(t, "mpdta.csv", got.Dataset)
	assert.Equal(t, "not_yet_treated", got.Policy)
	assert.Equal(t, 2500, got.NObs)
	require.Len(t, got.Coefficients, 2)
	assert.Equal(t, "(Intercept)", got.Coefficients[0].Name)
	assert.True(t, got.Coefficients[1].Reported)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveRun(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO runs .* ON CONFLICT \(id\) DO UPDATE SET`).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`DELETE FROM run_coefficients WHERE run_id = \$1`).
		WithArgs("run-1").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"run_coefficients"},
		[]string{"run_id", "position", "name", "estimate", "std_err", "reported"}).
		WillReturnResult(3)

	run := sampleRun("mpdta.csv")
	run.ID = "run-1"
	err := s.SaveRun(context.Background(), run)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveRun_NoCoefficients(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO runs .* ON CONFLICT \(id\) DO UPDATE SET`).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`DELETE FROM run_coefficients WHERE run_id = \$1`).
		WithArgs("run-2").
		WillReturnResult(pgxmock.NewResult("DELETE", 4))

	run := sampleRun("mpdta.csv")
	run.ID = "run-2"
	run.Coefficients = nil
	err := s.SaveRun(context.Background(), run)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_DeleteRun(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`DELETE FROM runs WHERE id = \$1`).
		WithArgs("run-1").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))

	require.NoError(t, s.DeleteRun(context.Background(), "run-1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_DeleteRun_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`DELETE FROM runs WHERE id = \$1`).
		WithArgs("ghost").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))

	err := s.DeleteRun(context.Background(), "ghost")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run not found")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveEffects(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	cols := []string{"run_id", "kind", "key", "estimate", "std_err", "n"}

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE "_tmp_upsert_effects"`).
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_effects"}, cols).WillReturnResult(4)
	mock.ExpectExec(`INSERT INTO "effects" .* ON CONFLICT \("run_id", "kind", "key"\) DO UPDATE SET`).
		WillReturnResult(pgxmock.NewResult("INSERT", 4))
	mock.ExpectCommit()

	err := s.SaveEffects(context.Background(), "run-1", sampleEffects("run-1"))
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListEffects_FilterByKind(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT run_id, kind, key, estimate, std_err, n FROM effects WHERE run_id = \$1 AND kind = \$2`).
		WithArgs("run-1", "event").
		WillReturnRows(pgxmock.NewRows([]string{"run_id", "kind", "key", "estimate", "std_err", "n"}).
			AddRow("run-1", "event", 0.0, -0.02, 0.021, 620).
			AddRow("run-1", "event", 1.0, -0.06, 0.025, 410))

	effects, err := s.ListEffects(context.Background(), "run-1", model.EffectEvent)
	require.NoError(t, err)
	require.Len(t, effects, 2)
	assert.Equal(t, model.EffectEvent, effects[0].Kind)
	assert.Equal(t, 1.0, effects[1].Key)
	assert.Equal(t, 410, effects[1].N)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListRuns_Filters(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`FROM runs WHERE true AND dataset = \$1 AND family = \$2 ORDER BY created_at DESC LIMIT \$3`).
		WithArgs("mpdta.csv", "gaussian", 100).
		WillReturnRows(pgxmock.NewRows(runColumns).AddRow(
			"run-1", created, "mpdta.csv", "lemp", "first.treat", "year",
			"0", "2003", "not_yet_treated", "interacted", "gaussian", "hc1",
			"lemp ~ .Dtreat", 2500,
		))

	runs, err := s.ListRuns(context.Background(), RunFilter{Dataset: "mpdta.csv", Family: "gaussian"})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "run-1", runs[0].ID)
	assert.Empty(t, runs[0].Coefficients)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Ping(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`SELECT 1`).WillReturnResult(pgxmock.NewResult("SELECT", 1))

	require.NoError(t, s.Ping(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
