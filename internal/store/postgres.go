package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/gradient-research/etwfe/internal/db"
	"github.com/gradient-research/etwfe/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the most frequently used store operations.
var preparedStatements = map[string]string{
	"save_run": `INSERT INTO runs (id, created_at, dataset, outcome, group_var, time_var, group_ref, time_ref, policy, mode, family, vcov, formula, n_obs)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		 ON CONFLICT (id) DO UPDATE SET
		   dataset = $3, outcome = $4, group_var = $5, time_var = $6,
		   group_ref = $7, time_ref = $8, policy = $9, mode = $10,
		   family = $11, vcov = $12, formula = $13, n_obs = $14`,
	"get_run":             `SELECT id, created_at, dataset, outcome, group_var, time_var, group_ref, time_ref, policy, mode, family, vcov, formula, n_obs FROM runs WHERE id = $1`,
	"get_coefficients":    `SELECT name, estimate, std_err, reported FROM run_coefficients WHERE run_id = $1 ORDER BY position`,
	"delete_coefficients": `DELETE FROM run_coefficients WHERE run_id = $1`,
	"delete_run":          `DELETE FROM runs WHERE id = $1`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	// Apply pool sizing from config with sensible defaults.
	maxConns := int32(10)
	minConns := int32(2)
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

	// Prepare frequently-used statements on each new connection.
	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

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

// Pool returns the underlying database pool for subsystems that need
// direct query access.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	dataset    TEXT NOT NULL,
	outcome    TEXT NOT NULL,
	group_var  TEXT NOT NULL,
	time_var   TEXT NOT NULL,
	group_ref  TEXT NOT NULL,
	time_ref   TEXT NOT NULL,
	policy     TEXT NOT NULL,
	mode       TEXT NOT NULL,
	family     TEXT NOT NULL,
	vcov       TEXT NOT NULL,
	formula    TEXT NOT NULL,
	n_obs      INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS run_coefficients (
	run_id   TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	position INTEGER NOT NULL,
	name     TEXT NOT NULL,
	estimate DOUBLE PRECISION NOT NULL,
	std_err  DOUBLE PRECISION NOT NULL,
	reported BOOLEAN NOT NULL,
	PRIMARY KEY (run_id, position)
);

CREATE TABLE IF NOT EXISTS effects (
	run_id   TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	kind     TEXT NOT NULL,
	key      DOUBLE PRECISION NOT NULL,
	estimate DOUBLE PRECISION NOT NULL,
	std_err  DOUBLE PRECISION NOT NULL,
	n        INTEGER NOT NULL,
	PRIMARY KEY (run_id, kind, key)
);

CREATE INDEX IF NOT EXISTS idx_runs_dataset ON runs(dataset);
CREATE INDEX IF NOT EXISTS idx_runs_family ON runs(family);
CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at);
CREATE INDEX IF NOT EXISTS idx_run_coefficients_run_id ON run_coefficients(run_id);
CREATE INDEX IF NOT EXISTS idx_effects_run_id ON effects(run_id);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) SaveRun(ctx context.Context, run *model.Run) error {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO runs (id, created_at, dataset, outcome, group_var, time_var, group_ref, time_ref, policy, mode, family, vcov, formula, n_obs)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		 ON CONFLICT (id) DO UPDATE SET
		   dataset = $3, outcome = $4, group_var = $5, time_var = $6,
		   group_ref = $7, time_ref = $8, policy = $9, mode = $10,
		   family = $11, vcov = $12, formula = $13, n_obs = $14`,
		run.ID, run.CreatedAt, run.Dataset, run.Outcome, run.GroupVar, run.TimeVar,
		run.GroupRef, run.TimeRef, run.Policy, run.Mode, run.Family, run.Vcov,
		run.Formula, run.NObs,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: save run %s", run.ID)
	}

	// Replace the coefficient rows wholesale; a re-fit of the same run may
	// carry a different design.
	if _, err := s.pool.Exec(ctx, `DELETE FROM run_coefficients WHERE run_id = $1`, run.ID); err != nil {
		return eris.Wrapf(err, "postgres: clear coefficients for run %s", run.ID)
	}

	rows := make([][]any, 0, len(run.Coefficients))
	for i, c := range run.Coefficients {
		rows = append(rows, []any{run.ID, i, c.Name, c.Estimate, c.StdErr, c.Reported})
	}
	_, err = db.CopyFrom(ctx, s.pool, "run_coefficients",
		[]string{"run_id", "position", "name", "estimate", "std_err", "reported"}, rows)
	return eris.Wrapf(err, "postgres: copy coefficients for run %s", run.ID)
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	var r model.Run

	err := s.pool.QueryRow(ctx,
		`SELECT id, created_at, dataset, outcome, group_var, time_var, group_ref, time_ref, policy, mode, family, vcov, formula, n_obs FROM runs WHERE id = $1`,
		runID,
	).Scan(&r.ID, &r.CreatedAt, &r.Dataset, &r.Outcome, &r.GroupVar, &r.TimeVar,
		&r.GroupRef, &r.TimeRef, &r.Policy, &r.Mode, &r.Family, &r.Vcov, &r.Formula, &r.NObs)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: get run %s", runID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT name, estimate, std_err, reported FROM run_coefficients WHERE run_id = $1 ORDER BY position`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get coefficients for run %s", runID)
	}
	defer rows.Close()

	for rows.Next() {
		var c model.Coefficient
		if err := rows.Scan(&c.Name, &c.Estimate, &c.StdErr, &c.Reported); err != nil {
			return nil, eris.Wrap(err, "postgres: scan coefficient")
		}
		r.Coefficients = append(r.Coefficients, c)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: iterate coefficients")
	}
	return &r, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, created_at, dataset, outcome, group_var, time_var, group_ref, time_ref, policy, mode, family, vcov, formula, n_obs FROM runs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Dataset != "" {
		query += fmt.Sprintf(` AND dataset = $%d`, argIdx)
		args = append(args, filter.Dataset)
		argIdx++
	}
	if filter.Family != "" {
		query += fmt.Sprintf(` AND family = $%d`, argIdx)
		args = append(args, filter.Family)
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
		argIdx++
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		var r model.Run
		if err := rows.Scan(&r.ID, &r.CreatedAt, &r.Dataset, &r.Outcome, &r.GroupVar, &r.TimeVar,
			&r.GroupRef, &r.TimeRef, &r.Policy, &r.Mode, &r.Family, &r.Vcov, &r.Formula, &r.NObs); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

func (s *PostgresStore) DeleteRun(ctx context.Context, runID string) error {
	// Coefficient and effect rows go with the run via ON DELETE CASCADE.
	tag, err := s.pool.Exec(ctx, `DELETE FROM runs WHERE id = $1`, runID)
	if err != nil {
		return eris.Wrapf(err, "postgres: delete run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "postgres: delete run %s", runID)
	}
	return nil
}

func (s *PostgresStore) SaveEffects(ctx context.Context, runID string, effects []model.Effect) error {
	rows := make([][]any, 0, len(effects))
	for _, e := range effects {
		rows = append(rows, []any{runID, string(e.Kind), e.Key, e.Estimate, e.StdErr, e.N})
	}

	_, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "effects",
		Columns:      []string{"run_id", "kind", "key", "estimate", "std_err", "n"},
		ConflictKeys: []string{"run_id", "kind", "key"},
	}, rows)
	return eris.Wrapf(err, "postgres: save effects for run %s", runID)
}

func (s *PostgresStore) ListEffects(ctx context.Context, runID string, kind model.EffectKind) ([]model.Effect, error) {
	query := `SELECT run_id, kind, key, estimate, std_err, n FROM effects WHERE run_id = $1`
	args := []any{runID}
	argIdx := 2

	if kind != "" {
		query += fmt.Sprintf(` AND kind = $%d`, argIdx)
		args = append(args, string(kind))
		argIdx++
	}
	query += ` ORDER BY kind, key`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list effects")
	}
	defer rows.Close()

	var effects []model.Effect
	for rows.Next() {
		var e model.Effect
		if err := rows.Scan(&e.RunID, &e.Kind, &e.Key, &e.Estimate, &e.StdErr, &e.N); err != nil {
			return nil, eris.Wrap(err, "postgres: scan effect")
		}
		effects = append(effects, e)
	}
	return effects, eris.Wrap(rows.Err(), "postgres: list effects iterate")
}
