package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/gradient-research/etwfe/internal/model"
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
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id           TEXT PRIMARY KEY,
	created_at   DATETIME NOT NULL DEFAULT (datetime('now')),
	dataset      TEXT NOT NULL,
	outcome      TEXT NOT NULL,
	group_var    TEXT NOT NULL,
	time_var     TEXT NOT NULL,
	group_ref    TEXT NOT NULL,
	time_ref     TEXT NOT NULL,
	policy       TEXT NOT NULL,
	mode         TEXT NOT NULL,
	family       TEXT NOT NULL,
	vcov         TEXT NOT NULL,
	formula      TEXT NOT NULL,
	n_obs        INTEGER NOT NULL,
	coefficients TEXT NOT NULL DEFAULT '[]'
);

CREATE TABLE IF NOT EXISTS effects (
	run_id   TEXT NOT NULL REFERENCES runs(id),
	kind     TEXT NOT NULL,
	key      REAL NOT NULL,
	estimate REAL NOT NULL,
	std_err  REAL NOT NULL,
	n        INTEGER NOT NULL,
	PRIMARY KEY (run_id, kind, key)
);

CREATE INDEX IF NOT EXISTS idx_runs_dataset ON runs(dataset);
CREATE INDEX IF NOT EXISTS idx_runs_family ON runs(family);
CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at);
CREATE INDEX IF NOT EXISTS idx_effects_run_id ON effects(run_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) SaveRun(ctx context.Context, run *model.Run) error {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}

	coefJSON, err := json.Marshal(run.Coefficients)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal coefficients")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (id, created_at, dataset, outcome, group_var, time_var, group_ref, time_ref, policy, mode, family, vcov, formula, n_obs, coefficients)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		   dataset = excluded.dataset, outcome = excluded.outcome,
		   group_var = excluded.group_var, time_var = excluded.time_var,
		   group_ref = excluded.group_ref, time_ref = excluded.time_ref,
		   policy = excluded.policy, mode = excluded.mode,
		   family = excluded.family, vcov = excluded.vcov,
		   formula = excluded.formula, n_obs = excluded.n_obs,
		   coefficients = excluded.coefficients`,
		run.ID, run.CreatedAt, run.Dataset, run.Outcome, run.GroupVar, run.TimeVar,
		run.GroupRef, run.TimeRef, run.Policy, run.Mode, run.Family, run.Vcov,
		run.Formula, run.NObs, string(coefJSON),
	)
	return eris.Wrapf(err, "sqlite: save run %s", run.ID)
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, created_at, dataset, outcome, group_var, time_var, group_ref, time_ref, policy, mode, family, vcov, formula, n_obs, coefficients
		 FROM runs WHERE id = ?`,
		runID,
	)
	return scanRun(row)
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, created_at, dataset, outcome, group_var, time_var, group_ref, time_ref, policy, mode, family, vcov, formula, n_obs FROM runs WHERE 1=1`
	var args []any

	if filter.Dataset != "" {
		query += ` AND dataset = ?`
		args = append(args, filter.Dataset)
	}
	if filter.Family != "" {
		query += ` AND family = ?`
		args = append(args, filter.Family)
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		var r model.Run
		if err := rows.Scan(&r.ID, &r.CreatedAt, &r.Dataset, &r.Outcome, &r.GroupVar, &r.TimeVar,
			&r.GroupRef, &r.TimeRef, &r.Policy, &r.Mode, &r.Family, &r.Vcov, &r.Formula, &r.NObs); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

func (s *SQLiteStore) DeleteRun(ctx context.Context, runID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM effects WHERE run_id = ?`, runID); err != nil {
		return eris.Wrapf(err, "sqlite: delete effects for run %s", runID)
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, runID)
	if err != nil {
		return eris.Wrapf(err, "sqlite: delete run %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) SaveEffects(ctx context.Context, runID string, effects []model.Effect) error {
	for _, e := range effects {
		_, err := s.db.ExecContext(ctx,
			`INSERT OR REPLACE INTO effects (run_id, kind, key, estimate, std_err, n) VALUES (?, ?, ?, ?, ?, ?)`,
			runID, string(e.Kind), e.Key, e.Estimate, e.StdErr, e.N,
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: save effect for run %s", runID)
		}
	}
	return nil
}

func (s *SQLiteStore) ListEffects(ctx context.Context, runID string, kind model.EffectKind) ([]model.Effect, error) {
	query := `SELECT run_id, kind, key, estimate, std_err, n FROM effects WHERE run_id = ?`
	args := []any{runID}

	if kind != "" {
		query += ` AND kind = ?`
		args = append(args, string(kind))
	}
	query += ` ORDER BY kind, key`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list effects")
	}
	defer rows.Close()

	var effects []model.Effect
	for rows.Next() {
		var e model.Effect
		if err := rows.Scan(&e.RunID, &e.Kind, &e.Key, &e.Estimate, &e.StdErr, &e.N); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan effect")
		}
		effects = append(effects, e)
	}
	return effects, eris.Wrap(rows.Err(), "sqlite: list effects iterate")
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRun(row scannable) (*model.Run, error) {
	var r model.Run
	var coefJSON string

	err := row.Scan(&r.ID, &r.CreatedAt, &r.Dataset, &r.Outcome, &r.GroupVar, &r.TimeVar,
		&r.GroupRef, &r.TimeRef, &r.Policy, &r.Mode, &r.Family, &r.Vcov, &r.Formula, &r.NObs, &coefJSON)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan run")
	}

	if err := json.Unmarshal([]byte(coefJSON), &r.Coefficients); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal coefficients")
	}
	return &r, nil
}
