// Package store persists estimation runs and their aggregated effects.
package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/gradient-research/etwfe/internal/model"
)

// ErrNotFound is returned when a requested run does not exist. Callers
// detect it with errors.Is.
var ErrNotFound = eris.New("run not found")

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Dataset string `json:"dataset,omitempty"`
	Family  string `json:"family,omitempty"`
	Limit   int    `json:"limit,omitempty"`
	Offset  int    `json:"offset,omitempty"`
}

// Store defines the persistence interface for estimation results.
type Store interface {
	// Runs. SaveRun assigns ID and CreatedAt when unset and replaces any
	// existing run with the same ID. ListRuns returns runs newest first
	// without their coefficient rows; use GetRun for the full record.
	SaveRun(ctx context.Context, run *model.Run) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)
	DeleteRun(ctx context.Context, runID string) error

	// Aggregated effects. SaveEffects replaces rows that share a
	// (kind, key) with an incoming row, so re-aggregation is idempotent.
	SaveEffects(ctx context.Context, runID string, effects []model.Effect) error
	ListEffects(ctx context.Context, runID string, kind model.EffectKind) ([]model.Effect, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
