// Package store persists scoring runs, their score records and their
// diagnostic arrays in a SQLite database.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/nvandessel/observer/internal/diagnostics"
	"github.com/nvandessel/observer/internal/scoring"
)

var (
	// ErrNotFound is returned when a run or array does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrAmbiguous is returned when a run ID prefix matches several runs.
	ErrAmbiguous = errors.New("store: ambiguous run id")
)

// Run status values.
const (
	StatusRunning  = "running"
	StatusComplete = "complete"
	StatusFailed   = "failed"
)

// Run is one invocation of a scoring command.
type Run struct {
	ID         string     `json:"id"`
	Kind       string     `json:"kind"` // "learnability", "novelty", "run", "sweep-width"
	Artifact   string     `json:"artifact"`
	Config     string     `json:"config,omitempty"` // YAML snapshot of the scoring config
	Status     string     `json:"status"`
	Error      string     `json:"error,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Score is one stored score record.
type Score struct {
	RunID       string    `json:"run_id"`
	Kind        string    `json:"kind"`
	T           int       `json:"t"`
	RealTime    float64   `json:"real_time"`
	Score       float64   `json:"score"`
	Count       int       `json:"count"`
	Lookback    int       `json:"lookback"`
	TrainSize   int       `json:"train_size"`
	PredictSize int       `json:"predict_size"`
	CreatedAt   time.Time `json:"created_at"`
}

// ScoreFilter narrows ListScores. Zero fields match everything.
type ScoreFilter struct {
	RunID string
	Kind  string
	Limit int
}

// ArrayInfo describes a stored array without its data.
type ArrayInfo struct {
	Path   string `json:"path"` // group path, e.g. "novelty_120_meta"
	Name   string `json:"name"`
	Length int    `json:"length"`
}

// ResultStore is the read/write surface used by the CLI, the experiment
// driver and the MCP server.
type ResultStore interface {
	CreateRun(ctx context.Context, run Run) (Run, error)
	FinishRun(ctx context.Context, id string, runErr error) error
	GetRun(ctx context.Context, idOrPrefix string) (*Run, error)
	ListRuns(ctx context.Context, limit int) ([]Run, error)

	SaveScore(ctx context.Context, runID string, rec *scoring.Record) error
	ListScores(ctx context.Context, filter ScoreFilter) ([]Score, error)

	// Sink returns a diagnostics sink that files groups under runID. Scorers
	// committing through it also store their score row atomically.
	Sink(runID string) diagnostics.Sink
	ListArrays(ctx context.Context, runID, pathPrefix string) ([]ArrayInfo, error)
	ReadArray(ctx context.Context, runID, path, name string) ([]float64, error)

	Close() error
}
