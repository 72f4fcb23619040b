package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/nvandessel/observer/internal/diagnostics"
	"github.com/nvandessel/observer/internal/scoring"
)

// SQLiteStore implements ResultStore on a single SQLite database file.
type SQLiteStore struct {
	mu     sync.RWMutex
	db     *sql.DB
	dir    string
	dbPath string
}

var _ ResultStore = (*SQLiteStore)(nil)

// NewSQLiteStore opens (creating if needed) dir/observer.db.
func NewSQLiteStore(dir string) (*SQLiteStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", dir, err)
	}

	dbPath := filepath.Join(dir, DBFile)
	db, err := sql.Open("sqlite", dbPath+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite works best with single writer

	if err := InitSchema(context.Background(), db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStore{db: db, dir: dir, dbPath: dbPath}, nil
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.dbPath
}

// timeLayout has fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

// CreateRun inserts run with a fresh ID, status running and the current
// start time, and returns the stored run.
func (s *SQLiteStore) CreateRun(ctx context.Context, run Run) (Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	run.ID = uuid.NewString()
	run.Status = StatusRunning
	run.StartedAt = time.Now().UTC()
	run.FinishedAt = nil

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, kind, artifact, config, status, started_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		run.ID, run.Kind, run.Artifact, run.Config, run.Status, formatTime(run.StartedAt))
	if err != nil {
		return Run{}, fmt.Errorf("failed to insert run: %w", err)
	}
	return run, nil
}

// FinishRun marks a run complete, or failed with runErr's message.
func (s *SQLiteStore) FinishRun(ctx context.Context, id string, runErr error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	status, msg := StatusComplete, ""
	if runErr != nil {
		status, msg = StatusFailed, runErr.Error()
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, error = ?, finished_at = ? WHERE id = ?`,
		status, msg, formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: run %s", ErrNotFound, id)
	}
	return nil
}

const runColumns = `id, kind, artifact, COALESCE(config, ''), status, COALESCE(error, ''), started_at, finished_at`

func scanRun(sc interface{ Scan(...any) error }) (Run, error) {
	var (
		r        Run
		started  string
		finished sql.NullString
	)
	if err := sc.Scan(&r.ID, &r.Kind, &r.Artifact, &r.Config, &r.Status, &r.Error, &started, &finished); err != nil {
		return Run{}, err
	}
	r.StartedAt = parseTime(started)
	if finished.Valid {
		t := parseTime(finished.String)
		r.FinishedAt = &t
	}
	return r, nil
}

// GetRun returns the run whose ID equals or starts with idOrPrefix.
func (s *SQLiteStore) GetRun(ctx context.Context, idOrPrefix string) (*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if idOrPrefix == "" {
		return nil, fmt.Errorf("%w: empty run id", ErrNotFound)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs WHERE id = ? OR id LIKE ? ESCAPE '\' ORDER BY id = ? DESC LIMIT 2`,
		idOrPrefix, escapeLike(idOrPrefix)+"%", idOrPrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to query run: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	switch {
	case len(runs) == 0:
		return nil, fmt.Errorf("%w: run %s", ErrNotFound, idOrPrefix)
	case runs[0].ID == idOrPrefix || len(runs) == 1:
		return &runs[0], nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrAmbiguous, idOrPrefix)
	}
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// ListRuns returns runs newest first. limit <= 0 returns all runs.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs ORDER BY started_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// SaveScore stores rec under runID, replacing an earlier score for the same
// kind and timestep.
func (s *SQLiteStore) SaveScore(ctx context.Context, runID string, rec *scoring.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return insertScore(ctx, s.db, runID, rec)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertScore(ctx context.Context, db execer, runID string, rec *scoring.Record) error {
	_, err := db.ExecContext(ctx, `
		INSERT OR REPLACE INTO scores
			(run_id, kind, t, real_time, score, count, lookback, train_size, predict_size, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, string(rec.Kind), rec.T, rec.RealTime, rec.Score, rec.Count,
		rec.Lookback, rec.TrainSize, rec.PredictSize, formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("failed to save %s score at t=%d: %w", rec.Kind, rec.T, err)
	}
	return nil
}

// ListScores returns scores ordered by run start, kind and timestep.
func (s *SQLiteStore) ListScores(ctx context.Context, filter ScoreFilter) ([]Score, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT s.run_id, s.kind, s.t, s.real_time, s.score, s.count,
		       s.lookback, s.train_size, s.predict_size, s.created_at
		FROM scores s JOIN runs r ON r.id = s.run_id
		WHERE 1 = 1`
	var args []any
	if filter.RunID != "" {
		query += ` AND s.run_id = ?`
		args = append(args, filter.RunID)
	}
	if filter.Kind != "" {
		query += ` AND s.kind = ?`
		args = append(args, filter.Kind)
	}
	query += ` ORDER BY r.started_at, s.run_id, s.kind, s.t`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query scores: %w", err)
	}
	defer rows.Close()

	var scores []Score
	for rows.Next() {
		var (
			sc      Score
			created string
		)
		if err := rows.Scan(&sc.RunID, &sc.Kind, &sc.T, &sc.RealTime, &sc.Score, &sc.Count,
			&sc.Lookback, &sc.TrainSize, &sc.PredictSize, &created); err != nil {
			return nil, fmt.Errorf("failed to scan score: %w", err)
		}
		sc.CreatedAt = parseTime(created)
		scores = append(scores, sc)
	}
	return scores, rows.Err()
}

// Sink returns a diagnostics sink that stores groups under runID. It also
// implements scoring.RecordSink: a scorer committing through it stores the
// score row and the record's arrays in one transaction.
func (s *SQLiteStore) Sink(runID string) diagnostics.Sink {
	return &runSink{store: s, runID: runID}
}

type runSink struct {
	store *SQLiteStore
	runID string
}

var _ scoring.RecordSink = (*runSink)(nil)

// Commit writes every array of g in one transaction.
func (r *runSink) Commit(ctx context.Context, g *diagnostics.Group) error {
	return r.store.commit(ctx, r.runID, g, nil)
}

// CommitRecord writes the arrays of g and the score row of rec in one
// transaction.
func (r *runSink) CommitRecord(ctx context.Context, rec *scoring.Record, g *diagnostics.Group) error {
	return r.store.commit(ctx, r.runID, g, rec)
}

func (s *SQLiteStore) commit(ctx context.Context, runID string, g *diagnostics.Group, rec *scoring.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO arrays (run_id, path, name, length, data)
		VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare array insert: %w", err)
	}
	defer stmt.Close()

	err = g.Walk(func(path string, a diagnostics.Array) error {
		if _, err := stmt.ExecContext(ctx, runID, path, a.Name, len(a.Data), encodeFloats(a.Data)); err != nil {
			return fmt.Errorf("failed to write array %s/%s: %w", path, a.Name, err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if rec != nil {
		if err := insertScore(ctx, tx, runID, rec); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// ListArrays lists the arrays of runID whose group path equals pathPrefix
// or lies below it. An empty prefix lists everything.
func (s *SQLiteStore) ListArrays(ctx context.Context, runID, pathPrefix string) ([]ArrayInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT path, name, length FROM arrays WHERE run_id = ?`
	args := []any{runID}
	if pathPrefix != "" {
		query += ` AND (path = ? OR path LIKE ? ESCAPE '\')`
		args = append(args, pathPrefix, escapeLike(pathPrefix+diagnostics.Separator)+"%")
	}
	query += ` ORDER BY path, rowid`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query arrays: %w", err)
	}
	defer rows.Close()

	var out []ArrayInfo
	for rows.Next() {
		var a ArrayInfo
		if err := rows.Scan(&a.Path, &a.Name, &a.Length); err != nil {
			return nil, fmt.Errorf("failed to scan array: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ReadArray returns the data of one stored array.
func (s *SQLiteStore) ReadArray(ctx context.Context, runID, path, name string) ([]float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var blob []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM arrays WHERE run_id = ? AND path = ? AND name = ?`,
		runID, path, name).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: array %s/%s", ErrNotFound, path, name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read array: %w", err)
	}
	return decodeFloats(blob)
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

func encodeFloats(data []float64) []byte {
	buf := make([]byte, 0, 8*len(data))
	for _, v := range data {
		buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(v))
	}
	return buf
}

func decodeFloats(blob []byte) ([]float64, error) {
	if len(blob)%8 != 0 {
		return nil, fmt.Errorf("corrupt array blob of %d bytes", len(blob))
	}
	out := make([]float64, len(blob)/8)
	for i := range out {
		out[i] = math.Float64frombits(binary.LittleEndian.Uint64(blob[8*i:]))
	}
	return out, nil
}
