package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Run is a row from the runs table.
type Run struct {
	ID          string
	Stage       string
	InputName   string
	Fingerprint string
	TotalChunks int
	Status      string
	Report      string
	CreatedAt   time.Time
}

// RunChunk is the stored output of one chunk of a run.
type RunChunk struct {
	Index    int
	Output   string
	Fallback bool
}

// StartRun creates a running run and returns its ID.
func (s *Store) StartRun(ctx context.Context, stage, inputName, fingerprint string, totalChunks int) (string, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, stage, input_name, fingerprint, total_chunks, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, stage, inputName, fingerprint, totalChunks, StatusRunning, time.Now(), time.Now())
	return id, err
}

// GetRun retrieves a run by ID.
func (s *Store) GetRun(ctx context.Context, id string) (*Run, error) {
	var (
		r      Run
		report sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, stage, input_name, fingerprint, total_chunks, status, report, created_at FROM runs WHERE id = ?`,
		id).Scan(&r.ID, &r.Stage, &r.InputName, &r.Fingerprint, &r.TotalChunks, &r.Status, &report, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run not found: %s", id)
	}
	if err != nil {
		return nil, err
	}
	r.Report = report.String
	return &r, nil
}

// FindResumableRun returns the most recent unfinished run of stage over a
// document with the same fingerprint and chunk count.
func (s *Store) FindResumableRun(ctx context.Context, stage, fingerprint string, totalChunks int) (*Run, bool, error) {
	var id string
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM runs WHERE stage = ? AND fingerprint = ? AND total_chunks = ? AND status != ?
		 ORDER BY created_at DESC, rowid DESC LIMIT 1`,
		stage, fingerprint, totalChunks, StatusFinished).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	r, err := s.GetRun(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return r, true, nil
}

// SaveRunChunk persists the output of one chunk.
func (s *Store) SaveRunChunk(ctx context.Context, runID string, index int, output string, fallback bool) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO run_chunks (run_id, chunk_index, output, fallback) VALUES (?, ?, ?, ?)`,
		runID, index, output, fallback)
	return err
}

// RunChunks returns the stored outputs of a run keyed by chunk index.
func (s *Store) RunChunks(ctx context.Context, runID string) (map[int]RunChunk, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT chunk_index, output, fallback FROM run_chunks WHERE run_id = ?`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	chunks := make(map[int]RunChunk)
	for rows.Next() {
		var c RunChunk
		if err := rows.Scan(&c.Index, &c.Output, &c.Fallback); err != nil {
			return nil, err
		}
		chunks[c.Index] = c
	}
	return chunks, rows.Err()
}

// FinishRun records the final status and JSON report of a run.
func (s *Store) FinishRun(ctx context.Context, runID, status, report string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, report = ?, updated_at = ? WHERE id = ?`,
		status, report, time.Now(), runID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("run not found: %s", runID)
	}
	return nil
}
