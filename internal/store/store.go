package store

import (
	"context"
	"database/sql"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/zeebo/blake3"
	"golang.org/x/text/unicode/norm"
	_ "modernc.org/sqlite"

	"github.com/valpere/tradutor/internal/neardup"
)

// Run statuses.
const (
	StatusRunning  = "running"
	StatusFinished = "finished"
	StatusFailed   = "failed"
)

type Store struct {
	db *sql.DB
}

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Chunks are recorded from several workers; one connection keeps
	// SQLite from reporting busy.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}

	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	-- chunk_index mirrors the file cache for listing and near-duplicate seeding;
	-- signature is the digest of the generation settings that produced a row
	CREATE TABLE IF NOT EXISTS chunk_index (
		stage TEXT NOT NULL,
		hash TEXT NOT NULL,
		signature TEXT NOT NULL DEFAULT '',
		dup_key TEXT NOT NULL,
		source_text TEXT NOT NULL,
		final_text TEXT NOT NULL,
		backend TEXT,
		model TEXT,
		usage_count INTEGER DEFAULT 1,
		last_used TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (stage, hash, signature)
	);

	-- runs tracks one stage over one document for resume support
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		stage TEXT NOT NULL,
		input_name TEXT NOT NULL,
		fingerprint TEXT NOT NULL,
		total_chunks INTEGER NOT NULL,
		status TEXT DEFAULT 'running',
		report TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	-- run_chunks stores per-chunk output of a run
	CREATE TABLE IF NOT EXISTS run_chunks (
		run_id TEXT NOT NULL,
		chunk_index INTEGER NOT NULL,
		output TEXT NOT NULL,
		fallback BOOLEAN DEFAULT FALSE,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (run_id, chunk_index),
		FOREIGN KEY (run_id) REFERENCES runs(id)
	);

	-- glossary stores user-defined terminology injected into translation prompts
	CREATE TABLE IF NOT EXISTS glossary (
		id TEXT PRIMARY KEY,
		source_lang TEXT NOT NULL,
		target_lang TEXT NOT NULL,
		source_term TEXT NOT NULL,
		target_term TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(source_lang, target_lang, source_term)
	);

	CREATE INDEX IF NOT EXISTS idx_chunk_dup ON chunk_index(stage, signature, dup_key);
	CREATE INDEX IF NOT EXISTS idx_runs_resume ON runs(stage, fingerprint, status);
	CREATE INDEX IF NOT EXISTS idx_glossary_lookup ON glossary(source_lang, target_lang);
	`

	if err := s.dropUnsignedChunkIndex(); err != nil {
		return err
	}
	_, err := s.db.Exec(schema)
	return err
}

// dropUnsignedChunkIndex drops a chunk_index created before rows carried a
// signature. Its rows cannot be told apart by model, and the file cache
// still holds every output.
func (s *Store) dropUnsignedChunkIndex() error {
	var columns, signed int
	err := s.db.QueryRow(
		`SELECT COUNT(*), COALESCE(SUM(name = 'signature'), 0) FROM pragma_table_info('chunk_index')`,
	).Scan(&columns, &signed)
	if err != nil || columns == 0 || signed > 0 {
		return err
	}
	_, err = s.db.Exec(`DROP TABLE chunk_index`)
	return err
}

func (s *Store) Close() error {
	return s.db.Close()
}

// normalizeText trims whitespace and applies Unicode NFC normalization
// for consistent key comparison.
func normalizeText(text string) string {
	return norm.NFC.String(strings.TrimSpace(text))
}

// Fingerprint identifies a document's content for resume lookups.
func Fingerprint(text string) string {
	sum := blake3.Sum256([]byte(normalizeText(text)))
	return hex.EncodeToString(sum[:])
}

// ChunkEntry is a row from the chunk_index table.
type ChunkEntry struct {
	Stage      string
	Hash       string
	Signature  string
	DupKey     string
	SourceText string
	FinalText  string
	Backend    string
	Model      string
	UsageCount int
	LastUsed   time.Time
}

// RecordChunk upserts an accepted chunk. Recording the same hash under the
// same signature again replaces its output and counts one more use.
func (s *Store) RecordChunk(ctx context.Context, e ChunkEntry) error {
	source := normalizeText(e.SourceText)
	dupKey := e.DupKey
	if dupKey == "" {
		dupKey = fmt.Sprintf("%016x", neardup.Key(source))
	}
	now := time.Now()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chunk_index (stage, hash, signature, dup_key, source_text, final_text, backend, model, usage_count, last_used, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)
		 ON CONFLICT(stage, hash, signature) DO UPDATE SET
			final_text = excluded.final_text,
			backend = excluded.backend,
			model = excluded.model,
			usage_count = usage_count + 1,
			last_used = excluded.last_used`,
		e.Stage, e.Hash, e.Signature, dupKey, source, e.FinalText, e.Backend, e.Model, now, now)
	return err
}

// TouchChunk counts a cache hit on an indexed chunk. Unknown chunks are
// ignored.
func (s *Store) TouchChunk(ctx context.Context, stage, hash, signature string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE chunk_index SET usage_count = usage_count + 1, last_used = ? WHERE stage = ? AND hash = ? AND signature = ?`,
		time.Now(), stage, hash, signature)
	return err
}

// ListChunks returns indexed chunks ordered by most recently used. An empty
// stage lists every stage.
func (s *Store) ListChunks(ctx context.Context, stage string) ([]ChunkEntry, error) {
	return s.listChunks(ctx, stage, nil)
}

// SignedChunks returns the chunks of stage produced under signature, the
// ones a run with the same generation settings may reuse.
func (s *Store) SignedChunks(ctx context.Context, stage, signature string) ([]ChunkEntry, error) {
	return s.listChunks(ctx, stage, &signature)
}

func (s *Store) listChunks(ctx context.Context, stage string, signature *string) ([]ChunkEntry, error) {
	query := `SELECT stage, hash, signature, dup_key, source_text, final_text, COALESCE(backend, ''), COALESCE(model, ''), usage_count, last_used FROM chunk_index`
	var (
		where []string
		args  []any
	)
	if stage != "" {
		where = append(where, `stage = ?`)
		args = append(args, stage)
	}
	if signature != nil {
		where = append(where, `signature = ?`)
		args = append(args, *signature)
	}
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, ` AND `)
	}
	query += ` ORDER BY last_used DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []ChunkEntry
	for rows.Next() {
		var e ChunkEntry
		if err := rows.Scan(&e.Stage, &e.Hash, &e.Signature, &e.DupKey, &e.SourceText, &e.FinalText, &e.Backend, &e.Model, &e.UsageCount, &e.LastUsed); err != nil {
			return nil, err
		}
		results = append(results, e)
	}

	return results, rows.Err()
}

// DeleteChunk removes an indexed chunk under every signature.
func (s *Store) DeleteChunk(ctx context.Context, stage, hash string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM chunk_index WHERE stage = ? AND hash = ?`, stage, hash)
	return err
}

// ClearChunks removes the indexed chunks of stage, or of every stage when
// stage is empty.
func (s *Store) ClearChunks(ctx context.Context, stage string) (int64, error) {
	var (
		res sql.Result
		err error
	)
	if stage == "" {
		res, err = s.db.ExecContext(ctx, `DELETE FROM chunk_index`)
	} else {
		res, err = s.db.ExecContext(ctx, `DELETE FROM chunk_index WHERE stage = ?`, stage)
	}
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// StageStats summarises the chunk index of one stage.
type StageStats struct {
	Stage        string
	TotalEntries int
	TotalUsage   int
}

// CacheStats summarises the chunk index and the run history.
type CacheStats struct {
	Stages       []StageStats
	TotalEntries int
	TotalUsage   int
	Runs         int
	FinishedRuns int
}

// Stats returns summary statistics for the chunk index and runs.
func (s *Store) Stats(ctx context.Context) (*CacheStats, error) {
	stats := &CacheStats{}

	rows, err := s.db.QueryContext(ctx,
		`SELECT stage, COUNT(*), COALESCE(SUM(usage_count), 0) FROM chunk_index GROUP BY stage ORDER BY stage`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var st StageStats
		if err := rows.Scan(&st.Stage, &st.TotalEntries, &st.TotalUsage); err != nil {
			return nil, err
		}
		stats.Stages = append(stats.Stages, st)
		stats.TotalEntries += st.TotalEntries
		stats.TotalUsage += st.TotalUsage
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	err = s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN status = 'finished' THEN 1 ELSE 0 END), 0)
		FROM runs`).Scan(&stats.Runs, &stats.FinishedRuns)
	if err != nil {
		return nil, err
	}
	return stats, nil
}
