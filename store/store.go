// Package store persists summarization runs in SQLite: a per-run audit
// log with the attempt trail, and the review queue for retry-exhausted
// results a human has to look at.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned when the requested run does not exist.
var ErrNotFound = errors.New("store: run not found")

// Run represents a row in the runs table: the retained summary candidate
// of one engine run plus the verdict it was delivered under.
type Run struct {
	ID          int64  `json:"id"`
	Filename    string `json:"filename"`
	Format      string `json:"format"`
	Pages       int    `json:"pages"`
	SourceChars int    `json:"source_chars"`

	State       string `json:"state"`
	Passed      bool   `json:"passed"`
	NeedsReview bool   `json:"needs_review"`
	BestAttempt int    `json:"best_attempt"`

	Composite      float64 `json:"composite_score"`
	LengthScore    float64 `json:"length_score"`
	AlignmentScore float64 `json:"content_alignment_score"`
	RetryCount     int     `json:"retry_count"`

	// SummaryJSON is the composed summary serialized as JSON; Markdown is
	// the rendered document as delivered.
	SummaryJSON string `json:"summary"`
	Markdown    string `json:"markdown"`

	Reviewed   bool   `json:"reviewed"`
	ReviewedBy string `json:"reviewed_by,omitempty"`
	ReviewNote string `json:"review_note,omitempty"`
	ReviewedAt string `json:"reviewed_at,omitempty"`
	CreatedAt  string `json:"created_at"`
}

// Attempt represents a row in the attempts table.
type Attempt struct {
	ID    int64 `json:"id"`
	RunID int64 `json:"run_id"`

	Number      int `json:"number"`
	TargetSize  int `json:"target_size"`
	MaxSize     int `json:"max_size"`
	OverlapSize int `json:"overlap_size"`
	Chunks      int `json:"chunks"`
	Degraded    int `json:"degraded"`

	Composite      float64 `json:"composite_score"`
	LengthScore    float64 `json:"length_score"`
	AlignmentScore float64 `json:"content_alignment_score"`
	Passed         bool    `json:"passed"`
	ElapsedMS      int64   `json:"elapsed_ms"`
}

// Store wraps the SQLite database for all run persistence.
type Store struct {
	db *sql.DB
}

// New opens (or creates) a SQLite database at the given path and
// initialises the schema including the FTS5 virtual table.
func New(dbPath string) (*Store, error) {
	// Ensure parent directory exists
	dir := filepath.Dir(dbPath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	// Connection pool settings for SQLite.
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	s := &Store{db: db}

	// Run pending migrations.
	if err := s.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for advanced queries.
func (s *Store) DB() *sql.DB {
	return s.db
}

// LogRun writes one run with its attempt trail atomically. Returns the
// run ID.
func (s *Store) LogRun(ctx context.Context, run Run, attempts []Attempt) (int64, error) {
	var runID int64
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO runs (filename, format, pages, source_chars, state, passed,
				needs_review, best_attempt, composite, length_score, alignment_score,
				retry_count, summary, markdown)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, run.Filename, run.Format, run.Pages, run.SourceChars, run.State, run.Passed,
			run.NeedsReview, run.BestAttempt, run.Composite, run.LengthScore,
			run.AlignmentScore, run.RetryCount, run.SummaryJSON, run.Markdown)
		if err != nil {
			return err
		}
		runID, err = res.LastInsertId()
		if err != nil {
			return err
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO attempts (run_id, number, target_size, max_size, overlap_size,
				chunks, degraded, composite, length_score, alignment_score, passed, elapsed_ms)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, a := range attempts {
			if _, err := stmt.ExecContext(ctx,
				runID, a.Number, a.TargetSize, a.MaxSize, a.OverlapSize,
				a.Chunks, a.Degraded, a.Composite, a.LengthScore,
				a.AlignmentScore, a.Passed, a.ElapsedMS); err != nil {
				return err
			}
		}
		return nil
	})
	return runID, err
}

const runColumns = `id, filename, format, pages, source_chars, state, passed,
	needs_review, best_attempt, composite, length_score, alignment_score,
	retry_count, summary, markdown, reviewed,
	COALESCE(reviewed_by, ''), COALESCE(review_note, ''), COALESCE(reviewed_at, ''),
	created_at`

func scanRun(row interface{ Scan(...any) error }) (Run, error) {
	var r Run
	err := row.Scan(&r.ID, &r.Filename, &r.Format, &r.Pages, &r.SourceChars,
		&r.State, &r.Passed, &r.NeedsReview, &r.BestAttempt,
		&r.Composite, &r.LengthScore, &r.AlignmentScore, &r.RetryCount,
		&r.SummaryJSON, &r.Markdown, &r.Reviewed,
		&r.ReviewedBy, &r.ReviewNote, &r.ReviewedAt, &r.CreatedAt)
	return r, err
}

// GetRun retrieves a run by ID.
func (s *Store) GetRun(ctx context.Context, id int64) (*Run, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+runColumns+" FROM runs WHERE id = ?", id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// GetAttempts returns the attempt trail for a run, ordered by attempt
// number.
func (s *Store) GetAttempts(ctx context.Context, runID int64) ([]Attempt, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, number, target_size, max_size, overlap_size,
			chunks, degraded, composite, length_score, alignment_score, passed, elapsed_ms
		FROM attempts WHERE run_id = ? ORDER BY number
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var attempts []Attempt
	for rows.Next() {
		var a Attempt
		if err := rows.Scan(&a.ID, &a.RunID, &a.Number, &a.TargetSize, &a.MaxSize,
			&a.OverlapSize, &a.Chunks, &a.Degraded, &a.Composite,
			&a.LengthScore, &a.AlignmentScore, &a.Passed, &a.ElapsedMS); err != nil {
			return nil, err
		}
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

// ListRuns returns the most recent runs, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+runColumns+" FROM runs ORDER BY id DESC LIMIT ?", limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRuns(rows)
}

// ReviewQueue returns runs flagged for manual review that have not been
// resolved yet, oldest first so the queue drains in order.
func (s *Store) ReviewQueue(ctx context.Context) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+runColumns+" FROM runs WHERE needs_review = 1 AND reviewed = 0 ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRuns(rows)
}

// MarkReviewed resolves a review-queue entry.
func (s *Store) MarkReviewed(ctx context.Context, id int64, reviewer, note string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE runs SET reviewed = 1, reviewed_by = ?, review_note = ?,
			reviewed_at = CURRENT_TIMESTAMP
		WHERE id = ? AND needs_review = 1
	`, reviewer, note, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	return nil
}

// SearchRuns performs a full-text search over delivered summaries using
// FTS5 BM25 ranking.
func (s *Store) SearchRuns(ctx context.Context, query string, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+runColumnsPrefixed("r")+`
		FROM runs_fts f
		JOIN runs r ON r.id = f.rowid
		WHERE runs_fts MATCH ?
		ORDER BY f.rank
		LIMIT ?
	`, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRuns(rows)
}

// DBStats holds counts of key database objects.
type DBStats struct {
	Runs     int `json:"runs"`
	Attempts int `json:"attempts"`
	Pending  int `json:"pending_review"`
}

// Stats returns counts of runs, attempts, and pending reviews.
func (s *Store) Stats(ctx context.Context) (*DBStats, error) {
	stats := &DBStats{}
	queries := []struct {
		query string
		dest  *int
	}{
		{"SELECT COUNT(*) FROM runs", &stats.Runs},
		{"SELECT COUNT(*) FROM attempts", &stats.Attempts},
		{"SELECT COUNT(*) FROM runs WHERE needs_review = 1 AND reviewed = 0", &stats.Pending},
	}
	for _, q := range queries {
		if err := s.db.QueryRowContext(ctx, q.query).Scan(q.dest); err != nil {
			return nil, fmt.Errorf("counting %s: %w", q.query, err)
		}
	}
	return stats, nil
}

// --- helpers ---

func collectRuns(rows *sql.Rows) ([]Run, error) {
	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

func runColumnsPrefixed(alias string) string {
	return alias + `.id, ` + alias + `.filename, ` + alias + `.format, ` +
		alias + `.pages, ` + alias + `.source_chars, ` + alias + `.state, ` +
		alias + `.passed, ` + alias + `.needs_review, ` + alias + `.best_attempt, ` +
		alias + `.composite, ` + alias + `.length_score, ` + alias + `.alignment_score, ` +
		alias + `.retry_count, ` + alias + `.summary, ` + alias + `.markdown, ` +
		alias + `.reviewed, COALESCE(` + alias + `.reviewed_by, ''), COALESCE(` +
		alias + `.review_note, ''), COALESCE(` + alias + `.reviewed_at, ''), ` +
		alias + `.created_at`
}

func (s *Store) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}
