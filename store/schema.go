package store

// schemaSQL is the version-1 DDL for the run audit log and the review
// queue. Later columns are added by migrations; never extend this constant.
const schemaSQL = `
-- One row per summarization run: the retained candidate plus its verdict.
CREATE TABLE IF NOT EXISTS runs (
    id INTEGER PRIMARY KEY,
    filename TEXT NOT NULL,
    format TEXT NOT NULL,
    pages INTEGER NOT NULL DEFAULT 0,
    source_chars INTEGER NOT NULL DEFAULT 0,
    state TEXT NOT NULL,
    passed INTEGER NOT NULL DEFAULT 0,
    needs_review INTEGER NOT NULL DEFAULT 0,
    best_attempt INTEGER NOT NULL DEFAULT 0,
    composite REAL NOT NULL DEFAULT 0,
    length_score REAL NOT NULL DEFAULT 0,
    alignment_score REAL NOT NULL DEFAULT 0,
    retry_count INTEGER NOT NULL DEFAULT 0,
    summary JSON NOT NULL,
    markdown TEXT NOT NULL,
    reviewed INTEGER NOT NULL DEFAULT 0,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

-- Per-attempt audit trail for each run.
CREATE TABLE IF NOT EXISTS attempts (
    id INTEGER PRIMARY KEY,
    run_id INTEGER NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    number INTEGER NOT NULL,
    target_size INTEGER NOT NULL,
    max_size INTEGER NOT NULL,
    overlap_size INTEGER NOT NULL,
    chunks INTEGER NOT NULL,
    degraded INTEGER NOT NULL,
    composite REAL NOT NULL,
    length_score REAL NOT NULL,
    alignment_score REAL NOT NULL,
    passed INTEGER NOT NULL,
    elapsed_ms INTEGER NOT NULL,
    UNIQUE(run_id, number)
);

-- Full-text search over delivered summaries via FTS5
CREATE VIRTUAL TABLE IF NOT EXISTS runs_fts USING fts5(
    filename,
    markdown,
    content='runs',
    content_rowid='id',
    tokenize='porter unicode61'
);

-- FTS triggers to keep index in sync
CREATE TRIGGER IF NOT EXISTS runs_ai AFTER INSERT ON runs BEGIN
    INSERT INTO runs_fts(rowid, filename, markdown) VALUES (new.id, new.filename, new.markdown);
END;
CREATE TRIGGER IF NOT EXISTS runs_ad AFTER DELETE ON runs BEGIN
    INSERT INTO runs_fts(runs_fts, rowid, filename, markdown) VALUES ('delete', old.id, old.filename, old.markdown);
END;
CREATE TRIGGER IF NOT EXISTS runs_au AFTER UPDATE ON runs BEGIN
    INSERT INTO runs_fts(runs_fts, rowid, filename, markdown) VALUES ('delete', old.id, old.filename, old.markdown);
    INSERT INTO runs_fts(rowid, filename, markdown) VALUES (new.id, new.filename, new.markdown);
END;

-- Indexes
CREATE INDEX IF NOT EXISTS idx_runs_needs_review ON runs(needs_review, reviewed);
CREATE INDEX IF NOT EXISTS idx_runs_created ON runs(created_at);
CREATE INDEX IF NOT EXISTS idx_attempts_run ON attempts(run_id);
`
