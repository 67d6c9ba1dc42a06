package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/docscan-cli/internal/model"
	"github.com/sells-group/docscan-cli/internal/resilience"
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
	// One writer at a time; workers record outcomes concurrently.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
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
	id          TEXT PRIMARY KEY,
	input       TEXT NOT NULL,
	output      TEXT NOT NULL,
	variant     TEXT NOT NULL,
	threads     INTEGER NOT NULL DEFAULT 0,
	status      TEXT NOT NULL DEFAULT 'running',
	total       INTEGER NOT NULL DEFAULT 0,
	succeeded   INTEGER NOT NULL DEFAULT 0,
	failed      INTEGER NOT NULL DEFAULT 0,
	cost_usd    REAL NOT NULL DEFAULT 0,
	created_at  DATETIME NOT NULL DEFAULT (datetime('now')),
	finished_at DATETIME
);

CREATE TABLE IF NOT EXISTS run_documents (
	run_id      TEXT NOT NULL REFERENCES runs(id),
	document_id TEXT NOT NULL,
	status      TEXT NOT NULL,
	has_errors  INTEGER NOT NULL DEFAULT 0,
	retried     INTEGER NOT NULL DEFAULT 0,
	score       REAL NOT NULL DEFAULT 0,
	calls       INTEGER NOT NULL DEFAULT 0,
	stage       TEXT,
	error       TEXT,
	duration_ms INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (run_id, document_id)
);

CREATE TABLE IF NOT EXISTS dead_letter_queue (
	id           TEXT PRIMARY KEY,
	run_id       TEXT NOT NULL,
	document_id  TEXT NOT NULL,
	source       TEXT,
	error        TEXT NOT NULL,
	error_type   TEXT NOT NULL,
	failed_stage TEXT,
	created_at   DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at);
CREATE INDEX IF NOT EXISTS idx_dlq_run_id ON dead_letter_queue(run_id);
CREATE INDEX IF NOT EXISTS idx_dlq_error_type ON dead_letter_queue(error_type);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateRun(ctx context.Context, meta model.RunMeta) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, input, output, variant, threads, status, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, meta.Input, meta.Output, meta.Variant, meta.Threads, string(model.RunStatusRunning), now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}

	return &model.Run{
		ID:        id,
		Input:     meta.Input,
		Output:    meta.Output,
		Variant:   meta.Variant,
		Threads:   meta.Threads,
		Status:    model.RunStatusRunning,
		CreatedAt: now,
	}, nil
}

func (s *SQLiteStore) CompleteRun(ctx context.Context, runID string, summary model.RunSummary) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, total = ?, succeeded = ?, failed = ?, cost_usd = ?, finished_at = ? WHERE id = ?`,
		string(runStatus(summary)), summary.Total, summary.Succeeded, summary.Failed, summary.CostUSD,
		time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete run %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

const runColumns = `id, input, output, variant, threads, status, total, succeeded, failed, cost_usd, created_at, finished_at`

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, runID)
	return scanRun(row)
}

func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]model.Run, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs ORDER BY created_at DESC LIMIT ?`,
		listLimit(limit),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

func (s *SQLiteStore) RecordDocument(ctx context.Context, runID string, o model.DocumentOutcome) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO run_documents (run_id, document_id, status, has_errors, retried, score, calls, stage, error, duration_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (run_id, document_id) DO UPDATE SET
		   status = excluded.status, has_errors = excluded.has_errors, retried = excluded.retried,
		   score = excluded.score, calls = excluded.calls, stage = excluded.stage,
		   error = excluded.error, duration_ms = excluded.duration_ms`,
		runID, o.DocumentID, string(o.Status), o.HasErrors, o.Retried, o.Score, o.Calls,
		nullString(o.Stage), nullString(o.Error), o.DurationMs,
	)
	return eris.Wrapf(err, "sqlite: record document %s", o.DocumentID)
}

func (s *SQLiteStore) ListDocuments(ctx context.Context, runID string) ([]model.DocumentOutcome, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT document_id, status, has_errors, retried, score, calls, stage, error, duration_ms
		 FROM run_documents WHERE run_id = ? ORDER BY document_id`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list documents")
	}
	defer rows.Close()

	var out []model.DocumentOutcome
	for rows.Next() {
		var o model.DocumentOutcome
		var stage, errMsg sql.NullString
		if err := rows.Scan(&o.DocumentID, &o.Status, &o.HasErrors, &o.Retried, &o.Score,
			&o.Calls, &stage, &errMsg, &o.DurationMs); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan document")
		}
		o.Stage = stage.String
		o.Error = errMsg.String
		out = append(out, o)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list documents iterate")
}

// Dead letter queue methods

func (s *SQLiteStore) EnqueueDLQ(ctx context.Context, entry resilience.DLQEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO dead_letter_queue (id, run_id, document_id, source, error, error_type, failed_stage, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		   error = excluded.error, error_type = excluded.error_type, failed_stage = excluded.failed_stage`,
		entry.ID, entry.RunID, entry.DocumentID, nullString(entry.Source), entry.Error,
		entry.ErrorType, nullString(entry.FailedStage), entry.CreatedAt,
	)
	return eris.Wrap(err, "sqlite: enqueue dlq")
}

func (s *SQLiteStore) ListDLQ(ctx context.Context, filter resilience.DLQFilter) ([]resilience.DLQEntry, error) {
	query := `SELECT id, run_id, document_id, source, error, error_type, failed_stage, created_at
	          FROM dead_letter_queue WHERE 1=1`
	var args []any

	if filter.RunID != "" {
		query += ` AND run_id = ?`
		args = append(args, filter.RunID)
	}
	if filter.ErrorType != "" {
		query += ` AND error_type = ?`
		args = append(args, filter.ErrorType)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, listLimit(filter.Limit))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list dlq")
	}
	defer rows.Close()

	var entries []resilience.DLQEntry
	for rows.Next() {
		var e resilience.DLQEntry
		var source, stage sql.NullString
		if err := rows.Scan(&e.ID, &e.RunID, &e.DocumentID, &source, &e.Error,
			&e.ErrorType, &stage, &e.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan dlq entry")
		}
		e.Source = source.String
		e.FailedStage = stage.String
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "sqlite: list dlq iterate")
}

func (s *SQLiteStore) CountDLQ(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM dead_letter_queue`).Scan(&count)
	return count, eris.Wrap(err, "sqlite: count dlq")
}

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
	var finished sql.NullTime

	err := row.Scan(&r.ID, &r.Input, &r.Output, &r.Variant, &r.Threads, &r.Status,
		&r.Total, &r.Succeeded, &r.Failed, &r.CostUSD, &r.CreatedAt, &finished)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrap(ErrNotFound, "run")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan run")
	}
	if finished.Valid {
		t := finished.Time
		r.FinishedAt = &t
	}
	return &r, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// runStatus derives the final status: a run where every document failed is
// marked failed.
func runStatus(summary model.RunSummary) model.RunStatus {
	if summary.Total > 0 && summary.Failed == summary.Total {
		return model.RunStatusFailed
	}
	return model.RunStatusComplete
}
