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

	"github.com/sells-group/docscan-cli/internal/db"
	"github.com/sells-group/docscan-cli/internal/model"
	"github.com/sells-group/docscan-cli/internal/resilience"
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

// preparedStatements are prepared on each new connection.
var preparedStatements = map[string]string{
	"insert_run":      `INSERT INTO runs (id, input, output, variant, threads, status, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
	"record_document": recordDocumentSQL,
	"enqueue_dlq":     enqueueDLQSQL,
}

const recordDocumentSQL = `INSERT INTO run_documents
	(run_id, document_id, status, has_errors, retried, score, calls, stage, error, duration_ms)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	ON CONFLICT (run_id, document_id) DO UPDATE SET
	  status = $3, has_errors = $4, retried = $5, score = $6, calls = $7,
	  stage = $8, error = $9, duration_ms = $10`

const enqueueDLQSQL = `INSERT INTO dead_letter_queue
	(id, run_id, document_id, source, error, error_type, failed_stage, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	ON CONFLICT (id) DO UPDATE SET
	  error = $5, error_type = $6, failed_stage = $7`

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(1)
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

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				// Tables do not exist before the first migration.
				if isUndefinedTable(err) {
					continue
				}
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

const postgresMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	input       TEXT NOT NULL,
	output      TEXT NOT NULL,
	variant     TEXT NOT NULL,
	threads     INTEGER NOT NULL DEFAULT 0,
	status      TEXT NOT NULL DEFAULT 'running',
	total       INTEGER NOT NULL DEFAULT 0,
	succeeded   INTEGER NOT NULL DEFAULT 0,
	failed      INTEGER NOT NULL DEFAULT 0,
	cost_usd    DOUBLE PRECISION NOT NULL DEFAULT 0,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	finished_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS run_documents (
	run_id      TEXT NOT NULL REFERENCES runs(id),
	document_id TEXT NOT NULL,
	status      TEXT NOT NULL,
	has_errors  BOOLEAN NOT NULL DEFAULT false,
	retried     BOOLEAN NOT NULL DEFAULT false,
	score       DOUBLE PRECISION NOT NULL DEFAULT 0,
	calls       INTEGER NOT NULL DEFAULT 0,
	stage       TEXT,
	error       TEXT,
	duration_ms BIGINT NOT NULL DEFAULT 0,
	PRIMARY KEY (run_id, document_id)
);

CREATE TABLE IF NOT EXISTS dead_letter_queue (
	id           TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	run_id       TEXT NOT NULL,
	document_id  TEXT NOT NULL,
	source       TEXT,
	error        TEXT NOT NULL,
	error_type   TEXT NOT NULL,
	failed_stage TEXT,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_dlq_run_id ON dead_letter_queue(run_id);
CREATE INDEX IF NOT EXISTS idx_dlq_error_type ON dead_letter_queue(error_type);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateRun(ctx context.Context, meta model.RunMeta) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO runs (id, input, output, variant, threads, status, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		id, meta.Input, meta.Output, meta.Variant, meta.Threads, string(model.RunStatusRunning), now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
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

func (s *PostgresStore) CompleteRun(ctx context.Context, runID string, summary model.RunSummary) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, total = $2, succeeded = $3, failed = $4, cost_usd = $5, finished_at = $6 WHERE id = $7`,
		string(runStatus(summary)), summary.Total, summary.Succeeded, summary.Failed, summary.CostUSD,
		time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "run %s", runID)
	}
	return nil
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+runColumns+` FROM runs WHERE id = $1`, runID)
	r, err := scanPgRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrap(ErrNotFound, "run")
	}
	return r, err
}

func (s *PostgresStore) ListRuns(ctx context.Context, limit int) ([]model.Run, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+runColumns+` FROM runs ORDER BY created_at DESC LIMIT $1`,
		listLimit(limit),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanPgRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

func (s *PostgresStore) RecordDocument(ctx context.Context, runID string, o model.DocumentOutcome) error {
	_, err := s.pool.Exec(ctx, recordDocumentSQL,
		runID, o.DocumentID, string(o.Status), o.HasErrors, o.Retried, o.Score, o.Calls,
		optional(o.Stage), optional(o.Error), o.DurationMs,
	)
	return eris.Wrapf(err, "postgres: record document %s", o.DocumentID)
}

func (s *PostgresStore) ListDocuments(ctx context.Context, runID string) ([]model.DocumentOutcome, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT document_id, status, has_errors, retried, score, calls, stage, error, duration_ms
		 FROM run_documents WHERE run_id = $1 ORDER BY document_id`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list documents")
	}
	defer rows.Close()

	var out []model.DocumentOutcome
	for rows.Next() {
		var o model.DocumentOutcome
		var status string
		var stage, errMsg *string
		if err := rows.Scan(&o.DocumentID, &status, &o.HasErrors, &o.Retried, &o.Score,
			&o.Calls, &stage, &errMsg, &o.DurationMs); err != nil {
			return nil, eris.Wrap(err, "postgres: scan document")
		}
		o.Status = model.DocumentStatus(status)
		o.Stage = deref(stage)
		o.Error = deref(errMsg)
		out = append(out, o)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list documents iterate")
}

// Dead letter queue methods

func (s *PostgresStore) EnqueueDLQ(ctx context.Context, entry resilience.DLQEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx, enqueueDLQSQL,
		entry.ID, entry.RunID, entry.DocumentID, optional(entry.Source), entry.Error,
		entry.ErrorType, optional(entry.FailedStage), entry.CreatedAt,
	)
	return eris.Wrap(err, "postgres: enqueue dlq")
}

func (s *PostgresStore) ListDLQ(ctx context.Context, filter resilience.DLQFilter) ([]resilience.DLQEntry, error) {
	query := `SELECT id, run_id, document_id, source, error, error_type, failed_stage, created_at
	          FROM dead_letter_queue WHERE 1=1`
	args := []any{}
	argIdx := 1

	if filter.RunID != "" {
		query += fmt.Sprintf(` AND run_id = $%d`, argIdx)
		args = append(args, filter.RunID)
		argIdx++
	}
	if filter.ErrorType != "" {
		query += fmt.Sprintf(` AND error_type = $%d`, argIdx)
		args = append(args, filter.ErrorType)
		argIdx++
	}

	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d`, argIdx)
	args = append(args, listLimit(filter.Limit))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list dlq")
	}
	defer rows.Close()

	var entries []resilience.DLQEntry
	for rows.Next() {
		var e resilience.DLQEntry
		var source, stage *string
		if err := rows.Scan(&e.ID, &e.RunID, &e.DocumentID, &source, &e.Error,
			&e.ErrorType, &stage, &e.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan dlq entry")
		}
		e.Source = deref(source)
		e.FailedStage = deref(stage)
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "postgres: list dlq iterate")
}

func (s *PostgresStore) CountDLQ(ctx context.Context) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM dead_letter_queue`).Scan(&count)
	return count, eris.Wrap(err, "postgres: count dlq")
}

func scanPgRun(row pgx.Row) (*model.Run, error) {
	var r model.Run
	var status string
	err := row.Scan(&r.ID, &r.Input, &r.Output, &r.Variant, &r.Threads, &status,
		&r.Total, &r.Succeeded, &r.Failed, &r.CostUSD, &r.CreatedAt, &r.FinishedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan run")
	}
	r.Status = model.RunStatus(status)
	return &r, nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func isUndefinedTable(err error) bool {
	var pgErr interface{ SQLState() string }
	return errors.As(err, &pgErr) && pgErr.SQLState() == "42P01"
}
