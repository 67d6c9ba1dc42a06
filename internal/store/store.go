// Package store persists the run ledger and dead-letter queue.
package store

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/docscan-cli/internal/model"
	"github.com/sells-group/docscan-cli/internal/resilience"
)

// Supported drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverNone     = "none"
)

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = eris.New("not found")

// Store records runs, per-document outcomes and failed documents.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, meta model.RunMeta) (*model.Run, error)
	CompleteRun(ctx context.Context, runID string, summary model.RunSummary) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, limit int) ([]model.Run, error)

	// Documents
	RecordDocument(ctx context.Context, runID string, outcome model.DocumentOutcome) error
	ListDocuments(ctx context.Context, runID string) ([]model.DocumentOutcome, error)

	// Dead letters
	EnqueueDLQ(ctx context.Context, entry resilience.DLQEntry) error
	ListDLQ(ctx context.Context, filter resilience.DLQFilter) ([]resilience.DLQEntry, error)
	CountDLQ(ctx context.Context) (int, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// Open connects to the configured store and migrates it. It returns a nil
// Store for the "none" driver or an empty driver.
func Open(ctx context.Context, driver, dsn string) (Store, error) {
	var (
		st  Store
		err error
	)
	switch strings.ToLower(driver) {
	case "", DriverNone:
		return nil, nil
	case DriverSQLite:
		st, err = NewSQLite(dsn)
	case DriverPostgres:
		st, err = NewPostgres(ctx, dsn, nil)
	default:
		return nil, eris.Errorf("store: unknown driver %q", driver)
	}
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, err
	}
	return st, nil
}

const defaultListLimit = 20

func listLimit(n int) int {
	if n <= 0 {
		return defaultListLimit
	}
	return n
}
