package main

import (
	"context"

	"github.com/sells-group/docscan-cli/internal/config"
	"github.com/sells-group/docscan-cli/internal/store"
)

// initStore opens and migrates the configured run ledger. It returns a nil
// Store when the ledger is disabled.
func initStore(ctx context.Context, c *config.Config) (store.Store, error) {
	return store.Open(ctx, c.Store.Driver, c.Store.DatabaseURL)
}
