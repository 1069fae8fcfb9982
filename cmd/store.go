package main

import (
	"context"

	"github.com/sells-group/profile-collector/internal/store"
)

// initStore opens the configured run store. It returns nil, nil when no
// driver is configured.
func initStore(ctx context.Context) (store.Store, error) {
	if cfg.Store.Driver == "" {
		return nil, nil
	}
	return store.Open(ctx, cfg.Store.Driver, cfg.Store.DatabaseURL, cfg.Store.SQLitePath)
}
