package factory

import (
	"fmt"

	"github.com/halcyon-ai/halcyon-sync/internal/config"
	"github.com/halcyon-ai/halcyon-sync/internal/store"
	"github.com/halcyon-ai/halcyon-sync/internal/store/postgres"
	"github.com/halcyon-ai/halcyon-sync/internal/store/sqlite"
)

// NewApplier selects the persistence collaborator based on cfg.DBDriver and
// ensures its schema exists.
func NewApplier(cfg *config.Config) (store.Applier, error) {
	switch cfg.DBDriver {
	case "postgres":
		db, err := postgres.Open(cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		if err := postgres.EnsureSchema(db); err != nil {
			_ = db.Close()
			return nil, err
		}
		return postgres.NewWithDB(db), nil
	case "sqlite":
		db, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		if err := sqlite.EnsureSchema(db); err != nil {
			_ = db.Close()
			return nil, err
		}
		return sqlite.NewWithDB(db), nil
	default:
		return nil, fmt.Errorf("unknown DB_DRIVER: %s", cfg.DBDriver)
	}
}
