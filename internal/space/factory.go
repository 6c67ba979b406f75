package space

import (
	"database/sql"
	"fmt"

	"anyback-go/internal/anyback"
	"anyback-go/internal/config"
)

// NewStoreFromConfig creates a Store based on the space config type. The
// sqlite store shares db with the job history.
func NewStoreFromConfig(cfg config.SpaceConfig, db *sql.DB, clock anyback.Clock, idgen anyback.IDGenerator) (Store, error) {
	switch cfg.Type {
	case "sqlite", "":
		if db == nil {
			return nil, fmt.Errorf("sqlite space store requires a database")
		}
		return NewSQLiteSpace(db, clock, idgen), nil
	case "memory":
		return NewMemorySpace(clock, idgen), nil
	default:
		return nil, fmt.Errorf("unknown space type: %s", cfg.Type)
	}
}
