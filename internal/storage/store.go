package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"tickwatch/internal/alerts"
	"tickwatch/internal/config"
)

// Store persists alert dispatch outcomes as a local audit trail. It is
// optional and distinct from the downstream alert endpoint: a disabled store
// changes nothing about pipeline behavior.
type Store interface {
	Init(ctx context.Context) error
	Close() error
	SaveDispatch(ctx context.Context, rec alerts.Record) error
}

func NewStore(cfg config.StorageConfig) (Store, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	switch strings.ToLower(cfg.Driver) {
	case "sqlite":
		return NewSQLite(cfg.DSN)
	case "postgres", "postgresql":
		return NewPostgres(cfg.DSN)
	default:
		return nil, errors.New("unsupported storage driver")
	}
}

type baseStore struct {
	db *sql.DB
}

func (b *baseStore) Close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}

func encodeJSON(value any) string {
	data, _ := json.Marshal(value)
	return string(data)
}

func nowUTC() time.Time {
	return time.Now().UTC()
}
