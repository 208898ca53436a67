package storage

import (
	"context"
	"database/sql"
	"strings"

	_ "modernc.org/sqlite"

	"tickwatch/internal/alerts"
)

type sqliteStore struct {
	baseStore
}

func NewSQLite(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "file:tickwatch.db?_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	return &sqliteStore{baseStore{db: db}}, nil
}

func (s *sqliteStore) Init(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS dispatches (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts TEXT NOT NULL,
			window_sequence_id INTEGER NOT NULL,
			batch_id TEXT NOT NULL,
			outcome TEXT NOT NULL,
			attempts INTEGER NOT NULL,
			reason TEXT,
			features_json TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_dispatches_ts ON dispatches(ts)`,
		`CREATE INDEX IF NOT EXISTS idx_dispatches_batch ON dispatches(batch_id)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *sqliteStore) SaveDispatch(ctx context.Context, rec alerts.Record) error {
	if s.db == nil {
		return nil
	}
	ts := rec.RecordedAt
	if ts.IsZero() {
		ts = nowUTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO dispatches (ts, window_sequence_id, batch_id, outcome, attempts, reason, features_json)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ts.UTC(),
		rec.Message.WindowSequenceID,
		rec.Message.BatchID,
		rec.Outcome,
		rec.Attempts,
		rec.Reason,
		encodeJSON(rec.Message.AnomalousFeatures),
	)
	return err
}
