package storage

import (
	"context"
	"database/sql"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"

	"tickwatch/internal/alerts"
)

type postgresStore struct {
	baseStore
}

func NewPostgres(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "postgres://localhost:5432/tickwatch?sslmode=disable"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &postgresStore{baseStore{db: db}}, nil
}

func (s *postgresStore) Init(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS dispatches (
			id BIGSERIAL PRIMARY KEY,
			ts TIMESTAMPTZ NOT NULL,
			window_sequence_id BIGINT NOT NULL,
			batch_id TEXT NOT NULL,
			outcome TEXT NOT NULL,
			attempts INTEGER NOT NULL,
			reason TEXT,
			features_json JSONB NOT NULL
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

func (s *postgresStore) SaveDispatch(ctx context.Context, rec alerts.Record) error {
	if s.db == nil {
		return nil
	}
	ts := rec.RecordedAt
	if ts.IsZero() {
		ts = nowUTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO dispatches (ts, window_sequence_id, batch_id, outcome, attempts, reason, features_json)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
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
