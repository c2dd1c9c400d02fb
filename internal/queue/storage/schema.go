package storage

import (
	"context"
	"fmt"
)

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS print_jobs (
		id             BIGSERIAL PRIMARY KEY,
		type           TEXT        NOT NULL,
		payload        JSONB       NOT NULL DEFAULT '{}'::jsonb,
		device_id      TEXT,
		user_id        TEXT,
		fiscal_sale_id BIGINT,
		priority       INTEGER     NOT NULL DEFAULT 10,
		status         TEXT        NOT NULL DEFAULT 'pending',
		created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		claimed_at     TIMESTAMPTZ,
		claimed_by     TEXT,
		processed_at   TIMESTAMPTZ,
		error_message  TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_print_jobs_dispatch ON print_jobs (status, priority, created_at, id)`,
	`CREATE INDEX IF NOT EXISTS idx_print_jobs_processed_at ON print_jobs (processed_at)`,
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS print_jobs (
		id             INTEGER PRIMARY KEY AUTOINCREMENT,
		type           TEXT      NOT NULL,
		payload        TEXT      NOT NULL DEFAULT '{}',
		device_id      TEXT,
		user_id        TEXT,
		fiscal_sale_id INTEGER,
		priority       INTEGER   NOT NULL DEFAULT 10,
		status         TEXT      NOT NULL DEFAULT 'pending',
		created_at     TIMESTAMP NOT NULL,
		claimed_at     TIMESTAMP,
		claimed_by     TEXT,
		processed_at   TIMESTAMP,
		error_message  TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_print_jobs_dispatch ON print_jobs (status, priority, created_at, id)`,
	`CREATE INDEX IF NOT EXISTS idx_print_jobs_processed_at ON print_jobs (processed_at)`,
}

// EnsureSchema creates the print_jobs table and its indexes when missing
func (s *Storage) EnsureSchema(ctx context.Context) error {
	statements := postgresSchema
	if s.sqlite {
		statements = sqliteSchema
	}

	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}

	return nil
}
