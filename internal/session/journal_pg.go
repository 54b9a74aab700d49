package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// PGJournal persists checkpoints to Postgres instead of (or in addition
// to) a flat NDJSON file. Grounded directly on the teacher's
// projectstore.NewPostgres: database/sql opened against the pgx/v5
// stdlib driver, with an idempotent schema-ensure on first use.
type PGJournal struct {
	db *sql.DB
}

// NewPGJournal opens dsn via the pgx stdlib driver and ensures the
// checkpoints table exists.
func NewPGJournal(ctx context.Context, dsn string) (*PGJournal, error) {
	db, err := sql.Open("pgx", strings.TrimSpace(dsn))
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	j := &PGJournal{db: db}
	if err := j.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return j, nil
}

func (j *PGJournal) ensureSchema(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS checkpoints (
	id BIGSERIAL PRIMARY KEY,
	session_id TEXT NOT NULL,
	run_id TEXT NOT NULL,
	stage_id TEXT NOT NULL,
	status TEXT NOT NULL,
	data JSONB,
	ts TIMESTAMPTZ NOT NULL
)`
	_, err := j.db.ExecContext(ctx, ddl)
	return err
}

func (j *PGJournal) WriteCheckpoint(ctx context.Context, rec Checkpoint) error {
	if j == nil || j.db == nil {
		return nil
	}
	data, err := json.Marshal(rec.Data)
	if err != nil {
		return err
	}
	_, err = j.db.ExecContext(ctx,
		`INSERT INTO checkpoints (session_id, run_id, stage_id, status, data, ts) VALUES ($1,$2,$3,$4,$5,$6)`,
		rec.SessionID, rec.RunID, rec.StageID, string(rec.Status), data, rec.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("session: pg checkpoint insert: %w", err)
	}
	return nil
}

func (j *PGJournal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}
