package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const createAuditTable = `CREATE TABLE IF NOT EXISTS execgate_audit (
	id          TEXT PRIMARY KEY,
	op_id       TEXT,
	tenant_id   TEXT NOT NULL,
	actor_id    TEXT NOT NULL,
	action_id   TEXT NOT NULL,
	payload     JSONB,
	redacted    BOOLEAN NOT NULL DEFAULT FALSE,
	recorded_at TIMESTAMPTZ NOT NULL
)`

const insertAuditEntry = `INSERT INTO execgate_audit
	(id, op_id, tenant_id, actor_id, action_id, payload, redacted, recorded_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

// PostgresStore writes entries to the execgate_audit table.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects and ensures the table exists.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit database: %w", err)
	}
	if _, err := pool.Exec(ctx, createAuditTable); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create audit table: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Append(ctx context.Context, e Entry) error {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal audit payload: %w", err)
	}
	_, err = s.pool.Exec(ctx, insertAuditEntry,
		e.ID, e.OpID, e.TenantID, e.ActorID, e.ActionID, payload, e.Redacted, e.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
