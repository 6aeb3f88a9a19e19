package audit

import (
	"context"
	"database/sql"
	"errors"
)

// PostgresRepo appends events to audit_events.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

const insertEventSQL = `
INSERT INTO audit_events
	(id, action, call_id, agent_id, observer_id, ip_address, outcome, message, metadata, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9, '')::jsonb, $10)`

func (r *PostgresRepo) Append(ctx context.Context, e Event) error {
	if r.db == nil {
		return errors.New("audit: postgres db is nil")
	}
	_, err := r.db.ExecContext(ctx, insertEventSQL,
		e.ID, string(e.Action), e.CallID, e.AgentID, e.ObserverID, e.IPAddress,
		string(e.Outcome), e.Message, e.Metadata, e.CreatedAt,
	)
	return err
}
