package shared

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// AuditEntry represents one append-only record of a state-changing action.
// Repositories insert entries through their transaction-bound executor so
// the audit write shares the atomic unit of the business writes: if either
// fails, both roll back.
type AuditEntry struct {
	TraceID  uuid.UUID
	ActorID  int64
	Action   string
	Entity   string
	EntityID string
	Before   map[string]any
	After    map[string]any
	At       time.Time
}

// AuditRecorder appends audit entries. Repository implementations bind it
// to the operation's transaction.
type AuditRecorder interface {
	AppendAudit(ctx context.Context, entry AuditEntry) error
}

// AuditSQL is the insert statement shared by the pgx-backed repositories.
const AuditSQL = `INSERT INTO audit_logs (trace_id, actor_id, action, entity, entity_id, before, after, occurred_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, COALESCE($8, NOW()))`

// AuditArgs validates the entry and renders the argument list for AuditSQL.
func AuditArgs(entry AuditEntry) ([]any, error) {
	if entry.Action == "" || entry.Entity == "" || entry.EntityID == "" {
		return nil, errors.New("audit entry requires action/entity/entity_id")
	}
	if entry.TraceID == uuid.Nil {
		entry.TraceID = uuid.New()
	}
	beforeJSON, err := json.Marshal(entry.Before)
	if err != nil {
		return nil, err
	}
	afterJSON, err := json.Marshal(entry.After)
	if err != nil {
		return nil, err
	}
	var at any
	if !entry.At.IsZero() {
		at = entry.At
	}
	return []any{entry.TraceID, entry.ActorID, entry.Action, entry.Entity, entry.EntityID, beforeJSON, afterJSON, at}, nil
}
