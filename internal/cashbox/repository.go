package cashbox

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fieldserve-erp/fieldserve-erp/internal/numbering"
	"github.com/fieldserve-erp/fieldserve-erp/internal/platform/db"
	"github.com/fieldserve-erp/fieldserve-erp/internal/shared"
)

// Repository defines data access for cash sessions. The cash_sessions
// table carries partial unique indexes on (operator_id) and (register_id)
// filtered to status 'OPEN'; CreateSession surfaces their violations as
// raw 23505 errors for the service to translate.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, Repository) error) error
	GetSession(ctx context.Context, id int64) (*Session, error)
	GetOpenByOperator(ctx context.Context, operatorID int64) (*Session, error)
	GetOpenByRegister(ctx context.Context, registerID int64) (*Session, error)
	CreateSession(ctx context.Context, s Session) (int64, error)
	UpdateSession(ctx context.Context, id int64, updates map[string]any) error
	InsertMovement(ctx context.Context, m Movement) error
	CreateDifference(ctx context.Context, d CashDifference) error
	NextNumber(ctx context.Context) (string, error)
	shared.AuditRecorder
}

type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type repository struct {
	db   dbtx
	pool *pgxpool.Pool
}

// NewRepository returns the pgx-backed repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{db: pool, pool: pool}
}

func (r *repository) WithTx(ctx context.Context, fn func(context.Context, Repository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &repository{db: tx, pool: r.pool})
	})
}

const sessionColumns = `id, doc_number, register_id, operator_id, status, opening_float,
income, expenses, expected_final, real_final, difference, notes, opened_at, closed_at, closed_by`

func (r *repository) GetSession(ctx context.Context, id int64) (*Session, error) {
	row := r.db.QueryRow(ctx, `SELECT `+sessionColumns+` FROM cash_sessions WHERE id = $1`, id)
	session, err := scanSession(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: cash session %d", shared.ErrNotFound, id)
		}
		return nil, err
	}

	rows, err := r.db.Query(ctx, `SELECT id, session_id, type, amount, concept, reference, actor_id, created_at
FROM cash_movements WHERE session_id = $1 ORDER BY created_at, id`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var m Movement
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Type, &m.Amount, &m.Concept, &m.Reference, &m.ActorID, &m.CreatedAt); err != nil {
			return nil, err
		}
		session.Movements = append(session.Movements, m)
	}
	return session, rows.Err()
}

func (r *repository) GetOpenByOperator(ctx context.Context, operatorID int64) (*Session, error) {
	row := r.db.QueryRow(ctx, `SELECT `+sessionColumns+` FROM cash_sessions WHERE operator_id = $1 AND status = $2`,
		operatorID, StatusOpen)
	session, err := scanSession(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: open session for operator %d", shared.ErrNotFound, operatorID)
		}
		return nil, err
	}
	return session, nil
}

func (r *repository) GetOpenByRegister(ctx context.Context, registerID int64) (*Session, error) {
	row := r.db.QueryRow(ctx, `SELECT `+sessionColumns+` FROM cash_sessions WHERE register_id = $1 AND status = $2`,
		registerID, StatusOpen)
	session, err := scanSession(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: open session for register %d", shared.ErrNotFound, registerID)
		}
		return nil, err
	}
	return session, nil
}

func (r *repository) CreateSession(ctx context.Context, s Session) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx, `INSERT INTO cash_sessions
(doc_number, register_id, operator_id, status, opening_float, income, expenses, expected_final, notes, opened_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
RETURNING id`,
		s.DocNumber, s.RegisterID, s.OperatorID, s.Status, s.OpeningFloat, s.Income, s.Expenses,
		s.ExpectedFinal, s.Notes, s.OpenedAt,
	).Scan(&id)
	return id, err
}

func (r *repository) UpdateSession(ctx context.Context, id int64, updates map[string]any) error {
	query := "UPDATE cash_sessions SET updated_at = NOW()"
	var args []any
	argPos := 1
	for _, col := range []string{"status", "income", "expenses", "expected_final", "real_final", "difference", "notes", "closed_at", "closed_by"} {
		if v, ok := updates[col]; ok {
			query += fmt.Sprintf(", %s = $%d", col, argPos)
			args = append(args, v)
			argPos++
		}
	}
	query += fmt.Sprintf(" WHERE id = $%d", argPos)
	args = append(args, id)
	_, err := r.db.Exec(ctx, query, args...)
	return err
}

func (r *repository) InsertMovement(ctx context.Context, m Movement) error {
	_, err := r.db.Exec(ctx, `INSERT INTO cash_movements
(session_id, type, amount, concept, reference, actor_id, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		m.SessionID, m.Type, m.Amount, m.Concept, m.Reference, m.ActorID, m.CreatedAt)
	return err
}

func (r *repository) CreateDifference(ctx context.Context, d CashDifference) error {
	_, err := r.db.Exec(ctx, `INSERT INTO cash_differences
(session_id, amount, classification, supervisor_id, justification, created_at)
VALUES ($1, $2, $3, $4, $5, $6)`,
		d.SessionID, d.Amount, d.Classification, d.SupervisorID, d.Justification, d.CreatedAt)
	return err
}

func (r *repository) NextNumber(ctx context.Context) (string, error) {
	return numbering.Next(ctx, r.db, numbering.TypeCashSession)
}

func (r *repository) AppendAudit(ctx context.Context, entry shared.AuditEntry) error {
	args, err := shared.AuditArgs(entry)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx, shared.AuditSQL, args...)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*Session, error) {
	var s Session
	err := row.Scan(
		&s.ID, &s.DocNumber, &s.RegisterID, &s.OperatorID, &s.Status, &s.OpeningFloat,
		&s.Income, &s.Expenses, &s.ExpectedFinal, &s.RealFinal, &s.Difference, &s.Notes,
		&s.OpenedAt, &s.ClosedAt, &s.ClosedBy,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}
