package payments

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

// Repository defines data access for the payment ledger. The ledger owns
// the balance columns on clients and the per-order overpayment
// contributions; those writes always happen under the client row lock
// taken by LockClientBalances.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, Repository) error) error
	GetPayment(ctx context.Context, id int64) (*Payment, error)
	List(ctx context.Context, input ListPaymentsInput) ([]Payment, int, error)
	CreatePayment(ctx context.Context, p Payment) (int64, error)
	RecordSessionIncome(ctx context.Context, sessionID int64, amount float64, reference string, actorID int64) error
	SumForOrder(ctx context.Context, orderID int64) (float64, error)
	GetOrderRef(ctx context.Context, orderID int64) (*OrderRef, error)
	LockClientBalances(ctx context.Context, clientID int64) (favor, pendingCredit float64, err error)
	UpdateClientBalances(ctx context.Context, clientID int64, favor, pendingCredit float64) error
	GetOverpayment(ctx context.Context, orderID int64) (float64, error)
	SetOverpayment(ctx context.Context, orderID, clientID int64, amount float64) error
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

const paymentColumns = `id, doc_number, client_id, order_id, session_id, type, payment_method_id,
amount, favor_applied, notes, created_by, created_at`

func (r *repository) GetPayment(ctx context.Context, id int64) (*Payment, error) {
	row := r.db.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id)
	p, err := scanPayment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: payment %d", shared.ErrNotFound, id)
		}
		return nil, err
	}
	return p, nil
}

func (r *repository) List(ctx context.Context, input ListPaymentsInput) ([]Payment, int, error) {
	conditions := []string{"TRUE"}
	args := []any{}
	argPos := 1

	if input.ClientID != nil {
		conditions = append(conditions, fmt.Sprintf("client_id = $%d", argPos))
		args = append(args, *input.ClientID)
		argPos++
	}
	if input.OrderID != nil {
		conditions = append(conditions, fmt.Sprintf("order_id = $%d", argPos))
		args = append(args, *input.OrderID)
		argPos++
	}
	if input.Type != nil {
		conditions = append(conditions, fmt.Sprintf("type = $%d", argPos))
		args = append(args, *input.Type)
		argPos++
	}
	if input.DateFrom != nil {
		conditions = append(conditions, fmt.Sprintf("created_at >= $%d", argPos))
		args = append(args, *input.DateFrom)
		argPos++
	}
	if input.DateTo != nil {
		conditions = append(conditions, fmt.Sprintf("created_at <= $%d", argPos))
		args = append(args, *input.DateTo)
		argPos++
	}

	whereClause := "WHERE " + conditions[0]
	for i := 1; i < len(conditions); i++ {
		whereClause += " AND " + conditions[i]
	}

	var total int
	if err := r.db.QueryRow(ctx, "SELECT COUNT(*) FROM payments "+whereClause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(`SELECT %s FROM payments %s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`,
		paymentColumns, whereClause, argPos, argPos+1)
	args = append(args, input.Limit, input.Offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var result []Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, 0, err
		}
		result = append(result, *p)
	}
	return result, total, rows.Err()
}

func (r *repository) CreatePayment(ctx context.Context, p Payment) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx, `INSERT INTO payments
(doc_number, client_id, order_id, session_id, type, payment_method_id, amount, favor_applied, notes, created_by)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
RETURNING id`,
		p.DocNumber, p.ClientID, p.OrderID, p.SessionID, p.Type, p.PaymentMethodID,
		p.Amount, p.FavorApplied, p.Notes, p.CreatedBy,
	).Scan(&id)
	return id, err
}

// RecordSessionIncome books the payment on the open cash session: one
// income movement plus the running totals on the session row. Runs inside
// the payment transaction so the ledger entry and the cash movement
// commit or roll back together.
func (r *repository) RecordSessionIncome(ctx context.Context, sessionID int64, amount float64, reference string, actorID int64) error {
	tag, err := r.db.Exec(ctx, `UPDATE cash_sessions
SET income = ROUND((income + $1)::numeric, 2),
    expected_final = ROUND((expected_final + $1)::numeric, 2),
    updated_at = NOW()
WHERE id = $2 AND status = 'OPEN'`, amount, sessionID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: cash session %d is not open", shared.ErrStateConflict, sessionID)
	}
	_, err = r.db.Exec(ctx, `INSERT INTO cash_movements
(session_id, type, amount, concept, reference, actor_id, created_at)
VALUES ($1, 'INCOME', $2, 'payment received', $3, $4, NOW())`,
		sessionID, amount, reference, actorID)
	return err
}

func (r *repository) SumForOrder(ctx context.Context, orderID int64) (float64, error) {
	var sum float64
	err := r.db.QueryRow(ctx, `SELECT COALESCE(SUM(amount), 0) FROM payments WHERE order_id = $1`, orderID).Scan(&sum)
	return sum, err
}

func (r *repository) GetOrderRef(ctx context.Context, orderID int64) (*OrderRef, error) {
	var o OrderRef
	err := r.db.QueryRow(ctx, `SELECT id, doc_number, client_id, total_amount FROM service_orders WHERE id = $1`, orderID).
		Scan(&o.ID, &o.DocNumber, &o.ClientID, &o.TotalAmount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: service order %d", shared.ErrNotFound, orderID)
		}
		return nil, err
	}
	return &o, nil
}

func (r *repository) LockClientBalances(ctx context.Context, clientID int64) (float64, float64, error) {
	var favor, pendingCredit float64
	err := r.db.QueryRow(ctx, `SELECT favor_balance, pending_credit FROM clients WHERE id = $1 FOR UPDATE`, clientID).
		Scan(&favor, &pendingCredit)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, 0, fmt.Errorf("%w: client %d", shared.ErrNotFound, clientID)
		}
		return 0, 0, err
	}
	return favor, pendingCredit, nil
}

func (r *repository) UpdateClientBalances(ctx context.Context, clientID int64, favor, pendingCredit float64) error {
	_, err := r.db.Exec(ctx, `UPDATE clients SET favor_balance = $1, pending_credit = $2, updated_at = NOW() WHERE id = $3`,
		favor, pendingCredit, clientID)
	return err
}

func (r *repository) GetOverpayment(ctx context.Context, orderID int64) (float64, error) {
	var amount float64
	err := r.db.QueryRow(ctx, `SELECT COALESCE(
(SELECT amount FROM order_overpayments WHERE order_id = $1), 0)`, orderID).Scan(&amount)
	return amount, err
}

func (r *repository) SetOverpayment(ctx context.Context, orderID, clientID int64, amount float64) error {
	_, err := r.db.Exec(ctx, `INSERT INTO order_overpayments (order_id, client_id, amount, updated_at)
VALUES ($1, $2, $3, NOW())
ON CONFLICT (order_id) DO UPDATE SET amount = EXCLUDED.amount, updated_at = NOW()`,
		orderID, clientID, amount)
	return err
}

func (r *repository) NextNumber(ctx context.Context) (string, error) {
	return numbering.Next(ctx, r.db, numbering.TypePayment)
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

func scanPayment(row rowScanner) (*Payment, error) {
	var p Payment
	err := row.Scan(
		&p.ID, &p.DocNumber, &p.ClientID, &p.OrderID, &p.SessionID, &p.Type, &p.PaymentMethodID,
		&p.Amount, &p.FavorApplied, &p.Notes, &p.CreatedBy, &p.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}
