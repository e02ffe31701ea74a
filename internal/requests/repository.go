package requests

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fieldserve-erp/fieldserve-erp/internal/numbering"
	"github.com/fieldserve-erp/fieldserve-erp/internal/platform/db"
	"github.com/fieldserve-erp/fieldserve-erp/internal/shared"
)

// Repository defines data access for requests. WithTx re-binds the
// repository to a transaction so a whole operation commits atomically,
// audit entry included.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, Repository) error) error
	Get(ctx context.Context, id int64) (*Request, error)
	List(ctx context.Context, input ListRequestsInput) ([]Request, int, error)
	Create(ctx context.Context, r Request) (int64, error)
	InsertLine(ctx context.Context, line RequestLine) (int64, error)
	DeleteLines(ctx context.Context, requestID int64) error
	UpdateHeader(ctx context.Context, id int64, updates map[string]any) error
	UpdateStatus(ctx context.Context, id int64, status RequestStatus, actorID int64, at time.Time) error
	Delete(ctx context.Context, id int64) error
	HasOrder(ctx context.Context, requestID int64) (bool, error)
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

const requestColumns = `id, doc_number, client_id, status, service_date, notes, tax_percent,
subtotal, discount_amount, tax_amount, total_amount, requires_authorization,
authorized_by, authorized_at, rejected_by, rejected_at, created_by, created_at, updated_at`

func (r *repository) Get(ctx context.Context, id int64) (*Request, error) {
	row := r.db.QueryRow(ctx, `SELECT `+requestColumns+` FROM requests WHERE id = $1`, id)
	req, err := scanRequest(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: request %d", shared.ErrNotFound, id)
		}
		return nil, err
	}

	rows, err := r.db.Query(ctx, `SELECT id, request_id, item_id, description, quantity, unit_price,
discount_percent, discount_amount, line_total, line_order
FROM request_lines WHERE request_id = $1 ORDER BY line_order`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var l RequestLine
		if err := rows.Scan(&l.ID, &l.RequestID, &l.ItemID, &l.Description, &l.Quantity, &l.UnitPrice,
			&l.DiscountPercent, &l.DiscountAmount, &l.LineTotal, &l.LineOrder); err != nil {
			return nil, err
		}
		req.Lines = append(req.Lines, l)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return req, nil
}

func (r *repository) List(ctx context.Context, input ListRequestsInput) ([]Request, int, error) {
	conditions := []string{"TRUE"}
	args := []any{}
	argPos := 1

	if input.ClientID != nil {
		conditions = append(conditions, fmt.Sprintf("client_id = $%d", argPos))
		args = append(args, *input.ClientID)
		argPos++
	}
	if input.Status != nil {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argPos))
		args = append(args, *input.Status)
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
	if err := r.db.QueryRow(ctx, "SELECT COUNT(*) FROM requests "+whereClause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(`SELECT %s FROM requests %s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`,
		requestColumns, whereClause, argPos, argPos+1)
	args = append(args, input.Limit, input.Offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var result []Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, 0, err
		}
		result = append(result, *req)
	}
	return result, total, rows.Err()
}

func (r *repository) Create(ctx context.Context, req Request) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx, `INSERT INTO requests
(doc_number, client_id, status, service_date, notes, tax_percent,
 subtotal, discount_amount, tax_amount, total_amount, requires_authorization, created_by)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
RETURNING id`,
		req.DocNumber, req.ClientID, req.Status, req.ServiceDate, req.Notes, req.TaxPercent,
		req.Subtotal, req.DiscountAmount, req.TaxAmount, req.TotalAmount, req.RequiresAuthorization, req.CreatedBy,
	).Scan(&id)
	return id, err
}

func (r *repository) InsertLine(ctx context.Context, line RequestLine) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx, `INSERT INTO request_lines
(request_id, item_id, description, quantity, unit_price, discount_percent, discount_amount, line_total, line_order)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
RETURNING id`,
		line.RequestID, line.ItemID, line.Description, line.Quantity, line.UnitPrice,
		line.DiscountPercent, line.DiscountAmount, line.LineTotal, line.LineOrder,
	).Scan(&id)
	return id, err
}

func (r *repository) DeleteLines(ctx context.Context, requestID int64) error {
	_, err := r.db.Exec(ctx, `DELETE FROM request_lines WHERE request_id = $1`, requestID)
	return err
}

func (r *repository) UpdateHeader(ctx context.Context, id int64, updates map[string]any) error {
	query := "UPDATE requests SET updated_at = NOW()"
	var args []any
	argPos := 1
	for _, col := range []string{"service_date", "notes", "tax_percent", "subtotal", "discount_amount", "tax_amount", "total_amount", "requires_authorization"} {
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

func (r *repository) UpdateStatus(ctx context.Context, id int64, status RequestStatus, actorID int64, at time.Time) error {
	switch status {
	case StatusAuthorized:
		_, err := r.db.Exec(ctx, `UPDATE requests SET status = $1, authorized_by = $2, authorized_at = $3, updated_at = NOW() WHERE id = $4`,
			status, actorID, at, id)
		return err
	case StatusRejected:
		_, err := r.db.Exec(ctx, `UPDATE requests SET status = $1, rejected_by = $2, rejected_at = $3, updated_at = NOW() WHERE id = $4`,
			status, actorID, at, id)
		return err
	default:
		_, err := r.db.Exec(ctx, `UPDATE requests SET status = $1, updated_at = NOW() WHERE id = $2`, status, id)
		return err
	}
}

func (r *repository) Delete(ctx context.Context, id int64) error {
	_, err := r.db.Exec(ctx, `DELETE FROM requests WHERE id = $1`, id)
	return err
}

func (r *repository) HasOrder(ctx context.Context, requestID int64) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM service_orders WHERE request_id = $1)`, requestID).Scan(&exists)
	return exists, err
}

func (r *repository) NextNumber(ctx context.Context) (string, error) {
	return numbering.Next(ctx, r.db, numbering.TypeRequest)
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

func scanRequest(row rowScanner) (*Request, error) {
	var req Request
	err := row.Scan(
		&req.ID, &req.DocNumber, &req.ClientID, &req.Status, &req.ServiceDate, &req.Notes, &req.TaxPercent,
		&req.Subtotal, &req.DiscountAmount, &req.TaxAmount, &req.TotalAmount, &req.RequiresAuthorization,
		&req.AuthorizedBy, &req.AuthorizedAt, &req.RejectedBy, &req.RejectedAt,
		&req.CreatedBy, &req.CreatedAt, &req.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &req, nil
}
