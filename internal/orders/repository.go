package orders

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

// Repository defines data access for service orders and deliveries.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, Repository) error) error
	Get(ctx context.Context, id int64) (*ServiceOrder, error)
	List(ctx context.Context, input ListOrdersInput) ([]ServiceOrder, int, error)
	Create(ctx context.Context, o ServiceOrder) (int64, error)
	InsertLine(ctx context.Context, line OrderLine) (int64, error)
	UpdateHeader(ctx context.Context, id int64, updates map[string]any) error
	InsertHistory(ctx context.Context, change StatusChange) error
	CreateDelivery(ctx context.Context, d Delivery) (int64, error)
	GetDeliveryByOrder(ctx context.Context, orderID int64) (*Delivery, error)
	NextOrderNumber(ctx context.Context) (string, error)
	NextDeliveryNumber(ctx context.Context) (string, error)
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

const orderColumns = `id, doc_number, request_id, client_id, status, technician_id, scheduled_date,
started_at, completed_at, notes, tax_percent, subtotal, discount_amount, tax_amount, total_amount,
created_by, created_at, updated_at`

func (r *repository) Get(ctx context.Context, id int64) (*ServiceOrder, error) {
	row := r.db.QueryRow(ctx, `SELECT `+orderColumns+` FROM service_orders WHERE id = $1`, id)
	order, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: service order %d", shared.ErrNotFound, id)
		}
		return nil, err
	}

	lineRows, err := r.db.Query(ctx, `SELECT id, order_id, item_id, description, quantity, unit_price,
discount_percent, discount_amount, line_total, line_order
FROM service_order_lines WHERE order_id = $1 ORDER BY line_order`, id)
	if err != nil {
		return nil, err
	}
	defer lineRows.Close()
	for lineRows.Next() {
		var l OrderLine
		if err := lineRows.Scan(&l.ID, &l.OrderID, &l.ItemID, &l.Description, &l.Quantity, &l.UnitPrice,
			&l.DiscountPercent, &l.DiscountAmount, &l.LineTotal, &l.LineOrder); err != nil {
			return nil, err
		}
		order.Lines = append(order.Lines, l)
	}
	if err := lineRows.Err(); err != nil {
		return nil, err
	}

	histRows, err := r.db.Query(ctx, `SELECT id, order_id, from_status, to_status, actor_id, note, changed_at
FROM service_order_history WHERE order_id = $1 ORDER BY changed_at, id`, id)
	if err != nil {
		return nil, err
	}
	defer histRows.Close()
	for histRows.Next() {
		var c StatusChange
		if err := histRows.Scan(&c.ID, &c.OrderID, &c.FromStatus, &c.ToStatus, &c.ActorID, &c.Note, &c.ChangedAt); err != nil {
			return nil, err
		}
		order.History = append(order.History, c)
	}
	return order, histRows.Err()
}

func (r *repository) List(ctx context.Context, input ListOrdersInput) ([]ServiceOrder, int, error) {
	conditions := []string{"TRUE"}
	args := []any{}
	argPos := 1

	if input.ClientID != nil {
		conditions = append(conditions, fmt.Sprintf("client_id = $%d", argPos))
		args = append(args, *input.ClientID)
		argPos++
	}
	if input.TechnicianID != nil {
		conditions = append(conditions, fmt.Sprintf("technician_id = $%d", argPos))
		args = append(args, *input.TechnicianID)
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
	if err := r.db.QueryRow(ctx, "SELECT COUNT(*) FROM service_orders "+whereClause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(`SELECT %s FROM service_orders %s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`,
		orderColumns, whereClause, argPos, argPos+1)
	args = append(args, input.Limit, input.Offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var result []ServiceOrder
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, 0, err
		}
		result = append(result, *order)
	}
	return result, total, rows.Err()
}

func (r *repository) Create(ctx context.Context, o ServiceOrder) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx, `INSERT INTO service_orders
(doc_number, request_id, client_id, status, technician_id, scheduled_date, notes,
 tax_percent, subtotal, discount_amount, tax_amount, total_amount, created_by)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
RETURNING id`,
		o.DocNumber, o.RequestID, o.ClientID, o.Status, o.TechnicianID, o.ScheduledDate, o.Notes,
		o.TaxPercent, o.Subtotal, o.DiscountAmount, o.TaxAmount, o.TotalAmount, o.CreatedBy,
	).Scan(&id)
	return id, err
}

func (r *repository) InsertLine(ctx context.Context, line OrderLine) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx, `INSERT INTO service_order_lines
(order_id, item_id, description, quantity, unit_price, discount_percent, discount_amount, line_total, line_order)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
RETURNING id`,
		line.OrderID, line.ItemID, line.Description, line.Quantity, line.UnitPrice,
		line.DiscountPercent, line.DiscountAmount, line.LineTotal, line.LineOrder,
	).Scan(&id)
	return id, err
}

func (r *repository) UpdateHeader(ctx context.Context, id int64, updates map[string]any) error {
	query := "UPDATE service_orders SET updated_at = NOW()"
	var args []any
	argPos := 1
	for _, col := range []string{"status", "technician_id", "scheduled_date", "started_at", "completed_at", "notes"} {
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

func (r *repository) InsertHistory(ctx context.Context, change StatusChange) error {
	_, err := r.db.Exec(ctx, `INSERT INTO service_order_history
(order_id, from_status, to_status, actor_id, note, changed_at)
VALUES ($1, $2, $3, $4, $5, $6)`,
		change.OrderID, change.FromStatus, change.ToStatus, change.ActorID, change.Note, change.ChangedAt)
	return err
}

func (r *repository) CreateDelivery(ctx context.Context, d Delivery) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx, `INSERT INTO deliveries
(doc_number, order_id, delivered_by, received_by, notes, delivered_at)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING id`,
		d.DocNumber, d.OrderID, d.DeliveredBy, d.ReceivedBy, d.Notes, d.DeliveredAt,
	).Scan(&id)
	return id, err
}

func (r *repository) GetDeliveryByOrder(ctx context.Context, orderID int64) (*Delivery, error) {
	var d Delivery
	err := r.db.QueryRow(ctx, `SELECT id, doc_number, order_id, delivered_by, received_by, notes, delivered_at
FROM deliveries WHERE order_id = $1`, orderID).
		Scan(&d.ID, &d.DocNumber, &d.OrderID, &d.DeliveredBy, &d.ReceivedBy, &d.Notes, &d.DeliveredAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: delivery for order %d", shared.ErrNotFound, orderID)
		}
		return nil, err
	}
	return &d, nil
}

func (r *repository) NextOrderNumber(ctx context.Context) (string, error) {
	return numbering.Next(ctx, r.db, numbering.TypeOrder)
}

func (r *repository) NextDeliveryNumber(ctx context.Context) (string, error) {
	return numbering.Next(ctx, r.db, numbering.TypeDelivery)
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

func scanOrder(row rowScanner) (*ServiceOrder, error) {
	var o ServiceOrder
	err := row.Scan(
		&o.ID, &o.DocNumber, &o.RequestID, &o.ClientID, &o.Status, &o.TechnicianID, &o.ScheduledDate,
		&o.StartedAt, &o.CompletedAt, &o.Notes, &o.TaxPercent, &o.Subtotal, &o.DiscountAmount,
		&o.TaxAmount, &o.TotalAmount, &o.CreatedBy, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &o, nil
}
