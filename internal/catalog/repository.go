package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fieldserve-erp/fieldserve-erp/internal/shared"
)

// Repository defines lookup access to master data.
type Repository interface {
	GetClient(ctx context.Context, id int64) (*Client, error)
	GetItem(ctx context.Context, id int64) (*Item, error)
	GetPaymentMethod(ctx context.Context, id int64) (*PaymentMethod, error)
	GetTechnician(ctx context.Context, id int64) (*Technician, error)
	GetUser(ctx context.Context, id int64) (*User, error)
	UserHasPermission(ctx context.Context, userID int64, permission string) (bool, error)
	GetRegister(ctx context.Context, id int64) (*Register, error)
	LoadConfig(ctx context.Context) (*CompanyConfig, error)
}

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository returns the pgx-backed repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

func (r *repository) GetClient(ctx context.Context, id int64) (*Client, error) {
	var c Client
	err := r.pool.QueryRow(ctx, `SELECT id, code, name, email, phone, favor_balance, pending_credit, is_active, created_at, updated_at
FROM clients WHERE id = $1`, id).Scan(
		&c.ID, &c.Code, &c.Name, &c.Email, &c.Phone, &c.FavorBalance, &c.PendingCredit, &c.IsActive, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: client %d", shared.ErrNotFound, id)
		}
		return nil, err
	}
	return &c, nil
}

func (r *repository) GetItem(ctx context.Context, id int64) (*Item, error) {
	var it Item
	err := r.pool.QueryRow(ctx, `SELECT id, code, name, unit_price, is_active FROM items WHERE id = $1`, id).Scan(
		&it.ID, &it.Code, &it.Name, &it.UnitPrice, &it.IsActive)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: item %d", shared.ErrNotFound, id)
		}
		return nil, err
	}
	return &it, nil
}

func (r *repository) GetPaymentMethod(ctx context.Context, id int64) (*PaymentMethod, error) {
	var pm PaymentMethod
	err := r.pool.QueryRow(ctx, `SELECT id, code, name, is_cash, is_active FROM payment_methods WHERE id = $1`, id).Scan(
		&pm.ID, &pm.Code, &pm.Name, &pm.IsCash, &pm.IsActive)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: payment method %d", shared.ErrNotFound, id)
		}
		return nil, err
	}
	return &pm, nil
}

func (r *repository) GetTechnician(ctx context.Context, id int64) (*Technician, error) {
	var t Technician
	err := r.pool.QueryRow(ctx, `SELECT id, name, specialty, is_active FROM technicians WHERE id = $1`, id).Scan(
		&t.ID, &t.Name, &t.Specialty, &t.IsActive)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: technician %d", shared.ErrNotFound, id)
		}
		return nil, err
	}
	return &t, nil
}

func (r *repository) GetUser(ctx context.Context, id int64) (*User, error) {
	var u User
	err := r.pool.QueryRow(ctx, `SELECT id, email, name, is_active FROM users WHERE id = $1`, id).Scan(
		&u.ID, &u.Email, &u.Name, &u.IsActive)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: user %d", shared.ErrNotFound, id)
		}
		return nil, err
	}
	return &u, nil
}

func (r *repository) UserHasPermission(ctx context.Context, userID int64, permission string) (bool, error) {
	var granted bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (
SELECT 1 FROM user_permissions up
JOIN permissions p ON p.id = up.permission_id
WHERE up.user_id = $1 AND p.name = $2)`, userID, permission).Scan(&granted)
	if err != nil {
		return false, err
	}
	return granted, nil
}

func (r *repository) GetRegister(ctx context.Context, id int64) (*Register, error) {
	var reg Register
	err := r.pool.QueryRow(ctx, `SELECT id, code, name, active, requires_close_authorization FROM registers WHERE id = $1`, id).Scan(
		&reg.ID, &reg.Code, &reg.Name, &reg.Active, &reg.RequiresCloseAuthorization)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: register %d", shared.ErrNotFound, id)
		}
		return nil, err
	}
	return &reg, nil
}

func (r *repository) LoadConfig(ctx context.Context) (*CompanyConfig, error) {
	var cfg CompanyConfig
	err := r.pool.QueryRow(ctx, `SELECT requires_authorization_threshold, always_require_authorization,
auto_generate_order_on_authorize, requires_payment_before_delivery, minimum_advance_percent, default_tax_percent
FROM company_settings LIMIT 1`).Scan(
		&cfg.RequiresAuthorizationThreshold, &cfg.AlwaysRequireAuthorization,
		&cfg.AutoGenerateOrderOnAuthorize, &cfg.RequiresPaymentBeforeDelivery,
		&cfg.MinimumAdvancePercent, &cfg.DefaultTaxPercent)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: company settings", shared.ErrNotFound)
		}
		return nil, err
	}
	return &cfg, nil
}
