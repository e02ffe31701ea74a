// Package catalog exposes read-mostly master data consumed by the workflow
// engine: clients, items, payment methods, technicians, users, registers
// and the company configuration snapshot. The engine never mutates these
// through this package; client balance fields are adjusted by the payment
// ledger inside its own transactions.
package catalog

import "time"

// Client is a customer of the field-service business. FavorBalance is
// credit owed to the client; PendingCredit is what the client owes.
type Client struct {
	ID            int64     `json:"id"`
	Code          string    `json:"code"`
	Name          string    `json:"name"`
	Email         *string   `json:"email,omitempty"`
	Phone         *string   `json:"phone,omitempty"`
	FavorBalance  float64   `json:"favor_balance"`
	PendingCredit float64   `json:"pending_credit"`
	IsActive      bool      `json:"is_active"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Item is a sellable product or service.
type Item struct {
	ID        int64   `json:"id"`
	Code      string  `json:"code"`
	Name      string  `json:"name"`
	UnitPrice float64 `json:"unit_price"`
	IsActive  bool    `json:"is_active"`
}

// PaymentMethod describes how a payment is settled.
type PaymentMethod struct {
	ID       int64  `json:"id"`
	Code     string `json:"code"`
	Name     string `json:"name"`
	IsCash   bool   `json:"is_cash"`
	IsActive bool   `json:"is_active"`
}

// Technician executes service orders in the field.
type Technician struct {
	ID        int64   `json:"id"`
	Name      string  `json:"name"`
	Specialty *string `json:"specialty,omitempty"`
	IsActive  bool    `json:"is_active"`
}

// User is an operator of the system. Permissions are atomic capability
// strings, e.g. "cashbox.close.authorize".
type User struct {
	ID          int64    `json:"id"`
	Email       string   `json:"email"`
	Name        string   `json:"name"`
	IsActive    bool     `json:"is_active"`
	Permissions []string `json:"permissions,omitempty"`
}

// Register is a physical cash drawer location.
type Register struct {
	ID                         int64  `json:"id"`
	Code                       string `json:"code"`
	Name                       string `json:"name"`
	Active                     bool   `json:"active"`
	RequiresCloseAuthorization bool   `json:"requires_close_authorization"`
}

// CompanyConfig is the read-only configuration snapshot the workflows
// consult. Loaded once per operation; cached with a short TTL.
type CompanyConfig struct {
	RequiresAuthorizationThreshold float64 `json:"requires_authorization_threshold"`
	AlwaysRequireAuthorization     bool    `json:"always_require_authorization"`
	AutoGenerateOrderOnAuthorize   bool    `json:"auto_generate_order_on_authorize"`
	RequiresPaymentBeforeDelivery  bool    `json:"requires_payment_before_delivery"`
	MinimumAdvancePercent          float64 `json:"minimum_advance_percent"`
	DefaultTaxPercent              float64 `json:"default_tax_percent"`
}

// PermCloseWithDifference authorizes closing a cash session that shows a
// difference beyond tolerance.
const PermCloseWithDifference = "cashbox.close.authorize"
