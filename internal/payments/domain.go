// Package payments implements the payment ledger: registering client
// payments against service orders, maintaining the client favor and
// pending-credit balances, and answering whether an order has been paid
// enough to be delivered.
package payments

import "time"

// PaymentType enumerates the ledger entry kinds.
type PaymentType string

const (
	TypeAdvance     PaymentType = "ADVANCE"
	TypeFinal       PaymentType = "FINAL"
	TypeCreditIssue PaymentType = "CREDIT_ISSUE"
	TypeCreditRepay PaymentType = "CREDIT_REPAY"
)

// OrderTied reports whether the type settles against a service order.
func (t PaymentType) OrderTied() bool {
	return t == TypeAdvance || t == TypeFinal
}

// Payment is one immutable ledger entry. FavorApplied is the portion of
// Amount covered by the client's favor balance rather than fresh funds.
type Payment struct {
	ID              int64       `json:"id"`
	DocNumber       string      `json:"doc_number"`
	ClientID        int64       `json:"client_id"`
	OrderID         *int64      `json:"order_id,omitempty"`
	SessionID       *int64      `json:"session_id,omitempty"`
	Type            PaymentType `json:"type"`
	PaymentMethodID int64       `json:"payment_method_id"`
	Amount          float64     `json:"amount"`
	FavorApplied    float64     `json:"favor_applied"`
	Notes           *string     `json:"notes,omitempty"`
	CreatedBy       int64       `json:"created_by"`
	CreatedAt       time.Time   `json:"created_at"`
}

// OrderRef is the slice of a service order the ledger needs.
type OrderRef struct {
	ID          int64
	DocNumber   string
	ClientID    int64
	TotalAmount float64
}

// PendingBalance summarizes how much of an order has been settled.
type PendingBalance struct {
	OrderID       int64   `json:"order_id"`
	TotalAmount   float64 `json:"total_amount"`
	PaidAmount    float64 `json:"paid_amount"`
	PendingAmount float64 `json:"pending_amount"`
	PercentPaid   float64 `json:"percent_paid"`
}

// RegisterPaymentInput carries the payload for a new ledger entry.
// ApplyFavorBalance lets the client spend accumulated favor balance as
// part of the amount.
type RegisterPaymentInput struct {
	ClientID          int64       `json:"client_id" validate:"required,gt=0"`
	OrderID           *int64      `json:"order_id,omitempty" validate:"omitempty,gt=0"`
	SessionID         *int64      `json:"session_id,omitempty" validate:"omitempty,gt=0"`
	Type              PaymentType `json:"type" validate:"required,oneof=ADVANCE FINAL CREDIT_ISSUE CREDIT_REPAY"`
	PaymentMethodID   int64       `json:"payment_method_id" validate:"required,gt=0"`
	Amount            float64     `json:"amount" validate:"required,gt=0"`
	ApplyFavorBalance bool        `json:"apply_favor_balance"`
	Notes             *string     `json:"notes,omitempty"`
	IdempotencyKey    *string     `json:"idempotency_key,omitempty"`
}

// ListPaymentsInput filters ledger listings.
type ListPaymentsInput struct {
	ClientID *int64       `json:"client_id,omitempty"`
	OrderID  *int64       `json:"order_id,omitempty"`
	Type     *PaymentType `json:"type,omitempty"`
	DateFrom *time.Time   `json:"date_from,omitempty"`
	DateTo   *time.Time   `json:"date_to,omitempty"`
	Limit    int          `json:"limit" validate:"gte=0,lte=1000"`
	Offset   int          `json:"offset" validate:"gte=0"`
}
