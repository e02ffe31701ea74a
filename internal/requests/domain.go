// Package requests implements the client service-request workflow:
// draft -> pending_authorization -> authorized/rejected.
package requests

import "time"

// RequestStatus enumerates request lifecycle states.
type RequestStatus string

const (
	StatusDraft                RequestStatus = "DRAFT"
	StatusPendingAuthorization RequestStatus = "PENDING_AUTHORIZATION"
	StatusAuthorized           RequestStatus = "AUTHORIZED"
	StatusRejected             RequestStatus = "REJECTED"
)

// transitions is the single source of truth for the request state graph.
// States only move forward; there is no path back to draft.
var transitions = map[RequestStatus][]RequestStatus{
	StatusDraft:                {StatusPendingAuthorization},
	StatusPendingAuthorization: {StatusAuthorized, StatusRejected},
}

// CanTransition reports whether moving from one state to another is legal.
func CanTransition(from, to RequestStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Request is a client-submitted document listing desired items. Items are
// fully replaced on edit while draft; the document is immutable once
// submitted.
type Request struct {
	ID                    int64         `json:"id"`
	DocNumber             string        `json:"doc_number"`
	ClientID              int64         `json:"client_id"`
	Status                RequestStatus `json:"status"`
	ServiceDate           *time.Time    `json:"service_date,omitempty"`
	Notes                 *string       `json:"notes,omitempty"`
	TaxPercent            float64       `json:"tax_percent"`
	Subtotal              float64       `json:"subtotal"`
	DiscountAmount        float64       `json:"discount_amount"`
	TaxAmount             float64       `json:"tax_amount"`
	TotalAmount           float64       `json:"total_amount"`
	RequiresAuthorization bool          `json:"requires_authorization"`
	AuthorizedBy          *int64        `json:"authorized_by,omitempty"`
	AuthorizedAt          *time.Time    `json:"authorized_at,omitempty"`
	RejectedBy            *int64        `json:"rejected_by,omitempty"`
	RejectedAt            *time.Time    `json:"rejected_at,omitempty"`
	CreatedBy             int64         `json:"created_by"`
	CreatedAt             time.Time     `json:"created_at"`
	UpdatedAt             time.Time     `json:"updated_at"`
	Lines                 []RequestLine `json:"lines,omitempty"`
}

// RequestLine is one requested item. LineTotal is the net amount after
// discount; tax applies at document level.
type RequestLine struct {
	ID              int64   `json:"id"`
	RequestID       int64   `json:"request_id"`
	ItemID          int64   `json:"item_id"`
	Description     *string `json:"description,omitempty"`
	Quantity        float64 `json:"quantity"`
	UnitPrice       float64 `json:"unit_price"`
	DiscountPercent float64 `json:"discount_percent"`
	DiscountAmount  float64 `json:"discount_amount"`
	LineTotal       float64 `json:"line_total"`
	LineOrder       int     `json:"line_order"`
}

// CreateRequestInput carries the payload for creating a request.
type CreateRequestInput struct {
	ClientID    int64                    `json:"client_id" validate:"required,gt=0"`
	ServiceDate *time.Time               `json:"service_date,omitempty"`
	Notes       *string                  `json:"notes,omitempty"`
	TaxPercent  *float64                 `json:"tax_percent,omitempty" validate:"omitempty,gte=0,lte=100"`
	Lines       []CreateRequestLineInput `json:"lines" validate:"required,min=1,dive"`
}

// CreateRequestLineInput is one line of a create/update payload.
type CreateRequestLineInput struct {
	ItemID          int64   `json:"item_id" validate:"required,gt=0"`
	Description     *string `json:"description,omitempty"`
	Quantity        float64 `json:"quantity" validate:"required,gt=0"`
	UnitPrice       float64 `json:"unit_price" validate:"gte=0"`
	DiscountPercent float64 `json:"discount_percent" validate:"gte=0,lte=100"`
	LineOrder       int     `json:"line_order" validate:"gte=0"`
}

// UpdateRequestInput carries a partial update; Lines, when present,
// replaces the entire item set.
type UpdateRequestInput struct {
	ServiceDate *time.Time                `json:"service_date,omitempty"`
	Notes       *string                   `json:"notes,omitempty"`
	TaxPercent  *float64                  `json:"tax_percent,omitempty" validate:"omitempty,gte=0,lte=100"`
	Lines       *[]CreateRequestLineInput `json:"lines,omitempty" validate:"omitempty,min=1,dive"`
}

// ListRequestsInput filters request listings.
type ListRequestsInput struct {
	ClientID *int64         `json:"client_id,omitempty"`
	Status   *RequestStatus `json:"status,omitempty"`
	DateFrom *time.Time     `json:"date_from,omitempty"`
	DateTo   *time.Time     `json:"date_to,omitempty"`
	Limit    int            `json:"limit" validate:"gte=0,lte=1000"`
	Offset   int            `json:"offset" validate:"gte=0"`
}
