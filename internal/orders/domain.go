// Package orders implements the service-order workflow. Orders are
// generated from authorized requests, move through assignment and field
// execution, and end with a delivery certificate handed to the client.
package orders

import "time"

// OrderStatus enumerates service-order lifecycle states.
type OrderStatus string

const (
	StatusPending    OrderStatus = "PENDING"
	StatusAssigned   OrderStatus = "ASSIGNED"
	StatusInProgress OrderStatus = "IN_PROGRESS"
	StatusCompleted  OrderStatus = "COMPLETED"
	StatusDelivered  OrderStatus = "DELIVERED"
)

// transitions is the single source of truth for the order state graph.
// Work may start directly from pending when no technician assignment is
// tracked for the job.
var transitions = map[OrderStatus][]OrderStatus{
	StatusPending:    {StatusAssigned, StatusInProgress},
	StatusAssigned:   {StatusInProgress},
	StatusInProgress: {StatusCompleted},
	StatusCompleted:  {StatusDelivered},
}

// CanTransition reports whether moving from one state to another is legal.
func CanTransition(from, to OrderStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Locked reports whether the order content is frozen. Completed and
// delivered orders only accept state transitions, never edits.
func Locked(status OrderStatus) bool {
	return status == StatusCompleted || status == StatusDelivered
}

// ServiceOrder is the executable work document, generated from an
// authorized request or created standalone. When generated, amounts are
// copied verbatim from the request.
type ServiceOrder struct {
	ID             int64          `json:"id"`
	DocNumber      string         `json:"doc_number"`
	RequestID      *int64         `json:"request_id,omitempty"`
	ClientID       int64          `json:"client_id"`
	Status         OrderStatus    `json:"status"`
	TechnicianID   *int64         `json:"technician_id,omitempty"`
	ScheduledDate  *time.Time     `json:"scheduled_date,omitempty"`
	StartedAt      *time.Time     `json:"started_at,omitempty"`
	CompletedAt    *time.Time     `json:"completed_at,omitempty"`
	Notes          *string        `json:"notes,omitempty"`
	TaxPercent     float64        `json:"tax_percent"`
	Subtotal       float64        `json:"subtotal"`
	DiscountAmount float64        `json:"discount_amount"`
	TaxAmount      float64        `json:"tax_amount"`
	TotalAmount    float64        `json:"total_amount"`
	CreatedBy      int64          `json:"created_by"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	Lines          []OrderLine    `json:"lines,omitempty"`
	History        []StatusChange `json:"history,omitempty"`
}

// OrderLine is one item of work, copied from the originating request line.
type OrderLine struct {
	ID              int64   `json:"id"`
	OrderID         int64   `json:"order_id"`
	ItemID          int64   `json:"item_id"`
	Description     *string `json:"description,omitempty"`
	Quantity        float64 `json:"quantity"`
	UnitPrice       float64 `json:"unit_price"`
	DiscountPercent float64 `json:"discount_percent"`
	DiscountAmount  float64 `json:"discount_amount"`
	LineTotal       float64 `json:"line_total"`
	LineOrder       int     `json:"line_order"`
}

// StatusChange is one entry of the order's transition history.
type StatusChange struct {
	ID         int64       `json:"id"`
	OrderID    int64       `json:"order_id"`
	FromStatus OrderStatus `json:"from_status"`
	ToStatus   OrderStatus `json:"to_status"`
	ActorID    int64       `json:"actor_id"`
	Note       *string     `json:"note,omitempty"`
	ChangedAt  time.Time   `json:"changed_at"`
}

// Delivery is the certificate recording handover of the finished work.
// At most one delivery exists per order.
type Delivery struct {
	ID          int64     `json:"id"`
	DocNumber   string    `json:"doc_number"`
	OrderID     int64     `json:"order_id"`
	DeliveredBy int64     `json:"delivered_by"`
	ReceivedBy  string    `json:"received_by"`
	Notes       *string   `json:"notes,omitempty"`
	DeliveredAt time.Time `json:"delivered_at"`
}

// CreateOrderInput carries the payload for a standalone order, one not
// backed by a request document.
type CreateOrderInput struct {
	ClientID      int64                  `json:"client_id" validate:"required,gt=0"`
	ScheduledDate *time.Time             `json:"scheduled_date,omitempty"`
	Notes         *string                `json:"notes,omitempty"`
	TaxPercent    *float64               `json:"tax_percent,omitempty" validate:"omitempty,gte=0,lte=100"`
	Lines         []CreateOrderLineInput `json:"lines" validate:"required,min=1,dive"`
}

// CreateOrderLineInput is one line of a standalone order payload.
type CreateOrderLineInput struct {
	ItemID          int64   `json:"item_id" validate:"required,gt=0"`
	Description     *string `json:"description,omitempty"`
	Quantity        float64 `json:"quantity" validate:"required,gt=0"`
	UnitPrice       float64 `json:"unit_price" validate:"gte=0"`
	DiscountPercent float64 `json:"discount_percent" validate:"gte=0,lte=100"`
	LineOrder       int     `json:"line_order" validate:"gte=0"`
}

// AssignTechnicianInput carries the assignment payload.
type AssignTechnicianInput struct {
	TechnicianID  int64      `json:"technician_id" validate:"required,gt=0"`
	ScheduledDate *time.Time `json:"scheduled_date,omitempty"`
}

// CompleteOrderInput carries the optional field report note.
type CompleteOrderInput struct {
	Note *string `json:"note,omitempty"`
}

// DeliverOrderInput carries the handover details.
type DeliverOrderInput struct {
	ReceivedBy string  `json:"received_by" validate:"required,min=3"`
	Notes      *string `json:"notes,omitempty"`
}

// ListOrdersInput filters order listings.
type ListOrdersInput struct {
	ClientID     *int64       `json:"client_id,omitempty"`
	TechnicianID *int64       `json:"technician_id,omitempty"`
	Status       *OrderStatus `json:"status,omitempty"`
	DateFrom     *time.Time   `json:"date_from,omitempty"`
	DateTo       *time.Time   `json:"date_to,omitempty"`
	Limit        int          `json:"limit" validate:"gte=0,lte=1000"`
	Offset       int          `json:"offset" validate:"gte=0"`
}
