// Package cashbox implements cash register sessions: one bounded period
// of cash custody per operator, from opening float to closing
// reconciliation, with supervisor-authorized differences.
package cashbox

import "time"

// SessionStatus enumerates session lifecycle states.
type SessionStatus string

const (
	StatusOpen                 SessionStatus = "OPEN"
	StatusClosed               SessionStatus = "CLOSED"
	StatusClosedWithDifference SessionStatus = "CLOSED_WITH_DIFFERENCE"
)

// MovementType enumerates cash movement kinds.
type MovementType string

const (
	MovementIncome  MovementType = "INCOME"
	MovementExpense MovementType = "EXPENSE"
)

// DifferenceClass classifies a closing difference.
type DifferenceClass string

const (
	ClassSurplus   DifferenceClass = "SURPLUS"
	ClassShortfall DifferenceClass = "SHORTFALL"
)

// Tolerances for closing reconciliation. A difference within the
// balanced tolerance closes cleanly; beyond the hard tolerance a
// supervisor must authorize the close even on registers that normally
// close unattended.
const (
	BalancedTolerance = 0.01
	HardTolerance     = 100.00
)

// Session is one cash custody period. Income and Expenses are running
// totals maintained by movements; ExpectedFinal is always
// opening + income - expenses.
type Session struct {
	ID            int64         `json:"id"`
	DocNumber     string        `json:"doc_number"`
	RegisterID    int64         `json:"register_id"`
	OperatorID    int64         `json:"operator_id"`
	Status        SessionStatus `json:"status"`
	OpeningFloat  float64       `json:"opening_float"`
	Income        float64       `json:"income"`
	Expenses      float64       `json:"expenses"`
	ExpectedFinal float64       `json:"expected_final"`
	RealFinal     *float64      `json:"real_final,omitempty"`
	Difference    *float64      `json:"difference,omitempty"`
	Notes         *string       `json:"notes,omitempty"`
	OpenedAt      time.Time     `json:"opened_at"`
	ClosedAt      *time.Time    `json:"closed_at,omitempty"`
	ClosedBy      *int64        `json:"closed_by,omitempty"`
	Movements     []Movement    `json:"movements,omitempty"`
}

// Movement is one cash in/out entry within a session.
type Movement struct {
	ID        int64        `json:"id"`
	SessionID int64        `json:"session_id"`
	Type      MovementType `json:"type"`
	Amount    float64      `json:"amount"`
	Concept   string       `json:"concept"`
	Reference *string      `json:"reference,omitempty"`
	ActorID   int64        `json:"actor_id"`
	CreatedAt time.Time    `json:"created_at"`
}

// CashDifference records a closing mismatch beyond the balanced
// tolerance. SupervisorID is set when the close required authorization.
type CashDifference struct {
	ID             int64           `json:"id"`
	SessionID      int64           `json:"session_id"`
	Amount         float64         `json:"amount"`
	Classification DifferenceClass `json:"classification"`
	SupervisorID   *int64          `json:"supervisor_id,omitempty"`
	Justification  *string         `json:"justification,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// Summary condenses a session for reconciliation screens.
type Summary struct {
	SessionID     int64    `json:"session_id"`
	Opening       float64  `json:"opening"`
	Income        float64  `json:"income"`
	Expenses      float64  `json:"expenses"`
	Expected      float64  `json:"expected"`
	Real          *float64 `json:"real,omitempty"`
	Difference    *float64 `json:"difference,omitempty"`
	MovementCount int      `json:"movement_count"`
}

// OpenSessionInput carries the payload for opening a session.
type OpenSessionInput struct {
	RegisterID   int64   `json:"register_id" validate:"required,gt=0"`
	OperatorID   int64   `json:"operator_id" validate:"required,gt=0"`
	OpeningFloat float64 `json:"opening_float" validate:"gte=0"`
	Notes        *string `json:"notes,omitempty"`
}

// RecordMovementInput carries one cash movement.
type RecordMovementInput struct {
	Type      MovementType `json:"type" validate:"required,oneof=INCOME EXPENSE"`
	Amount    float64      `json:"amount" validate:"required,gt=0"`
	Concept   string       `json:"concept" validate:"required,min=3"`
	Reference *string      `json:"reference,omitempty"`
}

// CloseSessionInput carries the closing count and, when the difference
// demands it, the supervisor authorization fields.
type CloseSessionInput struct {
	RealFinal       float64 `json:"real_final" validate:"gte=0"`
	SupervisorID    *int64  `json:"supervisor_id,omitempty" validate:"omitempty,gt=0"`
	DailyPassphrase *string `json:"daily_passphrase,omitempty"`
	Justification   *string `json:"justification,omitempty"`
	Notes           *string `json:"notes,omitempty"`
}
