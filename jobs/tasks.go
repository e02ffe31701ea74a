package jobs

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTypeSendEmail is the task type for sending transactional emails.
	TaskTypeSendEmail = "mail:send"
	// TaskCashIntegrityScan verifies cash session arithmetic and flags
	// sessions left open past their shift.
	TaskCashIntegrityScan = "cashbox:integrity_scan"
	// TaskStaleRequestScan reminds operators about drafts that never moved.
	TaskStaleRequestScan = "requests:stale_scan"
)

// SendEmailPayload describes the information required to send an email.
type SendEmailPayload struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// NewSendEmailTask constructs an Asynq task.
func NewSendEmailTask(payload SendEmailPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeSendEmail, data), nil
}

// HandleSendEmailTask processes TaskTypeSendEmail tasks.
func HandleSendEmailTask(ctx context.Context, t *asynq.Task) error {
	var payload SendEmailPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	// Placeholder: integrate with SMTP/Mailpit in phase 2.
	fmt.Printf("[jobs] send email to %s subject=%s\n", payload.To, payload.Subject)
	return nil
}

// CashIntegrityPayload tunes the nightly cash session scan.
type CashIntegrityPayload struct {
	MaxSessionAgeHours int     `json:"max_session_age_hours"`
	Tolerance          float64 `json:"tolerance"`
}

// NewCashIntegrityTask constructs the cash integrity scan task.
func NewCashIntegrityTask(maxAgeHours int, tolerance float64) (*asynq.Task, error) {
	data, err := json.Marshal(CashIntegrityPayload{MaxSessionAgeHours: maxAgeHours, Tolerance: tolerance})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskCashIntegrityScan, data), nil
}

// StaleRequestPayload tunes the stale draft reminder scan.
type StaleRequestPayload struct {
	MaxAgeDays int    `json:"max_age_days"`
	NotifyTo   string `json:"notify_to"`
}

// NewStaleRequestTask constructs the stale request scan task.
func NewStaleRequestTask(maxAgeDays int, notifyTo string) (*asynq.Task, error) {
	data, err := json.Marshal(StaleRequestPayload{MaxAgeDays: maxAgeDays, NotifyTo: notifyTo})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskStaleRequestScan, data), nil
}
