package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"

	jobmetrics "github.com/fieldserve-erp/fieldserve-erp/internal/jobs"
)

// StaleRequestsJob finds draft requests that never moved and nudges the
// back office with a single summary email.
type StaleRequestsJob struct {
	Pool    *pgxpool.Pool
	Logger  *slog.Logger
	Mail    *Client
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewStaleRequestsJob initialises the stale request scan handler.
func NewStaleRequestsJob(pool *pgxpool.Pool, mail *Client, logger *slog.Logger, metrics *jobmetrics.Metrics) *StaleRequestsJob {
	return &StaleRequestsJob{
		Pool:    pool,
		Logger:  logger,
		Mail:    mail,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

type staleRequest struct {
	DocNumber string
	ClientID  int64
	CreatedAt time.Time
}

// Handle executes the stale draft scan.
func (j *StaleRequestsJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil {
		return errors.New("stale requests: handler not configured")
	}
	var payload StaleRequestPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.MaxAgeDays <= 0 {
		payload.MaxAgeDays = 7
	}

	tracker := j.metrics().Track(TaskStaleRequestScan)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	start := j.now()
	logger := j.logger().With(slog.Int("max_age_days", payload.MaxAgeDays))
	logger.Info("starting stale request scan")

	drafts, err := j.findStale(ctx, start.AddDate(0, 0, -payload.MaxAgeDays))
	if err != nil {
		resultErr = err
		logger.Error("scan failed", slog.Any("error", err))
		return resultErr
	}
	if len(drafts) == 0 {
		logger.Info("no stale drafts found")
		return resultErr
	}

	for _, d := range drafts {
		logger.Warn("draft request stalled",
			slog.String("doc_number", d.DocNumber),
			slog.Int64("client_id", d.ClientID),
			slog.Time("created_at", d.CreatedAt),
		)
	}

	if j.Mail != nil && payload.NotifyTo != "" {
		var sb strings.Builder
		fmt.Fprintf(&sb, "The following %d draft requests are older than %d days:\n\n", len(drafts), payload.MaxAgeDays)
		for _, d := range drafts {
			fmt.Fprintf(&sb, "  %s (client %d, created %s)\n", d.DocNumber, d.ClientID, d.CreatedAt.Format("2006-01-02"))
		}
		if _, err := j.Mail.EnqueueSendEmail(ctx, SendEmailPayload{
			To:      payload.NotifyTo,
			Subject: fmt.Sprintf("FieldServe: %d stale draft requests", len(drafts)),
			Body:    sb.String(),
		}); err != nil {
			resultErr = err
			logger.Error("enqueue reminder", slog.Any("error", err))
			return resultErr
		}
	}

	logger.Info("completed stale request scan",
		slog.Int("drafts", len(drafts)),
		slog.Duration("duration", time.Since(start)),
	)
	return resultErr
}

func (j *StaleRequestsJob) findStale(ctx context.Context, cutoff time.Time) ([]staleRequest, error) {
	if j.Pool == nil {
		return nil, errors.New("stale requests: pool not configured")
	}
	rows, err := j.Pool.Query(ctx, `SELECT doc_number, client_id, created_at
FROM requests WHERE status = 'DRAFT' AND created_at < $1 ORDER BY created_at`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	drafts := make([]staleRequest, 0)
	for rows.Next() {
		var d staleRequest
		if err := rows.Scan(&d.DocNumber, &d.ClientID, &d.CreatedAt); err != nil {
			return nil, err
		}
		drafts = append(drafts, d)
	}
	return drafts, rows.Err()
}

func (j *StaleRequestsJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskStaleRequestScan))
	}
	return slog.Default().With(slog.String("job", TaskStaleRequestScan))
}

func (j *StaleRequestsJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *StaleRequestsJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
