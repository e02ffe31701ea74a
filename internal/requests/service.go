package requests

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/fieldserve-erp/fieldserve-erp/internal/catalog"
	"github.com/fieldserve-erp/fieldserve-erp/internal/shared"
)

// minRejectReasonLen is the shortest acceptable rejection reason.
const minRejectReasonLen = 10

// CatalogPort is the slice of master data the workflow consults.
type CatalogPort interface {
	Client(ctx context.Context, id int64) (*catalog.Client, error)
	Item(ctx context.Context, id int64) (*catalog.Item, error)
	Config(ctx context.Context) (*catalog.CompanyConfig, error)
}

// OrderGenerator converts an authorized request into a service order.
// Implemented by the orders service; injected after construction to keep
// the dependency one-directional.
type OrderGenerator interface {
	GenerateFromRequest(ctx context.Context, requestID, actorID int64) error
}

// Service implements the request workflow.
type Service struct {
	repo    Repository
	catalog CatalogPort
	orders  OrderGenerator
	logger  *slog.Logger
}

// NewService builds the request workflow service.
func NewService(repo Repository, cat CatalogPort, logger *slog.Logger) *Service {
	return &Service{repo: repo, catalog: cat, logger: logger}
}

// SetOrderGenerator wires the order workflow for auto-generation on
// authorize.
func (s *Service) SetOrderGenerator(g OrderGenerator) {
	s.orders = g
}

// Create validates the payload, computes totals and persists a draft
// request together with its lines and the audit entry.
func (s *Service) Create(ctx context.Context, input CreateRequestInput, actorID int64) (*Request, error) {
	if err := shared.ValidateStruct(input); err != nil {
		return nil, err
	}

	client, err := s.catalog.Client(ctx, input.ClientID)
	if err != nil {
		return nil, fmt.Errorf("verify client: %w", err)
	}
	if !client.IsActive {
		return nil, fmt.Errorf("%w: client %d is inactive", shared.ErrValidation, client.ID)
	}

	cfg, err := s.catalog.Config(ctx)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	taxPercent := cfg.DefaultTaxPercent
	if input.TaxPercent != nil {
		taxPercent = *input.TaxPercent
	}

	lines, subtotal, discount, err := s.buildLines(ctx, input.Lines)
	if err != nil {
		return nil, err
	}
	tax, total := shared.DocumentTotals(subtotal, discount, taxPercent)

	request := Request{
		ClientID:       input.ClientID,
		Status:         StatusDraft,
		ServiceDate:    input.ServiceDate,
		Notes:          input.Notes,
		TaxPercent:     taxPercent,
		Subtotal:       subtotal,
		DiscountAmount: discount,
		TaxAmount:      tax,
		TotalAmount:    total,
		RequiresAuthorization: cfg.AlwaysRequireAuthorization ||
			total > cfg.RequiresAuthorizationThreshold,
		CreatedBy: actorID,
	}

	var id int64
	err = s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		number, err := repo.NextNumber(ctx)
		if err != nil {
			return fmt.Errorf("generate number: %w", err)
		}
		request.DocNumber = number

		id, err = repo.Create(ctx, request)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		for i := range lines {
			lines[i].RequestID = id
			if _, err := repo.InsertLine(ctx, lines[i]); err != nil {
				return fmt.Errorf("insert request line: %w", err)
			}
		}
		return repo.AppendAudit(ctx, shared.AuditEntry{
			ActorID:  actorID,
			Action:   "request.create",
			Entity:   "request",
			EntityID: strconv.FormatInt(id, 10),
			After:    map[string]any{"doc_number": request.DocNumber, "status": request.Status, "total": request.TotalAmount},
		})
	})
	if err != nil {
		return nil, err
	}

	return s.repo.Get(ctx, id)
}

// Update replaces the entire item set and recomputes totals. Allowed only
// while the request is still a draft.
func (s *Service) Update(ctx context.Context, id int64, input UpdateRequestInput, actorID int64) (*Request, error) {
	if err := shared.ValidateStruct(input); err != nil {
		return nil, err
	}

	existing, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get request: %w", err)
	}
	if existing.Status != StatusDraft {
		return nil, fmt.Errorf("%w: request %s is %s, only drafts can be edited", shared.ErrStateConflict, existing.DocNumber, existing.Status)
	}

	taxPercent := existing.TaxPercent
	if input.TaxPercent != nil {
		taxPercent = *input.TaxPercent
	}

	var lines []RequestLine
	subtotal, discount := existing.Subtotal, existing.DiscountAmount
	if input.Lines != nil {
		lines, subtotal, discount, err = s.buildLines(ctx, *input.Lines)
		if err != nil {
			return nil, err
		}
	}
	tax, total := shared.DocumentTotals(subtotal, discount, taxPercent)

	cfg, err := s.catalog.Config(ctx)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	updates := map[string]any{
		"tax_percent":     taxPercent,
		"subtotal":        subtotal,
		"discount_amount": discount,
		"tax_amount":      tax,
		"total_amount":    total,
		"requires_authorization": cfg.AlwaysRequireAuthorization ||
			total > cfg.RequiresAuthorizationThreshold,
	}
	if input.ServiceDate != nil {
		updates["service_date"] = *input.ServiceDate
	}
	if input.Notes != nil {
		updates["notes"] = *input.Notes
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		if err := repo.UpdateHeader(ctx, id, updates); err != nil {
			return fmt.Errorf("update request: %w", err)
		}
		if input.Lines != nil {
			if err := repo.DeleteLines(ctx, id); err != nil {
				return fmt.Errorf("delete request lines: %w", err)
			}
			for i := range lines {
				lines[i].RequestID = id
				if _, err := repo.InsertLine(ctx, lines[i]); err != nil {
					return fmt.Errorf("insert request line: %w", err)
				}
			}
		}
		return repo.AppendAudit(ctx, shared.AuditEntry{
			ActorID:  actorID,
			Action:   "request.update",
			Entity:   "request",
			EntityID: strconv.FormatInt(id, 10),
			Before:   map[string]any{"total": existing.TotalAmount},
			After:    map[string]any{"total": total},
		})
	})
	if err != nil {
		return nil, err
	}

	return s.repo.Get(ctx, id)
}

// Submit moves a draft to pending authorization.
func (s *Service) Submit(ctx context.Context, id, actorID int64) (*Request, error) {
	return s.transition(ctx, id, actorID, StatusPendingAuthorization, "request.submit", nil)
}

// Authorize approves a pending request, recording the authorizer. When the
// company configuration enables it, the service order is generated right
// after the authorization commits. Generation failures do not undo the
// authorization: the request stays AUTHORIZED and the order can still be
// generated explicitly.
func (s *Service) Authorize(ctx context.Context, id, actorID int64) (*Request, error) {
	request, err := s.transition(ctx, id, actorID, StatusAuthorized, "request.authorize", nil)
	if err != nil {
		return nil, err
	}

	cfg, err := s.catalog.Config(ctx)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if cfg.AutoGenerateOrderOnAuthorize && s.orders != nil {
		if err := s.orders.GenerateFromRequest(ctx, id, actorID); err != nil {
			s.logger.Error("auto-generate order failed", "error", err, "request_id", id)
		}
	}
	return request, nil
}

// Reject declines a pending request. The reason must carry enough text to
// be useful and is appended to the request notes.
func (s *Service) Reject(ctx context.Context, id, actorID int64, reason string) (*Request, error) {
	if len(strings.TrimSpace(reason)) < minRejectReasonLen {
		return nil, fmt.Errorf("%w: rejection reason must be at least %d characters", shared.ErrValidation, minRejectReasonLen)
	}
	return s.transition(ctx, id, actorID, StatusRejected, "request.reject", &reason)
}

// Delete removes a draft request that has not spawned an order.
func (s *Service) Delete(ctx context.Context, id, actorID int64) error {
	existing, err := s.repo.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("get request: %w", err)
	}
	if existing.Status != StatusDraft {
		return fmt.Errorf("%w: request %s is %s, only drafts can be deleted", shared.ErrStateConflict, existing.DocNumber, existing.Status)
	}

	return s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		hasOrder, err := repo.HasOrder(ctx, id)
		if err != nil {
			return err
		}
		if hasOrder {
			return fmt.Errorf("%w: request %s already has a service order", shared.ErrStateConflict, existing.DocNumber)
		}
		if err := repo.DeleteLines(ctx, id); err != nil {
			return err
		}
		if err := repo.Delete(ctx, id); err != nil {
			return err
		}
		return repo.AppendAudit(ctx, shared.AuditEntry{
			ActorID:  actorID,
			Action:   "request.delete",
			Entity:   "request",
			EntityID: strconv.FormatInt(id, 10),
			Before:   map[string]any{"doc_number": existing.DocNumber, "status": existing.Status},
		})
	})
}

// Get returns a request with its lines.
func (s *Service) Get(ctx context.Context, id int64) (*Request, error) {
	return s.repo.Get(ctx, id)
}

// List returns requests matching the filter.
func (s *Service) List(ctx context.Context, input ListRequestsInput) ([]Request, int, error) {
	if err := shared.ValidateStruct(input); err != nil {
		return nil, 0, err
	}
	if input.Limit == 0 {
		input.Limit = 50
	}
	return s.repo.List(ctx, input)
}

func (s *Service) transition(ctx context.Context, id, actorID int64, to RequestStatus, action string, reason *string) (*Request, error) {
	existing, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get request: %w", err)
	}
	if !CanTransition(existing.Status, to) {
		return nil, fmt.Errorf("%w: request %s cannot move from %s to %s", shared.ErrStateConflict, existing.DocNumber, existing.Status, to)
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		if err := repo.UpdateStatus(ctx, id, to, actorID, time.Now()); err != nil {
			return err
		}
		if reason != nil {
			notes := "Rejected: " + *reason
			if existing.Notes != nil && *existing.Notes != "" {
				notes = *existing.Notes + "\n" + notes
			}
			if err := repo.UpdateHeader(ctx, id, map[string]any{"notes": notes}); err != nil {
				return err
			}
		}
		entry := shared.AuditEntry{
			ActorID:  actorID,
			Action:   action,
			Entity:   "request",
			EntityID: strconv.FormatInt(id, 10),
			Before:   map[string]any{"status": existing.Status},
			After:    map[string]any{"status": to},
		}
		if reason != nil {
			entry.After["reason"] = *reason
		}
		return repo.AppendAudit(ctx, entry)
	})
	if err != nil {
		return nil, err
	}

	return s.repo.Get(ctx, id)
}

func (s *Service) buildLines(ctx context.Context, inputs []CreateRequestLineInput) (lines []RequestLine, subtotal, discount float64, err error) {
	for i, in := range inputs {
		if _, err := s.catalog.Item(ctx, in.ItemID); err != nil {
			return nil, 0, 0, fmt.Errorf("verify item %d: %w", in.ItemID, err)
		}
		gross, lineDiscount, net := shared.LineTotals(in.Quantity, in.UnitPrice, in.DiscountPercent)
		line := RequestLine{
			ItemID:          in.ItemID,
			Description:     in.Description,
			Quantity:        in.Quantity,
			UnitPrice:       in.UnitPrice,
			DiscountPercent: in.DiscountPercent,
			DiscountAmount:  lineDiscount,
			LineTotal:       net,
			LineOrder:       in.LineOrder,
		}
		if line.LineOrder == 0 {
			line.LineOrder = i + 1
		}
		lines = append(lines, line)
		subtotal = shared.Round2(subtotal + gross)
		discount = shared.Round2(discount + lineDiscount)
	}
	return lines, subtotal, discount, nil
}
