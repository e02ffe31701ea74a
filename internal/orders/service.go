package orders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/fieldserve-erp/fieldserve-erp/internal/catalog"
	"github.com/fieldserve-erp/fieldserve-erp/internal/requests"
	"github.com/fieldserve-erp/fieldserve-erp/internal/shared"
)

// CatalogPort is the slice of master data the workflow consults.
type CatalogPort interface {
	Client(ctx context.Context, id int64) (*catalog.Client, error)
	Item(ctx context.Context, id int64) (*catalog.Item, error)
	Technician(ctx context.Context, id int64) (*catalog.Technician, error)
	Config(ctx context.Context) (*catalog.CompanyConfig, error)
}

// RequestSource reads the originating request when generating an order.
type RequestSource interface {
	Get(ctx context.Context, id int64) (*requests.Request, error)
}

// DeliveryGate decides whether the client has paid enough for the order to
// be handed over. Implemented by the payment ledger; injected after
// construction to keep the dependency one-directional.
type DeliveryGate interface {
	CanDeliver(ctx context.Context, orderID int64) error
}

// Service implements the service-order workflow.
type Service struct {
	repo     Repository
	catalog  CatalogPort
	requests RequestSource
	gate     DeliveryGate
	logger   *slog.Logger
}

// NewService builds the order workflow service.
func NewService(repo Repository, cat CatalogPort, reqs RequestSource, logger *slog.Logger) *Service {
	return &Service{repo: repo, catalog: cat, requests: reqs, logger: logger}
}

// SetDeliveryGate wires the payment check applied before delivery.
func (s *Service) SetDeliveryGate(g DeliveryGate) {
	s.gate = g
}

// GenerateFromRequest creates a pending service order from an authorized
// request, copying its lines and totals verbatim. Each request produces at
// most one order; a concurrent duplicate loses on the unique request_id
// constraint.
func (s *Service) GenerateFromRequest(ctx context.Context, requestID, actorID int64) error {
	request, err := s.requests.Get(ctx, requestID)
	if err != nil {
		return fmt.Errorf("get request: %w", err)
	}
	if request.Status != requests.StatusAuthorized {
		return fmt.Errorf("%w: request %s is %s, only authorized requests generate orders",
			shared.ErrStateConflict, request.DocNumber, request.Status)
	}

	order := ServiceOrder{
		RequestID:      &request.ID,
		ClientID:       request.ClientID,
		Status:         StatusPending,
		ScheduledDate:  request.ServiceDate,
		Notes:          request.Notes,
		TaxPercent:     request.TaxPercent,
		Subtotal:       request.Subtotal,
		DiscountAmount: request.DiscountAmount,
		TaxAmount:      request.TaxAmount,
		TotalAmount:    request.TotalAmount,
		CreatedBy:      actorID,
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		number, err := repo.NextOrderNumber(ctx)
		if err != nil {
			return fmt.Errorf("generate number: %w", err)
		}
		order.DocNumber = number

		id, err := repo.Create(ctx, order)
		if err != nil {
			return fmt.Errorf("create order: %w", err)
		}
		for _, rl := range request.Lines {
			line := OrderLine{
				OrderID:         id,
				ItemID:          rl.ItemID,
				Description:     rl.Description,
				Quantity:        rl.Quantity,
				UnitPrice:       rl.UnitPrice,
				DiscountPercent: rl.DiscountPercent,
				DiscountAmount:  rl.DiscountAmount,
				LineTotal:       rl.LineTotal,
				LineOrder:       rl.LineOrder,
			}
			if _, err := repo.InsertLine(ctx, line); err != nil {
				return fmt.Errorf("insert order line: %w", err)
			}
		}
		return repo.AppendAudit(ctx, shared.AuditEntry{
			ActorID:  actorID,
			Action:   "order.generate",
			Entity:   "service_order",
			EntityID: strconv.FormatInt(id, 10),
			After:    map[string]any{"doc_number": order.DocNumber, "request_id": request.ID, "total": order.TotalAmount},
		})
	})
	if err != nil {
		if shared.IsUniqueViolation(err) {
			return fmt.Errorf("%w: request %s already has a service order", shared.ErrStateConflict, request.DocNumber)
		}
		return err
	}
	return nil
}

// Create builds a standalone pending order with no backing request, used
// for walk-in work that never went through the authorization flow.
func (s *Service) Create(ctx context.Context, input CreateOrderInput, actorID int64) (*ServiceOrder, error) {
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

	var (
		lines              []OrderLine
		subtotal, discount float64
	)
	for i, in := range input.Lines {
		if _, err := s.catalog.Item(ctx, in.ItemID); err != nil {
			return nil, fmt.Errorf("verify item %d: %w", in.ItemID, err)
		}
		gross, lineDiscount, net := shared.LineTotals(in.Quantity, in.UnitPrice, in.DiscountPercent)
		line := OrderLine{
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
	tax, total := shared.DocumentTotals(subtotal, discount, taxPercent)

	order := ServiceOrder{
		ClientID:       input.ClientID,
		Status:         StatusPending,
		ScheduledDate:  input.ScheduledDate,
		Notes:          input.Notes,
		TaxPercent:     taxPercent,
		Subtotal:       subtotal,
		DiscountAmount: discount,
		TaxAmount:      tax,
		TotalAmount:    total,
		CreatedBy:      actorID,
	}

	var id int64
	err = s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		number, err := repo.NextOrderNumber(ctx)
		if err != nil {
			return fmt.Errorf("generate number: %w", err)
		}
		order.DocNumber = number

		id, err = repo.Create(ctx, order)
		if err != nil {
			return fmt.Errorf("create order: %w", err)
		}
		for i := range lines {
			lines[i].OrderID = id
			if _, err := repo.InsertLine(ctx, lines[i]); err != nil {
				return fmt.Errorf("insert order line: %w", err)
			}
		}
		return repo.AppendAudit(ctx, shared.AuditEntry{
			ActorID:  actorID,
			Action:   "order.create",
			Entity:   "service_order",
			EntityID: strconv.FormatInt(id, 10),
			After:    map[string]any{"doc_number": order.DocNumber, "total": order.TotalAmount},
		})
	})
	if err != nil {
		return nil, err
	}
	return s.repo.Get(ctx, id)
}

// AssignTechnician puts a technician on the order, or reassigns one while
// the work is still underway. Assigning a pending order moves it to
// assigned; locked orders reject the change.
func (s *Service) AssignTechnician(ctx context.Context, orderID int64, input AssignTechnicianInput, actorID int64) (*ServiceOrder, error) {
	if err := shared.ValidateStruct(input); err != nil {
		return nil, err
	}

	order, err := s.repo.Get(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	if Locked(order.Status) {
		return nil, fmt.Errorf("%w: order %s is %s and no longer accepts assignments",
			shared.ErrStateConflict, order.DocNumber, order.Status)
	}

	tech, err := s.catalog.Technician(ctx, input.TechnicianID)
	if err != nil {
		return nil, fmt.Errorf("verify technician: %w", err)
	}
	if !tech.IsActive {
		return nil, fmt.Errorf("%w: technician %d is inactive", shared.ErrValidation, tech.ID)
	}

	updates := map[string]any{"technician_id": input.TechnicianID}
	if input.ScheduledDate != nil {
		updates["scheduled_date"] = *input.ScheduledDate
	}
	newStatus := order.Status
	if order.Status == StatusPending {
		newStatus = StatusAssigned
		updates["status"] = newStatus
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		if err := repo.UpdateHeader(ctx, orderID, updates); err != nil {
			return fmt.Errorf("update order: %w", err)
		}
		if newStatus != order.Status {
			if err := repo.InsertHistory(ctx, StatusChange{
				OrderID:    orderID,
				FromStatus: order.Status,
				ToStatus:   newStatus,
				ActorID:    actorID,
				ChangedAt:  time.Now(),
			}); err != nil {
				return fmt.Errorf("record history: %w", err)
			}
		}
		return repo.AppendAudit(ctx, shared.AuditEntry{
			ActorID:  actorID,
			Action:   "order.assign",
			Entity:   "service_order",
			EntityID: strconv.FormatInt(orderID, 10),
			Before:   map[string]any{"status": order.Status, "technician_id": order.TechnicianID},
			After:    map[string]any{"status": newStatus, "technician_id": input.TechnicianID},
		})
	})
	if err != nil {
		return nil, err
	}
	return s.repo.Get(ctx, orderID)
}

// Start marks the order as in progress and stamps the start time.
func (s *Service) Start(ctx context.Context, orderID, actorID int64) (*ServiceOrder, error) {
	now := time.Now()
	return s.transition(ctx, orderID, actorID, StatusInProgress, "order.start",
		map[string]any{"started_at": now}, nil)
}

// Complete marks the field work as finished. The optional note is kept in
// the transition history as the technician's report.
func (s *Service) Complete(ctx context.Context, orderID, actorID int64, input CompleteOrderInput) (*ServiceOrder, error) {
	now := time.Now()
	return s.transition(ctx, orderID, actorID, StatusCompleted, "order.complete",
		map[string]any{"completed_at": now}, input.Note)
}

// Deliver hands the finished work to the client, creating the delivery
// certificate. When company configuration requires payment before
// delivery, the payment ledger must clear the order first.
func (s *Service) Deliver(ctx context.Context, orderID int64, input DeliverOrderInput, actorID int64) (*ServiceOrder, error) {
	if err := shared.ValidateStruct(input); err != nil {
		return nil, err
	}

	order, err := s.repo.Get(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	if !CanTransition(order.Status, StatusDelivered) {
		return nil, fmt.Errorf("%w: order %s is %s, only completed orders can be delivered",
			shared.ErrStateConflict, order.DocNumber, order.Status)
	}

	if existing, err := s.repo.GetDeliveryByOrder(ctx, orderID); err == nil && existing != nil {
		return nil, fmt.Errorf("%w: order %s already has delivery %s", shared.ErrStateConflict, order.DocNumber, existing.DocNumber)
	} else if err != nil && !errors.Is(err, shared.ErrNotFound) {
		return nil, err
	}

	cfg, err := s.catalog.Config(ctx)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if cfg.RequiresPaymentBeforeDelivery && s.gate != nil {
		if err := s.gate.CanDeliver(ctx, orderID); err != nil {
			return nil, err
		}
	}

	now := time.Now()
	err = s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		number, err := repo.NextDeliveryNumber(ctx)
		if err != nil {
			return fmt.Errorf("generate number: %w", err)
		}
		delivery := Delivery{
			DocNumber:   number,
			OrderID:     orderID,
			DeliveredBy: actorID,
			ReceivedBy:  input.ReceivedBy,
			Notes:       input.Notes,
			DeliveredAt: now,
		}
		if _, err := repo.CreateDelivery(ctx, delivery); err != nil {
			return fmt.Errorf("create delivery: %w", err)
		}
		if err := repo.UpdateHeader(ctx, orderID, map[string]any{"status": StatusDelivered}); err != nil {
			return fmt.Errorf("update order: %w", err)
		}
		if err := repo.InsertHistory(ctx, StatusChange{
			OrderID:    orderID,
			FromStatus: order.Status,
			ToStatus:   StatusDelivered,
			ActorID:    actorID,
			ChangedAt:  now,
		}); err != nil {
			return fmt.Errorf("record history: %w", err)
		}
		return repo.AppendAudit(ctx, shared.AuditEntry{
			ActorID:  actorID,
			Action:   "order.deliver",
			Entity:   "service_order",
			EntityID: strconv.FormatInt(orderID, 10),
			Before:   map[string]any{"status": order.Status},
			After:    map[string]any{"status": StatusDelivered, "delivery": delivery.DocNumber, "received_by": input.ReceivedBy},
		})
	})
	if err != nil {
		if shared.IsUniqueViolation(err) {
			return nil, fmt.Errorf("%w: order %s already has a delivery", shared.ErrStateConflict, order.DocNumber)
		}
		return nil, err
	}
	return s.repo.Get(ctx, orderID)
}

// Get returns an order with its lines and history.
func (s *Service) Get(ctx context.Context, id int64) (*ServiceOrder, error) {
	return s.repo.Get(ctx, id)
}

// DeliveryFor returns the delivery certificate of an order.
func (s *Service) DeliveryFor(ctx context.Context, orderID int64) (*Delivery, error) {
	return s.repo.GetDeliveryByOrder(ctx, orderID)
}

// List returns orders matching the filter.
func (s *Service) List(ctx context.Context, input ListOrdersInput) ([]ServiceOrder, int, error) {
	if err := shared.ValidateStruct(input); err != nil {
		return nil, 0, err
	}
	if input.Limit == 0 {
		input.Limit = 50
	}
	return s.repo.List(ctx, input)
}

func (s *Service) transition(ctx context.Context, orderID, actorID int64, to OrderStatus, action string, extra map[string]any, note *string) (*ServiceOrder, error) {
	order, err := s.repo.Get(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	if !CanTransition(order.Status, to) {
		return nil, fmt.Errorf("%w: order %s cannot move from %s to %s",
			shared.ErrStateConflict, order.DocNumber, order.Status, to)
	}

	updates := map[string]any{"status": to}
	for k, v := range extra {
		updates[k] = v
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		if err := repo.UpdateHeader(ctx, orderID, updates); err != nil {
			return fmt.Errorf("update order: %w", err)
		}
		if err := repo.InsertHistory(ctx, StatusChange{
			OrderID:    orderID,
			FromStatus: order.Status,
			ToStatus:   to,
			ActorID:    actorID,
			Note:       note,
			ChangedAt:  time.Now(),
		}); err != nil {
			return fmt.Errorf("record history: %w", err)
		}
		return repo.AppendAudit(ctx, shared.AuditEntry{
			ActorID:  actorID,
			Action:   action,
			Entity:   "service_order",
			EntityID: strconv.FormatInt(orderID, 10),
			Before:   map[string]any{"status": order.Status},
			After:    map[string]any{"status": to},
		})
	})
	if err != nil {
		return nil, err
	}
	return s.repo.Get(ctx, orderID)
}
