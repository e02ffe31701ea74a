package payments

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/fieldserve-erp/fieldserve-erp/internal/catalog"
	"github.com/fieldserve-erp/fieldserve-erp/internal/shared"
)

// CatalogPort is the slice of master data the ledger consults.
type CatalogPort interface {
	Client(ctx context.Context, id int64) (*catalog.Client, error)
	PaymentMethod(ctx context.Context, id int64) (*catalog.PaymentMethod, error)
	Config(ctx context.Context) (*catalog.CompanyConfig, error)
}

// CashRecorder ties payments to an open cash session. Implemented by the
// cashbox service; injected after construction to keep the dependency
// one-directional. The income movement itself is written through the
// repository inside the payment transaction.
type CashRecorder interface {
	EnsureOpen(ctx context.Context, sessionID int64) error
}

// Service implements the payment ledger.
type Service struct {
	repo    Repository
	catalog CatalogPort
	idem    *shared.IdempotencyStore
	cash    CashRecorder
	logger  *slog.Logger
}

// NewService builds the ledger service. idem may be nil; duplicate
// detection is then skipped.
func NewService(repo Repository, cat CatalogPort, idem *shared.IdempotencyStore, logger *slog.Logger) *Service {
	return &Service{repo: repo, catalog: cat, idem: idem, logger: logger}
}

// SetCashRecorder wires the cashbox for session checks and income
// movements.
func (s *Service) SetCashRecorder(c CashRecorder) {
	s.cash = c
}

// RegisterPayment validates and books one ledger entry, adjusting the
// client balances and, for session payments, the cash movement inside
// the same transaction. The client row lock
// serializes concurrent payments for the same client, so the overpayment
// recompute always sees a consistent payment sum.
func (s *Service) RegisterPayment(ctx context.Context, input RegisterPaymentInput, actorID int64) (*Payment, error) {
	if err := shared.ValidateStruct(input); err != nil {
		return nil, err
	}
	if input.Type.OrderTied() && input.OrderID == nil {
		return nil, fmt.Errorf("%w: %s payments require an order reference", shared.ErrValidation, input.Type)
	}

	client, err := s.catalog.Client(ctx, input.ClientID)
	if err != nil {
		return nil, fmt.Errorf("verify client: %w", err)
	}
	if !client.IsActive {
		return nil, fmt.Errorf("%w: client %d is inactive", shared.ErrValidation, client.ID)
	}

	method, err := s.catalog.PaymentMethod(ctx, input.PaymentMethodID)
	if err != nil {
		return nil, fmt.Errorf("verify payment method: %w", err)
	}
	if !method.IsActive {
		return nil, fmt.Errorf("%w: payment method %d is inactive", shared.ErrValidation, method.ID)
	}

	var order *OrderRef
	if input.OrderID != nil {
		order, err = s.repo.GetOrderRef(ctx, *input.OrderID)
		if err != nil {
			return nil, fmt.Errorf("verify order: %w", err)
		}
		if order.ClientID != input.ClientID {
			return nil, fmt.Errorf("%w: order %s belongs to another client", shared.ErrValidation, order.DocNumber)
		}
	}

	if input.SessionID != nil {
		if s.cash == nil {
			return nil, fmt.Errorf("%w: cash sessions are not available", shared.ErrValidation)
		}
		if err := s.cash.EnsureOpen(ctx, *input.SessionID); err != nil {
			return nil, fmt.Errorf("verify cash session: %w", err)
		}
	}

	cfg, err := s.catalog.Config(ctx)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if input.Type == TypeAdvance && cfg.RequiresPaymentBeforeDelivery {
		minimum := shared.Round2(order.TotalAmount * cfg.MinimumAdvancePercent / 100)
		if input.Amount < minimum {
			return nil, fmt.Errorf("%w: advance for order %s must be at least %.2f (%.0f%% of %.2f)",
				shared.ErrValidation, order.DocNumber, minimum, cfg.MinimumAdvancePercent, order.TotalAmount)
		}
	}

	if input.IdempotencyKey != nil && s.idem != nil {
		if err := s.idem.CheckAndInsert(ctx, *input.IdempotencyKey, "payments", actorID); err != nil {
			return nil, err
		}
	}

	payment := Payment{
		ClientID:        input.ClientID,
		OrderID:         input.OrderID,
		SessionID:       input.SessionID,
		Type:            input.Type,
		PaymentMethodID: input.PaymentMethodID,
		Amount:          input.Amount,
		Notes:           input.Notes,
		CreatedBy:       actorID,
	}

	var id int64
	err = s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		favor, pendingCredit, err := repo.LockClientBalances(ctx, input.ClientID)
		if err != nil {
			return fmt.Errorf("lock client balances: %w", err)
		}

		switch input.Type {
		case TypeCreditIssue:
			pendingCredit = shared.Round2(pendingCredit + input.Amount)
		case TypeCreditRepay:
			if input.Amount > pendingCredit {
				return fmt.Errorf("%w: repayment %.2f exceeds pending credit %.2f",
					shared.ErrValidation, input.Amount, pendingCredit)
			}
			pendingCredit = shared.Round2(pendingCredit - input.Amount)
		default:
			if input.ApplyFavorBalance {
				payment.FavorApplied = shared.Round2(min(favor, input.Amount))
				favor = shared.Round2(favor - payment.FavorApplied)
			}
		}

		number, err := repo.NextNumber(ctx)
		if err != nil {
			return fmt.Errorf("generate number: %w", err)
		}
		payment.DocNumber = number

		id, err = repo.CreatePayment(ctx, payment)
		if err != nil {
			return fmt.Errorf("create payment: %w", err)
		}

		if input.SessionID != nil {
			if err := repo.RecordSessionIncome(ctx, *input.SessionID, input.Amount, payment.DocNumber, actorID); err != nil {
				return fmt.Errorf("record cash movement: %w", err)
			}
		}

		if order != nil {
			paid, err := repo.SumForOrder(ctx, order.ID)
			if err != nil {
				return fmt.Errorf("sum order payments: %w", err)
			}
			prevExcess, err := repo.GetOverpayment(ctx, order.ID)
			if err != nil {
				return fmt.Errorf("get overpayment: %w", err)
			}
			newExcess := shared.Round2(paid - order.TotalAmount)
			if newExcess < 0 {
				newExcess = 0
			}
			if newExcess != prevExcess {
				favor = shared.Round2(favor + newExcess - prevExcess)
				if err := repo.SetOverpayment(ctx, order.ID, input.ClientID, newExcess); err != nil {
					return fmt.Errorf("record overpayment: %w", err)
				}
			}
		}

		if err := repo.UpdateClientBalances(ctx, input.ClientID, favor, pendingCredit); err != nil {
			return fmt.Errorf("update client balances: %w", err)
		}

		return repo.AppendAudit(ctx, shared.AuditEntry{
			ActorID:  actorID,
			Action:   "payment.register",
			Entity:   "payment",
			EntityID: strconv.FormatInt(id, 10),
			After: map[string]any{
				"doc_number": payment.DocNumber,
				"type":       payment.Type,
				"amount":     payment.Amount,
				"client_id":  payment.ClientID,
			},
		})
	})
	if err != nil {
		if input.IdempotencyKey != nil && s.idem != nil {
			if delErr := s.idem.Delete(ctx, *input.IdempotencyKey); delErr != nil {
				s.logger.Error("release idempotency key failed", "error", delErr, "key", *input.IdempotencyKey)
			}
		}
		return nil, err
	}

	return s.repo.GetPayment(ctx, id)
}

// PendingBalance reports how much of the order remains unpaid. Pure read.
func (s *Service) PendingBalance(ctx context.Context, orderID int64) (*PendingBalance, error) {
	order, err := s.repo.GetOrderRef(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	paid, err := s.repo.SumForOrder(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("sum order payments: %w", err)
	}

	pending := shared.Round2(order.TotalAmount - paid)
	if pending < 0 {
		pending = 0
	}
	percent := 100.0
	if order.TotalAmount > 0 {
		percent = shared.Round2(paid / order.TotalAmount * 100)
	}
	return &PendingBalance{
		OrderID:       orderID,
		TotalAmount:   order.TotalAmount,
		PaidAmount:    shared.Round2(paid),
		PendingAmount: pending,
		PercentPaid:   percent,
	}, nil
}

// CanDeliver is the delivery gate: without the payment-before-delivery
// rule every order passes, otherwise the order must have reached the
// minimum advance percentage.
func (s *Service) CanDeliver(ctx context.Context, orderID int64) error {
	cfg, err := s.catalog.Config(ctx)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if !cfg.RequiresPaymentBeforeDelivery {
		return nil
	}

	balance, err := s.PendingBalance(ctx, orderID)
	if err != nil {
		return err
	}
	if balance.PercentPaid < cfg.MinimumAdvancePercent {
		return fmt.Errorf("%w: order is %.2f%% paid, delivery requires %.2f%% (pending %.2f)",
			shared.ErrValidation, balance.PercentPaid, cfg.MinimumAdvancePercent, balance.PendingAmount)
	}
	return nil
}

// Get returns one ledger entry.
func (s *Service) Get(ctx context.Context, id int64) (*Payment, error) {
	return s.repo.GetPayment(ctx, id)
}

// List returns ledger entries matching the filter.
func (s *Service) List(ctx context.Context, input ListPaymentsInput) ([]Payment, int, error) {
	if err := shared.ValidateStruct(input); err != nil {
		return nil, 0, err
	}
	if input.Limit == 0 {
		input.Limit = 50
	}
	return s.repo.List(ctx, input)
}
