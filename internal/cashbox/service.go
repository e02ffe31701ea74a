package cashbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/fieldserve-erp/fieldserve-erp/internal/catalog"
	"github.com/fieldserve-erp/fieldserve-erp/internal/shared"
)

// CatalogPort is the slice of master data the cashbox consults.
type CatalogPort interface {
	Register(ctx context.Context, id int64) (*catalog.Register, error)
	User(ctx context.Context, id int64) (*catalog.User, error)
	UserHasPermission(ctx context.Context, userID int64, permission string) (bool, error)
}

// Service implements cash register sessions.
type Service struct {
	repo       Repository
	catalog    CatalogPort
	passphrase *PassphraseValidator
	logger     *slog.Logger
}

// NewService builds the cashbox service.
func NewService(repo Repository, cat CatalogPort, passphrase *PassphraseValidator, logger *slog.Logger) *Service {
	return &Service{repo: repo, catalog: cat, passphrase: passphrase, logger: logger}
}

// Open starts a cash custody period. One open session per operator and
// per register; the pre-checks give friendly messages and the partial
// unique indexes close the race two concurrent opens would otherwise win
// together.
func (s *Service) Open(ctx context.Context, input OpenSessionInput, actorID int64) (*Session, error) {
	if err := shared.ValidateStruct(input); err != nil {
		return nil, err
	}

	register, err := s.catalog.Register(ctx, input.RegisterID)
	if err != nil {
		return nil, fmt.Errorf("verify register: %w", err)
	}
	if !register.Active {
		return nil, fmt.Errorf("%w: register %d is inactive", shared.ErrValidation, register.ID)
	}

	if open, err := s.repo.GetOpenByOperator(ctx, input.OperatorID); err == nil && open != nil {
		return nil, fmt.Errorf("%w: operator %d already has open session %s",
			shared.ErrStateConflict, input.OperatorID, open.DocNumber)
	} else if err != nil && !errors.Is(err, shared.ErrNotFound) {
		return nil, err
	}
	if open, err := s.repo.GetOpenByRegister(ctx, input.RegisterID); err == nil && open != nil {
		return nil, fmt.Errorf("%w: register %d already has open session %s",
			shared.ErrStateConflict, input.RegisterID, open.DocNumber)
	} else if err != nil && !errors.Is(err, shared.ErrNotFound) {
		return nil, err
	}

	session := Session{
		RegisterID:    input.RegisterID,
		OperatorID:    input.OperatorID,
		Status:        StatusOpen,
		OpeningFloat:  input.OpeningFloat,
		ExpectedFinal: input.OpeningFloat,
		Notes:         input.Notes,
		OpenedAt:      time.Now(),
	}

	var id int64
	err = s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		number, err := repo.NextNumber(ctx)
		if err != nil {
			return fmt.Errorf("generate number: %w", err)
		}
		session.DocNumber = number

		id, err = repo.CreateSession(ctx, session)
		if err != nil {
			return fmt.Errorf("create session: %w", err)
		}
		return repo.AppendAudit(ctx, shared.AuditEntry{
			ActorID:  actorID,
			Action:   "cashbox.open",
			Entity:   "cash_session",
			EntityID: strconv.FormatInt(id, 10),
			After: map[string]any{
				"doc_number":    session.DocNumber,
				"register_id":   session.RegisterID,
				"operator_id":   session.OperatorID,
				"opening_float": session.OpeningFloat,
			},
		})
	})
	if err != nil {
		if shared.IsUniqueViolation(err) {
			return nil, fmt.Errorf("%w: a session was opened concurrently for this operator or register",
				shared.ErrConcurrencyConflict)
		}
		return nil, err
	}
	return s.repo.GetSession(ctx, id)
}

// RecordMovement books one cash in/out entry and recomputes the expected
// final balance.
func (s *Service) RecordMovement(ctx context.Context, sessionID int64, input RecordMovementInput, actorID int64) (*Session, error) {
	if err := shared.ValidateStruct(input); err != nil {
		return nil, err
	}

	session, err := s.repo.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	if session.Status != StatusOpen {
		return nil, fmt.Errorf("%w: session %s is %s", shared.ErrStateConflict, session.DocNumber, session.Status)
	}

	income, expenses := session.Income, session.Expenses
	if input.Type == MovementIncome {
		income = shared.Round2(income + input.Amount)
	} else {
		expenses = shared.Round2(expenses + input.Amount)
	}
	expected := shared.Round2(session.OpeningFloat + income - expenses)

	err = s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		if err := repo.InsertMovement(ctx, Movement{
			SessionID: sessionID,
			Type:      input.Type,
			Amount:    input.Amount,
			Concept:   input.Concept,
			Reference: input.Reference,
			ActorID:   actorID,
			CreatedAt: time.Now(),
		}); err != nil {
			return fmt.Errorf("insert movement: %w", err)
		}
		if err := repo.UpdateSession(ctx, sessionID, map[string]any{
			"income":         income,
			"expenses":       expenses,
			"expected_final": expected,
		}); err != nil {
			return fmt.Errorf("update session: %w", err)
		}
		return repo.AppendAudit(ctx, shared.AuditEntry{
			ActorID:  actorID,
			Action:   "cashbox.movement",
			Entity:   "cash_session",
			EntityID: strconv.FormatInt(sessionID, 10),
			After: map[string]any{
				"type":           input.Type,
				"amount":         input.Amount,
				"concept":        input.Concept,
				"expected_final": expected,
			},
		})
	})
	if err != nil {
		return nil, err
	}
	return s.repo.GetSession(ctx, sessionID)
}

// Close reconciles the counted cash against the expected balance. Within
// the balanced tolerance the session closes cleanly. Beyond it the
// session closes with a difference; when the register requires close
// authorization or the difference exceeds the hard tolerance, a
// supervisor with the close permission, the current daily passphrase and
// a justification are demanded and a classified CashDifference is
// recorded.
func (s *Service) Close(ctx context.Context, sessionID int64, input CloseSessionInput, actorID int64) (*Session, error) {
	if err := shared.ValidateStruct(input); err != nil {
		return nil, err
	}

	session, err := s.repo.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	if session.Status != StatusOpen {
		return nil, fmt.Errorf("%w: session %s is %s", shared.ErrStateConflict, session.DocNumber, session.Status)
	}

	register, err := s.catalog.Register(ctx, session.RegisterID)
	if err != nil {
		return nil, fmt.Errorf("verify register: %w", err)
	}

	expected := shared.Round2(session.OpeningFloat + session.Income - session.Expenses)
	diff := shared.Round2(input.RealFinal - expected)
	now := time.Now()

	updates := map[string]any{
		"status":     StatusClosed,
		"real_final": input.RealFinal,
		"difference": diff,
		"closed_at":  now,
		"closed_by":  actorID,
	}
	if input.Notes != nil {
		updates["notes"] = *input.Notes
	}

	var difference *CashDifference
	if math.Abs(diff) > BalancedTolerance {
		needsAuthorization := register.RequiresCloseAuthorization || math.Abs(diff) > HardTolerance
		if needsAuthorization {
			if err := s.authorizeClose(ctx, input, now); err != nil {
				return nil, err
			}
			class := ClassShortfall
			if diff > 0 {
				class = ClassSurplus
			}
			difference = &CashDifference{
				SessionID:      sessionID,
				Amount:         shared.Round2(math.Abs(diff)),
				Classification: class,
				SupervisorID:   input.SupervisorID,
				Justification:  input.Justification,
				CreatedAt:      now,
			}
		}
		updates["status"] = StatusClosedWithDifference
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		if err := repo.UpdateSession(ctx, sessionID, updates); err != nil {
			return fmt.Errorf("update session: %w", err)
		}
		if difference != nil {
			if err := repo.CreateDifference(ctx, *difference); err != nil {
				return fmt.Errorf("create difference: %w", err)
			}
		}
		entry := shared.AuditEntry{
			ActorID:  actorID,
			Action:   "cashbox.close",
			Entity:   "cash_session",
			EntityID: strconv.FormatInt(sessionID, 10),
			Before:   map[string]any{"status": session.Status, "expected_final": expected},
			After:    map[string]any{"status": updates["status"], "real_final": input.RealFinal, "difference": diff},
		}
		if difference != nil {
			entry.After["classification"] = difference.Classification
		}
		return repo.AppendAudit(ctx, entry)
	})
	if err != nil {
		return nil, err
	}
	return s.repo.GetSession(ctx, sessionID)
}

func (s *Service) authorizeClose(ctx context.Context, input CloseSessionInput, at time.Time) error {
	if input.SupervisorID == nil || input.DailyPassphrase == nil ||
		input.Justification == nil || strings.TrimSpace(*input.Justification) == "" {
		return fmt.Errorf("%w: closing with a difference needs supervisor, daily passphrase and justification",
			shared.ErrAuthorizationRequired)
	}

	supervisor, err := s.catalog.User(ctx, *input.SupervisorID)
	if err != nil {
		return fmt.Errorf("verify supervisor: %w", err)
	}
	if !supervisor.IsActive {
		return fmt.Errorf("%w: supervisor %d is inactive", shared.ErrAuthorizationDenied, supervisor.ID)
	}
	allowed, err := s.catalog.UserHasPermission(ctx, supervisor.ID, catalog.PermCloseWithDifference)
	if err != nil {
		return fmt.Errorf("check permission: %w", err)
	}
	if !allowed {
		return fmt.Errorf("%w: supervisor %d lacks %s", shared.ErrAuthorizationDenied, supervisor.ID, catalog.PermCloseWithDifference)
	}
	if s.passphrase == nil || !s.passphrase.Validate(*input.DailyPassphrase, at) {
		return fmt.Errorf("%w: daily passphrase is not valid for today", shared.ErrAuthorizationDenied)
	}
	return nil
}

// EnsureOpen reports an error unless the session exists and is open.
// Satisfies the payment ledger's cash recorder port.
func (s *Service) EnsureOpen(ctx context.Context, sessionID int64) error {
	session, err := s.repo.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if session.Status != StatusOpen {
		return fmt.Errorf("%w: session %s is %s", shared.ErrStateConflict, session.DocNumber, session.Status)
	}
	return nil
}

// GetOpenSession returns the operator's open session, or ErrNotFound.
func (s *Service) GetOpenSession(ctx context.Context, operatorID int64) (*Session, error) {
	return s.repo.GetOpenByOperator(ctx, operatorID)
}

// HasOpenSession reports whether the operator holds an open session.
func (s *Service) HasOpenSession(ctx context.Context, operatorID int64) (bool, error) {
	_, err := s.repo.GetOpenByOperator(ctx, operatorID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Get returns a session with its movements.
func (s *Service) Get(ctx context.Context, id int64) (*Session, error) {
	return s.repo.GetSession(ctx, id)
}

// SessionSummary condenses a session for reconciliation.
func (s *Service) SessionSummary(ctx context.Context, sessionID int64) (*Summary, error) {
	session, err := s.repo.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return &Summary{
		SessionID:     session.ID,
		Opening:       session.OpeningFloat,
		Income:        session.Income,
		Expenses:      session.Expenses,
		Expected:      session.ExpectedFinal,
		Real:          session.RealFinal,
		Difference:    session.Difference,
		MovementCount: len(session.Movements),
	}, nil
}
