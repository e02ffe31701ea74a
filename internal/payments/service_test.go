package payments

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldserve-erp/fieldserve-erp/internal/catalog"
	"github.com/fieldserve-erp/fieldserve-erp/internal/numbering"
	"github.com/fieldserve-erp/fieldserve-erp/internal/shared"
)

type clientBalances struct {
	favor         float64
	pendingCredit float64
}

type mockRepository struct {
	payments     map[int64]*Payment
	clients      map[int64]*clientBalances
	orders       map[int64]*OrderRef
	overpayments map[int64]float64
	audits       []shared.AuditEntry
	numbers      *numbering.MemoryGenerator
	nextID       int64

	sessionIncome     []float64
	sessionRefs       []string
	failSessionIncome bool
}

func newMockRepository() *mockRepository {
	return &mockRepository{
		payments: make(map[int64]*Payment),
		clients: map[int64]*clientBalances{
			1: {},
		},
		orders: map[int64]*OrderRef{
			1: {ID: 1, DocNumber: "ORD-000001", ClientID: 1, TotalAmount: 100.00},
		},
		overpayments: make(map[int64]float64),
		numbers:      numbering.NewMemoryGenerator(),
	}
}

// WithTx snapshots the stores so a failing fn leaves nothing behind,
// mirroring the rollback of the real transaction.
func (m *mockRepository) WithTx(ctx context.Context, fn func(context.Context, Repository) error) error {
	payments := make(map[int64]*Payment, len(m.payments))
	for id, p := range m.payments {
		clone := *p
		payments[id] = &clone
	}
	clients := make(map[int64]*clientBalances, len(m.clients))
	for id, b := range m.clients {
		clone := *b
		clients[id] = &clone
	}
	overpayments := make(map[int64]float64, len(m.overpayments))
	for id, v := range m.overpayments {
		overpayments[id] = v
	}
	audits := len(m.audits)
	income := len(m.sessionIncome)

	if err := fn(ctx, m); err != nil {
		m.payments = payments
		m.clients = clients
		m.overpayments = overpayments
		m.audits = m.audits[:audits]
		m.sessionIncome = m.sessionIncome[:income]
		m.sessionRefs = m.sessionRefs[:income]
		return err
	}
	return nil
}

func (m *mockRepository) GetPayment(ctx context.Context, id int64) (*Payment, error) {
	p, ok := m.payments[id]
	if !ok {
		return nil, fmt.Errorf("%w: payment %d", shared.ErrNotFound, id)
	}
	clone := *p
	return &clone, nil
}

func (m *mockRepository) List(ctx context.Context, input ListPaymentsInput) ([]Payment, int, error) {
	var result []Payment
	for _, p := range m.payments {
		if input.ClientID != nil && p.ClientID != *input.ClientID {
			continue
		}
		if input.OrderID != nil && (p.OrderID == nil || *p.OrderID != *input.OrderID) {
			continue
		}
		result = append(result, *p)
	}
	return result, len(result), nil
}

func (m *mockRepository) CreatePayment(ctx context.Context, p Payment) (int64, error) {
	m.nextID++
	p.ID = m.nextID
	p.CreatedAt = time.Now()
	m.payments[p.ID] = &p
	return p.ID, nil
}

func (m *mockRepository) RecordSessionIncome(ctx context.Context, sessionID int64, amount float64, reference string, actorID int64) error {
	if m.failSessionIncome {
		return fmt.Errorf("%w: cash session %d is not open", shared.ErrStateConflict, sessionID)
	}
	m.sessionIncome = append(m.sessionIncome, amount)
	m.sessionRefs = append(m.sessionRefs, reference)
	return nil
}

func (m *mockRepository) SumForOrder(ctx context.Context, orderID int64) (float64, error) {
	var sum float64
	for _, p := range m.payments {
		if p.OrderID != nil && *p.OrderID == orderID {
			sum += p.Amount
		}
	}
	return sum, nil
}

func (m *mockRepository) GetOrderRef(ctx context.Context, orderID int64) (*OrderRef, error) {
	o, ok := m.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("%w: service order %d", shared.ErrNotFound, orderID)
	}
	clone := *o
	return &clone, nil
}

func (m *mockRepository) LockClientBalances(ctx context.Context, clientID int64) (float64, float64, error) {
	b, ok := m.clients[clientID]
	if !ok {
		return 0, 0, fmt.Errorf("%w: client %d", shared.ErrNotFound, clientID)
	}
	return b.favor, b.pendingCredit, nil
}

func (m *mockRepository) UpdateClientBalances(ctx context.Context, clientID int64, favor, pendingCredit float64) error {
	b, ok := m.clients[clientID]
	if !ok {
		return fmt.Errorf("%w: client %d", shared.ErrNotFound, clientID)
	}
	b.favor = favor
	b.pendingCredit = pendingCredit
	return nil
}

func (m *mockRepository) GetOverpayment(ctx context.Context, orderID int64) (float64, error) {
	return m.overpayments[orderID], nil
}

func (m *mockRepository) SetOverpayment(ctx context.Context, orderID, clientID int64, amount float64) error {
	m.overpayments[orderID] = amount
	return nil
}

func (m *mockRepository) NextNumber(ctx context.Context) (string, error) {
	return m.numbers.Next(numbering.TypePayment)
}

func (m *mockRepository) AppendAudit(ctx context.Context, entry shared.AuditEntry) error {
	m.audits = append(m.audits, entry)
	return nil
}

type mockCatalog struct {
	clients map[int64]*catalog.Client
	methods map[int64]*catalog.PaymentMethod
	config  catalog.CompanyConfig
}

func newMockCatalog() *mockCatalog {
	return &mockCatalog{
		clients: map[int64]*catalog.Client{
			1: {ID: 1, Name: "Acme Ltd", IsActive: true},
			2: {ID: 2, Name: "Dormant Co"},
		},
		methods: map[int64]*catalog.PaymentMethod{
			1: {ID: 1, Name: "Cash", IsCash: true, IsActive: true},
			2: {ID: 2, Name: "Closed method"},
		},
		config: catalog.CompanyConfig{MinimumAdvancePercent: 50},
	}
}

func (m *mockCatalog) Client(ctx context.Context, id int64) (*catalog.Client, error) {
	c, ok := m.clients[id]
	if !ok {
		return nil, fmt.Errorf("%w: client %d", shared.ErrNotFound, id)
	}
	return c, nil
}

func (m *mockCatalog) PaymentMethod(ctx context.Context, id int64) (*catalog.PaymentMethod, error) {
	pm, ok := m.methods[id]
	if !ok {
		return nil, fmt.Errorf("%w: payment method %d", shared.ErrNotFound, id)
	}
	return pm, nil
}

func (m *mockCatalog) Config(ctx context.Context) (*catalog.CompanyConfig, error) {
	cfg := m.config
	return &cfg, nil
}

type mockCash struct {
	open    map[int64]bool
	openErr error
}

func (m *mockCash) EnsureOpen(ctx context.Context, sessionID int64) error {
	if m.openErr != nil {
		return m.openErr
	}
	if !m.open[sessionID] {
		return fmt.Errorf("%w: cash session %d is not open", shared.ErrStateConflict, sessionID)
	}
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestService() (*Service, *mockRepository, *mockCatalog) {
	repo := newMockRepository()
	cat := newMockCatalog()
	return NewService(repo, cat, nil, testLogger()), repo, cat
}

func ptr[T any](v T) *T { return &v }

func advanceInput(amount float64) RegisterPaymentInput {
	return RegisterPaymentInput{
		ClientID:        1,
		OrderID:         ptr(int64(1)),
		Type:            TypeAdvance,
		PaymentMethodID: 1,
		Amount:          amount,
	}
}

func TestRegisterAdvancePayment(t *testing.T) {
	svc, repo, _ := newTestService()

	payment, err := svc.RegisterPayment(context.Background(), advanceInput(60), 1)
	require.NoError(t, err)

	assert.Equal(t, "PAG-000001", payment.DocNumber)
	assert.Equal(t, TypeAdvance, payment.Type)
	assert.InDelta(t, 60.00, payment.Amount, 0.001)
	assert.InDelta(t, 0, repo.clients[1].favor, 0.001)
	require.Len(t, repo.audits, 1)
	assert.Equal(t, "payment.register", repo.audits[0].Action)
}

func TestAdvanceRequiresOrder(t *testing.T) {
	svc, _, _ := newTestService()

	input := advanceInput(60)
	input.OrderID = nil
	_, err := svc.RegisterPayment(context.Background(), input, 1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, shared.ErrValidation))
}

func TestAdvanceBelowMinimum(t *testing.T) {
	svc, _, cat := newTestService()
	cat.config.RequiresPaymentBeforeDelivery = true

	_, err := svc.RegisterPayment(context.Background(), advanceInput(30), 1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, shared.ErrValidation))
	assert.Contains(t, err.Error(), "50.00")
}

func TestAdvanceMeetsMinimum(t *testing.T) {
	svc, _, cat := newTestService()
	cat.config.RequiresPaymentBeforeDelivery = true

	_, err := svc.RegisterPayment(context.Background(), advanceInput(50), 1)
	require.NoError(t, err)
}

func TestInactiveClientRejected(t *testing.T) {
	svc, _, _ := newTestService()

	input := advanceInput(60)
	input.ClientID = 2
	_, err := svc.RegisterPayment(context.Background(), input, 1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, shared.ErrValidation))
}

func TestInactivePaymentMethodRejected(t *testing.T) {
	svc, _, _ := newTestService()

	input := advanceInput(60)
	input.PaymentMethodID = 2
	_, err := svc.RegisterPayment(context.Background(), input, 1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, shared.ErrValidation))
}

func TestOrderOfAnotherClientRejected(t *testing.T) {
	svc, repo, cat := newTestService()
	cat.clients[3] = &catalog.Client{ID: 3, Name: "Other", IsActive: true}
	repo.clients[3] = &clientBalances{}

	input := advanceInput(60)
	input.ClientID = 3
	_, err := svc.RegisterPayment(context.Background(), input, 1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, shared.ErrValidation))
}

func TestCreditIssueIncreasesPendingCredit(t *testing.T) {
	svc, repo, _ := newTestService()

	_, err := svc.RegisterPayment(context.Background(), RegisterPaymentInput{
		ClientID:        1,
		Type:            TypeCreditIssue,
		PaymentMethodID: 1,
		Amount:          200,
	}, 1)
	require.NoError(t, err)
	assert.InDelta(t, 200.00, repo.clients[1].pendingCredit, 0.001)
}

func TestCreditRepayDecreasesPendingCredit(t *testing.T) {
	svc, repo, _ := newTestService()
	repo.clients[1].pendingCredit = 200

	_, err := svc.RegisterPayment(context.Background(), RegisterPaymentInput{
		ClientID:        1,
		Type:            TypeCreditRepay,
		PaymentMethodID: 1,
		Amount:          80,
	}, 1)
	require.NoError(t, err)
	assert.InDelta(t, 120.00, repo.clients[1].pendingCredit, 0.001)
}

func TestCreditRepayAboveDebtRejected(t *testing.T) {
	svc, repo, _ := newTestService()
	repo.clients[1].pendingCredit = 50

	_, err := svc.RegisterPayment(context.Background(), RegisterPaymentInput{
		ClientID:        1,
		Type:            TypeCreditRepay,
		PaymentMethodID: 1,
		Amount:          80,
	}, 1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, shared.ErrValidation))
}

func TestFavorBalanceConsumption(t *testing.T) {
	svc, repo, _ := newTestService()
	repo.clients[1].favor = 25

	input := advanceInput(60)
	input.ApplyFavorBalance = true
	payment, err := svc.RegisterPayment(context.Background(), input, 1)
	require.NoError(t, err)

	assert.InDelta(t, 25.00, payment.FavorApplied, 0.001)
	assert.InDelta(t, 0, repo.clients[1].favor, 0.001)
}

func TestFavorBalanceCapsAtAmount(t *testing.T) {
	svc, repo, _ := newTestService()
	repo.clients[1].favor = 100

	input := advanceInput(60)
	input.ApplyFavorBalance = true
	payment, err := svc.RegisterPayment(context.Background(), input, 1)
	require.NoError(t, err)

	assert.InDelta(t, 60.00, payment.FavorApplied, 0.001)
	assert.InDelta(t, 40.00, repo.clients[1].favor, 0.001)
}

func TestOverpaymentGoesToFavorBalance(t *testing.T) {
	svc, repo, _ := newTestService()

	_, err := svc.RegisterPayment(context.Background(), advanceInput(60), 1)
	require.NoError(t, err)
	assert.InDelta(t, 0, repo.clients[1].favor, 0.001)

	input := advanceInput(70)
	input.Type = TypeFinal
	_, err = svc.RegisterPayment(context.Background(), input, 1)
	require.NoError(t, err)

	assert.InDelta(t, 30.00, repo.clients[1].favor, 0.001)
	assert.InDelta(t, 30.00, repo.overpayments[1], 0.001)
}

func TestOverpaymentRecomputeIsNotAccumulated(t *testing.T) {
	svc, repo, _ := newTestService()

	input := advanceInput(120)
	_, err := svc.RegisterPayment(context.Background(), input, 1)
	require.NoError(t, err)
	assert.InDelta(t, 20.00, repo.clients[1].favor, 0.001)

	final := advanceInput(10)
	final.Type = TypeFinal
	_, err = svc.RegisterPayment(context.Background(), final, 1)
	require.NoError(t, err)

	assert.InDelta(t, 30.00, repo.clients[1].favor, 0.001)
	assert.InDelta(t, 30.00, repo.overpayments[1], 0.001)
}

func TestPendingBalance(t *testing.T) {
	svc, _, _ := newTestService()

	_, err := svc.RegisterPayment(context.Background(), advanceInput(60), 1)
	require.NoError(t, err)

	balance, err := svc.PendingBalance(context.Background(), 1)
	require.NoError(t, err)
	assert.InDelta(t, 100.00, balance.TotalAmount, 0.001)
	assert.InDelta(t, 60.00, balance.PaidAmount, 0.001)
	assert.InDelta(t, 40.00, balance.PendingAmount, 0.001)
	assert.InDelta(t, 60.00, balance.PercentPaid, 0.001)

	again, err := svc.PendingBalance(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, balance, again)
}

func TestCanDeliverWithoutPaymentRule(t *testing.T) {
	svc, _, _ := newTestService()

	require.NoError(t, svc.CanDeliver(context.Background(), 1))
}

func TestCanDeliverBelowMinimum(t *testing.T) {
	svc, _, cat := newTestService()
	cat.config.RequiresPaymentBeforeDelivery = true

	err := svc.CanDeliver(context.Background(), 1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, shared.ErrValidation))
}

func TestCanDeliverAtMinimum(t *testing.T) {
	svc, _, cat := newTestService()
	cat.config.RequiresPaymentBeforeDelivery = true

	_, err := svc.RegisterPayment(context.Background(), advanceInput(50), 1)
	require.NoError(t, err)

	require.NoError(t, svc.CanDeliver(context.Background(), 1))
}

func TestCashSessionMustBeOpen(t *testing.T) {
	svc, _, _ := newTestService()
	cash := &mockCash{open: map[int64]bool{}}
	svc.SetCashRecorder(cash)

	input := advanceInput(60)
	input.SessionID = ptr(int64(9))
	_, err := svc.RegisterPayment(context.Background(), input, 1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, shared.ErrStateConflict))
}

func TestCashMovementEmittedForSessionPayment(t *testing.T) {
	svc, repo, _ := newTestService()
	cash := &mockCash{open: map[int64]bool{9: true}}
	svc.SetCashRecorder(cash)

	input := advanceInput(60)
	input.SessionID = ptr(int64(9))
	payment, err := svc.RegisterPayment(context.Background(), input, 1)
	require.NoError(t, err)

	require.Len(t, repo.sessionIncome, 1)
	assert.InDelta(t, 60.00, repo.sessionIncome[0], 0.001)
	assert.Equal(t, payment.DocNumber, repo.sessionRefs[0])
}

func TestFailedCashMovementRollsBackPayment(t *testing.T) {
	svc, repo, _ := newTestService()
	cash := &mockCash{open: map[int64]bool{9: true}}
	svc.SetCashRecorder(cash)
	repo.failSessionIncome = true

	input := advanceInput(60)
	input.SessionID = ptr(int64(9))
	_, err := svc.RegisterPayment(context.Background(), input, 1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, shared.ErrStateConflict))

	assert.Empty(t, repo.payments)
	assert.Empty(t, repo.audits)
	assert.Empty(t, repo.sessionIncome)
}

func TestSessionPaymentWithoutCashboxRejected(t *testing.T) {
	svc, _, _ := newTestService()

	input := advanceInput(60)
	input.SessionID = ptr(int64(9))
	_, err := svc.RegisterPayment(context.Background(), input, 1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, shared.ErrValidation))
}
