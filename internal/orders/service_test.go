package orders

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldserve-erp/fieldserve-erp/internal/catalog"
	"github.com/fieldserve-erp/fieldserve-erp/internal/numbering"
	"github.com/fieldserve-erp/fieldserve-erp/internal/requests"
	"github.com/fieldserve-erp/fieldserve-erp/internal/shared"
)

type mockRepository struct {
	orders     map[int64]*ServiceOrder
	deliveries map[int64]*Delivery
	byRequest  map[int64]int64
	audits     []shared.AuditEntry
	numbers    *numbering.MemoryGenerator
	nextID     int64
	lineID     int64
	histID     int64
	delivID    int64
}

func newMockRepository() *mockRepository {
	return &mockRepository{
		orders:     make(map[int64]*ServiceOrder),
		deliveries: make(map[int64]*Delivery),
		byRequest:  make(map[int64]int64),
		numbers:    numbering.NewMemoryGenerator(),
	}
}

func (m *mockRepository) WithTx(ctx context.Context, fn func(context.Context, Repository) error) error {
	return fn(ctx, m)
}

func (m *mockRepository) Get(ctx context.Context, id int64) (*ServiceOrder, error) {
	o, ok := m.orders[id]
	if !ok {
		return nil, fmt.Errorf("%w: service order %d", shared.ErrNotFound, id)
	}
	clone := *o
	clone.Lines = append([]OrderLine(nil), o.Lines...)
	clone.History = append([]StatusChange(nil), o.History...)
	return &clone, nil
}

func (m *mockRepository) List(ctx context.Context, input ListOrdersInput) ([]ServiceOrder, int, error) {
	var result []ServiceOrder
	for _, o := range m.orders {
		if input.Status != nil && o.Status != *input.Status {
			continue
		}
		result = append(result, *o)
	}
	return result, len(result), nil
}

func (m *mockRepository) Create(ctx context.Context, o ServiceOrder) (int64, error) {
	if o.RequestID != nil {
		if _, dup := m.byRequest[*o.RequestID]; dup {
			return 0, uniqueViolation()
		}
	}
	m.nextID++
	o.ID = m.nextID
	o.CreatedAt = time.Now()
	o.UpdatedAt = o.CreatedAt
	m.orders[o.ID] = &o
	if o.RequestID != nil {
		m.byRequest[*o.RequestID] = o.ID
	}
	return o.ID, nil
}

func (m *mockRepository) InsertLine(ctx context.Context, line OrderLine) (int64, error) {
	o, ok := m.orders[line.OrderID]
	if !ok {
		return 0, fmt.Errorf("%w: service order %d", shared.ErrNotFound, line.OrderID)
	}
	m.lineID++
	line.ID = m.lineID
	o.Lines = append(o.Lines, line)
	return line.ID, nil
}

func (m *mockRepository) UpdateHeader(ctx context.Context, id int64, updates map[string]any) error {
	o, ok := m.orders[id]
	if !ok {
		return fmt.Errorf("%w: service order %d", shared.ErrNotFound, id)
	}
	if v, ok := updates["status"]; ok {
		o.Status = v.(OrderStatus)
	}
	if v, ok := updates["technician_id"]; ok {
		tid := v.(int64)
		o.TechnicianID = &tid
	}
	if v, ok := updates["scheduled_date"]; ok {
		d := v.(time.Time)
		o.ScheduledDate = &d
	}
	if v, ok := updates["started_at"]; ok {
		t := v.(time.Time)
		o.StartedAt = &t
	}
	if v, ok := updates["completed_at"]; ok {
		t := v.(time.Time)
		o.CompletedAt = &t
	}
	o.UpdatedAt = time.Now()
	return nil
}

func (m *mockRepository) InsertHistory(ctx context.Context, change StatusChange) error {
	o, ok := m.orders[change.OrderID]
	if !ok {
		return fmt.Errorf("%w: service order %d", shared.ErrNotFound, change.OrderID)
	}
	m.histID++
	change.ID = m.histID
	o.History = append(o.History, change)
	return nil
}

func (m *mockRepository) CreateDelivery(ctx context.Context, d Delivery) (int64, error) {
	if _, dup := m.deliveries[d.OrderID]; dup {
		return 0, uniqueViolation()
	}
	m.delivID++
	d.ID = m.delivID
	m.deliveries[d.OrderID] = &d
	return d.ID, nil
}

func (m *mockRepository) GetDeliveryByOrder(ctx context.Context, orderID int64) (*Delivery, error) {
	d, ok := m.deliveries[orderID]
	if !ok {
		return nil, fmt.Errorf("%w: delivery for order %d", shared.ErrNotFound, orderID)
	}
	clone := *d
	return &clone, nil
}

func (m *mockRepository) NextOrderNumber(ctx context.Context) (string, error) {
	return m.numbers.Next(numbering.TypeOrder)
}

func (m *mockRepository) NextDeliveryNumber(ctx context.Context) (string, error) {
	return m.numbers.Next(numbering.TypeDelivery)
}

func (m *mockRepository) AppendAudit(ctx context.Context, entry shared.AuditEntry) error {
	m.audits = append(m.audits, entry)
	return nil
}

func uniqueViolation() error {
	return &pgconn.PgError{Code: shared.UniqueViolation, Message: "duplicate key value violates unique constraint"}
}

type mockCatalog struct {
	clients     map[int64]*catalog.Client
	items       map[int64]*catalog.Item
	technicians map[int64]*catalog.Technician
	config      catalog.CompanyConfig
}

func newMockCatalog() *mockCatalog {
	return &mockCatalog{
		clients: map[int64]*catalog.Client{
			1: {ID: 1, Name: "Acme Ltd", IsActive: true},
		},
		items: map[int64]*catalog.Item{
			10: {ID: 10, Name: "Filter replacement", IsActive: true},
		},
		technicians: map[int64]*catalog.Technician{
			3: {ID: 3, Name: "R. Mora", IsActive: true},
			4: {ID: 4, Name: "Retired Tech"},
		},
		config: catalog.CompanyConfig{DefaultTaxPercent: 13},
	}
}

func (m *mockCatalog) Client(ctx context.Context, id int64) (*catalog.Client, error) {
	c, ok := m.clients[id]
	if !ok {
		return nil, fmt.Errorf("%w: client %d", shared.ErrNotFound, id)
	}
	return c, nil
}

func (m *mockCatalog) Item(ctx context.Context, id int64) (*catalog.Item, error) {
	it, ok := m.items[id]
	if !ok {
		return nil, fmt.Errorf("%w: item %d", shared.ErrNotFound, id)
	}
	return it, nil
}

func (m *mockCatalog) Technician(ctx context.Context, id int64) (*catalog.Technician, error) {
	t, ok := m.technicians[id]
	if !ok {
		return nil, fmt.Errorf("%w: technician %d", shared.ErrNotFound, id)
	}
	return t, nil
}

func (m *mockCatalog) Config(ctx context.Context) (*catalog.CompanyConfig, error) {
	cfg := m.config
	return &cfg, nil
}

type mockRequestSource struct {
	requests map[int64]*requests.Request
}

func (m *mockRequestSource) Get(ctx context.Context, id int64) (*requests.Request, error) {
	r, ok := m.requests[id]
	if !ok {
		return nil, fmt.Errorf("%w: request %d", shared.ErrNotFound, id)
	}
	return r, nil
}

type mockGate struct {
	err   error
	calls int
}

func (m *mockGate) CanDeliver(ctx context.Context, orderID int64) error {
	m.calls++
	return m.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func authorizedRequest(id int64) *requests.Request {
	desc := "Filter replacement"
	return &requests.Request{
		ID:             id,
		DocNumber:      fmt.Sprintf("SOL-%06d", id),
		ClientID:       1,
		Status:         requests.StatusAuthorized,
		TaxPercent:     13,
		Subtotal:       25.00,
		DiscountAmount: 0.50,
		TaxAmount:      3.19,
		TotalAmount:    27.69,
		Lines: []requests.RequestLine{
			{ItemID: 10, Description: &desc, Quantity: 2, UnitPrice: 10, LineTotal: 20, LineOrder: 1},
			{ItemID: 11, Quantity: 1, UnitPrice: 5, DiscountPercent: 10, DiscountAmount: 0.50, LineTotal: 4.50, LineOrder: 2},
		},
	}
}

func newTestService() (*Service, *mockRepository, *mockCatalog, *mockRequestSource) {
	repo := newMockRepository()
	cat := newMockCatalog()
	src := &mockRequestSource{requests: map[int64]*requests.Request{1: authorizedRequest(1)}}
	return NewService(repo, cat, src, testLogger()), repo, cat, src
}

func createTestOrder(t *testing.T, svc *Service, repo *mockRepository) *ServiceOrder {
	t.Helper()
	require.NoError(t, svc.GenerateFromRequest(context.Background(), 1, 1))
	order, err := svc.Get(context.Background(), repo.byRequest[1])
	require.NoError(t, err)
	return order
}

func deliveredInput() DeliverOrderInput {
	return DeliverOrderInput{ReceivedBy: "J. Vargas"}
}

func TestGenerateFromRequestCopiesLinesAndTotals(t *testing.T) {
	svc, repo, _, _ := newTestService()

	order := createTestOrder(t, svc, repo)

	assert.Equal(t, "ORD-000001", order.DocNumber)
	assert.Equal(t, StatusPending, order.Status)
	require.NotNil(t, order.RequestID)
	assert.Equal(t, int64(1), *order.RequestID)
	assert.InDelta(t, 27.69, order.TotalAmount, 0.001)
	require.Len(t, order.Lines, 2)
	assert.InDelta(t, 20.00, order.Lines[0].LineTotal, 0.001)
	assert.InDelta(t, 4.50, order.Lines[1].LineTotal, 0.001)
}

func TestGenerateFromUnauthorizedRequestFails(t *testing.T) {
	svc, _, _, src := newTestService()
	src.requests[1].Status = requests.StatusDraft

	err := svc.GenerateFromRequest(context.Background(), 1, 1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, shared.ErrStateConflict))
}

func TestGenerateTwiceFails(t *testing.T) {
	svc, repo, _, _ := newTestService()
	createTestOrder(t, svc, repo)

	err := svc.GenerateFromRequest(context.Background(), 1, 1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, shared.ErrStateConflict))
}

func TestCreateStandaloneOrder(t *testing.T) {
	svc, _, _, _ := newTestService()

	order, err := svc.Create(context.Background(), CreateOrderInput{
		ClientID: 1,
		Lines:    []CreateOrderLineInput{{ItemID: 10, Quantity: 2, UnitPrice: 10}},
	}, 1)
	require.NoError(t, err)

	assert.Equal(t, "ORD-000001", order.DocNumber)
	assert.Equal(t, StatusPending, order.Status)
	assert.Nil(t, order.RequestID)
	assert.InDelta(t, 20.00, order.Subtotal, 0.001)
	assert.InDelta(t, 2.60, order.TaxAmount, 0.001)
	assert.InDelta(t, 22.60, order.TotalAmount, 0.001)
}

func TestAssignTechnician(t *testing.T) {
	svc, repo, _, _ := newTestService()
	order := createTestOrder(t, svc, repo)

	assigned, err := svc.AssignTechnician(context.Background(), order.ID, AssignTechnicianInput{TechnicianID: 3}, 1)
	require.NoError(t, err)
	assert.Equal(t, StatusAssigned, assigned.Status)
	require.NotNil(t, assigned.TechnicianID)
	assert.Equal(t, int64(3), *assigned.TechnicianID)
	require.Len(t, assigned.History, 1)
	assert.Equal(t, StatusPending, assigned.History[0].FromStatus)
	assert.Equal(t, StatusAssigned, assigned.History[0].ToStatus)
}

func TestAssignInactiveTechnicianFails(t *testing.T) {
	svc, repo, _, _ := newTestService()
	order := createTestOrder(t, svc, repo)

	_, err := svc.AssignTechnician(context.Background(), order.ID, AssignTechnicianInput{TechnicianID: 4}, 1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, shared.ErrValidation))
}

func TestReassignKeepsAssignedStatus(t *testing.T) {
	svc, repo, cat, _ := newTestService()
	cat.technicians[5] = &catalog.Technician{ID: 5, Name: "L. Pinto", IsActive: true}
	order := createTestOrder(t, svc, repo)

	_, err := svc.AssignTechnician(context.Background(), order.ID, AssignTechnicianInput{TechnicianID: 3}, 1)
	require.NoError(t, err)
	reassigned, err := svc.AssignTechnician(context.Background(), order.ID, AssignTechnicianInput{TechnicianID: 5}, 1)
	require.NoError(t, err)

	assert.Equal(t, StatusAssigned, reassigned.Status)
	assert.Equal(t, int64(5), *reassigned.TechnicianID)
	assert.Len(t, reassigned.History, 1)
}

func TestStartDirectlyFromPending(t *testing.T) {
	svc, repo, _, _ := newTestService()
	order := createTestOrder(t, svc, repo)

	started, err := svc.Start(context.Background(), order.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, started.Status)
	assert.NotNil(t, started.StartedAt)
}

func TestReassignWhileInProgress(t *testing.T) {
	svc, repo, _, _ := newTestService()
	order := createTestOrder(t, svc, repo)

	_, err := svc.Start(context.Background(), order.ID, 1)
	require.NoError(t, err)

	reassigned, err := svc.AssignTechnician(context.Background(), order.ID, AssignTechnicianInput{TechnicianID: 3}, 1)
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, reassigned.Status)
	require.NotNil(t, reassigned.TechnicianID)
	assert.Equal(t, int64(3), *reassigned.TechnicianID)
}

func TestAssignLockedOrderFails(t *testing.T) {
	svc, repo, _, _ := newTestService()
	order := completeTestOrder(t, svc, repo)

	_, err := svc.AssignTechnician(context.Background(), order.ID, AssignTechnicianInput{TechnicianID: 3}, 1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, shared.ErrStateConflict))
}

func TestCompleteRecordsNote(t *testing.T) {
	svc, repo, _, _ := newTestService()
	order := createTestOrder(t, svc, repo)

	_, err := svc.Start(context.Background(), order.ID, 1)
	require.NoError(t, err)

	note := "replaced both filters, unit running within spec"
	completed, err := svc.Complete(context.Background(), order.ID, 3, CompleteOrderInput{Note: &note})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, completed.Status)
	assert.NotNil(t, completed.CompletedAt)

	last := completed.History[len(completed.History)-1]
	require.NotNil(t, last.Note)
	assert.Equal(t, note, *last.Note)
}

func TestCompletePendingFails(t *testing.T) {
	svc, repo, _, _ := newTestService()
	order := createTestOrder(t, svc, repo)

	_, err := svc.Complete(context.Background(), order.ID, 1, CompleteOrderInput{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, shared.ErrStateConflict))
}

func completeTestOrder(t *testing.T, svc *Service, repo *mockRepository) *ServiceOrder {
	t.Helper()
	order := createTestOrder(t, svc, repo)
	_, err := svc.Start(context.Background(), order.ID, 1)
	require.NoError(t, err)
	completed, err := svc.Complete(context.Background(), order.ID, 1, CompleteOrderInput{})
	require.NoError(t, err)
	return completed
}

func TestDeliverCompletedOrder(t *testing.T) {
	svc, repo, _, _ := newTestService()
	order := completeTestOrder(t, svc, repo)

	delivered, err := svc.Deliver(context.Background(), order.ID, deliveredInput(), 1)
	require.NoError(t, err)
	assert.Equal(t, StatusDelivered, delivered.Status)

	cert, err := svc.DeliveryFor(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, "ENT-000001", cert.DocNumber)
	assert.Equal(t, "J. Vargas", cert.ReceivedBy)
}

func TestDeliverTwiceFails(t *testing.T) {
	svc, repo, _, _ := newTestService()
	order := completeTestOrder(t, svc, repo)

	_, err := svc.Deliver(context.Background(), order.ID, deliveredInput(), 1)
	require.NoError(t, err)
	_, err = svc.Deliver(context.Background(), order.ID, deliveredInput(), 1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, shared.ErrStateConflict))
}

func TestDeliverBeforeCompleteFails(t *testing.T) {
	svc, repo, _, _ := newTestService()
	order := createTestOrder(t, svc, repo)

	_, err := svc.Deliver(context.Background(), order.ID, deliveredInput(), 1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, shared.ErrStateConflict))
}

func TestDeliverBlockedByPaymentGate(t *testing.T) {
	svc, repo, cat, _ := newTestService()
	cat.config.RequiresPaymentBeforeDelivery = true
	gate := &mockGate{err: fmt.Errorf("%w: order has a pending balance", shared.ErrValidation)}
	svc.SetDeliveryGate(gate)

	order := completeTestOrder(t, svc, repo)

	_, err := svc.Deliver(context.Background(), order.ID, deliveredInput(), 1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, shared.ErrValidation))
	assert.Equal(t, 1, gate.calls)
}

func TestDeliverPassesPaymentGate(t *testing.T) {
	svc, repo, cat, _ := newTestService()
	cat.config.RequiresPaymentBeforeDelivery = true
	gate := &mockGate{}
	svc.SetDeliveryGate(gate)

	order := completeTestOrder(t, svc, repo)

	delivered, err := svc.Deliver(context.Background(), order.ID, deliveredInput(), 1)
	require.NoError(t, err)
	assert.Equal(t, StatusDelivered, delivered.Status)
	assert.Equal(t, 1, gate.calls)
}

func TestHistoryAccumulatesAcrossLifecycle(t *testing.T) {
	svc, repo, _, _ := newTestService()
	order := createTestOrder(t, svc, repo)

	_, err := svc.AssignTechnician(context.Background(), order.ID, AssignTechnicianInput{TechnicianID: 3}, 1)
	require.NoError(t, err)
	_, err = svc.Start(context.Background(), order.ID, 3)
	require.NoError(t, err)
	_, err = svc.Complete(context.Background(), order.ID, 3, CompleteOrderInput{})
	require.NoError(t, err)
	final, err := svc.Deliver(context.Background(), order.ID, deliveredInput(), 1)
	require.NoError(t, err)

	require.Len(t, final.History, 4)
	assert.Equal(t, StatusAssigned, final.History[0].ToStatus)
	assert.Equal(t, StatusInProgress, final.History[1].ToStatus)
	assert.Equal(t, StatusCompleted, final.History[2].ToStatus)
	assert.Equal(t, StatusDelivered, final.History[3].ToStatus)
}
