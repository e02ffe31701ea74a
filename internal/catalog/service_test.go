package catalog

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldserve-erp/fieldserve-erp/internal/shared"
)

type mockRepository struct {
	clients     map[int64]*Client
	registers   map[int64]*Register
	users       map[int64]*User
	config      *CompanyConfig
	configLoads int
}

func newMockRepository() *mockRepository {
	return &mockRepository{
		clients:   make(map[int64]*Client),
		registers: make(map[int64]*Register),
		users:     make(map[int64]*User),
		config: &CompanyConfig{
			RequiresAuthorizationThreshold: 1000,
			MinimumAdvancePercent:          50,
			DefaultTaxPercent:              13,
		},
	}
}

func (m *mockRepository) GetClient(ctx context.Context, id int64) (*Client, error) {
	c, ok := m.clients[id]
	if !ok {
		return nil, fmt.Errorf("%w: client %d", shared.ErrNotFound, id)
	}
	return c, nil
}

func (m *mockRepository) GetItem(ctx context.Context, id int64) (*Item, error) {
	return nil, fmt.Errorf("%w: item %d", shared.ErrNotFound, id)
}

func (m *mockRepository) GetPaymentMethod(ctx context.Context, id int64) (*PaymentMethod, error) {
	return nil, fmt.Errorf("%w: payment method %d", shared.ErrNotFound, id)
}

func (m *mockRepository) GetTechnician(ctx context.Context, id int64) (*Technician, error) {
	return nil, fmt.Errorf("%w: technician %d", shared.ErrNotFound, id)
}

func (m *mockRepository) GetUser(ctx context.Context, id int64) (*User, error) {
	u, ok := m.users[id]
	if !ok {
		return nil, fmt.Errorf("%w: user %d", shared.ErrNotFound, id)
	}
	return u, nil
}

func (m *mockRepository) UserHasPermission(ctx context.Context, userID int64, permission string) (bool, error) {
	u, ok := m.users[userID]
	if !ok {
		return false, nil
	}
	for _, p := range u.Permissions {
		if p == permission {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockRepository) GetRegister(ctx context.Context, id int64) (*Register, error) {
	reg, ok := m.registers[id]
	if !ok {
		return nil, fmt.Errorf("%w: register %d", shared.ErrNotFound, id)
	}
	return reg, nil
}

func (m *mockRepository) LoadConfig(ctx context.Context) (*CompanyConfig, error) {
	m.configLoads++
	cfg := *m.config
	return &cfg, nil
}

func newTestCache(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func TestConfigCachedAfterFirstLoad(t *testing.T) {
	repo := newMockRepository()
	svc := NewService(repo, newTestCache(t), nil)
	ctx := context.Background()

	first, err := svc.Config(ctx)
	require.NoError(t, err)
	second, err := svc.Config(ctx)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, repo.configLoads)
}

func TestInvalidateConfigForcesReload(t *testing.T) {
	repo := newMockRepository()
	svc := NewService(repo, newTestCache(t), nil)
	ctx := context.Background()

	_, err := svc.Config(ctx)
	require.NoError(t, err)
	svc.InvalidateConfig(ctx)
	_, err = svc.Config(ctx)
	require.NoError(t, err)

	assert.Equal(t, 2, repo.configLoads)
}

func TestConfigWithoutCache(t *testing.T) {
	repo := newMockRepository()
	svc := NewService(repo, nil, nil)
	ctx := context.Background()

	_, err := svc.Config(ctx)
	require.NoError(t, err)
	_, err = svc.Config(ctx)
	require.NoError(t, err)

	assert.Equal(t, 2, repo.configLoads)
}

func TestClientNotFound(t *testing.T) {
	svc := NewService(newMockRepository(), nil, nil)

	_, err := svc.Client(context.Background(), 99)
	require.Error(t, err)
	assert.True(t, errors.Is(err, shared.ErrNotFound))
}

func TestUserHasPermission(t *testing.T) {
	repo := newMockRepository()
	repo.users[7] = &User{ID: 7, Name: "Supervisor", IsActive: true, Permissions: []string{PermCloseWithDifference}}
	repo.users[8] = &User{ID: 8, Name: "Cashier", IsActive: true}
	svc := NewService(repo, nil, nil)
	ctx := context.Background()

	ok, err := svc.UserHasPermission(ctx, 7, PermCloseWithDifference)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = svc.UserHasPermission(ctx, 8, PermCloseWithDifference)
	require.NoError(t, err)
	assert.False(t, ok)
}
