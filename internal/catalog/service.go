package catalog

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const configCacheKey = "catalog:company_config"

// Service fronts the repository and caches the company configuration
// snapshot. All other lookups pass straight through: master data reads are
// cheap and correctness-sensitive.
type Service struct {
	repo     Repository
	cache    *redis.Client
	cacheTTL time.Duration
	logger   *slog.Logger
}

// NewService builds the catalog service. cache may be nil; lookups then
// always hit the repository.
func NewService(repo Repository, cache *redis.Client, logger *slog.Logger) *Service {
	return &Service{repo: repo, cache: cache, cacheTTL: time.Minute, logger: logger}
}

// Client returns the client by ID.
func (s *Service) Client(ctx context.Context, id int64) (*Client, error) {
	return s.repo.GetClient(ctx, id)
}

// Item returns the item by ID.
func (s *Service) Item(ctx context.Context, id int64) (*Item, error) {
	return s.repo.GetItem(ctx, id)
}

// PaymentMethod returns the payment method by ID.
func (s *Service) PaymentMethod(ctx context.Context, id int64) (*PaymentMethod, error) {
	return s.repo.GetPaymentMethod(ctx, id)
}

// Technician returns the technician by ID.
func (s *Service) Technician(ctx context.Context, id int64) (*Technician, error) {
	return s.repo.GetTechnician(ctx, id)
}

// User returns the user by ID.
func (s *Service) User(ctx context.Context, id int64) (*User, error) {
	return s.repo.GetUser(ctx, id)
}

// UserHasPermission reports whether the user holds the capability.
func (s *Service) UserHasPermission(ctx context.Context, userID int64, permission string) (bool, error) {
	return s.repo.UserHasPermission(ctx, userID, permission)
}

// Register returns the register by ID.
func (s *Service) Register(ctx context.Context, id int64) (*Register, error) {
	return s.repo.GetRegister(ctx, id)
}

// Config returns the company configuration snapshot, served from cache
// when fresh. A stale snapshot of up to the TTL is acceptable: thresholds
// change through administration, not mid-operation.
func (s *Service) Config(ctx context.Context) (*CompanyConfig, error) {
	if s.cache != nil {
		raw, err := s.cache.Get(ctx, configCacheKey).Bytes()
		if err == nil {
			var cfg CompanyConfig
			if err := json.Unmarshal(raw, &cfg); err == nil {
				return &cfg, nil
			}
		} else if err != redis.Nil && s.logger != nil {
			s.logger.Warn("config cache read", slog.Any("error", err))
		}
	}

	cfg, err := s.repo.LoadConfig(ctx)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if raw, err := json.Marshal(cfg); err == nil {
			if err := s.cache.Set(ctx, configCacheKey, raw, s.cacheTTL).Err(); err != nil && s.logger != nil {
				s.logger.Warn("config cache write", slog.Any("error", err))
			}
		}
	}
	return cfg, nil
}

// InvalidateConfig drops the cached snapshot after settings change.
func (s *Service) InvalidateConfig(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Del(ctx, configCacheKey).Err(); err != nil && s.logger != nil {
		s.logger.Warn("config cache invalidate", slog.Any("error", err))
	}
}
