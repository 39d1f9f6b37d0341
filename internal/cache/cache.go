package cache

import (
	"context"
	"time"

	"muscleup/backend/internal/domain"
)

type CatalogCache interface {
	Get(ctx context.Context, key string) ([]domain.CommissionRate, bool, error)
	Set(ctx context.Context, key string, rates []domain.CommissionRate, ttl time.Duration) error
	Invalidate(ctx context.Context, key string) error
}

type NoopCatalogCache struct{}

func (NoopCatalogCache) Get(_ context.Context, _ string) ([]domain.CommissionRate, bool, error) {
	return nil, false, nil
}

func (NoopCatalogCache) Set(_ context.Context, _ string, _ []domain.CommissionRate, _ time.Duration) error {
	return nil
}

func (NoopCatalogCache) Invalidate(_ context.Context, _ string) error {
	return nil
}
