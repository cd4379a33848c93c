package cache

import (
	"context"
	"time"

	"shopstack/backend/internal/domain"
)

// ProductCache memoizes barcode lookups so checkout scans avoid a
// repository round trip for hot products.
type ProductCache interface {
	Get(ctx context.Context, key string) (*domain.Product, bool, error)
	Set(ctx context.Context, key string, value *domain.Product, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

type NoopProductCache struct{}

func (NoopProductCache) Get(_ context.Context, _ string) (*domain.Product, bool, error) {
	return nil, false, nil
}

func (NoopProductCache) Set(_ context.Context, _ string, _ *domain.Product, _ time.Duration) error {
	return nil
}

func (NoopProductCache) Delete(_ context.Context, _ ...string) error {
	return nil
}
