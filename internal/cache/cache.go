package cache

import (
	"context"
	"time"

	"kasirpro/backend/internal/domain"
)

// CatalogCache holds catalog metadata only. Stock levels are never cached.
type CatalogCache interface {
	Get(ctx context.Context, key string) (*domain.CatalogItem, bool, error)
	Set(ctx context.Context, key string, value *domain.CatalogItem, ttl time.Duration) error
}

type NoopCatalogCache struct{}

func (NoopCatalogCache) Get(_ context.Context, _ string) (*domain.CatalogItem, bool, error) {
	return nil, false, nil
}

func (NoopCatalogCache) Set(_ context.Context, _ string, _ *domain.CatalogItem, _ time.Duration) error {
	return nil
}

func CatalogKey(kind domain.ItemKind, id string) string {
	return "kasirpro:catalog:" + string(kind) + ":" + id
}
