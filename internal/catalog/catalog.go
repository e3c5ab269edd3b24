package catalog

import (
	"context"
	"errors"
	"time"

	"kasirpro/backend/internal/apperr"
	"kasirpro/backend/internal/cache"
	"kasirpro/backend/internal/domain"
	"kasirpro/backend/internal/logger"
	"kasirpro/backend/internal/store"
)

// Lookup resolves sellable items for a store. Only metadata goes through the
// cache; stock is read by the stock ledger.
type Lookup struct {
	repo  store.CatalogReader
	cache cache.CatalogCache
	ttl   time.Duration
	log   *logger.Logger
}

func New(repo store.CatalogReader, c cache.CatalogCache, ttl time.Duration, log *logger.Logger) *Lookup {
	if c == nil {
		c = cache.NoopCatalogCache{}
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Lookup{repo: repo, cache: c, ttl: ttl, log: log}
}

func (l *Lookup) Product(ctx context.Context, storeID string, id string) (*domain.CatalogItem, error) {
	return l.item(ctx, domain.KindProduct, storeID, id)
}

func (l *Lookup) Service(ctx context.Context, storeID string, id string) (*domain.CatalogItem, error) {
	return l.item(ctx, domain.KindService, storeID, id)
}

func (l *Lookup) item(ctx context.Context, kind domain.ItemKind, storeID string, id string) (*domain.CatalogItem, error) {
	key := cache.CatalogKey(kind, id)
	cached, ok, err := l.cache.Get(ctx, key)
	if err != nil {
		l.log.Warn(l.log.WithField(ctx, "cache_key", key), "catalog cache read failed", err)
	}
	if ok && cached != nil {
		return ownedBy(cached, kind, storeID, id)
	}

	item, err := l.repo.GetCatalogItem(ctx, kind, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, notFound(kind, id)
		}
		return nil, apperr.Wrap(apperr.CodeDependency, err, "catalog lookup failed")
	}

	if l.ttl > 0 {
		if err := l.cache.Set(ctx, key, item, l.ttl); err != nil {
			l.log.Warn(l.log.WithField(ctx, "cache_key", key), "catalog cache write failed", err)
		}
	}
	return ownedBy(item, kind, storeID, id)
}

func ownedBy(item *domain.CatalogItem, kind domain.ItemKind, storeID string, id string) (*domain.CatalogItem, error) {
	if item.Kind != kind || (storeID != "" && item.StoreID != storeID) {
		return nil, notFound(kind, id)
	}
	return item, nil
}

func notFound(kind domain.ItemKind, id string) error {
	return apperr.Newf(apperr.CodeNotFound, "%s not found", kind).With(string(kind), id)
}
