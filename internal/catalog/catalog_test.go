package catalog

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kasirpro/backend/internal/apperr"
	"kasirpro/backend/internal/domain"
	"kasirpro/backend/internal/store/memory"
)

type mapCache struct {
	items  map[string]*domain.CatalogItem
	getErr error
	sets   int
}

func (c *mapCache) Get(_ context.Context, key string) (*domain.CatalogItem, bool, error) {
	if c.getErr != nil {
		return nil, false, c.getErr
	}
	item, ok := c.items[key]
	return item, ok, nil
}

func (c *mapCache) Set(_ context.Context, key string, value *domain.CatalogItem, _ time.Duration) error {
	c.items[key] = value
	c.sets++
	return nil
}

func TestLookupProductAndService(t *testing.T) {
	lookup := New(memory.NewSeeded(), nil, 0, nil)
	ctx := context.Background()

	product, err := lookup.Product(ctx, memory.SeedStoreID, memory.SeedPomadeID)
	require.NoError(t, err)
	assert.Equal(t, int64(85000), product.Price)

	service, err := lookup.Service(ctx, memory.SeedStoreID, memory.SeedCreambathID)
	require.NoError(t, err)
	assert.True(t, service.RequiresStaff)
	assert.Equal(t, 60, service.DurationMinutes)
}

func TestLookupNotFoundCases(t *testing.T) {
	lookup := New(memory.NewSeeded(), nil, 0, nil)
	ctx := context.Background()

	cases := []struct {
		name string
		call func() error
	}{
		{"unknown id", func() error { _, err := lookup.Product(ctx, memory.SeedStoreID, "prd-missing"); return err }},
		{"wrong kind", func() error { _, err := lookup.Service(ctx, memory.SeedStoreID, memory.SeedPomadeID); return err }},
		{"other store", func() error { _, err := lookup.Product(ctx, "branch-2", memory.SeedPomadeID); return err }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.call()
			assert.True(t, apperr.Is(err, apperr.CodeNotFound), "got %v", err)
		})
	}
}

func TestLookupUsesCacheAndSurvivesCacheErrors(t *testing.T) {
	ctx := context.Background()
	c := &mapCache{items: map[string]*domain.CatalogItem{}}
	lookup := New(memory.NewSeeded(), c, time.Minute, nil)

	_, err := lookup.Product(ctx, memory.SeedStoreID, memory.SeedTonicID)
	require.NoError(t, err)
	assert.Equal(t, 1, c.sets)

	_, err = lookup.Product(ctx, memory.SeedStoreID, memory.SeedTonicID)
	require.NoError(t, err)
	assert.Equal(t, 1, c.sets, "second read should be served from cache")

	c.getErr = errors.New("redis down")
	item, err := lookup.Product(ctx, memory.SeedStoreID, memory.SeedTonicID)
	require.NoError(t, err)
	assert.Equal(t, "Hair Tonic", item.Name)
}
