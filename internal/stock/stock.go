package stock

import (
	"context"
	"errors"
	"time"

	"kasirpro/backend/internal/apperr"
	"kasirpro/backend/internal/domain"
	"kasirpro/backend/internal/store"
)

// Ledger reads on-hand quantities. Decrements only happen inside the sale
// commit; restock is the one other writer.
type Ledger struct {
	repo store.StockRepository
}

func New(repo store.StockRepository) *Ledger {
	return &Ledger{repo: repo}
}

func (l *Ledger) Level(ctx context.Context, productID string) (int, error) {
	qty, err := l.repo.GetStockLevel(ctx, productID)
	if err != nil {
		return 0, translate(err, productID)
	}
	return qty, nil
}

// Ensure fails with OUT_OF_STOCK when qty exceeds the current level.
func (l *Ledger) Ensure(ctx context.Context, productID string, qty int) error {
	available, err := l.Level(ctx, productID)
	if err != nil {
		return err
	}
	if qty > available {
		return apperr.New(apperr.CodeOutOfStock, "requested quantity exceeds stock").WithDetails(map[string]any{
			"product":   productID,
			"requested": qty,
			"available": available,
		})
	}
	return nil
}

func (l *Ledger) Restock(ctx context.Context, productID string, qty int) (domain.StockLevel, error) {
	if qty < 1 {
		return domain.StockLevel{}, apperr.New(apperr.CodeValidation, "quantity must be at least 1").With("quantity", qty)
	}
	updated, err := l.repo.IncreaseStock(ctx, productID, qty)
	if err != nil {
		return domain.StockLevel{}, translate(err, productID)
	}
	return domain.StockLevel{ProductID: productID, Quantity: updated, UpdatedAt: time.Now().UTC()}, nil
}

func translate(err error, productID string) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return apperr.New(apperr.CodeNotFound, "product not found").With("product", productID)
	case errors.Is(err, store.ErrInvalidInput):
		return apperr.Wrap(apperr.CodeValidation, err, "invalid stock change")
	default:
		return apperr.Wrap(apperr.CodeDependency, err, "stock lookup failed")
	}
}
