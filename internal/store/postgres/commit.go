package postgres

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"time"

	"github.com/sethvargo/go-retry"

	"kasirpro/backend/internal/domain"
	"kasirpro/backend/internal/store"
)

const (
	invoiceConstraint     = "transactions_invoice_key"
	appointmentConstraint = "transactions_appointment_id_key"
	commitRetries         = 4
)

// CommitSale moves the owner's active cart into a transaction in one
// serializable unit: stock is checked and decremented under row locks, the
// committed lines are removed and a linked appointment is settled. Any
// failure leaves every table untouched.
func (s *Store) CommitSale(ctx context.Context, c store.SaleCommit) (*domain.Transaction, error) {
	if c.TransactionID == "" || c.Invoice == "" || c.Owner == "" {
		return nil, store.ErrInvalidInput
	}

	var committed *domain.Transaction
	backoff := retry.WithMaxRetries(commitRetries, retry.NewConstant(20*time.Millisecond))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		tx, err := s.commitSaleOnce(ctx, c)
		if err != nil {
			if isSerializationFailure(err) {
				return retry.RetryableError(err)
			}
			return err
		}
		committed = tx
		return nil
	})
	if err != nil {
		return nil, err
	}
	return committed, nil
}

func (s *Store) commitSaleOnce(ctx context.Context, c store.SaleCommit) (*domain.Transaction, error) {
	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	lines, err := queryCartLines(ctx, pgTx, `
		SELECT `+cartLineColumns+`
		FROM cart_lines
		WHERE owner_id = $1 AND hold_id IS NULL
		ORDER BY created_at, id
		FOR UPDATE
	`, c.Owner)
	if err != nil {
		return nil, err
	}
	if len(lines) == 0 {
		return nil, store.ErrEmptyCart
	}

	if c.AppointmentID != "" {
		if err := lockAppointment(ctx, pgTx, c.AppointmentID); err != nil {
			return nil, err
		}
	}

	totals, err := domain.ComputeTotals(lines, c.Discount, c.Cash, c.CashSale())
	if err != nil {
		return nil, err
	}

	demand := store.ProductDemand(lines)
	available, buyPrices, err := lockStock(ctx, pgTx, demand)
	if err != nil {
		return nil, err
	}
	for _, line := range lines {
		if line.Kind != domain.KindProduct {
			continue
		}
		if available[line.CatalogID] < demand[line.CatalogID] {
			return nil, &store.StockShortageError{
				LineID:    line.ID,
				ProductID: line.CatalogID,
				Requested: demand[line.CatalogID],
				Available: available[line.CatalogID],
			}
		}
	}

	now := c.CreatedAt
	if now.IsZero() {
		now = time.Now().UTC()
	}
	if c.CustomerID == "" {
		c.CustomerID = store.CustomerFromLines(lines)
	}
	tx := store.AssembleTransaction(c, lines, totals, buyPrices, now)

	if err := insertTransaction(ctx, pgTx, tx); err != nil {
		return nil, err
	}

	for productID, qty := range demand {
		if _, err := pgTx.ExecContext(ctx, `
			UPDATE stock_levels SET quantity = quantity - $1, updated_at = now() WHERE product_id = $2
		`, qty, productID); err != nil {
			return nil, err
		}
	}

	lineIDs := make([]string, 0, len(lines))
	for _, line := range lines {
		lineIDs = append(lineIDs, line.ID)
	}
	if _, err := pgTx.ExecContext(ctx, `DELETE FROM cart_lines WHERE id = ANY($1)`, lineIDs); err != nil {
		return nil, err
	}

	if c.AppointmentID != "" {
		if _, err := markSettled(ctx, pgTx, c.AppointmentID, now); err != nil {
			return nil, err
		}
	}

	if err := pgTx.Commit(); err != nil {
		return nil, mapUniqueViolation(err)
	}
	return &tx, nil
}

func lockAppointment(ctx context.Context, pgTx *sql.Tx, appointmentID string) error {
	var id string
	err := pgTx.QueryRowContext(ctx, `
		SELECT id FROM appointments WHERE id = $1 FOR UPDATE
	`, appointmentID).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.ErrNotFound
		}
		return err
	}

	var converted bool
	if err := pgTx.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM transactions WHERE appointment_id = $1)
	`, appointmentID).Scan(&converted); err != nil {
		return err
	}
	if converted {
		return store.ErrAlreadyConverted
	}
	return nil
}

// lockStock locks the stock rows of every demanded product in id order and
// returns the on-hand quantities with each product's buy price.
func lockStock(ctx context.Context, pgTx *sql.Tx, demand map[string]int) (map[string]int, map[string]int64, error) {
	available := make(map[string]int, len(demand))
	buyPrices := make(map[string]int64, len(demand))
	if len(demand) == 0 {
		return available, buyPrices, nil
	}

	productIDs := make([]string, 0, len(demand))
	for productID := range demand {
		productIDs = append(productIDs, productID)
	}
	sort.Strings(productIDs)

	rows, err := pgTx.QueryContext(ctx, `
		SELECT sl.product_id, sl.quantity, ci.buy_price
		FROM stock_levels sl
		JOIN catalog_items ci ON ci.id = sl.product_id
		WHERE sl.product_id = ANY($1)
		ORDER BY sl.product_id
		FOR UPDATE OF sl
	`, productIDs)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var productID string
		var qty int
		var buyPrice int64
		if err := rows.Scan(&productID, &qty, &buyPrice); err != nil {
			return nil, nil, err
		}
		available[productID] = qty
		buyPrices[productID] = buyPrice
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}
	return available, buyPrices, nil
}

func insertTransaction(ctx context.Context, pgTx *sql.Tx, tx domain.Transaction) error {
	_, err := pgTx.ExecContext(ctx, `
		INSERT INTO transactions (
			id, invoice, store_id, cashier_id, customer_id, appointment_id, merchant_id,
			subtotal, discount, grand_total, cash_tendered, change_given,
			payment_method, payment_status, payment_reference, payment_url, created_at, updated_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
	`, tx.ID, tx.Invoice, tx.StoreID, tx.CashierID, nullIfEmpty(tx.CustomerID), nullIfEmpty(tx.AppointmentID), nullIfEmpty(tx.MerchantID),
		tx.Subtotal, tx.Discount, tx.GrandTotal, tx.CashTendered, tx.ChangeGiven,
		tx.PaymentMethod, tx.PaymentStatus, nullIfEmpty(tx.PaymentReference), nullIfEmpty(tx.PaymentURL), tx.CreatedAt, tx.UpdatedAt)
	if err != nil {
		return mapUniqueViolation(err)
	}

	for i, line := range tx.Lines {
		if _, err := pgTx.ExecContext(ctx, `
			INSERT INTO transaction_lines (id, transaction_id, position, kind, catalog_id, name, staff_id, quantity, price, duration, total)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		`, line.ID, tx.ID, i+1, string(line.Kind), line.CatalogID, line.Name, nullIfEmpty(line.StaffID), line.Quantity, line.Price, line.Duration, line.Total); err != nil {
			return err
		}
	}
	for _, record := range tx.Profits {
		if _, err := pgTx.ExecContext(ctx, `
			INSERT INTO profit_records (line_id, transaction_id, kind, catalog_id, quantity, sell_price, buy_price, total)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		`, record.LineID, tx.ID, string(record.Kind), record.CatalogID, record.Quantity, record.SellPrice, record.BuyPrice, record.Total); err != nil {
			return err
		}
	}
	return nil
}

func mapUniqueViolation(err error) error {
	switch uniqueConstraint(err) {
	case invoiceConstraint:
		return store.ErrDuplicateInvoice
	case appointmentConstraint:
		return store.ErrAlreadyConverted
	default:
		return err
	}
}
