package store

import (
	"fmt"
	"time"

	"kasirpro/backend/internal/domain"
)

// AssembleTransaction snapshots the locked cart lines into the transaction
// aggregate. buyPrices holds the cost basis of every product line.
func AssembleTransaction(c SaleCommit, lines []domain.CartLine, totals domain.Totals, buyPrices map[string]int64, now time.Time) domain.Transaction {
	tx := domain.Transaction{
		ID:            c.TransactionID,
		Invoice:       c.Invoice,
		StoreID:       c.StoreID,
		CashierID:     c.Owner,
		CustomerID:    c.CustomerID,
		AppointmentID: c.AppointmentID,
		MerchantID:    c.MerchantID,
		Subtotal:      totals.Subtotal,
		Discount:      totals.Discount,
		GrandTotal:    totals.GrandTotal,
		CashTendered:  totals.CashTendered,
		ChangeGiven:   totals.ChangeGiven,
		PaymentMethod: c.PaymentMethod,
		PaymentStatus: c.PaymentStatus,
		CreatedAt:     now,
		UpdatedAt:     now,
		Lines:         make([]domain.TransactionLine, 0, len(lines)),
		Profits:       make([]domain.ProfitRecord, 0, len(lines)),
	}
	for i, line := range lines {
		snapshot := domain.SnapshotLine(fmt.Sprintf("%s-%02d", c.TransactionID, i+1), line)
		tx.Lines = append(tx.Lines, snapshot)
		tx.Profits = append(tx.Profits, domain.Profit(snapshot, buyPrices[line.CatalogID]))
	}
	return tx
}

// ProductDemand sums the requested quantity per product across lines.
func ProductDemand(lines []domain.CartLine) map[string]int {
	demand := make(map[string]int, len(lines))
	for _, line := range lines {
		if line.Kind == domain.KindProduct {
			demand[line.CatalogID] += line.Quantity
		}
	}
	return demand
}

// CustomerFromLines picks the customer linked on the cart when the request
// did not name one.
func CustomerFromLines(lines []domain.CartLine) string {
	for _, line := range lines {
		if line.CustomerID != "" {
			return line.CustomerID
		}
	}
	return ""
}
