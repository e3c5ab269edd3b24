package domain

import "errors"

var (
	ErrDiscountExceedsSubtotal = errors.New("discount exceeds subtotal")
	ErrCashBelowTotal          = errors.New("cash tendered is below grand total")
)

// Totals are the money figures of one sale.
type Totals struct {
	Subtotal     int64
	Discount     int64
	GrandTotal   int64
	CashTendered int64
	ChangeGiven  int64
}

// ComputeTotals derives the sale figures from the committed lines. A cash sale
// with zero tender is treated as exact tender; non-cash sales record no cash.
func ComputeTotals(lines []CartLine, discount int64, cash int64, cashSale bool) (Totals, error) {
	var subtotal int64
	for _, line := range lines {
		subtotal += line.UnitPrice * int64(line.Quantity)
	}
	if discount < 0 || discount > subtotal {
		return Totals{}, ErrDiscountExceedsSubtotal
	}
	totals := Totals{Subtotal: subtotal, Discount: discount, GrandTotal: subtotal - discount}
	if !cashSale {
		return totals, nil
	}
	if cash == 0 {
		cash = totals.GrandTotal
	}
	if cash < totals.GrandTotal {
		return Totals{}, ErrCashBelowTotal
	}
	totals.CashTendered = cash
	totals.ChangeGiven = cash - totals.GrandTotal
	return totals, nil
}

// SnapshotLine copies a cart line into its immutable transaction form.
func SnapshotLine(id string, line CartLine) TransactionLine {
	return TransactionLine{
		ID:        id,
		Kind:      line.Kind,
		CatalogID: line.CatalogID,
		Name:      line.Name,
		StaffID:   line.StaffID,
		Quantity:  line.Quantity,
		Price:     line.UnitPrice,
		Duration:  line.UnitDuration * line.Quantity,
		Total:     line.UnitPrice * int64(line.Quantity),
	}
}

// Profit computes the profit record of a transaction line. Services carry no
// cost basis, so their whole total is profit.
func Profit(line TransactionLine, buyPrice int64) ProfitRecord {
	record := ProfitRecord{
		LineID:    line.ID,
		Kind:      line.Kind,
		CatalogID: line.CatalogID,
		Quantity:  line.Quantity,
		SellPrice: line.Price,
	}
	if line.Kind == KindService {
		record.Total = line.Total
		return record
	}
	record.BuyPrice = buyPrice
	record.Total = (line.Price - buyPrice) * int64(line.Quantity)
	return record
}
