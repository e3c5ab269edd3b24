package domain

import (
	"errors"
	"testing"
)

func TestComputeTotals(t *testing.T) {
	lines := []CartLine{
		{Kind: KindProduct, UnitPrice: 25000, Quantity: 2},
		{Kind: KindService, UnitPrice: 100000, Quantity: 1},
	}

	cases := []struct {
		name       string
		discount   int64
		cash       int64
		cashSale   bool
		wantGrand  int64
		wantChange int64
		wantErr    error
	}{
		{name: "exact tender when cash omitted", cashSale: true, wantGrand: 150000},
		{name: "change returned", cash: 200000, cashSale: true, wantGrand: 150000, wantChange: 50000},
		{name: "discount applied", discount: 10000, cash: 140000, cashSale: true, wantGrand: 140000},
		{name: "gateway sale ignores cash", cash: 999, wantGrand: 150000},
		{name: "discount above subtotal", discount: 150001, cashSale: true, wantErr: ErrDiscountExceedsSubtotal},
		{name: "short cash", cash: 100, cashSale: true, wantErr: ErrCashBelowTotal},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ComputeTotals(lines, tc.discount, tc.cash, tc.cashSale)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("expected %v, got %v", tc.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.Subtotal != 150000 || got.GrandTotal != tc.wantGrand || got.ChangeGiven != tc.wantChange {
				t.Fatalf("unexpected totals %+v", got)
			}
			if got.GrandTotal != got.Subtotal-got.Discount {
				t.Fatalf("grand total must equal subtotal minus discount: %+v", got)
			}
		})
	}
}

func TestProfitByKind(t *testing.T) {
	product := SnapshotLine("l1", CartLine{Kind: KindProduct, CatalogID: "p", UnitPrice: 12000, Quantity: 3})
	if got := Profit(product, 8000); got.Total != 12000 || got.BuyPrice != 8000 {
		t.Fatalf("unexpected product profit %+v", got)
	}

	service := SnapshotLine("l2", CartLine{Kind: KindService, CatalogID: "s", UnitPrice: 100000, UnitDuration: 45, Quantity: 2})
	if service.Duration != 90 || service.Total != 200000 {
		t.Fatalf("unexpected service snapshot %+v", service)
	}
	if got := Profit(service, 5000); got.Total != 200000 || got.BuyPrice != 0 {
		t.Fatalf("service profit should be the full price, got %+v", got)
	}
}

func TestWithQuantityRederivesTotals(t *testing.T) {
	line := CartLine{UnitPrice: 7500, UnitDuration: 30}.WithQuantity(4)
	if line.LineTotal != 30000 || line.Duration != 120 {
		t.Fatalf("unexpected derived values %+v", line)
	}
}
