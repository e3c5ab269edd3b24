package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"kasirpro/backend/internal/domain"
	"kasirpro/backend/internal/store"
)

func productLine(owner string, catalogID string, price int64, qty int) domain.CartLine {
	return domain.CartLine{
		Owner:     owner,
		StoreID:   SeedStoreID,
		Kind:      domain.KindProduct,
		CatalogID: catalogID,
		Name:      catalogID,
		Quantity:  qty,
		UnitPrice: price,
	}
}

func TestInsertCartLineMergesSameItem(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	first, err := s.InsertCartLine(ctx, productLine("cashier", SeedPomadeID, 85000, 1))
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	second, err := s.InsertCartLine(ctx, productLine("cashier", SeedPomadeID, 85000, 2))
	if err != nil {
		t.Fatalf("insert again: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("expected merge into %s, got %s", first.ID, second.ID)
	}
	if second.Quantity != 3 || second.LineTotal != 255000 {
		t.Fatalf("unexpected merged line: %+v", second)
	}

	lines, _ := s.ListCartLines(ctx, "cashier", false)
	if len(lines) != 1 {
		t.Fatalf("expected one active line, got %d", len(lines))
	}
}

func TestHoldAndResumeRoundTrip(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	if _, err := s.InsertCartLine(ctx, productLine("cashier", SeedPomadeID, 85000, 1)); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := s.InsertCartLine(ctx, productLine("cashier", SeedTonicID, 55000, 2)); err != nil {
		t.Fatalf("insert: %v", err)
	}

	held, err := s.HoldActiveLines(ctx, "cashier", "hold-1", "Meja 3", time.Now())
	if err != nil {
		t.Fatalf("hold: %v", err)
	}
	if len(held) != 2 {
		t.Fatalf("expected 2 held lines, got %d", len(held))
	}
	if active, _ := s.ListCartLines(ctx, "cashier", false); len(active) != 0 {
		t.Fatalf("expected empty active cart after hold")
	}

	if _, err := s.InsertCartLine(ctx, productLine("cashier", SeedShampooID, 45000, 1)); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := s.ResumeHold(ctx, "cashier", "hold-1"); !errors.Is(err, store.ErrActiveCartExists) {
		t.Fatalf("expected ErrActiveCartExists, got %v", err)
	}
	lines, _ := s.ListCartLines(ctx, "cashier", false)
	for _, line := range lines {
		_ = s.DeleteCartLine(ctx, "cashier", line.ID)
	}

	resumed, err := s.ResumeHold(ctx, "cashier", "hold-1")
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if len(resumed) != 2 {
		t.Fatalf("expected 2 resumed lines, got %d", len(resumed))
	}
	for _, line := range resumed {
		if !line.Active() || line.HeldAt != nil || line.HoldLabel != "" {
			t.Fatalf("resumed line still carries hold fields: %+v", line)
		}
	}
	if _, err := s.ResumeHold(ctx, "cashier", "hold-1"); !errors.Is(err, store.ErrActiveCartExists) {
		t.Fatalf("expected active cart to block a second resume, got %v", err)
	}
}

func TestHoldOwnershipIsolation(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	if _, err := s.InsertCartLine(ctx, productLine("andi", SeedPomadeID, 85000, 1)); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := s.HoldActiveLines(ctx, "andi", "hold-a", "A", time.Now()); err != nil {
		t.Fatalf("hold: %v", err)
	}
	if _, err := s.ResumeHold(ctx, "budi", "hold-a"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected other owner to see not found, got %v", err)
	}
	if _, err := s.DeleteHold(ctx, "budi", "hold-a"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected other owner discard to fail, got %v", err)
	}
	n, err := s.DeleteHold(ctx, "andi", "hold-a")
	if err != nil || n != 1 {
		t.Fatalf("expected one discarded line, got %d %v", n, err)
	}
}

func TestCommitSaleRollsBackOnShortage(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	if _, err := s.InsertCartLine(ctx, productLine("cashier", SeedPomadeID, 85000, 2)); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := s.InsertCartLine(ctx, productLine("cashier", SeedShampooID, 45000, 6)); err != nil {
		t.Fatalf("insert: %v", err)
	}

	_, err := s.CommitSale(ctx, store.SaleCommit{
		TransactionID: "tx-1",
		Invoice:       "INV0000001",
		StoreID:       SeedStoreID,
		Owner:         "cashier",
		PaymentMethod: domain.PaymentMethodCash,
		PaymentStatus: domain.PaymentStatusPaid,
	})
	var shortage *store.StockShortageError
	if !errors.As(err, &shortage) || !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected stock shortage, got %v", err)
	}
	if shortage.ProductID != SeedShampooID || shortage.Available != 5 {
		t.Fatalf("unexpected shortage details: %+v", shortage)
	}

	if qty, _ := s.GetStockLevel(ctx, SeedPomadeID); qty != 20 {
		t.Fatalf("expected pomade stock untouched, got %d", qty)
	}
	if lines, _ := s.ListCartLines(ctx, "cashier", false); len(lines) != 2 {
		t.Fatalf("expected cart lines kept, got %d", len(lines))
	}
	if s.CountTransactions("") != 0 {
		t.Fatalf("expected no transaction")
	}
}

func TestCommitSaleLeavesHeldLinesAlone(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	if _, err := s.InsertCartLine(ctx, productLine("cashier", SeedTonicID, 55000, 1)); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := s.HoldActiveLines(ctx, "cashier", "hold-1", "parked", time.Now()); err != nil {
		t.Fatalf("hold: %v", err)
	}
	if _, err := s.InsertCartLine(ctx, productLine("cashier", SeedPomadeID, 85000, 1)); err != nil {
		t.Fatalf("insert: %v", err)
	}

	tx, err := s.CommitSale(ctx, store.SaleCommit{
		TransactionID: "tx-1",
		Invoice:       "INV0000001",
		StoreID:       SeedStoreID,
		Owner:         "cashier",
		PaymentMethod: domain.PaymentMethodCash,
		PaymentStatus: domain.PaymentStatusPaid,
		Cash:          100000,
	})
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if len(tx.Lines) != 1 || tx.ChangeGiven != 15000 {
		t.Fatalf("unexpected transaction: %+v", tx)
	}
	if held, _ := s.ListCartLines(ctx, "cashier", true); len(held) != 1 {
		t.Fatalf("expected held line to survive commit")
	}
	if qty, _ := s.GetStockLevel(ctx, SeedTonicID); qty != 12 {
		t.Fatalf("held product stock should not move, got %d", qty)
	}
}

func TestCommitSaleDuplicateInvoice(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()
	commit := store.SaleCommit{
		TransactionID: "tx-1",
		Invoice:       "INVDUP0001",
		StoreID:       SeedStoreID,
		Owner:         "cashier",
		PaymentMethod: domain.PaymentMethodCash,
		PaymentStatus: domain.PaymentStatusPaid,
	}

	if _, err := s.InsertCartLine(ctx, productLine("cashier", SeedPomadeID, 85000, 1)); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := s.CommitSale(ctx, commit); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if _, err := s.InsertCartLine(ctx, productLine("cashier", SeedPomadeID, 85000, 1)); err != nil {
		t.Fatalf("insert: %v", err)
	}
	commit.TransactionID = "tx-2"
	if _, err := s.CommitSale(ctx, commit); !errors.Is(err, store.ErrDuplicateInvoice) {
		t.Fatalf("expected duplicate invoice, got %v", err)
	}
	if qty, _ := s.GetStockLevel(ctx, SeedPomadeID); qty != 19 {
		t.Fatalf("expected one unit sold, got stock %d", qty)
	}
}

func TestConcurrentAppointmentCommitsSucceedOnce(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()
	owners := []string{"andi", "budi", "citra", "dewi"}

	for _, owner := range owners {
		line := domain.CartLine{
			Owner:         owner,
			StoreID:       SeedStoreID,
			Kind:          domain.KindService,
			CatalogID:     SeedCreambathID,
			Name:          "Creambath",
			StaffID:       SeedStaffAndi,
			Quantity:      1,
			UnitPrice:     100000,
			UnitDuration:  60,
			AppointmentID: SeedAppointmentID,
			CustomerID:    SeedCustomerID,
		}
		if _, err := s.InsertCartLine(ctx, line); err != nil {
			t.Fatalf("insert for %s: %v", owner, err)
		}
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		converted int
	)
	for i, owner := range owners {
		wg.Add(1)
		go func(i int, owner string) {
			defer wg.Done()
			_, err := s.CommitSale(ctx, store.SaleCommit{
				TransactionID: "tx-" + owner,
				Invoice:       "INVCONC00" + string(rune('0'+i)),
				StoreID:       SeedStoreID,
				Owner:         owner,
				AppointmentID: SeedAppointmentID,
				PaymentMethod: domain.PaymentMethodCash,
				PaymentStatus: domain.PaymentStatusPaid,
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, store.ErrAlreadyConverted):
				converted++
			default:
				t.Errorf("unexpected error for %s: %v", owner, err)
			}
		}(i, owner)
	}
	wg.Wait()

	if successes != 1 || converted != len(owners)-1 {
		t.Fatalf("expected exactly one success, got %d successes %d converted", successes, converted)
	}
	if got := s.CountTransactions(SeedAppointmentID); got != 1 {
		t.Fatalf("expected one transaction for appointment, got %d", got)
	}
	appt, _ := s.GetAppointment(ctx, SeedAppointmentID)
	if appt.Status != domain.AppointmentCompleted || appt.PaymentStatus != domain.AppointmentPaid || appt.CompletedAt == nil {
		t.Fatalf("appointment not settled: %+v", appt)
	}
}

func TestMarkAppointmentSettledOnlyFromInProgress(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()
	s.PutAppointment(domain.Appointment{ID: "apt-sched", StoreID: SeedStoreID, Status: domain.AppointmentScheduled, PaymentStatus: domain.AppointmentUnpaid})

	changed, err := s.MarkAppointmentSettled(ctx, "apt-sched", time.Now())
	if err != nil || changed {
		t.Fatalf("scheduled appointment should not change: %v %v", changed, err)
	}
	changed, err = s.MarkAppointmentSettled(ctx, SeedAppointmentID, time.Now())
	if err != nil || !changed {
		t.Fatalf("in-progress appointment should settle: %v %v", changed, err)
	}
	if _, err := s.MarkAppointmentSettled(ctx, "apt-missing", time.Now()); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestIncreaseStockRejectsServices(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	if _, err := s.IncreaseStock(ctx, SeedHaircutID, 3); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found for service, got %v", err)
	}
	qty, err := s.IncreaseStock(ctx, SeedShampooID, 3)
	if err != nil || qty != 8 {
		t.Fatalf("expected 8 after restock, got %d %v", qty, err)
	}
}
