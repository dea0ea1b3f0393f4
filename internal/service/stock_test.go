package service

import (
	"context"
	"errors"
	"testing"

	"tokoledger/backend/internal/domain"
	"tokoledger/backend/internal/store"
)

func TestStockLedgerStaysBalanced(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	color := seedColor(t, svc, "Navy", 50)
	if color.StockQuantity != 50 {
		t.Fatalf("expected 50 after stock-in, got %d", color.StockQuantity)
	}

	color, out, err := svc.RecordStockOut(ctx, color.ID, 5, domain.MovementTypeAdjustment, "shrinkage count", "")
	if err != nil {
		t.Fatalf("stock out: %v", err)
	}
	if color.StockQuantity != 45 {
		t.Fatalf("expected 45 after stock-out, got %d", color.StockQuantity)
	}
	if out.PreviousStock != 50 || out.NewStock != 45 {
		t.Fatalf("stock-out snapshots wrong: prev=%d new=%d", out.PreviousStock, out.NewStock)
	}

	color, in, err := svc.StockIn(ctx, domain.StockInRequest{ColorID: color.ID, Quantity: 5})
	if err != nil {
		t.Fatalf("second stock in: %v", err)
	}
	if color.StockQuantity != 50 {
		t.Fatalf("expected 50 after restock, got %d", color.StockQuantity)
	}
	if in.PreviousStock != 45 || in.NewStock != 50 {
		t.Fatalf("stock-in snapshots wrong: prev=%d new=%d", in.PreviousStock, in.NewStock)
	}

	ins, err := svc.ListStockInHistory(ctx, color.ID, 0)
	if err != nil {
		t.Fatalf("list stock-in history: %v", err)
	}
	outs, err := svc.ListStockOutHistory(ctx, color.ID, 0)
	if err != nil {
		t.Fatalf("list stock-out history: %v", err)
	}
	if len(ins) != 2 || len(outs) != 1 {
		t.Fatalf("expected 2 in rows and 1 out row, got %d/%d", len(ins), len(outs))
	}

	report, err := svc.ReconcileColor(ctx, color.ID)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if report.Repaired {
		t.Fatalf("balanced ledger reported drift: %+v", report)
	}
	if report.Derived != 50 || report.Stored != 50 {
		t.Fatalf("expected derived=stored=50, got %+v", report)
	}
}

func TestStockOutClampsAtZero(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	color := seedColor(t, svc, "Maroon", 3)
	color, out, err := svc.RecordStockOut(ctx, color.ID, 10, domain.MovementTypeDamage, "water damage", "")
	if err != nil {
		t.Fatalf("stock out: %v", err)
	}
	if color.StockQuantity != 0 {
		t.Fatalf("expected stock clamped to 0, got %d", color.StockQuantity)
	}
	if out.Quantity != 3 {
		t.Fatalf("ledger should record the applied quantity 3, got %d", out.Quantity)
	}

	// The clamped ledger still reconciles cleanly.
	report, err := svc.ReconcileColor(ctx, color.ID)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if report.Repaired {
		t.Fatalf("clamped stock-out caused drift: %+v", report)
	}
}

func TestReconcileRepairsDrift(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	color := seedColor(t, svc, "Olive", 20)

	// Force drift behind the ledger's back.
	if err := repo.SetColorStock(ctx, color.ID, 999); err != nil {
		t.Fatalf("force drift: %v", err)
	}

	report, err := svc.ReconcileColor(ctx, color.ID)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if !report.Repaired {
		t.Fatalf("expected drift repair, got %+v", report)
	}
	if report.Derived != 20 {
		t.Fatalf("expected derived 20, got %d", report.Derived)
	}

	fixed, err := svc.GetColor(ctx, color.ID)
	if err != nil {
		t.Fatalf("get color: %v", err)
	}
	if fixed.StockQuantity != 20 {
		t.Fatalf("expected repaired stock 20, got %d", fixed.StockQuantity)
	}
}

func TestUpdateStockInEntryPropagatesDelta(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	color := seedColor(t, svc, "Teal", 0)
	color, entry, err := svc.StockIn(ctx, domain.StockInRequest{ColorID: color.ID, Quantity: 10})
	if err != nil {
		t.Fatalf("stock in: %v", err)
	}

	updated, err := svc.UpdateStockInEntry(ctx, entry.ID, domain.StockInUpdateRequest{Quantity: 4})
	if err != nil {
		t.Fatalf("update entry: %v", err)
	}
	if updated.Quantity != 4 || updated.NewStock != updated.PreviousStock+4 {
		t.Fatalf("entry not recomputed: %+v", updated)
	}

	color, err = svc.GetColor(ctx, color.ID)
	if err != nil {
		t.Fatalf("get color: %v", err)
	}
	if color.StockQuantity != 4 {
		t.Fatalf("expected stock 4 after correction, got %d", color.StockQuantity)
	}

	if err := svc.DeleteStockInEntry(ctx, entry.ID); err != nil {
		t.Fatalf("delete entry: %v", err)
	}
	color, err = svc.GetColor(ctx, color.ID)
	if err != nil {
		t.Fatalf("get color: %v", err)
	}
	if color.StockQuantity != 0 {
		t.Fatalf("expected stock 0 after entry delete, got %d", color.StockQuantity)
	}
}

func TestStockInRejectsBadDate(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	color := seedColor(t, svc, "Grey", 0)
	_, _, err := svc.StockIn(ctx, domain.StockInRequest{ColorID: color.ID, Quantity: 5, Date: "2026-01-15"})
	if !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for ISO date, got %v", err)
	}
}

func TestStockMovementsMergesBothDirections(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	color := seedColor(t, svc, "Rust", 10)
	if _, _, err := svc.RecordStockOut(ctx, color.ID, 2, domain.MovementTypeAdjustment, "", ""); err != nil {
		t.Fatalf("stock out: %v", err)
	}

	movements, err := svc.StockMovements(ctx, color.ID, 0)
	if err != nil {
		t.Fatalf("stock movements: %v", err)
	}
	if len(movements) != 2 {
		t.Fatalf("expected 2 movements, got %d", len(movements))
	}
	// Newest first.
	if movements[0].Direction != "out" || movements[1].Direction != "in" {
		t.Fatalf("movements out of order: %+v", movements)
	}
}
