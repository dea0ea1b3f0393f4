package service

import (
	"context"
	"errors"
	"testing"

	"tokoledger/backend/internal/domain"
	"tokoledger/backend/internal/store"
)

func createUnpaidSale(t *testing.T, svc *Service, total int64) *domain.Sale {
	t.Helper()
	ctx := context.Background()

	color := seedColor(t, svc, "Navy-"+t.Name(), 100)
	sale, err := svc.CreateSale(ctx, domain.SaleCreateRequest{
		CustomerName:  "Budi",
		CustomerPhone: "0812",
		Items: []domain.SaleItemRequest{
			{ColorID: color.ID, Quantity: 1, Rate: dec(total)},
		},
	})
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}
	return sale
}

func TestPaymentHistorySnapshotsBalances(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	sale := createUnpaidSale(t, svc, 1000)
	_, entry, err := svc.RecordPayment(ctx, domain.PaymentRequest{SaleID: sale.ID, Amount: dec(400), PaymentMethod: "cash"})
	if err != nil {
		t.Fatalf("record payment: %v", err)
	}
	if entry == nil {
		t.Fatalf("expected history entry")
	}
	if !entry.PreviousBalance.Equal(dec(1000)) || !entry.NewBalance.Equal(dec(600)) {
		t.Fatalf("balance snapshots wrong: prev=%s new=%s", entry.PreviousBalance, entry.NewBalance)
	}

	payments, err := svc.ListPayments(ctx, sale.ID, 0)
	if err != nil {
		t.Fatalf("list payments: %v", err)
	}
	if len(payments) != 1 {
		t.Fatalf("expected one payment row, got %d", len(payments))
	}
}

func TestUpdatePaymentMovesBalanceByDelta(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	sale := createUnpaidSale(t, svc, 1000)
	_, entry, err := svc.RecordPayment(ctx, domain.PaymentRequest{SaleID: sale.ID, Amount: dec(400)})
	if err != nil {
		t.Fatalf("record payment: %v", err)
	}

	updated, err := svc.UpdatePayment(ctx, entry.ID, domain.PaymentUpdateRequest{Amount: dec(600)})
	if err != nil {
		t.Fatalf("update payment: %v", err)
	}
	if !updated.AmountPaid.Equal(dec(600)) {
		t.Fatalf("expected amount paid 600 after correction, got %s", updated.AmountPaid)
	}
	if updated.PaymentStatus != domain.PaymentStatusPartial {
		t.Fatalf("expected partial, got %s", updated.PaymentStatus)
	}

	// A correction cannot push the sale past its total.
	_, err = svc.UpdatePayment(ctx, entry.ID, domain.PaymentUpdateRequest{Amount: dec(1200)})
	if !errors.Is(err, store.ErrPaymentExceedsBalance) {
		t.Fatalf("expected ErrPaymentExceedsBalance, got %v", err)
	}
}

func TestDeletePaymentRestoresBalance(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	sale := createUnpaidSale(t, svc, 500)
	_, entry, err := svc.RecordPayment(ctx, domain.PaymentRequest{SaleID: sale.ID, Amount: dec(500)})
	if err != nil {
		t.Fatalf("record payment: %v", err)
	}

	updated, err := svc.DeletePayment(ctx, entry.ID)
	if err != nil {
		t.Fatalf("delete payment: %v", err)
	}
	if !updated.AmountPaid.IsZero() {
		t.Fatalf("expected zero paid after delete, got %s", updated.AmountPaid)
	}
	if updated.PaymentStatus != domain.PaymentStatusUnpaid {
		t.Fatalf("expected unpaid after delete, got %s", updated.PaymentStatus)
	}
}

func TestPaymentRejectedOnFullyReturnedSale(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	sale := createUnpaidSale(t, svc, 300)
	if _, err := svc.ApplyReturn(ctx, domain.ReturnRequest{SaleID: &sale.ID, FullBill: true}); err != nil {
		t.Fatalf("full bill return: %v", err)
	}

	_, _, err := svc.RecordPayment(ctx, domain.PaymentRequest{SaleID: sale.ID, Amount: dec(100)})
	if !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected payment rejected on returned bill, got %v", err)
	}
}
