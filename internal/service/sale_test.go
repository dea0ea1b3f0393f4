package service

import (
	"context"
	"errors"
	"testing"

	"tokoledger/backend/internal/domain"
	"tokoledger/backend/internal/store"
)

func TestSalePartialThenSettled(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	color := seedColor(t, svc, "Navy", 20)
	sale, err := svc.CreateSale(ctx, domain.SaleCreateRequest{
		CustomerName: "Budi",
		AmountPaid:   dec(400),
		Items: []domain.SaleItemRequest{
			{ColorID: color.ID, Quantity: 10, Rate: dec(100)},
		},
	})
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}
	if !sale.TotalAmount.Equal(dec(1000)) {
		t.Fatalf("expected total 1000, got %s", sale.TotalAmount)
	}
	if sale.PaymentStatus != domain.PaymentStatusPartial {
		t.Fatalf("expected partial after 400/1000, got %s", sale.PaymentStatus)
	}

	sale, _, err = svc.RecordPayment(ctx, domain.PaymentRequest{SaleID: sale.ID, Amount: dec(600)})
	if err != nil {
		t.Fatalf("settle payment: %v", err)
	}
	if sale.PaymentStatus != domain.PaymentStatusPaid {
		t.Fatalf("expected paid after settlement, got %s", sale.PaymentStatus)
	}

	_, _, err = svc.RecordPayment(ctx, domain.PaymentRequest{SaleID: sale.ID, Amount: dec(1)})
	if !errors.Is(err, store.ErrPaymentExceedsBalance) {
		t.Fatalf("expected ErrPaymentExceedsBalance on settled sale, got %v", err)
	}
}

func TestCreateSaleIsAtomicOnInsufficientStock(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	plenty := seedColor(t, svc, "Navy", 50)
	scarce := seedColor(t, svc, "Maroon", 2)

	_, err := svc.CreateSale(ctx, domain.SaleCreateRequest{
		CustomerName: "Sari",
		Items: []domain.SaleItemRequest{
			{ColorID: plenty.ID, Quantity: 5, Rate: dec(100)},
			{ColorID: scarce.ID, Quantity: 10, Rate: dec(100)},
		},
	})
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}

	// Nothing may survive the failed checkout.
	after, err := svc.GetColor(ctx, plenty.ID)
	if err != nil {
		t.Fatalf("get color: %v", err)
	}
	if after.StockQuantity != 50 {
		t.Fatalf("partial decrement leaked: %d", after.StockQuantity)
	}
	outstanding, err := svc.ListOutstanding(ctx, "", 0)
	if err != nil {
		t.Fatalf("list outstanding: %v", err)
	}
	if len(outstanding) != 0 {
		t.Fatalf("sale row leaked from failed checkout: %+v", outstanding)
	}
}

func TestCreateSaleChecksCombinedQuantityPerColor(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	color := seedColor(t, svc, "Navy", 5)

	// Two lines of the same color, each fine alone, too much together.
	_, err := svc.CreateSale(ctx, domain.SaleCreateRequest{
		CustomerName: "Budi",
		Items: []domain.SaleItemRequest{
			{ColorID: color.ID, Quantity: 3, Rate: dec(100)},
			{ColorID: color.ID, Quantity: 3, Rate: dec(80)},
		},
	})
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock for combined demand 6 of 5, got %v", err)
	}
	after, _ := svc.GetColor(ctx, color.ID)
	if after.StockQuantity != 5 {
		t.Fatalf("rejected cart moved stock: %d", after.StockQuantity)
	}

	// The same cart fits once the combined demand does.
	sale, err := svc.CreateSale(ctx, domain.SaleCreateRequest{
		CustomerName: "Budi",
		Items: []domain.SaleItemRequest{
			{ColorID: color.ID, Quantity: 3, Rate: dec(100)},
			{ColorID: color.ID, Quantity: 2, Rate: dec(80)},
		},
	})
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}
	if !sale.TotalAmount.Equal(dec(460)) {
		t.Fatalf("expected total 460, got %s", sale.TotalAmount)
	}
	after, _ = svc.GetColor(ctx, color.ID)
	if after.StockQuantity != 0 {
		t.Fatalf("expected stock drained to 0, got %d", after.StockQuantity)
	}
}

func TestCreateSaleIdempotentByOfflineID(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	color := seedColor(t, svc, "Navy", 10)
	req := domain.SaleCreateRequest{
		OfflineID:    "off-abc123",
		CustomerName: "Budi",
		Items: []domain.SaleItemRequest{
			{ColorID: color.ID, Quantity: 4, Rate: dec(50)},
		},
	}

	first, err := svc.CreateSale(ctx, req)
	if err != nil {
		t.Fatalf("first create: %v", err)
	}
	second, err := svc.CreateSale(ctx, req)
	if err != nil {
		t.Fatalf("replay create: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("replay produced a second sale: %s vs %s", first.ID, second.ID)
	}

	after, err := svc.GetColor(ctx, color.ID)
	if err != nil {
		t.Fatalf("get color: %v", err)
	}
	if after.StockQuantity != 6 {
		t.Fatalf("expected stock decremented once to 6, got %d", after.StockQuantity)
	}
}

func TestManualBalanceSaleMovesNoStock(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	sale, err := svc.CreateSale(ctx, domain.SaleCreateRequest{
		CustomerName:    "Pak Agus",
		CustomerPhone:   "0813",
		TotalAmount:     dec(500),
		IsManualBalance: true,
	})
	if err != nil {
		t.Fatalf("create manual balance: %v", err)
	}
	if sale.PaymentStatus != domain.PaymentStatusUnpaid {
		t.Fatalf("expected unpaid, got %s", sale.PaymentStatus)
	}
	if !sale.TotalAmount.Equal(dec(500)) {
		t.Fatalf("expected carried total 500, got %s", sale.TotalAmount)
	}

	detail, err := svc.GetSale(ctx, sale.ID)
	if err != nil {
		t.Fatalf("get sale: %v", err)
	}
	if len(detail.Items) != 0 {
		t.Fatalf("manual balance should have no items, got %d", len(detail.Items))
	}
}

func TestCreateSaleRejectsOverpayment(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	color := seedColor(t, svc, "Navy", 10)
	_, err := svc.CreateSale(ctx, domain.SaleCreateRequest{
		CustomerName: "Budi",
		AmountPaid:   dec(600),
		Items: []domain.SaleItemRequest{
			{ColorID: color.ID, Quantity: 5, Rate: dec(100)},
		},
	})
	if !errors.Is(err, store.ErrPaymentExceedsBalance) {
		t.Fatalf("expected ErrPaymentExceedsBalance, got %v", err)
	}
}

func TestDeleteSaleRestocksUnreturnedQuantities(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	color := seedColor(t, svc, "Navy", 10)
	sale, err := svc.CreateSale(ctx, domain.SaleCreateRequest{
		CustomerName: "Budi",
		Items: []domain.SaleItemRequest{
			{ColorID: color.ID, Quantity: 5, Rate: dec(100)},
		},
	})
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}

	mid, _ := svc.GetColor(ctx, color.ID)
	if mid.StockQuantity != 5 {
		t.Fatalf("expected stock 5 after sale, got %d", mid.StockQuantity)
	}

	if err := svc.DeleteSale(ctx, sale.ID); err != nil {
		t.Fatalf("delete sale: %v", err)
	}

	after, _ := svc.GetColor(ctx, color.ID)
	if after.StockQuantity != 10 {
		t.Fatalf("expected stock restored to 10, got %d", after.StockQuantity)
	}

	// The reversal is a ledger row, not a silent counter bump.
	ins, err := svc.ListStockInHistory(ctx, color.ID, 0)
	if err != nil {
		t.Fatalf("list stock-in history: %v", err)
	}
	found := false
	for _, entry := range ins {
		if entry.ReferenceID == sale.ID {
			found = true
		}
	}
	if !found {
		t.Fatalf("missing reversal stock-in row for deleted sale")
	}

	if _, err := svc.GetSale(ctx, sale.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected sale gone, got %v", err)
	}
}

func TestEditSaleItemAdjustsStockAndTotal(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	color := seedColor(t, svc, "Navy", 10)
	sale, err := svc.CreateSale(ctx, domain.SaleCreateRequest{
		CustomerName: "Budi",
		Items: []domain.SaleItemRequest{
			{ColorID: color.ID, Quantity: 2, Rate: dec(100)},
		},
	})
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}
	detail, err := svc.GetSale(ctx, sale.ID)
	if err != nil {
		t.Fatalf("get sale: %v", err)
	}

	updated, err := svc.EditSaleItem(ctx, detail.Items[0].ID, domain.SaleItemUpdateRequest{Quantity: 3, Rate: dec(100)})
	if err != nil {
		t.Fatalf("edit item: %v", err)
	}
	if !updated.TotalAmount.Equal(dec(300)) {
		t.Fatalf("expected total 300 after edit, got %s", updated.TotalAmount)
	}

	after, _ := svc.GetColor(ctx, color.ID)
	if after.StockQuantity != 7 {
		t.Fatalf("expected stock 7 after increasing quantity, got %d", after.StockQuantity)
	}

	// Shrinking the line puts stock back.
	updated, err = svc.EditSaleItem(ctx, detail.Items[0].ID, domain.SaleItemUpdateRequest{Quantity: 1, Rate: dec(100)})
	if err != nil {
		t.Fatalf("shrink item: %v", err)
	}
	if !updated.TotalAmount.Equal(dec(100)) {
		t.Fatalf("expected total 100, got %s", updated.TotalAmount)
	}
	after, _ = svc.GetColor(ctx, color.ID)
	if after.StockQuantity != 9 {
		t.Fatalf("expected stock 9 after shrink, got %d", after.StockQuantity)
	}
}

func TestListOutstandingFiltersByPhone(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	color := seedColor(t, svc, "Navy", 20)
	if _, err := svc.CreateSale(ctx, domain.SaleCreateRequest{
		CustomerName:  "Budi",
		CustomerPhone: "0812",
		Items:         []domain.SaleItemRequest{{ColorID: color.ID, Quantity: 1, Rate: dec(100)}},
	}); err != nil {
		t.Fatalf("create sale: %v", err)
	}
	if _, err := svc.CreateSale(ctx, domain.SaleCreateRequest{
		CustomerName:  "Sari",
		CustomerPhone: "0813",
		AmountPaid:    dec(100),
		Items:         []domain.SaleItemRequest{{ColorID: color.ID, Quantity: 1, Rate: dec(100)}},
	}); err != nil {
		t.Fatalf("create paid sale: %v", err)
	}

	outstanding, err := svc.ListOutstanding(ctx, "0812", 0)
	if err != nil {
		t.Fatalf("list outstanding: %v", err)
	}
	if len(outstanding) != 1 || outstanding[0].CustomerName != "Budi" {
		t.Fatalf("wrong outstanding set: %+v", outstanding)
	}

	// Paid sales never show up.
	all, err := svc.ListOutstanding(ctx, "", 0)
	if err != nil {
		t.Fatalf("list all outstanding: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected only the unpaid sale, got %d", len(all))
	}
}
