package service

import (
	"context"
	"errors"
	"testing"

	"tokoledger/backend/internal/domain"
	"tokoledger/backend/internal/store"
)

func TestOverReturnRejectedUnchanged(t *testing.T) {
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
	detail, _ := svc.GetSale(ctx, sale.ID)
	itemID := detail.Items[0].ID

	_, err = svc.ApplyReturn(ctx, domain.ReturnRequest{
		SaleID: &sale.ID,
		Items: []domain.ReturnItemRequest{
			{SaleItemID: &itemID, ColorID: color.ID, Quantity: 6, Rate: dec(100), StockRestored: true},
		},
	})
	if !errors.Is(err, store.ErrReturnExceedsQuantity) {
		t.Fatalf("expected ErrReturnExceedsQuantity, got %v", err)
	}

	// The rejected return must leave everything untouched.
	after, _ := svc.GetSale(ctx, sale.ID)
	if after.Items[0].QuantityReturned != 0 {
		t.Fatalf("quantity_returned leaked: %d", after.Items[0].QuantityReturned)
	}
	colorAfter, _ := svc.GetColor(ctx, color.ID)
	if colorAfter.StockQuantity != 5 {
		t.Fatalf("stock changed by rejected return: %d", colorAfter.StockQuantity)
	}
}

func TestReturnSumsLinesAgainstSameSaleItem(t *testing.T) {
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
	detail, _ := svc.GetSale(ctx, sale.ID)
	itemID := detail.Items[0].ID

	// Each line passes the cap alone; together they exceed it.
	_, err = svc.ApplyReturn(ctx, domain.ReturnRequest{
		SaleID: &sale.ID,
		Items: []domain.ReturnItemRequest{
			{SaleItemID: &itemID, ColorID: color.ID, Quantity: 3, Rate: dec(100), StockRestored: true},
			{SaleItemID: &itemID, ColorID: color.ID, Quantity: 3, Rate: dec(100), StockRestored: true},
		},
	})
	if !errors.Is(err, store.ErrReturnExceedsQuantity) {
		t.Fatalf("expected ErrReturnExceedsQuantity for 3+3 against 5, got %v", err)
	}

	after, _ := svc.GetSale(ctx, sale.ID)
	if after.Items[0].QuantityReturned != 0 {
		t.Fatalf("quantity_returned leaked from rejected batch: %d", after.Items[0].QuantityReturned)
	}
	colorAfter, _ := svc.GetColor(ctx, color.ID)
	if colorAfter.StockQuantity != 5 {
		t.Fatalf("rejected batch moved stock: %d", colorAfter.StockQuantity)
	}

	// A split that fits the cap still works.
	ret, err := svc.ApplyReturn(ctx, domain.ReturnRequest{
		SaleID: &sale.ID,
		Items: []domain.ReturnItemRequest{
			{SaleItemID: &itemID, ColorID: color.ID, Quantity: 3, Rate: dec(100), StockRestored: true},
			{SaleItemID: &itemID, ColorID: color.ID, Quantity: 2, Rate: dec(100), StockRestored: true},
		},
	})
	if err != nil {
		t.Fatalf("apply split return: %v", err)
	}
	if !ret.RefundAmount.Equal(dec(500)) {
		t.Fatalf("expected refund 500, got %s", ret.RefundAmount)
	}
	after, _ = svc.GetSale(ctx, sale.ID)
	if after.Items[0].QuantityReturned != 5 {
		t.Fatalf("expected quantity_returned 5, got %d", after.Items[0].QuantityReturned)
	}
}

func TestPartialReturnRecomputesTotalAndRestocks(t *testing.T) {
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
	detail, _ := svc.GetSale(ctx, sale.ID)
	itemID := detail.Items[0].ID

	ret, err := svc.ApplyReturn(ctx, domain.ReturnRequest{
		SaleID: &sale.ID,
		Items: []domain.ReturnItemRequest{
			{SaleItemID: &itemID, ColorID: color.ID, Quantity: 1, Rate: dec(100), StockRestored: true},
		},
	})
	if err != nil {
		t.Fatalf("apply return: %v", err)
	}
	if !ret.RefundAmount.Equal(dec(100)) {
		t.Fatalf("expected refund 100, got %s", ret.RefundAmount)
	}

	after, _ := svc.GetSale(ctx, sale.ID)
	if !after.Sale.TotalAmount.Equal(dec(100)) {
		t.Fatalf("expected total recomputed to 100, got %s", after.Sale.TotalAmount)
	}
	if after.Items[0].QuantityReturned != 1 {
		t.Fatalf("expected quantity_returned 1, got %d", after.Items[0].QuantityReturned)
	}
	colorAfter, _ := svc.GetColor(ctx, color.ID)
	if colorAfter.StockQuantity != 9 {
		t.Fatalf("expected stock restored to 9, got %d", colorAfter.StockQuantity)
	}
}

func TestFullBillReturnExpandsAndForcesStatus(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	color := seedColor(t, svc, "Navy", 10)
	sale, err := svc.CreateSale(ctx, domain.SaleCreateRequest{
		CustomerName: "Budi",
		AmountPaid:   dec(150),
		Items: []domain.SaleItemRequest{
			{ColorID: color.ID, Quantity: 3, Rate: dec(100)},
		},
	})
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}

	ret, err := svc.ApplyReturn(ctx, domain.ReturnRequest{SaleID: &sale.ID, FullBill: true})
	if err != nil {
		t.Fatalf("full bill return: %v", err)
	}
	if !ret.RefundAmount.Equal(dec(300)) {
		t.Fatalf("expected refund 300, got %s", ret.RefundAmount)
	}

	after, _ := svc.GetSale(ctx, sale.ID)
	if after.Sale.PaymentStatus != domain.PaymentStatusFullReturn {
		t.Fatalf("expected full_return status, got %s", after.Sale.PaymentStatus)
	}
	if !after.Sale.AmountPaid.IsZero() {
		t.Fatalf("expected amount paid cleared, got %s", after.Sale.AmountPaid)
	}
	if after.Items[0].QuantityReturned != 3 {
		t.Fatalf("expected all 3 returned, got %d", after.Items[0].QuantityReturned)
	}
	colorAfter, _ := svc.GetColor(ctx, color.ID)
	if colorAfter.StockQuantity != 10 {
		t.Fatalf("expected full restock to 10, got %d", colorAfter.StockQuantity)
	}
}

func TestQuickReturnWithoutSaleReference(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	color := seedColor(t, svc, "Navy", 5)
	ret, err := svc.ApplyReturn(ctx, domain.ReturnRequest{
		CustomerName: "walk-in",
		Items: []domain.ReturnItemRequest{
			{ColorID: color.ID, Quantity: 2, Rate: dec(80), StockRestored: true},
		},
	})
	if err != nil {
		t.Fatalf("quick return: %v", err)
	}
	if !ret.RefundAmount.Equal(dec(160)) {
		t.Fatalf("expected refund 160, got %s", ret.RefundAmount)
	}

	colorAfter, _ := svc.GetColor(ctx, color.ID)
	if colorAfter.StockQuantity != 7 {
		t.Fatalf("expected stock 7 after quick return, got %d", colorAfter.StockQuantity)
	}

	detail, err := svc.GetReturn(ctx, ret.ID)
	if err != nil {
		t.Fatalf("get return: %v", err)
	}
	if len(detail.Items) != 1 || detail.Items[0].SaleItemID != nil {
		t.Fatalf("quick return items wrong: %+v", detail.Items)
	}
}
