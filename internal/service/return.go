package service

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"

	"tokoledger/backend/internal/domain"
	"tokoledger/backend/internal/store"
)

// ReturnDetail bundles a return with its line items.
type ReturnDetail struct {
	Return domain.Return       `json:"return"`
	Items  []domain.ReturnItem `json:"items"`
}

// ApplyReturn processes a customer return. Three shapes come through here:
// item returns against a sale, whole-bill returns (full_bill with no item
// list expands to every unreturned quantity), and quick returns with no sale
// reference at all, which only restore stock and record the refund.
func (s *Service) ApplyReturn(ctx context.Context, req domain.ReturnRequest) (*domain.Return, error) {
	if req.ReturnDate != "" && !domain.ValidLedgerDate(req.ReturnDate) {
		return nil, store.ErrInvalidInput
	}
	if req.SaleID == nil && req.FullBill {
		return nil, store.ErrInvalidInput
	}
	if req.SaleID == nil && len(req.Items) == 0 {
		return nil, store.ErrInvalidInput
	}

	items := make([]domain.ReturnItem, 0, len(req.Items))
	for _, item := range req.Items {
		if item.ColorID == "" || item.Quantity < 1 || item.Rate.IsNegative() {
			return nil, store.ErrInvalidInput
		}
		items = append(items, domain.ReturnItem{
			SaleItemID:    item.SaleItemID,
			ColorID:       item.ColorID,
			Quantity:      item.Quantity,
			Rate:          item.Rate,
			StockRestored: item.StockRestored,
		})
	}

	// A whole-bill return without an explicit item list covers every
	// unreturned quantity on the sale, all restocked.
	if req.FullBill && len(items) == 0 {
		saleItems, err := s.repo.GetSaleItems(ctx, *req.SaleID)
		if err != nil {
			return nil, err
		}
		for i := range saleItems {
			saleItem := saleItems[i]
			remaining := saleItem.Quantity - saleItem.QuantityReturned
			if remaining < 1 {
				continue
			}
			itemID := saleItem.ID
			items = append(items, domain.ReturnItem{
				SaleItemID:    &itemID,
				ColorID:       saleItem.ColorID,
				Quantity:      remaining,
				Rate:          saleItem.Rate,
				StockRestored: true,
			})
		}
	}

	refund := decimal.Zero
	for _, item := range items {
		refund = refund.Add(item.Rate.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}

	ret := domain.Return{
		SaleID:       req.SaleID,
		CustomerName: strings.TrimSpace(req.CustomerName),
		RefundAmount: refund,
		FullBill:     req.FullBill,
		ReturnDate:   req.ReturnDate,
		Notes:        strings.TrimSpace(req.Notes),
	}

	created, err := s.repo.ApplyReturn(ctx, ret, items)
	if err != nil {
		return nil, err
	}

	phone := ""
	if req.SaleID != nil {
		if sale, err := s.repo.GetSale(ctx, *req.SaleID); err == nil {
			phone = sale.CustomerPhone
		}
	}
	s.invalidateOutstanding(ctx, phone)
	s.changed()
	return created, nil
}

func (s *Service) GetReturn(ctx context.Context, id string) (*ReturnDetail, error) {
	ret, err := s.repo.GetReturn(ctx, id)
	if err != nil {
		return nil, err
	}
	items, err := s.repo.GetReturnItems(ctx, id)
	if err != nil {
		return nil, err
	}
	return &ReturnDetail{Return: *ret, Items: items}, nil
}
