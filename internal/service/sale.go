package service

import (
	"context"
	"errors"
	"strings"

	"github.com/shopspring/decimal"

	"tokoledger/backend/internal/domain"
	"tokoledger/backend/internal/store"
)

const outstandingCacheAllKey = "outstanding:all"

func outstandingCacheKey(phone string) string {
	if phone == "" {
		return outstandingCacheAllKey
	}
	return "outstanding:" + phone
}

// SaleDetail bundles a sale with its line items for read paths.
type SaleDetail struct {
	Sale  domain.Sale       `json:"sale"`
	Items []domain.SaleItem `json:"items"`
}

// CreateSale records a checkout as one atomic unit: the sale, its items, and
// the per-item stock decrements all land or none do. A reused offline id
// short-circuits to the already-recorded sale instead of double-charging.
func (s *Service) CreateSale(ctx context.Context, req domain.SaleCreateRequest) (*domain.Sale, error) {
	req.CustomerName = strings.TrimSpace(req.CustomerName)
	req.CustomerPhone = strings.TrimSpace(req.CustomerPhone)
	if req.CustomerName == "" {
		return nil, store.ErrInvalidInput
	}
	if req.SaleDate != "" && !domain.ValidLedgerDate(req.SaleDate) {
		return nil, store.ErrInvalidInput
	}
	if req.DueDate != nil && !domain.ValidLedgerDate(*req.DueDate) {
		return nil, store.ErrInvalidInput
	}
	if req.AmountPaid.IsNegative() {
		return nil, store.ErrInvalidInput
	}

	if req.OfflineID != "" {
		existing, err := s.repo.FindSaleByOfflineID(ctx, req.OfflineID)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
	}

	var total decimal.Decimal
	items := make([]domain.SaleItem, 0, len(req.Items))
	if req.IsManualBalance {
		// Manual balances carry over debts from the paper book; there is
		// no item detail and no stock movement.
		if len(req.Items) > 0 || !req.TotalAmount.IsPositive() {
			return nil, store.ErrInvalidInput
		}
		total = req.TotalAmount
	} else {
		if len(req.Items) == 0 {
			return nil, store.ErrInvalidInput
		}
		for _, item := range req.Items {
			if item.ColorID == "" || item.Quantity < 1 || item.Rate.IsNegative() {
				return nil, store.ErrInvalidInput
			}
			items = append(items, domain.SaleItem{
				ColorID:  item.ColorID,
				Quantity: item.Quantity,
				Rate:     item.Rate,
			})
			total = total.Add(item.Rate.Mul(decimal.NewFromInt(int64(item.Quantity))))
		}
	}
	if req.AmountPaid.GreaterThan(total) {
		return nil, store.ErrPaymentExceedsBalance
	}

	sale := domain.Sale{
		OfflineID:       req.OfflineID,
		CustomerName:    req.CustomerName,
		CustomerPhone:   req.CustomerPhone,
		TotalAmount:     total,
		AmountPaid:      req.AmountPaid,
		PaymentStatus:   domain.DerivePaymentStatus(total, req.AmountPaid),
		IsManualBalance: req.IsManualBalance,
		SaleDate:        req.SaleDate,
		DueDate:         req.DueDate,
		Notes:           strings.TrimSpace(req.Notes),
	}

	created, err := s.repo.CreateSale(ctx, sale, items)
	if err != nil {
		if errors.Is(err, store.ErrDuplicateOfflineID) && req.OfflineID != "" {
			// Lost the race against a concurrent replay of the same id.
			return s.repo.FindSaleByOfflineID(ctx, req.OfflineID)
		}
		return nil, err
	}

	s.invalidateOutstanding(ctx, created.CustomerPhone)
	s.changed()
	return created, nil
}

func (s *Service) GetSale(ctx context.Context, id string) (*SaleDetail, error) {
	sale, err := s.repo.GetSale(ctx, id)
	if err != nil {
		return nil, err
	}
	items, err := s.repo.GetSaleItems(ctx, id)
	if err != nil {
		return nil, err
	}
	return &SaleDetail{Sale: *sale, Items: items}, nil
}

// ListOutstanding returns unpaid and partially paid sales, optionally scoped
// to one customer phone. Results are cached briefly; writes invalidate.
func (s *Service) ListOutstanding(ctx context.Context, customerPhone string, limit int) ([]domain.Sale, error) {
	key := outstandingCacheKey(customerPhone)
	if cached, ok, err := s.balances.Get(ctx, key); err == nil && ok {
		return cached, nil
	}

	sales, err := s.repo.ListOutstandingSales(ctx, customerPhone, limit)
	if err != nil {
		return nil, err
	}
	if err := s.balances.Set(ctx, key, sales, s.outstandingTTL); err != nil {
		s.log.WithError(err).Debug("outstanding cache set failed")
	}
	return sales, nil
}

// DeleteSale reverses a mistaken entry. Unreturned item quantities go back to
// stock through reversal history rows so the movement ledger stays balanced.
func (s *Service) DeleteSale(ctx context.Context, id string) error {
	if id == "" {
		return store.ErrInvalidInput
	}
	sale, err := s.repo.GetSale(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.DeleteSale(ctx, id); err != nil {
		return err
	}

	s.invalidateOutstanding(ctx, sale.CustomerPhone)
	s.changed()
	return nil
}

// EditSaleItem changes a line's quantity or rate. The stock delta is applied
// and the sale total and status re-derived.
func (s *Service) EditSaleItem(ctx context.Context, itemID string, req domain.SaleItemUpdateRequest) (*domain.Sale, error) {
	if itemID == "" || req.Quantity < 1 || req.Rate.IsNegative() {
		return nil, store.ErrInvalidInput
	}

	sale, err := s.repo.UpdateSaleItem(ctx, itemID, req.Quantity, req.Rate)
	if err != nil {
		return nil, err
	}

	s.invalidateOutstanding(ctx, sale.CustomerPhone)
	s.changed()
	return sale, nil
}

func (s *Service) DeleteSaleItem(ctx context.Context, itemID string) (*domain.Sale, error) {
	if itemID == "" {
		return nil, store.ErrInvalidInput
	}

	sale, err := s.repo.DeleteSaleItem(ctx, itemID)
	if err != nil {
		return nil, err
	}

	s.invalidateOutstanding(ctx, sale.CustomerPhone)
	s.changed()
	return sale, nil
}

func (s *Service) invalidateOutstanding(ctx context.Context, customerPhone string) {
	if err := s.balances.Invalidate(ctx, outstandingCacheAllKey); err != nil {
		s.log.WithError(err).Debug("outstanding cache invalidate failed")
	}
	if customerPhone != "" {
		if err := s.balances.Invalidate(ctx, outstandingCacheKey(customerPhone)); err != nil {
			s.log.WithError(err).Debug("outstanding cache invalidate failed")
		}
	}
}
