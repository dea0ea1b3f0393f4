package service

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"

	"tokoledger/backend/internal/domain"
	"tokoledger/backend/internal/store"
)

// RecordPayment applies a payment against a sale's outstanding balance. The
// balance check and update are one atomic step in the store; the audit row is
// best-effort and a lost one is logged, never surfaced.
func (s *Service) RecordPayment(ctx context.Context, req domain.PaymentRequest) (*domain.Sale, *domain.PaymentHistory, error) {
	if req.SaleID == "" || !req.Amount.IsPositive() {
		return nil, nil, store.ErrInvalidInput
	}
	method := strings.TrimSpace(req.PaymentMethod)
	if method == "" {
		method = "cash"
	}

	sale, entry, err := s.repo.ApplyPayment(ctx, req.SaleID, req.Amount, method, strings.TrimSpace(req.Notes))
	if err != nil {
		return nil, nil, err
	}
	if entry == nil {
		s.log.WithFields(logrus.Fields{
			"sale_id": req.SaleID,
			"amount":  req.Amount.String(),
		}).Warn("payment applied without history entry")
	}

	s.invalidateOutstanding(ctx, sale.CustomerPhone)
	s.changed()
	return sale, entry, nil
}

// UpdatePayment corrects a recorded payment. Only the delta against the old
// amount moves the sale's balance; the history table is never summed.
func (s *Service) UpdatePayment(ctx context.Context, paymentID string, req domain.PaymentUpdateRequest) (*domain.Sale, error) {
	if paymentID == "" || !req.Amount.IsPositive() {
		return nil, store.ErrInvalidInput
	}

	sale, err := s.repo.UpdatePaymentEntry(ctx, paymentID, req.Amount, strings.TrimSpace(req.PaymentMethod), strings.TrimSpace(req.Notes))
	if err != nil {
		return nil, err
	}

	s.invalidateOutstanding(ctx, sale.CustomerPhone)
	s.changed()
	return sale, nil
}

func (s *Service) DeletePayment(ctx context.Context, paymentID string) (*domain.Sale, error) {
	if paymentID == "" {
		return nil, store.ErrInvalidInput
	}

	sale, err := s.repo.DeletePaymentEntry(ctx, paymentID)
	if err != nil {
		return nil, err
	}

	s.invalidateOutstanding(ctx, sale.CustomerPhone)
	s.changed()
	return sale, nil
}

func (s *Service) ListPayments(ctx context.Context, saleID string, limit int) ([]domain.PaymentHistory, error) {
	return s.repo.ListPayments(ctx, saleID, limit)
}
