package service

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"tokoledger/backend/internal/domain"
	"tokoledger/backend/internal/store"
	"tokoledger/backend/internal/xid"
)

// EnqueueOfflineSale queues a checkout captured while the ledger could not be
// written, tagged with a durable offline id for idempotent replay. The id is
// generated here when the terminal did not supply one.
func (s *Service) EnqueueOfflineSale(ctx context.Context, req domain.SaleCreateRequest) (*domain.PendingSale, error) {
	if req.OfflineID == "" {
		req.OfflineID = xid.New("off")
	}

	payload, err := domain.EncodePendingPayload(domain.PendingSalePayload{
		Sale: domain.SaleDraft{
			CustomerName:    req.CustomerName,
			CustomerPhone:   req.CustomerPhone,
			AmountPaid:      req.AmountPaid,
			TotalAmount:     req.TotalAmount,
			IsManualBalance: req.IsManualBalance,
			SaleDate:        req.SaleDate,
			DueDate:         req.DueDate,
			Notes:           req.Notes,
		},
		Items: draftsFromRequests(req.Items),
	})
	if err != nil {
		return nil, err
	}

	queued, err := s.repo.EnqueuePendingSale(ctx, domain.PendingSale{
		OfflineID: req.OfflineID,
		Payload:   payload,
	})
	if err != nil {
		return nil, err
	}

	s.log.WithField("offline_id", queued.OfflineID).Info("sale queued for replay")
	return queued, nil
}

func draftsFromRequests(items []domain.SaleItemRequest) []domain.SaleItemDraft {
	drafts := make([]domain.SaleItemDraft, 0, len(items))
	for _, item := range items {
		drafts = append(drafts, domain.SaleItemDraft{
			ColorID:  item.ColorID,
			Quantity: item.Quantity,
			Rate:     item.Rate,
		})
	}
	return drafts
}

// SyncPending replays every queued sale in arrival order. Each entry resolves
// independently: a replay that hits a validation problem fails for good, one
// that hits an infrastructure problem stays pending for the next run, and one
// whose offline id already landed is marked duplicate against the existing
// sale.
func (s *Service) SyncPending(ctx context.Context) ([]domain.SyncPendingResult, error) {
	pending, err := s.repo.ListPendingSales(ctx, domain.PendingStatusPending, 0)
	if err != nil {
		return nil, err
	}

	results := make([]domain.SyncPendingResult, 0, len(pending))
	for _, entry := range pending {
		results = append(results, s.replayPending(ctx, entry))
	}
	return results, nil
}

func (s *Service) replayPending(ctx context.Context, entry domain.PendingSale) domain.SyncPendingResult {
	result := domain.SyncPendingResult{OfflineID: entry.OfflineID}

	payload, err := domain.MigratePendingPayload(entry.Payload)
	if err != nil {
		// Undecodable payloads can never replay.
		if markErr := s.repo.RecordPendingFailure(ctx, entry.OfflineID, err.Error(), true); markErr != nil {
			s.log.WithError(markErr).WithField("offline_id", entry.OfflineID).Error("pending failure not recorded")
		}
		result.Status = "failed"
		result.Error = err.Error()
		return result
	}

	if existing, err := s.repo.FindSaleByOfflineID(ctx, entry.OfflineID); err == nil {
		if markErr := s.repo.MarkPendingSynced(ctx, entry.OfflineID, existing.ID); markErr != nil {
			s.log.WithError(markErr).WithField("offline_id", entry.OfflineID).Error("pending sync mark failed")
		}
		result.Status = "duplicate"
		result.SaleID = existing.ID
		return result
	}

	sale, err := s.CreateSale(ctx, domain.SaleCreateRequest{
		OfflineID:       entry.OfflineID,
		CustomerName:    payload.Sale.CustomerName,
		CustomerPhone:   payload.Sale.CustomerPhone,
		AmountPaid:      payload.Sale.AmountPaid,
		TotalAmount:     payload.Sale.TotalAmount,
		IsManualBalance: payload.Sale.IsManualBalance,
		SaleDate:        payload.Sale.SaleDate,
		DueDate:         payload.Sale.DueDate,
		Notes:           payload.Sale.Notes,
		Items:           requestsFromDrafts(payload.Items),
	})
	if err != nil {
		terminal := terminalError(err)
		if markErr := s.repo.RecordPendingFailure(ctx, entry.OfflineID, err.Error(), terminal); markErr != nil {
			s.log.WithError(markErr).WithField("offline_id", entry.OfflineID).Error("pending failure not recorded")
		}
		if terminal {
			result.Status = "failed"
		} else {
			result.Status = "pending"
		}
		result.Error = err.Error()
		s.log.WithFields(logrus.Fields{
			"offline_id": entry.OfflineID,
			"terminal":   terminal,
		}).WithError(err).Warn("pending sale replay failed")
		return result
	}

	if markErr := s.repo.MarkPendingSynced(ctx, entry.OfflineID, sale.ID); markErr != nil {
		s.log.WithError(markErr).WithField("offline_id", entry.OfflineID).Error("pending sync mark failed")
	}
	result.Status = "synced"
	result.SaleID = sale.ID
	return result
}

func requestsFromDrafts(drafts []domain.SaleItemDraft) []domain.SaleItemRequest {
	items := make([]domain.SaleItemRequest, 0, len(drafts))
	for _, d := range drafts {
		items = append(items, domain.SaleItemRequest{
			ColorID:  d.ColorID,
			Quantity: d.Quantity,
			Rate:     d.Rate,
		})
	}
	return items
}

func (s *Service) ListPendingSales(ctx context.Context, status string, limit int) ([]domain.PendingSale, error) {
	return s.repo.ListPendingSales(ctx, status, limit)
}

// DiscardPendingSale drops a queue entry that will never replay, typically a
// terminally failed one the operator has handled by hand.
func (s *Service) DiscardPendingSale(ctx context.Context, offlineID string) error {
	entry, err := s.repo.GetPendingSale(ctx, offlineID)
	if err != nil {
		return err
	}
	if entry.Status == domain.PendingStatusSynced {
		return store.ErrInvalidInput
	}
	return s.repo.DeletePendingSale(ctx, offlineID)
}

// SaveCart snapshots the in-progress cart so the terminal survives a restart
// while offline.
func (s *Service) SaveCart(ctx context.Context, st domain.TerminalState) error {
	return s.repo.SaveTerminalState(ctx, st)
}

func (s *Service) LoadCart(ctx context.Context, terminalID string) (*domain.TerminalState, error) {
	st, err := s.repo.LoadTerminalState(ctx, terminalID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return &domain.TerminalState{TerminalID: terminalID}, nil
		}
		return nil, err
	}
	return st, nil
}
