package service

import (
	"context"
	"errors"
	"testing"

	"tokoledger/backend/internal/domain"
	"tokoledger/backend/internal/store"
)

func TestSyncPendingMixedOutcomes(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	color := seedColor(t, svc, "Navy", 10)

	good, err := svc.EnqueueOfflineSale(ctx, domain.SaleCreateRequest{
		CustomerName: "Budi",
		Items:        []domain.SaleItemRequest{{ColorID: color.ID, Quantity: 2, Rate: dec(100)}},
	})
	if err != nil {
		t.Fatalf("enqueue good sale: %v", err)
	}
	bad, err := svc.EnqueueOfflineSale(ctx, domain.SaleCreateRequest{
		CustomerName: "Sari",
		Items:        []domain.SaleItemRequest{{ColorID: color.ID, Quantity: 999, Rate: dec(100)}},
	})
	if err != nil {
		t.Fatalf("enqueue bad sale: %v", err)
	}

	results, err := svc.SyncPending(ctx)
	if err != nil {
		t.Fatalf("sync pending: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}

	byID := map[string]domain.SyncPendingResult{}
	for _, r := range results {
		byID[r.OfflineID] = r
	}
	if byID[good.OfflineID].Status != "synced" || byID[good.OfflineID].SaleID == "" {
		t.Fatalf("good sale not synced: %+v", byID[good.OfflineID])
	}
	if byID[bad.OfflineID].Status != "failed" {
		t.Fatalf("impossible sale should fail terminally: %+v", byID[bad.OfflineID])
	}

	goodEntry, err := svc.repo.GetPendingSale(ctx, good.OfflineID)
	if err != nil {
		t.Fatalf("get good entry: %v", err)
	}
	if goodEntry.Status != domain.PendingStatusSynced || goodEntry.SyncedSaleID == "" {
		t.Fatalf("good entry not marked synced: %+v", goodEntry)
	}
	badEntry, err := svc.repo.GetPendingSale(ctx, bad.OfflineID)
	if err != nil {
		t.Fatalf("get bad entry: %v", err)
	}
	if badEntry.Status != domain.PendingStatusFailed || badEntry.LastError == "" {
		t.Fatalf("bad entry not marked failed: %+v", badEntry)
	}
}

func TestSyncPendingReplayIsIdempotent(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	color := seedColor(t, svc, "Navy", 10)
	if _, err := svc.EnqueueOfflineSale(ctx, domain.SaleCreateRequest{
		CustomerName: "Budi",
		Items:        []domain.SaleItemRequest{{ColorID: color.ID, Quantity: 3, Rate: dec(100)}},
	}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	if _, err := svc.SyncPending(ctx); err != nil {
		t.Fatalf("first sync: %v", err)
	}
	results, err := svc.SyncPending(ctx)
	if err != nil {
		t.Fatalf("second sync: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("second sync should find nothing pending, got %+v", results)
	}

	after, _ := svc.GetColor(ctx, color.ID)
	if after.StockQuantity != 7 {
		t.Fatalf("expected one decrement to 7, got %d", after.StockQuantity)
	}
}

func TestSyncPendingDetectsDuplicate(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	color := seedColor(t, svc, "Navy", 10)
	queued, err := svc.EnqueueOfflineSale(ctx, domain.SaleCreateRequest{
		CustomerName: "Budi",
		Items:        []domain.SaleItemRequest{{ColorID: color.ID, Quantity: 2, Rate: dec(100)}},
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	// The same checkout also landed online before the queue replayed.
	online, err := svc.CreateSale(ctx, domain.SaleCreateRequest{
		OfflineID:    queued.OfflineID,
		CustomerName: "Budi",
		Items:        []domain.SaleItemRequest{{ColorID: color.ID, Quantity: 2, Rate: dec(100)}},
	})
	if err != nil {
		t.Fatalf("online create: %v", err)
	}

	results, err := svc.SyncPending(ctx)
	if err != nil {
		t.Fatalf("sync pending: %v", err)
	}
	if len(results) != 1 || results[0].Status != "duplicate" || results[0].SaleID != online.ID {
		t.Fatalf("expected duplicate against %s, got %+v", online.ID, results)
	}
}

// flakyRepo fails CreateSale with an infrastructure error a fixed number of
// times before delegating.
type flakyRepo struct {
	store.Repository
	failures int
}

func (f *flakyRepo) CreateSale(ctx context.Context, sale domain.Sale, items []domain.SaleItem) (*domain.Sale, error) {
	if f.failures > 0 {
		f.failures--
		return nil, errors.New("disk i/o timeout")
	}
	return f.Repository.CreateSale(ctx, sale, items)
}

func TestRetryableFailureStaysPending(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	color := seedColor(t, svc, "Navy", 10)

	flaky := &flakyRepo{Repository: repo, failures: 1}
	svc.repo = flaky

	queued, err := svc.EnqueueOfflineSale(ctx, domain.SaleCreateRequest{
		CustomerName: "Budi",
		Items:        []domain.SaleItemRequest{{ColorID: color.ID, Quantity: 1, Rate: dec(100)}},
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	results, err := svc.SyncPending(ctx)
	if err != nil {
		t.Fatalf("sync with flaky store: %v", err)
	}
	if len(results) != 1 || results[0].Status != "pending" {
		t.Fatalf("infrastructure failure should stay pending, got %+v", results)
	}

	entry, _ := svc.repo.GetPendingSale(ctx, queued.OfflineID)
	if entry.Status != domain.PendingStatusPending || entry.Attempts != 1 {
		t.Fatalf("entry should stay pending with one attempt: %+v", entry)
	}

	// Next run succeeds.
	results, err = svc.SyncPending(ctx)
	if err != nil {
		t.Fatalf("second sync: %v", err)
	}
	if len(results) != 1 || results[0].Status != "synced" {
		t.Fatalf("expected synced on retry, got %+v", results)
	}
}

func TestDiscardPendingSale(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	color := seedColor(t, svc, "Navy", 10)
	queued, err := svc.EnqueueOfflineSale(ctx, domain.SaleCreateRequest{
		CustomerName: "Budi",
		Items:        []domain.SaleItemRequest{{ColorID: color.ID, Quantity: 999, Rate: dec(100)}},
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := svc.SyncPending(ctx); err != nil {
		t.Fatalf("sync: %v", err)
	}

	if err := svc.DiscardPendingSale(ctx, queued.OfflineID); err != nil {
		t.Fatalf("discard failed entry: %v", err)
	}
	if _, err := svc.repo.GetPendingSale(ctx, queued.OfflineID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("entry should be gone, got %v", err)
	}
}

func TestCartSurvivesRestart(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	if err := svc.SaveCart(ctx, domain.TerminalState{
		TerminalID:   "terminal-1",
		CustomerName: "Budi",
		CartJSON:     []byte(`[{"color_id":"color-1","quantity":2}]`),
	}); err != nil {
		t.Fatalf("save cart: %v", err)
	}

	st, err := svc.LoadCart(ctx, "terminal-1")
	if err != nil {
		t.Fatalf("load cart: %v", err)
	}
	if st.CustomerName != "Budi" || len(st.CartJSON) == 0 {
		t.Fatalf("cart lost: %+v", st)
	}

	// Unknown terminal loads an empty state, not an error.
	empty, err := svc.LoadCart(ctx, "terminal-9")
	if err != nil {
		t.Fatalf("load unknown terminal: %v", err)
	}
	if empty.TerminalID != "terminal-9" || empty.CartJSON != nil {
		t.Fatalf("expected empty state, got %+v", empty)
	}
}
