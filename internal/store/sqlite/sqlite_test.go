package sqlite

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"tokoledger/backend/internal/domain"
	"tokoledger/backend/internal/store"
)

func openTestStore(t *testing.T, path string) *Store {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)
	s, err := Open(path, log)
	if err != nil {
		t.Fatalf("open sqlite store: %v", err)
	}
	return s
}

func TestLedgerSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	ctx := context.Background()

	s := openTestStore(t, path)
	color, err := s.CreateColor(ctx, domain.Color{Name: "Navy"})
	if err != nil {
		t.Fatalf("create color: %v", err)
	}
	if _, _, err := s.StockIn(ctx, domain.StockInHistory{ColorID: color.ID, Quantity: 10}); err != nil {
		t.Fatalf("stock in: %v", err)
	}
	sale, err := s.CreateSale(ctx,
		domain.Sale{CustomerName: "Budi", TotalAmount: decimal.NewFromInt(200), PaymentStatus: domain.PaymentStatusUnpaid},
		[]domain.SaleItem{{ColorID: color.ID, Quantity: 2, Rate: decimal.NewFromInt(100)}})
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}
	if err := s.SetSyncWatermark(ctx, "central", time.Date(2026, 1, 15, 8, 0, 0, 0, time.UTC)); err != nil {
		t.Fatalf("set watermark: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	s = openTestStore(t, path)
	defer s.Close()

	got, err := s.GetColor(ctx, color.ID)
	if err != nil {
		t.Fatalf("get color after reopen: %v", err)
	}
	if got.StockQuantity != 8 {
		t.Fatalf("expected stock 8 after reopen, got %d", got.StockQuantity)
	}
	reloaded, err := s.GetSale(ctx, sale.ID)
	if err != nil {
		t.Fatalf("get sale after reopen: %v", err)
	}
	if !reloaded.TotalAmount.Equal(decimal.NewFromInt(200)) {
		t.Fatalf("total lost precision across reopen: %s", reloaded.TotalAmount)
	}
	wm, err := s.GetSyncWatermark(ctx, "central")
	if err != nil {
		t.Fatalf("get watermark: %v", err)
	}
	if !wm.Equal(time.Date(2026, 1, 15, 8, 0, 0, 0, time.UTC)) {
		t.Fatalf("watermark lost across reopen: %s", wm)
	}
}

func TestCreateSaleRollsBackOnInsufficientStock(t *testing.T) {
	s := openTestStore(t, filepath.Join(t.TempDir(), "ledger.db"))
	defer s.Close()
	ctx := context.Background()

	plenty, err := s.CreateColor(ctx, domain.Color{Name: "Navy"})
	if err != nil {
		t.Fatalf("create color: %v", err)
	}
	if _, _, err := s.StockIn(ctx, domain.StockInHistory{ColorID: plenty.ID, Quantity: 50}); err != nil {
		t.Fatalf("stock in: %v", err)
	}
	scarce, err := s.CreateColor(ctx, domain.Color{Name: "Maroon"})
	if err != nil {
		t.Fatalf("create color: %v", err)
	}

	_, err = s.CreateSale(ctx,
		domain.Sale{CustomerName: "Sari", PaymentStatus: domain.PaymentStatusUnpaid},
		[]domain.SaleItem{
			{ColorID: plenty.ID, Quantity: 5, Rate: decimal.NewFromInt(100)},
			{ColorID: scarce.ID, Quantity: 1, Rate: decimal.NewFromInt(100)},
		})
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}

	after, err := s.GetColor(ctx, plenty.ID)
	if err != nil {
		t.Fatalf("get color: %v", err)
	}
	if after.StockQuantity != 50 {
		t.Fatalf("partial decrement survived rollback: %d", after.StockQuantity)
	}
	outs, err := s.ListStockOutHistory(ctx, plenty.ID, 0)
	if err != nil {
		t.Fatalf("list stock-out history: %v", err)
	}
	if len(outs) != 0 {
		t.Fatalf("stock-out rows survived rollback: %+v", outs)
	}
}

func TestOfflineIDUniqueAcrossInserts(t *testing.T) {
	s := openTestStore(t, filepath.Join(t.TempDir(), "ledger.db"))
	defer s.Close()
	ctx := context.Background()

	color, err := s.CreateColor(ctx, domain.Color{Name: "Navy"})
	if err != nil {
		t.Fatalf("create color: %v", err)
	}
	if _, _, err := s.StockIn(ctx, domain.StockInHistory{ColorID: color.ID, Quantity: 10}); err != nil {
		t.Fatalf("stock in: %v", err)
	}

	first, err := s.CreateSale(ctx,
		domain.Sale{OfflineID: "off-dup", CustomerName: "Budi", PaymentStatus: domain.PaymentStatusUnpaid},
		[]domain.SaleItem{{ColorID: color.ID, Quantity: 1, Rate: decimal.NewFromInt(100)}})
	if err != nil {
		t.Fatalf("first create: %v", err)
	}

	_, err = s.CreateSale(ctx,
		domain.Sale{OfflineID: "off-dup", CustomerName: "Budi", PaymentStatus: domain.PaymentStatusUnpaid},
		[]domain.SaleItem{{ColorID: color.ID, Quantity: 1, Rate: decimal.NewFromInt(100)}})
	if !errors.Is(err, store.ErrDuplicateOfflineID) {
		t.Fatalf("expected ErrDuplicateOfflineID, got %v", err)
	}

	found, err := s.FindSaleByOfflineID(ctx, "off-dup")
	if err != nil {
		t.Fatalf("find by offline id: %v", err)
	}
	if found.ID != first.ID {
		t.Fatalf("lookup found wrong sale: %s vs %s", found.ID, first.ID)
	}

	// Sales without an offline id never collide with each other.
	for i := 0; i < 2; i++ {
		if _, err := s.CreateSale(ctx,
			domain.Sale{CustomerName: "walk-in", PaymentStatus: domain.PaymentStatusUnpaid},
			[]domain.SaleItem{{ColorID: color.ID, Quantity: 1, Rate: decimal.NewFromInt(100)}}); err != nil {
			t.Fatalf("walk-in sale %d: %v", i, err)
		}
	}
}

func TestReturnBatchAgainstSameItemRejectedWithSentinel(t *testing.T) {
	s := openTestStore(t, filepath.Join(t.TempDir(), "ledger.db"))
	defer s.Close()
	ctx := context.Background()

	color, err := s.CreateColor(ctx, domain.Color{Name: "Navy"})
	if err != nil {
		t.Fatalf("create color: %v", err)
	}
	if _, _, err := s.StockIn(ctx, domain.StockInHistory{ColorID: color.ID, Quantity: 10}); err != nil {
		t.Fatalf("stock in: %v", err)
	}
	sale, err := s.CreateSale(ctx,
		domain.Sale{CustomerName: "Budi", TotalAmount: decimal.NewFromInt(500), PaymentStatus: domain.PaymentStatusUnpaid},
		[]domain.SaleItem{{ColorID: color.ID, Quantity: 5, Rate: decimal.NewFromInt(100)}})
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}
	items, err := s.GetSaleItems(ctx, sale.ID)
	if err != nil {
		t.Fatalf("get sale items: %v", err)
	}
	itemID := items[0].ID

	// Two lines against the same item, each under the cap, 6 of 5 combined.
	_, err = s.ApplyReturn(ctx,
		domain.Return{SaleID: &sale.ID, RefundAmount: decimal.NewFromInt(600)},
		[]domain.ReturnItem{
			{SaleItemID: &itemID, ColorID: color.ID, Quantity: 3, Rate: decimal.NewFromInt(100), StockRestored: true},
			{SaleItemID: &itemID, ColorID: color.ID, Quantity: 3, Rate: decimal.NewFromInt(100), StockRestored: true},
		})
	if !errors.Is(err, store.ErrReturnExceedsQuantity) {
		t.Fatalf("expected ErrReturnExceedsQuantity, got %v", err)
	}

	items, err = s.GetSaleItems(ctx, sale.ID)
	if err != nil {
		t.Fatalf("get sale items: %v", err)
	}
	if items[0].QuantityReturned != 0 {
		t.Fatalf("quantity_returned leaked from rejected batch: %d", items[0].QuantityReturned)
	}
	after, err := s.GetColor(ctx, color.ID)
	if err != nil {
		t.Fatalf("get color: %v", err)
	}
	if after.StockQuantity != 5 {
		t.Fatalf("rejected batch moved stock: %d", after.StockQuantity)
	}
}

func TestPendingQueueRoundTrip(t *testing.T) {
	s := openTestStore(t, filepath.Join(t.TempDir(), "ledger.db"))
	defer s.Close()
	ctx := context.Background()

	payload, err := domain.EncodePendingPayload(domain.PendingSalePayload{
		Sale:  domain.SaleDraft{CustomerName: "Budi"},
		Items: []domain.SaleItemDraft{{ColorID: "color-1", Quantity: 2, Rate: decimal.NewFromInt(100)}},
	})
	if err != nil {
		t.Fatalf("encode payload: %v", err)
	}
	if _, err := s.EnqueuePendingSale(ctx, domain.PendingSale{OfflineID: "off-q1", Payload: payload}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	pending, err := s.ListPendingSales(ctx, domain.PendingStatusPending, 0)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("expected one pending entry, got %d", len(pending))
	}
	decoded, err := domain.MigratePendingPayload(pending[0].Payload)
	if err != nil {
		t.Fatalf("payload unreadable after round trip: %v", err)
	}
	if decoded.Sale.CustomerName != "Budi" || len(decoded.Items) != 1 {
		t.Fatalf("payload mangled: %+v", decoded)
	}

	if err := s.RecordPendingFailure(ctx, "off-q1", "no stock", true); err != nil {
		t.Fatalf("record failure: %v", err)
	}
	entry, err := s.GetPendingSale(ctx, "off-q1")
	if err != nil {
		t.Fatalf("get entry: %v", err)
	}
	if entry.Status != domain.PendingStatusFailed || entry.Attempts != 1 || entry.LastError != "no stock" {
		t.Fatalf("failure not recorded: %+v", entry)
	}
}

func TestApplyChangeSetSkipsStaleRows(t *testing.T) {
	s := openTestStore(t, filepath.Join(t.TempDir(), "ledger.db"))
	defer s.Close()
	ctx := context.Background()

	color, err := s.CreateColor(ctx, domain.Color{Name: "Navy"})
	if err != nil {
		t.Fatalf("create color: %v", err)
	}

	stale := *color
	stale.Name = "Navy (stale)"
	stale.StockQuantity = 99
	stale.UpdatedAt = color.UpdatedAt.Add(-time.Hour)
	if err := s.ApplyChangeSet(ctx, &domain.ChangeSet{Colors: []domain.Color{stale}}); err != nil {
		t.Fatalf("apply stale change set: %v", err)
	}
	got, err := s.GetColor(ctx, color.ID)
	if err != nil {
		t.Fatalf("get color: %v", err)
	}
	if got.Name != "Navy" || got.StockQuantity != 0 {
		t.Fatalf("stale row overwrote newer local copy: %+v", got)
	}

	fresh := *color
	fresh.Name = "Navy (renamed)"
	fresh.UpdatedAt = color.UpdatedAt.Add(time.Hour)
	if err := s.ApplyChangeSet(ctx, &domain.ChangeSet{Colors: []domain.Color{fresh}}); err != nil {
		t.Fatalf("apply fresh change set: %v", err)
	}
	got, err = s.GetColor(ctx, color.ID)
	if err != nil {
		t.Fatalf("get color: %v", err)
	}
	if got.Name != "Navy (renamed)" {
		t.Fatalf("newer row not applied: %+v", got)
	}
}

func TestPaymentHistoryAndBalanceAtomic(t *testing.T) {
	s := openTestStore(t, filepath.Join(t.TempDir(), "ledger.db"))
	defer s.Close()
	ctx := context.Background()

	color, err := s.CreateColor(ctx, domain.Color{Name: "Navy"})
	if err != nil {
		t.Fatalf("create color: %v", err)
	}
	if _, _, err := s.StockIn(ctx, domain.StockInHistory{ColorID: color.ID, Quantity: 10}); err != nil {
		t.Fatalf("stock in: %v", err)
	}
	sale, err := s.CreateSale(ctx,
		domain.Sale{CustomerName: "Budi", TotalAmount: decimal.NewFromInt(1000), PaymentStatus: domain.PaymentStatusUnpaid},
		[]domain.SaleItem{{ColorID: color.ID, Quantity: 10, Rate: decimal.NewFromInt(100)}})
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}

	updated, entry, err := s.ApplyPayment(ctx, sale.ID, decimal.NewFromInt(400), "cash", "")
	if err != nil {
		t.Fatalf("apply payment: %v", err)
	}
	if updated.PaymentStatus != domain.PaymentStatusPartial {
		t.Fatalf("expected partial, got %s", updated.PaymentStatus)
	}
	if entry == nil || !entry.PreviousBalance.Equal(decimal.NewFromInt(1000)) || !entry.NewBalance.Equal(decimal.NewFromInt(600)) {
		t.Fatalf("history snapshots wrong: %+v", entry)
	}

	if _, _, err := s.ApplyPayment(ctx, sale.ID, decimal.NewFromInt(700), "cash", ""); !errors.Is(err, store.ErrPaymentExceedsBalance) {
		t.Fatalf("expected ErrPaymentExceedsBalance, got %v", err)
	}
	reloaded, err := s.GetSale(ctx, sale.ID)
	if err != nil {
		t.Fatalf("get sale: %v", err)
	}
	if !reloaded.AmountPaid.Equal(decimal.NewFromInt(400)) {
		t.Fatalf("rejected payment moved the balance: %s", reloaded.AmountPaid)
	}
}
