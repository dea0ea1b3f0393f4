package remote

import (
	"context"
	"sync"
	"time"

	"tokoledger/backend/internal/domain"
)

// MemoryLedger is an in-process mirror used by tests and by dev mode when no
// remote database is configured. Offline toggles let tests simulate a
// connection drop mid-pass.
type MemoryLedger struct {
	mu          sync.Mutex
	offline     bool
	failOnPush  bool
	colors      map[string]domain.Color
	stockIns    map[string]domain.StockInHistory
	stockOuts   map[string]domain.StockOutHistory
	sales       map[string]domain.Sale
	saleItems   map[string]domain.SaleItem
	payments    map[string]domain.PaymentHistory
	returns     map[string]domain.Return
	returnItems map[string]domain.ReturnItem
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		colors:      make(map[string]domain.Color),
		stockIns:    make(map[string]domain.StockInHistory),
		stockOuts:   make(map[string]domain.StockOutHistory),
		sales:       make(map[string]domain.Sale),
		saleItems:   make(map[string]domain.SaleItem),
		payments:    make(map[string]domain.PaymentHistory),
		returns:     make(map[string]domain.Return),
		returnItems: make(map[string]domain.ReturnItem),
	}
}

func (l *MemoryLedger) SetOffline(offline bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.offline = offline
}

// FailNextPushes makes every PushChanges call fail until cleared, while
// PullChanges keeps working. Used to exercise the import-succeeded,
// export-failed half of a sync pass.
func (l *MemoryLedger) FailNextPushes(fail bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failOnPush = fail
}

func (l *MemoryLedger) Ping(_ context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.offline {
		return ErrUnavailable
	}
	return nil
}

func (l *MemoryLedger) Close() error { return nil }

func (l *MemoryLedger) PullChanges(_ context.Context, since time.Time) (*domain.ChangeSet, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.offline {
		return nil, ErrUnavailable
	}

	cs := &domain.ChangeSet{}
	for _, c := range l.colors {
		if c.UpdatedAt.After(since) {
			cs.Colors = append(cs.Colors, c)
		}
	}
	for _, e := range l.stockIns {
		if e.UpdatedAt.After(since) {
			cs.StockIns = append(cs.StockIns, e)
		}
	}
	for _, e := range l.stockOuts {
		if e.UpdatedAt.After(since) {
			cs.StockOuts = append(cs.StockOuts, e)
		}
	}
	for _, s := range l.sales {
		if s.UpdatedAt.After(since) {
			cs.Sales = append(cs.Sales, s)
		}
	}
	for _, item := range l.saleItems {
		if item.UpdatedAt.After(since) {
			cs.SaleItems = append(cs.SaleItems, item)
		}
	}
	for _, p := range l.payments {
		if p.UpdatedAt.After(since) {
			cs.Payments = append(cs.Payments, p)
		}
	}
	for _, r := range l.returns {
		if r.UpdatedAt.After(since) {
			cs.Returns = append(cs.Returns, r)
		}
	}
	for _, ri := range l.returnItems {
		if ri.CreatedAt.After(since) {
			cs.ReturnItems = append(cs.ReturnItems, ri)
		}
	}
	return cs, nil
}

func (l *MemoryLedger) PushChanges(_ context.Context, cs *domain.ChangeSet) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.offline {
		return ErrUnavailable
	}
	if l.failOnPush {
		return ErrUnavailable
	}
	if cs == nil {
		return nil
	}

	for _, c := range cs.Colors {
		l.colors[c.ID] = c
	}
	for _, e := range cs.StockIns {
		l.stockIns[e.ID] = e
	}
	for _, e := range cs.StockOuts {
		l.stockOuts[e.ID] = e
	}
	for _, s := range cs.Sales {
		l.sales[s.ID] = s
	}
	for _, item := range cs.SaleItems {
		l.saleItems[item.ID] = item
	}
	for _, p := range cs.Payments {
		l.payments[p.ID] = p
	}
	for _, r := range cs.Returns {
		l.returns[r.ID] = r
	}
	for _, ri := range cs.ReturnItems {
		l.returnItems[ri.ID] = ri
	}
	return nil
}

// SeedSale plants a sale on the mirror directly, as if another terminal had
// exported it.
func (l *MemoryLedger) SeedSale(sale domain.Sale, items []domain.SaleItem) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sales[sale.ID] = sale
	for _, item := range items {
		l.saleItems[item.ID] = item
	}
}

// SeedColor plants an inventory unit on the mirror directly.
func (l *MemoryLedger) SeedColor(c domain.Color) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.colors[c.ID] = c
}

var _ Ledger = (*MemoryLedger)(nil)
