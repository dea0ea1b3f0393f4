package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"tokoledger/backend/internal/domain"
	"tokoledger/backend/internal/store"
	"tokoledger/backend/internal/xid"
)

// Store is the in-memory Repository used by tests and by dev mode when no
// sqlite path is configured. A single mutex stands in for the transaction
// boundary of the durable stores: every mutating method applies all of its
// effects, or none, while holding the write lock.
type Store struct {
	mu              sync.RWMutex
	colors          map[string]domain.Color
	stockInsByID    map[string]domain.StockInHistory
	stockOutsByID   map[string]domain.StockOutHistory
	salesByID       map[string]domain.Sale
	salesByOffline  map[string]string
	saleItemsByID   map[string]domain.SaleItem
	paymentsByID    map[string]domain.PaymentHistory
	returnsByID     map[string]domain.Return
	returnItemsByID map[string]domain.ReturnItem
	pendingByID     map[string]domain.PendingSale
	terminalStates  map[string]domain.TerminalState
	jobsByID        map[string]domain.SyncJob
	watermarks      map[string]time.Time
}

func New() *Store {
	return &Store{
		colors:          make(map[string]domain.Color),
		stockInsByID:    make(map[string]domain.StockInHistory),
		stockOutsByID:   make(map[string]domain.StockOutHistory),
		salesByID:       make(map[string]domain.Sale),
		salesByOffline:  make(map[string]string),
		saleItemsByID:   make(map[string]domain.SaleItem),
		paymentsByID:    make(map[string]domain.PaymentHistory),
		returnsByID:     make(map[string]domain.Return),
		returnItemsByID: make(map[string]domain.ReturnItem),
		pendingByID:     make(map[string]domain.PendingSale),
		terminalStates:  make(map[string]domain.TerminalState),
		jobsByID:        make(map[string]domain.SyncJob),
		watermarks:      make(map[string]time.Time),
	}
}

// NewSeeded returns a store preloaded with a few inventory units for dev mode.
func NewSeeded() *Store {
	s := New()
	now := time.Now().UTC()
	for _, c := range []domain.Color{
		{ID: "color-navy-01", Name: "Navy", StockQuantity: 0},
		{ID: "color-maroon-01", Name: "Maroon", StockQuantity: 0},
		{ID: "color-olive-01", Name: "Olive", StockQuantity: 0},
	} {
		c.CreatedAt = now
		c.UpdatedAt = now
		s.colors[c.ID] = c
	}
	return s
}

func clampStock(qty int) int {
	if qty < 0 {
		return 0
	}
	return qty
}

// --- inventory units ---

func (s *Store) CreateColor(_ context.Context, c domain.Color) (*domain.Color, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c.ID == "" {
		c.ID = xid.New("color")
	}
	if _, exists := s.colors[c.ID]; exists {
		return nil, store.ErrInvalidInput
	}
	if c.StockQuantity < 0 {
		return nil, store.ErrInvalidInput
	}
	now := time.Now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now
	s.colors[c.ID] = c

	created := c
	return &created, nil
}

func (s *Store) GetColor(_ context.Context, id string) (*domain.Color, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.colors[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	found := c
	return &found, nil
}

func (s *Store) ListColors(_ context.Context) ([]domain.Color, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	colors := make([]domain.Color, 0, len(s.colors))
	for _, c := range s.colors {
		colors = append(colors, c)
	}
	sort.Slice(colors, func(i, j int) bool { return colors[i].Name < colors[j].Name })
	return colors, nil
}

func (s *Store) SetColorStock(_ context.Context, colorID string, quantity int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setColorStockLocked(colorID, quantity)
}

func (s *Store) setColorStockLocked(colorID string, quantity int) error {
	c, ok := s.colors[colorID]
	if !ok {
		return store.ErrNotFound
	}
	c.StockQuantity = clampStock(quantity)
	c.UpdatedAt = time.Now().UTC()
	s.colors[colorID] = c
	return nil
}

// --- stock ledger ---

func (s *Store) StockIn(_ context.Context, entry domain.StockInHistory) (*domain.Color, *domain.StockInHistory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.Quantity < 1 {
		return nil, nil, store.ErrInvalidInput
	}
	c, ok := s.colors[entry.ColorID]
	if !ok {
		return nil, nil, store.ErrNotFound
	}

	now := time.Now().UTC()
	entry.PreviousStock = c.StockQuantity
	entry.NewStock = c.StockQuantity + entry.Quantity
	if entry.ID == "" {
		entry.ID = xid.New("stin")
	}
	if entry.StockInDate == "" {
		entry.StockInDate = domain.LedgerDate(now)
	}
	entry.CreatedAt = now
	entry.UpdatedAt = now

	c.StockQuantity = entry.NewStock
	c.UpdatedAt = now
	s.colors[c.ID] = c
	s.stockInsByID[entry.ID] = entry

	updated := c
	created := entry
	return &updated, &created, nil
}

func (s *Store) RecordStockOut(_ context.Context, entry domain.StockOutHistory) (*domain.Color, *domain.StockOutHistory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.Quantity < 1 {
		return nil, nil, store.ErrInvalidInput
	}
	c, ok := s.colors[entry.ColorID]
	if !ok {
		return nil, nil, store.ErrNotFound
	}

	now := time.Now().UTC()
	applied := entry.Quantity
	if applied > c.StockQuantity {
		// Last-resort clamp; the ledger records what actually left stock.
		applied = c.StockQuantity
	}
	entry.Quantity = applied
	entry.PreviousStock = c.StockQuantity
	entry.NewStock = c.StockQuantity - applied
	if entry.ID == "" {
		entry.ID = xid.New("stout")
	}
	if entry.StockOutDate == "" {
		entry.StockOutDate = domain.LedgerDate(now)
	}
	entry.CreatedAt = now
	entry.UpdatedAt = now

	c.StockQuantity = entry.NewStock
	c.UpdatedAt = now
	s.colors[c.ID] = c
	s.stockOutsByID[entry.ID] = entry

	updated := c
	created := entry
	return &updated, &created, nil
}

func (s *Store) GetStockInEntry(_ context.Context, id string) (*domain.StockInHistory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.stockInsByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	found := entry
	return &found, nil
}

func (s *Store) UpdateStockInEntry(_ context.Context, id string, quantity int, notes *string, date *string) (*domain.StockInHistory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if quantity < 1 {
		return nil, store.ErrInvalidInput
	}
	entry, ok := s.stockInsByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	c, ok := s.colors[entry.ColorID]
	if !ok {
		return nil, store.ErrNotFound
	}

	now := time.Now().UTC()
	delta := quantity - entry.Quantity
	entry.Quantity = quantity
	entry.NewStock = entry.PreviousStock + quantity
	if notes != nil {
		entry.Notes = *notes
	}
	if date != nil {
		entry.StockInDate = *date
	}
	entry.UpdatedAt = now
	s.stockInsByID[id] = entry

	c.StockQuantity = clampStock(c.StockQuantity + delta)
	c.UpdatedAt = now
	s.colors[c.ID] = c

	updated := entry
	return &updated, nil
}

func (s *Store) DeleteStockInEntry(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.stockInsByID[id]
	if !ok {
		return store.ErrNotFound
	}
	if c, ok := s.colors[entry.ColorID]; ok {
		c.StockQuantity = clampStock(c.StockQuantity - entry.Quantity)
		c.UpdatedAt = time.Now().UTC()
		s.colors[c.ID] = c
	}
	delete(s.stockInsByID, id)
	return nil
}

func (s *Store) ListStockInHistory(_ context.Context, colorID string, limit int) ([]domain.StockInHistory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]domain.StockInHistory, 0, 32)
	for _, entry := range s.stockInsByID {
		if colorID == "" || entry.ColorID == colorID {
			entries = append(entries, entry)
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].CreatedAt.After(entries[j].CreatedAt) })
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

func (s *Store) ListStockOutHistory(_ context.Context, colorID string, limit int) ([]domain.StockOutHistory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]domain.StockOutHistory, 0, 32)
	for _, entry := range s.stockOutsByID {
		if colorID == "" || entry.ColorID == colorID {
			entries = append(entries, entry)
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].CreatedAt.After(entries[j].CreatedAt) })
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

func (s *Store) SumStockMovements(_ context.Context, colorID string) (int, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.colors[colorID]; !ok {
		return 0, 0, store.ErrNotFound
	}
	in, out := 0, 0
	for _, entry := range s.stockInsByID {
		if entry.ColorID == colorID {
			in += entry.Quantity
		}
	}
	for _, entry := range s.stockOutsByID {
		if entry.ColorID == colorID {
			out += entry.Quantity
		}
	}
	return in, out, nil
}

// --- sale ledger ---

func (s *Store) CreateSale(_ context.Context, sale domain.Sale, items []domain.SaleItem) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sale.OfflineID != "" {
		if _, exists := s.salesByOffline[sale.OfflineID]; exists {
			return nil, store.ErrDuplicateOfflineID
		}
	}
	if !sale.IsManualBalance && len(items) == 0 {
		return nil, store.ErrInvalidInput
	}

	// Validate everything before touching state: no partial decrement may
	// survive a failure. Quantities are summed per color so a cart with two
	// lines of the same color is checked against the combined demand.
	requested := make(map[string]int, len(items))
	for _, item := range items {
		if item.Quantity < 1 {
			return nil, store.ErrInvalidInput
		}
		c, ok := s.colors[item.ColorID]
		if !ok {
			return nil, store.ErrNotFound
		}
		requested[item.ColorID] += item.Quantity
		if c.StockQuantity < requested[item.ColorID] {
			return nil, store.ErrInsufficientStock
		}
	}

	now := time.Now().UTC()
	if sale.ID == "" {
		sale.ID = xid.New("sale")
	}
	if sale.SaleDate == "" {
		sale.SaleDate = domain.LedgerDate(now)
	}
	sale.CreatedAt = now
	sale.UpdatedAt = now
	s.salesByID[sale.ID] = sale
	if sale.OfflineID != "" {
		s.salesByOffline[sale.OfflineID] = sale.ID
	}

	for i := range items {
		item := items[i]
		if item.ID == "" {
			item.ID = xid.New("item")
		}
		item.SaleID = sale.ID
		item.Subtotal = item.Rate.Mul(decimal.NewFromInt(int64(item.Quantity)))
		item.CreatedAt = now
		item.UpdatedAt = now
		s.saleItemsByID[item.ID] = item

		c := s.colors[item.ColorID]
		out := domain.StockOutHistory{
			ID:            xid.New("stout"),
			ColorID:       item.ColorID,
			Quantity:      item.Quantity,
			PreviousStock: c.StockQuantity,
			NewStock:      c.StockQuantity - item.Quantity,
			MovementType:  domain.MovementTypeSale,
			ReferenceID:   sale.ID,
			ReferenceType: domain.ReferenceTypeSale,
			StockOutDate:  sale.SaleDate,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		s.stockOutsByID[out.ID] = out

		c.StockQuantity = out.NewStock
		c.UpdatedAt = now
		s.colors[c.ID] = c
	}

	created := sale
	return &created, nil
}

func (s *Store) GetSale(_ context.Context, id string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, ok := s.salesByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	found := sale
	return &found, nil
}

func (s *Store) FindSaleByOfflineID(_ context.Context, offlineID string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	saleID, ok := s.salesByOffline[offlineID]
	if !ok {
		return nil, store.ErrNotFound
	}
	sale := s.salesByID[saleID]
	found := sale
	return &found, nil
}

func (s *Store) GetSaleItems(_ context.Context, saleID string) ([]domain.SaleItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]domain.SaleItem, 0, 8)
	for _, item := range s.saleItemsByID {
		if item.SaleID == saleID {
			items = append(items, item)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].CreatedAt.Before(items[j].CreatedAt) })
	return items, nil
}

func (s *Store) ListOutstandingSales(_ context.Context, customerPhone string, limit int) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sales := make([]domain.Sale, 0, 32)
	for _, sale := range s.salesByID {
		if sale.PaymentStatus != domain.PaymentStatusUnpaid && sale.PaymentStatus != domain.PaymentStatusPartial {
			continue
		}
		if customerPhone != "" && sale.CustomerPhone != customerPhone {
			continue
		}
		sales = append(sales, sale)
	}
	sort.Slice(sales, func(i, j int) bool { return sales[i].CreatedAt.After(sales[j].CreatedAt) })
	if limit > 0 && len(sales) > limit {
		sales = sales[:limit]
	}
	return sales, nil
}

func (s *Store) DeleteSale(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sale, ok := s.salesByID[id]
	if !ok {
		return store.ErrNotFound
	}

	now := time.Now().UTC()
	for itemID, item := range s.saleItemsByID {
		if item.SaleID != id {
			continue
		}
		restock := item.Quantity - item.QuantityReturned
		if restock > 0 {
			if c, ok := s.colors[item.ColorID]; ok {
				entry := domain.StockInHistory{
					ID:            xid.New("stin"),
					ColorID:       item.ColorID,
					Quantity:      restock,
					PreviousStock: c.StockQuantity,
					NewStock:      c.StockQuantity + restock,
					StockInDate:   domain.LedgerDate(now),
					Notes:         "sale deleted",
					ReferenceID:   id,
					ReferenceType: domain.ReferenceTypeSale,
					CreatedAt:     now,
					UpdatedAt:     now,
				}
				s.stockInsByID[entry.ID] = entry
				c.StockQuantity = entry.NewStock
				c.UpdatedAt = now
				s.colors[c.ID] = c
			}
		}
		delete(s.saleItemsByID, itemID)
	}
	for payID, pay := range s.paymentsByID {
		if pay.SaleID == id {
			delete(s.paymentsByID, payID)
		}
	}
	if sale.OfflineID != "" {
		delete(s.salesByOffline, sale.OfflineID)
	}
	delete(s.salesByID, id)
	return nil
}

func (s *Store) UpdateSaleItem(_ context.Context, itemID string, quantity int, rate decimal.Decimal) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.saleItemsByID[itemID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if quantity < 1 || quantity < item.QuantityReturned || rate.IsNegative() {
		return nil, store.ErrInvalidInput
	}
	sale, ok := s.salesByID[item.SaleID]
	if !ok {
		return nil, store.ErrNotFound
	}
	c, colorOK := s.colors[item.ColorID]

	now := time.Now().UTC()
	delta := quantity - item.Quantity
	if delta > 0 && colorOK && c.StockQuantity < delta {
		return nil, store.ErrInsufficientStock
	}

	if delta != 0 && colorOK {
		if delta > 0 {
			out := domain.StockOutHistory{
				ID:            xid.New("stout"),
				ColorID:       item.ColorID,
				Quantity:      delta,
				PreviousStock: c.StockQuantity,
				NewStock:      c.StockQuantity - delta,
				MovementType:  domain.MovementTypeSale,
				ReferenceID:   sale.ID,
				ReferenceType: domain.ReferenceTypeSale,
				StockOutDate:  domain.LedgerDate(now),
				Notes:         "sale item edited",
				CreatedAt:     now,
				UpdatedAt:     now,
			}
			s.stockOutsByID[out.ID] = out
			c.StockQuantity = out.NewStock
		} else {
			in := domain.StockInHistory{
				ID:            xid.New("stin"),
				ColorID:       item.ColorID,
				Quantity:      -delta,
				PreviousStock: c.StockQuantity,
				NewStock:      c.StockQuantity - delta,
				StockInDate:   domain.LedgerDate(now),
				Notes:         "sale item edited",
				ReferenceID:   sale.ID,
				ReferenceType: domain.ReferenceTypeSale,
				CreatedAt:     now,
				UpdatedAt:     now,
			}
			s.stockInsByID[in.ID] = in
			c.StockQuantity = in.NewStock
		}
		c.UpdatedAt = now
		s.colors[c.ID] = c
	}

	item.Quantity = quantity
	item.Rate = rate
	item.Subtotal = rate.Mul(decimal.NewFromInt(int64(quantity)))
	item.UpdatedAt = now
	s.saleItemsByID[itemID] = item

	s.recomputeSaleLocked(&sale, now)
	updated := sale
	return &updated, nil
}

func (s *Store) DeleteSaleItem(_ context.Context, itemID string) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.saleItemsByID[itemID]
	if !ok {
		return nil, store.ErrNotFound
	}
	sale, ok := s.salesByID[item.SaleID]
	if !ok {
		return nil, store.ErrNotFound
	}

	now := time.Now().UTC()
	restock := item.Quantity - item.QuantityReturned
	if restock > 0 {
		if c, ok := s.colors[item.ColorID]; ok {
			in := domain.StockInHistory{
				ID:            xid.New("stin"),
				ColorID:       item.ColorID,
				Quantity:      restock,
				PreviousStock: c.StockQuantity,
				NewStock:      c.StockQuantity + restock,
				StockInDate:   domain.LedgerDate(now),
				Notes:         "sale item deleted",
				ReferenceID:   sale.ID,
				ReferenceType: domain.ReferenceTypeSale,
				CreatedAt:     now,
				UpdatedAt:     now,
			}
			s.stockInsByID[in.ID] = in
			c.StockQuantity = in.NewStock
			c.UpdatedAt = now
			s.colors[c.ID] = c
		}
	}
	delete(s.saleItemsByID, itemID)

	s.recomputeSaleLocked(&sale, now)
	updated := sale
	return &updated, nil
}

// recomputeSaleLocked rebuilds TotalAmount from the unreturned quantity of
// every remaining item and re-derives the payment status from the existing
// AmountPaid. full_return is sticky: once a whole bill is returned, item
// edits no longer change the status.
func (s *Store) recomputeSaleLocked(sale *domain.Sale, now time.Time) {
	total := decimal.Zero
	for _, item := range s.saleItemsByID {
		if item.SaleID != sale.ID {
			continue
		}
		effective := item.Quantity - item.QuantityReturned
		if effective > 0 {
			total = total.Add(item.Rate.Mul(decimal.NewFromInt(int64(effective))))
		}
	}
	sale.TotalAmount = total
	if sale.PaymentStatus != domain.PaymentStatusFullReturn {
		sale.PaymentStatus = domain.DerivePaymentStatus(sale.TotalAmount, sale.AmountPaid)
	}
	sale.UpdatedAt = now
	s.salesByID[sale.ID] = *sale
}

// --- payment ledger ---

func (s *Store) ApplyPayment(_ context.Context, saleID string, amount decimal.Decimal, method string, notes string) (*domain.Sale, *domain.PaymentHistory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !amount.IsPositive() {
		return nil, nil, store.ErrInvalidInput
	}
	sale, ok := s.salesByID[saleID]
	if !ok {
		return nil, nil, store.ErrNotFound
	}
	if sale.PaymentStatus == domain.PaymentStatusFullReturn {
		return nil, nil, store.ErrInvalidInput
	}

	outstanding := domain.Outstanding(sale.TotalAmount, sale.AmountPaid)
	if amount.GreaterThan(outstanding) {
		return nil, nil, store.ErrPaymentExceedsBalance
	}

	now := time.Now().UTC()
	sale.AmountPaid = sale.AmountPaid.Add(amount)
	sale.PaymentStatus = domain.DerivePaymentStatus(sale.TotalAmount, sale.AmountPaid)
	sale.UpdatedAt = now
	s.salesByID[saleID] = sale

	entry := domain.PaymentHistory{
		ID:              xid.New("pay"),
		SaleID:          saleID,
		CustomerPhone:   sale.CustomerPhone,
		Amount:          amount,
		PreviousBalance: outstanding,
		NewBalance:      outstanding.Sub(amount),
		PaymentMethod:   method,
		Notes:           notes,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	s.paymentsByID[entry.ID] = entry

	updated := sale
	created := entry
	return &updated, &created, nil
}

func (s *Store) UpdatePaymentEntry(_ context.Context, id string, amount decimal.Decimal, method string, notes string) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !amount.IsPositive() {
		return nil, store.ErrInvalidInput
	}
	entry, ok := s.paymentsByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	sale, ok := s.salesByID[entry.SaleID]
	if !ok {
		return nil, store.ErrNotFound
	}

	// Reverse by delta against the canonical AmountPaid; history is never
	// summed because imported ledgers may have gaps.
	delta := amount.Sub(entry.Amount)
	newPaid := sale.AmountPaid.Add(delta)
	if newPaid.IsNegative() {
		return nil, store.ErrInvalidInput
	}
	if newPaid.GreaterThan(sale.TotalAmount) {
		return nil, store.ErrPaymentExceedsBalance
	}

	now := time.Now().UTC()
	sale.AmountPaid = newPaid
	if sale.PaymentStatus != domain.PaymentStatusFullReturn {
		sale.PaymentStatus = domain.DerivePaymentStatus(sale.TotalAmount, sale.AmountPaid)
	}
	sale.UpdatedAt = now
	s.salesByID[sale.ID] = sale

	entry.Amount = amount
	entry.NewBalance = entry.PreviousBalance.Sub(amount)
	if method != "" {
		entry.PaymentMethod = method
	}
	if notes != "" {
		entry.Notes = notes
	}
	entry.UpdatedAt = now
	s.paymentsByID[id] = entry

	updated := sale
	return &updated, nil
}

func (s *Store) DeletePaymentEntry(_ context.Context, id string) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.paymentsByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	sale, ok := s.salesByID[entry.SaleID]
	if !ok {
		return nil, store.ErrNotFound
	}

	now := time.Now().UTC()
	newPaid := sale.AmountPaid.Sub(entry.Amount)
	if newPaid.IsNegative() {
		newPaid = decimal.Zero
	}
	sale.AmountPaid = newPaid
	if sale.PaymentStatus != domain.PaymentStatusFullReturn {
		sale.PaymentStatus = domain.DerivePaymentStatus(sale.TotalAmount, sale.AmountPaid)
	}
	sale.UpdatedAt = now
	s.salesByID[sale.ID] = sale
	delete(s.paymentsByID, id)

	updated := sale
	return &updated, nil
}

func (s *Store) ListPayments(_ context.Context, saleID string, limit int) ([]domain.PaymentHistory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]domain.PaymentHistory, 0, 16)
	for _, entry := range s.paymentsByID {
		if saleID == "" || entry.SaleID == saleID {
			entries = append(entries, entry)
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].CreatedAt.After(entries[j].CreatedAt) })
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// --- returns ---

func (s *Store) ApplyReturn(_ context.Context, ret domain.Return, items []domain.ReturnItem) (*domain.Return, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var sale *domain.Sale
	if ret.SaleID != nil {
		found, ok := s.salesByID[*ret.SaleID]
		if !ok {
			return nil, store.ErrNotFound
		}
		sale = &found
	}

	// Validate every line before applying anything. Requested quantities are
	// summed per sale item so two lines against the same item cannot sneak
	// past the cap individually.
	requested := make(map[string]int, len(items))
	for _, item := range items {
		if item.Quantity < 1 {
			return nil, store.ErrInvalidInput
		}
		if item.SaleItemID != nil {
			if sale == nil {
				return nil, store.ErrInvalidInput
			}
			saleItem, ok := s.saleItemsByID[*item.SaleItemID]
			if !ok || saleItem.SaleID != sale.ID {
				return nil, store.ErrNotFound
			}
			requested[saleItem.ID] += item.Quantity
			if saleItem.QuantityReturned+requested[saleItem.ID] > saleItem.Quantity {
				return nil, store.ErrReturnExceedsQuantity
			}
		}
		if item.StockRestored {
			if _, ok := s.colors[item.ColorID]; !ok {
				return nil, store.ErrNotFound
			}
		}
	}

	now := time.Now().UTC()
	if ret.ID == "" {
		ret.ID = xid.New("ret")
	}
	if ret.ReturnDate == "" {
		ret.ReturnDate = domain.LedgerDate(now)
	}
	ret.CreatedAt = now
	ret.UpdatedAt = now
	s.returnsByID[ret.ID] = ret

	for i := range items {
		item := items[i]
		if item.ID == "" {
			item.ID = xid.New("rti")
		}
		item.ReturnID = ret.ID
		item.CreatedAt = now
		s.returnItemsByID[item.ID] = item

		if item.SaleItemID != nil {
			saleItem := s.saleItemsByID[*item.SaleItemID]
			saleItem.QuantityReturned += item.Quantity
			saleItem.UpdatedAt = now
			s.saleItemsByID[saleItem.ID] = saleItem
		}

		if item.StockRestored {
			c := s.colors[item.ColorID]
			in := domain.StockInHistory{
				ID:            xid.New("stin"),
				ColorID:       item.ColorID,
				Quantity:      item.Quantity,
				PreviousStock: c.StockQuantity,
				NewStock:      c.StockQuantity + item.Quantity,
				StockInDate:   ret.ReturnDate,
				Notes:         "return restock",
				ReferenceID:   ret.ID,
				ReferenceType: domain.ReferenceTypeReturn,
				CreatedAt:     now,
				UpdatedAt:     now,
			}
			s.stockInsByID[in.ID] = in
			c.StockQuantity = in.NewStock
			c.UpdatedAt = now
			s.colors[c.ID] = c
		}
	}

	if sale != nil {
		if ret.FullBill {
			sale.PaymentStatus = domain.PaymentStatusFullReturn
			sale.AmountPaid = decimal.Zero
			sale.UpdatedAt = now
			s.salesByID[sale.ID] = *sale
		} else {
			s.recomputeSaleLocked(sale, now)
		}
	}

	created := ret
	return &created, nil
}

func (s *Store) GetReturn(_ context.Context, id string) (*domain.Return, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ret, ok := s.returnsByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	found := ret
	return &found, nil
}

func (s *Store) GetReturnItems(_ context.Context, returnID string) ([]domain.ReturnItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]domain.ReturnItem, 0, 8)
	for _, item := range s.returnItemsByID {
		if item.ReturnID == returnID {
			items = append(items, item)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].CreatedAt.Before(items[j].CreatedAt) })
	return items, nil
}

// --- offline queue ---

func (s *Store) EnqueuePendingSale(_ context.Context, p domain.PendingSale) (*domain.PendingSale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if strings.TrimSpace(p.OfflineID) == "" || len(p.Payload) == 0 {
		return nil, store.ErrInvalidInput
	}
	if _, exists := s.pendingByID[p.OfflineID]; exists {
		return nil, store.ErrDuplicateOfflineID
	}

	now := time.Now().UTC()
	p.Status = domain.PendingStatusPending
	p.Attempts = 0
	p.CreatedAt = now
	p.UpdatedAt = now
	s.pendingByID[p.OfflineID] = p

	created := p
	return &created, nil
}

func (s *Store) GetPendingSale(_ context.Context, offlineID string) (*domain.PendingSale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.pendingByID[offlineID]
	if !ok {
		return nil, store.ErrNotFound
	}
	found := p
	return &found, nil
}

func (s *Store) ListPendingSales(_ context.Context, status string, limit int) ([]domain.PendingSale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]domain.PendingSale, 0, 16)
	for _, p := range s.pendingByID {
		if status == "" || p.Status == status {
			entries = append(entries, p)
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].CreatedAt.Before(entries[j].CreatedAt) })
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

func (s *Store) MarkPendingSynced(_ context.Context, offlineID string, saleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.pendingByID[offlineID]
	if !ok {
		return store.ErrNotFound
	}
	p.Status = domain.PendingStatusSynced
	p.SyncedSaleID = saleID
	p.Attempts++
	p.LastError = ""
	p.UpdatedAt = time.Now().UTC()
	s.pendingByID[offlineID] = p
	return nil
}

func (s *Store) RecordPendingFailure(_ context.Context, offlineID string, lastError string, terminal bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.pendingByID[offlineID]
	if !ok {
		return store.ErrNotFound
	}
	p.Attempts++
	p.LastError = lastError
	if terminal {
		p.Status = domain.PendingStatusFailed
	}
	p.UpdatedAt = time.Now().UTC()
	s.pendingByID[offlineID] = p
	return nil
}

func (s *Store) DeletePendingSale(_ context.Context, offlineID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.pendingByID[offlineID]; !ok {
		return store.ErrNotFound
	}
	delete(s.pendingByID, offlineID)
	return nil
}

// --- terminal state ---

func (s *Store) SaveTerminalState(_ context.Context, st domain.TerminalState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if st.TerminalID == "" {
		return store.ErrInvalidInput
	}
	st.UpdatedAt = time.Now().UTC()
	s.terminalStates[st.TerminalID] = st
	return nil
}

func (s *Store) LoadTerminalState(_ context.Context, terminalID string) (*domain.TerminalState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.terminalStates[terminalID]
	if !ok {
		return nil, store.ErrNotFound
	}
	found := st
	return &found, nil
}

// --- sync jobs ---

func (s *Store) CreateSyncJob(_ context.Context, job domain.SyncJob) (*domain.SyncJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if job.JobType != domain.JobTypeExport && job.JobType != domain.JobTypeImport {
		return nil, store.ErrInvalidInput
	}
	if job.ID == "" {
		job.ID = xid.New("job")
	}
	now := time.Now().UTC()
	job.Status = domain.JobStatusPending
	job.Attempts = 0
	job.CreatedAt = now
	job.UpdatedAt = now
	s.jobsByID[job.ID] = job

	created := job
	return &created, nil
}

func (s *Store) GetSyncJob(_ context.Context, id string) (*domain.SyncJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobsByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	found := job
	return &found, nil
}

func (s *Store) ListSyncJobs(_ context.Context, status string, limit int) ([]domain.SyncJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	jobs := make([]domain.SyncJob, 0, 16)
	for _, job := range s.jobsByID {
		if status == "" || job.Status == status {
			jobs = append(jobs, job)
		}
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].CreatedAt.Before(jobs[j].CreatedAt) })
	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

func (s *Store) StartSyncJob(_ context.Context, id string) (*domain.SyncJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobsByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if job.Status != domain.JobStatusPending {
		return nil, store.ErrInvalidJobState
	}
	for _, other := range s.jobsByID {
		if other.ID != id && other.ConnectionID == job.ConnectionID && other.Status == domain.JobStatusRunning {
			return nil, store.ErrJobAlreadyRunning
		}
	}

	job.Status = domain.JobStatusRunning
	job.Attempts++
	job.UpdatedAt = time.Now().UTC()
	s.jobsByID[id] = job

	started := job
	return &started, nil
}

func (s *Store) FinishSyncJob(_ context.Context, id string, succeeded bool, lastError string) (*domain.SyncJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobsByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	// A job cancelled while in flight keeps its cancelled status; the
	// remote write was allowed to finish but the outcome is not recorded
	// over the operator's decision.
	if job.Status == domain.JobStatusCancelled {
		finished := job
		return &finished, nil
	}
	if job.Status != domain.JobStatusRunning {
		return nil, store.ErrInvalidJobState
	}

	if succeeded {
		job.Status = domain.JobStatusSuccess
		job.LastError = ""
	} else {
		job.Status = domain.JobStatusFailed
		job.LastError = lastError
	}
	job.UpdatedAt = time.Now().UTC()
	s.jobsByID[id] = job

	finished := job
	return &finished, nil
}

func (s *Store) CancelSyncJob(_ context.Context, id string) (*domain.SyncJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobsByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if job.Status != domain.JobStatusPending && job.Status != domain.JobStatusRunning {
		return nil, store.ErrInvalidJobState
	}
	job.Status = domain.JobStatusCancelled
	job.UpdatedAt = time.Now().UTC()
	s.jobsByID[id] = job

	cancelled := job
	return &cancelled, nil
}

func (s *Store) RetrySyncJob(_ context.Context, id string, maxAttempts int) (*domain.SyncJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobsByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if job.Status != domain.JobStatusFailed {
		return nil, store.ErrInvalidJobState
	}
	if maxAttempts > 0 && job.Attempts >= maxAttempts {
		return nil, store.ErrInvalidJobState
	}
	job.Status = domain.JobStatusPending
	job.UpdatedAt = time.Now().UTC()
	s.jobsByID[id] = job

	retried := job
	return &retried, nil
}

func (s *Store) CleanupOldSyncJobs(_ context.Context, olderThan time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := 0
	for id, job := range s.jobsByID {
		switch job.Status {
		case domain.JobStatusSuccess, domain.JobStatusFailed, domain.JobStatusCancelled:
			if job.UpdatedAt.Before(olderThan) {
				delete(s.jobsByID, id)
				deleted++
			}
		}
	}
	return deleted, nil
}

func (s *Store) GetSyncWatermark(_ context.Context, connectionID string) (time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.watermarks[connectionID], nil
}

func (s *Store) SetSyncWatermark(_ context.Context, connectionID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.watermarks[connectionID] = at
	return nil
}

// --- delta sync support ---

func (s *Store) CollectChangesSince(_ context.Context, since time.Time) (*domain.ChangeSet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cs := &domain.ChangeSet{}
	for _, c := range s.colors {
		if c.UpdatedAt.After(since) {
			cs.Colors = append(cs.Colors, c)
		}
	}
	for _, e := range s.stockInsByID {
		if e.UpdatedAt.After(since) {
			cs.StockIns = append(cs.StockIns, e)
		}
	}
	for _, e := range s.stockOutsByID {
		if e.UpdatedAt.After(since) {
			cs.StockOuts = append(cs.StockOuts, e)
		}
	}
	for _, sale := range s.salesByID {
		if sale.UpdatedAt.After(since) {
			cs.Sales = append(cs.Sales, sale)
		}
	}
	for _, item := range s.saleItemsByID {
		if item.UpdatedAt.After(since) {
			cs.SaleItems = append(cs.SaleItems, item)
		}
	}
	for _, p := range s.paymentsByID {
		if p.UpdatedAt.After(since) {
			cs.Payments = append(cs.Payments, p)
		}
	}
	for _, r := range s.returnsByID {
		if r.UpdatedAt.After(since) {
			cs.Returns = append(cs.Returns, r)
		}
	}
	for _, ri := range s.returnItemsByID {
		if ri.CreatedAt.After(since) {
			cs.ReturnItems = append(cs.ReturnItems, ri)
		}
	}

	sortChangeSet(cs)
	return cs, nil
}

func sortChangeSet(cs *domain.ChangeSet) {
	sort.Slice(cs.Colors, func(i, j int) bool { return cs.Colors[i].UpdatedAt.Before(cs.Colors[j].UpdatedAt) })
	sort.Slice(cs.StockIns, func(i, j int) bool { return cs.StockIns[i].UpdatedAt.Before(cs.StockIns[j].UpdatedAt) })
	sort.Slice(cs.StockOuts, func(i, j int) bool { return cs.StockOuts[i].UpdatedAt.Before(cs.StockOuts[j].UpdatedAt) })
	sort.Slice(cs.Sales, func(i, j int) bool { return cs.Sales[i].UpdatedAt.Before(cs.Sales[j].UpdatedAt) })
	sort.Slice(cs.SaleItems, func(i, j int) bool { return cs.SaleItems[i].UpdatedAt.Before(cs.SaleItems[j].UpdatedAt) })
	sort.Slice(cs.Payments, func(i, j int) bool { return cs.Payments[i].UpdatedAt.Before(cs.Payments[j].UpdatedAt) })
	sort.Slice(cs.Returns, func(i, j int) bool { return cs.Returns[i].UpdatedAt.Before(cs.Returns[j].UpdatedAt) })
	sort.Slice(cs.ReturnItems, func(i, j int) bool { return cs.ReturnItems[i].CreatedAt.Before(cs.ReturnItems[j].CreatedAt) })
}

// ApplyChangeSet upserts imported rows by primary key. Rows arrive in
// ascending UpdatedAt order, and a row older than the local copy never
// overwrites it: a stale remote edit inside the sync window loses to the
// newer local one.
func (s *Store) ApplyChangeSet(_ context.Context, cs *domain.ChangeSet) error {
	if cs == nil || cs.Empty() {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range cs.Colors {
		if existing, ok := s.colors[c.ID]; ok && existing.UpdatedAt.After(c.UpdatedAt) {
			continue
		}
		s.colors[c.ID] = c
	}
	for _, e := range cs.StockIns {
		if existing, ok := s.stockInsByID[e.ID]; ok && existing.UpdatedAt.After(e.UpdatedAt) {
			continue
		}
		s.stockInsByID[e.ID] = e
	}
	for _, e := range cs.StockOuts {
		if existing, ok := s.stockOutsByID[e.ID]; ok && existing.UpdatedAt.After(e.UpdatedAt) {
			continue
		}
		s.stockOutsByID[e.ID] = e
	}
	for _, sale := range cs.Sales {
		if existing, ok := s.salesByID[sale.ID]; ok && existing.UpdatedAt.After(sale.UpdatedAt) {
			continue
		}
		s.salesByID[sale.ID] = sale
		if sale.OfflineID != "" {
			s.salesByOffline[sale.OfflineID] = sale.ID
		}
	}
	for _, item := range cs.SaleItems {
		if existing, ok := s.saleItemsByID[item.ID]; ok && existing.UpdatedAt.After(item.UpdatedAt) {
			continue
		}
		s.saleItemsByID[item.ID] = item
	}
	for _, p := range cs.Payments {
		if existing, ok := s.paymentsByID[p.ID]; ok && existing.UpdatedAt.After(p.UpdatedAt) {
			continue
		}
		s.paymentsByID[p.ID] = p
	}
	for _, r := range cs.Returns {
		if existing, ok := s.returnsByID[r.ID]; ok && existing.UpdatedAt.After(r.UpdatedAt) {
			continue
		}
		s.returnsByID[r.ID] = r
	}
	for _, ri := range cs.ReturnItems {
		// Return items are immutable; the first copy to land is final.
		if _, ok := s.returnItemsByID[ri.ID]; ok {
			continue
		}
		s.returnItemsByID[ri.ID] = ri
	}
	return nil
}
