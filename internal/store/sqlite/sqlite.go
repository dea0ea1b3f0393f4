package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"tokoledger/backend/internal/domain"
	"tokoledger/backend/internal/store"
	"tokoledger/backend/internal/xid"
)

// Store is the durable terminal-local ledger. SQLite allows a single writer,
// so the pool is pinned to one connection; every multi-row mutation runs in
// one transaction on that connection.
type Store struct {
	db  *sqlx.DB
	log *logrus.Logger
}

func Open(path string, log *logrus.Logger) (*Store, error) {
	db, err := sqlx.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := ensureSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db, log: log}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func ensureSchema(db *sqlx.DB) error {
	schema := `
PRAGMA foreign_keys = ON;

CREATE TABLE IF NOT EXISTS colors(
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  stock_quantity INTEGER NOT NULL DEFAULT 0 CHECK (stock_quantity >= 0),
  rate_override TEXT,
  created_at TIMESTAMP NOT NULL,
  updated_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS stock_in_history(
  id TEXT PRIMARY KEY,
  color_id TEXT NOT NULL REFERENCES colors(id),
  quantity INTEGER NOT NULL CHECK (quantity >= 1),
  previous_stock INTEGER NOT NULL,
  new_stock INTEGER NOT NULL,
  stock_in_date TEXT NOT NULL,
  notes TEXT NOT NULL DEFAULT '',
  reference_id TEXT NOT NULL DEFAULT '',
  reference_type TEXT NOT NULL DEFAULT '',
  created_at TIMESTAMP NOT NULL,
  updated_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_stock_in_color ON stock_in_history(color_id);
CREATE INDEX IF NOT EXISTS idx_stock_in_updated ON stock_in_history(updated_at);

CREATE TABLE IF NOT EXISTS stock_out_history(
  id TEXT PRIMARY KEY,
  color_id TEXT NOT NULL REFERENCES colors(id),
  quantity INTEGER NOT NULL CHECK (quantity >= 0),
  previous_stock INTEGER NOT NULL,
  new_stock INTEGER NOT NULL,
  movement_type TEXT NOT NULL DEFAULT '',
  reference_id TEXT NOT NULL DEFAULT '',
  reference_type TEXT NOT NULL DEFAULT '',
  stock_out_date TEXT NOT NULL,
  notes TEXT NOT NULL DEFAULT '',
  created_at TIMESTAMP NOT NULL,
  updated_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_stock_out_color ON stock_out_history(color_id);
CREATE INDEX IF NOT EXISTS idx_stock_out_updated ON stock_out_history(updated_at);

CREATE TABLE IF NOT EXISTS sales(
  id TEXT PRIMARY KEY,
  offline_id TEXT,
  customer_name TEXT NOT NULL,
  customer_phone TEXT NOT NULL DEFAULT '',
  total_amount TEXT NOT NULL,
  amount_paid TEXT NOT NULL,
  payment_status TEXT NOT NULL,
  is_manual_balance INTEGER NOT NULL DEFAULT 0,
  sale_date TEXT NOT NULL,
  due_date TEXT,
  notes TEXT NOT NULL DEFAULT '',
  created_at TIMESTAMP NOT NULL,
  updated_at TIMESTAMP NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_sales_offline_id ON sales(offline_id) WHERE offline_id IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_sales_status ON sales(payment_status);
CREATE INDEX IF NOT EXISTS idx_sales_updated ON sales(updated_at);

CREATE TABLE IF NOT EXISTS sale_items(
  id TEXT PRIMARY KEY,
  sale_id TEXT NOT NULL REFERENCES sales(id) ON DELETE CASCADE,
  color_id TEXT NOT NULL,
  quantity INTEGER NOT NULL CHECK (quantity >= 1),
  rate TEXT NOT NULL,
  subtotal TEXT NOT NULL,
  quantity_returned INTEGER NOT NULL DEFAULT 0,
  created_at TIMESTAMP NOT NULL,
  updated_at TIMESTAMP NOT NULL,
  CHECK (quantity_returned <= quantity)
);
CREATE INDEX IF NOT EXISTS idx_sale_items_sale ON sale_items(sale_id);
CREATE INDEX IF NOT EXISTS idx_sale_items_updated ON sale_items(updated_at);

CREATE TABLE IF NOT EXISTS payment_history(
  id TEXT PRIMARY KEY,
  sale_id TEXT NOT NULL,
  customer_phone TEXT NOT NULL DEFAULT '',
  amount TEXT NOT NULL,
  previous_balance TEXT NOT NULL,
  new_balance TEXT NOT NULL,
  payment_method TEXT NOT NULL,
  notes TEXT NOT NULL DEFAULT '',
  created_at TIMESTAMP NOT NULL,
  updated_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_payments_sale ON payment_history(sale_id);
CREATE INDEX IF NOT EXISTS idx_payments_updated ON payment_history(updated_at);

CREATE TABLE IF NOT EXISTS returns(
  id TEXT PRIMARY KEY,
  sale_id TEXT,
  customer_name TEXT NOT NULL DEFAULT '',
  refund_amount TEXT NOT NULL,
  full_bill INTEGER NOT NULL DEFAULT 0,
  return_date TEXT NOT NULL,
  notes TEXT NOT NULL DEFAULT '',
  created_at TIMESTAMP NOT NULL,
  updated_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_returns_updated ON returns(updated_at);

CREATE TABLE IF NOT EXISTS return_items(
  id TEXT PRIMARY KEY,
  return_id TEXT NOT NULL REFERENCES returns(id) ON DELETE CASCADE,
  sale_item_id TEXT,
  color_id TEXT NOT NULL,
  quantity INTEGER NOT NULL CHECK (quantity >= 1),
  rate TEXT NOT NULL,
  stock_restored INTEGER NOT NULL DEFAULT 0,
  created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_return_items_return ON return_items(return_id);

CREATE TABLE IF NOT EXISTS pending_sales(
  offline_id TEXT PRIMARY KEY,
  payload BLOB NOT NULL,
  status TEXT NOT NULL DEFAULT 'pending',
  attempts INTEGER NOT NULL DEFAULT 0,
  last_error TEXT NOT NULL DEFAULT '',
  synced_sale_id TEXT NOT NULL DEFAULT '',
  created_at TIMESTAMP NOT NULL,
  updated_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_pending_status ON pending_sales(status);

CREATE TABLE IF NOT EXISTS terminal_state(
  terminal_id TEXT PRIMARY KEY,
  customer_name TEXT NOT NULL DEFAULT '',
  customer_phone TEXT NOT NULL DEFAULT '',
  cart_json BLOB,
  updated_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS sync_jobs(
  id TEXT PRIMARY KEY,
  job_type TEXT NOT NULL,
  connection_id TEXT NOT NULL,
  status TEXT NOT NULL,
  attempts INTEGER NOT NULL DEFAULT 0,
  last_error TEXT NOT NULL DEFAULT '',
  details TEXT NOT NULL DEFAULT '',
  created_at TIMESTAMP NOT NULL,
  updated_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sync_jobs_status ON sync_jobs(status);
CREATE INDEX IF NOT EXISTS idx_sync_jobs_connection ON sync_jobs(connection_id);

CREATE TABLE IF NOT EXISTS sync_watermarks(
  connection_id TEXT PRIMARY KEY,
  synced_at TIMESTAMP NOT NULL
);
`
	_, err := db.Exec(schema)
	return err
}

func isUniqueViolation(err error) bool {
	// modernc sqlite reports constraint failures in the error text; there is
	// no portable error code type shared with database/sql.
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// --- inventory units ---

func (s *Store) CreateColor(ctx context.Context, c domain.Color) (*domain.Color, error) {
	if c.StockQuantity < 0 || c.Name == "" {
		return nil, store.ErrInvalidInput
	}
	if c.ID == "" {
		c.ID = xid.New("color")
	}
	now := time.Now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now

	var override any
	if c.RateOverride != nil {
		override = c.RateOverride.String()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO colors (id, name, stock_quantity, rate_override, created_at, updated_at)
		VALUES (?,?,?,?,?,?)
	`, c.ID, c.Name, c.StockQuantity, override, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrInvalidInput
		}
		return nil, err
	}

	created := c
	return &created, nil
}

type colorRow struct {
	ID            string              `db:"id"`
	Name          string              `db:"name"`
	StockQuantity int                 `db:"stock_quantity"`
	RateOverride  decimal.NullDecimal `db:"rate_override"`
	CreatedAt     time.Time           `db:"created_at"`
	UpdatedAt     time.Time           `db:"updated_at"`
}

func (r colorRow) toDomain() domain.Color {
	c := domain.Color{
		ID:            r.ID,
		Name:          r.Name,
		StockQuantity: r.StockQuantity,
		CreatedAt:     r.CreatedAt.UTC(),
		UpdatedAt:     r.UpdatedAt.UTC(),
	}
	if r.RateOverride.Valid {
		v := r.RateOverride.Decimal
		c.RateOverride = &v
	}
	return c
}

func (s *Store) GetColor(ctx context.Context, id string) (*domain.Color, error) {
	var row colorRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM colors WHERE id = ?`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	c := row.toDomain()
	return &c, nil
}

func (s *Store) ListColors(ctx context.Context) ([]domain.Color, error) {
	var rows []colorRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT * FROM colors ORDER BY name`); err != nil {
		return nil, err
	}
	colors := make([]domain.Color, 0, len(rows))
	for _, r := range rows {
		colors = append(colors, r.toDomain())
	}
	return colors, nil
}

func (s *Store) SetColorStock(ctx context.Context, colorID string, quantity int) error {
	if quantity < 0 {
		quantity = 0
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE colors SET stock_quantity = ?, updated_at = ? WHERE id = ?
	`, quantity, time.Now().UTC(), colorID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// --- stock ledger ---

// StockIn commits the stock increase first, then appends the audit row
// best-effort. A failed append is logged and the entry returned nil: losing
// an audit line must never roll back real stock.
func (s *Store) StockIn(ctx context.Context, entry domain.StockInHistory) (*domain.Color, *domain.StockInHistory, error) {
	if entry.Quantity < 1 {
		return nil, nil, store.ErrInvalidInput
	}

	now := time.Now().UTC()
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var row colorRow
	if err := tx.GetContext(ctx, &row, `SELECT * FROM colors WHERE id = ?`, entry.ColorID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, store.ErrNotFound
		}
		return nil, nil, err
	}

	entry.PreviousStock = row.StockQuantity
	entry.NewStock = row.StockQuantity + entry.Quantity
	if entry.ID == "" {
		entry.ID = xid.New("stin")
	}
	if entry.StockInDate == "" {
		entry.StockInDate = domain.LedgerDate(now)
	}
	entry.CreatedAt = now
	entry.UpdatedAt = now

	if _, err := tx.ExecContext(ctx, `
		UPDATE colors SET stock_quantity = ?, updated_at = ? WHERE id = ?
	`, entry.NewStock, now, entry.ColorID); err != nil {
		return nil, nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, nil, err
	}

	color := row.toDomain()
	color.StockQuantity = entry.NewStock
	color.UpdatedAt = now

	if err := s.insertStockIn(ctx, s.db, entry); err != nil {
		s.log.WithFields(logrus.Fields{
			"color_id": entry.ColorID,
			"quantity": entry.Quantity,
		}).WithError(err).Warn("stock-in history append failed")
		return &color, nil, nil
	}

	created := entry
	return &color, &created, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) insertStockIn(ctx context.Context, ex execer, entry domain.StockInHistory) error {
	_, err := ex.ExecContext(ctx, `
		INSERT INTO stock_in_history
			(id, color_id, quantity, previous_stock, new_stock, stock_in_date, notes, reference_id, reference_type, created_at, updated_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?)
	`, entry.ID, entry.ColorID, entry.Quantity, entry.PreviousStock, entry.NewStock,
		entry.StockInDate, entry.Notes, entry.ReferenceID, entry.ReferenceType, entry.CreatedAt, entry.UpdatedAt)
	return err
}

func (s *Store) insertStockOut(ctx context.Context, ex execer, entry domain.StockOutHistory) error {
	_, err := ex.ExecContext(ctx, `
		INSERT INTO stock_out_history
			(id, color_id, quantity, previous_stock, new_stock, movement_type, reference_id, reference_type, stock_out_date, notes, created_at, updated_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?)
	`, entry.ID, entry.ColorID, entry.Quantity, entry.PreviousStock, entry.NewStock, entry.MovementType,
		entry.ReferenceID, entry.ReferenceType, entry.StockOutDate, entry.Notes, entry.CreatedAt, entry.UpdatedAt)
	return err
}

func (s *Store) RecordStockOut(ctx context.Context, entry domain.StockOutHistory) (*domain.Color, *domain.StockOutHistory, error) {
	if entry.Quantity < 1 {
		return nil, nil, store.ErrInvalidInput
	}

	now := time.Now().UTC()
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var row colorRow
	if err := tx.GetContext(ctx, &row, `SELECT * FROM colors WHERE id = ?`, entry.ColorID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, store.ErrNotFound
		}
		return nil, nil, err
	}

	applied := entry.Quantity
	if applied > row.StockQuantity {
		applied = row.StockQuantity
	}
	entry.Quantity = applied
	entry.PreviousStock = row.StockQuantity
	entry.NewStock = row.StockQuantity - applied
	if entry.ID == "" {
		entry.ID = xid.New("stout")
	}
	if entry.StockOutDate == "" {
		entry.StockOutDate = domain.LedgerDate(now)
	}
	entry.CreatedAt = now
	entry.UpdatedAt = now

	if _, err := tx.ExecContext(ctx, `
		UPDATE colors SET stock_quantity = ?, updated_at = ? WHERE id = ?
	`, entry.NewStock, now, entry.ColorID); err != nil {
		return nil, nil, err
	}
	if err := s.insertStockOut(ctx, tx, entry); err != nil {
		return nil, nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, nil, err
	}

	color := row.toDomain()
	color.StockQuantity = entry.NewStock
	color.UpdatedAt = now

	created := entry
	return &color, &created, nil
}

type stockInRow struct {
	ID            string    `db:"id"`
	ColorID       string    `db:"color_id"`
	Quantity      int       `db:"quantity"`
	PreviousStock int       `db:"previous_stock"`
	NewStock      int       `db:"new_stock"`
	StockInDate   string    `db:"stock_in_date"`
	Notes         string    `db:"notes"`
	ReferenceID   string    `db:"reference_id"`
	ReferenceType string    `db:"reference_type"`
	CreatedAt     time.Time `db:"created_at"`
	UpdatedAt     time.Time `db:"updated_at"`
}

func (r stockInRow) toDomain() domain.StockInHistory {
	return domain.StockInHistory{
		ID: r.ID, ColorID: r.ColorID, Quantity: r.Quantity,
		PreviousStock: r.PreviousStock, NewStock: r.NewStock,
		StockInDate: r.StockInDate, Notes: r.Notes,
		ReferenceID: r.ReferenceID, ReferenceType: r.ReferenceType,
		CreatedAt: r.CreatedAt.UTC(), UpdatedAt: r.UpdatedAt.UTC(),
	}
}

type stockOutRow struct {
	ID            string    `db:"id"`
	ColorID       string    `db:"color_id"`
	Quantity      int       `db:"quantity"`
	PreviousStock int       `db:"previous_stock"`
	NewStock      int       `db:"new_stock"`
	MovementType  string    `db:"movement_type"`
	ReferenceID   string    `db:"reference_id"`
	ReferenceType string    `db:"reference_type"`
	StockOutDate  string    `db:"stock_out_date"`
	Notes         string    `db:"notes"`
	CreatedAt     time.Time `db:"created_at"`
	UpdatedAt     time.Time `db:"updated_at"`
}

func (r stockOutRow) toDomain() domain.StockOutHistory {
	return domain.StockOutHistory{
		ID: r.ID, ColorID: r.ColorID, Quantity: r.Quantity,
		PreviousStock: r.PreviousStock, NewStock: r.NewStock,
		MovementType: r.MovementType, ReferenceID: r.ReferenceID, ReferenceType: r.ReferenceType,
		StockOutDate: r.StockOutDate, Notes: r.Notes,
		CreatedAt: r.CreatedAt.UTC(), UpdatedAt: r.UpdatedAt.UTC(),
	}
}

func (s *Store) GetStockInEntry(ctx context.Context, id string) (*domain.StockInHistory, error) {
	var row stockInRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM stock_in_history WHERE id = ?`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	entry := row.toDomain()
	return &entry, nil
}

func (s *Store) UpdateStockInEntry(ctx context.Context, id string, quantity int, notes *string, date *string) (*domain.StockInHistory, error) {
	if quantity < 1 {
		return nil, store.ErrInvalidInput
	}

	now := time.Now().UTC()
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var row stockInRow
	if err := tx.GetContext(ctx, &row, `SELECT * FROM stock_in_history WHERE id = ?`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	entry := row.toDomain()
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

	if _, err := tx.ExecContext(ctx, `
		UPDATE stock_in_history
		SET quantity = ?, new_stock = ?, notes = ?, stock_in_date = ?, updated_at = ?
		WHERE id = ?
	`, entry.Quantity, entry.NewStock, entry.Notes, entry.StockInDate, now, id); err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE colors SET stock_quantity = MAX(0, stock_quantity + ?), updated_at = ? WHERE id = ?
	`, delta, now, entry.ColorID); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &entry, nil
}

func (s *Store) DeleteStockInEntry(ctx context.Context, id string) error {
	now := time.Now().UTC()
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var row stockInRow
	if err := tx.GetContext(ctx, &row, `SELECT * FROM stock_in_history WHERE id = ?`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.ErrNotFound
		}
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM stock_in_history WHERE id = ?`, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE colors SET stock_quantity = MAX(0, stock_quantity - ?), updated_at = ? WHERE id = ?
	`, row.Quantity, now, row.ColorID); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) ListStockInHistory(ctx context.Context, colorID string, limit int) ([]domain.StockInHistory, error) {
	if limit < 1 {
		limit = 100
	}
	var rows []stockInRow
	var err error
	if colorID == "" {
		err = s.db.SelectContext(ctx, &rows, `
			SELECT * FROM stock_in_history ORDER BY created_at DESC LIMIT ?
		`, limit)
	} else {
		err = s.db.SelectContext(ctx, &rows, `
			SELECT * FROM stock_in_history WHERE color_id = ? ORDER BY created_at DESC LIMIT ?
		`, colorID, limit)
	}
	if err != nil {
		return nil, err
	}
	entries := make([]domain.StockInHistory, 0, len(rows))
	for _, r := range rows {
		entries = append(entries, r.toDomain())
	}
	return entries, nil
}

func (s *Store) ListStockOutHistory(ctx context.Context, colorID string, limit int) ([]domain.StockOutHistory, error) {
	if limit < 1 {
		limit = 100
	}
	var rows []stockOutRow
	var err error
	if colorID == "" {
		err = s.db.SelectContext(ctx, &rows, `
			SELECT * FROM stock_out_history ORDER BY created_at DESC LIMIT ?
		`, limit)
	} else {
		err = s.db.SelectContext(ctx, &rows, `
			SELECT * FROM stock_out_history WHERE color_id = ? ORDER BY created_at DESC LIMIT ?
		`, colorID, limit)
	}
	if err != nil {
		return nil, err
	}
	entries := make([]domain.StockOutHistory, 0, len(rows))
	for _, r := range rows {
		entries = append(entries, r.toDomain())
	}
	return entries, nil
}

func (s *Store) SumStockMovements(ctx context.Context, colorID string) (int, int, error) {
	var exists int
	if err := s.db.GetContext(ctx, &exists, `SELECT COUNT(1) FROM colors WHERE id = ?`, colorID); err != nil {
		return 0, 0, err
	}
	if exists == 0 {
		return 0, 0, store.ErrNotFound
	}

	var in, out int
	if err := s.db.GetContext(ctx, &in, `
		SELECT COALESCE(SUM(quantity), 0) FROM stock_in_history WHERE color_id = ?
	`, colorID); err != nil {
		return 0, 0, err
	}
	if err := s.db.GetContext(ctx, &out, `
		SELECT COALESCE(SUM(quantity), 0) FROM stock_out_history WHERE color_id = ?
	`, colorID); err != nil {
		return 0, 0, err
	}
	return in, out, nil
}

// --- sale ledger ---

type saleRow struct {
	ID              string          `db:"id"`
	OfflineID       sql.NullString  `db:"offline_id"`
	CustomerName    string          `db:"customer_name"`
	CustomerPhone   string          `db:"customer_phone"`
	TotalAmount     decimal.Decimal `db:"total_amount"`
	AmountPaid      decimal.Decimal `db:"amount_paid"`
	PaymentStatus   string          `db:"payment_status"`
	IsManualBalance bool            `db:"is_manual_balance"`
	SaleDate        string          `db:"sale_date"`
	DueDate         sql.NullString  `db:"due_date"`
	Notes           string          `db:"notes"`
	CreatedAt       time.Time       `db:"created_at"`
	UpdatedAt       time.Time       `db:"updated_at"`
}

func (r saleRow) toDomain() domain.Sale {
	sale := domain.Sale{
		ID:              r.ID,
		CustomerName:    r.CustomerName,
		CustomerPhone:   r.CustomerPhone,
		TotalAmount:     r.TotalAmount,
		AmountPaid:      r.AmountPaid,
		PaymentStatus:   r.PaymentStatus,
		IsManualBalance: r.IsManualBalance,
		SaleDate:        r.SaleDate,
		Notes:           r.Notes,
		CreatedAt:       r.CreatedAt.UTC(),
		UpdatedAt:       r.UpdatedAt.UTC(),
	}
	if r.OfflineID.Valid {
		sale.OfflineID = r.OfflineID.String
	}
	if r.DueDate.Valid {
		due := r.DueDate.String
		sale.DueDate = &due
	}
	return sale
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func (s *Store) CreateSale(ctx context.Context, sale domain.Sale, items []domain.SaleItem) (*domain.Sale, error) {
	if !sale.IsManualBalance && len(items) == 0 {
		return nil, store.ErrInvalidInput
	}
	for _, item := range items {
		if item.Quantity < 1 {
			return nil, store.ErrInvalidInput
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

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var due any
	if sale.DueDate != nil {
		due = *sale.DueDate
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO sales
			(id, offline_id, customer_name, customer_phone, total_amount, amount_paid, payment_status,
			 is_manual_balance, sale_date, due_date, notes, created_at, updated_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)
	`, sale.ID, nullableString(sale.OfflineID), sale.CustomerName, sale.CustomerPhone,
		sale.TotalAmount, sale.AmountPaid, sale.PaymentStatus, sale.IsManualBalance,
		sale.SaleDate, due, sale.Notes, sale.CreatedAt, sale.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicateOfflineID
		}
		return nil, err
	}

	for i := range items {
		item := &items[i]
		if item.ID == "" {
			item.ID = xid.New("item")
		}
		item.SaleID = sale.ID
		item.Subtotal = item.Rate.Mul(decimal.NewFromInt(int64(item.Quantity)))
		item.CreatedAt = now
		item.UpdatedAt = now

		var row colorRow
		if err := tx.GetContext(ctx, &row, `SELECT * FROM colors WHERE id = ?`, item.ColorID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, store.ErrNotFound
			}
			return nil, err
		}
		if row.StockQuantity < item.Quantity {
			return nil, store.ErrInsufficientStock
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO sale_items (id, sale_id, color_id, quantity, rate, subtotal, quantity_returned, created_at, updated_at)
			VALUES (?,?,?,?,?,?,0,?,?)
		`, item.ID, item.SaleID, item.ColorID, item.Quantity, item.Rate, item.Subtotal, now, now); err != nil {
			return nil, err
		}

		out := domain.StockOutHistory{
			ID:            xid.New("stout"),
			ColorID:       item.ColorID,
			Quantity:      item.Quantity,
			PreviousStock: row.StockQuantity,
			NewStock:      row.StockQuantity - item.Quantity,
			MovementType:  domain.MovementTypeSale,
			ReferenceID:   sale.ID,
			ReferenceType: domain.ReferenceTypeSale,
			StockOutDate:  sale.SaleDate,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := s.insertStockOut(ctx, tx, out); err != nil {
			return nil, err
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE colors SET stock_quantity = ?, updated_at = ? WHERE id = ?
		`, out.NewStock, now, item.ColorID); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	created := sale
	return &created, nil
}

func (s *Store) GetSale(ctx context.Context, id string) (*domain.Sale, error) {
	var row saleRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM sales WHERE id = ?`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	sale := row.toDomain()
	return &sale, nil
}

func (s *Store) FindSaleByOfflineID(ctx context.Context, offlineID string) (*domain.Sale, error) {
	var row saleRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM sales WHERE offline_id = ?`, offlineID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	sale := row.toDomain()
	return &sale, nil
}

type saleItemRow struct {
	ID               string          `db:"id"`
	SaleID           string          `db:"sale_id"`
	ColorID          string          `db:"color_id"`
	Quantity         int             `db:"quantity"`
	Rate             decimal.Decimal `db:"rate"`
	Subtotal         decimal.Decimal `db:"subtotal"`
	QuantityReturned int             `db:"quantity_returned"`
	CreatedAt        time.Time       `db:"created_at"`
	UpdatedAt        time.Time       `db:"updated_at"`
}

func (r saleItemRow) toDomain() domain.SaleItem {
	return domain.SaleItem{
		ID: r.ID, SaleID: r.SaleID, ColorID: r.ColorID,
		Quantity: r.Quantity, Rate: r.Rate, Subtotal: r.Subtotal,
		QuantityReturned: r.QuantityReturned,
		CreatedAt:        r.CreatedAt.UTC(), UpdatedAt: r.UpdatedAt.UTC(),
	}
}

func (s *Store) GetSaleItems(ctx context.Context, saleID string) ([]domain.SaleItem, error) {
	var rows []saleItemRow
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT * FROM sale_items WHERE sale_id = ? ORDER BY created_at
	`, saleID); err != nil {
		return nil, err
	}
	items := make([]domain.SaleItem, 0, len(rows))
	for _, r := range rows {
		items = append(items, r.toDomain())
	}
	return items, nil
}

func (s *Store) ListOutstandingSales(ctx context.Context, customerPhone string, limit int) ([]domain.Sale, error) {
	if limit < 1 {
		limit = 100
	}
	var rows []saleRow
	var err error
	if customerPhone == "" {
		err = s.db.SelectContext(ctx, &rows, `
			SELECT * FROM sales WHERE payment_status IN ('unpaid','partial')
			ORDER BY created_at DESC LIMIT ?
		`, limit)
	} else {
		err = s.db.SelectContext(ctx, &rows, `
			SELECT * FROM sales WHERE payment_status IN ('unpaid','partial') AND customer_phone = ?
			ORDER BY created_at DESC LIMIT ?
		`, customerPhone, limit)
	}
	if err != nil {
		return nil, err
	}
	sales := make([]domain.Sale, 0, len(rows))
	for _, r := range rows {
		sales = append(sales, r.toDomain())
	}
	return sales, nil
}

func (s *Store) DeleteSale(ctx context.Context, id string) error {
	now := time.Now().UTC()
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var sale saleRow
	if err := tx.GetContext(ctx, &sale, `SELECT * FROM sales WHERE id = ?`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.ErrNotFound
		}
		return err
	}

	var items []saleItemRow
	if err := tx.SelectContext(ctx, &items, `SELECT * FROM sale_items WHERE sale_id = ?`, id); err != nil {
		return err
	}
	for _, item := range items {
		restock := item.Quantity - item.QuantityReturned
		if restock < 1 {
			continue
		}
		var row colorRow
		if err := tx.GetContext(ctx, &row, `SELECT * FROM colors WHERE id = ?`, item.ColorID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				continue
			}
			return err
		}
		in := domain.StockInHistory{
			ID:            xid.New("stin"),
			ColorID:       item.ColorID,
			Quantity:      restock,
			PreviousStock: row.StockQuantity,
			NewStock:      row.StockQuantity + restock,
			StockInDate:   domain.LedgerDate(now),
			Notes:         "sale deleted",
			ReferenceID:   id,
			ReferenceType: domain.ReferenceTypeSale,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := s.insertStockIn(ctx, tx, in); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE colors SET stock_quantity = ?, updated_at = ? WHERE id = ?
		`, in.NewStock, now, item.ColorID); err != nil {
			return err
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM payment_history WHERE sale_id = ?`, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM sale_items WHERE sale_id = ?`, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM sales WHERE id = ?`, id); err != nil {
		return err
	}
	return tx.Commit()
}

// recomputeSaleTx rebuilds the sale total from the unreturned quantity of its
// remaining items and re-derives the payment status. Runs inside the caller's
// transaction.
func (s *Store) recomputeSaleTx(ctx context.Context, tx *sqlx.Tx, saleID string, now time.Time) (*domain.Sale, error) {
	var sale saleRow
	if err := tx.GetContext(ctx, &sale, `SELECT * FROM sales WHERE id = ?`, saleID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	var items []saleItemRow
	if err := tx.SelectContext(ctx, &items, `SELECT * FROM sale_items WHERE sale_id = ?`, saleID); err != nil {
		return nil, err
	}

	total := decimal.Zero
	for _, item := range items {
		effective := item.Quantity - item.QuantityReturned
		if effective > 0 {
			total = total.Add(item.Rate.Mul(decimal.NewFromInt(int64(effective))))
		}
	}

	out := sale.toDomain()
	out.TotalAmount = total
	if out.PaymentStatus != domain.PaymentStatusFullReturn {
		out.PaymentStatus = domain.DerivePaymentStatus(out.TotalAmount, out.AmountPaid)
	}
	out.UpdatedAt = now

	if _, err := tx.ExecContext(ctx, `
		UPDATE sales SET total_amount = ?, payment_status = ?, updated_at = ? WHERE id = ?
	`, out.TotalAmount, out.PaymentStatus, now, saleID); err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *Store) UpdateSaleItem(ctx context.Context, itemID string, quantity int, rate decimal.Decimal) (*domain.Sale, error) {
	if quantity < 1 || rate.IsNegative() {
		return nil, store.ErrInvalidInput
	}

	now := time.Now().UTC()
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var item saleItemRow
	if err := tx.GetContext(ctx, &item, `SELECT * FROM sale_items WHERE id = ?`, itemID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if quantity < item.QuantityReturned {
		return nil, store.ErrInvalidInput
	}

	delta := quantity - item.Quantity
	if delta != 0 {
		var row colorRow
		if err := tx.GetContext(ctx, &row, `SELECT * FROM colors WHERE id = ?`, item.ColorID); err != nil && !errors.Is(err, sql.ErrNoRows) {
			return nil, err
		} else if err == nil {
			if delta > 0 {
				if row.StockQuantity < delta {
					return nil, store.ErrInsufficientStock
				}
				out := domain.StockOutHistory{
					ID: xid.New("stout"), ColorID: item.ColorID, Quantity: delta,
					PreviousStock: row.StockQuantity, NewStock: row.StockQuantity - delta,
					MovementType: domain.MovementTypeSale, ReferenceID: item.SaleID,
					ReferenceType: domain.ReferenceTypeSale, StockOutDate: domain.LedgerDate(now),
					Notes: "sale item edited", CreatedAt: now, UpdatedAt: now,
				}
				if err := s.insertStockOut(ctx, tx, out); err != nil {
					return nil, err
				}
				if _, err := tx.ExecContext(ctx, `
					UPDATE colors SET stock_quantity = ?, updated_at = ? WHERE id = ?
				`, out.NewStock, now, item.ColorID); err != nil {
					return nil, err
				}
			} else {
				in := domain.StockInHistory{
					ID: xid.New("stin"), ColorID: item.ColorID, Quantity: -delta,
					PreviousStock: row.StockQuantity, NewStock: row.StockQuantity - delta,
					StockInDate: domain.LedgerDate(now), Notes: "sale item edited",
					ReferenceID: item.SaleID, ReferenceType: domain.ReferenceTypeSale,
					CreatedAt: now, UpdatedAt: now,
				}
				if err := s.insertStockIn(ctx, tx, in); err != nil {
					return nil, err
				}
				if _, err := tx.ExecContext(ctx, `
					UPDATE colors SET stock_quantity = ?, updated_at = ? WHERE id = ?
				`, in.NewStock, now, item.ColorID); err != nil {
					return nil, err
				}
			}
		}
	}

	subtotal := rate.Mul(decimal.NewFromInt(int64(quantity)))
	if _, err := tx.ExecContext(ctx, `
		UPDATE sale_items SET quantity = ?, rate = ?, subtotal = ?, updated_at = ? WHERE id = ?
	`, quantity, rate, subtotal, now, itemID); err != nil {
		return nil, err
	}

	sale, err := s.recomputeSaleTx(ctx, tx, item.SaleID, now)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return sale, nil
}

func (s *Store) DeleteSaleItem(ctx context.Context, itemID string) (*domain.Sale, error) {
	now := time.Now().UTC()
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var item saleItemRow
	if err := tx.GetContext(ctx, &item, `SELECT * FROM sale_items WHERE id = ?`, itemID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	restock := item.Quantity - item.QuantityReturned
	if restock > 0 {
		var row colorRow
		err := tx.GetContext(ctx, &row, `SELECT * FROM colors WHERE id = ?`, item.ColorID)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		if err == nil {
			in := domain.StockInHistory{
				ID: xid.New("stin"), ColorID: item.ColorID, Quantity: restock,
				PreviousStock: row.StockQuantity, NewStock: row.StockQuantity + restock,
				StockInDate: domain.LedgerDate(now), Notes: "sale item deleted",
				ReferenceID: item.SaleID, ReferenceType: domain.ReferenceTypeSale,
				CreatedAt: now, UpdatedAt: now,
			}
			if err := s.insertStockIn(ctx, tx, in); err != nil {
				return nil, err
			}
			if _, err := tx.ExecContext(ctx, `
				UPDATE colors SET stock_quantity = ?, updated_at = ? WHERE id = ?
			`, in.NewStock, now, item.ColorID); err != nil {
				return nil, err
			}
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM sale_items WHERE id = ?`, itemID); err != nil {
		return nil, err
	}

	sale, err := s.recomputeSaleTx(ctx, tx, item.SaleID, now)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return sale, nil
}

// --- payment ledger ---

type paymentRow struct {
	ID              string          `db:"id"`
	SaleID          string          `db:"sale_id"`
	CustomerPhone   string          `db:"customer_phone"`
	Amount          decimal.Decimal `db:"amount"`
	PreviousBalance decimal.Decimal `db:"previous_balance"`
	NewBalance      decimal.Decimal `db:"new_balance"`
	PaymentMethod   string          `db:"payment_method"`
	Notes           string          `db:"notes"`
	CreatedAt       time.Time       `db:"created_at"`
	UpdatedAt       time.Time       `db:"updated_at"`
}

func (r paymentRow) toDomain() domain.PaymentHistory {
	return domain.PaymentHistory{
		ID: r.ID, SaleID: r.SaleID, CustomerPhone: r.CustomerPhone,
		Amount: r.Amount, PreviousBalance: r.PreviousBalance, NewBalance: r.NewBalance,
		PaymentMethod: r.PaymentMethod, Notes: r.Notes,
		CreatedAt: r.CreatedAt.UTC(), UpdatedAt: r.UpdatedAt.UTC(),
	}
}

// ApplyPayment updates the canonical balance in one transaction, then appends
// the audit row best-effort: a lost audit line is logged, never propagated.
func (s *Store) ApplyPayment(ctx context.Context, saleID string, amount decimal.Decimal, method string, notes string) (*domain.Sale, *domain.PaymentHistory, error) {
	if !amount.IsPositive() {
		return nil, nil, store.ErrInvalidInput
	}

	now := time.Now().UTC()
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var row saleRow
	if err := tx.GetContext(ctx, &row, `SELECT * FROM sales WHERE id = ?`, saleID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, store.ErrNotFound
		}
		return nil, nil, err
	}
	sale := row.toDomain()
	if sale.PaymentStatus == domain.PaymentStatusFullReturn {
		return nil, nil, store.ErrInvalidInput
	}

	outstanding := domain.Outstanding(sale.TotalAmount, sale.AmountPaid)
	if amount.GreaterThan(outstanding) {
		return nil, nil, store.ErrPaymentExceedsBalance
	}

	sale.AmountPaid = sale.AmountPaid.Add(amount)
	sale.PaymentStatus = domain.DerivePaymentStatus(sale.TotalAmount, sale.AmountPaid)
	sale.UpdatedAt = now
	if _, err := tx.ExecContext(ctx, `
		UPDATE sales SET amount_paid = ?, payment_status = ?, updated_at = ? WHERE id = ?
	`, sale.AmountPaid, sale.PaymentStatus, now, saleID); err != nil {
		return nil, nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, nil, err
	}

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
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO payment_history
			(id, sale_id, customer_phone, amount, previous_balance, new_balance, payment_method, notes, created_at, updated_at)
		VALUES (?,?,?,?,?,?,?,?,?,?)
	`, entry.ID, entry.SaleID, entry.CustomerPhone, entry.Amount, entry.PreviousBalance,
		entry.NewBalance, entry.PaymentMethod, entry.Notes, entry.CreatedAt, entry.UpdatedAt)
	if err != nil {
		s.log.WithFields(logrus.Fields{
			"sale_id": saleID,
			"amount":  amount.String(),
		}).WithError(err).Warn("payment history append failed")
		return &sale, nil, nil
	}

	return &sale, &entry, nil
}

func (s *Store) UpdatePaymentEntry(ctx context.Context, id string, amount decimal.Decimal, method string, notes string) (*domain.Sale, error) {
	if !amount.IsPositive() {
		return nil, store.ErrInvalidInput
	}

	now := time.Now().UTC()
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var entry paymentRow
	if err := tx.GetContext(ctx, &entry, `SELECT * FROM payment_history WHERE id = ?`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	var row saleRow
	if err := tx.GetContext(ctx, &row, `SELECT * FROM sales WHERE id = ?`, entry.SaleID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	sale := row.toDomain()

	delta := amount.Sub(entry.Amount)
	newPaid := sale.AmountPaid.Add(delta)
	if newPaid.IsNegative() {
		return nil, store.ErrInvalidInput
	}
	if newPaid.GreaterThan(sale.TotalAmount) {
		return nil, store.ErrPaymentExceedsBalance
	}

	sale.AmountPaid = newPaid
	if sale.PaymentStatus != domain.PaymentStatusFullReturn {
		sale.PaymentStatus = domain.DerivePaymentStatus(sale.TotalAmount, sale.AmountPaid)
	}
	sale.UpdatedAt = now
	if _, err := tx.ExecContext(ctx, `
		UPDATE sales SET amount_paid = ?, payment_status = ?, updated_at = ? WHERE id = ?
	`, sale.AmountPaid, sale.PaymentStatus, now, sale.ID); err != nil {
		return nil, err
	}

	newBalance := entry.PreviousBalance.Sub(amount)
	if method == "" {
		method = entry.PaymentMethod
	}
	if notes == "" {
		notes = entry.Notes
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE payment_history SET amount = ?, new_balance = ?, payment_method = ?, notes = ?, updated_at = ?
		WHERE id = ?
	`, amount, newBalance, method, notes, now, id); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &sale, nil
}

func (s *Store) DeletePaymentEntry(ctx context.Context, id string) (*domain.Sale, error) {
	now := time.Now().UTC()
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var entry paymentRow
	if err := tx.GetContext(ctx, &entry, `SELECT * FROM payment_history WHERE id = ?`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	var row saleRow
	if err := tx.GetContext(ctx, &row, `SELECT * FROM sales WHERE id = ?`, entry.SaleID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	sale := row.toDomain()

	newPaid := sale.AmountPaid.Sub(entry.Amount)
	if newPaid.IsNegative() {
		newPaid = decimal.Zero
	}
	sale.AmountPaid = newPaid
	if sale.PaymentStatus != domain.PaymentStatusFullReturn {
		sale.PaymentStatus = domain.DerivePaymentStatus(sale.TotalAmount, sale.AmountPaid)
	}
	sale.UpdatedAt = now
	if _, err := tx.ExecContext(ctx, `
		UPDATE sales SET amount_paid = ?, payment_status = ?, updated_at = ? WHERE id = ?
	`, sale.AmountPaid, sale.PaymentStatus, now, sale.ID); err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM payment_history WHERE id = ?`, id); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &sale, nil
}

func (s *Store) ListPayments(ctx context.Context, saleID string, limit int) ([]domain.PaymentHistory, error) {
	if limit < 1 {
		limit = 100
	}
	var rows []paymentRow
	var err error
	if saleID == "" {
		err = s.db.SelectContext(ctx, &rows, `
			SELECT * FROM payment_history ORDER BY created_at DESC LIMIT ?
		`, limit)
	} else {
		err = s.db.SelectContext(ctx, &rows, `
			SELECT * FROM payment_history WHERE sale_id = ? ORDER BY created_at DESC LIMIT ?
		`, saleID, limit)
	}
	if err != nil {
		return nil, err
	}
	entries := make([]domain.PaymentHistory, 0, len(rows))
	for _, r := range rows {
		entries = append(entries, r.toDomain())
	}
	return entries, nil
}

// --- returns ---

type returnRow struct {
	ID           string          `db:"id"`
	SaleID       sql.NullString  `db:"sale_id"`
	CustomerName string          `db:"customer_name"`
	RefundAmount decimal.Decimal `db:"refund_amount"`
	FullBill     bool            `db:"full_bill"`
	ReturnDate   string          `db:"return_date"`
	Notes        string          `db:"notes"`
	CreatedAt    time.Time       `db:"created_at"`
	UpdatedAt    time.Time       `db:"updated_at"`
}

func (r returnRow) toDomain() domain.Return {
	ret := domain.Return{
		ID: r.ID, CustomerName: r.CustomerName, RefundAmount: r.RefundAmount,
		FullBill: r.FullBill, ReturnDate: r.ReturnDate, Notes: r.Notes,
		CreatedAt: r.CreatedAt.UTC(), UpdatedAt: r.UpdatedAt.UTC(),
	}
	if r.SaleID.Valid {
		saleID := r.SaleID.String
		ret.SaleID = &saleID
	}
	return ret
}

type returnItemRow struct {
	ID            string          `db:"id"`
	ReturnID      string          `db:"return_id"`
	SaleItemID    sql.NullString  `db:"sale_item_id"`
	ColorID       string          `db:"color_id"`
	Quantity      int             `db:"quantity"`
	Rate          decimal.Decimal `db:"rate"`
	StockRestored bool            `db:"stock_restored"`
	CreatedAt     time.Time       `db:"created_at"`
}

func (r returnItemRow) toDomain() domain.ReturnItem {
	item := domain.ReturnItem{
		ID: r.ID, ReturnID: r.ReturnID, ColorID: r.ColorID,
		Quantity: r.Quantity, Rate: r.Rate, StockRestored: r.StockRestored,
		CreatedAt: r.CreatedAt.UTC(),
	}
	if r.SaleItemID.Valid {
		itemID := r.SaleItemID.String
		item.SaleItemID = &itemID
	}
	return item
}

func (s *Store) ApplyReturn(ctx context.Context, ret domain.Return, items []domain.ReturnItem) (*domain.Return, error) {
	now := time.Now().UTC()
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var sale *domain.Sale
	if ret.SaleID != nil {
		var row saleRow
		if err := tx.GetContext(ctx, &row, `SELECT * FROM sales WHERE id = ?`, *ret.SaleID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, store.ErrNotFound
			}
			return nil, err
		}
		found := row.toDomain()
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
			var saleItem saleItemRow
			if err := tx.GetContext(ctx, &saleItem, `SELECT * FROM sale_items WHERE id = ?`, *item.SaleItemID); err != nil {
				if errors.Is(err, sql.ErrNoRows) {
					return nil, store.ErrNotFound
				}
				return nil, err
			}
			if saleItem.SaleID != sale.ID {
				return nil, store.ErrNotFound
			}
			requested[saleItem.ID] += item.Quantity
			if saleItem.QuantityReturned+requested[saleItem.ID] > saleItem.Quantity {
				return nil, store.ErrReturnExceedsQuantity
			}
		}
	}

	if ret.ID == "" {
		ret.ID = xid.New("ret")
	}
	if ret.ReturnDate == "" {
		ret.ReturnDate = domain.LedgerDate(now)
	}
	ret.CreatedAt = now
	ret.UpdatedAt = now

	var saleID any
	if ret.SaleID != nil {
		saleID = *ret.SaleID
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO returns (id, sale_id, customer_name, refund_amount, full_bill, return_date, notes, created_at, updated_at)
		VALUES (?,?,?,?,?,?,?,?,?)
	`, ret.ID, saleID, ret.CustomerName, ret.RefundAmount, ret.FullBill, ret.ReturnDate, ret.Notes, now, now); err != nil {
		return nil, err
	}

	for i := range items {
		item := &items[i]
		if item.ID == "" {
			item.ID = xid.New("rti")
		}
		item.ReturnID = ret.ID
		item.CreatedAt = now

		var saleItemID any
		if item.SaleItemID != nil {
			saleItemID = *item.SaleItemID
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO return_items (id, return_id, sale_item_id, color_id, quantity, rate, stock_restored, created_at)
			VALUES (?,?,?,?,?,?,?,?)
		`, item.ID, item.ReturnID, saleItemID, item.ColorID, item.Quantity, item.Rate, item.StockRestored, now); err != nil {
			return nil, err
		}

		if item.SaleItemID != nil {
			if _, err := tx.ExecContext(ctx, `
				UPDATE sale_items SET quantity_returned = quantity_returned + ?, updated_at = ? WHERE id = ?
			`, item.Quantity, now, *item.SaleItemID); err != nil {
				return nil, err
			}
		}

		if item.StockRestored {
			var row colorRow
			if err := tx.GetContext(ctx, &row, `SELECT * FROM colors WHERE id = ?`, item.ColorID); err != nil {
				if errors.Is(err, sql.ErrNoRows) {
					return nil, store.ErrNotFound
				}
				return nil, err
			}
			in := domain.StockInHistory{
				ID: xid.New("stin"), ColorID: item.ColorID, Quantity: item.Quantity,
				PreviousStock: row.StockQuantity, NewStock: row.StockQuantity + item.Quantity,
				StockInDate: ret.ReturnDate, Notes: "return restock",
				ReferenceID: ret.ID, ReferenceType: domain.ReferenceTypeReturn,
				CreatedAt: now, UpdatedAt: now,
			}
			if err := s.insertStockIn(ctx, tx, in); err != nil {
				return nil, err
			}
			if _, err := tx.ExecContext(ctx, `
				UPDATE colors SET stock_quantity = ?, updated_at = ? WHERE id = ?
			`, in.NewStock, now, item.ColorID); err != nil {
				return nil, err
			}
		}
	}

	if sale != nil {
		if ret.FullBill {
			if _, err := tx.ExecContext(ctx, `
				UPDATE sales SET payment_status = ?, amount_paid = ?, updated_at = ? WHERE id = ?
			`, domain.PaymentStatusFullReturn, decimal.Zero, now, sale.ID); err != nil {
				return nil, err
			}
		} else {
			if _, err := s.recomputeSaleTx(ctx, tx, sale.ID, now); err != nil {
				return nil, err
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	created := ret
	return &created, nil
}

func (s *Store) GetReturn(ctx context.Context, id string) (*domain.Return, error) {
	var row returnRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM returns WHERE id = ?`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	ret := row.toDomain()
	return &ret, nil
}

func (s *Store) GetReturnItems(ctx context.Context, returnID string) ([]domain.ReturnItem, error) {
	var rows []returnItemRow
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT * FROM return_items WHERE return_id = ? ORDER BY created_at
	`, returnID); err != nil {
		return nil, err
	}
	items := make([]domain.ReturnItem, 0, len(rows))
	for _, r := range rows {
		items = append(items, r.toDomain())
	}
	return items, nil
}

// --- offline queue ---

type pendingRow struct {
	OfflineID    string    `db:"offline_id"`
	Payload      []byte    `db:"payload"`
	Status       string    `db:"status"`
	Attempts     int       `db:"attempts"`
	LastError    string    `db:"last_error"`
	SyncedSaleID string    `db:"synced_sale_id"`
	CreatedAt    time.Time `db:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"`
}

func (r pendingRow) toDomain() domain.PendingSale {
	return domain.PendingSale{
		OfflineID: r.OfflineID, Payload: r.Payload, Status: r.Status,
		Attempts: r.Attempts, LastError: r.LastError, SyncedSaleID: r.SyncedSaleID,
		CreatedAt: r.CreatedAt.UTC(), UpdatedAt: r.UpdatedAt.UTC(),
	}
}

func (s *Store) EnqueuePendingSale(ctx context.Context, p domain.PendingSale) (*domain.PendingSale, error) {
	if strings.TrimSpace(p.OfflineID) == "" || len(p.Payload) == 0 {
		return nil, store.ErrInvalidInput
	}
	now := time.Now().UTC()
	p.Status = domain.PendingStatusPending
	p.Attempts = 0
	p.CreatedAt = now
	p.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pending_sales (offline_id, payload, status, attempts, last_error, synced_sale_id, created_at, updated_at)
		VALUES (?,?,?,0,'','',?,?)
	`, p.OfflineID, p.Payload, p.Status, now, now)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicateOfflineID
		}
		return nil, err
	}

	created := p
	return &created, nil
}

func (s *Store) GetPendingSale(ctx context.Context, offlineID string) (*domain.PendingSale, error) {
	var row pendingRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM pending_sales WHERE offline_id = ?`, offlineID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	p := row.toDomain()
	return &p, nil
}

func (s *Store) ListPendingSales(ctx context.Context, status string, limit int) ([]domain.PendingSale, error) {
	if limit < 1 {
		limit = 100
	}
	var rows []pendingRow
	var err error
	if status == "" {
		err = s.db.SelectContext(ctx, &rows, `
			SELECT * FROM pending_sales ORDER BY created_at LIMIT ?
		`, limit)
	} else {
		err = s.db.SelectContext(ctx, &rows, `
			SELECT * FROM pending_sales WHERE status = ? ORDER BY created_at LIMIT ?
		`, status, limit)
	}
	if err != nil {
		return nil, err
	}
	entries := make([]domain.PendingSale, 0, len(rows))
	for _, r := range rows {
		entries = append(entries, r.toDomain())
	}
	return entries, nil
}

func (s *Store) MarkPendingSynced(ctx context.Context, offlineID string, saleID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE pending_sales
		SET status = ?, synced_sale_id = ?, attempts = attempts + 1, last_error = '', updated_at = ?
		WHERE offline_id = ?
	`, domain.PendingStatusSynced, saleID, time.Now().UTC(), offlineID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) RecordPendingFailure(ctx context.Context, offlineID string, lastError string, terminal bool) error {
	status := domain.PendingStatusPending
	if terminal {
		status = domain.PendingStatusFailed
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE pending_sales
		SET status = ?, attempts = attempts + 1, last_error = ?, updated_at = ?
		WHERE offline_id = ?
	`, status, lastError, time.Now().UTC(), offlineID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) DeletePendingSale(ctx context.Context, offlineID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM pending_sales WHERE offline_id = ?`, offlineID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// --- terminal state ---

func (s *Store) SaveTerminalState(ctx context.Context, st domain.TerminalState) error {
	if st.TerminalID == "" {
		return store.ErrInvalidInput
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO terminal_state (terminal_id, customer_name, customer_phone, cart_json, updated_at)
		VALUES (?,?,?,?,?)
		ON CONFLICT (terminal_id) DO UPDATE SET
			customer_name = excluded.customer_name,
			customer_phone = excluded.customer_phone,
			cart_json = excluded.cart_json,
			updated_at = excluded.updated_at
	`, st.TerminalID, st.CustomerName, st.CustomerPhone, st.CartJSON, time.Now().UTC())
	return err
}

func (s *Store) LoadTerminalState(ctx context.Context, terminalID string) (*domain.TerminalState, error) {
	var st domain.TerminalState
	err := s.db.QueryRowContext(ctx, `
		SELECT terminal_id, customer_name, customer_phone, cart_json, updated_at
		FROM terminal_state WHERE terminal_id = ?
	`, terminalID).Scan(&st.TerminalID, &st.CustomerName, &st.CustomerPhone, &st.CartJSON, &st.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	st.UpdatedAt = st.UpdatedAt.UTC()
	return &st, nil
}

// --- sync jobs ---

type syncJobRow struct {
	ID           string    `db:"id"`
	JobType      string    `db:"job_type"`
	ConnectionID string    `db:"connection_id"`
	Status       string    `db:"status"`
	Attempts     int       `db:"attempts"`
	LastError    string    `db:"last_error"`
	Details      string    `db:"details"`
	CreatedAt    time.Time `db:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"`
}

func (r syncJobRow) toDomain() domain.SyncJob {
	return domain.SyncJob{
		ID: r.ID, JobType: r.JobType, ConnectionID: r.ConnectionID,
		Status: r.Status, Attempts: r.Attempts, LastError: r.LastError, Details: r.Details,
		CreatedAt: r.CreatedAt.UTC(), UpdatedAt: r.UpdatedAt.UTC(),
	}
}

func (s *Store) CreateSyncJob(ctx context.Context, job domain.SyncJob) (*domain.SyncJob, error) {
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

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_jobs (id, job_type, connection_id, status, attempts, last_error, details, created_at, updated_at)
		VALUES (?,?,?,?,0,'',?,?,?)
	`, job.ID, job.JobType, job.ConnectionID, job.Status, job.Details, now, now)
	if err != nil {
		return nil, err
	}

	created := job
	return &created, nil
}

func (s *Store) GetSyncJob(ctx context.Context, id string) (*domain.SyncJob, error) {
	var row syncJobRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM sync_jobs WHERE id = ?`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	job := row.toDomain()
	return &job, nil
}

func (s *Store) ListSyncJobs(ctx context.Context, status string, limit int) ([]domain.SyncJob, error) {
	if limit < 1 {
		limit = 100
	}
	var rows []syncJobRow
	var err error
	if status == "" {
		err = s.db.SelectContext(ctx, &rows, `
			SELECT * FROM sync_jobs ORDER BY created_at LIMIT ?
		`, limit)
	} else {
		err = s.db.SelectContext(ctx, &rows, `
			SELECT * FROM sync_jobs WHERE status = ? ORDER BY created_at LIMIT ?
		`, status, limit)
	}
	if err != nil {
		return nil, err
	}
	jobs := make([]domain.SyncJob, 0, len(rows))
	for _, r := range rows {
		jobs = append(jobs, r.toDomain())
	}
	return jobs, nil
}

func (s *Store) StartSyncJob(ctx context.Context, id string) (*domain.SyncJob, error) {
	now := time.Now().UTC()
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var row syncJobRow
	if err := tx.GetContext(ctx, &row, `SELECT * FROM sync_jobs WHERE id = ?`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if row.Status != domain.JobStatusPending {
		return nil, store.ErrInvalidJobState
	}

	var running int
	if err := tx.GetContext(ctx, &running, `
		SELECT COUNT(1) FROM sync_jobs WHERE connection_id = ? AND status = ? AND id != ?
	`, row.ConnectionID, domain.JobStatusRunning, id); err != nil {
		return nil, err
	}
	if running > 0 {
		return nil, store.ErrJobAlreadyRunning
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE sync_jobs SET status = ?, attempts = attempts + 1, updated_at = ? WHERE id = ?
	`, domain.JobStatusRunning, now, id); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	job := row.toDomain()
	job.Status = domain.JobStatusRunning
	job.Attempts++
	job.UpdatedAt = now
	return &job, nil
}

func (s *Store) FinishSyncJob(ctx context.Context, id string, succeeded bool, lastError string) (*domain.SyncJob, error) {
	now := time.Now().UTC()
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var row syncJobRow
	if err := tx.GetContext(ctx, &row, `SELECT * FROM sync_jobs WHERE id = ?`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	// Cancelled mid-flight stays cancelled.
	if row.Status == domain.JobStatusCancelled {
		job := row.toDomain()
		return &job, nil
	}
	if row.Status != domain.JobStatusRunning {
		return nil, store.ErrInvalidJobState
	}

	status := domain.JobStatusFailed
	if succeeded {
		status = domain.JobStatusSuccess
		lastError = ""
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE sync_jobs SET status = ?, last_error = ?, updated_at = ? WHERE id = ?
	`, status, lastError, now, id); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	job := row.toDomain()
	job.Status = status
	job.LastError = lastError
	job.UpdatedAt = now
	return &job, nil
}

func (s *Store) CancelSyncJob(ctx context.Context, id string) (*domain.SyncJob, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE sync_jobs SET status = ?, updated_at = ?
		WHERE id = ? AND status IN (?, ?)
	`, domain.JobStatusCancelled, now, id, domain.JobStatusPending, domain.JobStatusRunning)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		if _, err := s.GetSyncJob(ctx, id); err != nil {
			return nil, err
		}
		return nil, store.ErrInvalidJobState
	}
	return s.GetSyncJob(ctx, id)
}

func (s *Store) RetrySyncJob(ctx context.Context, id string, maxAttempts int) (*domain.SyncJob, error) {
	now := time.Now().UTC()
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var row syncJobRow
	if err := tx.GetContext(ctx, &row, `SELECT * FROM sync_jobs WHERE id = ?`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if row.Status != domain.JobStatusFailed {
		return nil, store.ErrInvalidJobState
	}
	if maxAttempts > 0 && row.Attempts >= maxAttempts {
		return nil, store.ErrInvalidJobState
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE sync_jobs SET status = ?, updated_at = ? WHERE id = ?
	`, domain.JobStatusPending, now, id); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	job := row.toDomain()
	job.Status = domain.JobStatusPending
	job.UpdatedAt = now
	return &job, nil
}

func (s *Store) CleanupOldSyncJobs(ctx context.Context, olderThan time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM sync_jobs WHERE status IN (?, ?, ?) AND updated_at < ?
	`, domain.JobStatusSuccess, domain.JobStatusFailed, domain.JobStatusCancelled, olderThan.UTC())
	if err != nil {
		return 0, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(affected), nil
}

func (s *Store) GetSyncWatermark(ctx context.Context, connectionID string) (time.Time, error) {
	var at time.Time
	err := s.db.GetContext(ctx, &at, `
		SELECT synced_at FROM sync_watermarks WHERE connection_id = ?
	`, connectionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return time.Time{}, nil
		}
		return time.Time{}, err
	}
	return at.UTC(), nil
}

func (s *Store) SetSyncWatermark(ctx context.Context, connectionID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_watermarks (connection_id, synced_at) VALUES (?,?)
		ON CONFLICT (connection_id) DO UPDATE SET synced_at = excluded.synced_at
	`, connectionID, at.UTC())
	return err
}

// --- delta sync support ---

func (s *Store) CollectChangesSince(ctx context.Context, since time.Time) (*domain.ChangeSet, error) {
	cs := &domain.ChangeSet{}
	since = since.UTC()

	var colorRows []colorRow
	if err := s.db.SelectContext(ctx, &colorRows, `
		SELECT * FROM colors WHERE updated_at > ? ORDER BY updated_at
	`, since); err != nil {
		return nil, err
	}
	for _, r := range colorRows {
		cs.Colors = append(cs.Colors, r.toDomain())
	}

	var inRows []stockInRow
	if err := s.db.SelectContext(ctx, &inRows, `
		SELECT * FROM stock_in_history WHERE updated_at > ? ORDER BY updated_at
	`, since); err != nil {
		return nil, err
	}
	for _, r := range inRows {
		cs.StockIns = append(cs.StockIns, r.toDomain())
	}

	var outRows []stockOutRow
	if err := s.db.SelectContext(ctx, &outRows, `
		SELECT * FROM stock_out_history WHERE updated_at > ? ORDER BY updated_at
	`, since); err != nil {
		return nil, err
	}
	for _, r := range outRows {
		cs.StockOuts = append(cs.StockOuts, r.toDomain())
	}

	var saleRows []saleRow
	if err := s.db.SelectContext(ctx, &saleRows, `
		SELECT * FROM sales WHERE updated_at > ? ORDER BY updated_at
	`, since); err != nil {
		return nil, err
	}
	for _, r := range saleRows {
		cs.Sales = append(cs.Sales, r.toDomain())
	}

	var itemRows []saleItemRow
	if err := s.db.SelectContext(ctx, &itemRows, `
		SELECT * FROM sale_items WHERE updated_at > ? ORDER BY updated_at
	`, since); err != nil {
		return nil, err
	}
	for _, r := range itemRows {
		cs.SaleItems = append(cs.SaleItems, r.toDomain())
	}

	var payRows []paymentRow
	if err := s.db.SelectContext(ctx, &payRows, `
		SELECT * FROM payment_history WHERE updated_at > ? ORDER BY updated_at
	`, since); err != nil {
		return nil, err
	}
	for _, r := range payRows {
		cs.Payments = append(cs.Payments, r.toDomain())
	}

	var retRows []returnRow
	if err := s.db.SelectContext(ctx, &retRows, `
		SELECT * FROM returns WHERE updated_at > ? ORDER BY updated_at
	`, since); err != nil {
		return nil, err
	}
	for _, r := range retRows {
		cs.Returns = append(cs.Returns, r.toDomain())
	}

	var retItemRows []returnItemRow
	if err := s.db.SelectContext(ctx, &retItemRows, `
		SELECT * FROM return_items WHERE created_at > ? ORDER BY created_at
	`, since); err != nil {
		return nil, err
	}
	for _, r := range retItemRows {
		cs.ReturnItems = append(cs.ReturnItems, r.toDomain())
	}

	return cs, nil
}

// ApplyChangeSet upserts imported rows by primary key inside one transaction.
// Rows arrive ordered by UpdatedAt ascending, and every upsert is guarded by
// updated_at so a stale remote row never overwrites a newer local edit.
func (s *Store) ApplyChangeSet(ctx context.Context, cs *domain.ChangeSet) error {
	if cs == nil || cs.Empty() {
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, c := range cs.Colors {
		var override any
		if c.RateOverride != nil {
			override = c.RateOverride.String()
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO colors (id, name, stock_quantity, rate_override, created_at, updated_at)
			VALUES (?,?,?,?,?,?)
			ON CONFLICT (id) DO UPDATE SET
				name = excluded.name,
				stock_quantity = excluded.stock_quantity,
				rate_override = excluded.rate_override,
				updated_at = excluded.updated_at
			WHERE colors.updated_at <= excluded.updated_at
		`, c.ID, c.Name, c.StockQuantity, override, c.CreatedAt.UTC(), c.UpdatedAt.UTC()); err != nil {
			return err
		}
	}
	for _, e := range cs.StockIns {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO stock_in_history
				(id, color_id, quantity, previous_stock, new_stock, stock_in_date, notes, reference_id, reference_type, created_at, updated_at)
			VALUES (?,?,?,?,?,?,?,?,?,?,?)
			ON CONFLICT (id) DO UPDATE SET
				quantity = excluded.quantity,
				previous_stock = excluded.previous_stock,
				new_stock = excluded.new_stock,
				stock_in_date = excluded.stock_in_date,
				notes = excluded.notes,
				updated_at = excluded.updated_at
			WHERE stock_in_history.updated_at <= excluded.updated_at
		`, e.ID, e.ColorID, e.Quantity, e.PreviousStock, e.NewStock, e.StockInDate,
			e.Notes, e.ReferenceID, e.ReferenceType, e.CreatedAt.UTC(), e.UpdatedAt.UTC()); err != nil {
			return err
		}
	}
	for _, e := range cs.StockOuts {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO stock_out_history
				(id, color_id, quantity, previous_stock, new_stock, movement_type, reference_id, reference_type, stock_out_date, notes, created_at, updated_at)
			VALUES (?,?,?,?,?,?,?,?,?,?,?,?)
			ON CONFLICT (id) DO UPDATE SET
				quantity = excluded.quantity,
				previous_stock = excluded.previous_stock,
				new_stock = excluded.new_stock,
				movement_type = excluded.movement_type,
				stock_out_date = excluded.stock_out_date,
				notes = excluded.notes,
				updated_at = excluded.updated_at
			WHERE stock_out_history.updated_at <= excluded.updated_at
		`, e.ID, e.ColorID, e.Quantity, e.PreviousStock, e.NewStock, e.MovementType,
			e.ReferenceID, e.ReferenceType, e.StockOutDate, e.Notes, e.CreatedAt.UTC(), e.UpdatedAt.UTC()); err != nil {
			return err
		}
	}
	for _, sale := range cs.Sales {
		var due any
		if sale.DueDate != nil {
			due = *sale.DueDate
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO sales
				(id, offline_id, customer_name, customer_phone, total_amount, amount_paid, payment_status,
				 is_manual_balance, sale_date, due_date, notes, created_at, updated_at)
			VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)
			ON CONFLICT (id) DO UPDATE SET
				customer_name = excluded.customer_name,
				customer_phone = excluded.customer_phone,
				total_amount = excluded.total_amount,
				amount_paid = excluded.amount_paid,
				payment_status = excluded.payment_status,
				is_manual_balance = excluded.is_manual_balance,
				sale_date = excluded.sale_date,
				due_date = excluded.due_date,
				notes = excluded.notes,
				updated_at = excluded.updated_at
			WHERE sales.updated_at <= excluded.updated_at
		`, sale.ID, nullableString(sale.OfflineID), sale.CustomerName, sale.CustomerPhone,
			sale.TotalAmount, sale.AmountPaid, sale.PaymentStatus, sale.IsManualBalance,
			sale.SaleDate, due, sale.Notes, sale.CreatedAt.UTC(), sale.UpdatedAt.UTC()); err != nil {
			return err
		}
	}
	for _, item := range cs.SaleItems {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO sale_items (id, sale_id, color_id, quantity, rate, subtotal, quantity_returned, created_at, updated_at)
			VALUES (?,?,?,?,?,?,?,?,?)
			ON CONFLICT (id) DO UPDATE SET
				quantity = excluded.quantity,
				rate = excluded.rate,
				subtotal = excluded.subtotal,
				quantity_returned = excluded.quantity_returned,
				updated_at = excluded.updated_at
			WHERE sale_items.updated_at <= excluded.updated_at
		`, item.ID, item.SaleID, item.ColorID, item.Quantity, item.Rate, item.Subtotal,
			item.QuantityReturned, item.CreatedAt.UTC(), item.UpdatedAt.UTC()); err != nil {
			return err
		}
	}
	for _, p := range cs.Payments {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO payment_history
				(id, sale_id, customer_phone, amount, previous_balance, new_balance, payment_method, notes, created_at, updated_at)
			VALUES (?,?,?,?,?,?,?,?,?,?)
			ON CONFLICT (id) DO UPDATE SET
				amount = excluded.amount,
				previous_balance = excluded.previous_balance,
				new_balance = excluded.new_balance,
				payment_method = excluded.payment_method,
				notes = excluded.notes,
				updated_at = excluded.updated_at
			WHERE payment_history.updated_at <= excluded.updated_at
		`, p.ID, p.SaleID, p.CustomerPhone, p.Amount, p.PreviousBalance, p.NewBalance,
			p.PaymentMethod, p.Notes, p.CreatedAt.UTC(), p.UpdatedAt.UTC()); err != nil {
			return err
		}
	}
	for _, ret := range cs.Returns {
		var saleID any
		if ret.SaleID != nil {
			saleID = *ret.SaleID
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO returns (id, sale_id, customer_name, refund_amount, full_bill, return_date, notes, created_at, updated_at)
			VALUES (?,?,?,?,?,?,?,?,?)
			ON CONFLICT (id) DO UPDATE SET
				refund_amount = excluded.refund_amount,
				full_bill = excluded.full_bill,
				return_date = excluded.return_date,
				notes = excluded.notes,
				updated_at = excluded.updated_at
			WHERE returns.updated_at <= excluded.updated_at
		`, ret.ID, saleID, ret.CustomerName, ret.RefundAmount, ret.FullBill,
			ret.ReturnDate, ret.Notes, ret.CreatedAt.UTC(), ret.UpdatedAt.UTC()); err != nil {
			return err
		}
	}
	for _, ri := range cs.ReturnItems {
		var saleItemID any
		if ri.SaleItemID != nil {
			saleItemID = *ri.SaleItemID
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO return_items (id, return_id, sale_item_id, color_id, quantity, rate, stock_restored, created_at)
			VALUES (?,?,?,?,?,?,?,?)
			ON CONFLICT (id) DO NOTHING
		`, ri.ID, ri.ReturnID, saleItemID, ri.ColorID, ri.Quantity, ri.Rate,
			ri.StockRestored, ri.CreatedAt.UTC()); err != nil {
			return err
		}
	}

	return tx.Commit()
}

var _ store.Repository = (*Store)(nil)
