package remote

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"tokoledger/backend/internal/domain"
)

// PostgresLedger mirrors the ledger tables in a central postgres database.
// Schema mirrors the terminal store, with one extra constraint: writes go
// through ON CONFLICT upserts only, so replays from any terminal are safe.
type PostgresLedger struct {
	db *sql.DB
}

func NewPostgresLedger(ctx context.Context, databaseURL string) (*PostgresLedger, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(4)
	db.SetMaxOpenConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &PostgresLedger{db: db}, nil
}

func (l *PostgresLedger) Close() error {
	return l.db.Close()
}

func (l *PostgresLedger) Ping(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := l.db.PingContext(pingCtx); err != nil {
		return ErrUnavailable
	}
	return nil
}

func (l *PostgresLedger) PullChanges(ctx context.Context, since time.Time) (*domain.ChangeSet, error) {
	cs := &domain.ChangeSet{}
	since = since.UTC()

	rows, err := l.db.QueryContext(ctx, `
		SELECT id, name, stock_quantity, rate_override, created_at, updated_at
		FROM colors WHERE updated_at > $1 ORDER BY updated_at
	`, since)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var c domain.Color
		var override sql.NullString
		if err := rows.Scan(&c.ID, &c.Name, &c.StockQuantity, &override, &c.CreatedAt, &c.UpdatedAt); err != nil {
			rows.Close()
			return nil, err
		}
		if override.Valid {
			d, err := decimalFromString(override.String)
			if err != nil {
				rows.Close()
				return nil, err
			}
			c.RateOverride = &d
		}
		c.CreatedAt = c.CreatedAt.UTC()
		c.UpdatedAt = c.UpdatedAt.UTC()
		cs.Colors = append(cs.Colors, c)
	}
	if err := closeRows(rows); err != nil {
		return nil, err
	}

	rows, err = l.db.QueryContext(ctx, `
		SELECT id, color_id, quantity, previous_stock, new_stock, stock_in_date, notes, reference_id, reference_type, created_at, updated_at
		FROM stock_in_history WHERE updated_at > $1 ORDER BY updated_at
	`, since)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var e domain.StockInHistory
		if err := rows.Scan(&e.ID, &e.ColorID, &e.Quantity, &e.PreviousStock, &e.NewStock,
			&e.StockInDate, &e.Notes, &e.ReferenceID, &e.ReferenceType, &e.CreatedAt, &e.UpdatedAt); err != nil {
			rows.Close()
			return nil, err
		}
		e.CreatedAt = e.CreatedAt.UTC()
		e.UpdatedAt = e.UpdatedAt.UTC()
		cs.StockIns = append(cs.StockIns, e)
	}
	if err := closeRows(rows); err != nil {
		return nil, err
	}

	rows, err = l.db.QueryContext(ctx, `
		SELECT id, color_id, quantity, previous_stock, new_stock, movement_type, reference_id, reference_type, stock_out_date, notes, created_at, updated_at
		FROM stock_out_history WHERE updated_at > $1 ORDER BY updated_at
	`, since)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var e domain.StockOutHistory
		if err := rows.Scan(&e.ID, &e.ColorID, &e.Quantity, &e.PreviousStock, &e.NewStock, &e.MovementType,
			&e.ReferenceID, &e.ReferenceType, &e.StockOutDate, &e.Notes, &e.CreatedAt, &e.UpdatedAt); err != nil {
			rows.Close()
			return nil, err
		}
		e.CreatedAt = e.CreatedAt.UTC()
		e.UpdatedAt = e.UpdatedAt.UTC()
		cs.StockOuts = append(cs.StockOuts, e)
	}
	if err := closeRows(rows); err != nil {
		return nil, err
	}

	rows, err = l.db.QueryContext(ctx, `
		SELECT id, offline_id, customer_name, customer_phone, total_amount, amount_paid, payment_status,
		       is_manual_balance, sale_date, due_date, notes, created_at, updated_at
		FROM sales WHERE updated_at > $1 ORDER BY updated_at
	`, since)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var s domain.Sale
		var offlineID, dueDate sql.NullString
		if err := rows.Scan(&s.ID, &offlineID, &s.CustomerName, &s.CustomerPhone, &s.TotalAmount, &s.AmountPaid,
			&s.PaymentStatus, &s.IsManualBalance, &s.SaleDate, &dueDate, &s.Notes, &s.CreatedAt, &s.UpdatedAt); err != nil {
			rows.Close()
			return nil, err
		}
		if offlineID.Valid {
			s.OfflineID = offlineID.String
		}
		if dueDate.Valid {
			due := dueDate.String
			s.DueDate = &due
		}
		s.CreatedAt = s.CreatedAt.UTC()
		s.UpdatedAt = s.UpdatedAt.UTC()
		cs.Sales = append(cs.Sales, s)
	}
	if err := closeRows(rows); err != nil {
		return nil, err
	}

	rows, err = l.db.QueryContext(ctx, `
		SELECT id, sale_id, color_id, quantity, rate, subtotal, quantity_returned, created_at, updated_at
		FROM sale_items WHERE updated_at > $1 ORDER BY updated_at
	`, since)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var item domain.SaleItem
		if err := rows.Scan(&item.ID, &item.SaleID, &item.ColorID, &item.Quantity, &item.Rate,
			&item.Subtotal, &item.QuantityReturned, &item.CreatedAt, &item.UpdatedAt); err != nil {
			rows.Close()
			return nil, err
		}
		item.CreatedAt = item.CreatedAt.UTC()
		item.UpdatedAt = item.UpdatedAt.UTC()
		cs.SaleItems = append(cs.SaleItems, item)
	}
	if err := closeRows(rows); err != nil {
		return nil, err
	}

	rows, err = l.db.QueryContext(ctx, `
		SELECT id, sale_id, customer_phone, amount, previous_balance, new_balance, payment_method, notes, created_at, updated_at
		FROM payment_history WHERE updated_at > $1 ORDER BY updated_at
	`, since)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var p domain.PaymentHistory
		if err := rows.Scan(&p.ID, &p.SaleID, &p.CustomerPhone, &p.Amount, &p.PreviousBalance,
			&p.NewBalance, &p.PaymentMethod, &p.Notes, &p.CreatedAt, &p.UpdatedAt); err != nil {
			rows.Close()
			return nil, err
		}
		p.CreatedAt = p.CreatedAt.UTC()
		p.UpdatedAt = p.UpdatedAt.UTC()
		cs.Payments = append(cs.Payments, p)
	}
	if err := closeRows(rows); err != nil {
		return nil, err
	}

	rows, err = l.db.QueryContext(ctx, `
		SELECT id, sale_id, customer_name, refund_amount, full_bill, return_date, notes, created_at, updated_at
		FROM returns WHERE updated_at > $1 ORDER BY updated_at
	`, since)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var ret domain.Return
		var saleID sql.NullString
		if err := rows.Scan(&ret.ID, &saleID, &ret.CustomerName, &ret.RefundAmount, &ret.FullBill,
			&ret.ReturnDate, &ret.Notes, &ret.CreatedAt, &ret.UpdatedAt); err != nil {
			rows.Close()
			return nil, err
		}
		if saleID.Valid {
			id := saleID.String
			ret.SaleID = &id
		}
		ret.CreatedAt = ret.CreatedAt.UTC()
		ret.UpdatedAt = ret.UpdatedAt.UTC()
		cs.Returns = append(cs.Returns, ret)
	}
	if err := closeRows(rows); err != nil {
		return nil, err
	}

	rows, err = l.db.QueryContext(ctx, `
		SELECT id, return_id, sale_item_id, color_id, quantity, rate, stock_restored, created_at
		FROM return_items WHERE created_at > $1 ORDER BY created_at
	`, since)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var ri domain.ReturnItem
		var saleItemID sql.NullString
		if err := rows.Scan(&ri.ID, &ri.ReturnID, &saleItemID, &ri.ColorID, &ri.Quantity,
			&ri.Rate, &ri.StockRestored, &ri.CreatedAt); err != nil {
			rows.Close()
			return nil, err
		}
		if saleItemID.Valid {
			id := saleItemID.String
			ri.SaleItemID = &id
		}
		ri.CreatedAt = ri.CreatedAt.UTC()
		cs.ReturnItems = append(cs.ReturnItems, ri)
	}
	if err := closeRows(rows); err != nil {
		return nil, err
	}

	return cs, nil
}

func (l *PostgresLedger) PushChanges(ctx context.Context, cs *domain.ChangeSet) error {
	if cs == nil || cs.Empty() {
		return nil
	}

	tx, err := l.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
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
			VALUES ($1,$2,$3,$4,$5,$6)
			ON CONFLICT (id) DO UPDATE SET
				name = excluded.name,
				stock_quantity = excluded.stock_quantity,
				rate_override = excluded.rate_override,
				updated_at = excluded.updated_at
			WHERE colors.updated_at <= excluded.updated_at
		`, c.ID, c.Name, c.StockQuantity, override, c.CreatedAt, c.UpdatedAt); err != nil {
			return err
		}
	}
	for _, e := range cs.StockIns {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO stock_in_history
				(id, color_id, quantity, previous_stock, new_stock, stock_in_date, notes, reference_id, reference_type, created_at, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
			ON CONFLICT (id) DO UPDATE SET
				quantity = excluded.quantity,
				previous_stock = excluded.previous_stock,
				new_stock = excluded.new_stock,
				stock_in_date = excluded.stock_in_date,
				notes = excluded.notes,
				updated_at = excluded.updated_at
		`, e.ID, e.ColorID, e.Quantity, e.PreviousStock, e.NewStock, e.StockInDate,
			e.Notes, e.ReferenceID, e.ReferenceType, e.CreatedAt, e.UpdatedAt); err != nil {
			return err
		}
	}
	for _, e := range cs.StockOuts {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO stock_out_history
				(id, color_id, quantity, previous_stock, new_stock, movement_type, reference_id, reference_type, stock_out_date, notes, created_at, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
			ON CONFLICT (id) DO UPDATE SET
				quantity = excluded.quantity,
				previous_stock = excluded.previous_stock,
				new_stock = excluded.new_stock,
				movement_type = excluded.movement_type,
				stock_out_date = excluded.stock_out_date,
				notes = excluded.notes,
				updated_at = excluded.updated_at
		`, e.ID, e.ColorID, e.Quantity, e.PreviousStock, e.NewStock, e.MovementType,
			e.ReferenceID, e.ReferenceType, e.StockOutDate, e.Notes, e.CreatedAt, e.UpdatedAt); err != nil {
			return err
		}
	}
	for _, s := range cs.Sales {
		var offlineID, due any
		if s.OfflineID != "" {
			offlineID = s.OfflineID
		}
		if s.DueDate != nil {
			due = *s.DueDate
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO sales
				(id, offline_id, customer_name, customer_phone, total_amount, amount_paid, payment_status,
				 is_manual_balance, sale_date, due_date, notes, created_at, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
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
		`, s.ID, offlineID, s.CustomerName, s.CustomerPhone, s.TotalAmount, s.AmountPaid, s.PaymentStatus,
			s.IsManualBalance, s.SaleDate, due, s.Notes, s.CreatedAt, s.UpdatedAt); err != nil {
			return err
		}
	}
	for _, item := range cs.SaleItems {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO sale_items (id, sale_id, color_id, quantity, rate, subtotal, quantity_returned, created_at, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
			ON CONFLICT (id) DO UPDATE SET
				quantity = excluded.quantity,
				rate = excluded.rate,
				subtotal = excluded.subtotal,
				quantity_returned = excluded.quantity_returned,
				updated_at = excluded.updated_at
			WHERE sale_items.updated_at <= excluded.updated_at
		`, item.ID, item.SaleID, item.ColorID, item.Quantity, item.Rate, item.Subtotal,
			item.QuantityReturned, item.CreatedAt, item.UpdatedAt); err != nil {
			return err
		}
	}
	for _, p := range cs.Payments {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO payment_history
				(id, sale_id, customer_phone, amount, previous_balance, new_balance, payment_method, notes, created_at, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
			ON CONFLICT (id) DO UPDATE SET
				amount = excluded.amount,
				previous_balance = excluded.previous_balance,
				new_balance = excluded.new_balance,
				payment_method = excluded.payment_method,
				notes = excluded.notes,
				updated_at = excluded.updated_at
		`, p.ID, p.SaleID, p.CustomerPhone, p.Amount, p.PreviousBalance, p.NewBalance,
			p.PaymentMethod, p.Notes, p.CreatedAt, p.UpdatedAt); err != nil {
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
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
			ON CONFLICT (id) DO UPDATE SET
				refund_amount = excluded.refund_amount,
				full_bill = excluded.full_bill,
				return_date = excluded.return_date,
				notes = excluded.notes,
				updated_at = excluded.updated_at
		`, ret.ID, saleID, ret.CustomerName, ret.RefundAmount, ret.FullBill,
			ret.ReturnDate, ret.Notes, ret.CreatedAt, ret.UpdatedAt); err != nil {
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
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
			ON CONFLICT (id) DO NOTHING
		`, ri.ID, ri.ReturnID, saleItemID, ri.ColorID, ri.Quantity, ri.Rate,
			ri.StockRestored, ri.CreatedAt); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func closeRows(rows *sql.Rows) error {
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	return rows.Close()
}

func decimalFromString(s string) (decimal.Decimal, error) {
	return decimal.NewFromString(s)
}

// EnsureSchema creates the mirror tables when they do not exist yet. New
// deployments run it once at startup; established ones hit no-op DDL.
func (l *PostgresLedger) EnsureSchema(ctx context.Context) error {
	_, err := l.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS colors(
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  stock_quantity INTEGER NOT NULL DEFAULT 0,
  rate_override NUMERIC,
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS stock_in_history(
  id TEXT PRIMARY KEY,
  color_id TEXT NOT NULL,
  quantity INTEGER NOT NULL,
  previous_stock INTEGER NOT NULL,
  new_stock INTEGER NOT NULL,
  stock_in_date TEXT NOT NULL,
  notes TEXT NOT NULL DEFAULT '',
  reference_id TEXT NOT NULL DEFAULT '',
  reference_type TEXT NOT NULL DEFAULT '',
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_remote_stock_in_updated ON stock_in_history(updated_at);

CREATE TABLE IF NOT EXISTS stock_out_history(
  id TEXT PRIMARY KEY,
  color_id TEXT NOT NULL,
  quantity INTEGER NOT NULL,
  previous_stock INTEGER NOT NULL,
  new_stock INTEGER NOT NULL,
  movement_type TEXT NOT NULL DEFAULT '',
  reference_id TEXT NOT NULL DEFAULT '',
  reference_type TEXT NOT NULL DEFAULT '',
  stock_out_date TEXT NOT NULL,
  notes TEXT NOT NULL DEFAULT '',
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_remote_stock_out_updated ON stock_out_history(updated_at);

CREATE TABLE IF NOT EXISTS sales(
  id TEXT PRIMARY KEY,
  offline_id TEXT UNIQUE,
  customer_name TEXT NOT NULL,
  customer_phone TEXT NOT NULL DEFAULT '',
  total_amount NUMERIC NOT NULL,
  amount_paid NUMERIC NOT NULL,
  payment_status TEXT NOT NULL,
  is_manual_balance BOOLEAN NOT NULL DEFAULT FALSE,
  sale_date TEXT NOT NULL,
  due_date TEXT,
  notes TEXT NOT NULL DEFAULT '',
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_remote_sales_updated ON sales(updated_at);

CREATE TABLE IF NOT EXISTS sale_items(
  id TEXT PRIMARY KEY,
  sale_id TEXT NOT NULL,
  color_id TEXT NOT NULL,
  quantity INTEGER NOT NULL,
  rate NUMERIC NOT NULL,
  subtotal NUMERIC NOT NULL,
  quantity_returned INTEGER NOT NULL DEFAULT 0,
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_remote_sale_items_updated ON sale_items(updated_at);

CREATE TABLE IF NOT EXISTS payment_history(
  id TEXT PRIMARY KEY,
  sale_id TEXT NOT NULL,
  customer_phone TEXT NOT NULL DEFAULT '',
  amount NUMERIC NOT NULL,
  previous_balance NUMERIC NOT NULL,
  new_balance NUMERIC NOT NULL,
  payment_method TEXT NOT NULL,
  notes TEXT NOT NULL DEFAULT '',
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_remote_payments_updated ON payment_history(updated_at);

CREATE TABLE IF NOT EXISTS returns(
  id TEXT PRIMARY KEY,
  sale_id TEXT,
  customer_name TEXT NOT NULL DEFAULT '',
  refund_amount NUMERIC NOT NULL,
  full_bill BOOLEAN NOT NULL DEFAULT FALSE,
  return_date TEXT NOT NULL,
  notes TEXT NOT NULL DEFAULT '',
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_remote_returns_updated ON returns(updated_at);

CREATE TABLE IF NOT EXISTS return_items(
  id TEXT PRIMARY KEY,
  return_id TEXT NOT NULL,
  sale_item_id TEXT,
  color_id TEXT NOT NULL,
  quantity INTEGER NOT NULL,
  rate NUMERIC NOT NULL,
  stock_restored BOOLEAN NOT NULL DEFAULT FALSE,
  created_at TIMESTAMPTZ NOT NULL
);
`)
	return err
}

var _ Ledger = (*PostgresLedger)(nil)
