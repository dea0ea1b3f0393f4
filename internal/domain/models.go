package domain

import (
	"regexp"
	"time"

	"github.com/shopspring/decimal"
)

// Color is the inventory unit of the catalog (Product -> Variant -> Color).
// StockQuantity is a materialized value: it must always be re-derivable as
// the sum of stock-in quantities minus the sum of stock-out quantities
// recorded in the ledger.
type Color struct {
	ID            string           `json:"id"`
	Name          string           `json:"name"`
	StockQuantity int              `json:"stock_quantity"`
	RateOverride  *decimal.Decimal `json:"rate_override,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

type StockInHistory struct {
	ID            string    `json:"id"`
	ColorID       string    `json:"color_id"`
	Quantity      int       `json:"quantity"`
	PreviousStock int       `json:"previous_stock"`
	NewStock      int       `json:"new_stock"`
	StockInDate   string    `json:"stock_in_date"`
	Notes         string    `json:"notes,omitempty"`
	ReferenceID   string    `json:"reference_id,omitempty"`
	ReferenceType string    `json:"reference_type,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type StockOutHistory struct {
	ID            string    `json:"id"`
	ColorID       string    `json:"color_id"`
	Quantity      int       `json:"quantity"`
	PreviousStock int       `json:"previous_stock"`
	NewStock      int       `json:"new_stock"`
	MovementType  string    `json:"movement_type"`
	ReferenceID   string    `json:"reference_id,omitempty"`
	ReferenceType string    `json:"reference_type,omitempty"`
	StockOutDate  string    `json:"stock_out_date"`
	Notes         string    `json:"notes,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

const (
	MovementTypeSale       = "sale"
	MovementTypeReturn     = "return"
	MovementTypeAdjustment = "adjustment"
	MovementTypeDamage     = "damage"
)

const (
	ReferenceTypeSale   = "sale"
	ReferenceTypeReturn = "return"
)

// StockMovement is a merged read-only view row over both history tables.
type StockMovement struct {
	Direction     string    `json:"direction"` // in | out
	ID            string    `json:"id"`
	ColorID       string    `json:"color_id"`
	Quantity      int       `json:"quantity"`
	PreviousStock int       `json:"previous_stock"`
	NewStock      int       `json:"new_stock"`
	MovementType  string    `json:"movement_type,omitempty"`
	ReferenceID   string    `json:"reference_id,omitempty"`
	Date          string    `json:"date"`
	Notes         string    `json:"notes,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

type Sale struct {
	ID              string          `json:"id"`
	OfflineID       string          `json:"offline_id,omitempty"`
	CustomerName    string          `json:"customer_name"`
	CustomerPhone   string          `json:"customer_phone,omitempty"`
	TotalAmount     decimal.Decimal `json:"total_amount"`
	AmountPaid      decimal.Decimal `json:"amount_paid"`
	PaymentStatus   string          `json:"payment_status"`
	IsManualBalance bool            `json:"is_manual_balance"`
	SaleDate        string          `json:"sale_date"`
	DueDate         *string         `json:"due_date,omitempty"`
	Notes           string          `json:"notes,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

type SaleItem struct {
	ID               string          `json:"id"`
	SaleID           string          `json:"sale_id"`
	ColorID          string          `json:"color_id"`
	Quantity         int             `json:"quantity"`
	Rate             decimal.Decimal `json:"rate"`
	Subtotal         decimal.Decimal `json:"subtotal"`
	QuantityReturned int             `json:"quantity_returned"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// PaymentHistory is an append-only audit ledger. PreviousBalance and
// NewBalance are point-in-time snapshots; the canonical balance lives on
// Sale.AmountPaid and is never recomputed by summing this table.
type PaymentHistory struct {
	ID              string          `json:"id"`
	SaleID          string          `json:"sale_id"`
	CustomerPhone   string          `json:"customer_phone,omitempty"`
	Amount          decimal.Decimal `json:"amount"`
	PreviousBalance decimal.Decimal `json:"previous_balance"`
	NewBalance      decimal.Decimal `json:"new_balance"`
	PaymentMethod   string          `json:"payment_method"`
	Notes           string          `json:"notes,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

type Return struct {
	ID           string          `json:"id"`
	SaleID       *string         `json:"sale_id,omitempty"`
	CustomerName string          `json:"customer_name,omitempty"`
	RefundAmount decimal.Decimal `json:"refund_amount"`
	FullBill     bool            `json:"full_bill"`
	ReturnDate   string          `json:"return_date"`
	Notes        string          `json:"notes,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

type ReturnItem struct {
	ID            string          `json:"id"`
	ReturnID      string          `json:"return_id"`
	SaleItemID    *string         `json:"sale_item_id,omitempty"`
	ColorID       string          `json:"color_id"`
	Quantity      int             `json:"quantity"`
	Rate          decimal.Decimal `json:"rate"`
	StockRestored bool            `json:"stock_restored"`
	CreatedAt     time.Time       `json:"created_at"`
}

const (
	PaymentStatusUnpaid     = "unpaid"
	PaymentStatusPartial    = "partial"
	PaymentStatusPaid       = "paid"
	PaymentStatusFullReturn = "full_return"
)

// DerivePaymentStatus is the single definition of the status function:
// paid iff amountPaid >= totalAmount, partial iff 0 < amountPaid < totalAmount,
// unpaid otherwise. full_return is never derived here; it is forced by a
// whole-bill return and overrides the derived value.
func DerivePaymentStatus(totalAmount, amountPaid decimal.Decimal) string {
	if amountPaid.GreaterThanOrEqual(totalAmount) {
		return PaymentStatusPaid
	}
	if amountPaid.IsPositive() {
		return PaymentStatusPartial
	}
	return PaymentStatusUnpaid
}

// Outstanding returns max(0, totalAmount - amountPaid).
func Outstanding(totalAmount, amountPaid decimal.Decimal) decimal.Decimal {
	out := totalAmount.Sub(amountPaid)
	if out.IsNegative() {
		return decimal.Zero
	}
	return out
}

type PendingSale struct {
	OfflineID    string    `json:"offline_id"`
	Payload      []byte    `json:"payload"`
	Status       string    `json:"status"`
	Attempts     int       `json:"attempts"`
	LastError    string    `json:"last_error,omitempty"`
	SyncedSaleID string    `json:"synced_sale_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

const (
	PendingStatusPending = "pending"
	PendingStatusSynced  = "synced"
	PendingStatusFailed  = "failed"
)

type SyncJob struct {
	ID           string    `json:"id"`
	JobType      string    `json:"job_type"`
	ConnectionID string    `json:"connection_id"`
	Status       string    `json:"status"`
	Attempts     int       `json:"attempts"`
	LastError    string    `json:"last_error,omitempty"`
	Details      string    `json:"details,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

const (
	JobTypeExport = "export"
	JobTypeImport = "import"
)

const (
	JobStatusPending   = "pending"
	JobStatusRunning   = "running"
	JobStatusSuccess   = "success"
	JobStatusFailed    = "failed"
	JobStatusCancelled = "cancelled"
)

// TerminalState is the durable snapshot of an in-progress cart so the
// terminal can resume after a process restart while offline.
type TerminalState struct {
	TerminalID    string    `json:"terminal_id"`
	CustomerName  string    `json:"customer_name,omitempty"`
	CustomerPhone string    `json:"customer_phone,omitempty"`
	CartJSON      []byte    `json:"cart_json,omitempty"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// ChangeSet groups changed-since-watermark rows for every ledger table.
// Slices are ordered by UpdatedAt ascending so upsert application is
// deterministic and last-processed-wins.
type ChangeSet struct {
	Colors      []Color           `json:"colors,omitempty"`
	StockIns    []StockInHistory  `json:"stock_ins,omitempty"`
	StockOuts   []StockOutHistory `json:"stock_outs,omitempty"`
	Sales       []Sale            `json:"sales,omitempty"`
	SaleItems   []SaleItem        `json:"sale_items,omitempty"`
	Payments    []PaymentHistory  `json:"payments,omitempty"`
	Returns     []Return          `json:"returns,omitempty"`
	ReturnItems []ReturnItem      `json:"return_items,omitempty"`
}

func (c *ChangeSet) Size() int {
	if c == nil {
		return 0
	}
	return len(c.Colors) + len(c.StockIns) + len(c.StockOuts) + len(c.Sales) +
		len(c.SaleItems) + len(c.Payments) + len(c.Returns) + len(c.ReturnItems)
}

func (c *ChangeSet) Empty() bool {
	return c.Size() == 0
}

var ledgerDatePattern = regexp.MustCompile(`^\d{2}-\d{2}-\d{4}$`)

// ValidLedgerDate reports whether s is a real calendar date in the fixed
// DD-MM-YYYY format used by every history record.
func ValidLedgerDate(s string) bool {
	if !ledgerDatePattern.MatchString(s) {
		return false
	}
	_, err := time.Parse("02-01-2006", s)
	return err == nil
}

// LedgerDate formats t in the DD-MM-YYYY history format.
func LedgerDate(t time.Time) string {
	return t.Format("02-01-2006")
}
