package domain

import "github.com/shopspring/decimal"

type StockInRequest struct {
	ColorID  string `json:"color_id"`
	Quantity int    `json:"quantity"`
	Notes    string `json:"notes,omitempty"`
	Date     string `json:"date,omitempty"`
}

type StockInUpdateRequest struct {
	Quantity int     `json:"quantity"`
	Notes    *string `json:"notes,omitempty"`
	Date     *string `json:"date,omitempty"`
}

type SaleItemRequest struct {
	ColorID  string          `json:"color_id"`
	Quantity int             `json:"quantity"`
	Rate     decimal.Decimal `json:"rate"`
}

type SaleCreateRequest struct {
	OfflineID       string            `json:"offline_id,omitempty"`
	CustomerName    string            `json:"customer_name"`
	CustomerPhone   string            `json:"customer_phone,omitempty"`
	AmountPaid      decimal.Decimal   `json:"amount_paid"`
	TotalAmount     decimal.Decimal   `json:"total_amount"` // only read for manual balances
	IsManualBalance bool              `json:"is_manual_balance,omitempty"`
	SaleDate        string            `json:"sale_date,omitempty"`
	DueDate         *string           `json:"due_date,omitempty"`
	Notes           string            `json:"notes,omitempty"`
	Items           []SaleItemRequest `json:"items,omitempty"`
}

type PaymentRequest struct {
	SaleID        string          `json:"sale_id"`
	Amount        decimal.Decimal `json:"amount"`
	PaymentMethod string          `json:"payment_method"`
	Notes         string          `json:"notes,omitempty"`
}

type PaymentUpdateRequest struct {
	Amount        decimal.Decimal `json:"amount"`
	PaymentMethod string          `json:"payment_method,omitempty"`
	Notes         string          `json:"notes,omitempty"`
}

type SaleItemUpdateRequest struct {
	Quantity int             `json:"quantity"`
	Rate     decimal.Decimal `json:"rate"`
}

type ReturnItemRequest struct {
	SaleItemID    *string         `json:"sale_item_id,omitempty"`
	ColorID       string          `json:"color_id"`
	Quantity      int             `json:"quantity"`
	Rate          decimal.Decimal `json:"rate"`
	StockRestored bool            `json:"stock_restored"`
}

type ReturnRequest struct {
	SaleID       *string             `json:"sale_id,omitempty"`
	CustomerName string              `json:"customer_name,omitempty"`
	FullBill     bool                `json:"full_bill,omitempty"`
	ReturnDate   string              `json:"return_date,omitempty"`
	Notes        string              `json:"notes,omitempty"`
	Items        []ReturnItemRequest `json:"items"`
}

type SyncPendingResult struct {
	OfflineID string `json:"offline_id"`
	Status    string `json:"status"` // synced | pending | failed | duplicate
	SaleID    string `json:"sale_id,omitempty"`
	Error     string `json:"error,omitempty"`
}
