package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"tokoledger/backend/internal/domain"
)

var (
	ErrNotFound              = errors.New("not found")
	ErrInvalidInput          = errors.New("invalid input")
	ErrInsufficientStock     = errors.New("insufficient stock")
	ErrPaymentExceedsBalance = errors.New("payment exceeds outstanding balance")
	ErrReturnExceedsQuantity = errors.New("return exceeds sold quantity")
	ErrDuplicateOfflineID    = errors.New("offline id already used")
	ErrInvalidJobState       = errors.New("invalid sync job state")
	ErrJobAlreadyRunning     = errors.New("a sync job is already running for this connection")
)

// Repository is the single persistence boundary for the ledger. Every
// mutating method that touches more than one row executes as one atomic
// unit inside the implementation; readers never observe torn state.
type Repository interface {
	// Inventory units.
	CreateColor(ctx context.Context, c domain.Color) (*domain.Color, error)
	GetColor(ctx context.Context, id string) (*domain.Color, error)
	ListColors(ctx context.Context) ([]domain.Color, error)
	SetColorStock(ctx context.Context, colorID string, quantity int) error

	// Stock ledger. StockIn commits the quantity update even when the
	// history append fails; the returned entry is nil in that case.
	StockIn(ctx context.Context, entry domain.StockInHistory) (*domain.Color, *domain.StockInHistory, error)
	RecordStockOut(ctx context.Context, entry domain.StockOutHistory) (*domain.Color, *domain.StockOutHistory, error)
	UpdateStockInEntry(ctx context.Context, id string, quantity int, notes *string, date *string) (*domain.StockInHistory, error)
	DeleteStockInEntry(ctx context.Context, id string) error
	GetStockInEntry(ctx context.Context, id string) (*domain.StockInHistory, error)
	ListStockInHistory(ctx context.Context, colorID string, limit int) ([]domain.StockInHistory, error)
	ListStockOutHistory(ctx context.Context, colorID string, limit int) ([]domain.StockOutHistory, error)
	SumStockMovements(ctx context.Context, colorID string) (in int, out int, err error)

	// Sale ledger. CreateSale atomically creates the sale, its items, the
	// per-item stock decrements and the stock-out history rows.
	CreateSale(ctx context.Context, sale domain.Sale, items []domain.SaleItem) (*domain.Sale, error)
	GetSale(ctx context.Context, id string) (*domain.Sale, error)
	FindSaleByOfflineID(ctx context.Context, offlineID string) (*domain.Sale, error)
	GetSaleItems(ctx context.Context, saleID string) ([]domain.SaleItem, error)
	ListOutstandingSales(ctx context.Context, customerPhone string, limit int) ([]domain.Sale, error)
	DeleteSale(ctx context.Context, id string) error
	UpdateSaleItem(ctx context.Context, itemID string, quantity int, rate decimal.Decimal) (*domain.Sale, error)
	DeleteSaleItem(ctx context.Context, itemID string) (*domain.Sale, error)

	// Payment ledger. ApplyPayment evaluates the outstanding balance and
	// updates AmountPaid inside the same transaction; the history append
	// afterwards is best-effort (nil entry on audit failure).
	ApplyPayment(ctx context.Context, saleID string, amount decimal.Decimal, method string, notes string) (*domain.Sale, *domain.PaymentHistory, error)
	UpdatePaymentEntry(ctx context.Context, id string, amount decimal.Decimal, method string, notes string) (*domain.Sale, error)
	DeletePaymentEntry(ctx context.Context, id string) (*domain.Sale, error)
	ListPayments(ctx context.Context, saleID string, limit int) ([]domain.PaymentHistory, error)

	// Returns. ApplyReturn atomically bumps QuantityReturned, restores
	// stock for stock-restored items and forces full_return when asked.
	ApplyReturn(ctx context.Context, ret domain.Return, items []domain.ReturnItem) (*domain.Return, error)
	GetReturn(ctx context.Context, id string) (*domain.Return, error)
	GetReturnItems(ctx context.Context, returnID string) ([]domain.ReturnItem, error)

	// Offline queue.
	EnqueuePendingSale(ctx context.Context, p domain.PendingSale) (*domain.PendingSale, error)
	GetPendingSale(ctx context.Context, offlineID string) (*domain.PendingSale, error)
	ListPendingSales(ctx context.Context, status string, limit int) ([]domain.PendingSale, error)
	MarkPendingSynced(ctx context.Context, offlineID string, saleID string) error
	RecordPendingFailure(ctx context.Context, offlineID string, lastError string, terminal bool) error
	DeletePendingSale(ctx context.Context, offlineID string) error

	// Terminal-local UI state.
	SaveTerminalState(ctx context.Context, st domain.TerminalState) error
	LoadTerminalState(ctx context.Context, terminalID string) (*domain.TerminalState, error)

	// Sync job queue and watermark.
	CreateSyncJob(ctx context.Context, job domain.SyncJob) (*domain.SyncJob, error)
	GetSyncJob(ctx context.Context, id string) (*domain.SyncJob, error)
	ListSyncJobs(ctx context.Context, status string, limit int) ([]domain.SyncJob, error)
	StartSyncJob(ctx context.Context, id string) (*domain.SyncJob, error)
	FinishSyncJob(ctx context.Context, id string, succeeded bool, lastError string) (*domain.SyncJob, error)
	CancelSyncJob(ctx context.Context, id string) (*domain.SyncJob, error)
	RetrySyncJob(ctx context.Context, id string, maxAttempts int) (*domain.SyncJob, error)
	CleanupOldSyncJobs(ctx context.Context, olderThan time.Time) (int, error)
	GetSyncWatermark(ctx context.Context, connectionID string) (time.Time, error)
	SetSyncWatermark(ctx context.Context, connectionID string, at time.Time) error

	// Delta sync support.
	CollectChangesSince(ctx context.Context, since time.Time) (*domain.ChangeSet, error)
	ApplyChangeSet(ctx context.Context, cs *domain.ChangeSet) error
}
