package remote

import (
	"context"
	"errors"
	"time"

	"tokoledger/backend/internal/domain"
)

var ErrUnavailable = errors.New("remote ledger unavailable")

// Ledger is the central mirror a terminal syncs against. PullChanges returns
// every row the mirror changed after the given watermark; PushChanges upserts
// the terminal's own changes. Both directions are idempotent, so a retried
// pass after a half-applied failure converges to the same state.
type Ledger interface {
	Ping(ctx context.Context) error
	PullChanges(ctx context.Context, since time.Time) (*domain.ChangeSet, error)
	PushChanges(ctx context.Context, cs *domain.ChangeSet) error
	Close() error
}
