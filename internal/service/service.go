package service

import (
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"tokoledger/backend/internal/cache"
	"tokoledger/backend/internal/store"
)

// Service owns the ledger's business rules. Stores stay mechanical; every
// validation, derivation and cross-module decision lives here.
type Service struct {
	repo           store.Repository
	balances       cache.OutstandingCache
	log            *logrus.Logger
	outstandingTTL time.Duration

	// notifyChange pokes the sync engine after any local write. Nil until
	// the engine is wired in.
	notifyChange func()
}

func New(repo store.Repository, balances cache.OutstandingCache, log *logrus.Logger) *Service {
	if balances == nil {
		balances = cache.NoopOutstandingCache{}
	}
	if log == nil {
		log = logrus.New()
	}

	return &Service{
		repo:           repo,
		balances:       balances,
		log:            log,
		outstandingTTL: 30 * time.Second,
	}
}

// SetChangeNotifier registers the callback invoked after every successful
// local mutation.
func (s *Service) SetChangeNotifier(fn func()) {
	s.notifyChange = fn
}

func (s *Service) changed() {
	if s.notifyChange != nil {
		s.notifyChange()
	}
}

// terminalError reports whether an error can never succeed on retry. Used by
// the offline queue to decide between leaving an entry pending and failing it
// for good.
func terminalError(err error) bool {
	return errors.Is(err, store.ErrInvalidInput) ||
		errors.Is(err, store.ErrInsufficientStock) ||
		errors.Is(err, store.ErrPaymentExceedsBalance) ||
		errors.Is(err, store.ErrReturnExceedsQuantity) ||
		errors.Is(err, store.ErrNotFound)
}
