package syncer

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"tokoledger/backend/internal/domain"
	"tokoledger/backend/internal/remote"
	"tokoledger/backend/internal/store"
)

// PendingReplayer replays the offline sale queue. Satisfied by the service
// layer; queued sales are replayed at the start of a pass so the pass exports
// them.
type PendingReplayer interface {
	SyncPending(ctx context.Context) ([]domain.SyncPendingResult, error)
}

type Config struct {
	// ConnectionID names the remote this terminal syncs against. One
	// watermark and one running-job slot exist per connection.
	ConnectionID string
	// Debounce delays a change-triggered pass so a burst of writes syncs
	// once.
	Debounce time.Duration
	// Interval is the periodic fallback pass when no change fires.
	Interval time.Duration
	// Timeout bounds one whole pass.
	Timeout time.Duration
	// MaxJobAttempts caps manual retries of a failed job.
	MaxJobAttempts int
	// JobRetention is how long finished jobs stay queryable.
	JobRetention time.Duration
}

func (c *Config) applyDefaults() {
	if c.ConnectionID == "" {
		c.ConnectionID = "central"
	}
	if c.Debounce <= 0 {
		c.Debounce = 3 * time.Second
	}
	if c.Interval <= 0 {
		c.Interval = 5 * time.Minute
	}
	if c.Timeout <= 0 {
		c.Timeout = 2 * time.Minute
	}
	if c.MaxJobAttempts <= 0 {
		c.MaxJobAttempts = 5
	}
	if c.JobRetention <= 0 {
		c.JobRetention = 7 * 24 * time.Hour
	}
}

// Engine runs watermark-based delta sync passes against the remote ledger.
// A pass imports remote changes first, then exports local ones, and advances
// the watermark only when both directions succeed, so a broken pass re-syncs
// the same window and converges through upserts.
type Engine struct {
	repo   store.Repository
	remote remote.Ledger
	replay PendingReplayer
	log    *logrus.Logger
	cfg    Config

	now    func() time.Time
	notify chan struct{}

	mu      sync.Mutex
	running bool
}

func New(repo store.Repository, rem remote.Ledger, replay PendingReplayer, log *logrus.Logger, cfg Config) *Engine {
	cfg.applyDefaults()
	if log == nil {
		log = logrus.New()
	}

	return &Engine{
		repo:   repo,
		remote: rem,
		replay: replay,
		log:    log,
		cfg:    cfg,
		now:    time.Now,
		notify: make(chan struct{}, 1),
	}
}

// NotifyChange signals that a local write happened. Never blocks; repeated
// signals before the debounce expires collapse into one pass.
func (e *Engine) NotifyChange() {
	select {
	case e.notify <- struct{}{}:
	default:
	}
}

// Start runs the engine loop until ctx is cancelled: debounced
// change-triggered passes, a periodic fallback pass, and job cleanup.
func (e *Engine) Start(ctx context.Context) {
	interval := time.NewTicker(e.cfg.Interval)
	defer interval.Stop()
	cleanup := time.NewTicker(e.cfg.JobRetention / 4)
	defer cleanup.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.notify:
			if !e.debounceWait(ctx) {
				return
			}
			e.runPass(ctx)
		case <-interval.C:
			e.runPass(ctx)
		case <-cleanup.C:
			if _, err := e.CleanupOldJobs(ctx); err != nil {
				e.log.WithError(err).Warn("sync job cleanup failed")
			}
		}
	}
}

// debounceWait sleeps out the debounce window, swallowing further change
// signals. Returns false when ctx ends first.
func (e *Engine) debounceWait(ctx context.Context) bool {
	timer := time.NewTimer(e.cfg.Debounce)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return false
		case <-e.notify:
		case <-timer.C:
			return true
		}
	}
}

func (e *Engine) runPass(ctx context.Context) {
	if err := e.TriggerSync(ctx); err != nil {
		e.log.WithError(err).Warn("sync pass failed")
	}
}

// TriggerSync runs one full pass now. A pass already in flight makes this a
// no-op: the running pass will export whatever the caller just wrote.
func (e *Engine) TriggerSync(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return nil
	}
	e.running = true
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	if err := e.remote.Ping(ctx); err != nil {
		e.log.WithError(err).Debug("remote unreachable, pass skipped")
		return nil
	}

	// Replay the offline queue first so this pass exports those sales.
	if e.replay != nil {
		if _, err := e.replay.SyncPending(ctx); err != nil {
			e.log.WithError(err).Warn("offline queue replay failed")
		}
	}

	passStart := e.now().UTC()
	watermark, err := e.repo.GetSyncWatermark(ctx, e.cfg.ConnectionID)
	if err != nil {
		return err
	}

	if err := e.runJob(ctx, domain.JobTypeImport, func(ctx context.Context) error {
		cs, err := e.remote.PullChanges(ctx, watermark)
		if err != nil {
			return err
		}
		return e.repo.ApplyChangeSet(ctx, cs)
	}); err != nil {
		return err
	}

	if err := e.runJob(ctx, domain.JobTypeExport, func(ctx context.Context) error {
		cs, err := e.repo.CollectChangesSince(ctx, watermark)
		if err != nil {
			return err
		}
		return e.remote.PushChanges(ctx, cs)
	}); err != nil {
		return err
	}

	// Both directions landed; the next pass starts from here.
	if err := e.repo.SetSyncWatermark(ctx, e.cfg.ConnectionID, passStart); err != nil {
		return err
	}

	e.log.WithFields(logrus.Fields{
		"connection_id": e.cfg.ConnectionID,
		"watermark":     passStart.Format(time.RFC3339),
	}).Info("sync pass complete")
	return nil
}

// runJob wraps one sync direction in a queue job so its outcome is durable
// and queryable.
func (e *Engine) runJob(ctx context.Context, jobType string, fn func(ctx context.Context) error) error {
	job, err := e.repo.CreateSyncJob(ctx, domain.SyncJob{
		JobType:      jobType,
		ConnectionID: e.cfg.ConnectionID,
	})
	if err != nil {
		return err
	}
	if _, err := e.repo.StartSyncJob(ctx, job.ID); err != nil {
		return err
	}

	runErr := fn(ctx)
	lastError := ""
	if runErr != nil {
		lastError = runErr.Error()
	}
	if _, err := e.repo.FinishSyncJob(ctx, job.ID, runErr == nil, lastError); err != nil {
		e.log.WithError(err).WithField("job_id", job.ID).Error("sync job finish not recorded")
	}
	return runErr
}
