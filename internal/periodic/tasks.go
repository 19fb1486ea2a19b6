// Package periodic runs the daemon's four background tickers: sync
// kickoff, unconfirmed-pool rescan, expiration sweep, and old-record
// GC. Each worker is an independent ctx-cancellable goroutine sharing
// the teacher's retry-worker dual-ticker shape.
package periodic

import (
	"context"
	"time"

	"github.com/offermesh/offerd/pkg/logging"
)

// worker is the common ticker-loop shape every periodic task shares.
type worker struct {
	name     string
	interval time.Duration
	fn       func(ctx context.Context)

	ctx    context.Context
	cancel context.CancelFunc
	log    *logging.Logger
}

func newWorker(name string, interval time.Duration, fn func(ctx context.Context)) *worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &worker{
		name:     name,
		interval: interval,
		fn:       fn,
		ctx:      ctx,
		cancel:   cancel,
		log:      logging.GetDefault().Component(name),
	}
}

func (w *worker) start() {
	go w.run()
	w.log.Info("periodic worker started", "interval", w.interval)
}

func (w *worker) stop() {
	w.cancel()
}

func (w *worker) run() {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			w.fn(w.ctx)
		}
	}
}

// SyncStarter kicks off (or no-ops on) a sync round.
type SyncStarter interface {
	Start(ctx context.Context) error
}

// Rescanner re-checks unconfirmed offers' fee transactions.
type Rescanner interface {
	Reevaluate(ctx context.Context)
}

// Sweeper handles expiration/GC bookkeeping.
type Sweeper interface {
	SweepExpired(now int64) (int64, error)
	SetExpiredMyOffers(now int64) (int64, error)
}

// Tasks owns the four periodic workers for one daemon instance.
type Tasks struct {
	workers []*worker
}

// Config bundles the collaborators and intervals Tasks needs.
type Config struct {
	Sync                SyncStarter
	NewOffers           Rescanner
	BroadcastEdits      Rescanner
	Catalog             Sweeper
	GC                  func(ctx context.Context, retention time.Duration)

	KickoffInterval     time.Duration
	UnconfirmedInterval time.Duration
	ExpirationInterval  time.Duration
	GCInterval          time.Duration
	GCRetention         time.Duration
}

// New constructs (but does not start) the four periodic workers.
func New(cfg Config) *Tasks {
	t := &Tasks{}

	t.workers = append(t.workers, newWorker("sync-kickoff", cfg.KickoffInterval, func(ctx context.Context) {
		if err := cfg.Sync.Start(ctx); err != nil {
			logging.GetDefault().Component("sync-kickoff").Debug("start failed", "err", err)
		}
	}))

	t.workers = append(t.workers, newWorker("unconfirmed-rescan", cfg.UnconfirmedInterval, func(ctx context.Context) {
		if cfg.NewOffers != nil {
			cfg.NewOffers.Reevaluate(ctx)
		}
		if cfg.BroadcastEdits != nil {
			cfg.BroadcastEdits.Reevaluate(ctx)
		}
	}))

	t.workers = append(t.workers, newWorker("expiration-sweep", cfg.ExpirationInterval, func(ctx context.Context) {
		now := time.Now().Unix()
		if _, err := cfg.Catalog.SweepExpired(now); err != nil {
			logging.GetDefault().Component("expiration-sweep").Warn("sweep failed", "err", err)
		}
		if _, err := cfg.Catalog.SetExpiredMyOffers(now); err != nil {
			logging.GetDefault().Component("expiration-sweep").Warn("expire my_offers failed", "err", err)
		}
	}))

	if cfg.GC != nil {
		t.workers = append(t.workers, newWorker("record-gc", cfg.GCInterval, func(ctx context.Context) {
			cfg.GC(ctx, cfg.GCRetention)
		}))
	}

	return t
}

// Start launches every worker.
func (t *Tasks) Start() {
	for _, w := range t.workers {
		w.start()
	}
}

// Stop cancels every worker.
func (t *Tasks) Stop() {
	for _, w := range t.workers {
		w.stop()
	}
}
