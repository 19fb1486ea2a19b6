// Package unconfirmed implements the in-memory pool of offers seen over
// gossip or authored locally that have not yet cleared fee-transaction
// verification. Offers are held here, outside CatalogStore, until their
// fee transaction reaches the confirmation floor or they age out.
package unconfirmed

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/offermesh/offerd/internal/offer"
	"github.com/offermesh/offerd/pkg/logging"
)

// DefaultTTL is the soft lifetime an entry is kept before Reevaluate
// evicts it, matching the daily re-verification window the original
// unconfirmed-offer sweep used.
const DefaultTTL = 24 * time.Hour

// entry wraps a pooled offer with its insertion time, so eviction can
// walk the pool in FIFO order without a separate index structure.
type entry struct {
	record   *offer.Record
	insertAt time.Time
}

// Pool is a single-owner, mutex-guarded holding area for offers pending
// fee-transaction confirmation. Two independent Pool instances are
// constructed at the composition root: one for newly observed offers,
// one for broadcast edits, matching the split the original dex manager
// kept between uncOffers and uncBcstOffers.
type Pool struct {
	mu    sync.Mutex
	ttl   time.Duration
	items map[[32]byte]*list.Element // hash -> node in order
	order *list.List                 // doubly-linked list of *entry, oldest first
	log   *logging.Logger
}

// NewPool constructs an empty pool with the given TTL and log component
// name (e.g. "unconfirmed-new", "unconfirmed-edits").
func NewPool(ttl time.Duration, component string) *Pool {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Pool{
		ttl:   ttl,
		items: make(map[[32]byte]*list.Element),
		order: list.New(),
		log:   logging.GetDefault().Component(component),
	}
}

// InsertOrUpdate adds o to the pool. If hash is already pooled, o replaces
// the stored record (and its insertion time is refreshed) only when o's
// EditingVersion is strictly greater than the one already held; an equal or
// lower version is ignored outright, so re-gossiping a stale version cannot
// revive an entry or keep it alive past its TTL purely through churn.
func (p *Pool) InsertOrUpdate(o *offer.Record) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if el, ok := p.items[o.Hash]; ok {
		if o.EditingVersion <= el.Value.(*entry).record.EditingVersion {
			return
		}
		p.order.Remove(el)
	}
	el := p.order.PushBack(&entry{record: o, insertAt: time.Now()})
	p.items[o.Hash] = el
}

// Remove drops hash from the pool, if present.
func (p *Pool) Remove(hash [32]byte) {
	p.mu.Lock()
	defer p.mu.Unlock()

	el, ok := p.items[hash]
	if !ok {
		return
	}
	p.order.Remove(el)
	delete(p.items, hash)
}

// Get returns the pooled record for hash, if present.
func (p *Pool) Get(hash [32]byte) (*offer.Record, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	el, ok := p.items[hash]
	if !ok {
		return nil, false
	}
	return el.Value.(*entry).record, true
}

// All returns a snapshot of every pooled record, oldest first.
func (p *Pool) All() []*offer.Record {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]*offer.Record, 0, p.order.Len())
	for el := p.order.Front(); el != nil; el = el.Next() {
		out = append(out, el.Value.(*entry).record)
	}
	return out
}

// Len reports the number of pooled entries.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.order.Len()
}

// Promote is called by Reevaluate when a pooled offer's fee transaction
// has cleared; it should move the offer into CatalogStore and return an
// error only if that move failed (in which case the offer stays pooled).
type Promote func(ctx context.Context, o *offer.Record) error

// reevaluate walks the pool oldest-first, checking each entry's fee
// transaction via binding. Entries whose transaction has cleared are
// handed to promote and removed on success; entries older than the
// pool's TTL whose fee transaction does not verify (missing or not yet
// confirmed) are evicted outright; everything else is left in place for
// the next pass.
func (p *Pool) reevaluate(ctx context.Context, binding *offer.FeeBinding, promote Promote) {
	now := time.Now()

	p.mu.Lock()
	var toCheck []*entry
	for el := p.order.Front(); el != nil; el = el.Next() {
		toCheck = append(toCheck, el.Value.(*entry))
	}
	p.mu.Unlock()

	for _, e := range toCheck {
		if err := binding.Verify(ctx, e.record); err != nil {
			if now.Sub(e.insertAt) >= p.ttl {
				p.log.Debug("evicting stale unconfirmed offer", "hash", e.record.Hash, "reason", err)
				p.Remove(e.record.Hash)
			}
			continue
		}

		if err := promote(ctx, e.record); err != nil {
			p.log.Warn("failed to promote confirmed offer out of pool", "hash", e.record.Hash, "err", err)
			continue
		}
		p.Remove(e.record.Hash)
	}
}

// BoundPool wraps a Pool together with the fee-binding check and
// promotion callback it re-evaluates against, so PeriodicTasks can
// drive it through a single no-argument Reevaluate(ctx) method.
type BoundPool struct {
	Pool    *Pool
	Binding *offer.FeeBinding
	Promote Promote
}

// Reevaluate implements periodic.Rescanner.
func (b *BoundPool) Reevaluate(ctx context.Context) {
	b.Pool.reevaluate(ctx, b.Binding, b.Promote)
}
