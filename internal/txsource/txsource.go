// Package txsource provides implementations of offer.TxSource, the
// narrow boundary FeeBinding uses to fetch fee transactions and their
// confirmation depth. The real implementation (chain index, mempool)
// lives outside this module; this package carries an in-memory test
// double used across the sync/offer-manager test suites.
package txsource

import (
	"context"
	"sync"

	"github.com/offermesh/offerd/internal/offer"
)

// MemorySource is an in-memory offer.TxSource, keyed by transaction id,
// for deterministic tests that need to simulate confirmation depth
// changing over time (e.g. the "unconfirmed promotion" seed scenario).
type MemorySource struct {
	mu  sync.RWMutex
	txs map[[32]byte]*offer.Tx
}

// NewMemorySource constructs an empty in-memory transaction source.
func NewMemorySource() *MemorySource {
	return &MemorySource{txs: make(map[[32]byte]*offer.Tx)}
}

// Transaction implements offer.TxSource.
func (m *MemorySource) Transaction(ctx context.Context, txid [32]byte) (*offer.Tx, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tx, ok := m.txs[txid]
	if !ok {
		return nil, offer.ErrTxMissing
	}
	return tx, nil
}

// Put registers or replaces a transaction, for test setup.
func (m *MemorySource) Put(txid [32]byte, tx *offer.Tx) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.txs[txid] = tx
}

// SetConfirmations updates an already-registered transaction's
// confirmation count, for tests simulating chain growth over time.
func (m *MemorySource) SetConfirmations(txid [32]byte, confirmations int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if tx, ok := m.txs[txid]; ok {
		tx.Confirmations = confirmations
	}
}
