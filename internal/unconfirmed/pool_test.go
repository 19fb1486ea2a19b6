package unconfirmed

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/offermesh/offerd/internal/offer"
)

func testRecord(seed byte) *offer.Record {
	return offer.New([]byte{0x02, seed}, offer.Sell, "US", "USD", offer.PaymentMethodCash,
		100, 10, 1_700_000_000, 1_700_086_400, "", "")
}

func TestInsertOrUpdateAndGet(t *testing.T) {
	p := NewPool(time.Hour, "test")
	o := testRecord(1)

	p.InsertOrUpdate(o)
	got, ok := p.Get(o.Hash)
	if !ok || got.Hash != o.Hash {
		t.Fatal("Get did not return the inserted record")
	}
	if p.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", p.Len())
	}
}

func TestInsertOrUpdateRefreshesRatherThanDuplicates(t *testing.T) {
	p := NewPool(time.Hour, "test")
	o := testRecord(2)

	p.InsertOrUpdate(o)
	edited := *o
	edited.ShortInfo = "changed"
	edited.EditingVersion = o.EditingVersion + 1
	p.InsertOrUpdate(&edited)

	if p.Len() != 1 {
		t.Fatalf("Len() = %d, want 1 after re-insert of same hash", p.Len())
	}
	got, _ := p.Get(o.Hash)
	if got.ShortInfo != "changed" {
		t.Fatal("InsertOrUpdate did not refresh the stored record for a higher editing_version")
	}
}

func TestInsertOrUpdateIgnoresStaleOrEqualVersion(t *testing.T) {
	p := NewPool(time.Hour, "test")
	o := testRecord(4)
	o.EditingVersion = 2
	p.InsertOrUpdate(o)

	sameVersion := *o
	sameVersion.ShortInfo = "replayed"
	p.InsertOrUpdate(&sameVersion)

	got, _ := p.Get(o.Hash)
	if got.ShortInfo != "" {
		t.Fatal("re-gossiping the same editing_version replaced the stored record")
	}

	older := *o
	older.EditingVersion = 1
	older.ShortInfo = "stale"
	p.InsertOrUpdate(&older)

	got, _ = p.Get(o.Hash)
	if got.ShortInfo != "" {
		t.Fatal("re-gossiping a lower editing_version replaced the stored record")
	}
}

func TestRemove(t *testing.T) {
	p := NewPool(time.Hour, "test")
	o := testRecord(3)
	p.InsertOrUpdate(o)
	p.Remove(o.Hash)

	if _, ok := p.Get(o.Hash); ok {
		t.Fatal("Get found a record after Remove")
	}
	if p.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", p.Len())
	}
}

func TestAllReturnsOldestFirst(t *testing.T) {
	p := NewPool(time.Hour, "test")
	a := testRecord(10)
	b := testRecord(11)
	p.InsertOrUpdate(a)
	p.InsertOrUpdate(b)

	all := p.All()
	if len(all) != 2 || all[0].Hash != a.Hash || all[1].Hash != b.Hash {
		t.Fatalf("All() did not preserve insertion order: %+v", all)
	}
}

// fakeTxSource answers offer.TxSource lookups for a fixed set of txids,
// building a transaction whose OP_RETURN commitment legitimately anchors
// whatever offer hash was registered for that txid.
type fakeTxSource struct {
	txs map[[32]byte]*offer.Tx
}

func newFakeTxSource() *fakeTxSource {
	return &fakeTxSource{txs: make(map[[32]byte]*offer.Tx)}
}

// confirm registers a fee transaction that legitimately clears o's binding.
func (f *fakeTxSource) confirm(txid [32]byte, o *offer.Record) {
	script, err := offer.BuildCommitmentScript(o.Hash)
	if err != nil {
		panic(err)
	}
	coef := uint64(offer.FeeCoefficient(o.TimeCreate, o.TimeExpiration))
	f.txs[txid] = &offer.Tx{
		Outputs: []offer.TxOut{{Value: offer.PayofferReturnFee, Script: script}},
		Inputs: []offer.TxIn{{PrevOut: offer.TxOut{
			Value: offer.PayofferReturnFee + offer.PayofferTxFee*coef,
		}}},
		Confirmations: offer.PayofferMinTxHeight,
	}
}

func (f *fakeTxSource) Transaction(ctx context.Context, txid [32]byte) (*offer.Tx, error) {
	tx, ok := f.txs[txid]
	if !ok {
		return nil, errors.New("fakeTxSource: transaction not found")
	}
	return tx, nil
}

func TestReevaluatePromotesConfirmedAndEvictsStale(t *testing.T) {
	p := NewPool(50*time.Millisecond, "test")

	confirmed := testRecord(20)
	confirmed.IDTransaction = [32]byte{0x01}
	stale := testRecord(21)
	stale.IDTransaction = [32]byte{0x02}

	p.InsertOrUpdate(confirmed)
	p.InsertOrUpdate(stale)

	src := newFakeTxSource()
	src.confirm(confirmed.IDTransaction, confirmed)
	binding := offer.NewFeeBinding(src)

	var promoted []*offer.Record
	promote := func(ctx context.Context, o *offer.Record) error {
		promoted = append(promoted, o)
		return nil
	}

	p.reevaluate(context.Background(), binding, promote)
	if len(promoted) != 1 || promoted[0].Hash != confirmed.Hash {
		t.Fatalf("reevaluate promoted %+v, want exactly the confirmed record", promoted)
	}
	if _, ok := p.Get(confirmed.Hash); ok {
		t.Fatal("promoted record should be removed from the pool")
	}
	if _, ok := p.Get(stale.Hash); !ok {
		t.Fatal("stale record removed before its TTL elapsed")
	}

	time.Sleep(60 * time.Millisecond)
	p.reevaluate(context.Background(), binding, promote)
	if _, ok := p.Get(stale.Hash); ok {
		t.Fatal("stale record was not evicted after exceeding its TTL")
	}
}

func TestBoundPoolReevaluate(t *testing.T) {
	pool := NewPool(time.Hour, "test")
	o := testRecord(30)
	o.IDTransaction = [32]byte{0x03}
	pool.InsertOrUpdate(o)

	src := newFakeTxSource()
	src.confirm(o.IDTransaction, o)

	var promotedCount int
	bound := &BoundPool{
		Pool:    pool,
		Binding: offer.NewFeeBinding(src),
		Promote: func(ctx context.Context, o *offer.Record) error {
			promotedCount++
			return nil
		},
	}

	bound.Reevaluate(context.Background())
	if promotedCount != 1 {
		t.Fatalf("promotedCount = %d, want 1", promotedCount)
	}
	if _, ok := pool.Get(o.Hash); ok {
		t.Fatal("promoted record should have been removed from the underlying pool")
	}
}
