package offermanager

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/offermesh/offerd/internal/catalog"
	"github.com/offermesh/offerd/internal/keysource"
	"github.com/offermesh/offerd/internal/offer"
	"github.com/offermesh/offerd/internal/syncproto"
)

func newTestCatalog(t *testing.T) *catalog.Store {
	t.Helper()
	dir, err := os.MkdirTemp("", "offermanager-catalog-*")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	s, err := catalog.New(&catalog.Config{DataDir: dir})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// confirmingTxSource answers exactly the registered txid/offer pairs
// with a transaction whose commitment legitimately anchors that offer.
type confirmingTxSource struct {
	txs map[[32]byte]*offer.Tx
}

func newConfirmingTxSource() *confirmingTxSource {
	return &confirmingTxSource{txs: make(map[[32]byte]*offer.Tx)}
}

func (c *confirmingTxSource) confirm(txid [32]byte, o *offer.Record) {
	script, err := offer.BuildCommitmentScript(o.Hash)
	if err != nil {
		panic(err)
	}
	coef := uint64(offer.FeeCoefficient(o.TimeCreate, o.TimeExpiration))
	c.txs[txid] = &offer.Tx{
		Outputs: []offer.TxOut{{Value: offer.PayofferReturnFee, Script: script}},
		Inputs: []offer.TxIn{{PrevOut: offer.TxOut{
			Value: offer.PayofferReturnFee + offer.PayofferTxFee*coef,
		}}},
		Confirmations: offer.PayofferMinTxHeight,
	}
}

func (c *confirmingTxSource) Transaction(ctx context.Context, txid [32]byte) (*offer.Tx, error) {
	tx, ok := c.txs[txid]
	if !ok {
		return nil, errors.New("confirmingTxSource: transaction not found")
	}
	return tx, nil
}

type fakeBroadcastTransport struct {
	sentCount int
	err       error
	messages  []interface{}
}

func (f *fakeBroadcastTransport) Broadcast(ctx context.Context, tag syncproto.Tag, payload interface{}) (int, error) {
	f.messages = append(f.messages, payload)
	return f.sentCount, f.err
}

type fakeFeeTxBuilder struct {
	txid [32]byte
	err  error
}

func (f *fakeFeeTxBuilder) BuildAndSubmit(ctx context.Context, o *offer.Record) ([32]byte, error) {
	return f.txid, f.err
}

func newTestManager(t *testing.T, cat *catalog.Store, src offer.TxSource, keys keysource.KeySource, transport Transport, feeTx FeeTxBuilder) *Manager {
	t.Helper()
	return New(Config{
		Catalog:    cat,
		FeeBinding: offer.NewFeeBinding(src),
		Signer:     offer.NewSigner(),
		Verifier:   offer.NewVerifier(),
		Keys:       keys,
		FeeTx:      feeTx,
		Transport:  transport,
	})
}

func draftInput(pub []byte) DraftInput {
	return DraftInput{
		PubKey:         pub,
		Type:           offer.Sell,
		CountryISO:     "US",
		CurrencyISO:    "USD",
		PaymentMethod:  offer.PaymentMethodCash,
		Price:          1_000_000,
		MinAmount:      10_000,
		TimeCreate:     1_700_000_000,
		TimeExpiration: 1_700_086_400,
		ShortInfo:      "hi",
		Details:        "there",
	}
}

func TestAddOrEditDraftCreatesDraftMyOffer(t *testing.T) {
	cat := newTestCatalog(t)
	keys := keysource.NewDevKeySource()
	pub, err := keys.GenerateKeypair(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	m := newTestManager(t, cat, newConfirmingTxSource(), keys, &fakeBroadcastTransport{sentCount: 5}, &fakeFeeTxBuilder{})
	my, err := m.AddOrEditDraft(draftInput(pub))
	if err != nil {
		t.Fatalf("AddOrEditDraft: %v", err)
	}
	if my.Status != offer.StatusDraft {
		t.Fatalf("Status = %s, want draft", my.Status)
	}

	got, err := cat.GetMyOfferByHash(my.Hash)
	if err != nil {
		t.Fatalf("GetMyOfferByHash: %v", err)
	}
	if got.Status != offer.StatusDraft {
		t.Fatal("draft was not persisted")
	}
}

func TestPrepareAndSendPromotesDraftAndBroadcasts(t *testing.T) {
	cat := newTestCatalog(t)
	keys := keysource.NewDevKeySource()
	pub, err := keys.GenerateKeypair(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	src := newConfirmingTxSource()
	txid := [32]byte{0x11}
	transport := &fakeBroadcastTransport{sentCount: 3}
	m := newTestManager(t, cat, src, keys, transport, &fakeFeeTxBuilder{txid: txid})

	my, err := m.AddOrEditDraft(draftInput(pub))
	if err != nil {
		t.Fatal(err)
	}
	src.confirm(txid, &my.Record)

	var pooled []*offer.Record
	sink := func(o *offer.Record) { pooled = append(pooled, o) }

	if err := m.PrepareAndSend(context.Background(), my.Hash, sink); err != nil {
		t.Fatalf("PrepareAndSend: %v", err)
	}

	got, err := cat.GetMyOfferByHash(my.Hash)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != offer.StatusUnconfirmed {
		t.Fatalf("Status = %s, want unconfirmed", got.Status)
	}
	if got.IDTransaction != txid {
		t.Fatal("IDTransaction was not recorded on the my_offer row")
	}
	if len(pooled) != 1 {
		t.Fatalf("pooled %d offers, want exactly 1", len(pooled))
	}
	if len(transport.messages) != 1 {
		t.Fatal("expected exactly one NEW_OFFER broadcast")
	}
}

func TestPrepareAndSendRejectsWithoutPrivateKey(t *testing.T) {
	cat := newTestCatalog(t)
	owner := keysource.NewDevKeySource()
	pub, err := owner.GenerateKeypair(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	m := newTestManager(t, cat, newConfirmingTxSource(), keysource.NewDevKeySource(), &fakeBroadcastTransport{}, &fakeFeeTxBuilder{})

	otherManager := newTestManager(t, cat, newConfirmingTxSource(), owner, &fakeBroadcastTransport{}, &fakeFeeTxBuilder{})
	my, err := otherManager.AddOrEditDraft(draftInput(pub))
	if err != nil {
		t.Fatal(err)
	}

	if err := m.PrepareAndSend(context.Background(), my.Hash, nil); err != ErrNoKeySource {
		t.Fatalf("PrepareAndSend = %v, want ErrNoKeySource", err)
	}
}

func TestDeleteDraftRemovesLocallyWithoutBroadcast(t *testing.T) {
	cat := newTestCatalog(t)
	keys := keysource.NewDevKeySource()
	pub, err := keys.GenerateKeypair(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	transport := &fakeBroadcastTransport{}
	m := newTestManager(t, cat, newConfirmingTxSource(), keys, transport, &fakeFeeTxBuilder{})

	my, err := m.AddOrEditDraft(draftInput(pub))
	if err != nil {
		t.Fatal(err)
	}

	if err := m.Delete(context.Background(), my.Hash); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if cat.IsExistMyOfferByHash(my.Hash) {
		t.Fatal("draft should be removed by Delete")
	}
	if len(transport.messages) != 0 {
		t.Fatal("deleting a never-broadcast draft should not broadcast a deletion")
	}
}

func TestDeleteBroadcastOfferRequiresQuorum(t *testing.T) {
	cat := newTestCatalog(t)
	keys := keysource.NewDevKeySource()
	pub, err := keys.GenerateKeypair(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	rec := offer.New(pub, offer.Sell, "US", "USD", offer.PaymentMethodCash,
		100, 10, 1_700_000_000, 1_700_086_400, "", "")
	my := &offer.MyRecord{Record: *rec, Status: offer.StatusActive}
	if err := cat.UpsertMyOffer(my, 0); err != nil {
		t.Fatal(err)
	}

	transport := &fakeBroadcastTransport{sentCount: 0}
	m := newTestManager(t, cat, newConfirmingTxSource(), keys, transport, &fakeFeeTxBuilder{})

	if err := m.Delete(context.Background(), my.Hash); err != ErrBroadcastFailed {
		t.Fatalf("Delete = %v, want ErrBroadcastFailed", err)
	}
	if !cat.IsExistMyOfferByHash(my.Hash) {
		t.Fatal("offer should remain local when broadcast quorum is not met")
	}
}

func TestHandleNewOfferUpsertsConfirmedOffer(t *testing.T) {
	cat := newTestCatalog(t)
	keys := keysource.NewDevKeySource()
	pub, err := keys.GenerateKeypair(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	src := newConfirmingTxSource()
	m := newTestManager(t, cat, src, keys, &fakeBroadcastTransport{}, &fakeFeeTxBuilder{})

	rec := offer.New(pub, offer.Buy, "US", "USD", offer.PaymentMethodCash,
		100, 10, 1_700_000_000, 1_700_086_400, "", "")
	rec.IDTransaction = [32]byte{0x22}
	src.confirm(rec.IDTransaction, rec)

	sig, err := keys.Sign(context.Background(), pub, rec.Hash)
	if err != nil {
		t.Fatal(err)
	}

	msg := syncproto.NewOfferMsg{Offer: syncproto.ToOfferPayload(rec), Signature: hexEncode(sig)}
	if err := m.HandleNewOffer(context.Background(), msg, nil); err != nil {
		t.Fatalf("HandleNewOffer: %v", err)
	}

	if _, ok := cat.GetByHash(rec.Hash); !ok {
		t.Fatal("validated offer with a confirmed fee tx should be upserted")
	}
}

func TestHandleNewOfferRejectsBadSignature(t *testing.T) {
	cat := newTestCatalog(t)
	keys := keysource.NewDevKeySource()
	pub, err := keys.GenerateKeypair(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	m := newTestManager(t, cat, newConfirmingTxSource(), keys, &fakeBroadcastTransport{}, &fakeFeeTxBuilder{})

	rec := offer.New(pub, offer.Buy, "US", "USD", offer.PaymentMethodCash,
		100, 10, 1_700_000_000, 1_700_086_400, "", "")

	msg := syncproto.NewOfferMsg{Offer: syncproto.ToOfferPayload(rec), Signature: hexEncode([]byte{0x01, 0x02})}
	if err := m.HandleNewOffer(context.Background(), msg, nil); err == nil {
		t.Fatal("expected an error for a malformed signature")
	}
}

func TestHandleNewOfferDefersUnverifiedFeeTxToPool(t *testing.T) {
	cat := newTestCatalog(t)
	keys := keysource.NewDevKeySource()
	pub, err := keys.GenerateKeypair(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	m := newTestManager(t, cat, newConfirmingTxSource(), keys, &fakeBroadcastTransport{}, &fakeFeeTxBuilder{})

	rec := offer.New(pub, offer.Buy, "US", "USD", offer.PaymentMethodCash,
		100, 10, 1_700_000_000, 1_700_086_400, "", "")
	rec.IDTransaction = [32]byte{0x33} // never registered with the tx source

	sig, err := keys.Sign(context.Background(), pub, rec.Hash)
	if err != nil {
		t.Fatal(err)
	}

	var pooled []*offer.Record
	msg := syncproto.NewOfferMsg{Offer: syncproto.ToOfferPayload(rec), Signature: hexEncode(sig)}
	if err := m.HandleNewOffer(context.Background(), msg, func(o *offer.Record) { pooled = append(pooled, o) }); err != nil {
		t.Fatalf("HandleNewOffer: %v", err)
	}
	if len(pooled) != 1 {
		t.Fatal("offer with an unverifiable fee tx should be handed to the unconfirmed pool")
	}
	if _, ok := cat.GetByHash(rec.Hash); ok {
		t.Fatal("an offer with an unverifiable fee tx should not be upserted into the catalog")
	}
}

func TestHandleEditOfferRejectsStaleVersion(t *testing.T) {
	cat := newTestCatalog(t)
	keys := keysource.NewDevKeySource()
	pub, err := keys.GenerateKeypair(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	m := newTestManager(t, cat, newConfirmingTxSource(), keys, &fakeBroadcastTransport{}, &fakeFeeTxBuilder{})

	rec := offer.New(pub, offer.Buy, "US", "USD", offer.PaymentMethodCash,
		100, 10, 1_700_000_000, 1_700_086_400, "", "")
	rec.EditingVersion = 2
	rec.IDTransaction = [32]byte{0x44}
	if err := cat.UpsertBuy(rec, 0); err != nil {
		t.Fatal(err)
	}

	// stale is a legitimately signed edit at version 1 — valid on its
	// own, but older than what is already stored at version 2.
	stale := *rec
	stale.EditingVersion = 1
	editSig, err := keys.Sign(context.Background(), pub, offer.EditHash(&stale))
	if err != nil {
		t.Fatal(err)
	}
	stale.EditSign = editSig

	msg := syncproto.EditOfferMsg{Offer: syncproto.ToOfferPayload(&stale)}
	if err := m.HandleEditOffer(context.Background(), msg); err != ErrStaleEdit {
		t.Fatalf("HandleEditOffer = %v, want ErrStaleEdit", err)
	}
}

func TestHandleDeleteOfferIsIdempotentForMissingHash(t *testing.T) {
	cat := newTestCatalog(t)
	m := newTestManager(t, cat, newConfirmingTxSource(), keysource.NewDevKeySource(), &fakeBroadcastTransport{}, &fakeFeeTxBuilder{})

	msg := syncproto.DeleteOfferMsg{Hash: hexEncode(make([]byte, 32)), Signature: hexEncode([]byte{0x01})}
	if err := m.HandleDeleteOffer(context.Background(), msg); err != nil {
		t.Fatalf("HandleDeleteOffer on a missing hash should be a no-op, got: %v", err)
	}
}

func TestHandleDeleteOfferRemovesOnValidSignature(t *testing.T) {
	cat := newTestCatalog(t)
	keys := keysource.NewDevKeySource()
	pub, err := keys.GenerateKeypair(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	m := newTestManager(t, cat, newConfirmingTxSource(), keys, &fakeBroadcastTransport{}, &fakeFeeTxBuilder{})

	rec := offer.New(pub, offer.Sell, "US", "USD", offer.PaymentMethodCash,
		100, 10, 1_700_000_000, 1_700_086_400, "", "")
	if err := cat.UpsertSell(rec, 0); err != nil {
		t.Fatal(err)
	}

	sig, err := keys.Sign(context.Background(), pub, rec.Hash)
	if err != nil {
		t.Fatal(err)
	}

	msg := syncproto.DeleteOfferMsg{Hash: hexEncode(rec.Hash[:]), Signature: hexEncode(sig)}
	if err := m.HandleDeleteOffer(context.Background(), msg); err != nil {
		t.Fatalf("HandleDeleteOffer: %v", err)
	}
	if cat.ExistsByHash(rec.Hash) {
		t.Fatal("offer should be removed after a validly signed delete")
	}
}
