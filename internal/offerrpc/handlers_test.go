package offerrpc

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"os"
	"testing"

	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/offermesh/offerd/internal/catalog"
	"github.com/offermesh/offerd/internal/keysource"
	"github.com/offermesh/offerd/internal/offer"
	"github.com/offermesh/offerd/internal/offermanager"
	"github.com/offermesh/offerd/internal/syncengine"
	"github.com/offermesh/offerd/internal/syncproto"
	"github.com/offermesh/offerd/internal/unconfirmed"
)

func newTestCatalog(t *testing.T) *catalog.Store {
	t.Helper()
	dir, err := os.MkdirTemp("", "offerrpc-catalog-*")
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

type noopTransport struct{ sentCount int }

func (n *noopTransport) Broadcast(ctx context.Context, tag syncproto.Tag, payload interface{}) (int, error) {
	return n.sentCount, nil
}

type noopSyncTransport struct{}

func (noopSyncTransport) Neighbors() []syncengine.Neighbor { return nil }
func (noopSyncTransport) IsTestnet() bool                  { return false }
func (noopSyncTransport) Send(ctx context.Context, to peer.ID, tag syncproto.Tag, payload interface{}) error {
	return nil
}

type noopRegistry struct{}

func (noopRegistry) IsRegistered(id peer.ID) bool { return false }
func (noopRegistry) IsSelfMasternode() bool        { return false }
func (noopRegistry) IsInbound(id peer.ID) bool     { return false }

type emptyTxSource struct{}

func (emptyTxSource) Transaction(ctx context.Context, txid [32]byte) (*offer.Tx, error) {
	return nil, offer.ErrTxMissing
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cat := newTestCatalog(t)
	keys := keysource.NewDevKeySource()
	manager := offermanager.New(offermanager.Config{
		Catalog:    cat,
		FeeBinding: offer.NewFeeBinding(emptyTxSource{}),
		Signer:     offer.NewSigner(),
		Verifier:   offer.NewVerifier(),
		Keys:       keys,
		FeeTx:      nil,
		Transport:  &noopTransport{sentCount: 5},
	})
	engine := syncengine.New(syncengine.Config{
		Catalog:    cat,
		FeeBinding: offer.NewFeeBinding(emptyTxSource{}),
		Verifier:   offer.NewVerifier(),
		Transport:  noopSyncTransport{},
		Registry:   noopRegistry{},
	})
	return NewServer(Config{
		Catalog:        cat,
		NewOffers:      unconfirmed.NewPool(0, "test-new"),
		BroadcastEdits: unconfirmed.NewPool(0, "test-edits"),
		Engine:         engine,
		Manager:        manager,
		Keys:           keys,
	})
}

func rawParams(t *testing.T, v interface{}) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func TestAddOfferThenListOffers(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	_, err := s.addOffer(ctx, rawParams(t, AddOfferParams{
		Type: "sell", CountryISO: "US", CurrencyISO: "USD", PaymentMethod: offer.PaymentMethodCash,
		Price: 100, MinAmount: 10, TimeCreate: 1_700_000_000, TimeExpiration: 1_700_086_400,
	}))
	if err != nil {
		t.Fatalf("addOffer: %v", err)
	}

	result, err := s.listMyOffers(ctx, rawParams(t, ListMyOffersParams{}))
	if err != nil {
		t.Fatalf("listMyOffers: %v", err)
	}
	offers, ok := result.([]OfferInfo)
	if !ok || len(offers) != 1 {
		t.Fatalf("listMyOffers = %+v, want exactly one draft", result)
	}
	if offers[0].Status != string(offer.StatusDraft) {
		t.Fatalf("Status = %q, want draft", offers[0].Status)
	}
}

func TestGetOfferFallsBackToUnconfirmedPool(t *testing.T) {
	s := newTestServer(t)
	o := offer.New([]byte{0x02, 0x01}, offer.Sell, "US", "USD", offer.PaymentMethodCash,
		100, 10, 1_700_000_000, 1_700_086_400, "", "")
	s.newOffers.InsertOrUpdate(o)

	result, err := s.getOffer(context.Background(), rawParams(t, GetOfferParams{Hash: hexEncodeTest(o.Hash)}))
	if err != nil {
		t.Fatalf("getOffer: %v", err)
	}
	info, ok := result.(OfferInfo)
	if !ok || info.Hash != hexEncodeTest(o.Hash) {
		t.Fatalf("getOffer returned %+v, want the pooled offer", result)
	}
}

func TestGetOfferMissingReturnsNotFound(t *testing.T) {
	s := newTestServer(t)
	_, err := s.getOffer(context.Background(), rawParams(t, GetOfferParams{Hash: hexEncodeTest([32]byte{0xff})}))
	if err != catalog.ErrNotFound {
		t.Fatalf("getOffer = %v, want ErrNotFound", err)
	}
}

func TestEditOfferRejectsStatusMismatchOnActive(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	added, err := s.addOffer(ctx, rawParams(t, AddOfferParams{
		Type: "buy", CountryISO: "US", CurrencyISO: "USD", PaymentMethod: offer.PaymentMethodCash,
		Price: 100, MinAmount: 10, TimeCreate: 1_700_000_000, TimeExpiration: 1_700_086_400,
	}))
	if err != nil {
		t.Fatal(err)
	}
	info := added.(OfferInfo)
	hash, err := parseHash(info.Hash)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.catalog.SetMyOfferStatus(hash, offer.StatusUnconfirmed); err != nil {
		t.Fatal(err)
	}
	if err := s.catalog.SetMyOfferStatus(hash, offer.StatusActive); err != nil {
		t.Fatal(err)
	}

	_, err = s.editOffer(ctx, rawParams(t, EditOfferParams{
		Hash: info.Hash, CountryISO: "DE", CurrencyISO: "USD",
		PaymentMethod: offer.PaymentMethodCash, MinAmount: 10,
		TimeCreate: info.TimeCreate, TimeExpiration: info.TimeExpiration,
	}))
	if err != errUnchangedDataMismatch {
		t.Fatalf("editOffer = %v, want errUnchangedDataMismatch", err)
	}
}

func TestSyncStatusReflectsEngineState(t *testing.T) {
	s := newTestServer(t)
	result, err := s.sync(context.Background(), rawParams(t, SyncParams{Action: "status"}))
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	status := result.(SyncStatus)
	if status.State != string(syncengine.NotStarted) {
		t.Fatalf("State = %q, want not_started", status.State)
	}
}

func TestSyncForceSyncedRejectsWhenNotFinished(t *testing.T) {
	s := newTestServer(t)
	if _, err := s.sync(context.Background(), rawParams(t, SyncParams{Action: "force-synced"})); err == nil {
		t.Fatal("expected force-synced to fail while the engine is not_started")
	}
}

func TestSettingsRoundTrip(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	limit := 50

	result, err := s.settings(ctx, rawParams(t, SettingsParams{MaxOutput: &limit}))
	if err != nil {
		t.Fatalf("settings: %v", err)
	}
	got := result.(map[string]int)
	if got["maxoutput"] != 50 {
		t.Fatalf("maxoutput = %d, want 50", got["maxoutput"])
	}

	if s.outputLimit(0) != 50 {
		t.Fatalf("outputLimit(0) = %d, want 50 (the configured ceiling)", s.outputLimit(0))
	}
	if s.outputLimit(10) != 10 {
		t.Fatalf("outputLimit(10) = %d, want 10 (below the ceiling)", s.outputLimit(10))
	}
	if s.outputLimit(1000) != 50 {
		t.Fatalf("outputLimit(1000) = %d, want clamped to the ceiling 50", s.outputLimit(1000))
	}
}

func hexEncodeTest(h [32]byte) string {
	return hex.EncodeToString(h[:])
}
