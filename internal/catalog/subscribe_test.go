package catalog

import (
	"testing"
	"time"

	"github.com/offermesh/offerd/internal/offer"
)

func TestSubscribeReceivesUpsertEvent(t *testing.T) {
	s := newTestStore(t)
	events, cancel := s.Subscribe()
	defer cancel()

	o := testOffer(t, 50, offer.Sell)
	if err := s.UpsertSell(o, 0); err != nil {
		t.Fatal(err)
	}

	select {
	case ev := <-events:
		if ev.Table != "offers_sell" || ev.Op != OpUpsert || ev.Status != StatusOK {
			t.Fatalf("unexpected event: %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for upsert event")
	}
}

func TestSubscribeCancelStopsDelivery(t *testing.T) {
	s := newTestStore(t)
	events, cancel := s.Subscribe()
	cancel()

	o := testOffer(t, 51, offer.Buy)
	if err := s.UpsertBuy(o, 0); err != nil {
		t.Fatal(err)
	}

	select {
	case _, ok := <-events:
		if ok {
			t.Fatal("received an event on a cancelled subscription")
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("cancelled channel was never closed")
	}
}

func TestMultipleSubscribersAllReceive(t *testing.T) {
	s := newTestStore(t)
	a, cancelA := s.Subscribe()
	b, cancelB := s.Subscribe()
	defer cancelA()
	defer cancelB()

	o := testOffer(t, 52, offer.Sell)
	if err := s.UpsertSell(o, 0); err != nil {
		t.Fatal(err)
	}

	for name, ch := range map[string]<-chan ChangeEvent{"a": a, "b": b} {
		select {
		case <-ch:
		case <-time.After(time.Second):
			t.Fatalf("subscriber %s did not receive the event", name)
		}
	}
}
