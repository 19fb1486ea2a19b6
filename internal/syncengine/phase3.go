package syncengine

import (
	"context"
	"errors"

	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/offermesh/offerd/internal/offer"
	"github.com/offermesh/offerd/internal/syncproto"
)

var errMalformedHash = errors.New("syncengine: malformed hash in message")

// HandleGetOffer answers a Phase 3 fetch request: the offer if present
// in our confirmed catalog, else NO_HASH.
func (e *Engine) HandleGetOffer(ctx context.Context, from peer.ID, msg syncproto.GetOffer) error {
	hash, err := hexDecodeHash(msg.Hash)
	if err != nil {
		return err
	}

	rec, ok := e.catalog.GetByHash(hash)
	if !ok {
		return e.transport.Send(ctx, from, syncproto.TagNoHash, syncproto.NoHash{Hash: msg.Hash})
	}
	return e.transport.Send(ctx, from, syncproto.TagOffer, syncproto.ToOfferPayload(rec))
}

// HandleNoHash processes a fetch miss: the hash is dropped from
// need_download the same as a successful fetch, since the neighbor no
// longer has anything to offer for it.
func (e *Engine) HandleNoHash(ctx context.Context, from peer.ID, msg syncproto.NoHash) error {
	hash, err := hexDecodeHash(msg.Hash)
	if err != nil {
		return err
	}
	e.completeDownload(ctx, hash)
	return nil
}

// HandleOffer processes a fetched offer: validate, then upsert to
// CatalogStore or defer to UnconfirmedPool, applying the wallet-match
// side effect along the way.
func (e *Engine) HandleOffer(ctx context.Context, from peer.ID, payload syncproto.OfferPayload) error {
	rec, err := syncproto.FromOfferPayload(payload)
	if err != nil {
		return err
	}

	if err := rec.Check(false, e.catalog, e.verifier); err != nil {
		var verr *offer.ValidationError
		if errors.As(err, &verr) {
			e.log.Debug("rejected offer during sync fetch", "peer", from, "hash", rec.Hash, "penalty", verr.Penalty)
		}
		e.completeDownload(ctx, rec.Hash)
		return err
	}

	if bindErr := e.feeBinding.Verify(ctx, rec); bindErr != nil {
		if e.unconfirmedSink != nil {
			e.unconfirmedSink(rec)
		}
		e.completeDownload(ctx, rec.Hash)
		return nil
	}

	if err := e.upsertByType(rec); err != nil {
		return err
	}

	if e.rescanner != nil && e.rescanner.HasPrivateKey(rec.PubKey) {
		e.promoteAsMyOffer(rec)
	}

	e.completeDownload(ctx, rec.Hash)
	return nil
}

func (e *Engine) upsertByType(rec *offer.Record) error {
	if rec.Type == offer.Sell {
		return e.catalog.UpsertSell(rec, 0)
	}
	return e.catalog.UpsertBuy(rec, 0)
}

// promoteAsMyOffer records an incoming offer matching a locally held
// key as a MyOffer with status Active, the wallet-rescan side effect
// carried over from the original dex sync.
func (e *Engine) promoteAsMyOffer(rec *offer.Record) {
	if e.catalog.IsExistMyOfferByHash(rec.Hash) {
		return
	}
	my := &offer.MyRecord{Record: *rec, Status: offer.StatusActive}
	if err := e.catalog.UpsertMyOffer(my, 0); err != nil {
		e.log.Warn("failed to record rescanned offer as my_offer", "hash", rec.Hash, "err", err)
	}
}

// completeDownload removes hash from need_download and checks whether
// the round has finished as a result.
func (e *Engine) completeDownload(ctx context.Context, hash [32]byte) {
	e.mu.Lock()
	delete(e.round.needDownload, hash)
	e.reportProgress()
	if len(e.round.needDownload) == 0 {
		e.finishRoundLocked(ctx)
	}
	e.mu.Unlock()
}
