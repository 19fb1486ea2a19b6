package syncengine

import (
	"context"

	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/offermesh/offerd/internal/offer"
	"github.com/offermesh/offerd/internal/syncproto"
)

// HandleNoOffers processes a responder's NO_OFFERS reply: the sender
// already matches us, or has nothing. Either way it is marked Actual.
func (e *Engine) HandleNoOffers(ctx context.Context, from peer.ID, msg syncproto.NoOffers) {
	e.mu.Lock()
	e.round.waitingForReply[from] = false
	e.round.neighborStatus[from] = Actual
	e.maybeFinishAfterInventoryLocked(ctx)
	e.mu.Unlock()
}

// HandleNeedSync processes a neighbor's NEED_SYNC request by resetting
// this engine's round. Only the first NEED_SYNC from a given neighbor in
// a round is honored; repeats are dropped and logged at debug level.
func (e *Engine) HandleNeedSync(ctx context.Context, from peer.ID) {
	e.mu.Lock()
	if e.round.honoredNeedSync[from] {
		e.log.Debug("dropping repeat need_sync in this round", "peer", from)
		e.mu.Unlock()
		return
	}
	e.round.honoredNeedSync[from] = true
	e.mu.Unlock()

	e.Reset(ctx)
}

// HandlePartHash processes one batch of a Phase 1 inventory reply. The
// initiator transitions Initial -> SyncStepOne on first receipt, marks
// divergent hashes for download, and on the final part of this
// neighbor's batch set, optionally replies NEED_SYNC and (once every
// neighbor's final batch has arrived) moves into SyncStepTwo and
// starts requesting offers.
func (e *Engine) HandlePartHash(ctx context.Context, from peer.ID, batch syncproto.HashBatch) error {
	pairs, err := batch.Pairs()
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.round.neighborStatus[from] = Good
	e.round.waitingForReply[from] = false
	if e.state == Initial {
		e.setState(SyncStepOne)
	}

	for _, hv := range pairs {
		e.considerDivergentLocked(from, hv)
	}

	finalBatch := batch.Part == batch.MaxPart
	stillGood := e.round.neighborStatus[from] == Good
	e.mu.Unlock()

	if finalBatch && stillGood {
		if err := e.transport.Send(ctx, from, syncproto.TagNeedSync, syncproto.NeedSync{}); err != nil {
			e.log.Debug("send need_sync failed", "peer", from, "err", err)
		}
	}

	if finalBatch {
		e.maybeEnterFetchPhase(ctx)
	}
	return nil
}

// considerDivergentLocked adds hv.Hash to need_download if it is
// missing locally or our stored editing_version is lower. Must be
// called with e.mu held.
func (e *Engine) considerDivergentLocked(from peer.ID, hv syncproto.HashVersionPair) {
	existing, ok := e.catalog.GetByHash(hv.Hash)
	if ok && existing.EditingVersion >= hv.Version {
		return
	}
	typ := offer.Buy
	if ok {
		typ = existing.Type
	}
	e.round.needDownload[hv.Hash] = typ
	e.round.neighborStatus[from] = Process
}

// maybeFinishAfterInventoryLocked checks termination once a neighbor
// has been marked Actual with nothing left outstanding. Returns true
// if the round finished. Must be called with e.mu held via caller
// (this wraps finishRoundLocked for Phase 1-only terminations).
func (e *Engine) maybeFinishAfterInventoryLocked(ctx context.Context) bool {
	if len(e.round.needDownload) == 0 && e.actualSync() {
		e.finishRoundLocked(ctx)
		return true
	}
	return false
}

// maybeEnterFetchPhase transitions into SyncStepTwo once every
// qualifying neighbor's Phase 1 reply has arrived (no one left
// waitingForReply), and kicks off the fetch distribution.
func (e *Engine) maybeEnterFetchPhase(ctx context.Context) {
	e.mu.Lock()
	for _, waiting := range e.round.waitingForReply {
		if waiting {
			e.mu.Unlock()
			return
		}
	}
	if e.state != SyncStepOne {
		e.mu.Unlock()
		return
	}
	e.round.maxNeedDownload = len(e.round.needDownload)
	e.setState(SyncStepTwo)
	needDownload := e.round.needDownload
	e.mu.Unlock()

	if len(needDownload) == 0 {
		e.mu.Lock()
		e.finishRoundLocked(ctx)
		e.mu.Unlock()
		return
	}

	e.distributeFetchRequests(ctx, needDownload)
	e.armFinishTimer(ctx)
}

// retryFetch re-issues GET_OFFER for every hash still outstanding,
// used by the stalled-round finish-timer path.
func (e *Engine) retryFetch(ctx context.Context, needDownload map[[32]byte]offer.Type) {
	e.distributeFetchRequests(ctx, needDownload)
}

// distributeFetchRequests implements the request-distribution rule: if
// need_download is small relative to the neighbor count, every
// qualifying non-skipped neighbor is offered every hash (interview
// all); otherwise each hash goes to exactly one neighbor, round-robin.
// Neighbors marked Bad or Actual are skipped entirely.
func (e *Engine) distributeFetchRequests(ctx context.Context, needDownload map[[32]byte]offer.Type) {
	e.mu.Lock()
	var candidates []peer.ID
	for id, st := range e.round.neighborStatus {
		if st == Bad || st == Actual {
			continue
		}
		candidates = append(candidates, id)
	}
	interviewAll := len(needDownload) < 2*len(candidates)
	e.mu.Unlock()

	if len(candidates) == 0 {
		return
	}

	i := 0
	for hash, typ := range needDownload {
		if interviewAll {
			for _, id := range candidates {
				e.sendGetOffer(ctx, id, typ, hash)
			}
		} else {
			id := candidates[i%len(candidates)]
			i++
			e.sendGetOffer(ctx, id, typ, hash)
		}
	}
}

func (e *Engine) sendGetOffer(ctx context.Context, to peer.ID, typ offer.Type, hash [32]byte) {
	msg := syncproto.GetOffer{Type: typ, Hash: hexEncodeHash(hash)}
	if err := e.transport.Send(ctx, to, syncproto.TagGetOffer, msg); err != nil {
		e.log.Debug("send get_offer failed", "peer", to, "hash", hash, "err", err)
	}
}
