package syncengine

import (
	"context"

	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/offermesh/offerd/internal/catalog"
	"github.com/offermesh/offerd/internal/syncproto"
)

// HandleGetAllHash answers a Phase 1 request from a remote neighbor
// (we are the responder here, regardless of our own engine's state).
func (e *Engine) HandleGetAllHash(ctx context.Context, from peer.ID, msg syncproto.GetAllHash) error {
	mine, err := e.localSyncInfo()
	if err != nil {
		return err
	}

	if msg.Info.Count == mine.Count && msg.Info.LastTimeMod == mine.LastTimeMod && mine.Count != 0 {
		return e.transport.Send(ctx, from, syncproto.TagNoOffers, syncproto.NoOffers{Reason: "actual"})
	}

	period := catalog.PeriodAll
	pivot := uint64(0)
	if msg.Info.LastTimeMod != 0 {
		period = catalog.PeriodYoungTimeMod
		pivot = msg.Info.LastTimeMod
	}

	hvs, err := e.catalog.HashesAndVersions(period, pivot)
	if err != nil {
		return err
	}
	if len(hvs) == 0 {
		return e.transport.Send(ctx, from, syncproto.TagNoOffers, syncproto.NoOffers{Reason: "empty"})
	}

	pairs := make([]syncproto.HashVersionPair, len(hvs))
	for i, hv := range hvs {
		pairs[i] = syncproto.HashVersionPair{Hash: hv.Hash, Version: hv.Version}
	}

	maxPart := (len(pairs) + syncproto.PartSize - 1) / syncproto.PartSize
	for part := 0; part < maxPart; part++ {
		start := part * syncproto.PartSize
		end := start + syncproto.PartSize
		if end > len(pairs) {
			end = len(pairs)
		}
		batch := syncproto.NewHashBatch(part+1, maxPart, pairs[start:end])
		if err := e.transport.Send(ctx, from, syncproto.TagPartHash, batch); err != nil {
			return err
		}
	}
	return nil
}
