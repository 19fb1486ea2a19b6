package offermanager

import (
	"context"
	"errors"
	"fmt"

	"github.com/offermesh/offerd/internal/offer"
	"github.com/offermesh/offerd/internal/syncproto"
)

// HandleNewOffer processes an incoming NEW_OFFER announcement: verify
// the publisher's signature over the offer hash, validate the record,
// and insert into the confirmed catalog or the unconfirmed pool
// depending on fee-transaction status.
func (m *Manager) HandleNewOffer(ctx context.Context, msg syncproto.NewOfferMsg, pool UnconfirmedSink) error {
	rec, err := syncproto.FromOfferPayload(msg.Offer)
	if err != nil {
		return err
	}

	sig, err := hexDecode(msg.Signature)
	if err != nil {
		return err
	}
	if m.verifier == nil || !m.verifier.VerifyOffer(rec, sig) {
		return ErrBadSignature
	}

	if err := rec.Check(false, m.catalog, m.verifier); err != nil {
		var verr *offer.ValidationError
		if errors.As(err, &verr) {
			m.log.Debug("rejected new offer", "hash", rec.Hash, "penalty", verr.Penalty)
		}
		return err
	}

	if bindErr := m.feeBinding.Verify(ctx, rec); bindErr != nil {
		if pool != nil {
			pool(rec)
		}
		return nil
	}

	return m.upsertByType(rec)
}

// HandleEditOffer processes an EDIT_OFFER message: verify edit_sign
// over edit_hash, accept only if editing_version is strictly greater
// than what is stored, then replace.
func (m *Manager) HandleEditOffer(ctx context.Context, msg syncproto.EditOfferMsg) error {
	rec, err := syncproto.FromOfferPayload(msg.Offer)
	if err != nil {
		return err
	}

	if m.verifier == nil || !m.verifier.VerifyEdit(rec) {
		return ErrBadSignature
	}

	existing, ok := m.catalog.GetByHash(rec.Hash)
	if ok && rec.EditingVersion <= existing.EditingVersion {
		return ErrStaleEdit
	}

	if err := rec.Check(true, m.catalog, m.verifier); err != nil {
		return err
	}

	return m.upsertByType(rec)
}

// HandleDeleteOffer processes a DELETE_OFFER message: verify the
// publisher's signature over the hash, then delete. Idempotent if the
// hash is already absent.
func (m *Manager) HandleDeleteOffer(ctx context.Context, msg syncproto.DeleteOfferMsg) error {
	hash, err := hexDecode(msg.Hash)
	if err != nil || len(hash) != 32 {
		return fmt.Errorf("offermanager: malformed delete hash")
	}
	var h [32]byte
	copy(h[:], hash)

	rec, ok := m.catalog.GetByHash(h)
	if !ok {
		return nil // idempotent
	}

	sig, err := hexDecode(msg.Signature)
	if err != nil {
		return err
	}
	if m.verifier == nil || !m.verifier.VerifyOffer(rec, sig) {
		return ErrBadSignature
	}

	return m.catalog.DeleteByHash(h)
}

func (m *Manager) upsertByType(rec *offer.Record) error {
	if rec.Type == offer.Sell {
		return m.catalog.UpsertSell(rec, 0)
	}
	return m.catalog.UpsertBuy(rec, 0)
}
