package syncproto

import (
	"encoding/hex"

	"github.com/offermesh/offerd/internal/offer"
)

func hexEncode(b []byte) string { return hex.EncodeToString(b) }

func hexDecode(s string) ([]byte, error) { return hex.DecodeString(s) }

// ToOfferPayload converts an offer.Record into its wire form.
func ToOfferPayload(o *offer.Record) OfferPayload {
	p := OfferPayload{
		Type:           o.Type,
		PubKey:         hexEncode(o.PubKey),
		Hash:           hexEncode(o.Hash[:]),
		CountryISO:     o.CountryISO,
		CurrencyISO:    o.CurrencyISO,
		PaymentMethod:  o.PaymentMethod,
		Price:          o.Price,
		MinAmount:      o.MinAmount,
		TimeCreate:     o.TimeCreate,
		TimeExpiration: o.TimeExpiration,
		ShortInfo:      o.ShortInfo,
		Details:        o.Details,
		EditingVersion: o.EditingVersion,
	}
	if o.HasFeeTx() {
		p.IDTransaction = hexEncode(o.IDTransaction[:])
	}
	if len(o.EditSign) > 0 {
		p.EditSign = hexEncode(o.EditSign)
	}
	return p
}

// FromOfferPayload converts a wire payload back into an offer.Record.
// The returned record's Hash is taken from the wire value as-is;
// callers are expected to call Record.Check, which recomputes and
// compares it against the canonical digest.
func FromOfferPayload(p OfferPayload) (*offer.Record, error) {
	o := &offer.Record{
		Type:           p.Type,
		CountryISO:     p.CountryISO,
		CurrencyISO:    p.CurrencyISO,
		PaymentMethod:  p.PaymentMethod,
		Price:          p.Price,
		MinAmount:      p.MinAmount,
		TimeCreate:     p.TimeCreate,
		TimeExpiration: p.TimeExpiration,
		ShortInfo:      p.ShortInfo,
		Details:        p.Details,
		EditingVersion: p.EditingVersion,
	}

	pub, err := hexDecode(p.PubKey)
	if err != nil {
		return nil, err
	}
	o.PubKey = pub

	hash, err := hexDecode(p.Hash)
	if err != nil {
		return nil, err
	}
	copy(o.Hash[:], hash)

	if p.IDTransaction != "" {
		tx, err := hexDecode(p.IDTransaction)
		if err != nil {
			return nil, err
		}
		copy(o.IDTransaction[:], tx)
	}

	if p.EditSign != "" {
		sig, err := hexDecode(p.EditSign)
		if err != nil {
			return nil, err
		}
		o.EditSign = sig
	}

	return o, nil
}
