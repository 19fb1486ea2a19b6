package syncproto

// NewOfferMsg announces a freshly confirmed offer, signed by its
// publisher over the offer hash.
type NewOfferMsg struct {
	Offer     OfferPayload `json:"offer"`
	Signature string       `json:"signature"` // hex-encoded DER signature over hash
}

// EditOfferMsg announces a publisher's modification to a mutable
// subset of an existing offer; edit_sign (carried on Offer) already
// authenticates the change.
type EditOfferMsg struct {
	Offer OfferPayload `json:"offer"`
}

// DeleteOfferMsg requests that every recipient remove an offer,
// authenticated by the publisher's signature over the offer hash.
type DeleteOfferMsg struct {
	Hash      string `json:"hash"`
	Signature string `json:"signature"`
}
