package offer

import (
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	btcecdsa "github.com/btcsuite/btcd/btcec/v2/ecdsa"
)

func parsePubKey(raw []byte) (*btcec.PublicKey, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("offer: empty public key")
	}
	return btcec.ParsePubKey(raw)
}

// Signer signs offer identity and edit hashes with a locally held private
// key. The private key itself is always supplied by the out-of-scope wallet
// collaborator (see internal/keysource); Signer only wraps the signing math.
type Signer struct{}

// NewSigner constructs a Signer. It holds no state; it exists as a named
// type so call sites read the same way the teacher's wallet/crypto glue does.
func NewSigner() *Signer { return &Signer{} }

// SignOffer signs offer.Hash with key, producing a DER-encoded ECDSA
// signature over the offer's identity.
func (s *Signer) SignOffer(key *btcec.PrivateKey, o *Record) ([]byte, error) {
	if key == nil {
		return nil, fmt.Errorf("offer: nil signing key")
	}
	sig := btcecdsa.Sign(key, o.Hash[:])
	return sig.Serialize(), nil
}

// MakeEditSig signs EditHash(o) and stores the result on o.EditSign.
func (s *Signer) MakeEditSig(key *btcec.PrivateKey, o *Record) error {
	if key == nil {
		return fmt.Errorf("offer: nil signing key")
	}
	h := EditHash(o)
	sig := btcecdsa.Sign(key, h[:])
	o.EditSign = sig.Serialize()
	return nil
}

// Verifier checks offer and edit signatures against a publisher's public
// key. It holds no state.
type Verifier struct{}

// NewVerifier constructs a Verifier.
func NewVerifier() *Verifier { return &Verifier{} }

// VerifyOffer checks sig against o.Hash under o.PubKey.
func (v *Verifier) VerifyOffer(o *Record, sig []byte) bool {
	pub, err := parsePubKey(o.PubKey)
	if err != nil {
		return false
	}
	parsed, err := btcecdsa.ParseDERSignature(sig)
	if err != nil {
		return false
	}
	return parsed.Verify(o.Hash[:], pub)
}

// VerifyEdit checks o.EditSign against EditHash(o) under o.PubKey.
func (v *Verifier) VerifyEdit(o *Record) bool {
	if len(o.EditSign) == 0 {
		return false
	}
	pub, err := parsePubKey(o.PubKey)
	if err != nil {
		return false
	}
	parsed, err := btcecdsa.ParseDERSignature(o.EditSign)
	if err != nil {
		return false
	}
	h := EditHash(o)
	return parsed.Verify(h[:], pub)
}
