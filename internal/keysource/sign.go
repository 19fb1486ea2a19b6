package keysource

import (
	"errors"

	"github.com/btcsuite/btcd/btcec/v2"
	btcecdsa "github.com/btcsuite/btcd/btcec/v2/ecdsa"
)

// ErrKeyNotFound is returned when Sign is asked to sign under a pubkey
// this source does not hold the private key for.
var ErrKeyNotFound = errors.New("keysource: private key not found for public key")

func signDigest(priv *btcec.PrivateKey, digest [32]byte) []byte {
	sig := btcecdsa.Sign(priv, digest[:])
	return sig.Serialize()
}
