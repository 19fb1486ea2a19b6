// Package keysource defines the narrow external collaborator boundary
// SyncEngine and OfferManager use for key material: generating fresh
// keypairs for drafts, signing offer/edit hashes, and answering
// wallet-rescan "do I hold this key" queries. The production
// implementation (BIP39/BIP44-derived wallet) lives outside this
// module; this package only carries the interface and a
// mnemonic-seeded development double.
package keysource

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/tyler-smith/go-bip39"
)

// KeySource is the minimal key-material surface OfferManager needs.
type KeySource interface {
	// GenerateKeypair creates and locally registers a fresh keypair,
	// returning its compressed public key.
	GenerateKeypair(ctx context.Context) (pubKey []byte, err error)
	// Sign signs digest with the private key matching pubKey. Returns
	// an error if the key is not held locally.
	Sign(ctx context.Context, pubKey []byte, digest [32]byte) ([]byte, error)
	// HasPrivateKey reports whether the private key for pubKey is held
	// locally, used by the wallet-rescan side effect.
	HasPrivateKey(pubKey []byte) bool
}

// DevKeySource is an in-memory KeySource development double that derives
// keys deterministically from a BIP39 seed, standing in for the
// BIP39/BIP44 wallet a production deployment would plug in instead.
type DevKeySource struct {
	keys    map[string]*btcec.PrivateKey
	seed    []byte
	counter uint32
}

// NewDevKeySource generates a fresh 24-word mnemonic and constructs a
// key source seeded from it. The mnemonic is not retained; callers that
// need reproducible keys across process restarts should use
// NewDevKeySourceFromMnemonic with a saved mnemonic instead.
func NewDevKeySource() *DevKeySource {
	entropy, err := bip39.NewEntropy(256)
	if err != nil {
		// crypto/rand failure; fall back to an unseeded source rather
		// than panicking in a constructor.
		return &DevKeySource{keys: make(map[string]*btcec.PrivateKey)}
	}
	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return &DevKeySource{keys: make(map[string]*btcec.PrivateKey)}
	}
	src, _ := NewDevKeySourceFromMnemonic(mnemonic, "")
	return src
}

// NewDevKeySourceFromMnemonic constructs a key source whose keys are
// derived deterministically from a BIP39 mnemonic, so the same mnemonic
// always yields the same keypair sequence.
func NewDevKeySourceFromMnemonic(mnemonic, passphrase string) (*DevKeySource, error) {
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, fmt.Errorf("keysource: invalid mnemonic")
	}
	return &DevKeySource{
		keys: make(map[string]*btcec.PrivateKey),
		seed: bip39.NewSeed(mnemonic, passphrase),
	}, nil
}

// GenerateKeypair derives the next secp256k1 keypair in this source's
// sequence and registers it. With no seed (construction failed to
// generate one) it falls back to a randomly generated key.
func (d *DevKeySource) GenerateKeypair(ctx context.Context) ([]byte, error) {
	priv, err := d.nextPrivateKey()
	if err != nil {
		return nil, err
	}
	pub := priv.PubKey().SerializeCompressed()
	d.keys[string(pub)] = priv
	return pub, nil
}

// nextPrivateKey derives the next key from the seed via
// HMAC-SHA256(seed, counter), a deterministic child-key expansion in
// the spirit of BIP32 without its full hardened-derivation tree, since
// this source only ever needs a flat sequence of siblings.
func (d *DevKeySource) nextPrivateKey() (*btcec.PrivateKey, error) {
	if d.seed == nil {
		return btcec.NewPrivateKey()
	}
	var idx [4]byte
	binary.BigEndian.PutUint32(idx[:], d.counter)
	d.counter++

	mac := hmac.New(sha256.New, d.seed)
	mac.Write(idx[:])
	sum := mac.Sum(nil)

	priv, _ := btcec.PrivKeyFromBytes(sum)
	return priv, nil
}

// Sign signs digest with the registered private key for pubKey.
func (d *DevKeySource) Sign(ctx context.Context, pubKey []byte, digest [32]byte) ([]byte, error) {
	priv, ok := d.keys[string(pubKey)]
	if !ok {
		return nil, ErrKeyNotFound
	}
	sig := signDigest(priv, digest)
	return sig, nil
}

// HasPrivateKey reports whether pubKey was generated by this source.
func (d *DevKeySource) HasPrivateKey(pubKey []byte) bool {
	_, ok := d.keys[string(pubKey)]
	return ok
}

// Import registers an externally generated keypair, for tests that
// need a known pubkey/privkey pair rather than a freshly generated one.
func (d *DevKeySource) Import(priv *btcec.PrivateKey) []byte {
	pub := priv.PubKey().SerializeCompressed()
	d.keys[string(pub)] = priv
	return pub
}
