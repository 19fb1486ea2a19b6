// Package syncproto defines the wire messages exchanged by the offer
// gossip and reconciliation protocol: a three-phase hash-inventory
// exchange layered as JSON over libp2p streams, the same framing idiom
// the order-sync protocol uses.
package syncproto

import "github.com/offermesh/offerd/internal/offer"

// ProtocolID is the libp2p stream protocol this package's messages are
// framed over.
const ProtocolID = "/offermesh/offersync/1.0.0"

// MinProtocolVersion is the lowest peer-advertised version this node
// will attempt to synchronize with, matching the floor the original
// implementation enforced.
const MinProtocolVersion = 70207

// PartSize bounds how many (hash, version) pairs travel in a single
// HashBatch message.
const PartSize = 100

// Tag identifies a message's payload type on the wire, playing the role
// the original NetMsgType string constants did.
type Tag string

const (
	TagGetAllHash Tag = "DEXSYNCGETALLHASH"
	TagPartHash   Tag = "DEXSYNCPARTHASH"
	TagGetOffer   Tag = "DEXSYNCGETOFFER"
	TagOffer      Tag = "DEXSYNCOFFER"
	TagNoOffers   Tag = "DEXSYNCNOOFFERS"
	TagNoHash     Tag = "DEXSYNCNOHASH"
	TagNeedSync   Tag = "DEXSYNCNEEDSYNC"

	TagNewOffer    Tag = "DEXNEWOFFER"
	TagEditOffer   Tag = "DEXEDITOFFER"
	TagDeleteOffer Tag = "DEXDELOFFER"
)

// Envelope wraps every message with the tag a receiver dispatches on,
// so a single stream can multiplex every tagged message shape above.
type Envelope struct {
	Tag     Tag    `json:"tag"`
	Payload []byte `json:"payload"`
}

// SyncInfo is the (count, last_modification, checksum) summary a peer
// uses to skip a full hash exchange when nothing has changed since the
// last round. CheckSum is reserved: always zero, never inspected by
// either side.
type SyncInfo struct {
	Count        int64  `json:"count"`
	LastTimeMod  uint64 `json:"last_time_mod"`
	CheckSum     uint64 `json:"check_sum"`
}

// GetAllHash is the Phase 1 request: "send me your inventory", carrying
// the sender's own SyncInfo so the responder can short-circuit with
// NoOffers when the two summaries already match.
type GetAllHash struct {
	Info SyncInfo `json:"info"`
}

// HashBatch is one chunk of a Phase 1 inventory reply. Part/MaxPart let
// the receiver know when the last chunk has arrived; Hashes carries the
// (hash, editing_version) pairs for at most PartSize entries.
type HashBatch struct {
	Part      int                   `json:"part"`
	MaxPart   int                   `json:"max_part"`
	Hashes    []catalogHashVersion  `json:"hashes"`
}

// catalogHashVersion mirrors catalog.HashVersion without importing the
// catalog package, keeping syncproto's dependency graph one-directional
// (syncengine depends on both catalog and syncproto; syncproto imports
// neither).
type catalogHashVersion struct {
	Hash    string `json:"hash"` // hex-encoded
	Version uint32 `json:"version"`
}

// NewHashBatch converts offer hashes/versions into their wire form.
func NewHashBatch(part, maxPart int, items []HashVersionPair) HashBatch {
	out := make([]catalogHashVersion, len(items))
	for i, it := range items {
		out[i] = catalogHashVersion{Hash: it.HexHash(), Version: it.Version}
	}
	return HashBatch{Part: part, MaxPart: maxPart, Hashes: out}
}

// HashVersionPair is syncproto's transport-agnostic (hash, version)
// pair, with hex encode/decode helpers so callers never hand-roll the
// conversion.
type HashVersionPair struct {
	Hash    [32]byte
	Version uint32
}

// HexHash returns the hex-encoded hash, matching catalog's storage
// representation.
func (p HashVersionPair) HexHash() string {
	return hexEncode(p.Hash[:])
}

// Pairs converts a HashBatch back into HashVersionPair values.
func (b HashBatch) Pairs() ([]HashVersionPair, error) {
	out := make([]HashVersionPair, 0, len(b.Hashes))
	for _, h := range b.Hashes {
		raw, err := hexDecode(h.Hash)
		if err != nil {
			return nil, err
		}
		var hv HashVersionPair
		copy(hv.Hash[:], raw)
		hv.Version = h.Version
		out = append(out, hv)
	}
	return out, nil
}

// NoOffers is sent when the responder's SyncInfo already matches the
// requester's, or when the responder has no offers at all.
type NoOffers struct {
	Reason string `json:"reason"` // "actual" | "empty"
}

// GetOffer requests a single full offer by hash, sent once per entry a
// peer's inventory reported that the requester lacks or holds an older
// version of.
type GetOffer struct {
	Type offer.Type `json:"type"`
	Hash string     `json:"hash"`
}

// OfferPayload carries a single full offer record, hex/wire-encoded so
// the message stays a flat JSON struct.
type OfferPayload struct {
	Type           offer.Type `json:"type"`
	PubKey         string     `json:"pub_key"`
	Hash           string     `json:"hash"`
	IDTransaction  string     `json:"id_transaction,omitempty"`
	CountryISO     string     `json:"country_iso"`
	CurrencyISO    string     `json:"currency_iso"`
	PaymentMethod  uint8      `json:"payment_method"`
	Price          uint64     `json:"price"`
	MinAmount      uint64     `json:"min_amount"`
	TimeCreate     int64      `json:"time_create"`
	TimeExpiration int64      `json:"time_expiration"`
	ShortInfo      string     `json:"short_info"`
	Details        string     `json:"details"`
	EditingVersion uint32     `json:"editing_version"`
	EditSign       string     `json:"edit_sign,omitempty"`
}

// NoHash answers a GetOffer for a hash the responder no longer has (it
// expired or was deleted between the inventory exchange and the fetch).
type NoHash struct {
	Hash string `json:"hash"`
}

// NeedSync asks the responder to restart its own sync round from
// scratch, used when a requester detects it is badly out of date. A
// receiving SyncEngine honors this at most once per sync round.
type NeedSync struct{}
