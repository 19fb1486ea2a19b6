// Package offermanager owns the lifecycle of locally authored offers
// and mediates the non-sync-protocol network messages: new offer
// announcements, edits, and signed deletions.
package offermanager

import (
	"context"
	"errors"
	"fmt"

	"github.com/offermesh/offerd/internal/catalog"
	"github.com/offermesh/offerd/internal/keysource"
	"github.com/offermesh/offerd/internal/offer"
	"github.com/offermesh/offerd/internal/syncproto"
	"github.com/offermesh/offerd/pkg/logging"
)

var (
	ErrNoKeySource    = errors.New("offermanager: no private key for offer's public key")
	ErrStaleEdit      = errors.New("offermanager: editing_version is not newer than the stored offer")
	ErrBadSignature   = errors.New("offermanager: signature does not verify")
	ErrBroadcastFailed = errors.New("offermanager: broadcast reached too few neighbors")
)

// minAcceptedBroadcast is the floor of successfully-notified neighbors
// Delete requires before removing local rows; PrepareAndSend only logs a
// warning when its broadcast reaches fewer.
const minAcceptedBroadcast = 2

// Transport is the narrow broadcast boundary OfferManager needs; it is
// independent of syncengine.Transport since OfferManager never joins a
// sync round, only announces/retracts offers.
type Transport interface {
	Broadcast(ctx context.Context, tag syncproto.Tag, payload interface{}) (sentCount int, err error)
}

// FeeTxBuilder constructs and submits the anti-spam fee payment
// transaction for a draft offer, returning its transaction id once
// broadcast to the network. The real wallet/UTXO-selection logic lives
// outside this module.
type FeeTxBuilder interface {
	BuildAndSubmit(ctx context.Context, o *offer.Record) (txid [32]byte, err error)
}

// DraftInput is the caller-supplied subset of fields needed to create
// or edit a draft offer; identity fields are filled in by Manager.
type DraftInput struct {
	PubKey         []byte
	Type           offer.Type
	CountryISO     string
	CurrencyISO    string
	PaymentMethod  uint8
	Price          uint64
	MinAmount      uint64
	TimeCreate     int64
	TimeExpiration int64
	ShortInfo      string
	Details        string
}

// Manager owns local offers and the new/edit/delete message handlers.
type Manager struct {
	catalog    *catalog.Store
	feeBinding *offer.FeeBinding
	signer     *offer.Signer
	verifier   *offer.Verifier
	keys       keysource.KeySource
	feeTx      FeeTxBuilder
	transport  Transport
	log        *logging.Logger
}

// Config bundles Manager's collaborators.
type Config struct {
	Catalog    *catalog.Store
	FeeBinding *offer.FeeBinding
	Signer     *offer.Signer
	Verifier   *offer.Verifier
	Keys       keysource.KeySource
	FeeTx      FeeTxBuilder
	Transport  Transport
}

// New constructs a Manager.
func New(cfg Config) *Manager {
	return &Manager{
		catalog:    cfg.Catalog,
		feeBinding: cfg.FeeBinding,
		signer:     cfg.Signer,
		verifier:   cfg.Verifier,
		keys:       cfg.Keys,
		feeTx:      cfg.FeeTx,
		transport:  cfg.Transport,
		log:        logging.GetDefault().Component("offermanager"),
	}
}

// AddOrEditDraft writes a MyOffer with status Draft, editing_version 0,
// recomputing hash from the supplied fields.
func (m *Manager) AddOrEditDraft(in DraftInput) (*offer.MyRecord, error) {
	rec := offer.New(in.PubKey, in.Type, in.CountryISO, in.CurrencyISO, in.PaymentMethod,
		in.Price, in.MinAmount, in.TimeCreate, in.TimeExpiration, in.ShortInfo, in.Details)

	my := &offer.MyRecord{Record: *rec, Status: offer.StatusDraft}
	if err := m.catalog.UpsertMyOffer(my, 0); err != nil {
		return nil, fmt.Errorf("offermanager: save draft: %w", err)
	}
	return my, nil
}

// PrepareAndSend builds and broadcasts the fee-payment transaction for
// a draft, then broadcasts the signed offer announcement. The offer is
// promoted to the confirmed catalog only once its fee transaction
// clears (same UnconfirmedPool path gossip-observed offers take); until
// then it is left in Draft/Unconfirmed in my_offers and also pooled.
func (m *Manager) PrepareAndSend(ctx context.Context, hash [32]byte, pool UnconfirmedSink) error {
	my, err := m.catalog.GetMyOfferByHash(hash)
	if err != nil {
		return err
	}

	if !m.keys.HasPrivateKey(my.PubKey) {
		return ErrNoKeySource
	}

	if my.EditingVersion > 0 || my.Status != offer.StatusDraft {
		my.EditingVersion++
		editHash := offer.EditHash(&my.Record)
		editSig, err := m.keys.Sign(ctx, my.PubKey, editHash)
		if err != nil {
			return fmt.Errorf("offermanager: sign edit: %w", err)
		}
		my.EditSign = editSig
	}

	txid, err := m.feeTx.BuildAndSubmit(ctx, &my.Record)
	if err != nil {
		return fmt.Errorf("offermanager: build fee tx: %w", err)
	}
	my.IDTransaction = txid

	sig, err := m.keys.Sign(ctx, my.PubKey, my.Hash)
	if err != nil {
		return fmt.Errorf("offermanager: sign offer: %w", err)
	}

	my.Status = offer.StatusUnconfirmed
	if err := m.catalog.UpsertMyOffer(my, 0); err != nil {
		return fmt.Errorf("offermanager: save unconfirmed: %w", err)
	}
	if pool != nil {
		pool(&my.Record)
	}

	sent, err := m.transport.Broadcast(ctx, syncproto.TagNewOffer, syncproto.NewOfferMsg{
		Offer:     syncproto.ToOfferPayload(&my.Record),
		Signature: hexEncode(sig),
	})
	if err != nil {
		m.log.Warn("broadcast error", "hash", hash, "err", err)
	}
	if sent < minAcceptedBroadcast {
		m.log.Warn("offer broadcast reached too few neighbors", "hash", hash, "sent", sent)
	}
	return nil
}

// UnconfirmedSink hands a freshly-submitted offer to the appropriate
// UnconfirmedPool instance for later promotion.
type UnconfirmedSink func(o *offer.Record)

// Delete removes a local offer: requires a matching private key, signs
// the deletion, broadcasts it, and only removes the local rows if at
// least minAcceptedBroadcast neighbors accepted it, or the offer was
// still a Draft (never broadcast in the first place).
func (m *Manager) Delete(ctx context.Context, hash [32]byte) error {
	my, err := m.catalog.GetMyOfferByHash(hash)
	if err != nil {
		return err
	}
	if !m.keys.HasPrivateKey(my.PubKey) {
		return ErrNoKeySource
	}

	if my.Status == offer.StatusDraft {
		return m.catalog.DeleteMyOffer(hash)
	}

	sig, err := m.keys.Sign(ctx, my.PubKey, hash)
	if err != nil {
		return fmt.Errorf("offermanager: sign delete: %w", err)
	}

	sent, err := m.transport.Broadcast(ctx, syncproto.TagDeleteOffer, syncproto.DeleteOfferMsg{
		Hash:      hexEncode(hash[:]),
		Signature: hexEncode(sig),
	})
	if err != nil {
		m.log.Warn("delete broadcast error", "hash", hash, "err", err)
	}
	if sent < minAcceptedBroadcast {
		return ErrBroadcastFailed
	}

	if err := m.catalog.DeleteMyOffer(hash); err != nil {
		return err
	}
	return m.catalog.DeleteByHash(hash)
}
