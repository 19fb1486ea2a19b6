package offerrpc

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/offermesh/offerd/internal/catalog"
	"github.com/offermesh/offerd/internal/offer"
	"github.com/offermesh/offerd/internal/offermanager"
	"github.com/offermesh/offerd/internal/syncengine"
)

// ========================================
// Read handlers
// ========================================

// ListOffersParams is the parameters for list_offers.
type ListOffersParams struct {
	Type     string  `json:"type"` // "buy" | "sell"
	Country  string  `json:"country,omitempty"`
	Currency string  `json:"currency,omitempty"`
	Method   *uint8  `json:"method,omitempty"`
	Limit    int     `json:"limit,omitempty"`
	Offset   int     `json:"offset,omitempty"`
}

// OfferInfo is the RPC view of a confirmed offer.
type OfferInfo struct {
	Type           string `json:"type"`
	Hash           string `json:"hash"`
	PubKey         string `json:"pub_key"`
	IDTransaction  string `json:"id_transaction,omitempty"`
	CountryISO     string `json:"country_iso"`
	CurrencyISO    string `json:"currency_iso"`
	PaymentMethod  uint8  `json:"payment_method"`
	Price          uint64 `json:"price"`
	MinAmount      uint64 `json:"min_amount"`
	TimeCreate     int64  `json:"time_create"`
	TimeExpiration int64  `json:"time_expiration"`
	ShortInfo      string `json:"short_info"`
	Details        string `json:"details"`
	EditingVersion uint32 `json:"editing_version"`
	Status         string `json:"status,omitempty"`
}

func recordToInfo(o *offer.Record) OfferInfo {
	info := OfferInfo{
		Type:           o.Type.String(),
		Hash:           hex.EncodeToString(o.Hash[:]),
		PubKey:         hex.EncodeToString(o.PubKey),
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
		info.IDTransaction = hex.EncodeToString(o.IDTransaction[:])
	}
	return info
}

func myRecordToInfo(o *offer.MyRecord) OfferInfo {
	info := recordToInfo(&o.Record)
	info.Status = string(o.Status)
	return info
}

func parseOfferType(s string) (offer.Type, error) {
	switch s {
	case "buy", "":
		return offer.Buy, nil
	case "sell":
		return offer.Sell, nil
	default:
		return 0, fmt.Errorf("invalid offer type %q", s)
	}
}

func parseHash(s string) ([32]byte, error) {
	var h [32]byte
	raw, err := hex.DecodeString(s)
	if err != nil || len(raw) != 32 {
		return h, fmt.Errorf("invalid hash %q", s)
	}
	copy(h[:], raw)
	return h, nil
}

func (s *Server) listOffers(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p ListOffersParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	typ, err := parseOfferType(p.Type)
	if err != nil {
		return nil, err
	}

	filter := catalog.Filter{
		Country:       p.Country,
		Currency:      p.Currency,
		PaymentMethod: p.Method,
		Limit:         s.outputLimit(p.Limit),
		Offset:        p.Offset,
	}

	records, err := s.catalog.List(typ, filter)
	if err != nil {
		return nil, err
	}

	out := make([]OfferInfo, 0, len(records))
	for _, r := range records {
		out = append(out, recordToInfo(r))
	}
	return out, nil
}

// ListMyOffersParams is the parameters for list_my_offers.
type ListMyOffersParams struct {
	Country  string         `json:"country,omitempty"`
	Currency string         `json:"currency,omitempty"`
	Method   *uint8         `json:"method,omitempty"`
	Status   *offer.MyStatus `json:"status,omitempty"`
	Limit    int            `json:"limit,omitempty"`
	Offset   int            `json:"offset,omitempty"`
}

func (s *Server) listMyOffers(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p ListMyOffersParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}

	filter := catalog.Filter{
		Country:       p.Country,
		Currency:      p.Currency,
		PaymentMethod: p.Method,
		Status:        p.Status,
		Limit:         s.outputLimit(p.Limit),
		Offset:        p.Offset,
	}

	records, err := s.catalog.ListMyOffers(filter)
	if err != nil {
		return nil, err
	}

	out := make([]OfferInfo, 0, len(records))
	for _, r := range records {
		out = append(out, myRecordToInfo(r))
	}
	return out, nil
}

// GetOfferParams is the parameters for get_offer.
type GetOfferParams struct {
	Hash string `json:"hash"`
}

func (s *Server) getOffer(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p GetOfferParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	hash, err := parseHash(p.Hash)
	if err != nil {
		return nil, err
	}

	if rec, ok := s.catalog.GetByHash(hash); ok {
		return recordToInfo(rec), nil
	}
	if s.newOffers != nil {
		if rec, ok := s.newOffers.Get(hash); ok {
			return recordToInfo(rec), nil
		}
	}
	if s.broadcastEdits != nil {
		if rec, ok := s.broadcastEdits.Get(hash); ok {
			return recordToInfo(rec), nil
		}
	}
	return nil, catalog.ErrNotFound
}

// ========================================
// Write handlers
// ========================================

// AddOfferParams is the parameters for add_offer.
type AddOfferParams struct {
	Type           string `json:"type"`
	CountryISO     string `json:"country_iso"`
	CurrencyISO    string `json:"currency_iso"`
	PaymentMethod  uint8  `json:"payment_method"`
	Price          uint64 `json:"price"`
	MinAmount      uint64 `json:"min_amount"`
	TimeCreate     int64  `json:"time_create"`
	TimeExpiration int64  `json:"time_expiration"`
	ShortInfo      string `json:"short_info"`
	Details        string `json:"details"`
}

func (s *Server) addOffer(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p AddOfferParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	typ, err := parseOfferType(p.Type)
	if err != nil {
		return nil, err
	}

	pubKey, err := s.keys.GenerateKeypair(ctx)
	if err != nil {
		return nil, fmt.Errorf("generate keypair: %w", err)
	}

	my, err := s.manager.AddOrEditDraft(offermanager.DraftInput{
		PubKey:         pubKey,
		Type:           typ,
		CountryISO:     p.CountryISO,
		CurrencyISO:    p.CurrencyISO,
		PaymentMethod:  p.PaymentMethod,
		Price:          p.Price,
		MinAmount:      p.MinAmount,
		TimeCreate:     p.TimeCreate,
		TimeExpiration: p.TimeExpiration,
		ShortInfo:      p.ShortInfo,
		Details:        p.Details,
	})
	if err != nil {
		return nil, err
	}
	return myRecordToInfo(my), nil
}

// EditOfferParams is the parameters for edit_offer.
type EditOfferParams struct {
	Hash           string `json:"hash"`
	CountryISO     string `json:"country_iso,omitempty"`
	CurrencyISO    string `json:"currency_iso,omitempty"`
	PaymentMethod  uint8  `json:"payment_method,omitempty"`
	Price          uint64 `json:"price"`
	MinAmount      uint64 `json:"min_amount,omitempty"`
	TimeCreate     int64  `json:"time_create,omitempty"`
	TimeExpiration int64  `json:"time_expiration"`
	ShortInfo      string `json:"short_info"`
	Details        string `json:"details"`
}

var errUnchangedDataMismatch = errors.New("offerrpc: unchanged data doesn't match")

func (s *Server) editOffer(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p EditOfferParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	hash, err := parseHash(p.Hash)
	if err != nil {
		return nil, err
	}

	my, err := s.catalog.GetMyOfferByHash(hash)
	if err != nil {
		return nil, err
	}

	if my.Status == offer.StatusDraft {
		my.CountryISO = p.CountryISO
		my.CurrencyISO = p.CurrencyISO
		my.PaymentMethod = p.PaymentMethod
		my.MinAmount = p.MinAmount
		my.TimeCreate = p.TimeCreate
		my.TimeExpiration = p.TimeExpiration
		my.ShortInfo = p.ShortInfo
		my.Details = p.Details
		my.Price = p.Price
		my.Hash = offer.ComputeHash(&my.Record)
	} else if my.Status == offer.StatusActive {
		if p.CountryISO != my.CountryISO || p.CurrencyISO != my.CurrencyISO ||
			p.PaymentMethod != my.PaymentMethod || p.MinAmount != my.MinAmount ||
			offer.FeeCoefficient(p.TimeCreate, p.TimeExpiration) != offer.FeeCoefficient(my.TimeCreate, my.TimeExpiration) {
			return nil, errUnchangedDataMismatch
		}
		my.Price = p.Price
		my.ShortInfo = p.ShortInfo
		my.Details = p.Details
	} else {
		return nil, fmt.Errorf("offerrpc: offer in status %q is not editable", my.Status)
	}

	if err := s.catalog.UpsertMyOffer(my, 0); err != nil {
		return nil, err
	}
	if my.Hash != hash {
		if err := s.catalog.DeleteMyOffer(hash); err != nil {
			return nil, err
		}
	}
	return myRecordToInfo(my), nil
}

// SendOfferParams is the parameters for send_offer.
type SendOfferParams struct {
	Hash string `json:"hash"`
}

func (s *Server) sendOffer(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p SendOfferParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	hash, err := parseHash(p.Hash)
	if err != nil {
		return nil, err
	}

	var pool offermanager.UnconfirmedSink
	if s.newOffers != nil {
		pool = s.newOffers.InsertOrUpdate
	}
	if err := s.manager.PrepareAndSend(ctx, hash, pool); err != nil {
		return nil, err
	}
	return map[string]bool{"ok": true}, nil
}

// DeleteOfferParams is the parameters for delete_offer.
type DeleteOfferParams struct {
	Hash string `json:"hash"`
}

func (s *Server) deleteOffer(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p DeleteOfferParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	hash, err := parseHash(p.Hash)
	if err != nil {
		return nil, err
	}
	if err := s.manager.Delete(ctx, hash); err != nil {
		return nil, err
	}
	return map[string]bool{"ok": true}, nil
}

// ========================================
// Sync control / settings
// ========================================

// SyncParams is the parameters for sync.
type SyncParams struct {
	Action string `json:"action"` // "status" | "reset" | "force-synced"
}

// SyncStatus is the RPC view of SyncEngine's state.
type SyncStatus struct {
	State    string  `json:"state"`
	Progress float64 `json:"progress"`
}

func (s *Server) sync(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p SyncParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}

	switch p.Action {
	case "", "status":
		return SyncStatus{State: string(s.engine.State()), Progress: s.engine.Progress()}, nil
	case "reset":
		s.engine.Reset(ctx)
		return SyncStatus{State: string(s.engine.State()), Progress: s.engine.Progress()}, nil
	case "force-synced":
		if s.engine.State() != syncengine.Finished {
			return nil, fmt.Errorf("offerrpc: cannot force-synced from state %q", s.engine.State())
		}
		return SyncStatus{State: string(s.engine.State()), Progress: s.engine.Progress()}, nil
	default:
		return nil, fmt.Errorf("offerrpc: unknown sync action %q", p.Action)
	}
}

// SettingsParams is the parameters for settings.
type SettingsParams struct {
	MaxOutput *int `json:"maxoutput,omitempty"`
}

func (s *Server) settings(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p SettingsParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	if p.MaxOutput != nil {
		s.muOutput.Lock()
		s.maxOutput = *p.MaxOutput
		s.muOutput.Unlock()
	}
	s.muOutput.RLock()
	defer s.muOutput.RUnlock()
	return map[string]int{"maxoutput": s.maxOutput}, nil
}
