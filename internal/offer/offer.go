// Package offer defines the canonical offer record, its hashing and
// validation rules, and the fee-transaction binding that anchors every
// offer to an on-chain anti-spam payment.
package offer

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
)

// Type distinguishes a buy intent from a sell intent.
type Type uint8

const (
	Buy Type = iota
	Sell
)

func (t Type) String() string {
	if t == Sell {
		return "sell"
	}
	return "buy"
}

// Payment methods named by the spec; other values are permitted and are
// carried opaquely.
const (
	PaymentMethodCash   uint8 = 1
	PaymentMethodOnline uint8 = 128
)

const (
	// MaxShortInfoLen bounds OfferRecord.ShortInfo in bytes.
	MaxShortInfoLen = 140
	// MaxDetailsLen bounds OfferRecord.Details in bytes.
	MaxDetailsLen = 1024
)

var (
	ErrHashMismatch    = errors.New("offer: hash does not match canonical digest")
	ErrInvalidPubKey   = errors.New("offer: public key is not a valid curve point")
	ErrUnknownCountry  = errors.New("offer: country_iso not found in reference table")
	ErrUnknownCurrency = errors.New("offer: currency_iso not found in reference table")
	ErrBadExpiration   = errors.New("offer: time_expiration must be after time_create")
	ErrFieldTooLong    = errors.New("offer: short_info or details exceeds maximum length")
	ErrMissingEditSign = errors.New("offer: editing_version > 0 requires a valid edit_sign")
	ErrBadEditSign     = errors.New("offer: edit_sign does not verify under pub_key")
)

// ValidationError wraps a Check failure with the misbehavior penalty weight
// the transport should apply against the sender.
type ValidationError struct {
	Reason  error
	Penalty int
}

func (e *ValidationError) Error() string { return e.Reason.Error() }
func (e *ValidationError) Unwrap() error { return e.Reason }

func validationErr(reason error, penalty int) *ValidationError {
	return &ValidationError{Reason: reason, Penalty: penalty}
}

// Record is the canonical offer structure. Hash is always the recomputed
// digest of the immutable identity subset below — PubKey, Type, CountryISO,
// CurrencyISO, PaymentMethod, MinAmount, and TimeCreate — so it survives an
// edit; Price, TimeExpiration, ShortInfo, Details, IDTransaction, and
// EditSign are excluded.
type Record struct {
	PubKey         []byte // compressed secp256k1 public key
	Hash           [32]byte
	IDTransaction  [32]byte // zero value means "no fee tx yet" (draft)
	Type           Type
	CountryISO     string
	CurrencyISO    string
	PaymentMethod  uint8
	Price          uint64
	MinAmount      uint64
	TimeCreate     int64
	TimeExpiration int64
	ShortInfo      string
	Details        string
	EditingVersion uint32
	EditSign       []byte
}

// HasFeeTx reports whether IDTransaction has been set.
func (o *Record) HasFeeTx() bool {
	return o.IDTransaction != [32]byte{}
}

// canonicalBytes produces the deterministic encoding that Hash is computed
// over. Field order is fixed; every variable-length field is length-prefixed
// to avoid ambiguity at concatenation boundaries.
//
// Price, ShortInfo, Details, and TimeExpiration are deliberately excluded:
// those are exactly the fields an edit mutates, and an offer's hash must
// survive an edit so that EditingVersion can move forward under the same
// identity. Their authenticity is covered instead by EditHash.
func canonicalBytes(o *Record) []byte {
	var buf bytes.Buffer

	writeBytes := func(b []byte) {
		var lenBuf [4]byte
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(b)))
		buf.Write(lenBuf[:])
		buf.Write(b)
	}
	writeString := func(s string) { writeBytes([]byte(s)) }
	writeU64 := func(v uint64) {
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], v)
		buf.Write(b[:])
	}
	writeI64 := func(v int64) { writeU64(uint64(v)) }

	writeBytes(o.PubKey)
	buf.WriteByte(byte(o.Type))
	writeString(o.CountryISO)
	writeString(o.CurrencyISO)
	buf.WriteByte(o.PaymentMethod)
	writeU64(o.MinAmount)
	writeI64(o.TimeCreate)

	return buf.Bytes()
}

// ComputeHash returns the content hash of the offer's immutable identity
// fields — the subset an edit never changes.
func ComputeHash(o *Record) [32]byte {
	return sha256.Sum256(canonicalBytes(o))
}

// EditHash is the canonical digest over (hash, editing_version, price,
// short_info, details, time_expiration) — the payload an edit signature
// authenticates.
func EditHash(o *Record) [32]byte {
	var buf bytes.Buffer
	buf.Write(o.Hash[:])
	var vbuf [4]byte
	binary.BigEndian.PutUint32(vbuf[:], o.EditingVersion)
	buf.Write(vbuf[:])
	var pbuf [8]byte
	binary.BigEndian.PutUint64(pbuf[:], o.Price)
	buf.Write(pbuf[:])
	buf.WriteString(o.ShortInfo)
	buf.WriteString(o.Details)
	var ebuf [8]byte
	binary.BigEndian.PutUint64(ebuf[:], uint64(o.TimeExpiration))
	buf.Write(ebuf[:])
	return sha256.Sum256(buf.Bytes())
}

// New builds a Record and computes its Hash deterministically.
func New(pubKey []byte, typ Type, countryISO, currencyISO string, paymentMethod uint8,
	price, minAmount uint64, timeCreate, timeExpiration int64, shortInfo, details string) *Record {
	o := &Record{
		PubKey:         pubKey,
		Type:           typ,
		CountryISO:     countryISO,
		CurrencyISO:    currencyISO,
		PaymentMethod:  paymentMethod,
		Price:          price,
		MinAmount:      minAmount,
		TimeCreate:     timeCreate,
		TimeExpiration: timeExpiration,
		ShortInfo:      shortInfo,
		Details:        details,
	}
	o.Hash = ComputeHash(o)
	return o
}

// ReferenceTables is the minimal read-only surface Check needs from
// CatalogStore's country/currency seed tables.
type ReferenceTables interface {
	CountryEnabled(iso string) bool
	CurrencyEnabled(iso string) bool
}

// Check validates field bounds, reference-table membership, and (when
// EditingVersion > 0) the edit signature. strict additionally requires a
// non-zero fee transaction id (used once an offer is expected to be bound).
func (o *Record) Check(strict bool, refs ReferenceTables, verifier *Verifier) error {
	if o.Hash != ComputeHash(o) {
		return validationErr(ErrHashMismatch, 100)
	}
	pub, err := parsePubKey(o.PubKey)
	if err != nil || pub == nil {
		return validationErr(ErrInvalidPubKey, 100)
	}
	if refs != nil {
		if !refs.CountryEnabled(o.CountryISO) {
			return validationErr(ErrUnknownCountry, 10)
		}
		if !refs.CurrencyEnabled(o.CurrencyISO) {
			return validationErr(ErrUnknownCurrency, 10)
		}
	}
	if o.TimeExpiration <= o.TimeCreate {
		return validationErr(ErrBadExpiration, 20)
	}
	if len(o.ShortInfo) > MaxShortInfoLen || len(o.Details) > MaxDetailsLen {
		return validationErr(ErrFieldTooLong, 20)
	}
	if o.EditingVersion > 0 {
		if len(o.EditSign) == 0 {
			return validationErr(ErrMissingEditSign, 50)
		}
		if verifier == nil || !verifier.VerifyEdit(o) {
			return validationErr(ErrBadEditSign, 100)
		}
	}
	if strict && !o.HasFeeTx() {
		return validationErr(fmt.Errorf("offer: fee transaction required"), 0)
	}
	return nil
}

// FeeCoefficient returns the fee multiplier for an offer's validity window,
// matching the original implementation's integer-division ceiling exactly:
// days = ((expiration-create-1)/86400)+1; coef = ((days-1)/10)+1.
func FeeCoefficient(timeCreate, timeExpiration int64) int {
	days := ((timeExpiration-timeCreate-1)/86400 + 1)
	if days < 1 {
		days = 1
	}
	return int((days-1)/10 + 1)
}
