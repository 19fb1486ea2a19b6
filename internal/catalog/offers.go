package catalog

import (
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/offermesh/offerd/internal/offer"
)

// ErrNotFound is returned by the Store's error-returning lookups and
// deletes (DeleteByHash, GetMyOfferByHash, DeleteMyOffer and the like)
// when the target row is absent; GetByHash reports absence via its bool.
var ErrNotFound = errors.New("catalog: offer not found")

// Period selects which side of pivotTime HashesAndVersions enumerates.
type Period int

const (
	PeriodAll Period = iota
	PeriodBefore
	PeriodAfter
	PeriodYoungTimeMod
)

// Filter is the AND-combined predicate set accepted by List and Count.
type Filter struct {
	Country       string
	Currency      string
	PaymentMethod *uint8
	Status        *offer.MyStatus // only meaningful against my_offers
	Limit         int             // 0 means unlimited
	Offset        int
}

func tableFor(t offer.Type) string {
	if t == offer.Sell {
		return "offers_sell"
	}
	return "offers_buy"
}

// HashVersion is a lightweight (hash, editing_version) pair, the unit
// exchanged during SyncEngine's Phase 1 inventory exchange.
type HashVersion struct {
	Hash    [32]byte
	Version uint32
}

func hexHash(h [32]byte) string { return hex.EncodeToString(h[:]) }

func hashFromHex(s string) ([32]byte, error) {
	var h [32]byte
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != 32 {
		return h, fmt.Errorf("catalog: malformed hash %q", s)
	}
	copy(h[:], b)
	return h, nil
}

func nullableHex(h [32]byte) sql.NullString {
	if h == ([32]byte{}) {
		return sql.NullString{}
	}
	return sql.NullString{String: hexHash(h), Valid: true}
}

// upsert inserts or replaces a row keyed by hash, in the named offer table.
// time_modification is set to now unless explicitModTime is non-zero.
func (s *Store) upsert(table string, o *offer.Record, explicitModTime int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	modTime := explicitModTime
	if modTime == 0 {
		modTime = time.Now().Unix()
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (hash, pub_key, id_transaction, country_iso, currency_iso,
			payment_method, price, min_amount, time_create, time_expiration,
			short_info, details, editing_version, edit_sign, time_modification)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(hash) DO UPDATE SET
			pub_key=excluded.pub_key,
			id_transaction=excluded.id_transaction,
			country_iso=excluded.country_iso,
			currency_iso=excluded.currency_iso,
			payment_method=excluded.payment_method,
			price=excluded.price,
			min_amount=excluded.min_amount,
			time_create=excluded.time_create,
			time_expiration=excluded.time_expiration,
			short_info=excluded.short_info,
			details=excluded.details,
			editing_version=excluded.editing_version,
			edit_sign=excluded.edit_sign,
			time_modification=excluded.time_modification
	`, table)

	_, err := s.db.Exec(query,
		hexHash(o.Hash), hex.EncodeToString(o.PubKey), nullableHex(o.IDTransaction),
		o.CountryISO, o.CurrencyISO, o.PaymentMethod, o.Price, o.MinAmount,
		o.TimeCreate, o.TimeExpiration, o.ShortInfo, o.Details,
		o.EditingVersion, hex.EncodeToString(o.EditSign), modTime,
	)
	if err != nil {
		s.notify(table, OpUpsert, StatusFailed)
		return fmt.Errorf("catalog: upsert %s: %w", table, err)
	}
	s.notify(table, OpUpsert, StatusOK)
	return nil
}

// UpsertBuy inserts or replaces a buy offer. explicitModTime of 0 means
// "use current server time".
func (s *Store) UpsertBuy(o *offer.Record, explicitModTime int64) error {
	return s.upsert("offers_buy", o, explicitModTime)
}

// UpsertSell inserts or replaces a sell offer.
func (s *Store) UpsertSell(o *offer.Record, explicitModTime int64) error {
	return s.upsert("offers_sell", o, explicitModTime)
}

func scanOffer(row interface {
	Scan(dest ...interface{}) error
}) (*offer.Record, error) {
	var (
		hashHex, pubKeyHex, editSignHex string
		idTxHex                         sql.NullString
		o                               offer.Record
	)
	if err := row.Scan(&hashHex, &pubKeyHex, &idTxHex, &o.CountryISO, &o.CurrencyISO,
		&o.PaymentMethod, &o.Price, &o.MinAmount, &o.TimeCreate, &o.TimeExpiration,
		&o.ShortInfo, &o.Details, &o.EditingVersion, &editSignHex); err != nil {
		return nil, err
	}
	h, err := hashFromHex(hashHex)
	if err != nil {
		return nil, err
	}
	o.Hash = h
	if o.PubKey, err = hex.DecodeString(pubKeyHex); err != nil {
		return nil, err
	}
	if editSignHex != "" {
		if o.EditSign, err = hex.DecodeString(editSignHex); err != nil {
			return nil, err
		}
	}
	if idTxHex.Valid {
		tx, err := hashFromHex(idTxHex.String)
		if err != nil {
			return nil, err
		}
		o.IDTransaction = tx
	}
	return &o, nil
}

const offerSelectColumns = `hash, pub_key, id_transaction, country_iso, currency_iso,
	payment_method, price, min_amount, time_create, time_expiration,
	short_info, details, editing_version, edit_sign`

// getByHash looks up a single row by hash in the named table.
func (s *Store) getByHash(table string, hash [32]byte) (*offer.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := fmt.Sprintf("SELECT %s FROM %s WHERE hash = ?", offerSelectColumns, table)
	row := s.db.QueryRow(query, hexHash(hash))
	o, err := scanOffer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("catalog: get %s: %w", table, err)
	}
	o.Type = typeForTable(table)
	return o, nil
}

func typeForTable(table string) offer.Type {
	if table == "offers_sell" {
		return offer.Sell
	}
	return offer.Buy
}

// GetByHash looks up a confirmed offer by hash, checking both sides.
func (s *Store) GetByHash(hash [32]byte) (*offer.Record, bool) {
	if o, err := s.getByHash("offers_buy", hash); err == nil {
		return o, true
	}
	if o, err := s.getByHash("offers_sell", hash); err == nil {
		return o, true
	}
	return nil, false
}

// ExistsByHash reports whether hash is present in either confirmed table.
func (s *Store) ExistsByHash(hash [32]byte) bool {
	_, ok := s.GetByHash(hash)
	return ok
}

// IsExistBuyByHash / IsExistSellByHash support type-specific existence
// checks, needed by OfferManager and SyncEngine which always know the
// offer's declared type.
func (s *Store) IsExistBuyByHash(hash [32]byte) bool {
	_, err := s.getByHash("offers_buy", hash)
	return err == nil
}

func (s *Store) IsExistSellByHash(hash [32]byte) bool {
	_, err := s.getByHash("offers_sell", hash)
	return err == nil
}

// DeleteByHash removes an offer row from whichever confirmed table holds
// it.
func (s *Store) DeleteByHash(hash [32]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, table := range []string{"offers_buy", "offers_sell"} {
		res, err := s.db.Exec(fmt.Sprintf("DELETE FROM %s WHERE hash = ?", table), hexHash(hash))
		if err != nil {
			s.notify(table, OpDelete, StatusFailed)
			return fmt.Errorf("catalog: delete from %s: %w", table, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			s.notify(table, OpDelete, StatusOK)
			return nil
		}
	}
	return ErrNotFound
}

// List returns offers of the given type matching filter, ordered by
// time_create descending with hash as a tiebreak.
func (s *Store) List(t offer.Type, filter Filter) ([]*offer.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	table := tableFor(t)
	query := fmt.Sprintf("SELECT %s FROM %s WHERE 1=1", offerSelectColumns, table)
	var args []interface{}

	if filter.Country != "" {
		query += " AND country_iso = ?"
		args = append(args, filter.Country)
	}
	if filter.Currency != "" {
		query += " AND currency_iso = ?"
		args = append(args, filter.Currency)
	}
	if filter.PaymentMethod != nil {
		query += " AND payment_method = ?"
		args = append(args, *filter.PaymentMethod)
	}
	query += " ORDER BY time_create DESC, hash DESC"
	if filter.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, filter.Limit, filter.Offset)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("catalog: list %s: %w", table, err)
	}
	defer rows.Close()

	var out []*offer.Record
	for rows.Next() {
		o, err := scanOffer(rows)
		if err != nil {
			return nil, err
		}
		o.Type = t
		out = append(out, o)
	}
	return out, rows.Err()
}

// Count returns the number of offers matching filter, ignoring Limit/Offset.
func (s *Store) Count(t offer.Type, filter Filter) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	table := tableFor(t)
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE 1=1", table)
	var args []interface{}

	if filter.Country != "" {
		query += " AND country_iso = ?"
		args = append(args, filter.Country)
	}
	if filter.Currency != "" {
		query += " AND currency_iso = ?"
		args = append(args, filter.Currency)
	}
	if filter.PaymentMethod != nil {
		query += " AND payment_method = ?"
		args = append(args, *filter.PaymentMethod)
	}

	var n int
	if err := s.db.QueryRow(query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("catalog: count %s: %w", table, err)
	}
	return n, nil
}

// lastModification returns the max time_modification in table, or 0 if
// empty.
func (s *Store) lastModification(table string) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n sql.NullInt64
	err := s.db.QueryRow(fmt.Sprintf("SELECT MAX(time_modification) FROM %s", table)).Scan(&n)
	if err != nil {
		return 0, err
	}
	if !n.Valid {
		return 0, nil
	}
	return uint64(n.Int64), nil
}

// LastModificationBuy returns the highest time_modification across
// offers_buy.
func (s *Store) LastModificationBuy() (uint64, error) { return s.lastModification("offers_buy") }

// LastModificationSell returns the highest time_modification across
// offers_sell.
func (s *Store) LastModificationSell() (uint64, error) { return s.lastModification("offers_sell") }

// HashesAndVersions enumerates (hash, editing_version) pairs from both
// offers_buy and offers_sell, filtered per period relative to pivotTime.
func (s *Store) HashesAndVersions(period Period, pivotTime uint64) ([]HashVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []HashVersion
	for _, table := range []string{"offers_buy", "offers_sell"} {
		query := fmt.Sprintf("SELECT hash, editing_version FROM %s", table)
		var args []interface{}
		switch period {
		case PeriodBefore:
			query += " WHERE time_modification < ?"
			args = append(args, pivotTime)
		case PeriodAfter, PeriodYoungTimeMod:
			query += " WHERE time_modification > ?"
			args = append(args, pivotTime)
		}
		rows, err := s.db.Query(query, args...)
		if err != nil {
			return nil, fmt.Errorf("catalog: hashes_and_versions %s: %w", table, err)
		}
		for rows.Next() {
			var hashHex string
			var version uint32
			if err := rows.Scan(&hashHex, &version); err != nil {
				rows.Close()
				return nil, err
			}
			h, err := hashFromHex(hashHex)
			if err != nil {
				rows.Close()
				return nil, err
			}
			out = append(out, HashVersion{Hash: h, Version: version})
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()
	}
	return out, nil
}

// SweepExpired removes offers (from both confirmed tables) whose
// time_expiration has passed, returning the number of rows removed.
func (s *Store) SweepExpired(now int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var total int64
	for _, table := range []string{"offers_buy", "offers_sell"} {
		res, err := s.db.Exec(fmt.Sprintf("DELETE FROM %s WHERE time_expiration < ?", table), now)
		if err != nil {
			s.notify(table, OpSweep, StatusFailed)
			return total, fmt.Errorf("catalog: sweep %s: %w", table, err)
		}
		n, _ := res.RowsAffected()
		total += n
		if n > 0 {
			s.notify(table, OpSweep, StatusOK)
		}
	}
	return total, nil
}
