package catalog

import (
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/offermesh/offerd/internal/offer"
)

// UpsertMyOffer inserts or replaces a row in my_offers.
func (s *Store) UpsertMyOffer(o *offer.MyRecord, explicitModTime int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	modTime := explicitModTime
	if modTime == 0 {
		modTime = nowUnix()
	}

	query := `
		INSERT INTO my_offers (hash, pub_key, id_transaction, country_iso, currency_iso,
			payment_method, price, min_amount, time_create, time_expiration,
			short_info, details, editing_version, edit_sign, time_modification, type, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
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
			time_modification=excluded.time_modification,
			type=excluded.type,
			status=excluded.status
	`
	_, err := s.db.Exec(query,
		hexHash(o.Hash), hex.EncodeToString(o.PubKey), nullableHex(o.IDTransaction),
		o.CountryISO, o.CurrencyISO, o.PaymentMethod, o.Price, o.MinAmount,
		o.TimeCreate, o.TimeExpiration, o.ShortInfo, o.Details,
		o.EditingVersion, hex.EncodeToString(o.EditSign), modTime,
		int(o.Type), string(o.Status),
	)
	if err != nil {
		s.notify("my_offers", OpUpsert, StatusFailed)
		return fmt.Errorf("catalog: upsert my_offers: %w", err)
	}
	s.notify("my_offers", OpUpsert, StatusOK)
	return nil
}

// GetMyOfferByHash fetches a single my_offers row.
func (s *Store) GetMyOfferByHash(hash [32]byte) (*offer.MyRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := fmt.Sprintf("SELECT %s, type, status FROM my_offers WHERE hash = ?", offerSelectColumns)
	row := s.db.QueryRow(query, hexHash(hash))

	var typ int
	var status string
	var hashHex, pubKeyHex, editSignHex string
	var idTxHex sql.NullString
	var m offer.MyRecord

	err := row.Scan(&hashHex, &pubKeyHex, &idTxHex, &m.CountryISO, &m.CurrencyISO,
		&m.PaymentMethod, &m.Price, &m.MinAmount, &m.TimeCreate, &m.TimeExpiration,
		&m.ShortInfo, &m.Details, &m.EditingVersion, &editSignHex, &typ, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("catalog: get my_offer: %w", err)
	}

	h, err := hashFromHex(hashHex)
	if err != nil {
		return nil, err
	}
	m.Hash = h
	if m.PubKey, err = hex.DecodeString(pubKeyHex); err != nil {
		return nil, err
	}
	if editSignHex != "" {
		if m.EditSign, err = hex.DecodeString(editSignHex); err != nil {
			return nil, err
		}
	}
	if idTxHex.Valid {
		tx, err := hashFromHex(idTxHex.String)
		if err != nil {
			return nil, err
		}
		m.IDTransaction = tx
	}
	m.Type = offer.Type(typ)
	m.Status = offer.MyStatus(status)
	return &m, nil
}

// IsExistMyOfferByHash reports whether hash is present in my_offers.
func (s *Store) IsExistMyOfferByHash(hash [32]byte) bool {
	_, err := s.GetMyOfferByHash(hash)
	return err == nil
}

// ListMyOffers returns my_offers rows matching filter (country/currency/
// method/status), ordered like List.
func (s *Store) ListMyOffers(filter Filter) ([]*offer.MyRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := fmt.Sprintf("SELECT %s, type, status FROM my_offers WHERE 1=1", offerSelectColumns)
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
	if filter.Status != nil {
		query += " AND status = ?"
		args = append(args, string(*filter.Status))
	}
	query += " ORDER BY time_create DESC, hash DESC"
	if filter.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, filter.Limit, filter.Offset)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("catalog: list my_offers: %w", err)
	}
	defer rows.Close()

	var out []*offer.MyRecord
	for rows.Next() {
		var typ int
		var status string
		var hashHex, pubKeyHex, editSignHex string
		var idTxHex sql.NullString
		var m offer.MyRecord

		if err := rows.Scan(&hashHex, &pubKeyHex, &idTxHex, &m.CountryISO, &m.CurrencyISO,
			&m.PaymentMethod, &m.Price, &m.MinAmount, &m.TimeCreate, &m.TimeExpiration,
			&m.ShortInfo, &m.Details, &m.EditingVersion, &editSignHex, &typ, &status); err != nil {
			return nil, err
		}
		h, err := hashFromHex(hashHex)
		if err != nil {
			return nil, err
		}
		m.Hash = h
		if m.PubKey, err = hex.DecodeString(pubKeyHex); err != nil {
			return nil, err
		}
		if editSignHex != "" {
			if m.EditSign, err = hex.DecodeString(editSignHex); err != nil {
				return nil, err
			}
		}
		if idTxHex.Valid {
			tx, err := hashFromHex(idTxHex.String)
			if err != nil {
				return nil, err
			}
			m.IDTransaction = tx
		}
		m.Type = offer.Type(typ)
		m.Status = offer.MyStatus(status)
		out = append(out, &m)
	}
	return out, rows.Err()
}

// SetMyOfferStatus validates and applies a status transition, or returns
// an error if the transition is not allowed.
func (s *Store) SetMyOfferStatus(hash [32]byte, to offer.MyStatus) error {
	existing, err := s.GetMyOfferByHash(hash)
	if err != nil {
		return err
	}
	next, err := offer.TransitionMyStatus(existing.Status, to)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.Exec("UPDATE my_offers SET status = ? WHERE hash = ?", string(next), hexHash(hash))
	if err != nil {
		s.notify("my_offers", OpUpdateStatus, StatusFailed)
		return fmt.Errorf("catalog: set my_offer status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	s.notify("my_offers", OpUpdateStatus, StatusOK)
	return nil
}

// DeleteMyOffer removes a my_offers row.
func (s *Store) DeleteMyOffer(hash [32]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec("DELETE FROM my_offers WHERE hash = ?", hexHash(hash))
	if err != nil {
		s.notify("my_offers", OpDelete, StatusFailed)
		return fmt.Errorf("catalog: delete my_offer: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	s.notify("my_offers", OpDelete, StatusOK)
	return nil
}

// PurgeOldMyOffers hard-deletes terminal-state (Cancelled/Expired) my_offers
// rows last modified before the cutoff, returning the count removed.
func (s *Store) PurgeOldMyOffers(cutoff int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(
		"DELETE FROM my_offers WHERE status IN (?, ?) AND time_modification < ?",
		string(offer.StatusCancelled), string(offer.StatusExpired), cutoff,
	)
	if err != nil {
		s.notify("my_offers", OpSweep, StatusFailed)
		return 0, fmt.Errorf("catalog: purge old my_offers: %w", err)
	}
	n, _ := res.RowsAffected()
	s.notify("my_offers", OpSweep, StatusOK)
	return n, nil
}

// SetExpiredMyOffers marks every Active my_offers row whose time_expiration
// has passed as Expired, returning the count updated.
func (s *Store) SetExpiredMyOffers(now int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(
		"UPDATE my_offers SET status = ? WHERE status = ? AND time_expiration < ?",
		string(offer.StatusExpired), string(offer.StatusActive), now,
	)
	if err != nil {
		s.notify("my_offers", OpUpdateStatus, StatusFailed)
		return 0, fmt.Errorf("catalog: expire my_offers: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		s.notify("my_offers", OpUpdateStatus, StatusOK)
	}
	return n, nil
}
