package catalog

import "fmt"

// defaultCountries and defaultCurrencies seed a minimal, uncontroversial
// starting set. Operators extend or retire entries via SetCountryEnabled /
// SetCurrencyEnabled and inspect the full table with Countries / Currencies;
// nothing here is load-bearing for protocol correctness, only for
// Record.Check's reference-table lookups.
var defaultCountries = []struct{ iso, name string }{
	{"US", "United States"},
	{"RU", "Russia"},
	{"DE", "Germany"},
	{"GB", "United Kingdom"},
	{"UA", "Ukraine"},
}

var defaultCurrencies = []struct{ iso, name string }{
	{"USD", "US Dollar"},
	{"EUR", "Euro"},
	{"RUB", "Russian Ruble"},
	{"GBP", "Pound Sterling"},
}

var defaultPaymentMethods = []struct {
	code uint8
	name string
}{
	{1, "cash"},
	{128, "online"},
}

func (s *Store) seedReferenceTables() error {
	var count int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM countries").Scan(&count); err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, c := range defaultCountries {
		if _, err := tx.Exec("INSERT INTO countries (iso, name, enabled) VALUES (?, ?, 1)", c.iso, c.name); err != nil {
			return err
		}
	}
	for _, c := range defaultCurrencies {
		if _, err := tx.Exec("INSERT INTO currencies (iso, name, enabled) VALUES (?, ?, 1)", c.iso, c.name); err != nil {
			return err
		}
	}
	for _, m := range defaultPaymentMethods {
		if _, err := tx.Exec("INSERT INTO payment_methods (code, name, enabled) VALUES (?, ?, 1)", m.code, m.name); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// CountryEnabled implements offer.ReferenceTables.
func (s *Store) CountryEnabled(iso string) bool {
	return s.referenceEnabled("countries", "iso", iso)
}

// CurrencyEnabled implements offer.ReferenceTables.
func (s *Store) CurrencyEnabled(iso string) bool {
	return s.referenceEnabled("currencies", "iso", iso)
}

func (s *Store) referenceEnabled(table, keyCol, key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var enabled bool
	query := fmt.Sprintf("SELECT enabled FROM %s WHERE %s = ?", table, keyCol)
	if err := s.db.QueryRow(query, key).Scan(&enabled); err != nil {
		return false
	}
	return enabled
}

// Country is a reference-table row describing a tradeable jurisdiction.
type Country struct {
	ISO     string
	Name    string
	Enabled bool
}

// Currency is a reference-table row describing a tradeable currency.
type Currency struct {
	ISO     string
	Name    string
	Enabled bool
}

// PaymentMethod is a reference-table row describing an accepted payment
// rail, keyed by the same bitmask codes as Record.PaymentMethod.
type PaymentMethod struct {
	Code    uint8
	Name    string
	Enabled bool
}

// Countries lists every configured country, enabled or not.
func (s *Store) Countries() ([]Country, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query("SELECT iso, name, enabled FROM countries ORDER BY iso")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Country
	for rows.Next() {
		var c Country
		if err := rows.Scan(&c.ISO, &c.Name, &c.Enabled); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Currencies lists every configured currency, enabled or not.
func (s *Store) Currencies() ([]Currency, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query("SELECT iso, name, enabled FROM currencies ORDER BY iso")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Currency
	for rows.Next() {
		var c Currency
		if err := rows.Scan(&c.ISO, &c.Name, &c.Enabled); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// PaymentMethods lists every configured payment method.
func (s *Store) PaymentMethods() ([]PaymentMethod, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query("SELECT code, name, enabled FROM payment_methods ORDER BY code")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PaymentMethod
	for rows.Next() {
		var m PaymentMethod
		if err := rows.Scan(&m.Code, &m.Name, &m.Enabled); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// SetCountryEnabled toggles a country's membership without removing its
// row, so historical offers referencing it remain displayable.
func (s *Store) SetCountryEnabled(iso string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(
		"INSERT INTO countries (iso, name, enabled) VALUES (?, ?, ?) ON CONFLICT(iso) DO UPDATE SET enabled=excluded.enabled",
		iso, iso, enabled,
	)
	return err
}

// SetCurrencyEnabled toggles a currency's membership.
func (s *Store) SetCurrencyEnabled(iso string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(
		"INSERT INTO currencies (iso, name, enabled) VALUES (?, ?, ?) ON CONFLICT(iso) DO UPDATE SET enabled=excluded.enabled",
		iso, iso, enabled,
	)
	return err
}

// FilterPreset is a named, saved search filter a client can recall by
// name instead of re-specifying country/currency/method each time.
type FilterPreset struct {
	Name          string
	Country       string
	Currency      string
	PaymentMethod *uint8
}

// SaveFilterPreset inserts or replaces a named filter preset.
func (s *Store) SaveFilterPreset(p FilterPreset) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`
		INSERT INTO filter_presets (name, country_iso, currency_iso, payment_method)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			country_iso=excluded.country_iso,
			currency_iso=excluded.currency_iso,
			payment_method=excluded.payment_method
	`, p.Name, p.Country, p.Currency, p.PaymentMethod)
	return err
}

// DeleteFilterPreset removes a named preset.
func (s *Store) DeleteFilterPreset(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.Exec("DELETE FROM filter_presets WHERE name = ?", name)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// FilterPresets lists every saved preset.
func (s *Store) FilterPresets() ([]FilterPreset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query("SELECT name, country_iso, currency_iso, payment_method FROM filter_presets ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []FilterPreset
	for rows.Next() {
		var p FilterPreset
		var method *uint8
		if err := rows.Scan(&p.Name, &p.Country, &p.Currency, &method); err != nil {
			return nil, err
		}
		p.PaymentMethod = method
		out = append(out, p)
	}
	return out, rows.Err()
}
