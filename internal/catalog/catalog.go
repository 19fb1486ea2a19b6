// Package catalog implements CatalogStore: the durable relational catalog
// of confirmed buy/sell offers, locally authored offers, and the reference
// tables offers are validated against.
package catalog

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Store is the persistent, single-writer catalog of offers.
type Store struct {
	db     *sql.DB
	dbPath string
	mu     sync.RWMutex

	subMu sync.Mutex
	subs  []chan ChangeEvent
}

// Config holds catalog storage configuration.
type Config struct {
	DataDir string
}

// New opens (creating if necessary) the catalog database under
// cfg.DataDir, in WAL mode with single-writer discipline, matching the
// teacher's storage package exactly.
func New(cfg *Config) (*Store, error) {
	dataDir := expandPath(cfg.DataDir)

	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("catalog: create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "catalog.db")

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("catalog: open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("catalog: ping database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	s := &Store{db: db, dbPath: dbPath}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("catalog: initialize schema: %w", err)
	}

	if err := s.seedReferenceTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("catalog: seed reference tables: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB, for callers (tests, migrations) that
// need direct access.
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) initSchema() error {
	const offerColumns = `
		hash TEXT PRIMARY KEY,
		pub_key TEXT NOT NULL,
		id_transaction TEXT,
		country_iso TEXT NOT NULL,
		currency_iso TEXT NOT NULL,
		payment_method INTEGER NOT NULL,
		price INTEGER NOT NULL,
		min_amount INTEGER NOT NULL,
		time_create INTEGER NOT NULL,
		time_expiration INTEGER NOT NULL,
		short_info TEXT,
		details TEXT,
		editing_version INTEGER NOT NULL DEFAULT 0,
		edit_sign TEXT,
		time_modification INTEGER NOT NULL
	`

	schema := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS offers_buy (%s);
	CREATE INDEX IF NOT EXISTS idx_offers_buy_time_mod ON offers_buy(time_modification);
	CREATE INDEX IF NOT EXISTS idx_offers_buy_time_create ON offers_buy(time_create);
	CREATE INDEX IF NOT EXISTS idx_offers_buy_country ON offers_buy(country_iso);
	CREATE INDEX IF NOT EXISTS idx_offers_buy_currency ON offers_buy(currency_iso);

	CREATE TABLE IF NOT EXISTS offers_sell (%s);
	CREATE INDEX IF NOT EXISTS idx_offers_sell_time_mod ON offers_sell(time_modification);
	CREATE INDEX IF NOT EXISTS idx_offers_sell_time_create ON offers_sell(time_create);
	CREATE INDEX IF NOT EXISTS idx_offers_sell_country ON offers_sell(country_iso);
	CREATE INDEX IF NOT EXISTS idx_offers_sell_currency ON offers_sell(currency_iso);

	CREATE TABLE IF NOT EXISTS my_offers (
		%s,
		type INTEGER NOT NULL,
		status TEXT NOT NULL DEFAULT 'draft'
	);
	CREATE INDEX IF NOT EXISTS idx_my_offers_status ON my_offers(status);

	CREATE TABLE IF NOT EXISTS countries (
		iso TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		enabled INTEGER NOT NULL DEFAULT 1
	);

	CREATE TABLE IF NOT EXISTS currencies (
		iso TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		enabled INTEGER NOT NULL DEFAULT 1
	);

	CREATE TABLE IF NOT EXISTS payment_methods (
		code INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		enabled INTEGER NOT NULL DEFAULT 1
	);

	CREATE TABLE IF NOT EXISTS filter_presets (
		name TEXT PRIMARY KEY,
		country_iso TEXT,
		currency_iso TEXT,
		payment_method INTEGER
	);

	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT
	);
	`, offerColumns, offerColumns, offerColumns)

	_, err := s.db.Exec(schema)
	return err
}

// expandPath expands a leading ~ to the user's home directory, matching the
// small helper duplicated across the teacher's packages rather than
// centralized into a shared utility.
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[1:])
	}
	return path
}
