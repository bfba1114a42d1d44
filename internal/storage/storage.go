// Package storage keeps the trade ledger in SQLite.
package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/peertrade/peertrade/pkg/logging"
)

// LedgerFileName is the database file inside the data directory.
const LedgerFileName = "ledger.db"

// errCorrupt marks a database that opened but failed its integrity check.
var errCorrupt = errors.New("ledger database is corrupt")

// Storage is the trade ledger.
type Storage struct {
	db     *sql.DB
	dbPath string
	log    *logging.Logger
	mu     sync.RWMutex
}

// Config holds storage configuration.
type Config struct {
	DataDir string
	Log     *logging.Logger
}

// New opens the ledger in cfg.DataDir, creating it if needed. A database
// file that cannot be read as a ledger is moved aside and a fresh ledger
// is created in its place.
func New(cfg *Config) (*Storage, error) {
	dataDir := expandPath(cfg.DataDir)
	log := logging.OrDefault(cfg.Log, "ledger")

	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, LedgerFileName)

	s, err := open(dbPath, log)
	if err == nil {
		return s, nil
	}
	if !isCorrupt(err) {
		return nil, err
	}

	aside := fmt.Sprintf("%s.corrupt-%d", dbPath, time.Now().Unix())
	log.Error("Ledger unreadable, moving it aside and starting a new one", "path", dbPath, "moved_to", aside, "error", err)
	if err := os.Rename(dbPath, aside); err != nil {
		return nil, fmt.Errorf("failed to move corrupt ledger aside: %w", err)
	}
	for _, suffix := range []string{"-wal", "-shm"} {
		_ = os.Rename(dbPath+suffix, aside+suffix)
	}

	return open(dbPath, log)
}

func open(dbPath string, log *logging.Logger) (*Storage, error) {
	// FULL sync: a committed write survives power loss.
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=FULL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite only supports one writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	s := &Storage{
		db:     db,
		dbPath: dbPath,
		log:    log,
	}

	if err := s.checkIntegrity(); err != nil {
		db.Close()
		return nil, err
	}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Storage) Close() error {
	return s.db.Close()
}

// DB returns the underlying database connection.
func (s *Storage) DB() *sql.DB {
	return s.db
}

// Path returns the database file path.
func (s *Storage) Path() string {
	return s.dbPath
}

func (s *Storage) checkIntegrity() error {
	var result string
	if err := s.db.QueryRow("PRAGMA quick_check").Scan(&result); err != nil {
		return fmt.Errorf("failed to check ledger integrity: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("%w: %s", errCorrupt, result)
	}
	return nil
}

// initSchema creates the ledger tables.
func (s *Storage) initSchema() error {
	schema := `
	-- One row per trade, keyed by <receive address>_<send address>
	CREATE TABLE IF NOT EXISTS trades (
		key TEXT PRIMARY KEY,
		status TEXT NOT NULL DEFAULT 'incomplete',

		-- Whitespace-free tokens for replay detection
		token_norm TEXT,
		counterparty_token_norm TEXT,

		-- Latest settlement run
		run_id TEXT,

		-- Full trade parameter set (JSON)
		snapshot TEXT NOT NULL,

		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_trades_status ON trades(status);
	CREATE INDEX IF NOT EXISTS idx_trades_token ON trades(token_norm);
	CREATE INDEX IF NOT EXISTS idx_trades_cp_token ON trades(counterparty_token_norm);
	`

	_, err := s.db.Exec(schema)
	return err
}

// isCorrupt reports whether err means the file is not a usable ledger.
func isCorrupt(err error) bool {
	if errors.Is(err, errCorrupt) {
		return true
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrCorrupt || sqliteErr.Code == sqlite3.ErrNotADB
	}
	msg := err.Error()
	return strings.Contains(msg, "file is not a database") || strings.Contains(msg, "malformed")
}

// expandPath expands ~ to home directory.
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[1:])
	}
	return path
}
