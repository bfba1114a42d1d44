package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/peertrade/peertrade/internal/token"
	"github.com/peertrade/peertrade/internal/trade"
)

// Trade errors
var (
	ErrTradeNotFound = errors.New("trade not found")
	ErrEmptyKey      = errors.New("trade key is empty")
)

// Entry is one ledger row.
type Entry struct {
	Key       string
	Status    trade.Status
	Snapshot  *trade.Config
	RunID     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
	QueryRow(query string, args ...interface{}) *sql.Row
}

// Upsert stores snapshot under key with status. The write is a single
// transaction: after a crash the row holds either the old or the new value.
func (s *Storage) Upsert(key string, snapshot *trade.Config, status trade.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin ledger write: %w", err)
	}
	if err := upsertTx(tx, key, snapshot, status, time.Now()); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit ledger write: %w", err)
	}
	return nil
}

func upsertTx(db execer, key string, snapshot *trade.Config, status trade.Status, now time.Time) error {
	if key == "" {
		return ErrEmptyKey
	}

	snap := snapshot.Clone()
	snap.Status = status
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to encode trade snapshot: %w", err)
	}

	_, err = db.Exec(`
		INSERT INTO trades (key, status, token_norm, counterparty_token_norm, snapshot, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			status = excluded.status,
			token_norm = excluded.token_norm,
			counterparty_token_norm = excluded.counterparty_token_norm,
			snapshot = excluded.snapshot,
			updated_at = excluded.updated_at
	`,
		key, string(status),
		nullString(token.Normalize(snap.Token)),
		nullString(token.Normalize(snap.CounterpartyToken)),
		string(data), now.Unix(), now.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert trade %s: %w", key, err)
	}
	return nil
}

// SetStatus changes the status of an existing trade.
func (s *Storage) SetStatus(key string, status trade.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin ledger write: %w", err)
	}
	defer tx.Rollback()

	e, err := getTx(tx, key)
	if err != nil {
		return err
	}
	if err := upsertTx(tx, key, e.Snapshot, status, time.Now()); err != nil {
		return err
	}
	return tx.Commit()
}

// RecordRun stores the id of the settlement run working on key.
func (s *Storage) RecordRun(key, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`UPDATE trades SET run_id = ?, updated_at = ? WHERE key = ?`, runID, time.Now().Unix(), key)
	if err != nil {
		return fmt.Errorf("failed to record run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrTradeNotFound
	}
	return nil
}

// Remove deletes the trade stored under key. Removing a missing key is not
// an error.
func (s *Storage) Remove(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec(`DELETE FROM trades WHERE key = ?`, key); err != nil {
		return fmt.Errorf("failed to remove trade %s: %w", key, err)
	}
	return nil
}

// Get returns the trade stored under key.
func (s *Storage) Get(key string) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getTx(s.db, key)
}

func getTx(db execer, key string) (*Entry, error) {
	row := db.QueryRow(`
		SELECT key, status, run_id, snapshot, created_at, updated_at
		FROM trades WHERE key = ?
	`, key)

	e, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, ErrTradeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get trade: %w", err)
	}
	return e, nil
}

// Load returns every trade, oldest first. Rows whose snapshot cannot be
// decoded are logged and skipped.
func (s *Storage) Load() ([]*Entry, error) {
	return s.query(`
		SELECT key, status, run_id, snapshot, created_at, updated_at
		FROM trades ORDER BY created_at, key
	`)
}

// FindByStatus returns trades with the given status, oldest first.
func (s *Storage) FindByStatus(status trade.Status) ([]*Entry, error) {
	return s.query(`
		SELECT key, status, run_id, snapshot, created_at, updated_at
		FROM trades WHERE status = ? ORDER BY created_at, key
	`, string(status))
}

// FindByToken reports the status of a trade that used the normalized token
// as either our token or the counterparty's.
func (s *Storage) FindByToken(normalized string) (trade.Status, bool, error) {
	if normalized == "" {
		return "", false, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var status string
	err := s.db.QueryRow(`
		SELECT status FROM trades
		WHERE token_norm = ? OR counterparty_token_norm = ?
		ORDER BY updated_at DESC LIMIT 1
	`, normalized, normalized).Scan(&status)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to look up token: %w", err)
	}
	return trade.Status(status), true, nil
}

func (s *Storage) query(q string, args ...interface{}) ([]*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			s.log.Warn("Skipping unreadable ledger row", "error", err)
			continue
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read trades: %w", err)
	}
	return entries, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanEntry(row scanner) (*Entry, error) {
	var (
		e                    Entry
		status, snapshot     string
		runID                sql.NullString
		createdAt, updatedAt int64
	)
	if err := row.Scan(&e.Key, &status, &runID, &snapshot, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	var cfg trade.Config
	if err := json.Unmarshal([]byte(snapshot), &cfg); err != nil {
		return nil, fmt.Errorf("trade %s: bad snapshot: %w", e.Key, err)
	}

	e.Status = trade.Status(status)
	e.Snapshot = &cfg
	e.Snapshot.Status = e.Status
	if runID.Valid {
		e.RunID = runID.String
	}
	e.CreatedAt = time.Unix(createdAt, 0)
	e.UpdatedAt = time.Unix(updatedAt, 0)
	return &e, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
