// SPDX-License-Identifier: LGPL-3.0-or-later

// Package store keeps a durable ledger of DLC state transitions and
// operation outcomes for postmortems and the history API.
package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"dlcd/daemon/models"
)

// Record is one ledger entry.
type Record struct {
	ID        int64     `json:"id"`
	RequestID string    `json:"request_id,omitempty"`
	DlcID     string    `json:"dlc_id"`
	Operation string    `json:"operation"`
	Status    string    `json:"status"`
	ErrorKind string    `json:"error_kind,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Filter narrows history queries.
type Filter struct {
	DlcID string
	Since *time.Time
	Limit int
}

// HistoryStore is the ledger interface the daemon writes through.
type HistoryStore interface {
	RecordStateChange(state models.DlcState) error
	RecordOperation(requestID, dlcID, operation, errorKind string) error
	History(filter Filter) ([]Record, error)
	Close() error
}

// SQLiteStore implements HistoryStore using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (and initializes) the ledger database.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// WAL mode keeps readers from blocking the daemon's writes.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS dlc_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		request_id TEXT,
		dlc_id TEXT NOT NULL,
		operation TEXT NOT NULL,
		status TEXT,
		error_kind TEXT,
		timestamp TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_history_dlc_id ON dlc_history(dlc_id);
	CREATE INDEX IF NOT EXISTS idx_history_timestamp ON dlc_history(timestamp DESC);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// RecordStateChange appends a state transition to the ledger.
func (s *SQLiteStore) RecordStateChange(state models.DlcState) error {
	_, err := s.db.Exec(`
		INSERT INTO dlc_history (dlc_id, operation, status, error_kind, timestamp)
		VALUES (?, 'state_change', ?, ?, ?)`,
		state.ID, string(state.Status), string(state.LastErrorKind), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("record state change: %w", err)
	}
	return nil
}

// RecordOperation appends a client operation outcome to the ledger.
func (s *SQLiteStore) RecordOperation(requestID, dlcID, operation, errorKind string) error {
	_, err := s.db.Exec(`
		INSERT INTO dlc_history (request_id, dlc_id, operation, error_kind, timestamp)
		VALUES (?, ?, ?, ?, ?)`,
		requestID, dlcID, operation, errorKind, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("record operation: %w", err)
	}
	return nil
}

// History returns ledger entries, newest first.
func (s *SQLiteStore) History(filter Filter) ([]Record, error) {
	query := "SELECT id, COALESCE(request_id, ''), dlc_id, operation, COALESCE(status, ''), COALESCE(error_kind, ''), timestamp FROM dlc_history"
	var args []interface{}
	var where []string

	if filter.DlcID != "" {
		where = append(where, "dlc_id = ?")
		args = append(args, filter.DlcID)
	}
	if filter.Since != nil {
		where = append(where, "timestamp >= ?")
		args = append(args, filter.Since.UTC())
	}
	for i, clause := range where {
		if i == 0 {
			query += " WHERE " + clause
		} else {
			query += " AND " + clause
		}
	}
	query += " ORDER BY timestamp DESC, id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.ID, &r.RequestID, &r.DlcID, &r.Operation,
			&r.Status, &r.ErrorKind, &r.Timestamp); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// Close releases the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
