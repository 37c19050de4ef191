// Package history provides the local SQLite ledger of settled sessions.
// The dashboard's transaction table reads from it.
package history

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/eddiemessiah/pulse-remit-channel/internal/channel"
)

// Store wraps the SQLite connection.
type Store struct {
	conn   *sql.DB
	logger *zap.Logger
}

// SettlementRecord is one settled session as persisted.
type SettlementRecord struct {
	SessionID    string
	ChannelID    string
	BalancesJSON string
	StateHash    string
	Nonce        uint64
	OnChainRef   string
	SettledAt    time.Time
}

// TransferRecord is one applied transfer as persisted at settlement time.
type TransferRecord struct {
	ID        string
	SessionID string
	Sender    string
	Recipient string
	Amount    string
	Nonce     uint64
	Status    string
	CreatedAt time.Time
}

// Open opens the ledger at path and creates tables if needed.
func Open(path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	conn, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	if err := createTables(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("init history schema: %w", err)
	}
	return &Store{conn: conn, logger: logger}, nil
}

// Close closes the ledger.
func (s *Store) Close() error {
	return s.conn.Close()
}

func createTables(conn *sql.DB) error {
	_, err := conn.Exec(`
		CREATE TABLE IF NOT EXISTS settlements (
			session_id TEXT PRIMARY KEY,
			channel_id TEXT DEFAULT '',
			balances TEXT NOT NULL,
			state_hash TEXT NOT NULL,
			nonce INTEGER NOT NULL,
			on_chain_ref TEXT DEFAULT '',
			settled_at DATETIME NOT NULL
		);

		CREATE TABLE IF NOT EXISTS transfers (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			sender TEXT NOT NULL,
			recipient TEXT NOT NULL,
			amount TEXT NOT NULL,
			nonce INTEGER NOT NULL,
			status TEXT NOT NULL,
			created_at DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_transfers_session ON transfers(session_id);
		CREATE INDEX IF NOT EXISTS idx_settlements_settled ON settlements(settled_at);
	`)
	return err
}

// RecordSettlement persists one settled session. Implements the settlement
// coordinator's recorder contract. Re-recording the same session replaces
// the row, keeping ConfirmSettlement idempotent end to end.
func (s *Store) RecordSettlement(sessionID, channelID string, state *channel.ChannelState, onChainRef string) error {
	balances := make(map[string]string, len(state.Balances))
	for addr, bal := range state.Balances {
		balances[addr] = bal.String()
	}
	balancesJSON, err := json.Marshal(balances)
	if err != nil {
		return fmt.Errorf("marshal balances: %w", err)
	}

	_, err = s.conn.Exec(`
		INSERT OR REPLACE INTO settlements (session_id, channel_id, balances, state_hash, nonce, on_chain_ref, settled_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, sessionID, channelID, string(balancesJSON), state.StateHash, state.Nonce, onChainRef, time.Now())
	if err != nil {
		return fmt.Errorf("record settlement: %w", err)
	}

	s.logger.Debug("settlement recorded",
		zap.String("session_id", sessionID),
		zap.String("state_hash", state.StateHash),
	)
	return nil
}

// RecordTransfers persists a session's transfer list alongside its
// settlement record.
func (s *Store) RecordTransfers(sessionID string, transfers []*channel.Transfer) error {
	tx, err := s.conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, tf := range transfers {
		if _, err := tx.Exec(`
			INSERT OR REPLACE INTO transfers (id, session_id, sender, recipient, amount, nonce, status, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, tf.ID, sessionID, tf.Sender, tf.Recipient, tf.Amount.String(), tf.Nonce, string(tf.Status), tf.CreatedAt); err != nil {
			return fmt.Errorf("record transfer %s: %w", tf.ID, err)
		}
	}
	return tx.Commit()
}

// ListSettlements returns settled sessions, newest first.
func (s *Store) ListSettlements() ([]*SettlementRecord, error) {
	rows, err := s.conn.Query(`
		SELECT session_id, channel_id, balances, state_hash, nonce, on_chain_ref, settled_at
		FROM settlements ORDER BY settled_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*SettlementRecord
	for rows.Next() {
		rec := &SettlementRecord{}
		if err := rows.Scan(&rec.SessionID, &rec.ChannelID, &rec.BalancesJSON, &rec.StateHash, &rec.Nonce, &rec.OnChainRef, &rec.SettledAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// GetSettlement returns one settled session.
func (s *Store) GetSettlement(sessionID string) (*SettlementRecord, error) {
	rec := &SettlementRecord{}
	err := s.conn.QueryRow(`
		SELECT session_id, channel_id, balances, state_hash, nonce, on_chain_ref, settled_at
		FROM settlements WHERE session_id = ?
	`, sessionID).Scan(&rec.SessionID, &rec.ChannelID, &rec.BalancesJSON, &rec.StateHash, &rec.Nonce, &rec.OnChainRef, &rec.SettledAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("no settlement for session %s", sessionID)
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// ListTransfers returns a session's persisted transfers in nonce order.
func (s *Store) ListTransfers(sessionID string) ([]*TransferRecord, error) {
	rows, err := s.conn.Query(`
		SELECT id, session_id, sender, recipient, amount, nonce, status, created_at
		FROM transfers WHERE session_id = ? ORDER BY nonce ASC
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*TransferRecord
	for rows.Next() {
		rec := &TransferRecord{}
		if err := rows.Scan(&rec.ID, &rec.SessionID, &rec.Sender, &rec.Recipient, &rec.Amount, &rec.Nonce, &rec.Status, &rec.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
