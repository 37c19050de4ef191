// Package channel implements the off-chain payment channel session manager:
// the session data model, its in-memory store, the lifecycle state machine,
// and the settlement coordinator.
package channel

import (
	"math/big"
	"time"
)

// Status represents the lifecycle state of a channel session.
type Status string

const (
	// StatusPending indicates the session was created locally and awaits
	// relay acknowledgment.
	StatusPending Status = "pending"
	// StatusOpen indicates the relay confirmed channel creation.
	StatusOpen Status = "open"
	// StatusActive indicates at least one transfer has been applied.
	StatusActive Status = "active"
	// StatusClosing indicates settlement has been requested.
	StatusClosing Status = "closing"
	// StatusClosed is terminal: settlement confirmed or locally finalized.
	StatusClosed Status = "closed"
)

// TransferStatus tracks one off-chain transfer's confirmation state.
type TransferStatus string

const (
	// TransferPending indicates the transfer was applied optimistically and
	// awaits relay confirmation.
	TransferPending TransferStatus = "pending"
	// TransferConfirmed indicates the relay acknowledged the transfer.
	TransferConfirmed TransferStatus = "confirmed"
	// TransferFailed indicates the relay explicitly rejected the transfer.
	TransferFailed TransferStatus = "failed"
)

// Session represents one multi-party payment channel. Sessions are owned
// exclusively by the Controller; other components read through it.
type Session struct {
	ID           string
	ChannelID    string
	Status       Status
	Deposit      *big.Int
	Balance      *big.Int
	Nonce        uint64
	Participants []string

	// AwaitingResync gates transfers after a reconnect until the relay's
	// authoritative balance and nonce have been fetched.
	AwaitingResync bool

	OnChainRef string

	CreatedAt    time.Time
	LastActivity time.Time
}

// Clone returns a deep copy that is safe to read after the controller has
// moved on. Accessors hand out clones so callers never observe in-place
// balance or status mutation.
func (s *Session) Clone() *Session {
	cp := *s
	cp.Deposit = new(big.Int).Set(s.Deposit)
	cp.Balance = new(big.Int).Set(s.Balance)
	cp.Participants = append([]string(nil), s.Participants...)
	return &cp
}

// Transfer is one off-chain balance movement inside a session.
type Transfer struct {
	ID        string
	SessionID string
	Sender    string
	Recipient string
	Amount    *big.Int
	Nonce     uint64
	Signature string
	Status    TransferStatus

	// RequestID correlates a relay-reported failure back to this transfer.
	RequestID string

	CreatedAt time.Time
}

// Clone returns a deep copy of the transfer.
func (t *Transfer) Clone() *Transfer {
	cp := *t
	cp.Amount = new(big.Int).Set(t.Amount)
	return &cp
}
