package channel

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionNotFound indicates no session exists for the given id.
	ErrSessionNotFound = errors.New("session not found")
	// ErrInvalidDeposit indicates a non-positive deposit.
	ErrInvalidDeposit = errors.New("deposit must be positive")
	// ErrNotEnoughParticipants indicates fewer than two participants.
	ErrNotEnoughParticipants = errors.New("channel requires at least two participants")
	// ErrInvalidAmount indicates a non-positive transfer amount.
	ErrInvalidAmount = errors.New("transfer amount must be positive")
	// ErrInsufficientBalance indicates the transfer exceeds the session
	// balance. Raised before any relay round-trip.
	ErrInsufficientBalance = errors.New("insufficient session balance")
	// ErrSessionNotActive indicates the session is closing or closed.
	ErrSessionNotActive = errors.New("session is not active")
	// ErrSessionSyncing indicates the session awaits post-reconnect resync
	// and cannot accept transfers yet.
	ErrSessionSyncing = errors.New("session awaiting resync")
	// ErrFunderNotFirst indicates the participant list does not start with
	// the funding wallet. Derived balances attribute the deposit to the
	// first participant, so the funder must lead the list.
	ErrFunderNotFirst = errors.New("funding wallet must be the first participant")
)

// RelayError carries a failure reported by the relay.
type RelayError struct {
	RequestID string
	Message   string
}

func (e *RelayError) Error() string {
	if e.RequestID != "" {
		return fmt.Sprintf("relay error (request %s): %s", e.RequestID, e.Message)
	}
	return "relay error: " + e.Message
}
