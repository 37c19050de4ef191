// Package protocol defines the JSON envelope protocol spoken with the relay.
package protocol

import (
	"encoding/json"
	"fmt"
)

// MessageType identifies a relay message kind.
type MessageType string

// Outbound message types.
const (
	TypeAuth          MessageType = "auth"
	TypeCreateChannel MessageType = "create_channel"
	TypeStateUpdate   MessageType = "state_update"
	TypeSettleChannel MessageType = "settle_channel"
	TypeResyncSession MessageType = "resync_session"
)

// Inbound message types.
const (
	TypeAuthSuccess        MessageType = "auth_success"
	TypeChannelCreated     MessageType = "channel_created"
	TypeChannelUpdated     MessageType = "channel_updated"
	TypeTransferConfirmed  MessageType = "transfer_confirmed"
	TypeSessionResynced    MessageType = "session_resynced"
	TypeSettlementComplete MessageType = "settlement_complete"
	TypeError              MessageType = "error"
)

// Envelope is the frame every relay message travels in. Request-style
// messages carry a RequestID; push-style updates are dispatched by Type only.
type Envelope struct {
	Type      MessageType     `json:"type"`
	RequestID string          `json:"requestId,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// NewEnvelope builds an envelope with the given payload marshaled in place.
func NewEnvelope(t MessageType, payload interface{}) (*Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", t, err)
	}
	return &Envelope{Type: t, Payload: raw}, nil
}

// AuthPayload carries the signed login challenge.
type AuthPayload struct {
	Address   string `json:"address"`
	Timestamp int64  `json:"timestamp"`
	Signature string `json:"signature"`
	Protocol  string `json:"protocol"`
}

// CreateChannelPayload asks the relay to open a multi-party channel.
type CreateChannelPayload struct {
	SessionID       string   `json:"sessionId"`
	Deposit         string   `json:"deposit"`
	Participants    []string `json:"participants"`
	Quorum          int      `json:"quorum"`
	ChallengePeriod int64    `json:"challengePeriod"`
}

// StateUpdatePayload carries one signed off-chain transfer.
type StateUpdatePayload struct {
	SessionID  string `json:"sessionId"`
	ChannelID  string `json:"channelId,omitempty"`
	TransferID string `json:"transferId"`
	To         string `json:"to"`
	Amount     string `json:"amount"`
	Nonce      uint64 `json:"nonce"`
	Signature  string `json:"signature"`
}

// FinalState is the settlement anchor submitted with a settle request.
type FinalState struct {
	Balances   map[string]string `json:"balances"`
	Nonce      uint64            `json:"nonce"`
	IsFinal    bool              `json:"isFinal"`
	StateHash  string            `json:"stateHash"`
	Signatures []string          `json:"signatures,omitempty"`
}

// SettleChannelPayload requests relay-side settlement of a channel.
type SettleChannelPayload struct {
	SessionID  string     `json:"sessionId"`
	ChannelID  string     `json:"channelId,omitempty"`
	FinalState FinalState `json:"finalState"`
}

// ResyncSessionPayload requests the relay's authoritative view of a session.
type ResyncSessionPayload struct {
	SessionID string `json:"sessionId"`
}

// ChannelCreatedPayload acknowledges channel creation.
type ChannelCreatedPayload struct {
	SessionID string `json:"sessionId"`
	ChannelID string `json:"channelId"`
}

// ChannelUpdatedPayload reports the relay's view of balance and nonce.
type ChannelUpdatedPayload struct {
	SessionID string `json:"sessionId"`
	Balance   string `json:"balance"`
	Nonce     uint64 `json:"nonce"`
}

// TransferConfirmedPayload acknowledges one transfer.
type TransferConfirmedPayload struct {
	SessionID  string `json:"sessionId"`
	TransferID string `json:"transferId"`
}

// SessionResyncedPayload answers a resync request with authoritative state.
type SessionResyncedPayload struct {
	SessionID string `json:"sessionId"`
	ChannelID string `json:"channelId,omitempty"`
	Balance   string `json:"balance"`
	Nonce     uint64 `json:"nonce"`
}

// SettlementCompletePayload reports relay-side settlement completion.
type SettlementCompletePayload struct {
	SessionID string `json:"sessionId"`
}

// ErrorPayload reports a relay-side failure, optionally tied to a request.
type ErrorPayload struct {
	RequestID string `json:"requestId,omitempty"`
	Message   string `json:"message"`
}

// Inbound is the decoded form of a relay message. Exactly one payload field
// is non-nil, matching Type.
type Inbound struct {
	Type      MessageType
	RequestID string

	AuthSuccess        *struct{}
	ChannelCreated     *ChannelCreatedPayload
	ChannelUpdated     *ChannelUpdatedPayload
	TransferConfirmed  *TransferConfirmedPayload
	SessionResynced    *SessionResyncedPayload
	SettlementComplete *SettlementCompletePayload
	Error              *ErrorPayload
}

// Decode parses a raw relay frame into its typed form. Unknown message types
// are rejected rather than ignored.
func Decode(data []byte) (*Inbound, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}

	in := &Inbound{Type: env.Type, RequestID: env.RequestID}

	switch env.Type {
	case TypeAuthSuccess:
		in.AuthSuccess = &struct{}{}
	case TypeChannelCreated:
		in.ChannelCreated = &ChannelCreatedPayload{}
		return in, unmarshalPayload(env, in.ChannelCreated)
	case TypeChannelUpdated:
		in.ChannelUpdated = &ChannelUpdatedPayload{}
		return in, unmarshalPayload(env, in.ChannelUpdated)
	case TypeTransferConfirmed:
		in.TransferConfirmed = &TransferConfirmedPayload{}
		return in, unmarshalPayload(env, in.TransferConfirmed)
	case TypeSessionResynced:
		in.SessionResynced = &SessionResyncedPayload{}
		return in, unmarshalPayload(env, in.SessionResynced)
	case TypeSettlementComplete:
		in.SettlementComplete = &SettlementCompletePayload{}
		return in, unmarshalPayload(env, in.SettlementComplete)
	case TypeError:
		in.Error = &ErrorPayload{}
		if err := unmarshalPayload(env, in.Error); err != nil {
			return nil, err
		}
		// Relay errors may correlate through the payload instead of the frame.
		if in.RequestID == "" {
			in.RequestID = in.Error.RequestID
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessageType, env.Type)
	}

	return in, nil
}

func unmarshalPayload(env Envelope, dst interface{}) error {
	if len(env.Payload) == 0 {
		return fmt.Errorf("message %s has no payload", env.Type)
	}
	if err := json.Unmarshal(env.Payload, dst); err != nil {
		return fmt.Errorf("decode %s payload: %w", env.Type, err)
	}
	return nil
}
