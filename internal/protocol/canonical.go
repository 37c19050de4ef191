package protocol

import (
	"errors"
	"fmt"
)

// ProtocolID identifies this client's protocol revision to the relay.
const ProtocolID = "pulse-remit.v1"

// ErrUnknownMessageType is returned when the relay sends a frame whose type
// this client does not speak.
var ErrUnknownMessageType = errors.New("unknown message type")

// AuthChallenge builds the canonical login challenge. The relay recomputes
// the same string to verify the signature, so the layout must not change.
func AuthChallenge(protocol, address string, timestamp int64) string {
	return fmt.Sprintf("%s|auth|%s|%d", protocol, address, timestamp)
}

// TransferDigest builds the canonical encoding of one state update. Both
// parties sign this exact string; field order is part of the protocol.
func TransferDigest(sessionID, to, amount string, nonce uint64) string {
	return fmt.Sprintf("%s|transfer|%s|%s|%s|%d", ProtocolID, sessionID, to, amount, nonce)
}
