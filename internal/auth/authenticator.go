// Package auth establishes identity with the relay through a signed
// challenge. Private key material never enters this package; signing is
// delegated to an externally supplied function.
package auth

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/eddiemessiah/pulse-remit-channel/internal/protocol"
	"github.com/eddiemessiah/pulse-remit-channel/internal/transport"
)

// SignFunc signs a canonical message with the holder's wallet key.
type SignFunc func(ctx context.Context, message string) (string, error)

// Sender is the transport surface the authenticator needs.
type Sender interface {
	Send(ctx context.Context, env *protocol.Envelope) error
	IsConnected() bool
}

// Authenticator builds and ships the signed login challenge.
type Authenticator struct {
	sender     Sender
	protocolID string
	logger     *zap.Logger
	now        func() time.Time
}

// New creates an authenticator speaking the given protocol revision.
func New(sender Sender, protocolID string, logger *zap.Logger) *Authenticator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if protocolID == "" {
		protocolID = protocol.ProtocolID
	}
	return &Authenticator{
		sender:     sender,
		protocolID: protocolID,
		logger:     logger,
		now:        time.Now,
	}
}

// Authenticate signs the canonical challenge for address and submits it.
// It does not wait for an auth_success acknowledgment; the relay may simply
// begin accepting requests. Signer errors propagate untouched.
func (a *Authenticator) Authenticate(ctx context.Context, address string, sign SignFunc) error {
	if !a.sender.IsConnected() {
		return transport.ErrNotConnected
	}

	ts := a.now().UnixMilli()
	challenge := protocol.AuthChallenge(a.protocolID, address, ts)

	signature, err := sign(ctx, challenge)
	if err != nil {
		return err
	}

	env, err := protocol.NewEnvelope(protocol.TypeAuth, protocol.AuthPayload{
		Address:   address,
		Timestamp: ts,
		Signature: signature,
		Protocol:  a.protocolID,
	})
	if err != nil {
		return err
	}

	if err := a.sender.Send(ctx, env); err != nil {
		return err
	}

	a.logger.Info("auth challenge submitted",
		zap.String("address", address),
		zap.Int64("timestamp", ts),
	)
	return nil
}
