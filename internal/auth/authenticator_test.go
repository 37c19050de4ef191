package auth

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eddiemessiah/pulse-remit-channel/internal/protocol"
	"github.com/eddiemessiah/pulse-remit-channel/internal/transport"
)

type fakeSender struct {
	connected bool
	sent      []*protocol.Envelope
	sendErr   error
}

func (f *fakeSender) Send(ctx context.Context, env *protocol.Envelope) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, env)
	return nil
}

func (f *fakeSender) IsConnected() bool { return f.connected }

func TestAuthenticateSendsSignedChallenge(t *testing.T) {
	sender := &fakeSender{connected: true}
	a := New(sender, "pulse-remit.v1", nil)
	a.now = func() time.Time { return time.UnixMilli(1700000000000) }

	var signed string
	sign := func(ctx context.Context, message string) (string, error) {
		signed = message
		return "0xsig", nil
	}

	err := a.Authenticate(context.Background(), "0xabc", sign)
	require.NoError(t, err)

	assert.Equal(t, "pulse-remit.v1|auth|0xabc|1700000000000", signed)

	require.Len(t, sender.sent, 1)
	env := sender.sent[0]
	assert.Equal(t, protocol.TypeAuth, env.Type)

	var payload protocol.AuthPayload
	require.NoError(t, json.Unmarshal(env.Payload, &payload))
	assert.Equal(t, "0xabc", payload.Address)
	assert.Equal(t, int64(1700000000000), payload.Timestamp)
	assert.Equal(t, "0xsig", payload.Signature)
	assert.Equal(t, "pulse-remit.v1", payload.Protocol)
}

func TestAuthenticateFailsFastWhenDisconnected(t *testing.T) {
	sender := &fakeSender{connected: false}
	a := New(sender, "", nil)

	signCalled := false
	err := a.Authenticate(context.Background(), "0xabc", func(ctx context.Context, message string) (string, error) {
		signCalled = true
		return "", nil
	})

	assert.ErrorIs(t, err, transport.ErrNotConnected)
	assert.False(t, signCalled)
	assert.Empty(t, sender.sent)
}

func TestAuthenticatePropagatesSignerError(t *testing.T) {
	sender := &fakeSender{connected: true}
	a := New(sender, "", nil)

	signErr := errors.New("hardware wallet unavailable")
	err := a.Authenticate(context.Background(), "0xabc", func(ctx context.Context, message string) (string, error) {
		return "", signErr
	})

	assert.ErrorIs(t, err, signErr)
	assert.Empty(t, sender.sent)
}

func TestAuthenticateReturnsSendError(t *testing.T) {
	sender := &fakeSender{connected: true, sendErr: errors.New("write failed")}
	a := New(sender, "", nil)

	err := a.Authenticate(context.Background(), "0xabc", func(ctx context.Context, message string) (string, error) {
		return "0xsig", nil
	})
	assert.EqualError(t, err, "write failed")
}

func TestDefaultProtocolID(t *testing.T) {
	sender := &fakeSender{connected: true}
	a := New(sender, "", nil)

	var signed string
	err := a.Authenticate(context.Background(), "0xabc", func(ctx context.Context, message string) (string, error) {
		signed = message
		return "0xsig", nil
	})
	require.NoError(t, err)
	assert.Contains(t, signed, protocol.ProtocolID+"|auth|")
}
