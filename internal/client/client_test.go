package client

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eddiemessiah/pulse-remit-channel/internal/channel"
	"github.com/eddiemessiah/pulse-remit-channel/internal/config"
)

func testConfig() *config.Config {
	return &config.Config{
		Relay: config.RelayConfig{
			Endpoint:       "ws://relay.test/ws",
			Protocol:       "pulse-remit.v1",
			RequestTimeout: time.Second,
		},
		Channel: config.ChannelConfig{
			Quorum:          2,
			ChallengePeriod: time.Hour,
			CreateTimeout:   time.Second,
			ResyncTimeout:   time.Second,
		},
	}
}

func testSigner(ctx context.Context, message string) (string, error) {
	return "0xsig", nil
}

func TestStatusOffline(t *testing.T) {
	c := New(testConfig(), "0xalice", testSigner, nil, nil)
	defer c.Close()

	status := c.Status()
	assert.False(t, status.Connected)
	assert.Equal(t, "0xalice", status.Address)
	assert.Zero(t, status.Sessions)
	assert.Zero(t, status.ActiveSessions)
}

func TestOperationsFailWithoutConnection(t *testing.T) {
	c := New(testConfig(), "0xalice", testSigner, nil, nil)
	defer c.Close()

	_, err := c.CreateSession(context.Background(), big.NewInt(100), []string{"0xalice", "0xbob"})
	assert.Error(t, err)

	_, err = c.GetSession("missing")
	assert.ErrorIs(t, err, channel.ErrSessionNotFound)

	err = c.ConfirmSettlement("missing", "0xtx")
	assert.ErrorIs(t, err, channel.ErrSessionNotFound)
}

func TestCloseIsIdempotentEnough(t *testing.T) {
	c := New(testConfig(), "0xalice", testSigner, nil, nil)
	require.NoError(t, c.Close())
	assert.Empty(t, c.Sessions())
}
