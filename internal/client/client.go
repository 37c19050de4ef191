// Package client composes the transport, authenticator, lifecycle
// controller and settlement coordinator into one channel client. The client
// is an explicit object owned by the composing application; nothing in this
// package is process-global.
package client

import (
	"context"
	"math/big"

	"go.uber.org/zap"

	"github.com/eddiemessiah/pulse-remit-channel/internal/auth"
	"github.com/eddiemessiah/pulse-remit-channel/internal/channel"
	"github.com/eddiemessiah/pulse-remit-channel/internal/config"
	"github.com/eddiemessiah/pulse-remit-channel/internal/transport"
)

// HistoryRecorder persists settlement outcomes. Optional.
type HistoryRecorder interface {
	channel.SettlementRecorder
	RecordTransfers(sessionID string, transfers []*channel.Transfer) error
}

// Status is a point-in-time snapshot of the client.
type Status struct {
	Connected      bool   `json:"connected"`
	Address        string `json:"address"`
	Sessions       int    `json:"sessions"`
	ActiveSessions int    `json:"activeSessions"`
}

// Client is the channel client: one relay connection multiplexing all
// channel sessions for one wallet address.
type Client struct {
	cfg         *config.Config
	address     string
	signer      auth.SignFunc
	transport   *transport.Transport
	authn       *auth.Authenticator
	controller  *channel.Controller
	coordinator *channel.Coordinator
	history     HistoryRecorder
	logger      *zap.Logger
	unsubscribe func()
}

// New wires a client from configuration. The signer is supplied by the
// hosting wallet layer; the client never sees key material. history may be
// nil to disable settlement persistence.
func New(cfg *config.Config, address string, signer auth.SignFunc, history HistoryRecorder, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}

	tr := transport.New(transport.Config{
		Endpoint:             cfg.Relay.Endpoint,
		DialTimeout:          cfg.Relay.DialTimeout,
		ReconnectBaseDelay:   cfg.Relay.ReconnectBaseDelay,
		ReconnectMaxDelay:    cfg.Relay.ReconnectMaxDelay,
		ReconnectMaxAttempts: cfg.Relay.ReconnectMaxAttempts,
	}, logger.Named("transport"))

	store := channel.NewStore()
	controller := channel.NewController(store, tr, address, signer, channel.Config{
		Quorum:             cfg.Channel.Quorum,
		ChallengePeriod:    cfg.Channel.ChallengePeriod,
		CreateTimeout:      cfg.Channel.CreateTimeout,
		StrictConfirmation: cfg.Channel.StrictConfirmation,
	}, logger.Named("controller"))

	var recorder channel.SettlementRecorder
	if history != nil {
		recorder = history
	}
	coordinator := channel.NewCoordinator(controller, tr, recorder, logger.Named("settlement"))

	c := &Client{
		cfg:         cfg,
		address:     address,
		signer:      signer,
		transport:   tr,
		authn:       auth.New(tr, cfg.Relay.Protocol, logger.Named("auth")),
		controller:  controller,
		coordinator: coordinator,
		history:     history,
		logger:      logger,
	}

	// Controller first so the resync gate is set before re-auth runs.
	unsubController := tr.OnMessage(controller.HandleEvent)
	unsubClient := tr.OnMessage(c.handleTransportEvent)
	c.unsubscribe = func() {
		unsubController()
		unsubClient()
	}

	return c
}

// Init connects to the relay and authenticates.
func (c *Client) Init(ctx context.Context) error {
	if err := c.transport.Connect(ctx); err != nil {
		return err
	}
	return c.authn.Authenticate(ctx, c.address, c.signer)
}

// Close tears the client down.
func (c *Client) Close() error {
	if c.unsubscribe != nil {
		c.unsubscribe()
	}
	return c.transport.Close()
}

func (c *Client) handleTransportEvent(ev transport.Event) {
	switch ev.Kind {
	case transport.EventReconnected:
		// Re-establish identity, then fetch authoritative session state
		// before the controller accepts further transfers.
		go func() {
			ctx := context.Background()
			if err := c.authn.Authenticate(ctx, c.address, c.signer); err != nil {
				c.logger.Error("re-authentication after reconnect failed", zap.Error(err))
				return
			}
			if err := c.controller.ResyncAll(ctx, c.cfg.Channel.ResyncTimeout); err != nil {
				c.logger.Warn("session resync after reconnect incomplete", zap.Error(err))
			}
		}()
	case transport.EventConnectionLost:
		c.logger.Error("relay connection lost for good; call Init to reconnect", zap.Error(ev.Err))
	}
}

// CreateSession opens a new payment channel session.
func (c *Client) CreateSession(ctx context.Context, deposit *big.Int, participants []string) (*channel.Session, error) {
	return c.controller.CreateSession(ctx, deposit, participants)
}

// SendTransfer executes one off-chain transfer inside a session.
func (c *Client) SendTransfer(ctx context.Context, sessionID, to string, amount *big.Int) (*channel.Transfer, error) {
	return c.controller.SendTransfer(ctx, sessionID, to, amount)
}

// InitiateSettlement computes the final state and requests relay-side
// settlement; the returned payload is for on-chain submission by the
// caller.
func (c *Client) InitiateSettlement(ctx context.Context, sessionID string) (*channel.ChannelState, []byte, error) {
	return c.coordinator.InitiateSettlement(ctx, sessionID)
}

// ConfirmSettlement finalizes a session once the on-chain settlement is
// reported final. Idempotent.
func (c *Client) ConfirmSettlement(sessionID, onChainRef string) error {
	if err := c.coordinator.ConfirmSettlement(sessionID, onChainRef); err != nil {
		return err
	}
	if c.history != nil {
		if err := c.history.RecordTransfers(sessionID, c.controller.ListTransfers(sessionID)); err != nil {
			c.logger.Warn("failed to persist transfer history",
				zap.String("session_id", sessionID),
				zap.Error(err),
			)
		}
	}
	return nil
}

// GetSession retrieves a session by id.
func (c *Client) GetSession(sessionID string) (*channel.Session, error) {
	return c.controller.GetSession(sessionID)
}

// ListTransfers returns a session's transfers in nonce order.
func (c *Client) ListTransfers(sessionID string) []*channel.Transfer {
	return c.controller.ListTransfers(sessionID)
}

// Sessions returns all sessions.
func (c *Client) Sessions() []*channel.Session {
	return c.controller.Sessions()
}

// ComputeState derives the current channel state snapshot for a session.
func (c *Client) ComputeState(sessionID string) (*channel.ChannelState, error) {
	return c.coordinator.ComputeState(sessionID)
}

// Status returns a snapshot of connection and session state.
func (c *Client) Status() Status {
	sessions := c.controller.Sessions()
	active := 0
	for _, s := range sessions {
		if s.Status == channel.StatusActive || s.Status == channel.StatusOpen {
			active++
		}
	}
	return Status{
		Connected:      c.transport.IsConnected(),
		Address:        c.address,
		Sessions:       len(sessions),
		ActiveSessions: active,
	}
}
