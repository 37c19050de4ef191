package channel

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/eddiemessiah/pulse-remit-channel/internal/auth"
	"github.com/eddiemessiah/pulse-remit-channel/internal/protocol"
	"github.com/eddiemessiah/pulse-remit-channel/internal/transport"
)

// Transport is the relay surface the controller depends on.
type Transport interface {
	Send(ctx context.Context, env *protocol.Envelope) error
	SendTagged(ctx context.Context, env *protocol.Envelope) (string, error)
	Request(ctx context.Context, env *protocol.Envelope, timeout time.Duration) (*protocol.Inbound, error)
	IsConnected() bool
}

// Config holds lifecycle parameters.
type Config struct {
	// Quorum and ChallengePeriod are the protocol parameters forwarded on
	// channel creation.
	Quorum          int
	ChallengePeriod time.Duration

	// CreateTimeout bounds the wait for relay acknowledgment on creation.
	CreateTimeout time.Duration

	// StrictConfirmation controls the creation timeout trade-off: strict
	// mode fails the call, non-strict resolves the session OPEN with an
	// empty relay channel id.
	StrictConfirmation bool
}

// DefaultConfig returns the lifecycle defaults.
func DefaultConfig() Config {
	return Config{
		Quorum:          2,
		ChallengePeriod: 1 * time.Hour,
		CreateTimeout:   15 * time.Second,
	}
}

// Controller is the authoritative state machine for channel sessions.
// All session mutations flow through it, serialized by one mutex, which
// gives the per-session nonce ordering guarantee.
type Controller struct {
	store     *Store
	transport Transport
	signer    auth.SignFunc
	address   string
	cfg       Config
	logger    *zap.Logger

	// mu serializes every session mutation, preserving the source's
	// single-sequence dispatch model. Nonce assignment and append happen
	// under one critical section.
	mu               sync.Mutex
	pendingTransfers map[string]string // request id -> transfer id
	now              func() time.Time
}

// NewController creates a lifecycle controller. address is the local wallet
// address used as transfer sender; signer signs canonical state updates.
func NewController(store *Store, tr Transport, address string, signer auth.SignFunc, cfg Config, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Quorum <= 0 {
		cfg.Quorum = 2
	}
	if cfg.CreateTimeout <= 0 {
		cfg.CreateTimeout = 15 * time.Second
	}
	if cfg.ChallengePeriod <= 0 {
		cfg.ChallengePeriod = 1 * time.Hour
	}
	return &Controller{
		store:            store,
		transport:        tr,
		signer:           signer,
		address:          address,
		cfg:              cfg,
		logger:           logger,
		pendingTransfers: make(map[string]string),
		now:              time.Now,
	}
}

// CreateSession validates inputs, stores the session in PENDING, and asks
// the relay to create the channel. The relay acknowledgment promotes the
// session to OPEN; on timeout the behavior depends on StrictConfirmation.
func (c *Controller) CreateSession(ctx context.Context, deposit *big.Int, participants []string) (*Session, error) {
	if deposit == nil || deposit.Sign() <= 0 {
		return nil, ErrInvalidDeposit
	}
	if len(participants) < 2 {
		return nil, ErrNotEnoughParticipants
	}
	if participants[0] != c.address {
		return nil, fmt.Errorf("%w: got %s, wallet is %s", ErrFunderNotFirst, participants[0], c.address)
	}

	now := c.now()
	sess := &Session{
		ID:           uuid.New().String(),
		Status:       StatusPending,
		Deposit:      new(big.Int).Set(deposit),
		Balance:      new(big.Int).Set(deposit),
		Participants: append([]string(nil), participants...),
		CreatedAt:    now,
		LastActivity: now,
	}
	c.store.Put(sess)

	c.logger.Info("session created",
		zap.String("session_id", sess.ID),
		zap.String("deposit", deposit.String()),
		zap.Int("participants", len(participants)),
	)

	env, err := protocol.NewEnvelope(protocol.TypeCreateChannel, protocol.CreateChannelPayload{
		SessionID:       sess.ID,
		Deposit:         deposit.String(),
		Participants:    participants,
		Quorum:          c.cfg.Quorum,
		ChallengePeriod: int64(c.cfg.ChallengePeriod.Seconds()),
	})
	if err != nil {
		return nil, err
	}

	resp, err := c.transport.Request(ctx, env, c.cfg.CreateTimeout)
	if err != nil {
		if errors.Is(err, transport.ErrRequestTimeout) && !c.cfg.StrictConfirmation {
			// Resolve OPEN without a relay channel id rather than blocking
			// the caller. A later channel_created push still records the id.
			c.mu.Lock()
			if sess.Status == StatusPending {
				sess.Status = StatusOpen
				sess.LastActivity = c.now()
			}
			snap := sess.Clone()
			c.mu.Unlock()
			c.logger.Warn("channel creation unacknowledged, resolving open without channel id",
				zap.String("session_id", sess.ID),
			)
			return snap, nil
		}
		return nil, err
	}

	if resp.Error != nil {
		return nil, &RelayError{RequestID: resp.RequestID, Message: resp.Error.Message}
	}
	if resp.ChannelCreated == nil {
		return nil, fmt.Errorf("unexpected relay response %s to create_channel", resp.Type)
	}

	c.mu.Lock()
	sess.ChannelID = resp.ChannelCreated.ChannelID
	if sess.Status == StatusPending {
		sess.Status = StatusOpen
	}
	sess.LastActivity = c.now()
	snap := sess.Clone()
	c.mu.Unlock()

	c.logger.Info("channel opened",
		zap.String("session_id", sess.ID),
		zap.String("channel_id", snap.ChannelID),
	)
	return snap, nil
}

// SendTransfer applies one off-chain transfer optimistically: it validates
// balance and state, reserves the next nonce, debits the balance, signs the
// canonical update, and forwards it. The balance decrement is restored only
// when the update never reaches the wire or the relay explicitly reports
// failure; a timeout leaves the transfer pending.
//
// The nonce reservation and debit happen before the signer is awaited, so a
// slow signer on one session never blocks other sessions or inbound
// dispatch.
func (c *Controller) SendTransfer(ctx context.Context, sessionID, to string, amount *big.Int) (*Transfer, error) {
	c.mu.Lock()
	sess, err := c.store.Get(sessionID)
	if err != nil {
		c.mu.Unlock()
		return nil, err
	}
	if sess.AwaitingResync {
		c.mu.Unlock()
		return nil, ErrSessionSyncing
	}
	if sess.Status != StatusOpen && sess.Status != StatusActive {
		status := sess.Status
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: %s is %s", ErrSessionNotActive, sessionID, status)
	}
	if amount == nil || amount.Sign() <= 0 {
		c.mu.Unlock()
		return nil, ErrInvalidAmount
	}
	if amount.Cmp(sess.Balance) > 0 {
		err := fmt.Errorf("%w: have %s, need %s", ErrInsufficientBalance, sess.Balance, amount)
		c.mu.Unlock()
		return nil, err
	}

	nonce := uint64(len(c.store.ListTransfers(sessionID))) + 1
	tf := &Transfer{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		Sender:    c.address,
		Recipient: to,
		Amount:    new(big.Int).Set(amount),
		Nonce:     nonce,
		Status:    TransferPending,
		CreatedAt: c.now(),
	}
	if err := c.store.AppendTransfer(sessionID, tf); err != nil {
		c.mu.Unlock()
		return nil, err
	}
	sess.Balance.Sub(sess.Balance, amount)
	sess.Nonce = nonce
	sess.LastActivity = c.now()
	channelID := sess.ChannelID
	c.mu.Unlock()

	digest := protocol.TransferDigest(sessionID, to, amount.String(), nonce)
	signature, err := c.signer(ctx, digest)

	c.mu.Lock()
	defer c.mu.Unlock()

	if err == nil {
		tf.Signature = signature
		var env *protocol.Envelope
		env, err = protocol.NewEnvelope(protocol.TypeStateUpdate, protocol.StateUpdatePayload{
			SessionID:  sessionID,
			ChannelID:  channelID,
			TransferID: tf.ID,
			To:         to,
			Amount:     amount.String(),
			Nonce:      nonce,
			Signature:  signature,
		})
		if err == nil {
			var requestID string
			requestID, err = c.transport.SendTagged(ctx, env)
			if err == nil {
				tf.RequestID = requestID
				c.pendingTransfers[requestID] = tf.ID
			}
		}
	}
	if err != nil {
		// The update never reached the wire: undo the optimistic decrement.
		tf.Status = TransferFailed
		sess.Balance.Add(sess.Balance, amount)
		return nil, err
	}

	sess.Status = StatusActive

	c.logger.Info("transfer applied",
		zap.String("session_id", sessionID),
		zap.String("transfer_id", tf.ID),
		zap.String("amount", amount.String()),
		zap.Uint64("nonce", nonce),
		zap.String("balance", sess.Balance.String()),
	)
	return tf.Clone(), nil
}

// GetSession returns a snapshot of a session. The stored session keeps
// changing under the controller's lock, so callers get a clone.
func (c *Controller) GetSession(sessionID string) (*Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sess, err := c.store.Get(sessionID)
	if err != nil {
		return nil, err
	}
	return sess.Clone(), nil
}

// ListTransfers returns a snapshot of the session's transfers in nonce order.
func (c *Controller) ListTransfers(sessionID string) []*Transfer {
	c.mu.Lock()
	defer c.mu.Unlock()

	transfers := c.store.ListTransfers(sessionID)
	out := make([]*Transfer, len(transfers))
	for i, tf := range transfers {
		out[i] = tf.Clone()
	}
	return out
}

// Sessions returns a snapshot of all sessions.
func (c *Controller) Sessions() []*Session {
	c.mu.Lock()
	defer c.mu.Unlock()

	sessions := c.store.All()
	out := make([]*Session, len(sessions))
	for i, sess := range sessions {
		out[i] = sess.Clone()
	}
	return out
}

// BeginSettlement transitions a session to CLOSING on behalf of the
// settlement coordinator. Calling it on a session already CLOSING is a
// no-op; CLOSED sessions are rejected.
func (c *Controller) BeginSettlement(sessionID string) (*Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sess, err := c.store.Get(sessionID)
	if err != nil {
		return nil, err
	}
	switch sess.Status {
	case StatusClosed:
		return nil, fmt.Errorf("%w: %s is closed", ErrSessionNotActive, sessionID)
	case StatusClosing:
		return sess.Clone(), nil
	}
	sess.Status = StatusClosing
	sess.LastActivity = c.now()

	c.logger.Info("session closing", zap.String("session_id", sessionID))
	return sess.Clone(), nil
}

// CompleteSettlement transitions a session to CLOSED. Idempotent: a second
// call on a CLOSED session reports false and no error. The returned bool
// indicates whether this call performed the transition.
func (c *Controller) CompleteSettlement(sessionID, onChainRef string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sess, err := c.store.Get(sessionID)
	if err != nil {
		return false, err
	}
	if sess.Status == StatusClosed {
		return false, nil
	}
	sess.Status = StatusClosed
	if onChainRef != "" {
		sess.OnChainRef = onChainRef
	}
	sess.LastActivity = c.now()

	c.logger.Info("session closed",
		zap.String("session_id", sessionID),
		zap.String("on_chain_ref", onChainRef),
	)
	return true, nil
}

// MarkAllAwaitingResync flags every non-closed session so transfers are
// rejected until authoritative state has been fetched after a reconnect.
func (c *Controller) MarkAllAwaitingResync() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, sess := range c.store.All() {
		if sess.Status != StatusClosed {
			sess.AwaitingResync = true
		}
	}
}

// Resync fetches the relay's authoritative balance and nonce for one
// session and applies them, clearing the resync gate.
func (c *Controller) Resync(ctx context.Context, sessionID string, timeout time.Duration) error {
	if _, err := c.store.Get(sessionID); err != nil {
		return err
	}

	env, err := protocol.NewEnvelope(protocol.TypeResyncSession, protocol.ResyncSessionPayload{
		SessionID: sessionID,
	})
	if err != nil {
		return err
	}

	resp, err := c.transport.Request(ctx, env, timeout)
	if err != nil {
		return err
	}
	if resp.Error != nil {
		return &RelayError{RequestID: resp.RequestID, Message: resp.Error.Message}
	}
	if resp.SessionResynced == nil {
		return fmt.Errorf("unexpected relay response %s to resync_session", resp.Type)
	}

	c.applyResync(resp.SessionResynced)
	return nil
}

// ResyncAll resyncs every non-closed session after a reconnect.
func (c *Controller) ResyncAll(ctx context.Context, timeout time.Duration) error {
	var firstErr error
	for _, sess := range c.Sessions() {
		if sess.Status == StatusClosed {
			continue
		}
		if err := c.Resync(ctx, sess.ID, timeout); err != nil {
			c.logger.Warn("session resync failed",
				zap.String("session_id", sess.ID),
				zap.Error(err),
			)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// HandleEvent consumes transport events; it is the inbound half of the
// state machine. Registered by the owning client on its transport.
func (c *Controller) HandleEvent(ev transport.Event) {
	switch ev.Kind {
	case transport.EventMessage:
		c.handleInbound(ev.Message)
	case transport.EventReconnected:
		c.MarkAllAwaitingResync()
	case transport.EventConnectionLost:
		c.logger.Error("relay connection lost", zap.Error(ev.Err))
	}
}

func (c *Controller) handleInbound(in *protocol.Inbound) {
	switch in.Type {
	case protocol.TypeChannelCreated:
		c.handleChannelCreated(in.ChannelCreated)
	case protocol.TypeChannelUpdated:
		c.handleChannelUpdated(in.ChannelUpdated)
	case protocol.TypeTransferConfirmed:
		c.handleTransferConfirmed(in.TransferConfirmed)
	case protocol.TypeSessionResynced:
		c.applyResync(in.SessionResynced)
	case protocol.TypeSettlementComplete:
		c.handleSettlementComplete(in.SettlementComplete)
	case protocol.TypeError:
		c.handleRelayError(in.Error)
	}
}

func (c *Controller) handleChannelCreated(p *protocol.ChannelCreatedPayload) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sess, err := c.store.Get(p.SessionID)
	if err != nil {
		c.logger.Warn("channel_created for unknown session", zap.String("session_id", p.SessionID))
		return
	}
	sess.ChannelID = p.ChannelID
	if sess.Status == StatusPending {
		sess.Status = StatusOpen
	}
	sess.LastActivity = c.now()
}

// handleChannelUpdated reconciles with the relay-reported balance and nonce,
// taking the relay's values as authoritative over local optimism.
func (c *Controller) handleChannelUpdated(p *protocol.ChannelUpdatedPayload) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sess, err := c.store.Get(p.SessionID)
	if err != nil {
		c.logger.Warn("channel_updated for unknown session", zap.String("session_id", p.SessionID))
		return
	}

	balance, ok := new(big.Int).SetString(p.Balance, 10)
	if !ok {
		c.logger.Error("channel_updated with unparseable balance",
			zap.String("session_id", p.SessionID),
			zap.String("balance", p.Balance),
		)
		return
	}

	if sess.Balance.Cmp(balance) != 0 || sess.Nonce != p.Nonce {
		c.logger.Info("reconciling with relay state",
			zap.String("session_id", p.SessionID),
			zap.String("local_balance", sess.Balance.String()),
			zap.String("relay_balance", balance.String()),
			zap.Uint64("local_nonce", sess.Nonce),
			zap.Uint64("relay_nonce", p.Nonce),
		)
	}
	sess.Balance = balance
	sess.Nonce = p.Nonce
	sess.LastActivity = c.now()
}

func (c *Controller) handleTransferConfirmed(p *protocol.TransferConfirmedPayload) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, tf := range c.store.ListTransfers(p.SessionID) {
		if tf.ID == p.TransferID {
			tf.Status = TransferConfirmed
			if tf.RequestID != "" {
				delete(c.pendingTransfers, tf.RequestID)
			}
			c.logger.Info("transfer confirmed",
				zap.String("session_id", p.SessionID),
				zap.String("transfer_id", p.TransferID),
			)
			return
		}
	}
	c.logger.Warn("transfer_confirmed for unknown transfer",
		zap.String("session_id", p.SessionID),
		zap.String("transfer_id", p.TransferID),
	)
}

func (c *Controller) applyResync(p *protocol.SessionResyncedPayload) {
	if p == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	sess, err := c.store.Get(p.SessionID)
	if err != nil {
		c.logger.Warn("session_resynced for unknown session", zap.String("session_id", p.SessionID))
		return
	}

	if balance, ok := new(big.Int).SetString(p.Balance, 10); ok {
		sess.Balance = balance
	}
	sess.Nonce = p.Nonce
	if p.ChannelID != "" {
		sess.ChannelID = p.ChannelID
	}
	sess.AwaitingResync = false
	sess.LastActivity = c.now()

	c.logger.Info("session resynced",
		zap.String("session_id", p.SessionID),
		zap.String("balance", sess.Balance.String()),
		zap.Uint64("nonce", sess.Nonce),
	)
}

func (c *Controller) handleSettlementComplete(p *protocol.SettlementCompletePayload) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sess, err := c.store.Get(p.SessionID)
	if err != nil {
		c.logger.Warn("settlement_complete for unknown session", zap.String("session_id", p.SessionID))
		return
	}
	if sess.Status == StatusClosed {
		return
	}
	sess.Status = StatusClosed
	sess.LastActivity = c.now()

	c.logger.Info("settlement complete", zap.String("session_id", p.SessionID))
}

// handleRelayError rolls back the optimistic decrement of a transfer the
// relay explicitly rejected. Timeouts never reach this path; a timeout does
// not imply failure.
func (c *Controller) handleRelayError(p *protocol.ErrorPayload) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.logger.Warn("relay reported error",
		zap.String("request_id", p.RequestID),
		zap.String("message", p.Message),
	)

	if p.RequestID == "" {
		return
	}
	transferID, ok := c.pendingTransfers[p.RequestID]
	if !ok {
		return
	}
	delete(c.pendingTransfers, p.RequestID)

	for _, sess := range c.store.All() {
		for _, tf := range c.store.ListTransfers(sess.ID) {
			if tf.ID != transferID {
				continue
			}
			if tf.Status != TransferPending {
				return
			}
			tf.Status = TransferFailed
			sess.Balance.Add(sess.Balance, tf.Amount)
			sess.LastActivity = c.now()
			c.logger.Info("rolled back failed transfer",
				zap.String("session_id", sess.ID),
				zap.String("transfer_id", tf.ID),
				zap.String("restored_balance", sess.Balance.String()),
			)
			return
		}
	}
}
