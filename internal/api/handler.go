// Package api exposes the channel client to the dashboard over HTTP.
package api

import (
	"errors"
	"math/big"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/eddiemessiah/pulse-remit-channel/internal/channel"
	"github.com/eddiemessiah/pulse-remit-channel/internal/client"
	"github.com/eddiemessiah/pulse-remit-channel/internal/history"
)

// Handler implements the gateway endpoints.
type Handler struct {
	client  *client.Client
	history *history.Store
	tokens  *TokenService
	secret  string
	logger  *zap.Logger
}

// NewHandler creates the gateway handler. history may be nil.
func NewHandler(c *client.Client, hist *history.Store, tokens *TokenService, secret string, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		client:  c,
		history: hist,
		tokens:  tokens,
		secret:  secret,
		logger:  logger,
	}
}

// HealthCheck reports liveness.
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "time": time.Now().Format(time.RFC3339)})
}

// IssueToken exchanges the gateway secret for a bearer token.
func (h *Handler) IssueToken(c *gin.Context) {
	var req struct {
		Secret string `json:"secret" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "secret is required"})
		return
	}
	if h.secret == "" || req.Secret != h.secret {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid secret"})
		return
	}

	token, err := h.tokens.GenerateToken("dashboard")
	if err != nil {
		h.logger.Error("failed to issue token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to issue token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token})
}

// Status returns the client's connection and session snapshot.
func (h *Handler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, h.client.Status())
}

// CreateSession opens a new channel session.
func (h *Handler) CreateSession(c *gin.Context) {
	var req struct {
		Deposit      string   `json:"deposit" binding:"required"`
		Participants []string `json:"participants" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "deposit and participants are required"})
		return
	}

	deposit, ok := new(big.Int).SetString(req.Deposit, 10)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid deposit amount"})
		return
	}

	sess, err := h.client.CreateSession(c.Request.Context(), deposit, req.Participants)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, sessionJSON(sess))
}

// SendTransfer executes one off-chain transfer.
func (h *Handler) SendTransfer(c *gin.Context) {
	var req struct {
		To     string `json:"to" binding:"required"`
		Amount string `json:"amount" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "to and amount are required"})
		return
	}

	amount, ok := new(big.Int).SetString(req.Amount, 10)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid transfer amount"})
		return
	}

	tf, err := h.client.SendTransfer(c.Request.Context(), c.Param("sessionId"), req.To, amount)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, transferJSON(tf))
}

// InitiateSettlement starts closing a session.
func (h *Handler) InitiateSettlement(c *gin.Context) {
	state, payload, err := h.client.InitiateSettlement(c.Request.Context(), c.Param("sessionId"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"state":             stateJSON(state),
		"settlementPayload": string(payload),
	})
}

// ConfirmSettlement finalizes a session after on-chain settlement.
func (h *Handler) ConfirmSettlement(c *gin.Context) {
	var req struct {
		OnChainRef string `json:"onChainRef"`
	}
	c.ShouldBindJSON(&req)

	if err := h.client.ConfirmSettlement(c.Param("sessionId"), req.OnChainRef); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "closed"})
}

// ListSessions returns all sessions.
func (h *Handler) ListSessions(c *gin.Context) {
	sessions := h.client.Sessions()
	out := make([]gin.H, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, sessionJSON(s))
	}
	c.JSON(http.StatusOK, gin.H{"sessions": out})
}

// GetSession returns one session.
func (h *Handler) GetSession(c *gin.Context) {
	sess, err := h.client.GetSession(c.Param("sessionId"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sessionJSON(sess))
}

// ListTransfers returns a session's transfers.
func (h *Handler) ListTransfers(c *gin.Context) {
	if _, err := h.client.GetSession(c.Param("sessionId")); err != nil {
		h.writeError(c, err)
		return
	}
	transfers := h.client.ListTransfers(c.Param("sessionId"))
	out := make([]gin.H, 0, len(transfers))
	for _, tf := range transfers {
		out = append(out, transferJSON(tf))
	}
	c.JSON(http.StatusOK, gin.H{"transfers": out})
}

// GetState returns the derived channel state snapshot.
func (h *Handler) GetState(c *gin.Context) {
	state, err := h.client.ComputeState(c.Param("sessionId"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, stateJSON(state))
}

// History returns settled sessions from the local ledger.
func (h *Handler) History(c *gin.Context) {
	if h.history == nil {
		c.JSON(http.StatusOK, gin.H{"settlements": []gin.H{}})
		return
	}
	records, err := h.history.ListSettlements()
	if err != nil {
		h.logger.Error("failed to read history", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read history"})
		return
	}
	out := make([]gin.H, 0, len(records))
	for _, rec := range records {
		out = append(out, gin.H{
			"sessionId":  rec.SessionID,
			"channelId":  rec.ChannelID,
			"balances":   rec.BalancesJSON,
			"stateHash":  rec.StateHash,
			"nonce":      rec.Nonce,
			"onChainRef": rec.OnChainRef,
			"settledAt":  rec.SettledAt.Format(time.RFC3339),
		})
	}
	c.JSON(http.StatusOK, gin.H{"settlements": out})
}

func (h *Handler) writeError(c *gin.Context, err error) {
	var relayErr *channel.RelayError
	switch {
	case errors.Is(err, channel.ErrSessionNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, channel.ErrInsufficientBalance),
		errors.Is(err, channel.ErrInvalidAmount),
		errors.Is(err, channel.ErrInvalidDeposit),
		errors.Is(err, channel.ErrNotEnoughParticipants),
		errors.Is(err, channel.ErrFunderNotFirst):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, channel.ErrSessionNotActive),
		errors.Is(err, channel.ErrSessionSyncing):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.As(err, &relayErr):
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	default:
		h.logger.Error("request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func sessionJSON(s *channel.Session) gin.H {
	return gin.H{
		"id":           s.ID,
		"channelId":    s.ChannelID,
		"status":       string(s.Status),
		"deposit":      s.Deposit.String(),
		"balance":      s.Balance.String(),
		"nonce":        s.Nonce,
		"participants": s.Participants,
		"onChainRef":   s.OnChainRef,
		"createdAt":    s.CreatedAt.Format(time.RFC3339),
		"lastActivity": s.LastActivity.Format(time.RFC3339),
	}
}

func transferJSON(t *channel.Transfer) gin.H {
	return gin.H{
		"id":        t.ID,
		"sessionId": t.SessionID,
		"sender":    t.Sender,
		"recipient": t.Recipient,
		"amount":    t.Amount.String(),
		"nonce":     t.Nonce,
		"signature": t.Signature,
		"status":    string(t.Status),
		"createdAt": t.CreatedAt.Format(time.RFC3339),
	}
}

func stateJSON(st *channel.ChannelState) gin.H {
	balances := make(map[string]string, len(st.Balances))
	for addr, bal := range st.Balances {
		balances[addr] = bal.String()
	}
	return gin.H{
		"sessionId":  st.SessionID,
		"balances":   balances,
		"nonce":      st.Nonce,
		"isFinal":    st.IsFinal,
		"signatures": st.Signatures,
		"stateHash":  st.StateHash,
	}
}
