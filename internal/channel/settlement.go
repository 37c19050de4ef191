package channel

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"

	"go.uber.org/zap"
	"golang.org/x/crypto/sha3"

	"github.com/eddiemessiah/pulse-remit-channel/internal/protocol"
)

// ChannelState is a derived snapshot of a session, recomputed on demand by
// replaying the transfer list against the deposit. Never stored.
type ChannelState struct {
	SessionID  string
	Balances   map[string]*big.Int
	Nonce      uint64
	IsFinal    bool
	Signatures []string
	StateHash  string
}

// SettlementRecorder persists settled sessions for the product's history
// view. Optional; a nil recorder disables persistence.
type SettlementRecorder interface {
	RecordSettlement(sessionID, channelID string, state *ChannelState, onChainRef string) error
}

// Coordinator computes final channel states and drives closure. It reads
// session snapshots through the Controller, which also owns all status
// transitions.
type Coordinator struct {
	controller *Controller
	transport  Transport
	recorder   SettlementRecorder
	logger     *zap.Logger
}

// NewCoordinator creates a settlement coordinator.
func NewCoordinator(controller *Controller, tr Transport, recorder SettlementRecorder, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		controller: controller,
		transport:  tr,
		recorder:   recorder,
		logger:     logger,
	}
}

// ComputeState derives the current channel state. Pure function of stored
// data: identical inputs yield an identical snapshot, hash included.
func (co *Coordinator) ComputeState(sessionID string) (*ChannelState, error) {
	sess, err := co.controller.GetSession(sessionID)
	if err != nil {
		return nil, err
	}
	return co.replay(sess, false), nil
}

func (co *Coordinator) replay(sess *Session, isFinal bool) *ChannelState {
	balances := make(map[string]*big.Int, len(sess.Participants))
	for _, p := range sess.Participants {
		balances[p] = big.NewInt(0)
	}
	if len(sess.Participants) > 0 {
		balances[sess.Participants[0]] = new(big.Int).Set(sess.Deposit)
	}

	transfers := co.controller.ListTransfers(sess.ID)
	var nonce uint64
	signatures := make([]string, 0, len(transfers))
	for _, tf := range transfers {
		nonce = tf.Nonce
		if tf.Signature != "" {
			signatures = append(signatures, tf.Signature)
		}
		if tf.Status == TransferFailed {
			continue
		}
		if from, ok := balances[tf.Sender]; ok {
			from.Sub(from, tf.Amount)
		}
		if to, ok := balances[tf.Recipient]; ok {
			to.Add(to, tf.Amount)
		} else {
			balances[tf.Recipient] = new(big.Int).Set(tf.Amount)
		}
	}

	return &ChannelState{
		SessionID:  sess.ID,
		Balances:   balances,
		Nonce:      nonce,
		IsFinal:    isFinal,
		Signatures: signatures,
		StateHash:  stateHash(sess.ID, nonce, isFinal),
	}
}

// InitiateSettlement marks the session CLOSING, computes the final state,
// and requests relay-side settlement. Returns the final state and an opaque
// payload for on-chain submission by the external caller.
func (co *Coordinator) InitiateSettlement(ctx context.Context, sessionID string) (*ChannelState, []byte, error) {
	sess, err := co.controller.BeginSettlement(sessionID)
	if err != nil {
		return nil, nil, err
	}

	state := co.replay(sess, true)

	final := protocol.FinalState{
		Balances:   make(map[string]string, len(state.Balances)),
		Nonce:      state.Nonce,
		IsFinal:    true,
		StateHash:  state.StateHash,
		Signatures: state.Signatures,
	}
	for addr, bal := range state.Balances {
		final.Balances[addr] = bal.String()
	}

	env, err := protocol.NewEnvelope(protocol.TypeSettleChannel, protocol.SettleChannelPayload{
		SessionID:  sessionID,
		ChannelID:  sess.ChannelID,
		FinalState: final,
	})
	if err != nil {
		return nil, nil, err
	}
	if err := co.transport.Send(ctx, env); err != nil {
		return nil, nil, fmt.Errorf("request settlement: %w", err)
	}

	payload, err := json.Marshal(final)
	if err != nil {
		return nil, nil, err
	}

	co.logger.Info("settlement initiated",
		zap.String("session_id", sessionID),
		zap.String("state_hash", state.StateHash),
		zap.Uint64("final_nonce", state.Nonce),
	)
	return state, payload, nil
}

// ConfirmSettlement transitions the session to CLOSED once the external
// caller reports the on-chain settlement final. Idempotent: a second call
// on a CLOSED session is a no-op.
func (co *Coordinator) ConfirmSettlement(sessionID, onChainRef string) error {
	transitioned, err := co.controller.CompleteSettlement(sessionID, onChainRef)
	if err != nil {
		return err
	}
	if !transitioned {
		return nil
	}

	if co.recorder != nil {
		sess, err := co.controller.GetSession(sessionID)
		if err != nil {
			return err
		}
		state := co.replay(sess, true)
		if err := co.recorder.RecordSettlement(sessionID, sess.ChannelID, state, onChainRef); err != nil {
			co.logger.Warn("failed to record settlement",
				zap.String("session_id", sessionID),
				zap.Error(err),
			)
		}
	}

	co.logger.Info("settlement confirmed",
		zap.String("session_id", sessionID),
		zap.String("on_chain_ref", onChainRef),
	)
	return nil
}

// stateHash is the settlement anchor: Keccak-256 over session id, nonce and
// the finality flag.
func stateHash(sessionID string, nonce uint64, isFinal bool) string {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(sessionID))

	var nonceBytes [8]byte
	binary.BigEndian.PutUint64(nonceBytes[:], nonce)
	h.Write(nonceBytes[:])

	if isFinal {
		h.Write([]byte{1})
	} else {
		h.Write([]byte{0})
	}

	return "0x" + hex.EncodeToString(h.Sum(nil))
}
