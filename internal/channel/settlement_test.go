package channel

import (
	"context"
	"encoding/json"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eddiemessiah/pulse-remit-channel/internal/protocol"
)

type recordingSettlements struct {
	calls      int
	sessionID  string
	channelID  string
	state      *ChannelState
	onChainRef string
}

func (r *recordingSettlements) RecordSettlement(sessionID, channelID string, state *ChannelState, onChainRef string) error {
	r.calls++
	r.sessionID = sessionID
	r.channelID = channelID
	r.state = state
	r.onChainRef = onChainRef
	return nil
}

func newTestCoordinator(t *testing.T) (*Coordinator, *Controller, *Store, *fakeTransport, *recordingSettlements) {
	t.Helper()
	store := NewStore()
	tr := newFakeTransport()
	ctrl := NewController(store, tr, "0xalice", testSigner, DefaultConfig(), nil)
	rec := &recordingSettlements{}
	co := NewCoordinator(ctrl, tr, rec, nil)
	return co, ctrl, store, tr, rec
}

func TestComputeStateReplaysTransfers(t *testing.T) {
	co, ctrl, _, _, _ := newTestCoordinator(t)

	sess, err := ctrl.CreateSession(context.Background(), big.NewInt(100), []string{"0xalice", "0xbob"})
	require.NoError(t, err)
	_, err = ctrl.SendTransfer(context.Background(), sess.ID, "0xbob", big.NewInt(40))
	require.NoError(t, err)
	_, err = ctrl.SendTransfer(context.Background(), sess.ID, "0xbob", big.NewInt(30))
	require.NoError(t, err)

	state, err := co.ComputeState(sess.ID)
	require.NoError(t, err)

	assert.Equal(t, "30", state.Balances["0xalice"].String())
	assert.Equal(t, "70", state.Balances["0xbob"].String())
	assert.Equal(t, uint64(2), state.Nonce)
	assert.False(t, state.IsFinal)
	assert.Len(t, state.Signatures, 2)
	assert.True(t, len(state.StateHash) == 66 && state.StateHash[:2] == "0x")
}

func TestComputeStateIsDeterministic(t *testing.T) {
	co, ctrl, _, _, _ := newTestCoordinator(t)

	sess, err := ctrl.CreateSession(context.Background(), big.NewInt(100), []string{"0xalice", "0xbob"})
	require.NoError(t, err)
	_, err = ctrl.SendTransfer(context.Background(), sess.ID, "0xbob", big.NewInt(25))
	require.NoError(t, err)

	a, err := co.ComputeState(sess.ID)
	require.NoError(t, err)
	b, err := co.ComputeState(sess.ID)
	require.NoError(t, err)

	assert.Equal(t, a.StateHash, b.StateHash)
	assert.Equal(t, a.Nonce, b.Nonce)
	assert.Equal(t, a.Balances["0xbob"].String(), b.Balances["0xbob"].String())
}

func TestComputeStateExcludesFailedTransfers(t *testing.T) {
	co, ctrl, store, _, _ := newTestCoordinator(t)

	sess, err := ctrl.CreateSession(context.Background(), big.NewInt(100), []string{"0xalice", "0xbob"})
	require.NoError(t, err)
	_, err = ctrl.SendTransfer(context.Background(), sess.ID, "0xbob", big.NewInt(40))
	require.NoError(t, err)
	_, err = ctrl.SendTransfer(context.Background(), sess.ID, "0xbob", big.NewInt(10))
	require.NoError(t, err)

	store.ListTransfers(sess.ID)[0].Status = TransferFailed

	state, err := co.ComputeState(sess.ID)
	require.NoError(t, err)

	// The failed transfer keeps its nonce slot but moves no value.
	assert.Equal(t, "90", state.Balances["0xalice"].String())
	assert.Equal(t, "10", state.Balances["0xbob"].String())
	assert.Equal(t, uint64(2), state.Nonce)
}

func TestComputeStateUnknownSession(t *testing.T) {
	co, _, _, _, _ := newTestCoordinator(t)

	_, err := co.ComputeState("missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestInitiateSettlementClosesAndAnchors(t *testing.T) {
	co, ctrl, _, tr, _ := newTestCoordinator(t)

	sess, err := ctrl.CreateSession(context.Background(), big.NewInt(100), []string{"0xalice", "0xbob"})
	require.NoError(t, err)
	_, err = ctrl.SendTransfer(context.Background(), sess.ID, "0xbob", big.NewInt(40))
	require.NoError(t, err)

	state, payload, err := co.InitiateSettlement(context.Background(), sess.ID)
	require.NoError(t, err)

	got, err := ctrl.GetSession(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusClosing, got.Status)
	assert.True(t, state.IsFinal)
	assert.Equal(t, uint64(1), state.Nonce)

	var final protocol.FinalState
	require.NoError(t, json.Unmarshal(payload, &final))
	assert.Equal(t, "60", final.Balances["0xalice"])
	assert.Equal(t, "40", final.Balances["0xbob"])
	assert.True(t, final.IsFinal)
	assert.Equal(t, state.StateHash, final.StateHash)

	require.Len(t, tr.sent, 1)
	assert.Equal(t, protocol.TypeSettleChannel, tr.sent[0].Type)
}

func TestFinalHashDiffersFromInterimHash(t *testing.T) {
	co, ctrl, _, _, _ := newTestCoordinator(t)

	sess, err := ctrl.CreateSession(context.Background(), big.NewInt(100), []string{"0xalice", "0xbob"})
	require.NoError(t, err)

	interim, err := co.ComputeState(sess.ID)
	require.NoError(t, err)

	final, _, err := co.InitiateSettlement(context.Background(), sess.ID)
	require.NoError(t, err)

	assert.NotEqual(t, interim.StateHash, final.StateHash)
}

func TestInitiateSettlementOnClosedSession(t *testing.T) {
	co, ctrl, _, _, _ := newTestCoordinator(t)

	sess, err := ctrl.CreateSession(context.Background(), big.NewInt(100), []string{"0xalice", "0xbob"})
	require.NoError(t, err)
	_, err = ctrl.CompleteSettlement(sess.ID, "0xtx")
	require.NoError(t, err)

	_, _, err = co.InitiateSettlement(context.Background(), sess.ID)
	assert.ErrorIs(t, err, ErrSessionNotActive)
}

func TestConfirmSettlementRecordsOnce(t *testing.T) {
	co, ctrl, _, _, rec := newTestCoordinator(t)

	sess, err := ctrl.CreateSession(context.Background(), big.NewInt(100), []string{"0xalice", "0xbob"})
	require.NoError(t, err)
	_, err = ctrl.SendTransfer(context.Background(), sess.ID, "0xbob", big.NewInt(40))
	require.NoError(t, err)

	_, _, err = co.InitiateSettlement(context.Background(), sess.ID)
	require.NoError(t, err)

	require.NoError(t, co.ConfirmSettlement(sess.ID, "0xtxhash"))
	got, err := ctrl.GetSession(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusClosed, got.Status)
	assert.Equal(t, "0xtxhash", got.OnChainRef)
	assert.Equal(t, 1, rec.calls)
	assert.Equal(t, sess.ID, rec.sessionID)
	assert.Equal(t, "0xtxhash", rec.onChainRef)
	require.NotNil(t, rec.state)
	assert.True(t, rec.state.IsFinal)

	// Idempotent: confirming again neither errors nor records twice.
	require.NoError(t, co.ConfirmSettlement(sess.ID, "0xother"))
	assert.Equal(t, 1, rec.calls)
	got, err = ctrl.GetSession(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "0xtxhash", got.OnChainRef)
}

func TestConfirmSettlementWithoutRecorder(t *testing.T) {
	store := NewStore()
	tr := newFakeTransport()
	ctrl := NewController(store, tr, "0xalice", testSigner, DefaultConfig(), nil)
	co := NewCoordinator(ctrl, tr, nil, nil)

	sess, err := ctrl.CreateSession(context.Background(), big.NewInt(100), []string{"0xalice", "0xbob"})
	require.NoError(t, err)

	require.NoError(t, co.ConfirmSettlement(sess.ID, "0xtx"))
	got, err := ctrl.GetSession(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusClosed, got.Status)
}
