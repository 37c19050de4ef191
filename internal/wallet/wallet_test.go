package wallet

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// The well-known test vector: private key 0x01 derives the generator point.
const testKeyHex = "0000000000000000000000000000000000000000000000000000000000000001"

func TestFromHexDeterministicAddress(t *testing.T) {
	a, err := FromHex(testKeyHex)
	require.NoError(t, err)
	b, err := FromHex("0x" + testKeyHex)
	require.NoError(t, err)

	assert.Equal(t, a.Address(), b.Address())
	assert.True(t, strings.HasPrefix(a.Address(), "0x"))
	assert.Len(t, a.Address(), 42)
	// keccak(G)[12:] for k=1, a fixed point of the derivation.
	assert.Equal(t, "0x7e5f4552091a69125d5dfcb7b8c2659029395bdf", a.Address())
}

func TestFromHexRejectsBadKeys(t *testing.T) {
	_, err := FromHex("zzzz")
	assert.Error(t, err)

	_, err = FromHex("abcd")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "32 bytes")
}

func TestGenerateProducesDistinctWallets(t *testing.T) {
	a, err := Generate()
	require.NoError(t, err)
	b, err := Generate()
	require.NoError(t, err)

	assert.NotEqual(t, a.Address(), b.Address())
	assert.Len(t, a.PrivateKeyHex(), 64)
}

func TestSignVerifyRoundTrip(t *testing.T) {
	w, err := FromHex(testKeyHex)
	require.NoError(t, err)

	sig, err := w.Sign(context.Background(), "pulse-remit.v1|auth|0xabc|1700000000000")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(sig, "0x"))

	assert.True(t, w.Verify("pulse-remit.v1|auth|0xabc|1700000000000", sig))
	assert.False(t, w.Verify("tampered message", sig))
	assert.False(t, w.Verify("pulse-remit.v1|auth|0xabc|1700000000000", "0xnotasig"))
}

func TestSignHonorsCancelledContext(t *testing.T) {
	w, err := FromHex(testKeyHex)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = w.Sign(ctx, "message")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSaveAndLoadFile(t *testing.T) {
	w, err := Generate()
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "wallet.key")
	require.NoError(t, w.SaveFile(path))

	loaded, err := FromFile(path)
	require.NoError(t, err)
	assert.Equal(t, w.Address(), loaded.Address())
}

func TestFromFileMissing(t *testing.T) {
	_, err := FromFile(filepath.Join(t.TempDir(), "absent.key"))
	assert.Error(t, err)
}
