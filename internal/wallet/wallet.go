// Package wallet manages the local secp256k1 signing key. It supplies the
// signing function the channel client uses; key material never leaves this
// package.
package wallet

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"github.com/mdp/qrterminal/v3"
	"golang.org/x/crypto/sha3"
)

// Wallet holds one secp256k1 keypair and its derived address.
type Wallet struct {
	privKey *secp256k1.PrivateKey
	address string
}

// Generate creates a wallet with a fresh random keypair.
func Generate() (*Wallet, error) {
	keyBytes := make([]byte, 32)
	if _, err := rand.Read(keyBytes); err != nil {
		return nil, fmt.Errorf("failed to generate random key: %w", err)
	}
	return fromKeyBytes(keyBytes)
}

// FromHex loads a wallet from a hex-encoded private key, with or without a
// 0x prefix.
func FromHex(hexKey string) (*Wallet, error) {
	hexKey = strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	keyBytes, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("failed to decode private key: %w", err)
	}
	if len(keyBytes) != 32 {
		return nil, fmt.Errorf("private key must be 32 bytes, got %d", len(keyBytes))
	}
	return fromKeyBytes(keyBytes)
}

// FromFile loads a wallet from a key file containing the hex private key.
func FromFile(path string) (*Wallet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}
	return FromHex(string(data))
}

// SaveFile writes the hex private key to path with owner-only permissions.
func (w *Wallet) SaveFile(path string) error {
	return os.WriteFile(path, []byte(w.PrivateKeyHex()+"\n"), 0600)
}

func fromKeyBytes(keyBytes []byte) (*Wallet, error) {
	privKey := secp256k1.PrivKeyFromBytes(keyBytes)
	return &Wallet{
		privKey: privKey,
		address: deriveAddress(privKey.PubKey()),
	}, nil
}

// Address returns the wallet's 0x-prefixed address.
func (w *Wallet) Address() string {
	return w.address
}

// PrivateKeyHex returns the hex-encoded private key.
func (w *Wallet) PrivateKeyHex() string {
	return hex.EncodeToString(w.privKey.Serialize())
}

// Sign signs the Keccak-256 hash of message, returning a hex signature.
// The returned function shape matches the channel client's signer contract.
func (w *Wallet) Sign(ctx context.Context, message string) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}

	digest := keccak256([]byte(message))
	sig := ecdsa.Sign(w.privKey, digest)
	return "0x" + hex.EncodeToString(sig.Serialize()), nil
}

// Signer returns the wallet's signing function in the form the channel
// client consumes.
func (w *Wallet) Signer() func(ctx context.Context, message string) (string, error) {
	return w.Sign
}

// Verify checks a hex signature produced by Sign against message.
func (w *Wallet) Verify(message, hexSig string) bool {
	raw, err := hex.DecodeString(strings.TrimPrefix(hexSig, "0x"))
	if err != nil {
		return false
	}
	sig, err := ecdsa.ParseDERSignature(raw)
	if err != nil {
		return false
	}
	return sig.Verify(keccak256([]byte(message)), w.privKey.PubKey())
}

// WriteQR renders the wallet address as a terminal QR code.
func (w *Wallet) WriteQR(out io.Writer) {
	qrterminal.GenerateWithConfig(w.address, qrterminal.Config{
		Level:     qrterminal.M,
		Writer:    out,
		BlackChar: qrterminal.BLACK,
		WhiteChar: qrterminal.WHITE,
		QuietZone: 1,
	})
}

// deriveAddress computes the EVM-style address: last 20 bytes of the
// Keccak-256 hash of the uncompressed public key.
func deriveAddress(pubKey *secp256k1.PublicKey) string {
	uncompressed := pubKey.SerializeUncompressed()
	hash := keccak256(uncompressed[1:])
	return "0x" + hex.EncodeToString(hash[12:])
}

func keccak256(data []byte) []byte {
	h := sha3.NewLegacyKeccak256()
	h.Write(data)
	return h.Sum(nil)
}
