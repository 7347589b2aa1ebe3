package signer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	btcecdsa "github.com/btcsuite/btcd/btcec/v2/ecdsa"
)

var (
	ErrUnavailable      = errors.New("signing oracle unavailable")
	ErrInvalidSignature = errors.New("signature does not verify against key")
)

// Signer is the external signing oracle. It signs arbitrary byte strings
// with the node's key and never exposes private key material.
type Signer interface {
	// NodeKey returns the node's compressed public key as lower-case hex.
	NodeKey(ctx context.Context) (string, error)
	// Sign returns a hex-encoded compact recoverable ECDSA signature over
	// the payload.
	Sign(ctx context.Context, payload []byte) (string, error)
	// Verify checks a signature produced by Sign against a public key.
	// Returns ErrInvalidSignature on mismatch.
	Verify(ctx context.Context, payload []byte, signature, pubkey string) error
}

// ValidNodeKey reports whether s is a well-formed compressed secp256k1
// public key (66 hex chars, 02/03 prefix, on-curve point).
func ValidNodeKey(s string) bool {
	if len(s) != 66 {
		return false
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return false
	}
	if raw[0] != 0x02 && raw[0] != 0x03 {
		return false
	}
	_, err = btcec.ParsePubKey(raw)
	return err == nil
}

// digest is the single hashing step applied before signing or recovery.
func digest(payload []byte) []byte {
	sum := sha256.Sum256(payload)
	return sum[:]
}

// VerifyCompact recovers the signing key from a hex compact signature and
// compares it to the expected compressed pubkey.
func VerifyCompact(payload []byte, signature, pubkey string) error {
	sig, err := hex.DecodeString(signature)
	if err != nil {
		return fmt.Errorf("malformed signature encoding: %w", err)
	}
	recovered, _, err := btcecdsa.RecoverCompact(sig, digest(payload))
	if err != nil {
		return fmt.Errorf("signature recovery failed: %w", err)
	}
	if hex.EncodeToString(recovered.SerializeCompressed()) != pubkey {
		return ErrInvalidSignature
	}
	return nil
}

// LocalSigner signs with an in-process secp256k1 key. Used in tests and
// for standalone operation without a host lightning node.
type LocalSigner struct {
	priv *btcec.PrivateKey
}

// NewLocalSigner generates a fresh key.
func NewLocalSigner() (*LocalSigner, error) {
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate signing key: %w", err)
	}
	return &LocalSigner{priv: priv}, nil
}

func (s *LocalSigner) NodeKey(ctx context.Context) (string, error) {
	return hex.EncodeToString(s.priv.PubKey().SerializeCompressed()), nil
}

func (s *LocalSigner) Sign(ctx context.Context, payload []byte) (string, error) {
	sig := btcecdsa.SignCompact(s.priv, digest(payload), true)
	return hex.EncodeToString(sig), nil
}

func (s *LocalSigner) Verify(ctx context.Context, payload []byte, signature, pubkey string) error {
	return VerifyCompact(payload, signature, pubkey)
}
