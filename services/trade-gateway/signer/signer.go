package signer

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
)

// Supported key schemes.
const (
	SchemeEd25519   = "ed25519"
	SchemeSecp256k1 = "secp256k1"
)

// Key signs raw payloads with the service key. Implementations must be
// deterministic: the same payload always yields the same signature.
type Key interface {
	Scheme() string
	PublicKey() string
	Sign(payload []byte) ([]byte, error)
}

// Signer issues claim authorizations. It never looks at trade state.
type Signer struct {
	key Key
}

// New wraps key.
func New(key Key) *Signer {
	return &Signer{key: key}
}

// FromHex builds a Signer for scheme from a hex-encoded private key.
func FromHex(scheme, keyHex string) (*Signer, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(keyHex), "0x"))
	if err != nil {
		return nil, fmt.Errorf("signer: decode key: %w", err)
	}
	switch strings.ToLower(strings.TrimSpace(scheme)) {
	case "", SchemeEd25519:
		key, err := NewEd25519Key(raw)
		if err != nil {
			return nil, err
		}
		return New(key), nil
	case SchemeSecp256k1:
		key, err := NewSecp256k1Key(raw)
		if err != nil {
			return nil, err
		}
		return New(key), nil
	default:
		return nil, fmt.Errorf("signer: unsupported scheme %q", scheme)
	}
}

// PublicKey returns the hex public key the escrow contract trusts.
func (s *Signer) PublicKey() string {
	return s.key.PublicKey()
}

// Sign authorizes kind for the trade and returns a 0x-prefixed hex signature.
func (s *Signer) Sign(kind Kind, id uuid.UUID, amount uint64, recipient string) (string, error) {
	payload, err := Payload(kind, id, amount, recipient)
	if err != nil {
		return "", err
	}
	sig, err := s.key.Sign(payload)
	if err != nil {
		return "", err
	}
	return hexutil.Encode(sig), nil
}

// Ed25519Key signs with an ed25519 seed, the scheme the Move ledger verifies.
type Ed25519Key struct {
	priv ed25519.PrivateKey
}

// NewEd25519Key accepts a 32-byte seed or a 64-byte expanded private key.
func NewEd25519Key(raw []byte) (*Ed25519Key, error) {
	switch len(raw) {
	case ed25519.SeedSize:
		return &Ed25519Key{priv: ed25519.NewKeyFromSeed(raw)}, nil
	case ed25519.PrivateKeySize:
		return &Ed25519Key{priv: ed25519.NewKeyFromSeed(raw[:ed25519.SeedSize])}, nil
	default:
		return nil, fmt.Errorf("signer: ed25519 key must be %d bytes, got %d", ed25519.SeedSize, len(raw))
	}
}

func (k *Ed25519Key) Scheme() string { return SchemeEd25519 }

func (k *Ed25519Key) PublicKey() string {
	return hexutil.Encode(k.priv.Public().(ed25519.PublicKey))
}

func (k *Ed25519Key) Sign(payload []byte) ([]byte, error) {
	return ed25519.Sign(k.priv, payload), nil
}

// Secp256k1Key signs keccak256(payload) for EVM-style escrow contracts.
type Secp256k1Key struct {
	priv *ecdsa.PrivateKey
}

func NewSecp256k1Key(raw []byte) (*Secp256k1Key, error) {
	priv, err := ethcrypto.ToECDSA(raw)
	if err != nil {
		return nil, fmt.Errorf("signer: secp256k1 key: %w", err)
	}
	return &Secp256k1Key{priv: priv}, nil
}

func (k *Secp256k1Key) Scheme() string { return SchemeSecp256k1 }

// PublicKey returns the signer's address rather than the raw point.
func (k *Secp256k1Key) PublicKey() string {
	return ethcrypto.PubkeyToAddress(k.priv.PublicKey).Hex()
}

func (k *Secp256k1Key) Sign(payload []byte) ([]byte, error) {
	return ethcrypto.Sign(ethcrypto.Keccak256(payload), k.priv)
}
