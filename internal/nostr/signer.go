package nostr

import (
	"encoding/hex"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
)

// Signer is the active identity able to sign records.
type Signer interface {
	PublicKey() string
	Sign(ev *Event) error
}

// KeySigner signs with a locally held secp256k1 key.
type KeySigner struct {
	priv   *btcec.PrivateKey
	pubHex string
}

// NewKeySigner parses a hex encoded 32 byte secret key.
func NewKeySigner(secretHex string) (*KeySigner, error) {
	raw, err := hex.DecodeString(secretHex)
	if err != nil {
		return nil, fmt.Errorf("invalid secret key: %w", err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("invalid secret key: want 32 bytes, got %d", len(raw))
	}
	priv, pub := btcec.PrivKeyFromBytes(raw)
	return &KeySigner{
		priv:   priv,
		pubHex: hex.EncodeToString(schnorr.SerializePubKey(pub)),
	}, nil
}

// GenerateKeySigner creates a signer with a fresh random key.
func GenerateKeySigner() (*KeySigner, error) {
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	return &KeySigner{
		priv:   priv,
		pubHex: hex.EncodeToString(schnorr.SerializePubKey(priv.PubKey())),
	}, nil
}

// PublicKey returns the x-only public key, hex encoded.
func (s *KeySigner) PublicKey() string { return s.pubHex }

// PrivateKey exposes the key for ECDH-based encryption.
func (s *KeySigner) PrivateKey() *btcec.PrivateKey { return s.priv }

// Sign sets PubKey, ID and Sig on ev. A zero CreatedAt is set to now.
func (s *KeySigner) Sign(ev *Event) error {
	ev.PubKey = s.pubHex
	if ev.CreatedAt == 0 {
		ev.CreatedAt = time.Now().Unix()
	}
	if ev.Tags == nil {
		ev.Tags = [][]string{}
	}
	h, err := ev.Hash()
	if err != nil {
		return err
	}
	sig, err := schnorr.Sign(s.priv, h)
	if err != nil {
		return fmt.Errorf("failed to sign event: %w", err)
	}
	ev.ID = hex.EncodeToString(h)
	ev.Sig = hex.EncodeToString(sig.Serialize())
	return nil
}

// Verify checks the id and signature of ev.
func Verify(ev *Event) error {
	h, err := ev.Hash()
	if err != nil {
		return err
	}
	if hex.EncodeToString(h) != ev.ID {
		return fmt.Errorf("event id mismatch")
	}
	pkRaw, err := hex.DecodeString(ev.PubKey)
	if err != nil {
		return fmt.Errorf("invalid pubkey: %w", err)
	}
	pub, err := schnorr.ParsePubKey(pkRaw)
	if err != nil {
		return fmt.Errorf("invalid pubkey: %w", err)
	}
	sigRaw, err := hex.DecodeString(ev.Sig)
	if err != nil {
		return fmt.Errorf("invalid signature: %w", err)
	}
	sig, err := schnorr.ParseSignature(sigRaw)
	if err != nil {
		return fmt.Errorf("invalid signature: %w", err)
	}
	if !sig.Verify(h, pub) {
		return fmt.Errorf("signature does not verify")
	}
	return nil
}
