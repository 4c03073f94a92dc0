package crypto

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"math/bits"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"golang.org/x/crypto/chacha20"
	"golang.org/x/crypto/hkdf"

	"github.com/MrSnakeDoc/marksync/internal/domain"
)

const (
	nip44Version   = 2
	nip44Salt      = "nip44-v2"
	nonceSize      = 32
	macSize        = 32
	minPlaintext   = 1
	maxPlaintext   = 65535
	minPayloadSize = 1 + nonceSize + 2 + 32 + macSize
)

// NIP44 implements versioned payload encryption (v2) between the identity's
// key and a peer. Bookmarks encrypt to the owner itself.
type NIP44 struct {
	priv   *btcec.PrivateKey
	random io.Reader
}

// NewNIP44 builds a provider for the given secret key.
func NewNIP44(priv *btcec.PrivateKey) *NIP44 {
	return &NIP44{priv: priv, random: rand.Reader}
}

func (n *NIP44) CanEncrypt() bool { return n.priv != nil }

// Encrypt seals plaintext for ownerID.
func (n *NIP44) Encrypt(ownerID, plaintext string) (string, error) {
	if n.priv == nil {
		return "", domain.ErrCapabilityMissing
	}
	convKey, err := n.conversationKey(ownerID)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(n.random, nonce); err != nil {
		return "", fmt.Errorf("failed to read nonce: %w", err)
	}
	return encryptWithNonce(convKey, []byte(plaintext), nonce)
}

// Decrypt opens a payload produced by Encrypt.
func (n *NIP44) Decrypt(ownerID, payload string) (string, error) {
	if n.priv == nil {
		return "", domain.ErrCapabilityMissing
	}
	convKey, err := n.conversationKey(ownerID)
	if err != nil {
		return "", err
	}
	pt, err := decrypt(convKey, payload)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrDecryption, err)
	}
	return string(pt), nil
}

func (n *NIP44) conversationKey(peerHex string) ([]byte, error) {
	raw, err := hex.DecodeString(peerHex)
	if err != nil {
		return nil, fmt.Errorf("invalid peer key: %w", err)
	}
	pub, err := schnorr.ParsePubKey(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid peer key: %w", err)
	}
	shared := btcec.GenerateSharedSecret(n.priv, pub)
	return hkdf.Extract(sha256.New, shared, []byte(nip44Salt)), nil
}

func messageKeys(convKey, nonce []byte) (chachaKey, chachaNonce, hmacKey []byte, err error) {
	buf := make([]byte, 76)
	if _, err := io.ReadFull(hkdf.Expand(sha256.New, convKey, nonce), buf); err != nil {
		return nil, nil, nil, err
	}
	return buf[0:32], buf[32:44], buf[44:76], nil
}

func encryptWithNonce(convKey, plaintext, nonce []byte) (string, error) {
	if len(plaintext) < minPlaintext || len(plaintext) > maxPlaintext {
		return "", fmt.Errorf("plaintext length %d out of range", len(plaintext))
	}
	key, cnonce, hkey, err := messageKeys(convKey, nonce)
	if err != nil {
		return "", err
	}
	padded := pad(plaintext)
	cipher, err := chacha20.NewUnauthenticatedCipher(key, cnonce)
	if err != nil {
		return "", err
	}
	ct := make([]byte, len(padded))
	cipher.XORKeyStream(ct, padded)

	out := make([]byte, 0, 1+nonceSize+len(ct)+macSize)
	out = append(out, nip44Version)
	out = append(out, nonce...)
	out = append(out, ct...)
	out = append(out, mac(hkey, nonce, ct)...)
	return base64.StdEncoding.EncodeToString(out), nil
}

func decrypt(convKey []byte, payload string) ([]byte, error) {
	if payload == "" || payload[0] == '#' {
		return nil, fmt.Errorf("unsupported payload encoding")
	}
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("invalid base64: %w", err)
	}
	if len(raw) < minPayloadSize {
		return nil, fmt.Errorf("payload too short")
	}
	if raw[0] != nip44Version {
		return nil, fmt.Errorf("unknown version %d", raw[0])
	}
	nonce := raw[1 : 1+nonceSize]
	ct := raw[1+nonceSize : len(raw)-macSize]
	tag := raw[len(raw)-macSize:]

	key, cnonce, hkey, err := messageKeys(convKey, nonce)
	if err != nil {
		return nil, err
	}
	if !hmac.Equal(tag, mac(hkey, nonce, ct)) {
		return nil, fmt.Errorf("invalid mac")
	}
	cipher, err := chacha20.NewUnauthenticatedCipher(key, cnonce)
	if err != nil {
		return nil, err
	}
	padded := make([]byte, len(ct))
	cipher.XORKeyStream(padded, ct)
	return unpad(padded)
}

func mac(key, nonce, ct []byte) []byte {
	h := hmac.New(sha256.New, key)
	h.Write(nonce)
	h.Write(ct)
	return h.Sum(nil)
}

func paddedLen(n int) int {
	if n <= 32 {
		return 32
	}
	nextPower := 1 << bits.Len(uint(n-1))
	chunk := 32
	if nextPower > 256 {
		chunk = nextPower / 8
	}
	return chunk * ((n-1)/chunk + 1)
}

func pad(pt []byte) []byte {
	out := make([]byte, 2+paddedLen(len(pt)))
	binary.BigEndian.PutUint16(out, uint16(len(pt)))
	copy(out[2:], pt)
	return out
}

func unpad(padded []byte) ([]byte, error) {
	if len(padded) < 2 {
		return nil, fmt.Errorf("invalid padding")
	}
	n := int(binary.BigEndian.Uint16(padded))
	if n < minPlaintext || len(padded) != 2+paddedLen(n) {
		return nil, fmt.Errorf("invalid padding")
	}
	return padded[2 : 2+n], nil
}
