// Package crypto provides the encryption capability used for the private
// portion of bookmark records.
package crypto

import "github.com/MrSnakeDoc/marksync/internal/domain"

// Provider encrypts and decrypts payloads for an owner. Both directions are
// fallible and tied to what the active identity can do.
type Provider interface {
	// CanEncrypt reports whether private items may be written at all.
	CanEncrypt() bool
	Encrypt(ownerID, plaintext string) (string, error)
	Decrypt(ownerID, ciphertext string) (string, error)
}

// Unavailable is the provider for identities without encryption capability.
type Unavailable struct{}

func (Unavailable) CanEncrypt() bool { return false }

func (Unavailable) Encrypt(string, string) (string, error) {
	return "", domain.ErrCapabilityMissing
}

func (Unavailable) Decrypt(string, string) (string, error) {
	return "", domain.ErrCapabilityMissing
}
