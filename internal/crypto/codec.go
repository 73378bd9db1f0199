package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"github.com/bankcards/card-service/internal/errs"
)

// Codec encrypts card account numbers before they cross the persistence
// boundary. AES-GCM with a fresh random nonce per encryption; the nonce is
// prepended to the ciphertext. Safe for unsynchronized concurrent use.
type Codec struct {
	aead   cipher.AEAD
	macKey []byte
}

// NewCodec derives a 256-bit key from the configured secret via SHA-256.
func NewCodec(secret string) (*Codec, error) {
	if secret == "" {
		return nil, errs.Crypto("encryption secret is empty", nil)
	}
	key := sha256.Sum256([]byte(secret))
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, errs.Crypto("failed to create cipher", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errs.Crypto("failed to create GCM", err)
	}
	macKey := sha256.Sum256(append([]byte("mac:"), []byte(secret)...))
	return &Codec{aead: aead, macKey: macKey[:]}, nil
}

// Fingerprint returns a deterministic HMAC-SHA256 of the plaintext number.
// Ciphertexts carry a random nonce and cannot be compared for equality, so
// uniqueness checks and find-by-number lookups go through the fingerprint.
func (c *Codec) Fingerprint(number string) string {
	h := hmac.New(sha256.New, c.macKey)
	h.Write([]byte(number))
	return hex.EncodeToString(h.Sum(nil))
}

// Encrypt seals the plaintext and returns base64(nonce || ciphertext).
func (c *Codec) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", errs.Crypto("plaintext is empty", nil)
	}
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", errs.Crypto("failed to generate nonce", err)
	}
	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt. Corrupt or tampered input fails; that failure is
// fatal for the affected record and must not be swallowed by the caller.
func (c *Codec) Decrypt(encoded string) (string, error) {
	if encoded == "" {
		return "", errs.Crypto("ciphertext is empty", nil)
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", errs.Crypto("failed to decode ciphertext", err)
	}
	ns := c.aead.NonceSize()
	if len(raw) < ns {
		return "", errs.Crypto(fmt.Sprintf("ciphertext too short: %d bytes", len(raw)), nil)
	}
	nonce, sealed := raw[:ns], raw[ns:]
	plain, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", errs.Crypto("failed to decrypt", err)
	}
	return string(plain), nil
}

// MaskNumber returns the display form of a card number: the last four digits
// behind a fixed mask. Numbers shorter than four characters get a constant
// mask so a bad record never breaks an unrelated listing.
func MaskNumber(number string) string {
	if len(number) < 4 {
		return "****"
	}
	return "**** **** **** " + number[len(number)-4:]
}
