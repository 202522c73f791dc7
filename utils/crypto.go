package utils

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

const (
	keyIterations = 100000
	keyLength     = 32
	saltLength    = 16
)

func NewSalt() ([]byte, error) {
	salt := make([]byte, saltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, err
	}
	return salt, nil
}

// DeriveKey stretches a passphrase into an AES-256 key.
func DeriveKey(passphrase string, salt []byte) []byte {
	return pbkdf2.Key([]byte(passphrase), salt, keyIterations, keyLength, sha256.New)
}

// Encrypt seals plaintext with AES-GCM; the nonce is prefixed to the output.
func Encrypt(plaintext, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func Decrypt(ciphertext, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	if len(ciphertext) < gcm.NonceSize() {
		return nil, fmt.Errorf("ciphertext shorter than nonce")
	}

	nonce, sealed := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	return gcm.Open(nil, nonce, sealed, nil)
}

// HashSecret produces a salted PBKDF2 digest, salt prefixed, base64 encoded.
func HashSecret(secret string) (string, error) {
	salt, err := NewSalt()
	if err != nil {
		return "", err
	}

	digest := pbkdf2.Key([]byte(secret), salt, keyIterations, keyLength, sha256.New)
	combined := append(salt, digest...)
	return base64.StdEncoding.EncodeToString(combined), nil
}

func VerifySecret(secret, stored string) bool {
	combined, err := base64.StdEncoding.DecodeString(stored)
	if err != nil || len(combined) <= saltLength {
		return false
	}

	salt := combined[:saltLength]
	digest := pbkdf2.Key([]byte(secret), salt, keyIterations, keyLength, sha256.New)
	return subtle.ConstantTimeCompare(digest, combined[saltLength:]) == 1
}
