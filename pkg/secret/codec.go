// Package secret encrypts role-change commands so that only holders of the
// shared secret can build or read them.
package secret

import (
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/go-jose/go-jose/v4"
	"golang.org/x/crypto/hkdf"
)

const keyInfo = "collatorx failover command v1"

var ErrEmptySecret = errors.New("empty secret")

// Codec turns a JSON payload into an opaque blob and back.
type Codec interface {
	Encrypt(payload any) (string, error)
	Decrypt(blob string, out any) error
}

// JWECodec produces compact JWE tokens (dir + A256GCM) keyed from a shared secret.
type JWECodec struct {
	key []byte
}

// NewJWECodec derives a 256-bit key from secret with HKDF-SHA256.
func NewJWECodec(secret string) (*JWECodec, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte(keyInfo)), key); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	return &JWECodec{key: key}, nil
}

func (c *JWECodec) Encrypt(payload any) (string, error) {
	plaintext, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	enc, err := jose.NewEncrypter(
		jose.A256GCM,
		jose.Recipient{Algorithm: jose.DIRECT, Key: c.key},
		(&jose.EncrypterOptions{}).WithContentType("JSON"),
	)
	if err != nil {
		return "", fmt.Errorf("new encrypter: %w", err)
	}
	obj, err := enc.Encrypt(plaintext)
	if err != nil {
		return "", fmt.Errorf("encrypt: %w", err)
	}
	return obj.CompactSerialize()
}

func (c *JWECodec) Decrypt(blob string, out any) error {
	obj, err := jose.ParseEncrypted(blob, []jose.KeyAlgorithm{jose.DIRECT}, []jose.ContentEncryption{jose.A256GCM})
	if err != nil {
		return fmt.Errorf("parse blob: %w", err)
	}
	plaintext, err := obj.Decrypt(c.key)
	if err != nil {
		return fmt.Errorf("decrypt blob: %w", err)
	}
	return json.Unmarshal(plaintext, out)
}
