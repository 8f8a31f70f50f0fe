package qr

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"github.com/skip2/go-qrcode"

	"ms-redemption/internal/models"
)

const payloadPrefix = "TBK"

// Generator issues and reads redemption codes. A code is the sealed payload
// TBK|<payment token>|<order id>, base64url encoded.
type Generator struct {
	aead cipher.AEAD
}

func NewGenerator(secret string) (*Generator, error) {
	key := sha256.Sum256([]byte(secret))
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Generator{aead: aead}, nil
}

// Issue seals a fresh code for a paid order. Two calls never return the same code.
func (g *Generator) Issue(paymentToken, orderID string) (string, error) {
	nonce := make([]byte, g.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("read nonce: %w", err)
	}
	plain := strings.Join([]string{payloadPrefix, paymentToken, orderID}, "|")
	sealed := g.aead.Seal(nonce, nonce, []byte(plain), nil)
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Resolve opens a scanned code and returns the order id it was issued for.
func (g *Generator) Resolve(code string) (string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimSpace(code))
	if err != nil || len(raw) < g.aead.NonceSize() {
		return "", models.ErrInvalidRedemptionCode
	}
	n := g.aead.NonceSize()
	plain, err := g.aead.Open(nil, raw[:n], raw[n:], nil)
	if err != nil {
		return "", models.ErrInvalidRedemptionCode
	}

	parts := strings.Split(string(plain), "|")
	if len(parts) != 3 || parts[0] != payloadPrefix || parts[2] == "" {
		return "", models.ErrInvalidRedemptionCode
	}
	return parts[2], nil
}

// PNG renders the code as a QR image.
func (g *Generator) PNG(code string, size int) ([]byte, error) {
	if size <= 0 {
		size = 256
	}
	return qrcode.Encode(code, qrcode.Medium, size)
}
