package auth

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"github.com/google/uuid"
)

// maxTokenAttempts bounds the issuance retry loop. With 32 bytes of
// entropy a collision is not expected in practice; the retry is a safety
// net around the ledger's unique index, and exhausting it fails closed.
const maxTokenAttempts = 3

// newRememberSecret returns an opaque remember-me secret: 32 bytes of
// crypto/rand entropy with a UUID suffix. Uniqueness is enforced by the
// ledger's unique index, not by this generator.
func newRememberSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("auth: generate secret: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b) + "." + uuid.NewString(), nil
}
