package auth

import (
	"golang.org/x/crypto/bcrypt"
)

// PasswordHasher is the one-way hashing capability the authenticator
// orchestrates. Implementations decide the algorithm and cost; the
// service only calls Hash, Verify and NeedsRehash.
type PasswordHasher interface {
	Hash(plain string) (string, error)
	Verify(plain, hash string) bool
	NeedsRehash(hash string) bool
}

// BcryptHasher implements PasswordHasher with bcrypt. NeedsRehash reports
// true when the stored hash was produced with a lower cost than the one
// configured now, which triggers a transparent upgrade on login.
type BcryptHasher struct {
	cost int
}

// NewBcryptHasher returns a BcryptHasher with the given cost. Costs outside
// the bcrypt range fall back to bcrypt.DefaultCost.
func NewBcryptHasher(cost int) *BcryptHasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &BcryptHasher{cost: cost}
}

// Hash derives a bcrypt hash from the plaintext.
func (h *BcryptHasher) Hash(plain string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(plain), h.cost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

// Verify reports whether plain matches hash.
func (h *BcryptHasher) Verify(plain, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}

// NeedsRehash reports whether the hash is weaker than the configured cost.
// Unparseable hashes report true so legacy formats get upgraded on the
// next successful login.
func (h *BcryptHasher) NeedsRehash(hash string) bool {
	cost, err := bcrypt.Cost([]byte(hash))
	if err != nil {
		return true
	}
	return cost < h.cost
}

var _ PasswordHasher = (*BcryptHasher)(nil)
