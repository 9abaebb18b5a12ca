package auth

import (
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestBcryptHasherRoundTrip(t *testing.T) {
	hasher := NewBcryptHasher(bcrypt.MinCost)

	hash, err := hasher.Hash("correct horse battery staple")
	require.NoError(t, err)
	require.True(t, hasher.Verify("correct horse battery staple", hash))
	require.False(t, hasher.Verify("incorrect horse", hash))
}

func TestBcryptHasherNeedsRehash(t *testing.T) {
	weak, err := bcrypt.GenerateFromPassword([]byte("secret-password"), bcrypt.MinCost)
	require.NoError(t, err)

	hasher := NewBcryptHasher(bcrypt.MinCost + 2)
	require.True(t, hasher.NeedsRehash(string(weak)))

	fresh, err := hasher.Hash("secret-password")
	require.NoError(t, err)
	require.False(t, hasher.NeedsRehash(fresh))

	// Anything that does not parse as bcrypt must be replaced.
	require.True(t, hasher.NeedsRehash("md5$5f4dcc3b5aa765d61d8327deb882cf99"))
	require.True(t, hasher.NeedsRehash(""))
}

func TestBcryptHasherClampsCost(t *testing.T) {
	hasher := NewBcryptHasher(0)
	hash, err := hasher.Hash("secret-password")
	require.NoError(t, err)

	cost, err := bcrypt.Cost([]byte(hash))
	require.NoError(t, err)
	require.Equal(t, bcrypt.DefaultCost, cost)
}
