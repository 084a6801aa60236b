package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestHasher_HashAndCompare(t *testing.T) {
	h := NewHasher(bcrypt.MinCost, time.Second)
	ctx := context.Background()

	hash, err := h.Hash(ctx, "Passw0rd!")
	require.NoError(t, err)

	ok, err := h.Compare(ctx, hash, "Passw0rd!")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = h.Compare(ctx, hash, "Wrong0ne!")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHasher_CompareDummyUsesConfiguredCost(t *testing.T) {
	h := NewHasher(bcrypt.MinCost+1, time.Second)

	require.NoError(t, h.CompareDummy(context.Background(), "Passw0rd!"))
	require.NotEmpty(t, h.dummyHash)

	cost, err := bcrypt.Cost([]byte(h.dummyHash))
	require.NoError(t, err)
	assert.Equal(t, bcrypt.MinCost+1, cost)

	first := h.dummyHash
	require.NoError(t, h.CompareDummy(context.Background(), "other"))
	assert.Equal(t, first, h.dummyHash, "dummy hash is generated once")
}
