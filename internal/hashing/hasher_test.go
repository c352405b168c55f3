package hashing

import (
	"fmt"
	"testing"

	"merchant-verification/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHasher(algorithm string) *Hasher {
	return NewHasher(config.HashingConfig{
		Algorithm:         algorithm,
		ServerSalt:        "pepper-for-tests",
		Argon2MemoryCost:  1024,
		Argon2TimeCost:    1,
		Argon2Parallelism: 1,
	})
}

func TestHashCode_SHA256Deterministic(t *testing.T) {
	h := newTestHasher(AlgorithmSHA256)

	a, err := h.HashCode("123456")
	require.NoError(t, err)
	b, err := h.HashCode("123456")
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.NotContains(t, a, "123456")
}

func TestHashCode_DistinctCodesDistinctHashes(t *testing.T) {
	h := newTestHasher(AlgorithmSHA256)
	seen := make(map[string]string)
	for code := 100000; code < 101000; code++ {
		s := fmt.Sprintf("%06d", code)
		digest, err := h.HashCode(s)
		require.NoError(t, err)
		prev, dup := seen[digest]
		require.False(t, dup, "collision between %s and %s", prev, s)
		seen[digest] = s
	}
}

func TestHashCode_SaltChangesDigest(t *testing.T) {
	a, _ := newTestHasher(AlgorithmSHA256).HashCode("654321")
	other := NewHasher(config.HashingConfig{Algorithm: AlgorithmSHA256, ServerSalt: "different"})
	b, _ := other.HashCode("654321")
	assert.NotEqual(t, a, b)
}

func TestVerifyCode(t *testing.T) {
	for _, algo := range []string{AlgorithmSHA256, AlgorithmArgon2id} {
		t.Run(algo, func(t *testing.T) {
			h := newTestHasher(algo)
			encoded, err := h.HashCode("482913")
			require.NoError(t, err)

			ok, err := h.VerifyCode("482913", encoded)
			require.NoError(t, err)
			assert.True(t, ok)

			ok, err = h.VerifyCode("482914", encoded)
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestVerifyCode_AcrossAlgorithms(t *testing.T) {
	old := newTestHasher(AlgorithmSHA256)
	encoded, err := old.HashCode("777777")
	require.NoError(t, err)

	ok, err := newTestHasher(AlgorithmArgon2id).VerifyCode("777777", encoded)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestVerifyCode_Malformed(t *testing.T) {
	h := newTestHasher(AlgorithmSHA256)

	_, err := h.VerifyCode("123456", "sha256$zz")
	assert.ErrorIs(t, err, ErrInvalidHash)

	_, err = h.VerifyCode("123456", "md5$abc")
	assert.ErrorIs(t, err, ErrUnknownAlgorithm)

	_, err = h.VerifyCode("123456", "argon2id$1$2")
	assert.ErrorIs(t, err, ErrInvalidHash)
}
