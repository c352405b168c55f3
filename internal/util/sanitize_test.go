package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaskIdentifier(t *testing.T) {
	cases := map[string]string{
		"":               "",
		"owner@venue.in": "o***r@venue.in",
		"ab@venue.in":    "**@venue.in",
		"+919876543210":  "+91******3210",
		"98765":          "*8765",
		"123":            "***",
	}
	for in, want := range cases {
		assert.Equal(t, want, MaskIdentifier(in), in)
	}
}

func TestMaskTail(t *testing.T) {
	assert.Equal(t, "******1234", MaskTail("ABCDEF1234", 4))
	assert.Equal(t, "***", MaskTail("abc", 4))
}

func TestContainsSuspicious(t *testing.T) {
	assert.True(t, ContainsSuspicious("<script>alert(1)</script>"))
	assert.True(t, ContainsSuspicious("${jndi}"))
	assert.False(t, ContainsSuspicious("Blue Lagoon Banquet Hall"))
}
