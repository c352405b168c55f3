package client

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractHostPort(t *testing.T) {
	assert.Equal(t, "ch:9000", extractHostPort("http://ch"))
	assert.Equal(t, "ch:9440", extractHostPort("https://ch/"))
	assert.Equal(t, "ch:19000", extractHostPort("ch:19000"))
	assert.Equal(t, "ch", extractHostname("https://ch:9440"))
}
