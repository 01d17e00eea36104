package ratelimit

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
	assert.Equal(t, 1, EstimateTokens("a"))
	assert.Equal(t, 1, EstimateTokens("abcd"))
	assert.Equal(t, 2, EstimateTokens("abcde"))
	assert.Equal(t, 250, EstimateTokens(strings.Repeat("x", 1000)))
}

func TestPromptBuffer(t *testing.T) {
	// 2.5% of the reservation, truncated.
	assert.Equal(t, 25, promptBuffer(1000))
	assert.Equal(t, 2, promptBuffer(100))
	assert.Equal(t, 0, promptBuffer(1))
	assert.Equal(t, 0, promptBuffer(0))
}
