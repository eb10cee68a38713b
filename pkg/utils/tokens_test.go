package utils

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenCounterCount(t *testing.T) {
	tc, err := NewTokenCounter("gpt-4o-mini")
	require.NoError(t, err)

	assert.Equal(t, 0, tc.Count(""))
	assert.Greater(t, tc.Count("hello world, this is a token counting test"), 5)
}

func TestTokenCounterUnknownModelFallsBack(t *testing.T) {
	tc, err := NewTokenCounter("no-such-model-xyz")
	require.NoError(t, err)
	assert.Greater(t, tc.Count("some text to count"), 0)
}

func TestTruncateToBudget(t *testing.T) {
	tc, err := NewTokenCounter("gpt-4o-mini")
	require.NoError(t, err)

	text := strings.Repeat("alpha beta gamma delta ", 200)
	full := tc.Count(text)
	require.Greater(t, full, 100)

	truncated := tc.TruncateToBudget(text, 50)
	assert.LessOrEqual(t, tc.Count(truncated), 50)

	assert.Equal(t, text, tc.TruncateToBudget(text, full+10))
	assert.Equal(t, "", tc.TruncateToBudget(text, 0))
}

func TestNilCounterUsesEstimate(t *testing.T) {
	var tc *TokenCounter
	assert.Equal(t, len("abcdefgh")/4, tc.Count("abcdefgh"))
	assert.Len(t, tc.TruncateToBudget(strings.Repeat("x", 100), 10), 40)
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
	assert.Equal(t, 25, EstimateTokens(strings.Repeat("a", 100)))
}
