package tokenizer

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
	assert.Positive(t, EstimateTokens("hello world"))
	long := strings.Repeat("word ", 400)
	assert.Greater(t, EstimateTokens(long), EstimateTokens("word word"))
}

func TestTruncateToTokenBudget(t *testing.T) {
	assert.Equal(t, "", TruncateToTokenBudget("anything", 0))
	assert.Equal(t, "short", TruncateToTokenBudget("short", 100))

	long := strings.Repeat("alpha beta ", 200)
	out := TruncateToTokenBudget(long, 10)
	assert.True(t, strings.HasSuffix(out, "..."))
	assert.Less(t, len(out), len(long))
}

func TestFitWithinBudget(t *testing.T) {
	items := []string{"first item", "second item", strings.Repeat("big ", 500)}
	out, n := FitWithinBudget(items, 50, "\n")
	assert.Equal(t, 2, n)
	assert.Equal(t, "first item\nsecond item", out)

	out, n = FitWithinBudget(items, 0, "\n")
	assert.Equal(t, "", out)
	assert.Equal(t, 0, n)
}

func TestTruncateToTokenBudget_KeepsRunesWhole(t *testing.T) {
	long := strings.Repeat("Rückversicherung über Naturkatastrophen ", 100)
	for budget := 1; budget < 40; budget++ {
		out := TruncateToTokenBudget(long, budget)
		assert.True(t, utf8.ValidString(out), "budget %d", budget)
		assert.True(t, strings.HasSuffix(out, "..."))
	}
}
