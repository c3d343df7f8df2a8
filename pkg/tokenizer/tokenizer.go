// Package tokenizer estimates token counts for prompt budgeting without a
// model-specific vocabulary.
package tokenizer

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// EstimateTokens provides a rough token count estimate.
// Uses the heuristic of ~4 characters per token for English text.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	// Count words and characters for a blended estimate
	words := len(strings.Fields(text))
	chars := len(text)

	// Heuristic: average of word-based and char-based estimates
	wordEstimate := int(float64(words) * 1.3) // ~1.3 tokens per word
	charEstimate := chars / 4                 // ~4 chars per token

	return (wordEstimate + charEstimate) / 2
}

// TruncateToTokenBudget cuts text to roughly budget tokens at a word
// boundary and appends "...". It never splits a UTF-8 sequence.
func TruncateToTokenBudget(text string, budget int) string {
	if budget <= 0 {
		return ""
	}
	if EstimateTokens(text) <= budget {
		return text
	}

	// ~4 bytes per token
	maxBytes := budget * 4
	if maxBytes >= len(text) {
		return text
	}
	for maxBytes > 0 && !utf8.RuneStart(text[maxBytes]) {
		maxBytes--
	}
	truncated := text[:maxBytes]
	if lastSpace := strings.LastIndexFunc(truncated, unicode.IsSpace); lastSpace > maxBytes/2 {
		truncated = truncated[:lastSpace]
	}
	return strings.TrimRightFunc(truncated, unicode.IsSpace) + "..."
}

// FitWithinBudget joins items with sep, stopping before the first item that
// would exceed the token budget. It returns the joined text and how many
// items fit.
func FitWithinBudget(items []string, budget int, sep string) (string, int) {
	if budget <= 0 || len(items) == 0 {
		return "", 0
	}

	var builder strings.Builder
	count := 0
	usedTokens := 0
	sepTokens := EstimateTokens(sep) + 1

	for _, item := range items {
		itemTokens := EstimateTokens(item) + sepTokens
		if usedTokens+itemTokens > budget {
			break
		}
		if count > 0 {
			builder.WriteString(sep)
		}
		builder.WriteString(item)
		usedTokens += itemTokens
		count++
	}

	return builder.String(), count
}
