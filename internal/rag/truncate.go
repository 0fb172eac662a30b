package rag

import (
	"math"
	"strings"
)

// TokensPerWord approximates tokens from a whitespace word count
const TokensPerWord = 1.3

// DefaultTokenBudget is the embedding model input limit in tokens
const DefaultTokenBudget = 8000

// TruncateForEmbedding keeps text within tokenBudget estimated tokens.
// Text under budget is returned unchanged; longer text keeps its first
// floor(tokenBudget/1.3) words joined by single spaces.
func TruncateForEmbedding(text string, tokenBudget int) string {
	if tokenBudget <= 0 {
		tokenBudget = DefaultTokenBudget
	}

	words := strings.Fields(text)
	if float64(len(words))*TokensPerWord <= float64(tokenBudget) {
		return text
	}

	maxWords := MaxEmbeddingWords(tokenBudget)
	return strings.Join(words[:maxWords], " ")
}

// MaxEmbeddingWords is the word cap applied to over-budget text
func MaxEmbeddingWords(tokenBudget int) int {
	return int(math.Floor(float64(tokenBudget) / TokensPerWord))
}
