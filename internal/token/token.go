// Package token provides the text-to-token estimator shared by chunking and
// prompt budgeting. Both sides must count tokens the same way, otherwise a
// chunk that fits the index would blow the prompt budget (or vice versa), so
// this is the only place in the codebase that converts text length to tokens.
package token

import "unicode/utf8"

// CharsPerToken is the assumed average number of runes per token.
// Conservative for both English (~4 chars/token) and CJK (~1.5 chars/token);
// the knowledge base is full of Korean pages, so we round down hard.
const CharsPerToken = 2

// Estimate returns a rough token count for text.
func Estimate(text string) int {
	return utf8.RuneCountInString(text) / CharsPerToken
}

// Runes returns the number of runes maxTokens is worth under the estimator.
// The chunker uses this to translate a token budget into a window size.
func Runes(maxTokens int) int {
	return maxTokens * CharsPerToken
}
