// Package grading implements deterministic free-text answer grading.
//
// Grading is a pure function of the user's reply and the expected answer
// template: tokenization, multiple-choice letter matching, yes/no synonym
// equivalence, bounded edit distance, and a substring fallback. There is no
// model inference and no state.
package grading

import (
	"regexp"
	"strings"
)

var (
	nonWordRe      = regexp.MustCompile(`[^\p{L}\p{N}_]`)
	stopwordRe     = regexp.MustCompile(`\b(he|she|the|an|i)\b`)
	gluedArticleRe = regexp.MustCompile(`la\s+(\w)`)
	singleLetterRe = regexp.MustCompile(`^[a-zA-Z]$`)
)

// Tokenize normalizes free text for grading: punctuation becomes whitespace,
// everything is lowercased, a small stopword set is dropped, and a leading
// "la" article glued to the following word is collapsed into it.
func Tokenize(text string) []string {
	text = strings.ToLower(nonWordRe.ReplaceAllString(text, " "))
	text = stopwordRe.ReplaceAllString(text, "")
	text = gluedArticleRe.ReplaceAllString(text, "$1")
	fields := strings.Split(text, " ")
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		if f != "" {
			tokens = append(tokens, f)
		}
	}
	return tokens
}

// isSingleLetter reports whether a token is one ASCII letter, i.e. a
// multiple-choice answer like "a" or "b".
func isSingleLetter(token string) bool {
	return singleLetterRe.MatchString(token)
}

func nonLetterTokens(tokens []string) []string {
	out := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if !isSingleLetter(t) {
			out = append(out, t)
		}
	}
	return out
}

func containsAny(tokens []string, words ...string) bool {
	for _, t := range tokens {
		for _, w := range words {
			if t == w {
				return true
			}
		}
	}
	return false
}

// IsCorrectResponse decides whether a free-text reply matches the expected
// answer. Any one rule succeeding is sufficient; grading short-circuits on
// the first match. Empty or whitespace-only replies are always incorrect.
func IsCorrectResponse(userResponse, correctResponse string) bool {
	userTokens := Tokenize(userResponse)
	if len(userTokens) == 0 {
		return false
	}
	correctTokens := Tokenize(correctResponse)

	correctJoined := strings.Join(nonLetterTokens(correctTokens), "")
	allowedError := len([]rune(correctJoined)) / 4
	if allowedError == 0 {
		allowedError = 1
	}

	// Multiple-choice replies: a lone letter matches only the expected
	// leading single-letter token.
	if isSingleLetter(userTokens[0]) && len(correctTokens) > 0 && len([]rune(correctTokens[0])) == 1 {
		return userTokens[0] == correctTokens[0]
	}

	// Yes/no equivalence across supported languages.
	if containsAny(userTokens, "yes", "si") && containsAny(correctTokens, "yes", "si") {
		return true
	}
	if containsAny(userTokens, "no") && containsAny(correctTokens, "no") {
		return true
	}

	// Close enough once single letters are stripped from both sides.
	userJoined := strings.Join(nonLetterTokens(userTokens), "")
	if Distance(userJoined, correctJoined) <= allowedError {
		return true
	}

	// Expected answer contained entirely within the reply.
	return strings.Contains(
		strings.Join(userTokens, " "),
		strings.Join(nonLetterTokens(correctTokens), " "),
	)
}
