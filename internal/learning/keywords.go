package learning

import (
	"strings"
	"unicode"
)

// maxKeywords caps the number of tokens returned by ExtractKeywords.
const maxKeywords = 10

// minTokenLen is the minimum length of a token worth keeping.
const minTokenLen = 4

// stopWords are common tokens with no predictive value.
var stopWords = map[string]bool{
	"that": true, "this": true, "with": true, "from": true, "have": true,
	"when": true, "then": true, "them": true, "they": true, "their": true,
	"there": true, "these": true, "those": true, "will": true, "would": true,
	"should": true, "could": true, "into": true, "over": true, "under": true,
	"about": true, "been": true, "being": true, "because": true, "after": true,
	"before": true, "where": true, "which": true, "while": true, "does": true,
	"done": true, "each": true, "every": true, "more": true, "most": true,
	"much": true, "must": true, "need": true, "only": true, "some": true,
	"such": true, "than": true, "also": true, "user": true, "want": true,
	"like": true, "make": true, "made": true, "using": true, "used": true,
}

// ExtractKeywords normalizes text into at most 10 keyword tokens: lowercase,
// punctuation stripped, whitespace split, short tokens and stop words dropped,
// deduplicated preserving first-seen order.
func ExtractKeywords(text string) []string {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			return unicode.ToLower(r)
		}
		return ' '
	}, text)

	seen := make(map[string]bool)
	var keywords []string
	for _, token := range strings.Fields(cleaned) {
		if len(token) < minTokenLen {
			continue
		}
		if stopWords[token] {
			continue
		}
		if seen[token] {
			continue
		}
		seen[token] = true
		keywords = append(keywords, token)
		if len(keywords) == maxKeywords {
			break
		}
	}
	return keywords
}
