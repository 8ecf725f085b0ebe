// Package classify is the default deterministic implementation of the
// conversation capability interfaces: keyword matching over normalized
// text, no model calls. Hosts with a language-model classifier plug their
// own implementations into the gate instead.
package classify

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"github.com/airlock-labs/airlock/pkg/gate"
)

// affirmWords are replies that mean "yes, proceed".
var affirmWords = []string{
	"yes", "y", "ok", "okay", "confirm", "confirmed", "proceed",
	"go ahead", "go", "do it", "continue", "sure", "yep", "yup",
	"affirmative", "please do",
	"si", "sí", "oui", "ja", "da", "hai",
}

// denyWords are replies that mean "no, cancel".
var denyWords = []string{
	"no", "n", "cancel", "abort", "stop", "nope",
	"nevermind", "never mind", "forget it", "nah", "decline",
	"don't", "do not",
	"non", "nein", "nee",
}

// actionVerbs signal that the user wants something done. Matching any one
// of these is sufficient.
var actionVerbs = []string{
	"send", "create", "set up", "setup", "schedule", "book", "order",
	"issue", "refund", "cancel", "update", "delete", "remove", "add",
	"pay", "transfer", "submit", "generate", "draft", "email", "make",
	"file", "renew", "upgrade", "downgrade",
}

// interrogatives open a question.
var interrogatives = []string{
	"what", "when", "where", "who", "whom", "why", "how", "which",
	"is", "are", "was", "were", "am", "do", "does", "did",
	"can", "could", "will", "would", "should", "shall",
}

// Keywords classifies messages and replies by curated wordlists.
type Keywords struct{}

// NewKeywords returns the default keyword classifier.
func NewKeywords() *Keywords {
	return &Keywords{}
}

// Read maps a message onto affirm/deny/other. A word matches when it is
// the whole message or its first word(s), never mid-sentence: "no problem,
// go ahead" must not read as a denial of the preview.
func (k *Keywords) Read(message string) gate.Reply {
	lower := normalize(message)
	if lower == "" {
		return gate.ReplyOther
	}
	// Denials win: a message that manages to match both lists is a
	// cancellation, not a go-ahead.
	for _, w := range denyWords {
		if leadsWith(lower, w) {
			return gate.ReplyDeny
		}
	}
	for _, w := range affirmWords {
		if leadsWith(lower, w) {
			return gate.ReplyAffirm
		}
	}
	return gate.ReplyOther
}

// leadsWith reports whether word is the whole message or opens it,
// followed by a space or comma.
func leadsWith(lower, word string) bool {
	return lower == word ||
		strings.HasPrefix(lower, word+" ") ||
		strings.HasPrefix(lower, word+",")
}

// Category labels a message action/query/chat. Leading interrogatives with
// a question mark outrank action verbs: "what did you send?" is a query.
func (k *Keywords) Category(message string) gate.Category {
	lower := normalize(message)
	if lower == "" {
		return gate.CategoryChat
	}

	isQuestion := strings.HasSuffix(strings.TrimSpace(message), "?")
	startsInterrogative := false
	words := tokenize(lower)
	if len(words) > 0 {
		for _, w := range interrogatives {
			if words[0] == w {
				startsInterrogative = true
				break
			}
		}
	}
	if isQuestion && startsInterrogative {
		return gate.CategoryQuery
	}

	tokens := make(map[string]bool, len(words))
	for _, w := range words {
		tokens[w] = true
	}
	for _, v := range actionVerbs {
		if strings.Contains(v, " ") {
			if strings.Contains(lower, v) {
				return gate.CategoryAction
			}
			continue
		}
		if tokens[v] {
			return gate.CategoryAction
		}
	}

	if isQuestion || startsInterrogative {
		return gate.CategoryQuery
	}
	return gate.CategoryChat
}

// normalize folds the message to a canonical comparable form: NFKC (full-
// width and compatibility variants collapse), lowercase, ASCII apostrophes,
// trimmed of surrounding space and trailing punctuation.
func normalize(s string) string {
	s = norm.NFKC.String(s)
	s = strings.ToLower(s)
	s = strings.ReplaceAll(s, "’", "'")
	s = strings.TrimSpace(s)
	s = strings.TrimRight(s, "!.?,;:")
	return strings.TrimSpace(s)
}

// tokenize splits normalized text into words of letters, digits, hyphens,
// and apostrophes.
func tokenize(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-' && r != '\''
	})
}
