// Package trigger holds the distress-phrase lexicon and the matcher that
// decides whether an utterance contains one of its phrases.
package trigger

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidLexicon is returned by NewLexicon for empty or duplicate phrases.
var ErrInvalidLexicon = errors.New("invalid trigger lexicon")

// defaultPhrases is ordered: the first matching phrase wins, so longer and
// more specific phrases come before the short ones they contain.
var defaultPhrases = []string{
	"someone is following me",
	"i am being followed",
	"i'm being followed",
	"i am in danger",
	"i'm in danger",
	"i am being attacked",
	"i'm being attacked",
	"call the police",
	"call 911",
	"leave me alone",
	"i need help",
	"i'm scared",
	"please help me",
	"help me",
	"save me",
	"emergency",
}

// Lexicon is an ordered, immutable set of lower-case trigger phrases.
type Lexicon struct {
	phrases []string
}

// DefaultLexicon returns the built-in distress phrases.
func DefaultLexicon() Lexicon {
	lex, err := NewLexicon(defaultPhrases...)
	if err != nil {
		panic(err)
	}
	return lex
}

// NewLexicon builds a lexicon from phrases, normalizing them to trimmed lower
// case. Empty phrases and duplicates after normalization are rejected.
func NewLexicon(phrases ...string) (Lexicon, error) {
	if len(phrases) == 0 {
		return Lexicon{}, fmt.Errorf("%w: no phrases", ErrInvalidLexicon)
	}

	seen := make(map[string]struct{}, len(phrases))
	out := make([]string, 0, len(phrases))
	for i, p := range phrases {
		norm := strings.ToLower(strings.TrimSpace(p))
		if norm == "" {
			return Lexicon{}, fmt.Errorf("%w: phrase %d is empty", ErrInvalidLexicon, i)
		}
		if _, dup := seen[norm]; dup {
			return Lexicon{}, fmt.Errorf("%w: duplicate phrase %q", ErrInvalidLexicon, norm)
		}
		seen[norm] = struct{}{}
		out = append(out, norm)
	}
	return Lexicon{phrases: out}, nil
}

// Phrases returns a copy of the phrases in lexicon order.
func (l Lexicon) Phrases() []string {
	return append([]string(nil), l.phrases...)
}

// Len returns the number of phrases.
func (l Lexicon) Len() int {
	return len(l.phrases)
}
