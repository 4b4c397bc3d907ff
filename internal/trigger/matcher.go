package trigger

import (
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	// wordDistanceRatio bounds the edit distance between two words relative
	// to the longer one.
	wordDistanceRatio = 0.4

	// phraseWordRatio is the share of phrase words that need a similar
	// utterance word for a fuzzy match.
	phraseWordRatio = 0.6

	// minFuzzyWordLen is the shortest word length compared by edit distance.
	minFuzzyWordLen = 3
)

// Decision is the outcome of matching one utterance.
type Decision struct {
	Matched bool
	Phrase  string
	// Fuzzy is true when the phrase was accepted by word similarity rather
	// than substring containment.
	Fuzzy bool
}

// Matcher finds lexicon phrases in utterances. It is read-only after
// construction and safe for concurrent use.
type Matcher struct {
	lexicon Lexicon
}

// NewMatcher returns a matcher over lex.
func NewMatcher(lex Lexicon) *Matcher {
	return &Matcher{lexicon: lex}
}

// Lexicon returns the lexicon the matcher scans.
func (m *Matcher) Lexicon() Lexicon {
	return m.lexicon
}

// Match reports the first lexicon phrase present in utterance.
//
// The whole lexicon is scanned for substring containment first; only when no
// phrase is contained is the lexicon scanned again with word-level fuzzy
// similarity. In both passes lexicon order breaks ties.
func (m *Matcher) Match(utterance string) Decision {
	text := strings.ToLower(strings.TrimSpace(utterance))
	if text == "" {
		return Decision{}
	}

	for _, phrase := range m.lexicon.phrases {
		if strings.Contains(text, phrase) {
			return Decision{Matched: true, Phrase: phrase}
		}
	}

	words := strings.Fields(text)
	for _, phrase := range m.lexicon.phrases {
		if fuzzyMatch(words, strings.Fields(phrase)) {
			return Decision{Matched: true, Phrase: phrase, Fuzzy: true}
		}
	}

	return Decision{}
}

// fuzzyMatch reports whether at least phraseWordRatio of the phrase words
// have a similar word in the utterance.
func fuzzyMatch(utteranceWords, phraseWords []string) bool {
	if len(phraseWords) == 0 || len(utteranceWords) == 0 {
		return false
	}

	hits := 0
	for _, pw := range phraseWords {
		for _, uw := range utteranceWords {
			if WordsAreSimilar(uw, pw) {
				hits++
				break
			}
		}
	}
	return float64(hits) >= float64(len(phraseWords))*phraseWordRatio
}

// WordsAreSimilar reports whether two words are identical, one contains the
// other, or (for words of at least three characters) their Levenshtein
// distance is within 40% of the longer word's length.
func WordsAreSimilar(a, b string) bool {
	if a == b {
		return true
	}
	if a == "" || b == "" {
		return false
	}
	if strings.Contains(a, b) || strings.Contains(b, a) {
		return true
	}

	la, lb := len([]rune(a)), len([]rune(b))
	if la < minFuzzyWordLen || lb < minFuzzyWordLen {
		return false
	}
	limit := int(float64(max(la, lb)) * wordDistanceRatio)
	return Distance(a, b) <= limit
}

// Distance returns the Levenshtein edit distance between a and b, with unit
// cost for insertion, deletion and substitution.
func Distance(a, b string) int {
	return matchr.Levenshtein(a, b)
}
