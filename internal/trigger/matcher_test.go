package trigger

import (
	"strings"
	"testing"
)

func mustLexicon(t *testing.T, phrases ...string) Lexicon {
	t.Helper()
	lex, err := NewLexicon(phrases...)
	if err != nil {
		t.Fatalf("NewLexicon() failed: %v", err)
	}
	return lex
}

func TestMatch_EveryPhraseMatchesItself(t *testing.T) {
	m := NewMatcher(DefaultLexicon())

	for _, p := range m.Lexicon().Phrases() {
		d := m.Match(p)
		if !d.Matched || d.Phrase != p {
			t.Errorf("Match(%q) = %+v, want phrase %q", p, d, p)
		}
		if d.Fuzzy {
			t.Errorf("Match(%q) should be an exact match", p)
		}
	}
}

func TestMatch_SubstringCaseInsensitive(t *testing.T) {
	m := NewMatcher(DefaultLexicon())

	for _, p := range m.Lexicon().Phrases() {
		utterance := "Well, " + strings.ToUpper(p) + " right now"
		d := m.Match(utterance)
		if !d.Matched || d.Phrase != p {
			t.Errorf("Match(%q) = %+v, want phrase %q", utterance, d, p)
		}
	}
}

func TestMatch_FirstPhraseInLexiconOrderWins(t *testing.T) {
	m := NewMatcher(DefaultLexicon())

	d := m.Match("help me please someone is following me")
	if !d.Matched {
		t.Fatal("Expected a match")
	}
	if d.Phrase != "someone is following me" {
		t.Errorf("Expected %q, got %q", "someone is following me", d.Phrase)
	}
}

func TestMatch_SubstringPassPrecedesFuzzyPass(t *testing.T) {
	// "helpp mee" would fuzzy match the first phrase, but the second phrase
	// is contained verbatim and must win.
	m := NewMatcher(mustLexicon(t, "help me", "call the police"))

	d := m.Match("helpp mee and call the police")
	if d.Phrase != "call the police" || d.Fuzzy {
		t.Errorf("Expected exact %q, got %+v", "call the police", d)
	}
}

func TestMatch_FuzzyBelowThreshold(t *testing.T) {
	m := NewMatcher(mustLexicon(t, "help me"))

	// "help" matches one of two phrase words: 50% < 60%.
	d := m.Match("please help")
	if d.Matched {
		t.Errorf("Expected no match, got %+v", d)
	}
}

func TestMatch_Fuzzy(t *testing.T) {
	m := NewMatcher(mustLexicon(t, "someone is following me", "call the police"))

	tests := []struct {
		utterance string
		phrase    string
	}{
		{"somebody is folowing me", "someone is following me"},
		{"cal the polise", "call the police"},
		{"please call police", "call the police"},
	}

	for _, tt := range tests {
		t.Run(tt.utterance, func(t *testing.T) {
			d := m.Match(tt.utterance)
			if !d.Matched || d.Phrase != tt.phrase {
				t.Fatalf("Match(%q) = %+v, want %q", tt.utterance, d, tt.phrase)
			}
			if !d.Fuzzy {
				t.Errorf("Expected fuzzy match for %q", tt.utterance)
			}
		})
	}
}

func TestMatch_NoMatch(t *testing.T) {
	m := NewMatcher(DefaultLexicon())

	for _, u := range []string{"", "   ", "what lovely weather today", "good morning"} {
		if d := m.Match(u); d.Matched {
			t.Errorf("Match(%q) = %+v, want no match", u, d)
		}
	}
}

func TestDistance(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"kitten", "sitting", 3},
		{"", "", 0},
		{"", "abc", 3},
		{"flaw", "lawn", 2},
		{"danger", "danger", 0},
	}

	for _, tt := range tests {
		if got := Distance(tt.a, tt.b); got != tt.want {
			t.Errorf("Distance(%q, %q) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
		if got := Distance(tt.b, tt.a); got != tt.want {
			t.Errorf("Distance(%q, %q) = %d, want %d (symmetry)", tt.b, tt.a, got, tt.want)
		}
	}
}

func TestWordsAreSimilar(t *testing.T) {
	tests := []struct {
		a, b string
		want bool
	}{
		{"danger", "dangerous", true},
		{"cat", "dog", false},
		{"police", "polise", true},
		{"following", "folowing", true},
		{"me", "me", true},
		{"me", "mi", false},
		{"a", "i", false},
		{"help", "", false},
	}

	for _, tt := range tests {
		if got := WordsAreSimilar(tt.a, tt.b); got != tt.want {
			t.Errorf("WordsAreSimilar(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}
