package lesson

import (
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/antzucaro/matchr"
)

const defaultMatchThreshold = 0.88

// CoverageTracker observes the student's speech transcript and records which
// lesson vocabulary words were actually used. Matching is fuzzy — the speech
// recogniser's spelling of a word rarely matches the lesson's exactly — using
// Jaro-Winkler similarity over normalised tokens.
//
// Safe for concurrent use; the session event loop feeds it transcript deltas
// while the host reads the report.
type CoverageTracker struct {
	threshold float64

	mu   sync.Mutex
	used map[string]bool // vocabulary word → spoken at least once
}

// TrackerOption configures a [CoverageTracker].
type TrackerOption func(*CoverageTracker)

// WithMatchThreshold sets the minimum Jaro-Winkler score for a transcript
// token to count as a vocabulary word. Default: 0.88.
func WithMatchThreshold(threshold float64) TrackerOption {
	return func(t *CoverageTracker) {
		t.threshold = threshold
	}
}

// NewCoverageTracker creates a tracker for the lesson's vocabulary.
func NewCoverageTracker(l *Lesson, opts ...TrackerOption) *CoverageTracker {
	t := &CoverageTracker{
		threshold: defaultMatchThreshold,
		used:      make(map[string]bool, len(l.Vocabulary)),
	}
	for _, v := range l.Vocabulary {
		if v.Word != "" {
			t.used[v.Word] = false
		}
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Observe feeds one student transcript delta into the tracker.
func (t *CoverageTracker) Observe(text string) {
	tokens := tokenize(text)
	if len(tokens) == 0 {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for word, seen := range t.used {
		if seen {
			continue
		}
		target := normalize(word)
		if t.matches(tokens, target) {
			t.used[word] = true
		}
	}
}

// matches reports whether any transcript token scores above the threshold
// against target. Multi-word targets ("la cuenta") are compared against
// adjacent token pairs as well.
func (t *CoverageTracker) matches(tokens []string, target string) bool {
	for _, tok := range tokens {
		if matchr.JaroWinkler(tok, target, false) >= t.threshold {
			return true
		}
	}
	if strings.ContainsRune(target, ' ') {
		for i := 0; i+1 < len(tokens); i++ {
			pair := tokens[i] + " " + tokens[i+1]
			if matchr.JaroWinkler(pair, target, false) >= t.threshold {
				return true
			}
		}
	}
	return false
}

// Report returns the vocabulary words the student used and the ones still
// unspoken, each sorted alphabetically.
func (t *CoverageTracker) Report() (used, missed []string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for word, seen := range t.used {
		if seen {
			used = append(used, word)
		} else {
			missed = append(missed, word)
		}
	}
	sort.Strings(used)
	sort.Strings(missed)
	return used, missed
}

// tokenize splits text into normalised word tokens.
func tokenize(text string) []string {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r) && r != '\''
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if n := normalize(f); n != "" {
			out = append(out, n)
		}
	}
	return out
}

func normalize(s string) string {
	return foldAccents(strings.ToLower(strings.TrimSpace(s)))
}

// foldAccents maps common accented Latin letters to their base letter so that
// the recogniser writing "cafe" still matches the lesson's "café".
func foldAccents(s string) string {
	return strings.Map(func(r rune) rune {
		if f, ok := accentFold[r]; ok {
			return f
		}
		return r
	}, s)
}

var accentFold = map[rune]rune{
	'á': 'a', 'à': 'a', 'â': 'a', 'ä': 'a', 'ã': 'a', 'å': 'a',
	'é': 'e', 'è': 'e', 'ê': 'e', 'ë': 'e',
	'í': 'i', 'ì': 'i', 'î': 'i', 'ï': 'i',
	'ó': 'o', 'ò': 'o', 'ô': 'o', 'ö': 'o', 'õ': 'o',
	'ú': 'u', 'ù': 'u', 'û': 'u', 'ü': 'u',
	'ñ': 'n', 'ç': 'c', 'ý': 'y',
}
