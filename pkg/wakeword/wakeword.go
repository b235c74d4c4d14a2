// Package wakeword spots a configured wake phrase in speech transcripts.
//
// Transcription of a short, often invented name is noisy ("hey jarvis" comes
// back as "hey jervis" or "a jarvis"), so the matcher compares phonetically:
//
//  1. The transcript is split into windows with as many words as the phrase.
//  2. A window is a candidate if its Double Metaphone codes overlap those of
//     the phrase.
//  3. Candidates are scored with Jaro-Winkler on the lower-cased text and the
//     best one at or above the threshold wins. Without any phonetic candidate
//     a stricter fuzzy threshold applies instead.
package wakeword

import (
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"
)

const (
	// DefaultThreshold is the minimum Jaro-Winkler score for a phonetic
	// candidate.
	DefaultThreshold = 0.80

	defaultFuzzyThreshold = 0.92
)

// Detection describes a wake phrase found in a transcript.
type Detection struct {
	// Heard is the transcript text that matched the phrase.
	Heard string

	// Score is the Jaro-Winkler similarity in [0, 1].
	Score float64

	// Remainder is the transcript text following the phrase, for example
	// the command in "hey jarvis, what time is it". It is empty when the
	// phrase ended the utterance.
	Remainder string
}

// Option is a functional option for [New].
type Option func(*Matcher)

// WithThreshold sets the minimum score for a phonetically matching window.
func WithThreshold(threshold float64) Option {
	return func(m *Matcher) {
		if threshold > 0 && threshold <= 1 {
			m.threshold = threshold
		}
	}
}

// WithFuzzyThreshold sets the minimum score for a window that shares no
// phonetic code with the phrase.
func WithFuzzyThreshold(threshold float64) Option {
	return func(m *Matcher) {
		if threshold > 0 && threshold <= 1 {
			m.fuzzyThreshold = threshold
		}
	}
}

// Matcher detects one wake phrase. It is read-only after construction and
// safe for concurrent use.
type Matcher struct {
	phrase         string
	tokens         []string
	codes          map[string]struct{}
	threshold      float64
	fuzzyThreshold float64
}

// New returns a Matcher for phrase. It returns nil if phrase contains no
// words.
func New(phrase string, opts ...Option) *Matcher {
	tokens := tokenize(phrase)
	if len(tokens) == 0 {
		return nil
	}
	m := &Matcher{
		phrase:         strings.Join(tokens, " "),
		tokens:         tokens,
		codes:          codesForTokens(tokens),
		threshold:      DefaultThreshold,
		fuzzyThreshold: defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Phrase returns the normalised wake phrase.
func (m *Matcher) Phrase() string { return m.phrase }

// Detect reports whether transcript contains the wake phrase. The earliest
// best-scoring window wins.
func (m *Matcher) Detect(transcript string) (Detection, bool) {
	words := tokenize(transcript)
	n := len(m.tokens)
	if len(words) == 0 {
		return Detection{}, false
	}
	// Shorter transcripts are compared as a whole.
	if len(words) < n {
		n = len(words)
	}

	bestAt, bestScore := -1, 0.0
	bestPhonetic := false
	for i := 0; i+n <= len(words); i++ {
		window := words[i : i+n]
		score := bestJWScore(window, m.tokens)
		phonetic := codesOverlap(codesForTokens(window), m.codes)

		switch {
		case phonetic && score >= m.threshold:
			if !bestPhonetic || score > bestScore {
				bestAt, bestScore, bestPhonetic = i, score, true
			}
		case !phonetic && !bestPhonetic && score >= m.fuzzyThreshold && score > bestScore:
			bestAt, bestScore = i, score
		}
	}
	if bestAt < 0 {
		return Detection{}, false
	}
	return Detection{
		Heard:     strings.Join(words[bestAt:bestAt+n], " "),
		Score:     bestScore,
		Remainder: strings.Join(words[bestAt+n:], " "),
	}, true
}

// tokenize lower-cases s and splits it into words, dropping punctuation.
func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
}

func codesForTokens(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

func codesOverlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}

// bestJWScore is the higher of the full-window score and the score with
// word boundaries removed ("hey jarvis" against "heyjarvis").
func bestJWScore(window, phrase []string) float64 {
	score := matchr.JaroWinkler(strings.Join(window, " "), strings.Join(phrase, " "), false)
	if len(window) > 1 || len(phrase) > 1 {
		if s := matchr.JaroWinkler(strings.Join(window, ""), strings.Join(phrase, ""), false); s > score {
			score = s
		}
	}
	return score
}
