// Package command matches recognized transcripts against configured command
// phrases using Double Metaphone phonetic encoding combined with
// Jaro-Winkler string similarity.
//
// The algorithm proceeds in two stages:
//
//  1. Phonetic candidate filtering: Double Metaphone codes are computed for
//     each word in the transcript and for each command phrase. If any code
//     from the transcript overlaps with any code from a phrase, that phrase
//     becomes a phonetic candidate.
//
//  2. Jaro-Winkler ranking: Among phonetic candidates, the phrase with the
//     highest Jaro-Winkler similarity (computed on the original strings,
//     case-insensitive) is selected — provided its score exceeds the
//     configurable phonetic threshold.
//
//     When no phonetic candidate is found, a secondary pass tests pure
//     Jaro-Winkler similarity against all phrases using a higher fuzzy
//     threshold (default 0.85).
//
// Because a transcript may contain words around the command ("please stop
// recording now"), each phrase is also compared against every contiguous
// window of the transcript with the same word count as the phrase.
package command

import (
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85
)

// Command is one named command with its spoken forms.
type Command struct {
	Name    string
	Phrases []string
}

// Match describes the winning command for a transcript.
type Match struct {
	// Command is the matched command's name.
	Command string

	// Phrase is the configured phrase that won.
	Phrase string

	// Score is the Jaro-Winkler similarity of the winning comparison.
	Score float64

	// Phonetic reports whether the match was phonetically supported or came
	// from the fuzzy fallback.
	Phonetic bool
}

// Option is a functional option for configuring a [Matcher].
type Option func(*Matcher)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score required for a
// phonetically-matched phrase to be accepted. Default: 0.70.
func WithPhoneticThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.phoneticThreshold = threshold
	}
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score required when no
// phonetic match is found and the matcher falls back to pure string
// similarity. Default: 0.85.
func WithFuzzyThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.fuzzyThreshold = threshold
	}
}

// phrase is one pre-tokenised command phrase.
type phrase struct {
	command string
	text    string
	tokens  []string
	codes   map[string]struct{}
}

// Matcher matches transcripts against a fixed command set. All methods are
// safe for concurrent use — the Matcher is read-only after construction.
type Matcher struct {
	phrases           []phrase
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// New returns a [Matcher] for the given commands. Phrase phonetic codes are
// precomputed once here. Default thresholds are 0.70 for phonetic matches
// and 0.85 for fuzzy fallback matches.
func New(commands []Command, opts ...Option) *Matcher {
	m := &Matcher{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(m)
	}

	for _, c := range commands {
		for _, p := range c.Phrases {
			text := strings.ToLower(strings.TrimSpace(p))
			if text == "" {
				continue
			}
			tokens := strings.Fields(text)
			m.phrases = append(m.phrases, phrase{
				command: c.Name,
				text:    text,
				tokens:  tokens,
				codes:   codesForTokens(tokens),
			})
		}
	}
	return m
}

// Match finds the command phrase most similar to the transcript. When
// matched is false the transcript did not resemble any configured phrase.
func (m *Matcher) Match(transcript string) (match Match, matched bool) {
	text := strings.ToLower(strings.TrimSpace(transcript))
	if text == "" || len(m.phrases) == 0 {
		return Match{}, false
	}
	tokens := strings.Fields(text)
	inputCodes := codesForTokens(tokens)

	var best Match
	for _, p := range m.phrases {
		phonetic := codesOverlap(inputCodes, p.codes)
		score := bestScore(tokens, p, text)

		switch {
		case phonetic && score >= m.phoneticThreshold:
			if !best.Phonetic || score > best.Score {
				best = Match{Command: p.command, Phrase: p.text, Score: score, Phonetic: true}
			}
		case !phonetic && !best.Phonetic:
			if score >= m.fuzzyThreshold && score > best.Score {
				best = Match{Command: p.command, Phrase: p.text, Score: score}
			}
		}
	}

	if best.Command == "" {
		return Match{}, false
	}
	return best, true
}

// bestScore computes the highest Jaro-Winkler similarity between the
// transcript and the phrase using three strategies:
//
//  1. Full-string comparison.
//  2. Space-stripped comparison ("stoprecording" vs "stop recording").
//  3. Best window comparison — the maximum score between the phrase and any
//     contiguous run of transcript tokens of the phrase's word count, which
//     tolerates filler words around the command.
//
// longTolerance is passed as false to use standard Jaro-Winkler scoring.
func bestScore(inputTokens []string, p phrase, inputFull string) float64 {
	score := matchr.JaroWinkler(inputFull, p.text, false)

	if len(inputTokens) > 1 || len(p.tokens) > 1 {
		concat1 := strings.Join(inputTokens, "")
		concat2 := strings.Join(p.tokens, "")
		if s := matchr.JaroWinkler(concat1, concat2, false); s > score {
			score = s
		}
	}

	n := len(p.tokens)
	for i := 0; i+n <= len(inputTokens); i++ {
		window := strings.Join(inputTokens[i:i+n], " ")
		if s := matchr.JaroWinkler(window, p.text, false); s > score {
			score = s
		}
	}

	return score
}

// codesForTokens returns the union of all Double Metaphone codes for the
// given tokens. Empty codes (produced when the word is too short or
// contains no consonants) are excluded.
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

// codesOverlap returns true if the two code sets share at least one code.
func codesOverlap(a, b map[string]struct{}) bool {
	// Iterate over the smaller set for efficiency.
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
