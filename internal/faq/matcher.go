package faq

import (
	"context"
	"math"
	"strings"
	"unicode"
)

// Match is the best FAQ entry for an utterance. Similarity is in [0, 1].
type Match struct {
	Question   string
	Answer     string
	Similarity float64
}

var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "is": {}, "are": {}, "am": {}, "do": {}, "does": {},
	"i": {}, "you": {}, "we": {}, "my": {}, "your": {}, "me": {}, "it": {}, "to": {},
	"of": {}, "in": {}, "on": {}, "for": {}, "at": {}, "and": {}, "or": {}, "be": {},
	"can": {}, "what": {}, "how": {}, "please": {}, "with": {}, "there": {},
}

type indexed struct {
	entry  Entry
	tokens map[string]struct{}
}

// Matcher scores utterances against the questions of a parsed FAQ file.
type Matcher struct {
	entries []indexed
}

func NewMatcher(entries []Entry) *Matcher {
	m := &Matcher{entries: make([]indexed, 0, len(entries))}
	for _, e := range entries {
		m.entries = append(m.entries, indexed{entry: e, tokens: tokenize(e.Question)})
	}
	return m
}

func (m *Matcher) Len() int { return len(m.entries) }

// BestMatch returns the highest scoring entry. ok is false when the FAQ is
// empty or nothing shares a keyword with the utterance.
func (m *Matcher) BestMatch(ctx context.Context, utterance string) (Match, bool, error) {
	if err := ctx.Err(); err != nil {
		return Match{}, false, err
	}
	u := tokenize(utterance)
	var (
		best  Match
		found bool
	)
	for _, e := range m.entries {
		s := similarity(u, e.tokens)
		if s > 0 && (!found || s > best.Similarity) {
			best = Match{Question: e.entry.Question, Answer: e.entry.Answer, Similarity: s}
			found = true
		}
	}
	return best, found, nil
}

// similarity is the cosine of the two keyword sets:
// |a ∩ b| / sqrt(|a| * |b|).
func similarity(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	small, large := a, b
	if len(small) > len(large) {
		small, large = large, small
	}
	shared := 0
	for t := range small {
		if _, ok := large[t]; ok {
			shared++
		}
	}
	return float64(shared) / math.Sqrt(float64(len(a)*len(b)))
}

func tokenize(s string) map[string]struct{} {
	out := map[string]struct{}{}
	words := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		if _, skip := stopwords[w]; skip {
			continue
		}
		out[w] = struct{}{}
	}
	return out
}
