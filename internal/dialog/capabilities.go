package dialog

import (
	"context"
	"errors"
	"strings"
	"unicode"

	"appointment-chat/internal/domain"
	"appointment-chat/internal/faq"
)

// ErrUnavailable is returned by the Unavailable capability variants. The
// router reports it separately from a failing backend.
var ErrUnavailable = errors.New("dialog: capability unavailable")

type TextGenerator interface {
	Generate(ctx context.Context, messages []domain.ChatMessage) (string, error)
}

type FAQMatcher interface {
	BestMatch(ctx context.Context, utterance string) (faq.Match, bool, error)
}

type ToxicityChecker interface {
	IsToxic(ctx context.Context, text string) (bool, error)
}

// UnavailableGenerator stands in when no LLM provider is configured.
type UnavailableGenerator struct{}

func (UnavailableGenerator) Generate(context.Context, []domain.ChatMessage) (string, error) {
	return "", ErrUnavailable
}

type UnavailableFAQ struct{}

func (UnavailableFAQ) BestMatch(context.Context, string) (faq.Match, bool, error) {
	return faq.Match{}, false, ErrUnavailable
}

type UnavailableToxicity struct{}

func (UnavailableToxicity) IsToxic(context.Context, string) (bool, error) {
	return false, ErrUnavailable
}

// KeywordToxicity flags text containing any blocklisted word.
type KeywordToxicity struct {
	words map[string]struct{}
}

var DefaultBlocklist = []string{
	"idiot", "stupid", "moron", "dumb", "hate", "kill", "shut up", "damn", "bastard", "loser",
}

func NewKeywordToxicity(words []string) *KeywordToxicity {
	k := &KeywordToxicity{words: make(map[string]struct{}, len(words))}
	for _, w := range words {
		w = strings.ToLower(strings.TrimSpace(w))
		if w != "" {
			k.words[w] = struct{}{}
		}
	}
	return k
}

func (k *KeywordToxicity) IsToxic(ctx context.Context, text string) (bool, error) {
	lower := strings.ToLower(text)
	tokens := strings.FieldsFunc(lower, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	set := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		set[t] = struct{}{}
	}
	for w := range k.words {
		if strings.Contains(w, " ") {
			if strings.Contains(" "+strings.Join(tokens, " ")+" ", " "+w+" ") {
				return true, nil
			}
			continue
		}
		if _, ok := set[w]; ok {
			return true, nil
		}
	}
	return false, nil
}
