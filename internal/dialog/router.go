// Package dialog decides how the assistant answers one utterance.
package dialog

import (
	"context"
	"errors"
	"strings"
	"time"

	"appointment-chat/internal/domain"
	"appointment-chat/internal/logger"
)

type Route int

const (
	ToxicBlock Route = iota + 1
	BookingIntent
	FaqAnswer
	LlmFallback
)

var routeNames = map[Route]string{
	ToxicBlock:    "toxic_block",
	BookingIntent: "booking_intent",
	FaqAnswer:     "faq_answer",
	LlmFallback:   "llm_fallback",
}

func (r Route) String() string {
	if s, ok := routeNames[r]; ok {
		return s
	}
	return "unknown"
}

func (r Route) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

const (
	RefusalReply  = "Sorry, I cannot respond to this request."
	FallbackReply = "Sorry, I'm having trouble answering right now. Please try again in a moment."
)

// Decision is the router's verdict. Reply is empty for BookingIntent.
// Degraded marks an LlmFallback answered with FallbackReply.
type Decision struct {
	Route      Route   `json:"route"`
	Reply      string  `json:"reply"`
	Degraded   bool    `json:"degraded,omitempty"`
	Similarity float64 `json:"similarity,omitempty"`
}

type Config struct {
	SystemPrompt   string
	HistoryLimit   int
	Timeout        time.Duration
	FAQThreshold   float64
	BookingPhrases []string
}

var DefaultBookingPhrases = []string{
	"book appointment",
	"book an appointment",
	"schedule appointment",
	"make an appointment",
}

const DefaultSystemPrompt = "You are a helpful assistant for a doctor's appointment service."

func (c Config) withDefaults() Config {
	if c.SystemPrompt == "" {
		c.SystemPrompt = DefaultSystemPrompt
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = 10
	}
	if c.Timeout <= 0 {
		c.Timeout = 20 * time.Second
	}
	if c.FAQThreshold <= 0 {
		c.FAQThreshold = 0.7
	}
	phrases := c.BookingPhrases
	if len(phrases) == 0 {
		phrases = DefaultBookingPhrases
	}
	c.BookingPhrases = make([]string, 0, len(phrases))
	for _, p := range phrases {
		c.BookingPhrases = append(c.BookingPhrases, strings.ToLower(strings.TrimSpace(p)))
	}
	return c
}

type Router struct {
	cfg      Config
	toxicity ToxicityChecker
	faq      FAQMatcher
	gen      TextGenerator
	log      *logger.Logger
}

// NewRouter wires the three capabilities. A nil capability is replaced by
// its Unavailable variant.
func NewRouter(cfg Config, tox ToxicityChecker, fm FAQMatcher, gen TextGenerator, log *logger.Logger) *Router {
	if tox == nil {
		tox = UnavailableToxicity{}
	}
	if fm == nil {
		fm = UnavailableFAQ{}
	}
	if gen == nil {
		gen = UnavailableGenerator{}
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Router{
		cfg:      cfg.withDefaults(),
		toxicity: tox,
		faq:      fm,
		gen:      gen,
		log:      log.With("component", "DialogRouter"),
	}
}

// Route never mutates st and always returns a decision; collaborator
// failures degrade to the next branch or to FallbackReply.
func (r *Router) Route(ctx context.Context, utterance string, st *domain.SessionState) Decision {
	toxic, err := r.toxicity.IsToxic(ctx, utterance)
	switch {
	case errors.Is(err, ErrUnavailable):
		r.log.Warn("toxicity check unavailable, treating as clean")
	case err != nil:
		r.log.Warn("toxicity check failed, treating as clean", "error", err)
	case toxic:
		return Decision{Route: ToxicBlock, Reply: RefusalReply}
	}

	if r.IsBookingIntent(utterance) {
		return Decision{Route: BookingIntent}
	}

	m, ok, err := r.faq.BestMatch(ctx, utterance)
	switch {
	case errors.Is(err, ErrUnavailable):
	case err != nil:
		r.log.Warn("faq lookup failed", "error", err)
	case ok && m.Similarity > r.cfg.FAQThreshold:
		return Decision{Route: FaqAnswer, Reply: m.Answer, Similarity: m.Similarity}
	}

	return r.generate(ctx, utterance, st)
}

func (r *Router) IsBookingIntent(utterance string) bool {
	lower := strings.ToLower(utterance)
	for _, p := range r.cfg.BookingPhrases {
		if p != "" && strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// Messages builds the generator input: system prompt, the most recent
// HistoryLimit messages, then the new utterance.
func (r *Router) Messages(utterance string, st *domain.SessionState) []domain.ChatMessage {
	var history []domain.ChatMessage
	if st != nil {
		history = st.Messages
	}
	if len(history) > r.cfg.HistoryLimit {
		history = history[len(history)-r.cfg.HistoryLimit:]
	}
	out := make([]domain.ChatMessage, 0, len(history)+2)
	out = append(out, domain.ChatMessage{Role: domain.RoleSystem, Content: r.cfg.SystemPrompt})
	for _, m := range history {
		if m.Role == domain.RoleSystem {
			continue
		}
		out = append(out, m)
	}
	return append(out, domain.ChatMessage{Role: domain.RoleUser, Content: utterance})
}

func (r *Router) generate(ctx context.Context, utterance string, st *domain.SessionState) Decision {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	reply, err := r.gen.Generate(ctx, r.Messages(utterance, st))
	switch {
	case errors.Is(err, ErrUnavailable):
		r.log.Warn("text generator unavailable, using fallback reply")
	case err != nil:
		r.log.Error("text generation failed", "error", err)
	case strings.TrimSpace(reply) == "":
		r.log.Warn("text generator returned an empty reply")
	default:
		return Decision{Route: LlmFallback, Reply: reply}
	}
	return Decision{Route: LlmFallback, Reply: FallbackReply, Degraded: true}
}
