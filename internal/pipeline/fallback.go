package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/johnlen7/teacher-sarah/internal/model"
)

// FallbackChain tries named responders in order and falls back to the
// deterministic local responder when every upstream fails. It therefore
// never returns an error.
type FallbackChain struct {
	responders []Responder
	local      *LocalResponder
	log        zerolog.Logger
}

// NewFallbackChain builds a chain over the given upstream responders. The
// local responder is always the terminal member.
func NewFallbackChain(log zerolog.Logger, responders ...Responder) *FallbackChain {
	return &FallbackChain{responders: responders, local: &LocalResponder{}, log: log}
}

func (c *FallbackChain) Name() string { return "fallback-chain" }

func (c *FallbackChain) Respond(ctx context.Context, req Request) (*Response, error) {
	for _, r := range c.responders {
		resp, err := r.Respond(ctx, req)
		if err == nil {
			return resp, nil
		}
		uerr := &UpstreamError{Service: r.Name(), Err: err}
		c.log.Warn().Err(uerr).Str("responder", r.Name()).Msg("responder failed, trying next")
	}
	return c.local.Respond(ctx, req)
}

// LocalResponder is the deterministic last-resort reply generator. It keys
// off a few phrases the tutoring bot sees constantly and otherwise keeps
// the conversation going with generic encouragement.
type LocalResponder struct{}

func (l *LocalResponder) Name() string { return "local" }

// localConfidence marks fallback replies so stored confidence reflects
// that no real generator produced them.
const localConfidence = 0.3

func (l *LocalResponder) Respond(ctx context.Context, req Request) (*Response, error) {
	lower := strings.ToLower(req.Message)

	var text string
	switch {
	case containsAny(lower, "hungry", "hunger", "fome", "eat", "comer"):
		text = "To say 'estou com fome' in English, you say: I'm hungry, or I am hungry."
		if req.Level == model.LevelA1 || req.Level == model.LevelA2 {
			text += " Some other useful phrases: I'm thirsty, I'm tired, I'm happy. You're doing great!"
		}
	case containsAny(lower, "how", "como", "say", "dizer"):
		text = "I'd love to help you translate! Tell me what you want to say in Portuguese, and I'll teach you the English version. Don't worry about mistakes - that's how we learn!"
	case containsAny(lower, "thank", "thanks", "obrigad"):
		text = "You're very welcome! Keep practicing - you're making real progress."
	case req.Context != nil && req.Context.FirstContact:
		text = "Hi, I'm Sarah, your English teacher! Tell me a little about yourself so we can start practicing."
	default:
		text = "That's interesting! Tell me more about it - describing things in English is great practice."
		if req.Context != nil && len(req.Context.Topics) > 0 {
			text = fmt.Sprintf("That's interesting! We've been talking about %s - tell me more in English, it's great practice.",
				req.Context.Topics[0])
		}
	}

	if req.IsVoice {
		text += " Nice work practicing your speaking, by the way!"
	}
	return &Response{Text: text, Confidence: localConfidence}, nil
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
