// Package pipeline implements the per-message processing job: persist the
// inbound message, assemble recall context, generate a reply, persist it
// and deliver it back through the gateway. External services (speech,
// grammar, response generation, synthesis) sit behind small interfaces.
package pipeline

import (
	"context"
	"fmt"

	"github.com/johnlen7/teacher-sarah/internal/model"
	"github.com/johnlen7/teacher-sarah/internal/recall"
)

// UpstreamError wraps a failure of an external collaborator. The pipeline
// absorbs these with a deterministic local fallback instead of propagating.
type UpstreamError struct {
	Service string
	Err     error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream %s: %v", e.Service, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// Request carries everything a response generator needs for one reply.
type Request struct {
	Message string
	Context *recall.Context
	Level   model.Level
	IsVoice bool
}

// Response is one generated reply.
type Response struct {
	Text       string
	Confidence float64
}

// Responder generates a reply for a request. Implementations are named so
// fallback chains can report which backend produced a reply.
type Responder interface {
	Name() string
	Respond(ctx context.Context, req Request) (*Response, error)
}

// GrammarChecker finds grammar issues in user text. Best effort: a failure
// means no corrections, never a failed job.
type GrammarChecker interface {
	Check(ctx context.Context, text string) ([]model.Correction, error)
}

// Transcriber converts a voice clip reference to text.
type Transcriber interface {
	Transcribe(ctx context.Context, audioRef string, duration float64) (string, error)
}

// Synthesizer renders reply text to speech, returning an audio reference.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (string, error)
}

// Replier is the gateway's reply primitive.
type Replier interface {
	Reply(ctx context.Context, key, text string) error
	ReplyVoice(ctx context.Context, key, audioRef string) error
}
