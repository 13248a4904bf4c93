package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/johnlen7/teacher-sarah/internal/model"
	"github.com/johnlen7/teacher-sarah/internal/queue"
	"github.com/johnlen7/teacher-sarah/internal/recall"
	"github.com/johnlen7/teacher-sarah/internal/store"
)

// DefaultSessionGap is how long a conversation can stay quiet before the
// next message starts a new session.
const DefaultSessionGap = 30 * time.Minute

// DefaultUpstreamTimeout bounds each outbound collaborator call.
const DefaultUpstreamTimeout = 30 * time.Second

const apologyReply = "Sorry, I encountered an error processing your message. Please try again."
const unclearAudioReply = "I couldn't understand the audio. Please try again with clearer speech."

// Config wires a Handler. Store, Assembler, Responder and Replier are
// required; the rest are optional collaborators.
type Config struct {
	Store           store.Store
	Assembler       *recall.Assembler
	Responder       Responder
	Replier         Replier
	Grammar         GrammarChecker
	Transcriber     Transcriber
	Synthesizer     Synthesizer
	SessionGap      time.Duration
	UpstreamTimeout time.Duration
	Logger          zerolog.Logger
}

// Handler is the queue.Handler that runs the full message pipeline for one
// job. The queue guarantees at most one Handle call per conversation at a
// time, which is what makes the per-conversation store writes safe.
type Handler struct {
	cfg Config
	log zerolog.Logger

	mu       sync.Mutex
	sessions map[string]sessionState
}

type sessionState struct {
	id   string
	last time.Time
}

// NewHandler validates and wires the pipeline.
func NewHandler(cfg Config) (*Handler, error) {
	if cfg.Store == nil || cfg.Assembler == nil || cfg.Responder == nil || cfg.Replier == nil {
		return nil, fmt.Errorf("pipeline requires store, assembler, responder and replier")
	}
	if cfg.SessionGap <= 0 {
		cfg.SessionGap = DefaultSessionGap
	}
	if cfg.UpstreamTimeout <= 0 {
		cfg.UpstreamTimeout = DefaultUpstreamTimeout
	}
	return &Handler{
		cfg:      cfg,
		log:      cfg.Logger,
		sessions: make(map[string]sessionState),
	}, nil
}

var _ queue.Handler = (*Handler)(nil)

// Handle processes one inbound message end to end. A returned error marks
// the job failed; the user still gets a best-effort apology.
func (h *Handler) Handle(ctx context.Context, key string, p queue.JobPayload) error {
	start := time.Now()

	err := h.process(ctx, key, p, start)
	if err != nil {
		h.apologize(ctx, key)
	}
	return err
}

func (h *Handler) process(ctx context.Context, key string, p queue.JobPayload, start time.Time) error {
	if _, err := h.cfg.Store.GetOrCreate(ctx, key, p.Identity); err != nil {
		return fmt.Errorf("load conversation: %w", err)
	}

	text := p.Content
	if p.Kind == queue.KindVoice {
		transcript, err := h.transcribe(ctx, p)
		if err != nil {
			h.log.Warn().Err(err).Str("conversation", key).Msg("transcription failed")
			h.reply(ctx, key, unclearAudioReply)
			return nil
		}
		if strings.TrimSpace(transcript) == "" {
			h.reply(ctx, key, unclearAudioReply)
			return nil
		}
		text = transcript
	}

	corrections := h.checkGrammar(ctx, key, text)
	sessionID := h.sessionID(key, start)

	inbound := &model.Message{
		SessionID:       sessionID,
		Role:            model.RoleUser,
		Content:         text,
		OriginalContent: text,
		IsVoice:         p.Kind == queue.KindVoice,
		VoiceDuration:   p.VoiceDuration,
		HasErrors:       len(corrections) > 0,
		Corrections:     corrections,
		Confidence:      1,
	}
	if err := h.cfg.Store.AppendMessage(ctx, key, inbound); err != nil {
		return fmt.Errorf("persist inbound message: %w", err)
	}

	cctx, err := h.cfg.Assembler.BuildContext(ctx, key)
	if err != nil {
		return fmt.Errorf("assemble context: %w", err)
	}

	resp, err := h.respond(ctx, Request{
		Message: text,
		Context: cctx,
		Level:   cctx.Conversation.Level,
		IsVoice: inbound.IsVoice,
	})
	if err != nil {
		return err
	}

	outbound := &model.Message{
		SessionID:   sessionID,
		Role:        model.RoleAssistant,
		Content:     resp.Text,
		Confidence:  resp.Confidence,
		Latency:     time.Since(start).Seconds(),
		ContextNote: cctx.Summary,
	}
	if err := h.cfg.Store.AppendMessage(ctx, key, outbound); err != nil {
		return fmt.Errorf("persist outbound message: %w", err)
	}

	h.reply(ctx, key, resp.Text)
	if inbound.IsVoice && h.cfg.Synthesizer != nil {
		h.replyVoice(ctx, key, resp.Text)
	}
	return nil
}

func (h *Handler) transcribe(ctx context.Context, p queue.JobPayload) (string, error) {
	if h.cfg.Transcriber == nil {
		return "", &UpstreamError{Service: "transcriber", Err: fmt.Errorf("not configured")}
	}
	tctx, cancel := context.WithTimeout(ctx, h.cfg.UpstreamTimeout)
	defer cancel()
	transcript, err := h.cfg.Transcriber.Transcribe(tctx, p.Content, p.VoiceDuration)
	if err != nil {
		return "", &UpstreamError{Service: "transcriber", Err: err}
	}
	return transcript, nil
}

// checkGrammar is best effort; a checker failure means no corrections.
func (h *Handler) checkGrammar(ctx context.Context, key, text string) []model.Correction {
	if h.cfg.Grammar == nil {
		return nil
	}
	gctx, cancel := context.WithTimeout(ctx, h.cfg.UpstreamTimeout)
	defer cancel()
	corrections, err := h.cfg.Grammar.Check(gctx, text)
	if err != nil {
		h.log.Warn().Err(err).Str("conversation", key).Msg("grammar check failed")
		return nil
	}
	return corrections
}

func (h *Handler) respond(ctx context.Context, req Request) (*Response, error) {
	rctx, cancel := context.WithTimeout(ctx, h.cfg.UpstreamTimeout)
	defer cancel()
	resp, err := h.cfg.Responder.Respond(rctx, req)
	if err != nil {
		return nil, &UpstreamError{Service: h.cfg.Responder.Name(), Err: err}
	}
	return resp, nil
}

func (h *Handler) reply(ctx context.Context, key, text string) {
	if err := h.cfg.Replier.Reply(ctx, key, text); err != nil {
		h.log.Warn().Err(err).Str("conversation", key).Msg("reply delivery failed")
	}
}

func (h *Handler) replyVoice(ctx context.Context, key, text string) {
	sctx, cancel := context.WithTimeout(ctx, h.cfg.UpstreamTimeout)
	defer cancel()
	audioRef, err := h.cfg.Synthesizer.Synthesize(sctx, text)
	if err != nil {
		h.log.Warn().Err(err).Str("conversation", key).Msg("speech synthesis failed")
		return
	}
	if err := h.cfg.Replier.ReplyVoice(ctx, key, audioRef); err != nil {
		h.log.Warn().Err(err).Str("conversation", key).Msg("voice reply delivery failed")
	}
}

func (h *Handler) apologize(ctx context.Context, key string) {
	if err := h.cfg.Replier.Reply(ctx, key, apologyReply); err != nil {
		h.log.Warn().Err(err).Str("conversation", key).Msg("apology delivery failed")
	}
}

// sessionID reuses the conversation's current session id unless the gap
// since the previous message exceeds the configured session gap.
func (h *Handler) sessionID(key string, now time.Time) string {
	h.mu.Lock()
	defer h.mu.Unlock()

	st, ok := h.sessions[key]
	if !ok || now.Sub(st.last) > h.cfg.SessionGap {
		st.id = ulid.Make().String()
	}
	st.last = now
	h.sessions[key] = st
	return st.id
}
