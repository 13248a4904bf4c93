// Package queue schedules inbound message-processing jobs. Each
// conversation key owns a strict FIFO queue drained by its own scheduling
// loop, and a weighted semaphore bounds how many jobs run at once across
// all conversations. Within one conversation at most one job is ever
// running; across conversations execution order is whatever slot
// availability dictates.
package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/johnlen7/teacher-sarah/internal/model"
)

// ErrShuttingDown is returned by Enqueue once a drain has started.
var ErrShuttingDown = errors.New("queue is shutting down")

// PayloadKind tags the variant of a job payload.
type PayloadKind string

const (
	KindText  PayloadKind = "text"
	KindVoice PayloadKind = "voice"
)

// JobPayload is one unit of inbound-message work. Voice payloads carry the
// clip duration; Content is raw text for text jobs and an audio reference
// for voice jobs.
type JobPayload struct {
	Kind          PayloadKind
	Content       string
	VoiceDuration float64
	Identity      model.Identity
}

// Handler executes one job for a conversation. Implementations must treat
// the payload as theirs alone for the duration of the call.
type Handler interface {
	Handle(ctx context.Context, key string, p JobPayload) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, key string, p JobPayload) error

func (f HandlerFunc) Handle(ctx context.Context, key string, p JobPayload) error {
	return f(ctx, key, p)
}

type task struct {
	id         string
	key        string
	payload    JobPayload
	priority   int
	enqueuedAt time.Time
}

// Status is an eventually-consistent snapshot of queue state.
type Status struct {
	ActiveConversations int            `json:"active_conversations"`
	TotalQueuedJobs     int            `json:"total_queued_jobs"`
	QueueDepths         map[string]int `json:"per_conversation_queue_depth"`
	ConcurrencyLimit    int64          `json:"global_concurrency_limit"`
	JobsExecuted        int64          `json:"jobs_executed"`
	JobsFailed          int64          `json:"jobs_failed"`
	JobsDiscarded       int64          `json:"jobs_discarded"`
	Draining            bool           `json:"draining,omitempty"`
}

// Queue is the per-conversation FIFO scheduler. Construct with New and stop
// with DrainAndShutdown; there is no ambient global instance.
type Queue struct {
	handler Handler
	limit   int64
	sem     *semaphore.Weighted
	log     zerolog.Logger

	// abortCtx unblocks loops waiting on a slot when the drain deadline
	// passes. Running jobs are never cancelled through it.
	abortCtx  context.Context
	abortStop context.CancelFunc

	mu        sync.Mutex
	queues    map[string][]*task
	active    map[string]bool // keys with a live scheduling loop
	inFlight  map[string]bool // keys with a job currently executing
	draining  bool
	executed  int64
	failed    int64
	discarded int64

	wg sync.WaitGroup
}

// DefaultConcurrency bounds running jobs when no limit is configured.
const DefaultConcurrency = 10

// New builds a queue executing jobs with h under a global concurrency
// limit. limit <= 0 selects DefaultConcurrency.
func New(limit int64, h Handler, log zerolog.Logger) *Queue {
	if limit <= 0 {
		limit = DefaultConcurrency
	}
	abortCtx, stop := context.WithCancel(context.Background())
	return &Queue{
		handler:   h,
		limit:     limit,
		sem:       semaphore.NewWeighted(limit),
		log:       log,
		abortCtx:  abortCtx,
		abortStop: stop,
		queues:    make(map[string][]*task),
		active:    make(map[string]bool),
		inFlight:  make(map[string]bool),
	}
}

// Enqueue appends a job to key's FIFO queue and returns its task id
// immediately; it never waits for execution. Priority is recorded as
// advisory metadata only — within one conversation jobs always run in
// arrival order.
func (q *Queue) Enqueue(ctx context.Context, key string, p JobPayload, priority int) (string, error) {
	t := &task{
		id:         uuid.NewString(),
		key:        key,
		payload:    p,
		priority:   priority,
		enqueuedAt: time.Now(),
	}

	q.mu.Lock()
	if q.draining {
		q.mu.Unlock()
		return "", ErrShuttingDown
	}
	q.queues[key] = append(q.queues[key], t)
	startLoop := !q.active[key]
	if startLoop {
		q.active[key] = true
		q.wg.Add(1)
	}
	q.mu.Unlock()

	if startLoop {
		go q.runLoop(key)
	}

	q.log.Debug().
		Str("conversation", key).
		Str("task", t.id).
		Str("kind", string(p.Kind)).
		Int("priority", priority).
		Msg("job enqueued")
	return t.id, nil
}

// runLoop drains one conversation's queue. It exits when the queue is
// empty; a later Enqueue starts a fresh loop. The empty check and the
// active flag flip happen under one lock so no job can be stranded.
func (q *Queue) runLoop(key string) {
	defer q.wg.Done()

	for {
		q.mu.Lock()
		pending := q.queues[key]
		if len(pending) == 0 || q.abortCtx.Err() != nil {
			if n := len(pending); n > 0 {
				q.discarded += int64(n)
				q.log.Warn().Str("conversation", key).Int("jobs", n).Msg("discarding queued jobs on shutdown")
			}
			delete(q.queues, key)
			delete(q.active, key)
			q.mu.Unlock()
			return
		}
		t := pending[0]
		q.queues[key] = pending[1:]
		q.mu.Unlock()

		// Blocks this conversation's loop only; other loops keep running.
		if err := q.sem.Acquire(q.abortCtx, 1); err != nil {
			q.mu.Lock()
			q.discarded++
			q.mu.Unlock()
			continue
		}
		q.execute(t)
		q.sem.Release(1)
	}
}

// execute runs one job to terminal completion. Failures are logged and
// counted but never propagate into the scheduling loop.
func (q *Queue) execute(t *task) {
	q.mu.Lock()
	if q.inFlight[t.key] {
		// Cannot happen while the per-key loop is the only scheduler for
		// its queue; seeing it means the scheduler is broken.
		q.log.Error().Str("conversation", t.key).Str("task", t.id).
			Msg("scheduler invariant violated: second job started for conversation")
	}
	q.inFlight[t.key] = true
	q.mu.Unlock()

	start := time.Now()
	defer func() {
		q.mu.Lock()
		delete(q.inFlight, t.key)
		q.mu.Unlock()

		if r := recover(); r != nil {
			q.mu.Lock()
			q.failed++
			q.mu.Unlock()
			q.log.Error().
				Str("conversation", t.key).
				Str("task", t.id).
				Interface("panic", r).
				Dur("elapsed", time.Since(start)).
				Msg("job panicked")
		}
	}()

	err := q.handler.Handle(context.Background(), t.key, t.payload)
	elapsed := time.Since(start)

	q.mu.Lock()
	if err != nil {
		q.failed++
	} else {
		q.executed++
	}
	q.mu.Unlock()

	if err != nil {
		q.log.Error().
			Err(err).
			Str("conversation", t.key).
			Str("task", t.id).
			Dur("elapsed", elapsed).
			Msg("job failed")
		return
	}
	q.log.Info().
		Str("conversation", t.key).
		Str("task", t.id).
		Dur("elapsed", elapsed).
		Msg("job completed")
}

// Status snapshots queue state. Depths only list conversations with queued
// jobs, mirroring what an operator needs to see.
func (q *Queue) Status() Status {
	q.mu.Lock()
	defer q.mu.Unlock()

	depths := make(map[string]int)
	total := 0
	for key, pending := range q.queues {
		if len(pending) == 0 {
			continue
		}
		depths[key] = len(pending)
		total += len(pending)
	}
	return Status{
		ActiveConversations: len(q.active),
		TotalQueuedJobs:     total,
		QueueDepths:         depths,
		ConcurrencyLimit:    q.limit,
		JobsExecuted:        q.executed,
		JobsFailed:          q.failed,
		JobsDiscarded:       q.discarded,
		Draining:            q.draining,
	}
}

// DrainAndShutdown stops accepting new jobs and waits for every
// conversation's queued work to finish. Running jobs are never cancelled.
// If ctx expires first, loops stop after their current job and still-queued
// jobs are discarded and counted; ctx's error is returned.
func (q *Queue) DrainAndShutdown(ctx context.Context) error {
	q.mu.Lock()
	q.draining = true
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		q.log.Info().Msg("queue drained")
		return nil
	case <-ctx.Done():
		q.abortStop()
		<-done
		q.mu.Lock()
		discarded := q.discarded
		q.mu.Unlock()
		q.log.Warn().Int64("discarded", discarded).Msg("queue shutdown before drain completed")
		return ctx.Err()
	}
}
