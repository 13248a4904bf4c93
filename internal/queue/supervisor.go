package queue

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Supervisor owns the queue lifecycle for a process: it records when the
// queue came up, exposes status for operator surfaces and performs the
// graceful shutdown. It adds no scheduling logic of its own.
type Supervisor struct {
	queue   *Queue
	log     zerolog.Logger
	started time.Time
}

// SupervisorStatus is the operator-facing status report.
type SupervisorStatus struct {
	Uptime string `json:"uptime"`
	Queue  Status `json:"queue"`
}

// NewSupervisor wraps q for lifecycle management.
func NewSupervisor(q *Queue, log zerolog.Logger) *Supervisor {
	return &Supervisor{queue: q, log: log, started: time.Now()}
}

// Status reports uptime plus the queue snapshot.
func (s *Supervisor) Status() SupervisorStatus {
	return SupervisorStatus{
		Uptime: time.Since(s.started).Round(time.Second).String(),
		Queue:  s.queue.Status(),
	}
}

// Shutdown drains the queue, logging the final state.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	st := s.queue.Status()
	s.log.Info().
		Int("active_conversations", st.ActiveConversations).
		Int("queued_jobs", st.TotalQueuedJobs).
		Msg("shutting down queue")
	return s.queue.DrainAndShutdown(ctx)
}
