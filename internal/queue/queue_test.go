package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestQueue(t *testing.T, limit int64, h Handler) *Queue {
	t.Helper()
	q := New(limit, h, zerolog.Nop())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		q.DrainAndShutdown(ctx)
	})
	return q
}

func TestFIFOWithinConversation(t *testing.T) {
	var mu sync.Mutex
	var got []string
	done := make(chan struct{})

	h := HandlerFunc(func(ctx context.Context, key string, p JobPayload) error {
		mu.Lock()
		got = append(got, p.Content)
		if len(got) == 3 {
			close(done)
		}
		mu.Unlock()
		return nil
	})
	q := newTestQueue(t, 4, h)

	for _, c := range []string{"A", "B", "C"} {
		if _, err := q.Enqueue(context.Background(), "chat1", JobPayload{Kind: KindText, Content: c}, 1); err != nil {
			t.Fatalf("enqueue %s: %v", c, err)
		}
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("jobs did not complete")
	}

	mu.Lock()
	defer mu.Unlock()
	for i, want := range []string{"A", "B", "C"} {
		if got[i] != want {
			t.Errorf("position %d: expected %s, got %s", i, want, got[i])
		}
	}
}

func TestAtMostOnePerConversation(t *testing.T) {
	var running, maxSeen int64
	var wg sync.WaitGroup

	h := HandlerFunc(func(ctx context.Context, key string, p JobPayload) error {
		defer wg.Done()
		n := atomic.AddInt64(&running, 1)
		for {
			m := atomic.LoadInt64(&maxSeen)
			if n <= m || atomic.CompareAndSwapInt64(&maxSeen, m, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt64(&running, -1)
		return nil
	})
	q := newTestQueue(t, 8, h)

	const jobs = 20
	wg.Add(jobs)
	for i := 0; i < jobs; i++ {
		if _, err := q.Enqueue(context.Background(), "chat1", JobPayload{Kind: KindText, Content: fmt.Sprint(i)}, 1); err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
	}
	wg.Wait()

	if max := atomic.LoadInt64(&maxSeen); max != 1 {
		t.Errorf("expected at most one running job per conversation, saw %d", max)
	}
}

func TestGlobalConcurrencyLimit(t *testing.T) {
	var running, maxSeen int64
	var wg sync.WaitGroup

	h := HandlerFunc(func(ctx context.Context, key string, p JobPayload) error {
		defer wg.Done()
		n := atomic.AddInt64(&running, 1)
		for {
			m := atomic.LoadInt64(&maxSeen)
			if n <= m || atomic.CompareAndSwapInt64(&maxSeen, m, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt64(&running, -1)
		return nil
	})
	q := newTestQueue(t, 2, h)

	wg.Add(6)
	for i := 0; i < 6; i++ {
		key := fmt.Sprintf("chat%d", i)
		if _, err := q.Enqueue(context.Background(), key, JobPayload{Kind: KindText}, 1); err != nil {
			t.Fatalf("enqueue %s: %v", key, err)
		}
	}
	wg.Wait()

	if max := atomic.LoadInt64(&maxSeen); max > 2 {
		t.Errorf("concurrency limit 2 exceeded, saw %d running", max)
	}
}

func TestFailedJobDoesNotBlockQueue(t *testing.T) {
	var mu sync.Mutex
	var got []string
	done := make(chan struct{})

	h := HandlerFunc(func(ctx context.Context, key string, p JobPayload) error {
		mu.Lock()
		got = append(got, p.Content)
		if len(got) == 2 {
			close(done)
		}
		mu.Unlock()
		if p.Content == "bad" {
			return errors.New("upstream exploded")
		}
		return nil
	})
	q := newTestQueue(t, 2, h)

	q.Enqueue(context.Background(), "chat1", JobPayload{Kind: KindText, Content: "bad"}, 1)
	q.Enqueue(context.Background(), "chat1", JobPayload{Kind: KindText, Content: "good"}, 1)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("second job never ran after a failure")
	}

	st := waitForIdle(t, q)
	if st.JobsFailed != 1 || st.JobsExecuted != 1 {
		t.Errorf("expected 1 failed and 1 executed, got %+v", st)
	}
}

func TestPanicIsContained(t *testing.T) {
	done := make(chan struct{})
	h := HandlerFunc(func(ctx context.Context, key string, p JobPayload) error {
		if p.Content == "boom" {
			panic("handler bug")
		}
		close(done)
		return nil
	})
	q := newTestQueue(t, 2, h)

	q.Enqueue(context.Background(), "chat1", JobPayload{Kind: KindText, Content: "boom"}, 1)
	q.Enqueue(context.Background(), "chat1", JobPayload{Kind: KindText, Content: "after"}, 1)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("queue did not survive a panicking handler")
	}
}

func TestEnqueueDoesNotBlock(t *testing.T) {
	block := make(chan struct{})
	h := HandlerFunc(func(ctx context.Context, key string, p JobPayload) error {
		<-block
		return nil
	})
	q := newTestQueue(t, 1, h)
	defer close(block)

	start := time.Now()
	for i := 0; i < 50; i++ {
		id, err := q.Enqueue(context.Background(), "chat1", JobPayload{Kind: KindText}, 1)
		if err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
		if id == "" {
			t.Fatal("expected a task id")
		}
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("enqueue blocked for %v with a stalled handler", elapsed)
	}
}

func TestStatusReporting(t *testing.T) {
	block := make(chan struct{})
	h := HandlerFunc(func(ctx context.Context, key string, p JobPayload) error {
		<-block
		return nil
	})
	q := newTestQueue(t, 1, h)

	q.Enqueue(context.Background(), "chat1", JobPayload{Kind: KindText}, 1)
	q.Enqueue(context.Background(), "chat1", JobPayload{Kind: KindText}, 1)
	q.Enqueue(context.Background(), "chat1", JobPayload{Kind: KindText}, 1)

	// Wait for the loop to pop the first job into execution.
	deadline := time.Now().Add(2 * time.Second)
	var st Status
	for time.Now().Before(deadline) {
		st = q.Status()
		if st.TotalQueuedJobs == 2 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if st.TotalQueuedJobs != 2 {
		t.Errorf("expected 2 queued jobs, got %d", st.TotalQueuedJobs)
	}
	if st.QueueDepths["chat1"] != 2 {
		t.Errorf("expected depth 2 for chat1, got %v", st.QueueDepths)
	}
	if st.ConcurrencyLimit != 1 {
		t.Errorf("expected limit 1, got %d", st.ConcurrencyLimit)
	}
	if st.ActiveConversations != 1 {
		t.Errorf("expected 1 active conversation, got %d", st.ActiveConversations)
	}
	close(block)
}

func TestDrainWaitsForQueuedJobs(t *testing.T) {
	var executed int64
	h := HandlerFunc(func(ctx context.Context, key string, p JobPayload) error {
		time.Sleep(10 * time.Millisecond)
		atomic.AddInt64(&executed, 1)
		return nil
	})
	q := New(2, h, zerolog.Nop())

	for i := 0; i < 5; i++ {
		q.Enqueue(context.Background(), "chat1", JobPayload{Kind: KindText}, 1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := q.DrainAndShutdown(ctx); err != nil {
		t.Fatalf("drain: %v", err)
	}
	if n := atomic.LoadInt64(&executed); n != 5 {
		t.Errorf("expected all 5 jobs executed before drain returned, got %d", n)
	}
}

func TestEnqueueAfterDrain(t *testing.T) {
	q := New(1, HandlerFunc(func(ctx context.Context, key string, p JobPayload) error {
		return nil
	}), zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := q.DrainAndShutdown(ctx); err != nil {
		t.Fatalf("drain: %v", err)
	}

	_, err := q.Enqueue(context.Background(), "chat1", JobPayload{Kind: KindText}, 1)
	if !errors.Is(err, ErrShuttingDown) {
		t.Errorf("expected shutting-down error, got %v", err)
	}
}

func TestDrainDeadlineDiscardsQueued(t *testing.T) {
	release := make(chan struct{})
	h := HandlerFunc(func(ctx context.Context, key string, p JobPayload) error {
		<-release
		return nil
	})
	q := New(1, h, zerolog.Nop())

	for i := 0; i < 4; i++ {
		q.Enqueue(context.Background(), "chat1", JobPayload{Kind: KindText}, 1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	errc := make(chan error, 1)
	go func() { errc <- q.DrainAndShutdown(ctx) }()

	// Let the deadline pass while the first job is still running, then
	// release it so the loop can observe the abort.
	time.Sleep(100 * time.Millisecond)
	close(release)

	select {
	case err := <-errc:
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("expected deadline error, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("drain never returned")
	}

	st := q.Status()
	if st.JobsDiscarded == 0 {
		t.Errorf("expected discarded jobs to be counted, got %+v", st)
	}
	if st.TotalQueuedJobs != 0 {
		t.Errorf("expected queues emptied, got %d queued", st.TotalQueuedJobs)
	}
}

// waitForIdle polls Status until no jobs remain queued or active.
func waitForIdle(t *testing.T, q *Queue) Status {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		st := q.Status()
		if st.TotalQueuedJobs == 0 && st.ActiveConversations == 0 {
			return st
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("queue never went idle")
	return Status{}
}
