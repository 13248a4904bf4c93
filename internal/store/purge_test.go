package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/johnlen7/teacher-sarah/internal/model"
)

func seedAged(t *testing.T, s *SQLiteStore, key string, n int, start time.Time) {
	t.Helper()
	ctx := context.Background()
	if _, err := s.GetOrCreate(ctx, key, model.Identity{}); err != nil {
		t.Fatalf("get or create: %v", err)
	}
	for i := 0; i < n; i++ {
		err := s.AppendMessage(ctx, key, &model.Message{
			Role:      model.RoleUser,
			Content:   fmt.Sprintf("aged %d", i),
			CreatedAt: start.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}
}

func TestPurgeOlderThan(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	old := time.Now().Add(-90 * 24 * time.Hour)
	seedAged(t, s, "chat1", 10, old)
	s.AppendMessage(ctx, "chat1", &model.Message{Role: model.RoleUser, Content: "fresh"})

	removed, err := s.PurgeOlderThan(ctx, "chat1", 30*24*time.Hour, 0)
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if removed != 10 {
		t.Errorf("expected 10 removed, got %d", removed)
	}

	msgs, _ := s.RecentMessages(ctx, "chat1", 50)
	if len(msgs) != 1 || msgs[0].Content != "fresh" {
		t.Errorf("expected only the fresh message to survive, got %d", len(msgs))
	}
}

func TestPurgeKeepsFloor(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	old := time.Now().Add(-90 * 24 * time.Hour)
	seedAged(t, s, "chat1", 10, old)

	removed, err := s.PurgeOlderThan(ctx, "chat1", 30*24*time.Hour, 4)
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if removed != 6 {
		t.Errorf("expected 6 removed, got %d", removed)
	}

	msgs, _ := s.RecentMessages(ctx, "chat1", 50)
	if len(msgs) != 4 {
		t.Fatalf("expected 4 messages retained, got %d", len(msgs))
	}
	// The floor keeps the newest ones.
	if msgs[len(msgs)-1].Content != "aged 9" {
		t.Errorf("expected newest message retained, got %q", msgs[len(msgs)-1].Content)
	}
}

func TestPurgeUnknownConversation(t *testing.T) {
	s := newTestStore(t)
	_, err := s.PurgeOlderThan(context.Background(), "never-seen", time.Hour, 0)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected not-found error, got %v", err)
	}
}
