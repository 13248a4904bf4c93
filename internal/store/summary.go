package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/johnlen7/teacher-sarah/internal/model"
)

// maxSummaryTopics bounds the rolling topic tag set in the summary cache.
const maxSummaryTopics = 8

// Summary reads the cached summary document for key.
func (s *SQLiteStore) Summary(ctx context.Context, key string) (*model.Summary, error) {
	if !s.hasUnit(key) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return s.readSummary(key)
}

func (s *SQLiteStore) summaryPath(key string) string {
	return filepath.Join(s.unitPath(key), "summary.json")
}

func (s *SQLiteStore) readSummary(key string) (*model.Summary, error) {
	b, err := os.ReadFile(s.summaryPath(key))
	if err != nil {
		return nil, &StorageError{Op: "read summary", Key: key, Err: err}
	}
	var sum model.Summary
	if err := json.Unmarshal(b, &sum); err != nil {
		return nil, &StorageError{Op: "decode summary", Key: key, Err: err}
	}
	return &sum, nil
}

// writeSummary persists the cache document. The cache is an accelerator,
// never a source of truth, so write failures are swallowed: the next
// refresh rebuilds it from the profile.
func (s *SQLiteStore) writeSummary(key string, sum *model.Summary) {
	b, err := json.MarshalIndent(sum, "", "  ")
	if err != nil {
		return
	}
	os.WriteFile(s.summaryPath(key), b, 0o644)
}

func (s *SQLiteStore) touchSummary(key string, now time.Time) {
	sum, err := s.readSummary(key)
	if err != nil {
		return
	}
	sum.LastAccess = now
	s.writeSummary(key, sum)
}

// refreshSummary rebuilds the cache after a message write. The counter
// mirror comes from the profile row so the cache can always be discarded
// and regenerated.
func (s *SQLiteStore) refreshSummary(ctx context.Context, key string, u *unit, msg *model.Message) {
	conv, err := scanConversation(u.profile.QueryRowContext(ctx,
		`SELECT key, username, first_name, last_name, level, created_at, last_active,
		        total_messages, voice_messages, corrected_errors
		 FROM profile WHERE key = ?`, key))
	if err != nil {
		return
	}

	var topics []string
	if prev, err := s.readSummary(key); err == nil {
		topics = prev.Topics
	}
	for _, t := range model.MatchTopics(msg.Content, s.vocab) {
		if !containsString(topics, t) {
			topics = append(topics, t)
		}
	}
	if len(topics) > maxSummaryTopics {
		topics = topics[len(topics)-maxSummaryTopics:]
	}

	sum := summaryFrom(conv, topics)
	s.writeSummary(key, sum)
}

func summaryFrom(conv *model.Conversation, topics []string) *model.Summary {
	return &model.Summary{
		Key:             conv.Key,
		Level:           conv.Level,
		CreatedAt:       conv.CreatedAt,
		LastAccess:      conv.LastActive,
		TotalMessages:   conv.TotalMessages,
		VoiceMessages:   conv.VoiceMessages,
		CorrectionsMade: conv.CorrectedErrors,
		Topics:          topics,
	}
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
