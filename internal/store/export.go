package store

import (
	"context"
)

// exportHistoryLimit caps the history included in an export document.
const exportHistoryLimit = 10000

// ExportConversation bundles the profile, summary, statistics and message
// history for one conversation into a single document.
func (s *SQLiteStore) ExportConversation(ctx context.Context, key string) (*Export, error) {
	u, err := s.existingUnit(key)
	if err != nil {
		return nil, err
	}

	conv, err := scanConversation(u.profile.QueryRowContext(ctx,
		`SELECT key, username, first_name, last_name, level, created_at, last_active,
		        total_messages, voice_messages, corrected_errors
		 FROM profile WHERE key = ?`, key))
	if err != nil {
		return nil, &StorageError{Op: "export profile", Key: key, Err: err}
	}

	stats, err := s.Statistics(ctx, key)
	if err != nil {
		return nil, err
	}

	rows, err := u.messages.QueryContext(ctx,
		`SELECT id, session_id, role, content, original_content, is_voice, voice_duration,
		        has_errors, corrections, confidence, latency, created_at, context_note
		 FROM messages ORDER BY created_at ASC, rowid ASC LIMIT ?`, exportHistoryLimit)
	if err != nil {
		return nil, &StorageError{Op: "export messages", Key: key, Err: err}
	}
	defer rows.Close()

	msgs, err := collectMessages(rows)
	if err != nil {
		return nil, &StorageError{Op: "export messages", Key: key, Err: err}
	}

	exp := &Export{Conversation: conv, Stats: stats, Messages: msgs}
	if sum, err := s.readSummary(key); err == nil {
		exp.Summary = sum
	}
	return exp, nil
}

var _ Store = (*SQLiteStore)(nil)
