package store

import (
	"context"

	"github.com/johnlen7/teacher-sarah/internal/model"
)

// Search finds messages whose content (or pre-correction original) matches
// the query substring, newest first.
func (s *SQLiteStore) Search(ctx context.Context, key, query string, limit int) ([]model.Message, error) {
	if limit <= 0 {
		limit = 20
	}
	if !s.hasUnit(key) {
		return []model.Message{}, nil
	}
	u, err := s.openUnit(key)
	if err != nil {
		return nil, err
	}

	pattern := "%" + query + "%"
	rows, err := u.messages.QueryContext(ctx,
		`SELECT id, session_id, role, content, original_content, is_voice, voice_duration,
		        has_errors, corrections, confidence, latency, created_at, context_note
		 FROM messages
		 WHERE content LIKE ? OR original_content LIKE ?
		 ORDER BY created_at DESC, rowid DESC
		 LIMIT ?`, pattern, pattern, limit)
	if err != nil {
		return nil, &StorageError{Op: "search", Key: key, Err: err}
	}
	defer rows.Close()

	msgs, err := collectMessages(rows)
	if err != nil {
		return nil, &StorageError{Op: "search", Key: key, Err: err}
	}
	return msgs, nil
}
