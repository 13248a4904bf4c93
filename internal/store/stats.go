package store

import (
	"context"

	"github.com/johnlen7/teacher-sarah/internal/model"
)

// Statistics computes aggregate counts from the message log. A conversation
// that has never been seen yields zero stats rather than an error.
func (s *SQLiteStore) Statistics(ctx context.Context, key string) (*model.Stats, error) {
	st := &model.Stats{}
	if !s.hasUnit(key) {
		return st, nil
	}
	u, err := s.openUnit(key)
	if err != nil {
		return nil, err
	}

	err = u.messages.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN role = 'user' THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(is_voice), 0),
		       COALESCE(SUM(has_errors), 0),
		       COALESCE(AVG(confidence), 0),
		       COALESCE(AVG(latency), 0)
		FROM messages`).Scan(
		&st.TotalMessages, &st.UserMessages, &st.VoiceMessages,
		&st.MessagesErrors, &st.AvgConfidence, &st.AvgLatency)
	if err != nil {
		return nil, &StorageError{Op: "statistics", Key: key, Err: err}
	}
	return st, nil
}
