package store

import (
	"context"
	"time"
)

// PurgeOlderThan deletes messages older than age while always keeping the
// newest keepAtLeast rows. The profile record is untouched; the lifetime
// counters keep counting purged messages.
func (s *SQLiteStore) PurgeOlderThan(ctx context.Context, key string, age time.Duration, keepAtLeast int) (int, error) {
	u, err := s.existingUnit(key)
	if err != nil {
		return 0, err
	}
	if keepAtLeast < 0 {
		keepAtLeast = 0
	}

	cutoff := time.Now().UTC().Add(-age).Format(timeLayout)
	res, err := u.messages.ExecContext(ctx, `
		DELETE FROM messages
		WHERE created_at < ?
		  AND id NOT IN (
			SELECT id FROM messages
			ORDER BY created_at DESC, rowid DESC
			LIMIT ?
		  )`, cutoff, keepAtLeast)
	if err != nil {
		return 0, &StorageError{Op: "purge", Key: key, Err: err}
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
