// Package store provides the conversation storage interface and its SQLite
// implementation. Each conversation key owns an independent storage unit on
// disk, so concurrent conversations never contend on the same files.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/johnlen7/teacher-sarah/internal/model"
)

// StorageError wraps a durable-write or read failure on a conversation's
// storage unit. It is not retryable here; callers decide what to surface.
type StorageError struct {
	Op  string
	Key string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s for conversation %s: %v", e.Op, e.Key, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Export bundles everything known about one conversation.
type Export struct {
	Conversation *model.Conversation `json:"conversation"`
	Summary      *model.Summary      `json:"summary,omitempty"`
	Stats        *model.Stats        `json:"stats"`
	Messages     []model.Message     `json:"messages"`
}

// Store defines durable per-conversation storage.
type Store interface {
	// GetOrCreate returns the conversation record for key, creating its
	// storage unit and a default profile on first contact. Identity fields
	// are recorded when non-empty. Touches last-active.
	GetOrCreate(ctx context.Context, key string, id model.Identity) (*model.Conversation, error)

	// AppendMessage writes an immutable message, bumps the profile counters
	// and refreshes the summary cache. The message role must be valid.
	AppendMessage(ctx context.Context, key string, msg *model.Message) error

	// RecentMessages returns the newest limit messages in chronological
	// order (oldest first). Empty slice when the log is empty.
	RecentMessages(ctx context.Context, key string, limit int) ([]model.Message, error)

	// SetLevel updates the conversation's proficiency level.
	SetLevel(ctx context.Context, key string, level model.Level) error

	// Statistics computes aggregate counts from the message log.
	Statistics(ctx context.Context, key string) (*model.Stats, error)

	// PurgeOlderThan deletes messages older than age, always keeping the
	// newest keepAtLeast rows. Returns the number removed. The conversation
	// record itself is never deleted.
	PurgeOlderThan(ctx context.Context, key string, age time.Duration, keepAtLeast int) (int, error)

	// Search returns messages whose content matches the query substring,
	// newest first.
	Search(ctx context.Context, key, query string, limit int) ([]model.Message, error)

	// ExportConversation returns the profile, summary, stats and full
	// message history in one document.
	ExportConversation(ctx context.Context, key string) (*Export, error)

	// Summary reads the cached summary document.
	Summary(ctx context.Context, key string) (*model.Summary, error)

	// Conversations lists the conversation keys present under the data root.
	Conversations(ctx context.Context) ([]string, error)

	// Close releases all open storage units.
	Close() error
}
