// Package recall assembles a bounded conversational context for response
// generation. The output size is fixed regardless of conversation age: a
// profile, a short deterministic summary, a handful of topic tags and the
// last few turns.
package recall

import (
	"context"
	"fmt"
	"strings"

	"github.com/johnlen7/teacher-sarah/internal/model"
	"github.com/johnlen7/teacher-sarah/internal/store"
)

const (
	// DefaultRecentWindow is how many trailing messages a context carries.
	DefaultRecentWindow = 8
	// topicWindow is how many trailing messages feed topic extraction.
	topicWindow = 5
	// maxTopics bounds the tag set in one context.
	maxTopics = 6
	// lastMessagePreview truncates the quoted last user message.
	lastMessagePreview = 80
)

// FirstConversationSummary is the summary for a conversation with no history.
const FirstConversationSummary = "This is our first conversation!"

// Context is the decision-ready snapshot handed to a response generator.
type Context struct {
	Conversation *model.Conversation `json:"conversation"`
	Summary      string              `json:"summary"`
	Topics       []string            `json:"topics,omitempty"`
	Recent       []model.Message     `json:"recent"`
	FirstContact bool                `json:"first_contact,omitempty"`
}

// Assembler builds contexts from a conversation store.
type Assembler struct {
	store  store.Store
	vocab  []string
	window int
}

// New returns an assembler over s. A nil vocab selects the default topic
// vocabulary; window <= 0 selects DefaultRecentWindow.
func New(s store.Store, vocab []string, window int) *Assembler {
	if vocab == nil {
		vocab = model.DefaultTopics
	}
	if window <= 0 {
		window = DefaultRecentWindow
	}
	return &Assembler{store: s, vocab: vocab, window: window}
}

// BuildContext assembles the bounded context for key. It only reads, so it
// never blocks a concurrent append for another conversation.
func (a *Assembler) BuildContext(ctx context.Context, key string) (*Context, error) {
	conv, err := a.store.GetOrCreate(ctx, key, model.Identity{})
	if err != nil {
		return nil, fmt.Errorf("load conversation: %w", err)
	}

	recent, err := a.store.RecentMessages(ctx, key, a.window)
	if err != nil {
		return nil, fmt.Errorf("load recent messages: %w", err)
	}

	if len(recent) == 0 {
		return &Context{
			Conversation: conv,
			Summary:      FirstConversationSummary,
			Recent:       []model.Message{},
			FirstContact: true,
		}, nil
	}

	topics := a.extractTopics(recent)
	return &Context{
		Conversation: conv,
		Summary:      buildSummary(conv, recent, topics),
		Topics:       topics,
		Recent:       recent,
	}, nil
}

// extractTopics keyword-matches the last few messages against the
// vocabulary, preserving first-mention order.
func (a *Assembler) extractTopics(recent []model.Message) []string {
	start := len(recent) - topicWindow
	if start < 0 {
		start = 0
	}
	var topics []string
	for _, msg := range recent[start:] {
		for _, t := range model.MatchTopics(msg.Content, a.vocab) {
			if containsString(topics, t) {
				continue
			}
			topics = append(topics, t)
			if len(topics) == maxTopics {
				return topics
			}
		}
	}
	return topics
}

// buildSummary renders the deterministic one-paragraph summary template.
// No generative call is involved.
func buildSummary(conv *model.Conversation, recent []model.Message, topics []string) string {
	name := conv.FirstName
	if name == "" {
		name = "Student"
	}

	var lastUser *model.Message
	for i := len(recent) - 1; i >= 0; i-- {
		if recent[i].Role == model.RoleUser {
			lastUser = &recent[i]
			break
		}
	}
	if lastUser == nil {
		return fmt.Sprintf("Welcoming back %s (level %s).", name, conv.Level)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Continuing conversation with %s (level %s).", name, conv.Level)
	if len(topics) > 0 {
		fmt.Fprintf(&b, " Recent topics: %s.", strings.Join(topics, ", "))
	}
	if conv.TotalMessages > 20 {
		fmt.Fprintf(&b, " Regular student with %d total messages.", conv.TotalMessages)
	}
	preview := lastUser.Content
	if len(preview) > lastMessagePreview {
		preview = preview[:lastMessagePreview] + "..."
	}
	fmt.Fprintf(&b, " Last message: %q", preview)
	return b.String()
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
