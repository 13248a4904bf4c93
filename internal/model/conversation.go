// Package model defines the core conversation data types.
package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrValidation is the base error for rejected input. Callers can test for
// it with errors.Is regardless of the specific message.
var ErrValidation = errors.New("validation failed")

// Level is an English proficiency level on the six-point CEFR scale.
type Level string

const (
	LevelA1 Level = "A1"
	LevelA2 Level = "A2"
	LevelB1 Level = "B1"
	LevelB2 Level = "B2"
	LevelC1 Level = "C1"
	LevelC2 Level = "C2"
)

// DefaultLevel is assumed until a conversation's level is set explicitly.
const DefaultLevel = LevelB1

// ValidLevels are the allowed proficiency levels.
var ValidLevels = map[Level]bool{
	LevelA1: true,
	LevelA2: true,
	LevelB1: true,
	LevelB2: true,
	LevelC1: true,
	LevelC2: true,
}

// ParseLevel validates a level string, case-insensitively.
func ParseLevel(s string) (Level, error) {
	l := Level(strings.ToUpper(strings.TrimSpace(s)))
	if !ValidLevels[l] {
		return "", fmt.Errorf("%w: unknown level %q (use A1, A2, B1, B2, C1 or C2)", ErrValidation, s)
	}
	return l, nil
}

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// ValidRoles are the allowed message roles.
var ValidRoles = map[Role]bool{
	RoleUser:      true,
	RoleAssistant: true,
	RoleSystem:    true,
}

// Identity carries the display identity supplied by the chat gateway.
type Identity struct {
	Username  string `json:"username,omitempty"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
}

// Conversation is the durable per-key profile record. Exactly one exists
// per conversation key.
type Conversation struct {
	Key             string    `json:"key"`
	Username        string    `json:"username,omitempty"`
	FirstName       string    `json:"first_name,omitempty"`
	LastName        string    `json:"last_name,omitempty"`
	Level           Level     `json:"level"`
	CreatedAt       time.Time `json:"created_at"`
	LastActive      time.Time `json:"last_active"`
	TotalMessages   int       `json:"total_messages"`
	VoiceMessages   int       `json:"voice_messages"`
	CorrectedErrors int       `json:"corrected_errors"`
}

// Correction is one grammar finding attached to a message.
type Correction struct {
	Rule       string `json:"rule"`
	Suggestion string `json:"suggestion,omitempty"`
	Category   string `json:"category,omitempty"`
}

// Message is one immutable entry in a conversation's log.
type Message struct {
	ID              string       `json:"id"`
	SessionID       string       `json:"session_id,omitempty"`
	Role            Role         `json:"role"`
	Content         string       `json:"content"`
	OriginalContent string       `json:"original_content,omitempty"`
	IsVoice         bool         `json:"is_voice,omitempty"`
	VoiceDuration   float64      `json:"voice_duration,omitempty"`
	HasErrors       bool         `json:"has_errors,omitempty"`
	Corrections     []Correction `json:"corrections,omitempty"`
	Confidence      float64      `json:"confidence"`
	Latency         float64      `json:"latency,omitempty"`
	CreatedAt       time.Time    `json:"created_at"`
	ContextNote     string       `json:"context_note,omitempty"`
}

// Stats holds aggregate counts computed from a conversation's message log.
type Stats struct {
	TotalMessages  int     `json:"total_messages"`
	UserMessages   int     `json:"user_messages"`
	VoiceMessages  int     `json:"voice_messages"`
	MessagesErrors int     `json:"messages_with_errors"`
	AvgConfidence  float64 `json:"avg_confidence"`
	AvgLatency     float64 `json:"avg_latency"`
}

// Summary is the derived per-conversation cache document. It mirrors the
// profile counters and recent topics for cheap access and can always be
// rebuilt from the profile and message log.
type Summary struct {
	Key             string    `json:"key"`
	Level           Level     `json:"level"`
	CreatedAt       time.Time `json:"created_at"`
	LastAccess      time.Time `json:"last_access"`
	TotalMessages   int       `json:"total_messages"`
	VoiceMessages   int       `json:"voice_messages"`
	CorrectionsMade int       `json:"corrections_made"`
	Topics          []string  `json:"topics,omitempty"`
}

// DefaultTopics is the fixed topic vocabulary used when none is configured.
var DefaultTopics = []string{
	"work", "family", "travel", "food", "movies", "music",
	"sports", "books", "weather", "hobbies", "school", "friends",
}

// MatchTopics returns the vocabulary entries mentioned in text, in
// vocabulary order.
func MatchTopics(text string, vocab []string) []string {
	lower := strings.ToLower(text)
	var topics []string
	for _, t := range vocab {
		if strings.Contains(lower, t) {
			topics = append(topics, t)
		}
	}
	return topics
}
