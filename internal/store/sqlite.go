package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"

	"github.com/johnlen7/teacher-sarah/internal/model"
)

// ErrNotFound is returned for operations on a conversation that has never
// been seen. GetOrCreate is the only operation that creates one.
var ErrNotFound = errors.New("conversation not found")

// timeLayout is fixed-width so stored timestamps sort lexicographically.
// RFC3339Nano trims trailing zeros, which would break created_at ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore implements Store with one storage unit per conversation key:
// a directory holding profile.db, messages.db and summary.json.
type SQLiteStore struct {
	root  string
	vocab []string

	mu    sync.Mutex
	units map[string]*unit

	emu     sync.Mutex
	entropy *rand.Rand
}

type unit struct {
	profile  *sql.DB
	messages *sql.DB
}

// NewSQLiteStore opens a store rooted at the given data directory. vocab is
// the topic vocabulary used for the summary cache; nil selects the default.
func NewSQLiteStore(root string, vocab []string) (*SQLiteStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create data root: %w", err)
	}
	if vocab == nil {
		vocab = model.DefaultTopics
	}
	return &SQLiteStore{
		root:    root,
		vocab:   vocab,
		units:   make(map[string]*unit),
		entropy: rand.New(rand.NewSource(time.Now().UnixNano())),
	}, nil
}

func (s *SQLiteStore) newID() string {
	s.emu.Lock()
	defer s.emu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), s.entropy).String()
}

// unitPath is the single place conversation keys are resolved to disk
// locations. Everything outside [A-Za-z0-9._-] is flattened so a key can
// never escape the data root.
func (s *SQLiteStore) unitPath(key string) string {
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.', r == '_', r == '-':
			return r
		default:
			return '_'
		}
	}, key)
	return filepath.Join(s.root, "chat_"+safe)
}

func (s *SQLiteStore) hasUnit(key string) bool {
	_, err := os.Stat(s.unitPath(key))
	return err == nil
}

const profileSchema = `
CREATE TABLE IF NOT EXISTS profile (
	key              TEXT PRIMARY KEY,
	username         TEXT,
	first_name       TEXT,
	last_name        TEXT,
	level            TEXT NOT NULL DEFAULT 'B1',
	created_at       TEXT NOT NULL,
	last_active      TEXT NOT NULL,
	total_messages   INTEGER NOT NULL DEFAULT 0,
	voice_messages   INTEGER NOT NULL DEFAULT 0,
	corrected_errors INTEGER NOT NULL DEFAULT 0
);`

const messagesSchema = `
CREATE TABLE IF NOT EXISTS messages (
	id               TEXT PRIMARY KEY,
	session_id       TEXT,
	role             TEXT NOT NULL,
	content          TEXT NOT NULL,
	original_content TEXT,
	is_voice         INTEGER NOT NULL DEFAULT 0,
	voice_duration   REAL NOT NULL DEFAULT 0,
	has_errors       INTEGER NOT NULL DEFAULT 0,
	corrections      TEXT,
	confidence       REAL NOT NULL DEFAULT 1,
	latency          REAL NOT NULL DEFAULT 0,
	created_at       TEXT NOT NULL,
	context_note     TEXT
);
CREATE INDEX IF NOT EXISTS idx_messages_created ON messages(created_at DESC);`

func openDB(path, schema string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

// openUnit returns the open handles for key, creating the on-disk unit if
// needed. Safe to call concurrently for the same key.
func (s *SQLiteStore) openUnit(key string) (*unit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if u, ok := s.units[key]; ok {
		return u, nil
	}

	dir := s.unitPath(key)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &StorageError{Op: "init", Key: key, Err: err}
	}
	profile, err := openDB(filepath.Join(dir, "profile.db"), profileSchema)
	if err != nil {
		return nil, &StorageError{Op: "init", Key: key, Err: err}
	}
	messages, err := openDB(filepath.Join(dir, "messages.db"), messagesSchema)
	if err != nil {
		profile.Close()
		return nil, &StorageError{Op: "init", Key: key, Err: err}
	}

	u := &unit{profile: profile, messages: messages}
	s.units[key] = u
	return u, nil
}

// existingUnit is openUnit for read paths: it never creates the unit.
func (s *SQLiteStore) existingUnit(key string) (*unit, error) {
	if !s.hasUnit(key) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return s.openUnit(key)
}

func (s *SQLiteStore) GetOrCreate(ctx context.Context, key string, id model.Identity) (*model.Conversation, error) {
	u, err := s.openUnit(key)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	conv, err := scanConversation(u.profile.QueryRowContext(ctx,
		`SELECT key, username, first_name, last_name, level, created_at, last_active,
		        total_messages, voice_messages, corrected_errors
		 FROM profile WHERE key = ?`, key))
	if errors.Is(err, sql.ErrNoRows) {
		conv = &model.Conversation{
			Key:        key,
			Username:   id.Username,
			FirstName:  id.FirstName,
			LastName:   id.LastName,
			Level:      model.DefaultLevel,
			CreatedAt:  now,
			LastActive: now,
		}
		_, err = u.profile.ExecContext(ctx,
			`INSERT INTO profile (key, username, first_name, last_name, level, created_at, last_active)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			key, id.Username, id.FirstName, id.LastName, string(conv.Level),
			now.Format(timeLayout), now.Format(timeLayout))
		if err != nil {
			return nil, &StorageError{Op: "create profile", Key: key, Err: err}
		}
		s.writeSummary(key, summaryFrom(conv, nil))
		return conv, nil
	}
	if err != nil {
		return nil, &StorageError{Op: "read profile", Key: key, Err: err}
	}

	// Existing conversation: touch last-active and fill in any identity
	// fields learned since creation.
	if id.Username != "" {
		conv.Username = id.Username
	}
	if id.FirstName != "" {
		conv.FirstName = id.FirstName
	}
	if id.LastName != "" {
		conv.LastName = id.LastName
	}
	conv.LastActive = now
	_, err = u.profile.ExecContext(ctx,
		`UPDATE profile SET username = ?, first_name = ?, last_name = ?, last_active = ? WHERE key = ?`,
		conv.Username, conv.FirstName, conv.LastName, now.Format(timeLayout), key)
	if err != nil {
		return nil, &StorageError{Op: "touch profile", Key: key, Err: err}
	}
	s.touchSummary(key, now)
	return conv, nil
}

func (s *SQLiteStore) AppendMessage(ctx context.Context, key string, msg *model.Message) error {
	if !model.ValidRoles[msg.Role] {
		return fmt.Errorf("%w: invalid role %q", model.ErrValidation, msg.Role)
	}
	u, err := s.existingUnit(key)
	if err != nil {
		return err
	}

	if msg.ID == "" {
		msg.ID = s.newID()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	var corrections *string
	if len(msg.Corrections) > 0 {
		b, _ := json.Marshal(msg.Corrections)
		str := string(b)
		corrections = &str
	}

	_, err = u.messages.ExecContext(ctx,
		`INSERT INTO messages (id, session_id, role, content, original_content, is_voice,
		                       voice_duration, has_errors, corrections, confidence, latency,
		                       created_at, context_note)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.SessionID, string(msg.Role), msg.Content, msg.OriginalContent,
		boolInt(msg.IsVoice), msg.VoiceDuration, boolInt(msg.HasErrors), corrections,
		msg.Confidence, msg.Latency, msg.CreatedAt.Format(timeLayout), msg.ContextNote)
	if err != nil {
		return &StorageError{Op: "append message", Key: key, Err: err}
	}

	_, err = u.profile.ExecContext(ctx,
		`UPDATE profile SET
		   total_messages = total_messages + 1,
		   voice_messages = voice_messages + ?,
		   corrected_errors = corrected_errors + ?,
		   last_active = ?
		 WHERE key = ?`,
		boolInt(msg.IsVoice), boolInt(msg.HasErrors),
		msg.CreatedAt.Format(timeLayout), key)
	if err != nil {
		return &StorageError{Op: "update counters", Key: key, Err: err}
	}

	s.refreshSummary(ctx, key, u, msg)
	return nil
}

func (s *SQLiteStore) RecentMessages(ctx context.Context, key string, limit int) ([]model.Message, error) {
	if limit <= 0 {
		limit = 10
	}
	if !s.hasUnit(key) {
		return []model.Message{}, nil
	}
	u, err := s.openUnit(key)
	if err != nil {
		return nil, err
	}

	rows, err := u.messages.QueryContext(ctx,
		`SELECT id, session_id, role, content, original_content, is_voice, voice_duration,
		        has_errors, corrections, confidence, latency, created_at, context_note
		 FROM messages ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, &StorageError{Op: "read messages", Key: key, Err: err}
	}
	defer rows.Close()

	msgs, err := collectMessages(rows)
	if err != nil {
		return nil, &StorageError{Op: "read messages", Key: key, Err: err}
	}

	// Newest-first from the query; callers get chronological order.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	s.touchSummary(key, time.Now().UTC())
	return msgs, nil
}

func (s *SQLiteStore) SetLevel(ctx context.Context, key string, level model.Level) error {
	if !model.ValidLevels[level] {
		return fmt.Errorf("%w: invalid level %q", model.ErrValidation, level)
	}
	u, err := s.existingUnit(key)
	if err != nil {
		return err
	}
	if _, err := u.profile.ExecContext(ctx,
		`UPDATE profile SET level = ? WHERE key = ?`, string(level), key); err != nil {
		return &StorageError{Op: "set level", Key: key, Err: err}
	}
	if sum, err := s.readSummary(key); err == nil {
		sum.Level = level
		s.writeSummary(key, sum)
	}
	return nil
}

func (s *SQLiteStore) Conversations(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("read data root: %w", err)
	}
	var keys []string
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), "chat_") {
			continue
		}
		// The summary document records the original, unsanitized key.
		var sum model.Summary
		b, err := os.ReadFile(filepath.Join(s.root, e.Name(), "summary.json"))
		if err == nil && json.Unmarshal(b, &sum) == nil && sum.Key != "" {
			keys = append(keys, sum.Key)
			continue
		}
		keys = append(keys, strings.TrimPrefix(e.Name(), "chat_"))
	}
	return keys, nil
}

func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	for key, u := range s.units {
		if err := u.profile.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := u.messages.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(s.units, key)
	}
	return firstErr
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanConversation(row scanner) (*model.Conversation, error) {
	var c model.Conversation
	var username, firstName, lastName sql.NullString
	var level, createdAt, lastActive string

	err := row.Scan(&c.Key, &username, &firstName, &lastName, &level,
		&createdAt, &lastActive, &c.TotalMessages, &c.VoiceMessages, &c.CorrectedErrors)
	if err != nil {
		return nil, err
	}
	c.Username = username.String
	c.FirstName = firstName.String
	c.LastName = lastName.String
	c.Level = model.Level(level)
	c.CreatedAt, _ = time.Parse(timeLayout, createdAt)
	c.LastActive, _ = time.Parse(timeLayout, lastActive)
	return &c, nil
}

func scanMessage(row scanner) (model.Message, error) {
	var m model.Message
	var sessionID, original, corrections, note sql.NullString
	var role, createdAt string
	var isVoice, hasErrors int

	err := row.Scan(&m.ID, &sessionID, &role, &m.Content, &original, &isVoice,
		&m.VoiceDuration, &hasErrors, &corrections, &m.Confidence, &m.Latency,
		&createdAt, &note)
	if err != nil {
		return m, err
	}
	m.SessionID = sessionID.String
	m.Role = model.Role(role)
	m.OriginalContent = original.String
	m.IsVoice = isVoice != 0
	m.HasErrors = hasErrors != 0
	m.ContextNote = note.String
	if corrections.Valid {
		json.Unmarshal([]byte(corrections.String), &m.Corrections)
	}
	m.CreatedAt, _ = time.Parse(timeLayout, createdAt)
	return m, nil
}

func collectMessages(rows *sql.Rows) ([]model.Message, error) {
	msgs := []model.Message{}
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
