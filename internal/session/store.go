package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/routewise-ai/routewise/internal/metrics"
)

// Session is one conversation thread with its accumulated trip context.
type Session struct {
	ID           string    `db:"id" json:"id"`
	CreatedAt    time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt    time.Time `db:"updated_at" json:"updatedAt"`
	MessageCount int       `db:"message_count" json:"messageCount"`
	TripContext  string    `db:"trip_context" json:"-"`
}

// Message is one persisted turn. Role is "user" or "assistant"; Type
// distinguishes plain chat turns from plan requests and refinements.
type Message struct {
	ID        int64     `db:"id" json:"id"`
	SessionID string    `db:"session_id" json:"sessionId"`
	Role      string    `db:"role" json:"role"`
	Content   string    `db:"content" json:"content"`
	Type      string    `db:"message_type" json:"type"`
	Metadata  string    `db:"metadata" json:"-"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

// TripContext is the structured state a session carries between turns, so a
// follow-up like "what about trains instead" keeps the route.
type TripContext struct {
	Origin      string `json:"origin,omitempty"`
	Destination string `json:"destination,omitempty"`
	Days        int    `json:"days,omitempty"`
	BudgetINR   int    `json:"budgetInr,omitempty"`
	Scope       string `json:"scope,omitempty"`
}

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
    id            TEXT PRIMARY KEY,
    created_at    TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at    TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    message_count INTEGER NOT NULL DEFAULT 0,
    trip_context  TEXT NOT NULL DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS messages (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id   TEXT NOT NULL REFERENCES sessions(id),
    role         TEXT NOT NULL,
    content      TEXT NOT NULL,
    message_type TEXT NOT NULL DEFAULT 'chat',
    metadata     TEXT NOT NULL DEFAULT '{}',
    created_at   TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, id);
`

// Store persists sessions and messages in an embedded SQLite database.
type Store struct {
	db           *sqlx.DB
	historyLimit int
	logger       *zap.Logger
}

// Open creates the database file (and parent directory) if needed and applies
// the schema.
func Open(path string, historyLimit int, logger *zap.Logger) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create session dir: %w", err)
		}
	}
	db, err := sqlx.Connect("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open session db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply session schema: %w", err)
	}
	if historyLimit <= 0 {
		historyLimit = 50
	}
	return &Store{db: db, historyLimit: historyLimit, logger: logger}, nil
}

// NewStore wraps an existing connection; used by tests.
func NewStore(db *sqlx.DB, historyLimit int, logger *zap.Logger) *Store {
	return &Store{db: db, historyLimit: historyLimit, logger: logger}
}

func (s *Store) Close() error {
	return s.db.Close()
}

// CreateSession creates a fresh session and returns its id.
func (s *Store) CreateSession(ctx context.Context) (string, error) {
	id := uuid.New().String()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id) VALUES (?)`, id)
	if err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	metrics.SessionsCreated.Inc()
	return id, nil
}

// EnsureSession returns the given id if that session exists, creating it when
// the id is empty or unknown. Callers always get a usable session back.
func (s *Store) EnsureSession(ctx context.Context, id string) (string, error) {
	if id != "" {
		var exists int
		err := s.db.GetContext(ctx, &exists,
			`SELECT COUNT(1) FROM sessions WHERE id = ?`, id)
		if err != nil {
			return "", fmt.Errorf("check session: %w", err)
		}
		if exists > 0 {
			return id, nil
		}
		s.logger.Info("Unknown session id, creating a new session",
			zap.String("requested_id", id))
	}
	return s.CreateSession(ctx)
}

// AddMessage appends a turn and bumps the session's updated_at and count.
// msgType records what kind of turn this was ("chat", "plan", "refinement").
func (s *Store) AddMessage(ctx context.Context, sessionID, role, content, msgType string) error {
	if msgType == "" {
		msgType = "chat"
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin add message: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO messages (session_id, role, content, message_type) VALUES (?, ?, ?, ?)`,
		sessionID, role, content, msgType); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE sessions SET updated_at = CURRENT_TIMESTAMP, message_count = message_count + 1 WHERE id = ?`,
		sessionID); err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit add message: %w", err)
	}
	metrics.MessagesPersisted.WithLabelValues(role).Inc()
	return nil
}

// History returns the most recent turns in chronological order.
func (s *Store) History(ctx context.Context, sessionID string) ([]Message, error) {
	var msgs []Message
	err := s.db.SelectContext(ctx, &msgs, `
		SELECT id, session_id, role, content, message_type, metadata, created_at
		FROM (
			SELECT id, session_id, role, content, message_type, metadata, created_at
			FROM messages WHERE session_id = ?
			ORDER BY id DESC LIMIT ?
		) ORDER BY id ASC`,
		sessionID, s.historyLimit)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	return msgs, nil
}

// TripContext loads the session's structured trip state. A missing or garbled
// value yields the zero context, never an error.
func (s *Store) TripContext(ctx context.Context, sessionID string) TripContext {
	var raw string
	err := s.db.GetContext(ctx, &raw,
		`SELECT trip_context FROM sessions WHERE id = ?`, sessionID)
	if err != nil {
		if err != sql.ErrNoRows {
			s.logger.Warn("Trip context load failed", zap.Error(err))
		}
		return TripContext{}
	}
	var tc TripContext
	if err := json.Unmarshal([]byte(raw), &tc); err != nil {
		s.logger.Warn("Trip context malformed, starting fresh",
			zap.String("session_id", sessionID))
		return TripContext{}
	}
	return tc
}

// UpdateTripContext merges non-zero fields of the update into the stored
// context. A new route resets days and budget carried from the old trip.
func (s *Store) UpdateTripContext(ctx context.Context, sessionID string, update TripContext) error {
	current := s.TripContext(ctx, sessionID)

	if update.Destination != "" && update.Destination != current.Destination {
		current = TripContext{}
	}
	if update.Origin != "" {
		current.Origin = update.Origin
	}
	if update.Destination != "" {
		current.Destination = update.Destination
	}
	if update.Days > 0 {
		current.Days = update.Days
	}
	if update.BudgetINR > 0 {
		current.BudgetINR = update.BudgetINR
	}
	if update.Scope != "" {
		current.Scope = update.Scope
	}

	raw, err := json.Marshal(current)
	if err != nil {
		return fmt.Errorf("marshal trip context: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET trip_context = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		string(raw), sessionID); err != nil {
		return fmt.Errorf("store trip context: %w", err)
	}
	return nil
}

// ContextSummary renders recent history plus trip state as prompt context.
// Empty when the session has no usable history.
func (s *Store) ContextSummary(ctx context.Context, sessionID string) string {
	msgs, err := s.History(ctx, sessionID)
	if err != nil {
		s.logger.Warn("History load failed, continuing without context", zap.Error(err))
		return ""
	}
	tc := s.TripContext(ctx, sessionID)

	var b strings.Builder
	if tc.Destination != "" {
		b.WriteString("Current trip: ")
		if tc.Origin != "" {
			b.WriteString(tc.Origin + " to ")
		}
		b.WriteString(tc.Destination)
		if tc.Days > 0 {
			fmt.Fprintf(&b, ", %d days", tc.Days)
		}
		if tc.BudgetINR > 0 {
			fmt.Fprintf(&b, ", budget ₹%d", tc.BudgetINR)
		}
		if tc.Scope != "" {
			b.WriteString(" (" + tc.Scope + ")")
		}
		b.WriteString("\n")
	}
	// Last few turns are enough for conversational grounding.
	start := 0
	if len(msgs) > 6 {
		start = len(msgs) - 6
	}
	for _, m := range msgs[start:] {
		content := m.Content
		if len(content) > 500 {
			content = truncateRunes(content, 500) + "..."
		}
		fmt.Fprintf(&b, "%s: %s\n", m.Role, content)
	}
	return strings.TrimSpace(b.String())
}

// truncateRunes cuts s to at most limit bytes without splitting a rune.
func truncateRunes(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	for limit > 0 && !utf8.RuneStart(s[limit]) {
		limit--
	}
	return s[:limit]
}

// ListSessions returns sessions ordered by recency.
func (s *Store) ListSessions(ctx context.Context, limit int) ([]Session, error) {
	if limit <= 0 {
		limit = 20
	}
	var sessions []Session
	err := s.db.SelectContext(ctx, &sessions, `
		SELECT id, created_at, updated_at, message_count, trip_context
		FROM sessions ORDER BY updated_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return sessions, nil
}
