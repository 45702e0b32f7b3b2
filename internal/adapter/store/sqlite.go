// Package store implements domain.SessionStore on SQLite and in memory.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"omni-agent/internal/domain"
	"omni-agent/internal/infra/tracer"
)

// DefaultListLimit caps ListSessions when no limit is given.
const DefaultListLimit = 50

// SQLite implements domain.SessionStore using SQLite.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens (or creates) a SQLite database at dbPath and runs the
// schema migration.
func NewSQLite(dbPath string) (*SQLite, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open chat db: %w", err)
	}
	// WAL mode for concurrent readers; busy timeout for concurrent writers.
	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000", "PRAGMA foreign_keys=ON"} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate chat db: %w", err)
	}
	return &SQLite{db: db}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS chat_sessions (
			id         TEXT PRIMARY KEY,
			title      TEXT NOT NULL,
			user_id    TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			is_active  INTEGER NOT NULL DEFAULT 1,
			metadata   TEXT NOT NULL DEFAULT '{}'
		);
		CREATE TABLE IF NOT EXISTS chat_messages (
			seq          INTEGER PRIMARY KEY AUTOINCREMENT,
			id           TEXT NOT NULL UNIQUE,
			session_id   TEXT NOT NULL REFERENCES chat_sessions(id),
			role         TEXT NOT NULL,
			content      TEXT NOT NULL,
			timestamp    TEXT NOT NULL,
			message_type TEXT NOT NULL DEFAULT 'text',
			metadata     TEXT NOT NULL DEFAULT '{}',
			agent_type   TEXT NOT NULL DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS idx_chat_messages_session ON chat_messages(session_id, seq);
		CREATE INDEX IF NOT EXISTS idx_chat_sessions_user ON chat_sessions(user_id, updated_at);
	`)
	return err
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) CreateSession(ctx context.Context, p domain.NewSessionParams) (sess *domain.ChatSession, err error) {
	ctx, span := tracer.StartSpan(ctx, "store.create_session")
	defer func() { tracer.End(span, err) }()

	now := time.Now().UTC()
	sess = &domain.ChatSession{
		ID:        uuid.NewString(),
		Title:     p.Title,
		UserID:    p.UserID,
		CreatedAt: now,
		UpdatedAt: now,
		IsActive:  true,
		Metadata:  p.Metadata,
	}
	if sess.Title == "" {
		sess.Title = domain.DefaultSessionTitle(time.Now())
	}
	if sess.Metadata == nil {
		sess.Metadata = map[string]any{}
	}
	meta, err := json.Marshal(sess.Metadata)
	if err != nil {
		return nil, fmt.Errorf("marshal session metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO chat_sessions (id, title, user_id, created_at, updated_at, is_active, metadata) VALUES (?, ?, ?, ?, ?, 1, ?)",
		sess.ID, sess.Title, sess.UserID, formatTime(now), formatTime(now), string(meta),
	)
	if err != nil {
		return nil, storeErr("Store.CreateSession", err)
	}
	return sess, nil
}

const sessionColumns = `s.id, s.title, s.user_id, s.created_at, s.updated_at, s.is_active, s.metadata,
	(SELECT COUNT(*) FROM chat_messages m WHERE m.session_id = s.id)`

func (s *SQLite) GetSession(ctx context.Context, id string) (sess *domain.ChatSession, err error) {
	ctx, span := tracer.StartSpan(ctx, "store.get_session")
	defer func() { tracer.End(span, err) }()

	row := s.db.QueryRowContext(ctx,
		"SELECT "+sessionColumns+" FROM chat_sessions s WHERE s.id = ? AND s.is_active = 1", id)
	sess, err = scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrSessionNotFound
	}
	if err != nil {
		return nil, storeErr("Store.GetSession", err)
	}
	return sess, nil
}

func (s *SQLite) ListSessions(ctx context.Context, userID string, limit int) (out []domain.ChatSession, err error) {
	ctx, span := tracer.StartSpan(ctx, "store.list_sessions")
	defer func() { tracer.End(span, err) }()

	if limit <= 0 {
		limit = DefaultListLimit
	}
	query := "SELECT " + sessionColumns + " FROM chat_sessions s WHERE s.is_active = 1"
	args := []any{}
	if userID != "" {
		query += " AND s.user_id = ?"
		args = append(args, userID)
	}
	query += " ORDER BY s.updated_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr("Store.ListSessions", err)
	}
	defer rows.Close()
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, storeErr("Store.ListSessions", err)
		}
		out = append(out, *sess)
	}
	return out, rows.Err()
}

func (s *SQLite) UpdateSession(ctx context.Context, id string, upd domain.SessionUpdate) (sess *domain.ChatSession, err error) {
	ctx, span := tracer.StartSpan(ctx, "store.update_session")
	defer func() { tracer.End(span, err) }()

	sess, err = s.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if upd.Title != nil {
		sess.Title = *upd.Title
	}
	for k, v := range upd.Metadata {
		sess.Metadata[k] = v
	}
	meta, err := json.Marshal(sess.Metadata)
	if err != nil {
		return nil, fmt.Errorf("marshal session metadata: %w", err)
	}
	sess.UpdatedAt = time.Now().UTC()
	_, err = s.db.ExecContext(ctx,
		"UPDATE chat_sessions SET title = ?, metadata = ?, updated_at = ? WHERE id = ?",
		sess.Title, string(meta), formatTime(sess.UpdatedAt), id,
	)
	if err != nil {
		return nil, storeErr("Store.UpdateSession", err)
	}
	return sess, nil
}

// DeleteSession marks the session inactive; its messages are kept.
func (s *SQLite) DeleteSession(ctx context.Context, id string) (err error) {
	ctx, span := tracer.StartSpan(ctx, "store.delete_session")
	defer func() { tracer.End(span, err) }()

	res, err := s.db.ExecContext(ctx,
		"UPDATE chat_sessions SET is_active = 0, updated_at = ? WHERE id = ? AND is_active = 1",
		formatTime(time.Now().UTC()), id)
	if err != nil {
		return storeErr("Store.DeleteSession", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrSessionNotFound
	}
	return nil
}

func (s *SQLite) AddMessage(ctx context.Context, msg *domain.ChatMessage) (id string, err error) {
	ctx, span := tracer.StartSpan(ctx, "store.add_message")
	defer func() { tracer.End(span, err) }()

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	if msg.Type == "" {
		msg.Type = domain.MessageText
	}
	meta, err := json.Marshal(nonNil(msg.Metadata))
	if err != nil {
		return "", fmt.Errorf("marshal message metadata: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", storeErr("Store.AddMessage", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		"UPDATE chat_sessions SET updated_at = ? WHERE id = ?", formatTime(time.Now().UTC()), msg.SessionID)
	if err != nil {
		return "", storeErr("Store.AddMessage", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return "", domain.ErrSessionNotFound
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO chat_messages (id, session_id, role, content, timestamp, message_type, metadata, agent_type)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.SessionID, msg.Role, msg.Content, formatTime(msg.Timestamp.UTC()),
		string(msg.Type), string(meta), msg.AgentType,
	)
	if err != nil {
		return "", storeErr("Store.AddMessage", err)
	}
	if err = tx.Commit(); err != nil {
		return "", storeErr("Store.AddMessage", err)
	}
	return msg.ID, nil
}

// RecentMessages returns the newest limit messages in chronological order.
func (s *SQLite) RecentMessages(ctx context.Context, sessionID string, limit int) (out []domain.ChatMessage, err error) {
	ctx, span := tracer.StartSpan(ctx, "store.recent_messages")
	defer func() { tracer.End(span, err) }()

	if limit <= 0 {
		limit = DefaultListLimit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, role, content, timestamp, message_type, metadata, agent_type
		 FROM chat_messages WHERE session_id = ? ORDER BY seq DESC LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, storeErr("Store.RecentMessages", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			m         domain.ChatMessage
			ts, mtype string
			meta      string
		)
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &ts, &mtype, &meta, &m.AgentType); err != nil {
			return nil, storeErr("Store.RecentMessages", err)
		}
		m.Timestamp = parseTime(ts)
		m.Type = domain.MessageType(mtype)
		m.Metadata = decodeMeta(meta)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("Store.RecentMessages", err)
	}
	slices.Reverse(out)
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (*domain.ChatSession, error) {
	var (
		sess             domain.ChatSession
		created, updated string
		active           int
		meta             string
	)
	if err := row.Scan(&sess.ID, &sess.Title, &sess.UserID, &created, &updated, &active, &meta, &sess.MessageCount); err != nil {
		return nil, err
	}
	sess.CreatedAt = parseTime(created)
	sess.UpdatedAt = parseTime(updated)
	sess.IsActive = active == 1
	sess.Metadata = decodeMeta(meta)
	return &sess, nil
}

func storeErr(op string, err error) error {
	return domain.NewDomainError(op, domain.ErrStoreUnavailable, err.Error())
}

func formatTime(t time.Time) string { return t.Format(time.RFC3339Nano) }

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func decodeMeta(s string) map[string]any {
	m := map[string]any{}
	_ = json.Unmarshal([]byte(s), &m)
	return m
}

func nonNil(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
