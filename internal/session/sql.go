package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"helpdeskagent/internal/models"
)

// SQLStore persists sessions and their transcripts in sqlite3 or mysql.
type SQLStore struct {
	db  *sql.DB
	ttl time.Duration
}

func NewSQLStore(db *sql.DB, ttl time.Duration) *SQLStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &SQLStore{db: db, ttl: ttl}
}

func (s *SQLStore) GetOrCreate(ctx context.Context, key string, identity models.Identity, role models.Role) (*models.Session, bool, error) {
	if err := validKey(key); err != nil {
		return nil, false, err
	}
	existing, err := s.Get(ctx, key)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}
	// an expired row may still be present
	if _, err := s.Delete(ctx, key); err != nil {
		return nil, false, err
	}

	se, err := newSession(key, identity, role, time.Now().UTC(), s.ttl)
	if err != nil {
		return nil, false, err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO sessions (session_key, id, role, user_name, user_email, created_at, updated_at, expires_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		se.Key, se.ID, string(se.Role), se.Identity.Name, se.Identity.Email, se.CreatedAt, se.UpdatedAt, se.ExpiresAt,
	); err != nil {
		return nil, false, fmt.Errorf("create session: %w", err)
	}
	for _, msg := range se.History {
		if err := insertMessage(ctx, tx, key, msg); err != nil {
			return nil, false, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("commit session: %w", err)
	}
	return se, true, nil
}

func (s *SQLStore) Get(ctx context.Context, key string) (*models.Session, error) {
	var (
		se   models.Session
		role string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT session_key, id, role, user_name, user_email, created_at, updated_at, expires_at FROM sessions WHERE session_key = ?`,
		key,
	).Scan(&se.Key, &se.ID, &role, &se.Identity.Name, &se.Identity.Email, &se.CreatedAt, &se.UpdatedAt, &se.ExpiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	if se.Expired(time.Now().UTC()) {
		return nil, ErrNotFound
	}
	se.Role = models.Role(role)

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, author, content, tool_calls, tool_call_id, tool_name, created_at FROM messages WHERE session_key = ? ORDER BY id ASC`,
		key,
	)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			m          models.Message
			author     string
			calls      sql.NullString
			toolCallID sql.NullString
			toolName   sql.NullString
		)
		if err := rows.Scan(&m.ID, &author, &m.Content, &calls, &toolCallID, &toolName, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.SessionKey = key
		m.Author = models.Author(author)
		m.ToolCallID = toolCallID.String
		m.ToolName = toolName.String
		if calls.Valid && calls.String != "" {
			if err := json.Unmarshal([]byte(calls.String), &m.ToolCalls); err != nil {
				return nil, fmt.Errorf("decode tool calls of message %d: %w", m.ID, err)
			}
		}
		se.History = append(se.History, &m)
	}
	return &se, rows.Err()
}

func (s *SQLStore) Append(ctx context.Context, key, sessionID string, msgs ...*models.Message) error {
	now := time.Now().UTC()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()
	res, err := tx.ExecContext(ctx,
		`UPDATE sessions SET updated_at = ?, expires_at = ? WHERE session_key = ? AND id = ? AND expires_at > ?`,
		now, now.Add(s.ttl), key, sessionID, now,
	)
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	for _, msg := range msgs {
		if msg == nil {
			continue
		}
		if err := insertMessage(ctx, tx, key, msg); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit messages: %w", err)
	}
	return nil
}

func insertMessage(ctx context.Context, tx *sql.Tx, key string, msg *models.Message) error {
	var calls sql.NullString
	if len(msg.ToolCalls) > 0 {
		data, err := json.Marshal(msg.ToolCalls)
		if err != nil {
			return fmt.Errorf("encode tool calls: %w", err)
		}
		calls = sql.NullString{String: string(data), Valid: true}
	}
	created := msg.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO messages (session_key, author, content, tool_calls, tool_call_id, tool_name, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		key, string(msg.Author), msg.Content, calls, msg.ToolCallID, msg.ToolName, created,
	); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (s *SQLStore) Delete(ctx context.Context, key string) (bool, error) {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE session_key = ?`, key); err != nil {
		return false, fmt.Errorf("delete messages: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE session_key = ?`, key)
	if err != nil {
		return false, fmt.Errorf("delete session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *SQLStore) Sweep(ctx context.Context, now time.Time) (int, error) {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM messages WHERE session_key IN (SELECT session_key FROM sessions WHERE expires_at <= ?)`, now,
	); err != nil {
		return 0, fmt.Errorf("sweep messages: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at <= ?`, now)
	if err != nil {
		return 0, fmt.Errorf("sweep sessions: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}
