package models

import (
	"fmt"
	"time"
)

// Identity carries what the channel knows about the person behind a session.
type Identity struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// SeedText is the synthetic first human message giving the model user context.
func (i Identity) SeedText() string {
	return fmt.Sprintf("User name: %s, User email: %s", i.Name, i.Email)
}

// Session is the per-conversation state: role, identity and accumulated history.
type Session struct {
	Key       string     `json:"key"`
	ID        string     `json:"id"`
	Role      Role       `json:"role"`
	Identity  Identity   `json:"identity"`
	History   []*Message `json:"history"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	ExpiresAt time.Time  `json:"expires_at"`
}

// Clone returns a copy whose history slice can be appended to without touching the original.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.History = make([]*Message, len(s.History))
	copy(c.History, s.History)
	return &c
}

// Last returns the newest history entry, or nil.
func (s *Session) Last() *Message {
	if s == nil || len(s.History) == 0 {
		return nil
	}
	return s.History[len(s.History)-1]
}

// Expired reports whether the session has outlived its expiry.
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}
