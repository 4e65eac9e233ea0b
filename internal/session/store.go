// Package session keeps per-conversation history behind a Store interface.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"helpdeskagent/internal/models"
)

var ErrNotFound = errors.New("session not found")

const DefaultTTL = time.Hour

// Store maps a conversation key to its session. Implementations return
// snapshots; callers never mutate stored history directly.
type Store interface {
	// GetOrCreate returns the live session for key, creating and seeding it
	// when absent or expired. created reports whether a new session was made.
	GetOrCreate(ctx context.Context, key string, identity models.Identity, role models.Role) (s *models.Session, created bool, err error)
	Get(ctx context.Context, key string) (*models.Session, error)
	// Append adds messages to history and refreshes the expiry. It fails with
	// ErrNotFound when the live session under key is not sessionID, so a turn
	// that outlives its session cannot write into a successor.
	Append(ctx context.Context, key, sessionID string, msgs ...*models.Message) error
	// Delete drops a session; it reports whether one existed.
	Delete(ctx context.Context, key string) (bool, error)
	// Sweep evicts sessions expired at now and returns how many were removed.
	Sweep(ctx context.Context, now time.Time) (int, error)
}

func newSession(key string, identity models.Identity, role models.Role, now time.Time, ttl time.Duration) (*models.Session, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("session id: %w", err)
	}
	seed := models.HumanMessage(key, identity.SeedText())
	seed.CreatedAt = now
	return &models.Session{
		Key:       key,
		ID:        id.String(),
		Role:      role,
		Identity:  identity,
		History:   []*models.Message{seed},
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: now.Add(ttl),
	}, nil
}

func validKey(key string) error {
	if key == "" {
		return errors.New("session key is required")
	}
	return nil
}

// StartSweeper evicts expired sessions every interval until ctx is done.
func StartSweeper(ctx context.Context, store Store, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				n, err := store.Sweep(ctx, now.UTC())
				if err != nil {
					slog.ErrorContext(ctx, "session sweep failed", "error", err)
					continue
				}
				if n > 0 {
					slog.InfoContext(ctx, "expired sessions evicted", "count", n)
				}
			}
		}
	}()
}
