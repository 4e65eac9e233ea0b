package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"helpdeskagent/internal/logger"
	"helpdeskagent/internal/models"
	"helpdeskagent/internal/roles"
	"helpdeskagent/internal/session"
	"helpdeskagent/internal/tools"
	"helpdeskagent/internal/worker"
)

// Reply is the user-visible result of one turn.
type Reply struct {
	Text string
	// Created is set when the turn opened a new session.
	Created bool
	Session *models.Session
}

type Service struct {
	router      *roles.Router
	store       session.Store
	workers     *worker.Manager
	loops       map[models.Role]*Loop
	turnTimeout time.Duration
}

type Options struct {
	Router  *roles.Router
	Store   session.Store
	Workers *worker.Manager
	Loops   map[models.Role]*Loop
	// TurnTimeout bounds a single turn; zero disables.
	TurnTimeout time.Duration
}

func NewService(opts Options) (*Service, error) {
	if opts.Router == nil {
		return nil, errors.New("role router is required")
	}
	if opts.Store == nil {
		return nil, errors.New("session store is required")
	}
	if opts.Workers == nil {
		opts.Workers = worker.NewManager(worker.Config{})
	}
	for _, role := range models.AllRoles {
		if opts.Loops[role] == nil {
			return nil, fmt.Errorf("no agent loop for role %s", role)
		}
	}
	return &Service{
		router:      opts.Router,
		store:       opts.Store,
		workers:     opts.Workers,
		loops:       opts.Loops,
		turnTimeout: opts.TurnTimeout,
	}, nil
}

// Ask runs one turn for key. Turns on the same key are serialized. The role
// is resolved only when no live session exists, and an unknown identity is
// rejected with roles.ErrNotAuthorized before anything is stored.
func (s *Service) Ask(ctx context.Context, key string, identity models.Identity, text string) (*Reply, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, errors.New("session key is required")
	}
	ctx = logger.WithLogFields(ctx, logger.LogFields{SessionKey: key, Email: identity.Email})

	var reply *Reply
	_, err := s.workers.Do(ctx, key, func(ctx context.Context) (string, error) {
		r, err := s.runTurn(ctx, key, identity, text)
		if err != nil {
			return "", err
		}
		reply = r
		return r.Text, nil
	})
	if err != nil {
		return nil, err
	}
	return reply, nil
}

func (s *Service) runTurn(ctx context.Context, key string, identity models.Identity, text string) (*Reply, error) {
	if s.turnTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.turnTimeout)
		defer cancel()
	}

	sess, err := s.store.Get(ctx, key)
	created := false
	switch {
	case errors.Is(err, session.ErrNotFound):
		role, rerr := s.router.Resolve(identity.Email)
		if rerr != nil {
			slog.InfoContext(ctx, "identity rejected", "error", rerr)
			return nil, rerr
		}
		sess, created, err = s.store.GetOrCreate(ctx, key, identity, role)
		if err != nil {
			return nil, fmt.Errorf("create session: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("load session: %w", err)
	}

	ctx = logger.WithLogFields(ctx, logger.LogFields{Role: string(sess.Role)})
	ctx = tools.WithCaller(ctx, tools.Caller{SessionKey: key, Role: sess.Role, Identity: sess.Identity})
	if created {
		slog.InfoContext(ctx, "session created", "session_id", sess.ID)
	}

	loop := s.loops[sess.Role]
	if loop == nil {
		return nil, fmt.Errorf("no agent loop for role %s", sess.Role)
	}

	start := time.Now()
	turn, runErr := loop.RunTurn(ctx, sess, text)
	if turn != nil && len(turn.Appended()) > 0 {
		if err := s.store.Append(ctx, key, sess.ID, turn.Appended()...); err != nil {
			slog.ErrorContext(ctx, "persist turn failed", "error", err)
			if runErr == nil {
				return nil, fmt.Errorf("persist turn: %w", err)
			}
		}
	}
	if runErr != nil {
		slog.ErrorContext(ctx, "turn failed", "error", runErr, "duration_ms", time.Since(start).Milliseconds())
		return nil, runErr
	}
	slog.InfoContext(ctx, "turn completed",
		"iterations", turn.Iteration,
		"exhausted", turn.Exhausted,
		"duration_ms", time.Since(start).Milliseconds())

	sess.History = turn.History()
	return &Reply{Text: turn.Reply, Created: created, Session: sess}, nil
}

// End discards the session for key and stops its worker. It reports whether
// a session existed.
func (s *Service) End(ctx context.Context, key string) (bool, error) {
	key = strings.TrimSpace(key)
	s.workers.Purge(key)
	ok, err := s.store.Delete(ctx, key)
	if err != nil {
		return false, fmt.Errorf("end session: %w", err)
	}
	return ok, nil
}

// Session returns the live session for key.
func (s *Service) Session(ctx context.Context, key string) (*models.Session, error) {
	return s.store.Get(ctx, key)
}

// Greeting is the first message shown for a new session.
func Greeting(name string) string {
	if strings.TrimSpace(name) == "" {
		name = "there"
	}
	return fmt.Sprintf("Hello %s, how can I assist you with ServiceNow today?", name)
}
