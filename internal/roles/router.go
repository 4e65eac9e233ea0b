// Package roles maps identities to agent roles.
package roles

import (
	"errors"
	"fmt"
	"strings"

	"helpdeskagent/internal/models"
)

// ErrNotAuthorized is returned for identities with no role binding.
var ErrNotAuthorized = errors.New("no agent assigned to this identity")

// Router is a read-only email to role table. Lookups are case-insensitive and
// fail closed.
type Router struct {
	bindings map[string]models.Role
}

// NewRouter validates the raw bindings and builds a Router.
func NewRouter(bindings map[string]string) (*Router, error) {
	r := &Router{bindings: make(map[string]models.Role, len(bindings))}
	for email, raw := range bindings {
		key := normalize(email)
		if key == "" {
			return nil, errors.New("empty identity in role bindings")
		}
		role, err := models.ParseRole(raw)
		if err != nil {
			return nil, fmt.Errorf("binding for %s: %w", email, err)
		}
		r.bindings[key] = role
	}
	return r, nil
}

// Resolve returns the role bound to identity or ErrNotAuthorized.
func (r *Router) Resolve(identity string) (models.Role, error) {
	if r == nil {
		return "", ErrNotAuthorized
	}
	key := normalize(identity)
	if key == "" {
		return "", ErrNotAuthorized
	}
	role, ok := r.bindings[key]
	if !ok {
		return "", ErrNotAuthorized
	}
	return role, nil
}

func normalize(identity string) string {
	return strings.ToLower(strings.TrimSpace(identity))
}
