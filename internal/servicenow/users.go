package servicenow

import (
	"context"
	"fmt"
)

const userTable = "sys_user"

// FindUserByEmail returns the sys_user with email or ErrNotFound.
func (c *Client) FindUserByEmail(ctx context.Context, email string) (*User, error) {
	email, err := QueryValue(email)
	if err != nil {
		return nil, fmt.Errorf("user email: %w", err)
	}
	var out []User
	q := Query{Encoded: "email=" + email, Fields: []string{"sys_id", "name", "email", "user_name"}, Limit: 1}
	if err := c.list(ctx, userTable, q, &out); err != nil {
		return nil, fmt.Errorf("find user %s: %w", email, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("user %s: %w", email, ErrNotFound)
	}
	return &out[0], nil
}

func (c *Client) CreateUser(ctx context.Context, email, name string) (*User, error) {
	body := map[string]any{"name": name, "email": email, "user_name": email}
	var out User
	if err := c.create(ctx, userTable, body, &out); err != nil {
		return nil, fmt.Errorf("create user %s: %w", email, err)
	}
	return &out, nil
}

// EnsureUser returns the existing sys_user for email, registering one when absent.
func (c *Client) EnsureUser(ctx context.Context, email, name string) (*User, error) {
	u, err := c.FindUserByEmail(ctx, email)
	if err == nil {
		return u, nil
	}
	if !isNotFound(err) {
		return nil, err
	}
	return c.CreateUser(ctx, email, name)
}

// IncidentsForCaller lists the caller's incidents, newest first.
func (c *Client) IncidentsForCaller(ctx context.Context, email string, limit int) ([]Incident, error) {
	u, err := c.FindUserByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}
	return c.ListIncidents(ctx, Query{
		Encoded: "caller_id=" + string(u.SysID) + "^ORDERBYDESCsys_created_on",
		Fields:  []string{"number", "state", "short_description", "sys_id", "priority", "sys_created_on"},
		Limit:   limit,
	})
}

// IncidentsAssignedTo lists incidents assigned to the engineer with email.
// openOnly restricts the result to active, non-terminal incidents.
func (c *Client) IncidentsAssignedTo(ctx context.Context, email string, openOnly bool, limit int) ([]Incident, error) {
	email, err := QueryValue(email)
	if err != nil {
		return nil, fmt.Errorf("engineer email: %w", err)
	}
	query := "assigned_to.email=" + email
	if openOnly {
		query = "active=true^" + query + "^stateNOT IN6,7,8"
	}
	if limit <= 0 {
		limit = 100
	}
	return c.ListIncidents(ctx, Query{
		Encoded: query + "^ORDERBYDESCsys_created_on",
		Fields:  SummaryFields,
		Limit:   limit,
	})
}
