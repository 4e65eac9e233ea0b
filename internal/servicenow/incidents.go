package servicenow

import (
	"context"
	"fmt"
	"strings"
)

const (
	incidentTable = "incident"
	journalTable  = "sys_journal_field"

	// OpenIncidentsQuery selects active incidents not in a terminal state, newest first.
	OpenIncidentsQuery = "active=true^stateNOT IN6,7,8^ORDERBYDESCsys_created_on"
	ResolvedCloseCode  = "Solved (Permanently)"
)

var (
	DetailFields = []string{
		"sys_id", "number", "short_description", "description", "state", "priority",
		"assignment_group", "assigned_to", "caller_id", "sla_due", "sys_created_on", "sys_updated_on",
	}
	SummaryFields = []string{
		"number", "short_description", "priority", "sys_created_on", "caller_id.name",
		"state", "description", "sla_due", "assignment_group.name", "assigned_to",
	}
)

// ListIncidents runs q against the incident table.
func (c *Client) ListIncidents(ctx context.Context, q Query) ([]Incident, error) {
	var out []Incident
	if err := c.list(ctx, incidentTable, q, &out); err != nil {
		return nil, fmt.Errorf("list incidents: %w", err)
	}
	return out, nil
}

// IncidentByNumber returns the incident with the given number or ErrNotFound.
func (c *Client) IncidentByNumber(ctx context.Context, number string, fields ...string) (*Incident, error) {
	number = NormalizeNumber(number)
	if !ValidNumber(number) {
		return nil, fmt.Errorf("incident number %q: %w", number, ErrInvalidQuery)
	}
	if len(fields) == 0 {
		fields = DetailFields
	} else if !contains(fields, "sys_id") {
		fields = append([]string{"sys_id"}, fields...)
	}
	rows, err := c.ListIncidents(ctx, Query{Encoded: "number=" + number, Fields: fields, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("incident %s: %w", number, ErrNotFound)
	}
	return &rows[0], nil
}

// CreateIncident posts a new incident and returns it as stored.
func (c *Client) CreateIncident(ctx context.Context, fields map[string]any) (*Incident, error) {
	var out Incident
	if err := c.create(ctx, incidentTable, fields, &out); err != nil {
		return nil, fmt.Errorf("create incident: %w", err)
	}
	return &out, nil
}

// UpdateIncident looks up the incident by number and patches fields.
func (c *Client) UpdateIncident(ctx context.Context, number string, fields map[string]any) (*Incident, error) {
	inc, err := c.IncidentByNumber(ctx, number, "sys_id", "number", "state")
	if err != nil {
		return nil, err
	}
	var out Incident
	if err := c.patch(ctx, incidentTable, string(inc.SysID), fields, &out); err != nil {
		return nil, fmt.Errorf("update incident %s: %w", inc.Number, err)
	}
	if out.Number == "" {
		out.Number = inc.Number
	}
	return &out, nil
}

// SetState moves an incident to state, enforcing close information for
// terminal states.
func (c *Client) SetState(ctx context.Context, number string, state State, closeCode, closeNotes string) (*Incident, error) {
	if err := ValidateStateChange(state, closeCode, closeNotes); err != nil {
		return nil, err
	}
	fields := map[string]any{"state": int(state)}
	if closeCode != "" {
		fields["close_code"] = closeCode
	}
	if closeNotes != "" {
		fields["close_notes"] = closeNotes
	}
	return c.UpdateIncident(ctx, number, fields)
}

func (c *Client) AddWorkNote(ctx context.Context, number, note string) (*Incident, error) {
	return c.UpdateIncident(ctx, number, map[string]any{"work_notes": note})
}

// AddComment adds a customer-visible comment.
func (c *Client) AddComment(ctx context.Context, number, comment string) (*Incident, error) {
	return c.UpdateIncident(ctx, number, map[string]any{"comments": comment})
}

// History returns the work notes and comments on an incident, newest first.
func (c *Client) History(ctx context.Context, number string) ([]JournalEntry, error) {
	inc, err := c.IncidentByNumber(ctx, number, "sys_id", "number")
	if err != nil {
		return nil, err
	}
	q := Query{
		Encoded: "element_id=" + string(inc.SysID) + "^elementINwork_notes,comments^ORDERBYDESCsys_created_on",
		Fields:  []string{"element", "value", "sys_created_by", "sys_created_on"},
		Limit:   50,
	}
	var out []JournalEntry
	if err := c.list(ctx, journalTable, q, &out); err != nil {
		return nil, fmt.Errorf("history for %s: %w", number, err)
	}
	return out, nil
}

// IncidentURL links to the incident form in the instance UI.
func (c *Client) IncidentURL(number string) string {
	return c.instance + "/nav_to.do?uri=incident.do?sysparm_query=number=" + NormalizeNumber(number)
}

// IncidentListURL links to the incident list in the instance UI.
func (c *Client) IncidentListURL() string {
	return c.instance + "/nav_to.do?uri=incident_list.do"
}

// NormalizeNumber upper-cases and trims an incident number.
func NormalizeNumber(number string) string {
	return strings.ToUpper(strings.TrimSpace(number))
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
