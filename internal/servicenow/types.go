package servicenow

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Value is a field as returned with sysparm_display_value=true. Reference
// fields arrive as {"display_value": ..., "link": ...} objects, everything
// else as plain strings; both decode to the display text.
type Value string

func (v *Value) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*v = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*v = Value(s)
		return nil
	}
	var ref struct {
		DisplayValue string `json:"display_value"`
		Value        string `json:"value"`
	}
	if err := json.Unmarshal(data, &ref); err == nil {
		if ref.DisplayValue != "" {
			*v = Value(ref.DisplayValue)
		} else {
			*v = Value(ref.Value)
		}
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err == nil {
		*v = Value(n.String())
		return nil
	}
	return fmt.Errorf("servicenow: unsupported field value %s", string(data))
}

func (v Value) String() string { return string(v) }

// Incident holds the incident fields the helpdesk tools read.
type Incident struct {
	SysID            Value `json:"sys_id"`
	Number           Value `json:"number"`
	ShortDescription Value `json:"short_description"`
	Description      Value `json:"description"`
	State            Value `json:"state"`
	Priority         Value `json:"priority"`
	Category         Value `json:"category"`
	AssignmentGroup  Value `json:"assignment_group"`
	GroupName        Value `json:"assignment_group.name"`
	AssignedTo       Value `json:"assigned_to"`
	Caller           Value `json:"caller_id"`
	CallerName       Value `json:"caller_id.name"`
	SLADue           Value `json:"sla_due"`
	CloseCode        Value `json:"close_code"`
	CloseNotes       Value `json:"close_notes"`
	CreatedOn        Value `json:"sys_created_on"`
	UpdatedOn        Value `json:"sys_updated_on"`
}

// Group prefers the dot-walked group name when it was requested.
func (i Incident) Group() string {
	if i.GroupName != "" {
		return string(i.GroupName)
	}
	return string(i.AssignmentGroup)
}

// CallerDisplay prefers the dot-walked caller name when it was requested.
func (i Incident) CallerDisplay() string {
	if i.CallerName != "" {
		return string(i.CallerName)
	}
	return string(i.Caller)
}

type User struct {
	SysID    Value `json:"sys_id"`
	Name     Value `json:"name"`
	Email    Value `json:"email"`
	UserName Value `json:"user_name"`
}

// JournalEntry is one work note or comment from sys_journal_field.
type JournalEntry struct {
	Element   Value `json:"element"`
	Text      Value `json:"value"`
	CreatedBy Value `json:"sys_created_by"`
	CreatedOn Value `json:"sys_created_on"`
}

// State is the numeric incident state.
type State int

const (
	StateNew        State = 1
	StateInProgress State = 2
	StateOnHold     State = 3
	StateResolved   State = 6
	StateClosed     State = 7
	StateCanceled   State = 8
)

var stateNames = map[State]string{
	StateNew:        "New",
	StateInProgress: "In Progress",
	StateOnHold:     "On Hold",
	StateResolved:   "Resolved",
	StateClosed:     "Closed",
	StateCanceled:   "Canceled",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "State " + strconv.Itoa(int(s))
}

func (s State) Valid() bool {
	_, ok := stateNames[s]
	return ok
}

// Terminal reports whether moving to s closes out the incident.
func (s State) Terminal() bool {
	return s == StateResolved || s == StateClosed || s == StateCanceled
}

// ValidateStateChange checks the fields a transition to s requires.
func ValidateStateChange(s State, closeCode, closeNotes string) error {
	if !s.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidState, int(s))
	}
	if s.Terminal() && (closeCode == "" || closeNotes == "") {
		return fmt.Errorf("moving to %s: %w", s, ErrCloseInfoRequired)
	}
	return nil
}

// IsResolvedDisplay reports whether a display-valued state is resolved or closed.
func IsResolvedDisplay(state Value) bool {
	switch string(state) {
	case "Resolved", "Closed", "6", "7":
		return true
	}
	return false
}
