// Package helpdesk defines the ServiceNow tools offered to each role.
package helpdesk

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"helpdeskagent/internal/knowledge"
	"helpdeskagent/internal/mail"
	"helpdeskagent/internal/models"
	"helpdeskagent/internal/servicenow"
	"helpdeskagent/internal/tools"
)

var (
	errNoServiceNow = errors.New("ServiceNow is not configured")
	errNoKnowledge  = errors.New("knowledge base is not configured")
	errNoMail       = errors.New("email delivery is not configured")
)

// Completer runs a single prompt against the model.
type Completer interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
}

// Deps are the collaborators tools call. Nil members disable the tools
// that need them at call time, with a descriptive error.
type Deps struct {
	ServiceNow *servicenow.Client
	Knowledge  *knowledge.Retriever
	Completer  Completer
	Mail       mail.Sender
	Search     *WebSearch
	ReportDir  string
	Now        func() time.Time
}

func (d *Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now().UTC()
}

// solver returns the corpus retriever, or one without an index that always
// generates when no corpus is loaded.
func (d *Deps) solver() (*knowledge.Retriever, error) {
	if d.Knowledge != nil {
		return d.Knowledge, nil
	}
	if d.Completer == nil {
		return nil, errNoKnowledge
	}
	return knowledge.NewRetriever(nil, d.Completer, 0, 0), nil
}

func (d *Deps) snow() (*servicenow.Client, error) {
	if d.ServiceNow == nil {
		return nil, errNoServiceNow
	}
	return d.ServiceNow, nil
}

// Registries builds one tool registry per role.
func Registries(d *Deps) (map[models.Role]*tools.Registry, error) {
	sets := map[models.Role][]tools.Tool{
		models.RoleEngineer: EngineerTools(d),
		models.RoleManager:  ManagerTools(d),
		models.RoleUser:     UserTools(d),
	}
	out := make(map[models.Role]*tools.Registry, len(sets))
	for role, set := range sets {
		reg, err := tools.NewRegistry(set...)
		if err != nil {
			return nil, fmt.Errorf("%s tools: %w", role, err)
		}
		out[role] = reg
	}
	return out, nil
}

// callerEmail returns the email of the person the tool runs for, falling
// back to the argument when no caller is attached.
func callerEmail(ctx context.Context, arg string) string {
	if c, ok := tools.CallerFromContext(ctx); ok && c.Identity.Email != "" {
		return c.Identity.Email
	}
	return strings.TrimSpace(arg)
}

func formatIncidentLine(inc servicenow.Incident) string {
	return fmt.Sprintf("%s | State: %s | Priority: %s | %s", inc.Number, orNA(inc.State), orNA(inc.Priority), orNA(inc.ShortDescription))
}

func orNA(v servicenow.Value) string {
	if v == "" {
		return "N/A"
	}
	return string(v)
}

// firstSentence returns text up to and including the first sentence terminator.
func firstSentence(text string) string {
	text = strings.TrimSpace(text)
	if i := strings.IndexAny(text, ".!?\n"); i > 0 {
		return strings.TrimSpace(text[:i+1])
	}
	return truncateUTF8(text, shortDescriptionMax)
}

const shortDescriptionMax = 160

// truncateUTF8 cuts s to at most n bytes without splitting a rune.
func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
