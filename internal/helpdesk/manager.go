package helpdesk

import (
	"context"
	"fmt"
	"strings"
	"time"

	"helpdeskagent/internal/mail"
	"helpdeskagent/internal/report"
	"helpdeskagent/internal/servicenow"
	"helpdeskagent/internal/tools"
)

const (
	defaultTopTickets     = 5
	defaultRecentLimit    = 20
	snowTimestampLayout   = "2006-01-02 15:04:05"
	incidentReportSubject = "ServiceNow Incident Summary Report"
)

type showTicketsArgs struct {
	Filter       string `json:"filter,omitempty" jsonschema:"description=Optional text matched against description priority state and group"`
	ManagerEmail string `json:"manager_email,omitempty"`
	Top          int    `json:"top,omitempty" jsonschema:"description=How many tickets to list (default 5)" validate:"omitempty,min=1,max=50"`
}

type recentArgs struct {
	Limit int `json:"limit,omitempty" jsonschema:"description=Number of incidents (default 20)" validate:"omitempty,min=1,max=200"`
}

type emailReportArgs struct {
	Recipient string `json:"recipient" validate:"required,email"`
	Limit     int    `json:"limit,omitempty" validate:"omitempty,min=1,max=200"`
}

// ManagerTools returns the tools available to managers.
func ManagerTools(d *Deps) []tools.Tool {
	return []tools.Tool{
		tools.MustDefine("show_tickets", "List active tickets, newest first, optionally filtered.", d.showTickets),
		tools.MustDefine("show_individual_ticket", "Show one ticket with its age and SLA.", d.showIndividualTicket),
		tools.MustDefine("fetch_recent_incidents", "List the most recently created incidents.", d.fetchRecentIncidents),
		tools.MustDefine("generate_incident_report", "Render and save an HTML report of recent incidents.", d.generateIncidentReport,
			tools.WithRateLimit(5, time.Minute)),
		tools.MustDefine("email_incident_report", "Generate the incident report and email it.", d.emailIncidentReport,
			tools.WithRateLimit(3, time.Minute)),
	}
}

func (d *Deps) showTickets(ctx context.Context, args showTicketsArgs) (string, error) {
	snow, err := d.snow()
	if err != nil {
		return "", err
	}
	incidents, err := snow.ListIncidents(ctx, servicenow.Query{
		Encoded: servicenow.OpenIncidentsQuery,
		Fields:  servicenow.SummaryFields,
		Limit:   50,
	})
	if err != nil {
		return "", err
	}
	incidents = filterIncidents(incidents, args.Filter)
	if len(incidents) == 0 {
		return "No active tickets match.", nil
	}
	top := args.Top
	if top <= 0 {
		top = defaultTopTickets
	}
	shown := incidents
	if len(shown) > top {
		shown = shown[:top]
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Showing %d of %d active tickets.\n\n", len(shown), len(incidents))
	b.WriteString("| Number | Priority | State | Group | Short description |\n")
	b.WriteString("|---|---|---|---|---|\n")
	for _, inc := range shown {
		fmt.Fprintf(&b, "| %s | %s | %s | %s | %s |\n", inc.Number, orNA(inc.Priority), orNA(inc.State),
			orNA(servicenow.Value(inc.Group())), tableCell(string(inc.ShortDescription)))
	}
	fmt.Fprintf(&b, "\nFull list: %s", snow.IncidentListURL())
	return b.String(), nil
}

func filterIncidents(incidents []servicenow.Incident, filter string) []servicenow.Incident {
	filter = strings.ToLower(strings.TrimSpace(filter))
	if filter == "" {
		return incidents
	}
	var out []servicenow.Incident
	for _, inc := range incidents {
		hay := strings.ToLower(strings.Join([]string{
			string(inc.Number), string(inc.ShortDescription), string(inc.Description),
			string(inc.Priority), string(inc.State), inc.Group(),
		}, " "))
		if strings.Contains(hay, filter) {
			out = append(out, inc)
		}
	}
	return out
}

func tableCell(s string) string {
	s = strings.ReplaceAll(s, "|", "/")
	return strings.ReplaceAll(s, "\n", " ")
}

func (d *Deps) showIndividualTicket(ctx context.Context, args ticketNumberArgs) (string, error) {
	snow, err := d.snow()
	if err != nil {
		return "", err
	}
	inc, err := snow.IncidentByNumber(ctx, args.TicketNumber, servicenow.SummaryFields...)
	if err != nil {
		return "", err
	}
	age := "unknown"
	if created, err := time.Parse(snowTimestampLayout, string(inc.CreatedOn)); err == nil {
		age = humanDuration(d.now().Sub(created))
	}
	return fmt.Sprintf("%s\nAge: %s\nSLA due: %s", incidentDetails(*inc, snow.IncidentURL(args.TicketNumber)), age, orNA(inc.SLADue)), nil
}

func humanDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	if days > 0 {
		return fmt.Sprintf("%d days %d hours", days, hours)
	}
	return fmt.Sprintf("%d hours %d minutes", hours, int(d.Minutes())%60)
}

func (d *Deps) recentIncidents(ctx context.Context, limit int) ([]servicenow.Incident, error) {
	snow, err := d.snow()
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultRecentLimit
	}
	return snow.ListIncidents(ctx, servicenow.Query{
		Encoded: "ORDERBYDESCsys_created_on",
		Fields:  servicenow.SummaryFields,
		Limit:   limit,
	})
}

func (d *Deps) fetchRecentIncidents(ctx context.Context, args recentArgs) (string, error) {
	incidents, err := d.recentIncidents(ctx, args.Limit)
	if err != nil {
		return "", err
	}
	if len(incidents) == 0 {
		return "No incidents found.", nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d most recent incidents:\n", len(incidents))
	for _, inc := range incidents {
		fmt.Fprintf(&b, "- %s | created %s\n", formatIncidentLine(inc), orNA(inc.CreatedOn))
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

// buildIncidentReport renders and saves the report, returning the HTML and its path.
func (d *Deps) buildIncidentReport(ctx context.Context, limit int) ([]byte, string, int, error) {
	incidents, err := d.recentIncidents(ctx, limit)
	if err != nil {
		return nil, "", 0, err
	}
	now := d.now()
	html, err := report.NewIncidentReport(incidents, d.ServiceNow.IncidentListURL(), now).HTML()
	if err != nil {
		return nil, "", 0, err
	}
	path, err := report.Save(d.ReportDir, "incident_report", html, now)
	if err != nil {
		return nil, "", 0, err
	}
	return html, path, len(incidents), nil
}

func (d *Deps) generateIncidentReport(ctx context.Context, args recentArgs) (string, error) {
	_, path, n, err := d.buildIncidentReport(ctx, args.Limit)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Incident report covering %d incidents saved to %s.", n, path), nil
}

func (d *Deps) emailIncidentReport(ctx context.Context, args emailReportArgs) (string, error) {
	if d.Mail == nil {
		return "", errNoMail
	}
	html, path, n, err := d.buildIncidentReport(ctx, args.Limit)
	if err != nil {
		return "", err
	}
	err = d.Mail.Send(ctx, mail.Message{
		To:      []string{args.Recipient},
		Subject: incidentReportSubject,
		Body:    fmt.Sprintf("Attached is the summary of the %d most recent ServiceNow incidents.\n", n),
		Attachment: &mail.Attachment{
			Name:        "incident_report.html",
			ContentType: "text/html; charset=utf-8",
			Data:        html,
		},
	})
	if err != nil {
		return "", fmt.Errorf("email report: %w", err)
	}
	return fmt.Sprintf("Incident report (%s) emailed to %s.", path, args.Recipient), nil
}
