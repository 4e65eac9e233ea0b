package helpdesk

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"helpdeskagent/internal/mail"
	"helpdeskagent/internal/report"
	"helpdeskagent/internal/servicenow"
	"helpdeskagent/internal/tools"
)

type engineerEmailArgs struct {
	EngineerEmail string `json:"engineer_email" jsonschema:"description=Email of the engineer the tickets are assigned to" validate:"required,email"`
}

type ticketDetailsArgs struct {
	TicketNumbers string `json:"ticket_numbers" jsonschema:"description=One or more incident numbers separated by commas" validate:"required"`
	EngineerEmail string `json:"engineer_email" validate:"required,email"`
}

type ticketNumberArgs struct {
	TicketNumber string `json:"ticket_number" jsonschema:"description=Incident number such as INC0010001" validate:"required"`
}

type technicalNoteArgs struct {
	TicketNumber string `json:"ticket_number" validate:"required"`
	Note         string `json:"note" jsonschema:"description=Internal work note" validate:"required"`
}

type updateStateArgs struct {
	TicketNumber string `json:"ticket_number" validate:"required"`
	State        int    `json:"state" jsonschema:"description=1 New 2 In Progress 3 On Hold 6 Resolved 7 Closed 8 Canceled" validate:"oneof=1 2 3 6 7 8"`
	CloseCode    string `json:"close_code,omitempty" jsonschema:"description=Required for states 6 7 and 8"`
	CloseNotes   string `json:"close_notes,omitempty" jsonschema:"description=Required for states 6 7 and 8"`
}

type troubleshootArgs struct {
	IssueDescription string `json:"issue_description" validate:"required"`
}

type webSearchArgs struct {
	Query string `json:"query" jsonschema:"description=Search terms or an http(s) URL to fetch" validate:"required"`
}

type resolutionArgs struct {
	TicketNumber      string `json:"ticket_number" validate:"required"`
	ResolutionSummary string `json:"resolution_summary" validate:"required"`
	EngineerEmail     string `json:"engineer_email" validate:"required,email"`
}

type engineerReportArgs struct {
	EngineerEmail string `json:"engineer_email" validate:"required,email"`
	Name          string `json:"name" jsonschema:"description=Engineer display name"`
}

const troubleshootSystemPrompt = "You are a senior IT support engineer. Analyze the issue and answer with sections: Root Cause, Troubleshooting Steps, Recommended Fix."

const engineerNotesSystemPrompt = "You are an IT operations analyst. Write a short markdown analysis of the engineer's workload: trends, risks and next actions."

// EngineerTools returns the tools available to engineers.
func EngineerTools(d *Deps) []tools.Tool {
	return []tools.Tool{
		tools.MustDefine("show_assigned_tickets", "List the open tickets assigned to an engineer.", d.showAssignedTickets),
		tools.MustDefine("get_ticket_details", "Show details for one or more tickets assigned to the engineer.", d.getTicketDetails),
		tools.MustDefine("get_ticket_history", "Show the work notes and comments on a ticket.", d.getTicketHistory),
		tools.MustDefine("add_technical_note", "Add an internal work note to a ticket.", d.addTechnicalNote),
		tools.MustDefine("update_ticket_state", "Change a ticket's state. Resolved, Closed and Canceled need close_code and close_notes.", d.updateTicketState),
		tools.MustDefine("review_analytics", "Summarize resolved and pending tickets for an engineer.", d.reviewAnalytics),
		tools.MustDefine("ai_troubleshooter", "Suggest a fix for a technical issue using past resolutions.", d.aiTroubleshooter),
		tools.MustDefine("web_search", "Search the web, or fetch a URL, for troubleshooting information.", d.webSearch,
			tools.WithRateLimit(10, time.Minute)),
		tools.MustDefine("upload_ticket_resolution", "Resolve a ticket with a resolution summary.", d.uploadTicketResolution),
		tools.MustDefine("generate_engineer_report", "Build an HTML analytics report for an engineer and email it to them.", d.generateEngineerReport,
			tools.WithRateLimit(3, time.Minute)),
	}
}

func (d *Deps) showAssignedTickets(ctx context.Context, args engineerEmailArgs) (string, error) {
	snow, err := d.snow()
	if err != nil {
		return "", err
	}
	incidents, err := snow.IncidentsAssignedTo(ctx, args.EngineerEmail, true, 50)
	if err != nil {
		return "", err
	}
	if len(incidents) == 0 {
		return fmt.Sprintf("No open tickets are assigned to %s.", args.EngineerEmail), nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Open tickets assigned to %s (%d):\n", args.EngineerEmail, len(incidents))
	for _, inc := range incidents {
		b.WriteString("- " + formatIncidentLine(inc) + "\n")
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func (d *Deps) getTicketDetails(ctx context.Context, args ticketDetailsArgs) (string, error) {
	snow, err := d.snow()
	if err != nil {
		return "", err
	}
	email, err := servicenow.QueryValue(args.EngineerEmail)
	if err != nil {
		return "", err
	}
	var blocks []string
	for _, raw := range strings.Split(args.TicketNumbers, ",") {
		number := servicenow.NormalizeNumber(raw)
		if number == "" {
			continue
		}
		if !servicenow.ValidNumber(number) {
			blocks = append(blocks, fmt.Sprintf("%s: not a valid incident number.", number))
			continue
		}
		rows, err := snow.ListIncidents(ctx, servicenow.Query{
			Encoded: "number=" + number + "^assigned_to.email=" + email,
			Fields:  servicenow.DetailFields,
			Limit:   1,
		})
		if err != nil {
			return "", err
		}
		if len(rows) == 0 {
			blocks = append(blocks, fmt.Sprintf("%s: not found or not assigned to %s.", number, args.EngineerEmail))
			continue
		}
		blocks = append(blocks, incidentDetails(rows[0], snow.IncidentURL(number)))
	}
	if len(blocks) == 0 {
		return "", errors.New("no ticket numbers given")
	}
	return strings.Join(blocks, "\n\n"), nil
}

func incidentDetails(inc servicenow.Incident, link string) string {
	return fmt.Sprintf("Ticket: %s\nShort description: %s\nDescription: %s\nState: %s\nPriority: %s\nAssignment group: %s\nAssigned to: %s\nCaller: %s\nCreated: %s\nLink: %s",
		inc.Number, orNA(inc.ShortDescription), orNA(inc.Description), orNA(inc.State), orNA(inc.Priority),
		orNA(servicenow.Value(inc.Group())), orNA(inc.AssignedTo), orNA(servicenow.Value(inc.CallerDisplay())), orNA(inc.CreatedOn), link)
}

func (d *Deps) getTicketHistory(ctx context.Context, args ticketNumberArgs) (string, error) {
	snow, err := d.snow()
	if err != nil {
		return "", err
	}
	entries, err := snow.History(ctx, args.TicketNumber)
	if err != nil {
		return "", err
	}
	number := servicenow.NormalizeNumber(args.TicketNumber)
	if len(entries) == 0 {
		return fmt.Sprintf("%s has no work notes or comments yet.", number), nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "History for %s:\n", number)
	for _, e := range entries {
		kind := "Comment"
		if e.Element == "work_notes" {
			kind = "Work note"
		}
		fmt.Fprintf(&b, "- [%s] %s by %s: %s\n", e.CreatedOn, kind, orNA(e.CreatedBy), e.Text)
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func (d *Deps) addTechnicalNote(ctx context.Context, args technicalNoteArgs) (string, error) {
	snow, err := d.snow()
	if err != nil {
		return "", err
	}
	inc, err := snow.AddWorkNote(ctx, args.TicketNumber, args.Note)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Work note added to %s.", inc.Number), nil
}

func (d *Deps) updateTicketState(ctx context.Context, args updateStateArgs) (string, error) {
	snow, err := d.snow()
	if err != nil {
		return "", err
	}
	state := servicenow.State(args.State)
	inc, err := snow.SetState(ctx, args.TicketNumber, state, args.CloseCode, args.CloseNotes)
	if errors.Is(err, servicenow.ErrCloseInfoRequired) {
		return fmt.Sprintf("To move %s to %s, please provide both a close code and close notes.",
			servicenow.NormalizeNumber(args.TicketNumber), state), nil
	}
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s is now %s.", inc.Number, state), nil
}

func (d *Deps) reviewAnalytics(ctx context.Context, args engineerEmailArgs) (string, error) {
	snow, err := d.snow()
	if err != nil {
		return "", err
	}
	incidents, err := snow.IncidentsAssignedTo(ctx, args.EngineerEmail, false, 200)
	if err != nil {
		return "", err
	}
	var resolved, pending int
	for _, inc := range incidents {
		if servicenow.IsResolvedDisplay(inc.State) {
			resolved++
		} else {
			pending++
		}
	}
	return fmt.Sprintf("Analytics for %s: %d tickets in total, %d resolved, %d pending.",
		args.EngineerEmail, len(incidents), resolved, pending), nil
}

func (d *Deps) aiTroubleshooter(ctx context.Context, args troubleshootArgs) (string, error) {
	if d.Knowledge != nil {
		matches, err := d.Knowledge.Lookup(ctx, args.IssueDescription)
		if err == nil && len(matches) > 0 {
			return fmt.Sprintf("A similar past ticket was resolved like this:\n%s", matches[0].Solution), nil
		}
	}
	if d.Completer == nil {
		return "", errNoKnowledge
	}
	return d.Completer.Complete(ctx, troubleshootSystemPrompt, "Issue: "+args.IssueDescription)
}

func (d *Deps) webSearch(ctx context.Context, args webSearchArgs) (string, error) {
	if d.Search == nil {
		return "", errors.New("web search is not configured")
	}
	return d.Search.Search(ctx, args.Query)
}

func (d *Deps) uploadTicketResolution(ctx context.Context, args resolutionArgs) (string, error) {
	snow, err := d.snow()
	if err != nil {
		return "", err
	}
	inc, err := snow.UpdateIncident(ctx, args.TicketNumber, map[string]any{
		"state":       int(servicenow.StateResolved),
		"close_code":  servicenow.ResolvedCloseCode,
		"close_notes": args.ResolutionSummary,
		"work_notes":  fmt.Sprintf("Resolution uploaded by %s: %s", args.EngineerEmail, args.ResolutionSummary),
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s has been resolved with the provided summary.", inc.Number), nil
}

func (d *Deps) generateEngineerReport(ctx context.Context, args engineerReportArgs) (string, error) {
	snow, err := d.snow()
	if err != nil {
		return "", err
	}
	if d.Mail == nil {
		return "", errNoMail
	}
	incidents, err := snow.IncidentsAssignedTo(ctx, args.EngineerEmail, true, 50)
	if err != nil {
		return "", err
	}
	name := strings.TrimSpace(args.Name)
	if name == "" {
		name = args.EngineerEmail
	}
	notes := ""
	if d.Completer != nil && len(incidents) > 0 {
		var b strings.Builder
		for _, inc := range incidents {
			b.WriteString(formatIncidentLine(inc) + "\n")
		}
		notes, err = d.Completer.Complete(ctx, engineerNotesSystemPrompt, b.String())
		if err != nil {
			return "", fmt.Errorf("analysis: %w", err)
		}
	}
	now := d.now()
	rep, err := report.NewEngineerReport(name, args.EngineerEmail, incidents, notes, now)
	if err != nil {
		return "", err
	}
	html, err := rep.HTML()
	if err != nil {
		return "", err
	}
	path, err := report.Save(d.ReportDir, "engineer_report", html, now)
	if err != nil {
		return "", err
	}
	err = d.Mail.Send(ctx, mail.Message{
		To:      []string{args.EngineerEmail},
		Subject: "Engineer Ticket Analytics Report",
		Body:    fmt.Sprintf("Hello %s,\n\nPlease find your ticket analytics report attached.\n", name),
		Attachment: &mail.Attachment{
			Name:        "engineer_report.html",
			ContentType: "text/html; charset=utf-8",
			Data:        html,
		},
	})
	if err != nil {
		return "", fmt.Errorf("email report: %w", err)
	}
	return fmt.Sprintf("Report with %d open tickets saved to %s and emailed to %s.", len(incidents), path, args.EngineerEmail), nil
}
