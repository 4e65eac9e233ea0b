package helpdesk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"helpdeskagent/internal/servicenow"
	"helpdeskagent/internal/tools"
)

var incidentNumberPattern = regexp.MustCompile(`(?i)\bINC\d+\b`)

const invalidNumberReply = "Please provide a valid ServiceNow incident number (e.g. INC0010004)."

const classifySystemPrompt = `Classify the IT support issue. Answer with JSON only: {"priority": "...", "group": "..."}.
priority is one of Low, Medium, High, Critical.
group is one of Software, Hardware, IT Support, Networking, Machine Learning, Others.`

var (
	priorities = map[string][2]int{
		"Critical": {1, 1},
		"High":     {1, 2},
		"Medium":   {2, 2},
		"Low":      {3, 3},
	}
	assignmentGroups = []string{"Software", "Hardware", "IT Support", "Networking", "Machine Learning", "Others"}
)

type submitTicketArgs struct {
	Issue    string `json:"issue" jsonschema:"description=The problem in the user's words" validate:"required"`
	Email    string `json:"email" validate:"required,email"`
	FullName string `json:"full_name" validate:"required"`
}

type checkStatusArgs struct {
	Text string `json:"text" jsonschema:"description=Text containing an incident number" validate:"required"`
}

type commentArgs struct {
	TicketNumber string `json:"ticket_number" validate:"required"`
	Comment      string `json:"comment" validate:"required"`
}

type reopenArgs struct {
	TicketNumber string `json:"ticket_number" validate:"required"`
	Reason       string `json:"reason" validate:"required"`
}

type closeArgs struct {
	TicketNumber string `json:"ticket_number" validate:"required"`
	CloseNotes   string `json:"close_notes,omitempty"`
}

type myTicketsArgs struct {
	Email string `json:"email" validate:"required,email"`
}

type feedbackArgs struct {
	TicketNumber string `json:"ticket_number,omitempty"`
	Rating       int    `json:"rating" jsonschema:"description=Satisfaction from 1 to 5" validate:"min=1,max=5"`
	Feedback     string `json:"feedback,omitempty"`
}

type queryArgs struct {
	Query string `json:"query" validate:"required"`
}

type confirmSolutionArgs struct {
	Problem  string `json:"problem" validate:"required"`
	Solution string `json:"solution" validate:"required"`
}

// UserTools returns the tools available to end users.
func UserTools(d *Deps) []tools.Tool {
	return []tools.Tool{
		tools.MustDefine("submit_ticket", "Create a new incident for the user. Only call after the user confirmed.", d.submitTicket,
			tools.WithRateLimit(5, time.Minute)),
		tools.MustDefine("check_status", "Look up the status of an incident number mentioned in text.", d.checkStatus),
		tools.MustDefine("add_comments", "Add a comment to one of the user's tickets.", d.addComments),
		tools.MustDefine("reopen_ticket", "Reopen a resolved or closed ticket.", d.reopenTicket),
		tools.MustDefine("close_ticket", "Close a ticket as solved.", d.closeTicket),
		tools.MustDefine("show_my_tickets", "List the user's own tickets.", d.showMyTickets),
		tools.MustDefine("submit_feedback", "Record the user's satisfaction rating.", d.submitFeedback),
		tools.MustDefine("ask_question", "Search past resolutions for an answer.", d.askQuestion),
		tools.MustDefine("retrieve_or_generate_solution", "Find a stored solution or generate one for a problem.", d.retrieveOrGenerateSolution),
		tools.MustDefine("confirm_solution", "Remember a solution the user confirmed worked.", d.confirmSolution),
	}
}

type classification struct {
	Priority string `json:"priority"`
	Group    string `json:"group"`
}

// classify asks the model for priority and group, defaulting to Medium and Others.
func (d *Deps) classify(ctx context.Context, issue string) classification {
	out := classification{Priority: "Medium", Group: "Others"}
	if d.Completer == nil {
		return out
	}
	text, err := d.Completer.Complete(ctx, classifySystemPrompt, issue)
	if err != nil {
		slog.WarnContext(ctx, "ticket classification failed", "error", err)
		return out
	}
	text = strings.TrimSpace(strings.TrimSuffix(strings.TrimPrefix(strings.TrimSpace(text), "```json"), "```"))
	var c classification
	if err := json.Unmarshal([]byte(text), &c); err != nil {
		slog.WarnContext(ctx, "ticket classification unparseable", "output", text)
		return out
	}
	for p := range priorities {
		if strings.EqualFold(p, strings.TrimSpace(c.Priority)) {
			out.Priority = p
		}
	}
	for _, g := range assignmentGroups {
		if strings.EqualFold(g, strings.TrimSpace(c.Group)) {
			out.Group = g
		}
	}
	return out
}

func (d *Deps) submitTicket(ctx context.Context, args submitTicketArgs) (string, error) {
	snow, err := d.snow()
	if err != nil {
		return "", err
	}
	email := callerEmail(ctx, args.Email)
	user, err := snow.EnsureUser(ctx, email, args.FullName)
	if err != nil {
		return "", fmt.Errorf("register caller: %w", err)
	}
	c := d.classify(ctx, args.Issue)
	iu := priorities[c.Priority]
	inc, err := snow.CreateIncident(ctx, map[string]any{
		"short_description": firstSentence(args.Issue),
		"description":       args.Issue,
		"caller_id":         string(user.SysID),
		"category":          "inquiry",
		"impact":            iu[0],
		"urgency":           iu[1],
		"assignment_group":  c.Group,
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Ticket %s created with %s priority and assigned to %s. Track it here: %s",
		inc.Number, c.Priority, c.Group, snow.IncidentURL(string(inc.Number))), nil
}

func (d *Deps) checkStatus(ctx context.Context, args checkStatusArgs) (string, error) {
	snow, err := d.snow()
	if err != nil {
		return "", err
	}
	number := incidentNumberPattern.FindString(args.Text)
	if number == "" {
		return invalidNumberReply, nil
	}
	inc, err := snow.IncidentByNumber(ctx, number)
	if errors.Is(err, servicenow.ErrNotFound) {
		return fmt.Sprintf("I couldn't find incident %s.", servicenow.NormalizeNumber(number)), nil
	}
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s is %s (priority %s): %s", inc.Number, orNA(inc.State), orNA(inc.Priority), orNA(inc.ShortDescription)), nil
}

func (d *Deps) addComments(ctx context.Context, args commentArgs) (string, error) {
	snow, err := d.snow()
	if err != nil {
		return "", err
	}
	inc, err := snow.AddComment(ctx, args.TicketNumber, args.Comment)
	if err != nil {
		return ticketErrorReply(args.TicketNumber, err)
	}
	return fmt.Sprintf("Your comment was added to %s.", inc.Number), nil
}

func (d *Deps) reopenTicket(ctx context.Context, args reopenArgs) (string, error) {
	snow, err := d.snow()
	if err != nil {
		return "", err
	}
	inc, err := snow.IncidentByNumber(ctx, args.TicketNumber, "sys_id", "number", "state")
	if err != nil {
		return ticketErrorReply(args.TicketNumber, err)
	}
	if !servicenow.IsResolvedDisplay(inc.State) {
		return fmt.Sprintf("%s is %s, only resolved or closed tickets can be reopened.", inc.Number, orNA(inc.State)), nil
	}
	if _, err := snow.UpdateIncident(ctx, string(inc.Number), map[string]any{
		"state":    int(servicenow.StateInProgress),
		"comments": "Reopened: " + args.Reason,
	}); err != nil {
		return ticketErrorReply(args.TicketNumber, err)
	}
	return fmt.Sprintf("%s has been reopened.", inc.Number), nil
}

func (d *Deps) closeTicket(ctx context.Context, args closeArgs) (string, error) {
	snow, err := d.snow()
	if err != nil {
		return "", err
	}
	notes := strings.TrimSpace(args.CloseNotes)
	if notes == "" {
		notes = "Closed by the caller."
	}
	inc, err := snow.SetState(ctx, args.TicketNumber, servicenow.StateClosed, servicenow.ResolvedCloseCode, notes)
	if err != nil {
		return ticketErrorReply(args.TicketNumber, err)
	}
	return fmt.Sprintf("%s has been closed.", inc.Number), nil
}

// ticketErrorReply turns permission and lookup failures into replies the
// model can relay; other errors pass through.
func ticketErrorReply(number string, err error) (string, error) {
	number = servicenow.NormalizeNumber(number)
	switch {
	case errors.Is(err, servicenow.ErrForbidden):
		return fmt.Sprintf("You don't have permission to modify %s.", number), nil
	case errors.Is(err, servicenow.ErrNotFound):
		return fmt.Sprintf("Incident %s was not found.", number), nil
	}
	return "", err
}

func (d *Deps) showMyTickets(ctx context.Context, args myTicketsArgs) (string, error) {
	snow, err := d.snow()
	if err != nil {
		return "", err
	}
	email := callerEmail(ctx, args.Email)
	incidents, err := snow.IncidentsForCaller(ctx, email, 20)
	if errors.Is(err, servicenow.ErrNotFound) {
		return "You don't have any tickets yet.", nil
	}
	if err != nil {
		return "", err
	}
	if len(incidents) == 0 {
		return "You don't have any tickets yet.", nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Your tickets (%d):\n", len(incidents))
	for _, inc := range incidents {
		b.WriteString("- " + formatIncidentLine(inc) + "\n")
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func (d *Deps) submitFeedback(ctx context.Context, args feedbackArgs) (string, error) {
	slog.InfoContext(ctx, "feedback received", "ticket", args.TicketNumber, "rating", args.Rating)
	number := strings.TrimSpace(args.TicketNumber)
	if number == "" || d.ServiceNow == nil {
		return fmt.Sprintf("Thank you for rating us %d/5.", args.Rating), nil
	}
	comment := fmt.Sprintf("Feedback rating: %d/5", args.Rating)
	if fb := strings.TrimSpace(args.Feedback); fb != "" {
		comment += "\n" + fb
	}
	if _, err := d.ServiceNow.AddComment(ctx, number, comment); err != nil {
		return ticketErrorReply(number, err)
	}
	return fmt.Sprintf("Thank you, your %d/5 rating was recorded on %s.", args.Rating, servicenow.NormalizeNumber(number)), nil
}

func (d *Deps) askQuestion(ctx context.Context, args queryArgs) (string, error) {
	if d.Knowledge == nil {
		return "", errNoKnowledge
	}
	matches, err := d.Knowledge.Lookup(ctx, args.Query)
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "No similar past issues were found.", nil
	}
	var b strings.Builder
	for i, m := range matches {
		fmt.Fprintf(&b, "%d. (similarity %.2f) %s\n", i+1, m.Score, m.Solution)
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func (d *Deps) retrieveOrGenerateSolution(ctx context.Context, args queryArgs) (string, error) {
	retriever, err := d.solver()
	if err != nil {
		return "", err
	}
	memory := ""
	if c, ok := tools.CallerFromContext(ctx); ok {
		memory = "Conversation " + c.SessionKey
	}
	sol, err := retriever.Solve(ctx, args.Query, memory)
	if err != nil {
		return "", err
	}
	if sol.Generated {
		return "Generated solution (no matching past ticket):\n" + sol.Text, nil
	}
	return "Solution from a similar past ticket:\n" + sol.Text, nil
}

func (d *Deps) confirmSolution(ctx context.Context, args confirmSolutionArgs) (string, error) {
	if d.Knowledge == nil {
		return "", errNoKnowledge
	}
	if err := d.Knowledge.Remember(ctx, args.Problem, args.Solution); err != nil {
		return "", err
	}
	return "Thanks for confirming, this solution will be suggested for similar problems.", nil
}
