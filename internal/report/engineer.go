package report

import (
	"html/template"
	"time"

	"helpdeskagent/internal/servicenow"
)

const engineerTableLimit = 20

// EngineerReport summarizes the tickets assigned to one engineer.
type EngineerReport struct {
	Title       string
	Engineer    string
	Email       string
	GeneratedAt time.Time
	Total       int
	Pending     int
	Solved      int
	ByState     []Count
	ByPriority  []Count
	Latest      []servicenow.Incident
	Notes       template.HTML
}

// NewEngineerReport computes the summary. notes is markdown, typically an
// analysis written by the model; it may be empty.
func NewEngineerReport(name, email string, incidents []servicenow.Incident, notes string, now time.Time) (*EngineerReport, error) {
	r := &EngineerReport{
		Title:       "Engineer Ticket Analytics Report",
		Engineer:    name,
		Email:       email,
		GeneratedAt: now,
		Total:       len(incidents),
		ByState:     distribution(incidents, func(i servicenow.Incident) string { return string(i.State) }),
		ByPriority:  distribution(incidents, func(i servicenow.Incident) string { return string(i.Priority) }),
	}
	for _, inc := range incidents {
		if servicenow.IsResolvedDisplay(inc.State) {
			r.Solved++
		} else {
			r.Pending++
		}
	}
	r.Latest = incidents
	if len(r.Latest) > engineerTableLimit {
		r.Latest = r.Latest[:engineerTableLimit]
	}
	html, err := Markdown(notes)
	if err != nil {
		return nil, err
	}
	r.Notes = html
	return r, nil
}

func (r *EngineerReport) HTML() ([]byte, error) {
	return render(engineerTemplate, r)
}

var engineerTemplate = template.Must(template.New("engineer_report").Parse(baseStyle + `
<body>
<h2>{{.Title}}</h2>
<p class="meta">{{.Engineer}} &lt;{{.Email}}&gt; &middot; Generated {{.GeneratedAt.Format "2006-01-02 15:04 MST"}}</p>
<div class="cards">
<div class="card"><span>Total tickets</span><strong>{{.Total}}</strong></div>
<div class="card"><span>Pending</span><strong>{{.Pending}}</strong></div>
<div class="card"><span>Solved</span><strong>{{.Solved}}</strong></div>
</div>
<table>
<tr><th>Ticket Number</th><th>Short Description</th><th>Caller</th><th>Created On</th><th>State</th><th>Priority</th></tr>
{{range .Latest}}<tr><td>{{.Number}}</td><td>{{.ShortDescription}}</td><td>{{.CallerDisplay}}</td><td>{{.CreatedOn}}</td><td>{{.State}}</td><td>{{.Priority}}</td></tr>
{{else}}<tr><td colspan="6">No tickets assigned.</td></tr>
{{end}}</table>
<h3>State distribution</h3>
<ul>{{range .ByState}}<li>{{.Label}}: {{.N}}</li>{{end}}</ul>
<h3>Priority distribution</h3>
<ul>{{range .ByPriority}}<li>{{.Label}}: {{.N}}</li>{{end}}</ul>
{{if .Notes}}<div class="notes">{{.Notes}}</div>{{end}}
</body>
</html>
`))
