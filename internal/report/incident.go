package report

import (
	"html/template"
	"time"

	"helpdeskagent/internal/servicenow"
)

// IncidentReport summarizes recent incidents for managers.
type IncidentReport struct {
	Title       string
	GeneratedAt time.Time
	Incidents   []servicenow.Incident
	ByState     []Count
	ByPriority  []Count
	ListURL     string
}

func NewIncidentReport(incidents []servicenow.Incident, listURL string, now time.Time) *IncidentReport {
	return &IncidentReport{
		Title:       "Recent ServiceNow Incidents",
		GeneratedAt: now,
		Incidents:   incidents,
		ByState:     distribution(incidents, func(i servicenow.Incident) string { return string(i.State) }),
		ByPriority:  distribution(incidents, func(i servicenow.Incident) string { return string(i.Priority) }),
		ListURL:     listURL,
	}
}

func (r *IncidentReport) HTML() ([]byte, error) {
	return render(incidentTemplate, r)
}

var incidentTemplate = template.Must(template.New("incident_report").Parse(baseStyle + `
<body>
<h2>{{.Title}}</h2>
<p class="meta">Generated {{.GeneratedAt.Format "2006-01-02 15:04 MST"}} &middot; {{len .Incidents}} incidents{{if .ListURL}} &middot; <a href="{{.ListURL}}">Open in ServiceNow</a>{{end}}</p>
<div class="cards">
{{range .ByState}}<div class="card"><span>{{.Label}}</span><strong>{{.N}}</strong></div>{{end}}
</div>
<table>
<tr><th>Number</th><th>Description</th><th>Priority</th><th>Group</th><th>State</th><th>Created On</th><th>Caller</th></tr>
{{range .Incidents}}<tr><td>{{.Number}}</td><td>{{.ShortDescription}}</td><td>{{.Priority}}</td><td>{{.Group}}</td><td>{{.State}}</td><td>{{.CreatedOn}}</td><td>{{.CallerDisplay}}</td></tr>
{{else}}<tr><td colspan="7">No incidents found.</td></tr>
{{end}}</table>
<h3>Priority distribution</h3>
<ul>{{range .ByPriority}}<li>{{.Label}}: {{.N}}</li>{{end}}</ul>
</body>
</html>
`))

const baseStyle = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>
body { font-family: Arial, sans-serif; background: #f7f9fc; margin: 24px; }
h2 { color: #003366; }
.meta { color: #555; }
.cards { display: flex; gap: 12px; flex-wrap: wrap; margin: 16px 0; }
.card { background: white; border: 1px solid #dde3ea; border-radius: 6px; padding: 10px 14px; }
.card span { display: block; color: #555; font-size: 12px; }
.card strong { font-size: 20px; color: #003366; }
table { border-collapse: collapse; width: 100%; background: white; }
th, td { border: 1px solid #ccc; padding: 6px 8px; text-align: left; }
th { background: #003366; color: white; }
tr:nth-child(even) { background: #f2f2f2; }
.notes { background: white; border: 1px solid #dde3ea; padding: 12px 16px; margin-top: 16px; }
</style>
</head>`
