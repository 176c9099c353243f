package server

import (
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
)

var indexTemplate = template.Must(template.New("index").Funcs(template.FuncMap{
	"energy": func(e *float64) string {
		if e == nil {
			return "-"
		}
		return fmt.Sprintf("%.4f", *e)
	},
}).Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>markfit jobs</title></head>
<body>
<h1>Jobs</h1>
{{if .}}<table>
<tr><th>ID</th><th>State</th><th>Image</th><th>Iterations</th><th>Best energy</th><th>Marks</th><th>Started</th></tr>
{{range .}}<tr>
<td><a href="/api/v1/jobs/{{.ID}}">{{.ID}}</a></td>
<td>{{.State}}</td>
<td>{{.Config.RefPath}}</td>
<td>{{.Iterations}}</td>
<td>{{energy .BestEnergy}}</td>
<td>{{.BestMarks}}</td>
<td>{{.StartTime.Format "2006-01-02 15:04:05"}}</td>
</tr>
{{end}}</table>{{else}}<p>No jobs yet.</p>{{end}}
</body>
</html>
`))

// handleIndex handles GET /
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := indexTemplate.Execute(w, s.jobManager.ListJobs()); err != nil {
		slog.Error("Failed to render job list", "error", err)
	}
}
