package report

import (
	"html/template"
	"os"
	"path/filepath"

	"github.com/heartbeat-ops/heartbeat/pkg/contracts"
)

var htmlTemplate = template.Must(template.New("drift_report").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Drift report {{.RunID}}</title>
<style>
body { font-family: sans-serif; margin: 2em; }
table { border-collapse: collapse; margin-bottom: 1.5em; }
th, td { border: 1px solid #ccc; padding: 4px 10px; text-align: left; }
.status-PASS { color: #2e7d32; }
.status-PASS_WITH_DRIFT { color: #f9a825; }
.status-FAIL { color: #c62828; }
.status-NO_METRICS, .status-NO_TEST { color: #757575; }
</style>
</head>
<body>
<h1>Run {{.RunID}}: <span class="status-{{.Status}}">{{.Status}}</span></h1>
<p>Baseline: {{if .BaselineRunID}}{{.BaselineRunID}} ({{.BaselineReason}}){{else}}none ({{.BaselineReason}}){{end}}</p>
{{if .BaselineWarning}}<p><strong>Warning:</strong> {{.BaselineWarning}}</p>{{end}}

{{if .FailMetrics}}
<h2>Failed metrics</h2>
<ul>{{range .FailMetrics}}<li>{{.}}</li>{{end}}</ul>
{{end}}

{{if .DriftMetrics}}
<h2>Drift</h2>
<table>
<tr><th>Metric</th><th>Baseline</th><th>Current</th><th>Delta</th><th>Severity</th></tr>
{{range .DriftMetrics}}<tr><td>{{.Metric}}</td><td>{{.Baseline}}</td><td>{{.Current}}</td><td>{{.Delta}}</td><td>{{.Severity}}</td></tr>
{{end}}</table>
{{end}}

{{if .DistributionDrifts}}
<h2>Distribution drift</h2>
<table>
<tr><th>Metric</th><th>KS statistic</th><th>Threshold</th><th>Baseline n</th><th>Current n</th></tr>
{{range .DistributionDrifts}}<tr><td>{{.Metric}}</td><td>{{.Statistic}}</td><td>{{.Threshold}}</td><td>{{.BaselineCount}}</td><td>{{.CurrentCount}}</td></tr>
{{end}}</table>
{{end}}

{{if .InvariantViolations}}
<h2>Invariant violations</h2>
<table>
<tr><th>Metric</th><th>Value</th><th>Invariant</th><th>Bound</th></tr>
{{range .InvariantViolations}}<tr><td>{{.Metric}}</td><td>{{.Value}}</td><td>{{.Invariant}}</td><td>{{.Bound}}</td></tr>
{{end}}</table>
{{end}}

{{if .DriftAttribution.TopDrivers}}
<h2>Top drivers</h2>
<table>
<tr><th>Metric</th><th>Score</th><th>Delta</th><th>Confidence</th></tr>
{{range .DriftAttribution.TopDrivers}}<tr><td>{{.Metric}}</td><td>{{.Score}}</td><td>{{.Delta}}</td><td>{{.Confidence}}</td></tr>
{{end}}</table>
{{end}}

{{if .Warnings}}
<h2>Warnings</h2>
<ul>{{range .Warnings}}<li>{{.}}</li>{{end}}</ul>
{{end}}
</body>
</html>
`))

// WriteHTML renders the human-readable report next to the JSON.
func (r DriftReport) WriteHTML(dir string) error {
	path := filepath.Join(dir, DriftReportHTML)
	f, err := os.Create(path)
	if err != nil {
		return contracts.WrapError(contracts.KindTransientIO, "create drift report html", err)
	}
	defer f.Close()
	if err := htmlTemplate.Execute(f, r); err != nil {
		return contracts.WrapError(contracts.KindTransientIO, "render drift report html", err)
	}
	return f.Close()
}
