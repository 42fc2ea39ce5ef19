package report

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// HTMLConfig contains configuration for HTML report generation.
type HTMLConfig struct {
	OutputPath  string // Path to write the HTML file
	EmbedAssets bool   // Embed annotations as base64 (makes file larger but portable)
	Title       string // Report title (default: "Pixelmon Test Report")
	ReportDir   string // Directory containing report.json (needed for asset paths)
}

// GenerateHTML generates an HTML report from the report directory.
func GenerateHTML(reportDir string, cfg HTMLConfig) error {
	index, flows, err := ReadReport(reportDir)
	if err != nil {
		return fmt.Errorf("read report: %w", err)
	}

	if cfg.Title == "" {
		cfg.Title = "Pixelmon Test Report"
	}
	if cfg.ReportDir == "" {
		cfg.ReportDir = reportDir
	}
	if cfg.OutputPath == "" {
		cfg.OutputPath = filepath.Join(reportDir, "report.html")
	}

	html, err := renderHTML(buildHTMLData(index, flows, cfg))
	if err != nil {
		return fmt.Errorf("render html: %w", err)
	}

	if err := os.WriteFile(cfg.OutputPath, []byte(html), 0o644); err != nil {
		return fmt.Errorf("write html: %w", err)
	}

	return nil
}

// HTMLData contains all data needed for the HTML template.
type HTMLData struct {
	Title         string
	GeneratedAt   string
	Index         *Index
	Flows         []FlowHTMLData
	TotalDuration string
	PassRate      float64
}

// FlowHTMLData contains flow data formatted for HTML.
type FlowHTMLData struct {
	FlowDetail
	Status      Status
	DurationStr string
	Commands    []CommandHTMLData
	Tests       []TestHTMLData
	Annotations []template.URL
}

// CommandHTMLData contains command data formatted for HTML.
type CommandHTMLData struct {
	Command
	DurationStr string
	Subs        []CommandHTMLData
}

// TestHTMLData contains test case data formatted for HTML.
type TestHTMLData struct {
	TestCase
	DurationStr string
}

func buildHTMLData(index *Index, flows []FlowDetail, cfg HTMLConfig) HTMLData {
	statusByID := make(map[string]Status, len(index.Flows))
	for _, e := range index.Flows {
		statusByID[e.ID] = e.Status
	}

	flowsData := make([]FlowHTMLData, len(flows))
	var totalMs int64
	for i, f := range flows {
		fd := FlowHTMLData{
			FlowDetail:  f,
			Status:      statusByID[f.ID],
			DurationStr: formatDuration(f.Duration),
			Commands:    commandsHTML(f.Commands),
		}
		for _, tc := range f.Tests {
			ms := tc.Duration
			fd.Tests = append(fd.Tests, TestHTMLData{TestCase: tc, DurationStr: formatDuration(&ms)})
		}
		for _, a := range f.Artifacts.Annotations {
			src := a
			if cfg.EmbedAssets {
				if b64 := loadAsBase64(filepath.Join(cfg.ReportDir, a)); b64 != "" {
					src = b64
				}
			}
			fd.Annotations = append(fd.Annotations, template.URL(src)) //#nosec G203 -- local report asset
		}
		if f.Duration != nil {
			totalMs += *f.Duration
		}
		flowsData[i] = fd
	}

	var passRate float64
	if index.Summary.Total > 0 {
		passRate = float64(index.Summary.Passed) / float64(index.Summary.Total) * 100
	}

	return HTMLData{
		Title:         cfg.Title,
		GeneratedAt:   time.Now().Format("2006-01-02 15:04:05"),
		Index:         index,
		Flows:         flowsData,
		TotalDuration: formatDuration(&totalMs),
		PassRate:      passRate,
	}
}

func commandsHTML(cmds []Command) []CommandHTMLData {
	out := make([]CommandHTMLData, len(cmds))
	for i, c := range cmds {
		out[i] = CommandHTMLData{
			Command:     c,
			DurationStr: formatDuration(c.Duration),
			Subs:        commandsHTML(c.SubCommands),
		}
	}
	return out
}

func formatDuration(ms *int64) string {
	if ms == nil {
		return "-"
	}
	d := time.Duration(*ms) * time.Millisecond
	if d < time.Second {
		return fmt.Sprintf("%dms", *ms)
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
}

func loadAsBase64(path string) string {
	data, err := os.ReadFile(path) //#nosec G304 -- asset path from the report
	if err != nil {
		return ""
	}
	ext := strings.ToLower(filepath.Ext(path))
	mimeType := "image/png"
	if ext == ".jpg" || ext == ".jpeg" {
		mimeType = "image/jpeg"
	}
	return fmt.Sprintf("data:%s;base64,%s", mimeType, base64.StdEncoding.EncodeToString(data))
}

func renderHTML(data HTMLData) (string, error) {
	tmpl, err := template.New("report").Parse(htmlTemplate)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}

	return buf.String(), nil
}

const htmlTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<meta name="viewport" content="width=device-width, initial-scale=1.0">
{{- if eq .Index.Status "running"}}
<meta http-equiv="refresh" content="2">
{{- end}}
<title>{{.Title}}</title>
<style>
:root {
  --bg: #ffffff; --bg-alt: #f9fafb; --text: #111827; --muted: #6b7280; --border: #e5e7eb;
  --passed: #22c55e; --failed: #ef4444; --skipped: #eab308; --running: #06b6d4; --pending: #6b7280;
}
* { box-sizing: border-box; margin: 0; padding: 0; }
body { font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", sans-serif; color: var(--text); background: var(--bg-alt); padding: 24px; }
header { margin-bottom: 20px; }
h1 { font-size: 22px; }
.meta { color: var(--muted); font-size: 13px; margin-top: 4px; }
.summary { display: flex; gap: 12px; margin: 16px 0; }
.card { background: var(--bg); border: 1px solid var(--border); border-radius: 8px; padding: 12px 16px; min-width: 110px; }
.card .n { font-size: 22px; font-weight: 600; }
.card .l { font-size: 12px; color: var(--muted); text-transform: uppercase; }
details.flow { background: var(--bg); border: 1px solid var(--border); border-radius: 8px; margin-bottom: 10px; }
details.flow > summary { cursor: pointer; padding: 12px 16px; display: flex; gap: 12px; align-items: center; }
.badge { font-size: 11px; font-weight: 600; text-transform: uppercase; padding: 2px 8px; border-radius: 999px; color: #fff; }
.passed { background: var(--passed); } .failed { background: var(--failed); } .skipped { background: var(--skipped); }
.running { background: var(--running); } .pending { background: var(--pending); }
.dur { margin-left: auto; color: var(--muted); font-size: 13px; }
.body { padding: 0 16px 16px; }
table { width: 100%; border-collapse: collapse; font-size: 13px; margin-top: 8px; }
td, th { text-align: left; padding: 6px 8px; border-top: 1px solid var(--border); vertical-align: top; }
.sub td:first-child { padding-left: 28px; }
.err { color: var(--failed); font-family: monospace; white-space: pre-wrap; }
.answer { color: var(--muted); font-family: monospace; }
.shots img { max-width: 240px; border: 1px solid var(--border); border-radius: 6px; margin: 8px 8px 0 0; }
</style>
</head>
<body>
<header>
  <h1>{{.Title}}</h1>
  <div class="meta">
    Run {{.Index.RunID}} &middot; {{.Index.App.ID}}{{if .Index.App.Version}} {{.Index.App.Version}}{{end}}
    &middot; {{.Index.Device.Name}} ({{.Index.Device.ID}}) &middot; controller {{.Index.Controller.URL}}
    &middot; generated {{.GeneratedAt}}
  </div>
</header>
<div class="summary">
  <div class="card"><div class="n">{{.Index.Summary.Total}}</div><div class="l">Flows</div></div>
  <div class="card"><div class="n">{{.Index.Summary.Passed}}</div><div class="l">Passed</div></div>
  <div class="card"><div class="n">{{.Index.Summary.Failed}}</div><div class="l">Failed</div></div>
  <div class="card"><div class="n">{{.Index.Summary.Skipped}}</div><div class="l">Skipped</div></div>
  <div class="card"><div class="n">{{printf "%.0f" .PassRate}}%</div><div class="l">Pass rate</div></div>
  <div class="card"><div class="n">{{.TotalDuration}}</div><div class="l">Duration</div></div>
</div>
{{range .Flows}}
<details class="flow"{{if eq .Status "failed"}} open{{end}}>
  <summary>
    <span class="badge {{.Status}}">{{.Status}}</span>
    <strong>{{.Name}}</strong>
    <span class="meta">{{.SourceFile}}</span>
    <span class="dur">{{.DurationStr}}</span>
  </summary>
  <div class="body">
    {{if .Hooks.OnFlowStart}}<p class="err">onFlowStart failed: {{.Hooks.OnFlowStart.Message}}</p>{{end}}
    {{if .Tests}}
    <table>
      <tr><th>Test</th><th>Status</th><th>Duration</th><th>Error</th></tr>
      {{range .Tests}}
      <tr><td>{{.Name}}</td><td><span class="badge {{.Status}}">{{.Status}}</span></td><td>{{.DurationStr}}</td>
        <td>{{if .Error}}<span class="err">[{{.Error.Type}}] {{.Error.Message}}</span>{{end}}</td></tr>
      {{end}}
    </table>
    {{end}}
    <table>
      <tr><th>Command</th><th>Status</th><th>Duration</th><th>Detail</th></tr>
      {{range .Commands}}
      <tr><td>{{if .Label}}{{.Label}}{{else}}{{.YAML}}{{end}}</td><td><span class="badge {{.Status}}">{{.Status}}</span></td><td>{{.DurationStr}}</td>
        <td>{{if .Answer}}<span class="answer">{{.Answer}}</span>{{end}}{{if .Error}}<span class="err">[{{.Error.Type}}] {{.Error.Message}}</span>{{end}}</td></tr>
      {{range .Subs}}
      <tr class="sub"><td>{{if .Label}}{{.Label}}{{else}}{{.YAML}}{{end}}</td><td><span class="badge {{.Status}}">{{.Status}}</span></td><td>{{.DurationStr}}</td>
        <td>{{if .Answer}}<span class="answer">{{.Answer}}</span>{{end}}{{if .Error}}<span class="err">{{.Error.Message}}</span>{{end}}</td></tr>
      {{end}}
      {{end}}
    </table>
    {{if .Annotations}}<div class="shots">{{range .Annotations}}<img src="{{.}}" alt="annotation">{{end}}</div>{{end}}
  </div>
</details>
{{end}}
</body>
</html>
`
