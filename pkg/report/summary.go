package report

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"
)

// Markdown renders a run summary as markdown: a header, a flow table and
// the failures with their error category.
func Markdown(index *Index, flows []FlowDetail) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Pixelmon run %s\n\n", index.RunID)
	fmt.Fprintf(&b, "**Status:** %s  \n", index.Status)
	fmt.Fprintf(&b, "**App:** %s", index.App.ID)
	if index.App.Version != "" {
		fmt.Fprintf(&b, " %s", index.App.Version)
	}
	fmt.Fprintf(&b, "  \n**Device:** %s (%s)  \n", index.Device.Name, index.Device.ID)
	fmt.Fprintf(&b, "**Flows:** %d total, %d passed, %d failed, %d skipped\n\n",
		index.Summary.Total, index.Summary.Passed, index.Summary.Failed, index.Summary.Skipped)

	b.WriteString("| Flow | Status | Tests | Duration |\n|---|---|---|---|\n")
	for _, e := range index.Flows {
		tests := "-"
		if e.Tests.Total > 0 {
			tests = fmt.Sprintf("%d/%d", e.Tests.Passed, e.Tests.Total)
		}
		fmt.Fprintf(&b, "| %s | %s | %s | %s |\n", escapeCell(e.Name), e.Status, tests, formatDuration(e.Duration))
	}

	var failures []string
	for _, fd := range flows {
		if e := fd.Hooks.OnFlowStart; e != nil {
			failures = append(failures, fmt.Sprintf("- **%s** onFlowStart: `%s` %s", fd.Name, e.Type, e.Message))
		}
		for _, tc := range fd.Tests {
			if tc.Status == StatusFailed && tc.Error != nil {
				failures = append(failures, fmt.Sprintf("- **%s** / %s: `%s` %s", fd.Name, tc.Name, tc.Error.Type, tc.Error.Message))
			}
		}
		if len(fd.Tests) == 0 {
			for _, c := range fd.Commands {
				if c.Status == StatusFailed && c.Error != nil {
					failures = append(failures, fmt.Sprintf("- **%s** / %s: `%s` %s", fd.Name, c.YAML, c.Error.Type, c.Error.Message))
					break
				}
			}
		}
	}
	if len(failures) > 0 {
		b.WriteString("\n## Failures\n\n")
		b.WriteString(strings.Join(failures, "\n"))
		b.WriteString("\n")
	}

	return b.String()
}

func escapeCell(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}

// RenderMarkdown renders markdown for the terminal. When plain is set, or
// the renderer cannot be built, the markdown is returned unchanged.
func RenderMarkdown(md string, plain bool) (string, error) {
	if plain {
		return md, nil
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		return md, err
	}
	return r.Render(md)
}
