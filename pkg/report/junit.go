package report

import (
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
)

// JUnitSuites is the root element of a JUnit XML report.
type JUnitSuites struct {
	XMLName  xml.Name     `xml:"testsuites"`
	Name     string       `xml:"name,attr"`
	Tests    int          `xml:"tests,attr"`
	Failures int          `xml:"failures,attr"`
	Errors   int          `xml:"errors,attr"`
	Skipped  int          `xml:"skipped,attr"`
	Time     string       `xml:"time,attr"`
	Suites   []JUnitSuite `xml:"testsuite"`
}

// JUnitSuite is one flow.
type JUnitSuite struct {
	Name       string          `xml:"name,attr"`
	Tests      int             `xml:"tests,attr"`
	Failures   int             `xml:"failures,attr"`
	Errors     int             `xml:"errors,attr"`
	Skipped    int             `xml:"skipped,attr"`
	Time       string          `xml:"time,attr"`
	Timestamp  string          `xml:"timestamp,attr,omitempty"`
	Properties []JUnitProperty `xml:"properties>property,omitempty"`
	Cases      []JUnitCase     `xml:"testcase"`
}

// JUnitProperty is a name/value pair on a suite.
type JUnitProperty struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

// JUnitCase is one test case.
type JUnitCase struct {
	Name      string        `xml:"name,attr"`
	Classname string        `xml:"classname,attr"`
	Time      string        `xml:"time,attr"`
	Failure   *JUnitProblem `xml:"failure,omitempty"`
	Error     *JUnitProblem `xml:"error,omitempty"`
	Skipped   *JUnitSkipped `xml:"skipped,omitempty"`
}

// JUnitProblem is a failure or error element.
type JUnitProblem struct {
	Message string `xml:"message,attr"`
	Type    string `xml:"type,attr"`
	Text    string `xml:",chardata"`
}

// JUnitSkipped marks a skipped case.
type JUnitSkipped struct {
	Message string `xml:"message,attr,omitempty"`
}

// GenerateJUnit renders junit.xml from a report directory. An empty outPath
// writes junit.xml next to report.json.
func GenerateJUnit(reportDir, outPath string) error {
	index, flows, err := ReadReport(reportDir)
	if err != nil {
		return err
	}
	if outPath == "" {
		outPath = filepath.Join(reportDir, "junit.xml")
	}

	data, err := xml.MarshalIndent(BuildJUnit(index, flows), "", "  ")
	if err != nil {
		return fmt.Errorf("marshal junit: %w", err)
	}
	data = append([]byte(xml.Header), data...)
	if err := os.WriteFile(outPath, data, 0o644); err != nil {
		return fmt.Errorf("write junit: %w", err)
	}
	return nil
}

// BuildJUnit converts a report into JUnit suites: one suite per flow, one
// case per test step. A flow without test steps is reported as one case.
func BuildJUnit(index *Index, flows []FlowDetail) *JUnitSuites {
	root := &JUnitSuites{Name: "pixelmon-runner"}
	var total int64

	for i := range flows {
		fd := &flows[i]
		suite := JUnitSuite{
			Name: fd.Name,
			Time: seconds(fd.Duration),
		}
		if !fd.StartTime.IsZero() {
			suite.Timestamp = fd.StartTime.Format("2006-01-02T15:04:05")
		}
		suite.Properties = append(suite.Properties, JUnitProperty{Name: "sourceFile", Value: fd.SourceFile})
		if index != nil && index.RunID != "" {
			suite.Properties = append(suite.Properties, JUnitProperty{Name: "runId", Value: index.RunID})
		}

		if e := fd.Hooks.OnFlowStart; e != nil {
			suite.Cases = append(suite.Cases, problemCase(fd.Name, "onFlowStart", 0, e))
		}

		if len(fd.Tests) > 0 {
			for _, tc := range fd.Tests {
				ms := tc.Duration
				c := JUnitCase{Name: tc.Name, Classname: fd.Name, Time: seconds(&ms)}
				switch tc.Status {
				case StatusFailed:
					c = problemCase(fd.Name, tc.Name, tc.Duration, tc.Error)
				case StatusSkipped:
					c.Skipped = &JUnitSkipped{Message: "not run"}
				}
				suite.Cases = append(suite.Cases, c)
			}
		} else {
			suite.Cases = append(suite.Cases, flowCase(fd))
		}

		for _, c := range suite.Cases {
			suite.Tests++
			switch {
			case c.Failure != nil:
				suite.Failures++
			case c.Error != nil:
				suite.Errors++
			case c.Skipped != nil:
				suite.Skipped++
			}
		}

		root.Tests += suite.Tests
		root.Failures += suite.Failures
		root.Errors += suite.Errors
		root.Skipped += suite.Skipped
		if fd.Duration != nil {
			total += *fd.Duration
		}
		root.Suites = append(root.Suites, suite)
	}

	root.Time = seconds(&total)
	return root
}

// flowCase summarizes a flow with no test steps as a single case.
func flowCase(fd *FlowDetail) JUnitCase {
	var ms int64
	if fd.Duration != nil {
		ms = *fd.Duration
	}
	var status Status = StatusPassed
	var firstErr *Error
	allSkipped := len(fd.Commands) > 0
	for _, cmd := range fd.Commands {
		if cmd.Status != StatusSkipped {
			allSkipped = false
		}
		if cmd.Status == StatusFailed && firstErr == nil {
			status = StatusFailed
			firstErr = cmd.Error
		}
	}
	if status == StatusFailed {
		return problemCase(fd.Name, fd.Name, ms, firstErr)
	}
	c := JUnitCase{Name: fd.Name, Classname: fd.Name, Time: seconds(&ms)}
	if allSkipped {
		c.Skipped = &JUnitSkipped{Message: "not run"}
	}
	return c
}

// problemCase maps assertion failures to <failure> and every other
// category to <error>.
func problemCase(class, name string, ms int64, e *Error) JUnitCase {
	c := JUnitCase{Name: name, Classname: class, Time: seconds(&ms)}
	p := &JUnitProblem{Type: "assertion", Message: "failed"}
	if e != nil {
		p.Type = e.Type
		p.Message = e.Message
		p.Text = e.Details
	}
	if p.Type == "assertion" {
		c.Failure = p
	} else {
		c.Error = p
	}
	return c
}

func seconds(ms *int64) string {
	if ms == nil {
		return "0.000"
	}
	return fmt.Sprintf("%.3f", float64(*ms)/1000)
}
