package executor

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/devicelab-dev/pixelmon-runner/pkg/flow"
)

// envVarPattern matches ALL_CAPS identifiers that look like env variables
var envVarPattern = regexp.MustCompile(`^[A-Z][A-Z0-9_]{2,}$`)

// refPattern matches ${NAME} and ${NAME:-default}.
var refPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-([^}]*))?\}`)

// Variables holds the values scenario steps can reference.
// Seeded from the process env, then config env, then flow env; ask,
// getTexts and waitUntil write into it.
type Variables struct {
	values  map[string]string
	flowDir string // Directory of current flow (for resolving relative paths)
}

// NewVariables creates an empty variable store.
func NewVariables() *Variables {
	return &Variables{values: make(map[string]string)}
}

// SetFlowDir sets the current flow directory for relative path resolution.
func (v *Variables) SetFlowDir(dir string) {
	v.flowDir = dir
}

// FlowDir returns the current flow directory.
func (v *Variables) FlowDir() string {
	return v.flowDir
}

// Set stores a variable.
func (v *Variables) Set(name, value string) {
	v.values[name] = value
}

// SetAll stores multiple variables.
func (v *Variables) SetAll(vars map[string]string) {
	for k, val := range vars {
		v.Set(k, val)
	}
}

// Get returns a variable value, or "" when unset.
func (v *Variables) Get(name string) string {
	return v.values[name]
}

// Lookup returns a variable value and whether it is set.
func (v *Variables) Lookup(name string) (string, bool) {
	val, ok := v.values[name]
	return val, ok
}

// ImportSystemEnv imports process environment variables.
// Only upper-case names like THING or MY_VAR are imported.
func (v *Variables) ImportSystemEnv() {
	for _, env := range os.Environ() {
		name, value, ok := strings.Cut(env, "=")
		if ok && envVarPattern.MatchString(name) {
			v.Set(name, value)
		}
	}
}

// Expand replaces ${NAME} and ${NAME:-default} references. An unset
// variable without a default expands to the empty string.
func (v *Variables) Expand(text string) string {
	if !strings.Contains(text, "${") {
		return text
	}
	return refPattern.ReplaceAllStringFunc(text, func(ref string) string {
		m := refPattern.FindStringSubmatch(ref)
		if val, ok := v.values[m[1]]; ok && val != "" {
			return val
		}
		return m[2]
	})
}

// withEnv applies variables and returns a restore function.
func (v *Variables) withEnv(env map[string]string) func() {
	type saved struct {
		value string
		set   bool
	}
	old := make(map[string]saved, len(env))
	for k, val := range env {
		prev, ok := v.values[k]
		old[k] = saved{prev, ok}
		v.Set(k, v.Expand(val))
	}
	return func() {
		for k, s := range old {
			if s.set {
				v.values[k] = s.value
			} else {
				delete(v.values, k)
			}
		}
	}
}

// ParseInt parses an integer from string, supporting variable expansion.
func (v *Variables) ParseInt(s string, defaultVal int) int {
	s = strings.TrimSpace(v.Expand(s))
	s = strings.ReplaceAll(s, "_", "") // Support 10_000 format
	if val, err := strconv.Atoi(s); err == nil {
		return val
	}
	return defaultVal
}

// ResolvePath resolves a path relative to the current flow directory.
func (v *Variables) ResolvePath(p string) string {
	p = v.Expand(p)
	if filepath.IsAbs(p) || v.flowDir == "" {
		return p
	}
	return filepath.Join(v.flowDir, p)
}

// ResolveFSPath resolves a path inside an fs.FS, which always uses forward
// slashes.
func (v *Variables) ResolveFSPath(p string) string {
	p = v.Expand(p)
	dir := filepath.ToSlash(v.flowDir)
	if dir == "" {
		return path.Clean(p)
	}
	return path.Join(dir, p)
}

// ExpandStep returns a copy of step with variables expanded in its string
// fields. Nested steps are left alone; they are expanded when they run, so
// a loop body sees the values of its own iteration.
//
//nolint:gocyclo
func (v *Variables) ExpandStep(step flow.Step) flow.Step {
	switch s := step.(type) {
	case *flow.ActStep:
		c := *s
		c.Instruction = v.Expand(c.Instruction)
		return &c
	case *flow.AskStep:
		c := *s
		c.Query = v.Expand(c.Query)
		if str, ok := c.Expect.(string); ok {
			c.Expect = v.Expand(str)
		}
		return &c
	case *flow.AssertStep:
		c := *s
		c.Query = v.Expand(c.Query)
		return &c
	case *flow.WaitUntilStep:
		c := *s
		c.Condition = v.expandCondition(s.Condition)
		return &c
	case *flow.LaunchAppStep:
		c := *s
		c.AppID = v.Expand(c.AppID)
		return &c
	case *flow.StopAppStep:
		c := *s
		c.AppID = v.Expand(c.AppID)
		return &c
	case *flow.PressKeyStep:
		c := *s
		c.Key = v.Expand(c.Key)
		return &c
	case *flow.TapTextStep:
		c := *s
		c.Text = v.Expand(c.Text)
		return &c
	case *flow.AssertTextStep:
		c := *s
		c.Text = v.Expand(c.Text)
		c.Alternatives = v.expandAll(s.Alternatives)
		return &c
	case *flow.AnnotateStep:
		c := *s
		c.Name = v.Expand(c.Name)
		return &c
	case *flow.RunFlowStep:
		c := *s
		c.File = v.Expand(c.File)
		return &c
	case *flow.TestStep:
		c := *s
		c.Name = v.Expand(c.Name)
		return &c
	}
	return step
}

func (v *Variables) expandAll(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = v.Expand(s)
	}
	return out
}

func (v *Variables) expandCondition(c flow.Condition) flow.Condition {
	c.Visible = v.Expand(c.Visible)
	c.NotVisible = v.Expand(c.NotVisible)
	c.AnyOf = v.expandAll(c.AnyOf)
	c.AllOf = v.expandAll(c.AllOf)
	c.True = v.Expand(c.True)
	return c
}

// formatValue renders a backend answer for storage in a variable.
func formatValue(val interface{}) string {
	switch t := val.(type) {
	case nil:
		return ""
	case string:
		return t
	case []string:
		return strings.Join(t, "\n")
	case []interface{}:
		parts := make([]string, len(t))
		for i, p := range t {
			parts[i] = fmt.Sprint(p)
		}
		return strings.Join(parts, "\n")
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprint(t)
	}
}
