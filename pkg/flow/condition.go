package flow

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Condition gates runFlow (when) and repeat (while), and is the target of
// waitUntil. Every populated field must hold.
type Condition struct {
	Visible    string   // query that must answer true
	NotVisible string   // query that must answer false
	AnyOf      []string // at least one query must answer true
	AllOf      []string // every query must answer true
	True       string   // variable expression; holds when non-empty and not false/0
}

// UnmarshalYAML accepts a scalar (shorthand for visible) or a mapping.
// Unknown keys are ignored so a condition can share a mapping with step
// options.
func (c *Condition) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		c.Visible = value.Value
		return nil
	}
	if value.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: condition must be a query or a mapping", value.Line)
	}
	for i := 0; i < len(value.Content)-1; i += 2 {
		key, v := value.Content[i].Value, value.Content[i+1]
		switch key {
		case "visible":
			c.Visible = v.Value
		case "notVisible":
			c.NotVisible = v.Value
		case "true":
			c.True = v.Value
		case "anyOf":
			if err := v.Decode(&c.AnyOf); err != nil {
				return fmt.Errorf("line %d: anyOf: %w", v.Line, err)
			}
		case "allOf":
			if err := v.Decode(&c.AllOf); err != nil {
				return fmt.Errorf("line %d: allOf: %w", v.Line, err)
			}
		}
	}
	return nil
}

// IsZero reports whether no clause is set.
func (c *Condition) IsZero() bool {
	return c == nil || (c.Visible == "" && c.NotVisible == "" && len(c.AnyOf) == 0 && len(c.AllOf) == 0 && c.True == "")
}

// HasQueries reports whether evaluating the condition needs the backend.
func (c *Condition) HasQueries() bool {
	return c != nil && (c.Visible != "" || c.NotVisible != "" || len(c.AnyOf) > 0 || len(c.AllOf) > 0)
}

// Describe renders the condition for logs and reports.
func (c *Condition) Describe() string {
	if c == nil {
		return ""
	}
	var parts []string
	if c.Visible != "" {
		parts = append(parts, fmt.Sprintf("visible %q", c.Visible))
	}
	if c.NotVisible != "" {
		parts = append(parts, fmt.Sprintf("notVisible %q", c.NotVisible))
	}
	if len(c.AnyOf) > 0 {
		parts = append(parts, fmt.Sprintf("anyOf %d", len(c.AnyOf)))
	}
	if len(c.AllOf) > 0 {
		parts = append(parts, fmt.Sprintf("allOf %d", len(c.AllOf)))
	}
	if c.True != "" {
		parts = append(parts, "true "+c.True)
	}
	return strings.Join(parts, ", ")
}

// Truthy reports whether an expanded variable expression holds.
func Truthy(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "false", "0", "no", "null", "undefined":
		return false
	}
	return true
}
