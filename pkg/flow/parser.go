package flow

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/samber/lo"
	"gopkg.in/yaml.v3"

	"github.com/devicelab-dev/pixelmon-runner/pkg/logger"
)

// ParseError represents a parsing error with location info.
type ParseError struct {
	Path    string
	Line    int
	Message string
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s:%d: %s", e.Path, e.Line, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// ParseFile parses a single scenario file.
func ParseFile(path string) (*Flow, error) {
	data, err := os.ReadFile(path) //#nosec G304 -- path is user-provided flow file
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return Parse(data, path)
}

// ParseFS parses a scenario file from fsys.
func ParseFS(fsys fs.FS, path string) (*Flow, error) {
	data, err := fs.ReadFile(fsys, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return Parse(data, path)
}

// Parse parses scenario YAML content: an optional config document, then
// the step list.
func Parse(data []byte, sourcePath string) (*Flow, error) {
	parts := splitYAMLDocuments(string(data))

	flow := &Flow{
		SourcePath: sourcePath,
	}

	if len(parts) == 0 {
		return nil, &ParseError{
			Path:    sourcePath,
			Line:    1,
			Message: "empty flow file",
		}
	}

	if len(parts) == 1 {
		if err := parseSteps(parts[0], flow); err != nil {
			return nil, err
		}
	} else {
		if err := parseConfig(parts[0], flow); err != nil {
			return nil, err
		}
		if err := parseSteps(parts[1], flow); err != nil {
			return nil, err
		}
	}

	return flow, nil
}

func splitYAMLDocuments(content string) []string {
	var parts []string
	var current strings.Builder
	inMultiline := false
	multilineIndent := 0

	lines := strings.Split(content, "\n")
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)

		if !inMultiline {
			if strings.HasSuffix(trimmed, "|") || strings.HasSuffix(trimmed, ">") ||
				strings.HasSuffix(trimmed, "|-") || strings.HasSuffix(trimmed, ">-") {
				inMultiline = true
				if i+1 < len(lines) {
					next := lines[i+1]
					multilineIndent = len(next) - len(strings.TrimLeft(next, " \t"))
				}
			}
		} else {
			indent := len(line) - len(strings.TrimLeft(line, " \t"))
			if trimmed != "" && indent < multilineIndent {
				inMultiline = false
			}
		}

		if !inMultiline && trimmed == "---" && strings.TrimLeft(line, " \t") == "---" {
			if strings.TrimSpace(current.String()) != "" {
				parts = append(parts, current.String())
			}
			current.Reset()
		} else {
			current.WriteString(line)
			current.WriteString("\n")
		}
	}

	if strings.TrimSpace(current.String()) != "" {
		parts = append(parts, current.String())
	}

	return parts
}

func parseConfig(content string, flow *Flow) error {
	var config Config
	if err := yaml.Unmarshal([]byte(content), &config); err != nil {
		return &ParseError{
			Path:    flow.SourcePath,
			Message: fmt.Sprintf("invalid config: %v", err),
		}
	}

	// Parse lifecycle hooks (onFlowStart, onFlowComplete)
	var rawConfig struct {
		OnFlowStart    []yaml.Node `yaml:"onFlowStart"`
		OnFlowComplete []yaml.Node `yaml:"onFlowComplete"`
	}
	if err := yaml.Unmarshal([]byte(content), &rawConfig); err != nil {
		return &ParseError{
			Path:    flow.SourcePath,
			Message: fmt.Sprintf("invalid config: %v", err),
		}
	}

	var err error
	if config.OnFlowStart, err = parseNodes(rawConfig.OnFlowStart, flow.SourcePath); err != nil {
		return err
	}
	if config.OnFlowComplete, err = parseNodes(rawConfig.OnFlowComplete, flow.SourcePath); err != nil {
		return err
	}

	flow.Config = config
	return nil
}

func parseSteps(content string, flow *Flow) error {
	var rawSteps []yaml.Node
	if err := yaml.Unmarshal([]byte(content), &rawSteps); err != nil {
		return &ParseError{
			Path:    flow.SourcePath,
			Message: fmt.Sprintf("invalid steps: %v", err),
		}
	}

	steps, err := parseNodes(rawSteps, flow.SourcePath)
	if err != nil {
		return err
	}
	flow.Steps = steps
	return nil
}

func parseNodes(nodes []yaml.Node, sourcePath string) ([]Step, error) {
	var steps []Step
	for i := range nodes {
		step, err := parseStep(&nodes[i], sourcePath)
		if err != nil {
			return nil, err
		}
		steps = append(steps, step)
	}
	return steps, nil
}

func parseStep(node *yaml.Node, sourcePath string) (Step, error) {
	// Handle scalar nodes like "- getTexts" (no colon, no params)
	if node.Kind == yaml.ScalarNode {
		stepType := node.Value
		if !isStepType(stepType) {
			return nil, &ParseError{
				Path:    sourcePath,
				Line:    node.Line,
				Message: fmt.Sprintf("unknown step type: %s", stepType),
			}
		}
		emptyNode := &yaml.Node{Kind: yaml.MappingNode, Line: node.Line}
		return decodeStep(StepType(stepType), emptyNode, sourcePath)
	}

	if node.Kind != yaml.MappingNode {
		return nil, &ParseError{
			Path:    sourcePath,
			Line:    node.Line,
			Message: "step must be a mapping or command name",
		}
	}

	if keys := commandKeys(node); len(keys) > 1 {
		return nil, &ParseError{
			Path:    sourcePath,
			Line:    node.Line,
			Message: fmt.Sprintf("step has more than one command: %s", strings.Join(keys, ", ")),
		}
	}

	stepType, valueNode := extractStepType(node)
	if stepType == "" || valueNode == nil {
		key := ""
		if len(node.Content) > 0 {
			key = node.Content[0].Value
		}
		return nil, &ParseError{
			Path:    sourcePath,
			Line:    node.Line,
			Message: fmt.Sprintf("unknown step type: %s", key),
		}
	}

	return decodeStep(StepType(stepType), valueNode, sourcePath)
}

func extractStepType(node *yaml.Node) (string, *yaml.Node) {
	for i := 0; i < len(node.Content)-1; i += 2 {
		key := node.Content[i].Value
		if isStepType(key) {
			return key, node.Content[i+1]
		}
	}
	return "", nil
}

// commandKeys lists the keys of a step mapping that name a command.
func commandKeys(node *yaml.Node) []string {
	var keys []string
	for i := 0; i < len(node.Content)-1; i += 2 {
		if key := node.Content[i].Value; isStepType(key) {
			keys = append(keys, key)
		}
	}
	return keys
}

func isStepType(key string) bool {
	switch StepType(key) {
	case StepAct, StepAsk, StepAssertTrue, StepAssertFalse, StepWaitFor, StepWaitUntil,
		StepLaunchApp, StepStopApp, StepPressKey,
		StepTapText, StepAssertText, StepGetTexts, StepAnnotate,
		StepRunFlow, StepRepeat, StepRetry, StepTest:
		return true
	}
	return false
}

// isNull reports whether a node is an empty value such as "- stopApp:".
func isNull(n *yaml.Node) bool {
	return n.Kind == yaml.ScalarNode && (n.Tag == "!!null" || n.Value == "")
}

//nolint:gocyclo
func decodeStep(stepType StepType, valueNode *yaml.Node, sourcePath string) (Step, error) {
	switch stepType {
	case StepAct:
		var s ActStep
		if valueNode.Kind == yaml.ScalarNode {
			s.Instruction = valueNode.Value
		} else if err := valueNode.Decode(&s); err != nil {
			return nil, wrapParseError(sourcePath, valueNode.Line, err)
		}
		if strings.TrimSpace(s.Instruction) == "" {
			return nil, &ParseError{Path: sourcePath, Line: valueNode.Line, Message: "act requires an instruction"}
		}
		s.StepType = stepType
		return &s, nil

	case StepAsk:
		var s AskStep
		if valueNode.Kind == yaml.ScalarNode {
			s.Query = valueNode.Value
		} else if err := valueNode.Decode(&s); err != nil {
			return nil, wrapParseError(sourcePath, valueNode.Line, err)
		}
		if strings.TrimSpace(s.Query) == "" {
			return nil, &ParseError{Path: sourcePath, Line: valueNode.Line, Message: "ask requires a query"}
		}
		switch s.Shape() {
		case "boolean", "string", "number", "list":
		default:
			return nil, &ParseError{Path: sourcePath, Line: valueNode.Line, Message: fmt.Sprintf("ask: unsupported type %q", s.ResultType)}
		}
		s.StepType = stepType
		return &s, nil

	case StepAssertTrue, StepAssertFalse:
		var s AssertStep
		if valueNode.Kind == yaml.ScalarNode {
			s.Query = valueNode.Value
		} else if err := valueNode.Decode(&s); err != nil {
			return nil, wrapParseError(sourcePath, valueNode.Line, err)
		}
		if strings.TrimSpace(s.Query) == "" {
			return nil, &ParseError{Path: sourcePath, Line: valueNode.Line, Message: fmt.Sprintf("%s requires a query", stepType)}
		}
		s.StepType = stepType
		s.Want = stepType == StepAssertTrue
		return &s, nil

	case StepWaitFor:
		var s WaitForStep
		if valueNode.Kind == yaml.ScalarNode {
			if err := valueNode.Decode(&s.Ms); err != nil {
				return nil, wrapParseError(sourcePath, valueNode.Line, err)
			}
		} else if err := valueNode.Decode(&s); err != nil {
			return nil, wrapParseError(sourcePath, valueNode.Line, err)
		}
		if s.Ms < 0 {
			return nil, &ParseError{Path: sourcePath, Line: valueNode.Line, Message: "waitFor: duration must not be negative"}
		}
		s.StepType = stepType
		return &s, nil

	case StepWaitUntil:
		var s WaitUntilStep
		if valueNode.Kind == yaml.MappingNode {
			if err := valueNode.Decode(&s); err != nil {
				return nil, wrapParseError(sourcePath, valueNode.Line, err)
			}
		}
		if err := valueNode.Decode(&s.Condition); err != nil {
			return nil, wrapParseError(sourcePath, valueNode.Line, err)
		}
		if !s.Condition.HasQueries() {
			return nil, &ParseError{Path: sourcePath, Line: valueNode.Line, Message: "waitUntil requires visible, notVisible, anyOf or allOf"}
		}
		s.StepType = stepType
		return &s, nil

	case StepLaunchApp:
		var s LaunchAppStep
		if valueNode.Kind == yaml.ScalarNode {
			s.AppID = valueNode.Value
		} else if err := valueNode.Decode(&s); err != nil {
			return nil, wrapParseError(sourcePath, valueNode.Line, err)
		}
		s.StepType = stepType
		return &s, nil

	case StepStopApp:
		var s StopAppStep
		if valueNode.Kind == yaml.ScalarNode {
			s.AppID = valueNode.Value
		} else if err := valueNode.Decode(&s); err != nil {
			return nil, wrapParseError(sourcePath, valueNode.Line, err)
		}
		s.StepType = stepType
		return &s, nil

	case StepPressKey:
		var s PressKeyStep
		if valueNode.Kind == yaml.ScalarNode {
			s.Key = valueNode.Value
		} else if err := valueNode.Decode(&s); err != nil {
			return nil, wrapParseError(sourcePath, valueNode.Line, err)
		}
		if s.Key == "" {
			return nil, &ParseError{Path: sourcePath, Line: valueNode.Line, Message: "pressKey requires a key"}
		}
		s.StepType = stepType
		return &s, nil

	case StepTapText:
		var s TapTextStep
		if valueNode.Kind == yaml.ScalarNode {
			s.Text = valueNode.Value
		} else if err := valueNode.Decode(&s); err != nil {
			return nil, wrapParseError(sourcePath, valueNode.Line, err)
		}
		s.StepType = stepType
		return &s, nil

	case StepAssertText:
		var s AssertTextStep
		if valueNode.Kind == yaml.ScalarNode {
			s.Text = valueNode.Value
		} else if err := valueNode.Decode(&s); err != nil {
			return nil, wrapParseError(sourcePath, valueNode.Line, err)
		}
		if s.Text == "" {
			return nil, &ParseError{Path: sourcePath, Line: valueNode.Line, Message: "assertText requires text"}
		}
		s.StepType = stepType
		return &s, nil

	case StepGetTexts:
		var s GetTextsStep
		if valueNode.Kind == yaml.ScalarNode {
			if !isNull(valueNode) {
				s.Variable = valueNode.Value
			}
		} else {
			if err := valueNode.Decode(&s); err != nil {
				return nil, wrapParseError(sourcePath, valueNode.Line, err)
			}
		}
		s.StepType = stepType
		return &s, nil

	case StepAnnotate:
		var s AnnotateStep
		if valueNode.Kind == yaml.ScalarNode {
			s.Name = valueNode.Value
		} else if err := valueNode.Decode(&s); err != nil {
			return nil, wrapParseError(sourcePath, valueNode.Line, err)
		}
		s.StepType = stepType
		return &s, nil

	case StepRepeat:
		return parseRepeatStep(valueNode, sourcePath)

	case StepRetry:
		return parseRetryStep(valueNode, sourcePath)

	case StepRunFlow:
		return parseRunFlowStep(valueNode, sourcePath)

	case StepTest:
		return parseTestStep(valueNode, sourcePath)
	}

	return nil, &ParseError{
		Path:    sourcePath,
		Line:    valueNode.Line,
		Message: fmt.Sprintf("unknown step type: %s", stepType),
	}
}

// parseRepeatStep handles repeat with nested commands.
func parseRepeatStep(valueNode *yaml.Node, sourcePath string) (Step, error) {
	var raw struct {
		Times    string      `yaml:"times"` // String for variable support
		While    *Condition  `yaml:"while"`
		Commands []yaml.Node `yaml:"commands"`
		Optional bool        `yaml:"optional"`
		Label    string      `yaml:"label"`
	}

	if err := valueNode.Decode(&raw); err != nil {
		return nil, wrapParseError(sourcePath, valueNode.Line, err)
	}
	if raw.Times == "" && raw.While.IsZero() {
		return nil, &ParseError{Path: sourcePath, Line: valueNode.Line, Message: "repeat requires times or while"}
	}

	s := &RepeatStep{
		BaseStep: BaseStep{
			StepType:  StepRepeat,
			Optional:  raw.Optional,
			StepLabel: raw.Label,
		},
		Times: raw.Times,
		While: raw.While,
	}

	steps, err := parseNodes(raw.Commands, sourcePath)
	if err != nil {
		return nil, err
	}
	s.Steps = steps
	return s, nil
}

// parseRetryStep handles retry with nested commands.
func parseRetryStep(valueNode *yaml.Node, sourcePath string) (Step, error) {
	var raw struct {
		MaxRetries string      `yaml:"maxRetries"` // String for variable support
		Commands   []yaml.Node `yaml:"commands"`
		Optional   bool        `yaml:"optional"`
		Label      string      `yaml:"label"`
	}

	if err := valueNode.Decode(&raw); err != nil {
		return nil, wrapParseError(sourcePath, valueNode.Line, err)
	}

	s := &RetryStep{
		BaseStep: BaseStep{
			StepType:  StepRetry,
			Optional:  raw.Optional,
			StepLabel: raw.Label,
		},
		MaxRetries: raw.MaxRetries,
	}

	steps, err := parseNodes(raw.Commands, sourcePath)
	if err != nil {
		return nil, err
	}
	s.Steps = steps
	return s, nil
}

// parseRunFlowStep handles runFlow with optional nested commands.
func parseRunFlowStep(valueNode *yaml.Node, sourcePath string) (Step, error) {
	s := &RunFlowStep{BaseStep: BaseStep{StepType: StepRunFlow}}

	if valueNode.Kind == yaml.ScalarNode {
		if isNull(valueNode) {
			return nil, &ParseError{Path: sourcePath, Line: valueNode.Line, Message: "runFlow requires file or commands"}
		}
		s.File = valueNode.Value
		return s, nil
	}

	var raw struct {
		File     string            `yaml:"file"`
		Commands []yaml.Node       `yaml:"commands"`
		When     *Condition        `yaml:"when"`
		Env      map[string]string `yaml:"env"`
		Optional bool              `yaml:"optional"`
		Label    string            `yaml:"label"`
	}

	if err := valueNode.Decode(&raw); err != nil {
		return nil, wrapParseError(sourcePath, valueNode.Line, err)
	}
	if raw.File == "" && len(raw.Commands) == 0 {
		return nil, &ParseError{Path: sourcePath, Line: valueNode.Line, Message: "runFlow requires file or commands"}
	}

	s.File = raw.File
	s.When = raw.When
	s.Env = raw.Env
	s.Optional = raw.Optional
	s.StepLabel = raw.Label

	steps, err := parseNodes(raw.Commands, sourcePath)
	if err != nil {
		return nil, err
	}
	s.Steps = steps
	return s, nil
}

// parseTestStep handles a named test case.
func parseTestStep(valueNode *yaml.Node, sourcePath string) (Step, error) {
	var raw struct {
		Name     string      `yaml:"name"`
		Timeout  int         `yaml:"timeout"`
		Commands []yaml.Node `yaml:"commands"`
		Optional bool        `yaml:"optional"`
		Label    string      `yaml:"label"`
	}

	if err := valueNode.Decode(&raw); err != nil {
		return nil, wrapParseError(sourcePath, valueNode.Line, err)
	}
	if strings.TrimSpace(raw.Name) == "" {
		return nil, &ParseError{Path: sourcePath, Line: valueNode.Line, Message: "test requires a name"}
	}
	if raw.Timeout < 0 {
		return nil, &ParseError{Path: sourcePath, Line: valueNode.Line, Message: "test: timeout must not be negative"}
	}

	s := &TestStep{
		BaseStep: BaseStep{
			StepType:  StepTest,
			Optional:  raw.Optional,
			StepLabel: raw.Label,
			TimeoutMs: raw.Timeout,
		},
		Name: raw.Name,
	}

	steps, err := parseNodes(raw.Commands, sourcePath)
	if err != nil {
		return nil, err
	}
	for _, st := range steps {
		if st.Type() == StepTest {
			return nil, &ParseError{Path: sourcePath, Line: valueNode.Line, Message: "test cases cannot be nested"}
		}
	}
	s.Steps = steps
	return s, nil
}

func wrapParseError(path string, line int, err error) error {
	return &ParseError{
		Path:    path,
		Line:    line,
		Message: err.Error(),
	}
}

// IsFlowFile reports whether path has a scenario file extension.
func IsFlowFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// ParseDirectory parses all YAML files directly in dir. Subdirectories hold
// shared subflows and are not run on their own.
func ParseDirectory(dir string, includeTags, excludeTags []string) ([]*Flow, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var flows []*Flow
	for _, entry := range entries {
		if entry.IsDir() || !IsFlowFile(entry.Name()) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		flow, parseErr := ParseFile(path)
		if parseErr != nil {
			logger.Warn("skipping %s: %v", path, parseErr)
			continue
		}
		if ShouldIncludeFlow(flow, includeTags, excludeTags) {
			flows = append(flows, flow)
		}
	}

	return flows, nil
}

// ShouldIncludeFlow checks if a flow matches tag filters.
func ShouldIncludeFlow(flow *Flow, includeTags, excludeTags []string) bool {
	if len(includeTags) > 0 && !lo.Some(flow.Config.Tags, includeTags) {
		return false
	}
	return !lo.Some(flow.Config.Tags, excludeTags)
}

// Walk visits every step depth-first, including hooks and nested steps.
func Walk(f *Flow, fn func(Step)) {
	var visit func([]Step)
	visit = func(steps []Step) {
		for _, s := range steps {
			fn(s)
			if c, ok := s.(Container); ok {
				visit(c.Children())
			}
		}
	}
	visit(f.Config.OnFlowStart)
	visit(f.Steps)
	visit(f.Config.OnFlowComplete)
}
