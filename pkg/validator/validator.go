// Package validator validates scenario files before execution.
// It parses all files upfront, resolves runFlow references, and detects errors.
package validator

import (
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/samber/lo"

	"github.com/devicelab-dev/pixelmon-runner/pkg/flow"
)

// ValidationError represents a validation error with context.
type ValidationError struct {
	File    string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.File, e.Message)
}

// Result contains the validation result.
type Result struct {
	// TestCases lists the top-level scenario files in execution order.
	// Files only reached through runFlow are validated but not listed.
	TestCases []string
	// Flows holds the parsed flow for each entry of TestCases.
	Flows []*flow.Flow
	// Errors contains all validation errors found.
	Errors []error
}

// IsValid returns true if there are no validation errors.
func (r *Result) IsValid() bool {
	return len(r.Errors) == 0
}

func (r *Result) addError(file, format string, args ...interface{}) {
	r.Errors = append(r.Errors, &ValidationError{File: file, Message: fmt.Sprintf(format, args...)})
}

// Validator validates flow files.
type Validator struct {
	fsys        fs.FS // nil means the OS filesystem
	includeTags []string
	excludeTags []string
}

// New creates a Validator reading from the OS filesystem.
func New(includeTags, excludeTags []string) *Validator {
	return &Validator{
		includeTags: includeTags,
		excludeTags: excludeTags,
	}
}

// NewFS creates a Validator reading from fsys, such as the embedded suite.
func NewFS(fsys fs.FS, includeTags, excludeTags []string) *Validator {
	v := New(includeTags, excludeTags)
	v.fsys = fsys
	return v
}

// Validate validates a file or directory. A directory contributes the
// scenario files directly inside it; subdirectories hold shared subflows.
func (v *Validator) Validate(p string) *Result {
	result := &Result{}

	info, err := v.stat(p)
	if err != nil {
		result.addError(p, "cannot access: %v", err)
		return result
	}

	files := []string{p}
	if info.IsDir() {
		files, err = v.collectFlowFiles(p)
		if err != nil {
			result.addError(p, "failed to scan directory: %v", err)
			return result
		}
	}

	parsed := make(map[string]*flow.Flow)
	for _, file := range files {
		v.validateFile(file, result, parsed, nil)
	}

	return result
}

// collectFlowFiles lists the .yaml/.yml files directly in dir, sorted.
func (v *Validator) collectFlowFiles(dir string) ([]string, error) {
	entries, err := v.readDir(dir)
	if err != nil {
		return nil, err
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() || !flow.IsFlowFile(e.Name()) {
			continue
		}
		files = append(files, v.join(dir, e.Name()))
	}
	sort.Strings(files)
	return files, nil
}

// validateFile validates a single file and its runFlow dependencies. chain
// holds the files currently being resolved, outermost first.
func (v *Validator) validateFile(filePath string, result *Result, parsed map[string]*flow.Flow, chain []string) {
	// Check for circular dependency
	if lo.Contains(chain, filePath) {
		cycle := append(append([]string{}, chain...), filePath)
		result.addError(filePath, "circular dependency detected: %s", strings.Join(cycle, " -> "))
		return
	}

	f, seen := parsed[filePath]
	if !seen {
		var err error
		f, err = v.parse(filePath)
		if err != nil {
			result.addError(filePath, "parse error: %v", err)
			parsed[filePath] = nil
			return
		}
		parsed[filePath] = f
		v.checkFlow(f, result)
	}
	if f == nil {
		return
	}

	// Tag filters apply to top-level files only, not runFlow targets
	if len(chain) == 0 {
		if !flow.ShouldIncludeFlow(f, v.includeTags, v.excludeTags) {
			return
		}
		if lo.Contains(result.TestCases, filePath) {
			return
		}
		result.TestCases = append(result.TestCases, filePath)
		result.Flows = append(result.Flows, f)
	} else if seen {
		// Already resolved through another path
		return
	}

	newChain := append(append([]string{}, chain...), filePath)
	v.validateRunFlowSteps(f.Config.OnFlowStart, filePath, result, parsed, newChain)
	v.validateRunFlowSteps(f.Steps, filePath, result, parsed, newChain)
	v.validateRunFlowSteps(f.Config.OnFlowComplete, filePath, result, parsed, newChain)
}

// checkFlow reports structural problems the parser accepts.
func (v *Validator) checkFlow(f *flow.Flow, result *Result) {
	if len(f.Steps) == 0 {
		result.addError(f.SourcePath, "flow has no steps")
	}

	names := map[string]bool{}
	flow.Walk(f, func(s flow.Step) {
		t, ok := s.(*flow.TestStep)
		if !ok {
			return
		}
		if names[t.Name] {
			result.addError(f.SourcePath, "duplicate test name %q", t.Name)
		}
		names[t.Name] = true
		if len(t.Steps) == 0 {
			result.addError(f.SourcePath, "test %q has no steps", t.Name)
		}
	})
}

// validateRunFlowSteps finds and validates runFlow references in steps.
func (v *Validator) validateRunFlowSteps(steps []flow.Step, parentFile string, result *Result, parsed map[string]*flow.Flow, chain []string) {
	parentDir := v.dir(parentFile)

	for _, step := range steps {
		if s, ok := step.(*flow.RunFlowStep); ok && s.File != "" {
			// Variable paths are only known at run time
			if !strings.Contains(s.File, "${") {
				refPath := v.resolve(parentDir, s.File)
				if _, err := v.stat(refPath); err != nil {
					result.addError(parentFile, "runFlow target %s not found", s.File)
				} else {
					v.validateFile(refPath, result, parsed, chain)
				}
			}
		}
		if c, ok := step.(flow.Container); ok {
			v.validateRunFlowSteps(c.Children(), parentFile, result, parsed, chain)
		}
	}
}

func (v *Validator) parse(p string) (*flow.Flow, error) {
	if v.fsys != nil {
		return flow.ParseFS(v.fsys, p)
	}
	return flow.ParseFile(p)
}

func (v *Validator) stat(p string) (fs.FileInfo, error) {
	if v.fsys != nil {
		return fs.Stat(v.fsys, p)
	}
	return os.Stat(p)
}

func (v *Validator) readDir(dir string) ([]fs.DirEntry, error) {
	if v.fsys != nil {
		return fs.ReadDir(v.fsys, dir)
	}
	return os.ReadDir(dir)
}

func (v *Validator) dir(p string) string {
	if v.fsys != nil {
		return path.Dir(p)
	}
	return filepath.Dir(p)
}

func (v *Validator) join(dir, name string) string {
	if v.fsys != nil {
		return path.Join(dir, name)
	}
	return filepath.Join(dir, name)
}

// resolve resolves a runFlow file the same way the executor does.
func (v *Validator) resolve(baseDir, file string) string {
	if v.fsys != nil {
		return path.Join(baseDir, file)
	}
	if filepath.IsAbs(file) {
		return file
	}
	return filepath.Join(baseDir, file)
}
