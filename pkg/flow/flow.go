// Package flow handles parsing and representation of Pixelmon scenario files.
package flow

// Flow represents a parsed scenario file.
type Flow struct {
	SourcePath string // Path to the source file
	Config     Config // Flow configuration (appId, tags, etc.)
	Steps      []Step // Steps to execute
}

// Config represents flow-level configuration.
type Config struct {
	AppID          string            `yaml:"appId"`
	Name           string            `yaml:"name"`
	Tags           []string          `yaml:"tags"`
	Env            map[string]string `yaml:"env"`
	Timeout        int               `yaml:"timeout"`     // Flow timeout in ms
	TestTimeout    int               `yaml:"testTimeout"` // Default per-test timeout in ms
	OnFlowStart    []Step            `yaml:"-"`           // Lifecycle hook: runs before commands
	OnFlowComplete []Step            `yaml:"-"`           // Lifecycle hook: runs after commands
}

// DisplayName returns the configured name, falling back to the file path.
func (f *Flow) DisplayName() string {
	if f.Config.Name != "" {
		return f.Config.Name
	}
	return f.SourcePath
}
