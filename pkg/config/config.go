// Package config handles configuration for pixelmon-runner.
//
// Precedence, lowest first: built-in defaults, pixelmon.yaml, .env, the
// process environment, then CLI flags (applied by the caller).
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"

	"github.com/devicelab-dev/pixelmon-runner/pkg/core"
)

// Recognized environment variables.
const (
	EnvWorkspaceID   = "ASKUI_WORKSPACE_ID"
	EnvToken         = "ASKUI_TOKEN"
	EnvControllerURL = "ASKUI_CONTROLLER_URL"
	EnvSerial        = "ANDROID_SERIAL"
	EnvAppID         = "PIXELMON_APP_ID"
	EnvGoogleEmail   = "PIXELMON_GOOGLE_EMAIL"
	EnvRedisAddr     = "PIXELMON_REDIS_ADDR"
)

// Defaults.
const (
	DefaultControllerURL = "http://127.0.0.1:6769"
	DefaultAppID         = "com.PixelPalsStudio.PixelmonTCG"
	DefaultCallTimeout   = 120000 // ms
	DefaultTestTimeout   = 600000 // ms
	DefaultPollAttempts  = 5
	DefaultPollDelay     = 2000 // ms
	DefaultLockTTL       = 30 * 60 * 1000
	DefaultLockWait      = 10 * 60 * 1000
)

// Config represents the workspace configuration (pixelmon.yaml).
type Config struct {
	// Flow selection
	Flows       []string `yaml:"flows"`       // Flow files or directories
	IncludeTags []string `yaml:"includeTags"` // Tags to include
	ExcludeTags []string `yaml:"excludeTags"` // Tags to exclude

	// Variables passed to every flow. YAML scalars of any type are accepted.
	RawEnv map[string]interface{} `yaml:"env"`
	Env    map[string]string      `yaml:"-"`

	// Automation backend
	Controller ControllerConfig `yaml:"controller"`

	// Device settings
	Device  string `yaml:"device"`  // adb serial
	ADBPath string `yaml:"adbPath"` // adb binary
	AppID   string `yaml:"appId"`   // package under test

	// Execution settings
	TestTimeout int        `yaml:"testTimeout"` // ms
	Poll        PollConfig `yaml:"poll"`
	Output      string     `yaml:"output"` // report base directory

	// Device lease
	Lock LockConfig `yaml:"lock"`

	// Prometheus endpoint, empty to disable
	MetricsAddr string `yaml:"metricsAddr"`
}

// ControllerConfig locates and authenticates the AskUI controller.
type ControllerConfig struct {
	URL         string `yaml:"url"`
	WorkspaceID string `yaml:"workspaceId"`
	Token       string `yaml:"token"`
	Timeout     int    `yaml:"timeout"` // per-call, ms
}

// PollConfig is the default bounded-poll budget.
type PollConfig struct {
	Attempts int `yaml:"attempts"`
	Delay    int `yaml:"delay"` // ms
}

// LockConfig configures the Redis device lease.
type LockConfig struct {
	RedisAddr string `yaml:"redisAddr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	TTL       int    `yaml:"ttl"`  // ms
	Wait      int    `yaml:"wait"` // ms
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Env: map[string]string{},
		Controller: ControllerConfig{
			URL:     DefaultControllerURL,
			Timeout: DefaultCallTimeout,
		},
		AppID:       DefaultAppID,
		TestTimeout: DefaultTestTimeout,
		Poll: PollConfig{
			Attempts: DefaultPollAttempts,
			Delay:    DefaultPollDelay,
		},
		Output: "reports",
		Lock: LockConfig{
			TTL:  DefaultLockTTL,
			Wait: DefaultLockWait,
		},
	}
}

// Load loads configuration from a file over the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) //#nosec G304 -- user-provided config file
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, core.ErrInvalidConfig.WithMessage(fmt.Sprintf("parse %s", path)).WithCause(err)
	}
	if err := cfg.decodeEnv(); err != nil {
		return nil, core.ErrInvalidConfig.WithMessage(fmt.Sprintf("%s: env", path)).WithCause(err)
	}

	return cfg, nil
}

// LoadFromDir looks for pixelmon.yaml or pixelmon.yml in the directory.
func LoadFromDir(dir string) (*Config, error) {
	for _, name := range []string{"pixelmon.yaml", "pixelmon.yml"} {
		configPath := filepath.Join(dir, name)
		if _, err := os.Stat(configPath); err == nil {
			return Load(configPath)
		}
	}

	// No config file found, return defaults
	return Default(), nil
}

// Resolve builds the configuration for a run: the file (explicit path or
// the one found in dir), then .env from dir, then the process environment.
func Resolve(dir, path string) (*Config, error) {
	var cfg *Config
	var err error
	if path != "" {
		cfg, err = Load(path)
	} else {
		cfg, err = LoadFromDir(dir)
	}
	if err != nil {
		return nil, err
	}

	if err := LoadDotEnv(dir); err != nil {
		return nil, err
	}
	cfg.ApplyEnv()
	return cfg, nil
}

// LoadDotEnv loads dir/.env into the process environment. Variables that are
// already set are kept.
func LoadDotEnv(dir string) error {
	envPath := filepath.Join(dir, ".env")
	if _, err := os.Stat(envPath); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(envPath); err != nil {
		return core.ErrInvalidConfig.WithMessage("parse " + envPath).WithCause(err)
	}
	return nil
}

// ApplyEnv overrides settings from the process environment.
func (c *Config) ApplyEnv() {
	setFromEnv(&c.Controller.WorkspaceID, EnvWorkspaceID)
	setFromEnv(&c.Controller.Token, EnvToken)
	setFromEnv(&c.Controller.URL, EnvControllerURL)
	setFromEnv(&c.Device, EnvSerial)
	setFromEnv(&c.AppID, EnvAppID)
	setFromEnv(&c.Lock.RedisAddr, EnvRedisAddr)

	if email := os.Getenv(EnvGoogleEmail); email != "" {
		if c.Env == nil {
			c.Env = map[string]string{}
		}
		c.Env[EnvGoogleEmail] = email
	}
}

func setFromEnv(dst *string, name string) {
	if v, ok := os.LookupEnv(name); ok && v != "" {
		*dst = v
	}
}

// decodeEnv converts the env section to strings.
func (c *Config) decodeEnv() error {
	env := map[string]string{}
	if len(c.RawEnv) > 0 {
		dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
			WeaklyTypedInput: true,
			Result:           &env,
		})
		if err != nil {
			return err
		}
		if err := dec.Decode(c.RawEnv); err != nil {
			return err
		}
	}
	c.Env = env
	return nil
}

// Validate checks the settings a run depends on.
func (c *Config) Validate() error {
	switch {
	case c.Controller.URL == "":
		return core.ErrMissingRequired.WithMessage("controller url is required")
	case c.AppID == "":
		return core.ErrMissingRequired.WithMessage("appId is required")
	case c.TestTimeout < 0:
		return core.ErrInvalidConfig.WithMessage("testTimeout must not be negative")
	case c.Poll.Attempts < 0 || c.Poll.Delay < 0:
		return core.ErrInvalidConfig.WithMessage("poll attempts and delay must not be negative")
	case c.Lock.RedisAddr != "" && c.Lock.TTL <= 0:
		return core.ErrInvalidConfig.WithMessage("lock ttl must be positive")
	}
	return nil
}

// CallTimeout returns the per-call backend timeout.
func (c *Config) CallTimeout() time.Duration { return ms(c.Controller.Timeout) }

// TestTimeoutDuration returns the default per-test timeout.
func (c *Config) TestTimeoutDuration() time.Duration { return ms(c.TestTimeout) }

// PollDelay returns the default delay between poll attempts.
func (c *Config) PollDelay() time.Duration { return ms(c.Poll.Delay) }

// LockTTL returns the device lease TTL.
func (c *Config) LockTTL() time.Duration { return ms(c.Lock.TTL) }

// LockWait returns how long to wait for a busy device.
func (c *Config) LockWait() time.Duration { return ms(c.Lock.Wait) }

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }
