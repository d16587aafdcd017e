package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"time"

	"dprint-plugin-yapf/internal/util"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	ConfigFileName = "supervisor.yaml"
	DotEnvFileName = ".env"

	DefaultRuntime        = "python"
	DefaultWorkerScript   = "main.py"
	DefaultPackagesDir    = "packages"
	DefaultDependency     = "yapf"
	DefaultVersion        = "0.30.0"
	DefaultInstallTimeout = 10 * time.Minute
	DefaultPollInterval   = 3 * time.Second
	DefaultLogLevel       = "warn"
)

// Environment variables read by Load.
const (
	EnvRuntime        = "DPRINT_PLUGIN_YAPF_PYTHON"
	EnvLogLevel       = "DPRINT_PLUGIN_YAPF_LOG_LEVEL"
	EnvLogFile        = "DPRINT_PLUGIN_YAPF_LOG_FILE"
	EnvInstallTimeout = "DPRINT_PLUGIN_YAPF_INSTALL_TIMEOUT"
	EnvPollInterval   = "DPRINT_PLUGIN_YAPF_POLL_INTERVAL"
)

var ErrNoParentPID = errors.New("please provide a --parent-pid <id> flag")

// UsageError marks a problem with how the supervisor was invoked.
type UsageError struct {
	Err error
}

func (e *UsageError) Error() string { return e.Err.Error() }
func (e *UsageError) Unwrap() error { return e.Err }

type Dependency struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

// Requirement renders the dependency as an exact pip requirement.
func (d Dependency) Requirement() string {
	return d.Name + "==" + d.Version
}

func (d Dependency) String() string { return d.Requirement() }

// Config is the supervisor configuration. It is read-only after Load.
type Config struct {
	ParentPID  int    `yaml:"-"`
	Init       bool   `yaml:"-"`
	InstallDir string `yaml:"-"`

	Runtime        string              `yaml:"runtime"`
	WorkerScript   string              `yaml:"worker_script"`
	PackagesDir    string              `yaml:"packages_dir"`
	Dependency     Dependency          `yaml:"dependency"`
	InstallTimeout time.Duration       `yaml:"install_timeout"`
	PollInterval   time.Duration       `yaml:"poll_interval"`
	CompatFlags    map[string][]string `yaml:"compat_flags"`
	LogLevel       string              `yaml:"log_level"`
	LogFile        string              `yaml:"log_file"`
}

// Flags carries the command-line input to Load. Zero values mean "not set".
type Flags struct {
	ParentPID int
	// SkipParentPID is set by operator commands that run without a host.
	SkipParentPID bool
	Init          bool
	ConfigFile    string
	InstallDir    string
	LogLevel      string
	LogFile       string
}

// Default returns the built-in configuration for installDir.
func Default(installDir string) *Config {
	return &Config{
		InstallDir:     installDir,
		Runtime:        DefaultRuntime,
		WorkerScript:   DefaultWorkerScript,
		PackagesDir:    DefaultPackagesDir,
		Dependency:     Dependency{Name: DefaultDependency, Version: DefaultVersion},
		InstallTimeout: DefaultInstallTimeout,
		PollInterval:   DefaultPollInterval,
		CompatFlags: map[string][]string{
			// Debian-patched pip rejects --target without --system. Upstream
			// pip has no such option; the compat strategy checks
			// "pip install --help" and is skipped there.
			"linux": {"--system"},
		},
		LogLevel: DefaultLogLevel,
	}
}

// Load builds the configuration from defaults, supervisor.yaml, .env, the
// process environment and flags, in increasing order of precedence.
func Load(f Flags) (*Config, error) {
	if !f.SkipParentPID && f.ParentPID <= 0 {
		return nil, &UsageError{Err: ErrNoParentPID}
	}

	installDir := f.InstallDir
	if installDir == "" {
		dir, err := util.InstallDir()
		if err != nil {
			return nil, err
		}
		installDir = dir
	}

	cfg := Default(installDir)

	envMap, err := loadDotEnvIfExists(installDir)
	if err != nil {
		return nil, err
	}

	cfgPath := f.ConfigFile
	if cfgPath == "" {
		cfgPath = filepath.Join(installDir, ConfigFileName)
		if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
			cfgPath = ""
		}
	}
	if cfgPath != "" {
		if err := loadFile(cfg, cfgPath, envMap); err != nil {
			return nil, err
		}
	}

	if err := applyEnv(cfg, envMap); err != nil {
		return nil, err
	}

	cfg.ParentPID = f.ParentPID
	cfg.Init = f.Init
	if f.LogLevel != "" {
		cfg.LogLevel = f.LogLevel
	}
	if f.LogFile != "" {
		cfg.LogFile = f.LogFile
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFile(cfg *Config, path string, envMap map[string]string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("error reading config file %s: %w", path, err)
	}
	rendered := interpolateEnv(string(data), envMap)
	if err := yaml.Unmarshal([]byte(rendered), cfg); err != nil {
		return fmt.Errorf("error parsing config file %s: %w", path, err)
	}
	return nil
}

// loadDotEnvIfExists reads <dir>/.env. A missing file yields an empty map.
func loadDotEnvIfExists(dir string) (map[string]string, error) {
	envPath := filepath.Join(dir, DotEnvFileName)
	if _, err := os.Stat(envPath); os.IsNotExist(err) {
		return map[string]string{}, nil
	}
	m, err := godotenv.Read(envPath)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", envPath, err)
	}
	return m, nil
}

// lookupEnv prefers the real environment over .env values.
func lookupEnv(key string, envMap map[string]string) (string, bool) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v, true
	}
	if v, ok := envMap[key]; ok && v != "" {
		return v, true
	}
	return "", false
}

// interpolateEnv replaces ${VAR} and $VAR. Precedence: OS env > envMap.
func interpolateEnv(input string, envMap map[string]string) string {
	return os.Expand(input, func(name string) string {
		v, _ := lookupEnv(name, envMap)
		return v
	})
}

func applyEnv(cfg *Config, envMap map[string]string) error {
	if v, ok := lookupEnv(EnvRuntime, envMap); ok {
		cfg.Runtime = v
	}
	if v, ok := lookupEnv(EnvLogLevel, envMap); ok {
		cfg.LogLevel = v
	}
	if v, ok := lookupEnv(EnvLogFile, envMap); ok {
		cfg.LogFile = v
	}
	if v, ok := lookupEnv(EnvInstallTimeout, envMap); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", EnvInstallTimeout, v, err)
		}
		cfg.InstallTimeout = d
	}
	if v, ok := lookupEnv(EnvPollInterval, envMap); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", EnvPollInterval, v, err)
		}
		cfg.PollInterval = d
	}
	return nil
}

var pinnedVersion = regexp.MustCompile(`^[0-9]+(\.[0-9]+)*([a-zA-Z0-9.+-]*)$`)

// Validate checks the fields every command needs.
func Validate(cfg *Config) error {
	var validationErrors []string
	if strings.TrimSpace(cfg.Runtime) == "" {
		validationErrors = append(validationErrors, "runtime cannot be empty")
	}
	if strings.TrimSpace(cfg.WorkerScript) == "" {
		validationErrors = append(validationErrors, "worker_script cannot be empty")
	}
	if strings.TrimSpace(cfg.PackagesDir) == "" {
		validationErrors = append(validationErrors, "packages_dir cannot be empty")
	}
	if strings.TrimSpace(cfg.Dependency.Name) == "" {
		validationErrors = append(validationErrors, "dependency.name cannot be empty")
	}
	if !pinnedVersion.MatchString(cfg.Dependency.Version) {
		validationErrors = append(validationErrors,
			fmt.Sprintf("dependency.version %q must be an exact version", cfg.Dependency.Version))
	}
	if cfg.InstallTimeout < 0 {
		validationErrors = append(validationErrors, "install_timeout cannot be negative")
	}
	if cfg.PollInterval <= 0 {
		validationErrors = append(validationErrors, "poll_interval must be positive")
	}

	if len(validationErrors) > 0 {
		return fmt.Errorf("configuration validation failed:\n%s", strings.Join(validationErrors, "\n"))
	}
	return nil
}

// PackagesPath is the absolute isolated dependency directory.
func (c *Config) PackagesPath() string {
	if filepath.IsAbs(c.PackagesDir) {
		return c.PackagesDir
	}
	return filepath.Join(c.InstallDir, c.PackagesDir)
}

// PlatformCompatFlags returns the compatibility install flags for the
// running OS, if any.
func (c *Config) PlatformCompatFlags() []string {
	return c.CompatFlags[runtime.GOOS]
}
