// Package config loads the controller's settings from a YAML file with
// environment-variable overrides, validating the result once at startup.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/vishvananda/netlink"
	"gopkg.in/yaml.v2"

	"diverter/internal/ctlerrors"
)

// EnvPrefix is the fixed project tag environment overrides are keyed under.
const EnvPrefix = "DIVERTER_"

const (
	DefaultSocketPath = "/var/run/diverter.sock"
	DefaultPIDFile     = "/var/run/diverter.pid"
	DefaultLogFile     = "/var/log/diverter/daemon.log"
)

// Config is the immutable, validated settings record used by every other
// component. It is created once at startup and never mutated afterward.
type Config struct {
	StrategyFile      string `yaml:"strategy"`
	Interface         string `yaml:"interface"`
	GameFilterEnabled bool   `yaml:"gamefilter"`
	WorkerBinary      string `yaml:"nfqws_path"`
	DebugMode         bool   `yaml:"debug"`
	NoInteractive     bool   `yaml:"nointeractive"`
	LogColor          *bool  `yaml:"log_color"`
	LogLevel          string `yaml:"log_level"`
	SocketPath        string `yaml:"socket_path"`
	PIDFile           string `yaml:"pid_file"`
	LogFile           string `yaml:"log_file"`
	RouterMode        bool   `yaml:"router_mode"`

	// Source is diagnostic output for the `config` IPC command. When a
	// config file is read, a fixed set of keys is marked "file" whether or
	// not the file sets them; string fields overridden from the environment
	// are marked "env" (boolean overrides are not recorded). Load-time
	// warnings are stored under "*_warning" keys.
	Source map[string]string `yaml:"-"`
}

// InterfaceAny is the sentinel Interface value meaning "match all
// interfaces" rather than a specific named one.
const InterfaceAny = "any"

func defaults() *Config {
	return &Config{
		SocketPath: DefaultSocketPath,
		PIDFile:    DefaultPIDFile,
		LogFile:    DefaultLogFile,
		LogLevel:   "info",
		Source:     map[string]string{},
	}
}

// Load reads path (falling back to discovery from the current working
// directory when path is empty), applies environment overrides, normalizes
// path fields, and validates the result.
func Load(path string) (*Config, error) {
	cfg := defaults()

	resolved := path
	if resolved == "" {
		var err error
		resolved, err = discover()
		if err != nil {
			return nil, err
		}
	}

	if resolved != "" {
		data, err := os.ReadFile(resolved)
		if err != nil {
			return nil, ctlerrors.NewConfigError("strategy", resolved, fmt.Sprintf("reading config file %s", resolved))
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, ctlerrors.NewConfigError("", resolved, fmt.Sprintf("parsing config file %s: %v", resolved, err))
		}
		for _, k := range []string{"strategy", "interface", "gamefilter", "nfqws_path", "socket_path", "pid_file", "log_file", "log_level"} {
			cfg.Source[k] = "file"
		}
	}

	applyEnvOverrides(cfg)
	normalizePaths(cfg, filepath.Dir(resolved))

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// discover walks from the current directory up to three parents, then
// falls back to a fixed system path, looking for a readable config file.
func discover() (string, error) {
	const name = "config.yml"
	dir, err := os.Getwd()
	if err != nil {
		dir = "."
	}
	for i := 0; i < 4; i++ {
		candidate := filepath.Join(dir, name)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	systemPath := "/etc/diverter/config.yml"
	if _, err := os.Stat(systemPath); err == nil {
		return systemPath, nil
	}
	return "", nil
}

func applyEnvOverrides(cfg *Config) {
	strOverride := func(key string, field *string, source string) {
		if v, ok := os.LookupEnv(EnvPrefix + key); ok {
			*field = v
			cfg.Source[source] = "env"
		}
	}
	boolOverride := func(key string, field *bool) {
		if v, ok := os.LookupEnv(EnvPrefix + key); ok {
			*field, _ = strconv.ParseBool(v)
		}
	}

	strOverride("STRATEGY", &cfg.StrategyFile, "strategy")
	strOverride("INTERFACE", &cfg.Interface, "interface")
	strOverride("NFQWS_PATH", &cfg.WorkerBinary, "nfqws_path")
	strOverride("SOCKET_PATH", &cfg.SocketPath, "socket_path")
	strOverride("PID_FILE", &cfg.PIDFile, "pid_file")
	strOverride("LOG_FILE", &cfg.LogFile, "log_file")
	strOverride("LOG_LEVEL", &cfg.LogLevel, "log_level")
	boolOverride("GAMEFILTER", &cfg.GameFilterEnabled)
	boolOverride("DEBUG", &cfg.DebugMode)
	boolOverride("NOINTERACTIVE", &cfg.NoInteractive)
	boolOverride("ROUTER_MODE", &cfg.RouterMode)

	if v, ok := os.LookupEnv(EnvPrefix + "LOG_COLOR"); ok {
		b, _ := strconv.ParseBool(v)
		cfg.LogColor = &b
	}
}

func normalizePaths(cfg *Config, baseDir string) {
	if baseDir == "" || baseDir == "." {
		if exe, err := os.Executable(); err == nil {
			baseDir = filepath.Dir(exe)
		}
	}
	normalize := func(p *string) {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(baseDir, *p)
		}
	}
	normalize(&cfg.StrategyFile)
	normalize(&cfg.WorkerBinary)
}

func validate(cfg *Config) error {
	if strings.TrimSpace(cfg.StrategyFile) == "" {
		return ctlerrors.NewConfigError("strategy", "", "strategy file path is required")
	}
	if _, err := os.Stat(cfg.StrategyFile); err != nil {
		return ctlerrors.NewConfigError("strategy", cfg.StrategyFile, fmt.Sprintf("strategy file %s is not readable", cfg.StrategyFile))
	}
	if strings.TrimSpace(cfg.Interface) == "" {
		return ctlerrors.NewConfigError("interface", "", "interface is required")
	}
	if cfg.WorkerBinary == "" {
		return ctlerrors.NewConfigError("nfqws_path", "", "worker binary path is required")
	}
	if _, err := os.Stat(cfg.WorkerBinary); err != nil {
		return ctlerrors.NewConfigError("nfqws_path", cfg.WorkerBinary, fmt.Sprintf("worker binary %s is not readable", cfg.WorkerBinary))
	}
	if cfg.Interface != InterfaceAny {
		if _, err := netlink.LinkByName(cfg.Interface); err != nil {
			// Warn, do not fail: the interface may appear later (e.g. a
			// USB WAN adapter plugged in after boot).
			cfg.Source["interface_warning"] = fmt.Sprintf("interface %q not present at load time", cfg.Interface)
		}
	}
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		cfg.Source["log_level_warning"] = fmt.Sprintf("unrecognized log level %q, defaulting to info", cfg.LogLevel)
		cfg.LogLevel = "info"
	}
	if cfg.SocketPath != "" {
		dir := filepath.Dir(cfg.SocketPath)
		if _, err := os.Stat(dir); err != nil {
			cfg.Source["socket_path_warning"] = fmt.Sprintf("socket directory %s does not exist", dir)
		}
	}
	return nil
}

// Redacted returns a copy suitable for returning over IPC: currently there
// is nothing secret in this record, but the copy keeps callers from
// mutating the live config through the IPC response path.
func (c *Config) Redacted() *Config {
	copyVal := *c
	copyVal.Source = make(map[string]string, len(c.Source))
	for k, v := range c.Source {
		copyVal.Source[k] = v
	}
	return &copyVal
}
