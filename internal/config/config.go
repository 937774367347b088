// Package config loads layered JSONC configuration for kanbus.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/tailscale/hujson"
)

// Config errors.
var (
	ErrConfigFileNotFound = errors.New("config file not found")
	ErrConfigFileRead     = errors.New("cannot read config file")
	ErrConfigInvalid      = errors.New("invalid config file")
	ErrNegativeValue      = errors.New("value cannot be negative")
	ErrValueTooSmall      = errors.New("value below minimum")
)

// FileName is the project config file looked up in the working directory.
const FileName = ".kanbus.json"

// Config holds all configuration options.
type Config struct {
	// Daemon enables serving the index through a background daemon.
	Daemon bool `json:"daemon"`
	// IndexWorkers is the number of parse workers; 0 means GOMAXPROCS.
	IndexWorkers int `json:"index_workers"`
	// DaemonSpawnRetries and DaemonSpawnIntervalMS bound how long a client
	// waits for a daemon it started.
	DaemonSpawnRetries    int `json:"daemon_spawn_retries"`
	DaemonSpawnIntervalMS int `json:"daemon_spawn_interval_ms"`
	// DaemonLog is the daemon log file; empty means <project>/.cache/daemon.log.
	DaemonLog string `json:"daemon_log,omitempty"`

	// Resolved, not serialized.
	EffectiveCwd string  `json:"-"`
	Sources      Sources `json:"-"`
}

// Sources tracks which config files were loaded.
type Sources struct {
	Global  string // global config path if loaded
	Project string // project or explicit config path if loaded
}

// SpawnInterval returns DaemonSpawnIntervalMS as a duration.
func (c Config) SpawnInterval() time.Duration {
	return time.Duration(c.DaemonSpawnIntervalMS) * time.Millisecond
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		Daemon:                true,
		DaemonSpawnRetries:    50,
		DaemonSpawnIntervalMS: 20,
	}
}

// fileConfig is one config file. Pointers distinguish "unset" from zero.
type fileConfig struct {
	Daemon                *bool   `json:"daemon"`
	IndexWorkers          *int    `json:"index_workers"`
	DaemonSpawnRetries    *int    `json:"daemon_spawn_retries"`
	DaemonSpawnIntervalMS *int    `json:"daemon_spawn_interval_ms"`
	DaemonLog             *string `json:"daemon_log"`
}

// LoadInput holds the inputs for Load.
type LoadInput struct {
	WorkDirOverride string            // -C/--cwd flag value; if empty, os.Getwd() is used
	ConfigPath      string            // -c/--config flag value
	NoDaemon        bool              // --no-daemon flag
	Env             map[string]string // environment variables
}

// Load builds the configuration with the following precedence (highest wins):
// 1. Defaults
// 2. Global user config ($XDG_CONFIG_HOME/kanbus/config.json or ~/.config/kanbus/config.json)
// 3. Project config file in the working directory (.kanbus.json, if exists)
// 4. Explicit config file via ConfigPath (replaces 3, must exist)
// 5. CLI overrides.
func Load(input LoadInput) (Config, error) {
	workDir := input.WorkDirOverride
	if workDir == "" {
		var err error

		workDir, err = os.Getwd()
		if err != nil {
			return Config{}, fmt.Errorf("cannot get working directory: %w", err)
		}
	}

	workDir, err := filepath.Abs(workDir)
	if err != nil {
		return Config{}, fmt.Errorf("resolving working directory: %w", err)
	}

	cfg := Default()

	if globalPath := globalConfigPath(input.Env); globalPath != "" {
		globalCfg, loaded, loadErr := loadFile(globalPath, false)
		if loadErr != nil {
			return Config{}, loadErr
		}

		if loaded {
			cfg = merge(cfg, globalCfg)
			cfg.Sources.Global = globalPath
		}
	}

	projectPath, mustExist := filepath.Join(workDir, FileName), false

	if input.ConfigPath != "" {
		projectPath, mustExist = input.ConfigPath, true
		if !filepath.IsAbs(projectPath) {
			projectPath = filepath.Join(workDir, projectPath)
		}
	}

	projectCfg, loaded, err := loadFile(projectPath, mustExist)
	if err != nil {
		return Config{}, err
	}

	if loaded {
		cfg = merge(cfg, projectCfg)
		cfg.Sources.Project = projectPath
	}

	if input.NoDaemon {
		cfg.Daemon = false
	}

	err = validate(cfg)
	if err != nil {
		return Config{}, err
	}

	cfg.EffectiveCwd = workDir

	return cfg, nil
}

// globalConfigPath returns $XDG_CONFIG_HOME/kanbus/config.json, falling back
// to ~/.config/kanbus/config.json, or "" if neither variable is set.
func globalConfigPath(env map[string]string) string {
	if xdgConfig := env["XDG_CONFIG_HOME"]; xdgConfig != "" {
		return filepath.Join(xdgConfig, "kanbus", "config.json")
	}

	if home := env["HOME"]; home != "" {
		return filepath.Join(home, ".config", "kanbus", "config.json")
	}

	return ""
}

// loadFile reads one config file. A missing optional file is not an error.
func loadFile(path string, mustExist bool) (fileConfig, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if !mustExist && errors.Is(err, os.ErrNotExist) {
			return fileConfig{}, false, nil
		}

		if errors.Is(err, os.ErrNotExist) {
			return fileConfig{}, false, fmt.Errorf("%w: %s", ErrConfigFileNotFound, path)
		}

		return fileConfig{}, false, fmt.Errorf("%w %s: %w", ErrConfigFileRead, path, err)
	}

	cfg, err := parse(data)
	if err != nil {
		return fileConfig{}, false, fmt.Errorf("%w %s: %w", ErrConfigInvalid, path, err)
	}

	return cfg, true, nil
}

func parse(data []byte) (fileConfig, error) {
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return fileConfig{}, fmt.Errorf("invalid JSONC: %w", err)
	}

	var cfg fileConfig

	err = json.Unmarshal(standardized, &cfg)
	if err != nil {
		return fileConfig{}, fmt.Errorf("invalid JSON: %w", err)
	}

	return cfg, nil
}

func merge(base Config, overlay fileConfig) Config {
	if overlay.Daemon != nil {
		base.Daemon = *overlay.Daemon
	}

	if overlay.IndexWorkers != nil {
		base.IndexWorkers = *overlay.IndexWorkers
	}

	if overlay.DaemonSpawnRetries != nil {
		base.DaemonSpawnRetries = *overlay.DaemonSpawnRetries
	}

	if overlay.DaemonSpawnIntervalMS != nil {
		base.DaemonSpawnIntervalMS = *overlay.DaemonSpawnIntervalMS
	}

	if overlay.DaemonLog != nil {
		base.DaemonLog = *overlay.DaemonLog
	}

	return base
}

func validate(cfg Config) error {
	fields := []struct {
		name  string
		value int
		min   int
	}{
		{"index_workers", cfg.IndexWorkers, 0},
		// Zero retries would never dial a freshly spawned daemon.
		{"daemon_spawn_retries", cfg.DaemonSpawnRetries, 1},
		{"daemon_spawn_interval_ms", cfg.DaemonSpawnIntervalMS, 0},
	}

	for _, field := range fields {
		if field.value < 0 {
			return fmt.Errorf("%w: %s: %w (%d)", ErrConfigInvalid, field.name, ErrNegativeValue, field.value)
		}

		if field.value < field.min {
			return fmt.Errorf("%w: %s: %w %d (%d)", ErrConfigInvalid, field.name, ErrValueTooSmall, field.min, field.value)
		}
	}

	return nil
}
