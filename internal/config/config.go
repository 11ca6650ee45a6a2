// Package config resolves runtime settings from defaults, an optional TOML
// file and GO_LIVE_PREVIEW_* environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config captures runtime configuration for the plugin.
type Config struct {
	Addr    string
	Preview Preview
	State   State
	Watch   Watch
	Logging Logging

	// File is the config file that was read, if any.
	File string
}

type Preview struct {
	ThrottleDelay    time.Duration
	TopmostLineDelay time.Duration
	Filetypes        []string
	HighlightStyle   string

	ScrollPreviewWithEditor     bool
	ScrollEditorWithPreview     bool
	DoubleClickToSwitchToEditor bool
}

type State struct {
	// Path of the session database. Empty disables persistence.
	Path string
}

type Watch struct {
	Enabled bool
}

type Logging struct {
	FilePath  string
	Verbosity int
}

const (
	envConfigFile       = "GO_LIVE_PREVIEW_CONFIG"
	envAddr             = "GO_LIVE_PREVIEW_ADDR"
	envThrottleDelay    = "GO_LIVE_PREVIEW_THROTTLE_DELAY"
	envTopmostLineDelay = "GO_LIVE_PREVIEW_TOPMOST_LINE_DELAY"
	envFiletypes        = "GO_LIVE_PREVIEW_FILETYPES"
	envHighlightStyle   = "GO_LIVE_PREVIEW_HIGHLIGHT_STYLE"
	envStatePath        = "GO_LIVE_PREVIEW_STATE_PATH"
	envWatch            = "GO_LIVE_PREVIEW_WATCH"
	envLogFile          = "GO_LIVE_PREVIEW_LOG_FILE"
	envLogVerbosity     = "GO_LIVE_PREVIEW_LOG_VERBOSITY"
)

// Default returns the built-in configuration. State is not persisted.
func Default() Config {
	return Config{
		Addr: "127.0.0.1:7777",
		Preview: Preview{
			ThrottleDelay:    300 * time.Millisecond,
			TopmostLineDelay: 50 * time.Millisecond,
			Filetypes:        []string{"markdown", "mydoc"},
			HighlightStyle:   "github",

			ScrollPreviewWithEditor:     true,
			ScrollEditorWithPreview:     true,
			DoubleClickToSwitchToEditor: true,
		},
		Watch: Watch{Enabled: true},
	}
}

// Load reads configuration for the running process.
func Load() (Config, error) {
	return LoadEnv(os.Environ())
}

// LoadEnv allows tests to supply a specific environment.
func LoadEnv(environ []string) (Config, error) {
	env := parseEnv(environ)
	cfg := Default()
	cfg.State.Path = defaultStatePath(env)

	path, explicit := configFilePath(env)
	if path != "" {
		found, err := applyFile(&cfg, path)
		switch {
		case err != nil:
			return Config{}, err
		case found:
			cfg.File = path
		case explicit:
			return Config{}, fmt.Errorf("config file %s does not exist", path)
		}
	}

	cfg.Addr = envOrDefault(env, envAddr, cfg.Addr)
	cfg.Preview.ThrottleDelay = envOrDuration(env, envThrottleDelay, cfg.Preview.ThrottleDelay)
	cfg.Preview.TopmostLineDelay = envOrDuration(env, envTopmostLineDelay, cfg.Preview.TopmostLineDelay)
	cfg.Preview.Filetypes = envOrList(env, envFiletypes, cfg.Preview.Filetypes)
	cfg.Preview.HighlightStyle = envOrDefault(env, envHighlightStyle, cfg.Preview.HighlightStyle)
	cfg.State.Path = envOrDefault(env, envStatePath, cfg.State.Path)
	cfg.Watch.Enabled = envOrBool(env, envWatch, cfg.Watch.Enabled)
	cfg.Logging.FilePath = envOrDefault(env, envLogFile, cfg.Logging.FilePath)
	cfg.Logging.Verbosity = envOrInt(env, envLogVerbosity, cfg.Logging.Verbosity)

	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate ensures the configuration can be used.
func Validate(cfg Config) error {
	var errs []error
	if strings.TrimSpace(cfg.Addr) == "" {
		errs = append(errs, errors.New("addr must not be empty"))
	}
	if cfg.Preview.ThrottleDelay < 0 {
		errs = append(errs, fmt.Errorf("throttle delay must be >= 0 (got %s)", cfg.Preview.ThrottleDelay))
	}
	if cfg.Preview.TopmostLineDelay < 0 {
		errs = append(errs, fmt.Errorf("topmost line delay must be >= 0 (got %s)", cfg.Preview.TopmostLineDelay))
	}
	if len(cfg.Preview.Filetypes) == 0 {
		errs = append(errs, errors.New("at least one filetype is required"))
	}
	return errors.Join(errs...)
}

// IsPreviewable reports whether filetype is configured for previews.
func (c Config) IsPreviewable(filetype string) bool {
	for _, ft := range c.Preview.Filetypes {
		if ft == filetype {
			return true
		}
	}
	return false
}

type fileConfig struct {
	Addr    *string `toml:"addr"`
	Preview struct {
		ThrottleDelay               *time.Duration `toml:"throttle_delay"`
		TopmostLineDelay            *time.Duration `toml:"topmost_line_delay"`
		Filetypes                   []string       `toml:"filetypes"`
		HighlightStyle              *string        `toml:"highlight_style"`
		ScrollPreviewWithEditor     *bool          `toml:"scroll_preview_with_editor"`
		ScrollEditorWithPreview     *bool          `toml:"scroll_editor_with_preview"`
		DoubleClickToSwitchToEditor *bool          `toml:"double_click_to_switch_to_editor"`
	} `toml:"preview"`
	State struct {
		Path *string `toml:"path"`
	} `toml:"state"`
	Watch struct {
		Enabled *bool `toml:"enabled"`
	} `toml:"watch"`
	Logging struct {
		File      *string `toml:"file"`
		Verbosity *int    `toml:"verbosity"`
	} `toml:"logging"`
}

// applyFile overlays the TOML file at path onto cfg and reports whether the
// file existed.
func applyFile(cfg *Config, path string) (bool, error) {
	var fc fileConfig
	md, err := toml.DecodeFile(path, &fc)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("parse config file %s: %w", path, err)
	}

	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, key := range undecoded {
			keys = append(keys, key.String())
		}
		sort.Strings(keys)
		return false, fmt.Errorf("config file %s: unknown keys: %s", path, strings.Join(keys, ", "))
	}

	set(&cfg.Addr, fc.Addr)
	set(&cfg.Preview.ThrottleDelay, fc.Preview.ThrottleDelay)
	set(&cfg.Preview.TopmostLineDelay, fc.Preview.TopmostLineDelay)
	if fc.Preview.Filetypes != nil {
		cfg.Preview.Filetypes = fc.Preview.Filetypes
	}
	set(&cfg.Preview.HighlightStyle, fc.Preview.HighlightStyle)
	set(&cfg.Preview.ScrollPreviewWithEditor, fc.Preview.ScrollPreviewWithEditor)
	set(&cfg.Preview.ScrollEditorWithPreview, fc.Preview.ScrollEditorWithPreview)
	set(&cfg.Preview.DoubleClickToSwitchToEditor, fc.Preview.DoubleClickToSwitchToEditor)
	set(&cfg.State.Path, fc.State.Path)
	set(&cfg.Watch.Enabled, fc.Watch.Enabled)
	set(&cfg.Logging.FilePath, fc.Logging.File)
	set(&cfg.Logging.Verbosity, fc.Logging.Verbosity)
	return true, nil
}

func set[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}

func configFilePath(env map[string]string) (string, bool) {
	if p := strings.TrimSpace(env[envConfigFile]); p != "" {
		return p, true
	}
	if dir := configHome(env); dir != "" {
		return filepath.Join(dir, "go-live-preview", "config.toml"), false
	}
	return "", false
}

func configHome(env map[string]string) string {
	if dir := env["XDG_CONFIG_HOME"]; dir != "" {
		return dir
	}
	if home := env["HOME"]; home != "" {
		return filepath.Join(home, ".config")
	}
	return ""
}

func defaultStatePath(env map[string]string) string {
	dir := env["XDG_STATE_HOME"]
	if dir == "" {
		home := env["HOME"]
		if home == "" {
			return ""
		}
		dir = filepath.Join(home, ".local", "state")
	}
	return filepath.Join(dir, "go-live-preview", "sessions.db")
}

func parseEnv(environ []string) map[string]string {
	values := make(map[string]string, len(environ))
	for _, entry := range environ {
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, "=", 2)
		if len(parts) != 2 {
			continue
		}
		values[parts[0]] = parts[1]
	}
	return values
}

func envOrDefault(env map[string]string, key, fallback string) string {
	if v, ok := env[key]; ok {
		return v
	}
	return fallback
}

func envOrInt(env map[string]string, key string, fallback int) int {
	v, ok := env[key]
	if !ok || strings.TrimSpace(v) == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return parsed
}

func envOrBool(env map[string]string, key string, fallback bool) bool {
	v, ok := env[key]
	if !ok || strings.TrimSpace(v) == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return parsed
}

func envOrDuration(env map[string]string, key string, fallback time.Duration) time.Duration {
	v, ok := env[key]
	if !ok || strings.TrimSpace(v) == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return parsed
}

func envOrList(env map[string]string, key string, fallback []string) []string {
	v, ok := env[key]
	if !ok || strings.TrimSpace(v) == "" {
		return fallback
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
