package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefaults(t *testing.T) {
	cfg, err := LoadEnv(nil)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:7777", cfg.Addr)
	assert.Equal(t, 300*time.Millisecond, cfg.Preview.ThrottleDelay)
	assert.Equal(t, 50*time.Millisecond, cfg.Preview.TopmostLineDelay)
	assert.Equal(t, []string{"markdown", "mydoc"}, cfg.Preview.Filetypes)
	assert.True(t, cfg.Watch.Enabled)
	assert.Empty(t, cfg.State.Path, "no home means no persistence")
	assert.Empty(t, cfg.File)
}

func TestStatePathFollowsHome(t *testing.T) {
	cfg, err := LoadEnv([]string{"HOME=/home/u"})
	require.NoError(t, err)
	assert.Equal(t, "/home/u/.local/state/go-live-preview/sessions.db", cfg.State.Path)

	cfg, err = LoadEnv([]string{"HOME=/home/u", "XDG_STATE_HOME=/state"})
	require.NoError(t, err)
	assert.Equal(t, "/state/go-live-preview/sessions.db", cfg.State.Path)
}

func TestFileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
addr = "127.0.0.1:9000"

[preview]
throttle_delay = "120ms"
filetypes = ["markdown"]
scroll_editor_with_preview = false

[state]
path = "/tmp/sessions.db"

[watch]
enabled = false

[logging]
file = "/tmp/preview.log"
verbosity = 2
`)

	cfg, err := LoadEnv([]string{envConfigFile + "=" + path})
	require.NoError(t, err)

	assert.Equal(t, path, cfg.File)
	assert.Equal(t, "127.0.0.1:9000", cfg.Addr)
	assert.Equal(t, 120*time.Millisecond, cfg.Preview.ThrottleDelay)
	assert.Equal(t, 50*time.Millisecond, cfg.Preview.TopmostLineDelay)
	assert.Equal(t, []string{"markdown"}, cfg.Preview.Filetypes)
	assert.False(t, cfg.Preview.ScrollEditorWithPreview)
	assert.True(t, cfg.Preview.ScrollPreviewWithEditor)
	assert.Equal(t, "/tmp/sessions.db", cfg.State.Path)
	assert.False(t, cfg.Watch.Enabled)
	assert.Equal(t, "/tmp/preview.log", cfg.Logging.FilePath)
	assert.Equal(t, 2, cfg.Logging.Verbosity)
}

func TestEnvironmentOverridesFile(t *testing.T) {
	path := writeConfig(t, `
addr = "127.0.0.1:9000"
[preview]
filetypes = ["markdown"]
`)

	cfg, err := LoadEnv([]string{
		envConfigFile + "=" + path,
		envAddr + "=0.0.0.0:8000",
		envFiletypes + "= markdown, rst ,,",
		envThrottleDelay + "=1s",
		envWatch + "=false",
		envLogVerbosity + "=1",
	})
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8000", cfg.Addr)
	assert.Equal(t, []string{"markdown", "rst"}, cfg.Preview.Filetypes)
	assert.Equal(t, time.Second, cfg.Preview.ThrottleDelay)
	assert.False(t, cfg.Watch.Enabled)
	assert.Equal(t, 1, cfg.Logging.Verbosity)
}

func TestMalformedEnvironmentFallsBack(t *testing.T) {
	cfg, err := LoadEnv([]string{
		envThrottleDelay + "=soon",
		envWatch + "=maybe",
		envLogVerbosity + "=loud",
		"BROKEN",
	})
	require.NoError(t, err)
	assert.Equal(t, 300*time.Millisecond, cfg.Preview.ThrottleDelay)
	assert.True(t, cfg.Watch.Enabled)
	assert.Zero(t, cfg.Logging.Verbosity)
}

func TestDefaultFileLocation(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "go-live-preview"), 0o755))
	path := filepath.Join(dir, "go-live-preview", "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`addr = "127.0.0.1:1234"`), 0o600))

	cfg, err := LoadEnv([]string{"XDG_CONFIG_HOME=" + dir})
	require.NoError(t, err)
	assert.Equal(t, path, cfg.File)
	assert.Equal(t, "127.0.0.1:1234", cfg.Addr)

	cfg, err = LoadEnv([]string{"XDG_CONFIG_HOME=" + t.TempDir()})
	require.NoError(t, err, "a missing default file is not an error")
	assert.Empty(t, cfg.File)
}

func TestFileErrors(t *testing.T) {
	_, err := LoadEnv([]string{envConfigFile + "=" + filepath.Join(t.TempDir(), "missing.toml")})
	assert.ErrorContains(t, err, "does not exist")

	_, err = LoadEnv([]string{envConfigFile + "=" + writeConfig(t, `addr = [`)})
	assert.ErrorContains(t, err, "parse config file")

	_, err = LoadEnv([]string{envConfigFile + "=" + writeConfig(t, "[preview]\nthrottle = \"1s\"\n")})
	assert.ErrorContains(t, err, "unknown keys: preview.throttle")
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Addr = " "
	cfg.Preview.ThrottleDelay = -time.Second
	cfg.Preview.Filetypes = nil

	err := Validate(cfg)
	require.Error(t, err)
	assert.ErrorContains(t, err, "addr")
	assert.ErrorContains(t, err, "throttle delay")
	assert.ErrorContains(t, err, "filetype")

	_, err = LoadEnv([]string{envTopmostLineDelay + "=-5ms"})
	assert.ErrorContains(t, err, "topmost line delay")
}

func TestIsPreviewable(t *testing.T) {
	cfg := Default()
	assert.True(t, cfg.IsPreviewable("markdown"))
	assert.True(t, cfg.IsPreviewable("mydoc"))
	assert.False(t, cfg.IsPreviewable("go"))
}
