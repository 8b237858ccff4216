package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/promptpilot/promptpilot/internal/detect"
	"github.com/promptpilot/promptpilot/internal/locator"
	"github.com/promptpilot/promptpilot/internal/queue"
)

func TestLoadCreatesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "promptpilot", "config.json")
	m := NewManager(path)

	require.NoError(t, m.Load())
	require.FileExists(t, path)

	cfg := m.Get()
	require.Equal(t, locator.DefaultInputSelector, cfg.InputSelector)
	require.NotEmpty(t, cfg.SubmitCascade)
	require.Equal(t, queue.DefaultConfig(), cfg.QueueConfig())
	require.Equal(t, detect.DefaultConfig(), cfg.DetectConfig())
}

func TestLoadOverlaysOnDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	// A partial file: unspecified knobs keep their defaults.
	body := `{"start_url":"https://host.example/project/abc","primary_timeout_ms":9000,"headless":true}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	m := NewManager(path)
	require.NoError(t, m.Load())

	cfg := m.Get()
	require.Equal(t, "https://host.example/project/abc", cfg.StartURL)
	require.True(t, cfg.Headless)
	require.Equal(t, 9*time.Second, cfg.DetectConfig().PrimaryTimeout)
	// Untouched default survives the overlay.
	require.Equal(t, detect.DefaultConfig().CeilingTimeout, cfg.DetectConfig().CeilingTimeout)
	require.Equal(t, queue.DefaultConfig().LocateBudget, cfg.QueueConfig().LocateBudget)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	m := NewManager(path)
	m.Get().StartURL = "https://host.example/chat/7"
	m.Get().SendDelayMs = 450
	require.NoError(t, m.Save())

	m2 := NewManager(path)
	require.NoError(t, m2.Load())
	require.Equal(t, "https://host.example/chat/7", m2.Get().StartURL)
	require.Equal(t, 450*time.Millisecond, m2.Get().QueueConfig().SendDelay)
}

func TestLoadRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte("{oops"), 0o644))

	m := NewManager(path)
	require.Error(t, m.Load())
}

func TestLocatorConfigPassthrough(t *testing.T) {
	cfg := DefaultConfig()
	cfg.InputSelector = "div[contenteditable]"
	lc := cfg.LocatorConfig()
	require.Equal(t, "div[contenteditable]", lc.InputSelector)
	require.Equal(t, cfg.SubmitCascade, lc.SubmitCascade)
}
