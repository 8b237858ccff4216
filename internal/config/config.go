package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/promptpilot/promptpilot/internal/detect"
	"github.com/promptpilot/promptpilot/internal/locator"
	"github.com/promptpilot/promptpilot/internal/queue"
)

// Config is the on-disk settings file. Every timeout the engine uses
// lives here: the shipped values are tuning, not semantics.
type Config struct {
	StartURL        string `json:"start_url"`
	EligiblePattern string `json:"eligible_pattern"`
	Headless        bool   `json:"headless"`

	// Selector configuration for the host UI.
	InputSelector string             `json:"input_selector"`
	SubmitCascade []locator.Strategy `json:"submit_cascade"`

	// Queue pacing, milliseconds.
	LocateBudgetMs   int `json:"locate_budget_ms"`
	LocateIntervalMs int `json:"locate_interval_ms"`
	OpTimeoutMs      int `json:"op_timeout_ms"`
	FirstSendDelayMs int `json:"first_send_delay_ms"`
	SendDelayMs      int `json:"send_delay_ms"`
	YieldDelayMs     int `json:"yield_delay_ms"`

	// Completion detection, milliseconds.
	PollIntervalMs       int `json:"poll_interval_ms"`
	EdgeSettleMs         int `json:"edge_settle_ms"`
	ActivitySettleMs     int `json:"activity_settle_ms"`
	ActivityThreshold    int `json:"activity_threshold"`
	PrimaryTimeoutMs     int `json:"primary_timeout_ms"`
	PrimaryTimeoutLastMs int `json:"primary_timeout_last_ms"`
	FallbackTimeoutMs    int `json:"fallback_timeout_ms"`
	CeilingTimeoutMs     int `json:"ceiling_timeout_ms"`

	// Enhance-prompt helper.
	EnhanceModel string `json:"enhance_model"`

	// Logging.
	LogFile string `json:"log_file"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	qc := queue.DefaultConfig()
	dc := detect.DefaultConfig()
	return &Config{
		StartURL:        "",
		EligiblePattern: "",
		Headless:        false,

		InputSelector: locator.DefaultInputSelector,
		SubmitCascade: locator.DefaultSubmitCascade(),

		LocateBudgetMs:   int(qc.LocateBudget / time.Millisecond),
		LocateIntervalMs: int(qc.LocateInterval / time.Millisecond),
		OpTimeoutMs:      int(qc.OpTimeout / time.Millisecond),
		FirstSendDelayMs: int(qc.FirstSendDelay / time.Millisecond),
		SendDelayMs:      int(qc.SendDelay / time.Millisecond),
		YieldDelayMs:     int(qc.YieldDelay / time.Millisecond),

		PollIntervalMs:       int(dc.PollInterval / time.Millisecond),
		EdgeSettleMs:         int(dc.EdgeSettle / time.Millisecond),
		ActivitySettleMs:     int(dc.ActivitySettle / time.Millisecond),
		ActivityThreshold:    dc.ActivityThreshold,
		PrimaryTimeoutMs:     int(dc.PrimaryTimeout / time.Millisecond),
		PrimaryTimeoutLastMs: int(dc.PrimaryTimeoutLast / time.Millisecond),
		FallbackTimeoutMs:    int(dc.FallbackTimeout / time.Millisecond),
		CeilingTimeoutMs:     int(dc.CeilingTimeout / time.Millisecond),

		EnhanceModel: "",
		LogFile:      "promptpilot.log",
	}
}

// QueueConfig converts the pacing knobs into the machine's config.
func (c *Config) QueueConfig() queue.Config {
	return queue.Config{
		LocateBudget:   time.Duration(c.LocateBudgetMs) * time.Millisecond,
		LocateInterval: time.Duration(c.LocateIntervalMs) * time.Millisecond,
		OpTimeout:      time.Duration(c.OpTimeoutMs) * time.Millisecond,
		FirstSendDelay: time.Duration(c.FirstSendDelayMs) * time.Millisecond,
		SendDelay:      time.Duration(c.SendDelayMs) * time.Millisecond,
		YieldDelay:     time.Duration(c.YieldDelayMs) * time.Millisecond,
	}
}

// DetectConfig converts the completion knobs into the detector's config.
func (c *Config) DetectConfig() detect.Config {
	return detect.Config{
		PollInterval:       time.Duration(c.PollIntervalMs) * time.Millisecond,
		EdgeSettle:         time.Duration(c.EdgeSettleMs) * time.Millisecond,
		ActivitySettle:     time.Duration(c.ActivitySettleMs) * time.Millisecond,
		ActivityThreshold:  c.ActivityThreshold,
		PrimaryTimeout:     time.Duration(c.PrimaryTimeoutMs) * time.Millisecond,
		PrimaryTimeoutLast: time.Duration(c.PrimaryTimeoutLastMs) * time.Millisecond,
		FallbackTimeout:    time.Duration(c.FallbackTimeoutMs) * time.Millisecond,
		CeilingTimeout:     time.Duration(c.CeilingTimeoutMs) * time.Millisecond,
	}
}

// LocatorConfig returns the selector configuration.
func (c *Config) LocatorConfig() locator.Config {
	return locator.Config{
		InputSelector: c.InputSelector,
		SubmitCascade: c.SubmitCascade,
	}
}

// Manager handles configuration loading and saving.
type Manager struct {
	configPath string
	config     *Config
}

func NewManager(configPath string) *Manager {
	return &Manager{
		configPath: configPath,
		config:     DefaultConfig(),
	}
}

// Load reads the configuration from disk, creating defaults if needed.
func (m *Manager) Load() error {
	if err := os.MkdirAll(filepath.Dir(m.configPath), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if _, err := os.Stat(m.configPath); os.IsNotExist(err) {
		return m.Save()
	}

	data, err := os.ReadFile(m.configPath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config JSON: %w", err)
	}

	m.config = cfg
	return nil
}

// Save writes the current configuration to disk.
func (m *Manager) Save() error {
	data, err := json.MarshalIndent(m.config, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(m.configPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Get returns the current configuration.
func (m *Manager) Get() *Config {
	return m.config
}
