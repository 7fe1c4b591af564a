// Package config provides configuration management for CortexAssist
package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Backend   BackendConfig   `mapstructure:"backend" yaml:"backend"`
	Speech    SpeechConfig    `mapstructure:"speech" yaml:"speech"`
	Session   SessionConfig   `mapstructure:"session" yaml:"session"`
	Reminders RemindersConfig `mapstructure:"reminders" yaml:"reminders"`
	Bridge    BridgeConfig    `mapstructure:"bridge" yaml:"bridge"`
	Logging   LoggingConfig   `mapstructure:"logging" yaml:"logging"`
}

// BackendConfig configures the command gateway
type BackendConfig struct {
	BaseURL string        `mapstructure:"base_url" yaml:"base_url"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"` // per request; 0 disables
}

// SpeechConfig configures speech input and output
type SpeechConfig struct {
	Synthesizer       string  `mapstructure:"synthesizer" yaml:"synthesizer"` // auto, say, espeak, none
	RecognizerCommand string  `mapstructure:"recognizer_command" yaml:"recognizer_command"`
	Voice             string  `mapstructure:"voice" yaml:"voice"` // empty picks a female voice
	Rate              float64 `mapstructure:"rate" yaml:"rate"`
	Pitch             float64 `mapstructure:"pitch" yaml:"pitch"`
	Volume            float64 `mapstructure:"volume" yaml:"volume"`
	Language          string  `mapstructure:"language" yaml:"language"`
	InterruptKey      string  `mapstructure:"interrupt_key" yaml:"interrupt_key"`
}

// SessionConfig configures the conversation session
type SessionConfig struct {
	AssistantMarker   string `mapstructure:"assistant_marker" yaml:"assistant_marker"`
	Greeting          string `mapstructure:"greeting" yaml:"greeting"` // {location} expands to the backend's default city
	RollbackOnFailure bool   `mapstructure:"rollback_on_failure" yaml:"rollback_on_failure"`
}

// RemindersConfig configures reminder reconciliation
type RemindersConfig struct {
	AutoRefresh     bool   `mapstructure:"auto_refresh" yaml:"auto_refresh"`
	RefreshSchedule string `mapstructure:"refresh_schedule" yaml:"refresh_schedule"` // cron spec
}

// BridgeConfig configures the WebSocket bridge served by `serve`
type BridgeConfig struct {
	Listen      string `mapstructure:"listen" yaml:"listen"`
	Path        string `mapstructure:"path" yaml:"path"`
	MetricsPath string `mapstructure:"metrics_path" yaml:"metrics_path"`
}

// LoggingConfig configures the logger
type LoggingConfig struct {
	Dir     string `mapstructure:"dir" yaml:"dir"`
	Level   string `mapstructure:"level" yaml:"level"`
	Console bool   `mapstructure:"console" yaml:"console"`
}

// DefaultConfig returns sensible default configuration
func DefaultConfig() *Config {
	dir, _ := GetConfigDir()
	return &Config{
		Backend: BackendConfig{
			BaseURL: "http://localhost:5000/api",
			Timeout: 30 * time.Second,
		},
		Speech: SpeechConfig{
			Synthesizer:  "auto",
			Rate:         0.9,
			Pitch:        1.0,
			Volume:       0.8,
			Language:     "en-US",
			InterruptKey: "ctrl+c",
		},
		Session: SessionConfig{
			AssistantMarker:   "🤖 Assistant:",
			Greeting:          "Hello! I'm your voice assistant{location}. How can I help you today?",
			RollbackOnFailure: true,
		},
		Reminders: RemindersConfig{
			AutoRefresh:     true,
			RefreshSchedule: "@every 1m",
		},
		Bridge: BridgeConfig{
			Listen:      "127.0.0.1:8765",
			Path:        "/ws",
			MetricsPath: "/metrics",
		},
		Logging: LoggingConfig{
			Dir:   filepath.Join(dir, "logs"),
			Level: "info",
		},
	}
}

// Load reads configuration from the default location and environment
func Load() (*Config, error) {
	dir, err := GetConfigDir()
	if err != nil {
		return DefaultConfig(), err
	}
	return LoadFromPath(filepath.Join(dir, "config.yaml"))
}

// LoadFromPath reads configuration from path, writing defaults there if the file is missing.
func LoadFromPath(path string) (*Config, error) {
	cfg := DefaultConfig()
	v := newViper(path)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return cfg, err
		}
		if err := SaveToPath(cfg, path); err != nil {
			return cfg, err
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Save writes the configuration to the default location
func Save(cfg *Config) error {
	dir, err := GetConfigDir()
	if err != nil {
		return err
	}
	return SaveToPath(cfg, filepath.Join(dir, "config.yaml"))
}

// SaveToPath writes the configuration to path
func SaveToPath(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	v := viper.New()
	v.SetConfigType("yaml")
	v.Set("backend", map[string]any{
		"base_url": cfg.Backend.BaseURL,
		"timeout":  cfg.Backend.Timeout.String(),
	})
	v.Set("speech", map[string]any{
		"synthesizer":        cfg.Speech.Synthesizer,
		"recognizer_command": cfg.Speech.RecognizerCommand,
		"voice":              cfg.Speech.Voice,
		"rate":               cfg.Speech.Rate,
		"pitch":              cfg.Speech.Pitch,
		"volume":             cfg.Speech.Volume,
		"language":           cfg.Speech.Language,
		"interrupt_key":      cfg.Speech.InterruptKey,
	})
	v.Set("session", map[string]any{
		"assistant_marker":    cfg.Session.AssistantMarker,
		"greeting":            cfg.Session.Greeting,
		"rollback_on_failure": cfg.Session.RollbackOnFailure,
	})
	v.Set("reminders", map[string]any{
		"auto_refresh":     cfg.Reminders.AutoRefresh,
		"refresh_schedule": cfg.Reminders.RefreshSchedule,
	})
	v.Set("bridge", map[string]any{
		"listen":       cfg.Bridge.Listen,
		"path":         cfg.Bridge.Path,
		"metrics_path": cfg.Bridge.MetricsPath,
	})
	v.Set("logging", map[string]any{
		"dir":     cfg.Logging.Dir,
		"level":   cfg.Logging.Level,
		"console": cfg.Logging.Console,
	})

	return v.WriteConfigAs(path)
}

// Watch reloads the file at path on every write and hands the result to fn.
// The returned function stops delivering updates.
func Watch(path string, fn func(*Config, error)) (stop func()) {
	v := newViper(path)
	done := make(chan struct{})

	v.OnConfigChange(func(e fsnotify.Event) {
		select {
		case <-done:
			return
		default:
		}
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg := DefaultConfig()
		if err := v.ReadInConfig(); err != nil {
			fn(cfg, err)
			return
		}
		fn(cfg, v.Unmarshal(cfg))
	})
	v.WatchConfig()

	return func() { close(done) }
}

func newViper(path string) *viper.Viper {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetEnvPrefix("CORTEXASSIST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv only applies to keys viper already knows about.
	for _, key := range []string{
		"backend.base_url", "backend.timeout",
		"speech.synthesizer", "speech.recognizer_command", "speech.voice",
		"session.rollback_on_failure",
		"bridge.listen", "logging.level",
	} {
		_ = v.BindEnv(key)
	}
	return v
}

// GetConfigDir returns the configuration directory path
func GetConfigDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".cortexassist"), nil
}
