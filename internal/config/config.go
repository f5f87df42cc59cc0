// Package config loads and validates taskbot configuration, including the
// keyword tables the message parser matches against. All tables are loaded
// once at startup and never mutated at runtime.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/matsurihq/taskbot/internal/logging"
)

// Config represents the main configuration
type Config struct {
	Version  string          `yaml:"version"`
	Store    *StoreConfig    `yaml:"store"`
	Channel  *ChannelConfig  `yaml:"channel"`
	Source   *SourceConfig   `yaml:"source"`
	Digest   *DigestConfig   `yaml:"digest"`
	Logging  *logging.Config `yaml:"logging"`
	Keywords *Keywords       `yaml:"keywords"`
}

// StoreConfig holds persistence settings
type StoreConfig struct {
	Path string `yaml:"path"`
}

// ChannelConfig holds settings for the outbound chat API client
type ChannelConfig struct {
	BaseURL       string `yaml:"base_url"`
	Token         string `yaml:"token"`
	NotifyChannel string `yaml:"notify_channel"` // channel for task notifications
}

// SourceConfig holds settings for the socket-mode message source
type SourceConfig struct {
	Enabled          bool              `yaml:"enabled"`
	URL              string            `yaml:"url"`
	Token            string            `yaml:"token"`
	DefaultWorkspace string            `yaml:"default_workspace"`
	Workspaces       map[string]string `yaml:"workspaces"` // channel external ID -> workspace ID
}

// DigestConfig holds daily digest settings
type DigestConfig struct {
	Enabled  bool           `yaml:"enabled"`
	Schedule string         `yaml:"schedule"` // cron spec, e.g. "0 9 * * *"
	Timezone string         `yaml:"timezone"`
	Targets  []DigestTarget `yaml:"targets"`
}

// DigestTarget pairs a workspace with the channel its digest is posted to
type DigestTarget struct {
	WorkspaceID string `yaml:"workspace_id"`
	ChannelID   string `yaml:"channel_id"`
}

// Keywords holds the static keyword tables used by extraction and
// classification. The defaults cover the Japanese and English phrasings the
// bot is exercised with.
type Keywords struct {
	TaskMarkers      []string `yaml:"task_markers"`
	Completion       []string `yaml:"completion"`
	Assignment       []string `yaml:"assignment"`
	PriorityHigh     []string `yaml:"priority_high"`
	PriorityMedium   []string `yaml:"priority_medium"`
	PriorityLow      []string `yaml:"priority_low"`
	StatusInquiry    []string `yaml:"status_inquiry"`
	LeadingParticles []string `yaml:"leading_particles"`
	TrailingFillers  []string `yaml:"trailing_fillers"`
	Honorifics       []string `yaml:"honorifics"`
}

// DefaultKeywords returns the built-in keyword tables.
func DefaultKeywords() *Keywords {
	return &Keywords{
		TaskMarkers:      []string{"タスク", "やること", "やる事", "todo", "to-do", "task"},
		Completion:       []string{"完了しました", "完了", "終わりました", "終わった", "できました", "できた", "done", "finished"},
		Assignment:       []string{"お願い", "おねがい", "担当", "任せ", "よろしく", "assign", "please", "@"},
		PriorityHigh:     []string{"緊急", "至急", "大至急", "重要", "急ぎ", "urgent", "asap", "high"},
		PriorityMedium:   []string{"普通", "通常", "medium", "normal"},
		PriorityLow:      []string{"低", "あとで", "後で", "いつでも", "low", "later", "whenever"},
		StatusInquiry:    []string{"進捗", "状況", "ステータス", "どうなって", "status", "progress"},
		LeadingParticles: []string{"を", "の", "に", "へ", "は", "が", "で"},
		TrailingFillers:  []string{"お願いします", "おねがいします", "ください", "でした", "です", "ます", "だ"},
		Honorifics:       []string{"さん", "さま", "様", "くん", "君", "ちゃん"},
	}
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	return &Config{
		Version: "1.0",
		Store: &StoreConfig{
			Path: filepath.Join(homeDir, ".taskbot", "data"),
		},
		Channel: &ChannelConfig{},
		Source: &SourceConfig{
			Enabled:          false,
			DefaultWorkspace: "default",
			Workspaces:       map[string]string{},
		},
		Digest: &DigestConfig{
			Enabled:  false,
			Schedule: "0 9 * * *",
			Timezone: "Asia/Tokyo",
		},
		Logging:  logging.DefaultConfig(),
		Keywords: DefaultKeywords(),
	}
}

// Load loads configuration from a file
func Load(path string) (*Config, error) {
	config := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return config, nil // Return defaults if no config file
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	if err := yaml.Unmarshal([]byte(expanded), config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if config.Store != nil {
		config.Store.Path = expandPath(config.Store.Path)
	}

	return config, nil
}

// Save saves configuration to a file
func Save(config *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// DefaultConfigPath returns the default configuration path
func DefaultConfigPath() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".taskbot", "config.yaml")
}

// expandPath expands ~ to home directory
func expandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, path[1:])
	}
	return path
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Store == nil || c.Store.Path == "" {
		return fmt.Errorf("store path is required")
	}
	if c.Source != nil && c.Source.Enabled && c.Source.URL == "" {
		return fmt.Errorf("source URL is required when the source is enabled")
	}
	if c.Digest != nil && c.Digest.Enabled && c.Digest.Schedule == "" {
		return fmt.Errorf("digest schedule is required when the digest is enabled")
	}
	if c.Keywords == nil || len(c.Keywords.TaskMarkers) == 0 {
		return fmt.Errorf("at least one task marker keyword is required")
	}
	return nil
}
