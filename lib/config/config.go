// Copyright 2026 The Agentgram Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for agentgram.
//
// Configuration is loaded from a single YAML file specified by:
//   - AGENTGRAM_CONFIG environment variable, or
//   - --config flag passed to the command
//
// There are no fallbacks or automatic discovery. The config file is
// the single source of truth; the only environment interaction is
// ${VAR} expansion inside values, so a token can live in the
// environment without the file layout depending on it.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the master configuration for agentgram.
type Config struct {
	// Telegram configures the bot connection.
	Telegram TelegramConfig `yaml:"telegram"`

	// Agent configures the coding agent process.
	Agent AgentConfig `yaml:"agent"`

	// Terminal sizes the pseudo-terminal and emulator.
	Terminal TerminalConfig `yaml:"terminal"`

	// Delivery paces message sends and edits.
	Delivery DeliveryConfig `yaml:"delivery"`

	// Content tunes the region classifier.
	Content ContentConfig `yaml:"content"`
}

// TelegramConfig configures the bot connection.
type TelegramConfig struct {
	// Token is the bot token. Supports ${VAR} expansion, so
	// "${AGENTGRAM_TOKEN}" keeps the secret out of the file.
	Token string `yaml:"token"`

	// AllowedChats lists the chat ids permitted to drive sessions.
	// Empty means every chat is accepted.
	AllowedChats []int64 `yaml:"allowed_chats"`

	// UpdateTimeout is the long-poll timeout in seconds.
	// Default: 30
	UpdateTimeout int `yaml:"update_timeout"`
}

// AgentConfig configures the coding agent process.
type AgentConfig struct {
	// Command is the agent command line.
	// Default: ["claude"]
	Command []string `yaml:"command"`

	// Dir is the working directory sessions start in.
	// Default: the daemon's working directory.
	Dir string `yaml:"dir"`
}

// TerminalConfig sizes the pseudo-terminal.
type TerminalConfig struct {
	// Rows, Cols are the terminal dimensions.
	// Defaults: 40x120.
	Rows int `yaml:"rows"`
	Cols int `yaml:"cols"`
}

// DeliveryConfig paces chat delivery. Durations are strings in
// time.ParseDuration form ("500ms", "4s").
type DeliveryConfig struct {
	// PollInterval is the terminal poll spacing. Default: 300ms.
	PollInterval string `yaml:"poll_interval"`

	// EditInterval is the minimum spacing between message edits.
	// Default: 500ms.
	EditInterval string `yaml:"edit_interval"`

	// KeepAliveInterval spaces typing indicators while thinking.
	// Default: 4s.
	KeepAliveInterval string `yaml:"keep_alive_interval"`

	// MessageLimit is the per-message length cap in runes.
	// Default: 4096.
	MessageLimit int `yaml:"message_limit"`
}

// ContentConfig tunes the region classifier.
type ContentConfig struct {
	// CodeGapTolerance is the unhighlighted-line run length allowed
	// inside a code block. Default: 1.
	CodeGapTolerance int `yaml:"code_gap_tolerance"`

	// InlineCodeMax is the rune length below which a highlighted
	// span stays inline code. Default: 60.
	InlineCodeMax int `yaml:"inline_code_max"`
}

// Default returns the default configuration. These exist so every
// field has a sensible value before the file is merged in, not as a
// substitute for the file.
func Default() *Config {
	return &Config{
		Telegram: TelegramConfig{
			Token:         "${AGENTGRAM_TOKEN}",
			UpdateTimeout: 30,
		},
		Agent: AgentConfig{
			Command: []string{"claude"},
		},
		Terminal: TerminalConfig{
			Rows: 40,
			Cols: 120,
		},
		Delivery: DeliveryConfig{
			PollInterval:      "300ms",
			EditInterval:      "500ms",
			KeepAliveInterval: "4s",
			MessageLimit:      4096,
		},
		Content: ContentConfig{
			CodeGapTolerance: 1,
			InlineCodeMax:    60,
		},
	}
}

// Load loads configuration from the AGENTGRAM_CONFIG environment
// variable. There is no fallback: if it is unset, this fails.
func Load() (*Config, error) {
	configPath := os.Getenv("AGENTGRAM_CONFIG")
	if configPath == "" {
		return nil, fmt.Errorf("AGENTGRAM_CONFIG environment variable not set; " +
			"set it to the path of your agentgram.yaml config file, or use --config flag")
	}
	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path, merging
// over the defaults and expanding ${VAR} patterns in values.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	cfg.expandVariables()
	return cfg, nil
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in the
// string fields that may carry them.
func (c *Config) expandVariables() {
	c.Telegram.Token = expandVars(c.Telegram.Token)
	c.Agent.Dir = expandVars(c.Agent.Dir)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}
		if value := os.Getenv(parts[1]); value != "" {
			return value
		}
		if len(parts) >= 3 {
			return parts[2]
		}
		return ""
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Telegram.Token == "" {
		errs = append(errs, fmt.Errorf("telegram.token is required (set it in the file or via ${AGENTGRAM_TOKEN})"))
	}
	if len(c.Agent.Command) == 0 {
		errs = append(errs, fmt.Errorf("agent.command is required"))
	}
	if c.Terminal.Rows <= 0 || c.Terminal.Cols <= 0 {
		errs = append(errs, fmt.Errorf("terminal.rows and terminal.cols must be positive"))
	}
	if c.Delivery.MessageLimit <= 0 {
		errs = append(errs, fmt.Errorf("delivery.message_limit must be positive"))
	}
	for name, value := range map[string]string{
		"delivery.poll_interval":       c.Delivery.PollInterval,
		"delivery.edit_interval":       c.Delivery.EditInterval,
		"delivery.keep_alive_interval": c.Delivery.KeepAliveInterval,
	} {
		if _, err := time.ParseDuration(value); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// AllowsChat reports whether a chat id may drive sessions. An empty
// allowlist accepts everyone.
func (c *Config) AllowsChat(chatID int64) bool {
	if len(c.Telegram.AllowedChats) == 0 {
		return true
	}
	for _, id := range c.Telegram.AllowedChats {
		if id == chatID {
			return true
		}
	}
	return false
}

// Duration accessors assume Validate passed; on a parse error they
// fall back to the default.

// PollInterval returns the parsed terminal poll spacing.
func (c *Config) PollInterval() time.Duration {
	return parseDuration(c.Delivery.PollInterval, 300*time.Millisecond)
}

// EditInterval returns the parsed edit spacing.
func (c *Config) EditInterval() time.Duration {
	return parseDuration(c.Delivery.EditInterval, 500*time.Millisecond)
}

// KeepAliveInterval returns the parsed typing indicator spacing.
func (c *Config) KeepAliveInterval() time.Duration {
	return parseDuration(c.Delivery.KeepAliveInterval, 4*time.Second)
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
