// Copyright 2026 The Agentgram Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "agentgram.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaultValidatesWithToken(t *testing.T) {
	cfg := Default()
	cfg.Telegram.Token = "123:abc"
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}

func TestLoadFileMergesOverDefaults(t *testing.T) {
	path := writeConfig(t, `
telegram:
  token: "123:abc"
  allowed_chats: [42]
terminal:
  rows: 50
delivery:
  edit_interval: 1s
`)
	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Telegram.Token != "123:abc" {
		t.Errorf("token = %q", cfg.Telegram.Token)
	}
	if cfg.Terminal.Rows != 50 {
		t.Errorf("rows = %d", cfg.Terminal.Rows)
	}
	// Unset fields keep their defaults.
	if cfg.Terminal.Cols != 120 {
		t.Errorf("cols = %d, want default 120", cfg.Terminal.Cols)
	}
	if cfg.EditInterval() != time.Second {
		t.Errorf("edit interval = %v", cfg.EditInterval())
	}
	if cfg.PollInterval() != 300*time.Millisecond {
		t.Errorf("poll interval = %v", cfg.PollInterval())
	}
}

func TestTokenExpandsFromEnvironment(t *testing.T) {
	t.Setenv("AGENTGRAM_TOKEN", "999:secret")
	path := writeConfig(t, `
telegram:
  token: "${AGENTGRAM_TOKEN}"
`)
	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Telegram.Token != "999:secret" {
		t.Errorf("token = %q", cfg.Telegram.Token)
	}
}

func TestLoadRequiresEnvVar(t *testing.T) {
	t.Setenv("AGENTGRAM_CONFIG", "")
	if _, err := Load(); err == nil {
		t.Error("Load succeeded without AGENTGRAM_CONFIG")
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := Default()
	cfg.Telegram.Token = "123:abc"
	cfg.Delivery.EditInterval = "soon"
	if err := cfg.Validate(); err == nil {
		t.Error("unparseable duration accepted")
	}

	cfg = Default()
	cfg.Telegram.Token = "123:abc"
	cfg.Agent.Command = nil
	if err := cfg.Validate(); err == nil {
		t.Error("empty command accepted")
	}
}

func TestAllowsChat(t *testing.T) {
	cfg := Default()
	if !cfg.AllowsChat(1) {
		t.Error("empty allowlist should accept everyone")
	}
	cfg.Telegram.AllowedChats = []int64{42}
	if cfg.AllowsChat(1) || !cfg.AllowsChat(42) {
		t.Error("allowlist not enforced")
	}
}
