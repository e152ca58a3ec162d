// Copyright 2026 The Agentgram Authors
// SPDX-License-Identifier: Apache-2.0

package screen

import (
	"reflect"
	"testing"
)

// Screen fixtures reproduce the assistant TUI's layouts in miniature.

var idleScreen = []string{
	"⏺ Done. The test passes now.",
	"",
	"╭──────────────────────────────────────╮",
	"│ >                                    │",
	"╰──────────────────────────────────────╯",
	"  ? for shortcuts",
}

var thinkingScreen = []string{
	"✻ Puzzling… (3s · 1.2k tokens · esc to interrupt)",
	"",
	"╭──────────────────────────────────────╮",
	"│ >                                    │",
	"╰──────────────────────────────────────╯",
}

var toolRequestScreen = []string{
	"⏺ Bash(rm -rf build/)",
	"",
	"Do you want to proceed?",
	"❯ 1. Yes",
	"  2. No, and tell Claude what to do differently",
}

var streamingScreen = []string{
	"⏺ Looking at the failing test:",
	"  the assertion compares pointers, not values.",
}

var errorScreen = []string{
	"✗ Connection lost. Retrying…",
}

var authScreen = []string{
	"Please run /login to authenticate.",
}

func TestClassifyPriorities(t *testing.T) {
	tests := []struct {
		name     string
		lines    []string
		previous View
		want     View
	}{
		{"blank at start", []string{"", "", ""}, ViewUnknown, ViewStartup},
		{"banner at start", []string{" Welcome to Claude Code!"}, ViewStartup, ViewStartup},
		{"banner after leaving", []string{" Welcome to Claude Code!"}, ViewStreaming, ViewUnknown},
		{"idle prompt", idleScreen, ViewStreaming, ViewIdle},
		{"thinking spinner", thinkingScreen, ViewIdle, ViewThinking},
		{"tool approval", toolRequestScreen, ViewThinking, ViewToolRequest},
		{"streaming", streamingScreen, ViewThinking, ViewStreaming},
		{"error banner", errorScreen, ViewStreaming, ViewError},
		{"auth required", authScreen, ViewIdle, ViewAuthRequired},
		{"running tool", []string{"⏺ Bash(go test ./...)", "  ⎿  Running…"}, ViewStreaming, ViewToolRunning},
		{"tool result", []string{"⏺ Read(main.go)", "  ⎿  120 lines"}, ViewStreaming, ViewToolResult},
		{"background task", []string{"⏺ Bash(make watch)", "  task is running in the background"}, ViewStreaming, ViewBackgroundTask},
		{"parallel agents", []string{"✳ Running 3 agents… (esc to interrupt)"}, ViewStreaming, ViewThinking},
		{"todo list", []string{"☒ Write parser", "☐ Wire renderer"}, ViewStreaming, ViewTodoList},
		{"user echo", []string{"> fix the race in the poller"}, ViewIdle, ViewUserMessage},
		{"nothing matches", []string{"stray line with no markers"}, ViewStreaming, ViewUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.lines, tt.previous)
			if got.View != tt.want {
				t.Errorf("Classify() view = %v, want %v", got.View, tt.want)
			}
		})
	}
}

func TestClassifyIsPure(t *testing.T) {
	first := Classify(toolRequestScreen, ViewThinking)
	for i := 0; i < 5; i++ {
		again := Classify(toolRequestScreen, ViewThinking)
		if again.View != first.View || !reflect.DeepEqual(again.Payload, first.Payload) {
			t.Fatalf("call %d differed: %+v vs %+v", i, again, first)
		}
	}
}

func TestToolRequestPayload(t *testing.T) {
	event := Classify(toolRequestScreen, ViewThinking)

	if event.Payload.Tool != "Bash" {
		t.Errorf("tool = %q", event.Payload.Tool)
	}
	if event.Payload.Target != "rm -rf build/" {
		t.Errorf("target = %q", event.Payload.Target)
	}
	wantOptions := []string{"Yes", "No, and tell Claude what to do differently"}
	if !reflect.DeepEqual(event.Payload.Options, wantOptions) {
		t.Errorf("options = %q, want %q", event.Payload.Options, wantOptions)
	}
	if event.Payload.Selected != 0 {
		t.Errorf("selected = %d, want 0", event.Payload.Selected)
	}
}

func TestToolRequestSelectedIndex(t *testing.T) {
	lines := []string{
		"Do you want to proceed?",
		"  1. Yes",
		"❯ 2. No, keep the file",
	}
	event := Classify(lines, ViewStreaming)
	if event.View != ViewToolRequest {
		t.Fatalf("view = %v", event.View)
	}
	if event.Payload.Selected != 1 {
		t.Errorf("selected = %d, want 1", event.Payload.Selected)
	}
}

func TestThinkingPayloadStatusWord(t *testing.T) {
	event := Classify(thinkingScreen, ViewIdle)
	if event.Payload.Text != "Puzzling" {
		t.Errorf("status = %q, want Puzzling", event.Payload.Text)
	}
}

func TestStreamingPayload(t *testing.T) {
	event := Classify(streamingScreen, ViewThinking)
	if event.Payload.Complete {
		t.Error("streaming without prompt box should be incomplete")
	}
	if event.Payload.Text == "" {
		t.Error("streaming payload text empty")
	}

	withPrompt := append(append([]string{}, streamingScreen...), idleScreen[2:]...)
	event = Classify(withPrompt, ViewStreaming)
	if event.View != ViewIdle {
		// The idle prompt with no spinner outranks streaming by
		// design: the response is finished.
		t.Errorf("view = %v, want idle", event.View)
	}
}

func TestClassifyStripsStrayEscapes(t *testing.T) {
	lines := []string{"\x1b[31m✗ Build failed\x1b[0m"}
	event := Classify(lines, ViewStreaming)
	if event.View != ViewError {
		t.Errorf("view = %v, want error", event.View)
	}
	if event.Payload.Text != "Build failed" {
		t.Errorf("text = %q", event.Payload.Text)
	}
}
