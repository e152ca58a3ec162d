// Copyright 2026 The Agentgram Authors
// SPDX-License-Identifier: Apache-2.0

// Package screen classifies terminal screens of an interactive coding
// assistant into semantic views. Classification is a pure function of
// the screen lines plus the previous view; it never fails — a screen
// that matches nothing is ViewUnknown, not an error.
//
// The matchers are tuned to one family of screen layouts (the Claude
// CLI's framed prompt box, spinner status line, and glyph-prefixed
// response blocks). They are deliberately literal: the glyphs are the
// protocol.
package screen

import (
	"regexp"
	"strings"

	"github.com/charmbracelet/x/ansi"
)

// View is the classifier's reading of the current screen.
type View int

const (
	ViewUnknown View = iota
	ViewStartup
	ViewIdle
	ViewThinking
	ViewStreaming
	ViewUserMessage
	ViewToolRequest
	ViewToolRunning
	ViewToolResult
	ViewBackgroundTask
	ViewParallelAgents
	ViewTodoList
	ViewAuthRequired
	ViewError
)

var viewNames = map[View]string{
	ViewUnknown:        "unknown",
	ViewStartup:        "startup",
	ViewIdle:           "idle",
	ViewThinking:       "thinking",
	ViewStreaming:      "streaming",
	ViewUserMessage:    "user_message",
	ViewToolRequest:    "tool_request",
	ViewToolRunning:    "tool_running",
	ViewToolResult:     "tool_result",
	ViewBackgroundTask: "background_task",
	ViewParallelAgents: "parallel_agents",
	ViewTodoList:       "todo_list",
	ViewAuthRequired:   "auth_required",
	ViewError:          "error",
}

func (v View) String() string {
	if name, ok := viewNames[v]; ok {
		return name
	}
	return "invalid"
}

// Payload carries the data extracted by the matching branch. Fields
// are populated per view: Text for thinking status, streaming text,
// user messages, and errors; Tool/Target/Options/Selected for tool
// approval menus; Complete for streaming.
type Payload struct {
	Text     string
	Complete bool
	Tool     string
	Target   string
	Options  []string
	Selected int
}

// Event is one classification result.
type Event struct {
	View    View
	Payload Payload
	Lines   []string
}

// Glyph vocabulary of the observed TUI.
const (
	responseMarker = "⏺"
	resultMarker   = "⎿"
	spinnerGlyphs  = "✻✶✳✢✽·*+"
	checkboxGlyphs = "☐☒☑"
)

var (
	// "│ > │" with optional placeholder hint text.
	idlePromptPattern = regexp.MustCompile(`^│\s*>\s*(?:Try ".*")?\s*│?$`)

	// "✻ Puzzling… (3s · esc to interrupt)"
	spinnerPattern = regexp.MustCompile(`^[✻✶✳✢✽·*+]\s+(\S+?)…`)

	// "⏺ Bash(ls -la)"
	toolCallPattern = regexp.MustCompile(`^[⏺●]\s+([A-Za-z][\w-]*)\((.*)\)`)

	// "❯ 1. Yes" / "  2. No, and tell Claude what to do differently"
	optionPattern = regexp.MustCompile(`^(❯\s*)?(\d+)\.\s+(.+?)\s*$`)

	// "✳ Running 3 agents…" or "3 agents running"
	parallelPattern = regexp.MustCompile(`(?i)(?:running\s+\d+\s+agents|\d+\s+agents\s+running|parallel agents)`)
)

// Classify maps the screen lines to an Event. previous resolves
// ambiguous banners: a startup banner that never scrolls away does
// not re-trigger ViewStartup once the session has moved on.
func Classify(lines []string, previous View) Event {
	// Defensive: raw escapes should never reach the classifier (the
	// emulator decodes them), but a stray one must not defeat the
	// literal matchers.
	clean := make([]string, len(lines))
	for i, line := range lines {
		if strings.IndexByte(line, 0x1b) >= 0 {
			line = ansi.Strip(line)
		}
		clean[i] = strings.TrimRight(line, " ")
	}
	event := Event{Lines: clean}

	blank := allBlank(clean)
	atStart := previous == ViewUnknown || previous == ViewStartup

	if atStart && (blank || hasStartupBanner(clean)) {
		event.View = ViewStartup
		return event
	}

	// The idle prompt box stays on screen while the assistant works,
	// so idle only holds when no spinner is active.
	spinnerText, spinning := findSpinner(clean)
	if !spinning && hasIdlePrompt(clean) && !hasApprovalMenu(clean) {
		event.View = ViewIdle
		return event
	}

	if spinning && !hasApprovalMenu(clean) {
		event.View = ViewThinking
		event.Payload = Payload{Text: spinnerText}
		return event
	}

	if hasApprovalMenu(clean) {
		event.View = ViewToolRequest
		event.Payload = approvalPayload(clean)
		return event
	}

	if hasRunningTool(clean) {
		event.View = ViewToolRunning
		event.Payload = toolPayload(clean)
		return event
	}

	if hasToolResult(clean) {
		event.View = ViewToolResult
		event.Payload = toolPayload(clean)
		return event
	}

	if containsFold(clean, "running in the background") || containsFold(clean, "background task") {
		event.View = ViewBackgroundTask
		return event
	}

	if matchesAny(clean, parallelPattern) {
		event.View = ViewParallelAgents
		return event
	}

	if hasTodoList(clean) {
		event.View = ViewTodoList
		return event
	}

	if hasAuthBanner(clean) {
		event.View = ViewAuthRequired
		return event
	}

	if text, ok := findErrorBanner(clean); ok {
		event.View = ViewError
		event.Payload = Payload{Text: text}
		return event
	}

	if text, ok := findUserEcho(clean); ok {
		event.View = ViewUserMessage
		event.Payload = Payload{Text: text}
		return event
	}

	if containsMarker(clean, responseMarker) {
		event.View = ViewStreaming
		event.Payload = streamingPayload(clean)
		return event
	}

	event.View = ViewUnknown
	return event
}

func allBlank(lines []string) bool {
	for _, line := range lines {
		if strings.TrimSpace(line) != "" {
			return false
		}
	}
	return true
}

func hasStartupBanner(lines []string) bool {
	return containsFold(lines, "welcome to claude") || containsFold(lines, "claude code v")
}

func hasIdlePrompt(lines []string) bool {
	for _, line := range lines {
		if idlePromptPattern.MatchString(strings.TrimSpace(line)) {
			return true
		}
	}
	return false
}

// findSpinner returns the activity word of a spinner status line
// ("Puzzling", "Thinking") when one is on screen.
func findSpinner(lines []string) (string, bool) {
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if m := spinnerPattern.FindStringSubmatch(trimmed); m != nil {
			return m[1], true
		}
		// Longer status lines keep the interrupt hint even when the
		// activity word scrolled out of the match window.
		if strings.Contains(trimmed, "esc to interrupt") && hasAnyPrefix(trimmed, spinnerGlyphs) {
			return "", true
		}
	}
	return "", false
}

func hasAnyPrefix(s string, glyphs string) bool {
	for _, g := range glyphs {
		if strings.HasPrefix(s, string(g)) {
			return true
		}
	}
	return false
}

// hasApprovalMenu detects a tool approval prompt: at least two
// numbered options, one of them a yes, below a question.
func hasApprovalMenu(lines []string) bool {
	options, _ := collectOptions(lines)
	if len(options) < 2 {
		return false
	}
	for _, option := range options {
		if strings.HasPrefix(strings.ToLower(option), "yes") {
			return true
		}
	}
	// Fully numbered menus without a yes/no (e.g. a trust or model
	// choice) still count when introduced by a question.
	for _, line := range lines {
		trimmed := strings.TrimSpace(strings.Trim(strings.TrimSpace(line), "│"))
		if strings.Contains(trimmed, "Do you want") {
			return true
		}
		if strings.HasSuffix(trimmed, "?") && !strings.Contains(trimmed, "for shortcuts") {
			return true
		}
	}
	return false
}

func collectOptions(lines []string) (options []string, selected int) {
	selected = -1
	for _, line := range lines {
		inner := strings.TrimSpace(strings.Trim(strings.TrimSpace(line), "│"))
		m := optionPattern.FindStringSubmatch(inner)
		if m == nil {
			continue
		}
		if m[1] != "" {
			selected = len(options)
		}
		options = append(options, m[3])
	}
	if selected < 0 {
		selected = 0
	}
	return options, selected
}

func approvalPayload(lines []string) Payload {
	payload := toolPayload(lines)
	payload.Options, payload.Selected = collectOptions(lines)
	return payload
}

// toolPayload extracts the "Tool(target)" invocation closest to the
// bottom of the screen, which is the one the other markers refer to.
func toolPayload(lines []string) Payload {
	for i := len(lines) - 1; i >= 0; i-- {
		trimmed := strings.TrimSpace(lines[i])
		if m := toolCallPattern.FindStringSubmatch(trimmed); m != nil {
			return Payload{Tool: m[1], Target: m[2]}
		}
	}
	return Payload{}
}

func hasRunningTool(lines []string) bool {
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, resultMarker) && strings.Contains(trimmed, "Running") {
			return true
		}
	}
	return false
}

func hasToolResult(lines []string) bool {
	for i := len(lines) - 1; i >= 0; i-- {
		trimmed := strings.TrimSpace(lines[i])
		if trimmed == "" {
			continue
		}
		// The result connector is the last meaningful thing drawn
		// when a tool just finished.
		if strings.HasPrefix(trimmed, resultMarker) {
			return true
		}
		return false
	}
	return false
}

func hasTodoList(lines []string) bool {
	boxes := 0
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		for _, g := range checkboxGlyphs {
			if strings.HasPrefix(trimmed, string(g)) {
				boxes++
				break
			}
		}
	}
	return boxes >= 1
}

func hasAuthBanner(lines []string) bool {
	return containsFold(lines, "/login") ||
		containsFold(lines, "invalid api key") ||
		containsFold(lines, "authentication required") ||
		containsFold(lines, "please log in")
}

func findErrorBanner(lines []string) (string, bool) {
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "✗") || strings.HasPrefix(trimmed, "Error:") {
			return strings.TrimSpace(strings.TrimPrefix(strings.TrimPrefix(trimmed, "✗"), "Error:")), true
		}
	}
	return "", false
}

// findUserEcho matches the assistant echoing the user's message back
// ("> fix the failing test") with no response content yet.
func findUserEcho(lines []string) (string, bool) {
	if containsMarker(lines, responseMarker) {
		return "", false
	}
	for i := len(lines) - 1; i >= 0; i-- {
		trimmed := strings.TrimSpace(lines[i])
		if trimmed == "" {
			continue
		}
		if rest, ok := strings.CutPrefix(trimmed, "> "); ok {
			return rest, true
		}
		return "", false
	}
	return "", false
}

func streamingPayload(lines []string) Payload {
	// Everything from the last response marker down, minus chrome.
	start := -1
	for i, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), responseMarker) {
			start = i
		}
	}
	var parts []string
	if start >= 0 {
		for _, line := range lines[start:] {
			if isChromeLine(line) {
				continue
			}
			parts = append(parts, strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), responseMarker)))
		}
	}
	return Payload{
		Text:     strings.TrimSpace(strings.Join(parts, "\n")),
		Complete: hasIdlePrompt(lines),
	}
}

func containsMarker(lines []string, marker string) bool {
	for _, line := range lines {
		if strings.Contains(line, marker) {
			return true
		}
	}
	return false
}

func containsFold(lines []string, substring string) bool {
	for _, line := range lines {
		if strings.Contains(strings.ToLower(line), substring) {
			return true
		}
	}
	return false
}

func matchesAny(lines []string, pattern *regexp.Regexp) bool {
	for _, line := range lines {
		if pattern.MatchString(line) {
			return true
		}
	}
	return false
}
