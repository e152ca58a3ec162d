// Copyright 2026 The Agentgram Authors
// SPDX-License-Identifier: Apache-2.0

// Package pipeline drives message delivery from classified screen
// events. A single transition table maps (phase, view) to the next
// phase and the actions to run; pairs the table does not know are
// logged and ignored, never guessed at.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/agentgram/agentgram/content"
	"github.com/agentgram/agentgram/render"
	"github.com/agentgram/agentgram/screen"
	"github.com/agentgram/agentgram/stream"
	"github.com/agentgram/agentgram/term"
)

// Phase is the delivery lifecycle state, coarser than screen.View:
// it tracks what the chat surface is showing, not what the terminal
// is showing.
type Phase int

const (
	// PhaseDormant: no response in flight.
	PhaseDormant Phase = iota
	// PhaseThinking: placeholder up, typing keep-alive running.
	PhaseThinking
	// PhaseStreaming: live message growing by edits.
	PhaseStreaming
	// PhaseToolPending: a tool approval menu is on screen; its
	// options were forwarded to the chat.
	PhaseToolPending
)

var phaseNames = map[Phase]string{
	PhaseDormant:     "dormant",
	PhaseThinking:    "thinking",
	PhaseStreaming:   "streaming",
	PhaseToolPending: "tool_pending",
}

func (p Phase) String() string {
	if name, ok := phaseNames[p]; ok {
		return name
	}
	return "invalid"
}

// Action is one delivery step a transition triggers.
type Action int

const (
	// ActionPlaceholder posts the placeholder and starts keep-alive.
	ActionPlaceholder Action = iota
	// ActionAppend extracts new response content and appends it to
	// the live message.
	ActionAppend
	// ActionFinalize flushes and closes the live message as-is.
	ActionFinalize
	// ActionFinalizeFull re-renders the complete response (screen
	// plus scrollback) and closes the live message with it.
	ActionFinalizeFull
	// ActionOptions forwards a tool approval menu to the chat.
	ActionOptions
	// ActionAuthStop warns the chat and terminates the session.
	ActionAuthStop
)

type transitionKey struct {
	phase Phase
	view  screen.View
}

type transition struct {
	next    Phase
	actions []Action
}

// transitions is the whole protocol. A missing pair means "we have
// not seen this and will not act on it" — Step logs it and stays put.
var transitions = map[transitionKey]transition{
	// Dormant: waiting for the assistant to start working.
	{PhaseDormant, screen.ViewThinking}:     {PhaseThinking, []Action{ActionPlaceholder}},
	{PhaseDormant, screen.ViewStreaming}:    {PhaseStreaming, []Action{ActionAppend}},
	{PhaseDormant, screen.ViewToolRequest}:  {PhaseToolPending, []Action{ActionOptions}},
	{PhaseDormant, screen.ViewAuthRequired}: {PhaseDormant, []Action{ActionAuthStop}},

	// Quiet screens keep dormant quiet. Explicit rows, so the
	// warn-on-unmapped rule stays meaningful for the rest.
	{PhaseDormant, screen.ViewUnknown}:        {PhaseDormant, nil},
	{PhaseDormant, screen.ViewStartup}:        {PhaseDormant, nil},
	{PhaseDormant, screen.ViewIdle}:           {PhaseDormant, nil},
	{PhaseDormant, screen.ViewUserMessage}:    {PhaseDormant, nil},
	{PhaseDormant, screen.ViewToolRunning}:    {PhaseDormant, nil},
	{PhaseDormant, screen.ViewToolResult}:     {PhaseDormant, nil},
	{PhaseDormant, screen.ViewBackgroundTask}: {PhaseDormant, nil},
	{PhaseDormant, screen.ViewParallelAgents}: {PhaseDormant, nil},
	{PhaseDormant, screen.ViewTodoList}:       {PhaseDormant, nil},
	{PhaseDormant, screen.ViewError}:          {PhaseDormant, nil},

	// Thinking: placeholder is up.
	{PhaseThinking, screen.ViewThinking}:       {PhaseThinking, nil},
	{PhaseThinking, screen.ViewStreaming}:      {PhaseStreaming, []Action{ActionAppend}},
	{PhaseThinking, screen.ViewToolRequest}:    {PhaseToolPending, []Action{ActionFinalizeFull, ActionOptions}},
	{PhaseThinking, screen.ViewToolRunning}:    {PhaseStreaming, []Action{ActionAppend}},
	{PhaseThinking, screen.ViewToolResult}:     {PhaseStreaming, []Action{ActionAppend}},
	{PhaseThinking, screen.ViewIdle}:           {PhaseDormant, []Action{ActionFinalizeFull}},
	{PhaseThinking, screen.ViewBackgroundTask}: {PhaseThinking, nil},
	{PhaseThinking, screen.ViewParallelAgents}: {PhaseThinking, nil},
	{PhaseThinking, screen.ViewTodoList}:       {PhaseThinking, nil},
	{PhaseThinking, screen.ViewUserMessage}:    {PhaseThinking, nil},
	{PhaseThinking, screen.ViewError}:          {PhaseDormant, []Action{ActionFinalize}},
	{PhaseThinking, screen.ViewAuthRequired}:   {PhaseDormant, []Action{ActionFinalize, ActionAuthStop}},

	// Streaming: the live message grows until the prompt returns.
	// A fresh thinking indicator or a tool approval menu ends the
	// current segment: the live message is closed out (authoritative
	// re-render, history cleared) before the next surface appears, so
	// no segment's text leaks into the next message.
	{PhaseStreaming, screen.ViewStreaming}:      {PhaseStreaming, []Action{ActionAppend}},
	{PhaseStreaming, screen.ViewThinking}:       {PhaseThinking, []Action{ActionFinalizeFull, ActionPlaceholder}},
	{PhaseStreaming, screen.ViewToolRunning}:    {PhaseStreaming, []Action{ActionAppend}},
	{PhaseStreaming, screen.ViewToolResult}:     {PhaseStreaming, []Action{ActionAppend}},
	{PhaseStreaming, screen.ViewBackgroundTask}: {PhaseStreaming, []Action{ActionAppend}},
	{PhaseStreaming, screen.ViewParallelAgents}: {PhaseStreaming, []Action{ActionAppend}},
	{PhaseStreaming, screen.ViewTodoList}:       {PhaseStreaming, []Action{ActionAppend}},
	{PhaseStreaming, screen.ViewError}:          {PhaseStreaming, []Action{ActionAppend}},
	{PhaseStreaming, screen.ViewToolRequest}:    {PhaseToolPending, []Action{ActionFinalizeFull, ActionOptions}},
	{PhaseStreaming, screen.ViewIdle}:           {PhaseDormant, []Action{ActionFinalizeFull}},
	{PhaseStreaming, screen.ViewAuthRequired}:   {PhaseDormant, []Action{ActionFinalize, ActionAuthStop}},

	// Tool pending: the approval menu is in the chat; the terminal
	// resumes once someone answers (in chat or at the keyboard).
	{PhaseToolPending, screen.ViewToolRequest}: {PhaseToolPending, nil},
	{PhaseToolPending, screen.ViewThinking}:    {PhaseThinking, []Action{ActionPlaceholder}},
	{PhaseToolPending, screen.ViewStreaming}:   {PhaseStreaming, []Action{ActionAppend}},
	{PhaseToolPending, screen.ViewToolRunning}: {PhaseStreaming, []Action{ActionAppend}},
	{PhaseToolPending, screen.ViewToolResult}:  {PhaseStreaming, []Action{ActionAppend}},
	{PhaseToolPending, screen.ViewIdle}:        {PhaseDormant, []Action{ActionFinalizeFull}},
	{PhaseToolPending, screen.ViewUserMessage}: {PhaseToolPending, nil},
}

// Lookup exposes the table for totality checks.
func Lookup(phase Phase, view screen.View) (next Phase, actions []Action, ok bool) {
	t, ok := transitions[transitionKey{phase, view}]
	if !ok {
		return phase, nil, false
	}
	return t.next, t.actions, true
}

// State is the per-session pipeline state.
type State struct {
	Emulator *term.Emulator
	Message  *stream.Message
	Phase    Phase
	Previous screen.View
}

// Runner executes transitions for one session. Terminate is invoked
// on auth failure; delivery errors are logged and swallowed so a
// flaky surface never kills the terminal session.
type Runner struct {
	Transport stream.Transport
	Content   content.Config
	Logger    *slog.Logger
	Terminate func(ctx context.Context) error
}

// Step advances the state machine by one classified event and runs
// the actions it demands, in order.
func (r *Runner) Step(ctx context.Context, state *State, event screen.Event) {
	logger := r.logger()
	next, actions, ok := Lookup(state.Phase, event.View)
	if !ok {
		logger.Warn("no transition",
			"phase", state.Phase.String(),
			"view", event.View.String(),
		)
		state.Previous = event.View
		return
	}

	for _, action := range actions {
		if err := r.run(ctx, state, event, action); err != nil {
			logger.Warn("action failed",
				"action", int(action),
				"phase", state.Phase.String(),
				"view", event.View.String(),
				"error", err,
			)
		}
	}

	if next != state.Phase {
		logger.Debug("phase change",
			"from", state.Phase.String(),
			"to", next.String(),
			"view", event.View.String(),
		)
	}
	state.Phase = next
	state.Previous = event.View
}

func (r *Runner) run(ctx context.Context, state *State, event screen.Event, action Action) error {
	switch action {
	case ActionPlaceholder:
		return state.Message.StartPlaceholder(ctx)

	case ActionAppend:
		rows := screen.ResponseSpans(state.Emulator.AttributedChanges())
		chunk := render.Render(content.Classify(rows, r.Content), r.Content)
		if chunk.Empty() {
			// Nothing new this tick; give any throttled backlog a
			// chance to go out.
			return state.Message.Flush(ctx)
		}
		return state.Message.Append(ctx, chunk)

	case ActionFinalize:
		return state.Message.Finalize(ctx, nil)

	case ActionFinalizeFull:
		rows := screen.ResponseSpans(state.Emulator.FullAttributedLines())
		chunk := render.Render(content.Classify(rows, r.Content), r.Content)
		defer state.Emulator.ClearHistory()
		if chunk.Empty() {
			return state.Message.Finalize(ctx, nil)
		}
		return state.Message.Finalize(ctx, &chunk)

	case ActionOptions:
		_, err := r.Transport.SendOptions(ctx, approvalPrompt(event.Payload), event.Payload.Options)
		return err

	case ActionAuthStop:
		const notice = "The agent needs to re-authenticate. Run it in a terminal, log in, then start a new session here."
		if _, err := r.Transport.SendMessage(ctx, notice, false); err != nil {
			r.logger().Warn("auth notice failed", "error", err)
		}
		if r.Terminate != nil {
			return r.Terminate(ctx)
		}
		return nil

	default:
		return fmt.Errorf("pipeline: unknown action %d", action)
	}
}

func (r *Runner) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}

// approvalPrompt describes a tool approval for the chat surface.
func approvalPrompt(p screen.Payload) string {
	var b strings.Builder
	b.WriteString("Approval needed")
	if p.Tool != "" {
		b.WriteString(": ")
		b.WriteString(p.Tool)
		if p.Target != "" {
			b.WriteString("(")
			b.WriteString(p.Target)
			b.WriteString(")")
		}
	}
	return b.String()
}
