// Copyright 2026 The Agentgram Authors
// SPDX-License-Identifier: Apache-2.0

// Package session runs the coding agent under a pseudo-terminal and
// feeds its output through the delivery pipeline. One Session is one
// agent process bound to one chat; a Manager owns the set of live
// sessions and the shared poll loop.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"sync"

	"github.com/creack/pty"

	"github.com/agentgram/agentgram/content"
	"github.com/agentgram/agentgram/lib/clock"
	"github.com/agentgram/agentgram/pipeline"
	"github.com/agentgram/agentgram/screen"
	"github.com/agentgram/agentgram/stream"
	"github.com/agentgram/agentgram/term"
)

const (
	defaultRows = 40
	defaultCols = 120

	readBufferSize = 32 * 1024
)

// Config configures one Session.
type Config struct {
	// Command is the agent command line. Required.
	Command []string

	// Dir is the working directory the agent starts in.
	Dir string

	// Rows, Cols size the pseudo-terminal and the emulator.
	Rows, Cols int

	// Transport delivers to the chat this session is bound to.
	// Required.
	Transport stream.Transport

	// Content tunes the region classifier.
	Content content.Config

	// Stream tunes message pacing. Transport, Clock, and Logger are
	// filled in from this Config.
	Stream stream.Config

	Clock  clock.Clock
	Logger *slog.Logger
}

func (c Config) withDefaults() (Config, error) {
	if len(c.Command) == 0 {
		return c, errors.New("session: empty command")
	}
	if c.Transport == nil {
		return c, errors.New("session: nil transport")
	}
	if c.Rows <= 0 {
		c.Rows = defaultRows
	}
	if c.Cols <= 0 {
		c.Cols = defaultCols
	}
	if c.Clock == nil {
		c.Clock = clock.Real()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Content.CodeColors == nil {
		c.Content = content.DefaultConfig()
	}
	return c, nil
}

// Session is one agent process under a PTY. Tick is not safe for
// concurrent use; the Manager serializes it. SendText and SendKeys
// may be called from other goroutines.
type Session struct {
	config Config
	cmd    *exec.Cmd
	ptmx   *os.File
	state  *pipeline.State
	runner *pipeline.Runner
	logger *slog.Logger

	mu      sync.Mutex
	pending []byte

	done      chan struct{}
	closeOnce sync.Once
}

// Start launches the agent under a new PTY and begins draining its
// output. The returned session produces no chat traffic until Tick is
// called.
func Start(config Config) (*Session, error) {
	config, err := config.withDefaults()
	if err != nil {
		return nil, err
	}

	cmd := exec.Command(config.Command[0], config.Command[1:]...)
	cmd.Dir = config.Dir
	cmd.Env = append(os.Environ(), "TERM=xterm-256color")

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{
		Rows: uint16(config.Rows),
		Cols: uint16(config.Cols),
	})
	if err != nil {
		return nil, fmt.Errorf("session: start %q: %w", config.Command[0], err)
	}

	streamConfig := config.Stream
	streamConfig.Transport = config.Transport
	streamConfig.Clock = config.Clock
	streamConfig.Logger = config.Logger

	s := &Session{
		config: config,
		cmd:    cmd,
		ptmx:   ptmx,
		logger: config.Logger,
		done:   make(chan struct{}),
		state: &pipeline.State{
			Emulator: term.NewEmulator(config.Rows, config.Cols),
			Message:  stream.New(streamConfig),
		},
	}
	s.runner = &pipeline.Runner{
		Transport: config.Transport,
		Content:   config.Content,
		Logger:    config.Logger,
		Terminate: func(context.Context) error { return s.Close() },
	}

	go s.drain()
	return s, nil
}

// drain reads the PTY until the agent exits, buffering raw bytes for
// the next Tick. The PTY returns an error once the child is gone;
// that is the exit signal, not a fault.
func (s *Session) drain() {
	defer close(s.done)
	buf := make([]byte, readBufferSize)
	for {
		n, err := s.ptmx.Read(buf)
		if n > 0 {
			s.mu.Lock()
			s.pending = append(s.pending, buf[:n]...)
			s.mu.Unlock()
		}
		if err != nil {
			break
		}
	}
	if err := s.cmd.Wait(); err != nil {
		s.logger.Info("agent exited", "error", err)
	} else {
		s.logger.Info("agent exited")
	}
}

// takePending returns and clears the drained bytes.
func (s *Session) takePending() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	data := s.pending
	s.pending = nil
	return data
}

// Tick runs one poll cycle: feed drained bytes to the emulator,
// classify the screen, and step the pipeline. Call it from a single
// goroutine.
func (s *Session) Tick(ctx context.Context) {
	if data := s.takePending(); len(data) > 0 {
		s.state.Emulator.Feed(data)
	}
	event := screen.Classify(s.state.Emulator.Display(), s.state.Previous)
	s.runner.Step(ctx, s.state, event)
}

// SendText types a line of text into the agent, submitting it with a
// carriage return.
func (s *Session) SendText(text string) error {
	return s.SendKeys(text + "\r")
}

// SendOption answers an on-screen numbered menu by pressing the
// 1-based option number.
func (s *Session) SendOption(n int) error {
	if n < 1 {
		return fmt.Errorf("session: option %d out of range", n)
	}
	return s.SendKeys(strconv.Itoa(n))
}

// Interrupt sends Ctrl-C to the agent.
func (s *Session) Interrupt() error {
	return s.SendKeys("\x03")
}

// SendKeys writes raw keystrokes to the PTY.
func (s *Session) SendKeys(keys string) error {
	if _, err := s.ptmx.Write([]byte(keys)); err != nil {
		return fmt.Errorf("session: write input: %w", err)
	}
	return nil
}

// Snapshot returns the current screen, one string per row.
func (s *Session) Snapshot() []string {
	return s.state.Emulator.Display()
}

// Phase reports the delivery phase, for status surfaces.
func (s *Session) Phase() string {
	return s.state.Phase.String()
}

// Done closes when the agent process has exited and the PTY is fully
// drained.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Exited reports whether the agent is gone.
func (s *Session) Exited() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Close kills the agent and releases the PTY. Safe to call more than
// once.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		if s.cmd.Process != nil {
			// Kill rather than signal: the agent's own cleanup can
			// wedge a dead PTY.
			if kerr := s.cmd.Process.Kill(); kerr != nil && !errors.Is(kerr, os.ErrProcessDone) {
				err = kerr
			}
		}
		if cerr := s.ptmx.Close(); cerr != nil && err == nil {
			err = cerr
		}
	})
	return err
}
