// Copyright 2026 The Agentgram Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"os/exec"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/agentgram/agentgram/lib/testutil"
	"github.com/agentgram/agentgram/stream"
)

type chatRecorder struct {
	mu     sync.Mutex
	nextID stream.MessageID
	sends  []string
	edits  []string
}

func (c *chatRecorder) SendMessage(_ context.Context, text string, _ bool) (stream.MessageID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	c.sends = append(c.sends, text)
	return c.nextID, nil
}

func (c *chatRecorder) EditMessage(_ context.Context, _ stream.MessageID, text string, _ bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.edits = append(c.edits, text)
	return nil
}

func (c *chatRecorder) SendTyping(context.Context) error { return nil }

func (c *chatRecorder) SendOptions(_ context.Context, prompt string, _ []string) (stream.MessageID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	c.sends = append(c.sends, prompt)
	return c.nextID, nil
}

func (c *chatRecorder) allSends() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.sends...)
}

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("no shell available")
	}
}

func startShellSession(t *testing.T, transport stream.Transport, script string) *Session {
	t.Helper()
	s, err := Start(Config{
		Command:   []string{"sh", "-c", script},
		Rows:      8,
		Cols:      60,
		Transport: transport,
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// waitFor ticks the session until check passes or the deadline hits.
func waitFor(t *testing.T, s *Session, check func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		s.Tick(context.Background())
		if check() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("condition never held; screen:\n%s", strings.Join(s.Snapshot(), "\n"))
}

func TestSessionStreamsMarkedOutput(t *testing.T) {
	requireShell(t)
	transport := &chatRecorder{}
	s := startShellSession(t, transport, "printf '⏺ hello from the agent'; sleep 2")

	waitFor(t, s, func() bool { return len(transport.allSends()) > 0 })

	sends := transport.allSends()
	if !strings.Contains(sends[0], "hello from the agent") {
		t.Errorf("first send = %q", sends[0])
	}
	if s.Phase() != "streaming" {
		t.Errorf("phase = %q", s.Phase())
	}
}

func TestSessionIgnoresUnmarkedOutput(t *testing.T) {
	requireShell(t)
	transport := &chatRecorder{}
	s := startShellSession(t, transport, "printf 'plain noise'; sleep 2")

	waitFor(t, s, func() bool {
		return strings.Contains(strings.Join(s.Snapshot(), "\n"), "plain noise")
	})
	if sends := transport.allSends(); len(sends) != 0 {
		t.Errorf("unexpected sends: %q", sends)
	}
	if s.Phase() != "dormant" {
		t.Errorf("phase = %q", s.Phase())
	}
}

func TestSessionInputEcho(t *testing.T) {
	requireShell(t)
	transport := &chatRecorder{}
	s := startShellSession(t, transport, "cat")

	if err := s.SendText("ping"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, s, func() bool {
		return strings.Contains(strings.Join(s.Snapshot(), "\n"), "ping")
	})
}

func TestSessionDoneOnExit(t *testing.T) {
	requireShell(t)
	transport := &chatRecorder{}
	s := startShellSession(t, transport, "true")

	testutil.RequireClosed(t, s.Done(), 5*time.Second, "agent exit")
	if !s.Exited() {
		t.Error("Exited() = false after done")
	}
}

func TestSessionCloseKillsAgent(t *testing.T) {
	requireShell(t)
	transport := &chatRecorder{}
	s := startShellSession(t, transport, "sleep 60")

	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	testutil.RequireClosed(t, s.Done(), 5*time.Second, "agent killed")
}

func TestStartRejectsBadConfig(t *testing.T) {
	if _, err := Start(Config{Transport: &chatRecorder{}}); err == nil {
		t.Error("empty command accepted")
	}
	if _, err := Start(Config{Command: []string{"sh"}}); err == nil {
		t.Error("nil transport accepted")
	}
}
