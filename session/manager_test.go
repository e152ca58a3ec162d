// Copyright 2026 The Agentgram Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"testing"

	"github.com/agentgram/agentgram/stream"
)

func newTestManager(t *testing.T) (*Manager, *chatRecorder) {
	t.Helper()
	transport := &chatRecorder{}
	m, err := NewManager(ManagerConfig{
		Session: Config{
			Command: []string{"sh", "-c", "sleep 30"},
			Rows:    6,
			Cols:    40,
		},
		TransportFor: func(int64) stream.Transport { return transport },
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(m.StopAll)
	return m, transport
}

func TestManagerStartGetStop(t *testing.T) {
	requireShell(t)
	m, _ := newTestManager(t)

	if m.Get(7) != nil {
		t.Fatal("session exists before start")
	}
	s, err := m.Start(7)
	if err != nil {
		t.Fatal(err)
	}
	if m.Get(7) != s {
		t.Error("Get returned a different session")
	}
	if !m.Stop(7) {
		t.Error("Stop found nothing")
	}
	if m.Get(7) != nil {
		t.Error("session survived Stop")
	}
	if m.Stop(7) {
		t.Error("second Stop found a session")
	}
}

func TestManagerStartReplacesExisting(t *testing.T) {
	requireShell(t)
	m, _ := newTestManager(t)

	first, err := m.Start(7)
	if err != nil {
		t.Fatal(err)
	}
	second, err := m.Start(7)
	if err != nil {
		t.Fatal(err)
	}
	if first == second {
		t.Fatal("start did not replace the session")
	}
	if m.Get(7) != second {
		t.Error("old session still registered")
	}
	// The replaced process must be gone.
	select {
	case <-first.Done():
	default:
		// Give the kill a moment; Done closes after drain.
	}
}

func TestManagerStatus(t *testing.T) {
	requireShell(t)
	m, _ := newTestManager(t)

	if _, err := m.Start(2); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Start(1); err != nil {
		t.Fatal(err)
	}

	infos := m.Status()
	if len(infos) != 2 || infos[0].ChatID != 1 || infos[1].ChatID != 2 {
		t.Errorf("status = %+v", infos)
	}
}

func TestManagerRequiresTransportFactory(t *testing.T) {
	if _, err := NewManager(ManagerConfig{}); err == nil {
		t.Error("config without TransportFor accepted")
	}
}
