// Copyright 2026 The Agentgram Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/agentgram/agentgram/lib/clock"
	"github.com/agentgram/agentgram/stream"
)

const defaultPollInterval = 300 * time.Millisecond

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	// Session is the template for new sessions; Transport is filled
	// per chat via TransportFor.
	Session Config

	// TransportFor builds the chat-bound transport for a chat id.
	// Required.
	TransportFor func(chatID int64) stream.Transport

	// PollInterval spaces the shared poll loop.
	PollInterval time.Duration

	Clock  clock.Clock
	Logger *slog.Logger
}

// Manager owns one session per chat and polls them all from a single
// loop. A session that ticks poorly (or panics) never takes the loop
// down with it.
type Manager struct {
	config ManagerConfig
	logger *slog.Logger
	clock  clock.Clock

	mu       sync.Mutex
	sessions map[int64]*Session
}

// NewManager validates config and returns an empty manager.
func NewManager(config ManagerConfig) (*Manager, error) {
	if config.TransportFor == nil {
		return nil, fmt.Errorf("session: manager needs TransportFor")
	}
	if config.PollInterval <= 0 {
		config.PollInterval = defaultPollInterval
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Manager{
		config:   config,
		logger:   config.Logger,
		clock:    config.Clock,
		sessions: make(map[int64]*Session),
	}, nil
}

// Get returns the live session for a chat, or nil.
func (m *Manager) Get(chatID int64) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[chatID]
}

// Start launches a fresh session for a chat, replacing (and killing)
// any existing one.
func (m *Manager) Start(chatID int64) (*Session, error) {
	config := m.config.Session
	config.Transport = m.config.TransportFor(chatID)
	if config.Clock == nil {
		config.Clock = m.clock
	}
	if config.Logger == nil {
		config.Logger = m.logger.With("chat", chatID)
	}

	s, err := Start(config)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	old := m.sessions[chatID]
	m.sessions[chatID] = s
	m.mu.Unlock()

	if old != nil {
		m.logger.Info("replacing session", "chat", chatID)
		if cerr := old.Close(); cerr != nil {
			m.logger.Warn("closing replaced session", "chat", chatID, "error", cerr)
		}
	}
	return s, nil
}

// Stop kills and removes a chat's session. Reports whether one
// existed.
func (m *Manager) Stop(chatID int64) bool {
	m.mu.Lock()
	s := m.sessions[chatID]
	delete(m.sessions, chatID)
	m.mu.Unlock()

	if s == nil {
		return false
	}
	if err := s.Close(); err != nil {
		m.logger.Warn("closing session", "chat", chatID, "error", err)
	}
	return true
}

// StopAll kills every session.
func (m *Manager) StopAll() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[int64]*Session)
	m.mu.Unlock()

	for chatID, s := range sessions {
		if err := s.Close(); err != nil {
			m.logger.Warn("closing session", "chat", chatID, "error", err)
		}
	}
}

// Info is one row of Status output.
type Info struct {
	ChatID int64
	Phase  string
	Exited bool
}

// Status lists live sessions, ordered by chat id.
func (m *Manager) Status() []Info {
	m.mu.Lock()
	defer m.mu.Unlock()
	infos := make([]Info, 0, len(m.sessions))
	for chatID, s := range m.sessions {
		infos = append(infos, Info{ChatID: chatID, Phase: s.Phase(), Exited: s.Exited()})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ChatID < infos[j].ChatID })
	return infos
}

// Run polls every session until ctx is canceled, then stops them all.
func (m *Manager) Run(ctx context.Context) {
	ticker := m.clock.NewTicker(m.config.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			m.StopAll()
			return
		case <-ticker.C:
			m.tickAll(ctx)
		}
	}
}

func (m *Manager) tickAll(ctx context.Context) {
	m.mu.Lock()
	snapshot := make(map[int64]*Session, len(m.sessions))
	for chatID, s := range m.sessions {
		snapshot[chatID] = s
	}
	m.mu.Unlock()

	for chatID, s := range snapshot {
		m.tickOne(ctx, chatID, s)
		if s.Exited() {
			// One last tick above delivered whatever remained.
			m.logger.Info("session ended", "chat", chatID)
			m.Stop(chatID)
		}
	}
}

// tickOne isolates a session's poll cycle so a panic in one session
// cannot stall the others.
func (m *Manager) tickOne(ctx context.Context, chatID int64, s *Session) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("session tick panicked", "chat", chatID, "panic", r)
		}
	}()
	s.Tick(ctx)
}
