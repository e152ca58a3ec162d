// Copyright 2026 The Agentgram Authors
// SPDX-License-Identifier: Apache-2.0

// Package stream delivers a growing response to a chat surface as a
// single message edited in place. It owns the pacing rules: edit
// throttling that folds rather than drops, overflow splitting at line
// boundaries, a typing keep-alive while there is nothing to show yet,
// and a degradation ladder for delivery failures. Delivery problems
// are absorbed here — the pipeline above never dies because an edit
// bounced.
package stream

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/agentgram/agentgram/lib/clock"
	"github.com/agentgram/agentgram/render"
)

// MessageID identifies a sent chat message within its chat.
type MessageID int

// Sentinel errors a Transport maps surface-specific failures onto.
var (
	// ErrBadFormat: the surface rejected the rich formatting.
	ErrBadFormat = errors.New("stream: message format rejected")

	// ErrNotEditable: the message is too old or gone; further edits
	// are pointless.
	ErrNotEditable = errors.New("stream: message no longer editable")
)

// Transport is a chat-bound delivery surface. Implementations must
// map their own error vocabulary onto the sentinel errors above and
// treat a no-op edit (same text) as success.
type Transport interface {
	SendMessage(ctx context.Context, text string, rich bool) (MessageID, error)
	EditMessage(ctx context.Context, id MessageID, text string, rich bool) error
	SendTyping(ctx context.Context) error
	SendOptions(ctx context.Context, prompt string, options []string) (MessageID, error)
}

const (
	defaultLimit             = 4096
	defaultEditInterval      = 500 * time.Millisecond
	defaultKeepAliveInterval = 4 * time.Second
	defaultPlaceholder       = "Thinking…"
)

// Config configures a Message. Transport is required; everything else
// has a default.
type Config struct {
	Transport Transport
	Clock     clock.Clock
	Logger    *slog.Logger

	// Limit is the maximum message length in runes before the
	// message is split.
	Limit int

	// EditInterval is the minimum spacing between network edits.
	EditInterval time.Duration

	// KeepAliveInterval is the spacing of typing indicators while
	// the placeholder is up.
	KeepAliveInterval time.Duration

	// Placeholder is the text shown before any content arrives.
	Placeholder string
}

func (c Config) withDefaults() Config {
	if c.Clock == nil {
		c.Clock = clock.Real()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Limit <= 0 {
		c.Limit = defaultLimit
	}
	if c.EditInterval <= 0 {
		c.EditInterval = defaultEditInterval
	}
	if c.KeepAliveInterval <= 0 {
		c.KeepAliveInterval = defaultKeepAliveInterval
	}
	if c.Placeholder == "" {
		c.Placeholder = defaultPlaceholder
	}
	return c
}

// Message is one streaming response delivery. Zero or one chat
// message is live at a time; overflow finalizes the live message and
// rolls the remainder into a fresh one.
type Message struct {
	config Config

	mu       sync.Mutex
	id       MessageID
	html     string
	plain    string
	lastSent string
	lastEdit time.Time
	dirty    bool

	kaStop chan struct{}
	kaDone chan struct{}
}

// New returns an idle Message bound to config.Transport.
func New(config Config) *Message {
	return &Message{config: config.withDefaults()}
}

// Active reports whether a chat message is currently live.
func (m *Message) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.id != 0
}

// StartPlaceholder posts the placeholder message and starts the
// typing keep-alive. Calling it while already active only (re)arms
// the keep-alive.
func (m *Message) StartPlaceholder(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.id == 0 {
		id, err := m.config.Transport.SendMessage(ctx, m.config.Placeholder, false)
		if err != nil {
			return err
		}
		m.id = id
		m.lastSent = ""
		m.lastEdit = m.config.Clock.Now()
	}
	m.startKeepAliveLocked(ctx)
	return nil
}

// Append accumulates a rendered chunk and delivers it, subject to the
// edit throttle. A throttled append is never lost: it folds into the
// next permitted edit. Appending cancels the keep-alive before any
// delivery, so a typing indicator never races the first real edit.
func (m *Message) Append(ctx context.Context, chunk render.Chunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stopKeepAliveLocked()
	if chunk.Empty() {
		return nil
	}

	if m.html != "" {
		m.html += "\n"
		m.plain += "\n"
	}
	m.html += chunk.HTML
	m.plain += chunk.Plain

	if !m.overflowLocked(ctx) {
		return nil
	}
	return m.flushLocked(ctx, false)
}

// Flush delivers any backlog the throttle deferred, under the same
// pacing rules. Useful on poll ticks that produced no new content.
func (m *Message) Flush(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.dirty {
		return nil
	}
	if !m.overflowLocked(ctx) {
		return nil
	}
	return m.flushLocked(ctx, false)
}

// Finalize flushes everything outstanding and detaches from the live
// message. When full is non-nil its content replaces the accumulated
// text — the caller re-rendered the complete response and wants the
// message to end in that authoritative form.
func (m *Message) Finalize(ctx context.Context, full *render.Chunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stopKeepAliveLocked()
	if full != nil && !full.Empty() {
		m.html = full.HTML
		m.plain = full.Plain
	}

	var err error
	if strings.TrimSpace(m.plain) != "" || strings.TrimSpace(m.html) != "" {
		if m.overflowLocked(ctx) {
			err = m.flushLocked(ctx, true)
		}
	}

	m.id = 0
	m.html = ""
	m.plain = ""
	m.lastSent = ""
	m.lastEdit = time.Time{}
	m.dirty = false
	return err
}

// overflowLocked splits the accumulated text while it exceeds the
// limit: the head (cut at the last line break that fits) becomes the
// final content of the live message, and the tail rolls into a fresh
// message on the next delivery. It reports whether every head went
// out; a head stuck on the wire leaves the whole backlog accumulated
// and dirty, so a later flush retries head and tail together and
// nothing is lost.
func (m *Message) overflowLocked(ctx context.Context) bool {
	for runeLen(m.html) > m.config.Limit {
		htmlHead, htmlTail := splitAtLimit(m.html, m.config.Limit)
		// The plain form shares the rich form's line structure, so a
		// line-break split carries over by line count. A hard cut
		// (one enormous line) falls back to the rune limit.
		var plainHead, plainTail string
		if htmlHead+"\n"+htmlTail == m.html {
			plainHead, plainTail = splitAfterLines(m.plain, strings.Count(htmlHead, "\n")+1)
		} else {
			plainHead, plainTail = splitAtLimit(m.plain, m.config.Limit)
		}

		backlogHTML, backlogPlain := m.html, m.plain
		m.html = htmlHead
		m.plain = plainHead
		if !m.deliverLocked(ctx) {
			m.html = backlogHTML
			m.plain = backlogPlain
			return false
		}

		m.id = 0
		m.lastSent = ""
		m.lastEdit = time.Time{}
		m.html = htmlTail
		m.plain = plainTail
	}
	return true
}

// flushLocked delivers the accumulated text unless the throttle says
// wait. force bypasses the throttle (finalization).
func (m *Message) flushLocked(ctx context.Context, force bool) error {
	if m.html == m.lastSent && m.id != 0 {
		m.dirty = false
		return nil
	}
	now := m.config.Clock.Now()
	if !force && m.id != 0 && now.Sub(m.lastEdit) < m.config.EditInterval {
		m.dirty = true
		return nil
	}
	m.deliverLocked(ctx)
	return nil
}

// deliverLocked performs one send-or-edit, walking the degradation
// ladder on failure:
//
//	rich edit → plain edit        (formatting rejected)
//	edit      → fresh send        (message no longer editable)
//	anything else                 (log; text stays accumulated)
//
// It reports whether the accumulated text went out. On failure the
// text stays accumulated and dirty for the next attempt.
func (m *Message) deliverLocked(ctx context.Context) bool {
	now := m.config.Clock.Now()

	if m.id == 0 {
		id, err := m.config.Transport.SendMessage(ctx, m.html, true)
		if errors.Is(err, ErrBadFormat) {
			id, err = m.config.Transport.SendMessage(ctx, m.plain, false)
		}
		if err != nil {
			m.config.Logger.Warn("message send failed", "error", err)
			m.dirty = true
			return false
		}
		m.id = id
		m.lastSent = m.html
		m.lastEdit = now
		m.dirty = false
		return true
	}

	err := m.config.Transport.EditMessage(ctx, m.id, m.html, true)
	switch {
	case err == nil:
	case errors.Is(err, ErrBadFormat):
		err = m.config.Transport.EditMessage(ctx, m.id, m.plain, false)
	case errors.Is(err, ErrNotEditable):
		var id MessageID
		id, err = m.config.Transport.SendMessage(ctx, m.html, true)
		if err == nil {
			m.id = id
		}
	}
	if err != nil {
		m.config.Logger.Warn("message edit failed", "id", int(m.id), "error", err)
		m.dirty = true
		return false
	}
	m.lastSent = m.html
	m.lastEdit = now
	m.dirty = false
	return true
}

func (m *Message) startKeepAliveLocked(ctx context.Context) {
	if m.kaStop != nil {
		return
	}
	stop := make(chan struct{})
	done := make(chan struct{})
	m.kaStop = stop
	m.kaDone = done

	ticker := m.config.Clock.NewTicker(m.config.KeepAliveInterval)
	transport := m.config.Transport
	logger := m.config.Logger
	go func() {
		defer close(done)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := transport.SendTyping(ctx); err != nil {
					logger.Debug("typing keep-alive failed", "error", err)
				}
			}
		}
	}()
}

// stopKeepAliveLocked cancels the keep-alive and waits for the
// goroutine to exit, so no typing indicator is in flight once content
// delivery starts.
func (m *Message) stopKeepAliveLocked() {
	if m.kaStop == nil {
		return
	}
	close(m.kaStop)
	<-m.kaDone
	m.kaStop = nil
	m.kaDone = nil
}

// splitAtLimit cuts text so the head fits within limit runes,
// preferring the last line break before the cut.
func splitAtLimit(text string, limit int) (head, tail string) {
	if runeLen(text) <= limit {
		return text, ""
	}
	cut := byteIndexOfRune(text, limit)
	if n := strings.LastIndexByte(text[:cut], '\n'); n >= 0 {
		return text[:n], text[n+1:]
	}
	return text[:cut], text[cut:]
}

// splitAfterLines cuts text after n lines. Text with fewer lines is
// returned whole.
func splitAfterLines(text string, n int) (head, tail string) {
	i := 0
	for count := 0; count < n; count++ {
		next := strings.IndexByte(text[i:], '\n')
		if next < 0 {
			return text, ""
		}
		i += next + 1
	}
	return text[:i-1], text[i:]
}

func byteIndexOfRune(s string, n int) int {
	i := 0
	for count := 0; count < n && i < len(s); count++ {
		_, size := utf8.DecodeRuneInString(s[i:])
		i += size
	}
	return i
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}
