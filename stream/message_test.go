// Copyright 2026 The Agentgram Authors
// SPDX-License-Identifier: Apache-2.0

package stream

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/agentgram/agentgram/lib/clock"
	"github.com/agentgram/agentgram/lib/testutil"
	"github.com/agentgram/agentgram/render"
)

type delivered struct {
	ID   MessageID
	Text string
	Rich bool
}

type fakeTransport struct {
	mu      sync.Mutex
	nextID  MessageID
	sends   []delivered
	edits   []delivered
	editErr func(rich bool) error
	sendErr func(rich bool) error
	typing  chan struct{}
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{typing: make(chan struct{}, 16)}
}

func (f *fakeTransport) SendMessage(_ context.Context, text string, rich bool) (MessageID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		if err := f.sendErr(rich); err != nil {
			return 0, err
		}
	}
	f.nextID++
	f.sends = append(f.sends, delivered{ID: f.nextID, Text: text, Rich: rich})
	return f.nextID, nil
}

func (f *fakeTransport) EditMessage(_ context.Context, id MessageID, text string, rich bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.editErr != nil {
		if err := f.editErr(rich); err != nil {
			return err
		}
	}
	f.edits = append(f.edits, delivered{ID: id, Text: text, Rich: rich})
	return nil
}

func (f *fakeTransport) SendTyping(context.Context) error {
	select {
	case f.typing <- struct{}{}:
	default:
	}
	return nil
}

func (f *fakeTransport) SendOptions(_ context.Context, prompt string, _ []string) (MessageID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.sends = append(f.sends, delivered{ID: f.nextID, Text: prompt})
	return f.nextID, nil
}

func (f *fakeTransport) snapshot() (sends, edits []delivered) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]delivered(nil), f.sends...), append([]delivered(nil), f.edits...)
}

func chunk(text string) render.Chunk {
	return render.Chunk{HTML: text, Plain: text}
}

func newTestMessage(transport Transport, c *clock.FakeClock) *Message {
	return New(Config{
		Transport:         transport,
		Clock:             c,
		Limit:             50,
		EditInterval:      500 * time.Millisecond,
		KeepAliveInterval: 4 * time.Second,
	})
}

func TestFirstAppendSendsImmediately(t *testing.T) {
	transport := newFakeTransport()
	m := newTestMessage(transport, clock.Fake(time.Unix(0, 0)))

	if err := m.Append(context.Background(), chunk("hello")); err != nil {
		t.Fatal(err)
	}

	sends, edits := transport.snapshot()
	if len(sends) != 1 || sends[0].Text != "hello" || !sends[0].Rich {
		t.Errorf("sends = %+v", sends)
	}
	if len(edits) != 0 {
		t.Errorf("unexpected edits: %+v", edits)
	}
	if !m.Active() {
		t.Error("message should be live after first append")
	}
}

func TestThrottleFoldsIntoNextEdit(t *testing.T) {
	transport := newFakeTransport()
	fc := clock.Fake(time.Unix(100, 0))
	m := newTestMessage(transport, fc)
	ctx := context.Background()

	m.Append(ctx, chunk("one"))
	m.Append(ctx, chunk("two")) // inside the edit interval

	if _, edits := transport.snapshot(); len(edits) != 0 {
		t.Fatalf("throttled append reached network: %+v", edits)
	}

	fc.Advance(600 * time.Millisecond)
	m.Append(ctx, chunk("three"))

	_, edits := transport.snapshot()
	if len(edits) != 1 {
		t.Fatalf("edits = %d, want 1", len(edits))
	}
	if edits[0].Text != "one\ntwo\nthree" {
		t.Errorf("folded edit text = %q", edits[0].Text)
	}
}

func TestFlushDeliversThrottledBacklog(t *testing.T) {
	transport := newFakeTransport()
	fc := clock.Fake(time.Unix(100, 0))
	m := newTestMessage(transport, fc)
	ctx := context.Background()

	m.Append(ctx, chunk("one"))
	m.Append(ctx, chunk("two")) // throttled

	// Still inside the interval: Flush must respect the throttle.
	m.Flush(ctx)
	if _, edits := transport.snapshot(); len(edits) != 0 {
		t.Fatalf("flush broke the throttle: %+v", edits)
	}

	fc.Advance(time.Second)
	if err := m.Flush(ctx); err != nil {
		t.Fatal(err)
	}
	_, edits := transport.snapshot()
	if len(edits) != 1 || edits[0].Text != "one\ntwo" {
		t.Errorf("edits = %+v", edits)
	}
}

func TestFinalizeFlushesOutstanding(t *testing.T) {
	transport := newFakeTransport()
	fc := clock.Fake(time.Unix(100, 0))
	m := newTestMessage(transport, fc)
	ctx := context.Background()

	m.Append(ctx, chunk("one"))
	m.Append(ctx, chunk("two"))
	if err := m.Finalize(ctx, nil); err != nil {
		t.Fatal(err)
	}

	_, edits := transport.snapshot()
	if len(edits) != 1 || edits[0].Text != "one\ntwo" {
		t.Errorf("edits = %+v", edits)
	}
	if m.Active() {
		t.Error("message should be idle after finalize")
	}
}

func TestFinalizeWithAuthoritativeRender(t *testing.T) {
	transport := newFakeTransport()
	fc := clock.Fake(time.Unix(100, 0))
	m := newTestMessage(transport, fc)
	ctx := context.Background()

	m.Append(ctx, chunk("partial"))
	full := chunk("the whole response")
	if err := m.Finalize(ctx, &full); err != nil {
		t.Fatal(err)
	}

	_, edits := transport.snapshot()
	if len(edits) != 1 || edits[0].Text != "the whole response" {
		t.Errorf("edits = %+v", edits)
	}
}

func TestOverflowSplitsAtLineBreak(t *testing.T) {
	transport := newFakeTransport()
	m := newTestMessage(transport, clock.Fake(time.Unix(0, 0)))

	head := strings.Repeat("A", 40)
	tail := strings.Repeat("B", 20)
	if err := m.Append(context.Background(), chunk(head+"\n"+tail)); err != nil {
		t.Fatal(err)
	}

	sends, _ := transport.snapshot()
	if len(sends) != 2 {
		t.Fatalf("sends = %d, want 2: %+v", len(sends), sends)
	}
	if sends[0].Text != head {
		t.Errorf("first message = %q, want the head before the line break", sends[0].Text)
	}
	if sends[1].Text != tail {
		t.Errorf("second message = %q", sends[1].Text)
	}
}

func TestOverflowHardCutsWithoutLineBreak(t *testing.T) {
	transport := newFakeTransport()
	m := newTestMessage(transport, clock.Fake(time.Unix(0, 0)))

	long := strings.Repeat("x", 70)
	if err := m.Append(context.Background(), chunk(long)); err != nil {
		t.Fatal(err)
	}

	sends, _ := transport.snapshot()
	if len(sends) != 2 {
		t.Fatalf("sends = %d, want 2", len(sends))
	}
	if got := sends[0].Text + sends[1].Text; got != long {
		t.Errorf("recombined = %q", got)
	}
}

func TestPlaceholderKeepAlive(t *testing.T) {
	transport := newFakeTransport()
	fc := clock.Fake(time.Unix(100, 0))
	m := newTestMessage(transport, fc)
	ctx := context.Background()

	if err := m.StartPlaceholder(ctx); err != nil {
		t.Fatal(err)
	}
	sends, _ := transport.snapshot()
	if len(sends) != 1 || sends[0].Rich {
		t.Fatalf("placeholder sends = %+v", sends)
	}

	fc.Advance(4 * time.Second)
	testutil.RequireReceive(t, transport.typing, time.Second, "typing keep-alive")

	// Content arrival cancels the keep-alive before delivering.
	m.Append(ctx, chunk("real content"))
	fc.Advance(12 * time.Second)
	testutil.RequireNoReceive(t, transport.typing, 50*time.Millisecond, "keep-alive after append")

	_, edits := transport.snapshot()
	if len(edits) != 1 || edits[0].Text != "real content" {
		t.Errorf("edits = %+v", edits)
	}
}

func TestBadFormatFallsBackToPlain(t *testing.T) {
	transport := newFakeTransport()
	transport.editErr = func(rich bool) error {
		if rich {
			return ErrBadFormat
		}
		return nil
	}
	fc := clock.Fake(time.Unix(100, 0))
	m := newTestMessage(transport, fc)
	ctx := context.Background()

	m.Append(ctx, render.Chunk{HTML: "<b>hi</b>", Plain: "hi"})
	fc.Advance(time.Second)
	m.Append(ctx, render.Chunk{HTML: "<b>more</b>", Plain: "more"})

	_, edits := transport.snapshot()
	if len(edits) != 1 {
		t.Fatalf("edits = %+v", edits)
	}
	if edits[0].Rich || edits[0].Text != "hi\nmore" {
		t.Errorf("fallback edit = %+v", edits[0])
	}
}

func TestNotEditableStartsFreshMessage(t *testing.T) {
	transport := newFakeTransport()
	transport.editErr = func(bool) error { return ErrNotEditable }
	fc := clock.Fake(time.Unix(100, 0))
	m := newTestMessage(transport, fc)
	ctx := context.Background()

	m.Append(ctx, chunk("one"))
	fc.Advance(time.Second)
	m.Append(ctx, chunk("two"))

	sends, edits := transport.snapshot()
	if len(edits) != 0 {
		t.Errorf("edits = %+v", edits)
	}
	if len(sends) != 2 || sends[1].Text != "one\ntwo" {
		t.Fatalf("sends = %+v", sends)
	}
	if sends[0].ID == sends[1].ID {
		t.Error("expected a fresh message id")
	}
}

func TestTransientErrorKeepsBacklog(t *testing.T) {
	transport := newFakeTransport()
	failures := 1
	transport.editErr = func(bool) error {
		if failures > 0 {
			failures--
			return errors.New("gateway timeout")
		}
		return nil
	}
	fc := clock.Fake(time.Unix(100, 0))
	m := newTestMessage(transport, fc)
	ctx := context.Background()

	m.Append(ctx, chunk("one"))
	fc.Advance(time.Second)
	m.Append(ctx, chunk("two")) // edit fails, backlog retained
	fc.Advance(time.Second)
	m.Append(ctx, chunk("three"))

	_, edits := transport.snapshot()
	if len(edits) != 1 || edits[0].Text != "one\ntwo\nthree" {
		t.Errorf("edits = %+v", edits)
	}
}

func TestOverflowRetriesUndeliveredHead(t *testing.T) {
	transport := newFakeTransport()
	failures := 1
	transport.sendErr = func(bool) error {
		if failures > 0 {
			failures--
			return errors.New("gateway timeout")
		}
		return nil
	}
	fc := clock.Fake(time.Unix(100, 0))
	m := newTestMessage(transport, fc)
	ctx := context.Background()

	head := strings.Repeat("A", 40)
	tail := strings.Repeat("B", 20)
	if err := m.Append(ctx, chunk(head+"\n"+tail)); err != nil {
		t.Fatal(err)
	}
	if sends, _ := transport.snapshot(); len(sends) != 0 {
		t.Fatalf("failed send recorded a delivery: %+v", sends)
	}

	// The network recovers; the head must go out before the tail,
	// with nothing lost.
	fc.Advance(time.Second)
	if err := m.Flush(ctx); err != nil {
		t.Fatal(err)
	}
	sends, _ := transport.snapshot()
	if len(sends) != 2 {
		t.Fatalf("sends = %+v, want the retried head then the tail", sends)
	}
	if sends[0].Text != head || sends[1].Text != tail {
		t.Errorf("sends = %q then %q", sends[0].Text, sends[1].Text)
	}
}
