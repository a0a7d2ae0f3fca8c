package browser_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"tabpilot-mcp-server/internal/browser"
	"tabpilot-mcp-server/internal/browser/browsertest"
	"tabpilot-mcp-server/internal/mangle"
)

type factSink struct {
	mu    sync.Mutex
	facts []mangle.Fact
}

func (s *factSink) AddFacts(ctx context.Context, facts []mangle.Fact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.facts = append(s.facts, facts...)
	return nil
}

func (s *factSink) byPredicate(pred string) []mangle.Fact {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []mangle.Fact
	for _, f := range s.facts {
		if f.Predicate == pred {
			out = append(out, f)
		}
	}
	return out
}

func newContext(t *testing.T, pages ...*browsertest.Page) (*browser.Context, *factSink) {
	t.Helper()
	sink := &factSink{}
	return browser.NewContext("sess-1", browsertest.NewFactory(pages...), sink, 100), sink
}

func dialog(desc string) browser.ModalState {
	return browser.ModalState{Type: browser.ModalDialog, Description: desc}
}

func chooser() browser.ModalState {
	return browser.ModalState{Type: browser.ModalFileChooser, Description: "File chooser"}
}

func TestModalStateSet(t *testing.T) {
	page := browsertest.NewPage("https://example.com", "Example")
	c, sink := newContext(t, page)
	if _, err := c.NewTab(context.Background()); err != nil {
		t.Fatalf("NewTab: %v", err)
	}

	page.RaiseModal(dialog(`"alert" dialog with message "one"`))
	page.RaiseModal(chooser())
	page.RaiseModal(dialog(`"alert" dialog with message "two"`))

	states := c.ModalStates()
	if len(states) != 2 {
		t.Fatalf("expected one state per type, got %+v", states)
	}
	if states[0].Description != `"alert" dialog with message "two"` {
		t.Errorf("same-type raise should replace in place, got %q", states[0].Description)
	}
	if states[1].Type != browser.ModalFileChooser {
		t.Errorf("expected file chooser second, got %q", states[1].Type)
	}

	if !c.ClearModalState(browser.ModalDialog) {
		t.Fatal("expected dialog to be cleared")
	}
	if c.HasModalState(browser.ModalDialog) {
		t.Error("dialog still present after clear")
	}
	if !c.HasModalState(browser.ModalFileChooser) {
		t.Error("clearing the dialog must not touch the file chooser")
	}
	if c.ClearModalState(browser.ModalDialog) {
		t.Error("second clear should report nothing removed")
	}

	if got := len(sink.byPredicate("modal_state")); got != 3 {
		t.Errorf("expected 3 modal_state facts, got %d", got)
	}
}

func TestClearModalStateBefore(t *testing.T) {
	page := browsertest.NewPage("https://example.com", "Example")
	c, _ := newContext(t, page)
	if _, err := c.NewTab(context.Background()); err != nil {
		t.Fatalf("NewTab: %v", err)
	}

	page.RaiseModal(dialog("first"))
	mark := c.ModalMark()
	page.RaiseModal(dialog("second"))

	if c.ClearModalStateBefore(browser.ModalDialog, mark) {
		t.Fatal("a dialog raised after the mark must survive")
	}
	if states := c.ModalStates(); len(states) != 1 || states[0].Description != "second" {
		t.Fatalf("unexpected states %+v", states)
	}
	if !c.ClearModalStateBefore(browser.ModalDialog, c.ModalMark()) {
		t.Fatal("expected clear with current mark to succeed")
	}
}

func TestModalRaisedSignal(t *testing.T) {
	page := browsertest.NewPage("https://example.com", "Example")
	c, _ := newContext(t, page)
	if _, err := c.NewTab(context.Background()); err != nil {
		t.Fatalf("NewTab: %v", err)
	}

	page.RaiseModal(dialog("a"))
	page.RaiseModal(dialog("b"))
	select {
	case <-c.ModalRaised():
	default:
		t.Fatal("expected a pending signal")
	}

	page.RaiseModal(dialog("c"))
	c.DrainModalSignal()
	select {
	case <-c.ModalRaised():
		t.Fatal("signal should have been drained")
	default:
	}
}

func TestTabLifecycle(t *testing.T) {
	ctx := context.Background()
	p0 := browsertest.NewPage("https://a.test", "A")
	p1 := browsertest.NewPage("https://b.test", "B")
	p2 := browsertest.NewPage("https://c.test", "C")
	c, _ := newContext(t, p0, p1, p2)

	if _, err := c.CurrentTab(); !errors.Is(err, browser.ErrNoTab) {
		t.Fatalf("expected ErrNoTab, got %v", err)
	}
	if err := c.CloseTab(ctx, -1); !errors.Is(err, browser.ErrNoTab) {
		t.Fatalf("expected ErrNoTab closing with no tabs, got %v", err)
	}

	first, err := c.EnsureTab(ctx)
	if err != nil {
		t.Fatalf("EnsureTab: %v", err)
	}
	again, err := c.EnsureTab(ctx)
	if err != nil || again != first {
		t.Fatalf("EnsureTab should reuse the current tab")
	}
	for i := 0; i < 2; i++ {
		if _, err := c.NewTab(ctx); err != nil {
			t.Fatalf("NewTab: %v", err)
		}
	}
	if got := c.CurrentIndex(); got != 2 {
		t.Fatalf("new tab should become current, got %d", got)
	}

	if _, err := c.SelectTab(ctx, 5); err == nil {
		t.Fatal("expected out of range error")
	}
	if _, err := c.SelectTab(ctx, 0); err != nil {
		t.Fatalf("SelectTab: %v", err)
	}
	if calls := p0.Calls(); len(calls) == 0 || calls[len(calls)-1] != "activate" {
		t.Errorf("expected activate on selected page, got %v", calls)
	}

	p1.RaiseModal(dialog("from b"))
	p0.RaiseModal(chooser())
	if err := c.CloseTab(ctx, 1); err != nil {
		t.Fatalf("CloseTab: %v", err)
	}
	if !p1.Closed() {
		t.Error("closed tab's page should be closed")
	}
	if c.HasModalState(browser.ModalDialog) {
		t.Error("modal raised by the closed tab should be dropped")
	}
	if !c.HasModalState(browser.ModalFileChooser) {
		t.Error("modal raised by another tab should remain")
	}
	if got := len(c.Tabs()); got != 2 {
		t.Fatalf("expected 2 tabs, got %d", got)
	}
	if got := c.CurrentIndex(); got != 0 {
		t.Errorf("current should stay on tab 0, got %d", got)
	}

	if err := c.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if len(c.Tabs()) != 0 || len(c.ModalStates()) != 0 {
		t.Error("Close should clear tabs and modal states")
	}
	if !p0.Closed() || !p2.Closed() {
		t.Error("Close should close every page")
	}
}

func TestCloseCurrentTabMovesSelection(t *testing.T) {
	ctx := context.Background()
	c, _ := newContext(t)
	for i := 0; i < 3; i++ {
		if _, err := c.NewTab(ctx); err != nil {
			t.Fatalf("NewTab: %v", err)
		}
	}
	if err := c.CloseTab(ctx, -1); err != nil {
		t.Fatalf("CloseTab: %v", err)
	}
	if got := c.CurrentIndex(); got != 1 {
		t.Errorf("expected current to move to last tab, got %d", got)
	}
}

func TestNewTabFactoryError(t *testing.T) {
	factory := browsertest.NewFactory()
	factory.Err = errors.New("chrome went away")
	c := browser.NewContext("s", factory, nil, 10)
	if _, err := c.NewTab(context.Background()); err == nil {
		t.Fatal("expected factory error")
	}
	if len(c.Tabs()) != 0 {
		t.Error("failed open must not add a tab")
	}
}

func TestAcquireSerializes(t *testing.T) {
	c, _ := newContext(t)
	release := c.Acquire()

	acquired := make(chan struct{})
	go func() {
		r := c.Acquire()
		close(acquired)
		r()
	}()

	select {
	case <-acquired:
		t.Fatal("second Acquire should block")
	default:
	}
	release()
	<-acquired
}

func TestWaitPending(t *testing.T) {
	ctx := context.Background()
	c := browser.NewContext("s1", browsertest.NewFactory(), nil, 10)

	if !c.WaitPending(ctx, time.Millisecond) {
		t.Fatal("no pending action should report settled")
	}

	done := make(chan struct{})
	c.SetPending(done)
	if c.WaitPending(ctx, 10*time.Millisecond) {
		t.Fatal("a running action should not report settled")
	}

	close(done)
	if !c.WaitPending(ctx, time.Second) {
		t.Fatal("a finished action should report settled")
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	c.SetPending(make(chan struct{}))
	if c.WaitPending(cancelled, time.Second) {
		t.Error("a cancelled wait should not report settled")
	}
}
