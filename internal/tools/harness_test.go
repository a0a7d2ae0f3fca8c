package tools

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"tabpilot-mcp-server/internal/browser"
	"tabpilot-mcp-server/internal/browser/browsertest"
	"tabpilot-mcp-server/internal/mangle"
	"tabpilot-mcp-server/internal/recorder"
	"tabpilot-mcp-server/internal/snapshot"
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

func (s *factSink) byPredicate(predicate string) []mangle.Fact {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []mangle.Fact
	for _, f := range s.facts {
		if f.Predicate == predicate {
			out = append(out, f)
		}
	}
	return out
}

type traceSink struct {
	mu      sync.Mutex
	records []recorder.CallRecord
}

func (s *traceSink) Log(eventType, sessionID string, data interface{}) {
	rec, ok := data.(recorder.CallRecord)
	if !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
}

func (s *traceSink) last() recorder.CallRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.records) == 0 {
		return recorder.CallRecord{}
	}
	return s.records[len(s.records)-1]
}

type harness struct {
	t          *testing.T
	page       *browsertest.Page
	factory    *browsertest.Factory
	session    *browser.Context
	dispatcher *Dispatcher
	facts      *factSink
	trace      *traceSink
}

// formPage is a small form: a heading, an email textbox and a save button.
func formPage() *browsertest.Page {
	return browsertest.NewPage("about:blank", "Form",
		&browsertest.Element{Role: "heading", Name: "Sign in", HTML: "<h1>Sign in</h1>"},
		&browsertest.Element{Role: "textbox", Name: "Email", Depth: 1, Interactive: true, HTML: `<input aria-label="Email">`},
		&browsertest.Element{Role: "button", Name: "Save", Depth: 1, Interactive: true, HTML: "<button>Save</button>"},
	)
}

func newHarness(t *testing.T, page *browsertest.Page, all ...Tool) *harness {
	t.Helper()
	if page == nil {
		page = formPage()
	}
	if len(all) == 0 {
		all = All(Deps{MaxWait: time.Second})
	}
	registry, err := NewRegistry(all, nil)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	h := &harness{
		t:       t,
		page:    page,
		factory: browsertest.NewFactory(page),
		facts:   &factSink{},
		trace:   &traceSink{},
	}
	h.session = browser.NewContext("sess-1", h.factory, h.facts, 100)
	h.dispatcher = NewDispatcher(registry, Options{
		NetworkIdleTimeout:   50 * time.Millisecond,
		NetworkIdleWindow:    10 * time.Millisecond,
		PendingActionTimeout: 200 * time.Millisecond,
		Tracer:               h.trace,
	})
	return h
}

func (h *harness) call(name string, args map[string]interface{}) *Result {
	h.t.Helper()
	return h.dispatcher.Dispatch(context.Background(), h.session, name, args)
}

// mustCall dispatches and fails the test on an error result.
func (h *harness) mustCall(name string, args map[string]interface{}) *Result {
	h.t.Helper()
	res := h.call(name, args)
	if res.IsError() {
		h.t.Fatalf("%s failed: %s", name, res.Text())
	}
	return res
}

// open navigates the first tab, leaving a generation 1 snapshot.
func (h *harness) open() *Result {
	h.t.Helper()
	return h.mustCall("browser_navigate", map[string]interface{}{"url": "https://example.test/form"})
}

// advanceTo takes snapshots until the current generation is gen.
func (h *harness) advanceTo(gen int) {
	h.t.Helper()
	tab, err := h.session.CurrentTab()
	if err != nil {
		h.t.Fatalf("CurrentTab: %v", err)
	}
	for tab.Generation() < gen {
		h.mustCall("browser_snapshot", nil)
	}
}

func (h *harness) generation() int {
	h.t.Helper()
	tab, err := h.session.CurrentTab()
	if err != nil {
		h.t.Fatalf("CurrentTab: %v", err)
	}
	return tab.Generation()
}

func (h *harness) hasCall(want string) bool {
	for _, c := range h.page.Calls() {
		if c == want {
			return true
		}
	}
	return false
}

func (h *harness) countCalls(prefix string) int {
	n := 0
	for _, c := range h.page.Calls() {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

func clickOn(ref string) string {
	return "click " + snapshot.SelectorFor(ref)
}

func dialog(desc string) browser.ModalState {
	return browser.ModalState{Type: browser.ModalDialog, Description: desc}
}

func chooser() browser.ModalState {
	return browser.ModalState{Type: browser.ModalFileChooser, Description: "File chooser"}
}

func wantKind(t *testing.T, res *Result, kind Kind) {
	t.Helper()
	if res.Err == nil {
		t.Fatalf("expected %s error, got success:\n%s", kind, res.Text())
	}
	if res.Err.Kind != kind {
		t.Fatalf("expected %s error, got %s: %s", kind, res.Err.Kind, res.Err.Message)
	}
}
