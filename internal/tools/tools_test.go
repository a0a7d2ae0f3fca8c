package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"tabpilot-mcp-server/internal/browser"
	"tabpilot-mcp-server/internal/browser/browsertest"
	"tabpilot-mcp-server/internal/config"
	"tabpilot-mcp-server/internal/mangle"
)

func TestNormalizeURL(t *testing.T) {
	tests := map[string]string{
		"example.com":             "https://example.com",
		" example.com/a?b=1 ":     "https://example.com/a?b=1",
		"http://example.com":      "http://example.com",
		"localhost:8080/x":        "http://localhost:8080/x",
		"about:blank":             "about:blank",
		"data:text/html,<p>x</p>": "data:text/html,<p>x</p>",
	}
	for in, want := range tests {
		if got := normalizeURL(in); got != want {
			t.Errorf("normalizeURL(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNavigate(t *testing.T) {
	h := newHarness(t, nil)
	res := h.mustCall("browser_navigate", map[string]interface{}{"url": "example.test/form"})
	if len(h.factory.Opened()) != 1 {
		t.Fatalf("navigate should open a tab")
	}
	if !h.hasCall("navigate https://example.test/form") {
		t.Errorf("calls: %v", h.page.Calls())
	}
	if res.Snapshot == nil || res.Snapshot.Generation() != 1 {
		t.Fatalf("expected generation 1 snapshot")
	}

	h.mustCall("browser_navigate", map[string]interface{}{"url": "https://example.test/next"})
	if len(h.factory.Opened()) != 1 {
		t.Error("second navigate should reuse the tab")
	}
	if got := h.facts.byPredicate("navigation_event"); len(got) != 2 {
		t.Errorf("expected 2 navigation facts, got %d", len(got))
	}
}

func TestHistory(t *testing.T) {
	h := newHarness(t, nil)
	h.open()
	h.mustCall("browser_navigate", map[string]interface{}{"url": "https://example.test/next"})

	res := h.mustCall("browser_navigate_back", nil)
	if url := res.Snapshot.Page().URL; url != "https://example.test/form" {
		t.Errorf("back landed on %s", url)
	}
	res = h.mustCall("browser_navigate_forward", nil)
	if url := res.Snapshot.Page().URL; url != "https://example.test/next" {
		t.Errorf("forward landed on %s", url)
	}
	wantKind(t, h.call("browser_navigate_forward", nil), KindActionExecution)
}

func TestElementActions(t *testing.T) {
	h := newHarness(t, nil)
	h.open()

	t.Run("DoubleClick", func(t *testing.T) {
		res := h.mustCall("browser_click", map[string]interface{}{"element": "Save", "ref": "s1e2", "doubleClick": true})
		if !h.hasCall("dblclick " + `[data-tabpilot-ref="s1e2"]`) {
			t.Errorf("calls: %v", h.page.Calls())
		}
		if !strings.Contains(strings.Join(res.Code, "\n"), `// Double click button "Save" s1e2`) {
			t.Errorf("code: %v", res.Code)
		}
	})

	t.Run("TypeAndSubmit", func(t *testing.T) {
		tab, _ := h.session.CurrentTab()
		ref := "s" + strconv.Itoa(tab.Generation()) + "e1"
		res := h.mustCall("browser_type", map[string]interface{}{"element": "Email", "ref": ref, "text": "me@example.test", "submit": true})
		if h.countCalls("press Enter") != 1 {
			t.Errorf("submit should press Enter: %v", h.page.Calls())
		}
		if !strings.Contains(res.Snapshot.Text(), `textbox "Email" [ref=`) || !strings.Contains(res.Snapshot.Text(), `"me@example.test"`) {
			t.Errorf("snapshot should show the typed value:\n%s", res.Snapshot.Text())
		}
	})

	t.Run("SelectOption", func(t *testing.T) {
		ref := "s" + strconv.Itoa(h.generation()) + "e1"
		h.mustCall("browser_select_option", map[string]interface{}{"element": "Email", "ref": ref, "values": []interface{}{"a", "b"}})
		if h.countCalls("select ") != 1 {
			t.Errorf("calls: %v", h.page.Calls())
		}
	})

	t.Run("Drag", func(t *testing.T) {
		gen := strconv.Itoa(h.generation())
		h.mustCall("browser_drag", map[string]interface{}{
			"startElement": "Email", "startRef": "s" + gen + "e1",
			"endElement": "Save", "endRef": "s" + gen + "e2",
		})
		if h.countCalls("drag ") != 1 {
			t.Errorf("calls: %v", h.page.Calls())
		}
	})

	t.Run("PressKey", func(t *testing.T) {
		res := h.mustCall("browser_press_key", map[string]interface{}{"key": "ArrowDown"})
		if !h.hasCall("press ArrowDown") {
			t.Errorf("calls: %v", h.page.Calls())
		}
		if !strings.Contains(strings.Join(res.Code, "\n"), "input.ArrowDown") {
			t.Errorf("code: %v", res.Code)
		}
	})
}

func TestScreenshot(t *testing.T) {
	dir := t.TempDir()
	h := newHarness(t, nil, All(Deps{OutputDir: dir})...)
	h.open()

	res := h.mustCall("browser_take_screenshot", map[string]interface{}{"filename": "../escape/shot"})
	img := res.Image()
	if img == nil || img.MIMEType != "image/png" || !bytes.Equal(img.Data, h.page.Image) {
		t.Fatalf("unexpected image payload %+v", img)
	}
	saved, err := os.ReadFile(filepath.Join(dir, "shot.png"))
	if err != nil {
		t.Fatalf("screenshot not saved inside the output dir: %v", err)
	}
	if !bytes.Equal(saved, h.page.Image) {
		t.Error("saved bytes differ")
	}
	if res.Snapshot != nil {
		t.Error("screenshot should not recapture")
	}

	res = h.mustCall("browser_take_screenshot", map[string]interface{}{"type": "jpeg", "element": "Save", "ref": "s1e2"})
	if res.Image().MIMEType != "image/jpeg" {
		t.Errorf("mime %s", res.Image().MIMEType)
	}
	if !h.hasCall(`screenshot [data-tabpilot-ref="s1e2"]`) {
		t.Errorf("calls: %v", h.page.Calls())
	}

	wantKind(t, h.call("browser_take_screenshot", map[string]interface{}{"ref": "s1e2", "fullPage": true}), KindInvalidArguments)
}

func TestTabs(t *testing.T) {
	h := newHarness(t, nil)

	res := h.mustCall("browser_tab_list", nil)
	if !strings.Contains(res.Text(), "No open tabs") {
		t.Errorf("expected empty listing:\n%s", res.Text())
	}

	h.open()
	res = h.mustCall("browser_tab_new", map[string]interface{}{"url": "https://example.test/second"})
	if len(h.session.Tabs()) != 2 || h.session.CurrentIndex() != 1 {
		t.Fatalf("expected 2 tabs with the new one current")
	}
	if !strings.Contains(res.Text(), "- 1: (current)") {
		t.Errorf("listing should mark the new tab current:\n%s", res.Text())
	}
	if res.Snapshot == nil || res.Snapshot.Page().URL != "https://example.test/second" {
		t.Errorf("snapshot should come from the new tab")
	}

	h.mustCall("browser_tab_select", map[string]interface{}{"index": 0})
	if h.session.CurrentIndex() != 0 || !h.hasCall("activate") {
		t.Errorf("select should activate tab 0")
	}
	wantKind(t, h.call("browser_tab_select", map[string]interface{}{"index": 5}), KindInvalidArguments)
	wantKind(t, h.call("browser_tab_select", map[string]interface{}{"index": 0.5}), KindInvalidArguments)

	h.mustCall("browser_tab_close", map[string]interface{}{"index": 1})
	if len(h.session.Tabs()) != 1 || !h.factory.Opened()[1].Closed() {
		t.Error("second tab should be closed")
	}
	h.mustCall("browser_tab_close", nil)
	if len(h.session.Tabs()) != 0 {
		t.Error("all tabs should be closed")
	}
	wantKind(t, h.call("browser_tab_close", nil), KindPrecondition)
}

func TestCloseDropsModalStates(t *testing.T) {
	h := newHarness(t, nil)
	h.open()
	h.page.RaiseModal(dialog("alert"))
	wantKind(t, h.call("browser_close", nil), KindModalState)

	h.mustCall("browser_handle_dialog", map[string]interface{}{"accept": true})
	h.mustCall("browser_close", nil)
	if !h.page.Closed() || len(h.session.Tabs()) != 0 {
		t.Error("close should close every tab")
	}
}

func TestWait(t *testing.T) {
	h := newHarness(t, nil)
	h.open()

	res := h.mustCall("browser_wait", map[string]interface{}{"time": 0.01})
	if !strings.Contains(res.Text(), "Waited for 10ms") {
		t.Errorf("unexpected text:\n%s", res.Text())
	}

	res = h.mustCall("browser_wait", map[string]interface{}{"text": "Save"})
	if !strings.Contains(res.Text(), `Text "Save" appeared`) {
		t.Errorf("unexpected text:\n%s", res.Text())
	}

	go func() {
		time.Sleep(20 * time.Millisecond)
		h.page.SetElements(h.page.Elements()[:2]...)
	}()
	h.mustCall("browser_wait", map[string]interface{}{"textGone": "Save"})

	wantKind(t, h.call("browser_wait", nil), KindInvalidArguments)
	wantKind(t, h.call("browser_wait", map[string]interface{}{"text": "a", "textGone": "b"}), KindInvalidArguments)

	start := time.Now()
	res = h.mustCall("browser_wait", map[string]interface{}{"time": 600})
	if time.Since(start) > 3*time.Second {
		t.Error("wait should be capped by MaxWait")
	}
	if !strings.Contains(res.Text(), "Waited for 1s") {
		t.Errorf("unexpected text:\n%s", res.Text())
	}
}

func TestFileUpload(t *testing.T) {
	h := newHarness(t, nil)
	h.open()

	file := filepath.Join(t.TempDir(), "report.csv")
	if err := os.WriteFile(file, []byte("a,b\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	wantKind(t, h.call("browser_file_upload", map[string]interface{}{"paths": []interface{}{file}}), KindModalState)

	h.page.RaiseModal(chooser())
	wantKind(t, h.call("browser_file_upload", map[string]interface{}{"paths": []interface{}{"report.csv"}}), KindInvalidArguments)
	wantKind(t, h.call("browser_file_upload", map[string]interface{}{"paths": []interface{}{file + ".missing"}}), KindInvalidArguments)
	if !h.session.HasModalState(browser.ModalFileChooser) {
		t.Fatal("failed uploads must keep the chooser open")
	}

	h.mustCall("browser_file_upload", map[string]interface{}{"paths": []interface{}{file}})
	if files := h.page.Files(); len(files) != 1 || files[0] != file {
		t.Errorf("files = %v", files)
	}
	if h.session.HasModalState(browser.ModalFileChooser) {
		t.Error("upload should clear the chooser")
	}
}

func TestExtract(t *testing.T) {
	page := browsertest.NewPage("about:blank", "Docs",
		&browsertest.Element{Role: "heading", Name: "Guide", HTML: "<h1>Guide</h1>"},
		&browsertest.Element{Role: "paragraph", HTML: `<p>Read the <a href="https://example.test/about">about page</a>.</p><script>alert("x")</script>`},
		&browsertest.Element{Role: "button", Name: "More", Interactive: true, HTML: "<button>More</button>"},
	)
	h := newHarness(t, page)
	h.open()

	res := h.mustCall("browser_extract", nil)
	text := res.Text()
	for _, want := range []string{"# Guide", "[about page](https://example.test/about)"} {
		if !strings.Contains(text, want) {
			t.Errorf("markdown missing %q:\n%s", want, text)
		}
	}
	if strings.Contains(text, "alert(") {
		t.Errorf("scripts must be stripped:\n%s", text)
	}

	res = h.mustCall("browser_extract", map[string]interface{}{"element": "More", "ref": "s1e1"})
	if !strings.Contains(res.Text(), "More") || strings.Contains(res.Text(), "Guide") {
		t.Errorf("element extract should be scoped:\n%s", res.Text())
	}

	res = h.mustCall("browser_extract", map[string]interface{}{"maxChars": 5})
	if !strings.Contains(res.Text(), "[truncated at 5 characters]") {
		t.Errorf("expected truncation:\n%s", res.Text())
	}
}

func TestConsoleMessages(t *testing.T) {
	h := newHarness(t, nil)
	h.open()
	h.page.EmitConsole("log", "booted")
	h.page.EmitConsole("error", "Uncaught TypeError")

	res := h.mustCall("browser_console_messages", nil)
	if !strings.Contains(res.Text(), "- [log] booted") || !strings.Contains(res.Text(), "- [error] Uncaught TypeError") {
		t.Errorf("unexpected listing:\n%s", res.Text())
	}
	res = h.mustCall("browser_console_messages", map[string]interface{}{"onlyErrors": true})
	if strings.Contains(res.Text(), "booted") {
		t.Errorf("only errors expected:\n%s", res.Text())
	}
}

func TestQueryFacts(t *testing.T) {
	engine, err := mangle.NewEngine(config.MangleConfig{Enable: true, FactBufferLimit: 1000})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	registry, err := NewRegistry(All(Deps{Facts: engine}), nil)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	page := formPage()
	session := browser.NewContext("sess-q", browsertest.NewFactory(page), engine, 100)
	d := NewDispatcher(registry, Options{NetworkIdleTimeout: 50 * time.Millisecond})
	ctx := context.Background()

	d.Dispatch(ctx, session, "browser_navigate", map[string]interface{}{"url": "https://example.test/form"})
	page.RaiseModal(dialog("alert"))
	d.Dispatch(ctx, session, "browser_click", map[string]interface{}{"element": "Save", "ref": "s1e2"})
	d.Dispatch(ctx, session, "browser_handle_dialog", map[string]interface{}{"accept": true})

	res := d.Dispatch(ctx, session, "browser_query_facts", map[string]interface{}{"query": "blocked_call(S, T)."})
	if res.IsError() {
		t.Fatalf("query failed: %s", res.Text())
	}
	if res.Payload == nil || len(res.Payload.Text) != 1 {
		t.Fatalf("expected one binding:\n%s", res.Text())
	}
	var binding map[string]interface{}
	if err := json.Unmarshal([]byte(res.Payload.Text[0]), &binding); err != nil {
		t.Fatalf("binding is not JSON: %v", err)
	}
	if binding["S"] != "sess-q" || binding["T"] != "browser_click" {
		t.Errorf("unexpected binding %v", binding)
	}

	res = d.Dispatch(ctx, session, "browser_query_facts", map[string]interface{}{"query": "this is not ( valid"})
	wantKind(t, res, KindInvalidArguments)

	t.Run("PredicateName", func(t *testing.T) {
		res := d.Dispatch(ctx, session, "browser_query_facts", map[string]interface{}{"query": "succeeded_call"})
		if res.IsError() {
			t.Fatalf("query failed: %s", res.Text())
		}
		if !strings.Contains(res.Text(), `engine.Evaluate(ctx, "succeeded_call")`) {
			t.Errorf("trace should show the evaluation:\n%s", res.Text())
		}
		found := false
		for _, line := range res.Payload.Text {
			var args []interface{}
			if err := json.Unmarshal([]byte(line), &args); err != nil {
				t.Fatalf("row is not a JSON list: %s", line)
			}
			if len(args) == 2 && args[0] == "sess-q" && args[1] == "browser_navigate" {
				found = true
			}
		}
		if !found {
			t.Errorf("expected succeeded_call(sess-q, browser_navigate):\n%s", res.Text())
		}
	})

	t.Run("Rules", func(t *testing.T) {
		res := d.Dispatch(ctx, session, "browser_query_facts", map[string]interface{}{
			"rules": "Decl dialog_blocked(Session).\ndialog_blocked(S) :- blocked_call(S, _), dialog_seen(S, _).",
			"query": "dialog_blocked(S).",
		})
		if res.IsError() {
			t.Fatalf("query failed: %s", res.Text())
		}
		if len(res.Payload.Text) != 1 || !strings.Contains(res.Payload.Text[0], `"sess-q"`) {
			t.Errorf("expected dialog_blocked(sess-q):\n%s", res.Text())
		}

		res = d.Dispatch(ctx, session, "browser_query_facts", map[string]interface{}{
			"rules": "this is ( not a rule",
			"query": "blocked_call(S, T).",
		})
		wantKind(t, res, KindInvalidArguments)
	})

	disabled, err := NewRegistry(All(Deps{}), nil)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	res = NewDispatcher(disabled, Options{}).Dispatch(ctx, session, "browser_query_facts", map[string]interface{}{"query": "visited(S, U)."})
	wantKind(t, res, KindPrecondition)
}
