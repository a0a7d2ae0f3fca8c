package tools

import (
	"context"
	"strings"
	"testing"

	"tabpilot-mcp-server/internal/browser/browsertest"
	"tabpilot-mcp-server/internal/snapshot"
)

func TestRefResolution(t *testing.T) {
	t.Run("CurrentGeneration", func(t *testing.T) {
		h := newHarness(t, nil)
		h.open()
		h.advanceTo(3)

		res := h.mustCall("browser_click", map[string]interface{}{"element": "Save", "ref": "s3e2"})
		if !h.hasCall(clickOn("s3e2")) {
			t.Fatalf("expected click on s3e2, calls: %v", h.page.Calls())
		}
		if len(res.Repairs) != 0 {
			t.Errorf("unexpected repairs: %v", res.Repairs)
		}
		if h.generation() != 4 {
			t.Errorf("post-condition capture should advance to 4, got %d", h.generation())
		}
	})

	t.Run("OneGenerationStale", func(t *testing.T) {
		h := newHarness(t, nil)
		h.open()
		h.advanceTo(3)

		res := h.mustCall("browser_click", map[string]interface{}{"element": "Save", "ref": "s2e2"})
		if len(res.Repairs) != 1 || res.Repairs[0] != (Repair{From: "s2e2", To: "s4e2"}) {
			t.Fatalf("expected repair s2e2 -> s4e2, got %v", res.Repairs)
		}
		if !h.hasCall(clickOn("s4e2")) {
			t.Fatalf("expected click on repaired ref, calls: %v", h.page.Calls())
		}
		if !strings.Contains(res.Text(), "Ref s2e2 was stale and was resolved to s4e2") {
			t.Errorf("response should note the repair:\n%s", res.Text())
		}
		if got := h.facts.byPredicate("ref_repaired"); len(got) != 1 {
			t.Errorf("expected one ref_repaired fact, got %d", len(got))
		}
		if rec := h.trace.last(); rec.Repairs["s2e2"] != "s4e2" {
			t.Errorf("trace should carry the repair, got %v", rec.Repairs)
		}
	})

	t.Run("TwoGenerationsStale", func(t *testing.T) {
		h := newHarness(t, nil)
		h.open()
		h.advanceTo(3)

		res := h.call("browser_click", map[string]interface{}{"element": "Save", "ref": "s1e2"})
		wantKind(t, res, KindStaleReference)
		if res.Err.Ref != "s1e2" {
			t.Errorf("error should carry the ref, got %q", res.Err.Ref)
		}
		if !strings.Contains(res.Err.Message, "browser_snapshot") {
			t.Errorf("error should advise a new snapshot: %s", res.Err.Message)
		}
		if h.countCalls("click") != 0 {
			t.Error("no click expected")
		}
	})

	t.Run("AmbiguousLineage", func(t *testing.T) {
		email := &browsertest.Element{Role: "textbox", Name: "Email", Interactive: true}
		save := &browsertest.Element{Role: "button", Name: "Save", Interactive: true}
		page := browsertest.NewPage("about:blank", "Form", email, save)
		h := newHarness(t, page)
		h.open()
		h.advanceTo(2)

		// The element that carried s2e2 appears twice in generation 3.
		page.SetElements(email, save, save)
		h.mustCall("browser_snapshot", nil)

		res := h.call("browser_click", map[string]interface{}{"element": "Save", "ref": "s2e2"})
		wantKind(t, res, KindStaleReference)
	})

	t.Run("RemovedElement", func(t *testing.T) {
		h := newHarness(t, nil)
		h.open()
		h.advanceTo(2)
		elements := h.page.Elements()
		h.page.SetElements(elements[:2]...)
		h.mustCall("browser_snapshot", nil)

		res := h.call("browser_click", map[string]interface{}{"element": "Save", "ref": "s2e2"})
		wantKind(t, res, KindStaleReference)
	})

	t.Run("StaleDragRefs", func(t *testing.T) {
		h := newHarness(t, nil)
		h.open()
		h.advanceTo(3)

		res := h.mustCall("browser_drag", map[string]interface{}{
			"startElement": "Email", "startRef": "s2e1",
			"endElement": "Save", "endRef": "s2e2",
		})
		want := []Repair{{From: "s2e1", To: "s4e1"}, {From: "s2e2", To: "s4e2"}}
		if len(res.Repairs) != len(want) {
			t.Fatalf("expected repairs %v, got %v", want, res.Repairs)
		}
		for i := range want {
			if res.Repairs[i] != want[i] {
				t.Errorf("repair %d = %v, want %v", i, res.Repairs[i], want[i])
			}
		}
		drag := "drag " + snapshot.SelectorFor("s4e1") + " " + snapshot.SelectorFor("s4e2")
		if !h.hasCall(drag) {
			t.Fatalf("expected %q, calls: %v", drag, h.page.Calls())
		}
		if h.generation() != 5 {
			t.Errorf("one repair capture plus the post-condition capture should reach 5, got %d", h.generation())
		}
	})

	t.Run("CurrentAndStaleRefs", func(t *testing.T) {
		h := newHarness(t, nil)
		h.open()
		h.advanceTo(3)

		res := h.mustCall("browser_drag", map[string]interface{}{
			"startElement": "Email", "startRef": "s3e1",
			"endElement": "Save", "endRef": "s2e2",
		})
		if len(res.Repairs) != 1 || res.Repairs[0] != (Repair{From: "s2e2", To: "s4e2"}) {
			t.Fatalf("expected only s2e2 to be repaired, got %v", res.Repairs)
		}
		drag := "drag " + snapshot.SelectorFor("s4e1") + " " + snapshot.SelectorFor("s4e2")
		if !h.hasCall(drag) {
			t.Fatalf("current ref should be rebound to the fresh capture, calls: %v", h.page.Calls())
		}
	})

	t.Run("FailedRepairCapturesOnce", func(t *testing.T) {
		h := newHarness(t, nil)
		h.open()
		h.advanceTo(3)

		res := h.call("browser_drag", map[string]interface{}{
			"startElement": "Email", "startRef": "s2e1",
			"endElement": "Save", "endRef": "s1e2",
		})
		wantKind(t, res, KindStaleReference)
		if res.Err.Ref != "s1e2" {
			t.Errorf("error should name s1e2, got %q", res.Err.Ref)
		}
		if h.generation() != 4 {
			t.Errorf("expected a single recapture to 4, got %d", h.generation())
		}
		if h.countCalls("drag") != 0 {
			t.Error("no drag expected")
		}
	})

	t.Run("FutureGeneration", func(t *testing.T) {
		h := newHarness(t, nil)
		h.open()
		h.advanceTo(3)

		res := h.call("browser_click", map[string]interface{}{"element": "Save", "ref": "s9e1"})
		wantKind(t, res, KindStaleReference)
		if h.generation() != 3 {
			t.Errorf("a future ref must not trigger a recapture, generation %d", h.generation())
		}
	})

	t.Run("UnknownIndex", func(t *testing.T) {
		h := newHarness(t, nil)
		h.open()
		res := h.call("browser_click", map[string]interface{}{"element": "Save", "ref": "s1e42"})
		wantKind(t, res, KindStaleReference)
	})

	t.Run("Malformed", func(t *testing.T) {
		h := newHarness(t, nil)
		h.open()
		res := h.call("browser_click", map[string]interface{}{"element": "Save", "ref": "button-7"})
		wantKind(t, res, KindStaleReference)
		if !strings.Contains(res.Err.Message, "malformed") {
			t.Errorf("unexpected message: %s", res.Err.Message)
		}
	})

	t.Run("NoSnapshot", func(t *testing.T) {
		h := newHarness(t, nil)
		if _, err := h.session.NewTab(context.Background()); err != nil {
			t.Fatalf("NewTab: %v", err)
		}
		res := h.call("browser_click", map[string]interface{}{"element": "Save", "ref": "s1e1"})
		wantKind(t, res, KindPrecondition)
	})
}

func TestSnapshotRoundTrip(t *testing.T) {
	h := newHarness(t, nil)
	first := h.open().Snapshot
	if first == nil {
		t.Fatal("navigate should capture a snapshot")
	}

	for _, node := range first.Nodes() {
		if !strings.Contains(first.Text(), "[ref="+node.Ref+"]") {
			t.Errorf("text is missing %s:\n%s", node.Ref, first.Text())
		}
		target, err := first.Resolve(node.Ref)
		if err != nil {
			t.Fatalf("Resolve(%s): %v", node.Ref, err)
		}
		if target.Role != node.Role || target.Name != node.Name {
			t.Errorf("Resolve(%s) = %+v, want role %s name %s", node.Ref, target, node.Role, node.Name)
		}
		if target.Selector != snapshot.SelectorFor(node.Ref) {
			t.Errorf("selector %q", target.Selector)
		}
	}

	second := h.mustCall("browser_snapshot", nil).Snapshot
	if second.Generation() != first.Generation()+1 {
		t.Fatalf("generation %d after %d", second.Generation(), first.Generation())
	}
	want := strings.ReplaceAll(first.Text(), "[ref=s1e", "[ref=s2e")
	if second.Text() != want {
		t.Errorf("unchanged page should differ only in the ref prefix:\n%s\nvs\n%s", second.Text(), want)
	}
}
