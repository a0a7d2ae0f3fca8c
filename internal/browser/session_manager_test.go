package browser_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"tabpilot-mcp-server/internal/browser"
	"tabpilot-mcp-server/internal/browser/browsertest"
	"tabpilot-mcp-server/internal/config"
)

func newManager(t *testing.T, store string) (*browser.SessionManager, *browsertest.Factory) {
	t.Helper()
	factory := browsertest.NewFactory()
	cfg := config.BrowserConfig{SessionStore: store}
	return browser.NewSessionManager(cfg, &factSink{}, browser.WithPageFactory(factory), browser.WithMaxNodes(50)), factory
}

func TestContextGetOrCreate(t *testing.T) {
	m, _ := newManager(t, "")

	a := m.Context("alpha")
	if a == nil || a.ID() != "alpha" {
		t.Fatalf("unexpected context %v", a)
	}
	if again := m.Context("alpha"); again != a {
		t.Error("same session id should return the same Context")
	}
	if b := m.Context("beta"); b == a {
		t.Error("different session ids must not share a Context")
	}
	if _, ok := m.Lookup("gamma"); ok {
		t.Error("Lookup must not create contexts")
	}
}

func TestSessionsAreIsolated(t *testing.T) {
	ctx := context.Background()
	m, factory := newManager(t, "")

	a := m.Context("alpha")
	b := m.Context("beta")
	if _, err := a.NewTab(ctx); err != nil {
		t.Fatalf("NewTab: %v", err)
	}
	if _, err := b.NewTab(ctx); err != nil {
		t.Fatalf("NewTab: %v", err)
	}
	pages := factory.Opened()
	if len(pages) != 2 {
		t.Fatalf("expected 2 pages, got %d", len(pages))
	}

	pages[0].RaiseModal(browser.ModalState{Type: browser.ModalDialog, Description: "alpha only"})
	if !a.HasModalState(browser.ModalDialog) {
		t.Error("alpha should see its dialog")
	}
	if b.HasModalState(browser.ModalDialog) {
		t.Error("beta must not see alpha's dialog")
	}
}

func TestCloseContext(t *testing.T) {
	ctx := context.Background()
	m, factory := newManager(t, "")

	c := m.Context("alpha")
	if _, err := c.NewTab(ctx); err != nil {
		t.Fatalf("NewTab: %v", err)
	}
	if err := m.CloseContext(ctx, "alpha"); err != nil {
		t.Fatalf("CloseContext: %v", err)
	}
	if !factory.Opened()[0].Closed() {
		t.Error("closing the context should close its pages")
	}
	if _, ok := m.Lookup("alpha"); ok {
		t.Error("context should be forgotten")
	}
	if err := m.CloseContext(ctx, "missing"); err != nil {
		t.Errorf("closing an unknown session should be a no-op, got %v", err)
	}
}

func TestListAndPersist(t *testing.T) {
	ctx := context.Background()
	store := filepath.Join(t.TempDir(), "sessions.json")
	m, _ := newManager(t, store)

	c := m.Context("alpha")
	if _, err := c.NewTab(ctx); err != nil {
		t.Fatalf("NewTab: %v", err)
	}
	m.Context("beta")

	list := m.List()
	if len(list) != 2 {
		t.Fatalf("expected 2 sessions, got %+v", list)
	}
	if list[0].ID != "alpha" || list[0].Tabs != 1 || list[0].Status != "active" {
		t.Errorf("unexpected first entry %+v", list[0])
	}

	data, err := os.ReadFile(store)
	if err != nil {
		t.Fatalf("session store not written: %v", err)
	}
	var persisted []browser.SessionInfo
	if err := json.Unmarshal(data, &persisted); err != nil {
		t.Fatalf("decode store: %v", err)
	}
	if len(persisted) == 0 || persisted[0].ID != "alpha" {
		t.Errorf("unexpected persisted sessions %+v", persisted)
	}

	restored, _ := newManager(t, store)
	got := restored.List()
	if len(got) != 1 || got[0].ID != "alpha" || got[0].Status != "detached" || got[0].Tabs != 0 {
		t.Fatalf("expected alpha restored as detached, got %+v", got)
	}

	restored.Context("alpha")
	for _, info := range restored.List() {
		if info.ID == "alpha" && info.Status != "active" {
			t.Errorf("reconnected session should be active, got %q", info.Status)
		}
	}
}

func TestShutdownClosesContexts(t *testing.T) {
	ctx := context.Background()
	m, factory := newManager(t, "")
	if _, err := m.Context("alpha").NewTab(ctx); err != nil {
		t.Fatalf("NewTab: %v", err)
	}
	if err := m.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if !factory.Opened()[0].Closed() {
		t.Error("Shutdown should close open pages")
	}
	if m.IsConnected() {
		t.Error("no browser should be connected")
	}
}
