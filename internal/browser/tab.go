package browser

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"tabpilot-mcp-server/internal/snapshot"

	"github.com/google/uuid"
)

const maxConsoleMessages = 200

// ConsoleMessage is one console API call observed on a tab.
type ConsoleMessage struct {
	Level     string    `json:"level"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Tab owns one live page and the snapshot most recently captured from it.
type Tab struct {
	id    string
	owner *Context // lookup only; the Context owns the Tab
	page  Page

	mu         sync.Mutex
	snap       *snapshot.Snapshot
	generation int

	consoleMu sync.Mutex
	console   []ConsoleMessage
	url       string
}

func newTab(owner *Context) *Tab {
	return &Tab{id: uuid.NewString(), owner: owner}
}

// ID returns the tab identifier used in facts and traces.
func (t *Tab) ID() string { return t.id }

// Page returns the driver handle.
func (t *Tab) Page() Page { return t.page }

// Snapshot returns the current snapshot or ErrNoSnapshot.
func (t *Tab) Snapshot() (*snapshot.Snapshot, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.snap == nil {
		return nil, ErrNoSnapshot
	}
	return t.snap, nil
}

// HasSnapshot reports whether a snapshot has been captured.
func (t *Tab) HasSnapshot() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snap != nil
}

// Generation returns the generation of the current snapshot, 0 before the first capture.
func (t *Tab) Generation() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.generation
}

// Capture walks the page and replaces the current snapshot with generation+1.
// On failure the previous snapshot stays current.
func (t *Tab) Capture(ctx context.Context) (*snapshot.Snapshot, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	raw, err := t.page.CaptureRaw(ctx, t.owner.maxNodes)
	if err != nil {
		return nil, fmt.Errorf("capture snapshot: %w", err)
	}
	info, err := t.page.Info(ctx)
	if err != nil {
		return nil, fmt.Errorf("read page info: %w", err)
	}

	next := snapshot.Build(t.generation+1, info, raw)
	if err := t.page.StampMarkers(ctx, next.Markers()); err != nil {
		return nil, fmt.Errorf("stamp element refs: %w", err)
	}

	t.generation = next.Generation()
	t.snap = next
	t.owner.emit("snapshot_captured", t.id, next.Generation(), next.Len())
	return next, nil
}

// Info returns the live URL and title.
func (t *Tab) Info(ctx context.Context) (snapshot.PageInfo, error) {
	return t.page.Info(ctx)
}

// ConsoleMessages returns the buffered console messages, oldest first.
func (t *Tab) ConsoleMessages() []ConsoleMessage {
	t.consoleMu.Lock()
	defer t.consoleMu.Unlock()
	out := make([]ConsoleMessage, len(t.console))
	copy(out, t.console)
	return out
}

// URL returns the last main-frame URL reported by the page.
func (t *Tab) URL() string {
	t.consoleMu.Lock()
	defer t.consoleMu.Unlock()
	return t.url
}

// ModalOpened implements PageEvents.
func (t *Tab) ModalOpened(state ModalState) {
	t.owner.raiseModal(t, state)
}

// Console implements PageEvents.
func (t *Tab) Console(level, text string) {
	now := time.Now()
	t.consoleMu.Lock()
	t.console = append(t.console, ConsoleMessage{Level: level, Text: text, Timestamp: now})
	if len(t.console) > maxConsoleMessages {
		t.console = t.console[len(t.console)-maxConsoleMessages:]
	}
	t.consoleMu.Unlock()

	t.owner.emit("console_event", level, text, now.UnixMilli())
}

// Navigated implements PageEvents.
func (t *Tab) Navigated(url string) {
	t.consoleMu.Lock()
	t.url = url
	t.consoleMu.Unlock()

	log.Printf("[session:%s] tab %s navigated to %s", t.owner.id, t.id, url)
	t.owner.emit("navigation_event", url, time.Now().UnixMilli())
}

func (t *Tab) close() error {
	if t.page == nil {
		return nil
	}
	return t.page.Close()
}
