package browser

import (
	"context"
	"errors"
	"time"

	"tabpilot-mcp-server/internal/snapshot"
)

// Modal state types raised by the driver.
const (
	ModalDialog      = "dialog"
	ModalFileChooser = "fileChooser"
)

var (
	// ErrNoTab is returned when a call needs a page and the context has none open.
	ErrNoTab = errors.New("no open tab; navigate to a URL first")
	// ErrNoSnapshot is returned when a ref is used before any snapshot was captured.
	ErrNoSnapshot = errors.New("no snapshot captured for the current tab; call browser_snapshot first")
	// ErrNotConnected is returned when the browser is not reachable.
	ErrNotConnected = errors.New("browser not connected")
)

// ModalState is a blocking condition reported by the page, keyed by Type.
type ModalState struct {
	Type        string `json:"type"`
	Description string `json:"description"`
}

// ClickOptions tunes Page.Click.
type ClickOptions struct {
	Button string // left, right or middle
	Double bool
}

// ScreenshotOptions tunes Page.Screenshot.
type ScreenshotOptions struct {
	Selector string // element to capture; empty for the viewport
	FullPage bool
	JPEG     bool
}

// Page is the driver surface a tab needs. Selectors are CSS selectors produced by
// snapshot.SelectorFor.
type Page interface {
	Info(ctx context.Context) (snapshot.PageInfo, error)
	Navigate(ctx context.Context, url string) error
	NavigateBack(ctx context.Context) error
	NavigateForward(ctx context.Context) error

	// CaptureRaw walks the accessibility surface in document order, reading any
	// marker left by the previous capture into RawNode.PrevRef.
	CaptureRaw(ctx context.Context, maxNodes int) ([]snapshot.RawNode, error)
	// StampMarkers tags the elements of the last CaptureRaw, one entry per raw
	// node, replacing every older marker. Empty entries leave the node unmarked.
	StampMarkers(ctx context.Context, markers []string) error

	Click(ctx context.Context, selector string, opts ClickOptions) error
	Hover(ctx context.Context, selector string) error
	Type(ctx context.Context, selector, text string) error
	SelectOptions(ctx context.Context, selector string, values []string) error
	Drag(ctx context.Context, fromSelector, toSelector string) error
	PressKey(ctx context.Context, key string) error
	Screenshot(ctx context.Context, opts ScreenshotOptions) ([]byte, error)
	// HTML returns the outer HTML of selector, or of the document when empty.
	HTML(ctx context.Context, selector string) (string, error)
	WaitText(ctx context.Context, text string, gone bool) error

	HandleDialog(ctx context.Context, accept bool, promptText string) error
	SetFiles(ctx context.Context, paths []string) error

	// WatchNetwork starts tracking in-flight requests. It must be called before
	// the action whose traffic should be awaited.
	WatchNetwork(ctx context.Context, window time.Duration) NetworkWatch

	Activate(ctx context.Context) error
	Close() error
}

// NetworkWatch observes request activity started by a single action.
type NetworkWatch interface {
	// Wait blocks until no request has been in flight for the watch window, or
	// until timeout. It reports whether quiescence was reached.
	Wait(timeout time.Duration) bool
	Stop()
}

// PageEvents receives asynchronous notifications from a page.
type PageEvents interface {
	ModalOpened(state ModalState)
	Console(level, text string)
	Navigated(url string)
}

// PageFactory opens new pages bound to an event sink.
type PageFactory interface {
	NewPage(ctx context.Context, events PageEvents) (Page, error)
}
