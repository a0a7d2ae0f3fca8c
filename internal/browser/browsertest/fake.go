// Package browsertest provides an in-memory browser.Page for tests that cannot
// start Chrome.
package browsertest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"tabpilot-mcp-server/internal/browser"
	"tabpilot-mcp-server/internal/snapshot"
)

// Element is one node of the fake document. Identity is the pointer, so the
// same *Element keeps its marker across captures.
type Element struct {
	Role        string
	Name        string
	Value       string
	Depth       int
	Interactive bool
	Checked     string
	Disabled    bool
	HTML        string

	marker string
}

// Marker returns the ref currently stamped on the element.
func (e *Element) Marker() string { return e.marker }

// Page is a scriptable browser.Page.
type Page struct {
	mu       sync.Mutex
	events   browser.PageEvents
	url      string
	title    string
	elements []*Element
	captured []*Element
	history  []string
	forward  []string
	files    []string
	calls    []string
	closed   bool

	// Documents maps URLs to the elements Navigate installs.
	Documents map[string][]*Element
	// Hook runs before every action with the operation name; a non-nil error
	// fails the action. It may block or raise modal states.
	Hook func(op string, args ...string) error
	// NetworkIdle is returned by NetworkWatch.Wait; NetworkDelay is how long Wait
	// takes before returning it.
	NetworkIdle  bool
	NetworkDelay time.Duration
	// Screenshot bytes returned by Screenshot.
	Image []byte
	// CaptureErr fails CaptureRaw when set.
	CaptureErr error
}

// NewPage returns a fake page showing elements at url.
func NewPage(url, title string, elements ...*Element) *Page {
	return &Page{
		url:         url,
		title:       title,
		elements:    elements,
		Documents:   make(map[string][]*Element),
		NetworkIdle: true,
		Image:       []byte{0x89, 'P', 'N', 'G'},
	}
}

// Bind attaches the event sink, normally done by Factory.
func (p *Page) Bind(events browser.PageEvents) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = events
}

// SetElements replaces the document.
func (p *Page) SetElements(elements ...*Element) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.elements = elements
}

// Elements returns the current document.
func (p *Page) Elements() []*Element {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Element, len(p.elements))
	copy(out, p.elements)
	return out
}

// RaiseModal reports a modal state through the bound event sink.
func (p *Page) RaiseModal(state browser.ModalState) {
	p.mu.Lock()
	events := p.events
	p.mu.Unlock()
	if events != nil {
		events.ModalOpened(state)
	}
}

// EmitConsole reports a console message through the bound event sink.
func (p *Page) EmitConsole(level, text string) {
	p.mu.Lock()
	events := p.events
	p.mu.Unlock()
	if events != nil {
		events.Console(level, text)
	}
}

// Calls returns the recorded operations, e.g. "click [data-tabpilot-ref=...]".
func (p *Page) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.calls))
	copy(out, p.calls)
	return out
}

// Files returns the paths passed to SetFiles.
func (p *Page) Files() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.files...)
}

// Closed reports whether Close was called.
func (p *Page) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *Page) record(op string, args ...string) error {
	p.mu.Lock()
	p.calls = append(p.calls, strings.TrimSpace(op+" "+strings.Join(args, " ")))
	hook := p.Hook
	p.mu.Unlock()
	if hook != nil {
		return hook(op, args...)
	}
	return nil
}

func (p *Page) find(selector string) (*Element, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, el := range p.elements {
		if el.marker != "" && snapshot.SelectorFor(el.marker) == selector {
			return el, nil
		}
	}
	return nil, fmt.Errorf("no element matches %s", selector)
}

func (p *Page) Info(ctx context.Context) (snapshot.PageInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return snapshot.PageInfo{URL: p.url, Title: p.title}, nil
}

func (p *Page) Navigate(ctx context.Context, url string) error {
	if err := p.record("navigate", url); err != nil {
		return err
	}
	p.mu.Lock()
	if p.url != "" {
		p.history = append(p.history, p.url)
	}
	p.forward = nil
	p.url = url
	if doc, ok := p.Documents[url]; ok {
		p.elements = doc
	}
	events := p.events
	p.mu.Unlock()
	if events != nil {
		events.Navigated(url)
	}
	return nil
}

func (p *Page) NavigateBack(ctx context.Context) error {
	if err := p.record("back"); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.history) == 0 {
		return errors.New("no history entry")
	}
	p.forward = append(p.forward, p.url)
	p.url = p.history[len(p.history)-1]
	p.history = p.history[:len(p.history)-1]
	return nil
}

func (p *Page) NavigateForward(ctx context.Context) error {
	if err := p.record("forward"); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.forward) == 0 {
		return errors.New("no forward entry")
	}
	p.history = append(p.history, p.url)
	p.url = p.forward[len(p.forward)-1]
	p.forward = p.forward[:len(p.forward)-1]
	return nil
}

func (p *Page) CaptureRaw(ctx context.Context, maxNodes int) ([]snapshot.RawNode, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.CaptureErr != nil {
		return nil, p.CaptureErr
	}
	p.captured = p.captured[:0]
	raw := make([]snapshot.RawNode, 0, len(p.elements))
	for _, el := range p.elements {
		if maxNodes > 0 && len(raw) >= maxNodes {
			break
		}
		raw = append(raw, snapshot.RawNode{
			Role:        el.Role,
			Name:        el.Name,
			Depth:       el.Depth,
			Value:       el.Value,
			Checked:     el.Checked,
			Disabled:    el.Disabled,
			Interactive: el.Interactive,
			PrevRef:     el.marker,
		})
		p.captured = append(p.captured, el)
	}
	return raw, nil
}

func (p *Page) StampMarkers(ctx context.Context, markers []string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(markers) != len(p.captured) {
		return fmt.Errorf("got %d markers for %d captured nodes", len(markers), len(p.captured))
	}
	for _, el := range p.elements {
		el.marker = ""
	}
	for i, ref := range markers {
		p.captured[i].marker = ref
	}
	return nil
}

func (p *Page) Click(ctx context.Context, selector string, opts browser.ClickOptions) error {
	if _, err := p.find(selector); err != nil {
		return err
	}
	op := "click"
	if opts.Double {
		op = "dblclick"
	}
	return p.record(op, selector)
}

func (p *Page) Hover(ctx context.Context, selector string) error {
	if _, err := p.find(selector); err != nil {
		return err
	}
	return p.record("hover", selector)
}

func (p *Page) Type(ctx context.Context, selector, text string) error {
	el, err := p.find(selector)
	if err != nil {
		return err
	}
	if err := p.record("type", selector, text); err != nil {
		return err
	}
	p.mu.Lock()
	el.Value = text
	p.mu.Unlock()
	return nil
}

func (p *Page) SelectOptions(ctx context.Context, selector string, values []string) error {
	el, err := p.find(selector)
	if err != nil {
		return err
	}
	if err := p.record("select", append([]string{selector}, values...)...); err != nil {
		return err
	}
	p.mu.Lock()
	el.Value = strings.Join(values, ", ")
	p.mu.Unlock()
	return nil
}

func (p *Page) Drag(ctx context.Context, fromSelector, toSelector string) error {
	if _, err := p.find(fromSelector); err != nil {
		return err
	}
	if _, err := p.find(toSelector); err != nil {
		return err
	}
	return p.record("drag", fromSelector, toSelector)
}

func (p *Page) PressKey(ctx context.Context, key string) error {
	return p.record("press", key)
}

func (p *Page) Screenshot(ctx context.Context, opts browser.ScreenshotOptions) ([]byte, error) {
	if opts.Selector != "" {
		if _, err := p.find(opts.Selector); err != nil {
			return nil, err
		}
	}
	if err := p.record("screenshot", opts.Selector); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]byte(nil), p.Image...), nil
}

func (p *Page) HTML(ctx context.Context, selector string) (string, error) {
	if selector == "" {
		if err := p.record("html"); err != nil {
			return "", err
		}
		p.mu.Lock()
		defer p.mu.Unlock()
		var b strings.Builder
		b.WriteString("<html><head><title>" + p.title + "</title></head><body>")
		for _, el := range p.elements {
			b.WriteString(el.HTML)
		}
		b.WriteString("</body></html>")
		return b.String(), nil
	}
	el, err := p.find(selector)
	if err != nil {
		return "", err
	}
	if err := p.record("html", selector); err != nil {
		return "", err
	}
	return el.HTML, nil
}

func (p *Page) WaitText(ctx context.Context, text string, gone bool) error {
	if err := p.record("waittext", text); err != nil {
		return err
	}
	for {
		p.mu.Lock()
		found := false
		for _, el := range p.elements {
			if strings.Contains(el.Name, text) || strings.Contains(el.HTML, text) {
				found = true
				break
			}
		}
		p.mu.Unlock()
		if found != gone {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func (p *Page) HandleDialog(ctx context.Context, accept bool, promptText string) error {
	return p.record("dialog", fmt.Sprintf("accept=%t", accept), promptText)
}

func (p *Page) SetFiles(ctx context.Context, paths []string) error {
	if err := p.record("files", paths...); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.files = append(p.files, paths...)
	return nil
}

func (p *Page) WatchNetwork(ctx context.Context, window time.Duration) browser.NetworkWatch {
	p.mu.Lock()
	p.calls = append(p.calls, "watch")
	idle, delay := p.NetworkIdle, p.NetworkDelay
	p.mu.Unlock()
	return &networkWatch{idle: idle, delay: delay}
}

func (p *Page) Activate(ctx context.Context) error {
	return p.record("activate")
}

func (p *Page) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

type networkWatch struct {
	idle  bool
	delay time.Duration
}

func (w *networkWatch) Wait(timeout time.Duration) bool {
	if w.delay > timeout {
		time.Sleep(timeout)
		return false
	}
	time.Sleep(w.delay)
	return w.idle
}

func (w *networkWatch) Stop() {}

// Factory hands out queued pages, or blank pages once the queue is empty.
type Factory struct {
	mu     sync.Mutex
	queue  []*Page
	opened []*Page
	Err    error
}

// NewFactory returns a factory that serves pages in order.
func NewFactory(pages ...*Page) *Factory {
	return &Factory{queue: pages}
}

// Opened returns every page handed out so far.
func (f *Factory) Opened() []*Page {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*Page(nil), f.opened...)
}

func (f *Factory) NewPage(ctx context.Context, events browser.PageEvents) (browser.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	var page *Page
	if len(f.queue) > 0 {
		page = f.queue[0]
		f.queue = f.queue[1:]
	} else {
		page = NewPage("about:blank", "")
	}
	page.Bind(events)
	f.opened = append(f.opened, page)
	return page, nil
}
