package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"tabpilot-mcp-server/internal/config"
	"tabpilot-mcp-server/internal/snapshot"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/proto"
)

// rodPage implements Page on top of a rod page.
type rodPage struct {
	sessionID     string
	page          *rod.Page
	events        PageEvents
	navTimeout    time.Duration
	actionTimeout time.Duration
	cancel        context.CancelFunc

	mu      sync.Mutex
	chooser *proto.PageFileChooserOpened
}

func newRodPage(sessionID string, page *rod.Page, events PageEvents, cfg config.BrowserConfig) *rodPage {
	ctx, cancel := context.WithCancel(context.Background())
	p := &rodPage{
		sessionID:     sessionID,
		page:          page,
		events:        events,
		navTimeout:    cfg.NavigationTimeout(),
		actionTimeout: cfg.ActionTimeout(),
		cancel:        cancel,
	}

	if err := (proto.PageSetInterceptFileChooserDialog{Enabled: true}).Call(page); err != nil {
		// Without interception the native chooser still opens; uploads just won't be offered.
		p.events.Console("warning", "file chooser interception unavailable: "+err.Error())
	}

	wait := page.Context(ctx).EachEvent(
		func(ev *proto.PageJavascriptDialogOpening) {
			p.events.ModalOpened(ModalState{
				Type:        ModalDialog,
				Description: fmt.Sprintf("%q dialog with message %q", string(ev.Type), ev.Message),
			})
		},
		func(ev *proto.PageFileChooserOpened) {
			p.mu.Lock()
			p.chooser = ev
			p.mu.Unlock()
			p.events.ModalOpened(ModalState{
				Type:        ModalFileChooser,
				Description: "File chooser",
			})
		},
		func(ev *proto.RuntimeConsoleAPICalled) {
			p.events.Console(string(ev.Type), stringifyConsoleArgs(ev.Args))
		},
		func(ev *proto.PageFrameNavigated) {
			if ev.Frame != nil && ev.Frame.ParentID == "" {
				p.events.Navigated(ev.Frame.URL)
			}
		},
	)
	go wait()

	return p
}

func stringifyConsoleArgs(args []*proto.RuntimeRemoteObject) string {
	parts := make([]string, 0, len(args))
	for _, a := range args {
		if a == nil {
			continue
		}
		if !a.Value.Nil() {
			parts = append(parts, a.Value.String())
			continue
		}
		if a.Description != "" {
			parts = append(parts, a.Description)
		}
	}
	return strings.Join(parts, " ")
}

func (p *rodPage) element(ctx context.Context, selector string) (*rod.Element, error) {
	el, err := p.page.Context(ctx).Timeout(p.actionTimeout).Element(selector)
	if err != nil {
		return nil, fmt.Errorf("locate %s: %w", selector, err)
	}
	return el, nil
}

func (p *rodPage) Info(ctx context.Context) (snapshot.PageInfo, error) {
	info, err := p.page.Context(ctx).Info()
	if err != nil {
		return snapshot.PageInfo{}, err
	}
	return snapshot.PageInfo{URL: info.URL, Title: info.Title}, nil
}

func (p *rodPage) Navigate(ctx context.Context, url string) error {
	page := p.page.Context(ctx).Timeout(p.navTimeout)
	if err := page.Navigate(url); err != nil {
		return fmt.Errorf("navigate to %s: %w", url, err)
	}
	if err := page.WaitLoad(); err != nil {
		return fmt.Errorf("wait for load of %s: %w", url, err)
	}
	return nil
}

func (p *rodPage) NavigateBack(ctx context.Context) error {
	return p.page.Context(ctx).Timeout(p.navTimeout).NavigateBack()
}

func (p *rodPage) NavigateForward(ctx context.Context) error {
	return p.page.Context(ctx).Timeout(p.navTimeout).NavigateForward()
}

func (p *rodPage) CaptureRaw(ctx context.Context, maxNodes int) ([]snapshot.RawNode, error) {
	res, err := p.page.Context(ctx).Timeout(p.actionTimeout).Evaluate(&rod.EvalOptions{
		JS:      captureJS,
		JSArgs:  []interface{}{maxNodes, snapshot.MarkerAttribute},
		ByValue: true,
	})
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, errors.New("empty capture result")
	}

	raw, err := res.Value.MarshalJSON()
	if err != nil {
		return nil, err
	}
	var nodes []snapshot.RawNode
	if err := json.Unmarshal(raw, &nodes); err != nil {
		return nil, fmt.Errorf("decode capture: %w", err)
	}
	return nodes, nil
}

func (p *rodPage) StampMarkers(ctx context.Context, markers []string) error {
	_, err := p.page.Context(ctx).Timeout(p.actionTimeout).Evaluate(&rod.EvalOptions{
		JS:      stampJS,
		JSArgs:  []interface{}{markers, snapshot.MarkerAttribute},
		ByValue: true,
	})
	return err
}

func (p *rodPage) Click(ctx context.Context, selector string, opts ClickOptions) error {
	el, err := p.element(ctx, selector)
	if err != nil {
		return err
	}
	button := proto.InputMouseButtonLeft
	switch opts.Button {
	case "right":
		button = proto.InputMouseButtonRight
	case "middle":
		button = proto.InputMouseButtonMiddle
	}
	count := 1
	if opts.Double {
		count = 2
	}
	return el.Click(button, count)
}

func (p *rodPage) Hover(ctx context.Context, selector string) error {
	el, err := p.element(ctx, selector)
	if err != nil {
		return err
	}
	return el.Hover()
}

func (p *rodPage) Type(ctx context.Context, selector, text string) error {
	el, err := p.element(ctx, selector)
	if err != nil {
		return err
	}
	if err := el.SelectAllText(); err != nil {
		return fmt.Errorf("select existing text: %w", err)
	}
	return el.Input(text)
}

func (p *rodPage) SelectOptions(ctx context.Context, selector string, values []string) error {
	el, err := p.element(ctx, selector)
	if err != nil {
		return err
	}
	return el.Select(values, true, rod.SelectorTypeText)
}

func (p *rodPage) Drag(ctx context.Context, fromSelector, toSelector string) error {
	from, err := p.element(ctx, fromSelector)
	if err != nil {
		return err
	}
	to, err := p.element(ctx, toSelector)
	if err != nil {
		return err
	}
	if err := from.ScrollIntoView(); err != nil {
		return err
	}
	start, err := centerOf(from)
	if err != nil {
		return fmt.Errorf("drag source: %w", err)
	}
	end, err := centerOf(to)
	if err != nil {
		return fmt.Errorf("drag target: %w", err)
	}

	mouse := p.page.Mouse
	if err := mouse.MoveTo(start); err != nil {
		return err
	}
	if err := mouse.Down(proto.InputMouseButtonLeft, 1); err != nil {
		return err
	}
	if err := mouse.MoveLinear(end, 10); err != nil {
		return err
	}
	return mouse.Up(proto.InputMouseButtonLeft, 1)
}

func centerOf(el *rod.Element) (proto.Point, error) {
	shape, err := el.Shape()
	if err != nil {
		return proto.Point{}, err
	}
	pt := shape.OnePointInside()
	if pt == nil {
		return proto.Point{}, errors.New("element has no visible area")
	}
	return *pt, nil
}

var namedKeys = map[string]input.Key{
	"Enter":      input.Enter,
	"Tab":        input.Tab,
	"Escape":     input.Escape,
	"Backspace":  input.Backspace,
	"Delete":     input.Delete,
	"Space":      input.Space,
	"ArrowUp":    input.ArrowUp,
	"ArrowDown":  input.ArrowDown,
	"ArrowLeft":  input.ArrowLeft,
	"ArrowRight": input.ArrowRight,
	"Home":       input.Home,
	"End":        input.End,
	"PageUp":     input.PageUp,
	"PageDown":   input.PageDown,
}

// SupportedKey reports whether PressKey accepts key: a named key such as
// "Enter" or "ArrowLeft", or a single character.
func SupportedKey(key string) bool {
	if _, ok := namedKeys[key]; ok {
		return true
	}
	return utf8.RuneCountInString(key) == 1
}

// IsNamedKey reports whether key is one of the named keys.
func IsNamedKey(key string) bool {
	_, ok := namedKeys[key]
	return ok
}

func (p *rodPage) PressKey(ctx context.Context, key string) error {
	page := p.page.Context(ctx)
	if k, ok := namedKeys[key]; ok {
		return page.Keyboard.Press(k)
	}
	if utf8.RuneCountInString(key) == 1 {
		return page.InsertText(key)
	}
	return fmt.Errorf("unsupported key %q", key)
}

func (p *rodPage) Screenshot(ctx context.Context, opts ScreenshotOptions) ([]byte, error) {
	format := proto.PageCaptureScreenshotFormatPng
	quality := 100
	if opts.JPEG {
		format = proto.PageCaptureScreenshotFormatJpeg
		quality = 80
	}
	if opts.Selector != "" {
		el, err := p.element(ctx, opts.Selector)
		if err != nil {
			return nil, err
		}
		return el.Screenshot(format, quality)
	}
	req := &proto.PageCaptureScreenshot{Format: format}
	if opts.JPEG {
		req.Quality = &quality
	}
	return p.page.Context(ctx).Timeout(p.actionTimeout).Screenshot(opts.FullPage, req)
}

func (p *rodPage) HTML(ctx context.Context, selector string) (string, error) {
	if selector == "" {
		return p.page.Context(ctx).Timeout(p.actionTimeout).HTML()
	}
	el, err := p.element(ctx, selector)
	if err != nil {
		return "", err
	}
	return el.HTML()
}

func (p *rodPage) WaitText(ctx context.Context, text string, gone bool) error {
	return p.page.Context(ctx).Wait(&rod.EvalOptions{
		JS:     `(text, gone) => !!document.body && document.body.innerText.includes(text) !== gone`,
		JSArgs: []interface{}{text, gone},
	})
}

func (p *rodPage) HandleDialog(ctx context.Context, accept bool, promptText string) error {
	return proto.PageHandleJavaScriptDialog{
		Accept:     accept,
		PromptText: promptText,
	}.Call(p.page.Context(ctx))
}

func (p *rodPage) SetFiles(ctx context.Context, paths []string) error {
	p.mu.Lock()
	chooser := p.chooser
	p.chooser = nil
	p.mu.Unlock()

	if chooser == nil {
		return errors.New("no file chooser is open")
	}
	return proto.DOMSetFileInputFiles{
		Files:         paths,
		BackendNodeID: chooser.BackendNodeID,
	}.Call(p.page.Context(ctx))
}

func (p *rodPage) WatchNetwork(ctx context.Context, window time.Duration) NetworkWatch {
	wctx, cancel := context.WithCancel(ctx)
	wait := p.page.Context(wctx).WaitRequestIdle(window, nil, nil, nil)
	return &rodNetworkWatch{sessionID: p.sessionID, wait: wait, cancel: cancel}
}

func (p *rodPage) Activate(ctx context.Context) error {
	_, err := p.page.Context(ctx).Activate()
	return err
}

func (p *rodPage) Close() error {
	p.cancel()
	return p.page.Close()
}

type rodNetworkWatch struct {
	sessionID string
	wait      func()
	cancel    context.CancelFunc
}

func (w *rodNetworkWatch) Wait(timeout time.Duration) bool {
	done := make(chan bool, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Printf("[session:%s] network idle wait aborted: %v", w.sessionID, r)
				done <- false
			}
		}()
		w.wait()
		done <- true
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case settled := <-done:
		return settled
	case <-timer.C:
		w.cancel()
		return false
	}
}

func (w *rodNetworkWatch) Stop() { w.cancel() }
