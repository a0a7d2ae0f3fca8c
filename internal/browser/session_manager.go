package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"tabpilot-mcp-server/internal/config"
	"tabpilot-mcp-server/internal/mangle"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

// SessionInfo describes a tracked browser Context.
type SessionInfo struct {
	ID         string    `json:"id"`
	Status     string    `json:"status"`
	Tabs       int       `json:"tabs"`
	URL        string    `json:"url,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	LastActive time.Time `json:"last_active"`
}

// EngineSink defines the minimal interface we need from the logic layer.
type EngineSink interface {
	AddFacts(ctx context.Context, facts []mangle.Fact) error
}

// ManagerOption customizes a SessionManager.
type ManagerOption func(*SessionManager)

// WithPageFactory serves every Context from f instead of the rod browser.
func WithPageFactory(f PageFactory) ManagerOption {
	return func(m *SessionManager) { m.factory = f }
}

// WithMaxNodes caps the nodes walked per snapshot.
func WithMaxNodes(n int) ManagerOption {
	return func(m *SessionManager) { m.maxNodes = n }
}

// SessionManager owns the Chrome instance and one Context per caller session.
type SessionManager struct {
	cfg      config.BrowserConfig
	engine   EngineSink
	factory  PageFactory
	maxNodes int

	mu         sync.RWMutex
	browser    *rod.Browser
	controlURL string
	incognito  map[string]*rod.Browser
	contexts   map[string]*Context
	detached   map[string]SessionInfo
}

// NewSessionManager builds a manager. Chrome is not contacted until Start or the
// first page is opened.
func NewSessionManager(cfg config.BrowserConfig, sink EngineSink, opts ...ManagerOption) *SessionManager {
	m := &SessionManager{
		cfg:       cfg,
		engine:    sink,
		maxNodes:  2000,
		incognito: make(map[string]*rod.Browser),
		contexts:  make(map[string]*Context),
		detached:  make(map[string]SessionInfo),
	}
	for _, opt := range opts {
		opt(m)
	}
	if err := m.loadSessions(); err != nil {
		log.Printf("warning: failed to load session store %s: %v", cfg.SessionStore, err)
	}
	return m
}

// Start connects to an existing Chrome or launches a new one using Rod's launcher.
func (m *SessionManager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.startLocked(ctx)
}

func (m *SessionManager) startLocked(ctx context.Context) error {
	if m.browser != nil {
		if _, err := m.browser.Version(); err == nil {
			return nil
		}
		log.Printf("Stale browser connection detected, reconnecting...")
		_ = m.browser.Close()
		m.browser = nil
		m.controlURL = ""
		m.incognito = make(map[string]*rod.Browser)
	}

	controlURL := m.cfg.DebuggerURL
	if controlURL == "" {
		launch := launcher.New().Headless(m.cfg.IsHeadless())
		if len(m.cfg.Launch) > 0 {
			launch = launch.Bin(m.cfg.Launch[0])
			for _, rawFlag := range m.cfg.Launch[1:] {
				flagStr := strings.TrimLeft(rawFlag, "-")
				name, val, hasVal := strings.Cut(flagStr, "=")
				if hasVal {
					launch = launch.Set(flags.Flag(name), val)
				} else {
					launch = launch.Set(flags.Flag(name))
				}
			}
		}
		url, err := launch.Launch()
		if err != nil {
			return fmt.Errorf("launch chrome: %w", err)
		}
		controlURL = url
	}

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	}

	m.browser = browser
	m.controlURL = controlURL
	log.Printf("Browser connected at %s", controlURL)
	return nil
}

// ControlURL returns the WebSocket debugger URL for the connected browser.
func (m *SessionManager) ControlURL() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.controlURL
}

// IsConnected returns whether the browser is currently connected.
func (m *SessionManager) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.browser != nil
}

// Shutdown closes every Context and the underlying browser.
func (m *SessionManager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	contexts := m.contexts
	m.contexts = make(map[string]*Context)
	m.mu.Unlock()

	for _, c := range contexts {
		if err := c.Close(ctx); err != nil {
			log.Printf("[session:%s] close error: %v", c.ID(), err)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	var err error
	if m.browser != nil {
		err = m.browser.Close()
		m.browser = nil
	}
	m.incognito = make(map[string]*rod.Browser)
	m.controlURL = ""
	log.Printf("Browser shutdown complete")
	return err
}

// Context returns the Context for sessionID, creating it on first use.
func (m *SessionManager) Context(sessionID string) *Context {
	m.mu.Lock()
	defer m.mu.Unlock()

	if c, ok := m.contexts[sessionID]; ok {
		return c
	}

	factory := m.factory
	if factory == nil {
		factory = &rodPageFactory{manager: m, sessionID: sessionID}
	}
	c := NewContext(sessionID, factory, m.engine, m.maxNodes)
	c.onChange = func() {
		if err := m.persistSessions(); err != nil {
			log.Printf("[session:%s] persist sessions: %v", sessionID, err)
		}
	}
	m.contexts[sessionID] = c
	delete(m.detached, sessionID)
	log.Printf("[session:%s] context created", sessionID)
	return c
}

// Lookup returns an existing Context without creating one.
func (m *SessionManager) Lookup(sessionID string) (*Context, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.contexts[sessionID]
	return c, ok
}

// CloseContext tears down the Context for sessionID and its incognito browser.
func (m *SessionManager) CloseContext(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	c, ok := m.contexts[sessionID]
	delete(m.contexts, sessionID)
	incognito := m.incognito[sessionID]
	delete(m.incognito, sessionID)
	m.mu.Unlock()

	if !ok {
		return nil
	}
	err := c.Close(ctx)
	if incognito != nil {
		if closeErr := incognito.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}
	if persistErr := m.persistSessions(); persistErr != nil {
		log.Printf("[session:%s] persist sessions: %v", sessionID, persistErr)
	}
	log.Printf("[session:%s] context closed", sessionID)
	return err
}

// List returns metadata for live and persisted sessions, oldest first.
func (m *SessionManager) List() []SessionInfo {
	m.mu.RLock()
	contexts := make([]*Context, 0, len(m.contexts))
	for _, c := range m.contexts {
		contexts = append(contexts, c)
	}
	results := make([]SessionInfo, 0, len(m.contexts)+len(m.detached))
	for _, info := range m.detached {
		results = append(results, info)
	}
	m.mu.RUnlock()

	for _, c := range contexts {
		results = append(results, describe(c))
	}
	sort.Slice(results, func(i, j int) bool {
		if !results[i].CreatedAt.Equal(results[j].CreatedAt) {
			return results[i].CreatedAt.Before(results[j].CreatedAt)
		}
		return results[i].ID < results[j].ID
	})
	return results
}

func describe(c *Context) SessionInfo {
	info := SessionInfo{
		ID:         c.ID(),
		Status:     "active",
		CreatedAt:  c.createdAt,
		LastActive: c.LastActive(),
	}
	tabs := c.Tabs()
	info.Tabs = len(tabs)
	if tab, err := c.CurrentTab(); err == nil {
		info.URL = tab.URL()
	}
	return info
}

// browserFor returns the browser a session's pages are opened in, connecting
// on first use.
func (m *SessionManager) browserFor(ctx context.Context, sessionID string) (*rod.Browser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.browser == nil {
		if err := m.startLocked(ctx); err != nil {
			return nil, err
		}
	}
	if !m.cfg.IsIsolated() {
		return m.browser, nil
	}
	if b, ok := m.incognito[sessionID]; ok {
		return b, nil
	}
	b, err := m.browser.Incognito()
	if err != nil {
		return nil, fmt.Errorf("incognito context: %w", err)
	}
	m.incognito[sessionID] = b
	return b, nil
}

type rodPageFactory struct {
	manager   *SessionManager
	sessionID string
}

func (f *rodPageFactory) NewPage(ctx context.Context, events PageEvents) (Page, error) {
	m := f.manager
	b, err := m.browserFor(ctx, f.sessionID)
	if err != nil {
		return nil, err
	}

	var page *rod.Page
	if m.cfg.Stealth {
		page, err = stealth.Page(b)
	} else {
		page, err = b.Page(proto.TargetCreateTarget{URL: "about:blank"})
	}
	if err != nil {
		return nil, fmt.Errorf("create page: %w", err)
	}

	if err := (proto.EmulationSetDeviceMetricsOverride{
		Width:             m.cfg.GetViewportWidth(),
		Height:            m.cfg.GetViewportHeight(),
		DeviceScaleFactor: 1.0,
		Mobile:            false,
	}).Call(page); err != nil {
		log.Printf("[session:%s] warning: failed to set viewport: %v", f.sessionID, err)
	}

	return newRodPage(f.sessionID, page, events, m.cfg), nil
}

// persistSessions writes session metadata to disk for continuity across restarts.
func (m *SessionManager) persistSessions() error {
	if m.cfg.SessionStore == "" {
		return nil
	}

	sessions := m.List()
	data, err := json.MarshalIndent(sessions, "", "  ")
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(m.cfg.SessionStore), 0o755); err != nil {
		return err
	}
	return os.WriteFile(m.cfg.SessionStore, data, 0o644)
}

// loadSessions loads persisted metadata. Pages are not restored; the sessions
// are listed as detached until a caller with the same id reconnects.
func (m *SessionManager) loadSessions() error {
	if m.cfg.SessionStore == "" {
		return nil
	}

	data, err := os.ReadFile(m.cfg.SessionStore)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	var sessions []SessionInfo
	if err := json.Unmarshal(data, &sessions); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range sessions {
		s.Status = "detached"
		s.Tabs = 0
		m.detached[s.ID] = s
	}
	return nil
}
