package browser

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"tabpilot-mcp-server/internal/mangle"
)

type modalEntry struct {
	state ModalState
	tab   *Tab
	seq   uint64
}

// Context is one caller's browser session: its tabs, the current tab, and the
// set of active modal states. Calls against a Context are serialized through
// Acquire.
type Context struct {
	id        string
	factory   PageFactory
	sink      EngineSink
	maxNodes  int
	createdAt time.Time
	onChange  func()

	callMu sync.Mutex

	mu          sync.Mutex
	tabs        []*Tab
	current     int
	modals      []modalEntry
	modalSeq    uint64
	modalRaised chan struct{}
	pending     <-chan struct{}
	lastActive  time.Time
}

// NewContext builds an empty Context. sink may be nil.
func NewContext(id string, factory PageFactory, sink EngineSink, maxNodes int) *Context {
	now := time.Now()
	return &Context{
		id:          id,
		factory:     factory,
		sink:        sink,
		maxNodes:    maxNodes,
		createdAt:   now,
		current:     -1,
		modalRaised: make(chan struct{}, 1),
		lastActive:  now,
	}
}

// ID returns the session identifier.
func (c *Context) ID() string { return c.id }

// Acquire blocks until no other call runs against this Context. The returned
// func releases it.
func (c *Context) Acquire() (release func()) {
	c.callMu.Lock()
	c.mu.Lock()
	c.lastActive = time.Now()
	c.mu.Unlock()
	return c.callMu.Unlock
}

// LastActive returns when the last call started.
func (c *Context) LastActive() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActive
}

// ModalStates returns the active modal states in the order they were raised.
func (c *Context) ModalStates() []ModalState {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]ModalState, 0, len(c.modals))
	for _, m := range c.modals {
		out = append(out, m.state)
	}
	return out
}

// HasModalState reports whether a modal state of type typ is active.
func (c *Context) HasModalState(typ string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, m := range c.modals {
		if m.state.Type == typ {
			return true
		}
	}
	return false
}

// ClearModalState removes the modal state of type typ, leaving others in place.
func (c *Context) ClearModalState(typ string) bool {
	return c.ClearModalStateBefore(typ, ^uint64(0))
}

// ModalMark returns a position in the sequence of raised modal states, for use
// with ClearModalStateBefore.
func (c *Context) ModalMark() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.modalSeq
}

// ClearModalStateBefore removes the modal state of type typ only if it was
// raised at or before mark. A state of the same type raised later replaces the
// old entry and survives.
func (c *Context) ClearModalStateBefore(typ string, mark uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, m := range c.modals {
		if m.state.Type == typ {
			if m.seq > mark {
				return false
			}
			c.modals = append(c.modals[:i], c.modals[i+1:]...)
			return true
		}
	}
	return false
}

// ModalTab returns the tab that raised the active modal state of type typ.
func (c *Context) ModalTab(typ string) (*Tab, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, m := range c.modals {
		if m.state.Type == typ && m.tab != nil {
			return m.tab, true
		}
	}
	return nil, false
}

// ModalRaised is signalled whenever a modal state is raised.
func (c *Context) ModalRaised() <-chan struct{} { return c.modalRaised }

// DrainModalSignal discards a pending ModalRaised notification.
func (c *Context) DrainModalSignal() {
	select {
	case <-c.modalRaised:
	default:
	}
}

func (c *Context) raiseModal(tab *Tab, state ModalState) {
	c.mu.Lock()
	c.modalSeq++
	entry := modalEntry{state: state, tab: tab, seq: c.modalSeq}
	replaced := false
	for i, m := range c.modals {
		if m.state.Type == state.Type {
			c.modals[i] = entry
			replaced = true
			break
		}
	}
	if !replaced {
		c.modals = append(c.modals, entry)
	}
	c.mu.Unlock()

	select {
	case c.modalRaised <- struct{}{}:
	default:
	}

	log.Printf("[session:%s] modal state raised: %s (%s)", c.id, state.Type, state.Description)
	c.emit("modal_state", state.Type, state.Description, time.Now().UnixMilli())
}

// SetPending records an action that kept running after its call returned.
// done is closed when the action finishes.
func (c *Context) SetPending(done <-chan struct{}) {
	c.mu.Lock()
	c.pending = done
	c.mu.Unlock()
}

// WaitPending waits up to timeout for the action recorded by SetPending. It
// reports false when that action is still running.
func (c *Context) WaitPending(ctx context.Context, timeout time.Duration) bool {
	c.mu.Lock()
	done := c.pending
	c.mu.Unlock()
	if done == nil {
		return true
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
		c.mu.Lock()
		if c.pending == done {
			c.pending = nil
		}
		c.mu.Unlock()
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}

// Tabs returns the open tabs in creation order.
func (c *Context) Tabs() []*Tab {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Tab, len(c.tabs))
	copy(out, c.tabs)
	return out
}

// CurrentIndex returns the index of the current tab, -1 when none is open.
func (c *Context) CurrentIndex() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// CurrentTab returns the current tab or ErrNoTab.
func (c *Context) CurrentTab() (*Tab, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current < 0 || c.current >= len(c.tabs) {
		return nil, ErrNoTab
	}
	return c.tabs[c.current], nil
}

// EnsureTab returns the current tab, opening one when none exists.
func (c *Context) EnsureTab(ctx context.Context) (*Tab, error) {
	if tab, err := c.CurrentTab(); err == nil {
		return tab, nil
	}
	return c.NewTab(ctx)
}

// NewTab opens a page and makes it current.
func (c *Context) NewTab(ctx context.Context) (*Tab, error) {
	if c.factory == nil {
		return nil, ErrNotConnected
	}
	tab := newTab(c)
	page, err := c.factory.NewPage(ctx, tab)
	if err != nil {
		return nil, fmt.Errorf("open page: %w", err)
	}
	tab.page = page

	c.mu.Lock()
	c.tabs = append(c.tabs, tab)
	c.current = len(c.tabs) - 1
	c.mu.Unlock()

	log.Printf("[session:%s] opened tab %s", c.id, tab.id)
	c.changed()
	return tab, nil
}

// SelectTab makes the tab at index current and brings it to front.
func (c *Context) SelectTab(ctx context.Context, index int) (*Tab, error) {
	c.mu.Lock()
	if index < 0 || index >= len(c.tabs) {
		count := len(c.tabs)
		c.mu.Unlock()
		return nil, fmt.Errorf("tab index %d out of range (%d open)", index, count)
	}
	c.current = index
	tab := c.tabs[index]
	c.mu.Unlock()

	if err := tab.page.Activate(ctx); err != nil {
		return nil, fmt.Errorf("activate tab: %w", err)
	}
	return tab, nil
}

// CloseTab closes the tab at index, or the current tab when index is negative.
// Modal states raised by that tab are dropped.
func (c *Context) CloseTab(ctx context.Context, index int) error {
	c.mu.Lock()
	if index < 0 {
		index = c.current
	}
	if index < 0 || index >= len(c.tabs) {
		count := len(c.tabs)
		c.mu.Unlock()
		if count == 0 {
			return ErrNoTab
		}
		return fmt.Errorf("tab index %d out of range (%d open)", index, count)
	}
	tab := c.tabs[index]
	c.tabs = append(c.tabs[:index], c.tabs[index+1:]...)
	c.dropModalsLocked(tab)
	switch {
	case len(c.tabs) == 0:
		c.current = -1
	case c.current >= len(c.tabs):
		c.current = len(c.tabs) - 1
	case c.current > index:
		c.current--
	}
	c.mu.Unlock()

	c.changed()
	if err := tab.close(); err != nil {
		return fmt.Errorf("close tab: %w", err)
	}
	return nil
}

// Close closes every tab and clears all modal states.
func (c *Context) Close(ctx context.Context) error {
	c.mu.Lock()
	tabs := c.tabs
	c.tabs = nil
	c.current = -1
	c.modals = nil
	c.mu.Unlock()

	var errs []error
	for _, tab := range tabs {
		if err := tab.close(); err != nil {
			errs = append(errs, err)
		}
	}
	c.changed()
	return errors.Join(errs...)
}

func (c *Context) dropModalsLocked(tab *Tab) {
	kept := c.modals[:0]
	for _, m := range c.modals {
		if m.tab != tab {
			kept = append(kept, m)
		}
	}
	c.modals = kept
}

func (c *Context) changed() {
	if c.onChange != nil {
		c.onChange()
	}
}

// Emit records a fact for this session. The session id is prepended to args.
func (c *Context) Emit(predicate string, args ...interface{}) {
	c.emit(predicate, args...)
}

func (c *Context) emit(predicate string, args ...interface{}) {
	if c.sink == nil {
		return
	}
	now := time.Now()
	fact := mangle.Fact{
		Predicate: predicate,
		Args:      append([]interface{}{c.id}, args...),
		Timestamp: now,
	}
	if err := c.sink.AddFacts(context.Background(), []mangle.Fact{fact}); err != nil {
		log.Printf("[session:%s] %s fact error: %v", c.id, predicate, err)
	}
}
