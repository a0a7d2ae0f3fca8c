// Package tools holds the browser tool set and the pipeline that dispatches
// calls to it: modal-state gate, reference resolution, plan and execute.
package tools

import (
	"context"
	"fmt"
	"math"

	"tabpilot-mcp-server/internal/browser"
	"tabpilot-mcp-server/internal/snapshot"

	"github.com/google/jsonschema-go/jsonschema"
)

// Capability groups tools that are enabled or disabled together.
const (
	CapCore    = "core"
	CapHistory = "history"
	CapTabs    = "tabs"
	CapWait    = "wait"
	CapFiles   = "files"
	CapExtract = "extract"
	CapFacts   = "facts"
)

// Tool is implemented by every browser tool. Plan must not perform the side
// effect; it returns a PendingAction the Dispatcher runs.
type Tool interface {
	Name() string
	Capability() string
	Description() string
	InputSchema() *jsonschema.Schema
	// ClearsModalState names the modal state type the tool resolves, or "".
	ClearsModalState() string
	// RefArgs lists the arguments that carry element refs.
	RefArgs() []string
	Plan(ctx context.Context, call *Call) (*PendingAction, error)
}

// PendingAction is a planned call. Code describes the action and is shown even
// when Run fails.
type PendingAction struct {
	Code            []string
	Run             func(ctx context.Context) (*Payload, error)
	CaptureSnapshot bool
	WaitForNetwork  bool
}

// Payload is what an action returns besides the page state.
type Payload struct {
	Text  []string
	Image *Image
}

// Image is a binary screenshot.
type Image struct {
	Data     []byte
	MIMEType string
}

// Call carries one validated tool invocation into Plan.
type Call struct {
	Session *browser.Context
	Args    Args
	targets map[string]snapshot.Target
}

// Tab returns the current tab or a precondition error.
func (c *Call) Tab() (*browser.Tab, error) {
	return c.Session.CurrentTab()
}

// Target returns the element bound to the ref argument name.
func (c *Call) Target(arg string) (snapshot.Target, error) {
	t, ok := c.targets[arg]
	if !ok {
		return snapshot.Target{}, invalidArgs("argument %q must be an element ref from the page snapshot", arg)
	}
	return t, nil
}

// Args is the decoded argument object of a call.
type Args map[string]interface{}

// String returns the named string argument, "" when absent.
func (a Args) String(name string) string {
	s, _ := a[name].(string)
	return s
}

// Bool returns the named boolean argument, false when absent.
func (a Args) Bool(name string) bool {
	b, _ := a[name].(bool)
	return b
}

// Number returns the named numeric argument.
func (a Args) Number(name string) (float64, bool) {
	switch v := a[name].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

// Int returns the named integer argument or an error for fractional values.
func (a Args) Int(name string) (int, bool, error) {
	f, ok := a.Number(name)
	if !ok {
		return 0, false, nil
	}
	if f != math.Trunc(f) {
		return 0, true, invalidArgs("argument %q must be an integer, got %v", name, f)
	}
	return int(f), true, nil
}

// Strings returns the named string list.
func (a Args) Strings(name string) []string {
	switch v := a[name].(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			out = append(out, fmt.Sprint(item))
		}
		return out
	}
	return nil
}

// definition is the common Tool implementation; each tool is one value.
type definition struct {
	name        string
	capability  string
	description string
	schema      *jsonschema.Schema
	clears      string
	refArgs     []string
	plan        func(ctx context.Context, call *Call) (*PendingAction, error)
}

func (d *definition) Name() string                    { return d.name }
func (d *definition) Capability() string              { return d.capability }
func (d *definition) Description() string             { return d.description }
func (d *definition) InputSchema() *jsonschema.Schema { return d.schema }
func (d *definition) ClearsModalState() string        { return d.clears }
func (d *definition) RefArgs() []string               { return d.refArgs }

func (d *definition) Plan(ctx context.Context, call *Call) (*PendingAction, error) {
	return d.plan(ctx, call)
}
