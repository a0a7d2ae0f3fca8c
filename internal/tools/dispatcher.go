package tools

import (
	"context"
	"fmt"
	"log"
	"runtime/debug"
	"time"

	"tabpilot-mcp-server/internal/browser"
	"tabpilot-mcp-server/internal/recorder"
	"tabpilot-mcp-server/internal/snapshot"
)

// Tracer receives one record per dispatched call.
type Tracer interface {
	Log(eventType, sessionID string, data interface{})
}

// Options tunes post-conditions.
type Options struct {
	// NetworkIdleTimeout bounds the wait for network quiescence.
	NetworkIdleTimeout time.Duration
	// NetworkIdleWindow is how long the page must stay quiet.
	NetworkIdleWindow time.Duration
	// PendingActionTimeout bounds the wait for an action that was interrupted
	// by a modal state and is still running.
	PendingActionTimeout time.Duration
	Tracer               Tracer
}

// Dispatcher runs tool calls through gate, validation, ref resolution, plan,
// execute and post-conditions. It is safe for concurrent use across Contexts;
// calls on one Context are serialized.
type Dispatcher struct {
	registry *Registry
	opts     Options
}

// NewDispatcher builds a dispatcher over a registry.
func NewDispatcher(registry *Registry, opts Options) *Dispatcher {
	if opts.NetworkIdleTimeout <= 0 {
		opts.NetworkIdleTimeout = 5 * time.Second
	}
	if opts.NetworkIdleWindow <= 0 {
		opts.NetworkIdleWindow = 500 * time.Millisecond
	}
	if opts.PendingActionTimeout <= 0 {
		opts.PendingActionTimeout = 5 * time.Second
	}
	return &Dispatcher{registry: registry, opts: opts}
}

// Registry returns the tool table.
func (d *Dispatcher) Registry() *Registry { return d.registry }

// Dispatch runs one call against session. It never panics and never returns a
// Go error; failures are reported in the Result.
func (d *Dispatcher) Dispatch(ctx context.Context, session *browser.Context, name string, args map[string]interface{}) *Result {
	start := time.Now()
	res := d.dispatch(ctx, session, name, args)
	res.clearer = d.registry.ClearerFor
	d.observe(session, name, args, res, time.Since(start))
	return res
}

func (d *Dispatcher) dispatch(ctx context.Context, session *browser.Context, name string, args map[string]interface{}) *Result {
	res := &Result{Tool: name}

	e, ok := d.registry.entry(name)
	if !ok {
		res.Err = &Error{Kind: KindToolNotFound, Tool: name, Message: fmt.Sprintf("Tool %q not found", name)}
		return res
	}
	tool := e.tool

	release := session.Acquire()
	defer release()

	active := session.ModalStates()
	if rejection := admit(tool, active); rejection != nil {
		res.Err = rejection
		res.ModalStates = active
		return res
	}

	if tool.ClearsModalState() == "" {
		d.settlePending(ctx, session, res)
	}

	if args == nil {
		args = map[string]interface{}{}
	}
	if err := e.schema.Validate(args); err != nil {
		res.Err = &Error{
			Kind:    KindInvalidArguments,
			Tool:    name,
			Message: fmt.Sprintf("Invalid arguments for tool %q: %v", name, err),
			Err:     err,
		}
		return res
	}

	call := &Call{Session: session, Args: Args(args)}
	if err := d.resolveRefs(ctx, tool, call, res); err != nil {
		res.Err = classify(name, KindStaleReference, err)
		return res
	}

	action, err := plan(ctx, tool, call)
	if err != nil {
		res.Err = classify(name, KindPlanning, err)
		return res
	}
	res.Code = action.Code

	mark := session.ModalMark()
	payload, interrupted, err := d.execute(ctx, session, action)
	if err != nil {
		res.Err = classify(name, KindActionExecution, err)
		res.ModalStates = session.ModalStates()
		return res
	}
	res.Payload = payload

	if typ := tool.ClearsModalState(); typ != "" {
		session.ClearModalStateBefore(typ, mark)
	}
	if interrupted {
		res.Interrupted = true
		res.ModalStates = session.ModalStates()
		return res
	}

	d.settlePending(ctx, session, res)
	if err := d.postConditions(ctx, session, action, res); err != nil {
		res.Err = classify(name, KindActionExecution, err)
	}
	res.ModalStates = session.ModalStates()
	return res
}

func (d *Dispatcher) resolveRefs(ctx context.Context, tool Tool, call *Call, res *Result) error {
	var args, refs []string
	for _, arg := range tool.RefArgs() {
		if ref := call.Args.String(arg); ref != "" {
			args = append(args, arg)
			refs = append(refs, ref)
		}
	}
	if len(refs) == 0 {
		return nil
	}
	tab, err := call.Tab()
	if err != nil {
		return err
	}
	targets, repairs, err := resolveRefs(ctx, tab, refs)
	if err != nil {
		return err
	}
	call.targets = make(map[string]snapshot.Target, len(args))
	for i, arg := range args {
		call.targets[arg] = targets[i]
	}
	for _, repair := range repairs {
		res.Repairs = append(res.Repairs, repair)
		log.Printf("[session:%s] %s: stale ref %s repaired to %s", call.Session.ID(), tool.Name(), repair.From, repair.To)
		call.Session.Emit("ref_repaired", repair.From, repair.To, time.Now().UnixMilli())
	}
	return nil
}

func plan(ctx context.Context, tool Tool, call *Call) (action *PendingAction, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[session:%s] %s: panic while planning: %v\n%s", call.Session.ID(), tool.Name(), r, debug.Stack())
			action, err = nil, &Error{Kind: KindPlanning, Message: fmt.Sprintf("internal error while planning %s: %v", tool.Name(), r)}
		}
	}()
	action, err = tool.Plan(ctx, call)
	if err == nil && action == nil {
		err = &Error{Kind: KindPlanning, Message: fmt.Sprintf("tool %s returned no action", tool.Name())}
	}
	return action, err
}

type outcome struct {
	payload *Payload
	err     error
}

// execute runs the action, returning early with interrupted=true when a modal
// state is raised before it completes. The interrupted action keeps running
// after the call returns; it is recorded on the session so later calls wait
// for it through settlePending.
func (d *Dispatcher) execute(ctx context.Context, session *browser.Context, action *PendingAction) (*Payload, bool, error) {
	if action.Run == nil {
		return nil, false, nil
	}

	session.DrainModalSignal()
	var watch browser.NetworkWatch
	if action.WaitForNetwork {
		if tab, err := session.CurrentTab(); err == nil {
			watch = tab.Page().WatchNetwork(ctx, d.opts.NetworkIdleWindow)
		}
	}

	done := make(chan outcome, 1)
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		defer func() {
			if r := recover(); r != nil {
				log.Printf("[session:%s] panic in action: %v\n%s", session.ID(), r, debug.Stack())
				done <- outcome{err: fmt.Errorf("internal error: %v", r)}
			}
		}()
		p, err := action.Run(ctx)
		done <- outcome{payload: p, err: err}
	}()

	finish := func(out outcome) (*Payload, bool, error) {
		if out.err != nil {
			if watch != nil {
				watch.Stop()
			}
			return nil, false, out.err
		}
		if watch != nil {
			if !watch.Wait(d.opts.NetworkIdleTimeout) {
				log.Printf("[session:%s] network did not settle within %s; continuing", session.ID(), d.opts.NetworkIdleTimeout)
			}
			watch.Stop()
		}
		return out.payload, false, nil
	}

	select {
	case out := <-done:
		return finish(out)
	case <-session.ModalRaised():
		select {
		case out := <-done:
			if out.err == nil {
				if watch != nil {
					watch.Stop()
				}
				return out.payload, true, nil
			}
		default:
		}
		if watch != nil {
			watch.Stop()
		}
		log.Printf("[session:%s] action interrupted by modal state", session.ID())
		session.SetPending(finished)
		return nil, true, nil
	case <-ctx.Done():
		if watch != nil {
			watch.Stop()
		}
		return nil, false, ctx.Err()
	}
}

// postConditions recaptures the current tab when the action asks for it. A
// failed capture is only a note after an action that did its own work; when
// the capture is the whole action it fails the call.
// settlePending waits for an earlier interrupted action before this call acts
// on the page or recaptures it.
func (d *Dispatcher) settlePending(ctx context.Context, session *browser.Context, res *Result) {
	if session.WaitPending(ctx, d.opts.PendingActionTimeout) {
		return
	}
	log.Printf("[session:%s] %s: interrupted action still running after %s", session.ID(), res.Tool, d.opts.PendingActionTimeout)
	note := "An earlier action interrupted by a modal state is still running"
	for _, n := range res.Notes {
		if n == note {
			return
		}
	}
	res.Notes = append(res.Notes, note)
}

func (d *Dispatcher) postConditions(ctx context.Context, session *browser.Context, action *PendingAction, res *Result) error {
	if !action.CaptureSnapshot {
		return nil
	}
	tab, err := session.CurrentTab()
	if err != nil {
		if action.Run == nil {
			return err
		}
		return nil
	}
	snap, err := tab.Capture(ctx)
	if err != nil {
		if action.Run == nil {
			return err
		}
		log.Printf("[session:%s] %s: recapture failed: %v", session.ID(), res.Tool, err)
		res.Notes = append(res.Notes, "Page snapshot unavailable: "+err.Error())
		return nil
	}
	res.Snapshot = snap
	return nil
}

func (d *Dispatcher) observe(session *browser.Context, name string, args map[string]interface{}, res *Result, elapsed time.Duration) {
	outcome := res.Outcome()
	session.Emit("tool_call", name, outcome, time.Now().UnixMilli())
	if res.Err != nil {
		log.Printf("[session:%s] %s failed (%s): %s", session.ID(), name, res.Err.Kind, res.Err.Message)
	}

	if d.opts.Tracer == nil {
		return
	}
	rec := recorder.CallRecord{
		Tool:       name,
		Args:       args,
		Outcome:    outcome,
		Code:       res.Code,
		DurationMs: elapsed.Milliseconds(),
	}
	if len(res.Repairs) > 0 {
		rec.Repairs = make(map[string]string, len(res.Repairs))
		for _, r := range res.Repairs {
			rec.Repairs[r.From] = r.To
		}
	}
	for _, m := range res.ModalStates {
		rec.Modal = append(rec.Modal, m.Type)
	}
	if res.Snapshot != nil {
		rec.Generation = res.Snapshot.Generation()
	}
	if res.Err != nil {
		rec.Error = res.Err.Message
	}
	d.opts.Tracer.Log("tool_call", session.ID(), rec)
}
