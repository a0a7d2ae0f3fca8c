package tools

import (
	"errors"
	"fmt"

	"tabpilot-mcp-server/internal/browser"
	"tabpilot-mcp-server/internal/snapshot"
)

// Kind classifies a failed call.
type Kind string

const (
	KindToolNotFound     Kind = "tool_not_found"
	KindModalState       Kind = "modal_state"
	KindInvalidArguments Kind = "invalid_arguments"
	KindStaleReference   Kind = "stale_or_unknown_reference"
	KindPrecondition     Kind = "precondition"
	KindPlanning         Kind = "planning"
	KindActionExecution  Kind = "action_execution"
)

// Error is the single error type a dispatched call fails with.
type Error struct {
	Kind    Kind
	Tool    string
	Message string
	Ref     string // set for KindStaleReference
	Err     error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// invalidArgs is returned by Plan for arguments the schema cannot express.
func invalidArgs(format string, args ...interface{}) error {
	return &Error{Kind: KindInvalidArguments, Message: fmt.Sprintf(format, args...)}
}

func precondition(format string, args ...interface{}) error {
	return &Error{Kind: KindPrecondition, Message: fmt.Sprintf(format, args...)}
}

// classify maps any error raised while handling tool into an *Error. fallback
// is used for errors that carry no kind of their own.
func classify(tool string, fallback Kind, err error) *Error {
	var te *Error
	if errors.As(err, &te) {
		out := *te
		if out.Tool == "" {
			out.Tool = tool
		}
		return &out
	}

	var re *snapshot.RefError
	if errors.As(err, &re) {
		return &Error{Kind: KindStaleReference, Tool: tool, Ref: re.Ref, Message: re.Error(), Err: err}
	}
	if errors.Is(err, browser.ErrNoTab) || errors.Is(err, browser.ErrNoSnapshot) || errors.Is(err, browser.ErrNotConnected) {
		return &Error{Kind: KindPrecondition, Tool: tool, Message: err.Error(), Err: err}
	}
	return &Error{Kind: fallback, Tool: tool, Message: err.Error(), Err: err}
}
