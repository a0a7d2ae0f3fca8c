package tools

import (
	"fmt"
	"strings"

	"tabpilot-mcp-server/internal/browser"
	"tabpilot-mcp-server/internal/snapshot"
)

// Result is the outcome of one dispatched call.
type Result struct {
	Tool        string
	Code        []string
	Payload     *Payload
	Snapshot    *snapshot.Snapshot
	Repairs     []Repair
	ModalStates []browser.ModalState
	Interrupted bool
	Notes       []string
	Err         *Error

	clearer func(string) (string, bool)
}

// IsError reports whether the call failed.
func (r *Result) IsError() bool { return r.Err != nil }

// Outcome is "ok", "interrupted" or the error kind.
func (r *Result) Outcome() string {
	switch {
	case r.Err != nil:
		return string(r.Err.Kind)
	case r.Interrupted:
		return "interrupted"
	}
	return "ok"
}

// Image returns the image payload, if any.
func (r *Result) Image() *Image {
	if r.Payload == nil {
		return nil
	}
	return r.Payload.Image
}

// Text renders the caller-visible markdown.
func (r *Result) Text() string {
	var b strings.Builder

	if len(r.Code) > 0 {
		b.WriteString("### Ran code\n```go\n")
		for _, line := range r.Code {
			b.WriteString(line)
			b.WriteByte('\n')
		}
		b.WriteString("```\n")
	}

	if r.Err != nil {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString("Error: ")
		b.WriteString(r.Err.Message)
		b.WriteByte('\n')
		switch r.Err.Kind {
		case KindModalState:
			renderModalStates(&b, r.ModalStates, r.clearerFunc())
		case KindActionExecution:
			if len(r.ModalStates) > 0 {
				renderModalStates(&b, r.ModalStates, r.clearerFunc())
			}
		}
		return strings.TrimRight(b.String(), "\n")
	}

	if r.Payload != nil && len(r.Payload.Text) > 0 {
		section(&b, "Result")
		for _, line := range r.Payload.Text {
			b.WriteString(line)
			b.WriteByte('\n')
		}
	}

	if len(r.Repairs) > 0 || len(r.Notes) > 0 || r.Interrupted {
		section(&b, "Notes")
		for _, rep := range r.Repairs {
			fmt.Fprintf(&b, "- Ref %s was stale and was resolved to %s\n", rep.From, rep.To)
		}
		for _, n := range r.Notes {
			fmt.Fprintf(&b, "- %s\n", n)
		}
		if r.Interrupted {
			b.WriteString("- The action opened a modal state before it completed; handle it before continuing\n")
		}
	}

	if r.Snapshot != nil {
		section(&b, "Page state")
		page := r.Snapshot.Page()
		fmt.Fprintf(&b, "- Page URL: %s\n", page.URL)
		fmt.Fprintf(&b, "- Page Title: %s\n", page.Title)
		b.WriteString("- Page Snapshot:\n```yaml\n")
		b.WriteString(strings.TrimRight(r.Snapshot.Text(), "\n"))
		b.WriteString("\n```\n")
	}

	if len(r.ModalStates) > 0 {
		b.WriteByte('\n')
		renderModalStates(&b, r.ModalStates, r.clearerFunc())
	}

	return strings.TrimRight(b.String(), "\n")
}

func section(b *strings.Builder, title string) {
	if b.Len() > 0 {
		b.WriteByte('\n')
	}
	b.WriteString("### ")
	b.WriteString(title)
	b.WriteByte('\n')
}

func (r *Result) clearerFunc() func(string) (string, bool) {
	if r.clearer != nil {
		return r.clearer
	}
	return func(string) (string, bool) { return "", false }
}
