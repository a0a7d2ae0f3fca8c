package tools

import (
	"fmt"
	"strings"

	"tabpilot-mcp-server/internal/browser"
)

// admit decides whether tool may run given the active modal states. It never
// mutates state; a nil return admits the call.
func admit(tool Tool, active []browser.ModalState) *Error {
	clears := tool.ClearsModalState()
	if clears != "" {
		for _, s := range active {
			if s.Type == clears {
				return nil
			}
		}
		return &Error{
			Kind:    KindModalState,
			Tool:    tool.Name(),
			Message: fmt.Sprintf("The tool %q can only be used when there is related modal state present.", tool.Name()),
		}
	}
	if len(active) == 0 {
		return nil
	}
	return &Error{
		Kind:    KindModalState,
		Tool:    tool.Name(),
		Message: fmt.Sprintf("The tool %q cannot be used when there is a modal state present.", tool.Name()),
	}
}

// renderModalStates lists active modal states with the tool that clears each.
func renderModalStates(b *strings.Builder, active []browser.ModalState, clearer func(string) (string, bool)) {
	b.WriteString("### Modal state\n")
	if len(active) == 0 {
		b.WriteString("- There is no modal state present\n")
		return
	}
	for _, s := range active {
		if name, ok := clearer(s.Type); ok {
			fmt.Fprintf(b, "- [%s]: can be handled by the %q tool\n", s.Description, name)
		} else {
			fmt.Fprintf(b, "- [%s]: no enabled tool can handle it\n", s.Description)
		}
	}
}
