package snapshot

import (
	"strconv"
	"strings"
	"unicode/utf8"
)

const maxNameRunes = 100

// render writes the aria tree as indented YAML-like lines:
//
//	- heading "Sign in" [level=1]
//	- textbox "Email" [ref=s3e1]: "ada@example.com"
//	- button "Continue" [disabled] [ref=s3e2]
func render(raw []RawNode, refs []string) string {
	var b strings.Builder
	for i, n := range raw {
		depth := n.Depth
		if depth < 0 {
			depth = 0
		}
		b.WriteString(strings.Repeat("  ", depth))
		b.WriteString("- ")
		b.WriteString(roleOrGeneric(n.Role))
		if n.Name != "" {
			b.WriteByte(' ')
			b.WriteString(strconv.Quote(truncate(n.Name, maxNameRunes)))
		}
		if n.Level > 0 {
			b.WriteString(" [level=" + strconv.Itoa(n.Level) + "]")
		}
		switch n.Checked {
		case "true":
			b.WriteString(" [checked]")
		case "mixed":
			b.WriteString(" [checked=mixed]")
		}
		if n.Disabled {
			b.WriteString(" [disabled]")
		}
		if refs[i] != "" {
			b.WriteString(" [ref=" + refs[i] + "]")
		}
		if n.Value != "" {
			b.WriteString(": ")
			b.WriteString(strconv.Quote(truncate(n.Value, maxNameRunes)))
		}
		b.WriteByte('\n')
	}
	return b.String()
}

func roleOrGeneric(role string) string {
	if role == "" {
		return "generic"
	}
	return role
}

func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	r := []rune(s)
	return string(r[:max]) + "..."
}
