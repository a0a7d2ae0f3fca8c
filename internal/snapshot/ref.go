// Package snapshot holds immutable structural captures of a page and the
// generation-scoped element references minted for them.
package snapshot

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
)

// MarkerAttribute is stamped on every interactive element at capture time so a
// ref can be turned back into a selector without re-walking the page.
const MarkerAttribute = "data-tabpilot-ref"

// ErrStaleOrUnknownReference is the sentinel wrapped by every RefError.
var ErrStaleOrUnknownReference = errors.New("stale or unknown element reference")

var refPattern = regexp.MustCompile(`^s(\d+)e(\d+)$`)

// RefError reports a reference that could not be bound to an element.
type RefError struct {
	Ref        string
	Generation int // generation of the snapshot the lookup ran against (0 when none)
	Reason     string
}

func (e *RefError) Error() string {
	if e.Generation > 0 {
		return fmt.Sprintf("ref %q %s (current snapshot is s%d)", e.Ref, e.Reason, e.Generation)
	}
	return fmt.Sprintf("ref %q %s", e.Ref, e.Reason)
}

func (e *RefError) Unwrap() error { return ErrStaleOrUnknownReference }

// FormatRef mints the reference string for a node.
func FormatRef(generation, index int) string {
	return "s" + strconv.Itoa(generation) + "e" + strconv.Itoa(index)
}

// ParseRef splits a reference into its generation and local index.
func ParseRef(ref string) (generation, index int, err error) {
	m := refPattern.FindStringSubmatch(ref)
	if m == nil {
		return 0, 0, &RefError{Ref: ref, Reason: "is malformed, expected s<generation>e<index>"}
	}
	generation, err = strconv.Atoi(m[1])
	if err != nil {
		return 0, 0, &RefError{Ref: ref, Reason: "has an out of range generation"}
	}
	index, err = strconv.Atoi(m[2])
	if err != nil {
		return 0, 0, &RefError{Ref: ref, Reason: "has an out of range index"}
	}
	return generation, index, nil
}

// ExpectedPrefix is the prefix a ref minted one generation after staleGeneration carries.
func ExpectedPrefix(staleGeneration int) string {
	return "s" + strconv.Itoa(staleGeneration+1) + "e"
}

// MatchesPrefix reports whether ref is prefix followed by one or more digits.
func MatchesPrefix(ref, prefix string) bool {
	if len(ref) <= len(prefix) || ref[:len(prefix)] != prefix {
		return false
	}
	for _, c := range ref[len(prefix):] {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// SelectorFor returns the CSS selector addressing the element stamped with ref.
func SelectorFor(ref string) string {
	return `[` + MarkerAttribute + `="` + ref + `"]`
}
