package snapshot

import (
	"time"
)

// RawNode is one accessibility node reported by the page walker, in document order.
type RawNode struct {
	Role        string `json:"role"`
	Name        string `json:"name"`
	Depth       int    `json:"depth"`
	Value       string `json:"value,omitempty"`
	Level       int    `json:"level,omitempty"`
	Checked     string `json:"checked,omitempty"` // "true", "false", "mixed" or empty
	Disabled    bool   `json:"disabled,omitempty"`
	Interactive bool   `json:"interactive"`
	// PrevRef is the marker the element carried before this capture, if any.
	PrevRef string `json:"prevRef,omitempty"`
}

// Node is an interactive element addressable by Ref.
type Node struct {
	Ref     string `json:"ref"`
	Index   int    `json:"index"`
	Role    string `json:"role"`
	Name    string `json:"name"`
	PrevRef string `json:"prev_ref,omitempty"`
}

// Target is what a resolved ref hands to a tool: enough to locate the element
// through the driver and to describe it in a trace.
type Target struct {
	Ref      string `json:"ref"`
	Role     string `json:"role"`
	Name     string `json:"name"`
	Selector string `json:"selector"`
}

// Describe renders the target the way traces and errors mention it.
func (t Target) Describe() string {
	if t.Name == "" {
		return t.Role + " " + t.Ref
	}
	return t.Role + " \"" + truncate(t.Name, 60) + "\" " + t.Ref
}

// PageInfo identifies the document a snapshot was taken from.
type PageInfo struct {
	URL   string `json:"url"`
	Title string `json:"title"`
}

// Snapshot is an immutable capture of one page at one generation.
type Snapshot struct {
	generation int
	page       PageInfo
	nodes      []Node
	byRef      map[string]int
	markers    []string
	text       string
	capturedAt time.Time
}

// Build assigns refs to the interactive nodes of raw and renders the text form.
// Indices start at 1 and follow document order.
func Build(generation int, page PageInfo, raw []RawNode) *Snapshot {
	s := &Snapshot{
		generation: generation,
		page:       page,
		nodes:      make([]Node, 0, len(raw)),
		byRef:      make(map[string]int, len(raw)),
		capturedAt: time.Now(),
	}

	refs := make([]string, len(raw))
	index := 0
	for i, n := range raw {
		if !n.Interactive {
			continue
		}
		index++
		ref := FormatRef(generation, index)
		refs[i] = ref
		s.byRef[ref] = len(s.nodes)
		s.nodes = append(s.nodes, Node{
			Ref:     ref,
			Index:   index,
			Role:    n.Role,
			Name:    n.Name,
			PrevRef: n.PrevRef,
		})
	}

	s.markers = refs
	s.text = render(raw, refs)
	return s
}

// Generation returns the capture generation.
func (s *Snapshot) Generation() int { return s.generation }

// Page returns the URL and title at capture time.
func (s *Snapshot) Page() PageInfo { return s.page }

// Text returns the serialized aria tree with refs inline.
func (s *Snapshot) Text() string { return s.text }

// CapturedAt returns the capture timestamp.
func (s *Snapshot) CapturedAt() time.Time { return s.capturedAt }

// Len returns the number of addressable nodes.
func (s *Snapshot) Len() int { return len(s.nodes) }

// Nodes returns a copy of the addressable nodes in document order.
func (s *Snapshot) Nodes() []Node {
	out := make([]Node, len(s.nodes))
	copy(out, s.nodes)
	return out
}

// Markers returns one entry per raw node passed to Build: the minted ref, or
// "" for nodes that are not interactive. The driver stamps these on the page.
func (s *Snapshot) Markers() []string {
	out := make([]string, len(s.markers))
	copy(out, s.markers)
	return out
}

// Resolve binds a ref minted by this snapshot to its target.
func (s *Snapshot) Resolve(ref string) (Target, error) {
	generation, _, err := ParseRef(ref)
	if err != nil {
		return Target{}, err
	}
	if generation != s.generation {
		return Target{}, &RefError{Ref: ref, Generation: s.generation, Reason: "belongs to another snapshot generation"}
	}
	idx, ok := s.byRef[ref]
	if !ok {
		return Target{}, &RefError{Ref: ref, Generation: s.generation, Reason: "is not present in the snapshot"}
	}
	n := s.nodes[idx]
	return Target{Ref: n.Ref, Role: n.Role, Name: n.Name, Selector: SelectorFor(n.Ref)}, nil
}

// Successors returns the refs in this snapshot whose element carried prevRef
// in the previous generation.
func (s *Snapshot) Successors(prevRef string) []string {
	var out []string
	for _, n := range s.nodes {
		if n.PrevRef != "" && n.PrevRef == prevRef {
			out = append(out, n.Ref)
		}
	}
	return out
}
