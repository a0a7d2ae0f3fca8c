package tools

import (
	"context"
	"fmt"

	"tabpilot-mcp-server/internal/browser"
	"tabpilot-mcp-server/internal/snapshot"
)

// Repair records a stale ref that was remapped to the current generation.
type Repair struct {
	From string `json:"from"`
	To   string `json:"to"`
}

const staleAdvice = "is stale and could not be matched to a single element in the new snapshot; call browser_snapshot and use a ref from it"

// resolveRefs binds every ref of one call against the tab's snapshot. Refs
// are checked against the current snapshot first. If any of them comes from
// an older generation the tab is recaptured once, and all refs are bound in
// the fresh snapshot: stale refs through the element lineage, current refs
// through their single successor. Targets are returned in the order of refs.
func resolveRefs(ctx context.Context, tab *browser.Tab, refs []string) ([]snapshot.Target, []Repair, error) {
	current, err := tab.Snapshot()
	if err != nil {
		return nil, nil, err
	}

	generations := make([]int, len(refs))
	targets := make([]snapshot.Target, len(refs))
	stale := false
	for i, ref := range refs {
		generation, _, err := snapshot.ParseRef(ref)
		if err != nil {
			return nil, nil, err
		}
		generations[i] = generation
		if generation < current.Generation() {
			stale = true
			continue
		}
		if targets[i], err = current.Resolve(ref); err != nil {
			return nil, nil, err
		}
	}
	if !stale {
		return targets, nil, nil
	}

	fresh, err := tab.Capture(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("recapture for stale ref: %w", err)
	}

	var repairs []Repair
	for i, ref := range refs {
		var (
			to string
			ok bool
		)
		if generations[i] == current.Generation() {
			to, ok = single(fresh.Successors(ref))
		} else {
			to, ok = followLineage(current, fresh, ref, generations[i])
			if ok {
				repairs = append(repairs, Repair{From: ref, To: to})
			}
		}
		if !ok {
			return nil, nil, &snapshot.RefError{Ref: ref, Generation: fresh.Generation(), Reason: staleAdvice}
		}
		if targets[i], err = fresh.Resolve(to); err != nil {
			return nil, nil, err
		}
	}
	return targets, repairs, nil
}

// followLineage maps a ref one generation behind current to its successor in
// fresh: the element that carried it must have exactly one successor with the
// prefix s<stale+1>e, and that successor exactly one successor in fresh.
func followLineage(current, fresh *snapshot.Snapshot, stale string, staleGeneration int) (string, bool) {
	prefix := snapshot.ExpectedPrefix(staleGeneration)
	var bridge []string
	for _, ref := range current.Successors(stale) {
		if snapshot.MatchesPrefix(ref, prefix) {
			bridge = append(bridge, ref)
		}
	}
	b, ok := single(bridge)
	if !ok {
		return "", false
	}
	return single(fresh.Successors(b))
}

func single(refs []string) (string, bool) {
	if len(refs) != 1 {
		return "", false
	}
	return refs[0], true
}
