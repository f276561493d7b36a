// Package graph resolves structural queries over a flow's node/link
// set: where execution enters, and what follows a given step.
package graph

import (
	"fmt"
	"sort"

	"github.com/jpkallio/flowline/pkg/api"
)

// Navigator answers entry-step and successor queries over one flow's
// steps and links. It is built once per invocation from a graph-store
// snapshot and is read-only afterwards.
type Navigator struct {
	steps map[string]*api.Step
	// outgoing maps a source step ID to its unconditional outgoing
	// links, ordered by link ID for determinism.
	outgoing map[string][]*api.Link
	targeted map[string]bool
}

// New builds a Navigator for the given steps and links. Links that
// reference steps outside the set are ignored; the editor can leave
// such edges behind mid-delete and they must not break execution.
func New(steps []*api.Step, links []*api.Link) *Navigator {
	n := &Navigator{
		steps:    make(map[string]*api.Step, len(steps)),
		outgoing: make(map[string][]*api.Link),
		targeted: make(map[string]bool),
	}
	for _, s := range steps {
		n.steps[s.ID] = s
	}
	for _, l := range links {
		if _, ok := n.steps[l.SourceStep]; !ok {
			continue
		}
		if _, ok := n.steps[l.TargetStep]; !ok {
			continue
		}
		n.outgoing[l.SourceStep] = append(n.outgoing[l.SourceStep], l)
		n.targeted[l.TargetStep] = true
	}
	for _, ls := range n.outgoing {
		sort.Slice(ls, func(i, j int) bool { return ls[i].ID < ls[j].ID })
	}
	return n
}

// Step returns the step with the given ID, or nil.
func (n *Navigator) Step(id string) *api.Step {
	return n.steps[id]
}

// EntryStep returns the step execution enters when a session has no
// current step: a step no unconditional link targets. When several
// candidates exist the lexicographically smallest step ID wins; this
// tie-break is a determinism choice, not a correctness requirement.
// A flow with no candidate (every step is targeted, i.e. a pure
// cycle, or no steps at all) is malformed.
func (n *Navigator) EntryStep() (*api.Step, error) {
	var entry *api.Step
	for id, s := range n.steps {
		if n.targeted[id] {
			continue
		}
		if entry == nil || id < entry.ID {
			entry = s
		}
	}
	if entry == nil {
		return nil, fmt.Errorf("%w: no entry step", api.ErrGraphMalformed)
	}
	return entry, nil
}

// Successor returns the step the unconditional link from fromStepID
// points at, or nil when the step has no outgoing link (the flow has
// terminated for this session).
//
// A non-branch step should have at most one unconditional outgoing
// link; the engine does not merge fan-out. If the editor has left
// more than one, the link with the smallest ID is followed so the
// behavior at least stays deterministic.
func (n *Navigator) Successor(fromStepID string) *api.Step {
	ls := n.outgoing[fromStepID]
	if len(ls) == 0 {
		return nil
	}
	return n.steps[ls[0].TargetStep]
}
