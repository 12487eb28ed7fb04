package workflow

import (
	"fmt"
	"reflect"
)

// EdgeCondition gates delivery along an edge: the message is delivered only
// when the predicate returns true. Conditions should be pure functions of
// the message.
type EdgeCondition func(message any) bool

// FanOutSelector picks the subset of a fan-out group's targets that receive
// a message. Returning nil delivers to every target whose edge condition
// passes.
type FanOutSelector func(message any, targetIDs []string) []string

// Edge is a directed delivery rule between two executors.
type Edge struct {
	// SourceID is the sending executor.
	SourceID string

	// TargetID is the receiving executor.
	TargetID string

	// Condition optionally gates delivery. Nil means always deliver.
	Condition EdgeCondition
}

type edgeGroupKind int

const (
	groupSingle edgeGroupKind = iota
	groupFanOut
	groupFanIn
)

// EdgeGroup is the unit of routing: a single edge, a fan-out from one source
// to many targets, or a fan-in from many sources to one target. Fan-in
// groups accumulate one message per source and deliver the collected list
// once every source has contributed.
type EdgeGroup struct {
	id       string
	kind     edgeGroupKind
	edges    []Edge
	selector FanOutSelector
}

func newSingleEdgeGroup(source, target string, condition EdgeCondition) *EdgeGroup {
	return &EdgeGroup{
		id:    fmt.Sprintf("%s->%s", source, target),
		kind:  groupSingle,
		edges: []Edge{{SourceID: source, TargetID: target, Condition: condition}},
	}
}

func newFanOutEdgeGroup(source string, targets []string, selector FanOutSelector) *EdgeGroup {
	edges := make([]Edge, 0, len(targets))
	for _, t := range targets {
		edges = append(edges, Edge{SourceID: source, TargetID: t})
	}
	return &EdgeGroup{
		id:       fmt.Sprintf("%s->fan-out(%d)", source, len(targets)),
		kind:     groupFanOut,
		edges:    edges,
		selector: selector,
	}
}

func newFanInEdgeGroup(sources []string, target string) *EdgeGroup {
	edges := make([]Edge, 0, len(sources))
	for _, s := range sources {
		edges = append(edges, Edge{SourceID: s, TargetID: target})
	}
	return &EdgeGroup{
		id:    fmt.Sprintf("fan-in(%d)->%s", len(sources), target),
		kind:  groupFanIn,
		edges: edges,
	}
}

// Sources returns the distinct source executor ids in the group.
func (g *EdgeGroup) Sources() []string {
	seen := make(map[string]bool)
	var out []string
	for _, e := range g.edges {
		if !seen[e.SourceID] {
			seen[e.SourceID] = true
			out = append(out, e.SourceID)
		}
	}
	return out
}

// Targets returns the distinct target executor ids in the group.
func (g *EdgeGroup) Targets() []string {
	seen := make(map[string]bool)
	var out []string
	for _, e := range g.edges {
		if !seen[e.TargetID] {
			seen[e.TargetID] = true
			out = append(out, e.TargetID)
		}
	}
	return out
}

func (g *EdgeGroup) hasSource(id string) bool {
	for _, e := range g.edges {
		if e.SourceID == id {
			return true
		}
	}
	return false
}

// route computes the (target, payload) deliveries this group produces for a
// message from msg.SourceID. Fan-in groups buffer into state and produce a
// delivery only when ready.
func (g *EdgeGroup) route(msg QueuedMessage, state *fanInState) []delivery {
	switch g.kind {
	case groupSingle:
		e := g.edges[0]
		if msg.TargetID != "" && msg.TargetID != e.TargetID {
			return nil
		}
		if e.Condition != nil && !e.Condition(msg.Data) {
			return nil
		}
		return []delivery{{targetID: e.TargetID, data: msg.Data, sourceIDs: []string{msg.SourceID}}}
	case groupFanOut:
		allowed := g.selectedTargets(msg)
		var out []delivery
		for _, e := range g.edges {
			if msg.TargetID != "" && msg.TargetID != e.TargetID {
				continue
			}
			if !allowed[e.TargetID] {
				continue
			}
			if e.Condition != nil && !e.Condition(msg.Data) {
				continue
			}
			out = append(out, delivery{targetID: e.TargetID, data: msg.Data, sourceIDs: []string{msg.SourceID}})
		}
		return out
	case groupFanIn:
		state.add(msg.SourceID, msg.Data)
		if !state.ready(g.Sources()) {
			return nil
		}
		payload, sources := state.collect(g.Sources())
		return []delivery{{targetID: g.edges[0].TargetID, data: payload, sourceIDs: sources}}
	default:
		return nil
	}
}

func (g *EdgeGroup) selectedTargets(msg QueuedMessage) map[string]bool {
	allowed := make(map[string]bool, len(g.edges))
	if g.selector == nil {
		for _, e := range g.edges {
			allowed[e.TargetID] = true
		}
		return allowed
	}
	targets := make([]string, 0, len(g.edges))
	for _, e := range g.edges {
		targets = append(targets, e.TargetID)
	}
	selected := g.selector(msg.Data, targets)
	if selected == nil {
		selected = targets
	}
	for _, t := range selected {
		allowed[t] = true
	}
	return allowed
}

// delivery is one (target, message) tuple produced by routing.
type delivery struct {
	targetID  string
	data      any
	sourceIDs []string
}

// fanInState buffers contributions to a fan-in group across supersteps until
// every source has contributed. When a source emits more than once before
// the group is ready, the last message wins.
type fanInState struct {
	buffered map[string]any
}

func newFanInState() *fanInState {
	return &fanInState{buffered: make(map[string]any)}
}

func (s *fanInState) add(sourceID string, data any) {
	s.buffered[sourceID] = data
}

func (s *fanInState) ready(sources []string) bool {
	for _, src := range sources {
		if _, ok := s.buffered[src]; !ok {
			return false
		}
	}
	return true
}

// collect drains the buffer into a list ordered by the group's declared
// source order.
func (s *fanInState) collect(sources []string) ([]any, []string) {
	payload := make([]any, 0, len(sources))
	contributors := make([]string, 0, len(sources))
	for _, src := range sources {
		payload = append(payload, s.buffered[src])
		contributors = append(contributors, src)
	}
	s.buffered = make(map[string]any)
	return payload, contributors
}

// validateEdgeGroup checks build-time type compatibility: every type the
// source may emit must be accepted by some handler on each target. Fan-in
// targets are checked against the collected-list form.
func validateEdgeGroup(g *EdgeGroup, executors map[string]Executor) error {
	for _, e := range g.edges {
		src, ok := executors[e.SourceID]
		if !ok {
			return &ValidationError{Reason: fmt.Sprintf("edge references unknown source executor %q", e.SourceID)}
		}
		tgt, ok := executors[e.TargetID]
		if !ok {
			return &ValidationError{Reason: fmt.Sprintf("edge references unknown target executor %q", e.TargetID)}
		}
		if g.kind == groupFanIn {
			// The target receives a collected list; per-element static
			// validation is delegated to delivery-time gating.
			if len(tgt.InputTypes()) == 0 {
				return &ValidationError{Reason: fmt.Sprintf("fan-in target %q has no handlers", e.TargetID)}
			}
			continue
		}
		for _, srcType := range src.OutputTypes() {
			if !anyCompatible(srcType, tgt.InputTypes()) {
				return &ValidationError{Reason: fmt.Sprintf(
					"edge %s->%s: no handler on %q accepts messages of type %v",
					e.SourceID, e.TargetID, e.TargetID, srcType)}
			}
		}
	}
	return nil
}

func anyCompatible(src reflect.Type, targets []reflect.Type) bool {
	for _, t := range targets {
		if IsTypeCompatible(src, t) {
			return true
		}
	}
	return false
}
