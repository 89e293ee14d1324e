// Package workflow holds the report state graph and the pure functions that
// decide whether a transition is legal and what it does to a report.
package workflow

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"lettertrack/internal/domain"
	"lettertrack/internal/engine/auth"
)

// Key names a transition.
type Key string

const (
	SendToCoordinator   Key = "send_to_coordinator"
	AssignToStaff       Key = "assign_to_staff"
	CompleteToTU        Key = "complete_to_tu"
	RequestRevision     Key = "request_revision"
	ReturnToCoordinator Key = "return_to_coordinator"
)

// HolderRule describes what a transition does to the report's current holder.
type HolderRule int

const (
	HolderKeep HolderRule = iota
	HolderClear
	HolderCreator
	// HolderTarget hands the report to an explicit target, falling back to the caller.
	HolderTarget
)

func (h HolderRule) String() string {
	switch h {
	case HolderKeep:
		return "keep"
	case HolderClear:
		return "clear"
	case HolderCreator:
		return "creator"
	case HolderTarget:
		return "target"
	}
	return fmt.Sprintf("HolderRule(%d)", int(h))
}

// Transition is one edge of the graph.
type Transition struct {
	Key         Key
	From        []domain.Status
	Roles       []domain.Role
	To          domain.Status
	Holder      HolderRule
	Complete    bool // progress := 100
	Action      string
	DefaultNote string
}

func (t Transition) allowsFrom(s domain.Status) bool {
	for _, f := range t.From {
		if f == s {
			return true
		}
	}
	return false
}

// ErrInvalidTransition is returned for unknown transition keys.
var ErrInvalidTransition = errors.New("invalid transition type")

// IllegalStateError is returned when the report is not in a state the transition accepts.
type IllegalStateError struct {
	Transition Key
	Current    domain.Status
	Expected   []domain.Status
}

func (e IllegalStateError) Error() string {
	want := make([]string, 0, len(e.Expected))
	for _, s := range e.Expected {
		want = append(want, string(s))
	}
	if e.Transition == "" {
		return fmt.Sprintf("illegal state transition from %s (expected one of %s)", e.Current, strings.Join(want, ", "))
	}
	return fmt.Sprintf("illegal state transition: %s requires status %s, report is %s", e.Transition, strings.Join(want, " or "), e.Current)
}

// InitialStatuses are the statuses a report may be created in.
var InitialStatuses = []domain.Status{
	domain.StatusDraft,
	domain.StatusInProgress,
	domain.StatusRevisionRequired,
	domain.StatusCompleted,
	domain.StatusForwardedToTU,
}

// Graph is a validated, immutable set of transitions.
type Graph struct {
	byKey map[Key]Transition
	order []Key
}

// NewGraph builds a graph and validates it.
func NewGraph(transitions ...Transition) (*Graph, error) {
	g := &Graph{byKey: make(map[Key]Transition, len(transitions))}
	for _, t := range transitions {
		if t.Key == "" {
			return nil, errors.New("transition with empty key")
		}
		if _, dup := g.byKey[t.Key]; dup {
			return nil, fmt.Errorf("duplicate transition %s", t.Key)
		}
		g.byKey[t.Key] = t
		g.order = append(g.order, t.Key)
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return g, nil
}

// Validate checks every edge against the status and role enums, the holder
// invariant, and that no status is a dead end or unreachable.
func (g *Graph) Validate() error {
	if len(g.order) == 0 {
		return errors.New("workflow graph is empty")
	}
	known := map[domain.Status]bool{}
	for _, s := range domain.Statuses {
		known[s] = true
	}
	reachable := map[domain.Status]bool{}
	for _, s := range InitialStatuses {
		reachable[s] = true
	}
	outgoing := map[domain.Status]bool{}
	for _, k := range g.order {
		t := g.byKey[k]
		if len(t.Roles) == 0 {
			return fmt.Errorf("transition %s has no allowed roles", k)
		}
		for _, r := range t.Roles {
			if _, ok := domain.ParseRole(string(r)); !ok {
				return fmt.Errorf("transition %s references unknown role %q", k, r)
			}
		}
		if len(t.From) == 0 {
			return fmt.Errorf("transition %s has no from-states", k)
		}
		if !known[t.To] {
			return fmt.Errorf("transition %s targets unknown status %q", k, t.To)
		}
		for _, f := range t.From {
			if !known[f] {
				return fmt.Errorf("transition %s starts from unknown status %q", k, f)
			}
			outgoing[f] = true
		}
		if t.Action == "" {
			return fmt.Errorf("transition %s has no action label", k)
		}
		switch {
		case !t.To.HoldsReport() && t.Holder != HolderClear:
			return fmt.Errorf("transition %s enters %s and must clear the holder", k, t.To)
		case t.To.HoldsReport() && t.Holder == HolderClear:
			return fmt.Errorf("transition %s enters %s and must not clear the holder", k, t.To)
		case t.To.HoldsReport() && t.Holder == HolderKeep:
			for _, f := range t.From {
				if !f.HoldsReport() {
					return fmt.Errorf("transition %s keeps an empty holder from %s", k, f)
				}
			}
		}
		reachable[t.To] = true
	}
	for _, k := range g.order {
		t := g.byKey[k]
		for _, f := range t.From {
			if !reachable[f] {
				return fmt.Errorf("transition %s starts from unreachable status %s", k, f)
			}
		}
		if !outgoing[t.To] {
			return fmt.Errorf("status %s entered by %s has no way out", t.To, k)
		}
	}
	return nil
}

// Lookup returns the transition for key.
func (g *Graph) Lookup(key Key) (Transition, error) {
	t, ok := g.byKey[key]
	if !ok {
		return Transition{}, fmt.Errorf("%w: %q", ErrInvalidTransition, key)
	}
	return t, nil
}

// Keys returns transition keys in declaration order.
func (g *Graph) Keys() []Key {
	return append([]Key(nil), g.order...)
}

// Available lists the transitions role may apply to a report in status s.
func (g *Graph) Available(s domain.Status, role domain.Role) []Key {
	var out []Key
	for _, k := range g.order {
		t := g.byKey[k]
		if t.allowsFrom(s) && auth.HasRole(role, t.Roles...) {
			out = append(out, k)
		}
	}
	return out
}

// Resolve maps an intended target status to the one transition that reaches
// it from current for role.
func (g *Graph) Resolve(current, intended domain.Status, role domain.Role) (Key, error) {
	var toTarget []Transition
	for _, k := range g.order {
		if t := g.byKey[k]; t.To == intended {
			toTarget = append(toTarget, t)
		}
	}
	if len(toTarget) == 0 {
		return "", fmt.Errorf("%w: no transition leads to %s", ErrInvalidTransition, intended)
	}
	var fromHere []Transition
	var expected []domain.Status
	for _, t := range toTarget {
		if t.allowsFrom(current) {
			fromHere = append(fromHere, t)
		}
		expected = append(expected, t.From...)
	}
	if len(fromHere) == 0 {
		return "", IllegalStateError{Current: current, Expected: uniqueStatuses(expected)}
	}
	var roles []domain.Role
	for _, t := range fromHere {
		if auth.HasRole(role, t.Roles...) {
			return t.Key, nil
		}
		roles = append(roles, t.Roles...)
	}
	return "", auth.ForbiddenError{Action: "move report to " + string(intended), Role: role, Allowed: uniqueRoles(roles)}
}

func uniqueStatuses(in []domain.Status) []domain.Status {
	seen := map[domain.Status]bool{}
	var out []domain.Status
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func uniqueRoles(in []domain.Role) []domain.Role {
	seen := map[domain.Role]bool{}
	var out []domain.Role
	for _, r := range in {
		if !seen[r] {
			seen[r] = true
			out = append(out, r)
		}
	}
	return out
}
