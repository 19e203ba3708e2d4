// Package lifecycle drives the §4.4 service state machine: computing an
// update plan from the resolver's target set against current active
// services, then applying it phase by phase via pkg/runtime, honoring the
// update-disruption policy and the per-service retry/BROKEN budget.
package lifecycle

import (
	"github.com/fleetedge/deployd/pkg/configtree"
	"github.com/fleetedge/deployd/pkg/types"
)

// Plan is the result of comparing a resolved target set to the current
// active set, per §4.4 "Update plan".
type Plan struct {
	// ToInstall holds components absent from current, or present with a
	// different version, in the dependency order the resolver emitted
	// (dependencies before dependents).
	ToInstall []types.ResolvedComponent

	// ToRemove holds active components not in target and not required
	// transitively, in reverse dependency order (dependents before their
	// dependencies) so a component is always stopped before what it
	// depends on.
	ToRemove []types.ServiceState

	// ToReconfigure holds components present in both sets, unchanged in
	// name and version, whose configuration or run_with changed.
	ToReconfigure []types.ResolvedComponent
}

// ComputePlan implements §4.4's three set definitions. target must already
// be in dependency-topological order (as pkg/resolver.Resolve emits it);
// ToInstall and ToReconfigure preserve that order, and ToRemove is computed
// as its reverse restricted to removed names.
func ComputePlan(current map[string]types.ServiceState, target []types.ResolvedComponent, currentConfig func(name string) *configtree.Value) Plan {
	targetByName := make(map[string]types.ResolvedComponent, len(target))
	for _, rc := range target {
		targetByName[rc.Name] = rc
	}

	var plan Plan
	for _, rc := range target {
		cur, exists := current[rc.Name]
		switch {
		case !exists || cur.Version != rc.Version:
			plan.ToInstall = append(plan.ToInstall, rc)
		default:
			changed := !runWithEqual(cur.RunWith, rc.RunWith)
			if cfg := currentConfig(rc.Name); cfg != nil && !cfg.Equal(rc.Configuration) {
				changed = true
			}
			if changed {
				plan.ToReconfigure = append(plan.ToReconfigure, rc)
			}
		}
	}

	// to_remove in reverse dependency order: walk current's own
	// dependency-ordered install history (ServiceState.Dependencies,
	// populated at install time) and reverse it, keeping only names absent
	// from target.
	removed := make([]types.ServiceState, 0)
	for name, ss := range current {
		if _, stillWanted := targetByName[name]; !stillWanted {
			removed = append(removed, ss)
		}
	}
	plan.ToRemove = reverseDependencyOrder(removed)

	return plan
}

func runWithEqual(a, b *types.RunWith) bool {
	if a == nil && b == nil {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	if a.PosixUser != b.PosixUser || a.WindowsUser != b.WindowsUser {
		return false
	}
	switch {
	case a.SystemResourceLimits == nil && b.SystemResourceLimits == nil:
		return true
	case a.SystemResourceLimits == nil || b.SystemResourceLimits == nil:
		return false
	default:
		return *a.SystemResourceLimits == *b.SystemResourceLimits
	}
}

// reverseDependencyOrder orders removed services so a service is stopped
// before any service it depends on, using the simple DFS-based topological
// sort pkg/resolver's graph applies at resolve time, restricted to the
// subset being removed (removed services may reference dependencies that
// are staying active; those edges are simply ignored here since only
// relative order among removed services matters for §4.4's "reverse
// dependency order").
func reverseDependencyOrder(removed []types.ServiceState) []types.ServiceState {
	byName := make(map[string]types.ServiceState, len(removed))
	for _, ss := range removed {
		byName[ss.Name] = ss
	}

	var order []string
	visited := make(map[string]bool)
	var visit func(name string)
	visit = func(name string) {
		if visited[name] {
			return
		}
		visited[name] = true
		ss, ok := byName[name]
		if !ok {
			return
		}
		for _, dep := range ss.Dependencies {
			visit(dep)
		}
		order = append(order, name)
	}
	for _, ss := range removed {
		visit(ss.Name)
	}

	// order is dependency-first (leaves first); reverse it so dependents
	// come first, i.e. are stopped before the dependencies they use.
	out := make([]types.ServiceState, 0, len(order))
	for i := len(order) - 1; i >= 0; i-- {
		out = append(out, byName[order[i]])
	}
	return out
}
