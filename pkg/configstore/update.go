package configstore

import (
	"github.com/fleetedge/deployd/pkg/configtree"
	"github.com/fleetedge/deployd/pkg/types"
)

// ApplyUpdate computes a component's effective configuration by applying
// its deployment document's ConfigurationUpdate on top of previous — the
// component's current live configuration in the store — per §4.3's
// MERGE/RESET semantics: "Existing sibling keys not present in the update
// are preserved" only holds when MERGE overlays onto what is actually
// live, not a freshly recomputed recipe default. previous is nil on first
// install (the component has never been active), in which case
// recipeDefault is the base instead. RESET always restores from
// recipeDefault regardless of previous, since §4.3 defines RESET in terms
// of "the component's recipe default", not the live value. RESET is
// applied before MERGE: resetting a path the merge then overwrites is the
// natural reading of "merge the provided value" winning last.
func ApplyUpdate(previous, recipeDefault *configtree.Value, update *types.ConfigurationUpdate) *configtree.Value {
	if recipeDefault == nil {
		recipeDefault = configtree.Object(nil)
	}
	base := previous
	if base == nil {
		base = recipeDefault
	}
	result := base.Clone()
	if update == nil {
		return result
	}

	if update.ResetAll {
		result = recipeDefault.Clone()
	}
	for _, p := range update.Reset {
		if def := recipeDefault.Get(p); !def.IsNull() {
			result = result.Set(p, def.Clone())
		} else {
			result = result.Remove(p)
		}
	}

	if update.Merge != nil {
		result = DeepOverlay(result, update.Merge)
	}
	return result
}

// DeepOverlay recursively overlays overlay onto base: object keys merge
// recursively, scalars and lists replace wholesale by value, per §4.3
// "Scalar replace is by value; list replace is by whole-list assignment
// (no element-wise merge); object merge is recursive."
func DeepOverlay(base, overlay *configtree.Value) *configtree.Value {
	if overlay == nil {
		return base
	}
	if base == nil || base.Kind != configtree.KindObject || overlay.Kind != configtree.KindObject {
		return overlay.Clone()
	}
	merged := base.Clone()
	for k, v := range overlay.Object {
		if existing, ok := merged.Object[k]; ok && existing.Kind == configtree.KindObject && v.Kind == configtree.KindObject {
			merged.Object[k] = DeepOverlay(existing, v)
		} else {
			merged.Object[k] = v.Clone()
		}
	}
	return merged
}
