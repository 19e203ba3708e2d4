package resolver

import (
	"regexp"

	"github.com/fleetedge/deployd/pkg/configtree"
	"github.com/fleetedge/deployd/pkg/types"
)

// tokenPattern matches "{configuration:/path}", "{other:configuration:/path}"
// and the two system tokens. Substitution is a single pass over the tree;
// unresolved tokens remain literal, per §4.2 "Interpolation".
var tokenPattern = regexp.MustCompile(`\{([a-zA-Z0-9_.\-]*):?configuration:([^}]*)\}|\{(artifacts:path|deployd:rootPath)\}`)

// interpolateAll runs the single-pass token substitution over every
// resolved component's configuration tree, per §4.2: own-component tokens
// of the form "{configuration:/path}", cross-component tokens of the form
// "{<otherComponent>:configuration:/path}", and the two system tokens
// (artifact path, device root path).
func interpolateAll(components map[string]*types.ResolvedComponent, sys SystemContext) error {
	for name, rc := range components {
		rc.Configuration = interpolateValue(rc.Configuration, name, components, sys)
	}
	return nil
}

func interpolateValue(v *configtree.Value, selfName string, components map[string]*types.ResolvedComponent, sys SystemContext) *configtree.Value {
	if v == nil {
		return v
	}
	switch v.Kind {
	case configtree.KindString:
		return configtree.String(substituteTokens(v.Str, selfName, components, sys))
	case configtree.KindObject:
		out := make(map[string]*configtree.Value, len(v.Object))
		for k, child := range v.Object {
			out[k] = interpolateValue(child, selfName, components, sys)
		}
		return configtree.Object(out)
	case configtree.KindArray:
		out := make([]*configtree.Value, len(v.Array))
		for i, child := range v.Array {
			out[i] = interpolateValue(child, selfName, components, sys)
		}
		return configtree.Array(out)
	default:
		return v
	}
}

func substituteTokens(s string, selfName string, components map[string]*types.ResolvedComponent, sys SystemContext) string {
	return tokenPattern.ReplaceAllStringFunc(s, func(match string) string {
		groups := tokenPattern.FindStringSubmatch(match)
		if groups[3] != "" {
			switch groups[3] {
			case "artifacts:path":
				if sys.ArtifactPath != nil {
					return sys.ArtifactPath(selfName, components[selfName].Version)
				}
				return match
			case "deployd:rootPath":
				if sys.RootPath != "" {
					return sys.RootPath
				}
				return match
			}
			return match
		}

		target := groups[1]
		pointerStr := groups[2]
		if target == "" {
			target = selfName
		}
		other, ok := components[target]
		if !ok {
			return match
		}
		ptr, err := configtree.ParsePointer(pointerStr)
		if err != nil {
			return match
		}
		resolved := other.Configuration.Get(ptr)
		str, ok := resolved.AsString()
		if !ok {
			return match
		}
		return str
	})
}
