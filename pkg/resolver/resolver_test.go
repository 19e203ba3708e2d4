package resolver

import (
	"context"
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetedge/deployd/pkg/configtree"
	"github.com/fleetedge/deployd/pkg/deployerr"
	"github.com/fleetedge/deployd/pkg/recipe"
	"github.com/fleetedge/deployd/pkg/types"
)

type fakeRecipe struct {
	versions []string
	deps     map[string]recipe.Dependency
	defaults *configtree.Value
}

type fakeSource struct {
	recipes map[string]fakeRecipe // component name -> spec
}

func (f *fakeSource) AvailableVersions(ctx context.Context, name string) ([]string, error) {
	r, ok := f.recipes[name]
	if !ok {
		return nil, nil
	}
	return r.versions, nil
}

func (f *fakeSource) LoadRecipe(ctx context.Context, name, version string) (*recipe.Recipe, error) {
	r, ok := f.recipes[name]
	if !ok {
		return nil, fmt.Errorf("no recipe for %s", name)
	}
	defaults := r.defaults
	if defaults == nil {
		defaults = configtree.Object(nil)
	}
	return &recipe.Recipe{
		ComponentName:        name,
		ComponentVersion:     version,
		Dependencies:         r.deps,
		DefaultConfiguration: defaults,
	}, nil
}

func newTestResolver(recipes map[string]fakeRecipe) *Resolver {
	return New(&fakeSource{recipes: recipes}, nil, zerolog.Nop())
}

func TestResolver_Resolve_SingleRootNoDependencies(t *testing.T) {
	r := newTestResolver(map[string]fakeRecipe{
		"camera-agent": {versions: []string{"1.0.0", "1.1.0"}},
	})

	roots := []rootRequirement{{name: "camera-agent", versionRequirement: ">=1.0.0"}}
	out, err := r.Resolve(context.Background(), roots, nil, nil, SystemContext{})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "camera-agent", out[0].Name)
	assert.Equal(t, "1.1.0", out[0].Version)
}

func TestResolver_Resolve_PicksVersionSatisfyingAllConstraints(t *testing.T) {
	r := newTestResolver(map[string]fakeRecipe{
		"camera-agent": {versions: []string{"1.0.0", "1.5.0", "2.0.0"}},
	})

	roots := []rootRequirement{
		{name: "camera-agent", versionRequirement: ">=1.0.0"},
		{name: "camera-agent", versionRequirement: "<2.0.0"},
	}
	out, err := r.Resolve(context.Background(), roots, nil, nil, SystemContext{})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "1.5.0", out[0].Version)
}

func TestResolver_Resolve_NoViableVersionWhenConstraintsConflict(t *testing.T) {
	r := newTestResolver(map[string]fakeRecipe{
		"camera-agent": {versions: []string{"1.0.0", "2.0.0"}},
	})

	roots := []rootRequirement{
		{name: "camera-agent", versionRequirement: ">=2.0.0"},
		{name: "camera-agent", versionRequirement: "<2.0.0"},
	}
	_, err := r.Resolve(context.Background(), roots, nil, nil, SystemContext{})
	require.Error(t, err)
	assert.True(t, deployerr.Is(err, deployerr.KindNoViableVersion))
}

func TestResolver_Resolve_ResolvesNestedDependencies(t *testing.T) {
	r := newTestResolver(map[string]fakeRecipe{
		"camera-agent": {
			versions: []string{"1.0.0"},
			deps:     map[string]recipe.Dependency{"uploader": {VersionRequirement: ">=1.0.0"}},
		},
		"uploader": {versions: []string{"1.0.0", "1.1.0"}},
	})

	roots := []rootRequirement{{name: "camera-agent", versionRequirement: "1.0.0"}}
	out, err := r.Resolve(context.Background(), roots, nil, nil, SystemContext{})
	require.NoError(t, err)
	require.Len(t, out, 2)
	// Reverse-topological: dependency (uploader) before dependent (camera-agent).
	assert.Equal(t, "uploader", out[0].Name)
	assert.Equal(t, "camera-agent", out[1].Name)
}

func TestResolver_Resolve_CircularDependencyDetected(t *testing.T) {
	r := newTestResolver(map[string]fakeRecipe{
		"a": {versions: []string{"1.0.0"}, deps: map[string]recipe.Dependency{"b": {VersionRequirement: "*"}}},
		"b": {versions: []string{"1.0.0"}, deps: map[string]recipe.Dependency{"a": {VersionRequirement: "*"}}},
	})

	roots := []rootRequirement{{name: "a", versionRequirement: "1.0.0"}}
	_, err := r.Resolve(context.Background(), roots, nil, nil, SystemContext{})
	require.Error(t, err)
	assert.True(t, deployerr.Is(err, deployerr.KindCircularDependency))
}

func TestResolver_Resolve_AppliesConfigurationUpdate(t *testing.T) {
	r := newTestResolver(map[string]fakeRecipe{
		"camera-agent": {
			versions: []string{"1.0.0"},
			defaults: configtree.Object(map[string]*configtree.Value{"logLevel": configtree.String("info")}),
		},
	})

	updates := map[string]*types.ConfigurationUpdate{
		"camera-agent": {Merge: configtree.Object(map[string]*configtree.Value{"logLevel": configtree.String("debug")})},
	}
	roots := []rootRequirement{{name: "camera-agent", versionRequirement: "1.0.0"}}
	out, err := r.Resolve(context.Background(), roots, updates, nil, SystemContext{})
	require.NoError(t, err)
	s, _ := out[0].Configuration.Object["logLevel"].AsString()
	assert.Equal(t, "debug", s)
}

// TestResolver_Resolve_SecondDeploymentWithoutUpdatePreservesPriorMerge
// exercises two sequential deployments of the same component: the first
// applies a MERGE customization, the second carries no configurationUpdate
// for it at all. The live value from the first deployment must survive —
// resolving again must not silently wipe it back to the recipe default.
func TestResolver_Resolve_SecondDeploymentWithoutUpdatePreservesPriorMerge(t *testing.T) {
	r := newTestResolver(map[string]fakeRecipe{
		"camera-agent": {
			versions: []string{"1.0.0"},
			defaults: configtree.Object(map[string]*configtree.Value{"logLevel": configtree.String("info")}),
		},
	})
	roots := []rootRequirement{{name: "camera-agent", versionRequirement: "1.0.0"}}

	firstUpdates := map[string]*types.ConfigurationUpdate{
		"camera-agent": {Merge: configtree.Object(map[string]*configtree.Value{"logLevel": configtree.String("debug")})},
	}
	first, err := r.Resolve(context.Background(), roots, firstUpdates, nil, SystemContext{})
	require.NoError(t, err)
	live := map[string]*configtree.Value{"camera-agent": first[0].Configuration}
	lookup := func(name string) *configtree.Value { return live[name] }

	second, err := r.Resolve(context.Background(), roots, nil, lookup, SystemContext{})
	require.NoError(t, err)
	s, _ := second[0].Configuration.Object["logLevel"].AsString()
	assert.Equal(t, "debug", s, "a later deployment with no configurationUpdate for this component must not revert its configuration to the recipe default")
}

func TestRootsFromGroups_UnionsGroupRootsAndDocumentComponents(t *testing.T) {
	groups := types.GroupToRoots{
		"group-a": {"camera-agent": types.GroupRoot{ComponentName: "camera-agent", VersionRequirement: ">=1.0.0"}},
	}
	doc := &types.DeploymentDocument{
		Components: map[string]*types.ComponentRequirement{
			"uploader": {VersionRequirement: "2.0.0", ConfigurationUpdate: &types.ConfigurationUpdate{ResetAll: true}},
		},
	}

	roots, updates := RootsFromGroups(groups, doc)
	names := make([]string, 0, len(roots))
	for _, r := range roots {
		names = append(names, r.name)
	}
	assert.Contains(t, names, "camera-agent")
	assert.Contains(t, names, "uploader")
	require.Contains(t, updates, "uploader")
	assert.True(t, updates["uploader"].ResetAll)
}
