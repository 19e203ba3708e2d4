package lifecycle

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fleetedge/deployd/pkg/configtree"
	"github.com/fleetedge/deployd/pkg/types"
)

func noConfig(string) *configtree.Value { return nil }

func TestComputePlan_InstallsNewAndChangedVersions(t *testing.T) {
	current := map[string]types.ServiceState{
		"a": {Name: "a", Version: "1.0.0"},
	}
	target := []types.ResolvedComponent{
		{Name: "a", Version: "2.0.0"},
		{Name: "b", Version: "1.0.0"},
	}

	plan := ComputePlan(current, target, noConfig)

	assert.Len(t, plan.ToInstall, 2)
	assert.Empty(t, plan.ToReconfigure)
	assert.Empty(t, plan.ToRemove)
}

func TestComputePlan_RemovesComponentsNotInTarget(t *testing.T) {
	current := map[string]types.ServiceState{
		"a": {Name: "a", Version: "1.0.0", Dependencies: []string{"b"}},
		"b": {Name: "b", Version: "1.0.0"},
	}
	plan := ComputePlan(current, nil, noConfig)

	assert.Len(t, plan.ToRemove, 2)
	// a depends on b, so a must be stopped first (reverse dependency order).
	assert.Equal(t, "a", plan.ToRemove[0].Name)
	assert.Equal(t, "b", plan.ToRemove[1].Name)
}

func TestComputePlan_ReconfiguresOnRunWithChange(t *testing.T) {
	current := map[string]types.ServiceState{
		"a": {Name: "a", Version: "1.0.0", RunWith: &types.RunWith{PosixUser: "svc"}},
	}
	target := []types.ResolvedComponent{
		{Name: "a", Version: "1.0.0", RunWith: &types.RunWith{PosixUser: "other"}, Configuration: configtree.Object(nil)},
	}

	plan := ComputePlan(current, target, noConfig)

	assert.Empty(t, plan.ToInstall)
	assert.Len(t, plan.ToReconfigure, 1)
	assert.Equal(t, "a", plan.ToReconfigure[0].Name)
}

func TestComputePlan_ReconfiguresOnConfigurationChange(t *testing.T) {
	current := map[string]types.ServiceState{
		"a": {Name: "a", Version: "1.0.0"},
	}
	newConfig := configtree.Object(map[string]*configtree.Value{"k": configtree.String("v")})
	target := []types.ResolvedComponent{
		{Name: "a", Version: "1.0.0", Configuration: newConfig},
	}

	oldConfig := configtree.Object(nil)
	plan := ComputePlan(current, target, func(name string) *configtree.Value { return oldConfig })

	assert.Len(t, plan.ToReconfigure, 1)
}

func TestComputePlan_NoChangeIsNoOp(t *testing.T) {
	cfg := configtree.Object(nil)
	current := map[string]types.ServiceState{
		"a": {Name: "a", Version: "1.0.0"},
	}
	target := []types.ResolvedComponent{
		{Name: "a", Version: "1.0.0", Configuration: cfg},
	}
	plan := ComputePlan(current, target, func(string) *configtree.Value { return cfg })

	assert.Empty(t, plan.ToInstall)
	assert.Empty(t, plan.ToReconfigure)
	assert.Empty(t, plan.ToRemove)
}
