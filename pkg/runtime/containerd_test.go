package runtime

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fleetedge/deployd/pkg/types"
)

// specOpts is the only containerd-launcher logic exercisable without a live
// containerd socket; the rest of ContainerLauncher requires a real daemon
// connection and is left to manual/integration verification.
func TestSpecOpts_NoLimitsYieldsOnlyEnvOpt(t *testing.T) {
	opts := specOpts(ServiceSpec{}, []string{"FOO=bar"})
	assert.Len(t, opts, 1)
}

func TestSpecOpts_CPUAndMemoryLimitsAddOpts(t *testing.T) {
	spec := ServiceSpec{
		RunWith: &types.RunWith{
			SystemResourceLimits: &types.SystemResourceLimits{
				CPUs:        1.5,
				MemoryBytes: 256 * 1024 * 1024,
			},
		},
	}
	opts := specOpts(spec, nil)
	// env + cpu shares + cpu cfs + memory limit
	assert.Len(t, opts, 4)
}

func TestSpecOpts_OnlyMemoryLimitSet(t *testing.T) {
	spec := ServiceSpec{
		RunWith: &types.RunWith{
			SystemResourceLimits: &types.SystemResourceLimits{
				MemoryBytes: 128 * 1024 * 1024,
			},
		},
	}
	opts := specOpts(spec, nil)
	assert.Len(t, opts, 2)
}
