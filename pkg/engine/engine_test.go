package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetedge/deployd/pkg/queue"
	"github.com/fleetedge/deployd/pkg/types"
)

const sampleRecipeYAML = `
componentName: camera-agent
componentVersion: 1.0.0
manifests:
  - platform:
      os: all
      architecture: all
    lifecycle:
      install: "exit 0"
    artifacts:
      - kind: subprocess
`

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	root := t.TempDir()
	recipeDir := filepath.Join(root, "packages", "recipes")
	require.NoError(t, os.MkdirAll(recipeDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(recipeDir, "camera-agent-1.0.0.yaml"), []byte(sampleRecipeYAML), 0o644))

	e, err := New(Config{Root: root, Logger: zerolog.Nop()})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = e.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		_ = e.Close()
	})
	return e
}

func sampleDocument() *types.DeploymentDocument {
	return &types.DeploymentDocument{
		ConfigurationArn: "arn:test:camera-agent",
		Components: map[string]*types.ComponentRequirement{
			"camera-agent": {VersionRequirement: "1.0.0"},
		},
		FailureHandlingPolicy: types.FailureHandlingDoNothing,
		ComponentUpdatePolicy: types.ComponentUpdatePolicy{Action: types.ComponentUpdateSkipNotify},
	}
}

func TestNew_BuildsEngineAgainstEmptyRoot(t *testing.T) {
	e := newTestEngine(t)
	assert.NotNil(t, e.Router())
}

func TestSubmit_DeploysOneShotComponentToFinished(t *testing.T) {
	e := newTestEngine(t)

	id, err := e.Submit(sampleDocument(), "group-a")
	require.NoError(t, err)
	require.NotEmpty(t, id)

	require.Eventually(t, func() bool {
		status, ok := e.Status(id)
		return ok && status.Terminal()
	}, 5*time.Second, 10*time.Millisecond)

	status, ok := e.Status(id)
	require.True(t, ok)
	assert.Equal(t, types.StatusSucceeded, status.Status)

	states := e.executor.States()
	require.Contains(t, states, "camera-agent")
	assert.Equal(t, types.StateFinished, states["camera-agent"].State)
}

func TestSubmit_UnknownComponentFails(t *testing.T) {
	e := newTestEngine(t)

	doc := &types.DeploymentDocument{
		ConfigurationArn: "arn:test:missing",
		Components: map[string]*types.ComponentRequirement{
			"does-not-exist": {VersionRequirement: "1.0.0"},
		},
		FailureHandlingPolicy: types.FailureHandlingDoNothing,
	}
	id, err := e.Submit(doc, "group-b")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		status, ok := e.Status(id)
		return ok && status.Terminal()
	}, 5*time.Second, 10*time.Millisecond)

	status, _ := e.Status(id)
	assert.Equal(t, types.StatusFailed, status.Status)
}

func TestStatus_UnknownDeploymentIDReturnsNotOK(t *testing.T) {
	e := newTestEngine(t)
	_, ok := e.Status("does-not-exist")
	assert.False(t, ok)
}

// fakeMembershipOracle answers IsMember from an explicit table; a group
// with no entry simulates the oracle being unreachable.
type fakeMembershipOracle struct {
	mu      sync.Mutex
	members map[string]bool
}

func (f *fakeMembershipOracle) IsMember(ctx context.Context, groupID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	member, ok := f.members[groupID]
	if !ok {
		return false, errors.New("membership oracle: unreachable")
	}
	return member, nil
}

func (f *fakeMembershipOracle) set(groupID string, member bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.members == nil {
		f.members = make(map[string]bool)
	}
	f.members[groupID] = member
}

func (f *fakeMembershipOracle) forget(groupID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.members, groupID)
}

func newTestEngineWithOracle(t *testing.T, oracle MembershipOracle) *Engine {
	t.Helper()
	root := t.TempDir()
	recipeDir := filepath.Join(root, "packages", "recipes")
	require.NoError(t, os.MkdirAll(recipeDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(recipeDir, "camera-agent-1.0.0.yaml"), []byte(sampleRecipeYAML), 0o644))

	e, err := New(Config{Root: root, Logger: zerolog.Nop(), MembershipOracle: oracle})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = e.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		_ = e.Close()
	})
	return e
}

// submitViaSource bypasses Submit's hardcoded LOCAL source so tests can
// exercise cloud-sourced group commits directly on the coordinator.
func submitViaSource(e *Engine, source types.Source, groupID string, doc *types.DeploymentDocument) (string, error) {
	d := types.Deployment{
		ID:        queue.NewDeploymentID(),
		Source:    source,
		GroupID:   groupID,
		Timestamp: time.Now(),
		Document:  doc,
		Stage:     types.StageDefault,
	}
	if err := e.coordinator.Submit(d); err != nil {
		return "", err
	}
	return d.ID, nil
}

func waitTerminal(t *testing.T, e *Engine, id string) types.DeploymentStatus {
	t.Helper()
	require.Eventually(t, func() bool {
		status, ok := e.Status(id)
		return ok && status.Terminal()
	}, 5*time.Second, 10*time.Millisecond)
	status, _ := e.Status(id)
	return status
}

// TestProcess_GroupMembershipPruned_WhenOracleConfirmsDeviceLeftGroup is
// scenario S5: a device in two cloud groups loses membership in one; that
// group's entry must disappear from GroupToRoots on the next deployment.
func TestProcess_GroupMembershipPruned_WhenOracleConfirmsDeviceLeftGroup(t *testing.T) {
	oracle := &fakeMembershipOracle{}
	e := newTestEngineWithOracle(t, oracle)

	id1, err := submitViaSource(e, types.SourceCloudJobs, "g1", sampleDocument())
	require.NoError(t, err)
	require.Equal(t, types.StatusSucceeded, waitTerminal(t, e, id1).Status)

	id2, err := submitViaSource(e, types.SourceCloudJobs, "g2", sampleDocument())
	require.NoError(t, err)
	require.Equal(t, types.StatusSucceeded, waitTerminal(t, e, id2).Status)

	e.mu.RLock()
	_, hasG1 := e.groupToRoots["g1"]
	e.mu.RUnlock()
	require.True(t, hasG1, "sanity: g1 committed before the device left the group")

	oracle.set("g1", false)
	oracle.set("g2", true)

	id3, err := submitViaSource(e, types.SourceCloudJobs, "g2", sampleDocument())
	require.NoError(t, err)
	require.Equal(t, types.StatusSucceeded, waitTerminal(t, e, id3).Status)

	e.mu.RLock()
	_, stillHasG1 := e.groupToRoots["g1"]
	e.mu.RUnlock()
	assert.False(t, stillHasG1, "a group the oracle confirms the device left must disappear from GroupToRoots")
}

// TestProcess_GroupMembershipPreserved_WhenOracleUnreachable is scenario
// S6: the oracle throws for a previously-confirmed cloud group, and a
// later local deployment must not silently prune it.
func TestProcess_GroupMembershipPreserved_WhenOracleUnreachable(t *testing.T) {
	oracle := &fakeMembershipOracle{}
	e := newTestEngineWithOracle(t, oracle)

	id1, err := submitViaSource(e, types.SourceCloudJobs, "g1", sampleDocument())
	require.NoError(t, err)
	require.Equal(t, types.StatusSucceeded, waitTerminal(t, e, id1).Status)

	oracle.forget("g1")

	id2, err := e.Submit(sampleDocument(), "g2")
	require.NoError(t, err)
	require.Equal(t, types.StatusSucceeded, waitTerminal(t, e, id2).Status)

	e.mu.RLock()
	_, stillHasG1 := e.groupToRoots["g1"]
	e.mu.RUnlock()
	assert.True(t, stillHasG1, "a group the oracle cannot confirm must be preserved, not silently pruned")
}
