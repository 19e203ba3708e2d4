package queue

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetedge/deployd/pkg/types"
)

func blockingProcessor(release chan struct{}) Processor {
	return func(ctx context.Context, d types.Deployment, handle *DeploymentHandle) types.DeploymentStatus {
		<-release
		return types.DeploymentStatus{DeploymentID: d.ID, Status: types.StatusSucceeded}
	}
}

func TestCoordinator_SubmitThenProcessReachesTerminalStatus(t *testing.T) {
	processor := func(ctx context.Context, d types.Deployment, handle *DeploymentHandle) types.DeploymentStatus {
		return types.DeploymentStatus{DeploymentID: d.ID, Status: types.StatusSucceeded}
	}
	c := NewCoordinator(processor, zerolog.Nop())
	c.Start(context.Background())
	defer c.Stop()

	require.NoError(t, c.Submit(types.Deployment{ID: "dep-1", Source: types.SourceLocal, Timestamp: time.Now()}))

	require.Eventually(t, func() bool {
		s, ok := c.Status("dep-1")
		return ok && s.Terminal()
	}, time.Second, 5*time.Millisecond)
}

func TestCoordinator_CloudJobs_DuplicateIDDiscarded(t *testing.T) {
	release := make(chan struct{})
	c := NewCoordinator(blockingProcessor(release), zerolog.Nop())
	c.Start(context.Background())
	defer func() { close(release); c.Stop() }()

	require.NoError(t, c.Submit(types.Deployment{ID: "job-1", Source: types.SourceCloudJobs, GroupID: "g1"}))
	// Allow the first submission to become active so the second lands in pending.
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, c.Submit(types.Deployment{ID: "job-1", Source: types.SourceCloudJobs, GroupID: "g1"}))

	_, ok := c.Status("job-1")
	assert.True(t, ok)
}

func TestCoordinator_Shadow_StaleTimestampDiscarded(t *testing.T) {
	c := NewCoordinator(func(ctx context.Context, d types.Deployment, handle *DeploymentHandle) types.DeploymentStatus {
		return types.DeploymentStatus{DeploymentID: d.ID, Status: types.StatusSucceeded}
	}, zerolog.Nop())

	now := time.Now()
	require.NoError(t, c.Submit(types.Deployment{ID: "shadow-new", Source: types.SourceShadow, GroupID: "g1", Timestamp: now}))
	err := c.Submit(types.Deployment{ID: "shadow-old", Source: types.SourceShadow, GroupID: "g1", Timestamp: now.Add(-time.Hour)})
	require.NoError(t, err)

	_, ok := c.Status("shadow-old")
	assert.False(t, ok)
}

func TestCoordinator_Submit_PreemptsPendingEntryOfSameSource(t *testing.T) {
	release := make(chan struct{})
	c := NewCoordinator(blockingProcessor(release), zerolog.Nop())
	c.Start(context.Background())
	defer func() { close(release); c.Stop() }()

	require.NoError(t, c.Submit(types.Deployment{ID: "local-1", Source: types.SourceLocal}))
	time.Sleep(20 * time.Millisecond) // let local-1 become active
	require.NoError(t, c.Submit(types.Deployment{ID: "local-2", Source: types.SourceLocal}))
	require.NoError(t, c.Submit(types.Deployment{ID: "local-3", Source: types.SourceLocal}))

	require.Eventually(t, func() bool {
		s, ok := c.Status("local-2")
		return ok && s.Status == types.StatusSuperseded
	}, time.Second, 5*time.Millisecond)
}

func TestCoordinator_Subscribe_ReceivesStatusTransitions(t *testing.T) {
	c := NewCoordinator(func(ctx context.Context, d types.Deployment, handle *DeploymentHandle) types.DeploymentStatus {
		return types.DeploymentStatus{DeploymentID: d.ID, Status: types.StatusSucceeded}
	}, zerolog.Nop())
	c.Start(context.Background())
	defer c.Stop()

	ch, cancel := c.Subscribe()
	defer cancel()

	require.NoError(t, c.Submit(types.Deployment{ID: "dep-1", Source: types.SourceLocal}))

	seenTerminal := false
	deadline := time.After(time.Second)
	for !seenTerminal {
		select {
		case s := <-ch:
			if s.DeploymentID == "dep-1" && s.Terminal() {
				seenTerminal = true
			}
		case <-deadline:
			t.Fatal("did not observe terminal status")
		}
	}
}
