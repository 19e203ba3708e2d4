package configstore

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/fleetedge/deployd/pkg/configtree"
	"github.com/fleetedge/deployd/pkg/deployerr"
	"github.com/fleetedge/deployd/pkg/types"
)

// ApplyResult reports what the merger actually committed: Changed names
// the components whose configuration differed from the live store before
// the write.
type ApplyResult struct {
	Changed map[string]bool
}

// Merger drives §4.3 steps 1-4: compute the diff against live state,
// validate with affected running components, then write atomically in
// dependency-topological order — or write nothing at all if any
// validation is rejected or times out.
type Merger struct {
	tree      *Tree
	tlog      *TransactionLog
	validator ValidationClient
	logger    zerolog.Logger
}

// NewMerger constructs a Merger. validator may be NoopValidationClient{}
// when no component ever subscribes to validation.
func NewMerger(tree *Tree, tlog *TransactionLog, validator ValidationClient, logger zerolog.Logger) *Merger {
	if validator == nil {
		validator = NoopValidationClient{}
	}
	return &Merger{tree: tree, tlog: tlog, validator: validator, logger: logger.With().Str("component", "configstore.merger").Logger()}
}

func componentConfigPointer(name string) configtree.Pointer {
	return configtree.Pointer{"components", name, "configuration"}
}

// Apply computes which of resolved's components differ from the live
// store among currently-running components, validates those with
// subscribed components under timeout, and on success writes every
// resolved component's configuration in the given order (expected to be
// dependency-topological — the resolver already emits it that way).
// runningNames identifies which component names are currently RUNNING, so
// only those are offered to the validation protocol (§4.3 step 2: "any
// currently-running component that subscribed").
func (m *Merger) Apply(ctx context.Context, deploymentID string, resolved []types.ResolvedComponent, runningNames map[string]bool, timeout time.Duration) (*ApplyResult, error) {
	changed := make(map[string]bool)
	for _, rc := range resolved {
		current := m.tree.Get(componentConfigPointer(rc.Name))
		if !current.Equal(rc.Configuration) {
			changed[rc.Name] = true
		}
	}

	for _, rc := range resolved {
		if !changed[rc.Name] || !runningNames[rc.Name] {
			continue
		}
		if !m.validator.IsSubscribed(rc.Name) {
			continue
		}
		outcome, err := m.validator.Validate(ctx, rc.Name, deploymentID, rc.Configuration, timeout)
		if err != nil {
			return nil, deployerr.Wrap(deployerr.KindConfigurationRejected, err, "validating configuration with %s", rc.Name)
		}
		if !outcome.Accepted {
			return nil, deployerr.New(deployerr.KindConfigurationRejected, "component %s rejected configuration: %s", rc.Name, outcome.Message).
				WithDetail("component", rc.Name)
		}
	}

	now := time.Now()
	for _, rc := range resolved {
		if err := m.writeComponent(rc, now); err != nil {
			return nil, fmt.Errorf("configstore: committing %s: %w", rc.Name, err)
		}
	}

	return &ApplyResult{Changed: changed}, nil
}

func (m *Merger) writeComponent(rc types.ResolvedComponent, ts time.Time) error {
	base := configtree.Pointer{"components", rc.Name}
	if !m.tree.Write(append(base, "configuration"), rc.Configuration, ts) {
		return nil
	}
	m.tree.Write(append(base, "version"), configtree.String(rc.Version), ts)
	if m.tlog != nil {
		raw, err := rc.Configuration.ToJSON()
		if err != nil {
			return err
		}
		if err := m.tlog.Append(Command{Op: OpWrite, Path: append(base, "configuration").String(), Value: raw, Timestamp: ts}); err != nil {
			return err
		}
	}
	return nil
}

// Tree exposes the underlying Tree for callers that need direct read
// access (the lifecycle executor reading run_with, the IPC validate
// handler reading proposed state).
func (m *Merger) Tree() *Tree { return m.tree }
