package rollback

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/fleetedge/deployd/pkg/configstore"
	"github.com/fleetedge/deployd/pkg/configtree"
	"github.com/fleetedge/deployd/pkg/deployerr"
	"github.com/fleetedge/deployd/pkg/lifecycle"
	"github.com/fleetedge/deployd/pkg/recipe"
	"github.com/fleetedge/deployd/pkg/types"
)

// RecipeLoader resolves a (name, version) pair back to its canonical
// Recipe, used to re-derive lifecycle phase commands for the snapshotted
// versions during rollback.
type RecipeLoader interface {
	LoadRecipe(name, version string) (*recipe.Recipe, error)
}

// Manager drives §4.5: on ROLLBACK, it restores the snapshotted
// configuration tree, then re-invokes the lifecycle executor to bring every
// service back to its pre-deployment ServiceState. It does not write back
// the snapshot's group-membership maps.
type Manager struct {
	root     string
	tree     *configstore.Tree
	executor *lifecycle.Executor
	loader   RecipeLoader
	logger   zerolog.Logger
}

// NewManager constructs a Manager.
func NewManager(root string, tree *configstore.Tree, executor *lifecycle.Executor, loader RecipeLoader, logger zerolog.Logger) *Manager {
	return &Manager{root: root, tree: tree, executor: executor, loader: loader, logger: logger.With().Str("component", "rollback.manager").Logger()}
}

func componentConfigPointer(name string) configtree.Pointer {
	return configtree.Pointer{"components", name, "configuration"}
}

// Run restores deploymentID's snapshot and drives the lifecycle executor
// back to its recorded ServiceState set. It returns
// DetailedFailedRollbackComplete on success or
// DetailedFailedRollbackIncomplete if any part of the restoration failed.
// The incomplete outcome is only reported: nothing in Manager or pkg/engine
// stops the engine from accepting later deployments after it. Before the
// wholesale restore it pulls the live tree's
// rollback-safe runtime_store values (property R2) and re-applies them on
// top of the restored snapshot, so a value a component wrote while
// ERRORED survives rollback even though the rest of its configuration
// reverts.
func (m *Manager) Run(ctx context.Context, deploymentID string) (types.DetailedStatus, error) {
	snap, err := Load(m.root, deploymentID)
	if err != nil {
		return types.DetailedFailedRollbackIncomplete, deployerr.Wrap(deployerr.KindRollbackIncomplete, err, "loading snapshot for %s", deploymentID)
	}

	runtimeSafe := m.tree.RollbackSafeSnapshot()

	m.tree.Restore(snap.ConfigurationTree, snap.CapturedAt)

	now := time.Now()
	for _, rv := range runtimeSafe {
		m.tree.WriteRuntimeValue(rv.Path, rv.Value, now, true)
	}

	target := make([]types.ResolvedComponent, 0, len(snap.ServiceStates))
	recipes := make(map[string]*recipe.Recipe, len(snap.ServiceStates))
	for name, ss := range snap.ServiceStates {
		rec, err := m.loader.LoadRecipe(name, ss.Version)
		if err != nil {
			return types.DetailedFailedRollbackIncomplete, deployerr.Wrap(deployerr.KindRollbackIncomplete, err, "loading recipe for %s@%s during rollback", name, ss.Version)
		}
		recipes[name] = rec
		target = append(target, types.ResolvedComponent{
			Name:              name,
			Version:           ss.Version,
			Configuration:     m.tree.Get(componentConfigPointer(name)),
			RunWith:           ss.RunWith,
			Dependencies:      ss.Dependencies,
			RequiresPrivilege: rec.RequiresPrivilege,
		})
	}

	current := m.executor.States()
	plan := lifecycle.ComputePlan(current, target, func(name string) *configtree.Value {
		return m.tree.Get(componentConfigPointer(name))
	})

	broken, err := m.executor.Apply(ctx, deploymentID, plan, recipes, types.ComponentUpdatePolicy{Action: types.ComponentUpdateSkipNotify}, lifecycle.NoopUpdateNotifier{})
	if err != nil || len(broken) > 0 {
		return types.DetailedFailedRollbackIncomplete, fmt.Errorf("rollback: %d service(s) broken restoring snapshot: %v: %w", len(broken), broken, err)
	}

	m.logger.Info().Str("deployment_id", deploymentID).Msg("rollback complete")
	return types.DetailedFailedRollbackComplete, nil
}
