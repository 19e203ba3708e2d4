// Package rollback implements §4.5: capturing a pre-deployment snapshot of
// the device's (configuration tree, GroupToRoots, ComponentsToGroups,
// ServiceState) tuple and, on deployment failure under failure_handling_policy
// ROLLBACK, restoring it. Snapshot persistence is grounded in the teacher's
// WarrenFSM.Snapshot/Restore JSON-encode-to-sink idiom
// (pkg/manager/fsm.go), generalized from "whole cluster state via Raft's
// SnapshotSink" to "this device's state via a plain file under
// deployments/<id>/snapshot.json".
package rollback

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fleetedge/deployd/pkg/configtree"
	"github.com/fleetedge/deployd/pkg/types"
)

// snapshotWire is the on-disk JSON shape of types.Snapshot. configtree.Value
// already implements json.Marshaler/Unmarshaler-compatible ToJSON/FromJSON,
// so the wire struct stores the configuration tree pre-rendered.
type snapshotWire struct {
	DeploymentID       string                        `json:"deploymentId"`
	ConfigurationTree  json.RawMessage               `json:"configurationTree"`
	GroupToRoots       types.GroupToRoots            `json:"groupToRoots"`
	ComponentsToGroups types.ComponentsToGroups       `json:"componentsToGroups"`
	ServiceStates      map[string]types.ServiceState `json:"serviceStates"`
	CapturedAt         time.Time                      `json:"capturedAt"`
}

// Capture builds an in-memory Snapshot. The configuration tree and the
// group-membership maps are deep-copied so later mutation of the live store
// cannot retroactively change a captured snapshot.
func Capture(deploymentID string, tree *configtree.Value, groupToRoots types.GroupToRoots, componentsToGroups types.ComponentsToGroups, serviceStates map[string]types.ServiceState) *types.Snapshot {
	states := make(map[string]types.ServiceState, len(serviceStates))
	for k, v := range serviceStates {
		states[k] = v
	}
	return &types.Snapshot{
		DeploymentID:       deploymentID,
		ConfigurationTree:  tree.Clone(),
		GroupToRoots:       groupToRoots.Clone(),
		ComponentsToGroups: componentsToGroups.Clone(),
		ServiceStates:      states,
		CapturedAt:         time.Now(),
	}
}

// snapshotPath returns deployments/<id>/snapshot.json under root.
func snapshotPath(root, deploymentID string) string {
	return filepath.Join(root, "deployments", deploymentID, "snapshot.json")
}

// Persist writes snap to deployments/<id>/snapshot.json under root,
// creating the directory if needed.
func Persist(root string, snap *types.Snapshot) error {
	path := snapshotPath(root, snap.DeploymentID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("rollback: creating snapshot directory: %w", err)
	}

	treeJSON, err := snap.ConfigurationTree.ToJSON()
	if err != nil {
		return fmt.Errorf("rollback: encoding configuration tree: %w", err)
	}
	wire := snapshotWire{
		DeploymentID:       snap.DeploymentID,
		ConfigurationTree:  treeJSON,
		GroupToRoots:       snap.GroupToRoots,
		ComponentsToGroups: snap.ComponentsToGroups,
		ServiceStates:      snap.ServiceStates,
		CapturedAt:         snap.CapturedAt,
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("rollback: creating snapshot file: %w", err)
	}
	defer f.Close()

	if err := json.NewEncoder(f).Encode(wire); err != nil {
		return fmt.Errorf("rollback: writing snapshot: %w", err)
	}
	return nil
}

// Load reads back the snapshot for deploymentID from disk.
func Load(root, deploymentID string) (*types.Snapshot, error) {
	path := snapshotPath(root, deploymentID)
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("rollback: reading snapshot: %w", err)
	}
	defer f.Close()

	var wire snapshotWire
	if err := json.NewDecoder(f).Decode(&wire); err != nil {
		return nil, fmt.Errorf("rollback: decoding snapshot: %w", err)
	}

	tree, err := configtree.FromJSON(wire.ConfigurationTree)
	if err != nil {
		return nil, fmt.Errorf("rollback: decoding configuration tree: %w", err)
	}

	return &types.Snapshot{
		DeploymentID:       wire.DeploymentID,
		ConfigurationTree:  tree,
		GroupToRoots:       wire.GroupToRoots,
		ComponentsToGroups: wire.ComponentsToGroups,
		ServiceStates:      wire.ServiceStates,
		CapturedAt:         wire.CapturedAt,
	}, nil
}

// Remove deletes a persisted snapshot's directory, used once a deployment
// has committed successfully and its rollback data is no longer needed.
func Remove(root, deploymentID string) error {
	return os.RemoveAll(filepath.Join(root, "deployments", deploymentID))
}
