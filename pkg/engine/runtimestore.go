package engine

import (
	"time"

	"github.com/fleetedge/deployd/pkg/configstore"
	"github.com/fleetedge/deployd/pkg/configtree"
	"github.com/fleetedge/deployd/pkg/lifecycle"
	"github.com/fleetedge/deployd/pkg/types"
)

// runtimeStoreWriter implements ipc.RuntimeStoreWriter, bridging the
// connected component's write request to the live tree while consulting
// the executor's current ServiceState to decide whether the write is
// rollback-safe (§4.5 property R2: a value is rollback-safe only if its
// component was in state ERRORED at the moment it was written).
type runtimeStoreWriter struct {
	tree     *configstore.Tree
	executor *lifecycle.Executor
}

func (w *runtimeStoreWriter) SetRuntimeValue(componentName string, path []string, value *configtree.Value) error {
	p := configstore.RuntimeStorePointer(componentName, path...)
	errored := false
	if ss, ok := w.executor.States()[componentName]; ok {
		errored = ss.State == types.StateErrored
	}
	w.tree.WriteRuntimeValue(p, value, time.Now(), errored)
	return nil
}
