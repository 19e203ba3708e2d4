// Package configstore implements §4.3: the live hierarchical configuration
// tree, the MERGE/RESET update algebra, the dynamic-validation protocol
// round trip, and the transaction log that persists every committed write.
package configstore

import (
	"sync"
	"time"

	"github.com/fleetedge/deployd/pkg/configtree"
	"github.com/fleetedge/deployd/pkg/metrics"
)

// Update is delivered to a subtree subscriber on every committed write
// under its registered prefix.
type Update struct {
	Path  configtree.Pointer
	Value *configtree.Value
}

type subscription struct {
	prefix configtree.Pointer
	ch     chan Update
}

// Tree is the process-wide singleton configuration store: a tree whose
// leaves carry a monotonic write timestamp, with newer-timestamp-wins
// resolution per path, and subtree subscriptions delivered into bounded
// channels (Design Notes §9's pub/sub hub, not a single flat listener
// list).
type Tree struct {
	mu         sync.RWMutex
	root       *configtree.Value
	timestamps map[string]time.Time
	// rollbackSafe holds every path written through WriteRuntimeValue
	// while its component was ERRORED, per §4.5/R2. Rollback.Manager reads
	// this set to carve those values out of an otherwise wholesale Restore.
	rollbackSafe map[string]configtree.Pointer

	subMu sync.Mutex
	subs  map[int]*subscription
	nextID int
}

// NewTree returns an empty configuration tree.
func NewTree() *Tree {
	return &Tree{
		root:         configtree.Object(nil),
		timestamps:   make(map[string]time.Time),
		rollbackSafe: make(map[string]configtree.Pointer),
		subs:         make(map[int]*subscription),
	}
}

// RuntimeStorePointer locates a component's runtime_store namespace (§4.5),
// the one part of its configuration subtree a running component may write
// to itself rather than receive from a deployment. sub addresses a path
// beneath that namespace; with no sub it is the namespace root.
func RuntimeStorePointer(component string, sub ...string) configtree.Pointer {
	p := configtree.Pointer{"components", component, "runtime_store"}
	return append(p, sub...)
}

// Get reads the value at p. The returned value is a clone; mutating it
// does not affect the store.
func (t *Tree) Get(p configtree.Pointer) *configtree.Value {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.root.Get(p).Clone()
}

// Snapshot returns a deep clone of the entire tree, used by the rollback
// manager to capture pre-deployment state (§3 "Snapshot").
func (t *Tree) Snapshot() *configtree.Value {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.root.Clone()
}

// Write sets the value at p if ts is not older than the last write
// recorded at that exact path, per §4.3 "a newer timestamp wins for any
// given path". Returns true if the write was applied.
func (t *Tree) Write(p configtree.Pointer, v *configtree.Value, ts time.Time) bool {
	key := p.String()
	t.mu.Lock()
	if last, ok := t.timestamps[key]; ok && ts.Before(last) {
		t.mu.Unlock()
		return false
	}
	t.root = t.root.Set(p, v.Clone())
	t.timestamps[key] = ts
	t.mu.Unlock()

	metrics.ConfigWritesTotal.Inc()
	t.notify(p, v)
	return true
}

// WriteRuntimeValue writes into a component's runtime_store namespace,
// exactly like Write, but additionally marks p as rollback-safe when
// errored is true — i.e. the component was in state ERRORED at the time
// of the write (§4.5: "a value set into the component's runtime_store
// namespace while the service was in state ERRORED is a rollback-safe
// value and must survive rollback", property R2). A value written while
// not ERRORED is stored the same as any other config value and is not
// specially protected from a later Restore.
func (t *Tree) WriteRuntimeValue(p configtree.Pointer, v *configtree.Value, ts time.Time, errored bool) bool {
	if !t.Write(p, v, ts) {
		return false
	}
	if errored {
		t.mu.Lock()
		t.rollbackSafe[p.String()] = append(configtree.Pointer{}, p...)
		t.mu.Unlock()
	}
	return true
}

// RollbackSafeValue pairs a rollback-safe path with its current value.
type RollbackSafeValue struct {
	Path  configtree.Pointer
	Value *configtree.Value
}

// RollbackSafeSnapshot returns the current value at every path marked
// rollback-safe by WriteRuntimeValue that still exists in the live tree.
// Rollback.Manager calls this before Restore so it can re-apply these
// values once the wholesale restore completes.
func (t *Tree) RollbackSafeSnapshot() []RollbackSafeValue {
	t.mu.RLock()
	paths := make([]configtree.Pointer, 0, len(t.rollbackSafe))
	for _, p := range t.rollbackSafe {
		paths = append(paths, p)
	}
	t.mu.RUnlock()

	out := make([]RollbackSafeValue, 0, len(paths))
	for _, p := range paths {
		if v := t.Get(p); v != nil {
			out = append(out, RollbackSafeValue{Path: p, Value: v})
		}
	}
	return out
}

// Remove deletes the subtree at p if ts is not older than the last write
// at that path.
func (t *Tree) Remove(p configtree.Pointer, ts time.Time) bool {
	key := p.String()
	t.mu.Lock()
	if last, ok := t.timestamps[key]; ok && ts.Before(last) {
		t.mu.Unlock()
		return false
	}
	t.root = t.root.Remove(p)
	t.timestamps[key] = ts
	t.mu.Unlock()

	metrics.ConfigWritesTotal.Inc()
	t.notify(p, configtree.Null())
	return true
}

// Restore wholesale-replaces the tree (used by the rollback manager to
// write back a snapshot) and bumps every subscriber, since a restore may
// touch paths throughout the tree. The timestamp map is reset so that any
// subsequent write at ts.Now() is accepted regardless of prior writes.
func (t *Tree) Restore(root *configtree.Value, ts time.Time) {
	t.mu.Lock()
	t.root = root.Clone()
	t.timestamps = map[string]time.Time{"": ts}
	t.mu.Unlock()

	t.notify(configtree.Pointer{}, t.root)
}

// Subscribe registers interest in every write whose path has prefix as a
// leading subsequence, and in every write at an ancestor of prefix (such
// as a Restore of the whole tree, delivered with an empty path). The
// returned channel is buffered to size buffer;
// a slow subscriber drops updates past capacity rather than blocking
// writers (matching the teacher's bounded-channel event hub shape).
func (t *Tree) Subscribe(prefix configtree.Pointer, buffer int) (<-chan Update, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	t.subMu.Lock()
	id := t.nextID
	t.nextID++
	sub := &subscription{prefix: prefix, ch: make(chan Update, buffer)}
	t.subs[id] = sub
	t.subMu.Unlock()

	cancel := func() {
		t.subMu.Lock()
		delete(t.subs, id)
		t.subMu.Unlock()
		close(sub.ch)
	}
	return sub.ch, cancel
}

func (t *Tree) notify(path configtree.Pointer, v *configtree.Value) {
	t.subMu.Lock()
	defer t.subMu.Unlock()
	for _, sub := range t.subs {
		if !hasPrefix(path, sub.prefix) && !hasPrefix(sub.prefix, path) {
			continue
		}
		select {
		case sub.ch <- Update{Path: path, Value: v}:
		default:
			// Drop rather than block the single-writer path.
		}
	}
}

func hasPrefix(path, prefix configtree.Pointer) bool {
	if len(prefix) > len(path) {
		return false
	}
	for i, tok := range prefix {
		if path[i] != tok {
			return false
		}
	}
	return true
}
