package configstore

import (
	"testing"
	"time"

	"github.com/fleetedge/deployd/pkg/configtree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustPointer(t *testing.T, raw string) configtree.Pointer {
	t.Helper()
	p, err := configtree.ParsePointer(raw)
	require.NoError(t, err)
	return p
}

func TestTree_WriteThenGet(t *testing.T) {
	tree := NewTree()
	p := mustPointer(t, "/logLevel")

	ok := tree.Write(p, configtree.String("debug"), time.Unix(100, 0))
	require.True(t, ok)

	got := tree.Get(p)
	s, isStr := got.AsString()
	require.True(t, isStr)
	assert.Equal(t, "debug", s)
}

func TestTree_Write_OlderTimestampRejected(t *testing.T) {
	tree := NewTree()
	p := mustPointer(t, "/logLevel")

	require.True(t, tree.Write(p, configtree.String("debug"), time.Unix(200, 0)))
	ok := tree.Write(p, configtree.String("stale"), time.Unix(100, 0))
	assert.False(t, ok)

	s, _ := tree.Get(p).AsString()
	assert.Equal(t, "debug", s)
}

func TestTree_Write_NewerTimestampWins(t *testing.T) {
	tree := NewTree()
	p := mustPointer(t, "/logLevel")

	require.True(t, tree.Write(p, configtree.String("debug"), time.Unix(100, 0)))
	require.True(t, tree.Write(p, configtree.String("info"), time.Unix(200, 0)))

	s, _ := tree.Get(p).AsString()
	assert.Equal(t, "info", s)
}

func TestTree_Remove_OlderTimestampRejected(t *testing.T) {
	tree := NewTree()
	p := mustPointer(t, "/logLevel")
	require.True(t, tree.Write(p, configtree.String("debug"), time.Unix(200, 0)))

	ok := tree.Remove(p, time.Unix(100, 0))
	assert.False(t, ok)
	assert.False(t, tree.Get(p).IsNull())
}

func TestTree_Remove_AppliesAndClearsPath(t *testing.T) {
	tree := NewTree()
	p := mustPointer(t, "/logLevel")
	require.True(t, tree.Write(p, configtree.String("debug"), time.Unix(100, 0)))

	ok := tree.Remove(p, time.Unix(200, 0))
	require.True(t, ok)
	assert.True(t, tree.Get(p).IsNull())
}

func TestTree_Snapshot_IsIndependentClone(t *testing.T) {
	tree := NewTree()
	p := mustPointer(t, "/a")
	tree.Write(p, configtree.String("x"), time.Unix(1, 0))

	snap := tree.Snapshot()
	tree.Write(p, configtree.String("y"), time.Unix(2, 0))

	s, _ := snap.Get(p).AsString()
	assert.Equal(t, "x", s)
}

func TestTree_Restore_ResetsTimestampsAndAllowsAnyWrite(t *testing.T) {
	tree := NewTree()
	p := mustPointer(t, "/a")
	tree.Write(p, configtree.String("x"), time.Unix(500, 0))

	restored := configtree.Object(map[string]*configtree.Value{"a": configtree.String("restored")})
	tree.Restore(restored, time.Unix(1, 0))

	s, _ := tree.Get(p).AsString()
	assert.Equal(t, "restored", s)

	ok := tree.Write(p, configtree.String("after-restore"), time.Unix(2, 0))
	assert.True(t, ok)
}

func TestTree_Subscribe_DeliversMatchingPrefixUpdates(t *testing.T) {
	tree := NewTree()
	prefix := mustPointer(t, "/services")
	ch, cancel := tree.Subscribe(prefix, 4)
	defer cancel()

	p := mustPointer(t, "/services/camera-agent/logLevel")
	tree.Write(p, configtree.String("debug"), time.Unix(1, 0))

	select {
	case update := <-ch:
		assert.Equal(t, p.String(), update.Path.String())
	case <-time.After(time.Second):
		t.Fatal("expected update not delivered")
	}
}

func TestTree_Subscribe_IgnoresNonMatchingPrefix(t *testing.T) {
	tree := NewTree()
	prefix := mustPointer(t, "/services/uploader")
	ch, cancel := tree.Subscribe(prefix, 4)
	defer cancel()

	p := mustPointer(t, "/services/camera-agent/logLevel")
	tree.Write(p, configtree.String("debug"), time.Unix(1, 0))

	select {
	case update := <-ch:
		t.Fatalf("unexpected update delivered: %+v", update)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestTree_Subscribe_CancelClosesChannel(t *testing.T) {
	tree := NewTree()
	ch, cancel := tree.Subscribe(configtree.Pointer{}, 1)
	cancel()

	_, ok := <-ch
	assert.False(t, ok)
}

func TestTree_WriteRuntimeValue_NotErroredOmittedFromRollbackSafeSnapshot(t *testing.T) {
	tree := NewTree()
	p := RuntimeStorePointer("camera-agent", "lastFrameID")

	require.True(t, tree.WriteRuntimeValue(p, configtree.String("42"), time.Unix(1, 0), false))

	assert.Empty(t, tree.RollbackSafeSnapshot())
	s, _ := tree.Get(p).AsString()
	assert.Equal(t, "42", s)
}

func TestTree_WriteRuntimeValue_ErroredIsCapturedInRollbackSafeSnapshot(t *testing.T) {
	tree := NewTree()
	p := RuntimeStorePointer("camera-agent", "recoveryToken")

	require.True(t, tree.WriteRuntimeValue(p, configtree.String("abc"), time.Unix(1, 0), true))

	safe := tree.RollbackSafeSnapshot()
	require.Len(t, safe, 1)
	assert.Equal(t, p.String(), safe[0].Path.String())
	s, _ := safe[0].Value.AsString()
	assert.Equal(t, "abc", s)
}

func TestTree_RollbackSafeSnapshot_OmitsValuesRemovedSinceTheWrite(t *testing.T) {
	tree := NewTree()
	p := RuntimeStorePointer("camera-agent", "recoveryToken")
	require.True(t, tree.WriteRuntimeValue(p, configtree.String("abc"), time.Unix(1, 0), true))

	require.True(t, tree.Remove(p, time.Unix(2, 0)))

	assert.Empty(t, tree.RollbackSafeSnapshot())
}

func TestTree_Restore_DoesNotClearRollbackSafeRegistry(t *testing.T) {
	tree := NewTree()
	p := RuntimeStorePointer("camera-agent", "recoveryToken")
	require.True(t, tree.WriteRuntimeValue(p, configtree.String("abc"), time.Unix(1, 0), true))

	tree.Restore(configtree.Object(nil), time.Unix(2, 0))

	// The value itself is gone after the wholesale restore (that is the
	// caller's job to re-apply), but the registry marking it rollback-safe
	// survives so the caller can find the path to restore it.
	require.True(t, tree.WriteRuntimeValue(p, configtree.String("abc"), time.Unix(3, 0), false))
	safe := tree.RollbackSafeSnapshot()
	require.Len(t, safe, 1)
}
