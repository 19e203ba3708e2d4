package configstore

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/fleetedge/deployd/pkg/configtree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransactionLog_AppendThenReplayRebuildsTree(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.tlog")
	tlog, err := OpenTransactionLog(path)
	require.NoError(t, err)

	raw, err := configtree.String("debug").ToJSON()
	require.NoError(t, err)
	require.NoError(t, tlog.Append(Command{
		Op:        OpWrite,
		Path:      "/logLevel",
		Value:     raw,
		Timestamp: time.Unix(100, 0),
	}))
	require.NoError(t, tlog.Close())

	tree := NewTree()
	require.NoError(t, ReplayTransactionLog(path, tree))

	s, _ := tree.Get(mustPointer(t, "/logLevel")).AsString()
	assert.Equal(t, "debug", s)
}

func TestTransactionLog_ReplayAppliesRemove(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.tlog")
	tlog, err := OpenTransactionLog(path)
	require.NoError(t, err)

	raw, _ := configtree.String("debug").ToJSON()
	require.NoError(t, tlog.Append(Command{Op: OpWrite, Path: "/logLevel", Value: raw, Timestamp: time.Unix(100, 0)}))
	require.NoError(t, tlog.Append(Command{Op: OpRemove, Path: "/logLevel", Timestamp: time.Unix(200, 0)}))
	require.NoError(t, tlog.Close())

	tree := NewTree()
	require.NoError(t, ReplayTransactionLog(path, tree))

	assert.True(t, tree.Get(mustPointer(t, "/logLevel")).IsNull())
}

func TestReplayTransactionLog_MissingFileIsNoOp(t *testing.T) {
	tree := NewTree()
	err := ReplayTransactionLog(filepath.Join(t.TempDir(), "absent.tlog"), tree)
	assert.NoError(t, err)
}

func TestReplayTransactionLog_CorruptLineErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.tlog")
	tlog, err := OpenTransactionLog(path)
	require.NoError(t, err)
	_, werr := tlog.file.WriteString("not json\n")
	require.NoError(t, werr)
	require.NoError(t, tlog.Close())

	tree := NewTree()
	err = ReplayTransactionLog(path, tree)
	assert.Error(t, err)
}
