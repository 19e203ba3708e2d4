package gc

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	active map[string]map[string]bool
}

func (f fakeProvider) ActiveVersions(name string) map[string]bool {
	return f.active[name]
}

func writeRecipe(t *testing.T, root, name, version string) {
	t.Helper()
	dir := filepath.Join(root, "packages", "recipes")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name+"-"+version+".yaml"), []byte("componentName: "+name), 0o644))
}

func writeArtifact(t *testing.T, root, name, version string) {
	t.Helper()
	dir := filepath.Join(root, "packages", "artifacts", name, version)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bin"), []byte("x"), 0o644))
}

func TestSweep_RemovesInactiveVersionsOnly(t *testing.T) {
	root := t.TempDir()
	writeRecipe(t, root, "agent", "1.0.0")
	writeRecipe(t, root, "agent", "2.0.0")
	writeArtifact(t, root, "agent", "1.0.0")
	writeArtifact(t, root, "agent", "2.0.0")

	provider := fakeProvider{active: map[string]map[string]bool{
		"agent": {"2.0.0": true},
	}}
	g := New(root, provider, zerolog.Nop())

	require.NoError(t, g.Sweep())

	_, err := os.Stat(filepath.Join(root, "packages", "recipes", "agent-1.0.0.yaml"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(root, "packages", "artifacts", "agent", "1.0.0"))
	assert.True(t, os.IsNotExist(err))

	_, err = os.Stat(filepath.Join(root, "packages", "recipes", "agent-2.0.0.yaml"))
	assert.NoError(t, err)
}

func TestSweep_NoRecipesDirIsNoOp(t *testing.T) {
	root := t.TempDir()
	g := New(root, fakeProvider{}, zerolog.Nop())
	assert.NoError(t, g.Sweep())
}

func TestParseRecipeFilename(t *testing.T) {
	name, version, ok := parseRecipeFilename("my-component-1.2.3.yaml")
	require.True(t, ok)
	assert.Equal(t, "my-component", name)
	assert.Equal(t, "1.2.3", version)

	_, _, ok = parseRecipeFilename("noversion.yaml")
	assert.False(t, ok)
}
