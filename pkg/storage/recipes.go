package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fleetedge/deployd/pkg/recipe"
)

// ComponentRecipes answers the questions pkg/resolver.LocalComponentSource
// asks of what this device already has on disk, reading directly from
// packages/recipes rather than through the bolt database (recipe YAML is
// the plain-file layout's source of truth; see the package doc in
// store.go).
type ComponentRecipes struct {
	root string
}

// NewComponentRecipes constructs a ComponentRecipes rooted the same as a
// Store.
func NewComponentRecipes(root string) *ComponentRecipes {
	return &ComponentRecipes{root: root}
}

func (c *ComponentRecipes) recipePath(name, version string) string {
	return filepath.Join(c.root, "packages", "recipes", name+"-"+version+".yaml")
}

// AvailableVersions lists every version of name present in the recipe
// directory.
func (c *ComponentRecipes) AvailableVersions(ctx context.Context, name string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(c.root, "packages", "recipes"))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage: listing recipes: %w", err)
	}

	var versions []string
	prefix := name + "-"
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		base := strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name()))
		if !strings.HasPrefix(base, prefix) {
			continue
		}
		versions = append(versions, strings.TrimPrefix(base, prefix))
	}
	return versions, nil
}

// LoadRecipe reads and parses the canonical recipe for (name, version) for
// the running host's platform.
func (c *ComponentRecipes) LoadRecipe(ctx context.Context, name, version string) (*recipe.Recipe, error) {
	rec, err := recipe.LoadFile(c.recipePath(name, version))
	if err != nil {
		return nil, fmt.Errorf("storage: loading recipe %s@%s: %w", name, version, err)
	}
	return rec, nil
}

// RecipeAdapter exposes a context-free LoadRecipe for collaborators (such
// as pkg/rollback.Manager) whose interface predates a context plumbing
// concern: restoring a snapshot runs synchronously within an
// already-context-scoped caller.
type RecipeAdapter struct {
	recipes *ComponentRecipes
}

// NewRecipeAdapter wraps a ComponentRecipes for RecipeLoader-shaped
// collaborators.
func NewRecipeAdapter(recipes *ComponentRecipes) *RecipeAdapter {
	return &RecipeAdapter{recipes: recipes}
}

// LoadRecipe satisfies pkg/rollback.RecipeLoader.
func (a *RecipeAdapter) LoadRecipe(name, version string) (*recipe.Recipe, error) {
	return a.recipes.LoadRecipe(context.Background(), name, version)
}
