// Package gc implements §4.6: walking packages/recipes and
// packages/artifacts, deleting any (name, version) neither active nor
// referenced by a queued deployment. Grounded in the teacher's
// pkg/reconciler ticker-loop shape (constructor takes the owning state,
// Start()/run()/stopCh, per-cycle error logging) repurposed from "detect
// down nodes and unhealthy containers" to "sweep the component store".
package gc

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/fleetedge/deployd/pkg/metrics"
)

// ActiveSetProvider reports which (name, version) pairs must never be
// deleted, as whatever set the implementation returns (pkg/engine's
// returns the executor's tracked service versions plus the versions pinned
// by the most recent resolve). §8's I4 ("no active
// version ever removed") is enforced by consulting this immediately before
// each delete; the provider is responsible for guarding whatever state it
// reads.
type ActiveSetProvider interface {
	ActiveVersions(componentName string) map[string]bool
}

// GC walks the on-disk component store and removes versions that are
// neither active nor queued.
type GC struct {
	root     string
	provider ActiveSetProvider
	logger   zerolog.Logger

	mu     sync.Mutex
	stopCh chan struct{}
	doneCh chan struct{}
}

// New constructs a GC rooted at the engine's persisted-state directory.
func New(root string, provider ActiveSetProvider, logger zerolog.Logger) *GC {
	return &GC{
		root:     root,
		provider: provider,
		logger:   logger.With().Str("component", "gc").Logger(),
	}
}

// recipesDir/artifactsDirs return the on-disk paths §6 lays out.
func (g *GC) recipesDir() string { return filepath.Join(g.root, "packages", "recipes") }
func (g *GC) artifactDirs(name string) []string {
	return []string{
		filepath.Join(g.root, "packages", "artifacts", name),
		filepath.Join(g.root, "packages", "artifacts-unarchived", name),
	}
}

// Sweep performs one GC cycle synchronously: it is the primary trigger,
// invoked after every successful deployment (§4.6).
func (g *GC) Sweep() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.GCSweepDuration)

	entries, err := os.ReadDir(g.recipesDir())
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("gc: listing recipes: %w", err)
	}

	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name, version, ok := parseRecipeFilename(entry.Name())
		if !ok {
			continue
		}
		active := g.provider.ActiveVersions(name)
		if active[version] {
			continue
		}

		recipePath := filepath.Join(g.recipesDir(), entry.Name())
		if err := os.Remove(recipePath); err != nil {
			g.logger.Warn().Err(err).Str("path", recipePath).Msg("failed to remove stale recipe")
			continue
		}
		for _, dir := range g.artifactDirs(name) {
			_ = os.RemoveAll(filepath.Join(dir, version))
		}
		removed++
		metrics.GCReclaimedVersionsTotal.Inc()
		g.logger.Info().Str("component", name).Str("version", version).Msg("garbage collected unreferenced version")
	}

	if removed > 0 {
		g.logger.Info().Int("removed", removed).Msg("gc sweep complete")
	}
	return nil
}

// parseRecipeFilename extracts (name, version) from "<name>-<version>.yaml".
// A component name may itself contain hyphens, so version is taken as the
// final hyphen-delimited segment before the extension.
func parseRecipeFilename(filename string) (name, version string, ok bool) {
	base := strings.TrimSuffix(filename, filepath.Ext(filename))
	idx := strings.LastIndex(base, "-")
	if idx <= 0 || idx == len(base)-1 {
		return "", "", false
	}
	return base[:idx], base[idx+1:], true
}

// Start launches an optional periodic safety sweep in its own goroutine, in
// case a Sweep triggered after a successful deployment was itself
// interrupted by a crash.
func (g *GC) Start(interval time.Duration) {
	g.stopCh = make(chan struct{})
	g.doneCh = make(chan struct{})
	go g.run(interval)
}

// Stop halts the periodic sweep and waits for it to exit.
func (g *GC) Stop() {
	if g.stopCh == nil {
		return
	}
	close(g.stopCh)
	<-g.doneCh
}

func (g *GC) run(interval time.Duration) {
	defer close(g.doneCh)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := g.Sweep(); err != nil {
				g.logger.Error().Err(err).Msg("periodic gc sweep failed")
			}
		case <-g.stopCh:
			return
		}
	}
}
