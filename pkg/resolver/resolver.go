// Package resolver implements §4.2: computing a single pinned version per
// required component that satisfies every contributing group's version
// constraint simultaneously, detecting cycles in the resulting dependency
// graph, and interpolating each component's configuration tokens.
package resolver

import (
	"context"
	"fmt"
	"sort"

	"github.com/Masterminds/semver/v3"
	"github.com/rs/zerolog"

	"github.com/fleetedge/deployd/pkg/configstore"
	"github.com/fleetedge/deployd/pkg/configtree"
	"github.com/fleetedge/deployd/pkg/deployerr"
	"github.com/fleetedge/deployd/pkg/recipe"
	"github.com/fleetedge/deployd/pkg/types"
)

// CurrentConfigLookup returns a component's current live configuration in
// the configuration store, or nil if the component has never been active
// (first install). Resolve uses it as the MERGE base instead of always
// recomputing from the recipe default, so a prior deployment's
// customization survives a later deployment that does not itself touch
// that component's configurationUpdate.
type CurrentConfigLookup func(name string) *configtree.Value

// LocalComponentSource answers questions about what this device already
// has on disk: available versions of a component, and the recipe for a
// specific (name, version) pair.
type LocalComponentSource interface {
	AvailableVersions(ctx context.Context, name string) ([]string, error)
	LoadRecipe(ctx context.Context, name, version string) (*recipe.Recipe, error)
}

// ComponentFetcher is the external collaborator spec.md §1 describes:
// "the engine calls a ComponentFetcher that returns present-locally /
// fetch-failed". RemoteVersions may return (nil, nil) when the device is
// offline; the resolver proceeds with only the locally-known candidates in
// that case.
type ComponentFetcher interface {
	RemoteVersions(ctx context.Context, name string) ([]string, error)
	Fetch(ctx context.Context, name, version string) error
}

// SystemContext supplies the device-wide values the interpolation pass
// substitutes for system tokens.
type SystemContext struct {
	RootPath     string
	ArtifactPath func(name, version string) string
}

// Resolver computes the fully pinned, interpolated component set for a
// deployment's effective root set.
type Resolver struct {
	local   LocalComponentSource
	fetcher ComponentFetcher // optional; nil means no remote registry configured
	logger  zerolog.Logger
}

// New constructs a Resolver. fetcher may be nil.
func New(local LocalComponentSource, fetcher ComponentFetcher, logger zerolog.Logger) *Resolver {
	return &Resolver{local: local, fetcher: fetcher, logger: logger.With().Str("component", "resolver").Logger()}
}

// rootRequirement is one contributing group's constraint on a root
// component.
type rootRequirement struct {
	name               string
	versionRequirement string
}

// Resolve computes the ordered, pinned component list for the effective
// root set (the union of GroupToRoots and the current deployment's own
// document.components, per §4.2 "Input"). updates carries each
// component's requested ConfigurationUpdate (merge/reset), applied per
// §4.3's algebra on top of currentConfig(name) — the component's live
// configuration, so a prior MERGE customization survives a deployment
// that doesn't touch that component — falling back to the recipe default
// only on first install (currentConfig returns nil). currentConfig may be
// nil, in which case every component resolves as a first install.
func (r *Resolver) Resolve(ctx context.Context, roots []rootRequirement, updates map[string]*types.ConfigurationUpdate, currentConfig CurrentConfigLookup, sys SystemContext) ([]types.ResolvedComponent, error) {
	reqs := make(map[string][]string) // component name -> version requirement strings
	for _, root := range roots {
		reqs[root.name] = append(reqs[root.name], root.versionRequirement)
	}

	chosen := make(map[string]string)       // component name -> chosen version
	recipes := make(map[string]*recipe.Recipe)
	g := newGraph()

	var resolveOne func(name string) error
	resolveOne = func(name string) error {
		if _, done := chosen[name]; done {
			return nil
		}
		version, rec, err := r.pickVersion(ctx, name, reqs[name])
		if err != nil {
			return err
		}
		chosen[name] = version
		recipes[name] = rec

		deps := make([]string, 0, len(rec.Dependencies))
		for depName, dep := range rec.Dependencies {
			deps = append(deps, depName)
			reqs[depName] = append(reqs[depName], dep.VersionRequirement)
		}
		sort.Strings(deps)
		if cycle := g.addNode(name, deps); cycle != nil {
			return deployerr.New(deployerr.KindCircularDependency, "circular dependency: %v", cycle)
		}
		for _, depName := range deps {
			if err := resolveOne(depName); err != nil {
				return err
			}
		}
		return nil
	}

	rootNames := make([]string, 0, len(reqs))
	for name := range reqs {
		rootNames = append(rootNames, name)
	}
	sort.Strings(rootNames)
	for _, name := range rootNames {
		if err := resolveOne(name); err != nil {
			return nil, err
		}
	}

	order := g.reverseTopological(rootNames)
	out := make([]types.ResolvedComponent, 0, len(order))
	for _, name := range order {
		version := chosen[name]
		rec := recipes[name]
		var previous *configtree.Value
		if currentConfig != nil {
			previous = currentConfig(name)
		}
		cfg := configstore.ApplyUpdate(previous, rec.DefaultConfiguration, updates[name])
		out = append(out, types.ResolvedComponent{
			Name:              name,
			Version:           version,
			Configuration:     cfg,
			Dependencies:      g.nodes[name].dependsOn,
			RequiresPrivilege: rec.RequiresPrivilege,
		})
	}

	byName := make(map[string]*types.ResolvedComponent, len(out))
	for i := range out {
		byName[out[i].Name] = &out[i]
	}
	if err := interpolateAll(byName, sys); err != nil {
		return nil, err
	}

	return out, nil
}

// pickVersion selects the highest version of name satisfying every
// requirement string simultaneously (§4.2 steps 1-3).
func (r *Resolver) pickVersion(ctx context.Context, name string, requirements []string) (string, *recipe.Recipe, error) {
	constraintSet := make([]*semver.Constraints, 0, len(requirements))
	for _, req := range requirements {
		c, err := semver.NewConstraint(req)
		if err != nil {
			return "", nil, deployerr.Wrap(deployerr.KindInvalidDocument, err, "invalid version requirement %q for %s", req, name)
		}
		constraintSet = append(constraintSet, c)
	}

	candidates, err := r.candidateVersions(ctx, name)
	if err != nil {
		return "", nil, deployerr.Wrap(deployerr.KindPackageDownloadFailed, err, "listing candidate versions for %s", name)
	}
	if len(candidates) == 0 {
		return "", nil, deployerr.New(deployerr.KindNoViableVersion, "no versions of %s available locally or remotely", name)
	}

	sort.Sort(sort.Reverse(candidates))
	for _, v := range candidates {
		if satisfiesAll(v, constraintSet) {
			rec, err := r.loadRecipe(ctx, name, v.Original())
			if err != nil {
				continue
			}
			return v.Original(), rec, nil
		}
	}
	return "", nil, deployerr.New(deployerr.KindNoViableVersion, "no version of %s satisfies all %d constraints: %v", name, len(requirements), requirements).
		WithDetail("component", name)
}

func satisfiesAll(v *semver.Version, constraints []*semver.Constraints) bool {
	for _, c := range constraints {
		if !c.Check(v) {
			return false
		}
	}
	return true
}

// candidateVersions gathers locally-present versions and, if a fetcher is
// configured and reachable, remote-registry versions, deduplicated.
func (r *Resolver) candidateVersions(ctx context.Context, name string) (semver.Collection, error) {
	seen := make(map[string]bool)
	var out semver.Collection

	local, err := r.local.AvailableVersions(ctx, name)
	if err != nil {
		return nil, err
	}
	for _, raw := range local {
		if v, err := semver.NewVersion(raw); err == nil && !seen[v.String()] {
			seen[v.String()] = true
			out = append(out, v)
		}
	}

	if r.fetcher != nil {
		remote, err := r.fetcher.RemoteVersions(ctx, name)
		if err != nil {
			r.logger.Warn().Err(err).Str("component", name).Msg("remote registry unreachable, using local candidates only")
		}
		for _, raw := range remote {
			if v, err := semver.NewVersion(raw); err == nil && !seen[v.String()] {
				seen[v.String()] = true
				out = append(out, v)
			}
		}
	}
	return out, nil
}

// loadRecipe returns the recipe for name@version, fetching it first if it
// is not yet present locally and a fetcher is configured.
func (r *Resolver) loadRecipe(ctx context.Context, name, version string) (*recipe.Recipe, error) {
	rec, err := r.local.LoadRecipe(ctx, name, version)
	if err == nil {
		return rec, nil
	}
	if r.fetcher == nil {
		return nil, fmt.Errorf("resolver: %s@%s not present locally and no fetcher configured: %w", name, version, err)
	}
	if fetchErr := r.fetcher.Fetch(ctx, name, version); fetchErr != nil {
		return nil, deployerr.Wrap(deployerr.KindPackageDownloadFailed, fetchErr, "fetching %s@%s", name, version)
	}
	return r.local.LoadRecipe(ctx, name, version)
}

// RootsFromGroups flattens a GroupToRoots mapping plus the current
// deployment document's own component requirements into the
// rootRequirement list Resolve expects, implementing §4.2's "Input:
// GroupToRoots ∪ document.components". It also extracts the per-component
// ConfigurationUpdate the document carries, ready to pass to Resolve.
func RootsFromGroups(groupToRoots types.GroupToRoots, doc *types.DeploymentDocument) ([]rootRequirement, map[string]*types.ConfigurationUpdate) {
	var out []rootRequirement
	for _, roots := range groupToRoots {
		for name, root := range roots {
			out = append(out, rootRequirement{name: name, versionRequirement: root.VersionRequirement})
		}
	}
	updates := make(map[string]*types.ConfigurationUpdate)
	if doc != nil {
		for name, req := range doc.Components {
			out = append(out, rootRequirement{name: name, versionRequirement: req.VersionRequirement})
			if req.ConfigurationUpdate != nil {
				updates[name] = req.ConfigurationUpdate
			}
		}
	}
	return out, updates
}
