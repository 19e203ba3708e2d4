// Package recipe parses component recipe files and reduces their
// multi-platform YAML form to a single canonical Recipe for the running
// device, per Design Notes §9: "preprocessing step into a single canonical
// recipe; do not preserve the multi-platform form in memory."
package recipe

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/fleetedge/deployd/pkg/configtree"
	"github.com/fleetedge/deployd/pkg/health"
)

// Lifecycle holds the shell commands for each phase a service goes
// through. Any field may be empty, meaning that phase is a no-op.
type Lifecycle struct {
	Install  string `yaml:"install,omitempty"`
	Startup  string `yaml:"startup,omitempty"`
	Run      string `yaml:"run,omitempty"`
	Shutdown string `yaml:"shutdown,omitempty"`
	Recover  string `yaml:"recover,omitempty"`
}

// HealthCheck describes a recipe-declared readiness/liveness probe that
// pkg/lifecycle runs against a service for as long as it stays RUNNING.
// Sustained failure — ConsecutiveFailures reaching Retries — flips the
// service to BROKEN outside of an explicit install/startup phase failure.
// Exactly one of URL, Address, or Command applies, selected by Type.
type HealthCheck struct {
	Type    health.CheckType `yaml:"type"`
	URL     string           `yaml:"url,omitempty"`
	Method  string           `yaml:"method,omitempty"`
	Address string           `yaml:"address,omitempty"`
	Command []string         `yaml:"command,omitempty"`

	// Interval, Timeout, and StartPeriod are duration strings (e.g.
	// "30s"); a blank or unparsable value falls back to
	// health.DefaultConfig()'s corresponding field.
	Interval    string `yaml:"interval,omitempty"`
	Timeout     string `yaml:"timeout,omitempty"`
	Retries     int    `yaml:"retries,omitempty"`
	StartPeriod string `yaml:"startPeriod,omitempty"`
}

func (h HealthCheck) isZero() bool {
	return h.Type == ""
}

// Checker builds the health.Checker this HealthCheck describes.
func (h *HealthCheck) Checker() (health.Checker, error) {
	switch h.Type {
	case health.CheckTypeHTTP:
		if h.URL == "" {
			return nil, fmt.Errorf("recipe: http health check requires url")
		}
		c := health.NewHTTPChecker(h.URL)
		if h.Method != "" {
			c.WithMethod(h.Method)
		}
		return c, nil
	case health.CheckTypeTCP:
		if h.Address == "" {
			return nil, fmt.Errorf("recipe: tcp health check requires address")
		}
		return health.NewTCPChecker(h.Address), nil
	case health.CheckTypeExec:
		if len(h.Command) == 0 {
			return nil, fmt.Errorf("recipe: exec health check requires command")
		}
		return health.NewExecChecker(h.Command), nil
	default:
		return nil, fmt.Errorf("recipe: unknown health check type %q", h.Type)
	}
}

// Config returns the health.Config this HealthCheck specifies, falling
// back field-by-field to health.DefaultConfig() for anything blank or
// unparsable.
func (h *HealthCheck) Config() health.Config {
	cfg := health.DefaultConfig()
	if h == nil {
		return cfg
	}
	cfg.Interval = parseDurationOrDefault(h.Interval, cfg.Interval)
	cfg.Timeout = parseDurationOrDefault(h.Timeout, cfg.Timeout)
	cfg.StartPeriod = parseDurationOrDefault(h.StartPeriod, cfg.StartPeriod)
	if h.Retries > 0 {
		cfg.Retries = h.Retries
	}
	return cfg
}

func parseDurationOrDefault(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}

// ArtifactKind distinguishes how an artifact is launched.
type ArtifactKind string

const (
	ArtifactKindSubprocess ArtifactKind = "subprocess"
	ArtifactKindContainer  ArtifactKind = "container"
)

// Artifact describes one piece of software the recipe installs.
type Artifact struct {
	URI        string       `yaml:"uri"`
	Digest     string       `yaml:"digest,omitempty"`
	Kind       ArtifactKind `yaml:"kind,omitempty"`
	Image      string       `yaml:"image,omitempty"`
	Unarchive  string       `yaml:"unarchive,omitempty"`
}

// PlatformSelector matches a manifest entry against the running device.
type PlatformSelector struct {
	OS   string `yaml:"os,omitempty"`
	Arch string `yaml:"architecture,omitempty"`
}

// Matches reports whether the selector applies to the given os/arch pair.
// An empty field matches anything, and "all"/"*" is an explicit wildcard.
func (p PlatformSelector) Matches(goos, goarch string) bool {
	return matchField(p.OS, goos) && matchField(p.Arch, goarch)
}

func matchField(selector, actual string) bool {
	return selector == "" || selector == "all" || selector == "*" || selector == actual
}

// manifestEntry is one platform-scoped section of the raw multi-platform
// recipe document.
type manifestEntry struct {
	Platform     PlatformSelector       `yaml:"platform,omitempty"`
	Lifecycle    Lifecycle              `yaml:"lifecycle,omitempty"`
	Artifacts    []Artifact             `yaml:"artifacts,omitempty"`
	RequiresPrivilege bool              `yaml:"requiresPrivilege,omitempty"`
	HealthCheck  HealthCheck            `yaml:"healthCheck,omitempty"`
}

// rawRecipe is the on-disk shape before platform selection collapses it.
type rawRecipe struct {
	ComponentName        string                 `yaml:"componentName"`
	ComponentVersion      string                 `yaml:"componentVersion"`
	ComponentDescription string                 `yaml:"componentDescription,omitempty"`
	ComponentPublisher   string                 `yaml:"componentPublisher,omitempty"`
	ComponentDependencies map[string]Dependency `yaml:"componentDependencies,omitempty"`
	ComponentConfiguration *RawConfiguration     `yaml:"componentConfiguration,omitempty"`
	Manifests            []manifestEntry        `yaml:"manifests"`
}

// RawConfiguration carries the recipe's declared default configuration
// tree, still as a raw YAML node until decoded into a configtree.Value.
type RawConfiguration struct {
	DefaultConfiguration yaml.Node `yaml:"defaultConfiguration,omitempty"`
}

// DependencyType distinguishes a hard runtime dependency from a soft one.
type DependencyType string

const (
	DependencyHard DependencyType = "HARD"
	DependencySoft DependencyType = "SOFT"
)

// Dependency is one entry of a recipe's declared dependency list.
type Dependency struct {
	VersionRequirement string         `yaml:"versionRequirement"`
	DependencyType     DependencyType `yaml:"dependencyType,omitempty"`
}

// Recipe is the canonical, platform-selected form every downstream package
// consumes. Nothing outside this package ever sees the raw multi-platform
// manifest list.
type Recipe struct {
	ComponentName         string
	ComponentVersion      string
	ComponentDescription  string
	ComponentPublisher    string
	Dependencies          map[string]Dependency
	DefaultConfiguration  *configtree.Value
	Lifecycle             Lifecycle
	Artifacts             []Artifact
	RequiresPrivilege     bool
	HealthCheck           *HealthCheck
}

// Load parses recipe YAML bytes and selects the manifest entry matching
// the given platform, returning a single canonical Recipe. goos/goarch are
// accepted explicitly (rather than always reading runtime.GOOS/GOARCH) so
// the resolver can evaluate a recipe against a target other than the
// process's own platform if ever needed; LoadForHost wraps this with the
// process's own platform for the common case.
func Load(data []byte, goos, goarch string) (*Recipe, error) {
	var raw rawRecipe
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("recipe: parse yaml: %w", err)
	}
	if raw.ComponentName == "" || raw.ComponentVersion == "" {
		return nil, fmt.Errorf("recipe: componentName and componentVersion are required")
	}
	selected, err := selectManifest(raw.Manifests, goos, goarch)
	if err != nil {
		return nil, fmt.Errorf("recipe %s-%s: %w", raw.ComponentName, raw.ComponentVersion, err)
	}

	var defaultConfig *configtree.Value
	if raw.ComponentConfiguration != nil && !isZeroNode(raw.ComponentConfiguration.DefaultConfiguration) {
		v, err := nodeToValue(&raw.ComponentConfiguration.DefaultConfiguration)
		if err != nil {
			return nil, fmt.Errorf("recipe %s-%s: defaultConfiguration: %w", raw.ComponentName, raw.ComponentVersion, err)
		}
		defaultConfig = v
	} else {
		defaultConfig = configtree.Object(nil)
	}

	var healthCheck *HealthCheck
	if !selected.HealthCheck.isZero() {
		hc := selected.HealthCheck
		healthCheck = &hc
	}

	return &Recipe{
		ComponentName:        raw.ComponentName,
		ComponentVersion:      raw.ComponentVersion,
		ComponentDescription:  raw.ComponentDescription,
		ComponentPublisher:    raw.ComponentPublisher,
		Dependencies:          raw.ComponentDependencies,
		DefaultConfiguration:  defaultConfig,
		Lifecycle:              selected.Lifecycle,
		Artifacts:              selected.Artifacts,
		RequiresPrivilege:      selected.RequiresPrivilege,
		HealthCheck:            healthCheck,
	}, nil
}

// LoadForHost is Load against the process's own runtime.GOOS/GOARCH.
func LoadForHost(data []byte) (*Recipe, error) {
	return Load(data, runtime.GOOS, runtime.GOARCH)
}

// LoadFile reads and parses a recipe file from disk.
func LoadFile(path string) (*Recipe, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("recipe: read %s: %w", path, err)
	}
	return LoadForHost(data)
}

func selectManifest(manifests []manifestEntry, goos, goarch string) (manifestEntry, error) {
	for _, m := range manifests {
		if m.Platform.Matches(goos, goarch) {
			return m, nil
		}
	}
	return manifestEntry{}, fmt.Errorf("no manifest entry matches platform %s/%s", goos, goarch)
}

func isZeroNode(n yaml.Node) bool {
	return n.Kind == 0
}

// nodeToValue decodes a yaml.Node into the schemaless configtree form by
// decoding it into generic Go values and converting those with
// fromYAMLAny.
func nodeToValue(n *yaml.Node) (*configtree.Value, error) {
	var generic any
	if err := n.Decode(&generic); err != nil {
		return nil, err
	}
	return fromYAMLAny(generic), nil
}

func fromYAMLAny(raw any) *configtree.Value {
	switch t := raw.(type) {
	case nil:
		return configtree.Null()
	case string:
		return configtree.String(t)
	case int:
		return configtree.Number(float64(t))
	case float64:
		return configtree.Number(t)
	case bool:
		return configtree.Bool(t)
	case map[string]any:
		fields := make(map[string]*configtree.Value, len(t))
		for k, v := range t {
			fields[k] = fromYAMLAny(v)
		}
		return configtree.Object(fields)
	case []any:
		elems := make([]*configtree.Value, len(t))
		for i, v := range t {
			elems[i] = fromYAMLAny(v)
		}
		return configtree.Array(elems)
	default:
		return configtree.Null()
	}
}
