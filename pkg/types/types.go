// Package types holds the data model of the deployment engine: the
// request/response shapes exchanged across package boundaries (Deployment,
// DeploymentDocument, Component, ServiceState, Snapshot) and the external
// JSON wire format the engine accepts from a submitting source.
package types

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/fleetedge/deployd/pkg/configtree"
	"github.com/fleetedge/deployd/pkg/deployerr"
)

// Source identifies which channel a Deployment arrived on.
type Source string

const (
	SourceCloudJobs Source = "CLOUD_JOBS"
	SourceShadow    Source = "SHADOW"
	SourceLocal     Source = "LOCAL"
)

// Stage distinguishes ordinary deployments from the bootstrap/rollback
// passes the engine drives internally.
type Stage string

const (
	StageDefault          Stage = "DEFAULT"
	StageBootstrap        Stage = "BOOTSTRAP"
	StageRollbackBootstrap Stage = "ROLLBACK_BOOTSTRAP"
)

// FailureHandlingPolicy selects what happens when a component ends the
// apply phase BROKEN.
type FailureHandlingPolicy string

const (
	FailureHandlingDoNothing FailureHandlingPolicy = "DO_NOTHING"
	FailureHandlingRollback  FailureHandlingPolicy = "ROLLBACK"
)

// ComponentUpdateAction selects whether running components are notified of
// an in-progress update and may request a defer.
type ComponentUpdateAction string

const (
	ComponentUpdateNotify     ComponentUpdateAction = "NOTIFY_COMPONENTS"
	ComponentUpdateSkipNotify ComponentUpdateAction = "SKIP_NOTIFY_COMPONENTS"
)

// Status is the deployment's current lifecycle stage as observed by status
// consumers.
type Status string

const (
	StatusQueued     Status = "QUEUED"
	StatusInProgress Status = "IN_PROGRESS"
	StatusSucceeded  Status = "SUCCEEDED"
	StatusFailed     Status = "FAILED"
	StatusSuperseded Status = "SUPERSEDED"
	StatusCancelled  Status = "CANCELLED"
)

// DetailedStatus names a finer-grained terminal outcome than Status alone
// conveys, mirroring §7's post-apply terminal statuses.
type DetailedStatus string

const (
	DetailedNone                       DetailedStatus = ""
	DetailedFailedNoStateChange        DetailedStatus = "FAILED_NO_STATE_CHANGE"
	DetailedFailedRollbackNotRequested DetailedStatus = "FAILED_ROLLBACK_NOT_REQUESTED"
	DetailedFailedRollbackComplete     DetailedStatus = "ROLLBACK_COMPLETE"
	DetailedFailedRollbackIncomplete   DetailedStatus = "ROLLBACK_INCOMPLETE"
)

// ServiceLifecycleState is a managed service's position in the §4.4 state
// machine.
type ServiceLifecycleState string

const (
	StateNew        ServiceLifecycleState = "NEW"
	StateInstalling ServiceLifecycleState = "INSTALLING"
	StateInstalled  ServiceLifecycleState = "INSTALLED"
	StateStarting   ServiceLifecycleState = "STARTING"
	StateRunning    ServiceLifecycleState = "RUNNING"
	StateStopping   ServiceLifecycleState = "STOPPING"
	StateFinished   ServiceLifecycleState = "FINISHED"
	StateErrored    ServiceLifecycleState = "ERRORED"
	StateBroken     ServiceLifecycleState = "BROKEN"
)

// Terminal reports whether s has no further outgoing transition in normal
// operation.
func (s ServiceLifecycleState) Terminal() bool {
	return s == StateFinished || s == StateBroken
}

// RunWith carries the recipe-level process identity and resource limit
// overrides a deployment document may specify for a component (§6
// "runWith").
type RunWith struct {
	PosixUser            string                `json:"posixUser,omitempty"`
	WindowsUser          string                `json:"windowsUser,omitempty"`
	SystemResourceLimits *SystemResourceLimits `json:"systemResourceLimits,omitempty"`
}

// SystemResourceLimits bounds a service's resource consumption.
type SystemResourceLimits struct {
	MemoryBytes int64   `json:"memory,omitempty"`
	CPUs        float64 `json:"cpus,omitempty"`
}

// ConfigurationUpdate is a component's requested configuration change:
// either a deep-merge overlay, a list of paths to reset to recipe defaults,
// or both. ResetAll distinguishes an explicit empty reset list ("reset the
// whole configuration to recipe defaults", §4.3) from no reset requested
// at all (a JSON Pointer slice loses that distinction on its own, since
// both an absent field and an empty array decode to a zero-length slice).
type ConfigurationUpdate struct {
	Merge    *configtree.Value    `json:"-"`
	Reset    []configtree.Pointer `json:"-"`
	ResetAll bool                 `json:"-"`
}

type configurationUpdateWire struct {
	Merge json.RawMessage `json:"merge,omitempty"`
	Reset []string        `json:"reset"`
}

// UnmarshalJSON decodes the wire form, parsing Merge into a configtree.Value
// and Reset into parsed JSON Pointers.
func (c *ConfigurationUpdate) UnmarshalJSON(data []byte) error {
	var wire configurationUpdateWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	if len(wire.Merge) > 0 && string(wire.Merge) != "null" {
		v, err := configtree.FromJSON(wire.Merge)
		if err != nil {
			return fmt.Errorf("types: configurationUpdate.merge: %w", err)
		}
		c.Merge = v
	}
	if wire.Reset != nil {
		if len(wire.Reset) == 0 {
			c.ResetAll = true
		}
		c.Reset = make([]configtree.Pointer, 0, len(wire.Reset))
		for _, s := range wire.Reset {
			p, err := configtree.ParsePointer(s)
			if err != nil {
				return fmt.Errorf("types: configurationUpdate.reset: %w", err)
			}
			if len(p) == 0 {
				c.ResetAll = true
				continue
			}
			c.Reset = append(c.Reset, p)
		}
	}
	return nil
}

// MarshalJSON renders the configuration update back to its wire shape.
func (c ConfigurationUpdate) MarshalJSON() ([]byte, error) {
	wire := configurationUpdateWire{}
	if c.Merge != nil {
		raw, err := c.Merge.ToJSON()
		if err != nil {
			return nil, err
		}
		wire.Merge = raw
	}
	if c.ResetAll {
		wire.Reset = []string{}
	}
	for _, p := range c.Reset {
		wire.Reset = append(wire.Reset, p.String())
	}
	return json.Marshal(wire)
}

// ComponentRequirement is one entry in DeploymentDocument.Components: a
// version constraint plus optional configuration update and run_with
// override for that component.
type ComponentRequirement struct {
	VersionRequirement  string                `json:"version"`
	ConfigurationUpdate *ConfigurationUpdate  `json:"configurationUpdate,omitempty"`
	RunWith             *RunWith              `json:"runWith,omitempty"`
}

// ConfigurationValidationPolicy bounds the dynamic-validation round trip of
// §4.3.
type ConfigurationValidationPolicy struct {
	TimeoutSeconds int `json:"timeoutInSeconds"`
}

// ComponentUpdatePolicy selects the disruption policy of §4.4.
type ComponentUpdatePolicy struct {
	Action         ComponentUpdateAction `json:"action"`
	TimeoutSeconds int                   `json:"timeoutInSeconds"`
}

// DeploymentDocument is the normalized desired state a Deployment carries.
type DeploymentDocument struct {
	ConfigurationArn              string                          `json:"configurationArn"`
	CreationTimestamp             int64                           `json:"creationTimestamp"`
	Components                    map[string]*ComponentRequirement `json:"components"`
	FailureHandlingPolicy         FailureHandlingPolicy           `json:"failureHandlingPolicy"`
	ComponentUpdatePolicy         ComponentUpdatePolicy            `json:"componentUpdatePolicy"`
	ConfigurationValidationPolicy ConfigurationValidationPolicy    `json:"configurationValidationPolicy"`
	RequiredCapabilities          []string                        `json:"requiredCapabilities,omitempty"`
	OnBehalfOf                    string                           `json:"-"`
}

// ParseConfigurationDocument decodes and validates the external JSON wire
// form of a deployment document (§6), rejecting malformed input with
// deployerr.KindInvalidDocument per §7 rather than panicking.
func ParseConfigurationDocument(data []byte) (*DeploymentDocument, error) {
	var doc DeploymentDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, deployerr.Wrap(deployerr.KindInvalidDocument, err, "malformed configuration document")
	}
	if doc.ConfigurationArn == "" {
		return nil, deployerr.New(deployerr.KindInvalidDocument, "configurationArn is required")
	}
	if len(doc.Components) == 0 {
		return nil, deployerr.New(deployerr.KindInvalidDocument, "components must be non-empty")
	}
	switch doc.FailureHandlingPolicy {
	case FailureHandlingDoNothing, FailureHandlingRollback:
	case "":
		doc.FailureHandlingPolicy = FailureHandlingDoNothing
	default:
		return nil, deployerr.New(deployerr.KindInvalidDocument, "unknown failureHandlingPolicy %q", doc.FailureHandlingPolicy)
	}
	switch doc.ComponentUpdatePolicy.Action {
	case ComponentUpdateNotify, ComponentUpdateSkipNotify:
	case "":
		doc.ComponentUpdatePolicy.Action = ComponentUpdateNotify
	default:
		return nil, deployerr.New(deployerr.KindInvalidDocument, "unknown componentUpdatePolicy.action %q", doc.ComponentUpdatePolicy.Action)
	}
	for name, req := range doc.Components {
		if req.VersionRequirement == "" {
			return nil, deployerr.New(deployerr.KindInvalidDocument, "component %q missing version requirement", name)
		}
	}
	return &doc, nil
}

// Deployment is an immutable request consumed exactly once by the
// coordinator.
type Deployment struct {
	ID        string
	Source    Source
	GroupID   string
	Timestamp time.Time
	Document  *DeploymentDocument
	Stage     Stage
}

// DeploymentStatus is the record published to status consumers. Terminal
// statuses are delivered exactly once per deployment.
type DeploymentStatus struct {
	DeploymentID   string         `json:"deploymentId"`
	Status         Status         `json:"status"`
	DetailedStatus DetailedStatus `json:"detailedStatus,omitempty"`
	FailureCause   string         `json:"failureCause,omitempty"`
}

// Terminal reports whether s represents a final deployment outcome.
func (s DeploymentStatus) Terminal() bool {
	switch s.Status {
	case StatusSucceeded, StatusFailed, StatusSuperseded, StatusCancelled:
		return true
	default:
		return false
	}
}

// Component identifies a named, versioned unit of software by the pair
// (name, version). A component may be present locally without being
// active.
type Component struct {
	Name    string
	Version string
}

// String renders the component identity as "name@version".
func (c Component) String() string {
	return fmt.Sprintf("%s@%s", c.Name, c.Version)
}

// GroupRoot is one entry of a GroupToRoots mapping: a root component a
// group requires, with its version constraint as supplied by that group.
type GroupRoot struct {
	ComponentName      string
	VersionRequirement string
}

// GroupToRoots maps a group_id to the set of root components it
// contributes. The union of values over currently-valid group ids defines
// the effective root set (§3).
type GroupToRoots map[string]map[string]GroupRoot

// Clone returns a deep copy.
func (g GroupToRoots) Clone() GroupToRoots {
	out := make(GroupToRoots, len(g))
	for group, roots := range g {
		cp := make(map[string]GroupRoot, len(roots))
		for name, r := range roots {
			cp[name] = r
		}
		out[group] = cp
	}
	return out
}

// ComponentsToGroups is the inverse index of GroupToRoots: component_name
// to the set of group_ids that require it. An empty set makes the
// component eligible for removal (§3).
type ComponentsToGroups map[string]map[string]struct{}

// Clone returns a deep copy.
func (c ComponentsToGroups) Clone() ComponentsToGroups {
	out := make(ComponentsToGroups, len(c))
	for name, groups := range c {
		cp := make(map[string]struct{}, len(groups))
		for g := range groups {
			cp[g] = struct{}{}
		}
		out[name] = cp
	}
	return out
}

// DeriveComponentsToGroups rebuilds the inverse index from a GroupToRoots
// mapping.
func DeriveComponentsToGroups(g GroupToRoots) ComponentsToGroups {
	out := make(ComponentsToGroups)
	for group, roots := range g {
		for name := range roots {
			if out[name] == nil {
				out[name] = make(map[string]struct{})
			}
			out[name][group] = struct{}{}
		}
	}
	return out
}

// ResolvedComponent is one entry of the resolver's output: a pinned
// version with its fully-interpolated configuration and dependency edges.
type ResolvedComponent struct {
	Name                string
	Version             string
	Configuration       *configtree.Value
	RunWith             *RunWith
	Dependencies        []string
	RequiresPrivilege   bool
}

// ServiceState is the live, mutable record of a managed component (§3).
type ServiceState struct {
	Name         string
	State        ServiceLifecycleState
	Version      string
	RunWith      *RunWith
	Dependencies []string
	UpdatedAt    time.Time
	ErrorCount   int
	LastError    string
}

// Snapshot is the persisted tuple captured before a deployment commits,
// used to drive rollback (§3, §4.5).
type Snapshot struct {
	DeploymentID       string
	ConfigurationTree  *configtree.Value
	GroupToRoots       GroupToRoots
	ComponentsToGroups ComponentsToGroups
	ServiceStates      map[string]ServiceState
	CapturedAt         time.Time
}
