// Package runtime supplies the two lifecycle-phase launchers the executor
// in pkg/lifecycle drives a recipe's install/startup/run/shutdown/recover
// commands through: a subprocess launcher for recipe.ArtifactKindSubprocess
// artifacts, and a containerd-backed launcher for
// recipe.ArtifactKindContainer artifacts. Both satisfy Launcher so the
// executor never branches on artifact kind itself.
package runtime

import (
	"context"
	"errors"
	"time"

	"github.com/fleetedge/deployd/pkg/recipe"
	"github.com/fleetedge/deployd/pkg/types"
)

// ErrNotRunning is returned by Stop when the service handle's process has
// already exited.
var ErrNotRunning = errors.New("runtime: service is not running")

// ScriptSpec describes a one-shot lifecycle phase invocation (install,
// startup-as-a-script, shutdown, recover).
type ScriptSpec struct {
	ServiceName       string
	Command           string
	WorkDir           string
	Env               []string
	RunWith           *types.RunWith
	RequiresPrivilege bool
	Timeout           time.Duration
}

// ServiceSpec describes the long-running artifact a recipe's "run" phase
// launches: either a subprocess command or a container image, selected by
// Artifact.Kind.
type ServiceSpec struct {
	ServiceName string
	Artifact    recipe.Artifact
	Command     string
	WorkDir     string
	Env         []string
	RunWith     *types.RunWith
	RequiresPrivilege bool
}

// ServiceHandle supervises one launched long-running service instance.
type ServiceHandle interface {
	// Wait blocks until the service exits, returning the exit error (nil
	// on a clean exit). Cancelling ctx does not stop the service; use Stop.
	Wait(ctx context.Context) error

	// Stop requests a graceful shutdown, escalating to a forced kill if
	// the process has not exited within timeout.
	Stop(ctx context.Context, timeout time.Duration) error

	// Running reports whether the service is still alive.
	Running() bool
}

// Launcher runs recipe lifecycle phases for one artifact kind.
type Launcher interface {
	// RunScript executes a one-shot phase to completion, blocking until it
	// exits or spec.Timeout elapses.
	RunScript(ctx context.Context, spec ScriptSpec) error

	// StartService launches the recipe's long-running artifact and returns
	// a handle for supervision. Used for the "run" phase of services that
	// stay RUNNING rather than exiting after startup.
	StartService(ctx context.Context, spec ServiceSpec) (ServiceHandle, error)
}
