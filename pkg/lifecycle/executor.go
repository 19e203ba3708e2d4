package lifecycle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/fleetedge/deployd/pkg/deployerr"
	"github.com/fleetedge/deployd/pkg/events"
	"github.com/fleetedge/deployd/pkg/health"
	"github.com/fleetedge/deployd/pkg/metrics"
	"github.com/fleetedge/deployd/pkg/recipe"
	"github.com/fleetedge/deployd/pkg/runtime"
	"github.com/fleetedge/deployd/pkg/types"
)

// DefaultPhaseTimeout bounds a single lifecycle script when the recipe does
// not declare its own, per §5 "recipe-provided timeouts with a default
// (e.g., 120 seconds)".
const DefaultPhaseTimeout = 120 * time.Second

// DefaultMaxRetries bounds how many times an ERRORED service is retried
// before the executor gives up and marks it BROKEN.
const DefaultMaxRetries = 3

// Executor drives §4.4's per-service state machine, running recipe phases
// through pkg/runtime and publishing pkg/events.ServiceStateChanged on every
// transition.
type Executor struct {
	launchers map[recipe.ArtifactKind]runtime.Launcher
	broker    *events.Broker
	logger    zerolog.Logger

	maxRetries   int
	phaseTimeout time.Duration

	mu                 sync.Mutex
	states             map[string]types.ServiceState
	handles            map[string]runtime.ServiceHandle
	healthCancels      map[string]context.CancelFunc
	activeDeploymentID string
}

// NewExecutor constructs an Executor. launchers maps each artifact kind to
// the runtime that launches it (pkg/runtime.NewSubprocessLauncher,
// pkg/runtime.NewContainerLauncher). initial seeds the state map from
// persisted state at startup.
func NewExecutor(launchers map[recipe.ArtifactKind]runtime.Launcher, broker *events.Broker, logger zerolog.Logger, initial map[string]types.ServiceState) *Executor {
	if initial == nil {
		initial = make(map[string]types.ServiceState)
	}
	return &Executor{
		launchers:    launchers,
		broker:       broker,
		logger:       logger.With().Str("component", "lifecycle.executor").Logger(),
		maxRetries:   DefaultMaxRetries,
		phaseTimeout: DefaultPhaseTimeout,
		states:       initial,
		handles:      make(map[string]runtime.ServiceHandle),
		healthCancels: make(map[string]context.CancelFunc),
	}
}

// States returns a snapshot of every tracked service's current state.
func (e *Executor) States() map[string]types.ServiceState {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]types.ServiceState, len(e.states))
	for k, v := range e.states {
		out[k] = v
	}
	return out
}

// RunningNames returns the names of services currently in StateRunning.
func (e *Executor) RunningNames() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []string
	for name, ss := range e.states {
		if ss.State == types.StateRunning {
			out = append(out, name)
		}
	}
	return out
}

func (e *Executor) launcherFor(rec *recipe.Recipe) (runtime.Launcher, recipe.Artifact, error) {
	for _, a := range rec.Artifacts {
		if l, ok := e.launchers[a.Kind]; ok {
			return l, a, nil
		}
	}
	if l, ok := e.launchers[recipe.ArtifactKindSubprocess]; ok {
		return l, recipe.Artifact{Kind: recipe.ArtifactKindSubprocess}, nil
	}
	return nil, recipe.Artifact{}, fmt.Errorf("lifecycle: no launcher registered for recipe %s", rec.ComponentName)
}

// Apply runs the update-disruption policy, then executes the plan in three
// passes: stop to_remove (reverse dependency order, already computed into
// plan); install each to_install component and start it as soon as its
// install succeeds (dependency order); then reconfigure to_reconfigure,
// which restarts a service only when its run_with changed. recipes supplies each component's
// canonical Recipe by name. It returns the names of any services that ended
// BROKEN, for the caller to apply failure_handling_policy.
func (e *Executor) Apply(ctx context.Context, deploymentID string, plan Plan, recipes map[string]*recipe.Recipe, updatePolicy types.ComponentUpdatePolicy, notifier UpdateNotifier) ([]string, error) {
	e.mu.Lock()
	e.activeDeploymentID = deploymentID
	e.mu.Unlock()

	if err := runUpdatePolicy(ctx, updatePolicy, deploymentID, e.RunningNames(), notifier, e.logger); err != nil {
		return nil, err
	}

	for _, ss := range plan.ToRemove {
		if err := e.stopAndRemove(ctx, ss, recipes[ss.Name]); err != nil {
			e.logger.Warn().Err(err).Str("service", ss.Name).Msg("stop failed during removal")
		}
	}

	var broken []string
	for _, rc := range plan.ToInstall {
		rec, ok := recipes[rc.Name]
		if !ok {
			return broken, fmt.Errorf("lifecycle: no recipe loaded for %s", rc.Name)
		}
		if ok := e.install(ctx, rc, rec); !ok {
			broken = append(broken, rc.Name)
			continue
		}
		if ok := e.start(ctx, rc, rec); !ok {
			broken = append(broken, rc.Name)
		}
	}

	for _, rc := range plan.ToReconfigure {
		if err := e.reconfigure(ctx, rc, recipes[rc.Name]); err != nil {
			e.logger.Warn().Err(err).Str("service", rc.Name).Msg("reconfigure failed")
			broken = append(broken, rc.Name)
		}
	}

	if len(broken) > 0 {
		return broken, deployerr.New(deployerr.KindServiceUpdateFailed, "components broken: %v", broken)
	}
	return broken, nil
}

func (e *Executor) setState(ss types.ServiceState) {
	e.mu.Lock()
	old, existed := e.states[ss.Name]
	ss.UpdatedAt = time.Now()
	e.states[ss.Name] = ss
	deploymentID := e.activeDeploymentID
	e.mu.Unlock()

	metrics.ServiceStateTransitionsTotal.WithLabelValues(string(ss.State)).Inc()

	if e.broker == nil {
		return
	}
	var oldState types.ServiceLifecycleState
	if existed {
		oldState = old.State
	}
	e.broker.Publish(events.ServiceStateChanged{DeploymentID: deploymentID, Service: ss.Name, Old: oldState, New: ss.State})
}

func (e *Executor) removeState(name string) {
	e.mu.Lock()
	delete(e.states, name)
	delete(e.handles, name)
	cancel, hadMonitor := e.healthCancels[name]
	delete(e.healthCancels, name)
	e.mu.Unlock()
	if hadMonitor {
		cancel()
	}
}

// stopHealthMonitor cancels name's running health-check monitor, if any.
// start calls this before launching a new monitor so a restart (e.g. a
// run_with change during reconfigure) never leaves a stale goroutine
// watching the previous process incarnation.
func (e *Executor) stopHealthMonitor(name string) {
	e.mu.Lock()
	cancel, ok := e.healthCancels[name]
	delete(e.healthCancels, name)
	e.mu.Unlock()
	if ok {
		cancel()
	}
}

// startHealthMonitor spawns the goroutine that polls rec's HealthCheck for
// as long as name stays RUNNING, per §4.4's "service flips to BROKEN
// outside of an explicit phase failure".
func (e *Executor) startHealthMonitor(name string, rec *recipe.Recipe) {
	checker, err := rec.HealthCheck.Checker()
	if err != nil {
		e.logger.Warn().Err(err).Str("service", name).Msg("invalid health check, not monitoring")
		return
	}
	cfg := rec.HealthCheck.Config()

	ctx, cancel := context.WithCancel(context.Background())
	e.mu.Lock()
	e.healthCancels[name] = cancel
	e.mu.Unlock()

	go e.monitorHealth(ctx, name, checker, cfg)
}

// monitorHealth polls checker on cfg.Interval, tracking hysteresis through
// health.Status, until ctx is cancelled (service stopped or restarted) or
// the status crosses cfg.Retries consecutive failures, at which point the
// still-RUNNING service is flipped straight to BROKEN.
func (e *Executor) monitorHealth(ctx context.Context, name string, checker health.Checker, cfg health.Config) {
	status := health.NewStatus()
	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if status.InStartPeriod(cfg) {
			continue
		}

		checkCtx, checkCancel := context.WithTimeout(ctx, cfg.Timeout)
		result := checker.Check(checkCtx)
		checkCancel()
		if ctx.Err() != nil {
			return
		}

		wasHealthy := status.Healthy
		status.Update(result, cfg)
		if !wasHealthy || status.Healthy {
			continue
		}

		e.mu.Lock()
		cur, tracked := e.states[name]
		e.mu.Unlock()
		if !tracked || cur.State != types.StateRunning {
			return
		}
		e.logger.Warn().Str("service", name).Str("reason", result.Message).Msg("health check failed, marking service broken")
		e.setState(types.ServiceState{Name: name, State: types.StateBroken, Version: cur.Version, RunWith: cur.RunWith, Dependencies: cur.Dependencies, ErrorCount: cur.ErrorCount, LastError: result.Message})
		return
	}
}

// install drives NEW -> INSTALLING -> INSTALLED, with an ERRORED/retry
// detour to BROKEN on repeated failure. It returns false if the service
// ended BROKEN.
func (e *Executor) install(ctx context.Context, rc types.ResolvedComponent, rec *recipe.Recipe) bool {
	launcher, _, err := e.launcherFor(rec)
	if err != nil {
		e.logger.Error().Err(err).Str("service", rc.Name).Msg("install aborted")
		e.setState(types.ServiceState{Name: rc.Name, State: types.StateBroken, Version: rc.Version, LastError: err.Error()})
		return false
	}

	e.setState(types.ServiceState{Name: rc.Name, State: types.StateInstalling, Version: rc.Version, RunWith: rc.RunWith, Dependencies: rc.Dependencies})

	errorCount := 0
	for {
		timer := metrics.NewTimer()
		err := launcher.RunScript(ctx, ScriptSpecFor(rc, rec, rec.Lifecycle.Install, e.phaseTimeout))
		timer.ObserveDurationVec(metrics.LifecyclePhaseDuration, "install")
		if err == nil {
			e.setState(types.ServiceState{Name: rc.Name, State: types.StateInstalled, Version: rc.Version, RunWith: rc.RunWith, Dependencies: rc.Dependencies})
			return true
		}
		errorCount++
		e.setState(types.ServiceState{Name: rc.Name, State: types.StateErrored, Version: rc.Version, RunWith: rc.RunWith, Dependencies: rc.Dependencies, ErrorCount: errorCount, LastError: err.Error()})
		if rec.Lifecycle.Recover != "" {
			_ = launcher.RunScript(ctx, ScriptSpecFor(rc, rec, rec.Lifecycle.Recover, e.phaseTimeout))
		}
		if errorCount > e.maxRetries {
			e.setState(types.ServiceState{Name: rc.Name, State: types.StateBroken, Version: rc.Version, RunWith: rc.RunWith, Dependencies: rc.Dependencies, ErrorCount: errorCount, LastError: err.Error()})
			return false
		}
		e.setState(types.ServiceState{Name: rc.Name, State: types.StateInstalling, Version: rc.Version, RunWith: rc.RunWith, Dependencies: rc.Dependencies, ErrorCount: errorCount})
	}
}

// start drives INSTALLED -> STARTING -> RUNNING (long-running artifact) or
// FINISHED (one-shot, no run command and no container artifact).
func (e *Executor) start(ctx context.Context, rc types.ResolvedComponent, rec *recipe.Recipe) bool {
	e.stopHealthMonitor(rc.Name)

	launcher, artifact, err := e.launcherFor(rec)
	if err != nil {
		e.setState(types.ServiceState{Name: rc.Name, State: types.StateBroken, Version: rc.Version, LastError: err.Error()})
		return false
	}

	e.setState(types.ServiceState{Name: rc.Name, State: types.StateStarting, Version: rc.Version, RunWith: rc.RunWith, Dependencies: rc.Dependencies})

	if rec.Lifecycle.Startup != "" {
		timer := metrics.NewTimer()
		err := launcher.RunScript(ctx, ScriptSpecFor(rc, rec, rec.Lifecycle.Startup, e.phaseTimeout))
		timer.ObserveDurationVec(metrics.LifecyclePhaseDuration, "startup")
		if err != nil {
			e.setState(types.ServiceState{Name: rc.Name, State: types.StateErrored, Version: rc.Version, LastError: err.Error()})
			e.setState(types.ServiceState{Name: rc.Name, State: types.StateBroken, Version: rc.Version, LastError: err.Error()})
			return false
		}
	}

	longRunning := rec.Lifecycle.Run != "" || artifact.Kind == recipe.ArtifactKindContainer
	if !longRunning {
		e.setState(types.ServiceState{Name: rc.Name, State: types.StateFinished, Version: rc.Version, RunWith: rc.RunWith, Dependencies: rc.Dependencies})
		return true
	}

	spec := serviceSpecFor(rc, rec, artifact)
	handle, err := launcher.StartService(context.Background(), spec)
	if err != nil {
		e.setState(types.ServiceState{Name: rc.Name, State: types.StateErrored, Version: rc.Version, LastError: err.Error()})
		e.setState(types.ServiceState{Name: rc.Name, State: types.StateBroken, Version: rc.Version, LastError: err.Error()})
		return false
	}

	e.mu.Lock()
	e.handles[rc.Name] = handle
	e.mu.Unlock()
	e.setState(types.ServiceState{Name: rc.Name, State: types.StateRunning, Version: rc.Version, RunWith: rc.RunWith, Dependencies: rc.Dependencies})

	if rec.HealthCheck != nil {
		e.startHealthMonitor(rc.Name, rec)
	}
	return true
}

// stopAndRemove drives RUNNING/FINISHED -> STOPPING -> removal, running the
// recipe's shutdown script and stopping any supervised handle.
func (e *Executor) stopAndRemove(ctx context.Context, ss types.ServiceState, rec *recipe.Recipe) error {
	e.setState(types.ServiceState{Name: ss.Name, State: types.StateStopping, Version: ss.Version, RunWith: ss.RunWith, Dependencies: ss.Dependencies})

	e.mu.Lock()
	handle, hasHandle := e.handles[ss.Name]
	e.mu.Unlock()
	if hasHandle {
		if err := handle.Stop(ctx, e.phaseTimeout); err != nil && err != runtime.ErrNotRunning {
			e.logger.Warn().Err(err).Str("service", ss.Name).Msg("service stop error")
		}
	}

	if rec != nil && rec.Lifecycle.Shutdown != "" {
		if launcher, _, err := e.launcherFor(rec); err == nil {
			rc := types.ResolvedComponent{Name: ss.Name, Version: ss.Version, RunWith: ss.RunWith, Dependencies: ss.Dependencies}
			timer := metrics.NewTimer()
			_ = launcher.RunScript(ctx, ScriptSpecFor(rc, rec, rec.Lifecycle.Shutdown, e.phaseTimeout))
			timer.ObserveDurationVec(metrics.LifecyclePhaseDuration, "shutdown")
		}
	}

	e.removeState(ss.Name)
	return nil
}

// reconfigure applies a configuration or run_with change to an already
// RUNNING (or FINISHED) service. A run_with change to a running long-lived
// service requires restarting its process under the new identity/limits;
// a configuration-only change is already reflected in the live
// configstore.Tree by the Merger and needs no executor action beyond
// updating the tracked state.
func (e *Executor) reconfigure(ctx context.Context, rc types.ResolvedComponent, rec *recipe.Recipe) error {
	if rec == nil {
		return fmt.Errorf("lifecycle: no recipe loaded for %s", rc.Name)
	}
	e.mu.Lock()
	cur, ok := e.states[rc.Name]
	handle, hasHandle := e.handles[rc.Name]
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("lifecycle: %s not tracked, cannot reconfigure", rc.Name)
	}

	if hasHandle && !runWithEqual(cur.RunWith, rc.RunWith) {
		if err := handle.Stop(ctx, e.phaseTimeout); err != nil && err != runtime.ErrNotRunning {
			return fmt.Errorf("stopping %s for reconfigure: %w", rc.Name, err)
		}
		if !e.start(ctx, rc, rec) {
			return fmt.Errorf("lifecycle: %s went BROKEN during reconfigure restart", rc.Name)
		}
		return nil
	}

	e.setState(types.ServiceState{Name: rc.Name, State: cur.State, Version: rc.Version, RunWith: rc.RunWith, Dependencies: rc.Dependencies})
	return nil
}

// ScriptSpecFor builds a runtime.ScriptSpec for one recipe phase command.
func ScriptSpecFor(rc types.ResolvedComponent, rec *recipe.Recipe, command string, defaultTimeout time.Duration) runtime.ScriptSpec {
	return runtime.ScriptSpec{
		ServiceName:       rc.Name,
		Command:           command,
		RunWith:           rc.RunWith,
		RequiresPrivilege: rec.RequiresPrivilege,
		Timeout:           defaultTimeout,
	}
}

func serviceSpecFor(rc types.ResolvedComponent, rec *recipe.Recipe, artifact recipe.Artifact) runtime.ServiceSpec {
	return runtime.ServiceSpec{
		ServiceName:       rc.Name,
		Artifact:          artifact,
		Command:           rec.Lifecycle.Run,
		RunWith:           rc.RunWith,
		RequiresPrivilege: rec.RequiresPrivilege,
	}
}
