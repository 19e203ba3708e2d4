// Package engine is the construction-time container Design Notes §9 calls
// for in place of a global-context lookup bag: it builds every collaborator
// exactly once, wires them together, and supplies pkg/queue.Coordinator with
// the Processor closure that drives one deployment through resolve, merge,
// lifecycle apply, and (on failure) rollback. Adapted from the teacher's
// pkg/manager.Manager constructor shape (NewManager assembling store, fsm,
// secrets, CA, broker, dns one field at a time) with the Raft/CA/DNS/ingress
// pieces replaced by this package's own component set.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/fleetedge/deployd/pkg/configstore"
	"github.com/fleetedge/deployd/pkg/configtree"
	"github.com/fleetedge/deployd/pkg/deployerr"
	"github.com/fleetedge/deployd/pkg/events"
	"github.com/fleetedge/deployd/pkg/gc"
	"github.com/fleetedge/deployd/pkg/ipc"
	"github.com/fleetedge/deployd/pkg/lifecycle"
	"github.com/fleetedge/deployd/pkg/metrics"
	"github.com/fleetedge/deployd/pkg/queue"
	"github.com/fleetedge/deployd/pkg/recipe"
	"github.com/fleetedge/deployd/pkg/resolver"
	"github.com/fleetedge/deployd/pkg/rollback"
	"github.com/fleetedge/deployd/pkg/runtime"
	"github.com/fleetedge/deployd/pkg/storage"
	"github.com/fleetedge/deployd/pkg/types"
)

// DefaultValidationTimeout bounds the dynamic validation round trip when a
// document's configurationValidationPolicy does not specify one.
const DefaultValidationTimeout = 10 * time.Second

// DefaultGCInterval is the periodic safety sweep's cadence (§4.6); the
// primary trigger remains a synchronous sweep after every successful
// deployment.
const DefaultGCInterval = 30 * time.Minute

// Config supplies everything New needs to assemble an Engine. It is the
// one place daemonconfig's parsed flags/env/file values land before being
// handed to the construction-time container.
type Config struct {
	// Root is the persisted-state directory laid out per §6.
	Root string

	Logger zerolog.Logger

	// Fetcher is the optional external collaborator that resolves and
	// downloads component versions not already present locally. A nil
	// Fetcher means the device only ever resolves against what is already
	// on disk (matching scenario S6's "membership oracle throws, offline
	// local override still lands").
	Fetcher resolver.ComponentFetcher

	// ShadowRateLimit bounds SHADOW-source submission rate, guarding
	// against a misbehaving device-shadow sync adapter. Zero disables the
	// limiter.
	ShadowRateLimit rate.Limit
	ShadowBurst     int

	// GCInterval overrides DefaultGCInterval; zero uses the default.
	GCInterval time.Duration

	// ValidationTimeout overrides DefaultValidationTimeout when a
	// document omits configurationValidationPolicy.timeoutInSeconds.
	ValidationTimeout time.Duration

	// ContainerSocketPath is the containerd socket used to launch
	// recipe.ArtifactKindContainer artifacts. Empty uses
	// runtime.DefaultSocketPath. A device with no containerd installed
	// simply never resolves a recipe whose platform selector picks a
	// container artifact; New logs a warning and continues without a
	// container launcher rather than failing construction.
	ContainerSocketPath string

	// MembershipOracle confirms whether this device is still a member of
	// a cloud-sourced deployment group (§4.1, §3's GroupToRoots validity
	// rule). Nil means no oracle is configured — every previously
	// committed group remains valid forever, which is also the only
	// sound behavior for device-local groups regardless of whether an
	// oracle is configured (§4.1: "or the group is a device-local
	// source").
	MembershipOracle MembershipOracle
}

// Engine owns every deployment-engine collaborator for one device. It is
// built once at process startup and lives for the process lifetime.
type Engine struct {
	cfg    Config
	logger zerolog.Logger
	root   string

	store       *storage.Store
	recipes     *storage.ComponentRecipes
	tree        *configstore.Tree
	tlog        *configstore.TransactionLog
	merger      *configstore.Merger
	resolver    *resolver.Resolver
	broker      *events.Broker
	executor    *lifecycle.Executor
	rollbackMgr *rollback.Manager
	gc          *gc.GC
	coordinator *queue.Coordinator
	tokens      *ipc.TokenManager
	ipcServer   *ipc.Server
	containerLauncher *runtime.ContainerLauncher

	membershipOracle MembershipOracle

	mu                 sync.RWMutex
	groupToRoots       types.GroupToRoots
	componentsToGroups types.ComponentsToGroups
	// groupOrigin tracks the Source that most recently (re)committed each
	// group_id still present in groupToRoots, so currentGroupToRoots knows
	// which groups are cloud-sourced (oracle-checked) versus device-local
	// (always valid). It is construction-time-only state: a group whose
	// origin is unknown (e.g. persisted from before a process restart) is
	// treated the same as an oracle-unreachable group — preserved rather
	// than pruned, per §4.1's offline rule.
	groupOrigin map[string]types.Source
	pinned      map[string]map[string]bool // name -> versions referenced by the most recent resolve

	gcInterval        time.Duration
	validationTimeout time.Duration
}

// New builds every collaborator and wires them together. It does not start
// any background goroutine; call Run for that.
func New(cfg Config) (*Engine, error) {
	if cfg.Root == "" {
		return nil, fmt.Errorf("engine: Root is required")
	}
	logger := cfg.Logger.With().Str("component", "engine").Logger()

	store, err := storage.Open(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("engine: opening store: %w", err)
	}

	tree := configstore.NewTree()
	tlogPath := filepath.Join(cfg.Root, "config", "config.tlog")
	tlog, err := configstore.OpenTransactionLog(tlogPath)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("engine: opening transaction log: %w", err)
	}
	if err := configstore.ReplayTransactionLog(tlogPath, tree); err != nil {
		tlog.Close()
		store.Close()
		return nil, fmt.Errorf("engine: replaying transaction log: %w", err)
	}

	groupToRoots, err := store.GetGroupMembership()
	if err != nil {
		tlog.Close()
		store.Close()
		return nil, fmt.Errorf("engine: loading group membership: %w", err)
	}

	tokens := ipc.NewTokenManager()
	ipcServer := ipc.NewServer(tokens, logger)

	broker := events.NewBroker()

	recipes := storage.NewComponentRecipes(cfg.Root)
	res := resolver.New(recipes, cfg.Fetcher, logger)

	merger := configstore.NewMerger(tree, tlog, ipcServer.Validator(), logger)

	launchers := map[recipe.ArtifactKind]runtime.Launcher{
		recipe.ArtifactKindSubprocess: &tokenInjectingLauncher{
			inner:  runtime.NewSubprocessLauncher(logger),
			tokens: tokens,
		},
	}
	var containerLauncher *runtime.ContainerLauncher
	if cl, clErr := runtime.NewContainerLauncher(cfg.ContainerSocketPath, logger); clErr != nil {
		logger.Warn().Err(clErr).Msg("containerd unreachable; container artifacts will not be launchable")
	} else {
		containerLauncher = cl
		launchers[recipe.ArtifactKindContainer] = &tokenInjectingLauncher{inner: cl, tokens: tokens}
	}
	executor := lifecycle.NewExecutor(launchers, broker, logger, nil)

	recipeAdapter := storage.NewRecipeAdapter(recipes)
	rollbackMgr := rollback.NewManager(cfg.Root, tree, executor, recipeAdapter, logger)
	ipcServer.SetRuntimeStoreWriter(&runtimeStoreWriter{tree: tree, executor: executor})

	gcInterval := cfg.GCInterval
	if gcInterval <= 0 {
		gcInterval = DefaultGCInterval
	}
	validationTimeout := cfg.ValidationTimeout
	if validationTimeout <= 0 {
		validationTimeout = DefaultValidationTimeout
	}

	e := &Engine{
		cfg:                cfg,
		logger:             logger,
		root:               cfg.Root,
		store:              store,
		recipes:            recipes,
		tree:               tree,
		tlog:               tlog,
		merger:             merger,
		resolver:           res,
		broker:             broker,
		executor:           executor,
		rollbackMgr:        rollbackMgr,
		tokens:             tokens,
		ipcServer:          ipcServer,
		containerLauncher:  containerLauncher,
		membershipOracle:   cfg.MembershipOracle,
		groupToRoots:       groupToRoots,
		componentsToGroups: types.DeriveComponentsToGroups(groupToRoots),
		groupOrigin:        make(map[string]types.Source),
		pinned:             make(map[string]map[string]bool),
		gcInterval:         gcInterval,
		validationTimeout:  validationTimeout,
	}
	e.gc = gc.New(cfg.Root, &activeSetProvider{e: e}, logger)

	opts := []queue.Option{}
	if cfg.ShadowRateLimit > 0 {
		opts = append(opts, queue.WithShadowRateLimit(cfg.ShadowRateLimit, cfg.ShadowBurst))
	}
	e.coordinator = queue.NewCoordinator(e.process, logger, opts...)

	metrics.RegisterComponent("store", true, "opened")
	metrics.RegisterComponent("coordinator", true, "constructed")

	return e, nil
}

// Close releases the store, transaction log, and containerd client
// handles. Call after Run returns.
func (e *Engine) Close() error {
	if e.containerLauncher != nil {
		if err := e.containerLauncher.Close(); err != nil {
			e.logger.Warn().Err(err).Msg("closing containerd client")
		}
	}
	if err := e.tlog.Close(); err != nil {
		e.logger.Warn().Err(err).Msg("closing transaction log")
	}
	return e.store.Close()
}

// Run starts the coordinator's worker and the periodic GC safety sweep,
// blocking until ctx is cancelled, then shuts both down in turn.
func (e *Engine) Run(ctx context.Context) error {
	e.broker.Start()
	e.coordinator.Start(ctx)
	e.gc.Start(e.gcInterval)

	<-ctx.Done()

	e.gc.Stop()
	e.coordinator.Stop()
	e.broker.Stop()
	return nil
}

// Submit accepts a LOCAL-source deployment document, the worked example of
// the local-override adapter referenced in spec.md §1/§4.1/S6. groupID
// scopes the document's own root contributions the same as any other
// source's group_id.
func (e *Engine) Submit(doc *types.DeploymentDocument, groupID string) (string, error) {
	d := types.Deployment{
		ID:        queue.NewDeploymentID(),
		Source:    types.SourceLocal,
		GroupID:   groupID,
		Timestamp: time.Now(),
		Document:  doc,
		Stage:     types.StageDefault,
	}
	if err := e.coordinator.Submit(d); err != nil {
		return "", err
	}
	return d.ID, nil
}

// Status returns the last known status for deploymentID.
func (e *Engine) Status(deploymentID string) (types.DeploymentStatus, bool) {
	return e.coordinator.Status(deploymentID)
}

// process is the pkg/queue.Processor the coordinator drives: resolve the
// effective root set, merge configuration, apply the lifecycle plan, and
// roll back on failure if the document asks for it. It runs on the
// coordinator's single worker goroutine (§5 "one dedicated task owns the
// deployment pipeline").
func (e *Engine) process(ctx context.Context, d types.Deployment, handle *queue.DeploymentHandle) types.DeploymentStatus {
	logger := e.logger.With().Str("deployment_id", d.ID).Str("source", string(d.Source)).Logger()
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.DeploymentDuration, string(d.Source))

	if ctx.Err() != nil {
		return types.DeploymentStatus{DeploymentID: d.ID, Status: types.StatusCancelled}
	}

	doc := d.Document
	groupToRoots := e.currentGroupToRoots(ctx, d)
	roots, updates := resolver.RootsFromGroups(groupToRoots, doc)

	rtimer := metrics.NewTimer()
	resolved, err := e.resolver.Resolve(ctx, roots, updates, e.currentComponentConfig, e.systemContext())
	rtimer.ObserveDuration(metrics.ResolverDuration)
	if err != nil {
		if kind, ok := deployerr.KindOf(err); ok {
			metrics.ResolverFailuresTotal.WithLabelValues(string(kind)).Inc()
		}
		metrics.DeploymentsTotal.WithLabelValues(string(d.Source), string(types.StatusFailed)).Inc()
		logger.Error().Err(err).Msg("resolution failed")
		return types.DeploymentStatus{DeploymentID: d.ID, Status: types.StatusFailed, DetailedStatus: types.DetailedFailedNoStateChange, FailureCause: err.Error()}
	}
	e.pinResolved(resolved)

	if ctx.Err() != nil {
		return types.DeploymentStatus{DeploymentID: d.ID, Status: types.StatusCancelled}
	}
	handle.EnterMerging()

	e.mu.RLock()
	componentsToGroups := e.componentsToGroups.Clone()
	e.mu.RUnlock()
	snap := rollback.Capture(d.ID, e.tree.Snapshot(), groupToRoots, componentsToGroups, e.executor.States())
	if err := rollback.Persist(e.root, snap); err != nil {
		logger.Warn().Err(err).Msg("failed to persist rollback snapshot")
	}

	runningNames := make(map[string]bool)
	for _, name := range e.executor.RunningNames() {
		runningNames[name] = true
	}

	validationTimeout := e.validationTimeout
	if doc.ConfigurationValidationPolicy.TimeoutSeconds > 0 {
		validationTimeout = time.Duration(doc.ConfigurationValidationPolicy.TimeoutSeconds) * time.Second
	}

	plan := lifecycle.ComputePlan(e.executor.States(), resolved, e.currentComponentConfig)

	vtimer := metrics.NewTimer()
	_, err = e.merger.Apply(ctx, d.ID, resolved, runningNames, validationTimeout)
	vtimer.ObserveDuration(metrics.ValidationRoundTripDuration)
	if err != nil {
		if deployerr.Is(err, deployerr.KindConfigurationRejected) {
			metrics.ValidationRejectionsTotal.Inc()
		}
		return e.fail(ctx, d, err, doc.FailureHandlingPolicy)
	}

	recipes, err := e.loadRecipes(ctx, resolved)
	if err != nil {
		return e.fail(ctx, d, err, doc.FailureHandlingPolicy)
	}

	broken, err := e.executor.Apply(ctx, d.ID, plan, recipes, doc.ComponentUpdatePolicy, e.ipcServer)
	for _, name := range broken {
		e.tokens.Revoke(name)
		e.ipcServer.Disconnect(name)
	}
	metrics.ServicesBrokenTotal.Add(float64(len(broken)))
	if err != nil {
		return e.fail(ctx, d, err, doc.FailureHandlingPolicy)
	}
	for _, ss := range plan.ToRemove {
		e.tokens.Revoke(ss.Name)
		e.ipcServer.Disconnect(ss.Name)
	}

	e.commitGroupMembership(d, groupToRoots)
	if err := rollback.Remove(e.root, d.ID); err != nil {
		logger.Warn().Err(err).Msg("removing committed snapshot")
	}
	if err := e.store.PutDeploymentRecord(storage.DeploymentRecord{DeploymentID: d.ID, Status: types.StatusSucceeded}); err != nil {
		logger.Warn().Err(err).Msg("persisting deployment record")
	}
	metrics.DeploymentsTotal.WithLabelValues(string(d.Source), string(types.StatusSucceeded)).Inc()

	if err := e.gc.Sweep(); err != nil {
		logger.Warn().Err(err).Msg("post-deployment gc sweep failed")
	}

	return types.DeploymentStatus{DeploymentID: d.ID, Status: types.StatusSucceeded}
}

// fail applies failure_handling_policy on a failed deployment: ROLLBACK
// re-drives the lifecycle executor back to the pre-deployment snapshot;
// DO_NOTHING leaves the device in its current (partially-applied) state.
func (e *Engine) fail(ctx context.Context, d types.Deployment, cause error, policy types.FailureHandlingPolicy) types.DeploymentStatus {
	e.logger.Error().Err(cause).Str("deployment_id", d.ID).Msg("deployment failed")
	metrics.DeploymentsTotal.WithLabelValues(string(d.Source), string(types.StatusFailed)).Inc()

	if policy != types.FailureHandlingRollback {
		return types.DeploymentStatus{DeploymentID: d.ID, Status: types.StatusFailed, DetailedStatus: types.DetailedFailedRollbackNotRequested, FailureCause: cause.Error()}
	}

	detail, rbErr := e.rollbackMgr.Run(context.Background(), d.ID)
	outcome := "ROLLBACK_COMPLETE"
	if detail == types.DetailedFailedRollbackIncomplete {
		outcome = "ROLLBACK_INCOMPLETE"
	}
	metrics.RollbacksTotal.WithLabelValues(outcome).Inc()
	if rbErr != nil {
		e.logger.Error().Err(rbErr).Str("deployment_id", d.ID).Msg("rollback failed")
	}
	return types.DeploymentStatus{DeploymentID: d.ID, Status: types.StatusFailed, DetailedStatus: detail, FailureCause: cause.Error()}
}

// currentGroupToRoots returns the effective GroupToRoots for resolving d:
// the persisted mapping, with any cloud-sourced group the membership
// oracle confirms the device has left pruned out, plus d's own group
// contributing its document's components as roots — without yet
// committing the change (commit happens only after a successful
// deployment). Per §4.1's offline rule, a group is only ever pruned on an
// explicit oracle-confirmed "not a member" answer; an oracle error, a
// device-local group, or a group whose origin this process never
// observed (e.g. persisted from before a restart) is left untouched.
func (e *Engine) currentGroupToRoots(ctx context.Context, d types.Deployment) types.GroupToRoots {
	e.mu.RLock()
	out := e.groupToRoots.Clone()
	origin := make(map[string]types.Source, len(e.groupOrigin))
	for groupID, src := range e.groupOrigin {
		origin[groupID] = src
	}
	e.mu.RUnlock()

	if e.membershipOracle != nil {
		for groupID := range out {
			if groupID == d.GroupID {
				// d's own group is being reconfirmed by this very
				// deployment succeeding; no need to also ask the oracle.
				continue
			}
			src, known := origin[groupID]
			if !known || (src != types.SourceCloudJobs && src != types.SourceShadow) {
				continue
			}
			member, err := e.membershipOracle.IsMember(ctx, groupID)
			if err != nil {
				e.logger.Warn().Err(err).Str("group_id", groupID).Msg("membership oracle unreachable, preserving existing group state")
				continue
			}
			if !member {
				delete(out, groupID)
			}
		}
	}

	if d.GroupID == "" || d.Document == nil {
		return out
	}
	roots := make(map[string]types.GroupRoot, len(d.Document.Components))
	for name, req := range d.Document.Components {
		roots[name] = types.GroupRoot{ComponentName: name, VersionRequirement: req.VersionRequirement}
	}
	out[d.GroupID] = roots
	return out
}

// commitGroupMembership persists the group membership reflecting a
// successful deployment and updates the in-memory copies under lock,
// recording d's source against its group_id so a later deployment's
// currentGroupToRoots knows whether that group needs an oracle check at
// all, and dropping the origin of any group currentGroupToRoots already
// pruned out of groupToRoots.
func (e *Engine) commitGroupMembership(d types.Deployment, groupToRoots types.GroupToRoots) {
	e.mu.Lock()
	e.groupToRoots = groupToRoots
	e.componentsToGroups = types.DeriveComponentsToGroups(groupToRoots)
	if d.GroupID != "" {
		e.groupOrigin[d.GroupID] = d.Source
	}
	for groupID := range e.groupOrigin {
		if _, ok := groupToRoots[groupID]; !ok {
			delete(e.groupOrigin, groupID)
		}
	}
	e.mu.Unlock()

	if err := e.store.PutGroupMembership(groupToRoots); err != nil {
		e.logger.Warn().Err(err).Str("deployment_id", d.ID).Msg("persisting group membership")
	}
}

// loadRecipes re-loads each resolved component's canonical Recipe from the
// local store, which the resolver has already ensured is present (fetching
// it on demand during resolution).
func (e *Engine) loadRecipes(ctx context.Context, resolved []types.ResolvedComponent) (map[string]*recipe.Recipe, error) {
	out := make(map[string]*recipe.Recipe, len(resolved))
	for _, rc := range resolved {
		rec, err := e.recipes.LoadRecipe(ctx, rc.Name, rc.Version)
		if err != nil {
			return nil, fmt.Errorf("engine: loading recipe for %s@%s: %w", rc.Name, rc.Version, err)
		}
		out[rc.Name] = rec
	}
	return out, nil
}

// currentComponentConfig reads name's live configuration from the
// configuration store, or nil if the component has never been written
// (first install). It is the resolver's §4.3 MERGE base — so a prior
// deployment's customization survives one that doesn't itself touch that
// component's configurationUpdate — and doubles as the lifecycle
// executor's "did this component's configuration actually change" check
// for ComputePlan's to_reconfigure set, both reading the same live value.
func (e *Engine) currentComponentConfig(name string) *configtree.Value {
	v := e.tree.Get(configtree.Pointer{"components", name, "configuration"})
	if v.IsNull() {
		return nil
	}
	return v
}

// systemContext supplies the device-wide values the resolver's
// interpolation pass substitutes for system tokens.
func (e *Engine) systemContext() resolver.SystemContext {
	return resolver.SystemContext{
		RootPath: e.root,
		ArtifactPath: func(name, version string) string {
			return filepath.Join(e.root, "packages", "artifacts", name, version)
		},
	}
}

// pinResolved records the versions a just-completed resolve referenced,
// replacing those of the previous resolve, so the GC's active-set provider
// never reclaims a version a deployment still in flight depends on, even
// before that deployment has committed.
func (e *Engine) pinResolved(resolved []types.ResolvedComponent) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pinned = make(map[string]map[string]bool, len(resolved))
	for _, rc := range resolved {
		if e.pinned[rc.Name] == nil {
			e.pinned[rc.Name] = make(map[string]bool)
		}
		e.pinned[rc.Name][rc.Version] = true
	}
}

// activeSetProvider implements pkg/gc.ActiveSetProvider against the
// engine's live executor state plus the versions pinned by in-flight or
// just-completed resolves, satisfying §8's I4 ("no active version ever
// removed").
type activeSetProvider struct {
	e *Engine
}

func (p *activeSetProvider) ActiveVersions(componentName string) map[string]bool {
	out := make(map[string]bool)
	if ss, ok := p.e.executor.States()[componentName]; ok {
		out[ss.Version] = true
	}
	p.e.mu.RLock()
	for v := range p.e.pinned[componentName] {
		out[v] = true
	}
	p.e.mu.RUnlock()
	return out
}

// IPCRouter exposes the per-component IPC websocket surface (§4.7),
// intended to be mounted on its own listener (a Unix domain socket) rather
// than alongside the local management API.
func (e *Engine) IPCRouter() *mux.Router {
	return e.ipcServer.Router()
}

// Router exposes the worked local-override submission surface
// (cmd/deployctl's target) plus the Prometheus metrics endpoint. This is
// deliberately the only HTTP management surface this module ships; spec.md
// scopes a general HTTP/CLI management surface out as an external
// collaborator's concern.
func (e *Engine) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/v1/local/deployments", e.handleSubmitLocal).Methods(http.MethodPost)
	r.HandleFunc("/v1/deployments/{id}/status", e.handleStatus).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	r.Handle("/health", metrics.HealthHandler()).Methods(http.MethodGet)
	r.Handle("/ready", metrics.ReadyHandler()).Methods(http.MethodGet)
	r.Handle("/live", metrics.LivenessHandler()).Methods(http.MethodGet)
	return r
}

type submitLocalRequest struct {
	GroupID  string          `json:"groupId"`
	Document json.RawMessage `json:"document"`
}

func (e *Engine) handleSubmitLocal(w http.ResponseWriter, r *http.Request) {
	var req submitLocalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("decoding request: %v", err), http.StatusBadRequest)
		return
	}
	doc, err := types.ParseConfigurationDocument(req.Document)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	id, err := e.Submit(doc, req.GroupID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"deploymentId": id})
}

func (e *Engine) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	status, ok := e.Status(id)
	if !ok {
		http.Error(w, "unknown deployment id", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(status)
}
