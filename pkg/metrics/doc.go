/*
Package metrics defines and registers every Prometheus metric this engine
exposes, kept near-verbatim from the teacher's pkg/metrics (MustRegister at
package init, a Timer helper for histogram observations, the
RegisterComponent/HealthHandler/ReadyHandler/LivenessHandler trio) and
rescoped from cluster concerns (nodes, Raft, ingress) to this engine's own
pipeline stages.

# Metrics

Each deployment-engine subsystem instruments itself inline at the point the
event occurs, rather than through a central poller:

	pkg/queue       — deployd_queue_depth, deployd_deployments_superseded_total
	pkg/engine      — deployd_deployments_total, deployd_deployment_duration_seconds
	pkg/resolver    — deployd_resolver_duration_seconds, deployd_resolver_failures_total
	pkg/configstore — deployd_config_writes_total
	pkg/engine      — deployd_validation_round_trip_seconds, deployd_validation_rejections_total
	pkg/lifecycle   — deployd_service_state_transitions_total, deployd_lifecycle_phase_duration_seconds,
	                  deployd_services_broken_total, deployd_update_deferrals_total
	pkg/rollback    — deployd_rollbacks_total (via pkg/engine)
	pkg/gc          — deployd_gc_reclaimed_versions_total, deployd_gc_sweep_duration_seconds
	pkg/ipc         — deployd_ipc_connected_components

# Health

RegisterComponent/UpdateComponent feed a process-wide HealthChecker; "store"
and "coordinator" are the critical components GetReadiness checks before
reporting ready. HealthHandler, ReadyHandler, and LivenessHandler back the
/health, /ready, and /live routes pkg/engine.Router mounts alongside /metrics.
*/
package metrics
