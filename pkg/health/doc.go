/*
Package health provides readiness/liveness checking for managed services,
kept near-verbatim from the teacher's pkg/health (HTTP, TCP, and Exec
checkers behind a common Checker interface, hysteresis via
consecutive-failure counting) and wired as §4.4's RUNNING/BROKEN signal:
pkg/lifecycle's Executor starts a monitor goroutine for any recipe that
declares a HealthCheck once the service reaches RUNNING, and treats a
sustained run of failures — Status crossing its Config.Retries threshold —
as a phase error outside of an explicit install/startup failure, flipping
the service straight to BROKEN.

# Checkers

	HTTPChecker — polls a URL, healthy iff the status falls in
	              [ExpectedStatusMin, ExpectedStatusMax] (default 200-399).
	TCPChecker  — healthy iff a TCP dial to Address succeeds within Timeout.
	ExecChecker — healthy iff Command exits zero, run on the host (recipe
	              artifacts expose no in-container exec primitive).

All three implement Checker:

	type Checker interface {
	    Check(ctx context.Context) Result
	    Type() CheckType
	}

# Hysteresis

A recipe's health check is wrapped with a consecutive-failure counter
(Config.Interval, Config.Timeout, plus a failure/success threshold) so a
single transient failure does not flip a RUNNING service to BROKEN; only
a sustained run of failures crosses the threshold the lifecycle executor
consults before giving up on a service.

# Usage

	checker := health.NewHTTPChecker("http://127.0.0.1:8080/healthz")
	result := checker.Check(ctx)
	if !result.Healthy {
	    log.Logger.Warn().Str("service", name).Str("reason", result.Message).Msg("health check failed")
	}
*/
package health
