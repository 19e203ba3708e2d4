/*
Package log provides structured logging for the deployment engine using
zerolog, grounded on the teacher's pkg/log (global Logger, Init(Config),
level parsing, JSON vs. console writer selection).

# Usage

	import "github.com/fleetedge/deployd/pkg/log"

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true, Output: os.Stderr})
	log.Logger.Info().Str("deployment_id", id).Msg("deployment accepted")

# Component loggers

pkg/queue, pkg/resolver, pkg/configstore, pkg/lifecycle, pkg/rollback, and
pkg/gc each take a zerolog.Logger at construction and derive from it a
child logger scoped to their component name rather than logging through
the bare global Logger:

	logger := parent.With().Str("component", "resolver").Logger()

This keeps every log line attributable to the subsystem that produced it.
Deployment-scoped log lines additionally carry "deployment_id" and, where
applicable, "service" fields so that one
deployment's full log trail can be grepped out of a shared log stream.

# Output

JSONOutput selects zerolog's default JSON encoder (one object per line,
suitable for shipping to a log collector); when false, a
zerolog.ConsoleWriter renders human-readable colored output for local
development. The engine itself never ships logs to a remote aggregation
service — §1 scopes telemetry shipping out as an external collaborator's
concern; a log-shipping sidecar tails whatever Output is configured
(typically a file or stdout under a supervisor).
*/
package log
