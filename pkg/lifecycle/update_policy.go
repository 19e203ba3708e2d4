package lifecycle

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/fleetedge/deployd/pkg/metrics"
	"github.com/fleetedge/deployd/pkg/types"
)

// DeferResponse is a subscriber's reply to a pre_update event.
type DeferResponse struct {
	Defer        bool
	RecheckAfter time.Duration
	Message      string
}

// UpdateNotifier is implemented by the IPC surface (pkg/ipc): it knows
// which running components subscribed to component_update events and can
// deliver pre_update/post_update frames to them.
type UpdateNotifier interface {
	IsSubscribed(componentName string) bool

	// NotifyPreUpdate publishes pre_update to componentName and waits up to
	// timeout for a reply. A disconnected subscriber or elapsed timeout is
	// treated as "no deferral" (§4.7: "Disconnected subscribers are treated
	// as if they responded with no deferral").
	NotifyPreUpdate(ctx context.Context, componentName, deploymentID string, timeout time.Duration) (DeferResponse, error)

	// NotifyPostUpdate publishes post_update to componentName.
	NotifyPostUpdate(ctx context.Context, componentName, deploymentID string) error
}

// NoopUpdateNotifier treats every component as unsubscribed, for tests and
// deployments with no IPC server wired.
type NoopUpdateNotifier struct{}

func (NoopUpdateNotifier) IsSubscribed(string) bool { return false }
func (NoopUpdateNotifier) NotifyPreUpdate(context.Context, string, string, time.Duration) (DeferResponse, error) {
	return DeferResponse{}, nil
}
func (NoopUpdateNotifier) NotifyPostUpdate(context.Context, string, string) error { return nil }

// runUpdatePolicy implements §4.4's "Update-disruption policy", grounded in
// the teacher's Deployer.rollingUpdate batch-with-delay shape (fixed
// parallelism batches, sleep between batches), adapted here from "batches
// of containers with a fixed delay" to "poll every subscribed running
// component for a deferral, honoring a single timeout-bounded budget
// shared across all of them".
func runUpdatePolicy(ctx context.Context, policy types.ComponentUpdatePolicy, deploymentID string, runningNames []string, notifier UpdateNotifier, logger zerolog.Logger) error {
	if policy.Action == types.ComponentUpdateSkipNotify {
		return nil
	}
	if notifier == nil {
		notifier = NoopUpdateNotifier{}
	}

	var subscribed []string
	for _, name := range runningNames {
		if notifier.IsSubscribed(name) {
			subscribed = append(subscribed, name)
		}
	}
	if len(subscribed) == 0 {
		return nil
	}

	deadline := time.Now().Add(time.Duration(policy.TimeoutSeconds) * time.Second)
	pending := subscribed

pollLoop:
	for len(pending) > 0 {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}

		var stillDeferred []string
		var maxRecheck time.Duration
		for _, name := range pending {
			remaining = time.Until(deadline)
			if remaining <= 0 {
				break pollLoop
			}
			resp, err := notifier.NotifyPreUpdate(ctx, name, deploymentID, remaining)
			if err != nil {
				logger.Warn().Err(err).Str("component", name).Msg("pre_update notification failed, proceeding without deferral")
				continue
			}
			if !resp.Defer {
				continue
			}
			metrics.UpdateDeferralsTotal.Inc()
			stillDeferred = append(stillDeferred, name)
			if resp.RecheckAfter > maxRecheck {
				maxRecheck = resp.RecheckAfter
			}
		}
		pending = stillDeferred
		if len(pending) == 0 {
			break
		}

		wait := maxRecheck
		if remaining := time.Until(deadline); wait > remaining {
			wait = remaining
		}
		if wait <= 0 {
			break
		}
		logger.Debug().Dur("wait", wait).Int("deferred", len(pending)).Msg("waiting on component deferral")
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	for _, name := range subscribed {
		if err := notifier.NotifyPostUpdate(ctx, name, deploymentID); err != nil {
			logger.Warn().Err(err).Str("component", name).Msg("post_update notification failed")
		}
	}
	return nil
}
