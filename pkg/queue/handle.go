// Package queue implements §4.1: per-source admission rules, the
// single-dedicated-pipeline-task coordinator, the preemption rule, and
// terminal-status-once publication. Grounded in the teacher's
// scheduler/reconciler ticker-loop constructor shape (owning engine
// reference, logger via log.WithComponent, Start()/Stop() via stopCh) but
// event-driven rather than ticker-polled, since the coordinator must react
// to enqueue events immediately.
package queue

import (
	"context"
	"sync/atomic"
)

// DeploymentHandle is shared between the coordinator and the Processor it
// invokes for a given deployment. It carries the cancellable context for
// that deployment and records whether the deployment has crossed the
// preemption window (entered MERGING), per §4.1's "A deployment already
// past MERGING is never preempted" and §5's cancellation rules.
type DeploymentHandle struct {
	ctx            context.Context
	cancel         context.CancelFunc
	pastPreemption atomic.Bool
}

func newHandle(parent context.Context) *DeploymentHandle {
	ctx, cancel := context.WithCancel(parent)
	return &DeploymentHandle{ctx: ctx, cancel: cancel}
}

// Context returns the deployment's cancellable context. A Processor
// should treat ctx.Err() != nil before entering MERGING as "cancelled,
// stop with no externally observable effect" (§5).
func (h *DeploymentHandle) Context() context.Context { return h.ctx }

// EnterMerging marks the deployment as having crossed the preemption
// window. After this call, Preempt is a no-op for this handle.
func (h *DeploymentHandle) EnterMerging() { h.pastPreemption.Store(true) }

// PastPreemptionWindow reports whether EnterMerging has been called.
func (h *DeploymentHandle) PastPreemptionWindow() bool { return h.pastPreemption.Load() }

// preempt cancels the handle's context unless it has already entered
// MERGING, in which case it returns false and the caller must not treat
// the deployment as superseded.
func (h *DeploymentHandle) preempt() bool {
	if h.pastPreemption.Load() {
		return false
	}
	h.cancel()
	return true
}
