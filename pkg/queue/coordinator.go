package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/fleetedge/deployd/pkg/metrics"
	"github.com/fleetedge/deployd/pkg/types"
)

// ErrQueueFull is returned by Submit when the bounded per-source backlog
// is already occupied by an entry that has itself entered MERGING and so
// cannot be preempted to make room.
var ErrQueueFull = errors.New("queue: deployment queue is full")

// ErrRateLimited is returned by Submit when a per-source rate limiter
// rejects the arrival, guarding a misbehaving adapter from flooding the
// pipeline.
var ErrRateLimited = errors.New("queue: submission rate limit exceeded")

// Processor executes the full deployment pipeline (resolve, merge,
// drive lifecycle, rollback on failure) for one dequeued deployment. It is
// supplied by the construction-time container (pkg/engine) so this
// package stays ignorant of resolver/lifecycle internals and owns only
// ordering, preemption, and status bookkeeping.
type Processor func(ctx context.Context, d types.Deployment, handle *DeploymentHandle) types.DeploymentStatus

type pendingEntry struct {
	deployment types.Deployment
	handle     *DeploymentHandle
	enqueuedAt time.Time
}

// Coordinator serializes deployments from the three source channels into
// a single dedicated pipeline task (§5), applying per-source admission
// rules and the cross-source preemption rule (§4.1).
type Coordinator struct {
	processor Processor
	logger    zerolog.Logger

	mu          sync.Mutex
	pending     map[types.Source]*pendingEntry
	active      *pendingEntry
	lastCloudID map[string]string // source group -> last accepted CLOUD_JOBS id, for duplicate discard
	lastShadow  map[string]time.Time

	statusMu sync.Mutex
	statuses map[string]types.DeploymentStatus

	subMu sync.Mutex
	subs  map[int]chan types.DeploymentStatus
	nextSubID int

	shadowLimiter *rate.Limiter

	wake    chan struct{}
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// Option configures optional Coordinator behavior at construction time.
type Option func(*Coordinator)

// WithShadowRateLimit bounds the rate at which SHADOW-source deployments
// are admitted, guarding against a misbehaving device-shadow sync adapter
// flooding the queue.
func WithShadowRateLimit(r rate.Limit, burst int) Option {
	return func(c *Coordinator) {
		c.shadowLimiter = rate.NewLimiter(r, burst)
	}
}

// NewCoordinator constructs a Coordinator. processor is invoked exactly
// once per dequeued deployment, on the coordinator's single worker
// goroutine.
func NewCoordinator(processor Processor, logger zerolog.Logger, opts ...Option) *Coordinator {
	c := &Coordinator{
		processor:   processor,
		logger:      logger.With().Str("component", "queue.coordinator").Logger(),
		pending:     make(map[types.Source]*pendingEntry),
		lastCloudID: make(map[string]string),
		lastShadow:  make(map[string]time.Time),
		statuses:    make(map[string]types.DeploymentStatus),
		subs:        make(map[int]chan types.DeploymentStatus),
		wake:        make(chan struct{}, 1),
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Submit enqueues d, applying per-source admission rules (§4.1) and the
// same-source preemption rule. Non-blocking: it never waits for d to be
// processed.
func (c *Coordinator) Submit(d types.Deployment) error {
	if d.Source == types.SourceShadow && c.shadowLimiter != nil && !c.shadowLimiter.Allow() {
		return ErrRateLimited
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	switch d.Source {
	case types.SourceCloudJobs:
		if last, ok := c.lastCloudID[d.GroupID]; ok && last == d.ID {
			c.logger.Debug().Str("deployment_id", d.ID).Msg("discarding duplicate cloud job")
			return nil
		}
		c.lastCloudID[d.GroupID] = d.ID
	case types.SourceShadow:
		if last, ok := c.lastShadow[d.GroupID]; ok && d.Timestamp.Before(last) {
			c.logger.Debug().Str("deployment_id", d.ID).Msg("discarding stale shadow deployment")
			return nil
		}
		c.lastShadow[d.GroupID] = d.Timestamp
	case types.SourceLocal:
		// No admission-time dedup; a pending LOCAL deployment is still
		// superseded by the next one, as for every source.
	}

	if existing, ok := c.pending[d.Source]; ok {
		if !existing.handle.preempt() {
			return ErrQueueFull
		}
		c.publishStatus(types.DeploymentStatus{DeploymentID: existing.deployment.ID, Status: types.StatusSuperseded})
		metrics.SupersededTotal.WithLabelValues(string(d.Source)).Inc()
		c.logger.Info().Str("deployment_id", existing.deployment.ID).Str("superseded_by", d.ID).Msg("deployment superseded")
	}

	entry := &pendingEntry{deployment: d, handle: newHandle(context.Background()), enqueuedAt: time.Now()}
	c.pending[d.Source] = entry
	metrics.QueueDepth.WithLabelValues(string(d.Source)).Set(1)
	c.publishStatus(types.DeploymentStatus{DeploymentID: d.ID, Status: types.StatusQueued})

	select {
	case c.wake <- struct{}{}:
	default:
	}
	return nil
}

// Status returns the last known status for deploymentID.
func (c *Coordinator) Status(deploymentID string) (types.DeploymentStatus, bool) {
	c.statusMu.Lock()
	defer c.statusMu.Unlock()
	s, ok := c.statuses[deploymentID]
	return s, ok
}

// Subscribe registers a consumer that receives every status transition,
// including the single terminal one per deployment (§4.1). The returned
// cancel function must be called to release the subscription.
func (c *Coordinator) Subscribe() (<-chan types.DeploymentStatus, func()) {
	c.subMu.Lock()
	id := c.nextSubID
	c.nextSubID++
	ch := make(chan types.DeploymentStatus, 32)
	c.subs[id] = ch
	c.subMu.Unlock()

	return ch, func() {
		c.subMu.Lock()
		delete(c.subs, id)
		c.subMu.Unlock()
		close(ch)
	}
}

func (c *Coordinator) publishStatus(s types.DeploymentStatus) {
	c.statusMu.Lock()
	c.statuses[s.DeploymentID] = s
	c.statusMu.Unlock()

	c.subMu.Lock()
	defer c.subMu.Unlock()
	for _, ch := range c.subs {
		select {
		case ch <- s:
		default:
		}
	}
}

// Start launches the single worker goroutine that dequeues and processes
// one deployment at a time. It returns immediately; call Stop to shut
// down.
func (c *Coordinator) Start(ctx context.Context) {
	go c.run(ctx)
}

// Stop signals the worker to exit after its current deployment finishes
// and waits for it to do so.
func (c *Coordinator) Stop() {
	close(c.stopCh)
	<-c.doneCh
}

func (c *Coordinator) run(ctx context.Context) {
	defer close(c.doneCh)
	for {
		entry := c.dequeueNext()
		if entry == nil {
			select {
			case <-c.wake:
				continue
			case <-c.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}

		c.mu.Lock()
		c.active = entry
		c.mu.Unlock()

		c.publishStatus(types.DeploymentStatus{DeploymentID: entry.deployment.ID, Status: types.StatusInProgress})
		status := c.processor(entry.handle.Context(), entry.deployment, entry.handle)
		c.publishStatus(status)

		c.mu.Lock()
		c.active = nil
		c.mu.Unlock()

		select {
		case <-c.stopCh:
			return
		default:
		}
	}
}

// dequeueNext picks the oldest pending entry across all three sources, if
// any, implementing a simple fairness rule since §5 does not mandate a
// fixed cross-source priority ("the one that entered MERGING first wins;
// the other is queued until completion" only governs concurrent in-flight
// deployments, not queue ordering).
func (c *Coordinator) dequeueNext() *pendingEntry {
	c.mu.Lock()
	defer c.mu.Unlock()

	var oldestSource types.Source
	var oldest *pendingEntry
	for src, e := range c.pending {
		if oldest == nil || e.enqueuedAt.Before(oldest.enqueuedAt) {
			oldest = e
			oldestSource = src
		}
	}
	if oldest == nil {
		return nil
	}
	delete(c.pending, oldestSource)
	metrics.QueueDepth.WithLabelValues(string(oldestSource)).Set(0)
	return oldest
}

// NewDeploymentID generates a fresh id for internally-originated
// deployments (e.g. a rollback bootstrap pass).
func NewDeploymentID() string {
	return uuid.NewString()
}
