/*
Package events implements Design Notes §9's replacement for the source's
"add a global state change listener" pattern: a typed, bounded-channel
publish/subscribe hub delivering ServiceStateChanged events, grounded on
the ipiton-alert-history-service EventBus shape (subscribers map, buffered
event channel, non-blocking per-subscriber fanout, Start/Stop lifecycle).

# Usage

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	go func() {
		for evt := range sub {
			log.Logger.Info().Str("service", evt.Service).
				Str("from", string(evt.Old)).Str("to", string(evt.New)).
				Msg("service state changed")
		}
	}()

	broker.Publish(events.ServiceStateChanged{
		DeploymentID: id, Service: "main",
		Old: types.StateStarting, New: types.StateRunning,
	})

# Delivery semantics

Every subscriber gets its own 64-event buffered channel. Publish enqueues
onto the broker's 256-event internal channel, blocking only while that
channel is full (or until Stop); a background
goroutine drains that channel and fans each event out to every current
subscriber. A subscriber whose buffer is full has the event dropped for
it rather than blocking the publisher or other subscribers — matching
§5's requirement that lifecycle events for one service never stall
another. Consumers that need a complete, unbroken trail (e.g. an
end-to-end test asserting an ordered RUNNING sequence, per scenario S2)
should drain promptly; the buffer exists to absorb bursts, not to permit
indefinite backpressure.

Cancellation is Unsubscribe: the subscriber's channel is closed and
removed from the fanout set, so a range loop over it terminates cleanly.
*/
package events
