/*
Package events provides an in-memory event broker for Roost's pub/sub messaging.

The events package implements a lightweight event bus for broadcasting fleet
events to interested subscribers. It supports asynchronous event delivery,
enabling loose coupling between the scheduler, the API server, and monitoring
consumers.

# Architecture

The event system provides non-blocking pub/sub messaging with buffered
channels:

	Publisher → Event Channel (buffer: 100)
	     ↓
	Broadcast Loop
	     ↓
	Subscriber Channels (buffer: 50 each)

Slow subscribers never block publishers: when a subscriber's buffer is full
the event is dropped for that subscriber only.

# Event Types

Follow events:
  - follow.completed
  - follow.failed
  - follow.rate_limited

Fleet events:
  - account.activated
  - account.deactivated
  - group.rotated
  - daily.reset

Scheduler events:
  - scheduler.started
  - scheduler.stopped

# Usage

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	broker.Publish(&events.Event{
		Type:    events.EventFollowCompleted,
		Message: "followed @target",
	})
*/
package events
