// Package dispatch supervises long-running runners on behalf of suspended
// steps.
//
// The Dispatcher is a registry of active runners keyed by runner id. Each
// runner is owned by an actor: a goroutine with a private FIFO mailbox that
// processes one message at a time. Different runners run concurrently.
//
// Lifecycle of one runner:
//   - Start registers the step, spawns the actor and tells it to start
//   - startRunner arms the timeout (if any), starts the runner and refreshes it
//   - Refresh ticks arrive every refresh interval until the runner finishes
//   - Updates go to the step (and any mirror receivers), the main one last
//   - A terminal update or a finished step triggers Finish
//   - Finish unregisters the runner and tells the actor to terminate
//   - Termination closes the runner and stops the actor
//
// Error handling:
//   - Start, refresh, refresh-output and external event failures are fatal:
//     the step receives an exception and the runner is finished
//   - Timeout and kill failures are reported to the step but the runner lives on
//   - Panics inside runner calls are recovered and treated as errors
//   - Messages sent to a terminated actor are dropped and logged at debug
package dispatch
