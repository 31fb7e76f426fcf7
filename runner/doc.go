// Package runner drives single agent invocations from launch to their
// persisted turn.
//
// A Run moves through starting, running and then completed or failed. While
// running, every record the runtime emits is classified, reflected in the
// instance registry (heartbeat and current task), forwarded in order on the
// run's event channel and folded into the conversation trace. When the run
// ends the runner appends the turn to the thread store, emits an error event
// for failures, emits done, closes the event channel and completes the
// registry record, in that order.
//
// Timeouts and explicit cancellation stop the runtime process. Turns are
// still written for failed runs that produced any text or tool activity.
package runner
