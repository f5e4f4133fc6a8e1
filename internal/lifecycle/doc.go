// Package lifecycle runs the console's user-triggered pipelines: deploy,
// update, destroy, test-chat, register, deregister and authorization
// management.
//
// Every pipeline takes the caller's *session.State and a Sink. It moves
// through the phases
//
//	idle → validating → initializing-remote → importing-code → in-flight → succeeded | failed
//
// publishing an Event at each step and a final Event carrying the Outcome.
// Pipelines never return errors or panic out; the Outcome says what
// happened. Each pipeline holds its session's per-action guard for its whole
// run, so the same action cannot be started twice concurrently from one
// session. Different actions are not mutually exclusive.
//
// Batch pipelines (destroy, deregister) are sequential and best effort: one
// item failing never stops the rest, and the Outcome lists every item.
package lifecycle
