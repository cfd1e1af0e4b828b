/*
Package scheduler admits generation jobs and runs them one at a time.

The queue is durable: every admitted job is a queued history row, and
created_at order is the authoritative FIFO order. Image payloads for mesh
jobs and the worker option bags live only in memory; the startup recovery
procedure fails orphaned processing rows and demotes queued mesh rows
whose payloads did not survive the restart.

The loop dispatches only while the queue is unpaused, nothing is in
flight, and the bridge reports running. Moving a row to processing in the
store is the linearization point of dequeue; a crash at any later point
is cleaned up by the next recovery pass. Bridge crash events terminate
the in-flight session with a descriptive error.
*/
package scheduler
