/*
Package bridge supervises the external inference worker process.

The Supervisor owns exactly one worker: it picks a free loopback port
from a fixed range, spawns the process, polls its health endpoint until
ready, and then forwards typed generation calls over local HTTP. A
background probe watches the running worker; consecutive failures, an
unexpected process exit, or repeated transport errors all move the
supervisor to crashed, which schedules an automatic restart after a
cool-down. Too many restarts inside a rolling window declare the bridge
broken, and every request is refused until an operator reset.

Crash events carry the worker's exit code and the last few kilobytes of
its stderr so the scheduler can fail the in-flight session with context.
*/
package bridge
