package bridge

// State is the supervisor's view of the worker process.
type State string

const (
	// StateStopped is the initial state and the state after a graceful stop.
	StateStopped State = "stopped"

	// StateStarting means the process is spawned and the supervisor is
	// polling its health endpoint until the startup deadline.
	StateStarting State = "starting"

	// StateRunning permits request forwarding.
	StateRunning State = "running"

	// StateCrashed means the worker died or failed its health checks; an
	// automatic restart is pending.
	StateCrashed State = "crashed"

	// StateBroken means the restart budget is exhausted. Requests fail
	// immediately until an operator resets the supervisor.
	StateBroken State = "broken"
)

func (s State) String() string {
	return string(s)
}
