package supervisor

import "errors"

var (
	// ErrSpawnFailure covers resolver and launch errors before a capture
	// reaches the recording state.
	ErrSpawnFailure = errors.New("capture spawn failure")
	// ErrProcessCrashed marks a capture that exited without being asked to.
	ErrProcessCrashed = errors.New("capture process crashed")
	// ErrLivenessTimeout marks a capture whose output stopped growing.
	ErrLivenessTimeout = errors.New("capture liveness timeout")
	// ErrUnknownTarget reports a start request for an unconfigured target.
	ErrUnknownTarget = errors.New("unknown target")
	// ErrNotManaged reports an operation on a job this supervisor holds
	// no session for.
	ErrNotManaged = errors.New("job not managed by this supervisor")
)
