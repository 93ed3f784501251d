// Package supervisor owns the lifecycle of capture processes. It is
// the only component that holds process handles: it spawns captures,
// tracks them in a per-job session registry, heartbeats and liveness
// checks them, drives segment rotation, and guarantees that every
// termination path releases the duplicate-guard claim, reaches a
// terminal job status, and schedules exactly one finalize task.
package supervisor
