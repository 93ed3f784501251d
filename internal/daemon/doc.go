// Package daemon wires the recorder's components together behind a
// single-instance lock: job and task stores, duplicate guard,
// supervisor, task runner, and reconciler. It is the surface the IPC
// server exposes to operators.
package daemon
