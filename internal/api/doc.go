// Package api defines the transport-friendly representations of jobs,
// tasks, and daemon state shared by the IPC server and the CLI.
package api
