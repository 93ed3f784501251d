// Command creel is the operator CLI for the creel recording daemon. It
// talks to a running creeld over the JSON-RPC Unix socket and can also
// launch the daemon in the foreground.
package main
