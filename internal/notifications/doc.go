// Package notifications publishes recorder lifecycle events to an ntfy
// topic. A nil or unconfigured topic yields a no-op service so callers
// never need to branch on whether notifications are enabled.
package notifications
