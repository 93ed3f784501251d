// Package config loads and validates the TOML configuration that drives
// the creel daemon: directories, capture-tool settings, rotation and
// task-queue timing, notification and upload options, and the declared
// recording targets.
package config
