// Package logging builds the slog loggers used across creel.
//
// Two output formats are supported: a console handler that prints a
// component-prefixed single line with key=value attributes, and a JSON
// handler for machine consumption. Both write to stdout plus the daemon
// log file. Standardized field keys live here so components agree on
// attribute names.
package logging
