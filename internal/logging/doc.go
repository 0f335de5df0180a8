// Package logging configures slog for cpid: a colored human-readable
// handler on stderr and, when a path is configured, a JSON log file with
// size-based rotation. Nothing is ever written to stdout, which carries
// protocol frames when the server runs over standard streams.
package logging
