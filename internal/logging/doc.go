// Package logging provides shared slog helpers for consistent structured
// logging across the application.
//
// It defines common attribute keys and small constructor functions so that
// log lines use the same field names everywhere, and sanitization helpers
// that keep tokens and user identifiers out of log output.
package logging
