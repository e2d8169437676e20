// Package cmd implements the command-line interface for gsc-mcp.
//
// This package provides the following commands:
//   - serve: Start the OAuth web flow and the per-user MCP SSE endpoints
//   - version: Display version information
//
// The serve command is the default command when no subcommand is specified.
package cmd
