package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// rootCmd represents the base command for the gsc-mcp application
var rootCmd = &cobra.Command{
	Use:   "gsc-mcp",
	Short: "Multi-tenant MCP server for Google Search Console",
	Long: `gsc-mcp bridges Google Search Console to MCP clients.

Users sign in with Google in a browser and receive a durable API key.
MCP clients connect over SSE with that key; the server transparently
refreshes Google tokens so sessions keep working across token expiry.`,
	SilenceUsage: true,
}

// version will be set by main
var version = "dev"

// SetVersion sets the version for the root command
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}

// Execute is the main entry point for the CLI application
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "gsc-mcp version %s\n" .Version}}`)

	// Serving is the only job of this binary, so default to it.
	if len(os.Args) == 1 {
		os.Args = append(os.Args, "serve")
	}

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newVersionCmd())
}
