// agentai runs sandboxed file and script operations on behalf of an AI
// orchestrator.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// errCallFailed reports a failed operation whose output was already printed.
var errCallFailed = errors.New("call failed")

var (
	configPath string
	workdir    string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "agentai",
	Short: "agentai: sandboxed file and script operations for AI orchestrators.",
	Long: `agentai exposes four operations confined to a single working directory:
get_files_info, get_file_content, write_file and run_python_file.

Calls can be made once from the command line, over an HTTP API, or over MCP
on stdio. Every call goes through the same dispatcher and path guard.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	_ = godotenv.Load()

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file (default ~/.agentai/config.yaml when present)")
	rootCmd.PersistentFlags().StringVar(&workdir, "workdir", "", "override the working directory every call is confined to")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(callCmd, toolsCmd, serveCmd, mcpCmd, auditCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		if !errors.Is(err, errCallFailed) {
			fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		}
		os.Exit(1)
	}
}
