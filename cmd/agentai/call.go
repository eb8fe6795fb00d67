package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Jazzman94/agentai/internal/audit"
	"github.com/Jazzman94/agentai/internal/dispatch"
)

var (
	callArgs string
	callJSON bool
)

var callCmd = &cobra.Command{
	Use:   "call <operation>",
	Short: "Dispatch a single call and print its output",
	Long: `Dispatch one named operation against the working directory and print
its output. Arguments are passed as a JSON object.

Examples:
  agentai call get_files_info --args '{"directory": "pkg"}'
  agentai call write_file --args '{"file_path": "notes.txt", "content": "hi"}'
  agentai call run_python_file --args '{"file_path": "main.py"}' --json

The command exits with status 1 when the operation fails.`,
	Args: cobra.ExactArgs(1),
	RunE: runCall,
}

func init() {
	callCmd.Flags().StringVarP(&callArgs, "args", "a", "", "operation arguments as a JSON object")
	callCmd.Flags().BoolVar(&callJSON, "json", false, "print the full result envelope as JSON")
}

func runCall(_ *cobra.Command, args []string) error {
	params, err := parseCallArgs(callArgs)
	if err != nil {
		return err
	}

	sc, err := setupCommand()
	if err != nil {
		return err
	}
	defer sc.Cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	call := dispatch.Call{Name: args[0], Args: params}
	result := sc.Dispatcher.Dispatch(audit.WithCaller(ctx, "cli"), sc.Workspace.Root, &call)

	if callJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(dispatch.NewEnvelope(call, result)); err != nil {
			return fmt.Errorf("encoding result: %w", err)
		}
	} else {
		fmt.Println(result.Output)
	}

	if !result.Success {
		return errCallFailed
	}
	return nil
}

// parseCallArgs decodes the --args JSON object. Empty input means no arguments.
func parseCallArgs(raw string) (map[string]any, error) {
	if raw == "" {
		return nil, nil
	}
	var params map[string]any
	if err := json.Unmarshal([]byte(raw), &params); err != nil {
		return nil, fmt.Errorf("--args must be a JSON object: %w", err)
	}
	return params, nil
}
