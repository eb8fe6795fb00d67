package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "Print the declared operation schemas as JSON",
	RunE: func(_ *cobra.Command, _ []string) error {
		sc, err := setupCommand()
		if err != nil {
			return err
		}
		defer sc.Cleanup()

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(sc.Dispatcher.Definitions()); err != nil {
			return fmt.Errorf("encoding definitions: %w", err)
		}
		return nil
	},
}
