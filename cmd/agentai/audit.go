package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/Jazzman94/agentai/internal/audit"
)

var (
	auditOperation string
	auditLimit     int
	auditJSON      bool
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Show recent calls from the audit store",
	Long: `List the most recent dispatched calls, newest first. Requires audit.driver
sqlite or postgres; the jsonl trail is a plain file and can be read directly.`,
	Example: `  agentai audit --limit 20
  agentai audit --operation run_python_file --json`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		sc, err := setupCommand()
		if err != nil {
			return err
		}
		defer sc.Cleanup()

		if sc.Store == nil {
			return errors.New("audit history needs audit.enabled with driver sqlite or postgres")
		}
		return printAudit(cmd.Context(), os.Stdout, sc.Store.Audit(), auditOperation, auditLimit, auditJSON)
	},
}

func init() {
	auditCmd.Flags().StringVar(&auditOperation, "operation", "", "only show this operation")
	auditCmd.Flags().IntVarP(&auditLimit, "limit", "n", 50, "maximum number of entries")
	auditCmd.Flags().BoolVar(&auditJSON, "json", false, "print entries as JSON lines")
}

// printAudit writes the newest entries of store to w, as a table or as
// JSON lines.
func printAudit(ctx context.Context, w io.Writer, store audit.Store, operation string, limit int, asJSON bool) error {
	if ctx == nil {
		ctx = context.Background()
	}
	entries, err := store.Recent(ctx, operation, limit)
	if err != nil {
		return fmt.Errorf("reading audit store: %w", err)
	}

	if asJSON {
		enc := json.NewEncoder(w)
		for _, e := range entries {
			if err := enc.Encode(e); err != nil {
				return err
			}
		}
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tCALL ID\tCALLER\tOPERATION\tOUTCOME\tDURATION")
	for _, e := range entries {
		outcome := "success"
		if !e.Success {
			outcome = e.Kind
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			e.Timestamp.Format(time.RFC3339), e.CallID, dash(e.Caller), e.Operation, outcome,
			(time.Duration(e.DurationMS) * time.Millisecond).String())
	}
	return tw.Flush()
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
