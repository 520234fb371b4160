package main

import (
	"fmt"
	"net/http"
	"net/url"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/keymap-core/internal/diagnostics"
	"github.com/nerrad567/keymap-core/internal/ownership"
)

func newDiagnosticsCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:     "diagnostics",
		Aliases: []string{"diag"},
		Short:   "List recent diagnostics",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var resp struct {
				Diagnostics []diagnostics.Diagnostic `json:"diagnostics"`
				Count       int                      `json:"count"`
			}
			if err := o.client().do(cmd.Context(), http.MethodGet, "/api/v1/diagnostics", nil, &resp); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if o.asJSON {
				return printJSON(out, resp.Diagnostics)
			}
			if resp.Count == 0 {
				fmt.Fprintln(out, "No diagnostics.")
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tTIME\tSEVERITY\tCATEGORY\tTITLE\tFIX")
			for _, d := range resp.Diagnostics {
				fix := "-"
				if d.CanAutoFix {
					fix = string(d.Fix)
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
					d.ID, d.Timestamp.Local().Format(time.DateTime), d.Severity, d.Category, d.Title, fix)
			}
			return tw.Flush()
		},
	}
}

func newFixCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "fix ID",
		Short: "Apply the automatic fix for a diagnostic",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/api/v1/diagnostics/" + url.PathEscape(args[0]) + "/fix"
			return fetchAndPrintStatus(cmd, o, http.MethodPost, path)
		},
	}
}

func newConflictsCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "conflicts",
		Short: "Show engine processes keymapd does not own",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var res ownership.ConflictResolution
			if err := o.client().do(cmd.Context(), http.MethodGet, "/api/v1/conflicts", nil, &res); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if o.asJSON {
				return printJSON(out, res)
			}
			fmt.Fprintln(out, res.Summary)
			fmt.Fprintf(out, "Recommended: %s\n", res.RecommendedAction)
			for _, p := range res.ExternalProcesses {
				fmt.Fprintf(out, "  %d  %s\n", p.PID, p.CommandLine)
			}
			return nil
		},
	}
}
