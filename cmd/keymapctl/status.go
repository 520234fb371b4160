package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/keymap-core/internal/supervisor"
)

func newStatusCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the engine lifecycle state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return fetchAndPrintStatus(cmd, o, http.MethodGet, "/api/v1/status")
		},
	}
}

// newEngineCmd builds a lifecycle command. Each answers with the status
// after the command.
func newEngineCmd(o *options, use, short, path string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return fetchAndPrintStatus(cmd, o, http.MethodPost, path)
		},
	}
}

func fetchAndPrintStatus(cmd *cobra.Command, o *options, method, path string) error {
	var raw json.RawMessage
	if err := o.client().do(cmd.Context(), method, path, nil, &raw); err != nil {
		return err
	}
	if o.asJSON {
		_, err := cmd.OutOrStdout().Write(append(raw, '\n'))
		return err
	}
	var st supervisor.Status
	if err := json.Unmarshal(raw, &st); err != nil {
		return fmt.Errorf("decoding status: %w", err)
	}
	printStatus(cmd.OutOrStdout(), st)
	return nil
}

func printStatus(w io.Writer, st supervisor.Status) {
	fmt.Fprintf(w, "State:     %s\n", st.State)
	if st.Reason != "" {
		fmt.Fprintf(w, "Reason:    %s\n", st.Reason)
	}
	if st.UserActionRequired {
		fmt.Fprintln(w, "Action:    required (see diagnostics)")
	}
	if st.OwnedPID != 0 {
		fmt.Fprintf(w, "PID:       %d\n", st.OwnedPID)
	}
	if st.Recovering {
		fmt.Fprintln(w, "Recovery:  in progress")
	}
	if st.Conflict != nil {
		fmt.Fprintf(w, "Conflict:  %s\n", st.Conflict.Summary)
	}
	fmt.Fprintf(w, "Mappings:  %d\n", len(st.Mappings))
	if !st.LastConfigUpdate.IsZero() {
		fmt.Fprintf(w, "Updated:   %s\n", st.LastConfigUpdate.Local().Format(time.DateTime))
	}
	fmt.Fprintf(w, "Retries:   auto-start %d, external-fix %d\n", st.AutoStartAttempts, st.ExternalFixAttempts)
	if n := len(st.Diagnostics); n > 0 {
		titles := make([]string, 0, n)
		for _, d := range st.Diagnostics {
			titles = append(titles, d.Title)
		}
		fmt.Fprintf(w, "Problems:  %s\n", strings.Join(titles, "; "))
	}
}
