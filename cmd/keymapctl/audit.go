package main

import (
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/keymap-core/internal/audit"
)

func newAuditCmd(o *options) *cobra.Command {
	var (
		action string
		source string
		limit  int
		offset int
	)
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "List recorded commands and state transitions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			q := url.Values{}
			if action != "" {
				q.Set("action", action)
			}
			if source != "" {
				q.Set("source", source)
			}
			if limit > 0 {
				q.Set("limit", strconv.Itoa(limit))
			}
			if offset > 0 {
				q.Set("offset", strconv.Itoa(offset))
			}
			path := "/api/v1/audit"
			if len(q) > 0 {
				path += "?" + q.Encode()
			}

			var res audit.ListResult
			if err := o.client().do(cmd.Context(), http.MethodGet, path, nil, &res); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if o.asJSON {
				return printJSON(out, res)
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TIME\tACTION\tSOURCE\tDETAILS")
			for _, e := range res.Entries {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
					e.CreatedAt.Local().Format(time.DateTime), e.Action, e.Source, formatDetails(e.Details))
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(out, "%d of %d entries\n", len(res.Entries), res.Total)
			return nil
		},
	}
	cmd.Flags().StringVar(&action, "action", "", "filter by action (command, transition)")
	cmd.Flags().StringVar(&source, "source", "", "filter by source (user, api, mqtt, supervisor)")
	cmd.Flags().IntVar(&limit, "limit", 0, "page size (server default 50, max 200)")
	cmd.Flags().IntVar(&offset, "offset", 0, "entries to skip")
	return cmd
}

func formatDetails(d map[string]any) string {
	if len(d) == 0 {
		return "-"
	}
	keys := make([]string, 0, len(d))
	for k := range d {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%v", k, d[k])
	}
	return strings.Join(parts, " ")
}
