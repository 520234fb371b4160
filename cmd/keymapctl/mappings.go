package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/nerrad567/keymap-core/internal/api"
	"github.com/nerrad567/keymap-core/internal/keymap"
)

func newMappingsCmd(o *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mappings",
		Short: "Show the committed key mappings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var resp api.MappingsResponse
			if err := o.client().do(cmd.Context(), http.MethodGet, "/api/v1/mappings", nil, &resp); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if o.asJSON {
				return printJSON(out, keymap.Document{Mappings: resp.Mappings})
			}
			if len(resp.Mappings) == 0 {
				fmt.Fprintln(out, "No mappings.")
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "INPUT\tOUTPUT")
			for _, m := range resp.Mappings {
				fmt.Fprintf(tw, "%s\t%s\n", m.Input, m.Output)
			}
			return tw.Flush()
		},
	}
	cmd.AddCommand(newSaveCmd(o))
	return cmd
}

func newSaveCmd(o *options) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "save",
		Short: "Replace the mapping set from a JSON document",
		Long: `Replace the mapping set from a JSON document of the form
{"mappings": [{"input": "caps", "output": "esc"}]}.

The document is checked locally before it is sent. Use -f - to read stdin.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := readInput(cmd.InOrStdin(), file)
			if err != nil {
				return err
			}
			if _, err := keymap.DecodeDocument(data); err != nil {
				return err
			}

			var res keymap.SaveResult
			err = o.client().do(cmd.Context(), http.MethodPut, "/api/v1/mappings", data, &res)
			var apiErr *apiError
			if errors.As(err, &apiErr) && len(apiErr.Repair) > 0 {
				var repair keymap.RepairFailedError
				if json.Unmarshal(apiErr.Repair, &repair) == nil && repair.BackupPath != "" {
					fmt.Fprintf(cmd.ErrOrStderr(), "Configuration could not be repaired; safe default applied. Your mappings were archived to %s\n", repair.BackupPath)
				}
				return err
			}
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if o.asJSON {
				return printJSON(out, res)
			}
			switch {
			case !res.Changed:
				fmt.Fprintln(out, "Configuration unchanged.")
			case res.Repaired:
				fmt.Fprintf(out, "Saved %d mappings after automatic repair.\n", len(res.Mappings))
			default:
				fmt.Fprintf(out, "Saved %d mappings.\n", len(res.Mappings))
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "mapping document to send (- for stdin)")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func readInput(stdin io.Reader, file string) ([]byte, error) {
	if file == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("reading stdin: %w", err)
		}
		return data, nil
	}
	data, err := os.ReadFile(file) //nolint:gosec // path comes from the command line
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", file, err)
	}
	return data, nil
}
