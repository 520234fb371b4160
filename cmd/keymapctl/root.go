package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

const (
	defaultURL     = "http://127.0.0.1:7331"
	requestTimeout = 30 * time.Second
)

// options are the persistent flags shared by every command.
type options struct {
	url     string
	token   string
	asJSON  bool
	timeout time.Duration
}

func newRootCmd() *cobra.Command {
	o := &options{}

	root := &cobra.Command{
		Use:           "keymapctl",
		Short:         "Control the keymapd engine supervisor",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&o.url, "url", envOr("KEYMAPD_URL", defaultURL), "keymapd API base URL (env KEYMAPD_URL)")
	flags.StringVar(&o.token, "token", os.Getenv("KEYMAPD_TOKEN"), "bearer token (env KEYMAPD_TOKEN)")
	flags.BoolVar(&o.asJSON, "json", false, "print raw JSON responses")
	flags.DurationVar(&o.timeout, "timeout", requestTimeout, "request timeout")

	root.AddCommand(
		newStatusCmd(o),
		newEngineCmd(o, "start", "Start the engine", "/api/v1/engine/start"),
		newEngineCmd(o, "stop", "Stop the engine", "/api/v1/engine/stop"),
		newEngineCmd(o, "retry", "Retry after fixing permissions or conflicts", "/api/v1/engine/retry"),
		newEngineCmd(o, "reset", "Replace the configuration with the safe default", "/api/v1/config/reset"),
		newMappingsCmd(o),
		newDiagnosticsCmd(o),
		newFixCmd(o),
		newConflictsCmd(o),
		newAuditCmd(o),
		newTokenCmd(),
	)
	return root
}

func (o *options) client() *client {
	return &client{
		base:  o.url,
		token: o.token,
		http:  &http.Client{Timeout: o.timeout},
	}
}

// printJSON writes v indented.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encoding output: %w", err)
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
