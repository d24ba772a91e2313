package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
	goahttp "goa.design/goa/v3/http"
)

func newStatusCmd() *cobra.Command {
	var (
		server  string
		timeout int
		debug   bool
	)
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the status of a running server",
		RunE: func(cmd *cobra.Command, args []string) error {
			var status map[string]interface{}
			if err := getJSON(cmd.Context(), doer(timeout, debug), server, "/api/v1/system/status", &status); err != nil {
				return err
			}
			out, err := json.MarshalIndent(status, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}
	cmd.Flags().StringVarP(&server, "server", "s", "http://localhost:8080", "Server URL")
	cmd.Flags().IntVar(&timeout, "timeout", 30, "Request timeout in seconds")
	cmd.Flags().BoolVar(&debug, "debug", false, "Log request and response bodies")
	return cmd
}

func doer(timeout int, debug bool) goahttp.Doer {
	var (
		d goahttp.Doer
	)
	{
		d = &http.Client{Timeout: time.Duration(timeout) * time.Second}
		if debug {
			d = goahttp.NewDebugDoer(d)
		}
	}
	return d
}

// getJSON fetches path from server and decodes the JSON response into v
func getJSON(ctx context.Context, d goahttp.Doer, server, path string, v interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(server, "/")+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := d.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s returned status %d", path, resp.StatusCode)
	}
	if err := goahttp.ResponseDecoder(resp).Decode(v); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
