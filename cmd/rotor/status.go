package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"github.com/tv42/httpunix"
)

func newStatusCommand() *cobra.Command {
	var unixPath string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Query a serving inspector over its unix socket",

		RunE: func(cmd *cobra.Command, _ []string) error {
			u := &httpunix.Transport{
				DialTimeout:           100 * time.Millisecond,
				RequestTimeout:        time.Second,
				ResponseHeaderTimeout: time.Second,
			}
			u.RegisterLocation("rotor", unixPath)
			client := &http.Client{Transport: u}

			lib, err := getJSON(client, "http+unix://rotor/lib")
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "irreversible: %s\n", lib)

			round, err := getJSON(client, "http+unix://rotor/round")
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "round: %s\n", round)
			return nil
		},
	}

	cmd.Flags().StringVar(&unixPath, "unix", "", "unix socket path of the serving inspector")
	_ = cmd.MarkFlagRequired("unix")

	return cmd
}

func getJSON(client *http.Client, url string) (string, error) {
	resp, err := client.Get(url)
	if err != nil {
		return "", fmt.Errorf("failed to query %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%s returned status %d", url, resp.StatusCode)
	}

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}

	// Re-indent for the terminal.
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return "", fmt.Errorf("invalid response from %s: %w", url, err)
	}
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", err
	}
	return string(out), nil
}
