package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

// The broker lives inside the serve process, so DLQ inspection goes through
// its HTTP API rather than the database.
var dlqServerURL string

var dlqCmd = &cobra.Command{
	Use:   "dlq",
	Short: "Inspect and replay dead-letter queues on a running service",
}

var dlqListCmd = &cobra.Command{
	Use:   "list <queue>",
	Short: "List dead-lettered messages for a queue",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return dlqRequest(http.MethodGet, fmt.Sprintf("%s/v1/dlq/%s", dlqServerURL, args[0]))
	},
}

var dlqReplayCmd = &cobra.Command{
	Use:   "replay <queue>",
	Short: "Move dead-lettered messages back onto their queue",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return dlqRequest(http.MethodPost, fmt.Sprintf("%s/v1/dlq/%s/replay", dlqServerURL, args[0]))
	},
}

func dlqRequest(method, url string) error {
	client := &http.Client{Timeout: 10 * time.Second}
	req, err := http.NewRequest(method, url, nil)
	if err != nil {
		return eris.Wrap(err, "create request")
	}
	resp, err := client.Do(req)
	if err != nil {
		return eris.Wrap(err, "call service")
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return eris.Wrap(err, "read response")
	}
	if resp.StatusCode != http.StatusOK {
		return eris.Errorf("service returned %d: %s", resp.StatusCode, string(body))
	}

	var out any
	if err := json.Unmarshal(body, &out); err != nil {
		return eris.Wrap(err, "parse response")
	}
	return printJSON(out)
}

func init() {
	dlqCmd.PersistentFlags().StringVar(&dlqServerURL, "server", "http://localhost:8080", "service base URL")
	dlqCmd.AddCommand(dlqListCmd)
	dlqCmd.AddCommand(dlqReplayCmd)
	rootCmd.AddCommand(dlqCmd)
}
