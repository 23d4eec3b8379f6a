package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

// pushFrom is the sender phone for an injected message
var pushFrom string

func init() {
	pushCmd.Flags().StringVar(&pushFrom, "from", "", "sender phone number (required)")
	_ = pushCmd.MarkFlagRequired("from")
}

// PushMessageRequest matches internal/httpapi/server.go PushMessageRequest
type PushMessageRequest struct {
	From       string    `json:"from"`
	Body       string    `json:"body"`
	ReceivedAt time.Time `json:"received_at,omitempty"`
}

// RescanResponse matches internal/httpapi/server.go RescanResponse
type RescanResponse struct {
	Scanned int `json:"scanned"`
}

// pushCmd injects a message into the pipeline
var pushCmd = &cobra.Command{
	Use:   "push <body>",
	Short: "Inject a message into the pipeline",
	Long: `Inject a message as if it had been received from the given sender.

Examples:
  # Inject a verification message
  otpctl push --from +15551234 "Your code is DONIKKAH 482910"`,
	Args: cobra.ExactArgs(1),
	RunE: runPush,
}

// rescanCmd triggers a spool rescan
var rescanCmd = &cobra.Command{
	Use:   "rescan",
	Short: "Rescan the spool for unprocessed codes",
	Long: `Re-read the message spool and reprocess the newest message per sender.

Examples:
  # Trigger a rescan
  otpctl rescan`,
	RunE: runRescan,
}

// runPush handles the push command
func runPush(cmd *cobra.Command, args []string) error {
	req := PushMessageRequest{
		From:       pushFrom,
		Body:       args[0],
		ReceivedAt: time.Now().UTC(),
	}

	resp, err := apiSend(http.MethodPost, "/api/v1/messages", req, http.StatusAccepted)
	if err != nil {
		return err
	}
	resp.Body.Close()

	fmt.Printf("Message from %s accepted\n", pushFrom)
	return nil
}

// runRescan handles the rescan command
func runRescan(cmd *cobra.Command, args []string) error {
	resp, err := apiSend(http.MethodPost, "/api/v1/rescan", nil, http.StatusOK)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var rescanResp RescanResponse
	if err := json.NewDecoder(resp.Body).Decode(&rescanResp); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	fmt.Printf("Rescan complete: %d message(s) processed\n", rescanResp.Scanned)
	return nil
}
