package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

// recordStatus filters the records list by delivery status
var recordStatus string

func init() {
	recordsListCmd.Flags().StringVar(&recordStatus, "status", "", "filter by status (PENDING, SUCCESS, FAILURE)")
	recordsListCmd.Flags().BoolVar(&jsonOutput, "json", false, "output raw JSON")
	recordsCmd.AddCommand(recordsListCmd)
	recordsCmd.AddCommand(recordsResendCmd)
	recordsCmd.AddCommand(recordsDeleteCmd)
}

// recordsCmd groups record operations
var recordsCmd = &cobra.Command{
	Use:   "records",
	Short: "Inspect and manage delivery records",
}

// RecordView matches internal/record/types.go Record
type RecordView struct {
	ID        string    `json:"id"`
	Phone     string    `json:"phone"`
	Code      string    `json:"code"`
	Status    string    `json:"status"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ListRecordsResponse matches internal/httpapi/server.go ListRecordsResponse
type ListRecordsResponse struct {
	Records []RecordView `json:"records"`
	Count   int          `json:"count"`
}

// ResendResponse matches internal/httpapi/server.go ResendResponse
type ResendResponse struct {
	RecordID string `json:"record_id"`
	Queued   bool   `json:"queued"`
}

var recordsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List delivery records",
	Long: `List delivery records, newest first.

Examples:
  # All records
  otpctl records list

  # Only unverified senders
  otpctl records list --status PENDING

  # Raw JSON for scripting
  otpctl records list --json`,
	RunE: runRecordsList,
}

var recordsResendCmd = &cobra.Command{
	Use:   "resend <record-id>",
	Short: "Queue a fresh delivery for a record",
	Args:  cobra.ExactArgs(1),
	RunE:  runRecordsResend,
}

var recordsDeleteCmd = &cobra.Command{
	Use:   "delete <record-id>",
	Short: "Delete a record, freeing its phone number",
	Args:  cobra.ExactArgs(1),
	RunE:  runRecordsDelete,
}

// runRecordsList handles the records list command
func runRecordsList(cmd *cobra.Command, args []string) error {
	path := "/api/v1/records"
	if recordStatus != "" {
		path += "?status=" + url.QueryEscape(recordStatus)
	}

	resp, err := apiGet(path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var listResp ListRecordsResponse
	if err := json.NewDecoder(resp.Body).Decode(&listResp); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(listResp)
	}

	if listResp.Count == 0 {
		fmt.Println("No records found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tPHONE\tCODE\tSTATUS\tUPDATED")
	for _, rec := range listResp.Records {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			rec.ID, rec.Phone, rec.Code, rec.Status, rec.UpdatedAt.Local().Format(time.RFC3339))
	}
	if err := w.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(os.Stderr, "\n%d record(s)\n", listResp.Count)
	return nil
}

// runRecordsResend handles the records resend command
func runRecordsResend(cmd *cobra.Command, args []string) error {
	path := fmt.Sprintf("/api/v1/records/%s/resend", url.PathEscape(args[0]))

	resp, err := apiSend(http.MethodPost, path, nil, http.StatusAccepted)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var resendResp ResendResponse
	if err := json.NewDecoder(resp.Body).Decode(&resendResp); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	fmt.Printf("Resend queued for record %s\n", resendResp.RecordID)
	return nil
}

// runRecordsDelete handles the records delete command
func runRecordsDelete(cmd *cobra.Command, args []string) error {
	path := "/api/v1/records/" + url.PathEscape(args[0])

	resp, err := apiSend(http.MethodDelete, path, nil, http.StatusNoContent)
	if err != nil {
		return err
	}
	resp.Body.Close()

	fmt.Printf("Deleted record %s\n", args[0])
	return nil
}
