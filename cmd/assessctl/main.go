// Package main implements the assessctl CLI for manual operations against
// the assessd HTTP server.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	// serverURL is the base URL for the assessd HTTP server
	serverURL string
	// version information
	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "assessctl",
	Short: "CLI for assessd HTTP server operations",
	Long: `assessctl is a command-line interface for driving assessment sessions
on an assessd server: creating sessions, starting rounds, recording progress
and submitting work for evaluation.`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8820", "assessd server URL")
	rootCmd.AddCommand(createCmd)
	rootCmd.AddCommand(beginCmd)
	rootCmd.AddCommand(progressCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(submitCmd)
	rootCmd.AddCommand(retryCmd)
	rootCmd.AddCommand(abandonCmd)
	rootCmd.AddCommand(healthCmd)
}

var createCmd = &cobra.Command{
	Use:   "create <candidate-id> <pipeline-type>",
	Short: "Create an assessment session",
	Long: `Create an assessment session for a candidate.

Pipeline types: objective-pipeline, hybrid-pipeline, analytical-pipeline.

Examples:
  # Create a session for a product-employer pipeline
  assessctl create cand-42 objective-pipeline`,
	Args: cobra.ExactArgs(2),
	RunE: runCreate,
}

var beginCmd = &cobra.Command{
	Use:   "begin <session-id>",
	Short: "Start the session's current round",
	Args:  cobra.ExactArgs(1),
	RunE:  runBegin,
}

var progressCmd = &cobra.Command{
	Use:   "progress <session-id>",
	Short: "Show aggregated session progress",
	Args:  cobra.ExactArgs(1),
	RunE:  runProgress,
}

var syncCmd = &cobra.Command{
	Use:   "sync <round-id> [file]",
	Short: "Record partial working data for the active round",
	Long: `Record partial working data for the active round. The payload is read
from a JSON file or stdin and its shape depends on the round kind (answer
maps, a code buffer, chat messages, a diagram graph).

Examples:
  # Sync a code buffer
  assessctl sync rnd-1 buffer.json

  # Sync from stdin
  echo '{"answers":{"q1":"b"}}' | assessctl sync rnd-1 -`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runSync,
}

var submitCmd = &cobra.Command{
	Use:   "submit <round-id>",
	Short: "Submit the round's work for evaluation",
	Long: `Submit the round's accumulated working data for evaluation.

With --checkpoint, conversational and diagram rounds submit for interim
scoring and stay active; the final submit ends the round.`,
	Args: cobra.ExactArgs(1),
	RunE: runSubmit,
}

var retryCmd = &cobra.Command{
	Use:   "retry <session-id>",
	Short: "Retry the session's failed round",
	Args:  cobra.ExactArgs(1),
	RunE:  runRetry,
}

var abandonCmd = &cobra.Command{
	Use:   "abandon <session-id>",
	Short: "Abandon a session",
	Args:  cobra.ExactArgs(1),
	RunE:  runAbandon,
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check assessd server health",
	RunE:  runHealth,
}

var checkpointFlag bool

func init() {
	submitCmd.Flags().BoolVar(&checkpointFlag, "checkpoint", false, "interim submit; the round stays active")
}

// CreateRequest matches internal/httpapi/server.go CreateRequest
type CreateRequest struct {
	CandidateID  string `json:"candidate_id"`
	PipelineType string `json:"pipeline_type"`
}

// ProgressRequest matches internal/httpapi/server.go ProgressRequest
type ProgressRequest struct {
	Partial json.RawMessage `json:"partial"`
}

// SubmitRequest matches internal/httpapi/server.go SubmitRequest
type SubmitRequest struct {
	Final *bool `json:"final,omitempty"`
}

// HealthResponse matches internal/httpapi/server.go HealthResponse
type HealthResponse struct {
	Status string `json:"status"`
}

func runCreate(cmd *cobra.Command, args []string) error {
	body, err := doRequest(http.MethodPost, "/api/v1/assessments", CreateRequest{
		CandidateID:  args[0],
		PipelineType: args[1],
	})
	if err != nil {
		return err
	}
	return printJSON(body)
}

func runBegin(cmd *cobra.Command, args []string) error {
	body, err := doRequest(http.MethodPost, fmt.Sprintf("/api/v1/assessments/%s/rounds/begin", args[0]), nil)
	if err != nil {
		return err
	}
	return printJSON(body)
}

func runProgress(cmd *cobra.Command, args []string) error {
	body, err := doRequest(http.MethodGet, fmt.Sprintf("/api/v1/assessments/%s/progress", args[0]), nil)
	if err != nil {
		return err
	}
	return printJSON(body)
}

func runSync(cmd *cobra.Command, args []string) error {
	var partial []byte
	var err error

	if len(args) < 2 || args[1] == "-" {
		partial, err = io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("failed to read from stdin: %w", err)
		}
	} else {
		partial, err = os.ReadFile(args[1])
		if err != nil {
			return fmt.Errorf("failed to read file %s: %w", args[1], err)
		}
	}

	if !json.Valid(partial) {
		return fmt.Errorf("partial working data must be valid JSON")
	}

	body, err := doRequest(http.MethodPost, fmt.Sprintf("/api/v1/rounds/%s/progress", args[0]), ProgressRequest{
		Partial: partial,
	})
	if err != nil {
		return err
	}
	if len(body) == 0 {
		fmt.Fprintln(os.Stderr, "[assessctl] progress recorded")
		return nil
	}
	return printJSON(body)
}

func runSubmit(cmd *cobra.Command, args []string) error {
	final := !checkpointFlag
	body, err := doRequest(http.MethodPost, fmt.Sprintf("/api/v1/rounds/%s/submit", args[0]), SubmitRequest{
		Final: &final,
	})
	if err != nil {
		return err
	}
	return printJSON(body)
}

func runRetry(cmd *cobra.Command, args []string) error {
	body, err := doRequest(http.MethodPost, fmt.Sprintf("/api/v1/assessments/%s/retry", args[0]), nil)
	if err != nil {
		return err
	}
	return printJSON(body)
}

func runAbandon(cmd *cobra.Command, args []string) error {
	if _, err := doRequest(http.MethodPost, fmt.Sprintf("/api/v1/assessments/%s/abandon", args[0]), nil); err != nil {
		return err
	}
	fmt.Fprintln(os.Stderr, "[assessctl] session abandoned")
	return nil
}

func runHealth(cmd *cobra.Command, args []string) error {
	body, err := doRequest(http.MethodGet, "/health", nil)
	if err != nil {
		return err
	}

	var healthResp HealthResponse
	if err := json.Unmarshal(body, &healthResp); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	fmt.Printf("Server Status: %s\n", healthResp.Status)
	fmt.Printf("Server URL: %s\n", serverURL)
	return nil
}

// doRequest sends a JSON request to the server and returns the response
// body, treating any non-2xx status as an error.
func doRequest(method, path string, payload any) ([]byte, error) {
	var reqBody io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		reqBody = bytes.NewReader(b)
	}

	url := serverURL + path
	httpReq, err := http.NewRequest(method, url, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if payload != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	client := &http.Client{
		Timeout: 30 * time.Second,
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request to %s: %w", url, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("server returned status %d: %s", resp.StatusCode, string(body))
	}

	return body, nil
}

// printJSON pretty-prints a JSON response body to stdout.
func printJSON(body []byte) error {
	var buf bytes.Buffer
	if err := json.Indent(&buf, body, "", "  "); err != nil {
		// Not JSON; print as-is.
		fmt.Println(string(body))
		return nil
	}
	fmt.Println(buf.String())
	return nil
}
