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

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "deployctl",
	Short: "Submit a LOCAL-override deployment document to a running deployengine",
	Long: `deployctl is the worked local-override submission path (spec.md §1/§4.1,
scenario S6): it POSTs a deployment document's raw JSON to a running
deployengine's local management API and, unless --no-wait is given, polls
GET /v1/deployments/{id}/status until the deployment reaches a terminal
status.`,
}

var submitCmd = &cobra.Command{
	Use:   "submit FILE",
	Short: "Submit a deployment configuration document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		engineAddr, _ := cmd.Flags().GetString("engine")
		groupID, _ := cmd.Flags().GetString("group-id")
		noWait, _ := cmd.Flags().GetBool("no-wait")
		pollInterval, _ := cmd.Flags().GetDuration("poll-interval")
		timeout, _ := cmd.Flags().GetDuration("timeout")

		doc, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("reading %s: %w", args[0], err)
		}

		reqBody, err := json.Marshal(map[string]json.RawMessage{
			"groupId":  json.RawMessage(fmt.Sprintf("%q", groupID)),
			"document": doc,
		})
		if err != nil {
			return fmt.Errorf("building request: %w", err)
		}

		resp, err := http.Post(fmt.Sprintf("http://%s/v1/local/deployments", engineAddr), "application/json", bytes.NewReader(reqBody))
		if err != nil {
			return fmt.Errorf("submitting to %s: %w", engineAddr, err)
		}
		defer resp.Body.Close()

		body, _ := io.ReadAll(resp.Body)
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("engine rejected submission (%s): %s", resp.Status, string(body))
		}

		var submitResp struct {
			DeploymentID string `json:"deploymentId"`
		}
		if err := json.Unmarshal(body, &submitResp); err != nil {
			return fmt.Errorf("decoding submission response: %w", err)
		}

		fmt.Printf("Submitted deployment: %s\n", submitResp.DeploymentID)
		if noWait {
			return nil
		}
		return pollStatus(engineAddr, submitResp.DeploymentID, pollInterval, timeout)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status DEPLOYMENT_ID",
	Short: "Print the current status of a deployment",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		engineAddr, _ := cmd.Flags().GetString("engine")
		status, err := fetchStatus(engineAddr, args[0])
		if err != nil {
			return err
		}
		return printStatus(status)
	},
}

type deploymentStatus struct {
	DeploymentID   string `json:"deploymentId"`
	Status         string `json:"status"`
	DetailedStatus string `json:"detailedStatus,omitempty"`
	FailureCause   string `json:"failureCause,omitempty"`
}

func fetchStatus(engineAddr, id string) (*deploymentStatus, error) {
	resp, err := http.Get(fmt.Sprintf("http://%s/v1/deployments/%s/status", engineAddr, id))
	if err != nil {
		return nil, fmt.Errorf("fetching status from %s: %w", engineAddr, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("unknown deployment id: %s", id)
	}
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("engine returned %s: %s", resp.Status, string(body))
	}

	var status deploymentStatus
	if err := json.Unmarshal(body, &status); err != nil {
		return nil, fmt.Errorf("decoding status response: %w", err)
	}
	return &status, nil
}

func printStatus(status *deploymentStatus) error {
	fmt.Printf("%s: %s", status.DeploymentID, status.Status)
	if status.DetailedStatus != "" {
		fmt.Printf(" (%s)", status.DetailedStatus)
	}
	fmt.Println()
	if status.FailureCause != "" {
		fmt.Printf("  cause: %s\n", status.FailureCause)
	}
	return nil
}

// terminalStatuses mirrors types.DeploymentStatus.Terminal without a direct
// pkg/types import, keeping deployctl a thin HTTP client rather than a
// second consumer of the engine's internal domain package.
var terminalStatuses = map[string]bool{
	"SUCCEEDED":  true,
	"FAILED":     true,
	"SUPERSEDED": true,
	"CANCELLED":  true,
}

func pollStatus(engineAddr, id string, interval, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		status, err := fetchStatus(engineAddr, id)
		if err != nil {
			return err
		}
		printStatus(status)
		if terminalStatuses[status.Status] {
			if status.Status != "SUCCEEDED" {
				return fmt.Errorf("deployment did not succeed: %s", status.Status)
			}
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("timed out waiting for deployment %s to reach a terminal status", id)
		}
		time.Sleep(interval)
	}
}

func init() {
	rootCmd.PersistentFlags().String("engine", "127.0.0.1:7780", "deployengine local management API address")

	submitCmd.Flags().String("group-id", "", "Group scoping this document's root contributions")
	submitCmd.Flags().Bool("no-wait", false, "Submit and return immediately without polling for status")
	submitCmd.Flags().Duration("poll-interval", 2*time.Second, "Interval between status polls")
	submitCmd.Flags().Duration("timeout", 5*time.Minute, "Maximum time to wait for a terminal status")

	rootCmd.AddCommand(submitCmd)
	rootCmd.AddCommand(statusCmd)
}
