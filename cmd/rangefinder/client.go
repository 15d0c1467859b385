package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/banshee-data/rangefinder/internal/httputil"
)

// estimateReply mirrors the fields of api.EstimateResponse the CLI prints.
type estimateReply struct {
	SessionID  string `json:"session_id"`
	State      string `json:"state"`
	Configured bool   `json:"configured"`
	Estimate   *struct {
		Display string `json:"display"`
		Pixel   int    `json:"pixel"`
	} `json:"estimate"`
	Error string `json:"error"`
}

type finalizeReply struct {
	Result struct {
		ID      string `json:"id"`
		Display string `json:"display"`
	} `json:"result"`
	Stored bool `json:"stored"`
}

func decodeReply(resp *http.Response, v any) error {
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// printEstimate prints the running server's current estimate.
func printEstimate(client httputil.HTTPClient, base string, out io.Writer) error {
	resp, err := client.Get(strings.TrimRight(base, "/") + "/api/estimate")
	if err != nil {
		return fmt.Errorf("failed to reach server: %w", err)
	}
	var r estimateReply
	if err := decodeReply(resp, &r); err != nil {
		return err
	}
	if !r.Configured || r.Estimate == nil {
		fmt.Fprintf(out, "session %s (%s): not configured: %s\n", r.SessionID, r.State, r.Error)
		return nil
	}
	fmt.Fprintf(out, "session %s (%s): %s at pixel %d\n", r.SessionID, r.State, r.Estimate.Display, r.Estimate.Pixel)
	return nil
}

// postFinalize finalizes the running server's session and prints the result.
func postFinalize(client httputil.HTTPClient, base string, out io.Writer) error {
	resp, err := client.Post(strings.TrimRight(base, "/")+"/api/finalize", "application/json", nil)
	if err != nil {
		return fmt.Errorf("failed to reach server: %w", err)
	}
	var r finalizeReply
	if err := decodeReply(resp, &r); err != nil {
		return err
	}
	stored := "not stored"
	if r.Stored {
		stored = "stored"
	}
	fmt.Fprintf(out, "session %s: %s (%s)\n", r.Result.ID, r.Result.Display, stored)
	return nil
}
