package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	serverURL  string
	apiKey     string
	loadStatus string
)

func main() {
	root := &cobra.Command{
		Use:   "sluicectl",
		Short: "CLI client for the sluice admin surface",
	}

	root.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080", "Admin server URL")
	root.PersistentFlags().StringVar(&apiKey, "api-key", os.Getenv("SLUICE_API_KEY"), "API key")

	root.AddCommand(&cobra.Command{
		Use:   "health",
		Short: "Check engine health",
		RunE:  runHealth,
	})

	root.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Show engine counters",
		RunE:  runStats,
	})

	root.AddCommand(&cobra.Command{
		Use:   "plugins",
		Short: "List loaded plugins",
		RunE:  runPlugins,
	})

	root.AddCommand(&cobra.Command{
		Use:   "metrics",
		Short: "Dump Prometheus metrics",
		RunE:  runMetrics,
	})

	loadsCmd := &cobra.Command{
		Use:   "loads [id]",
		Short: "Show plugin load records from the audit trail",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runLoads,
	}
	loadsCmd.Flags().StringVar(&loadStatus, "status", "", "Filter by load status (loaded, failed, rejected)")
	root.AddCommand(loadsCmd)

	root.AddCommand(&cobra.Command{
		Use:   "events",
		Short: "Show recent security events from the audit trail",
		RunE:  runEvents,
	})

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runHealth(_ *cobra.Command, _ []string) error {
	status, err := printJSON("/health")
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("engine degraded (HTTP %d)", status)
	}
	return nil
}

func runStats(_ *cobra.Command, _ []string) error {
	return expectOK("/stats")
}

func runPlugins(_ *cobra.Command, _ []string) error {
	return expectOK("/plugins")
}

func runLoads(_ *cobra.Command, args []string) error {
	if len(args) == 1 {
		return expectOK("/audit/loads/" + args[0])
	}
	path := "/audit/loads"
	if loadStatus != "" {
		path += "?status=" + url.QueryEscape(loadStatus)
	}
	return expectOK(path)
}

func runEvents(_ *cobra.Command, _ []string) error {
	return expectOK("/audit/events")
}

func runMetrics(_ *cobra.Command, _ []string) error {
	resp, err := get("/metrics")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("request failed (HTTP %d)", resp.StatusCode)
	}
	_, err = io.Copy(os.Stdout, resp.Body)
	return err
}

func expectOK(path string) error {
	status, err := printJSON(path)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("request failed (HTTP %d)", status)
	}
	return nil
}

// printJSON fetches path, pretty-prints the JSON body and reports the
// HTTP status.
func printJSON(path string) (int, error) {
	resp, err := get(path)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	var result any
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return resp.StatusCode, fmt.Errorf("decoding response: %w", err)
	}

	formatted, _ := json.MarshalIndent(result, "", "  ")
	fmt.Println(string(formatted))
	return resp.StatusCode, nil
}

func get(path string) (*http.Response, error) {
	req, err := http.NewRequest(http.MethodGet, serverURL+path, nil)
	if err != nil {
		return nil, err
	}
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	return resp, nil
}
