package commands

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/rdmnet-go/rdmnet/pkg/config"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Query a running broker's health endpoint",
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(GetConfigFile())
	if err != nil {
		return err
	}
	if !cfg.HTTPAPI.Enabled {
		return fmt.Errorf("httpapi is disabled in config; enable httpapi.enabled to use status")
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(fmt.Sprintf("http://%s/readyz", cfg.HTTPAPI.Addr))
	if err != nil {
		return fmt.Errorf("status: request failed: %w", err)
	}
	defer resp.Body.Close()

	var body map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("status: decode response: %w", err)
	}

	out, err := json.MarshalIndent(body, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}
