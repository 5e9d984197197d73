package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rdmnet-go/rdmnet/internal/cli/prompt"
	"github.com/rdmnet-go/rdmnet/pkg/config"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Interactively create a configuration file",
	Long: `init walks through the broker's basic settings (scope, listen
address, logging level) and writes a config.yaml, the way dittofs's own
setup commands prompt through pkg/config before first run.`,
	RunE: runInit,
}

func runInit(cmd *cobra.Command, args []string) error {
	if config.DefaultConfigExists() && GetConfigFile() == "" {
		overwrite, err := prompt.Confirm(fmt.Sprintf("%s already exists. Overwrite?", config.GetDefaultConfigPath()), false)
		if err != nil {
			return err
		}
		if !overwrite {
			fmt.Fprintln(cmd.OutOrStdout(), "aborted")
			return nil
		}
	}

	cfg := &config.Config{}

	scope, err := prompt.Input("Scope", "default")
	if err != nil {
		return err
	}
	cfg.Scope = scope

	port, err := prompt.InputPort("Listen port", config.DefaultE133Port)
	if err != nil {
		return err
	}
	cfg.ListenAddrs = []string{fmt.Sprintf("0.0.0.0:%d", port)}

	level, err := prompt.SelectString("Log level", []string{"INFO", "DEBUG", "WARN", "ERROR"})
	if err != nil {
		return err
	}
	cfg.Logging.Level = level

	metricsEnabled, err := prompt.Confirm("Enable Prometheus metrics", false)
	if err != nil {
		return err
	}
	cfg.Metrics.Enabled = metricsEnabled

	discoveryEnabled, err := prompt.Confirm("Announce this broker over DNS-SD", true)
	if err != nil {
		return err
	}
	cfg.Discovery.Enabled = discoveryEnabled

	config.ApplyDefaults(cfg)
	if err := config.Validate(cfg); err != nil {
		return err
	}

	path := GetConfigFile()
	if path == "" {
		path = config.GetDefaultConfigPath()
	}
	if err := config.Save(cfg, path); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Configuration written to %s\n", path)
	return nil
}
