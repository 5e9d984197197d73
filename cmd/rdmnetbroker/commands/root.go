// Package commands implements rdmnetbroker's cobra command tree. Grounded
// on the teacher's cmd/dfs/commands package: a package-level rootCmd with
// a persistent --config flag, Version/Commit/Date vars set by main from
// ldflags, and one file per subcommand registered from that subcommand's
// own init().
package commands

import (
	"github.com/spf13/cobra"
)

// Version, Commit, and Date are set by main from build-time ldflags.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "rdmnetbroker",
	Short: "An RDMnet (ANSI E1.33) broker",
	Long: `rdmnetbroker runs an RDMnet broker: it accepts RPT and EPT client
connections for a scope, assigns dynamic UIDs, and routes RDM traffic
between controllers and devices.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Path to config file (default: $XDG_CONFIG_HOME/rdmnetbroker/config.yaml)")
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(configCmd)
}

// GetConfigFile returns the --config flag value, empty meaning "use the
// default XDG search path".
func GetConfigFile() string {
	return configFile
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
