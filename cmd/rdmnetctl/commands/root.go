// Package commands implements rdmnetctl's cobra command tree: an
// operator's CLI for querying a running broker and running ad hoc LLRP
// discovery, structured the same way as rdmnetbroker's own command
// package (package-level rootCmd, persistent flags, one file per
// subcommand self-registering from init()).
package commands

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/rdmnet-go/rdmnet/internal/cli/output"
)

// Version, Commit, and Date are set by main from build-time ldflags.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

var (
	outputFormat string
	noColor      bool
)

var rootCmd = &cobra.Command{
	Use:   "rdmnetctl",
	Short: "Operate and inspect an RDMnet (ANSI E1.33) broker",
	Long: `rdmnetctl is a broker operator's CLI: list clients connected to
a running broker, browse brokers advertised over DNS-SD, and run ad hoc
LLRP discovery on the local network.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "table", "Output format: table, json, yaml")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	rootCmd.AddCommand(clientsCmd)
	rootCmd.AddCommand(brokersCmd)
	rootCmd.AddCommand(llrpCmd)
	rootCmd.AddCommand(versionCmd)
}

// printer builds the output.Printer each command uses, honoring the
// persistent --output/--no-color flags.
func printer() (*output.Printer, error) {
	format, err := output.ParseFormat(outputFormat)
	if err != nil {
		return nil, err
	}
	return output.NewPrinter(os.Stdout, format, !noColor), nil
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
