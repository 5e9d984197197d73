package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rdmnet-go/rdmnet/internal/cli/output"
	"github.com/rdmnet-go/rdmnet/pkg/discovery"
	"github.com/rdmnet-go/rdmnet/pkg/discovery/mdns"
)

var brokersTimeout time.Duration

var brokersCmd = &cobra.Command{
	Use:   "brokers",
	Short: "Discover brokers advertised over DNS-SD",
}

var brokersDiscoverCmd = &cobra.Command{
	Use:   "discover [scope]",
	Short: "Browse for brokers on a scope (default: the default scope)",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runBrokersDiscover,
}

func init() {
	brokersDiscoverCmd.Flags().DurationVar(&brokersTimeout, "timeout", 3*time.Second, "How long to listen for responses")
	brokersCmd.AddCommand(brokersDiscoverCmd)
}

type brokerView struct {
	Name  string `json:"service_instance_name"`
	CID   string `json:"cid"`
	Scope string `json:"scope"`
	Addrs string `json:"listen_addrs"`
}

func (v brokerView) row() []string { return []string{v.Name, v.CID, v.Scope, v.Addrs} }

type brokerTable struct{ brokers []brokerView }

func (t brokerTable) Headers() []string { return []string{"NAME", "CID", "SCOPE", "ADDRS"} }
func (t brokerTable) Rows() [][]string {
	rows := make([][]string, 0, len(t.brokers))
	for _, b := range t.brokers {
		rows = append(rows, b.row())
	}
	return rows
}

func runBrokersDiscover(cmd *cobra.Command, args []string) error {
	p, err := printer()
	if err != nil {
		return err
	}

	scope := "default"
	if len(args) == 1 {
		scope = args[0]
	}

	responder := mdns.New()
	adapter := discovery.New(responder)

	var found []brokerView
	stop, err := adapter.Monitor(discovery.MonitorConfig{
		Scope: scope,
		Callbacks: discovery.MonitorCallbacks{
			OnBrokerFound: func(b discovery.DiscoveredBroker) {
				found = append(found, brokerView{
					Name:  b.ServiceInstanceName,
					CID:   b.CID.String(),
					Scope: b.Scope,
					Addrs: fmt.Sprint(b.ListenAddrs),
				})
			},
		},
	})
	if err != nil {
		return fmt.Errorf("brokers discover: %w", err)
	}
	time.Sleep(brokersTimeout)
	stop()

	if p.Format() == output.FormatTable {
		return output.PrintTable(p.Writer(), brokerTable{brokers: found})
	}
	return p.Print(found)
}
