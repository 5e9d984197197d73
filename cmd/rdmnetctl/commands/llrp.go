package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rdmnet-go/rdmnet/internal/cli/output"
	"github.com/rdmnet-go/rdmnet/pkg/cid"
	"github.com/rdmnet-go/rdmnet/pkg/llrp/manager"
	"github.com/rdmnet-go/rdmnet/pkg/proto/llrp"
	"github.com/rdmnet-go/rdmnet/pkg/transport/mcast"
)

var llrpTimeout time.Duration

var llrpCmd = &cobra.Command{
	Use:   "llrp",
	Short: "Run ad hoc LLRP discovery on the local network",
}

var llrpDiscoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Probe the local network for LLRP-discoverable components",
	Long: `discover issues LLRP probe requests over multicast on every
eligible local interface and prints every component that replies:
brokers, RPT controllers/devices, and EPT clients alike. It uses
pkg/llrp/manager, the controller/discovering side of LLRP (the broker
binary instead uses pkg/llrp/target, since it is itself a discoverable
component).`,
	RunE: runLLRPDiscover,
}

func init() {
	llrpDiscoverCmd.Flags().DurationVar(&llrpTimeout, "timeout", 10*time.Second, "Maximum time to run discovery")
	llrpCmd.AddCommand(llrpDiscoverCmd)
}

type llrpTargetView struct {
	CID           string `json:"cid"`
	UID           string `json:"uid"`
	ComponentType string `json:"component_type"`
}

func (v llrpTargetView) row() []string { return []string{v.CID, v.UID, v.ComponentType} }

type llrpTable struct{ targets []llrpTargetView }

func (t llrpTable) Headers() []string { return []string{"CID", "UID", "TYPE"} }
func (t llrpTable) Rows() [][]string {
	rows := make([][]string, 0, len(t.targets))
	for _, tv := range t.targets {
		rows = append(rows, tv.row())
	}
	return rows
}

func componentTypeName(ct uint8) string {
	switch ct {
	case llrp.ComponentTypeRPTDevice:
		return "rpt-device"
	case llrp.ComponentTypeRPTController:
		return "rpt-controller"
	case llrp.ComponentTypeBroker:
		return "broker"
	case llrp.ComponentTypeEPTClient:
		return "ept-client"
	default:
		return "unknown"
	}
}

func runLLRPDiscover(cmd *cobra.Command, args []string) error {
	p, err := printer()
	if err != nil {
		return err
	}

	ifaces, err := mcast.Interfaces()
	if err != nil {
		return fmt.Errorf("llrp discover: %w", err)
	}
	if len(ifaces) == 0 {
		return fmt.Errorf("llrp discover: no eligible multicast interfaces found")
	}

	var found []llrpTargetView
	m := manager.New(manager.Callbacks{
		TargetDiscovered: func(t manager.TargetRecord) {
			found = append(found, llrpTargetView{
				CID:           t.CID.String(),
				UID:           t.UID.String(),
				ComponentType: componentTypeName(t.ComponentType),
			})
		},
	})

	ctx, cancel := context.WithTimeout(context.Background(), llrpTimeout)
	defer cancel()

	senderCID := cid.New()
	transport := mcast.New()
	if err := manager.Discover(ctx, m, senderCID, transport, ifaces); err != nil && err != context.DeadlineExceeded {
		return fmt.Errorf("llrp discover: %w", err)
	}

	if p.Format() == output.FormatTable {
		return output.PrintTable(p.Writer(), llrpTable{targets: found})
	}
	return p.Print(found)
}
