package commands

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/rdmnet-go/rdmnet/internal/cli/output"
)

var clientsAddr string

var clientsCmd = &cobra.Command{
	Use:   "clients",
	Short: "Inspect clients connected to a broker",
}

var clientsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List clients connected to a running broker",
	Long: `list queries a running broker's internal/httpapi debug surface
(/v1/clients), the same endpoint internal/httpapi exposes for health
checks and monitoring.`,
	RunE: runClientsList,
}

func init() {
	clientsCmd.PersistentFlags().StringVar(&clientsAddr, "broker", "127.0.0.1:9000", "Broker httpapi address (host:port)")
	clientsCmd.AddCommand(clientsListCmd)
}

type clientView struct {
	CID      string `json:"cid"`
	Protocol string `json:"protocol"`
	UID      string `json:"uid,omitempty"`
}

func (v clientView) row() []string {
	return []string{v.CID, v.Protocol, v.UID}
}

type clientTable struct {
	clients []clientView
}

func (t clientTable) Headers() []string { return []string{"CID", "PROTOCOL", "UID"} }
func (t clientTable) Rows() [][]string {
	rows := make([][]string, 0, len(t.clients))
	for _, c := range t.clients {
		rows = append(rows, c.row())
	}
	return rows
}

func runClientsList(cmd *cobra.Command, args []string) error {
	p, err := printer()
	if err != nil {
		return err
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(fmt.Sprintf("http://%s/v1/clients", clientsAddr))
	if err != nil {
		return fmt.Errorf("clients list: request failed: %w", err)
	}
	defer resp.Body.Close()

	var body struct {
		Status string       `json:"status"`
		Data   []clientView `json:"data"`
		Error  string       `json:"error,omitempty"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("clients list: decode response: %w", err)
	}
	if body.Status != "healthy" {
		return fmt.Errorf("clients list: broker returned error: %s", body.Error)
	}

	if p.Format() == output.FormatTable {
		return output.PrintTable(p.Writer(), clientTable{clients: body.Data})
	}
	return p.Print(body.Data)
}
