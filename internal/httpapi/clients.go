package httpapi

import (
	"net/http"

	"github.com/rdmnet-go/rdmnet/pkg/broker"
	brokerproto "github.com/rdmnet-go/rdmnet/pkg/proto/broker"
)

// clientView is the JSON-safe projection of broker.ClientEntry served by
// GET /v1/clients; CID/UID render as their string forms rather than raw
// byte arrays.
type clientView struct {
	CID      string `json:"cid"`
	Protocol string `json:"protocol"`
	UID      string `json:"uid,omitempty"`
}

type clientsHandler struct {
	b *broker.Broker
}

func newClientsHandler(b *broker.Broker) *clientsHandler {
	return &clientsHandler{b: b}
}

// list handles GET /v1/clients: a debug snapshot of every connected
// client, not a management API (no create/update/delete).
func (h *clientsHandler) list(w http.ResponseWriter, r *http.Request) {
	if h.b == nil {
		writeJSON(w, http.StatusServiceUnavailable, unhealthyResponse("broker not initialized"))
		return
	}
	entries := h.b.Clients()
	views := make([]clientView, 0, len(entries))
	for _, e := range entries {
		v := clientView{CID: e.CID.String(), Protocol: protocolName(e.Protocol)}
		if e.Protocol == brokerproto.ClientProtocolRPT {
			v.UID = e.UID.String()
		}
		views = append(views, v)
	}
	writeJSON(w, http.StatusOK, healthyResponse(views))
}

func protocolName(p uint32) string {
	if p == brokerproto.ClientProtocolRPT {
		return "rpt"
	}
	return "ept"
}
