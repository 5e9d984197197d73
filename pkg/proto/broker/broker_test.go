package broker

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rdmnet-go/rdmnet/pkg/cid"
	"github.com/rdmnet-go/rdmnet/pkg/rdmuid"
)

func TestNullRoundTrip(t *testing.T) {
	packed, err := Pack(&BrokerNullMsg{})
	require.NoError(t, err)

	msg, n, err := Decode(packed)
	require.NoError(t, err)
	assert.Equal(t, len(packed), n)
	assert.IsType(t, &BrokerNullMsg{}, msg)
}

func TestDisconnectRoundTrip(t *testing.T) {
	original := &BrokerDisconnectMsg{Reason: DisconnectReasonCapacityExhausted}
	packed, err := Pack(original)
	require.NoError(t, err)

	msg, _, err := Decode(packed)
	require.NoError(t, err)
	got, ok := msg.(*BrokerDisconnectMsg)
	require.True(t, ok)
	assert.Equal(t, original.Reason, got.Reason)
}

func TestClientRedirectV4RoundTrip(t *testing.T) {
	original := &ClientRedirectMsg{IP: net.ParseIP("192.168.19.55"), Port: 0x8888}
	packed, err := Pack(original)
	require.NoError(t, err)

	msg, _, err := Decode(packed)
	require.NoError(t, err)
	got, ok := msg.(*ClientRedirectMsg)
	require.True(t, ok)
	assert.True(t, got.IP.Equal(original.IP))
	assert.Equal(t, original.Port, got.Port)
	assert.False(t, got.IsIPv6)
}

func TestConnectRoundTripWithRPTClientEntry(t *testing.T) {
	original := &BrokerConnectMsg{
		Scope:           "default",
		E133Version:     1,
		ConnectionFlags: 0,
		Client: ClientEntry{
			CID:           cid.New(),
			Protocol:      ClientProtocolRPT,
			UID:           rdmuid.UID{Manufacturer: 0x1234, Device: 0},
			RPTClientType: RPTClientTypeController,
		},
	}
	packed, err := Pack(original)
	require.NoError(t, err)

	msg, n, err := Decode(packed)
	require.NoError(t, err)
	assert.Equal(t, len(packed), n)
	got, ok := msg.(*BrokerConnectMsg)
	require.True(t, ok)
	assert.Equal(t, original.Scope, got.Scope)
	assert.Equal(t, original.Client.CID, got.Client.CID)
	assert.Equal(t, original.Client.UID, got.Client.UID)
	assert.Equal(t, original.Client.RPTClientType, got.Client.RPTClientType)
}

func TestConnectedClientListRoundTrip(t *testing.T) {
	clients := []ClientEntry{
		{CID: cid.New(), Protocol: ClientProtocolRPT, UID: rdmuid.UID{Manufacturer: 1, Device: 2}},
		{CID: cid.New(), Protocol: ClientProtocolEPT, EPTProtocols: []EPTSubProtocol{{Vector: 7, Name: "example"}}},
	}
	original := NewConnectedClientList(clients, true)
	packed, err := Pack(original)
	require.NoError(t, err)

	msg, _, err := Decode(packed)
	require.NoError(t, err)
	got, ok := msg.(*ClientListMsg)
	require.True(t, ok)
	require.Len(t, got.Clients, 2)
	assert.Equal(t, clients[0].UID, got.Clients[0].UID)
	assert.Equal(t, clients[1].EPTProtocols[0].Name, got.Clients[1].EPTProtocols[0].Name)
}

func TestRequestAndAssignedDynamicUIDsRoundTrip(t *testing.T) {
	reqOriginal := &RequestDynamicUIDsMsg{Requests: []DynamicUIDRequest{{ManufacturerID: 0x1234, CID: cid.New()}}}
	packed, err := Pack(reqOriginal)
	require.NoError(t, err)
	msg, _, err := Decode(packed)
	require.NoError(t, err)
	req, ok := msg.(*RequestDynamicUIDsMsg)
	require.True(t, ok)
	assert.Equal(t, reqOriginal.Requests[0].ManufacturerID, req.Requests[0].ManufacturerID)

	assignOriginal := &AssignedDynamicUIDsMsg{Assignments: []DynamicUIDAssignment{
		{UID: rdmuid.UID{Manufacturer: 0x1234, Device: 1}, CID: cid.New(), Status: DynamicUIDStatusOK},
	}}
	packed, err = Pack(assignOriginal)
	require.NoError(t, err)
	msg, _, err = Decode(packed)
	require.NoError(t, err)
	assign, ok := msg.(*AssignedDynamicUIDsMsg)
	require.True(t, ok)
	assert.Equal(t, assignOriginal.Assignments[0].UID, assign.Assignments[0].UID)
}

func TestDecodeUnsupportedVector(t *testing.T) {
	packed, err := Pack(&BrokerNullMsg{})
	require.NoError(t, err)
	packed[wire3()] = 0xFF // corrupt the vector's low byte
	_, _, err = Decode(packed)
	var unsupported *ErrUnsupportedVector
	assert.ErrorAs(t, err, &unsupported)
}

func wire3() int { return 4 } // offset of the vector field's low byte
