package ept

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rdmnet-go/rdmnet/pkg/cid"
)

func TestDataRoundTrip(t *testing.T) {
	original := &DataMsg{DestCID: cid.New(), SubProtocolVec: 42, Data: []byte("opaque payload")}
	packed, err := Pack(original)
	require.NoError(t, err)

	msg, n, err := Decode(packed)
	require.NoError(t, err)
	assert.Equal(t, len(packed), n)
	got, ok := msg.(*DataMsg)
	require.True(t, ok)
	assert.Equal(t, original.DestCID, got.DestCID)
	assert.Equal(t, original.SubProtocolVec, got.SubProtocolVec)
	assert.Equal(t, original.Data, got.Data)
}

func TestStatusRoundTrip(t *testing.T) {
	original := &StatusMsg{DestCID: cid.New(), StatusCode: StatusUnknownCID}
	packed, err := Pack(original)
	require.NoError(t, err)

	msg, _, err := Decode(packed)
	require.NoError(t, err)
	got, ok := msg.(*StatusMsg)
	require.True(t, ok)
	assert.Equal(t, original.StatusCode, got.StatusCode)
}

func TestDecodeRejectsTruncated(t *testing.T) {
	packed, err := Pack(&DataMsg{DestCID: cid.New(), Data: []byte("x")})
	require.NoError(t, err)
	_, _, err = Decode(packed[:len(packed)-5])
	assert.ErrorIs(t, err, ErrMalformed)
}
