package acn

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rdmnet-go/rdmnet/pkg/cid"
)

func TestPreambleRoundTrip(t *testing.T) {
	sender := cid.Must("9efb9713-2b82-4121-8ae0-9ca045086fe6")
	msg := WriteMessage(VectorRootBroker, sender, []byte{0x01, 0x02, 0x03})

	pdu, err := ParseMessage(msg)
	require.NoError(t, err)
	assert.Equal(t, VectorRootBroker, pdu.Vector)
	assert.Equal(t, sender, pdu.Sender)
	assert.Equal(t, []byte{0x01, 0x02, 0x03}, pdu.Payload)
}

func TestPreambleIdentifierBytes(t *testing.T) {
	// The packet identifier itself is unambiguous regardless of how the
	// surrounding preamble-size/postamble-size fields are interpreted.
	msg := WriteMessage(VectorRootLLRP, cid.New(), nil)
	assert.Equal(t, []byte("ASC-E1.17\x00\x00\x00"), msg[4:16])
}

func TestConsumePreambleRejectsGarbage(t *testing.T) {
	_, err := ConsumePreamble([]byte("not an ACN packet at all"))
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestParseRootLayerRejectsTruncated(t *testing.T) {
	sender := cid.New()
	msg := WriteMessage(VectorRootBroker, sender, []byte{0x01, 0x02, 0x03, 0x04})
	truncated := msg[:len(msg)-2]
	_, err := ParseMessage(truncated)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestParseRootLayerRejectsShortLength(t *testing.T) {
	sender := cid.New()
	msg := WriteMessage(VectorRootBroker, sender, nil)
	// Corrupt the length field to claim less than the mandatory header size.
	msg[16] = 0xF0
	msg[17] = 0x00
	msg[18] = 0x01
	_, err := ParseMessage(msg)
	assert.ErrorIs(t, err, ErrMalformed)
}
