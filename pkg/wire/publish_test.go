package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/raftsession/pkg/ids"
	"github.com/cuemby/raftsession/pkg/protocol"
)

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	req := &protocol.PublishRequest{
		SessionID:     ids.SessionID(42),
		EventIndex:    100,
		PreviousIndex: 90,
		Events:        [][]byte{[]byte("one"), []byte("two"), {}},
	}

	data := MarshalPublishRequest(req)
	got, err := UnmarshalPublishRequest(data)
	require.NoError(t, err)

	assert.Equal(t, req.SessionID, got.SessionID)
	assert.Equal(t, req.EventIndex, got.EventIndex)
	assert.Equal(t, req.PreviousIndex, got.PreviousIndex)
	assert.Equal(t, req.Events, got.Events)
}

func TestMarshalIsDeterministic(t *testing.T) {
	req := &protocol.PublishRequest{SessionID: 1, EventIndex: 2, PreviousIndex: 1}
	assert.Equal(t, MarshalPublishRequest(req), MarshalPublishRequest(req))
}

func TestUnmarshalSkipsUnknownFields(t *testing.T) {
	req := &protocol.PublishRequest{SessionID: 5, EventIndex: 9, PreviousIndex: 8}
	data := MarshalPublishRequest(req)

	// Append an unknown field (number 99, varint) the decoder must tolerate.
	data = append(data, 0x98, 0x06, 0x01)

	got, err := UnmarshalPublishRequest(data)
	require.NoError(t, err)
	assert.Equal(t, req.SessionID, got.SessionID)
}
