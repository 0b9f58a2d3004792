// Package wire implements the bit-exact PublishRequest encoding: field 1 is
// the session id, field 2 the event index, field 3 the previous index (all
// varint), field 4 is the repeated, length-delimited event payload. Encoding
// directly against protowire, rather than through a
// generated message type, keeps the module free of a protoc build step while
// still producing standard protobuf bytes any client can decode.
package wire

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/cuemby/raftsession/pkg/ids"
	"github.com/cuemby/raftsession/pkg/protocol"
)

const (
	fieldSession  protowire.Number = 1
	fieldEvent    protowire.Number = 2
	fieldPrevious protowire.Number = 3
	fieldEvents   protowire.Number = 4
)

// MarshalPublishRequest encodes req using the wire layout above.
func MarshalPublishRequest(req *protocol.PublishRequest) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldSession, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(req.SessionID))
	b = protowire.AppendTag(b, fieldEvent, protowire.VarintType)
	b = protowire.AppendVarint(b, req.EventIndex)
	b = protowire.AppendTag(b, fieldPrevious, protowire.VarintType)
	b = protowire.AppendVarint(b, req.PreviousIndex)
	for _, e := range req.Events {
		b = protowire.AppendTag(b, fieldEvents, protowire.BytesType)
		b = protowire.AppendBytes(b, e)
	}
	return b
}

// UnmarshalPublishRequest decodes bytes produced by MarshalPublishRequest.
// Unknown fields are skipped rather than rejected, so the wire format can
// grow new fields without breaking old readers.
func UnmarshalPublishRequest(data []byte) (*protocol.PublishRequest, error) {
	req := &protocol.PublishRequest{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, fmt.Errorf("wire: invalid tag: %w", protowire.ParseError(n))
		}
		data = data[n:]

		switch num {
		case fieldSession:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, fmt.Errorf("wire: invalid session field: %w", protowire.ParseError(n))
			}
			req.SessionID = ids.SessionID(v)
			data = data[n:]
		case fieldEvent:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, fmt.Errorf("wire: invalid event field: %w", protowire.ParseError(n))
			}
			req.EventIndex = v
			data = data[n:]
		case fieldPrevious:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, fmt.Errorf("wire: invalid previous field: %w", protowire.ParseError(n))
			}
			req.PreviousIndex = v
			data = data[n:]
		case fieldEvents:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, fmt.Errorf("wire: invalid events field: %w", protowire.ParseError(n))
			}
			cp := make([]byte, len(v))
			copy(cp, v)
			req.Events = append(req.Events, cp)
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return nil, fmt.Errorf("wire: invalid unknown field: %w", protowire.ParseError(n))
			}
			data = data[n:]
		}
	}
	return req, nil
}
