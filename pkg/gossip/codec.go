package gossip

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

var ErrMalformed = errors.New("gossip: malformed message")

// Field numbers of the wire encoding.
const (
	fieldType     protowire.Number = 1
	fieldFrom     protowire.Number = 2
	fieldTo       protowire.Number = 3
	fieldSelected protowire.Number = 4
	fieldSchemaV  protowire.Number = 5
)

// Marshal encodes m in protobuf wire format. Selected is written only when set,
// so a zero id stays distinguishable from a declined response.
func Marshal(m GossipMsg) []byte {
	b := make([]byte, 0, 32)
	b = protowire.AppendTag(b, fieldType, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.Type))
	b = protowire.AppendTag(b, fieldFrom, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.From))
	b = protowire.AppendTag(b, fieldTo, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.To))
	if m.Selected != nil {
		b = protowire.AppendTag(b, fieldSelected, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(*m.Selected))
	}
	b = protowire.AppendTag(b, fieldSchemaV, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.SchemaV))
	return b
}

// Unmarshal decodes a message produced by Marshal. Unknown fields are skipped.
func Unmarshal(b []byte) (GossipMsg, error) {
	var m GossipMsg
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return GossipMsg{}, fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
		}
		b = b[n:]

		if typ != protowire.VarintType {
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return GossipMsg{}, fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
			}
			b = b[n:]
			continue
		}

		v, n := protowire.ConsumeVarint(b)
		if n < 0 {
			return GossipMsg{}, fmt.Errorf("%w: field %d: %v", ErrMalformed, num, protowire.ParseError(n))
		}
		b = b[n:]

		switch num {
		case fieldType:
			if v > 0xff {
				return GossipMsg{}, fmt.Errorf("%w: type %d out of range", ErrMalformed, v)
			}
			m.Type = MsgType(v)
		case fieldFrom:
			m.From = NodeID(v)
		case fieldTo:
			m.To = NodeID(v)
		case fieldSelected:
			sel := NodeID(v)
			m.Selected = &sel
		case fieldSchemaV:
			if v > 0xffff {
				return GossipMsg{}, fmt.Errorf("%w: schema version %d out of range", ErrMalformed, v)
			}
			m.SchemaV = uint16(v)
		}
	}

	switch m.Type {
	case MsgPushPullReq:
		if m.Selected != nil {
			return GossipMsg{}, fmt.Errorf("%w: request carries a selected peer", ErrMalformed)
		}
	case MsgPushPullResp:
	default:
		return GossipMsg{}, fmt.Errorf("%w: %w", ErrUnknownMsgType, ErrMalformed)
	}
	return m, nil
}
