package table

import (
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/nerrad567/geomodel-core/internal/wire"
)

// Field numbers of the binary frame. Requests and responses share the
// layout; field 3 carries the verb or the status.
const (
	protoFieldSeq     protowire.Number = 1
	protoFieldDevice  protowire.Number = 2
	protoFieldTag     protowire.Number = 3
	protoFieldValue   protowire.Number = 4
	protoFieldSeconds protowire.Number = 5
)

// ProtoCodec encodes frames in protobuf wire format:
//
//	message Frame {
//	  uint32 seq     = 1;
//	  sint32 device  = 2;
//	  string tag     = 3;  // verb or status
//	  double value   = 4;
//	  sint64 seconds = 5;
//	}
//
// Unknown fields are skipped so newer peers can add fields.
type ProtoCodec struct{}

// Name returns "proto".
func (ProtoCodec) Name() string { return "proto" }

// EncodeRequest encodes req.
func (ProtoCodec) EncodeRequest(seq uint32, req Request) (wire.Message, error) {
	return protoEncode(frame{seq, req.Device, string(req.Verb), req.Value, req.Seconds}), nil
}

// EncodeResponse encodes resp.
func (ProtoCodec) EncodeResponse(seq uint32, resp Response) (wire.Message, error) {
	return protoEncode(frame{seq, resp.Device, string(resp.Status), resp.Value, resp.Seconds}), nil
}

// DecodeRequest decodes a request frame.
func (ProtoCodec) DecodeRequest(msg wire.Message) (uint32, Request, error) {
	f, err := protoDecode(msg.Bytes())
	if err != nil {
		return 0, Request{}, err
	}
	return f.Seq, Request{Verb: ParseVerb(f.Tag), Device: f.Device, Value: f.Value, Seconds: f.Seconds}, nil
}

// DecodeResponse decodes a response frame.
func (ProtoCodec) DecodeResponse(msg wire.Message) (uint32, Response, error) {
	f, err := protoDecode(msg.Bytes())
	if err != nil {
		return 0, Response{}, err
	}
	return f.Seq, Response{Device: f.Device, Status: Status(f.Tag), Value: f.Value, Seconds: f.Seconds}, nil
}

// frame is the codec-neutral shape shared by the binary codecs.
type frame struct {
	Seq     uint32
	Device  Device
	Tag     string
	Value   float64
	Seconds int
}

func protoEncode(f frame) wire.Message {
	var b []byte
	b = protowire.AppendTag(b, protoFieldSeq, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(f.Seq))
	b = protowire.AppendTag(b, protoFieldDevice, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeZigZag(int64(f.Device)))
	b = protowire.AppendTag(b, protoFieldTag, protowire.BytesType)
	b = protowire.AppendString(b, f.Tag)
	b = protowire.AppendTag(b, protoFieldValue, protowire.Fixed64Type)
	b = protowire.AppendFixed64(b, math.Float64bits(f.Value))
	b = protowire.AppendTag(b, protoFieldSeconds, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeZigZag(int64(f.Seconds)))
	return wire.NewMessage(b, len(b))
}

func protoDecode(b []byte) (frame, error) {
	var (
		f       frame
		seenTag bool
	)

	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return frame{}, fmt.Errorf("%w: tag: %w", ErrDecodeFailed, protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case num == protoFieldSeq && typ == protowire.VarintType:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return frame{}, fmt.Errorf("%w: seq: %w", ErrDecodeFailed, protowire.ParseError(m))
			}
			if v > math.MaxUint32 {
				return frame{}, fmt.Errorf("%w: seq %d overflows uint32", ErrDecodeFailed, v)
			}
			f.Seq, n = uint32(v), m
		case num == protoFieldDevice && typ == protowire.VarintType:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return frame{}, fmt.Errorf("%w: device: %w", ErrDecodeFailed, protowire.ParseError(m))
			}
			f.Device, n = Device(protowire.DecodeZigZag(v)), m
		case num == protoFieldTag && typ == protowire.BytesType:
			v, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return frame{}, fmt.Errorf("%w: tag: %w", ErrDecodeFailed, protowire.ParseError(m))
			}
			f.Tag, n, seenTag = string(v), m, true
		case num == protoFieldValue && typ == protowire.Fixed64Type:
			v, m := protowire.ConsumeFixed64(b)
			if m < 0 {
				return frame{}, fmt.Errorf("%w: value: %w", ErrDecodeFailed, protowire.ParseError(m))
			}
			f.Value, n = math.Float64frombits(v), m
		case num == protoFieldSeconds && typ == protowire.VarintType:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return frame{}, fmt.Errorf("%w: seconds: %w", ErrDecodeFailed, protowire.ParseError(m))
			}
			f.Seconds, n = int(protowire.DecodeZigZag(v)), m
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return frame{}, fmt.Errorf("%w: field %d: %w", ErrDecodeFailed, num, protowire.ParseError(n))
			}
		}
		b = b[n:]
	}

	if !seenTag {
		return frame{}, fmt.Errorf("%w: missing verb/status field", ErrDecodeFailed)
	}
	return f, nil
}
