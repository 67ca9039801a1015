package table

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/nerrad567/geomodel-core/internal/wire"
)

// cborFrame is encoded as a fixed five-element CBOR array.
type cborFrame struct {
	_       struct{} `cbor:",toarray"`
	Seq     uint32
	Device  int
	Tag     string
	Value   float64
	Seconds int
}

// encMode uses Core Deterministic Encoding so a frame always produces the
// same bytes.
var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("table: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		MaxArrayElements: 16,
	}.DecMode()
	if err != nil {
		panic("table: CBOR decoder initialization failed: " + err.Error())
	}
}

// CBORCodec encodes frames as CBOR arrays [seq, device, tag, value, seconds].
type CBORCodec struct{}

// Name returns "cbor".
func (CBORCodec) Name() string { return "cbor" }

// EncodeRequest encodes req.
func (CBORCodec) EncodeRequest(seq uint32, req Request) (wire.Message, error) {
	return cborEncode(frame{seq, req.Device, string(req.Verb), req.Value, req.Seconds})
}

// EncodeResponse encodes resp.
func (CBORCodec) EncodeResponse(seq uint32, resp Response) (wire.Message, error) {
	return cborEncode(frame{seq, resp.Device, string(resp.Status), resp.Value, resp.Seconds})
}

// DecodeRequest decodes a request frame.
func (CBORCodec) DecodeRequest(msg wire.Message) (uint32, Request, error) {
	f, err := cborDecode(msg)
	if err != nil {
		return 0, Request{}, err
	}
	return f.Seq, Request{Verb: ParseVerb(f.Tag), Device: f.Device, Value: f.Value, Seconds: f.Seconds}, nil
}

// DecodeResponse decodes a response frame.
func (CBORCodec) DecodeResponse(msg wire.Message) (uint32, Response, error) {
	f, err := cborDecode(msg)
	if err != nil {
		return 0, Response{}, err
	}
	return f.Seq, Response{Device: f.Device, Status: Status(f.Tag), Value: f.Value, Seconds: f.Seconds}, nil
}

func cborEncode(f frame) (wire.Message, error) {
	b, err := encMode.Marshal(cborFrame{
		Seq:     f.Seq,
		Device:  int(f.Device),
		Tag:     f.Tag,
		Value:   f.Value,
		Seconds: f.Seconds,
	})
	if err != nil {
		return wire.Message{}, fmt.Errorf("%w: cbor: %w", ErrEncodeFailed, err)
	}
	return wire.NewMessage(b, len(b)), nil
}

func cborDecode(msg wire.Message) (frame, error) {
	var cf cborFrame
	if err := decMode.Unmarshal(msg.Bytes(), &cf); err != nil {
		return frame{}, fmt.Errorf("%w: cbor: %w", ErrDecodeFailed, err)
	}
	return frame{Seq: cf.Seq, Device: Device(cf.Device), Tag: cf.Tag, Value: cf.Value, Seconds: cf.Seconds}, nil
}
