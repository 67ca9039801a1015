package table

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/nerrad567/geomodel-core/internal/wire"
)

// Codec converts requests and responses to and from wire messages.
//
// Every message carries a sequence number. Requests are numbered by the
// sender; the table numbers its responses independently.
type Codec interface {
	Name() string
	EncodeRequest(seq uint32, req Request) (wire.Message, error)
	DecodeRequest(msg wire.Message) (uint32, Request, error)
	EncodeResponse(seq uint32, resp Response) (wire.Message, error)
	DecodeResponse(msg wire.Message) (uint32, Response, error)
}

// NewCodec returns the codec registered under name: "text", "proto" or "cbor".
func NewCodec(name string) (Codec, error) {
	switch strings.ToLower(name) {
	case "", "text":
		return TextCodec{}, nil
	case "proto":
		return ProtoCodec{}, nil
	case "cbor":
		return CBORCodec{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCodec, name)
	}
}

// textFields is the field count of every text frame:
// sequence, device, verb or status, value, seconds.
const textFields = 5

// TextCodec is the line format spoken by the table firmware:
//
//	request:  "<seq> <device> <VERB> <value> <seconds>"   e.g. "100 0 SET 1.50 5"
//	response: "<seq> <device> <STATUS> <value> <seconds>" e.g. "17 0 OK 1.50 0"
type TextCodec struct{}

// Name returns "text".
func (TextCodec) Name() string { return "text" }

// EncodeRequest formats req with two decimals, as the firmware expects.
func (TextCodec) EncodeRequest(seq uint32, req Request) (wire.Message, error) {
	return wire.FromString(formatText(seq, req.Device, string(req.Verb), req.Value, req.Seconds)), nil
}

// EncodeResponse formats resp.
func (TextCodec) EncodeResponse(seq uint32, resp Response) (wire.Message, error) {
	if strings.ContainsAny(string(resp.Status), " \t\r\n") {
		return wire.Message{}, fmt.Errorf("%w: status %q contains whitespace", ErrEncodeFailed, resp.Status)
	}
	return wire.FromString(formatText(seq, resp.Device, string(resp.Status), resp.Value, resp.Seconds)), nil
}

// DecodeRequest parses a request line. The verb is upper-cased but not
// validated.
func (TextCodec) DecodeRequest(msg wire.Message) (uint32, Request, error) {
	seq, d, tag, value, seconds, err := parseText(msg)
	if err != nil {
		return 0, Request{}, err
	}
	return seq, Request{Verb: ParseVerb(tag), Device: d, Value: value, Seconds: seconds}, nil
}

// DecodeResponse parses a response line. Any status token is accepted; a
// status is data, not an error.
func (TextCodec) DecodeResponse(msg wire.Message) (uint32, Response, error) {
	seq, d, tag, value, seconds, err := parseText(msg)
	if err != nil {
		return 0, Response{}, err
	}
	return seq, Response{Device: d, Status: Status(tag), Value: value, Seconds: seconds}, nil
}

func formatText(seq uint32, d Device, tag string, value float64, seconds int) string {
	return fmt.Sprintf("%d %d %s %.2f %d", seq, d.Code(), tag, value, seconds)
}

func parseText(msg wire.Message) (seq uint32, d Device, tag string, value float64, seconds int, err error) {
	// The firmware terminates lines with NUL or CR/LF depending on build.
	line := strings.TrimRight(msg.String(), "\x00\r\n")
	fields := strings.Fields(line)
	if len(fields) != textFields {
		return 0, 0, "", 0, 0, fmt.Errorf("%w: want %d fields, got %d in %q",
			ErrDecodeFailed, textFields, len(fields), line)
	}

	s, err := strconv.ParseUint(fields[0], 10, 32)
	if err != nil {
		return 0, 0, "", 0, 0, fmt.Errorf("%w: sequence %q: %w", ErrDecodeFailed, fields[0], err)
	}
	code, err := strconv.Atoi(fields[1])
	if err != nil {
		return 0, 0, "", 0, 0, fmt.Errorf("%w: device %q: %w", ErrDecodeFailed, fields[1], err)
	}
	value, err = strconv.ParseFloat(fields[3], 64)
	if err != nil {
		return 0, 0, "", 0, 0, fmt.Errorf("%w: value %q: %w", ErrDecodeFailed, fields[3], err)
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, 0, "", 0, 0, fmt.Errorf("%w: value %q is not finite", ErrDecodeFailed, fields[3])
	}
	seconds, err = strconv.Atoi(fields[4])
	if err != nil {
		return 0, 0, "", 0, 0, fmt.Errorf("%w: seconds %q: %w", ErrDecodeFailed, fields[4], err)
	}

	return uint32(s), Device(code), fields[2], value, seconds, nil
}
