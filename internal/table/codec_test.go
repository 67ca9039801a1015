package table

import (
	"errors"
	"testing"

	"github.com/nerrad567/geomodel-core/internal/wire"
)

func allCodecs() []Codec {
	return []Codec{TextCodec{}, ProtoCodec{}, CBORCodec{}}
}

func TestNewCodec(t *testing.T) {
	for _, name := range []string{"", "text", "proto", "cbor", "CBOR"} {
		if _, err := NewCodec(name); err != nil {
			t.Errorf("NewCodec(%q) error = %v", name, err)
		}
	}
	if _, err := NewCodec("json"); !errors.Is(err, ErrUnknownCodec) {
		t.Errorf("NewCodec(json) error = %v, want ErrUnknownCodec", err)
	}
}

func TestTextCodec_RequestFormat(t *testing.T) {
	msg, err := TextCodec{}.EncodeRequest(100, NewSet(Pitch, 1.5, 5))
	if err != nil {
		t.Fatalf("EncodeRequest() error = %v", err)
	}
	if got := msg.String(); got != "100 0 SET 1.50 5" {
		t.Errorf("EncodeRequest() = %q", got)
	}

	msg, _ = TextCodec{}.EncodeRequest(101, NewStop(Unknown)) //nolint:errcheck // text encoding of requests cannot fail
	if got := msg.String(); got != "101 -1 STOP 0.00 0" {
		t.Errorf("EncodeRequest(stop all) = %q", got)
	}
}

func TestTextCodec_DecodeResponse(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		want    Response
		wantSeq uint32
		wantErr bool
	}{
		{"ok", "17 0 OK 1.50 0", Response{Pitch, StatusOK, 1.5, 0}, 17, false},
		{"nul terminated", "18 1 BADPARAM -2.00 3\x00", Response{Roll, StatusBadParam, -2, 3}, 18, false},
		{"crlf", "19 4 OK 300.00 2\r\n", Response{Pump, StatusOK, 300, 2}, 19, false},
		{"foreign status", "20 0 FAULT 0.00 0", Response{Pitch, "FAULT", 0, 0}, 20, false},
		{"too few fields", "21 0 OK 1.50", Response{}, 0, true},
		{"bad value", "22 0 OK abc 0", Response{}, 0, true},
		{"nan value", "23 0 OK NaN 0", Response{}, 0, true},
		{"infinite value", "24 2 OK -Inf 0", Response{}, 0, true},
		{"bad seq", "x 0 OK 1.00 0", Response{}, 0, true},
		{"empty", "", Response{}, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seq, got, err := TextCodec{}.DecodeResponse(wire.FromString(tt.line))
			if tt.wantErr {
				if !errors.Is(err, ErrDecodeFailed) {
					t.Errorf("DecodeResponse(%q) error = %v, want ErrDecodeFailed", tt.line, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodeResponse(%q) error = %v", tt.line, err)
			}
			if seq != tt.wantSeq || got != tt.want {
				t.Errorf("DecodeResponse(%q) = %d %+v, want %d %+v", tt.line, seq, got, tt.wantSeq, tt.want)
			}
		})
	}
}

func TestTextCodec_StatusWithWhitespace(t *testing.T) {
	_, err := TextCodec{}.EncodeResponse(1, Response{Device: Pitch, Status: "NOT OK"})
	if !errors.Is(err, ErrEncodeFailed) {
		t.Errorf("EncodeResponse() error = %v, want ErrEncodeFailed", err)
	}
}

func TestCodecs_RoundTrip(t *testing.T) {
	requests := []Request{
		NewSet(Pitch, 1.5, 5),
		NewSet(Roll, -2.25, 0),
		NewGet(Unknown),
		NewStop(Pump),
	}
	responses := []Response{
		{Pitch, StatusOK, 1.5, 3},
		{Roll, StatusBadParam, -3, 0},
		{Unknown, StatusFailed, 0, 0},
		{Pump, StatusTimeout, 850, 12},
	}

	for _, codec := range allCodecs() {
		t.Run(codec.Name(), func(t *testing.T) {
			for i, req := range requests {
				seq := uint32(100 + i)
				msg, err := codec.EncodeRequest(seq, req)
				if err != nil {
					t.Fatalf("EncodeRequest(%v) error = %v", req, err)
				}
				gotSeq, got, err := codec.DecodeRequest(msg)
				if err != nil {
					t.Fatalf("DecodeRequest(%v) error = %v", req, err)
				}
				if gotSeq != seq || got != req {
					t.Errorf("request round trip = %d %+v, want %d %+v", gotSeq, got, seq, req)
				}
			}
			for i, resp := range responses {
				seq := uint32(7 + i)
				msg, err := codec.EncodeResponse(seq, resp)
				if err != nil {
					t.Fatalf("EncodeResponse(%v) error = %v", resp, err)
				}
				gotSeq, got, err := codec.DecodeResponse(msg)
				if err != nil {
					t.Fatalf("DecodeResponse(%v) error = %v", resp, err)
				}
				if gotSeq != seq || got != resp {
					t.Errorf("response round trip = %d %+v, want %d %+v", gotSeq, got, seq, resp)
				}
			}
		})
	}
}

func TestBinaryCodecs_RejectGarbage(t *testing.T) {
	garbage := wire.NewMessage([]byte{0xff, 0xff}, 2)
	for _, codec := range []Codec{ProtoCodec{}, CBORCodec{}} {
		t.Run(codec.Name(), func(t *testing.T) {
			if _, _, err := codec.DecodeResponse(garbage); !errors.Is(err, ErrDecodeFailed) {
				t.Errorf("DecodeResponse(garbage) error = %v, want ErrDecodeFailed", err)
			}
		})
	}
}
