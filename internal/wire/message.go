package wire

import (
	"fmt"
	"strings"
)

// MaxDatagramSize is the largest message the transports will carry.
// Table requests and responses are a few dozen bytes; nothing fragments.
const MaxDatagramSize = 1024

// hexDumpRowBytes matches the firmware console dump, 4 bytes per row.
const hexDumpRowBytes = 4

// Message is an immutable unit of bytes exchanged with the table.
//
// The zero value is an empty message.
type Message struct {
	data []byte
}

// NewMessage copies the first length bytes of buf into a new Message.
//
// buf may be a larger reusable read buffer; bytes past length are ignored
// and later writes to buf do not affect the Message. length is clamped to
// [0, len(buf)].
func NewMessage(buf []byte, length int) Message {
	if length < 0 {
		length = 0
	}
	if length > len(buf) {
		length = len(buf)
	}
	data := make([]byte, length)
	copy(data, buf[:length])
	return Message{data: data}
}

// FromString builds a Message from text, as sent by the table firmware.
func FromString(s string) Message {
	return Message{data: []byte(s)}
}

// Len returns the number of valid bytes.
func (m Message) Len() int {
	return len(m.data)
}

// Bytes returns a copy of the valid bytes.
func (m Message) Bytes() []byte {
	out := make([]byte, len(m.data))
	copy(out, m.data)
	return out
}

// String returns the payload as text.
func (m Message) String() string {
	return string(m.data)
}

// Equal reports whether two messages carry the same bytes.
func (m Message) Equal(other Message) bool {
	return string(m.data) == string(other.data)
}

// HexDump renders the payload for trace logs:
//
//	0000: 31 30 30 20  |100 |
//	0004: 30 20 53 45  |0 SE|
func (m Message) HexDump() string {
	var b strings.Builder
	for off := 0; off < len(m.data); off += hexDumpRowBytes {
		end := min(off+hexDumpRowBytes, len(m.data))
		row := m.data[off:end]

		fmt.Fprintf(&b, "%04x:", off)
		for i := range hexDumpRowBytes {
			if i < len(row) {
				fmt.Fprintf(&b, " %02x", row[i])
			} else {
				b.WriteString("   ")
			}
		}
		b.WriteString("  |")
		for _, c := range row {
			if c >= 0x20 && c < 0x7f {
				b.WriteByte(c)
			} else {
				b.WriteByte('.')
			}
		}
		b.WriteString("|\n")
	}
	return b.String()
}
