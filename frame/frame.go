// Package frame implements the binary wire format shared by wsrooms clients
// and servers.
//
// A frame is five length-prefixed segments in fixed order: room, event,
// destination, source and payload. Every length is a big-endian uint32.
package frame

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"
)

// HeaderOverhead is the number of bytes taken by the five length prefixes.
const HeaderOverhead = 5 * lengthSize

const lengthSize = 4

// ErrMalformedFrame is returned when a buffer cannot be decoded into a Frame.
var ErrMalformedFrame = errors.New("malformed frame")

// Frame is one binary wire message.
type Frame struct {
	Room        string
	Event       string
	Destination string
	Source      string
	Payload     []byte
}

// Size returns the encoded length of f under the given encoding.
func (f *Frame) Size(enc Encoding) int {
	return HeaderOverhead +
		enc.len(f.Room) +
		enc.len(f.Event) +
		enc.len(f.Destination) +
		enc.len(f.Source) +
		len(f.Payload)
}

// String returns a short description of the frame for logs.
func (f *Frame) String() string {
	return fmt.Sprintf("%s/%s src=%q dst=%q (%d bytes)", f.Room, f.Event, f.Source, f.Destination, len(f.Payload))
}

// Codec encodes and decodes frames with a fixed string encoding.
type Codec struct {
	Encoding Encoding
}

// DefaultCodec uses the Latin-1 string encoding expected by existing peers.
var DefaultCodec = Codec{Encoding: Latin1}

// Encode encodes a frame with DefaultCodec.
func Encode(f *Frame) ([]byte, error) {
	return DefaultCodec.Encode(f)
}

// Decode decodes a frame with DefaultCodec.
func Decode(data []byte) (*Frame, error) {
	return DefaultCodec.Decode(data)
}

// Encode encodes the frame to bytes
func (c Codec) Encode(f *Frame) ([]byte, error) {
	if f == nil {
		return nil, errors.New("nil frame")
	}
	if !c.Encoding.valid() {
		return nil, errors.Errorf("unknown string encoding %d", c.Encoding)
	}

	buf := make([]byte, 0, f.Size(c.Encoding))
	for _, s := range [...]string{f.Room, f.Event, f.Destination, f.Source} {
		buf = binary.BigEndian.AppendUint32(buf, uint32(c.Encoding.len(s)))
		buf = c.Encoding.append(buf, s)
	}
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(f.Payload)))
	buf = append(buf, f.Payload...)
	return buf, nil
}

// Decode decodes bytes into a frame
func (c Codec) Decode(data []byte) (*Frame, error) {
	if !c.Encoding.valid() {
		return nil, errors.Errorf("unknown string encoding %d", c.Encoding)
	}

	r := reader{data: data}
	var fields [4]string
	names := [...]string{"room", "event", "destination", "source"}
	for i := range fields {
		seg, err := r.segment(names[i])
		if err != nil {
			return nil, err
		}
		fields[i] = c.Encoding.decode(seg)
	}

	payload, err := r.segment("payload")
	if err != nil {
		return nil, err
	}
	if r.off != len(data) {
		return nil, errors.Wrapf(ErrMalformedFrame, "%d trailing bytes after payload", len(data)-r.off)
	}

	f := &Frame{
		Room:        fields[0],
		Event:       fields[1],
		Destination: fields[2],
		Source:      fields[3],
	}
	if len(payload) > 0 {
		f.Payload = make([]byte, len(payload))
		copy(f.Payload, payload)
	}
	return f, nil
}

// MarshalPayload converts an application value into frame payload bytes.
//
// Byte slices and json.RawMessage are copied verbatim, strings are
// byte-encoded directly, nil becomes an empty payload and everything else is
// serialized to JSON text and then byte-encoded.
func (c Codec) MarshalPayload(v interface{}) ([]byte, error) {
	switch p := v.(type) {
	case nil:
		return nil, nil
	case []byte:
		return append([]byte(nil), p...), nil
	case json.RawMessage:
		return append([]byte(nil), p...), nil
	case string:
		return c.Encoding.append(nil, p), nil
	}

	text, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(err, "marshal payload")
	}
	return c.Encoding.append(nil, string(text)), nil
}

// MarshalPayload converts v with DefaultCodec.
func MarshalPayload(v interface{}) ([]byte, error) {
	return DefaultCodec.MarshalPayload(v)
}

// UnmarshalPayload decodes JSON text carried in a payload into v.
func (c Codec) UnmarshalPayload(payload []byte, v interface{}) error {
	text := c.Encoding.decode(payload)
	if err := json.Unmarshal([]byte(text), v); err != nil {
		return errors.Wrap(err, "unmarshal payload")
	}
	return nil
}

// StringPayload byte-encodes a bare string payload.
func (c Codec) StringPayload(s string) []byte {
	return c.Encoding.append(nil, s)
}

// PayloadString decodes a payload carrying a bare string, such as the peer id
// in joined and left frames.
func (c Codec) PayloadString(payload []byte) string {
	return c.Encoding.decode(payload)
}

type reader struct {
	data []byte
	off  int
}

func (r *reader) segment(name string) ([]byte, error) {
	if len(r.data)-r.off < lengthSize {
		return nil, errors.Wrapf(ErrMalformedFrame, "missing %s length", name)
	}
	n := binary.BigEndian.Uint32(r.data[r.off:])
	r.off += lengthSize

	if uint64(n) > uint64(len(r.data)-r.off) {
		return nil, errors.Wrapf(ErrMalformedFrame, "%s length %d exceeds remaining %d bytes", name, n, len(r.data)-r.off)
	}
	seg := r.data[r.off : r.off+int(n)]
	r.off += int(n)
	return seg, nil
}
