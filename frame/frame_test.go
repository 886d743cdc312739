package frame

import (
	"encoding/binary"
	"encoding/json"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeLayout(t *testing.T) {
	f := &Frame{
		Room:        "lobby",
		Event:       "chat",
		Destination: "",
		Source:      "peer-1",
		Payload:     []byte{0x00, 0xff, 0x10},
	}

	data, err := Encode(f)
	require.NoError(t, err)
	require.Len(t, data, HeaderOverhead+len("lobby")+len("chat")+len("peer-1")+3)

	assert.Equal(t, uint32(5), binary.BigEndian.Uint32(data[0:4]))
	assert.Equal(t, "lobby", string(data[4:9]))
	assert.Equal(t, uint32(4), binary.BigEndian.Uint32(data[9:13]))
	assert.Equal(t, "chat", string(data[13:17]))
	assert.Equal(t, uint32(0), binary.BigEndian.Uint32(data[17:21]))
	assert.Equal(t, uint32(6), binary.BigEndian.Uint32(data[21:25]))
	assert.Equal(t, "peer-1", string(data[25:31]))
	assert.Equal(t, uint32(3), binary.BigEndian.Uint32(data[31:35]))
	assert.Equal(t, []byte{0x00, 0xff, 0x10}, data[35:])
}

func TestRoundTrip(t *testing.T) {
	binaryPayload := make([]byte, 256)
	for i := range binaryPayload {
		binaryPayload[i] = byte(i)
	}

	cases := map[string]*Frame{
		"empty":       {},
		"root join":   {Room: "root", Event: "join", Source: "abc", Payload: []byte(`["a","b"]`)},
		"directed":    {Room: "arena", Event: "move", Destination: "peer-9", Source: "peer-2", Payload: []byte("x")},
		"binary":      {Room: "bin", Event: "blob", Payload: binaryPayload},
		"latin1 text": {Room: "café", Event: "naïve", Source: "ÿ"},
	}

	for name, f := range cases {
		t.Run(name, func(t *testing.T) {
			data, err := Encode(f)
			require.NoError(t, err)
			got, err := Decode(data)
			require.NoError(t, err)
			assert.Equal(t, f, got)
		})
	}
}

func TestLatin1Masking(t *testing.T) {
	// U+263A masks to 0x3A (':').
	data, err := Encode(&Frame{Room: "☺", Event: "e"})
	require.NoError(t, err)
	assert.Equal(t, uint32(1), binary.BigEndian.Uint32(data[0:4]))
	assert.Equal(t, byte(':'), data[4])

	got, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, ":", got.Room)
}

func TestLatin1SupplementaryPlane(t *testing.T) {
	// U+1F600 is the surrogate pair D83D DE00, one masked byte per unit.
	assert.Equal(t, []byte{0x3d, 0x00}, Latin1Bytes("\U0001F600"))
	assert.Equal(t, []byte{'a', 0x3d, 0x00, 'b'}, Latin1Bytes("a\U0001F600b"))

	f := &Frame{Room: "lobby", Event: "chat", Payload: []byte("x")}
	f.Source = "\U0001F600"
	data, err := Encode(f)
	require.NoError(t, err)
	assert.Equal(t, f.Size(Latin1), len(data))

	payload, err := MarshalPayload("hi \U0001F600")
	require.NoError(t, err)
	assert.Equal(t, []byte{'h', 'i', ' ', 0x3d, 0x00}, payload)
}

func TestUTF8Codec(t *testing.T) {
	c := Codec{Encoding: UTF8}
	f := &Frame{Room: "☺ room", Event: "привет", Source: "日本", Payload: []byte("ok")}

	data, err := c.Encode(f)
	require.NoError(t, err)
	assert.Equal(t, uint32(len("☺ room")), binary.BigEndian.Uint32(data[0:4]))

	got, err := c.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, f, got)
}

func TestDecodeMalformed(t *testing.T) {
	good, err := Encode(&Frame{Room: "lobby", Event: "x", Payload: []byte("payload")})
	require.NoError(t, err)

	lying := append([]byte(nil), good...)
	binary.BigEndian.PutUint32(lying[0:4], 1000)

	cases := map[string][]byte{
		"empty":           nil,
		"short prefix":    {0, 0, 1},
		"truncated":       good[:len(good)-1],
		"length too long": lying,
		"trailing bytes":  append(append([]byte(nil), good...), 0x01),
	}

	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode(data)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrMalformedFrame), "got %v", err)
		})
	}
}

func TestMarshalPayload(t *testing.T) {
	raw := []byte{1, 2, 3}
	p, err := MarshalPayload(raw)
	require.NoError(t, err)
	assert.Equal(t, raw, p)
	raw[0] = 9
	assert.Equal(t, byte(1), p[0], "byte payloads must be copied")

	p, err = MarshalPayload("peer-7")
	require.NoError(t, err)
	assert.Equal(t, []byte("peer-7"), p)

	p, err = MarshalPayload(nil)
	require.NoError(t, err)
	assert.Empty(t, p)

	p, err = MarshalPayload(map[string]interface{}{"score": 3})
	require.NoError(t, err)
	assert.JSONEq(t, `{"score":3}`, string(p))

	p, err = MarshalPayload(json.RawMessage(`[1,2]`))
	require.NoError(t, err)
	assert.Equal(t, `[1,2]`, string(p))

	_, err = MarshalPayload(make(chan int))
	assert.Error(t, err)
}

func TestUnmarshalPayload(t *testing.T) {
	var members []string
	require.NoError(t, DefaultCodec.UnmarshalPayload([]byte(`["peer-1","peer-2"]`), &members))
	assert.Equal(t, []string{"peer-1", "peer-2"}, members)

	assert.Error(t, DefaultCodec.UnmarshalPayload([]byte(`not json`), &members))
}

func TestParseEncoding(t *testing.T) {
	enc, ok := ParseEncoding("utf-8")
	assert.True(t, ok)
	assert.Equal(t, UTF8, enc)

	enc, ok = ParseEncoding("")
	assert.True(t, ok)
	assert.Equal(t, Latin1, enc)

	_, ok = ParseEncoding("ebcdic")
	assert.False(t, ok)
}
