package relay

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ramory-l/wsrooms/frame"
)

const readTimeout = 2 * time.Second

type testPeer struct {
	t    *testing.T
	conn *websocket.Conn
	id   string
}

func newTestServer(t *testing.T) (*Server, string) {
	log := logrus.New()
	log.SetOutput(io.Discard)

	config := DefaultConfig()
	config.Log = log
	server := NewServer(config)

	ts := httptest.NewServer(server)
	t.Cleanup(func() {
		server.Close()
		ts.Close()
	})
	return server, "ws" + strings.TrimPrefix(ts.URL, "http")
}

// connect dials the relay and consumes the root join response.
func connect(t *testing.T, url string) (*testPeer, []string) {
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	p := &testPeer{t: t, conn: conn}
	f := p.read()
	require.Equal(t, RootRoom, f.Room)
	require.Equal(t, eventJoin, f.Event)
	require.NotEmpty(t, f.Source)
	p.id = f.Source

	var members []string
	require.NoError(t, frame.DefaultCodec.UnmarshalPayload(f.Payload, &members))
	return p, members
}

func (p *testPeer) write(f *frame.Frame) {
	data, err := frame.Encode(f)
	require.NoError(p.t, err)
	require.NoError(p.t, p.conn.WriteMessage(websocket.BinaryMessage, data))
}

func (p *testPeer) read() *frame.Frame {
	p.conn.SetReadDeadline(time.Now().Add(readTimeout))
	_, data, err := p.conn.ReadMessage()
	require.NoError(p.t, err)
	f, err := frame.Decode(data)
	require.NoError(p.t, err)
	return f
}

// join joins room and returns the other members listed in the response.
func (p *testPeer) join(room string) []string {
	p.write(&frame.Frame{Room: room, Event: eventJoin})
	f := p.read()
	require.Equal(p.t, room, f.Room)
	require.Equal(p.t, eventJoin, f.Event)
	require.Equal(p.t, p.id, f.Source)

	var members []string
	require.NoError(p.t, frame.DefaultCodec.UnmarshalPayload(f.Payload, &members))
	p.write(&frame.Frame{Room: room, Event: eventJoined, Source: p.id, Payload: frame.Latin1Bytes(p.id)})
	return members
}

func (p *testPeer) expect(room, event string) *frame.Frame {
	f := p.read()
	require.Equal(p.t, room, f.Room, "frame %s", f)
	require.Equal(p.t, event, f.Event, "frame %s", f)
	return f
}

func TestServerAssignsIDsAndListsRootMembers(t *testing.T) {
	_, url := newTestServer(t)

	alice, members := connect(t, url)
	assert.Empty(t, members)

	bob, members := connect(t, url)
	assert.Equal(t, []string{alice.id}, members)
	assert.NotEqual(t, alice.id, bob.id)
}

func TestServerAnnouncesJoined(t *testing.T) {
	server, url := newTestServer(t)

	alice, _ := connect(t, url)
	assert.Empty(t, alice.join("lobby"))

	bob, _ := connect(t, url)
	assert.Equal(t, []string{alice.id}, bob.join("lobby"))

	f := alice.expect("lobby", eventJoined)
	assert.Equal(t, bob.id, frame.Latin1String(f.Payload))
	assert.Equal(t, []string{alice.id, bob.id}, server.Members("lobby"))
}

func TestServerRelaysWithSenderAsSource(t *testing.T) {
	_, url := newTestServer(t)

	alice, _ := connect(t, url)
	alice.join("lobby")
	bob, _ := connect(t, url)
	bob.join("lobby")
	alice.expect("lobby", eventJoined)

	alice.write(&frame.Frame{Room: "lobby", Event: "chat", Source: "spoofed", Payload: []byte("hi")})

	f := bob.expect("lobby", "chat")
	assert.Equal(t, alice.id, f.Source)
	assert.Equal(t, []byte("hi"), f.Payload)

	// The sender does not receive its own broadcast.
	bob.write(&frame.Frame{Room: "lobby", Event: "chat", Payload: []byte("hey")})
	f = alice.expect("lobby", "chat")
	assert.Equal(t, bob.id, f.Source)
}

func TestServerDirectedDelivery(t *testing.T) {
	_, url := newTestServer(t)

	alice, _ := connect(t, url)
	alice.join("lobby")
	bob, _ := connect(t, url)
	bob.join("lobby")
	alice.expect("lobby", eventJoined)
	carol, _ := connect(t, url)
	carol.join("lobby")
	alice.expect("lobby", eventJoined)
	bob.expect("lobby", eventJoined)

	alice.write(&frame.Frame{Room: "lobby", Event: "whisper", Destination: carol.id, Payload: []byte("psst")})
	f := carol.expect("lobby", "whisper")
	assert.Equal(t, alice.id, f.Source)
	assert.Equal(t, carol.id, f.Destination)

	// Bob only sees the next broadcast, not the whisper.
	alice.write(&frame.Frame{Room: "lobby", Event: "chat"})
	bob.expect("lobby", "chat")
}

func TestServerDropsFramesForUnjoinedRoom(t *testing.T) {
	server, url := newTestServer(t)

	alice, _ := connect(t, url)
	bob, _ := connect(t, url)
	bob.join("lobby")

	alice.write(&frame.Frame{Room: "lobby", Event: "chat"})
	require.Eventually(t, func() bool {
		return server.Stats().FramesDropped == 1
	}, readTimeout, 10*time.Millisecond)

	alice.write(&frame.Frame{Room: RootRoom, Event: "ping"})
	f := bob.expect(RootRoom, "ping")
	assert.Equal(t, alice.id, f.Source)
}

func TestServerLeave(t *testing.T) {
	server, url := newTestServer(t)

	alice, _ := connect(t, url)
	alice.join("lobby")
	bob, _ := connect(t, url)
	bob.join("lobby")
	alice.expect("lobby", eventJoined)

	alice.write(&frame.Frame{Room: "lobby", Event: eventLeave})
	alice.write(&frame.Frame{Room: "lobby", Event: eventLeft, Payload: frame.Latin1Bytes(alice.id)})

	f := bob.expect("lobby", eventLeft)
	assert.Equal(t, alice.id, frame.Latin1String(f.Payload))
	assert.Equal(t, []string{bob.id}, server.Members("lobby"))

	// The trailing left is idempotent, so the next frame is the broadcast.
	alice.write(&frame.Frame{Room: RootRoom, Event: "chat"})
	bob.expect(RootRoom, "chat")
}

func TestServerDisconnectBroadcastsLeft(t *testing.T) {
	server, url := newTestServer(t)

	alice, _ := connect(t, url)
	alice.join("lobby")
	bob, _ := connect(t, url)
	bob.join("lobby")
	alice.expect("lobby", eventJoined)
	bob.write(&frame.Frame{Room: RootRoom, Event: eventJoined, Payload: frame.Latin1Bytes(bob.id)})
	alice.expect(RootRoom, eventJoined)

	bob.conn.Close()

	seen := map[string]string{}
	for i := 0; i < 2; i++ {
		f := alice.read()
		require.Equal(t, eventLeft, f.Event)
		seen[f.Room] = frame.Latin1String(f.Payload)
	}
	assert.Equal(t, map[string]string{RootRoom: bob.id, "lobby": bob.id}, seen)

	require.Eventually(t, func() bool {
		return server.Stats().NumPeers == 1
	}, readTimeout, 10*time.Millisecond)
	assert.Equal(t, 2, server.Stats().MaxPeers)
}

func TestServerRootLeaveClosesSession(t *testing.T) {
	server, url := newTestServer(t)

	alice, _ := connect(t, url)
	alice.write(&frame.Frame{Room: RootRoom, Event: eventLeave})

	alice.conn.SetReadDeadline(time.Now().Add(readTimeout))
	_, _, err := alice.conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)

	require.Eventually(t, func() bool {
		return server.Stats().NumPeers == 0
	}, readTimeout, 10*time.Millisecond)
}

func TestServerHooksReplaceRelay(t *testing.T) {
	server, url := newTestServer(t)

	got := make(chan *frame.Frame, 1)
	var hookPeer string
	server.On("new-thread", func(peer *Peer, f *frame.Frame) {
		hookPeer = peer.ID()
		assert.Equal(t, []string{"lobby", RootRoom}, peer.Rooms())
		got <- f
	})

	alice, _ := connect(t, url)
	alice.join("lobby")
	bob, _ := connect(t, url)
	bob.join("lobby")
	alice.expect("lobby", eventJoined)

	alice.write(&frame.Frame{Room: "lobby", Event: "new-thread", Payload: []byte(`{"title":"x"}`)})

	select {
	case f := <-got:
		assert.Equal(t, alice.id, hookPeer)
		assert.Equal(t, alice.id, f.Source)
		assert.JSONEq(t, `{"title":"x"}`, string(f.Payload))
	case <-time.After(readTimeout):
		t.Fatal("hook not called")
	}

	alice.write(&frame.Frame{Room: "lobby", Event: "chat"})
	bob.expect("lobby", "chat")
}

func TestServerPeerSend(t *testing.T) {
	server, url := newTestServer(t)

	alice, _ := connect(t, url)
	peer, ok := server.Peer(alice.id)
	require.True(t, ok)
	require.NoError(t, peer.Send(RootRoom, "welcome", map[string]int{"n": 1}))

	f := alice.expect(RootRoom, "welcome")
	assert.Equal(t, alice.id, f.Destination)
	assert.JSONEq(t, `{"n":1}`, string(f.Payload))

	_, ok = server.Peer("nobody")
	assert.False(t, ok)
}

func TestServerBroadcast(t *testing.T) {
	server, url := newTestServer(t)

	alice, _ := connect(t, url)
	bob, _ := connect(t, url)

	require.NoError(t, server.Broadcast(RootRoom, "notice", "maintenance"))
	assert.Equal(t, "maintenance", frame.Latin1String(alice.expect(RootRoom, "notice").Payload))
	assert.Equal(t, "maintenance", frame.Latin1String(bob.expect(RootRoom, "notice").Payload))
}

func TestServerKick(t *testing.T) {
	server, url := newTestServer(t)

	alice, _ := connect(t, url)
	alice.join("lobby")
	bob, _ := connect(t, url)
	bob.join("lobby")
	alice.expect("lobby", eventJoined)

	require.NoError(t, server.Kick("lobby", alice.id))
	alice.expect("lobby", eventLeave)
	alice.write(&frame.Frame{Room: "lobby", Event: eventLeft, Payload: frame.Latin1Bytes(alice.id)})

	f := bob.expect("lobby", eventLeft)
	assert.Equal(t, alice.id, frame.Latin1String(f.Payload))

	assert.Error(t, server.Kick("lobby", alice.id))
	assert.Error(t, server.Kick("lobby", "nobody"))
}

func TestServerStats(t *testing.T) {
	server, url := newTestServer(t)

	alice, _ := connect(t, url)
	alice.join("lobby")
	alice.join("arena")

	stats := server.Stats()
	assert.Equal(t, 1, stats.NumPeers)
	assert.Equal(t, 2, stats.NumRooms)
	assert.True(t, stats.Uptime > 0)
}

func TestServerClose(t *testing.T) {
	server, url := newTestServer(t)

	alice, _ := connect(t, url)
	require.NoError(t, server.Close())

	alice.conn.SetReadDeadline(time.Now().Add(readTimeout))
	_, _, err := alice.conn.ReadMessage()
	assert.Error(t, err)
	assert.Equal(t, 0, server.Stats().NumPeers)

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	assert.Error(t, err)
	if resp != nil {
		assert.Equal(t, 503, resp.StatusCode)
	}
}
