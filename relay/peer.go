package relay

import (
	"time"

	"github.com/ramory-l/wsrooms/frame"
)

// Peer is a connected client as seen from application hooks.
type Peer struct {
	session *session
	server  *Server
}

// ID returns the id assigned to the peer on connect.
func (p *Peer) ID() string {
	return p.session.id
}

// Rooms returns the rooms the peer is in, sorted.
func (p *Peer) Rooms() []string {
	return p.server.adapter.PeerRooms(p.session.id)
}

// Idle returns the time since the peer was last heard from.
func (p *Peer) Idle() time.Duration {
	return p.session.idle()
}

// Send delivers a server-originated event to the peer.
func (p *Peer) Send(room, event string, payload interface{}) error {
	data, err := p.server.codec.MarshalPayload(payload)
	if err != nil {
		return err
	}
	return p.server.sendFrame(p.session, &frame.Frame{
		Room:        room,
		Event:       event,
		Destination: p.session.id,
		Payload:     data,
	})
}

// Disconnect closes the peer's connection.
func (p *Peer) Disconnect() error {
	return p.session.close("disconnected by server")
}
