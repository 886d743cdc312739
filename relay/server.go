// Package relay implements the server side of the wsrooms protocol.
//
// A relay accepts websocket connections, assigns every peer an id, and routes
// frames between the members of each room:
//
//	server := relay.NewServer(nil)
//	server.On("new-thread", func(peer *relay.Peer, f *frame.Frame) {
//	    // handle instead of relaying
//	})
//	http.Handle("/ws", server)
//	http.ListenAndServe(":8080", nil)
package relay

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-multierror"
	uuid "github.com/hashicorp/go-uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/ramory-l/wsrooms/emitter"
	"github.com/ramory-l/wsrooms/frame"
)

// RootRoom is the room every peer is a member of while connected.
const RootRoom = "root"

// ErrServerClosed is returned by ServeHTTP callers after Close.
var ErrServerClosed = errors.New("relay: server closed")

// Config represents relay server configuration
type Config struct {
	// PingInterval is how often peers are pinged. 0 disables pings.
	PingInterval time.Duration

	// PingTimeout is how long a peer may stay silent after a ping.
	PingTimeout time.Duration

	// MaxMessageSize limits inbound messages in bytes.
	MaxMessageSize int64

	// SendBuffer is the number of messages queued per peer before the peer
	// is considered slow and disconnected.
	SendBuffer int

	// CheckOrigin validates the Origin header of upgrade requests.
	// nil accepts every origin.
	CheckOrigin func(r *http.Request) bool

	// Encoding selects the wire encoding of string fields.
	Encoding frame.Encoding

	Log *logrus.Logger
}

// DefaultConfig returns default relay configuration
func DefaultConfig() *Config {
	return &Config{
		PingInterval:   25 * time.Second,
		PingTimeout:    20 * time.Second,
		MaxMessageSize: 1 << 20,
		SendBuffer:     256,
		Encoding:       frame.Latin1,
	}
}

// Server relays frames between peers
type Server struct {
	config   *Config
	upgrader websocket.Upgrader
	codec    frame.Codec
	log      *logrus.Entry
	adapter  Adapter
	sessions sync.Map // peer ID -> *session
	events   *emitter.Emitter

	statsMu       sync.Mutex // Protects the fields below
	closed        bool
	startedAt     time.Time
	peers         int
	maxPeers      int
	maxPeersTime  time.Time
	framesRelayed uint64
	framesDropped uint64
}

// NewServer creates a new relay server
func NewServer(config *Config) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	c := *config
	if c.SendBuffer <= 0 {
		c.SendBuffer = DefaultConfig().SendBuffer
	}
	if c.PingInterval > 0 && c.PingTimeout <= 0 {
		c.PingTimeout = DefaultConfig().PingTimeout
	}
	if c.Log == nil {
		c.Log = logrus.StandardLogger()
	}

	checkOrigin := c.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(r *http.Request) bool { return true }
	}

	now := time.Now()
	return &Server{
		config: &c,
		upgrader: websocket.Upgrader{
			CheckOrigin:     checkOrigin,
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		codec:        frame.Codec{Encoding: c.Encoding},
		log:          c.Log.WithField("component", "relay"),
		adapter:      NewMemoryAdapter(),
		events:       emitter.New(),
		startedAt:    now,
		maxPeersTime: now,
	}
}

// SetAdapter sets a custom adapter. It must be called before serving.
func (s *Server) SetAdapter(adapter Adapter) {
	s.adapter = adapter
}

// On registers a handler for an application event. When at least one handler
// is registered for an event, frames carrying it are handed to the handlers
// instead of being relayed.
func (s *Server) On(event string, fn func(peer *Peer, f *frame.Frame)) emitter.ListenerID {
	return s.events.On(event, func(args ...interface{}) {
		peer, _ := args[0].(*Peer)
		f, _ := args[1].(*frame.Frame)
		fn(peer, f)
	})
}

// Off removes application event handlers.
func (s *Server) Off(event string, ids ...emitter.ListenerID) {
	s.events.Off(event, ids...)
}

// ServeHTTP upgrades the request to a websocket and serves the peer until it
// disconnects.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.statsMu.Lock()
	closed := s.closed
	s.statsMu.Unlock()
	if closed {
		http.Error(w, ErrServerClosed.Error(), http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithFields(logrus.Fields{
			"remote_addr": r.RemoteAddr,
			"error":       err,
		}).Warn("Upgrade failed")
		return
	}

	id, err := uuid.GenerateUUID()
	if err != nil {
		s.log.WithField("error", err).Error("Cannot generate peer id")
		conn.Close()
		return
	}

	sess := newSession(id, conn, s)
	sess.setHandlers(
		func(data []byte) { s.handleMessage(sess, data) },
		func(reason string) { s.removePeer(sess, reason) },
	)
	s.sessions.Store(id, sess)
	s.countPeer(1)

	others := s.adapter.Members(RootRoom)
	s.adapter.Add(id, RootRoom)

	s.log.WithFields(logrus.Fields{
		"peer":        id,
		"remote_addr": r.RemoteAddr,
	}).Info("Peer connected")

	sess.start()
	s.sendJoinResponse(sess, RootRoom, others)
}

// Peer returns a connected peer by id.
func (s *Server) Peer(id string) (*Peer, bool) {
	sess, ok := s.session(id)
	if !ok {
		return nil, false
	}
	return &Peer{session: sess, server: s}, true
}

// Members returns the ids of the peers in a room, in join order.
func (s *Server) Members(room string) []string {
	return s.adapter.Members(room)
}

// Broadcast sends a server-originated event to every member of a room.
func (s *Server) Broadcast(room, event string, payload interface{}) error {
	data, err := s.codec.MarshalPayload(payload)
	if err != nil {
		return err
	}
	return s.broadcast(room, &frame.Frame{Room: room, Event: event, Payload: data}, "")
}

// Kick asks a peer to leave a room. Kicking from the root room disconnects
// the peer once it acknowledges.
func (s *Server) Kick(room, peerID string) error {
	sess, ok := s.session(peerID)
	if !ok {
		return errors.Errorf("peer %s not found", peerID)
	}
	if !s.adapter.IsMember(peerID, room) {
		return errors.Errorf("peer %s is not in room %q", peerID, room)
	}
	return s.sendFrame(sess, &frame.Frame{Room: room, Event: eventLeave})
}

// Close disconnects every peer.
func (s *Server) Close() error {
	s.statsMu.Lock()
	s.closed = true
	s.statsMu.Unlock()

	var result *multierror.Error
	s.sessions.Range(func(key, value interface{}) bool {
		sess := value.(*session)
		if err := sess.close("server shutdown"); err != nil {
			result = multierror.Append(result, errors.Wrapf(err, "close peer %s", sess.id))
		}
		return true
	})
	if err := s.adapter.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

// Stats contains summary information about a running relay.
type Stats struct {
	Uptime        time.Duration `json:"uptime" yaml:"uptime"`
	NumRooms      int           `json:"num_rooms" yaml:"num_rooms"`
	NumPeers      int           `json:"num_peers" yaml:"num_peers"`
	MaxPeers      int           `json:"max_peers" yaml:"max_peers"`
	MaxPeersTime  time.Time     `json:"max_peers_at" yaml:"max_peers_at"`
	FramesRelayed uint64        `json:"frames_relayed" yaml:"frames_relayed"`
	FramesDropped uint64        `json:"frames_dropped" yaml:"frames_dropped"`
}

// Stats gets stats for this server. The root room is not counted.
func (s *Server) Stats() Stats {
	rooms := s.adapter.Rooms()
	if len(s.adapter.Members(RootRoom)) > 0 {
		rooms--
	}

	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	return Stats{
		Uptime:        time.Since(s.startedAt),
		NumRooms:      rooms,
		NumPeers:      s.peers,
		MaxPeers:      s.maxPeers,
		MaxPeersTime:  s.maxPeersTime,
		FramesRelayed: s.framesRelayed,
		FramesDropped: s.framesDropped,
	}
}

func (s *Server) countPeer(delta int) {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	s.peers += delta
	if s.peers > s.maxPeers {
		s.maxPeers = s.peers
		s.maxPeersTime = time.Now()
	}
}

func (s *Server) countFrame(relayed bool) {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	if relayed {
		s.framesRelayed++
	} else {
		s.framesDropped++
	}
}

func (s *Server) session(id string) (*session, bool) {
	val, ok := s.sessions.Load(id)
	if !ok {
		return nil, false
	}
	return val.(*session), true
}

func (s *Server) removePeer(sess *session, reason string) {
	if _, loaded := s.sessions.LoadAndDelete(sess.id); !loaded {
		return
	}
	s.countPeer(-1)

	rooms := s.adapter.RemoveAll(sess.id)
	for _, room := range rooms {
		s.broadcastLeft(room, sess.id)
	}

	s.log.WithFields(logrus.Fields{
		"peer":   sess.id,
		"reason": reason,
		"rooms":  len(rooms),
	}).Info("Peer disconnected")
}
