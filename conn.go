package wsrooms

import (
	"context"
	"io"
	"net"
	"net/url"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/ramory-l/wsrooms/emitter"
	"github.com/ramory-l/wsrooms/frame"
)

// State is the lifecycle state of a Conn.
type State int

const (
	// StateConnecting lasts until the server's root join response arrives.
	StateConnecting State = iota
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

type pendingSend struct {
	event   string
	payload []byte
	dst     string
}

// Conn is a multiplexed connection. It owns the transport and the registry of
// joined rooms, and is itself the handle for the root room.
type Conn struct {
	transport Transport
	config    *Config
	codec     frame.Codec
	log       *logrus.Entry
	closing   atomic.Bool
	done      chan struct{}

	mu       sync.Mutex // Protects everything below and every Room's state
	state    State
	root     *Room
	rooms    map[string]*Room
	queue    []pendingSend
	closeErr error
}

// Dial connects to a wsrooms server at rawURL, which must be a ws:// or wss://
// URL. The returned Conn is connecting; sends on it are queued until the
// server's root join response arrives.
func Dial(ctx context.Context, rawURL string, config *Config) (*Conn, error) {
	config = config.withDefaults()

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, errors.Wrapf(ErrConstruction, "parse url %q: %v", rawURL, err)
	}
	if (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
		return nil, errors.Wrapf(ErrConstruction, "invalid websocket url %q", rawURL)
	}

	dialer := websocket.Dialer{
		Proxy:            websocket.DefaultDialer.Proxy,
		HandshakeTimeout: config.HandshakeTimeout,
	}
	ws, _, err := dialer.DialContext(ctx, u.String(), config.Header)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", u.Redacted())
	}

	return NewConn(newWSTransport(ws, config), config)
}

// NewConn starts a connection over an established transport.
func NewConn(t Transport, config *Config) (*Conn, error) {
	if t == nil {
		return nil, errors.Wrap(ErrConstruction, "no transport")
	}
	config = config.withDefaults()

	c := &Conn{
		transport: t,
		config:    config,
		codec:     frame.Codec{Encoding: config.Encoding},
		log:       config.Log.WithField("component", "wsrooms"),
		done:      make(chan struct{}),
		rooms:     make(map[string]*Room),
	}
	c.root = newRoom(c, RootRoom)

	if config.JoinTimeout > 0 {
		c.mu.Lock()
		c.root.joinTimer = time.AfterFunc(config.JoinTimeout, func() {
			c.joinTimedOut(c.root)
		})
		c.mu.Unlock()
	}

	go c.readLoop()
	return c, nil
}

// State returns the connection state.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Root returns the handle for the root room.
func (c *Conn) Root() *Room {
	return c.root
}

// ID returns this connection's peer id, or "" before it is open.
func (c *Conn) ID() string { return c.root.ID() }

// IsOpen reports whether the root room is open.
func (c *Conn) IsOpen() bool { return c.root.IsOpen() }

// Members returns the peers connected to the server.
func (c *Conn) Members() []string { return c.root.Members() }

// Send sends an event on the root room. See Room.Send.
func (c *Conn) Send(event string, payload interface{}, dst ...string) error {
	return c.root.Send(event, payload, dst...)
}

// On registers a handler on the root room.
func (c *Conn) On(event string, fn emitter.Listener) emitter.ListenerID {
	return c.root.On(event, fn)
}

// Once registers a one-shot handler on the root room.
func (c *Conn) Once(event string, fn emitter.Listener) emitter.ListenerID {
	return c.root.Once(event, fn)
}

// Off removes handlers from the root room.
func (c *Conn) Off(event string, ids ...emitter.ListenerID) {
	c.root.Off(event, ids...)
}

// OnMessage registers fn for an application event on the root room.
func (c *Conn) OnMessage(event string, fn func(payload []byte, src string)) emitter.ListenerID {
	return c.root.OnMessage(event, fn)
}

// WaitOpen blocks until the connection is open.
func (c *Conn) WaitOpen(ctx context.Context) error {
	err := c.root.WaitOpen(ctx)
	if errors.Is(err, ErrRoomClosed) {
		return ErrClosed
	}
	return err
}

// Leave sends a root leave and closes the connection.
func (c *Conn) Leave() error {
	return c.root.Leave()
}

// Done is closed once the connection is closed and every room torn down.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Err returns the transport error that closed the connection, if any.
func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeErr
}

// Join joins a room. If the room is already joined its handle is returned.
func (c *Conn) Join(name string) (*Room, error) {
	if name == "" || name == RootRoom {
		return nil, errors.Wrapf(ErrInvalidArgument, "cannot join room %q", name)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateClosed {
		return nil, ErrClosed
	}
	if !c.root.open {
		return nil, errors.Wrapf(ErrNotOpen, "join %q", name)
	}
	if r, ok := c.rooms[name]; ok {
		return r, nil
	}

	r := newRoom(c, name)
	if err := c.writeLocked(r, EventJoin, "", nil); err != nil {
		return nil, err
	}
	c.rooms[name] = r
	if c.config.JoinTimeout > 0 {
		r.joinTimer = time.AfterFunc(c.config.JoinTimeout, func() {
			c.joinTimedOut(r)
		})
	}

	c.log.WithField("room", name).Debug("Joining room")
	return r, nil
}

// Room returns a joined room by name.
func (c *Conn) Room(name string) (*Room, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.rooms[name]
	return r, ok
}

// Rooms returns the names of the joined rooms, sorted.
func (c *Conn) Rooms() []string {
	c.mu.Lock()
	names := make([]string, 0, len(c.rooms))
	for name := range c.rooms {
		names = append(names, name)
	}
	c.mu.Unlock()

	sort.Strings(names)
	return names
}

// Purge leaves every joined room while keeping the connection open.
func (c *Conn) Purge() {
	for _, name := range c.Rooms() {
		r, ok := c.Room(name)
		if !ok {
			continue
		}
		if err := r.Leave(); err != nil && !errors.Is(err, ErrRoomClosed) {
			c.log.WithFields(logrus.Fields{
				"room":  name,
				"error": err,
			}).Warn("Error leaving room during purge")
		}
	}
}

// Close closes the transport. Rooms are torn down and the close events
// emitted by the read loop once the transport reports the closure.
func (c *Conn) Close() error {
	c.closing.Store(true)
	return c.transport.Close()
}

func (c *Conn) leaveRoot() error {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return ErrClosed
	}
	var err error
	if c.root.open {
		err = c.writeLocked(c.root, EventLeave, "", nil)
	}
	c.mu.Unlock()

	if cerr := c.Close(); err == nil {
		err = cerr
	}
	return err
}

// writeLocked encodes a frame from r and hands it to the transport.
// c.mu must be held so frames reach the transport in call order.
func (c *Conn) writeLocked(r *Room, event, dst string, payload []byte) error {
	f := &frame.Frame{
		Room:        r.name,
		Event:       event,
		Destination: dst,
		Source:      r.id,
		Payload:     payload,
	}
	data, err := c.codec.Encode(f)
	if err != nil {
		return err
	}
	if c.log.Logger.IsLevelEnabled(logrus.DebugLevel) {
		c.log.WithField("frame", f.String()).Debug("Sending frame")
	}
	if err := c.transport.WriteMessage(data); err != nil {
		return errors.Wrapf(err, "send %s/%s", r.name, event)
	}
	return nil
}

// detachLocked marks r closed and removes it from the registry.
func (c *Conn) detachLocked(r *Room) {
	r.open = false
	r.closed = true
	r.stopJoinTimer()
	if c.rooms[r.name] == r {
		delete(c.rooms, r.name)
	}
}

func (c *Conn) readLoop() {
	var closeErr error
	defer func() {
		c.teardown(closeErr)
	}()

	for {
		data, err := c.transport.ReadMessage()
		if err != nil {
			if !c.closing.Load() && !isNormalClose(err) {
				closeErr = err
			}
			return
		}

		if err := c.dispatch(data); err != nil {
			c.log.WithFields(logrus.Fields{
				"error": err,
			}).Warn("Dropping inbound frame")
		}
	}
}

func isNormalClose(err error) bool {
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return true
	}
	return errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed)
}

// dispatch routes one inbound message. Frames that cannot be routed are
// dropped and reported through the returned error.
func (c *Conn) dispatch(data []byte) error {
	f, err := c.codec.Decode(data)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return ErrClosed
	}

	r := c.root
	if f.Room != RootRoom {
		var ok bool
		if r, ok = c.rooms[f.Room]; !ok {
			c.mu.Unlock()
			return &ProtocolError{Room: f.Room, Event: f.Event, Reason: "room not joined"}
		}
	}

	if c.log.Logger.IsLevelEnabled(logrus.DebugLevel) {
		c.log.WithField("frame", f.String()).Debug("Received frame")
	}

	// Handlers run after the lock is released so they can call back into
	// the connection.
	var emits []func()
	closeTransport := false

	switch f.Event {
	case EventJoin:
		var members []string
		if len(f.Payload) > 0 {
			if err := c.codec.UnmarshalPayload(f.Payload, &members); err != nil {
				c.mu.Unlock()
				return &ProtocolError{Room: f.Room, Event: f.Event, Reason: err.Error()}
			}
		}
		wasOpen := r.open
		r.id = f.Source
		r.members = r.members[:0]
		for _, m := range members {
			if r.memberIndex(m) < 0 {
				r.members = append(r.members, m)
			}
		}
		r.open = true
		r.stopJoinTimer()
		if wasOpen {
			break
		}

		if err := c.writeLocked(r, EventJoined, "", c.codec.StringPayload(r.id)); err != nil {
			c.log.WithFields(logrus.Fields{"room": r.name, "error": err}).Warn("Error announcing join")
		}
		if r == c.root {
			c.state = StateOpen
			c.flushLocked()
		}
		c.log.WithFields(logrus.Fields{
			"room": r.name,
			"peer": r.id,
		}).Info("Room open")
		emits = append(emits, func() { r.events.Emit(EventOpen) })

	case EventJoined:
		id := c.codec.PayloadString(f.Payload)
		if r.memberIndex(id) < 0 {
			r.members = append(r.members, id)
			emits = append(emits, func() { r.events.Emit(EventJoined, id) })
		}

	case EventLeave:
		if r == c.root {
			closeTransport = true
		} else {
			c.detachLocked(r)
			emits = append(emits, func() { r.events.Emit(EventClose) })
		}
		if err := c.writeLocked(r, EventLeft, "", c.codec.StringPayload(r.id)); err != nil {
			c.log.WithFields(logrus.Fields{"room": r.name, "error": err}).Warn("Error acknowledging leave")
		}
		c.log.WithField("room", r.name).Info("Server removed us from room")

	case EventLeft:
		id := c.codec.PayloadString(f.Payload)
		if i := r.memberIndex(id); i >= 0 {
			r.members = append(r.members[:i], r.members[i+1:]...)
			emits = append(emits, func() { r.events.Emit(EventLeft, id) })
		}

	default:
		payload, src := f.Payload, f.Source
		emits = append(emits, func() { r.events.Emit(f.Event, payload, src) })
	}
	c.mu.Unlock()

	for _, emit := range emits {
		emit()
	}
	if closeTransport {
		c.Close()
	}
	return nil
}

// flushLocked replays sends queued before the root opened, in call order.
func (c *Conn) flushLocked() {
	queue := c.queue
	c.queue = nil
	for _, p := range queue {
		if err := c.writeLocked(c.root, p.event, p.dst, p.payload); err != nil {
			c.log.WithFields(logrus.Fields{
				"event": p.event,
				"error": err,
			}).Warn("Error flushing queued send")
		}
	}
	if len(queue) > 0 {
		c.log.WithField("count", len(queue)).Debug("Flushed queued sends")
	}
}

func (c *Conn) joinTimedOut(r *Room) {
	c.mu.Lock()
	if c.state == StateClosed || r.open || r.closed {
		c.mu.Unlock()
		return
	}
	isRoot := r == c.root
	if !isRoot {
		c.detachLocked(r)
	}
	c.mu.Unlock()

	err := &JoinTimeoutError{Room: r.name, Timeout: c.config.JoinTimeout}
	c.log.WithField("room", r.name).Warn(err.Error())
	r.events.Emit(EventError, err)
	if isRoot {
		c.Close()
		return
	}
	r.events.Emit(EventClose)
}

// teardown closes every room after the transport has gone away.
func (c *Conn) teardown(err error) {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return
	}
	c.state = StateClosed
	c.closeErr = err

	rooms := make([]*Room, 0, len(c.rooms))
	for _, r := range c.rooms {
		rooms = append(rooms, r)
	}
	sort.Slice(rooms, func(i, j int) bool { return rooms[i].name < rooms[j].name })
	for _, r := range rooms {
		c.detachLocked(r)
	}
	c.rooms = make(map[string]*Room)
	c.root.open = false
	c.root.closed = true
	c.root.stopJoinTimer()
	dropped := len(c.queue)
	c.queue = nil
	c.mu.Unlock()

	// Closed is terminal: release the transport even when the peer ended it.
	if cerr := c.transport.Close(); cerr != nil {
		c.log.WithField("error", cerr).Debug("Error closing transport")
	}

	fields := logrus.Fields{"rooms": len(rooms)}
	if dropped > 0 {
		fields["dropped_sends"] = dropped
	}
	if err != nil {
		fields["error"] = err
	}
	c.log.WithFields(fields).Info("Connection closed")

	for _, r := range rooms {
		if err != nil {
			r.events.Emit(EventError, err)
		}
		r.events.Emit(EventClose)
	}
	if err != nil {
		c.root.events.Emit(EventError, err)
	}
	c.root.events.Emit(EventClose)
	close(c.done)
}
