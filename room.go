package wsrooms

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/ramory-l/wsrooms/emitter"
)

// RootRoom is the reserved name of the channel representing the connection
// itself.
const RootRoom = "root"

// Reserved control events.
const (
	EventJoin   = "join"
	EventJoined = "joined"
	EventLeave  = "leave"
	EventLeft   = "left"
)

// Events emitted locally on a Room.
const (
	EventOpen  = "open"
	EventClose = "close"
	EventError = "error"
)

// Room is one logical channel multiplexed over a Conn. Every room has its own
// event namespace: handlers registered on one room never see frames for
// another.
type Room struct {
	conn   *Conn
	name   string
	events *emitter.Emitter

	// Guarded by conn.mu.
	id        string
	open      bool
	closed    bool
	members   []string
	joinTimer *time.Timer
}

func newRoom(conn *Conn, name string) *Room {
	return &Room{
		conn:   conn,
		name:   name,
		events: emitter.New(),
	}
}

// Name returns the room name.
func (r *Room) Name() string {
	return r.name
}

// Conn returns the connection the room is multiplexed over.
func (r *Room) Conn() *Conn {
	return r.conn
}

// ID returns the peer id the server assigned in this room, or "" before the
// join response.
func (r *Room) ID() string {
	r.conn.mu.Lock()
	defer r.conn.mu.Unlock()
	return r.id
}

// IsOpen reports whether the room's join response has been received and the
// room has not been left.
func (r *Room) IsOpen() bool {
	r.conn.mu.Lock()
	defer r.conn.mu.Unlock()
	return r.open
}

// Members returns the peer ids currently in the room.
func (r *Room) Members() []string {
	r.conn.mu.Lock()
	defer r.conn.mu.Unlock()
	return append([]string(nil), r.members...)
}

// Send sends an event to the room. Without dst the frame is broadcast to every
// member; otherwise it is addressed to the peer dst[0].
//
// On the root room, sends issued before the connection is open are queued and
// flushed in order once it opens.
func (r *Room) Send(event string, payload interface{}, dst ...string) error {
	if event == "" {
		return errors.Wrap(ErrInvalidArgument, "empty event name")
	}
	data, err := r.conn.codec.MarshalPayload(payload)
	if err != nil {
		return err
	}
	var to string
	if len(dst) > 0 {
		to = dst[0]
	}

	c := r.conn
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateClosed {
		return ErrClosed
	}
	if r == c.root && !r.open {
		c.queue = append(c.queue, pendingSend{event: event, payload: data, dst: to})
		return nil
	}
	if r.closed {
		return errors.Wrapf(ErrRoomClosed, "send %q on %q", event, r.name)
	}
	return c.writeLocked(r, event, to, data)
}

// Leave leaves the room. Leaving the root room closes the connection.
func (r *Room) Leave() error {
	c := r.conn
	if r == c.root {
		return c.leaveRoot()
	}

	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return ErrClosed
	}
	if r.closed {
		c.mu.Unlock()
		return errors.Wrapf(ErrRoomClosed, "leave %q", r.name)
	}

	err := c.writeLocked(r, EventLeave, "", nil)
	if lerr := c.writeLocked(r, EventLeft, "", c.codec.StringPayload(r.id)); err == nil {
		err = lerr
	}
	c.detachLocked(r)
	c.mu.Unlock()

	c.log.WithField("room", r.name).Debug("Left room")
	r.events.Emit(EventClose)
	return err
}

// WaitOpen blocks until the room is open. It fails if the room is closed first
// or ctx is done.
func (r *Room) WaitOpen(ctx context.Context) error {
	signal := make(chan error, 2)
	openID := r.events.Once(EventOpen, func(...interface{}) {
		signal <- nil
	})
	closeID := r.events.Once(EventClose, func(...interface{}) {
		signal <- errors.Wrapf(ErrRoomClosed, "waiting for %q", r.name)
	})
	defer r.events.Off(EventOpen, openID)
	defer r.events.Off(EventClose, closeID)

	r.conn.mu.Lock()
	open, closed := r.open, r.closed
	r.conn.mu.Unlock()
	if open {
		return nil
	}
	if closed {
		return errors.Wrapf(ErrRoomClosed, "waiting for %q", r.name)
	}

	select {
	case err := <-signal:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// On registers a handler for event on this room.
func (r *Room) On(event string, fn emitter.Listener) emitter.ListenerID {
	return r.events.On(event, fn)
}

// Once registers a handler that runs at most once.
func (r *Room) Once(event string, fn emitter.Listener) emitter.ListenerID {
	return r.events.Once(event, fn)
}

// Off removes handlers for event; see emitter.Emitter.Off.
func (r *Room) Off(event string, ids ...emitter.ListenerID) {
	r.events.Off(event, ids...)
}

// Emit fires event locally on this room without sending anything.
func (r *Room) Emit(event string, args ...interface{}) bool {
	return r.events.Emit(event, args...)
}

// RemoveAllListeners removes handlers for the given events, or all of them.
func (r *Room) RemoveAllListeners(events ...string) {
	r.events.RemoveAllListeners(events...)
}

// OnMessage registers fn for an application event, receiving the raw payload
// and the sender's peer id.
func (r *Room) OnMessage(event string, fn func(payload []byte, src string)) emitter.ListenerID {
	return r.events.On(event, func(args ...interface{}) {
		if len(args) < 2 {
			return
		}
		payload, _ := args[0].([]byte)
		src, _ := args[1].(string)
		fn(payload, src)
	})
}

// OnMember registers fn for the joined or left membership events.
func (r *Room) OnMember(event string, fn func(id string)) emitter.ListenerID {
	return r.events.On(event, func(args ...interface{}) {
		if len(args) == 0 {
			return
		}
		id, _ := args[0].(string)
		fn(id)
	})
}

// OnError registers fn for the room's error event.
func (r *Room) OnError(fn func(err error)) emitter.ListenerID {
	return r.events.On(EventError, func(args ...interface{}) {
		if len(args) == 0 {
			return
		}
		if err, ok := args[0].(error); ok {
			fn(err)
		}
	})
}

func (r *Room) memberIndex(id string) int {
	for i, m := range r.members {
		if m == id {
			return i
		}
	}
	return -1
}

func (r *Room) stopJoinTimer() {
	if r.joinTimer != nil {
		r.joinTimer.Stop()
		r.joinTimer = nil
	}
}
