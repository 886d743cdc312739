package wsrooms

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

const writeWait = 10 * time.Second

// Transport carries whole binary messages between a Conn and the server.
// ReadMessage is only called from the connection's read loop; WriteMessage
// and Close may be called from any goroutine.
type Transport interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close() error
}

// wsTransport is a Transport over a gorilla websocket connection. Writes are
// queued and performed by a single write loop, which also sends keepalive
// pings.
type wsTransport struct {
	conn         *websocket.Conn
	outgoing     chan []byte
	closeOnce    sync.Once
	closing      chan struct{}
	done         chan struct{}
	pingInterval time.Duration
	pingTimeout  time.Duration
}

func newWSTransport(conn *websocket.Conn, config *Config) *wsTransport {
	t := &wsTransport{
		conn:         conn,
		outgoing:     make(chan []byte, config.WriteBufferSize),
		closing:      make(chan struct{}),
		done:         make(chan struct{}),
		pingInterval: config.PingInterval,
		pingTimeout:  config.PingTimeout,
	}

	if config.MaxMessageSize > 0 {
		conn.SetReadLimit(config.MaxMessageSize)
	}
	if t.pingInterval > 0 {
		conn.SetReadDeadline(time.Now().Add(t.readWait()))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(t.readWait()))
		})
	}

	go t.writeLoop()
	return t
}

func (t *wsTransport) readWait() time.Duration {
	return t.pingInterval + t.pingTimeout
}

// ReadMessage returns the next data message. Text messages are treated as
// raw frame bytes as well.
func (t *wsTransport) ReadMessage() ([]byte, error) {
	_, data, err := t.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	if t.pingInterval > 0 {
		t.conn.SetReadDeadline(time.Now().Add(t.readWait()))
	}
	return data, nil
}

// WriteMessage queues data for the write loop. It blocks while the queue is
// full.
func (t *wsTransport) WriteMessage(data []byte) error {
	select {
	case <-t.closing:
		return ErrClosed
	default:
	}

	select {
	case t.outgoing <- data:
		return nil
	case <-t.closing:
		return ErrClosed
	case <-t.done:
		return ErrClosed
	}
}

// Close flushes queued messages, sends a close message and closes the
// underlying connection.
func (t *wsTransport) Close() error {
	t.closeOnce.Do(func() {
		close(t.closing)
	})
	<-t.done
	return nil
}

func (t *wsTransport) writeLoop() {
	defer close(t.done)

	var pings <-chan time.Time
	if t.pingInterval > 0 {
		ticker := time.NewTicker(t.pingInterval)
		defer ticker.Stop()
		pings = ticker.C
	}

	for {
		select {
		case data := <-t.outgoing:
			if err := t.write(data); err != nil {
				t.conn.Close()
				return
			}
		case <-pings:
			if err := t.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				t.conn.Close()
				return
			}
		case <-t.closing:
			t.drain()
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			t.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
			t.conn.Close()
			return
		}
	}
}

func (t *wsTransport) drain() {
	for {
		select {
		case data := <-t.outgoing:
			if err := t.write(data); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (t *wsTransport) write(data []byte) error {
	t.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := t.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		return errors.Wrap(err, "write message")
	}
	return nil
}
