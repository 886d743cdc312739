package relay

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

var (
	ErrSessionClosed = errors.New("session closed")
	ErrSlowPeer      = errors.New("slow peer")
)

const writeWait = 10 * time.Second

// session represents one websocket connection to the relay
type session struct {
	id           string
	conn         *websocket.Conn
	server       *Server
	outgoing     chan []byte
	closeOnce    sync.Once
	closed       chan struct{}
	mu           sync.RWMutex
	onMessage    func([]byte)
	onClose      func(string)
	lastActivity time.Time
}

func newSession(id string, conn *websocket.Conn, server *Server) *session {
	return &session{
		id:           id,
		conn:         conn,
		server:       server,
		outgoing:     make(chan []byte, server.config.SendBuffer),
		closed:       make(chan struct{}),
		lastActivity: time.Now(),
	}
}

// start starts the session loops
func (s *session) start() {
	go s.writeLoop()
	go s.readLoop()
}

// send queues a message for the peer
func (s *session) send(data []byte) error {
	select {
	case s.outgoing <- data:
		return nil
	case <-s.closed:
		return ErrSessionClosed
	default:
		// Channel full, connection might be slow
		return ErrSlowPeer
	}
}

// close closes the session
func (s *session) close(reason string) error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)

		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
		s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))

		err = s.conn.Close()

		s.mu.RLock()
		onClose := s.onClose
		s.mu.RUnlock()
		if onClose != nil {
			onClose(reason)
		}
	})
	return err
}

func (s *session) setHandlers(onMessage func([]byte), onClose func(string)) {
	s.mu.Lock()
	s.onMessage = onMessage
	s.onClose = onClose
	s.mu.Unlock()
}

func (s *session) readLoop() {
	defer s.close("read error")

	config := s.server.config
	if config.MaxMessageSize > 0 {
		s.conn.SetReadLimit(config.MaxMessageSize)
	}
	if config.PingInterval > 0 {
		wait := config.PingInterval + config.PingTimeout
		s.conn.SetReadDeadline(time.Now().Add(wait))
		s.conn.SetPongHandler(func(string) error {
			s.updateActivity()
			return s.conn.SetReadDeadline(time.Now().Add(wait))
		})
	}

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}

		s.updateActivity()
		if config.PingInterval > 0 {
			s.conn.SetReadDeadline(time.Now().Add(config.PingInterval + config.PingTimeout))
		}

		s.mu.RLock()
		handler := s.onMessage
		s.mu.RUnlock()
		if handler != nil {
			handler(data)
		}
	}
}

func (s *session) writeLoop() {
	var pings <-chan time.Time
	if s.server.config.PingInterval > 0 {
		ticker := time.NewTicker(s.server.config.PingInterval)
		defer ticker.Stop()
		pings = ticker.C
	}

	for {
		select {
		case data := <-s.outgoing:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
				s.close("write error")
				return
			}
		case <-pings:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				s.close("ping error")
				return
			}
		case <-s.closed:
			return
		}
	}
}

func (s *session) updateActivity() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

func (s *session) idle() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return time.Since(s.lastActivity)
}
