package wsrooms

import (
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ramory-l/wsrooms/frame"
)

// Config represents client connection configuration
type Config struct {
	// HandshakeTimeout bounds the websocket opening handshake in Dial.
	HandshakeTimeout time.Duration

	// PingInterval is how often keepalive pings are sent. 0 disables pings.
	PingInterval time.Duration

	// PingTimeout is how long to wait for a pong before the connection is
	// considered dead. Only used when PingInterval is set.
	PingTimeout time.Duration

	// MaxMessageSize limits inbound messages in bytes. 0 means no limit.
	MaxMessageSize int64

	// WriteBufferSize is the number of outbound messages that may be queued
	// before Send blocks.
	WriteBufferSize int

	// JoinTimeout, if set, abandons a join whose response has not arrived in
	// time. 0 waits forever.
	JoinTimeout time.Duration

	// Encoding selects the wire encoding of string fields.
	Encoding frame.Encoding

	// Header is sent with the websocket handshake request.
	Header http.Header

	Log *logrus.Logger
}

// DefaultConfig returns default client configuration
func DefaultConfig() *Config {
	return &Config{
		HandshakeTimeout: 10 * time.Second,
		PingInterval:     25 * time.Second,
		PingTimeout:      20 * time.Second,
		MaxMessageSize:   1 << 20,
		WriteBufferSize:  256,
		Encoding:         frame.Latin1,
	}
}

// withDefaults returns a copy of config with unset fields filled in.
func (config *Config) withDefaults() *Config {
	def := DefaultConfig()
	if config == nil {
		def.Log = logrus.StandardLogger()
		return def
	}

	c := *config
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = def.HandshakeTimeout
	}
	if c.PingInterval > 0 && c.PingTimeout <= 0 {
		c.PingTimeout = def.PingTimeout
	}
	if c.WriteBufferSize <= 0 {
		c.WriteBufferSize = def.WriteBufferSize
	}
	if c.Log == nil {
		c.Log = logrus.StandardLogger()
	}
	return &c
}
