package relay

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/ramory-l/wsrooms/frame"
)

// Membership events handled by the relay itself.
const (
	eventJoin   = "join"
	eventJoined = "joined"
	eventLeave  = "leave"
	eventLeft   = "left"
)

func (s *Server) handleMessage(sess *session, data []byte) {
	f, err := s.codec.Decode(data)
	if err != nil {
		s.countFrame(false)
		s.log.WithFields(logrus.Fields{
			"peer":  sess.id,
			"error": err,
		}).Warn("Dropping malformed frame")
		return
	}

	if s.log.Logger.IsLevelEnabled(logrus.DebugLevel) {
		s.log.WithFields(logrus.Fields{
			"peer":  sess.id,
			"frame": f.String(),
		}).Debug("Received frame")
	}

	switch f.Event {
	case eventJoin:
		s.handleJoin(sess, f)
	case eventJoined:
		s.handleJoined(sess, f)
	case eventLeave:
		s.handleLeave(sess, f)
	case eventLeft:
		s.handleLeft(sess, f)
	default:
		s.handleRelay(sess, f)
	}
}

func (s *Server) handleJoin(sess *session, f *frame.Frame) {
	if f.Room == "" {
		s.log.WithField("peer", sess.id).Warn("Join without room")
		return
	}
	others := s.adapter.Members(f.Room)
	if s.adapter.Add(sess.id, f.Room) {
		s.log.WithFields(logrus.Fields{
			"peer": sess.id,
			"room": f.Room,
		}).Info("Peer joined room")
	} else {
		others = withoutPeer(others, sess.id)
	}
	s.sendJoinResponse(sess, f.Room, others)
}

// handleJoined announces a member that confirmed its join.
func (s *Server) handleJoined(sess *session, f *frame.Frame) {
	if !s.adapter.IsMember(sess.id, f.Room) {
		return
	}
	s.broadcast(f.Room, &frame.Frame{
		Room:    f.Room,
		Event:   eventJoined,
		Source:  sess.id,
		Payload: s.codec.StringPayload(sess.id),
	}, sess.id)
}

func (s *Server) handleLeave(sess *session, f *frame.Frame) {
	if f.Room == RootRoom {
		sess.close("peer left")
		return
	}
	if s.adapter.Remove(sess.id, f.Room) {
		s.broadcastLeft(f.Room, sess.id)
	}
}

// handleLeft completes a leave, including the acknowledgement of a kick.
func (s *Server) handleLeft(sess *session, f *frame.Frame) {
	if f.Room == RootRoom {
		sess.close("peer left")
		return
	}
	if s.adapter.Remove(sess.id, f.Room) {
		s.broadcastLeft(f.Room, sess.id)
	}
}

func (s *Server) handleRelay(sess *session, f *frame.Frame) {
	if !s.adapter.IsMember(sess.id, f.Room) {
		s.countFrame(false)
		s.log.WithFields(logrus.Fields{
			"peer":  sess.id,
			"room":  f.Room,
			"event": f.Event,
		}).Warn("Dropping frame for room the peer has not joined")
		return
	}

	f.Source = sess.id
	if s.events.Emit(f.Event, &Peer{session: sess, server: s}, f) {
		return
	}

	if f.Destination != "" {
		if !s.adapter.IsMember(f.Destination, f.Room) {
			s.countFrame(false)
			s.log.WithFields(logrus.Fields{
				"peer":        sess.id,
				"room":        f.Room,
				"destination": f.Destination,
			}).Debug("Dropping frame for peer outside room")
			return
		}
		dst, ok := s.session(f.Destination)
		if !ok {
			s.countFrame(false)
			return
		}
		if err := s.sendFrame(dst, f); err == nil {
			s.countFrame(true)
		}
		return
	}
	s.broadcast(f.Room, f, sess.id)
}

func (s *Server) sendJoinResponse(sess *session, room string, others []string) {
	if others == nil {
		others = []string{}
	}
	payload, err := s.codec.MarshalPayload(others)
	if err != nil {
		s.log.WithField("error", err).Error("Cannot encode member list")
		return
	}
	s.sendFrame(sess, &frame.Frame{
		Room:    room,
		Event:   eventJoin,
		Source:  sess.id,
		Payload: payload,
	})
}

func (s *Server) broadcastLeft(room, peerID string) {
	s.log.WithFields(logrus.Fields{
		"peer": peerID,
		"room": room,
	}).Info("Peer left room")
	s.broadcast(room, &frame.Frame{
		Room:    room,
		Event:   eventLeft,
		Source:  peerID,
		Payload: s.codec.StringPayload(peerID),
	}, peerID)
}

// broadcast delivers f to every member of room except the one named by except.
func (s *Server) broadcast(room string, f *frame.Frame, except string) error {
	data, err := s.codec.Encode(f)
	if err != nil {
		return err
	}
	for _, id := range s.adapter.Members(room) {
		if id == except {
			continue
		}
		sess, ok := s.session(id)
		if !ok {
			continue
		}
		if err := s.sendData(sess, data); err == nil {
			s.countFrame(true)
		}
	}
	return nil
}

func (s *Server) sendFrame(sess *session, f *frame.Frame) error {
	data, err := s.codec.Encode(f)
	if err != nil {
		return err
	}
	return s.sendData(sess, data)
}

// sendData queues data for a peer, disconnecting peers that fall behind.
func (s *Server) sendData(sess *session, data []byte) error {
	err := sess.send(data)
	if errors.Is(err, ErrSlowPeer) {
		s.countFrame(false)
		s.log.WithField("peer", sess.id).Warn("Disconnecting slow peer")
		go sess.close("slow peer")
	}
	return err
}

func withoutPeer(ids []string, peerID string) []string {
	out := ids[:0]
	for _, id := range ids {
		if id != peerID {
			out = append(out, id)
		}
	}
	return out
}
