package server

import (
	"github.com/danmuck/ghostwire/internal/logging"
	"github.com/danmuck/ghostwire/internal/protocol"
	"github.com/danmuck/ghostwire/internal/replication"
)

// introduce tells a freshly validated observer who it is and who else is
// connected, then announces it to everyone else.
func (s *Server) introduce(sess *observerSession) {
	s.sendUser(sess, protocol.UserEvent{Kind: protocol.UserSelf, User: sess.user})
	s.sessions.Range(func(id replication.ObserverID, other *observerSession) bool {
		if id != sess.id && s.peers.Validated(id) {
			s.sendUser(sess, protocol.UserEvent{Kind: protocol.UserJoined, User: other.user})
		}
		return true
	})
	s.broadcastUser(protocol.UserEvent{Kind: protocol.UserJoined, User: sess.user}, sess.id)
}

// broadcastUser sends ev to every validated observer except skip.
func (s *Server) broadcastUser(ev protocol.UserEvent, skip replication.ObserverID) {
	s.sessions.Range(func(id replication.ObserverID, other *observerSession) bool {
		if id != skip && s.peers.Validated(id) {
			s.sendUser(other, ev)
		}
		return true
	})
}

func (s *Server) sendUser(sess *observerSession, ev protocol.UserEvent) {
	msg, err := protocol.Seal(s.local, protocol.IdentUsers, protocol.EncodeUserEvent(ev))
	if err != nil {
		logging.Errf("server.Server.sendUser observer=%s err=%v", sess.id, err)
		return
	}
	sess.enqueue(protocol.IdentUsers, msg)
}

// Users lists connected user ids keyed by observer.
func (s *Server) Users() map[replication.ObserverID]uint64 {
	out := make(map[replication.ObserverID]uint64, s.sessions.Size())
	s.sessions.Range(func(id replication.ObserverID, sess *observerSession) bool {
		out[id] = sess.user
		return true
	})
	return out
}
