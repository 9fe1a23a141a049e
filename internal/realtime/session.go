package realtime

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// session wraps one live websocket connection. Writes are serialized with a
// mutex because gorilla/websocket allows at most one concurrent writer, and
// pushes arrive from many goroutines (router, presence broadcaster, the
// connection's own read loop).
type session struct {
	userID string
	name   string

	mu           sync.Mutex
	conn         *websocket.Conn
	writeTimeout time.Duration
}

func newSession(userID, name string, conn *websocket.Conn, writeTimeout time.Duration) *session {
	return &session{
		userID:       userID,
		name:         name,
		conn:         conn,
		writeTimeout: writeTimeout,
	}
}

func (s *session) UserID() string { return s.userID }

func (s *session) Name() string { return s.name }

// Push writes one outbound frame. A write error is returned to the caller,
// which treats the session as gone; the read loop notices the broken
// connection independently and tears the session down.
func (s *session) Push(event string, payload any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeTimeout > 0 {
		_ = s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	}
	return s.conn.WriteJSON(OutboundFrame{Event: event, Data: payload})
}

func (s *session) Close() error {
	return s.conn.Close()
}
