package realtime

import "github.com/rs/zerolog/log"

// Broadcaster announces presence changes. On every register or unregister it
// pushes the full current online set to every connected session, so any
// client always holds the complete picture without tracking deltas. No
// historical presence is kept.
//
// This is O(connected clients) work per connect/disconnect, which is fine at
// the scale this service targets.
type Broadcaster struct {
	reg *Registry
}

// NewBroadcaster binds a Broadcaster to the given registry.
func NewBroadcaster(reg *Registry) *Broadcaster {
	return &Broadcaster{reg: reg}
}

// BroadcastPresence pushes the current online-user set to all connected
// sessions. Write failures are logged and otherwise ignored; the failing
// connection's own read loop handles teardown.
func (b *Broadcaster) BroadcastPresence() {
	online := b.reg.Snapshot()
	b.reg.Each(func(c Client) {
		if err := c.Push(EventOnlineUsers, online); err != nil {
			log.Warn().Err(err).
				Str("component", "realtime").
				Str("user_id", c.UserID()).
				Msg("presence push failed")
		}
	})
}
