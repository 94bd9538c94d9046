package bus

import "time"

// Event kinds published by the client core. Subscribers filter on the
// namespace prefix ("session.", "feed.", "handshake.").
const (
	KindSessionStatus    = "session.status_changed"
	KindSessionRedirect  = "session.redirect"
	KindSessionExpired   = "session.expired"
	KindFeedUpdated      = "feed.updated"
	KindFeedSendFailed   = "feed.send_failed"
	KindFeedEnded        = "feed.ended"
	KindHandshakeUpdated = "handshake.updated"
	KindHandshakeEnded   = "handshake.ended"
)

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
