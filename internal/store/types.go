package store

import "time"

// Keys of the session_state table.
const (
	KeyAnonymousLoginTime = "anonymousLoginTime"
	KeyAnonymousUserID    = "anonymousUserId"
	KeyDurableUserID      = "durableUserId"
	KeyDevMode            = "devMode"
)

// SessionState is the locally persisted part of a client session. It lets an
// ephemeral session's expiry be checked across restarts.
type SessionState struct {
	AnonymousUserID    string
	AnonymousLoginTime time.Time
	DurableUserID      string
	DevMode            bool
}

// Empty reports whether no session is recorded.
func (s *SessionState) Empty() bool {
	return s == nil || (s.AnonymousUserID == "" && s.DurableUserID == "" && !s.DevMode)
}
