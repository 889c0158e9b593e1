package domain

import "time"

// SessionState is the lifecycle state of one managed session.
type SessionState string

const (
	StateUninitialized   SessionState = "uninitialized"
	StateInitializing    SessionState = "initializing"
	StateAwaitingPairing SessionState = "awaiting_pairing"
	StateConnected       SessionState = "connected"
	StateDisconnected    SessionState = "disconnected"
	StateReconnecting    SessionState = "reconnecting"
	StateFailed          SessionState = "failed"
	StateLoggedOut       SessionState = "logged_out"
)

// Terminal reports whether no further automatic transition can happen from s.
func (s SessionState) Terminal() bool {
	return s == StateFailed || s == StateLoggedOut
}

// SessionStatus is a point-in-time snapshot of one session, safe to hand to
// polling clients. Asynchronous failures surface only through these fields.
type SessionStatus struct {
	SessionID   string       `json:"sessionId"`
	OwnerID     string       `json:"ownerId,omitempty"`
	State       SessionState `json:"state"`
	Phone       string       `json:"phone,omitempty"`
	ProfileName string       `json:"profileName,omitempty"`
	RetryCount  int          `json:"retryCount"`
	LastError   string       `json:"lastError,omitempty"`
	UpdatedAt   time.Time    `json:"updatedAt"`
}
