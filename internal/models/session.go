package models

import "time"

// SessionState tracks the lifecycle of the single authenticated portal
// session.
type SessionState string

const (
	SessionLoggedOut      SessionState = "logged_out"
	SessionAuthenticating SessionState = "authenticating"
	SessionAuthenticated  SessionState = "authenticated"
	SessionExpired        SessionState = "expired"
)

// Session is the live authenticated context against the portal. At most one
// exists per SessionController and it is mutated only by the controller.
type Session struct {
	State          SessionState `json:"state"`
	EstablishedAt  time.Time    `json:"established_at,omitempty"`
	LastActivityAt time.Time    `json:"last_activity_at,omitempty"`
	Owner          string       `json:"owner,omitempty"`
}

// Credential is the transient portal login. It is passed by value through
// the call chain for the duration of one job and never serialized - there
// are deliberately no struct tags on the secret field.
type Credential struct {
	Username string `json:"username"`
	Password string `json:"-"`
	Domain   string `json:"domain"`
}
