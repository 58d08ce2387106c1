package domain

// ConnectionState models the transport connection lifecycle. The lifecycle
// is linear: once ExpiredToken, FailedToConnect or Ended is reached there is
// no way back to Online.
type ConnectionState int

const (
	StateUninitialized ConnectionState = iota
	StateConnecting
	StateOnline
	StateExpiredToken
	StateFailedToConnect
	StateEnded
)

func (s ConnectionState) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateConnecting:
		return "connecting"
	case StateOnline:
		return "online"
	case StateExpiredToken:
		return "expired_token"
	case StateFailedToConnect:
		return "failed_to_connect"
	case StateEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further lifecycle progress is possible.
func (s ConnectionState) Terminal() bool {
	return s == StateExpiredToken || s == StateFailedToConnect || s == StateEnded
}
