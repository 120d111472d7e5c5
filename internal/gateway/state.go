package gateway

// State is a ConnectionManager protocol state
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateAwaitingHello
	StateAuthenticating
	StateReady
	StateClosing
)

var stateNames = []string{"disconnected", "connecting", "awaiting_hello", "authenticating", "ready", "closing"}

func (s State) String() string {
	if int(s) < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}
