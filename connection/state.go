package connection

// State is the lifecycle position of a Connection.
type State int

const (
	Connecting  State = iota // Dial in progress, or accepted but not yet announced
	Established              // Peer reachable; frames flow both ways
	Closed                   // Ended cleanly by either side
	Failed                   // Ended by a connect or transport error
)

// String returns a human-readable name for the state.
func (s State) String() string {
	switch s {
	case Connecting:
		return "Connecting"
	case Established:
		return "Established"
	case Closed:
		return "Closed"
	case Failed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// Terminal reports whether no further events will be processed.
func (s State) Terminal() bool {
	return s == Closed || s == Failed
}

// Role says which side created the connection.
type Role int

const (
	RoleClient Role = iota // Created by Dial; owns its session
	RoleServer             // Created by a server for an accepted session
)

// String returns the role name used in logs and metrics labels.
func (r Role) String() string {
	switch r {
	case RoleClient:
		return "client"
	case RoleServer:
		return "server"
	default:
		return "unknown"
	}
}
