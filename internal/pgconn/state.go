package pgconn

// State is the connection's position in the lifecycle spec.md §4.6
// describes: Connecting → Authenticating (folded into Connecting/
// SCRAM below) → Connected → Ready, with Error as an absorbing state
// reachable from anywhere.
type State int

const (
	StateConnecting State = iota
	StateSCRAM
	StateConnected
	StateReady
	StateError
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateSCRAM:
		return "scram"
	case StateConnected:
		return "connected"
	case StateReady:
		return "ready"
	case StateError:
		return "error"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Credentials is the identity consumed by startup and authentication:
// (username, database, password-material). Lifetime: created at
// client construction, consumed by startup; password bytes are zeroed
// after authentication succeeds (spec.md §3, §5).
type Credentials struct {
	Username string
	Database string
	Password string

	// ExtraParams are additional startup parameters sent verbatim
	// (e.g. "application_name", "options"), in map iteration order is
	// NOT guaranteed — callers needing deterministic wire output
	// should rely only on Username/Database ordering, which this
	// package fixes.
	ExtraParams map[string]string
}

// zeroPassword drops the password once authentication completes. Go
// strings are immutable and share backing storage, so this cannot
// scrub the original bytes in place the way a []byte password could;
// it only removes the last live reference so the backing array is
// collectible.
func (c *Credentials) zeroPassword() {
	c.Password = ""
}
