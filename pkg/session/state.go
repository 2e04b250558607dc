package session

// State is the controller's position in the session lifecycle. Failed and
// Closed are terminal.
type State int32

const (
	Idle State = iota
	Connecting
	Authenticating
	ChannelOpen
	Relaying
	Closing
	Closed
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Authenticating:
		return "authenticating"
	case ChannelOpen:
		return "channel-open"
	case Relaying:
		return "relaying"
	case Closing:
		return "closing"
	case Closed:
		return "closed"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == Closed || s == Failed
}

// Stage names the lifecycle phase a failure occurred in, for user-facing
// classification and exit codes.
type Stage string

const (
	StageConnect Stage = "connect"
	StageAuth    Stage = "auth"
	StageChannel Stage = "channel"
	StageRelay   Stage = "relay"
)

// StageError is a terminal session failure tagged with its stage.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return string(e.Stage) + ": " + e.Err.Error()
}

func (e *StageError) Unwrap() error {
	return e.Err
}
