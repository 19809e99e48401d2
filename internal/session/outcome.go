package session

// Outcome is what a connect or disconnect step did to an identity.
type Outcome int

const (
	// OutcomeUnchanged: the record already carried this connection.
	OutcomeUnchanged Outcome = iota
	// OutcomeJoined: Absent to Online, join notice broadcast.
	OutcomeJoined
	// OutcomeReconnected: stale record moved to the new connection.
	OutcomeReconnected
	// OutcomeReplaced: a live connection on another device was evicted.
	OutcomeReplaced
	// OutcomeLeft: Online to Absent, leave notice broadcast.
	OutcomeLeft
	// OutcomeSuperseded: the disconnecting connection no longer owned the
	// record; nothing changed.
	OutcomeSuperseded
)

func (o Outcome) String() string {
	switch o {
	case OutcomeUnchanged:
		return "unchanged"
	case OutcomeJoined:
		return "joined"
	case OutcomeReconnected:
		return "reconnected"
	case OutcomeReplaced:
		return "replaced"
	case OutcomeLeft:
		return "left"
	case OutcomeSuperseded:
		return "superseded"
	default:
		return "unknown"
	}
}
