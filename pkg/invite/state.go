package invite

// State is one of the INVITE session's states (spec §4.3).
type State int

const (
	StateNull State = iota
	StateCalling
	StateIncoming
	StateEarly
	StateConnecting
	StateConfirmed
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateNull:
		return "Null"
	case StateCalling:
		return "Calling"
	case StateIncoming:
		return "Incoming"
	case StateEarly:
		return "Early"
	case StateConnecting:
		return "Connecting"
	case StateConfirmed:
		return "Confirmed"
	case StateDisconnected:
		return "Disconnected"
	default:
		return "Unknown"
	}
}

// RedirectDecision is the application's answer to an onRedirect callback
// fired for a 3xx response (spec §4.3).
type RedirectDecision int

const (
	RedirectAccept RedirectDecision = iota
	RedirectReject
	RedirectStop
	RedirectPending
)

// DisconnectCause explains why a session reached Disconnected.
type DisconnectCause int

const (
	CauseNormalClearing DisconnectCause = iota
	CauseNoSDPAnswer        // local SDP negotiation never reached Done
	CauseACKTimeout         // 2xx retransmitted until 64*T1 with no ACK
	CauseRejected           // UAS sent a final failure response
	CauseRemoteBye
	CauseCancelled
	CauseRedirectExhausted
)
