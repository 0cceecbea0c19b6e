package invite

import (
	"github.com/arzzra/voicecore/pkg/sip/core/sdp"
)

// NegotiationState tracks offer/answer progress for one INVITE session
// (RFC 3264). Entering Confirmed requires this to reach Done.
type NegotiationState int

const (
	NegEmpty NegotiationState = iota
	NegLocalOfferSent
	NegRemoteOfferReceived
	NegDone
)

func (s NegotiationState) String() string {
	switch s {
	case NegEmpty:
		return "Empty"
	case NegLocalOfferSent:
		return "LocalOfferSent"
	case NegRemoteOfferReceived:
		return "RemoteOfferReceived"
	case NegDone:
		return "Done"
	default:
		return "Unknown"
	}
}

// Negotiator drives one session's offer/answer exchange. It is deliberately
// small: it only tracks which side holds the pending offer and stores the
// two negotiated sessions, leaving SDP content construction to the caller
// via sdp.Builder.
type Negotiator struct {
	state  NegotiationState
	local  *sdp.Session
	remote *sdp.Session
}

// NewNegotiator creates a Negotiator with no offer outstanding.
func NewNegotiator() *Negotiator { return &Negotiator{} }

// SetLocalOffer records an offer this side is sending (UAC initial INVITE,
// or a re-INVITE/UPDATE).
func (n *Negotiator) SetLocalOffer(s *sdp.Session) {
	n.local = s
	n.state = NegLocalOfferSent
}

// SetRemoteOffer records an offer just received (UAS INVITE, or a
// reciprocal re-INVITE).
func (n *Negotiator) SetRemoteOffer(s *sdp.Session) {
	n.remote = s
	n.state = NegRemoteOfferReceived
}

// SetLocalAnswer completes a remote-offer/local-answer exchange.
func (n *Negotiator) SetLocalAnswer(s *sdp.Session) {
	n.local = s
	n.state = NegDone
}

// SetRemoteAnswer completes a local-offer/remote-answer exchange. It also
// accepts a late answer carried in the ACK body (spec §4.3).
func (n *Negotiator) SetRemoteAnswer(s *sdp.Session) {
	n.remote = s
	n.state = NegDone
}

// Reset clears negotiation state ahead of a new offer/answer round
// (re-INVITE/UPDATE).
func (n *Negotiator) Reset() { n.state = NegEmpty }

// Done reports whether the current offer/answer round completed with both
// a local and a remote session description in hand.
func (n *Negotiator) Done() bool {
	return n.state == NegDone && n.local != nil && n.remote != nil
}

// Local returns the last negotiated local session description.
func (n *Negotiator) Local() *sdp.Session { return n.local }

// Remote returns the last negotiated remote session description.
func (n *Negotiator) Remote() *sdp.Session { return n.remote }
