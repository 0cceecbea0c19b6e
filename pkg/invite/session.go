package invite

import (
	"context"
	"sync"
	"time"

	"github.com/looplab/fsm"

	"github.com/arzzra/voicecore/pkg/mediasession"
	"github.com/arzzra/voicecore/pkg/sip/core/sdp"
)

// T1 is the RTT estimate used to pace the UAS 2xx retransmit timer
// (RFC 3261 §17.1.1, spec §4.3: "timers T1..T2 until ACK").
const T1 = 500 * time.Millisecond

// Role distinguishes which side of the INVITE this session represents.
type Role int

const (
	RoleUAC Role = iota
	RoleUAS
)

// Sender is everything a Session needs from the dialog/transaction layer
// below it to act: send a request or response on the session's dialog, and
// learn when an INVITE transaction it started/received has reached a
// terminal state. It is intentionally narrow — the session owns offer/
// answer and call-state logic, never wire framing or retransmission (that
// stays in pkg/sip/transaction).
type Sender interface {
	SendRequest(method string, body []byte, contentType string) error
	SendResponse(status int, reason string, body []byte, contentType string) error
	SendAck(body []byte) error
}

// RedirectCallback is invoked for each 3xx response; Pending requires a
// later explicit ProcessRedirect call with the decision.
type RedirectCallback func(contacts []string) RedirectDecision

// Session is the INVITE offer/answer call state machine (spec §4.3).
type Session struct {
	mu sync.Mutex

	role Role
	send Sender

	fsm *fsm.FSM

	Negotiator *Negotiator

	onStateChanged func(State, DisconnectCause)
	onRedirect     RedirectCallback

	pendingCancel bool
	gotProvisional bool

	reinviteInFlight bool

	ackTimer   *time.Timer
	ackRetries int
	t1         time.Duration

	transfer *Transfer

	media     *mediasession.Session
	mediaPool *mediasession.PortPool
	mediaPort uint16
}

// NewSession creates an INVITE session for role, driven through send.
func NewSession(role Role, send Sender, onStateChanged func(State, DisconnectCause)) *Session {
	s := &Session{
		role:           role,
		send:           send,
		Negotiator:     NewNegotiator(),
		onStateChanged: onStateChanged,
		t1:             T1,
	}
	s.initFSM()
	return s
}

// SetRedirectCallback installs the 3xx policy callback.
func (s *Session) SetRedirectCallback(cb RedirectCallback) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onRedirect = cb
}

func (s *Session) initFSM() {
	start := StateNull.String()
	s.fsm = fsm.NewFSM(
		start,
		fsm.Events{
			{Name: "invite_sent", Src: []string{StateNull.String()}, Dst: StateCalling.String()},
			{Name: "invite_received", Src: []string{StateNull.String()}, Dst: StateIncoming.String()},
			{Name: "provisional", Src: []string{StateCalling.String(), StateIncoming.String(), StateEarly.String()}, Dst: StateEarly.String()},
			{Name: "final_2xx", Src: []string{StateCalling.String(), StateEarly.String(), StateIncoming.String()}, Dst: StateConnecting.String()},
			{Name: "ack_seen", Src: []string{StateConnecting.String()}, Dst: StateConfirmed.String()},
			{Name: "disconnect", Src: []string{
				StateNull.String(), StateCalling.String(), StateIncoming.String(),
				StateEarly.String(), StateConnecting.String(), StateConfirmed.String(),
			}, Dst: StateDisconnected.String()},
		},
		fsm.Callbacks{},
	)
}

func (s *Session) state() State {
	switch s.fsm.Current() {
	case StateCalling.String():
		return StateCalling
	case StateIncoming.String():
		return StateIncoming
	case StateEarly.String():
		return StateEarly
	case StateConnecting.String():
		return StateConnecting
	case StateConfirmed.String():
		return StateConfirmed
	case StateDisconnected.String():
		return StateDisconnected
	default:
		return StateNull
	}
}

// State returns the session's current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state()
}

func (s *Session) transition(event string, cause DisconnectCause) {
	if err := s.fsm.Event(context.Background(), event); err != nil {
		return
	}
	st := s.state()
	if st == StateDisconnected {
		s.closeMedia()
	}
	if s.onStateChanged != nil {
		s.onStateChanged(st, cause)
	}
}

// StartOutgoing moves a fresh UAC session to Calling after the INVITE has
// been handed to the transaction layer, and records the offer.
func (s *Session) StartOutgoing(offer *sdp.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Negotiator.SetLocalOffer(offer)
	s.transition("invite_sent", CauseNormalClearing)
}

// StartIncoming moves a fresh UAS session to Incoming on receipt of the
// initial INVITE, recording any offer carried in it.
func (s *Session) StartIncoming(offer *sdp.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if offer != nil {
		s.Negotiator.SetRemoteOffer(offer)
	}
	s.transition("invite_received", CauseNormalClearing)
}

// HandleProvisional processes a 1xx response (UAC) or records that a 1xx
// has been sent (UAS), and fires the deferred CANCEL if one was requested
// before any 1xx arrived (spec §4.3: "as soon as a 1xx arrives, CANCEL is
// issued").
func (s *Session) HandleProvisional(hasToTag bool) {
	s.mu.Lock()
	s.gotProvisional = true
	pending := s.pendingCancel
	s.pendingCancel = false
	s.mu.Unlock()

	if hasToTag {
		s.transition("provisional", CauseNormalClearing)
	}

	if pending {
		_ = s.send.SendRequest("CANCEL", nil, "")
	}
}

// HandleFinalResponse processes a final response to the INVITE (UAC side).
// A 2xx moves to Connecting and an ACK is expected next; any other code
// disconnects the session. 3xx triggers the redirect callback.
func (s *Session) HandleFinalResponse(code int, contacts []string, body *sdp.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case code >= 200 && code < 300:
		if body != nil {
			s.Negotiator.SetRemoteAnswer(body)
		}
		s.transition("final_2xx", CauseNormalClearing)
	case code >= 300 && code < 400:
		s.handleRedirectLocked(contacts)
	default:
		s.transition("disconnect", CauseRejected)
	}
}

func (s *Session) handleRedirectLocked(contacts []string) {
	if s.onRedirect == nil {
		s.transition("disconnect", CauseRedirectExhausted)
		return
	}
	switch s.onRedirect(contacts) {
	case RedirectAccept:
		// Caller re-sends INVITE to the next contact; session stays in its
		// current state awaiting the new transaction's responses.
	case RedirectReject, RedirectStop:
		s.transition("disconnect", CauseRedirectExhausted)
	case RedirectPending:
		// Caller must invoke ProcessRedirect explicitly later.
	}
}

// ProcessRedirect resolves a Pending redirect decision made earlier.
func (s *Session) ProcessRedirect(decision RedirectDecision) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch decision {
	case RedirectReject, RedirectStop:
		s.transition("disconnect", CauseRedirectExhausted)
	}
}

// AcceptIncoming sends a 2xx with answer for a UAS session in Incoming or
// Early, and arms the application-level 2xx retransmit timer (spec §4.3).
func (s *Session) AcceptIncoming(answer *sdp.Session, retransmit func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Negotiator.SetLocalAnswer(answer)
	if err := s.send.SendResponse(200, "OK", answer.Bytes(), "application/sdp"); err != nil {
		return err
	}
	s.transition("final_2xx", CauseNormalClearing)
	s.armAckTimer(retransmit)
	return nil
}

// Reject sends a UAS final failure response and disconnects.
func (s *Session) Reject(code int, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.send.SendResponse(code, reason, nil, ""); err != nil {
		return err
	}
	s.transition("disconnect", CauseRejected)
	return nil
}

// armAckTimer starts the G-timer-like 2xx retransmit loop: doubling from T1
// until T1*64 with no ACK disconnects the dialog (spec §4.3).
func (s *Session) armAckTimer(retransmit func()) {
	s.ackRetries = 0
	var schedule func(time.Duration)
	schedule = func(d time.Duration) {
		s.ackTimer = time.AfterFunc(d, func() {
			s.mu.Lock()
			if s.state() != StateConnecting {
				s.mu.Unlock()
				return
			}
			s.ackRetries++
			next := d * 2
			if next > 64*s.t1 {
				s.transition("disconnect", CauseACKTimeout)
				s.mu.Unlock()
				return
			}
			s.mu.Unlock()
			if retransmit != nil {
				retransmit()
			}
			schedule(next)
		})
	}
	schedule(s.t1)
}

// HandleAck processes the ACK that confirms a 2xx on a UAS session. Any SDP
// body is a late answer fed to the negotiator. Confirmed requires
// negotiation to be Done; otherwise the session BYEs itself out (spec
// §4.3).
func (s *Session) HandleAck(lateAnswer *sdp.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ackTimer != nil {
		s.ackTimer.Stop()
	}
	if lateAnswer != nil {
		s.Negotiator.SetRemoteAnswer(lateAnswer)
	}
	if !s.Negotiator.Done() {
		s.transition("disconnect", CauseNoSDPAnswer)
		return s.send.SendRequest("BYE", nil, "")
	}
	s.transition("ack_seen", CauseNormalClearing)
	return nil
}

// Cancel requests cancellation of an in-progress UAC INVITE. If no 1xx has
// arrived yet the CANCEL is deferred until one does (spec §4.3).
func (s *Session) Cancel() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state() != StateCalling && s.state() != StateEarly {
		return nil
	}
	if !s.gotProvisional {
		s.pendingCancel = true
		return nil
	}
	return s.send.SendRequest("CANCEL", nil, "")
}

// HandleCancel processes a CANCEL received for a UAS INVITE transaction
// still below 200: the INVITE is answered 487 and the session disconnects.
// The CANCEL itself is always answered 200 by the caller, independent of
// this return.
func (s *Session) HandleCancel() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.send.SendResponse(487, "Request Terminated", nil, ""); err != nil {
		return err
	}
	s.transition("disconnect", CauseCancelled)
	return nil
}

// EndSession ends an established call (BYE, then Disconnected) or an
// in-progress one. A UAC in Calling/Early sends CANCEL (deferred until the
// first 1xx) and stays in its state until the final response arrives; a UAS
// in Incoming answers 487 and moves to Disconnected. status is not used: the
// disconnect cause is fixed per state.
func (s *Session) EndSession(status int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state() {
	case StateConfirmed:
		s.transition("disconnect", CauseNormalClearing)
		return s.send.SendRequest("BYE", nil, "")
	case StateCalling, StateEarly:
		return s.sendCancelLocked()
	case StateIncoming:
		s.transition("disconnect", CauseCancelled)
		return s.send.SendResponse(487, "Request Terminated", nil, "")
	default:
		return nil
	}
}

func (s *Session) sendCancelLocked() error {
	if !s.gotProvisional {
		s.pendingCancel = true
		return nil
	}
	return s.send.SendRequest("CANCEL", nil, "")
}

// HandleBye processes a remote BYE and moves to Disconnected.
func (s *Session) HandleBye() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.send.SendResponse(200, "OK", nil, ""); err != nil {
		return err
	}
	s.transition("disconnect", CauseRemoteBye)
	return nil
}

// CanReinvite reports whether a new INVITE transaction may be started in
// this dialog right now (spec §4.3: "only accepted when no other INVITE
// transaction is pending").
func (s *Session) CanReinvite() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state() == StateConfirmed && !s.reinviteInFlight
}

// StartReinvite marks a re-INVITE transaction as in flight, or returns an
// error response policy if one is already running.
func (s *Session) StartReinvite(offer *sdp.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state() != StateConfirmed || s.reinviteInFlight {
		return s.send.SendResponse(500, "Another INVITE transaction in progress", nil, "")
	}
	s.reinviteInFlight = true
	s.Negotiator.Reset()
	s.Negotiator.SetLocalOffer(offer)
	return nil
}

// HandleReinviteOffer records an incoming re-INVITE's offer.
func (s *Session) HandleReinviteOffer(offer *sdp.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reinviteInFlight {
		return s.send.SendResponse(500, "Another INVITE transaction in progress", nil, "")
	}
	s.reinviteInFlight = true
	s.Negotiator.Reset()
	s.Negotiator.SetRemoteOffer(offer)
	return nil
}

// FinishReinvite completes a re-INVITE round (success or failure) and
// clears the in-flight guard.
func (s *Session) FinishReinvite() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reinviteInFlight = false
}
