package invite

import (
	"context"
	"strconv"

	"github.com/looplab/fsm"
)

// Transfer subscription states (RFC 3515/3265), mirrored on both the
// server (REFER received) and client (REFER sent) sides.
const (
	TransferPending    = "pending"
	TransferTrying     = "trying"
	TransferProceeding = "proceeding"
	TransferCompleted  = "completed"
	TransferFailed     = "failed"
	TransferTerminated = "terminated"
)

// Transfer tracks one REFER-created event subscription (spec §4.3). A
// session holds a single Transfer: StartTransfer and HandleRefer refuse only
// while a subscription of their own direction is open, and otherwise replace
// whichever Transfer the session held. The NOTIFY content type is always
// "message/sipfrag".
type Transfer struct {
	fsm      *fsm.FSM
	outgoing bool // true if this side sent the REFER (client subscription)
}

func newTransferFSM() *fsm.FSM {
	return fsm.NewFSM(
		TransferPending,
		fsm.Events{
			{Name: "notify_100", Src: []string{TransferPending}, Dst: TransferTrying},
			{Name: "notify_1xx", Src: []string{TransferTrying, TransferPending}, Dst: TransferProceeding},
			{Name: "notify_success", Src: []string{TransferTrying, TransferProceeding, TransferPending}, Dst: TransferCompleted},
			{Name: "notify_failure", Src: []string{TransferTrying, TransferProceeding, TransferPending}, Dst: TransferFailed},
			{Name: "terminate", Src: []string{TransferCompleted, TransferFailed}, Dst: TransferTerminated},
		},
		fsm.Callbacks{},
	)
}

// NewIncomingTransfer creates a server-side subscription for a just-received
// REFER; the caller must still send the 202 response.
func NewIncomingTransfer() *Transfer {
	return &Transfer{fsm: newTransferFSM(), outgoing: false}
}

// NewOutgoingTransfer creates a client-side subscription for a REFER this
// session is about to send.
func NewOutgoingTransfer() *Transfer {
	return &Transfer{fsm: newTransferFSM(), outgoing: true}
}

// State returns the subscription's current state.
func (t *Transfer) State() string { return t.fsm.Current() }

// sipfragForReferredCallState maps the referred call's INVITE session state
// to the NOTIFY sipfrag status line the subscription should emit (spec
// §4.3: "100 Trying while outgoing call is being set up, final code when it
// reaches Early/Connecting/Confirmed/Disconnected").
func sipfragForReferredCallState(st State, finalStatus int) (event string, sipfrag string) {
	switch st {
	case StateCalling, StateIncoming:
		return "notify_100", "SIP/2.0 100 Trying"
	case StateEarly:
		return "notify_1xx", "SIP/2.0 180 Ringing"
	case StateConnecting, StateConfirmed:
		return "notify_success", "SIP/2.0 200 OK"
	case StateDisconnected:
		if finalStatus < 300 {
			return "notify_success", "SIP/2.0 200 OK"
		}
		return "notify_failure", "SIP/2.0 " + strconv.Itoa(finalStatus) + " Call Failed"
	default:
		return "notify_100", "SIP/2.0 100 Trying"
	}
}

// NotifyReferredCallState advances the subscription's FSM from the
// referred/refer-target call's state and returns the NOTIFY sipfrag body to
// send, or false if this state doesn't warrant a NOTIFY.
func (t *Transfer) NotifyReferredCallState(st State, finalStatus int) (sipfrag string, ok bool) {
	event, frag := sipfragForReferredCallState(st, finalStatus)
	if err := t.fsm.Event(context.Background(), event); err != nil {
		return "", false
	}
	if t.fsm.Current() == TransferCompleted || t.fsm.Current() == TransferFailed {
		_ = t.fsm.Event(context.Background(), "terminate")
	}
	return frag, true
}
