package invite

import "errors"

// ErrTransferAlreadyActive is returned by StartTransfer/HandleRefer when a
// subscription of that direction is already open on this session.
var ErrTransferAlreadyActive = errors.New("invite: a transfer subscription is already active")

// StartTransfer sends a REFER to referTarget, creating a client-side
// subscription the application will later drive with NotifyReferredCallState
// as the referred call progresses (spec §4.3). Subscription termination is
// independent of this session's own call state.
func (s *Session) StartTransfer(referTarget string) (*Transfer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.transfer != nil && s.transfer.outgoing {
		return nil, ErrTransferAlreadyActive
	}
	if err := s.send.SendRequest("REFER", []byte("Refer-To: "+referTarget), ""); err != nil {
		return nil, err
	}
	t := NewOutgoingTransfer()
	s.transfer = t
	return t, nil
}

// HandleRefer processes an incoming REFER: it responds 202 Accepted and
// creates the server-side subscription the caller will drive via
// NotifyReferredCallState once it starts the referred call (spec §4.3).
func (s *Session) HandleRefer() (*Transfer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.transfer != nil && !s.transfer.outgoing {
		return nil, ErrTransferAlreadyActive
	}
	if err := s.send.SendResponse(202, "Accepted", nil, ""); err != nil {
		return nil, err
	}
	t := NewIncomingTransfer()
	s.transfer = t
	return t, nil
}

// ClearTransfer detaches the session's current subscription, e.g. once it
// reaches Terminated.
func (s *Session) ClearTransfer() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transfer = nil
}
