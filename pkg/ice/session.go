// Package ice implements the RFC 5245 subset described in spec §4.5: role
// assignment, candidate priority, checklist construction/pruning/sorting,
// periodic Ta-paced checks, peer-reflexive discovery, nomination and
// unfreeze rules, and triggered checks on incoming Binding Requests.
//
// Candidate gathering and the actual STUN datagram I/O are left to the
// caller via the Transport interface — ICE here is the connectivity-check
// state machine, not a socket library; per spec §1 the core consumes a
// "packet transport" rather than implementing one.
package ice

import (
	"fmt"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/looplab/fsm"

	"github.com/arzzra/voicecore/pkg/stun"
)

// Role is fixed at session creation (spec §3).
type Role int

const (
	RoleControlling Role = iota
	RoleControlled
)

// DefaultTa is the RFC 5245 recommended pacing interval between checks.
const DefaultTa = 20 * time.Millisecond

// Transport sends a STUN message to addr; the ICE session does not own the
// socket (spec §1: "packet transport" is an external collaborator).
type Transport interface {
	SendSTUN(msg *stun.Message, addr *net.UDPAddr) error
}

// CompletionFunc is invoked once per component-independent outcome: success
// when every component has a nominated check, failure when the checklist is
// exhausted without one (spec §4.5 last paragraph).
type CompletionFunc func(success bool)

// Session is one ICE session bound to a single media transport (spec §3).
type Session struct {
	mu sync.Mutex

	role Role

	localUfrag, localPwd   string
	remoteUfrag, remotePwd string

	components []int

	localCandidates  []*Candidate
	remoteCandidates []*Candidate

	checklist []*Check
	validList []*Check

	// nominated[component] is the current best nominated check for that
	// component; priority only ever increases (spec §8 testable property).
	nominated map[int]*Check

	transport Transport
	onComplete CompletionFunc

	ta       time.Duration
	ticker   *time.Ticker
	stopOnce sync.Once
	stopCh   chan struct{}

	fsm *fsm.FSM

	localPrefCounter uint32
}

// NewSession creates an ICE session for the given role and component set
// (1 = RTP, 2 = RTCP per spec §3).
func NewSession(role Role, components []int, transport Transport, onComplete CompletionFunc) *Session {
	s := &Session{
		role:       role,
		components: components,
		nominated:  make(map[int]*Check),
		transport:  transport,
		onComplete: onComplete,
		ta:         DefaultTa,
		stopCh:     make(chan struct{}),
	}
	s.localUfrag = randToken(4)
	s.localPwd = randToken(22)
	s.fsm = fsm.NewFSM(
		"gathering",
		fsm.Events{
			{Name: "start-checks", Src: []string{"gathering"}, Dst: "checking"},
			{Name: "complete", Src: []string{"checking"}, Dst: "completed"},
			{Name: "fail", Src: []string{"checking"}, Dst: "failed"},
		},
		fsm.Callbacks{},
	)
	return s
}

// LocalCredentials returns the ufrag/password advertised in our SDP.
func (s *Session) LocalCredentials() (ufrag, pwd string) {
	return s.localUfrag, s.localPwd
}

// SetRemoteCredentials stores the peer's ufrag/password from its SDP.
func (s *Session) SetRemoteCredentials(ufrag, pwd string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.remoteUfrag, s.remotePwd = ufrag, pwd
}

// shortTermKey is the MESSAGE-INTEGRITY key per spec §6:
// "local_ufrag:remote_ufrag".
func (s *Session) shortTermKey() stun.Key {
	return stun.ShortTermKey(s.localUfrag + ":" + s.remoteUfrag)
}

// AddLocalCandidate registers a local candidate and computes its priority.
func (s *Session) AddLocalCandidate(c *Candidate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.Priority == 0 {
		c.ComputePriority(s.nextLocalPref())
	}
	s.localCandidates = append(s.localCandidates, c)
}

func (s *Session) nextLocalPref() uint32 {
	s.localPrefCounter++
	return 65535 - s.localPrefCounter
}

// SetRemoteCandidates installs the remote candidate list and remote
// credentials, then builds the checklist (spec §4.5).
func (s *Session) SetRemoteCandidates(cands []*Candidate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.remoteCandidates = cands
	s.buildChecklist()
	if s.fsm.Is("gathering") {
		_ = s.fsm.Event(nil, "start-checks")
	}
}

// buildChecklist implements spec §4.5's pairing/pruning/sorting. Caller
// holds s.mu.
func (s *Session) buildChecklist() {
	var pairs []*Check
	seenBase := make(map[string]bool) // dedupe server-reflexive by base addr

	for _, l := range s.localCandidates {
		for _, r := range s.remoteCandidates {
			if l.Component != r.Component {
				continue
			}
			if !sameAddrFamily(l.Addr, r.Addr) {
				continue
			}
			// Prune: a ServerReflexive local candidate is represented by its
			// base for duplicate detection.
			dedupeAddr := l.Addr
			if l.Type == CandidateServerReflexive && l.Base != nil {
				dedupeAddr = l.Base
			}
			key := fmt.Sprintf("%d|%s|%s", l.Component, dedupeAddr, r.Addr)
			if seenBase[key] {
				continue
			}
			seenBase[key] = true

			var controllingPrio, controlledPrio uint32
			if s.role == RoleControlling {
				controllingPrio, controlledPrio = l.Priority, r.Priority
			} else {
				controllingPrio, controlledPrio = r.Priority, l.Priority
			}
			pairs = append(pairs, &Check{
				Local:    l,
				Remote:   r,
				Priority: pairPriority(controllingPrio, controlledPrio),
				State:    CheckFrozen,
			})
		}
	}

	sort.Slice(pairs, func(i, j int) bool { return pairs[i].Priority > pairs[j].Priority })
	s.checklist = pairs

	if len(pairs) == 0 {
		return
	}
	// First check unfrozen to Waiting; any other check sharing its component
	// but a different foundation also unfreezes (spec §4.5).
	first := pairs[0]
	first.State = CheckWaiting
	for _, c := range pairs[1:] {
		if c.component() == first.component() && c.foundation() != first.foundation() {
			c.State = CheckWaiting
		}
	}
}

// Start begins the periodic Ta timer that drives checks.
func (s *Session) Start() {
	s.ticker = time.NewTicker(s.ta)
	go func() {
		for {
			select {
			case <-s.ticker.C:
				s.tick()
			case <-s.stopCh:
				return
			}
		}
	}()
}

// Stop halts the periodic timer.
func (s *Session) Stop() {
	s.stopOnce.Do(func() {
		if s.ticker != nil {
			s.ticker.Stop()
		}
		close(s.stopCh)
	})
}

// tick picks the highest-priority Waiting (else Frozen) check and sends a
// Binding Request, per spec §4.5.
func (s *Session) tick() {
	s.mu.Lock()
	check := s.pickNextCheck()
	if check == nil {
		s.mu.Unlock()
		return
	}
	check.State = CheckInProgress
	msg := s.buildBindingRequest(check)
	check.transactionID = msg.TransactionID
	transport := s.transport
	s.mu.Unlock()

	if err := transport.SendSTUN(msg, check.Remote.Addr); err != nil {
		s.mu.Lock()
		check.State = CheckFailed
		s.checkTerminalState()
		s.mu.Unlock()
	}
}

// pickNextCheck returns the highest-priority Waiting check, else the
// highest-priority Frozen one (unfreezing it to Waiting first). Caller holds
// s.mu. checklist is priority-sorted already.
func (s *Session) pickNextCheck() *Check {
	for _, c := range s.checklist {
		if c.State == CheckWaiting {
			return c
		}
	}
	for _, c := range s.checklist {
		if c.State == CheckFrozen {
			c.State = CheckWaiting
			return c
		}
	}
	return nil
}

func (s *Session) buildBindingRequest(c *Check) *stun.Message {
	msg := stun.New(stun.NewType(stun.MethodBinding, stun.ClassRequest))
	prio := make([]byte, 4)
	prio[0] = byte(c.Local.Priority >> 24)
	prio[1] = byte(c.Local.Priority >> 16)
	prio[2] = byte(c.Local.Priority >> 8)
	prio[3] = byte(c.Local.Priority)
	msg.Add(stun.AttrPriority, prio)
	if s.role == RoleControlling {
		msg.Add(stun.AttrUseCandidate, nil)
	}
	msg.Add(stun.AttrUsername, []byte(s.remoteUfrag+":"+s.localUfrag))
	return msg
}

// HandleBindingResponse processes a successful 200 response matched by
// transaction id. Returns false if no outstanding check matches.
func (s *Session) HandleBindingResponse(msg *stun.Message, from *net.UDPAddr) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	var check *Check
	for _, c := range s.checklist {
		if c.State == CheckInProgress && c.transactionID == msg.TransactionID {
			check = c
			break
		}
	}
	if check == nil {
		return false
	}

	mapped, ok := msg.XorMappedAddress()
	if !ok {
		check.State = CheckFailed
		s.checkTerminalState()
		return true
	}

	// If the mapped address is not a known local candidate, register a
	// peer-reflexive candidate and rebind the check to it (spec §4.5).
	if !s.isKnownLocalAddr(mapped) {
		prflx := &Candidate{
			Component:  check.Local.Component,
			Type:       CandidatePeerReflexive,
			Foundation: fmt.Sprintf("prflx%d", len(s.localCandidates)),
			Base:       check.Local.Addr,
			Addr:       mapped,
		}
		prflx.ComputePriority(s.nextLocalPref())
		s.localCandidates = append(s.localCandidates, prflx)
		check.Local = prflx
	}

	check.State = CheckSucceeded
	s.validList = append(s.validList, check)
	sort.Slice(s.validList, func(i, j int) bool { return s.validList[i].Priority > s.validList[j].Priority })

	useCandidate := s.role == RoleControlling
	if useCandidate {
		check.Nominated = true
		s.onNominated(check)
	}

	// If the succeeded check's component is 1, unfreeze Frozen checks with
	// the same foundation in other components (spec §4.5).
	if check.component() == 1 {
		for _, c := range s.checklist {
			if c.State == CheckFrozen && c.component() != 1 && c.foundation() == check.foundation() {
				c.State = CheckWaiting
			}
		}
	}

	s.checkTerminalState()
	return true
}

// onNominated implements the monotonic-by-priority nomination rule (spec §8
// testable property): a component's nominated index is never downgraded.
// Caller holds s.mu.
func (s *Session) onNominated(check *Check) {
	current, has := s.nominated[check.component()]
	if !has || check.Priority > current.Priority {
		s.nominated[check.component()] = check
	}
	// Cancel other outstanding checks for the same component.
	for _, c := range s.checklist {
		if c == check || c.component() != check.component() {
			continue
		}
		if c.State == CheckFrozen || c.State == CheckWaiting {
			c.State = CheckFailed
			c.cancelled = true
		}
	}
}

func (s *Session) isKnownLocalAddr(addr *net.UDPAddr) bool {
	for _, c := range s.localCandidates {
		if c.Addr.IP.Equal(addr.IP) && c.Addr.Port == addr.Port {
			return true
		}
	}
	return false
}

// checkTerminalState declares ICE complete once every component has a
// nomination, or fails once the checklist is exhausted without one (spec
// §4.5 final paragraph). Caller holds s.mu.
func (s *Session) checkTerminalState() {
	if len(s.nominated) == len(s.components) {
		if s.fsm.Can("complete") {
			_ = s.fsm.Event(nil, "complete")
			go s.onComplete(true)
		}
		return
	}

	allTerminal := true
	for _, c := range s.checklist {
		if c.State != CheckSucceeded && c.State != CheckFailed {
			allTerminal = false
			break
		}
	}
	if allTerminal && len(s.nominated) == 0 && s.fsm.Can("fail") {
		_ = s.fsm.Event(nil, "fail")
		go s.onComplete(false)
	}
}

// HandleBindingRequest answers an incoming STUN Binding Request: replies 200
// with XOR-MAPPED-ADDRESS, registers a peer-reflexive remote candidate if the
// source is new, finds or creates a matching check, performs a triggered
// check if it was Frozen/Waiting, and marks it nominated if USE-CANDIDATE was
// present (spec §4.5).
func (s *Session) HandleBindingRequest(req *stun.Message, from *net.UDPAddr, component int) *stun.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	remote := s.findOrAddRemoteCandidate(from, component)
	check := s.findOrCreateCheck(remote)

	if check.State == CheckFrozen || check.State == CheckWaiting {
		s.triggeredCheck(check)
	}

	_, useCandidate := req.Get(stun.AttrUseCandidate)
	if useCandidate && check.State == CheckSucceeded {
		check.Nominated = true
		s.onNominated(check)
		s.checkTerminalState()
	}

	resp := stun.New(stun.NewType(stun.MethodBinding, stun.ClassSuccessResponse))
	resp.TransactionID = req.TransactionID
	resp.AddXorMappedAddress(from)
	return resp
}

func (s *Session) findOrAddRemoteCandidate(from *net.UDPAddr, component int) *Candidate {
	for _, r := range s.remoteCandidates {
		if r.Component == component && r.Addr.IP.Equal(from.IP) && r.Addr.Port == from.Port {
			return r
		}
	}
	prflx := &Candidate{
		Component:  component,
		Type:       CandidatePeerReflexive,
		Foundation: fmt.Sprintf("rprflx%d", len(s.remoteCandidates)),
		Addr:       from,
	}
	s.remoteCandidates = append(s.remoteCandidates, prflx)
	return prflx
}

func (s *Session) findOrCreateCheck(remote *Candidate) *Check {
	for _, c := range s.checklist {
		if c.Remote == remote {
			return c
		}
	}
	// Pair the new remote candidate against every compatible local one; the
	// highest-priority host candidate is the natural choice absent a
	// negotiated preference.
	var local *Candidate
	for _, l := range s.localCandidates {
		if l.Component == remote.Component && sameAddrFamily(l.Addr, remote.Addr) {
			if local == nil || l.Priority > local.Priority {
				local = l
			}
		}
	}
	if local == nil {
		local = &Candidate{Component: remote.Component}
	}
	var controllingPrio, controlledPrio uint32
	if s.role == RoleControlling {
		controllingPrio, controlledPrio = local.Priority, remote.Priority
	} else {
		controllingPrio, controlledPrio = remote.Priority, local.Priority
	}
	c := &Check{Local: local, Remote: remote, State: CheckWaiting, Priority: pairPriority(controllingPrio, controlledPrio)}
	s.checklist = append(s.checklist, c)
	sort.Slice(s.checklist, func(i, j int) bool { return s.checklist[i].Priority > s.checklist[j].Priority })
	return c
}

// triggeredCheck sends an immediate Binding Request outside of the Ta
// schedule (spec §4.5 "triggered check"). Caller holds s.mu.
func (s *Session) triggeredCheck(c *Check) {
	c.State = CheckInProgress
	msg := s.buildBindingRequest(c)
	c.transactionID = msg.TransactionID
	_ = s.transport.SendSTUN(msg, c.Remote.Addr)
}

// Complete reports whether the session has finished (success or failure).
func (s *Session) Complete() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fsm.Is("completed") || s.fsm.Is("failed")
}

// NominatedPair returns the nominated candidate pair for a component, if
// any — this is the pair media should flow on (spec §4.5, §4.6).
func (s *Session) NominatedPair(component int) (*Check, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.nominated[component]
	return c, ok
}
