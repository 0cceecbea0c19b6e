package ice

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arzzra/voicecore/pkg/stun"
)

// pairTransport wires two ICE sessions directly together in-process,
// standing in for the real packet transport (spec §1 external collaborator).
type pairTransport struct {
	mu   sync.Mutex
	peer *Session
	from *net.UDPAddr
}

func (t *pairTransport) SendSTUN(msg *stun.Message, addr *net.UDPAddr) error {
	t.mu.Lock()
	peer := t.peer
	t.mu.Unlock()
	if peer == nil {
		return nil
	}
	go func() {
		if msg.Type.Class() == stun.ClassRequest {
			resp := peer.HandleBindingRequest(msg, t.from, 1)
			// route the response back as if received from addr
			selfTransportDeliver(t.from, resp, addr)
		}
	}()
	return nil
}

// selfTransportDeliver is a test seam: deliver resp to the original sender's
// session as a response from addr.
var delivery = map[*net.UDPAddr]*Session{}
var deliveryMu sync.Mutex

func registerDelivery(addr *net.UDPAddr, s *Session) {
	deliveryMu.Lock()
	delivery[addr] = s
	deliveryMu.Unlock()
}

func selfTransportDeliver(sender *net.UDPAddr, resp *stun.Message, addr *net.UDPAddr) {
	deliveryMu.Lock()
	s := delivery[sender]
	deliveryMu.Unlock()
	if s != nil {
		s.HandleBindingResponse(resp, addr)
	}
}

func TestICEHappyPathSingleHostCandidateEachSide(t *testing.T) {
	addrA := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 10000}
	addrB := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 20000}

	transA := &pairTransport{from: addrA}
	transB := &pairTransport{from: addrB}

	var completeA, completeB bool
	var wg sync.WaitGroup
	wg.Add(2)

	sessA := NewSession(RoleControlling, []int{1}, transA, func(success bool) {
		completeA = success
		wg.Done()
	})
	sessB := NewSession(RoleControlled, []int{1}, transB, func(success bool) {
		completeB = success
		wg.Done()
	})
	transA.peer = sessB
	transB.peer = sessA
	registerDelivery(addrA, sessA)
	registerDelivery(addrB, sessB)

	candA := &Candidate{Component: 1, Type: CandidateHost, Foundation: "hostA", Addr: addrA}
	candB := &Candidate{Component: 1, Type: CandidateHost, Foundation: "hostB", Addr: addrB}
	sessA.AddLocalCandidate(candA)
	sessB.AddLocalCandidate(candB)

	sessA.SetRemoteCandidates([]*Candidate{candB})
	sessB.SetRemoteCandidates([]*Candidate{candA})
	sessA.SetRemoteCredentials(sessB.LocalCredentials())
	sessB.SetRemoteCredentials(sessA.LocalCredentials())

	sessA.Start()
	sessB.Start()
	defer sessA.Stop()
	defer sessB.Stop()

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()

	select {
	case <-done:
	case <-time.After(5 * DefaultTa * 10):
		t.Fatal("ICE did not complete within 5 Ta*10 intervals")
	}

	require.True(t, completeA)
	require.True(t, completeB)

	pair, ok := sessA.NominatedPair(1)
	require.True(t, ok)
	require.True(t, pair.Nominated)
}

func TestNominationIndexNeverDowngrades(t *testing.T) {
	s := NewSession(RoleControlling, []int{1}, &pairTransport{}, func(bool) {})
	low := &Check{Local: &Candidate{Component: 1}, Remote: &Candidate{Component: 1}, Priority: 10}
	high := &Check{Local: &Candidate{Component: 1}, Remote: &Candidate{Component: 1}, Priority: 100}

	s.checklist = []*Check{low, high}
	s.onNominated(high)
	s.onNominated(low)

	require.Equal(t, high, s.nominated[1])
}

func TestChecklistPrunesServerReflexiveDuplicateByBase(t *testing.T) {
	s := NewSession(RoleControlling, []int{1}, &pairTransport{}, func(bool) {})
	base := &net.UDPAddr{IP: net.IPv4(192, 168, 1, 2), Port: 5000}
	srflx := &Candidate{Component: 1, Type: CandidateServerReflexive, Foundation: "srflx1",
		Addr: &net.UDPAddr{IP: net.IPv4(203, 0, 113, 9), Port: 6000}, Base: base}
	host := &Candidate{Component: 1, Type: CandidateHost, Foundation: "host1", Addr: base}
	remote := &Candidate{Component: 1, Type: CandidateHost, Foundation: "hostR",
		Addr: &net.UDPAddr{IP: net.IPv4(198, 51, 100, 1), Port: 7000}}

	s.localCandidates = []*Candidate{srflx, host}
	s.remoteCandidates = []*Candidate{remote}
	s.buildChecklist()

	// Both local candidates share base -> only one pair should survive the
	// duplicate-detection prune (spec §4.5).
	require.Len(t, s.checklist, 1)
}
