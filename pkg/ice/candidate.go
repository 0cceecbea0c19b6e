package ice

import (
	"fmt"
	"net"
)

// CandidateType classifies how a candidate was obtained (RFC 5245 §4.1.1).
type CandidateType int

const (
	CandidateHost CandidateType = iota
	CandidateServerReflexive
	CandidatePeerReflexive
	CandidateRelayed
)

func (t CandidateType) String() string {
	switch t {
	case CandidateHost:
		return "host"
	case CandidateServerReflexive:
		return "srflx"
	case CandidatePeerReflexive:
		return "prflx"
	case CandidateRelayed:
		return "relay"
	default:
		return "unknown"
	}
}

// typePreference is the RFC 5245 §4.1.2.2 recommended type preference used
// by the priority formula; host is preferred over everything else when
// available.
func (t CandidateType) typePreference() uint32 {
	switch t {
	case CandidateHost:
		return 126
	case CandidatePeerReflexive:
		return 110
	case CandidateServerReflexive:
		return 100
	case CandidateRelayed:
		return 0
	default:
		return 0
	}
}

// Candidate is one local or remote transport address usable for media.
type Candidate struct {
	Component  int
	Type       CandidateType
	Foundation string
	Priority   uint32
	Addr       *net.UDPAddr
	Base       *net.UDPAddr // for ServerReflexive/Relayed: the base host address
}

// ComputePriority fills in Priority using spec §4.5's formula
// (type_pref<<24)|(local_pref<<8)|(256-component_id), localPref distinguishes
// candidates of equal type (e.g. multiple host interfaces); the caller picks
// a stable per-interface value (65535 is fine for a single-homed host).
func (c *Candidate) ComputePriority(localPref uint32) {
	c.Priority = (c.Type.typePreference() << 24) | ((localPref & 0xFFFF) << 8) | (256 - uint32(c.Component))
}

func (c *Candidate) String() string {
	return fmt.Sprintf("%s/%d cand=%s prio=%d addr=%s", c.Type, c.Component, c.Foundation, c.Priority, c.Addr)
}

// sameAddrFamily reports whether two addresses are both IPv4 or both IPv6,
// a precondition for pairing per spec §4.5.
func sameAddrFamily(a, b *net.UDPAddr) bool {
	if a == nil || b == nil {
		return false
	}
	return (a.IP.To4() != nil) == (b.IP.To4() != nil)
}

// pairPriority implements spec §4.5's candidate-pair priority formula:
// 2^32*min(O,A) + 2*max(O,A) + (O>A?1:0), where O is the controlling agent's
// candidate priority and A the controlled agent's.
func pairPriority(controllingPriority, controlledPriority uint32) uint64 {
	o := uint64(controllingPriority)
	a := uint64(controlledPriority)
	min, max := o, a
	bonus := uint64(0)
	if a < o {
		min, max = a, o
	}
	if o > a {
		bonus = 1
	}
	return (uint64(1)<<32)*min + 2*max + bonus
}
