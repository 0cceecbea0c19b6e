package ice

// CheckState is one of the five states a connectivity check moves through
// (spec §3, §4.5).
type CheckState int

const (
	CheckFrozen CheckState = iota
	CheckWaiting
	CheckInProgress
	CheckSucceeded
	CheckFailed
)

func (s CheckState) String() string {
	switch s {
	case CheckFrozen:
		return "frozen"
	case CheckWaiting:
		return "waiting"
	case CheckInProgress:
		return "in-progress"
	case CheckSucceeded:
		return "succeeded"
	case CheckFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Check is one candidate-pair connectivity check on the checklist.
type Check struct {
	Local     *Candidate
	Remote    *Candidate
	Priority  uint64
	State     CheckState
	Nominated bool
	ErrorCode int

	// transactionID of the currently outstanding STUN Binding Request, used
	// to match the response back to this check.
	transactionID [12]byte
	cancelled     bool
}

func (c *Check) component() int { return c.Remote.Component }
func (c *Check) foundation() string {
	return c.Local.Foundation + "/" + c.Remote.Foundation
}
